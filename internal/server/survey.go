package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"betterphone/internal/domain"
	"betterphone/internal/session"
	"betterphone/internal/steps"
)

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req saveRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	pending, accepted, err := s.app.SaveSession(req.SessionID, domain.Variant(req.Variant), session.Update{
		CurrentStepID: req.CurrentStepID,
		Answers:       req.Answers,
		Email:         req.Email,
		EmailOptIn:    req.EmailOptIn,
		Completed:     req.Completed,
		Seq:           req.Seq,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	// A dropped save is still acknowledged; the client retries on its next
	// navigation anyway.
	writeJSON(w, http.StatusAccepted, saveResponse{Status: "accepted", Accepted: accepted, Pending: pending})
}

// handleSurveySteps serves GET /api/survey/{variant}/steps.
func (s *Server) handleSurveySteps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/survey/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "steps" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	reg, ok := steps.ForVariant(domain.Variant(parts[0]))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown survey variant")
		return
	}
	writeJSON(w, http.StatusOK, stepsResponse{
		Variant:      reg.Variant,
		Steps:        reg.Steps,
		Disqualified: reg.DisqualifiedStep,
	})
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req navigateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	reg, ok := steps.ForVariant(domain.Variant(req.Variant))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown survey variant")
		return
	}
	current, found := reg.Find(req.StepID)
	if !found {
		writeError(w, http.StatusNotFound, "step not found")
		return
	}

	var dest *steps.StepDefinition
	switch req.Direction {
	case "next":
		// The email step is the only hard-validated input; everything else
		// is skippable.
		if current.Type == steps.TypeEmail {
			ans, ok := req.Answers[current.ID]
			if !ok || !session.ValidEmail(ans.Email) {
				writeError(w, http.StatusUnprocessableEntity, "a valid email is required")
				return
			}
		}
		dest = reg.Destination(req.StepID, req.Answers)
	case "previous":
		dest = reg.Previous(req.StepID)
	default:
		writeError(w, http.StatusBadRequest, "direction must be next or previous")
		return
	}
	if dest == nil {
		// Terminal in the requested direction; the client stays put.
		writeJSON(w, http.StatusOK, navigateResponse{
			Step:     current,
			Progress: reg.Progress(current.ID),
			Done:     reg.Terminal(current.ID),
		})
		return
	}
	writeJSON(w, http.StatusOK, navigateResponse{
		Step:     *dest,
		Progress: reg.Progress(dest.ID),
		Done:     reg.Terminal(dest.ID),
	})
}

func (s *Server) handleVoiceUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	maxBytes := s.app.MaxUploadBytes() + (1 << 20)
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	var duration float64
	if v := r.FormValue("duration"); v != "" {
		duration, _ = strconv.ParseFloat(v, 64)
	}
	rec, url, err := s.app.UploadRecording(r.Context(),
		r.FormValue("sessionId"), r.FormValue("stepId"),
		header.Filename, file, header.Size, duration)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{ID: rec.ID, URL: url, Status: rec.Status})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req recordingRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	job, err := s.app.TriggerTranscription(r.Context(), req.RecordingID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: job.ID, Status: job.Status})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req recordingRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	job, err := s.app.RunExtraction(r.Context(), req.RecordingID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, jobResponse{JobID: job.ID, Status: job.Status})
}

func (s *Server) handleTranscriptionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rec, err := s.app.GetTranscription(r.URL.Query().Get("recordingId"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	resp := transcriptionResponse{Status: rec.Status}
	if rec.Status == domain.RecordingCompleted {
		resp.Transcript = rec.Transcript
		resp.Extracted = rec.Extracted
	}
	if rec.Status == domain.RecordingFailed {
		resp.Error = rec.ErrorMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

type saveRequest struct {
	SessionID     string                       `json:"sessionId"`
	Variant       string                       `json:"variant"`
	CurrentStepID string                       `json:"currentStepId,omitempty"`
	Answers       map[string]domain.StepAnswer `json:"answers,omitempty"`
	Email         *string                      `json:"email,omitempty"`
	EmailOptIn    *bool                        `json:"emailOptIn,omitempty"`
	Completed     *bool                        `json:"completed,omitempty"`
	Seq           int64                        `json:"seq"`
}

type saveResponse struct {
	Status   string `json:"status"`
	Accepted bool   `json:"accepted"`
	Pending  int    `json:"pending"`
}

type stepsResponse struct {
	Variant      domain.Variant         `json:"variant"`
	Steps        []steps.StepDefinition `json:"steps"`
	Disqualified steps.StepDefinition   `json:"disqualified"`
}

type navigateRequest struct {
	Variant   string                       `json:"variant"`
	StepID    string                       `json:"stepId"`
	Direction string                       `json:"direction"`
	Answers   map[string]domain.StepAnswer `json:"answers,omitempty"`
}

type navigateResponse struct {
	Step     steps.StepDefinition `json:"step"`
	Progress int                  `json:"progress"`
	Done     bool                 `json:"done"`
}

type recordingRequest struct {
	RecordingID string `json:"recordingId"`
}

type uploadResponse struct {
	ID     string                 `json:"id"`
	URL    string                 `json:"url"`
	Status domain.RecordingStatus `json:"status"`
}

type jobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type transcriptionResponse struct {
	Status     domain.RecordingStatus `json:"status"`
	Transcript string                 `json:"transcript,omitempty"`
	Extracted  *domain.ExtractedData  `json:"extracted,omitempty"`
	Error      string                 `json:"error,omitempty"`
}
