package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"betterphone/internal/adminauth"
	"betterphone/internal/app"
	"betterphone/internal/domain"
	"betterphone/internal/store"
)

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "admin.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "admin.login", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.auth.VerifyCredential(req.Password); err != nil {
		s.audit(r, "admin.login", "fail", "reason", "bad_credential")
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}
	token, err := s.auth.IssueSession()
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	http.SetCookie(w, adminauth.SessionCookie(token, s.sessionTTL, s.cookieSecure))
	s.audit(r, "admin.login", "success")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	http.SetCookie(w, adminauth.ClearCookie())
	s.audit(r, "admin.logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminResponses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	filter := store.SessionFilter{
		Variant: domain.Variant(q.Get("variant")),
		Search:  q.Get("search"),
		TagID:   q.Get("tag"),
	}
	if v := q.Get("completed"); v != "" {
		completed := v == "true" || v == "1"
		filter.Completed = &completed
	}
	if v := q.Get("hasVoice"); v != "" {
		hasVoice := v == "true" || v == "1"
		filter.HasVoice = &hasVoice
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PageSize, _ = strconv.Atoi(q.Get("pageSize"))

	rows, total, err := s.app.ListResponses(filter)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, responsesResponse{Items: rows, Total: total})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	out, err := s.app.Stats(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminInsights(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		doc, err := s.app.Insights(r.Context(), false)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, insightResponse{Insights: doc})
	case http.MethodPost:
		doc, err := s.app.Insights(r.Context(), true)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, insightResponse{Insights: doc})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleResponseSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req sessionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	summary, err := s.app.ResponseSummary(r.Context(), req.SessionID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{SessionID: req.SessionID, Summary: summary})
}

func (s *Server) handleAdminBulk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req bulkRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rows, err := s.app.Bulk(r.Context(), req.Action, req.SessionIDs, req.TagID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "admin.bulk", "success", "action", req.Action, "count", len(req.SessionIDs))
	if req.Action == app.BulkExport {
		writeJSON(w, http.StatusOK, responsesResponse{Items: rows, Total: len(rows)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAdminCompare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req compareRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rows, err := s.app.Compare(req.SessionIDs)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, responsesResponse{Items: rows, Total: len(rows)})
}

func (s *Server) handleAdminTags(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tags, err := s.app.ListTags()
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": tags, "count": len(tags)})
	case http.MethodPost:
		var req tagRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		tag, err := s.app.CreateTag(req.Name, req.Color)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, tag)
	case http.MethodDelete:
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if id == "" {
			writeError(w, http.StatusBadRequest, "id is required")
			return
		}
		if err := s.app.DeleteTag(id); err != nil {
			writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAdminTagAssign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req assignTagRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SessionID == "" || req.TagID == "" {
		writeError(w, http.StatusBadRequest, "sessionId and tagId are required")
		return
	}
	if err := s.app.AssignTag(req.SessionID, req.TagID); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAdminNotes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))
		if sessionID == "" {
			writeError(w, http.StatusBadRequest, "sessionId is required")
			return
		}
		notes, err := s.app.ListNotes(sessionID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": notes, "count": len(notes)})
	case http.MethodPost:
		var req noteRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		note, err := s.app.CreateNote(req.SessionID, req.Author, req.Body)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, note)
	case http.MethodDelete:
		id := strings.TrimSpace(r.URL.Query().Get("id"))
		if id == "" {
			writeError(w, http.StatusBadRequest, "id is required")
			return
		}
		if err := s.app.DeleteNote(id); err != nil {
			writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleRecordingURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, err := s.app.RecordingPlaybackURL(r.Context(), r.URL.Query().Get("recordingId"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type loginRequest struct {
	Password string `json:"password"`
}

type sessionRequest struct {
	SessionID string `json:"sessionId"`
}

type responsesResponse struct {
	Items []app.ResponseRow `json:"items"`
	Total int               `json:"total"`
}

type insightResponse struct {
	Insights string `json:"insights"`
}

type summaryResponse struct {
	SessionID string `json:"sessionId"`
	Summary   string `json:"summary"`
}

type bulkRequest struct {
	Action     string   `json:"action"`
	SessionIDs []string `json:"sessionIds"`
	TagID      string   `json:"tagId,omitempty"`
}

type compareRequest struct {
	SessionIDs []string `json:"sessionIds"`
}

type tagRequest struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type assignTagRequest struct {
	SessionID string `json:"sessionId"`
	TagID     string `json:"tagId"`
}

type noteRequest struct {
	SessionID string `json:"sessionId"`
	Author    string `json:"author,omitempty"`
	Body      string `json:"body"`
}
