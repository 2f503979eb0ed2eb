package domain

import "time"

// Variant names one of the two respondent flows.
type Variant string

const (
	VariantParent      Variant = "parent"
	VariantSchoolAdmin Variant = "school-admin"
)

// ValidVariant reports whether v names a known survey flow.
func ValidVariant(v Variant) bool {
	return v == VariantParent || v == VariantSchoolAdmin
}

// AnswerKind tags the union variant carried by a StepAnswer.
type AnswerKind string

const (
	AnswerText    AnswerKind = "text"
	AnswerChoice  AnswerKind = "choice"
	AnswerMulti   AnswerKind = "multi"
	AnswerRanking AnswerKind = "ranking"
	AnswerForm    AnswerKind = "form"
	AnswerEmail   AnswerKind = "email"
	AnswerVoice   AnswerKind = "voice"
)

// StepAnswer is the answer recorded for one step. Exactly the fields implied
// by Kind are meaningful; merging replaces a step's answer wholesale.
type StepAnswer struct {
	Kind        AnswerKind        `json:"kind"`
	Text        string            `json:"text,omitempty"`
	Choice      string            `json:"choice,omitempty"`
	Choices     []string          `json:"choices,omitempty"`
	Ranking     []string          `json:"ranking,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	Email       string            `json:"email,omitempty"`
	RecordingID string            `json:"recordingId,omitempty"`
}

// SurveySession is one respondent's attempt at a survey flow. The id is
// client-generated and stable across reloads; the row is upserted keyed by it.
// Seq is a monotonic client-side sequence number: the store ignores saves
// whose Seq is lower than the stored one, so a slow early save cannot clobber
// a fast later one.
type SurveySession struct {
	ID            string                `json:"sessionId"`
	Variant       Variant               `json:"variant"`
	CurrentStepID string                `json:"currentStepId"`
	Answers       map[string]StepAnswer `json:"answers"`
	Email         string                `json:"email,omitempty"`
	EmailOptIn    bool                  `json:"emailOptIn"`
	Completed     bool                  `json:"completed"`
	Seq           int64                 `json:"seq"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

// RecordingStatus tracks a voice recording through the pipeline.
type RecordingStatus string

const (
	RecordingPending    RecordingStatus = "pending"
	RecordingProcessing RecordingStatus = "processing"
	RecordingCompleted  RecordingStatus = "completed"
	RecordingFailed     RecordingStatus = "failed"
)

// ExtractedData is the structured result of LLM extraction over a transcript.
type ExtractedData struct {
	UrgencyScore int      `json:"urgencyScore"`
	PainPoints   []string `json:"painPoints"`
	Summary      string   `json:"summary"`
	Sentiment    string   `json:"sentiment"`
}

// VoiceRecording is one uploaded audio blob and its processing state.
// Re-recording a step creates a new row; historical rows are kept and the
// session answer points at the current one.
type VoiceRecording struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"sessionId"`
	StepID          string          `json:"stepId"`
	StorageKey      string          `json:"-"`
	Filename        string          `json:"filename"`
	DurationSeconds float64         `json:"durationSeconds"`
	SizeBytes       int64           `json:"sizeBytes"`
	Transcript      string          `json:"transcript,omitempty"`
	Extracted       *ExtractedData  `json:"extracted,omitempty"`
	Status          RecordingStatus `json:"status"`
	ErrorMessage    string          `json:"errorMessage,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Tag labels sessions for admin triage.
type Tag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Note is a free-form admin annotation on a session.
type Note struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Author    string    `json:"author,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}
