package store

import (
	"errors"

	"betterphone/internal/domain"
)

// ErrStaleSequence is returned when an upsert carries a sequence number lower
// than the stored row's. Callers treat it as a quietly dropped save.
var ErrStaleSequence = errors.New("stale sequence number")

// SessionFilter narrows and pages session listings for the admin view.
type SessionFilter struct {
	Variant   domain.Variant
	Completed *bool
	HasVoice  *bool
	Search    string
	TagID     string
	Page      int
	PageSize  int
}

// Store defines persistence for sessions, recordings, tags, and notes.
type Store interface {
	// sessions
	UpsertSession(sess domain.SurveySession) error
	GetSession(id string) (domain.SurveySession, bool, error)
	ListSessions(filter SessionFilter) ([]domain.SurveySession, int, error)
	AllSessions() ([]domain.SurveySession, error)
	DeleteSessions(ids []string) error

	// recordings
	SaveRecording(rec domain.VoiceRecording) error
	GetRecording(id string) (domain.VoiceRecording, bool, error)
	ListRecordingsBySession(sessionID string) ([]domain.VoiceRecording, error)
	ListExtractedRecordings() ([]domain.VoiceRecording, error)
	SetRecordingStatus(id string, status domain.RecordingStatus, errMsg string) error
	SetTranscript(id, transcript string) error
	SetExtracted(id string, data domain.ExtractedData) error

	// tags
	CreateTag(tag domain.Tag) error
	ListTags() ([]domain.Tag, error)
	DeleteTag(id string) error
	AssignTag(sessionID, tagID string) error
	TagsBySession(sessionID string) ([]domain.Tag, error)

	// notes
	CreateNote(note domain.Note) error
	ListNotesBySession(sessionID string) ([]domain.Note, error)
	DeleteNote(id string) error
}
