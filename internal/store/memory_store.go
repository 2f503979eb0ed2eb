package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"betterphone/internal/domain"
)

// MemoryStore is an in-memory Store used by tests and local development.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]domain.SurveySession
	recordings  map[string]domain.VoiceRecording
	tags        map[string]domain.Tag
	sessionTags map[string]map[string]struct{}
	notes       map[string]domain.Note
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    map[string]domain.SurveySession{},
		recordings:  map[string]domain.VoiceRecording{},
		tags:        map[string]domain.Tag{},
		sessionTags: map[string]map[string]struct{}{},
		notes:       map[string]domain.Note{},
	}
}

func (s *MemoryStore) UpsertSession(sess domain.SurveySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[sess.ID]; ok {
		if sess.Seq < existing.Seq {
			return ErrStaleSequence
		}
		sess.CreatedAt = existing.CreatedAt
	}
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *MemoryStore) GetSession(id string) (domain.SurveySession, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.SurveySession{}, false, nil
	}
	return cloneSession(sess), true, nil
}

func (s *MemoryStore) ListSessions(filter SessionFilter) ([]domain.SurveySession, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.SurveySession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if filter.Variant != "" && sess.Variant != filter.Variant {
			continue
		}
		if filter.Completed != nil && sess.Completed != *filter.Completed {
			continue
		}
		if filter.HasVoice != nil {
			hasVoice := false
			for _, rec := range s.recordings {
				if rec.SessionID == sess.ID {
					hasVoice = true
					break
				}
			}
			if hasVoice != *filter.HasVoice {
				continue
			}
		}
		if search := strings.TrimSpace(filter.Search); search != "" {
			needle := strings.ToLower(search)
			if !strings.Contains(strings.ToLower(sess.ID), needle) &&
				!strings.Contains(strings.ToLower(sess.Email), needle) {
				continue
			}
		}
		if filter.TagID != "" {
			if _, ok := s.sessionTags[sess.ID][filter.TagID]; !ok {
				continue
			}
		}
		matched = append(matched, cloneSession(sess))
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	start := (page - 1) * pageSize
	if start >= total {
		return []domain.SurveySession{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *MemoryStore) AllSessions() ([]domain.SurveySession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]domain.SurveySession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		items = append(items, cloneSession(sess))
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (s *MemoryStore) DeleteSessions(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.sessions, id)
		delete(s.sessionTags, id)
		for recID, rec := range s.recordings {
			if rec.SessionID == id {
				delete(s.recordings, recID)
			}
		}
		for noteID, note := range s.notes {
			if note.SessionID == id {
				delete(s.notes, noteID)
			}
		}
	}
	return nil
}

func (s *MemoryStore) SaveRecording(rec domain.VoiceRecording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings[rec.ID] = rec
	return nil
}

func (s *MemoryStore) GetRecording(id string) (domain.VoiceRecording, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recordings[id]
	return rec, ok, nil
}

func (s *MemoryStore) ListRecordingsBySession(sessionID string) ([]domain.VoiceRecording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]domain.VoiceRecording, 0)
	for _, rec := range s.recordings {
		if rec.SessionID == sessionID {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}

func (s *MemoryStore) ListExtractedRecordings() ([]domain.VoiceRecording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]domain.VoiceRecording, 0)
	for _, rec := range s.recordings {
		if rec.Extracted != nil {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.Before(recs[j].CreatedAt) })
	return recs, nil
}

func (s *MemoryStore) SetRecordingStatus(id string, status domain.RecordingStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recordings[id]
	if !ok {
		return nil
	}
	rec.Status = status
	rec.ErrorMessage = errMsg
	rec.UpdatedAt = time.Now().UTC()
	s.recordings[id] = rec
	return nil
}

func (s *MemoryStore) SetTranscript(id, transcript string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recordings[id]
	if !ok {
		return nil
	}
	rec.Transcript = transcript
	rec.Status = domain.RecordingCompleted
	rec.ErrorMessage = ""
	rec.UpdatedAt = time.Now().UTC()
	s.recordings[id] = rec
	return nil
}

func (s *MemoryStore) SetExtracted(id string, data domain.ExtractedData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recordings[id]
	if !ok {
		return nil
	}
	copied := data
	rec.Extracted = &copied
	rec.UpdatedAt = time.Now().UTC()
	s.recordings[id] = rec
	return nil
}

func (s *MemoryStore) CreateTag(tag domain.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[tag.ID] = tag
	return nil
}

func (s *MemoryStore) ListTags() ([]domain.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tags := make([]domain.Tag, 0, len(s.tags))
	for _, tag := range s.tags {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags, nil
}

func (s *MemoryStore) DeleteTag(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tags, id)
	for _, assigned := range s.sessionTags {
		delete(assigned, id)
	}
	return nil
}

func (s *MemoryStore) AssignTag(sessionID, tagID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionTags[sessionID] == nil {
		s.sessionTags[sessionID] = map[string]struct{}{}
	}
	s.sessionTags[sessionID][tagID] = struct{}{}
	return nil
}

func (s *MemoryStore) TagsBySession(sessionID string) ([]domain.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tags := make([]domain.Tag, 0)
	for tagID := range s.sessionTags[sessionID] {
		if tag, ok := s.tags[tagID]; ok {
			tags = append(tags, tag)
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags, nil
}

func (s *MemoryStore) CreateNote(note domain.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[note.ID] = note
	return nil
}

func (s *MemoryStore) ListNotesBySession(sessionID string) ([]domain.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	notes := make([]domain.Note, 0)
	for _, note := range s.notes {
		if note.SessionID == sessionID {
			notes = append(notes, note)
		}
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].CreatedAt.After(notes[j].CreatedAt) })
	return notes, nil
}

func (s *MemoryStore) DeleteNote(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notes, id)
	return nil
}

func cloneSession(sess domain.SurveySession) domain.SurveySession {
	copied := sess
	copied.Answers = make(map[string]domain.StepAnswer, len(sess.Answers))
	for stepID, ans := range sess.Answers {
		copied.Answers[stepID] = ans
	}
	return copied
}
