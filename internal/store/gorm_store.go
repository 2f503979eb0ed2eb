package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"betterphone/internal/domain"
)

const migrateLockID int64 = 52815281

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&SessionModel{}, &RecordingModel{}, &TagModel{}, &SessionTagModel{}, &NoteModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM recording_models r
				WHERE NOT EXISTS (SELECT 1 FROM session_models s WHERE s.id = r.session_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'recording_models'
					AND constraint_name = 'recording_models_session_id_fkey'
				) THEN
					ALTER TABLE recording_models
					ADD CONSTRAINT recording_models_session_id_fkey
					FOREIGN KEY (session_id) REFERENCES session_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'session_tag_models'
					AND constraint_name = 'session_tag_models_session_id_fkey'
				) THEN
					ALTER TABLE session_tag_models
					ADD CONSTRAINT session_tag_models_session_id_fkey
					FOREIGN KEY (session_id) REFERENCES session_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'note_models'
					AND constraint_name = 'note_models_session_id_fkey'
				) THEN
					ALTER TABLE note_models
					ADD CONSTRAINT note_models_session_id_fkey
					FOREIGN KEY (session_id) REFERENCES session_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure session foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// UpsertSession creates or updates a session row keyed by its client id.
// The update only applies when the incoming sequence number is not lower
// than the stored one, so an out-of-order save cannot clobber newer data.
func (s *GormStore) UpsertSession(sess domain.SurveySession) error {
	model := sessionToModel(sess)
	res := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"variant", "current_step_id", "answers", "email", "email_opt_in", "completed", "seq", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			gorm.Expr("session_models.seq <= excluded.seq"),
		}},
	}).Create(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleSequence
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *GormStore) GetSession(id string) (domain.SurveySession, bool, error) {
	var model SessionModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.SurveySession{}, false, nil
		}
		return domain.SurveySession{}, false, err
	}
	return sessionFromModel(model), true, nil
}

// ListSessions returns a filtered page of sessions plus the total count.
func (s *GormStore) ListSessions(filter SessionFilter) ([]domain.SurveySession, int, error) {
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

	tx := s.db.Model(&SessionModel{})
	if filter.Variant != "" {
		tx = tx.Where("variant = ?", string(filter.Variant))
	}
	if filter.Completed != nil {
		tx = tx.Where("completed = ?", *filter.Completed)
	}
	if filter.HasVoice != nil {
		sub := "EXISTS (SELECT 1 FROM recording_models r WHERE r.session_id = session_models.id)"
		if *filter.HasVoice {
			tx = tx.Where(sub)
		} else {
			tx = tx.Where("NOT " + sub)
		}
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + search + "%"
		tx = tx.Where("id ILIKE ? OR email ILIKE ?", like, like)
	}
	if filter.TagID != "" {
		tx = tx.Where("EXISTS (SELECT 1 FROM session_tag_models st WHERE st.session_id = session_models.id AND st.tag_id = ?)", filter.TagID)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var models []SessionModel
	if err := tx.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}
	items := make([]domain.SurveySession, 0, len(models))
	for _, m := range models {
		items = append(items, sessionFromModel(m))
	}
	return items, int(total), nil
}

// AllSessions returns every session ordered by creation time. Dashboard-scale
// data; aggregation recomputes everything per request.
func (s *GormStore) AllSessions() ([]domain.SurveySession, error) {
	var models []SessionModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.SurveySession, 0, len(models))
	for _, m := range models {
		items = append(items, sessionFromModel(m))
	}
	return items, nil
}

// DeleteSessions removes sessions; recordings, tags, and notes follow via FK
// cascade.
func (s *GormStore) DeleteSessions(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Delete(&SessionModel{}, "id IN ?", ids).Error
}

// SaveRecording stores or updates a recording row.
func (s *GormStore) SaveRecording(rec domain.VoiceRecording) error {
	model := recordingToModel(rec)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"session_id", "step_id", "storage_key", "filename", "duration_seconds",
			"size_bytes", "transcript", "extracted", "status", "error_message", "updated_at",
		}),
	}).Create(&model).Error
}

// GetRecording retrieves a recording by id.
func (s *GormStore) GetRecording(id string) (domain.VoiceRecording, bool, error) {
	var model RecordingModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.VoiceRecording{}, false, nil
		}
		return domain.VoiceRecording{}, false, err
	}
	return recordingFromModel(model), true, nil
}

// ListRecordingsBySession returns a session's recordings, oldest first.
func (s *GormStore) ListRecordingsBySession(sessionID string) ([]domain.VoiceRecording, error) {
	var models []RecordingModel
	if err := s.db.Where("session_id = ?", sessionID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	recs := make([]domain.VoiceRecording, 0, len(models))
	for _, m := range models {
		recs = append(recs, recordingFromModel(m))
	}
	return recs, nil
}

// ListExtractedRecordings returns recordings that carry extracted data, for
// the urgency histogram and insight generation.
func (s *GormStore) ListExtractedRecordings() ([]domain.VoiceRecording, error) {
	var models []RecordingModel
	if err := s.db.Where("extracted IS NOT NULL").Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	recs := make([]domain.VoiceRecording, 0, len(models))
	for _, m := range models {
		recs = append(recs, recordingFromModel(m))
	}
	return recs, nil
}

// SetRecordingStatus updates recording status/error.
func (s *GormStore) SetRecordingStatus(id string, status domain.RecordingStatus, errMsg string) error {
	return s.db.Model(&RecordingModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// SetTranscript stores the transcript and marks the recording completed.
func (s *GormStore) SetTranscript(id, transcript string) error {
	return s.db.Model(&RecordingModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"transcript":    transcript,
			"status":        string(domain.RecordingCompleted),
			"error_message": "",
			"updated_at":    time.Now().UTC(),
		}).Error
}

// SetExtracted stores structured extraction results.
func (s *GormStore) SetExtracted(id string, data domain.ExtractedData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.db.Model(&RecordingModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"extracted":  raw,
			"updated_at": time.Now().UTC(),
		}).Error
}

// CreateTag registers a tag.
func (s *GormStore) CreateTag(tag domain.Tag) error {
	model := TagModel{ID: tag.ID, Name: tag.Name, Color: tag.Color, CreatedAt: tag.CreatedAt}
	return s.db.Create(&model).Error
}

// ListTags returns all tags ordered by name.
func (s *GormStore) ListTags() ([]domain.Tag, error) {
	var models []TagModel
	if err := s.db.Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	tags := make([]domain.Tag, 0, len(models))
	for _, m := range models {
		tags = append(tags, domain.Tag{ID: m.ID, Name: m.Name, Color: m.Color, CreatedAt: m.CreatedAt})
	}
	return tags, nil
}

// DeleteTag removes a tag and its assignments.
func (s *GormStore) DeleteTag(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&SessionTagModel{}, "tag_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&TagModel{}, "id = ?", id).Error
	})
}

// AssignTag attaches a tag to a session; re-assigning is a no-op.
func (s *GormStore) AssignTag(sessionID, tagID string) error {
	model := SessionTagModel{SessionID: sessionID, TagID: tagID, CreatedAt: time.Now().UTC()}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
}

// TagsBySession returns the tags attached to a session.
func (s *GormStore) TagsBySession(sessionID string) ([]domain.Tag, error) {
	var models []TagModel
	err := s.db.
		Joins("JOIN session_tag_models st ON st.tag_id = tag_models.id").
		Where("st.session_id = ?", sessionID).
		Order("tag_models.name ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	tags := make([]domain.Tag, 0, len(models))
	for _, m := range models {
		tags = append(tags, domain.Tag{ID: m.ID, Name: m.Name, Color: m.Color, CreatedAt: m.CreatedAt})
	}
	return tags, nil
}

// CreateNote records an admin note.
func (s *GormStore) CreateNote(note domain.Note) error {
	model := NoteModel{ID: note.ID, SessionID: note.SessionID, Author: note.Author, Body: note.Body, CreatedAt: note.CreatedAt}
	return s.db.Create(&model).Error
}

// ListNotesBySession returns a session's notes, newest first.
func (s *GormStore) ListNotesBySession(sessionID string) ([]domain.Note, error) {
	var models []NoteModel
	if err := s.db.Where("session_id = ?", sessionID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	notes := make([]domain.Note, 0, len(models))
	for _, m := range models {
		notes = append(notes, domain.Note{ID: m.ID, SessionID: m.SessionID, Author: m.Author, Body: m.Body, CreatedAt: m.CreatedAt})
	}
	return notes, nil
}

// DeleteNote removes a note.
func (s *GormStore) DeleteNote(id string) error {
	return s.db.Delete(&NoteModel{}, "id = ?", id).Error
}

func sessionToModel(sess domain.SurveySession) SessionModel {
	answers, _ := json.Marshal(sess.Answers)
	return SessionModel{
		ID:            sess.ID,
		Variant:       string(sess.Variant),
		CurrentStepID: sess.CurrentStepID,
		Answers:       answers,
		Email:         sess.Email,
		EmailOptIn:    sess.EmailOptIn,
		Completed:     sess.Completed,
		Seq:           sess.Seq,
		CreatedAt:     sess.CreatedAt,
		UpdatedAt:     sess.UpdatedAt,
	}
}

func sessionFromModel(m SessionModel) domain.SurveySession {
	answers := map[string]domain.StepAnswer{}
	if len(m.Answers) > 0 {
		_ = json.Unmarshal(m.Answers, &answers)
	}
	return domain.SurveySession{
		ID:            m.ID,
		Variant:       domain.Variant(m.Variant),
		CurrentStepID: m.CurrentStepID,
		Answers:       answers,
		Email:         m.Email,
		EmailOptIn:    m.EmailOptIn,
		Completed:     m.Completed,
		Seq:           m.Seq,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func recordingToModel(rec domain.VoiceRecording) RecordingModel {
	var extracted []byte
	if rec.Extracted != nil {
		extracted, _ = json.Marshal(rec.Extracted)
	}
	return RecordingModel{
		ID:              rec.ID,
		SessionID:       rec.SessionID,
		StepID:          rec.StepID,
		StorageKey:      rec.StorageKey,
		Filename:        rec.Filename,
		DurationSeconds: rec.DurationSeconds,
		SizeBytes:       rec.SizeBytes,
		Transcript:      rec.Transcript,
		Extracted:       extracted,
		Status:          string(rec.Status),
		ErrorMessage:    rec.ErrorMessage,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
}

func recordingFromModel(m RecordingModel) domain.VoiceRecording {
	var extracted *domain.ExtractedData
	if len(m.Extracted) > 0 {
		var data domain.ExtractedData
		if err := json.Unmarshal(m.Extracted, &data); err == nil {
			extracted = &data
		}
	}
	return domain.VoiceRecording{
		ID:              m.ID,
		SessionID:       m.SessionID,
		StepID:          m.StepID,
		StorageKey:      m.StorageKey,
		Filename:        m.Filename,
		DurationSeconds: m.DurationSeconds,
		SizeBytes:       m.SizeBytes,
		Transcript:      m.Transcript,
		Extracted:       extracted,
		Status:          domain.RecordingStatus(m.Status),
		ErrorMessage:    m.ErrorMessage,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
