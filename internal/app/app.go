// Package app is the core application service wiring the survey state
// machine, the voice pipeline, and the admin surface together.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"betterphone/internal/ai"
	"betterphone/internal/domain"
	"betterphone/internal/queue"
	"betterphone/internal/saver"
	"betterphone/internal/session"
	"betterphone/internal/steps"
	"betterphone/internal/storage"
	"betterphone/internal/store"
	"betterphone/internal/util"
)

// Sentinel errors callers branch on for HTTP status mapping.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrNoTranscript = errors.New("recording has no transcript yet")
)

// JobEnqueuer is the slice of the job queue the API needs.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, recordingID, kind string) (queue.Job, error)
}

// InsightCache caches generated insight documents.
type InsightCache interface {
	GetAggregate(ctx context.Context) (string, bool, error)
	SetAggregate(ctx context.Context, doc string) error
	GetSummary(ctx context.Context, sessionID string) (string, bool, error)
	SetSummary(ctx context.Context, sessionID, summary string) error
}

// Config holds the collaborators for the core application.
type Config struct {
	Store          store.Store
	Objects        storage.ObjectStore
	Queue          JobEnqueuer
	Saver          *saver.Saver
	Transcriber    ai.Transcriber
	Extractor      ai.Extractor
	Insights       ai.InsightGenerator
	Cache          InsightCache
	MaxUploadBytes int64
	MaxJobAttempts int
}

// App wires the survey domain logic to its stores and pipeline.
type App struct {
	store          store.Store
	objects        storage.ObjectStore
	queue          JobEnqueuer
	saver          *saver.Saver
	transcriber    ai.Transcriber
	extractor      ai.Extractor
	insights       ai.InsightGenerator
	cache          InsightCache
	maxUploadBytes int64
	maxJobAttempts int
	presignExpiry  time.Duration
}

// New constructs the application. Store and Objects are required; the AI and
// cache collaborators may be nil in deployments without the pipeline (the
// corresponding operations then fail with a clear error).
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 25 << 20
	}
	maxAttempts := cfg.MaxJobAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &App{
		store:          cfg.Store,
		objects:        cfg.Objects,
		queue:          cfg.Queue,
		saver:          cfg.Saver,
		transcriber:    cfg.Transcriber,
		extractor:      cfg.Extractor,
		insights:       cfg.Insights,
		cache:          cfg.Cache,
		maxUploadBytes: maxUpload,
		maxJobAttempts: maxAttempts,
		presignExpiry:  15 * time.Minute,
	}, nil
}

// MaxUploadBytes returns the configured audio upload cap.
func (a *App) MaxUploadBytes() int64 {
	return a.maxUploadBytes
}

// SaveSession merges a partial update into the stored session and hands the
// result to the background saver. New session ids create a fresh session at
// the variant's first step. It returns the queued count so the API can report
// it, and whether the save was accepted.
func (a *App) SaveSession(sessionID string, variant domain.Variant, upd session.Update) (int, bool, error) {
	if !util.ValidSessionID(sessionID) {
		return 0, false, fmt.Errorf("%w: bad session id", ErrInvalidInput)
	}
	reg, ok := steps.ForVariant(variant)
	if !ok {
		return 0, false, fmt.Errorf("%w: unknown variant %q", ErrInvalidInput, variant)
	}
	now := time.Now().UTC()
	existing, found, err := a.store.GetSession(sessionID)
	if err != nil {
		return 0, false, fmt.Errorf("load session: %w", err)
	}
	if !found {
		existing = session.New(sessionID, variant, reg.First().ID, now)
	}
	merged := session.Merge(existing, upd, now)
	accepted := a.saver.Save(merged)
	return a.saver.Pending(), accepted, nil
}

// GetSession loads a session by id.
func (a *App) GetSession(id string) (domain.SurveySession, error) {
	sess, found, err := a.store.GetSession(id)
	if err != nil {
		return domain.SurveySession{}, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return domain.SurveySession{}, fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return sess, nil
}
