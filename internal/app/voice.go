package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"betterphone/internal/domain"
	"betterphone/internal/queue"
	"betterphone/internal/util"
)

var allowedAudioExts = map[string]string{
	".webm": "audio/webm",
	".ogg":  "audio/ogg",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
}

// UploadRecording stores an audio blob and creates its pending recording row.
// Re-recording a step creates a new row; older rows stay for history. Returns
// the recording plus a presigned playback URL.
func (a *App) UploadRecording(ctx context.Context, sessionID, stepID, filename string, r io.Reader, size int64, durationSeconds float64) (domain.VoiceRecording, string, error) {
	if !util.ValidSessionID(sessionID) {
		return domain.VoiceRecording{}, "", fmt.Errorf("%w: bad session id", ErrInvalidInput)
	}
	if strings.TrimSpace(stepID) == "" {
		return domain.VoiceRecording{}, "", fmt.Errorf("%w: stepId required", ErrInvalidInput)
	}
	if filename == "" {
		return domain.VoiceRecording{}, "", fmt.Errorf("%w: filename required", ErrInvalidInput)
	}
	if size <= 0 || size > a.maxUploadBytes {
		return domain.VoiceRecording{}, "", fmt.Errorf("%w: audio size %d out of range", ErrInvalidInput, size)
	}
	ext := strings.ToLower(filepath.Ext(filename))
	contentType, ok := allowedAudioExts[ext]
	if !ok {
		return domain.VoiceRecording{}, "", fmt.Errorf("%w: unsupported audio type %q", ErrInvalidInput, ext)
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		contentType = byExt
	}

	id := uuid.NewString()
	storageKey := buildStorageKey(id, filename)
	if err := a.objects.Put(ctx, storageKey, r, size, contentType); err != nil {
		return domain.VoiceRecording{}, "", fmt.Errorf("store audio: %w", err)
	}

	now := time.Now().UTC()
	rec := domain.VoiceRecording{
		ID:              id,
		SessionID:       sessionID,
		StepID:          stepID,
		StorageKey:      storageKey,
		Filename:        path.Base(filename),
		DurationSeconds: durationSeconds,
		SizeBytes:       size,
		Status:          domain.RecordingPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.store.SaveRecording(rec); err != nil {
		// Roll back the blob so storage does not accumulate orphans.
		_ = a.objects.Delete(ctx, storageKey)
		return domain.VoiceRecording{}, "", fmt.Errorf("save recording: %w", err)
	}
	url, err := a.objects.PresignGet(ctx, storageKey, a.presignExpiry)
	if err != nil {
		return rec, "", fmt.Errorf("presign audio url: %w", err)
	}
	return rec, url, nil
}

// TriggerTranscription marks a recording processing and enqueues a transcribe
// job. Already completed recordings are left alone and reported done, so
// repeated requests are harmless.
func (a *App) TriggerTranscription(ctx context.Context, recordingID string) (queue.Job, error) {
	rec, found, err := a.store.GetRecording(recordingID)
	if err != nil {
		return queue.Job{}, fmt.Errorf("load recording: %w", err)
	}
	if !found {
		return queue.Job{}, fmt.Errorf("%w: recording %s", ErrNotFound, recordingID)
	}
	if rec.Status == domain.RecordingCompleted {
		return queue.Job{RecordingID: rec.ID, Kind: queue.KindTranscribe, Status: queue.StatusDone}, nil
	}
	if a.queue == nil {
		return queue.Job{}, errors.New("job queue not configured")
	}
	if err := a.store.SetRecordingStatus(rec.ID, domain.RecordingProcessing, ""); err != nil {
		return queue.Job{}, fmt.Errorf("mark processing: %w", err)
	}
	job, err := a.queue.Enqueue(ctx, rec.ID, queue.KindTranscribe)
	if err != nil {
		return queue.Job{}, fmt.Errorf("enqueue transcribe: %w", err)
	}
	return job, nil
}

// RunExtraction enqueues an extract job over an existing transcript.
func (a *App) RunExtraction(ctx context.Context, recordingID string) (queue.Job, error) {
	rec, found, err := a.store.GetRecording(recordingID)
	if err != nil {
		return queue.Job{}, fmt.Errorf("load recording: %w", err)
	}
	if !found {
		return queue.Job{}, fmt.Errorf("%w: recording %s", ErrNotFound, recordingID)
	}
	if strings.TrimSpace(rec.Transcript) == "" {
		return queue.Job{}, ErrNoTranscript
	}
	if a.queue == nil {
		return queue.Job{}, errors.New("job queue not configured")
	}
	job, err := a.queue.Enqueue(ctx, rec.ID, queue.KindExtract)
	if err != nil {
		return queue.Job{}, fmt.Errorf("enqueue extract: %w", err)
	}
	return job, nil
}

// GetTranscription returns a recording's pipeline state for client polling.
func (a *App) GetTranscription(recordingID string) (domain.VoiceRecording, error) {
	rec, found, err := a.store.GetRecording(recordingID)
	if err != nil {
		return domain.VoiceRecording{}, fmt.Errorf("load recording: %w", err)
	}
	if !found {
		return domain.VoiceRecording{}, fmt.Errorf("%w: recording %s", ErrNotFound, recordingID)
	}
	return rec, nil
}

// RecordingPlaybackURL presigns a short-lived GET URL for admin playback.
func (a *App) RecordingPlaybackURL(ctx context.Context, recordingID string) (string, error) {
	rec, found, err := a.store.GetRecording(recordingID)
	if err != nil {
		return "", fmt.Errorf("load recording: %w", err)
	}
	if !found {
		return "", fmt.Errorf("%w: recording %s", ErrNotFound, recordingID)
	}
	return a.objects.PresignGet(ctx, rec.StorageKey, a.presignExpiry)
}

// ProcessJob is the worker handler for queued pipeline jobs. A transcribe job
// downloads the blob, runs Whisper, stores the transcript, then chains an
// extract job. The queue retries failed handlers; once attempts are exhausted
// the recording row itself is marked failed.
func (a *App) ProcessJob(ctx context.Context, job queue.Job) error {
	var err error
	switch job.Kind {
	case queue.KindTranscribe:
		err = a.transcribe(ctx, job.RecordingID)
	case queue.KindExtract:
		err = a.extract(ctx, job.RecordingID)
	default:
		// Unknown kinds are acked without retry.
		return nil
	}
	if err != nil && job.Attempts >= a.maxJobAttempts {
		_ = a.store.SetRecordingStatus(job.RecordingID, domain.RecordingFailed, err.Error())
	}
	return err
}

func (a *App) transcribe(ctx context.Context, recordingID string) error {
	if a.transcriber == nil {
		return errors.New("transcriber not configured")
	}
	rec, found, err := a.store.GetRecording(recordingID)
	if err != nil {
		return fmt.Errorf("load recording: %w", err)
	}
	if !found {
		return fmt.Errorf("%w: recording %s", ErrNotFound, recordingID)
	}
	audio, err := a.objects.Get(ctx, rec.StorageKey)
	if err != nil {
		return fmt.Errorf("fetch audio: %w", err)
	}
	defer audio.Close()
	transcript, err := a.transcriber.Transcribe(ctx, rec.Filename, audio)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	if err := a.store.SetTranscript(rec.ID, transcript); err != nil {
		return fmt.Errorf("store transcript: %w", err)
	}
	if a.queue != nil {
		if _, err := a.queue.Enqueue(ctx, rec.ID, queue.KindExtract); err != nil {
			// The transcript landed; extraction can be retriggered later.
			return nil
		}
	}
	return nil
}

func (a *App) extract(ctx context.Context, recordingID string) error {
	if a.extractor == nil {
		return errors.New("extractor not configured")
	}
	rec, found, err := a.store.GetRecording(recordingID)
	if err != nil {
		return fmt.Errorf("load recording: %w", err)
	}
	if !found {
		return fmt.Errorf("%w: recording %s", ErrNotFound, recordingID)
	}
	if strings.TrimSpace(rec.Transcript) == "" {
		return ErrNoTranscript
	}
	data, err := a.extractor.Extract(ctx, rec.Transcript)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if err := a.store.SetExtracted(rec.ID, data); err != nil {
		return fmt.Errorf("store extraction: %w", err)
	}
	return nil
}

func buildStorageKey(id, filename string) string {
	return path.Join("recordings", id, path.Base(filename))
}
