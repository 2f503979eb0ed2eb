package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"betterphone/internal/domain"
	"betterphone/internal/queue"
	"betterphone/internal/saver"
	"betterphone/internal/session"
	"betterphone/internal/storage"
	"betterphone/internal/store"
	"betterphone/internal/util"
)

// fakeQueue records enqueued jobs without Redis.
type fakeQueue struct {
	jobs []queue.Job
	err  error
}

func (f *fakeQueue) Enqueue(_ context.Context, recordingID, kind string) (queue.Job, error) {
	if f.err != nil {
		return queue.Job{}, f.err
	}
	job := queue.Job{ID: util.NewID(), RecordingID: recordingID, Kind: kind, Status: queue.StatusQueued}
	f.jobs = append(f.jobs, job)
	return job, nil
}

// fakeTranscriber returns a fixed transcript or error.
type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string, _ io.Reader) (string, error) {
	return f.text, f.err
}

type fakeExtractor struct {
	data domain.ExtractedData
	err  error
}

func (f *fakeExtractor) Extract(_ context.Context, _ string) (domain.ExtractedData, error) {
	return f.data, f.err
}

type fakeInsights struct {
	doc     string
	summary string
	calls   int
}

func (f *fakeInsights) AggregateInsights(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.doc, nil
}

func (f *fakeInsights) SummarizeResponse(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.summary, nil
}

type mapCache struct {
	aggregate string
	summaries map[string]string
}

func newMapCache() *mapCache { return &mapCache{summaries: map[string]string{}} }

func (c *mapCache) GetAggregate(context.Context) (string, bool, error) {
	return c.aggregate, c.aggregate != "", nil
}
func (c *mapCache) SetAggregate(_ context.Context, doc string) error {
	c.aggregate = doc
	return nil
}
func (c *mapCache) GetSummary(_ context.Context, id string) (string, bool, error) {
	s, ok := c.summaries[id]
	return s, ok, nil
}
func (c *mapCache) SetSummary(_ context.Context, id, s string) error {
	c.summaries[id] = s
	return nil
}

type testEnv struct {
	app     *App
	store   *store.MemoryStore
	objects *storage.MemoryStore
	queue   *fakeQueue
	saver   *saver.Saver
	cache   *mapCache
	llm     *fakeInsights
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemoryStore()
	objects := storage.NewMemoryStore()
	q := &fakeQueue{}
	sv := saver.New(st, 1, 16)
	t.Cleanup(sv.Close)
	cache := newMapCache()
	llm := &fakeInsights{doc: "aggregate doc", summary: "session summary"}
	a, err := New(Config{
		Store:       st,
		Objects:     objects,
		Queue:       q,
		Saver:       sv,
		Transcriber: &fakeTranscriber{text: "my kid is glued to the screen"},
		Extractor:   &fakeExtractor{data: domain.ExtractedData{UrgencyScore: 7, Sentiment: "negative"}},
		Insights:    llm,
		Cache:       cache,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEnv{app: a, store: st, objects: objects, queue: q, saver: sv, cache: cache, llm: llm}
}

func waitForSession(t *testing.T, st *store.MemoryStore, id string) domain.SurveySession {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sess, found, _ := st.GetSession(id); found {
			return sess
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never persisted", id)
	return domain.SurveySession{}
}

func TestSaveSessionCreatesAndMerges(t *testing.T) {
	env := newTestEnv(t)
	id := util.NewSessionID()

	_, accepted, err := env.app.SaveSession(id, domain.VariantParent, session.Update{
		Answers: map[string]domain.StepAnswer{
			"pain-check": {Kind: domain.AnswerChoice, Choice: "yes"},
		},
		Seq: 1,
	})
	if err != nil || !accepted {
		t.Fatalf("SaveSession: accepted=%v err=%v", accepted, err)
	}
	sess := waitForSession(t, env.store, id)
	if sess.CurrentStepID != "pain-check" {
		t.Fatalf("new session step = %q", sess.CurrentStepID)
	}

	_, _, err = env.app.SaveSession(id, domain.VariantParent, session.Update{
		CurrentStepID: "biggest-challenge",
		Answers: map[string]domain.StepAnswer{
			"biggest-challenge": {Kind: domain.AnswerVoice, RecordingID: "rec-1"},
		},
		Seq: 2,
	})
	if err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sess, _, _ = env.store.GetSession(id)
		if sess.Seq == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sess.Seq != 2 || len(sess.Answers) != 2 {
		t.Fatalf("merged session = %+v", sess)
	}
	if sess.Answers["pain-check"].Choice != "yes" {
		t.Fatal("earlier answer lost in merge")
	}
}

func TestSaveSessionRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.app.SaveSession("x", domain.VariantParent, session.Update{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("short id: %v", err)
	}
	if _, _, err := env.app.SaveSession(util.NewSessionID(), "teacher", session.Update{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad variant: %v", err)
	}
}

func uploadTestRecording(t *testing.T, env *testEnv, sessionID string) domain.VoiceRecording {
	t.Helper()
	body := strings.NewReader("fake webm bytes")
	rec, url, err := env.app.UploadRecording(context.Background(), sessionID, "biggest-challenge", "answer.webm", body, int64(body.Len()), 12.5)
	if err != nil {
		t.Fatalf("UploadRecording: %v", err)
	}
	if url == "" {
		t.Fatal("expected presigned url")
	}
	return rec
}

func TestUploadRecording(t *testing.T) {
	env := newTestEnv(t)
	rec := uploadTestRecording(t, env, util.NewSessionID())
	if rec.Status != domain.RecordingPending {
		t.Fatalf("status = %s", rec.Status)
	}
	if !env.objects.Has(rec.StorageKey) {
		t.Fatal("audio blob not stored")
	}
	stored, found, err := env.store.GetRecording(rec.ID)
	if err != nil || !found {
		t.Fatalf("recording row missing: %v", err)
	}
	if stored.Filename != "answer.webm" || stored.SizeBytes != 15 {
		t.Fatalf("stored row = %+v", stored)
	}
}

func TestUploadRecordingValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := util.NewSessionID()

	if _, _, err := env.app.UploadRecording(ctx, id, "s", "notes.txt", strings.NewReader("x"), 1, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad extension: %v", err)
	}
	huge := env.app.MaxUploadBytes() + 1
	if _, _, err := env.app.UploadRecording(ctx, id, "s", "a.webm", strings.NewReader("x"), huge, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("oversize: %v", err)
	}
	if _, _, err := env.app.UploadRecording(ctx, "bad id!", "s", "a.webm", strings.NewReader("x"), 1, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad session id: %v", err)
	}
}

func TestTriggerTranscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := uploadTestRecording(t, env, util.NewSessionID())

	job, err := env.app.TriggerTranscription(ctx, rec.ID)
	if err != nil {
		t.Fatalf("TriggerTranscription: %v", err)
	}
	if job.Kind != queue.KindTranscribe {
		t.Fatalf("job kind = %s", job.Kind)
	}
	stored, _, _ := env.store.GetRecording(rec.ID)
	if stored.Status != domain.RecordingProcessing {
		t.Fatalf("status = %s", stored.Status)
	}
	if len(env.queue.jobs) != 1 {
		t.Fatalf("enqueued %d jobs", len(env.queue.jobs))
	}

	if _, err := env.app.TriggerTranscription(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown recording: %v", err)
	}

	// Completed recordings are not re-enqueued.
	if err := env.store.SetTranscript(rec.ID, "done already"); err != nil {
		t.Fatalf("SetTranscript: %v", err)
	}
	job, err = env.app.TriggerTranscription(ctx, rec.ID)
	if err != nil {
		t.Fatalf("TriggerTranscription again: %v", err)
	}
	if job.Status != queue.StatusDone || len(env.queue.jobs) != 1 {
		t.Fatalf("completed recording re-enqueued: %+v", job)
	}
}

func TestProcessJobTranscribeChainsExtract(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := uploadTestRecording(t, env, util.NewSessionID())

	err := env.app.ProcessJob(ctx, queue.Job{ID: "j1", RecordingID: rec.ID, Kind: queue.KindTranscribe, Attempts: 1})
	if err != nil {
		t.Fatalf("ProcessJob transcribe: %v", err)
	}
	stored, _, _ := env.store.GetRecording(rec.ID)
	if stored.Status != domain.RecordingCompleted || stored.Transcript == "" {
		t.Fatalf("after transcribe: %+v", stored)
	}
	if len(env.queue.jobs) != 1 || env.queue.jobs[0].Kind != queue.KindExtract {
		t.Fatalf("extract not chained: %+v", env.queue.jobs)
	}

	err = env.app.ProcessJob(ctx, queue.Job{ID: "j2", RecordingID: rec.ID, Kind: queue.KindExtract, Attempts: 1})
	if err != nil {
		t.Fatalf("ProcessJob extract: %v", err)
	}
	stored, _, _ = env.store.GetRecording(rec.ID)
	if stored.Extracted == nil || stored.Extracted.UrgencyScore != 7 {
		t.Fatalf("extraction not stored: %+v", stored.Extracted)
	}
}

func TestProcessJobFinalFailureMarksRecording(t *testing.T) {
	env := newTestEnv(t)
	env.app.transcriber = &fakeTranscriber{err: errors.New("whisper down")}
	ctx := context.Background()
	rec := uploadTestRecording(t, env, util.NewSessionID())

	// Attempts below the cap leave the row alone for the retry.
	if err := env.app.ProcessJob(ctx, queue.Job{RecordingID: rec.ID, Kind: queue.KindTranscribe, Attempts: 1}); err == nil {
		t.Fatal("expected handler error")
	}
	stored, _, _ := env.store.GetRecording(rec.ID)
	if stored.Status == domain.RecordingFailed {
		t.Fatal("row failed before attempts exhausted")
	}

	if err := env.app.ProcessJob(ctx, queue.Job{RecordingID: rec.ID, Kind: queue.KindTranscribe, Attempts: 3}); err == nil {
		t.Fatal("expected handler error")
	}
	stored, _, _ = env.store.GetRecording(rec.ID)
	if stored.Status != domain.RecordingFailed || stored.ErrorMessage == "" {
		t.Fatalf("row not failed: %+v", stored)
	}
}

func TestRunExtractionRequiresTranscript(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := uploadTestRecording(t, env, util.NewSessionID())

	if _, err := env.app.RunExtraction(ctx, rec.ID); !errors.Is(err, ErrNoTranscript) {
		t.Fatalf("expected ErrNoTranscript, got %v", err)
	}
	if err := env.store.SetTranscript(rec.ID, "transcript"); err != nil {
		t.Fatalf("SetTranscript: %v", err)
	}
	job, err := env.app.RunExtraction(ctx, rec.ID)
	if err != nil || job.Kind != queue.KindExtract {
		t.Fatalf("RunExtraction: %+v %v", job, err)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now().UTC()
	mustUpsert := func(sess domain.SurveySession) {
		t.Helper()
		if err := env.store.UpsertSession(sess); err != nil {
			t.Fatalf("UpsertSession: %v", err)
		}
	}
	mustUpsert(domain.SurveySession{ID: "a1", Variant: domain.VariantParent, CurrentStepID: "concerns", CreatedAt: now, UpdatedAt: now})
	mustUpsert(domain.SurveySession{ID: "a2", Variant: domain.VariantParent, CurrentStepID: "thank-you", Completed: true, CreatedAt: now, UpdatedAt: now,
		Answers: map[string]domain.StepAnswer{"biggest-challenge": {Kind: domain.AnswerVoice, RecordingID: "r1"}}})
	mustUpsert(domain.SurveySession{ID: "b1", Variant: domain.VariantSchoolAdmin, CurrentStepID: "policy-pain", CreatedAt: now, UpdatedAt: now})

	out, err := env.app.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if out.TotalSessions != 3 || out.CompletedCount != 1 || out.VoiceCount != 1 {
		t.Fatalf("totals = %+v", out)
	}
	parent := out.Funnels[domain.VariantParent]
	if parent[0].Count != 2 {
		t.Fatalf("parent funnel head = %d", parent[0].Count)
	}
	for i := 1; i < len(parent); i++ {
		if parent[i].Count > parent[i-1].Count {
			t.Fatal("funnel not monotone")
		}
	}
	if len(out.Daily) != 30 {
		t.Fatalf("daily series length = %d", len(out.Daily))
	}
	if out.Daily[29].Starts != 3 || out.Daily[29].Completions != 1 {
		t.Fatalf("today = %+v", out.Daily[29])
	}
}

func TestInsightsCaching(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := uploadTestRecording(t, env, util.NewSessionID())
	if err := env.store.SetTranscript(rec.ID, "transcript"); err != nil {
		t.Fatalf("SetTranscript: %v", err)
	}
	if err := env.store.SetExtracted(rec.ID, domain.ExtractedData{UrgencyScore: 9, Sentiment: "negative"}); err != nil {
		t.Fatalf("SetExtracted: %v", err)
	}

	doc, err := env.app.Insights(ctx, false)
	if err != nil || doc != "aggregate doc" {
		t.Fatalf("Insights: %q %v", doc, err)
	}
	if env.llm.calls != 1 {
		t.Fatalf("llm calls = %d", env.llm.calls)
	}
	// Second call hits the cache.
	if _, err := env.app.Insights(ctx, false); err != nil {
		t.Fatalf("Insights cached: %v", err)
	}
	if env.llm.calls != 1 {
		t.Fatalf("cache miss, llm calls = %d", env.llm.calls)
	}
	// Force bypasses the cache.
	if _, err := env.app.Insights(ctx, true); err != nil {
		t.Fatalf("Insights forced: %v", err)
	}
	if env.llm.calls != 2 {
		t.Fatalf("force did not regenerate, calls = %d", env.llm.calls)
	}
}

func TestResponseSummaryCaching(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sess := domain.SurveySession{ID: "sess-1", Variant: domain.VariantParent, CurrentStepID: "concerns",
		Answers: map[string]domain.StepAnswer{"pain-check": {Kind: domain.AnswerChoice, Choice: "yes"}}}
	if err := env.store.UpsertSession(sess); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	s, err := env.app.ResponseSummary(ctx, "sess-1")
	if err != nil || s != "session summary" {
		t.Fatalf("ResponseSummary: %q %v", s, err)
	}
	if _, err := env.app.ResponseSummary(ctx, "sess-1"); err != nil {
		t.Fatalf("ResponseSummary cached: %v", err)
	}
	if env.llm.calls != 1 {
		t.Fatalf("llm calls = %d", env.llm.calls)
	}
	if _, err := env.app.ResponseSummary(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown session: %v", err)
	}
}

func TestBulkDeleteRemovesRowsAndBlobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := util.NewSessionID()
	if err := env.store.UpsertSession(domain.SurveySession{ID: id, Variant: domain.VariantParent, CurrentStepID: "pain-check"}); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	rec := uploadTestRecording(t, env, id)

	if _, err := env.app.Bulk(ctx, BulkDelete, []string{id}, ""); err != nil {
		t.Fatalf("Bulk delete: %v", err)
	}
	if _, found, _ := env.store.GetSession(id); found {
		t.Fatal("session survived delete")
	}
	if _, found, _ := env.store.GetRecording(rec.ID); found {
		t.Fatal("recording survived delete")
	}
	if env.objects.Has(rec.StorageKey) {
		t.Fatal("blob survived delete")
	}
}

func TestBulkExportAndTag(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.store.UpsertSession(domain.SurveySession{ID: "e1", Variant: domain.VariantParent, CurrentStepID: "pain-check"}); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	tag, err := env.app.CreateTag("priority", "#ff0000")
	if err != nil {
		t.Fatalf("CreateTag: %v", err)
	}

	if _, err := env.app.Bulk(ctx, BulkTag, []string{"e1"}, tag.ID); err != nil {
		t.Fatalf("Bulk tag: %v", err)
	}
	rows, err := env.app.Bulk(ctx, BulkExport, []string{"e1", "ghost"}, "")
	if err != nil {
		t.Fatalf("Bulk export: %v", err)
	}
	if len(rows) != 1 || rows[0].Session.ID != "e1" {
		t.Fatalf("export rows = %+v", rows)
	}
	if len(rows[0].Tags) != 1 || rows[0].Tags[0].Name != "priority" {
		t.Fatalf("export tags = %+v", rows[0].Tags)
	}

	if _, err := env.app.Bulk(ctx, "archive", []string{"e1"}, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown action: %v", err)
	}
	if _, err := env.app.Bulk(ctx, BulkTag, []string{"e1"}, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("tag without tagId: %v", err)
	}
}

func TestCompare(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"c1", "c2", "c3"} {
		if err := env.store.UpsertSession(domain.SurveySession{ID: id, Variant: domain.VariantParent, CurrentStepID: "pain-check"}); err != nil {
			t.Fatalf("UpsertSession: %v", err)
		}
	}
	rows, err := env.app.Compare([]string{"c1", "c2"})
	if err != nil || len(rows) != 2 {
		t.Fatalf("Compare: %v (%d rows)", err, len(rows))
	}
	if _, err := env.app.Compare([]string{"c1"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("one id: %v", err)
	}
	if _, err := env.app.Compare([]string{"c1", "c2", "c3", "c1"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("four ids: %v", err)
	}
	if _, err := env.app.Compare([]string{"c1", "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: %v", err)
	}
}

func TestNotes(t *testing.T) {
	env := newTestEnv(t)
	if err := env.store.UpsertSession(domain.SurveySession{ID: "n1", Variant: domain.VariantParent, CurrentStepID: "pain-check"}); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	note, err := env.app.CreateNote("n1", "sam", "follow up next week")
	if err != nil {
		t.Fatalf("CreateNote: %v", err)
	}
	notes, err := env.app.ListNotes("n1")
	if err != nil || len(notes) != 1 || notes[0].ID != note.ID {
		t.Fatalf("ListNotes: %v %+v", err, notes)
	}
	if _, err := env.app.CreateNote("ghost", "", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("note on unknown session: %v", err)
	}
	if _, err := env.app.CreateNote("n1", "", "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty note: %v", err)
	}
	if err := env.app.DeleteNote(note.ID); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
}
