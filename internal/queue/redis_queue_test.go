package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*RedisJobQueue, context.Context) {
	t.Helper()
	mr := miniredis.RunT(t)
	q, err := New(Config{
		Addr:       mr.Addr(),
		Stream:     "test:jobs",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q, context.Background()
}

func TestEnqueueWritesStatusAndStreamEntry(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, err := q.Enqueue(ctx, "rec-1", KindTranscribe)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != StatusQueued || job.Kind != KindTranscribe {
		t.Fatalf("unexpected job: %+v", job)
	}

	got, ok, err := q.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("get job: %v %v", ok, err)
	}
	if got.RecordingID != "rec-1" || got.Status != StatusQueued {
		t.Fatalf("unexpected stored job: %+v", got)
	}

	entries, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil || entries != 1 {
		t.Fatalf("expected one stream entry, got %d (%v)", entries, err)
	}
}

func TestEnqueueRejectsUnknownKind(t *testing.T) {
	q, ctx := newTestQueue(t)
	if _, err := q.Enqueue(ctx, "rec-1", "reticulate"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
	if _, err := q.Enqueue(ctx, "", KindTranscribe); err == nil {
		t.Fatalf("expected error for empty recording id")
	}
}

func TestGetJobMissingIsNotFound(t *testing.T) {
	q, ctx := newTestQueue(t)
	if _, ok, err := q.GetJob(ctx, "nope"); err != nil || ok {
		t.Fatalf("missing job: ok=%v err=%v", ok, err)
	}
}

func readOneMessage(t *testing.T, q *RedisJobQueue, ctx context.Context) redis.XMessage {
	t.Helper()
	q.ensureGroup(ctx)
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil || len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("read message: %v %+v", err, streams)
	}
	return streams[0].Messages[0]
}

func TestHandleMessageSuccessMarksDone(t *testing.T) {
	q, ctx := newTestQueue(t)
	q.ensureGroup(ctx)
	job, err := q.Enqueue(ctx, "rec-1", KindTranscribe)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	msg := readOneMessage(t, q, ctx)

	q.handleMessage(ctx, msg, func(context.Context, Job) error { return nil })

	got, _, err := q.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != StatusDone || got.Attempts != 1 {
		t.Fatalf("expected done after one attempt, got %+v", got)
	}
	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil || pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %+v (%v)", pending, err)
	}
}

func TestHandleMessageExhaustsAttemptsThenFails(t *testing.T) {
	q, ctx := newTestQueue(t)
	q.ensureGroup(ctx)
	job, err := q.Enqueue(ctx, "rec-1", KindTranscribe)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	fail := func(context.Context, Job) error { return context.DeadlineExceeded }
	for attempt := 1; attempt <= 3; attempt++ {
		msg := readOneMessage(t, q, ctx)
		q.handleMessage(ctx, msg, fail)
		got, _, err := q.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if attempt < 3 {
			if got.Status != StatusQueued {
				t.Fatalf("attempt %d: expected requeued, got %+v", attempt, got)
			}
		} else if got.Status != StatusFailed {
			t.Fatalf("expected failed after 3 attempts, got %+v", got)
		}
		if got.Attempts != attempt {
			t.Fatalf("attempt count = %d, want %d", got.Attempts, attempt)
		}
	}

	entries, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil || entries != 0 {
		t.Fatalf("failed job should leave no stream entries, got %d (%v)", entries, err)
	}
}
