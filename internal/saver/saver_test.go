package saver

import (
	"errors"
	"sync"
	"testing"
	"time"

	"betterphone/internal/domain"
	"betterphone/internal/store"
)

// blockingStore lets tests hold saves open to observe queue behavior.
type blockingStore struct {
	*store.MemoryStore
	mu      sync.Mutex
	release chan struct{}
	saves   int
	fail    error
}

func newBlockingStore() *blockingStore {
	return &blockingStore{MemoryStore: store.NewMemoryStore(), release: make(chan struct{})}
}

func (b *blockingStore) UpsertSession(sess domain.SurveySession) error {
	<-b.release
	b.mu.Lock()
	b.saves++
	fail := b.fail
	b.mu.Unlock()
	if fail != nil {
		return fail
	}
	return b.MemoryStore.UpsertSession(sess)
}

func (b *blockingStore) saveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

func session(id string, seq int64) domain.SurveySession {
	now := time.Now().UTC()
	return domain.SurveySession{ID: id, Variant: domain.VariantParent, Seq: seq, Answers: map[string]domain.StepAnswer{}, CreatedAt: now, UpdatedAt: now}
}

func TestSaveDoesNotBlockAndFlushesOnClose(t *testing.T) {
	st := newBlockingStore()
	s := New(st, 1, 8)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			s.Save(session("sess-1", int64(i+1)))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Save blocked the caller")
	}
	if s.Pending() == 0 {
		t.Fatalf("expected pending saves while store is blocked")
	}

	close(st.release)
	s.Close()
	if got := st.saveCount(); got != 5 {
		t.Fatalf("expected 5 flushed saves, got %d", got)
	}
	if s.Pending() != 0 {
		t.Fatalf("pending should drain to zero, got %d", s.Pending())
	}
}

func TestSaveDropsWhenQueueFull(t *testing.T) {
	st := newBlockingStore()
	s := New(st, 1, 2)

	accepted := 0
	for i := 0; i < 10; i++ {
		if s.Save(session("sess-1", int64(i+1))) {
			accepted++
		}
	}
	// One task may be in-flight with the worker plus two queued.
	if accepted > 3 {
		t.Fatalf("accepted %d saves into a capacity-2 queue", accepted)
	}
	if s.Dropped() != 10-accepted {
		t.Fatalf("dropped count = %d, want %d", s.Dropped(), 10-accepted)
	}
	close(st.release)
	s.Close()
}

func TestStaleSequenceIsNotAnError(t *testing.T) {
	st := newBlockingStore()
	close(st.release)
	s := New(st, 1, 8)
	s.Save(session("sess-1", 5))
	s.Save(session("sess-1", 2))
	s.Close()

	got, ok, err := st.GetSession("sess-1")
	if err != nil || !ok {
		t.Fatalf("get: %v %v", ok, err)
	}
	if got.Seq != 5 {
		t.Fatalf("stale save clobbered newer data, seq=%d", got.Seq)
	}
}

func TestFailedSaveIsSwallowed(t *testing.T) {
	st := newBlockingStore()
	st.fail = errors.New("db down")
	close(st.release)
	s := New(st, 1, 8)
	if !s.Save(session("sess-1", 1)) {
		t.Fatalf("save should be accepted")
	}
	s.Close()
	if s.Pending() != 0 {
		t.Fatalf("failed saves must still drain, pending=%d", s.Pending())
	}
}

func TestSaveAfterCloseIsRejected(t *testing.T) {
	st := newBlockingStore()
	close(st.release)
	s := New(st, 1, 8)
	s.Close()
	if s.Save(session("sess-1", 1)) {
		t.Fatalf("save after close should be rejected")
	}
}
