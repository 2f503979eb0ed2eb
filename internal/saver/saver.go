// Package saver decouples session persistence from request handling: the
// survey client navigates before its save resolves, so the API acknowledges
// saves immediately and flushes them through a bounded background queue.
package saver

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"betterphone/internal/domain"
	"betterphone/internal/store"
)

// Saver runs store upserts on background workers. Save never blocks the
// caller; when the queue is full the task is dropped and the drop logged,
// matching the survey's accepted-loss semantics for background saves.
type Saver struct {
	store   store.Store
	tasks   chan domain.SurveySession
	pending atomic.Int64
	dropped atomic.Int64
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// New starts a Saver with the given worker count and queue capacity.
func New(st store.Store, workers, capacity int) *Saver {
	if workers <= 0 {
		workers = 2
	}
	if capacity <= 0 {
		capacity = 256
	}
	s := &Saver{
		store: st,
		tasks: make(chan domain.SurveySession, capacity),
	}
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

// Save enqueues an upsert and returns immediately. The return value reports
// whether the task was accepted; callers do not surface a false to
// respondents, they only log it.
func (s *Saver) Save(sess domain.SurveySession) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.tasks <- sess:
		s.pending.Add(1)
		return true
	default:
		s.dropped.Add(1)
		slog.Warn("background save dropped, queue full",
			"session_id", sess.ID,
			"seq", sess.Seq,
		)
		return false
	}
}

// Pending returns the number of queued, not yet persisted saves.
func (s *Saver) Pending() int {
	return int(s.pending.Load())
}

// Dropped returns the number of saves rejected because the queue was full.
func (s *Saver) Dropped() int {
	return int(s.dropped.Load())
}

// Close stops accepting saves and waits for queued ones to flush.
func (s *Saver) Close() {
	if s.closed.Swap(true) {
		return
	}
	close(s.tasks)
	s.wg.Wait()
}

func (s *Saver) worker() {
	defer s.wg.Done()
	for sess := range s.tasks {
		err := s.store.UpsertSession(sess)
		s.pending.Add(-1)
		if err == nil {
			continue
		}
		if errors.Is(err, store.ErrStaleSequence) {
			// A newer save already landed; this one is obsolete, not lost.
			slog.Debug("background save superseded", "session_id", sess.ID, "seq", sess.Seq)
			continue
		}
		// Failures are logged and not retried.
		slog.Error("background save failed", "session_id", sess.ID, "seq", sess.Seq, "err", err)
	}
}
