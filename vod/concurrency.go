package vod

import (
	"context"
	"log/slog"
	"sync"
)

// jobSlots limits how many caption jobs run at once.
type jobSlots struct {
	ch chan struct{}
}

func newJobSlots(n int) *jobSlots {
	if n <= 0 {
		n = 1
	}
	return &jobSlots{ch: make(chan struct{}, n)}
}

// tryAcquire takes a slot without blocking.
func (s *jobSlots) tryAcquire() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// acquire blocks until a slot is available or ctx is canceled.
// Returns true if slot acquired, false if context canceled.
func (s *jobSlots) acquire(ctx context.Context) bool {
	select {
	case s.ch <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *jobSlots) release() {
	select {
	case <-s.ch:
	default:
		// Should not happen unless mismatched acquire/release
		slog.Warn("job slot release called without corresponding acquire")
	}
}

func (s *jobSlots) active() int   { return len(s.ch) }
func (s *jobSlots) capacity() int { return cap(s.ch) }

// running job cancellation registry
var (
	activeMu      sync.Mutex
	activeCancels = map[string]context.CancelFunc{}
)

func registerCancel(id string, cancel context.CancelFunc) {
	activeMu.Lock()
	defer activeMu.Unlock()
	activeCancels[id] = cancel
}

func unregisterCancel(id string) {
	activeMu.Lock()
	defer activeMu.Unlock()
	delete(activeCancels, id)
}

// CancelJob stops the running caption job of id. It reports whether one was running.
func CancelJob(id string) bool {
	activeMu.Lock()
	defer activeMu.Unlock()
	if c, ok := activeCancels[id]; ok {
		c()
		delete(activeCancels, id)
		return true
	}
	return false
}
