package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	mu      sync.Mutex
	count   int64
	resetAt time.Time
	dead    bool // removed by Prune; holders must reload
}

// MemoryStore keeps fixed-window counters in process memory.
// Each agent has its own lock, so agents never contend with each other.
type MemoryStore struct {
	windows sync.Map // agentID -> *window
	clock   func() time.Time

	opsMu sync.Mutex
	ops   int
}

// NewMemoryStore creates an in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clock: time.Now}
}

// WithClock overrides the time source, for tests.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) IncrementAndCheck(_ context.Context, agentID string, policy Policy) (Decision, error) {
	now := s.clock()
	var w *window
	for {
		v, _ := s.windows.LoadOrStore(agentID, &window{})
		w = v.(*window)
		w.mu.Lock()
		if !w.dead {
			break
		}
		w.mu.Unlock()
	}

	if !now.Before(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(policy.Window)
	}
	w.count++
	d := Decision{Allowed: w.count <= int64(policy.Limit), Count: w.count}
	if !d.Allowed {
		d.RetryAfter = w.resetAt.Sub(now)
	}
	w.mu.Unlock()

	s.maybePrune(now)
	return d, nil
}

// Prune drops windows that have already reset. The check and the delete
// happen under the window lock so a concurrent increment is never lost.
func (s *MemoryStore) Prune(now time.Time) {
	s.windows.Range(func(k, v any) bool {
		w := v.(*window)
		w.mu.Lock()
		if !w.dead && !now.Before(w.resetAt) {
			w.dead = true
			s.windows.CompareAndDelete(k, v)
		}
		w.mu.Unlock()
		return true
	})
}

func (s *MemoryStore) maybePrune(now time.Time) {
	s.opsMu.Lock()
	s.ops++
	run := s.ops%4096 == 0
	s.opsMu.Unlock()
	if run {
		s.Prune(now)
	}
}
