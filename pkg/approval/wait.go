package approval

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// Wait blocks until the approval is terminal, maxWait elapses, or ctx ends.
// Reaching maxWait is not an error: the current (possibly pending) state is
// returned. If the approval's own deadline passes while waiting it is expired.
func (m *Manager) Wait(ctx context.Context, id string, maxWait time.Duration) (*contracts.ApprovalRequest, error) {
	req, err := m.Get(ctx, id)
	if err != nil || req.Status.Terminal() || maxWait <= 0 {
		return req, err
	}

	deadline := time.NewTimer(maxWait)
	defer deadline.Stop()

	for {
		ch := m.subscribe(id)

		// Re-read after subscribing so a transition between Get and subscribe is not missed.
		req, err = m.Get(ctx, id)
		if err != nil || req.Status.Terminal() {
			m.unsubscribe(id, ch)
			return req, err
		}

		sleep := m.pollInterval
		if untilExpiry := req.ExpiresAt.Sub(m.clock()); untilExpiry < sleep {
			sleep = untilExpiry
		}
		if sleep < time.Millisecond {
			sleep = time.Millisecond
		}
		tick := time.NewTimer(sleep)

		select {
		case <-ctx.Done():
			tick.Stop()
			m.unsubscribe(id, ch)
			return nil, ctx.Err()
		case <-deadline.C:
			tick.Stop()
			m.unsubscribe(id, ch)
			return m.Get(ctx, id)
		case <-ch:
		case <-tick.C:
		}
		tick.Stop()
		m.unsubscribe(id, ch)
	}
}

func (m *Manager) subscribe(id string) chan struct{} {
	ch := make(chan struct{})
	m.mu.Lock()
	m.waiters[id] = append(m.waiters[id], ch)
	m.mu.Unlock()
	return ch
}

func (m *Manager) unsubscribe(id string, ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.waiters[id]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.waiters, id)
	} else {
		m.waiters[id] = list
	}
}

func (m *Manager) notify(id string) {
	m.mu.Lock()
	list := m.waiters[id]
	delete(m.waiters, id)
	m.mu.Unlock()
	for _, ch := range list {
		close(ch)
	}
}
