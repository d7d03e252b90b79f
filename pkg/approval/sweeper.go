package approval

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// Sweep expires every pending approval whose deadline has passed and
// returns how many it expired.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	pending, err := m.store.List(ctx, contracts.ApprovalPending)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, req := range pending {
		_, expired, err := m.expireIfDue(ctx, req)
		if err != nil {
			return n, err
		}
		if expired {
			n++
		}
	}
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := m.Sweep(ctx); err != nil {
				m.logger.WarnContext(ctx, "approval sweep failed", "error", err)
			} else if n > 0 {
				m.logger.DebugContext(ctx, "approval sweep", "expired", n)
			}
		}
	}
}
