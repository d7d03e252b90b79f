// Package ratelimit enforces the per-agent fixed-window request budget.
//
// The limiter is fail-open: when the counter store errors the request is
// allowed, a warning is logged and a degradation hook fires. Availability of
// routing is preferred over strictness of throttling.
package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Policy is "Limit requests per Window" for each agent.
type Policy struct {
	Limit  int
	Window time.Duration
}

// DefaultPolicy is 20 requests per minute.
var DefaultPolicy = Policy{Limit: 20, Window: time.Minute}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is the time until the current window resets. Zero when allowed.
	RetryAfter time.Duration
	// Count is the number of requests seen in the current window including this one.
	Count int64
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (d Decision) RetryAfterSeconds() int {
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Store is the counter backend. IncrementAndCheck must be atomic per agent.
type Store interface {
	IncrementAndCheck(ctx context.Context, agentID string, policy Policy) (Decision, error)
}

// Limiter applies a Policy through a Store.
type Limiter struct {
	store      Store
	policy     Policy
	logger     *slog.Logger
	onDegraded func(agentID string, err error)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger used for degradation warnings.
func WithLogger(l *slog.Logger) Option {
	return func(lim *Limiter) { lim.logger = l }
}

// WithDegradedHook registers a callback fired whenever the store fails.
func WithDegradedHook(fn func(agentID string, err error)) Option {
	return func(lim *Limiter) { lim.onDegraded = fn }
}

// New builds a Limiter. A nil store admits everything.
func New(store Store, policy Policy, opts ...Option) *Limiter {
	if policy.Limit <= 0 {
		policy.Limit = DefaultPolicy.Limit
	}
	if policy.Window <= 0 {
		policy.Window = DefaultPolicy.Window
	}
	l := &Limiter{
		store:  store,
		policy: policy,
		logger: slog.Default().With("component", "ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the active policy.
func (l *Limiter) Policy() Policy { return l.policy }

// Check admits or throttles one request for agentID. It never returns an error.
func (l *Limiter) Check(ctx context.Context, agentID string) Decision {
	if l == nil || l.store == nil {
		return Decision{Allowed: true}
	}
	d, err := l.store.IncrementAndCheck(ctx, agentID, l.policy)
	if err != nil {
		l.logger.WarnContext(ctx, "rate limiter degraded, allowing request",
			"agent_id", agentID,
			"error", err,
		)
		if l.onDegraded != nil {
			l.onDegraded(agentID, err)
		}
		return Decision{Allowed: true}
	}
	return d
}
