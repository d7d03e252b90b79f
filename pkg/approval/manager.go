// Package approval implements the human-in-the-loop approval lifecycle.
//
// An approval starts pending and moves exactly once to approved, rejected or
// expired. Expiry is applied lazily whenever an approval is observed after
// its deadline; the optional sweeper only makes that happen sooner.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// DefaultTimeout applies when a create request does not set one.
const DefaultTimeout = time.Hour

// CreateParams is the input to Manager.Create.
type CreateParams struct {
	ApprovalID     string           `json:"approval_id,omitempty"`
	TransactionID  string           `json:"transaction_id"`
	AgentID        string           `json:"agent_id,omitempty"`
	Summary        string           `json:"summary"`
	Details        json.RawMessage  `json:"details,omitempty"`
	Alternatives   []map[string]any `json:"alternatives,omitempty"`
	TimeoutSeconds int              `json:"timeout_seconds,omitempty"`
}

// Manager owns approval state transitions on top of a Store.
type Manager struct {
	store          Store
	clock          func() time.Time
	defaultTimeout time.Duration
	pollInterval   time.Duration
	logger         *slog.Logger

	mu      sync.Mutex
	waiters map[string][]chan struct{}

	onTransition func(from, to contracts.ApprovalStatus)
}

// NewManager creates a manager over store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:          store,
		clock:          time.Now,
		defaultTimeout: DefaultTimeout,
		pollInterval:   500 * time.Millisecond,
		logger:         slog.Default().With("component", "approval"),
		waiters:        make(map[string][]chan struct{}),
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// WithDefaultTimeout sets the timeout used when CreateParams has none.
func (m *Manager) WithDefaultTimeout(d time.Duration) *Manager {
	if d > 0 {
		m.defaultTimeout = d
	}
	return m
}

// WithPollInterval sets how often Wait re-reads the store. Waiters are also
// woken directly by transitions made through this manager, so polling only
// matters for changes made by other replicas sharing a SQL store.
func (m *Manager) WithPollInterval(d time.Duration) *Manager {
	if d > 0 {
		m.pollInterval = d
	}
	return m
}

// WithLogger replaces the component logger.
func (m *Manager) WithLogger(l *slog.Logger) *Manager {
	m.logger = l
	return m
}

// OnTransition registers a hook called after every successful transition.
func (m *Manager) OnTransition(fn func(from, to contracts.ApprovalStatus)) *Manager {
	m.onTransition = fn
	return m
}

// Create records a new pending approval.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*contracts.ApprovalRequest, error) {
	if strings.TrimSpace(p.TransactionID) == "" {
		return nil, contracts.NewError(contracts.CodeInvalidRequest, "transaction_id is required")
	}
	if strings.TrimSpace(p.Summary) == "" {
		return nil, contracts.NewError(contracts.CodeInvalidRequest, "summary is required")
	}
	if p.TimeoutSeconds < 0 {
		return nil, contracts.NewError(contracts.CodeInvalidRequest, "timeout_seconds must be positive")
	}

	timeout := m.defaultTimeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}
	id := p.ApprovalID
	if id == "" {
		id = NewID()
	}

	now := m.clock().UTC()
	req := &contracts.ApprovalRequest{
		ApprovalID:    id,
		TransactionID: p.TransactionID,
		AgentID:       p.AgentID,
		Summary:       p.Summary,
		Details:       p.Details,
		Alternatives:  p.Alternatives,
		Status:        contracts.ApprovalPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(timeout),
	}
	if err := m.store.Create(ctx, req); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "approval created",
		"approval_id", req.ApprovalID,
		"transaction_id", req.TransactionID,
		"expires_at", req.ExpiresAt,
	)
	return req, nil
}

// Get returns the approval, expiring it first if its deadline has passed.
func (m *Manager) Get(ctx context.Context, id string) (*contracts.ApprovalRequest, error) {
	req, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	req, _, err = m.expireIfDue(ctx, req)
	return req, err
}

// Submit records a human decision.
//
// Errors: APPROVAL_NOT_FOUND for unknown ids; APPROVAL_EXPIRED when the
// deadline has passed, whether this call or an earlier read observed it;
// APPROVAL_ALREADY_DECIDED when it was approved or rejected, including when a
// concurrent submit won.
func (m *Manager) Submit(ctx context.Context, id string, d contracts.ApprovalDecision) (*contracts.ApprovalRequest, error) {
	to, ok := targetFor(d.Decision)
	if !ok {
		return nil, contracts.NewError(contracts.CodeInvalidRequest, "decision must be \"approve\" or \"reject\"")
	}

	cur, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status.Terminal() {
		return nil, alreadyDecided(cur)
	}

	cur, expiredNow, err := m.expireIfDue(ctx, cur)
	if err != nil {
		return nil, err
	}
	if expiredNow {
		return nil, contracts.ErrApprovalExpired
	}
	if cur.Status.Terminal() {
		return nil, alreadyDecided(cur)
	}

	if d.SelectedAlternative != nil {
		if n := *d.SelectedAlternative; n < 0 || n >= len(cur.Alternatives) {
			return nil, contracts.NewError(contracts.CodeInvalidRequest,
				fmt.Sprintf("selected_alternative %d is out of range", n))
		}
	}

	now := m.clock().UTC()
	next := cur.Clone()
	next.Status = to
	next.DecidedBy = d.DecidedBy
	next.DecidedAt = &now
	next.Comments = d.Comments
	next.SelectedAlternative = d.SelectedAlternative

	won, err := m.transition(ctx, cur.Status, next)
	if err != nil {
		return nil, err
	}
	if !won {
		latest, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, alreadyDecided(latest)
	}

	m.logger.InfoContext(ctx, "approval decided",
		"approval_id", id,
		"status", to,
		"decided_by", d.DecidedBy,
	)
	return next, nil
}

// List returns approvals filtered by status (all when empty), applying lazy expiry.
func (m *Manager) List(ctx context.Context, status contracts.ApprovalStatus) ([]*contracts.ApprovalRequest, error) {
	if status != "" && !status.Valid() {
		return nil, contracts.NewError(contracts.CodeInvalidRequest, fmt.Sprintf("unknown status %q", status))
	}
	all, err := m.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]*contracts.ApprovalRequest, 0, len(all))
	for _, req := range all {
		req, _, err = m.expireIfDue(ctx, req)
		if err != nil {
			return nil, err
		}
		if status == "" || req.Status == status {
			out = append(out, req)
		}
	}
	return out, nil
}

// expireIfDue moves a pending approval past its deadline to expired. The
// boolean is true only when this call performed the transition.
func (m *Manager) expireIfDue(ctx context.Context, req *contracts.ApprovalRequest) (*contracts.ApprovalRequest, bool, error) {
	if req.Status != contracts.ApprovalPending || m.clock().Before(req.ExpiresAt) {
		return req, false, nil
	}

	next := req.Clone()
	next.Status = contracts.ApprovalExpired
	won, err := m.transition(ctx, contracts.ApprovalPending, next)
	if err != nil {
		return nil, false, err
	}
	if won {
		m.logger.InfoContext(ctx, "approval expired", "approval_id", req.ApprovalID)
		return next, true, nil
	}
	latest, err := m.store.Get(ctx, req.ApprovalID)
	return latest, false, err
}

func (m *Manager) transition(ctx context.Context, from contracts.ApprovalStatus, next *contracts.ApprovalRequest) (bool, error) {
	if !CanTransition(from, next.Status) {
		return false, contracts.WrapError(contracts.CodeInternalError, "illegal approval transition",
			fmt.Errorf("%s -> %s", from, next.Status))
	}
	won, err := m.store.CompareAndSwap(ctx, from, next)
	if err != nil || !won {
		return won, err
	}
	m.notify(next.ApprovalID)
	if m.onTransition != nil {
		m.onTransition(from, next.Status)
	}
	return true, nil
}

// alreadyDecided rejects a decision on a terminal approval. An expired
// approval reports APPROVAL_EXPIRED so callers can tell a missed deadline from
// a decision someone else made.
func alreadyDecided(req *contracts.ApprovalRequest) error {
	if req.Status == contracts.ApprovalExpired {
		return contracts.NewError(contracts.CodeApprovalExpired,
			fmt.Sprintf("approval %s expired at %s", req.ApprovalID, req.ExpiresAt.UTC().Format(time.RFC3339)))
	}
	return contracts.NewError(contracts.CodeApprovalAlreadyDecided,
		fmt.Sprintf("approval %s is already %s", req.ApprovalID, req.Status))
}

// NewID returns a fresh approval identifier.
func NewID() string {
	return "apr_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
