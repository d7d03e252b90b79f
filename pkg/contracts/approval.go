package contracts

import (
	"encoding/json"
	"time"
)

// ApprovalStatus is the state of a HITL approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Terminal reports whether no further transition is possible.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected || s == ApprovalExpired
}

// Valid reports whether s is one of the known states.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected, ApprovalExpired:
		return true
	}
	return false
}

// ApprovalRequest is a pending or decided request for human judgment.
type ApprovalRequest struct {
	ApprovalID    string           `json:"approval_id"`
	TransactionID string           `json:"transaction_id"`
	AgentID       string           `json:"agent_id,omitempty"`
	Summary       string           `json:"summary"`
	Details       json.RawMessage  `json:"details,omitempty"`
	Alternatives  []map[string]any `json:"alternatives,omitempty"`

	Status    ApprovalStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`

	// Decision, populated once the request leaves pending via a human decision
	DecidedBy           string     `json:"decided_by,omitempty"`
	DecidedAt           *time.Time `json:"decided_at,omitempty"`
	Comments            string     `json:"comments,omitempty"`
	SelectedAlternative *int       `json:"selected_alternative,omitempty"`
}

// Clone returns a copy that shares no mutable state with r.
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.Details != nil {
		c.Details = append(json.RawMessage(nil), r.Details...)
	}
	if r.Alternatives != nil {
		c.Alternatives = make([]map[string]any, len(r.Alternatives))
		for i, alt := range r.Alternatives {
			m := make(map[string]any, len(alt))
			for k, v := range alt {
				m[k] = v
			}
			c.Alternatives[i] = m
		}
	}
	if r.SelectedAlternative != nil {
		n := *r.SelectedAlternative
		c.SelectedAlternative = &n
	}
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}

// DecisionAction is the approver's verdict.
type DecisionAction string

const (
	DecisionApprove DecisionAction = "approve"
	DecisionReject  DecisionAction = "reject"
)

// ApprovalDecision is the body of POST /api/v1/approvals/{id}/submit.
type ApprovalDecision struct {
	Decision            DecisionAction `json:"decision"`
	DecidedBy           string         `json:"approved_by"`
	Comments            string         `json:"comments,omitempty"`
	SelectedAlternative *int           `json:"selected_alternative,omitempty"`
}
