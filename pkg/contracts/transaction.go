package contracts

import (
	"encoding/json"
	"time"
)

// TransactionStatus is the outcome recorded in a TransactionResult.
type TransactionStatus string

const (
	TransactionSuccess TransactionStatus = "success"
	TransactionError   TransactionStatus = "error"
)

// TransactionRequest is the body of POST /v1/a2a/transact.
type TransactionRequest struct {
	ConsumerAgentID string         `json:"consumer_agent_id"`
	ServiceID       string         `json:"service_id"`
	Payload         map[string]any `json:"payload"`

	// TransactionID is optional; the router generates one when empty.
	TransactionID string `json:"transaction_id,omitempty"`

	// ApprovalID references a HITL approval that must be approved before routing.
	ApprovalID string `json:"approval_id,omitempty"`
}

// SignedFields is the subset of a TransactionRequest covered by the consumer signature.
// TransactionID is omitted from the signed bytes when the client did not supply one.
type SignedFields struct {
	ConsumerAgentID string         `json:"consumer_agent_id"`
	ServiceID       string         `json:"service_id"`
	Payload         map[string]any `json:"payload"`
	TransactionID   string         `json:"transaction_id,omitempty"`
}

// Signed returns the signature-covered view of the request.
func (r *TransactionRequest) Signed() SignedFields {
	payload := r.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return SignedFields{
		ConsumerAgentID: r.ConsumerAgentID,
		ServiceID:       r.ServiceID,
		Payload:         payload,
		TransactionID:   r.TransactionID,
	}
}

// ErrorBody is the machine-readable error carried in responses.
type ErrorBody struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// TransactionResult is the response envelope for a routed transaction.
type TransactionResult struct {
	TransactionID string            `json:"transaction_id,omitempty"`
	Status        TransactionStatus `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
	Result        json.RawMessage   `json:"result,omitempty"`
	Error         *ErrorBody        `json:"error,omitempty"`
}

// TransactionRecord is what the ledger keeps for a transaction the provider answered.
type TransactionRecord struct {
	TransactionID   string            `json:"transaction_id"`
	ConsumerAgentID string            `json:"consumer_agent_id"`
	ProviderAgentID string            `json:"provider_agent_id"`
	ServiceID       string            `json:"service_id"`
	Status          TransactionStatus `json:"status"`
	ProviderStatus  int               `json:"provider_status"`
	Result          json.RawMessage   `json:"result,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	ApprovalID      string            `json:"approval_id,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
	LatencyMS       int64             `json:"latency_ms"`
}
