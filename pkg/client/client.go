// Package client is a Go client for the AATP router. It signs transactions
// with the consumer's Ed25519 key and manages approvals.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Mindburn-Labs/aatp-router/pkg/approval"
	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
	"github.com/Mindburn-Labs/aatp-router/pkg/crypto"
)

// APIError is returned when the router answers with a non-2xx status.
type APIError struct {
	Status     int
	Code       contracts.Code
	Message    string
	RetryAfter int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("aatp api %d: %s (%s)", e.Status, e.Message, e.Code)
}

// Is lets errors.Is match an APIError against the contracts sentinels by code.
func (e *APIError) Is(target error) bool {
	var ce *contracts.Error
	if errors.As(target, &ce) {
		return ce.Code == e.Code
	}
	return false
}

// Client talks to one router.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	signer     *crypto.Ed25519Signer
}

// Option configures the client.
type Option func(*Client)

// WithAPIKey sets the X-API-Key header.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.APIKey = key }
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTPClient.Timeout = d }
}

// WithSigner sets the identity transactions are signed with.
func WithSigner(s *crypto.Ed25519Signer) Option {
	return func(c *Client) { c.signer = s }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// New creates a client for the router at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(contracts.HeaderVersion, contracts.ProtocolVersion)
	if c.APIKey != "" {
		req.Header.Set(contracts.HeaderAPIKey, c.APIKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var env struct {
		Error *contracts.ErrorBody `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Error != nil {
		return &APIError{
			Status:     resp.StatusCode,
			Code:       env.Error.Code,
			Message:    env.Error.Message,
			RetryAfter: env.Error.RetryAfter,
		}
	}
	return &APIError{Status: resp.StatusCode, Code: contracts.CodeInternalError, Message: http.StatusText(resp.StatusCode)}
}

// Transact signs req with the configured signer and routes it. A provider
// error comes back as a result with status "error", not as a Go error.
func (c *Client) Transact(ctx context.Context, req *contracts.TransactionRequest) (*contracts.TransactionResult, error) {
	if c.signer == nil {
		return nil, errors.New("client: no signer configured")
	}
	if req.ConsumerAgentID == "" {
		req.ConsumerAgentID = c.signer.AgentID
	}
	sig, err := c.signer.SignTransaction(req)
	if err != nil {
		return nil, err
	}
	var out contracts.TransactionResult
	err = c.do(ctx, http.MethodPost, "/v1/a2a/transact", req, map[string]string{contracts.HeaderSignature: sig}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Transaction reads a ledger record.
func (c *Client) Transaction(ctx context.Context, id string) (*contracts.TransactionRecord, error) {
	var out contracts.TransactionRecord
	if err := c.do(ctx, http.MethodGet, "/v1/a2a/transactions/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateApproval opens a HITL approval. The signer's agent id is sent as X-Agent-ID.
func (c *Client) CreateApproval(ctx context.Context, p approval.CreateParams) (*contracts.ApprovalRequest, error) {
	var headers map[string]string
	if c.signer != nil {
		headers = map[string]string{contracts.HeaderAgentID: c.signer.AgentID}
	}
	var out contracts.ApprovalRequest
	if err := c.do(ctx, http.MethodPost, "/api/v1/approvals", p, headers, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Approval reads an approval.
func (c *Client) Approval(ctx context.Context, id string) (*contracts.ApprovalRequest, error) {
	var out contracts.ApprovalRequest
	if err := c.do(ctx, http.MethodGet, "/api/v1/approvals/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitApproval long-polls until the approval is decided or timeout elapses.
func (c *Client) WaitApproval(ctx context.Context, id string, timeout time.Duration) (*contracts.ApprovalRequest, error) {
	var out contracts.ApprovalRequest
	path := fmt.Sprintf("/api/v1/approvals/%s/wait?timeout=%s", url.PathEscape(id), url.QueryEscape(timeout.String()))
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitApproval records a decision.
func (c *Client) SubmitApproval(ctx context.Context, id string, d contracts.ApprovalDecision) (*contracts.ApprovalRequest, error) {
	var out contracts.ApprovalRequest
	if err := c.do(ctx, http.MethodPost, "/api/v1/approvals/"+url.PathEscape(id)+"/submit", d, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status  string            `json:"status"`
	Mode    string            `json:"mode"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
