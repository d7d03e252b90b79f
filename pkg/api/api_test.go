package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/aatp-router/pkg/api"
	"github.com/Mindburn-Labs/aatp-router/pkg/approval"
	"github.com/Mindburn-Labs/aatp-router/pkg/auth"
	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
	"github.com/Mindburn-Labs/aatp-router/pkg/crypto"
	"github.com/Mindburn-Labs/aatp-router/pkg/observability"
	"github.com/Mindburn-Labs/aatp-router/pkg/provider"
	"github.com/Mindburn-Labs/aatp-router/pkg/ratelimit"
	"github.com/Mindburn-Labs/aatp-router/pkg/registry"
	"github.com/Mindburn-Labs/aatp-router/pkg/router"
	"github.com/Mindburn-Labs/aatp-router/pkg/store"
)

const testAPIKey = "test-key"

type harness struct {
	server    *httptest.Server
	alice     *crypto.Ed25519Signer
	carol     *crypto.Ed25519Signer
	mallory   *crypto.Ed25519Signer
	calls     *atomic.Int32
	ledger    *store.MemoryLedger
	approvals *approval.Manager
}

func newHarness(t *testing.T, checks ...api.HealthCheck) *harness {
	t.Helper()
	h := &harness{calls: &atomic.Int32{}}

	bob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.calls.Add(1)
		var body struct {
			Data map[string]any `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		name, _ := body.Data["name"].(string)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Hello, " + name + "!"})
	}))
	t.Cleanup(bob.Close)

	gone := httptest.NewServer(http.NotFoundHandler())
	goneURL := gone.URL
	gone.Close()

	var err error
	h.alice, err = crypto.NewEd25519Signer("alice")
	require.NoError(t, err)
	h.carol, err = crypto.NewEd25519Signer("carol")
	require.NoError(t, err)
	h.mallory, err = crypto.NewEd25519Signer("alice")
	require.NoError(t, err)

	alicePEM, err := h.alice.PublicKeyPEM()
	require.NoError(t, err)
	carolPEM, err := h.carol.PublicKeyPEM()
	require.NoError(t, err)

	dir := registry.NewMemory(
		[]*contracts.Agent{
			{AgentID: "alice", PublicKey: alicePEM, Status: contracts.AgentActive},
			{AgentID: "carol", PublicKey: carolPEM, Status: contracts.AgentActive},
			{AgentID: "bob", Endpoint: bob.URL, Status: contracts.AgentActive},
			{AgentID: "retired", Status: contracts.AgentInactive},
			{AgentID: "dave", Endpoint: goneURL, Status: contracts.AgentActive},
		},
		[]*contracts.Service{
			{ServiceID: "greet", ProviderAgentID: "bob", PathTemplate: "/greet"},
			{ServiceID: "transfer", ProviderAgentID: "bob", PathTemplate: "/transfer", RequiresApproval: true},
			{ServiceID: "quote", ProviderAgentID: "dave", PathTemplate: "/quote"},
		},
	)

	metrics := observability.NewMetrics()
	h.ledger = store.NewMemoryLedger()
	h.approvals = approval.NewManager(approval.NewMemoryStore()).
		WithPollInterval(10 * time.Millisecond).
		OnTransition(metrics.ApprovalTransition)

	rt := router.New(router.Deps{
		Directory: dir,
		Limiter:   ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.DefaultPolicy),
		Approvals: h.approvals,
		Provider:  provider.NewClient(2 * time.Second),
		Ledger:    h.ledger,
		Metrics:   metrics,
	})

	handlers := &api.Handlers{
		Router:    rt,
		Approvals: h.approvals,
		Ledger:    h.ledger,
		Directory: dir,
		Mode:      "standalone",
		Checks:    checks,
	}
	keys := auth.NewAPIKeys("required", []string{testAPIKey})
	mux := api.NewRouter(handlers, api.RouterOptions{
		Protect: keys.Middleware,
		Edge:    api.NewEdgeLimiter(1000, 1000),
		Metrics: metrics,
	})
	h.server = httptest.NewServer(auth.RequestIDMiddleware(mux))
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.server.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(contracts.HeaderAPIKey, testAPIKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(bytes.TrimSpace(data)) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp, out
}

func (h *harness) transact(t *testing.T, signer *crypto.Ed25519Signer, req *contracts.TransactionRequest) (*http.Response, map[string]any) {
	t.Helper()
	sig, err := signer.SignTransaction(req)
	require.NoError(t, err)
	return h.do(t, http.MethodPost, "/v1/a2a/transact", req, map[string]string{contracts.HeaderSignature: sig})
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestTransactGreetsAlice(t *testing.T) {
	h := newHarness(t)
	req := &contracts.TransactionRequest{ConsumerAgentID: "alice", ServiceID: "greet", Payload: map[string]any{"name": "Alice"}}

	resp, body := h.transact(t, h.alice, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, map[string]any{"message": "Hello, Alice!"}, body["result"])
	assert.NotEmpty(t, body["transaction_id"])
	assert.NotEmpty(t, body["timestamp"])
	assert.Equal(t, contracts.ProtocolVersion, resp.Header.Get(contracts.HeaderVersion))
	assert.NotEmpty(t, resp.Header.Get(contracts.HeaderRequestID))

	// The ledger is readable through the API.
	resp, rec := h.do(t, http.MethodGet, "/v1/a2a/transactions/"+body["transaction_id"].(string), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "greet", rec["service_id"])
	assert.Equal(t, "bob", rec["provider_agent_id"])
}

func TestTransactRateLimitedPerAgent(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 20; i++ {
		req := &contracts.TransactionRequest{ConsumerAgentID: "alice", ServiceID: "greet", Payload: map[string]any{"name": "Alice"}}
		resp, _ := h.transact(t, h.alice, req)
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i+1)
	}

	req := &contracts.TransactionRequest{ConsumerAgentID: "alice", ServiceID: "greet", Payload: map[string]any{"name": "Alice"}}
	resp, body := h.transact(t, h.alice, req)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "RATE_LIMITED", errorCode(body))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.EqualValues(t, 20, h.calls.Load())

	req = &contracts.TransactionRequest{ConsumerAgentID: "carol", ServiceID: "greet", Payload: map[string]any{"name": "Carol"}}
	resp, _ = h.transact(t, h.carol, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTransactRejectsForeignSignature(t *testing.T) {
	h := newHarness(t)
	req := &contracts.TransactionRequest{ConsumerAgentID: "alice", ServiceID: "greet", Payload: map[string]any{"name": "Alice"}}

	resp, body := h.transact(t, h.mallory, req)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "INVALID_SIGNATURE", errorCode(body))
	assert.Zero(t, h.calls.Load())
	assert.Zero(t, h.ledger.Count())
}

func TestTransactProviderUnreachable(t *testing.T) {
	h := newHarness(t)
	req := &contracts.TransactionRequest{ConsumerAgentID: "alice", ServiceID: "quote", Payload: map[string]any{"symbol": "EUR"}}

	resp, body := h.transact(t, h.alice, req)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "PROVIDER_UNREACHABLE", errorCode(body))
	assert.NotEmpty(t, body["transaction_id"])
	assert.Zero(t, h.ledger.Count())
}

func TestApprovalExpiresBeforeDecision(t *testing.T) {
	h := newHarness(t)

	resp, apr := h.do(t, http.MethodPost, "/api/v1/approvals", map[string]any{
		"approval_id":     "apr_1",
		"transaction_id":  "tx-late-1",
		"summary":         "Approve before the deadline",
		"timeout_seconds": 1,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "pending", apr["status"])

	time.Sleep(2 * time.Second)

	resp, got := h.do(t, http.MethodGet, "/api/v1/approvals/apr_1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "expired", got["status"])

	resp, body := h.do(t, http.MethodPost, "/api/v1/approvals/apr_1/submit", map[string]any{"decision": "approve"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "APPROVAL_EXPIRED", errorCode(body))

	resp, got = h.do(t, http.MethodGet, "/api/v1/approvals/apr_1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "expired", got["status"])
	assert.Nil(t, got["decided_by"])
}

func TestApprovalGatedTransfer(t *testing.T) {
	h := newHarness(t)

	resp, apr := h.do(t, http.MethodPost, "/api/v1/approvals", map[string]any{
		"transaction_id": "tx-transfer-1",
		"summary":        "Transfer 500 EUR to Bob",
		"alternatives":   []any{map[string]any{"amount": 500}, map[string]any{"amount": 250}},
	}, map[string]string{contracts.HeaderAgentID: "alice"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := apr["approval_id"].(string)
	assert.Equal(t, "pending", apr["status"])
	assert.Equal(t, "alice", apr["agent_id"])

	transfer := &contracts.TransactionRequest{
		ConsumerAgentID: "alice",
		ServiceID:       "transfer",
		Payload:         map[string]any{"name": "Bob"},
		TransactionID:   "tx-transfer-1",
		ApprovalID:      id,
	}
	resp, body := h.transact(t, h.alice, transfer)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "APPROVAL_REQUIRED", errorCode(body))

	// A waiter sees the decision as soon as it lands.
	waited := make(chan map[string]any, 1)
	go func() {
		b := map[string]any{}
		req, _ := http.NewRequest(http.MethodGet, h.server.URL+"/api/v1/approvals/"+id+"/wait?timeout=5s", nil)
		req.Header.Set(contracts.HeaderAPIKey, testAPIKey)
		if resp, err := http.DefaultClient.Do(req); err == nil {
			_ = json.NewDecoder(resp.Body).Decode(&b)
			_ = resp.Body.Close()
		}
		waited <- b
	}()

	resp, decided := h.do(t, http.MethodPost, "/api/v1/approvals/"+id+"/submit", map[string]any{
		"decision":             "approve",
		"approved_by":          "ops@example.com",
		"selected_alternative": 1,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", decided["status"])
	assert.Equal(t, "ops@example.com", decided["decided_by"])
	assert.EqualValues(t, 1, decided["selected_alternative"])

	select {
	case b := <-waited:
		assert.Equal(t, "approved", b["status"])
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return")
	}

	resp, body = h.transact(t, h.alice, transfer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])

	resp, body = h.do(t, http.MethodPost, "/api/v1/approvals/"+id+"/submit", map[string]any{"decision": "reject"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "APPROVAL_ALREADY_DECIDED", errorCode(body))

	resp, list := h.do(t, http.MethodGet, "/api/v1/approvals?status=approved", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, list["count"])
}

func TestApprovalErrors(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodGet, "/api/v1/approvals/apr_unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "APPROVAL_NOT_FOUND", errorCode(body))

	resp, body = h.do(t, http.MethodPost, "/api/v1/approvals", map[string]any{"summary": "no tx"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", errorCode(body))

	create := map[string]any{"approval_id": "apr_fixed", "transaction_id": "tx-1", "summary": "once"}
	resp, _ = h.do(t, http.MethodPost, "/api/v1/approvals", create, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, body = h.do(t, http.MethodPost, "/api/v1/approvals", create, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "DUPLICATE_APPROVAL_ID", errorCode(body))

	resp, body = h.do(t, http.MethodPost, "/api/v1/approvals/apr_fixed/submit", map[string]any{"decision": "maybe"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", errorCode(body))

	resp, _ = h.do(t, http.MethodGet, "/api/v1/approvals/apr_fixed/wait?timeout=soon", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// A wait that times out answers with the pending state.
	resp, body = h.do(t, http.MethodGet, "/api/v1/approvals/apr_fixed/wait?timeout=50ms", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])

	resp, body = h.do(t, http.MethodGet, "/api/v1/approvals?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", errorCode(body))
}

func TestTransactRequestValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name    string
		body    string
		headers map[string]string
		status  int
		code    string
	}{
		{"not json", `{"consumer_agent_id":`, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing service", `{"consumer_agent_id":"alice"}`, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"payload not object", `{"consumer_agent_id":"alice","service_id":"greet","payload":[1]}`, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown agent", `{"consumer_agent_id":"mallory","service_id":"greet"}`, nil, http.StatusNotFound, "AGENT_NOT_FOUND"},
		{"inactive agent", `{"consumer_agent_id":"retired","service_id":"greet"}`, nil, http.StatusNotFound, "AGENT_NOT_FOUND"},
		{"missing signature", `{"consumer_agent_id":"alice","service_id":"greet","payload":{}}`, nil, http.StatusUnauthorized, "INVALID_SIGNATURE"},
		{"no api key", `{}`, map[string]string{contracts.HeaderAPIKey: ""}, http.StatusUnauthorized, "AUTHENTICATION_FAILED"},
		{"wrong api key", `{}`, map[string]string{contracts.HeaderAPIKey: "nope"}, http.StatusUnauthorized, "AUTHENTICATION_FAILED"},
		{"future protocol", `{}`, map[string]string{contracts.HeaderVersion: "2.0.0"}, http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, h.server.URL+"/v1/a2a/transact", bytes.NewBufferString(tt.body))
			require.NoError(t, err)
			req.Header.Set(contracts.HeaderAPIKey, testAPIKey)
			for k, v := range tt.headers {
				if v == "" {
					req.Header.Del(k)
					continue
				}
				req.Header.Set(k, v)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			var body map[string]any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(body))
			assert.Equal(t, "error", body["status"])
		})
	}
	assert.Zero(t, h.calls.Load())
}

func TestRequiresApprovalWithoutReference(t *testing.T) {
	h := newHarness(t)
	req := &contracts.TransactionRequest{ConsumerAgentID: "alice", ServiceID: "transfer", Payload: map[string]any{}}
	resp, body := h.transact(t, h.alice, req)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "APPROVAL_REQUIRED", errorCode(body))
}

func TestHealthAndAgents(t *testing.T) {
	h := newHarness(t,
		api.HealthCheck{Name: "redis", Check: func(context.Context) error { return errors.New("down") }},
	)
	resp, body := h.do(t, http.MethodGet, "/health", nil, map[string]string{contracts.HeaderAPIKey: ""})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "standalone", body["mode"])
	assert.Equal(t, contracts.ProtocolVersion, body["version"])

	resp, body = h.do(t, http.MethodGet, "/v1/agents", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 4, body["count"])

	resp, _ = h.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = h.do(t, http.MethodGet, "/v1/a2a/transactions/tx-missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "TRANSACTION_NOT_FOUND", errorCode(body))

	resp, _ = h.do(t, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthUnhealthy(t *testing.T) {
	h := newHarness(t,
		api.HealthCheck{Name: "database", Critical: true, Check: func(context.Context) error { return errors.New("down") }},
	)
	resp, body := h.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, map[string]any{"database": "failing"}, body["checks"])
}
