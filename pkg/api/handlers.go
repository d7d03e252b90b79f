package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Mindburn-Labs/aatp-router/pkg/approval"
	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
	"github.com/Mindburn-Labs/aatp-router/pkg/registry"
	"github.com/Mindburn-Labs/aatp-router/pkg/store"
)

// DefaultWait and MaxWait bound the approval long-poll.
const (
	DefaultWait = 30 * time.Second
	MaxWait     = 2 * time.Minute
)

// Transactor routes one signed transaction.
type Transactor interface {
	Route(ctx context.Context, req *contracts.TransactionRequest, signature string) (*contracts.TransactionResult, error)
}

// HealthCheck probes one dependency. A failing critical check turns /health
// into a 503; a failing non-critical one only marks the service degraded.
type HealthCheck struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// Handlers serves the HTTP API. Approvals, Ledger and Directory are optional;
// their routes answer as if empty when unset.
type Handlers struct {
	Router    Transactor
	Approvals *approval.Manager
	Ledger    store.Ledger
	Directory registry.Directory
	Mode      string
	Checks    []HealthCheck
	Logger    *slog.Logger
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Transact handles POST /v1/a2a/transact.
func (h *Handlers) Transact(w http.ResponseWriter, r *http.Request) {
	var req contracts.TransactionRequest
	if err := decodeBody(w, r, transactionSchema, &req); err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := h.Router.Route(r.Context(), &req, r.Header.Get(contracts.HeaderSignature))
	WriteTransactionResult(w, r, res, err)
}

type healthResponse struct {
	Status  string            `json:"status"`
	Mode    string            `json:"mode,omitempty"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "healthy", Mode: h.Mode, Version: contracts.ProtocolVersion}
	status := http.StatusOK
	for _, c := range h.Checks {
		if resp.Checks == nil {
			resp.Checks = make(map[string]string, len(h.Checks))
		}
		if err := c.Check(ctx); err != nil {
			h.logger().WarnContext(ctx, "health check failed", "check", c.Name, "error", err)
			resp.Checks[c.Name] = "failing"
			if c.Critical {
				resp.Status = "unhealthy"
				status = http.StatusServiceUnavailable
			} else if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
			continue
		}
		resp.Checks[c.Name] = "ok"
	}
	WriteJSON(w, status, resp)
}

// CreateApproval handles POST /api/v1/approvals.
func (h *Handlers) CreateApproval(w http.ResponseWriter, r *http.Request) {
	if h.Approvals == nil {
		WriteError(w, r, contracts.NewError(contracts.CodeInvalidRequest, "approvals are not enabled"))
		return
	}
	var p approval.CreateParams
	if err := decodeBody(w, r, createSchema, &p); err != nil {
		WriteError(w, r, err)
		return
	}
	if p.AgentID == "" {
		p.AgentID = r.Header.Get(contracts.HeaderAgentID)
	}
	apr, err := h.Approvals.Create(r.Context(), p)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, apr)
}

// GetApproval handles GET /api/v1/approvals/{id}.
func (h *Handlers) GetApproval(w http.ResponseWriter, r *http.Request) {
	if h.Approvals == nil {
		WriteError(w, r, contracts.ErrApprovalNotFound)
		return
	}
	apr, err := h.Approvals.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, apr)
}

// SubmitApproval handles POST /api/v1/approvals/{id}/submit.
func (h *Handlers) SubmitApproval(w http.ResponseWriter, r *http.Request) {
	if h.Approvals == nil {
		WriteError(w, r, contracts.ErrApprovalNotFound)
		return
	}
	var d contracts.ApprovalDecision
	if err := decodeBody(w, r, decisionSchema, &d); err != nil {
		WriteError(w, r, err)
		return
	}
	apr, err := h.Approvals.Submit(r.Context(), mux.Vars(r)["id"], d)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, apr)
}

// WaitApproval handles GET /api/v1/approvals/{id}/wait?timeout=30s. It
// answers with the current state once terminal or when the timeout elapses.
func (h *Handlers) WaitApproval(w http.ResponseWriter, r *http.Request) {
	if h.Approvals == nil {
		WriteError(w, r, contracts.ErrApprovalNotFound)
		return
	}
	wait, err := parseWait(r.URL.Query().Get("timeout"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	apr, err := h.Approvals.Wait(r.Context(), mux.Vars(r)["id"], wait)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, apr)
}

func parseWait(v string) (time.Duration, error) {
	if v == "" {
		return DefaultWait, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		secs, convErr := strconv.Atoi(v)
		if convErr != nil {
			return 0, contracts.NewError(contracts.CodeInvalidRequest, "timeout must be a duration such as 30s")
		}
		d = time.Duration(secs) * time.Second
	}
	if d < 0 {
		return 0, contracts.NewError(contracts.CodeInvalidRequest, "timeout must not be negative")
	}
	return min(d, MaxWait), nil
}

// ListApprovals handles GET /api/v1/approvals?status=pending.
func (h *Handlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	out := []*contracts.ApprovalRequest{}
	if h.Approvals != nil {
		list, err := h.Approvals.List(r.Context(), contracts.ApprovalStatus(r.URL.Query().Get("status")))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		out = list
	}
	WriteJSON(w, http.StatusOK, map[string]any{"approvals": out, "count": len(out)})
}

// GetTransaction handles GET /v1/a2a/transactions/{id}.
func (h *Handlers) GetTransaction(w http.ResponseWriter, r *http.Request) {
	if h.Ledger == nil {
		WriteError(w, r, contracts.ErrTransactionNotFound)
		return
	}
	rec, err := h.Ledger.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// ListAgents handles GET /v1/agents. Only active agents are listed.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	out := []*contracts.Agent{}
	if h.Directory != nil {
		agents, err := h.Directory.ListAgents(r.Context())
		if err != nil {
			WriteInternal(w, r, err)
			return
		}
		for _, a := range agents {
			if a.IsActive() {
				out = append(out, a)
			}
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"agents": out, "count": len(out)})
}
