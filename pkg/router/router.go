// Package router implements the AATP transaction pipeline: identify the
// consumer, throttle, verify the signature, gate on approvals, resolve the
// service and forward a single call to the provider.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
	"github.com/Mindburn-Labs/aatp-router/pkg/crypto"
	"github.com/Mindburn-Labs/aatp-router/pkg/observability"
	"github.com/Mindburn-Labs/aatp-router/pkg/provider"
	"github.com/Mindburn-Labs/aatp-router/pkg/ratelimit"
	"github.com/Mindburn-Labs/aatp-router/pkg/registry"
	"github.com/Mindburn-Labs/aatp-router/pkg/store"
)

// ApprovalReader is the slice of the approval manager the router needs.
type ApprovalReader interface {
	Get(ctx context.Context, id string) (*contracts.ApprovalRequest, error)
}

// Invoker performs the outbound provider call.
type Invoker interface {
	Invoke(ctx context.Context, call provider.Call) (*provider.Response, error)
}

// Deps are the collaborators of a Router. Directory and Provider are required.
type Deps struct {
	Directory registry.Directory
	Limiter   *ratelimit.Limiter
	Approvals ApprovalReader
	Provider  Invoker
	Ledger    store.Ledger
	Metrics   *observability.Metrics
	Tracer    trace.Tracer
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Router routes signed transactions from consumers to providers.
type Router struct {
	directory registry.Directory
	limiter   *ratelimit.Limiter
	approvals ApprovalReader
	provider  Invoker
	ledger    store.Ledger
	metrics   *observability.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
	clock     func() time.Time
	schemas   *schemaCache
}

// New builds a Router from deps, filling in defaults for optional ones.
func New(deps Deps) *Router {
	r := &Router{
		directory: deps.Directory,
		limiter:   deps.Limiter,
		approvals: deps.Approvals,
		provider:  deps.Provider,
		ledger:    deps.Ledger,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		logger:    deps.Logger,
		clock:     deps.Clock,
		schemas:   newSchemaCache(),
	}
	if r.provider == nil {
		r.provider = provider.NewClient(provider.DefaultTimeout)
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer("aatp.router")
	}
	if r.logger == nil {
		r.logger = slog.Default().With("component", "router")
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	return r
}

// NewTransactionID returns a router-assigned transaction id.
func NewTransactionID() string {
	return "tx_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Route runs the pipeline for one request. The returned result is never nil:
// on failure it carries the transaction id and the error body, and err holds
// the coded error that decides the HTTP status.
func (r *Router) Route(ctx context.Context, req *contracts.TransactionRequest, signature string) (*contracts.TransactionResult, error) {
	txID := req.TransactionID
	if txID == "" {
		txID = NewTransactionID()
	}

	ctx, span := r.tracer.Start(ctx, "aatp.route",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("aatp.transaction_id", txID),
			attribute.String("aatp.consumer_agent_id", req.ConsumerAgentID),
			attribute.String("aatp.service_id", req.ServiceID),
		),
	)
	defer span.End()

	// Metrics are labelled only with directory-known service ids; the raw
	// request value is client controlled.
	var service string
	res, err := r.route(ctx, req, signature, txID, &service)
	if err != nil {
		e := contracts.AsError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(e.Code))
		r.metrics.TransactionOutcome(service, string(e.Code))
		if e.Code == contracts.CodeInternalError {
			r.logger.ErrorContext(ctx, "transaction failed",
				"transaction_id", txID,
				"consumer_agent_id", req.ConsumerAgentID,
				"service_id", req.ServiceID,
				"error", err,
			)
		} else {
			r.logger.InfoContext(ctx, "transaction rejected",
				"transaction_id", txID,
				"consumer_agent_id", req.ConsumerAgentID,
				"service_id", req.ServiceID,
				"code", e.Code,
			)
		}
		body := e.Body()
		if e.Code == contracts.CodeInternalError {
			body = contracts.ErrInternal.Body()
		}
		return &contracts.TransactionResult{
			TransactionID: txID,
			Status:        contracts.TransactionError,
			Timestamp:     r.clock().UTC(),
			Error:         body,
		}, e
	}

	outcome := string(res.Status)
	if res.Error != nil {
		outcome = string(res.Error.Code)
	}
	r.metrics.TransactionOutcome(service, outcome)
	span.SetAttributes(attribute.String("aatp.outcome", outcome))
	return res, nil
}

func (r *Router) route(ctx context.Context, req *contracts.TransactionRequest, signature, txID string, service *string) (*contracts.TransactionResult, error) {
	if req.ConsumerAgentID == "" || req.ServiceID == "" {
		return nil, contracts.NewError(contracts.CodeInvalidRequest, "consumer_agent_id and service_id are required")
	}

	// 1. Identify the consumer.
	consumer, err := r.directory.FindAgent(ctx, req.ConsumerAgentID)
	if err != nil {
		return nil, lookupError(err, contracts.ErrAgentNotFound, "consumer agent lookup failed")
	}
	if !consumer.IsActive() {
		return nil, contracts.NewError(contracts.CodeAgentNotFound, "consumer agent is not active")
	}

	// 2. Throttle before doing any cryptography.
	if d := r.limiter.Check(ctx, consumer.AgentID); !d.Allowed {
		r.metrics.RateLimited()
		return nil, contracts.RateLimited(d.RetryAfterSeconds())
	}

	// 3. Verify the signature over the canonical signed subset.
	if err := crypto.VerifyTransaction(consumer, req, signature); err != nil {
		return nil, err
	}

	// 4. Approval gate.
	if req.ApprovalID != "" {
		if err := r.checkApproval(ctx, req.ApprovalID, txID, consumer.AgentID); err != nil {
			return nil, err
		}
	}

	// 5. Resolve the service.
	svc, err := r.directory.FindService(ctx, req.ServiceID)
	if err != nil {
		return nil, lookupError(err, contracts.ErrServiceNotFound, "service lookup failed")
	}
	*service = svc.ServiceID
	if !svc.IsActive() {
		return nil, contracts.NewError(contracts.CodeServiceNotFound, "service is not active")
	}
	if svc.RequiresApproval && req.ApprovalID == "" {
		return nil, contracts.NewError(contracts.CodeApprovalRequired, "service requires an approved approval_id")
	}
	if err := r.schemas.validate(svc, req.Payload); err != nil {
		return nil, err
	}

	// 6. Resolve the provider endpoint.
	prov, err := r.directory.FindAgent(ctx, svc.ProviderAgentID)
	if err != nil {
		if errors.Is(err, contracts.ErrAgentNotFound) {
			return nil, contracts.WrapError(contracts.CodeProviderUnreachable, "provider agent is not registered", err)
		}
		return nil, contracts.WrapError(contracts.CodeInternalError, "provider agent lookup failed", err)
	}
	if !prov.IsActive() || prov.Endpoint == "" {
		return nil, contracts.NewError(contracts.CodeProviderUnreachable, "provider agent is not available")
	}

	// 7. Forward exactly once.
	resp, err := r.provider.Invoke(ctx, provider.Call{
		Endpoint:        prov.Endpoint,
		PathTemplate:    svc.PathTemplate,
		Method:          svc.Method,
		Payload:         req.Payload,
		TransactionID:   txID,
		ConsumerAgentID: consumer.AgentID,
	})
	if err != nil {
		return nil, err
	}
	r.metrics.ProviderLatency(svc.ServiceID, resp.Latency)

	now := r.clock().UTC()
	res := &contracts.TransactionResult{
		TransactionID: txID,
		Timestamp:     now,
	}
	rec := &contracts.TransactionRecord{
		TransactionID:   txID,
		ConsumerAgentID: consumer.AgentID,
		ProviderAgentID: prov.AgentID,
		ServiceID:       svc.ServiceID,
		ProviderStatus:  resp.StatusCode,
		ApprovalID:      req.ApprovalID,
		Timestamp:       now,
		LatencyMS:       resp.Latency.Milliseconds(),
	}
	if resp.OK() {
		res.Status = contracts.TransactionSuccess
		res.Result = resp.Result()
		rec.Status = contracts.TransactionSuccess
		rec.Result = res.Result
	} else {
		res.Status = contracts.TransactionError
		res.Error = &contracts.ErrorBody{Code: contracts.CodeProviderError, Message: resp.Message()}
		rec.Status = contracts.TransactionError
		rec.ErrorMessage = res.Error.Message
	}
	r.record(ctx, rec)
	return res, nil
}

// checkApproval admits only an approved approval bound to this transaction
// and, when the approval names an agent, to that consumer. A request that
// omits transaction_id gets a fresh id and therefore can never match an
// existing approval.
func (r *Router) checkApproval(ctx context.Context, approvalID, txID, consumerID string) error {
	if r.approvals == nil {
		return contracts.NewError(contracts.CodeApprovalNotFound, "approvals are not enabled")
	}
	apr, err := r.approvals.Get(ctx, approvalID)
	if err != nil {
		return err
	}
	switch apr.Status {
	case contracts.ApprovalApproved:
	case contracts.ApprovalPending:
		return contracts.NewError(contracts.CodeApprovalRequired, "approval "+apr.ApprovalID+" is still pending")
	default:
		return contracts.NewError(contracts.CodeApprovalDenied, "approval "+apr.ApprovalID+" is "+string(apr.Status))
	}
	if apr.TransactionID != txID {
		return contracts.NewError(contracts.CodeApprovalDenied, "approval is bound to a different transaction")
	}
	if apr.AgentID != "" && apr.AgentID != consumerID {
		return contracts.NewError(contracts.CodeApprovalDenied, "approval belongs to a different agent")
	}
	return nil
}

func (r *Router) record(ctx context.Context, rec *contracts.TransactionRecord) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.Record(ctx, rec); err != nil {
		r.metrics.LedgerFailure()
		r.logger.ErrorContext(ctx, "ledger write failed",
			"transaction_id", rec.TransactionID,
			"error", err,
		)
	}
}

// lookupError passes a directory's not-found sentinel through and turns any
// other failure into INTERNAL_ERROR.
func lookupError(err error, notFound *contracts.Error, msg string) error {
	if errors.Is(err, notFound) {
		return contracts.AsError(err)
	}
	return contracts.WrapError(contracts.CodeInternalError, msg, err)
}
