package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
	"github.com/Mindburn-Labs/aatp-router/pkg/observability"
)

// RouterOptions wires cross-cutting concerns into NewRouter.
type RouterOptions struct {
	// Protect guards everything except /health and /metrics (API key check).
	Protect func(http.Handler) http.Handler
	// Edge throttles the public routes per client IP.
	Edge *EdgeLimiter
	// Metrics, when set, records HTTP metrics and serves GET /metrics.
	Metrics *observability.Metrics
	// Telemetry, when set, opens a span per request.
	Telemetry *observability.Provider
}

// NewRouter maps the API onto a gorilla/mux router.
func NewRouter(h *Handlers, opts RouterOptions) *mux.Router {
	protect := opts.Protect
	if protect == nil {
		protect = func(next http.Handler) http.Handler { return next }
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeRouteError(w, http.StatusNotFound, "no such route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeRouteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.Use(observe(opts.Metrics, opts.Telemetry))

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	public := r.NewRoute().Subrouter()
	public.Use(VersionMiddleware, opts.Edge.Middleware, mux.MiddlewareFunc(protect))

	public.HandleFunc("/v1/a2a/transact", h.Transact).Methods(http.MethodPost)
	public.HandleFunc("/v1/a2a/transactions/{id}", h.GetTransaction).Methods(http.MethodGet)
	public.HandleFunc("/v1/agents", h.ListAgents).Methods(http.MethodGet)

	public.HandleFunc("/api/v1/approvals", h.CreateApproval).Methods(http.MethodPost)
	public.HandleFunc("/api/v1/approvals", h.ListApprovals).Methods(http.MethodGet)
	public.HandleFunc("/api/v1/approvals/{id}", h.GetApproval).Methods(http.MethodGet)
	public.HandleFunc("/api/v1/approvals/{id}/submit", h.SubmitApproval).Methods(http.MethodPost)
	public.HandleFunc("/api/v1/approvals/{id}/wait", h.WaitApproval).Methods(http.MethodGet)
	return r
}

func writeRouteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, &ErrorEnvelope{
		Status: string(contracts.TransactionError),
		Error:  &contracts.ErrorBody{Code: contracts.CodeInvalidRequest, Message: msg},
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// observe records per-route metrics and opens a server span with the
// caller's trace context.
func observe(m *observability.Metrics, p *observability.Provider) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if m == nil && p == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := r.URL.Path
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}

			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, done := p.TrackOperation(ctx, r.Method+" "+route,
				attribute.String("http.route", route),
				attribute.String("http.request.method", r.Method),
			)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))

			m.HTTPRequest(route, r.Method, rec.status, time.Since(start))
			var err error
			if rec.status >= http.StatusInternalServerError {
				err = contracts.NewError(contracts.CodeInternalError, http.StatusText(rec.status))
			}
			done(err)
		})
	}
}
