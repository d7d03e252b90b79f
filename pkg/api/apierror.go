// Package api serves the AATP HTTP surface. Every failure is rendered as the
// protocol error envelope {"status":"error","error":{"code","message"}}.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// ErrorEnvelope is the body of every error response.
type ErrorEnvelope struct {
	Status    string               `json:"status"`
	Error     *contracts.ErrorBody `json:"error"`
	RequestID string               `json:"request_id,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as an error envelope. Uncoded errors become
// INTERNAL_ERROR; their detail is logged and never returned.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	e := contracts.AsError(err)
	body := e.Body()
	if e.Code == contracts.CodeInternalError {
		logInternal(r, w.Header().Get(contracts.HeaderRequestID), err)
		body = contracts.ErrInternal.Body()
	}
	if e.Code == contracts.CodeRateLimited {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	WriteJSON(w, e.Code.HTTPStatus(), &ErrorEnvelope{
		Status:    string(contracts.TransactionError),
		Error:     body,
		RequestID: w.Header().Get(contracts.HeaderRequestID),
	})
}

// WriteTransactionResult writes the transact response. A nil err is a 200,
// which includes provider errors carried inside the envelope.
func WriteTransactionResult(w http.ResponseWriter, r *http.Request, res *contracts.TransactionResult, err error) {
	status := http.StatusOK
	if err != nil {
		e := contracts.AsError(err)
		status = e.Code.HTTPStatus()
		switch e.Code {
		case contracts.CodeInternalError:
			logInternal(r, w.Header().Get(contracts.HeaderRequestID), err)
		case contracts.CodeRateLimited:
			w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
		}
		if res == nil {
			WriteError(w, r, err)
			return
		}
	}
	WriteJSON(w, status, res)
}

// WriteBadRequest writes a 400 INVALID_REQUEST response.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	WriteError(w, r, contracts.NewError(contracts.CodeInvalidRequest, detail))
}

// WriteUnauthorized writes a 401 AUTHENTICATION_FAILED response.
func WriteUnauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "authentication required"
	}
	WriteError(w, r, contracts.NewError(contracts.CodeAuthenticationFailed, detail))
}

// WriteTooManyRequests writes a 429 response with Retry-After.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	WriteError(w, r, contracts.RateLimited(retryAfterSecs))
}

// WriteInternal writes a 500 response. err is logged, never exposed.
func WriteInternal(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, r, contracts.WrapError(contracts.CodeInternalError, "internal error", err))
}

func logInternal(r *http.Request, requestID string, err error) {
	attrs := []any{"error", err, "request_id", requestID}
	if r != nil {
		attrs = append(attrs, "method", r.Method, "path", r.URL.Path)
	}
	slog.Error("internal server error", attrs...)
}
