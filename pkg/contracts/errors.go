package contracts

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error identifier returned to clients.
type Code string

const (
	CodeAuthenticationFailed   Code = "AUTHENTICATION_FAILED"
	CodeInvalidSignature       Code = "INVALID_SIGNATURE"
	CodeAgentNotFound          Code = "AGENT_NOT_FOUND"
	CodeServiceNotFound        Code = "SERVICE_NOT_FOUND"
	CodeRateLimited            Code = "RATE_LIMITED"
	CodeApprovalRequired       Code = "APPROVAL_REQUIRED"
	CodeApprovalDenied         Code = "APPROVAL_DENIED"
	CodeApprovalNotFound       Code = "APPROVAL_NOT_FOUND"
	CodeApprovalAlreadyDecided Code = "APPROVAL_ALREADY_DECIDED"
	CodeApprovalExpired        Code = "APPROVAL_EXPIRED"
	CodeDuplicateApprovalID    Code = "DUPLICATE_APPROVAL_ID"
	CodeProviderUnreachable    Code = "PROVIDER_UNREACHABLE"
	CodeProviderTimeout        Code = "PROVIDER_TIMEOUT"
	CodeProviderError          Code = "PROVIDER_ERROR"
	CodeSerializationError     Code = "SERIALIZATION_ERROR"
	CodeInvalidRequest         Code = "INVALID_REQUEST"
	CodeTransactionNotFound    Code = "TRANSACTION_NOT_FOUND"
	CodeInternalError          Code = "INTERNAL_ERROR"
)

var httpStatus = map[Code]int{
	CodeAuthenticationFailed:   http.StatusUnauthorized,
	CodeInvalidSignature:       http.StatusUnauthorized,
	CodeAgentNotFound:          http.StatusNotFound,
	CodeServiceNotFound:        http.StatusNotFound,
	CodeRateLimited:            http.StatusTooManyRequests,
	CodeApprovalRequired:       http.StatusConflict,
	CodeApprovalDenied:         http.StatusConflict,
	CodeApprovalNotFound:       http.StatusNotFound,
	CodeApprovalAlreadyDecided: http.StatusConflict,
	CodeApprovalExpired:        http.StatusConflict,
	CodeDuplicateApprovalID:    http.StatusConflict,
	CodeProviderUnreachable:    http.StatusBadGateway,
	CodeProviderTimeout:        http.StatusGatewayTimeout,
	CodeProviderError:          http.StatusOK,
	CodeSerializationError:     http.StatusBadRequest,
	CodeInvalidRequest:         http.StatusBadRequest,
	CodeTransactionNotFound:    http.StatusNotFound,
	CodeInternalError:          http.StatusInternalServerError,
}

// HTTPStatus maps a code to its response status. Unknown codes map to 500.
func (c Code) HTTPStatus() int {
	if s, ok := httpStatus[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is the single error type crossing package boundaries in the router.
// Message is safe to return to clients; Err is kept for logs only.
type Error struct {
	Code       Code
	Message    string
	RetryAfter int // seconds, RATE_LIMITED only
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Body renders the client-facing error payload.
func (e *Error) Body() *ErrorBody {
	return &ErrorBody{Code: e.Code, Message: e.Message, RetryAfter: e.RetryAfter}
}

// Sentinels for errors.Is checks.
var (
	ErrAuthenticationFailed   = &Error{Code: CodeAuthenticationFailed, Message: "authentication failed"}
	ErrInvalidSignature       = &Error{Code: CodeInvalidSignature, Message: "signature verification failed"}
	ErrAgentNotFound          = &Error{Code: CodeAgentNotFound, Message: "agent not found"}
	ErrServiceNotFound        = &Error{Code: CodeServiceNotFound, Message: "service not found"}
	ErrRateLimited            = &Error{Code: CodeRateLimited, Message: "rate limit exceeded"}
	ErrApprovalRequired       = &Error{Code: CodeApprovalRequired, Message: "approval is pending"}
	ErrApprovalDenied         = &Error{Code: CodeApprovalDenied, Message: "approval was denied"}
	ErrApprovalNotFound       = &Error{Code: CodeApprovalNotFound, Message: "approval not found"}
	ErrApprovalAlreadyDecided = &Error{Code: CodeApprovalAlreadyDecided, Message: "approval already decided"}
	ErrApprovalExpired        = &Error{Code: CodeApprovalExpired, Message: "approval expired"}
	ErrDuplicateApprovalID    = &Error{Code: CodeDuplicateApprovalID, Message: "approval id already exists"}
	ErrProviderUnreachable    = &Error{Code: CodeProviderUnreachable, Message: "provider unreachable"}
	ErrProviderTimeout        = &Error{Code: CodeProviderTimeout, Message: "provider timed out"}
	ErrProviderError          = &Error{Code: CodeProviderError, Message: "provider returned an error"}
	ErrSerialization          = &Error{Code: CodeSerializationError, Message: "request could not be serialized"}
	ErrInvalidRequest         = &Error{Code: CodeInvalidRequest, Message: "invalid request"}
	ErrTransactionNotFound    = &Error{Code: CodeTransactionNotFound, Message: "transaction not found"}
	ErrInternal               = &Error{Code: CodeInternalError, Message: "internal error"}
)

// NewError builds an *Error with a client-facing message.
func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// WrapError attaches an internal cause to a coded error.
func WrapError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// RateLimited builds a RATE_LIMITED error carrying the retry hint.
func RateLimited(retryAfter int) *Error {
	if retryAfter < 1 {
		retryAfter = 1
	}
	return &Error{
		Code:       CodeRateLimited,
		Message:    fmt.Sprintf("rate limit exceeded, retry after %ds", retryAfter),
		RetryAfter: retryAfter,
	}
}

// AsError extracts the coded error from err, or wraps it as INTERNAL_ERROR.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return WrapError(CodeInternalError, "internal error", err)
}
