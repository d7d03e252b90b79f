package contracts

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeAuthenticationFailed, http.StatusUnauthorized},
		{CodeInvalidSignature, http.StatusUnauthorized},
		{CodeAgentNotFound, http.StatusNotFound},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeApprovalRequired, http.StatusConflict},
		{CodeProviderUnreachable, http.StatusBadGateway},
		{CodeProviderTimeout, http.StatusGatewayTimeout},
		{CodeProviderError, http.StatusOK},
		{CodeInvalidRequest, http.StatusBadRequest},
		{Code("SOMETHING_NEW"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NewError(CodeAgentNotFound, "agent bob not found"))
	assert.ErrorIs(t, err, ErrAgentNotFound)
	assert.NotErrorIs(t, err, ErrServiceNotFound)
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapError(CodeProviderUnreachable, "provider unreachable", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrProviderUnreachable)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, "provider unreachable", err.Body().Message)
}

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil))

	coded := RateLimited(7)
	assert.Same(t, coded, AsError(fmt.Errorf("wrapped: %w", coded)))

	plain := AsError(errors.New("disk full"))
	require.NotNil(t, plain)
	assert.Equal(t, CodeInternalError, plain.Code)
	assert.Equal(t, "internal error", plain.Message)
}

func TestRateLimitedClampsRetryAfter(t *testing.T) {
	assert.Equal(t, 1, RateLimited(0).RetryAfter)
	body := RateLimited(42).Body()
	assert.Equal(t, 42, body.RetryAfter)
	assert.Equal(t, CodeRateLimited, body.Code)
}

func TestApprovalStatus(t *testing.T) {
	assert.False(t, ApprovalPending.Terminal())
	for _, s := range []ApprovalStatus{ApprovalApproved, ApprovalRejected, ApprovalExpired} {
		assert.True(t, s.Terminal(), s)
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, ApprovalStatus("maybe").Valid())
}

func TestSignedFieldsDefaultsPayload(t *testing.T) {
	req := &TransactionRequest{ConsumerAgentID: "alice", ServiceID: "greet", ApprovalID: "apr_1"}
	signed := req.Signed()
	assert.NotNil(t, signed.Payload)
	assert.Empty(t, signed.TransactionID)
}

func TestEntriesActiveByDefault(t *testing.T) {
	assert.True(t, (&Agent{}).IsActive())
	assert.False(t, (&Agent{Status: AgentInactive}).IsActive())
	assert.True(t, (&Service{Status: AgentActive}).IsActive())
	assert.False(t, (&Service{Status: AgentInactive}).IsActive())
}
