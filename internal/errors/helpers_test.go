package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("session_id", "", "must not be empty")

	assert.Equal(t, ErrCodeValidationFailed, err.Code)
	assert.Equal(t, "must not be empty", err.Message)
	assert.Equal(t, "Invalid session_id: must not be empty", err.UserMessage)
	assert.Equal(t, "session_id", err.Context["field"])
}

func TestNewInvalidPayloadError(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := NewInvalidPayloadError("malformed JSON", cause)

	assert.Equal(t, ErrCodeInvalidPayload, err.Code)
	assert.Equal(t, cause, err.Cause)
	assert.Equal(t, "malformed JSON", err.Context["reason"])
	assert.False(t, err.Retryable)
	assert.Equal(t, http.StatusBadRequest, HTTPStatusCode(err))
}

func TestNewDatabaseError(t *testing.T) {
	originalErr := errors.New("database is locked")
	err := NewDatabaseError("insert", originalErr)

	assert.Equal(t, ErrCodeDatabaseQuery, err.Code)
	assert.Equal(t, "database insert failed", err.Message)
	assert.True(t, err.Retryable)
	assert.Equal(t, "insert", err.Context["operation"])
}

func TestNewHandlerError(t *testing.T) {
	err := NewHandlerError("message", errors.New("broker unavailable"))

	assert.Equal(t, ErrCodeHandlerFailure, err.Code)
	assert.True(t, err.Retryable)
	assert.Equal(t, "message", err.Context["event_class"])
}

func TestNewPermanentFailureError(t *testing.T) {
	err := NewPermanentFailureError("inbound_event", 3, errors.New("handler failed"))

	assert.Equal(t, ErrCodePermanentFailure, err.Code)
	assert.False(t, err.Retryable)
	assert.Equal(t, 3, err.Context["attempts"])
}

func TestNewAPIError(t *testing.T) {
	tests := []struct {
		name         string
		service      string
		statusCode   int
		expectedCode ErrorCode
		retryable    bool
	}{
		{"subscriber 500", "subscriber", 500, ErrCodeSubscriberAPI, true},
		{"subscriber 400", "subscriber", 400, ErrCodeSubscriberAPI, false},
		{"subscriber transport failure", "subscriber", 0, ErrCodeSubscriberAPI, true},
		{"pipeline 503", "pipeline", 503, ErrCodePipeline, true},
		{"unknown service 429", "unknown", 429, ErrCodeInternalError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			originalErr := errors.New("call failed")
			err := NewAPIError(tt.service, "https://example.test/hook", tt.statusCode, originalErr)

			assert.Equal(t, tt.expectedCode, err.Code)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.statusCode, err.Context["status_code"])
			assert.Equal(t, originalErr, err.Cause)
		})
	}
}

func TestAPIError_RetryableStatusCodes(t *testing.T) {
	for _, code := range []int{500, 502, 503, 504, 429, 408} {
		t.Run(fmt.Sprintf("status_%d_should_be_retryable", code), func(t *testing.T) {
			err := NewAPIError("subscriber", "/hook", code, errors.New("api error"))
			assert.True(t, err.Retryable)
		})
	}
	for _, code := range []int{400, 401, 403, 404, 410, 422} {
		t.Run(fmt.Sprintf("status_%d_should_not_be_retryable", code), func(t *testing.T) {
			err := NewAPIError("subscriber", "/hook", code, errors.New("api error"))
			assert.False(t, err.Retryable)
		})
	}
}

func TestNewRateLimitError(t *testing.T) {
	err := NewRateLimitError("messages_per_minute", 60, "1m0s")

	assert.Equal(t, ErrCodeRateLimit, err.Code)
	assert.Equal(t, "messages_per_minute", err.Context["limit_type"])
	assert.Equal(t, 60, err.Context["limit"])
	assert.Equal(t, "1m0s", err.Context["window"])
}

func TestNewNotFoundAndConflict(t *testing.T) {
	nf := NewNotFoundError("session", "s-1")
	assert.Equal(t, "session not found", nf.Message)
	assert.Equal(t, http.StatusNotFound, HTTPStatusCode(nf))

	c := NewConflictError("event", "event is not in failed state")
	assert.Equal(t, http.StatusConflict, HTTPStatusCode(c))
}

func TestFromContext(t *testing.T) {
	assert.Nil(t, FromContext(nil)) //nolint:staticcheck
	assert.Empty(t, FromContext(context.Background()))

	ctx := WithOrgID(context.Background(), "org-1")
	ctx = WithSessionID(ctx, "default")
	ctx = context.WithValue(ctx, requestIDKey, "req_123")

	assert.Equal(t, map[string]interface{}{
		"request_id": "req_123",
		"org_id":     "org-1",
		"session_id": "default",
	}, FromContext(ctx))
}

func TestWithContextFromRequest(t *testing.T) {
	ctx := WithOrgID(context.Background(), "org-1")

	err := New(ErrCodeValidationFailed, "validation failed")
	result := WithContextFromRequest(err, ctx)

	assert.Same(t, err, result)
	assert.Equal(t, "org-1", err.Context["org_id"])
	assert.Nil(t, WithContextFromRequest(nil, ctx))
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedCode int
	}{
		{"validation error", New(ErrCodeValidationFailed, "validation failed"), 400},
		{"invalid payload", New(ErrCodeInvalidPayload, "bad json"), 400},
		{"duplicate", New(ErrCodeDuplicate, "already seen"), 200},
		{"authentication error", New(ErrCodeAuthentication, "auth failed"), 401},
		{"authorization error", New(ErrCodeAuthorization, "access denied"), 403},
		{"not found error", New(ErrCodeNotFound, "resource not found"), 404},
		{"conflict", New(ErrCodeConflict, "wrong state"), 409},
		{"timeout error", New(ErrCodeTimeout, "operation timed out"), 408},
		{"rate limit error", New(ErrCodeRateLimit, "rate limit exceeded"), 429},
		{"retryable subscriber error", WrapRetryable(errors.New("temp"), ErrCodeSubscriberAPI, "subscriber error"), 502},
		{"non-retryable subscriber error", New(ErrCodeSubscriberAPI, "subscriber error"), 500},
		{"database error", New(ErrCodeDatabaseConnection, "database connection failed"), 503},
		{"internal error", New(ErrCodeInternalError, "something went wrong"), 500},
		{"standard error", errors.New("standard error"), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedCode, HTTPStatusCode(tt.err))
		})
	}
}

func TestToHTTPResponse(t *testing.T) {
	t.Run("AppError with context filters secrets", func(t *testing.T) {
		err := New(ErrCodeValidationFailed, "validation failed").
			WithContext("field", "url").
			WithContext("secret", "s3cr3t").
			WithUserMessage("Please enter a valid url")

		response := ToHTTPResponse(err, "req_123")

		assert.Equal(t, ErrCodeValidationFailed, response.Error.Code)
		assert.Equal(t, "Please enter a valid url", response.Error.Message)
		assert.Equal(t, "req_123", response.RequestID)
		contextMap, ok := response.Error.Context.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "url", contextMap["field"])
		assert.NotContains(t, contextMap, "secret")
	})

	t.Run("standard error", func(t *testing.T) {
		response := ToHTTPResponse(errors.New("boom"), "req_456")

		assert.Equal(t, ErrCodeInternalError, response.Error.Code)
		assert.Equal(t, "An internal error occurred", response.Error.Message)
		assert.Nil(t, response.Error.Context)
	})
}
