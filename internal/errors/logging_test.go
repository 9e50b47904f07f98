package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := NewLogger()
	logger.SetOutput(&buf)
	logger.SetLevel(logrus.DebugLevel)
	return logger, &buf
}

func TestNewLogger(t *testing.T) {
	logger := NewLogger()

	require.NotNil(t, logger.Logger)
	_, ok := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok, "Logger should use JSON formatter")
}

func TestFromLogrus(t *testing.T) {
	base := logrus.New()
	assert.Same(t, base, FromLogrus(base).Logger)
	assert.NotNil(t, FromLogrus(nil).Logger)
}

func TestLogger_LogError(t *testing.T) {
	logger, buf := newBufferedLogger()

	tests := []struct {
		name             string
		err              error
		fields           []logrus.Fields
		expectedInOutput []string
	}{
		{
			name:   "AppError with context",
			err:    New(ErrCodeInvalidPayload, "invalid webhook payload").WithContext("reason", "missing session"),
			fields: []logrus.Fields{{"org_id": "org-1"}},
			expectedInOutput: []string{
				`"level":"error"`,
				`"error_code":"INVALID_PAYLOAD"`,
				`"retryable":false`,
				`"reason":"missing session"`,
				`"org_id":"org-1"`,
			},
		},
		{
			name: "wrapped AppError keeps its code",
			err:  fmt.Errorf("ingest: %w", NewHandlerError("message", errors.New("kafka down"))),
			expectedInOutput: []string{
				`"error_code":"HANDLER_FAILURE"`,
				`"retryable":true`,
				`"event_class":"message"`,
			},
		},
		{
			name:             "standard error",
			err:              errors.New("something went wrong"),
			expectedInOutput: []string{`"error":"something went wrong"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			logger.LogError(tt.err, "Operation failed", tt.fields...)

			output := buf.String()
			for _, expected := range tt.expectedInOutput {
				assert.Contains(t, output, expected)
			}
		})
	}
}

func TestLogger_LogRetryableError(t *testing.T) {
	logger, buf := newBufferedLogger()

	tests := []struct {
		name          string
		err           error
		expectedLevel string
	}{
		{"retryable error logs at warn level", NewDatabaseError("update", errors.New("locked")), "warning"},
		{"non-retryable error logs at error level", New(ErrCodeInvalidInput, "bad input"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			logger.LogRetryableError(tt.err, "Test message")
			assert.Contains(t, buf.String(), `"level":"`+tt.expectedLevel+`"`)
		})
	}
}

func TestLogger_WithError(t *testing.T) {
	logger, buf := newBufferedLogger()

	entry := logger.WithError(New(ErrCodeDatabaseQuery, "query failed").WithContext("table", "inbound_events"))
	entry.Info("Test message")

	output := buf.String()
	assert.Contains(t, output, `"error_code":"DATABASE_QUERY"`)
	assert.Contains(t, output, `"table":"inbound_events"`)
}

func TestLogger_StructuredLogging_Integration(t *testing.T) {
	logger, buf := newBufferedLogger()

	appErr := Wrap(errors.New("connection refused"), ErrCodeDatabaseConnection, "failed to connect to database").
		WithContext("driver", "postgres").
		WithContext("port", 5432)

	logger.LogError(appErr, "Database connection failed during startup", logrus.Fields{
		"retry_attempt": 3,
	})

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))

	assert.Equal(t, "error", logEntry["level"])
	assert.Equal(t, "DATABASE_CONNECTION", logEntry["error_code"])
	assert.Equal(t, "postgres", logEntry["driver"])
	assert.Equal(t, float64(5432), logEntry["port"])
	assert.Equal(t, float64(3), logEntry["retry_attempt"])
	assert.Contains(t, logEntry["error"].(string), "connection refused")
}

func TestLogger_NilError_Handling(t *testing.T) {
	logger, buf := newBufferedLogger()

	logger.LogError(nil, "Something happened without an error")

	output := buf.String()
	assert.Contains(t, output, `"level":"error"`)
	assert.NotContains(t, output, `"error_code"`)
}
