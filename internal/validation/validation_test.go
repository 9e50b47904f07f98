package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"wahagate/internal/errors"
	"wahagate/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "default", false},
		{"with dash and dot", "sess-A.primary", false},
		{"empty", "", true},
		{"spaces", "sess A", true},
		{"slash", "sess/A", true},
		{"too long", strings.Repeat("a", 65), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionID(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateOrgID(t *testing.T) {
	assert.NoError(t, ValidateOrgID("acme_01"))
	assert.Error(t, ValidateOrgID(""))
}

func TestValidateEventID(t *testing.T) {
	assert.NoError(t, ValidateEventID("true_123@c.us_ABC"))
	assert.Error(t, ValidateEventID(""))
	assert.Error(t, ValidateEventID("evt\n001"))
	assert.Error(t, ValidateEventID(strings.Repeat("x", 257)))
}

func TestValidateEventType(t *testing.T) {
	assert.NoError(t, ValidateEventType("message"))
	assert.Error(t, ValidateEventType(""))
	assert.Error(t, ValidateEventType(strings.Repeat("e", 129)))
}

func TestValidateSubscriberURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://hooks.example.com/wa", false},
		{"http://localhost:9000/hook", false},
		{"", true},
		{"ftp://example.com", true},
		{"/relative/path", true},
		{"://bad", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if tt.wantErr {
				assert.Error(t, ValidateSubscriberURL(tt.url))
			} else {
				assert.NoError(t, ValidateSubscriberURL(tt.url))
			}
		})
	}
}

func TestValidateRateLimitRule(t *testing.T) {
	assert.NoError(t, ValidateRateLimitRule(models.RateLimitRule{LimitType: "messages_per_minute", Threshold: 5, WindowSeconds: 60}))
	assert.Error(t, ValidateRateLimitRule(models.RateLimitRule{Threshold: 5, WindowSeconds: 60}))
	assert.Error(t, ValidateRateLimitRule(models.RateLimitRule{LimitType: "x", Threshold: 0, WindowSeconds: 60}))
	assert.Error(t, ValidateRateLimitRule(models.RateLimitRule{LimitType: "x", Threshold: 1, WindowSeconds: 0}))
}

func TestValidateHTTPRequestSize(t *testing.T) {
	req := httptest.NewRequest("POST", "/webhook", strings.NewReader("12345"))
	assert.NoError(t, ValidateHTTPRequestSize(req, 10))
	assert.Error(t, ValidateHTTPRequestSize(req, 4))
}

func TestValidateNumericRangeAndTimeouts(t *testing.T) {
	assert.NoError(t, ValidateNumericRange(5, "n", 1, 10))
	assert.Error(t, ValidateNumericRange(0, "n", 1, 10))
	assert.Error(t, ValidateNumericRange(11, "n", 1, 10))

	assert.NoError(t, ValidateTimeout(30, "timeout"))
	assert.Error(t, ValidateTimeout(0, "timeout"))
	assert.Error(t, ValidateTimeout(3601, "timeout"))

	assert.NoError(t, ValidateRetentionDays(30))
	assert.Error(t, ValidateRetentionDays(0))
	assert.Error(t, ValidateRetentionDays(4000))
}
