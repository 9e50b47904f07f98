package validation

import (
	"fmt"
	"net/http"
	"net/url"
	"unicode"

	"wahagate/internal/constants"
	"wahagate/internal/errors"
	"wahagate/internal/models"
)

// validateIdentifier checks an identifier is non-empty, bounded and limited to [A-Za-z0-9_-.]
func validateIdentifier(value, fieldName string, maxLength int) error {
	if value == "" {
		return errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("%s cannot be empty", fieldName))
	}

	if len(value) > maxLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too long (max %d characters)", fieldName, maxLength))
	}

	for _, char := range value {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '-' && char != '.' {
			return errors.New(errors.ErrCodeInvalidInput,
				fmt.Sprintf("%s must contain only letters, numbers, dots, underscores, and dashes", fieldName))
		}
	}

	return nil
}

// ValidateOrgID validates an organization identifier
func ValidateOrgID(orgID string) error {
	return validateIdentifier(orgID, "organization id", constants.MaxOrgIDLength)
}

// ValidateSessionID validates a session name
func ValidateSessionID(sessionID string) error {
	return validateIdentifier(sessionID, "session id", constants.MaxSessionIDLength)
}

// ValidateEventID validates a provider event ID format and length
func ValidateEventID(eventID string) error {
	if eventID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "event ID cannot be empty")
	}

	if len(eventID) > constants.MaxEventIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("event ID too long (max %d characters)", constants.MaxEventIDLength))
	}

	for _, char := range eventID {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' {
			return errors.New(errors.ErrCodeInvalidInput, "event ID contains invalid characters")
		}
	}

	return nil
}

// ValidateEventType validates the provider event name
func ValidateEventType(eventType string) error {
	if eventType == "" {
		return errors.New(errors.ErrCodeInvalidInput, "event type cannot be empty")
	}
	if len(eventType) > constants.MaxEventTypeLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("event type too long (max %d characters)", constants.MaxEventTypeLength))
	}
	return nil
}

// ValidateSubscriberURL requires an absolute http(s) URL
func ValidateSubscriberURL(raw string) error {
	if raw == "" {
		return errors.New(errors.ErrCodeInvalidInput, "subscriber url cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "subscriber url is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New(errors.ErrCodeInvalidInput, "subscriber url must use http or https")
	}
	if u.Host == "" {
		return errors.New(errors.ErrCodeInvalidInput, "subscriber url must include a host")
	}
	return nil
}

// ValidateRateLimitRule validates a configured rate limit rule
func ValidateRateLimitRule(rule models.RateLimitRule) error {
	if rule.LimitType == "" {
		return errors.New(errors.ErrCodeInvalidInput, "rate limit type cannot be empty")
	}
	if err := ValidateNumericRange(rule.Threshold, rule.LimitType+" threshold", 1, 1_000_000); err != nil {
		return err
	}
	return ValidateNumericRange(rule.WindowSeconds, rule.LimitType+" window_seconds", 1, 7*24*3600)
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}

	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}

// ValidateRetentionDays validates data retention period
func ValidateRetentionDays(days int) error {
	if days < 1 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days must be at least 1")
	}

	if days > 3650 {
		return errors.New(errors.ErrCodeInvalidInput, "retention days too large (max 3650)")
	}

	return nil
}
