package service

import (
	"context"

	"wahagate/internal/privacy"

	"github.com/sirupsen/logrus"
)

// ContextKey is a package-local type to prevent context key collisions
// See staticcheck SA1029 guidance
type ContextKey string

// VerboseContextKey is the strongly-typed context key for verbose logging flag
const VerboseContextKey ContextKey = "verbose"

// IsVerboseLogging checks if verbose logging is enabled from context
func IsVerboseLogging(ctx context.Context) bool {
	if verbose, ok := ctx.Value(VerboseContextKey).(bool); ok {
		return verbose
	}
	return false
}

// eventFields builds the standard field set for an inbound event. Identifiers
// are masked unless verbose logging is on.
func eventFields(ctx context.Context, orgID, sessionID, eventID string) logrus.Fields {
	if IsVerboseLogging(ctx) {
		return logrus.Fields{
			LogFieldOrgID:   orgID,
			LogFieldSession: sessionID,
			LogFieldEventID: eventID,
		}
	}
	return logrus.Fields{
		LogFieldOrgID:   orgID,
		LogFieldSession: privacy.MaskSessionName(sessionID),
		LogFieldEventID: privacy.MaskEventID(eventID),
	}
}

// LogWithContext creates a logger entry carrying the verbose flag
func LogWithContext(ctx context.Context, logger *logrus.Logger) *logrus.Entry {
	return logger.WithField("verbose", IsVerboseLogging(ctx))
}
