package service

import (
	"wahagate/internal/models"
	"wahagate/pkg/whatsapp/types"
)

// Classify maps a WAHA event type to the class of handler that owns it
func Classify(eventType string) models.EventClass {
	switch eventType {
	case types.EventMessage, types.EventMessageAny, types.EventMessageReaction,
		types.EventMessageEdited, types.EventMessageRevoked:
		return models.EventClassMessage
	case types.EventMessageAck:
		return models.EventClassStatusUpdate
	case types.EventSessionStatus:
		return models.EventClassSessionLifecycle
	}
	if types.IsBusinessEvent(eventType) {
		return models.EventClassBusinessProfile
	}
	return models.EventClassUnknown
}
