package whatsapp

import (
	"context"
	"encoding/json"

	"wahagate/pkg/whatsapp/types"
)

// SessionProber reads live session state from the WAHA sessions API
type SessionProber interface {
	Status(ctx context.Context, name string) (*types.SessionInfo, error)
}

// WebhookRouter dispatches event payloads to handlers registered by key
type WebhookRouter interface {
	Handle(ctx context.Context, key string, payload json.RawMessage) error
	Register(key string, handler func(context.Context, json.RawMessage) error)
	Has(key string) bool
}
