package whatsapp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"wahagate/pkg/whatsapp/types"
)

// ErrNoHandler is returned by Handle when nothing is registered for a key
var ErrNoHandler = errors.New("no handler registered")

// ParseEnvelope decodes and structurally validates a WAHA webhook body
func ParseEnvelope(body []byte) (*types.Envelope, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	var env types.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}

	env.Event = strings.TrimSpace(env.Event)
	if env.Event == "" {
		return nil, fmt.Errorf("missing event")
	}
	if strings.TrimSpace(env.Session) == "" {
		return nil, fmt.Errorf("missing session")
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil, fmt.Errorf("missing payload")
	}
	if env.Payload[0] != '{' {
		return nil, fmt.Errorf("payload must be an object")
	}

	return &env, nil
}

// Header extracts the common payload fields; unknown shapes yield a zero header
func Header(env *types.Envelope) types.PayloadHeader {
	var h types.PayloadHeader
	_ = json.Unmarshal(env.Payload, &h)
	return h
}

// EventID returns the provider identifier for an event: the envelope id, then
// payload.id, then a digest of the raw body so redeliveries still collide.
//
// Only message events own their payload.id. Acks, reactions, edits and
// revokes carry the id of the message they refer to, so their key is scoped
// by event type and a digest of the payload.
func EventID(env *types.Envelope, body []byte) string {
	if id := strings.TrimSpace(env.ID); id != "" {
		return id
	}
	if id := strings.TrimSpace(Header(env).ID); id != "" {
		if env.Event == types.EventMessage {
			return id
		}
		sum := sha256.Sum256(env.Payload)
		return env.Event + ":" + id + ":" + hex.EncodeToString(sum[:8])
	}
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// SessionStatus extracts the status of a session.status event
func SessionStatus(env *types.Envelope) (string, error) {
	var p types.SessionStatusPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return "", fmt.Errorf("failed to unmarshal session status payload: %w", err)
	}
	if p.Status == "" {
		return "", fmt.Errorf("session status payload has no status")
	}
	return strings.ToUpper(p.Status), nil
}

type webhookRouter struct {
	handlers map[string]func(context.Context, json.RawMessage) error
	mu       sync.RWMutex
}

// NewWebhookRouter creates an empty router
func NewWebhookRouter() WebhookRouter {
	return &webhookRouter{
		handlers: make(map[string]func(context.Context, json.RawMessage) error),
	}
}

func (wr *webhookRouter) Handle(ctx context.Context, key string, payload json.RawMessage) error {
	wr.mu.RLock()
	handler, exists := wr.handlers[key]
	wr.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w for %s", ErrNoHandler, key)
	}

	return handler(ctx, payload)
}

func (wr *webhookRouter) Register(key string, handler func(context.Context, json.RawMessage) error) {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	wr.handlers[key] = handler
}

func (wr *webhookRouter) Has(key string) bool {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	_, ok := wr.handlers[key]
	return ok
}
