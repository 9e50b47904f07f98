package integration_test

import (
	"wahagate/internal/models"
	"wahagate/internal/service"
)

// TestFixtures provides the organizations, configurations and webhook
// scenarios shared by the integration tests
type TestFixtures struct{}

func NewTestFixtures() *TestFixtures {
	return &TestFixtures{}
}

// OrganizationFixture is an organization and the sessions it owns
type OrganizationFixture struct {
	models.Organization
	Sessions []string
}

func (f *TestFixtures) Organizations() []OrganizationFixture {
	return []OrganizationFixture{
		{
			Organization: models.Organization{ID: "acme", Name: "Acme Support"},
			Sessions:     []string{"sales", "support"},
		},
		{
			Organization: models.Organization{ID: "globex", Name: "Globex"},
			Sessions:     []string{"default"},
		},
	}
}

// Configurations returns fresh copies; tests mutate them freely
func (f *TestFixtures) Configurations() map[string]*models.Config {
	return map[string]*models.Config{
		"default": {
			Webhook: models.WebhookConfig{
				ProcessingTimeoutSec: 2,
				RateLimitPolicy:      service.PolicyReject,
			},
			RateLimits: models.RateLimitConfig{
				Defaults: []models.RateLimitRule{
					{LimitType: "messages_per_minute", Threshold: 1000, WindowSeconds: 60},
				},
			},
			Retry: models.RetryConfig{
				BaseDelayMs: 1,
				MaxDelayMs:  5,
				MaxRetries:  3,
				BatchSize:   50,
			},
			Sessions: models.SessionConfig{
				ConsecutiveErrorLimit: 3,
				CriticalErrorCount:    5,
			},
			Dispatch: models.DispatchConfig{
				TimeoutSec: 2,
				RatePerSec: 1000,
				Burst:      100,
				// high enough that retry tests never trip the breaker
				BreakerMaxFailures:     50,
				BreakerResetTimeoutSec: 1,
			},
		},
		"tight_limits": {
			Webhook: models.WebhookConfig{
				ProcessingTimeoutSec: 2,
				RateLimitPolicy:      service.PolicyQueue,
			},
			RateLimits: models.RateLimitConfig{
				Defaults: []models.RateLimitRule{
					{LimitType: "messages_per_window", Threshold: 2, WindowSeconds: 1},
				},
				Sessions: map[string][]models.RateLimitRule{
					"acme/support": {{LimitType: "messages_per_window", Threshold: 1, WindowSeconds: 1}},
				},
			},
			Retry: models.RetryConfig{BaseDelayMs: 1, MaxDelayMs: 5, MaxRetries: 3, BatchSize: 50},
		},
	}
}

// WebhookScenario is one provider delivery and what the gateway should make of it
type WebhookScenario struct {
	OrgID          string
	EventID        string
	Body           []byte
	ExpectedClass  models.EventClass
	ExpectedStatus models.ProcessingStatus
	Published      bool
}

func (f *TestFixtures) Scenarios() map[string]WebhookScenario {
	return map[string]WebhookScenario{
		"text_message": {
			OrgID:          "acme",
			EventID:        "evt-text-1",
			Body:           CreateMessageWebhook("evt-text-1", "sales", "15551230000@c.us", "Hello there"),
			ExpectedClass:  models.EventClassMessage,
			ExpectedStatus: models.StatusCompleted,
			Published:      true,
		},
		"group_message": {
			OrgID:   "acme",
			EventID: "evt-group-1",
			Body: CreateWAHAWebhook("evt-group-1", "message", "support", map[string]interface{}{
				"id":          "msg-group-1",
				"from":        "120363025246125888@g.us",
				"participant": "15551230000@c.us",
				"body":        "Group hello",
			}),
			ExpectedClass:  models.EventClassMessage,
			ExpectedStatus: models.StatusCompleted,
			Published:      true,
		},
		"message_ack": {
			OrgID:   "globex",
			EventID: "evt-ack-1",
			Body: CreateWAHAWebhook("evt-ack-1", "message.ack", "default", map[string]interface{}{
				"id":  "msg-text-1",
				"ack": 3,
			}),
			ExpectedClass:  models.EventClassStatusUpdate,
			ExpectedStatus: models.StatusCompleted,
			Published:      true,
		},
		"session_status": {
			OrgID:          "globex",
			EventID:        "evt-status-1",
			Body:           CreateSessionStatusWebhook("evt-status-1", "default", "WORKING"),
			ExpectedClass:  models.EventClassSessionLifecycle,
			ExpectedStatus: models.StatusCompleted,
		},
		"unknown_event": {
			OrgID:          "acme",
			EventID:        "evt-poll-1",
			Body:           CreateWAHAWebhook("evt-poll-1", "poll.vote", "sales", map[string]string{"poll": "p-1"}),
			ExpectedClass:  models.EventClassUnknown,
			ExpectedStatus: models.StatusCompleted,
		},
	}
}
