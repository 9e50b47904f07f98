package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"wahagate/internal/models"
	"wahagate/internal/service"
)

// CreateWAHAWebhook builds a provider envelope for eventType with the given payload
func CreateWAHAWebhook(eventID, eventType, session string, payload interface{}) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	body, err := json.Marshal(map[string]interface{}{
		"id":      eventID,
		"event":   eventType,
		"session": session,
		"payload": json.RawMessage(raw),
	})
	if err != nil {
		panic(err)
	}
	return body
}

// CreateMessageWebhook builds a text message envelope
func CreateMessageWebhook(eventID, session, from, text string) []byte {
	return CreateWAHAWebhook(eventID, "message", session, map[string]interface{}{
		"id":   "msg-" + eventID,
		"from": from,
		"body": text,
	})
}

// CreateSessionStatusWebhook builds a session.status envelope
func CreateSessionStatusWebhook(eventID, session, status string) []byte {
	return CreateWAHAWebhook(eventID, "session.status", session, map[string]string{
		"name":   session,
		"status": status,
	})
}

// recordingPipeline implements service.MessagePipeline, failing the first n publishes
type recordingPipeline struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	published []*models.InboundEvent
}

func (p *recordingPipeline) Publish(_ context.Context, evt *models.InboundEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failFirst {
		return io.ErrUnexpectedEOF
	}
	p.published = append(p.published, evt)
	return nil
}

func (p *recordingPipeline) FailNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failFirst = p.calls + n
}

func (p *recordingPipeline) Published() []*models.InboundEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.InboundEvent(nil), p.published...)
}

func (p *recordingPipeline) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// recordingAlerts implements service.AlertSink
type recordingAlerts struct {
	mu       sync.Mutex
	failures []service.PermanentFailure
}

func (a *recordingAlerts) Report(_ context.Context, f service.PermanentFailure) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = append(a.failures, f)
	return nil
}

func (a *recordingAlerts) Failures() []service.PermanentFailure {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]service.PermanentFailure(nil), a.failures...)
}

// ReceivedDelivery is one POST seen by a subscriber endpoint
type ReceivedDelivery struct {
	Header http.Header
	Body   []byte
}

// SubscriberEndpoint is an httptest subscriber answering with a scripted status sequence
type SubscriberEndpoint struct {
	mu       sync.Mutex
	statuses []int
	received []ReceivedDelivery
	server   *httptest.Server
}

func NewSubscriberEndpoint(t *testing.T, statuses ...int) *SubscriberEndpoint {
	t.Helper()
	s := &SubscriberEndpoint{statuses: statuses}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		s.mu.Lock()
		s.received = append(s.received, ReceivedDelivery{Header: r.Header.Clone(), Body: body})
		status := http.StatusOK
		if len(s.statuses) > 0 {
			status = s.statuses[0]
			s.statuses = s.statuses[1:]
		}
		s.mu.Unlock()

		w.WriteHeader(status)
	}))
	t.Cleanup(s.server.Close)
	return s
}

func (s *SubscriberEndpoint) URL() string {
	return s.server.URL + "/hook"
}

func (s *SubscriberEndpoint) Received() []ReceivedDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ReceivedDelivery(nil), s.received...)
}
