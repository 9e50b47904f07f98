package service

import (
	"context"
	"sync"
	"time"

	"wahagate/internal/models"
	"wahagate/pkg/whatsapp/types"

	"github.com/stretchr/testify/mock"
)

type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) Publish(ctx context.Context, evt *models.InboundEvent) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

type mockAlertSink struct {
	mock.Mock
}

func (m *mockAlertSink) Report(ctx context.Context, failure PermanentFailure) error {
	args := m.Called(ctx, failure)
	return args.Error(0)
}

type mockSessionProber struct {
	mock.Mock
}

func (m *mockSessionProber) Status(ctx context.Context, name string) (*types.SessionInfo, error) {
	args := m.Called(ctx, name)
	if info := args.Get(0); info != nil {
		return info.(*types.SessionInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockDeliveryProcessor struct {
	mock.Mock
}

func (m *mockDeliveryProcessor) ProcessDue(ctx context.Context, now time.Time, limit int) (int, error) {
	args := m.Called(ctx, now, limit)
	return args.Int(0), args.Error(1)
}

// recordingPublisher keeps every published session change
type recordingPublisher struct {
	mu      sync.Mutex
	changes []models.SessionChange
}

func (p *recordingPublisher) Publish(change models.SessionChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, change)
}

func (p *recordingPublisher) Changes() []models.SessionChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.SessionChange(nil), p.changes...)
}
