package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"strings"

	"wahagate/internal/constants"
	"wahagate/internal/database"
	"wahagate/internal/errors"
	"wahagate/internal/models"
	"wahagate/internal/validation"

	"github.com/sirupsen/logrus"
)

// AdminStore is the slice of the datastore the admin API works against
type AdminStore interface {
	CreateOrganization(ctx context.Context, org *models.Organization) error
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, q database.Querier, orgID, sessionID string) (*models.Session, error)
	ListSessions(ctx context.Context, orgID string) ([]*models.Session, error)
	ArchiveSession(ctx context.Context, orgID, sessionID string) error
	CreateSubscription(ctx context.Context, s *models.WebhookSubscription) error
	ListEvents(ctx context.Context, orgID string, status models.ProcessingStatus, limit int) ([]*models.InboundEvent, error)
	ListDeliveries(ctx context.Context, orgID string, failedOnly bool, limit int) ([]*models.DeliveryAttempt, error)
}

var _ AdminStore = (*database.Database)(nil)

// SessionResetter applies a manual lifecycle event to a session
type SessionResetter interface {
	Apply(ctx context.Context, orgID, sessionID string, event models.SessionEvent) (*models.Session, error)
}

// EventReplayer re-queues a permanently failed inbound event
type EventReplayer interface {
	Replay(ctx context.Context, orgID, id string) error
}

// SubscriptionRequest is the body of a subscriber registration
type SubscriptionRequest struct {
	URL        string   `json:"url"`
	Secret     string   `json:"secret,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
	MaxRetries int      `json:"max_retries,omitempty"`
}

// SubscriptionRegistration echoes the signing secret once, at creation
type SubscriptionRegistration struct {
	*models.WebhookSubscription
	Secret string `json:"secret"`
}

// AdminService provisions tenants and exposes operator actions
type AdminService struct {
	store    AdminStore
	resetter SessionResetter
	replayer EventReplayer
	logger   *logrus.Logger
}

func NewAdminService(store AdminStore, resetter SessionResetter, replayer EventReplayer, logger *logrus.Logger) *AdminService {
	return &AdminService{store: store, resetter: resetter, replayer: replayer, logger: logger}
}

// CreateOrganization provisions a tenant. The name defaults to the id.
func (a *AdminService) CreateOrganization(ctx context.Context, id, name string) (*models.Organization, error) {
	if err := validation.ValidateOrgID(id); err != nil {
		return nil, err
	}
	if _, err := a.store.GetOrganization(ctx, id); err == nil {
		return nil, errors.NewConflictError("organization", "organization already exists").WithContext("org_id", id)
	} else if !stderrors.Is(err, database.ErrNotFound) {
		return nil, errors.NewDatabaseError("get organization", err)
	}

	if strings.TrimSpace(name) == "" {
		name = id
	}
	org := &models.Organization{ID: id, Name: name}
	if err := a.store.CreateOrganization(ctx, org); err != nil {
		return nil, errors.NewDatabaseError("create organization", err)
	}

	a.logger.WithField(LogFieldOrgID, id).Info("Organization provisioned")
	return org, nil
}

func (a *AdminService) requireOrganization(ctx context.Context, orgID string) error {
	_, err := a.store.GetOrganization(ctx, orgID)
	if stderrors.Is(err, database.ErrNotFound) {
		return errors.NewNotFoundError("organization", orgID)
	}
	if err != nil {
		return errors.NewDatabaseError("get organization", err)
	}
	return nil
}

// CreateSession provisions a channel session under an existing organization
func (a *AdminService) CreateSession(ctx context.Context, orgID, sessionID, channelConfigID string) (*models.Session, error) {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	if err := a.requireOrganization(ctx, orgID); err != nil {
		return nil, err
	}

	if _, err := a.store.GetSession(ctx, nil, orgID, sessionID); err == nil {
		return nil, errors.NewConflictError("session", "session already exists").
			WithContext("session_id", sessionID)
	} else if !stderrors.Is(err, database.ErrNotFound) {
		return nil, errors.NewDatabaseError("get session", err)
	}

	s := &models.Session{OrgID: orgID, SessionID: sessionID, ChannelConfigID: channelConfigID}
	if err := a.store.CreateSession(ctx, s); err != nil {
		return nil, errors.NewDatabaseError("create session", err)
	}

	a.logger.WithFields(logrus.Fields{LogFieldOrgID: orgID, LogFieldSession: sessionID}).Info("Session provisioned")
	return s, nil
}

// GetSession returns the session, archived or not
func (a *AdminService) GetSession(ctx context.Context, orgID, sessionID string) (*models.Session, error) {
	s, err := a.store.GetSession(ctx, nil, orgID, sessionID)
	if stderrors.Is(err, database.ErrNotFound) {
		return nil, errors.NewNotFoundError("session", sessionID)
	}
	if err != nil {
		return nil, errors.NewDatabaseError("get session", err)
	}
	return s, nil
}

func (a *AdminService) ListSessions(ctx context.Context, orgID string) ([]*models.Session, error) {
	if err := a.requireOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	sessions, err := a.store.ListSessions(ctx, orgID)
	if err != nil {
		return nil, errors.NewDatabaseError("list sessions", err)
	}
	return sessions, nil
}

// ArchiveSession soft-archives a session. Later webhooks for it are rejected.
func (a *AdminService) ArchiveSession(ctx context.Context, orgID, sessionID string) error {
	err := a.store.ArchiveSession(ctx, orgID, sessionID)
	if stderrors.Is(err, database.ErrNotFound) {
		return errors.NewNotFoundError("session", sessionID)
	}
	if err != nil {
		return errors.NewDatabaseError("archive session", err)
	}
	a.logger.WithFields(logrus.Fields{LogFieldOrgID: orgID, LogFieldSession: sessionID}).Info("Session archived")
	return nil
}

// ResetSession moves a session out of the error state
func (a *AdminService) ResetSession(ctx context.Context, orgID, sessionID string) (*models.Session, error) {
	return a.resetter.Apply(ctx, orgID, sessionID, models.SessionEventReset)
}

// ListEvents lists inbound events, newest first. An empty status lists all.
func (a *AdminService) ListEvents(ctx context.Context, orgID, status string, limit int) ([]*models.InboundEvent, error) {
	st := models.ProcessingStatus(status)
	if st != "" && !st.Valid() {
		return nil, errors.NewValidationError("status", status, "unknown processing status")
	}
	if err := a.requireOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	events, err := a.store.ListEvents(ctx, orgID, st, clampListLimit(limit))
	if err != nil {
		return nil, errors.NewDatabaseError("list events", err)
	}
	return events, nil
}

func (a *AdminService) ReplayEvent(ctx context.Context, orgID, id string) error {
	return a.replayer.Replay(ctx, orgID, id)
}

// RegisterSubscription stores an outbound subscriber. A secret is generated when none is given.
func (a *AdminService) RegisterSubscription(ctx context.Context, orgID string, req SubscriptionRequest) (*SubscriptionRegistration, error) {
	if err := validation.ValidateSubscriberURL(req.URL); err != nil {
		return nil, err
	}
	if len(req.EventTypes) > constants.MaxSubscriptionEventTypes {
		return nil, errors.NewValidationError("event_types", "", "too many event types")
	}
	for _, t := range req.EventTypes {
		if t == "*" {
			continue
		}
		if err := validation.ValidateEventType(t); err != nil {
			return nil, err
		}
	}
	if req.MaxRetries < 0 {
		return nil, errors.NewValidationError("max_retries", "", "max_retries cannot be negative")
	}
	if err := a.requireOrganization(ctx, orgID); err != nil {
		return nil, err
	}

	secret := req.Secret
	if secret == "" {
		generated, err := generateSecret()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to generate subscriber secret")
		}
		secret = generated
	}
	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = constants.DefaultMaxRetries
	}

	sub := &models.WebhookSubscription{
		OrgID:      orgID,
		URL:        req.URL,
		Secret:     secret,
		EventTypes: req.EventTypes,
		MaxRetries: maxRetries,
		IsActive:   true,
	}
	if err := a.store.CreateSubscription(ctx, sub); err != nil {
		return nil, errors.NewDatabaseError("create subscription", err)
	}

	a.logger.WithFields(logrus.Fields{
		LogFieldOrgID:     orgID,
		LogFieldWebhookID: sub.ID,
	}).Info("Webhook subscriber registered")
	return &SubscriptionRegistration{WebhookSubscription: sub, Secret: secret}, nil
}

// ListDeliveries lists delivery attempts. status is "" or "all", or "failed".
func (a *AdminService) ListDeliveries(ctx context.Context, orgID, status string, limit int) ([]*models.DeliveryAttempt, error) {
	var failedOnly bool
	switch status {
	case "", "all":
	case "failed":
		failedOnly = true
	default:
		return nil, errors.NewValidationError("status", status, "status must be all or failed")
	}
	if err := a.requireOrganization(ctx, orgID); err != nil {
		return nil, err
	}
	deliveries, err := a.store.ListDeliveries(ctx, orgID, failedOnly, clampListLimit(limit))
	if err != nil {
		return nil, errors.NewDatabaseError("list deliveries", err)
	}
	return deliveries, nil
}

func clampListLimit(limit int) int {
	if limit <= 0 {
		return constants.DefaultAdminListLimit
	}
	if limit > constants.MaxAdminListLimit {
		return constants.MaxAdminListLimit
	}
	return limit
}

func generateSecret() (string, error) {
	buf := make([]byte, constants.SubscriberSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
