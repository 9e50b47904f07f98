package service

import (
	"context"
	"sync"
	"time"

	"wahagate/internal/constants"
	"wahagate/internal/database"
	"wahagate/internal/errors"
	"wahagate/internal/metrics"
	"wahagate/internal/models"

	"github.com/sirupsen/logrus"
)

// DefaultRateLimitRules are used when the configuration names none
func DefaultRateLimitRules() []models.RateLimitRule {
	return []models.RateLimitRule{
		{LimitType: constants.LimitTypeMessagesPerMinute, Threshold: constants.DefaultMessagesPerMinute, WindowSeconds: 60},
		{LimitType: constants.LimitTypeMessagesPerHour, Threshold: constants.DefaultMessagesPerHour, WindowSeconds: 3600},
		{LimitType: constants.LimitTypeMediaPerMinute, Threshold: constants.DefaultMediaPerMinute, WindowSeconds: 60, MediaOnly: true},
	}
}

// RateLimiter enforces fixed-window counters persisted per (org, session, limit type)
type RateLimiter struct {
	store  WindowStore
	logger *logrus.Logger

	mu       sync.RWMutex
	defaults []models.RateLimitRule
	sessions map[string][]models.RateLimitRule
}

func NewRateLimiter(store WindowStore, cfg models.RateLimitConfig, logger *logrus.Logger) *RateLimiter {
	r := &RateLimiter{store: store, logger: logger}
	r.UpdateRules(cfg)
	return r
}

// UpdateRules swaps the rule set. Windows already open keep their threshold until they roll over.
func (r *RateLimiter) UpdateRules(cfg models.RateLimitConfig) {
	defaults := cfg.Defaults
	if len(defaults) == 0 {
		defaults = DefaultRateLimitRules()
	}
	sessions := make(map[string][]models.RateLimitRule, len(cfg.Sessions))
	for k, v := range cfg.Sessions {
		sessions[k] = append([]models.RateLimitRule(nil), v...)
	}

	r.mu.Lock()
	r.defaults = append([]models.RateLimitRule(nil), defaults...)
	r.sessions = sessions
	r.mu.Unlock()
}

// Rules returns the rules that apply to a session. Overrides are looked up by
// "org/session" first, then by bare session ID, and replace defaults of the
// same limit type. Media-only rules are dropped for non-media events.
func (r *RateLimiter) Rules(orgID, sessionID string, hasMedia bool) []models.RateLimitRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	overrides, ok := r.sessions[orgID+"/"+sessionID]
	if !ok {
		overrides = r.sessions[sessionID]
	}

	merged := make([]models.RateLimitRule, 0, len(r.defaults)+len(overrides))
	index := make(map[string]int, len(r.defaults))
	for _, rule := range r.defaults {
		index[rule.LimitType] = len(merged)
		merged = append(merged, rule)
	}
	for _, rule := range overrides {
		if i, exists := index[rule.LimitType]; exists {
			merged[i] = rule
			continue
		}
		index[rule.LimitType] = len(merged)
		merged = append(merged, rule)
	}

	out := merged[:0]
	for _, rule := range merged {
		if rule.MediaOnly && !hasMedia {
			continue
		}
		out = append(out, rule)
	}
	return out
}

// Allow counts one event against a single rule. A denied call does not increment.
func (r *RateLimiter) Allow(ctx context.Context, q database.Querier, orgID, sessionID string, rule models.RateLimitRule, now time.Time) (models.Decision, error) {
	d, _, err := r.allow(ctx, q, orgID, sessionID, rule, now)
	return d, err
}

func (r *RateLimiter) allow(ctx context.Context, q database.Querier, orgID, sessionID string, rule models.RateLimitRule, now time.Time) (models.Decision, *models.RateLimitWindow, error) {
	if err := r.store.EnsureWindow(ctx, q, orgID, sessionID, rule, now); err != nil {
		return models.Decision{}, nil, errors.NewDatabaseError("open rate limit window", err)
	}
	if _, err := r.store.RollWindow(ctx, q, orgID, sessionID, rule, now); err != nil {
		return models.Decision{}, nil, errors.NewDatabaseError("roll rate limit window", err)
	}

	w, ok, err := r.store.IncrementWindow(ctx, q, orgID, sessionID, rule.LimitType)
	if err != nil {
		return models.Decision{}, nil, errors.NewDatabaseError("increment rate limit window", err)
	}
	if ok {
		return models.Decision{
			LimitType: rule.LimitType,
			Allowed:   true,
			Remaining: w.ThresholdCount - w.CurrentCount,
			ResetAt:   w.ResetAt(),
		}, w, nil
	}

	w, err = r.store.MarkWindowExceeded(ctx, q, orgID, sessionID, rule.LimitType)
	if err != nil {
		return models.Decision{}, nil, errors.NewDatabaseError("mark rate limit window", err)
	}

	metrics.IncrementCounter("rate_limit_denials_total", map[string]string{
		"limit_type": rule.LimitType,
	}, "Events denied by a rate limit window")

	return models.Decision{
		LimitType: rule.LimitType,
		Allowed:   false,
		Remaining: 0,
		ResetAt:   w.ResetAt(),
	}, w, nil
}

// AllowAll checks every applicable rule. On the first denial the increments
// already made by earlier rules are undone so a denied event inflates no
// counter. When all allow, the tightest rule is reported.
func (r *RateLimiter) AllowAll(ctx context.Context, q database.Querier, orgID, sessionID string, hasMedia bool, now time.Time) (models.Decision, error) {
	rules := r.Rules(orgID, sessionID, hasMedia)
	if len(rules) == 0 {
		return models.Decision{Allowed: true}, nil
	}

	granted := make([]*models.RateLimitWindow, 0, len(rules))
	var tightest models.Decision
	for i, rule := range rules {
		d, w, err := r.allow(ctx, q, orgID, sessionID, rule, now)
		if err != nil {
			return models.Decision{}, err
		}

		if !d.Allowed {
			for _, g := range granted {
				if err := r.store.DecrementWindow(ctx, q, orgID, sessionID, g.LimitType, g.WindowStart); err != nil {
					return models.Decision{}, errors.NewDatabaseError("compensate rate limit window", err)
				}
			}
			r.logger.WithFields(logrus.Fields{
				LogFieldOrgID:     orgID,
				LogFieldSession:   sessionID,
				LogFieldLimitType: d.LimitType,
				LogFieldResetAt:   d.ResetAt,
			}).Warn("Rate limit exceeded")
			return d, nil
		}

		granted = append(granted, w)
		if i == 0 || d.Remaining < tightest.Remaining {
			tightest = d
		}
	}
	return tightest, nil
}
