package retry

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"wahagate/internal/constants"
)

// jitterFraction bounds the upward jitter added to an uncapped delay
const jitterFraction = 0.25

// BackoffConfig contains configuration for exponential backoff
type BackoffConfig struct {
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
	MaxAttempts  int           `json:"max_attempts"`
	Jitter       bool          `json:"jitter"`
}

// DefaultBackoffConfig returns the retry policy used for failed events and deliveries
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Duration(constants.DefaultRetryBaseDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(constants.DefaultRetryMaxDelayMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultMaxRetries,
		Jitter:       true,
	}
}

// Backoff implements exponential backoff with optional jitter
type Backoff struct {
	config BackoffConfig
}

// NewBackoff creates a new exponential backoff instance
func NewBackoff(config BackoffConfig) *Backoff {
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = config.InitialDelay
	}
	return &Backoff{
		config: config,
	}
}

// Config returns the effective configuration
func (b *Backoff) Config() BackoffConfig {
	return b.config
}

// Delay is the wait before the retry that follows failed attempt n (n >= 1):
// min(initial * multiplier^n, max), plus up to 25% upward jitter while below
// the cap. With a multiplier of at least 1.25 successive delays never shrink.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return b.calculateDelay(attempt)
}

// Exhausted reports whether attempt has used up the retry budget
func (b *Backoff) Exhausted(attempt int) bool {
	return attempt >= b.config.MaxAttempts
}

// Retry executes the operation with exponential backoff retry logic
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	return b.RetryWithPredicate(ctx, operation, func(error) bool { return true })
}

// RetryWithPredicate executes the operation with exponential backoff, using a predicate to determine if errors are retryable
func (b *Backoff) RetryWithPredicate(ctx context.Context, operation func() error, isRetryable func(error) bool) error {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err

		if !isRetryable(err) {
			return err
		}

		// Don't wait after the last attempt
		if attempt == b.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.calculateDelay(attempt - 1)):
		}
	}

	return lastErr
}

func (b *Backoff) calculateDelay(exponent int) time.Duration {
	maxDelay := float64(b.config.MaxDelay)

	delay := float64(b.config.InitialDelay) * math.Pow(b.config.Multiplier, float64(exponent))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay >= maxDelay {
		return b.config.MaxDelay
	}

	if b.config.Jitter {
		delay += delay * jitterFraction * secureFloat64()
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return time.Duration(delay)
}

// secureFloat64 generates a cryptographically secure float64 between 0 and 1
func secureFloat64() float64 {
	max := big.NewInt(0).SetUint64(math.MaxUint64)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return float64(time.Now().UnixNano()%1000000) / 1000000.0
	}

	return float64(n.Uint64()) / float64(math.MaxUint64)
}
