package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func BenchmarkBackoff_Delay(b *testing.B) {
	backoff := NewBackoff(DefaultBackoffConfig())
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = backoff.Delay(i % 12)
	}
}

func BenchmarkBackoff_FailureAfterRetries(b *testing.B) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: time.Microsecond,
		MaxDelay:     10 * time.Microsecond,
		Multiplier:   2.0,
		MaxAttempts:  3,
	})

	operation := func() error {
		return errors.New("always fails")
	}

	ctx := context.Background()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = backoff.Retry(ctx, operation)
	}
}
