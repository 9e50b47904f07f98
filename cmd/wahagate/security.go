package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"wahagate/internal/constants"
	"wahagate/internal/models"
	"wahagate/internal/security"
)

// millisecondThreshold separates unix-second from unix-millisecond timestamps
const millisecondThreshold = 1_000_000_000_000

// webhookVerifier checks the provider's X-Webhook-Hmac and X-Webhook-Timestamp headers
type webhookVerifier struct {
	secret     string
	maxSkew    time.Duration
	production bool
	now        func() time.Time
}

func newWebhookVerifier(cfg models.WebhookConfig) *webhookVerifier {
	skew := cfg.MaxSkewSec
	if skew <= 0 {
		skew = constants.DefaultWebhookMaxSkewSec
	}
	return &webhookVerifier{
		secret:     cfg.Secret,
		maxSkew:    time.Duration(skew) * time.Second,
		production: os.Getenv("WAHAGATE_ENV") == "production",
		now:        time.Now,
	}
}

func (v *webhookVerifier) Verify(r *http.Request, body []byte) error {
	if v.secret == "" {
		if v.production {
			return fmt.Errorf("webhook secret is required in production mode")
		}
		return nil
	}

	signature := r.Header.Get(constants.DefaultSignatureHeader)
	if signature == "" {
		return fmt.Errorf("missing signature header: %s", constants.DefaultSignatureHeader)
	}

	raw := r.Header.Get(constants.DefaultSignatureTimestampHeader)
	if raw == "" {
		return fmt.Errorf("missing %s header", constants.DefaultSignatureTimestampHeader)
	}
	sentAt, err := parseWebhookTimestamp(raw)
	if err != nil {
		return err
	}
	if skew := v.now().Sub(sentAt); skew > v.maxSkew || skew < -v.maxSkew {
		return fmt.Errorf("webhook timestamp outside allowed skew of %s", v.maxSkew)
	}

	return security.VerifySHA512(v.secret, body, signature)
}

// parseWebhookTimestamp accepts unix seconds or milliseconds
func parseWebhookTimestamp(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, fmt.Errorf("invalid %s header", constants.DefaultSignatureTimestampHeader)
	}
	if n >= millisecondThreshold {
		return time.UnixMilli(n), nil
	}
	return time.Unix(n, 0), nil
}
