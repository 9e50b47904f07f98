package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"wahagate/internal/constants"
	"wahagate/internal/models"
	"wahagate/internal/security"
)

// Supported database drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var (
	ErrMissingDBPath    = models.ConfigError{Message: "missing database path"}
	ErrMissingDBDSN     = models.ConfigError{Message: "missing database dsn"}
	ErrUnknownDBDriver  = models.ConfigError{Message: "unsupported database driver"}
	ErrUnknownRLPolicy  = models.ConfigError{Message: "rate limit policy must be reject or queue"}
	ErrInvalidRetryConf = models.ConfigError{Message: "retry base delay must not exceed max delay"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)
	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	// Perform security validation after environment overrides
	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func applyDefaults(c *models.Config) {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}

	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = constants.DefaultMaxWebhookBodyBytes
	}
	if c.Server.ShutdownTimeoutSec <= 0 {
		c.Server.ShutdownTimeoutSec = constants.DefaultGracefulShutdownSec
	}
	if c.Server.AdminRatePerSec <= 0 {
		c.Server.AdminRatePerSec = constants.DefaultAdminRatePerSec
	}
	if c.Server.AdminBurst <= 0 {
		c.Server.AdminBurst = constants.DefaultAdminBurst
	}

	// Default webhook skew if not provided
	if c.Webhook.MaxSkewSec <= 0 {
		c.Webhook.MaxSkewSec = constants.DefaultWebhookMaxSkewSec
	}
	if c.Webhook.ProcessingTimeoutSec <= 0 {
		c.Webhook.ProcessingTimeoutSec = constants.DefaultProcessingTimeoutSec
	}
	if c.Webhook.RateLimitPolicy == "" {
		c.Webhook.RateLimitPolicy = constants.DefaultRateLimitPolicy
	}

	if len(c.RateLimits.Defaults) == 0 {
		c.RateLimits.Defaults = []models.RateLimitRule{
			{LimitType: constants.LimitTypeMessagesPerMinute, Threshold: constants.DefaultMessagesPerMinute, WindowSeconds: 60},
			{LimitType: constants.LimitTypeMessagesPerHour, Threshold: constants.DefaultMessagesPerHour, WindowSeconds: 3600},
			{LimitType: constants.LimitTypeMediaPerMinute, Threshold: constants.DefaultMediaPerMinute, WindowSeconds: 60, MediaOnly: true},
		}
	}

	if c.Retry.BaseDelayMs <= 0 {
		c.Retry.BaseDelayMs = constants.DefaultRetryBaseDelayMs
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = constants.DefaultRetryMaxDelayMs
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = constants.DefaultMaxRetries
	}
	if c.Retry.PollIntervalSec <= 0 {
		c.Retry.PollIntervalSec = constants.DefaultRetryPollIntervalSec
	}
	if c.Retry.BatchSize <= 0 {
		c.Retry.BatchSize = constants.DefaultRetryBatchSize
	}

	if c.Sessions.ConsecutiveErrorLimit <= 0 {
		c.Sessions.ConsecutiveErrorLimit = constants.DefaultConsecutiveErrorLimit
	}
	if c.Sessions.CriticalErrorCount <= 0 {
		c.Sessions.CriticalErrorCount = constants.DefaultCriticalErrorCount
	}

	if c.Dispatch.TimeoutSec <= 0 {
		c.Dispatch.TimeoutSec = constants.DefaultDispatchTimeoutSec
	}
	if c.Dispatch.RatePerSec <= 0 {
		c.Dispatch.RatePerSec = constants.DefaultDispatchRatePerSec
	}
	if c.Dispatch.Burst <= 0 {
		c.Dispatch.Burst = constants.DefaultDispatchBurst
	}
	if c.Dispatch.BreakerMaxFailures <= 0 {
		c.Dispatch.BreakerMaxFailures = constants.DefaultBreakerMaxFailures
	}
	if c.Dispatch.BreakerResetTimeoutSec <= 0 {
		c.Dispatch.BreakerResetTimeoutSec = constants.DefaultBreakerResetTimeoutSec
	}

	if c.Kafka.Enabled() {
		if c.Kafka.Topic == "" {
			c.Kafka.Topic = constants.DefaultKafkaPipelineTopic
		}
		if c.Kafka.DeadLetterTopic == "" {
			c.Kafka.DeadLetterTopic = constants.DefaultKafkaDeadLetterTopic
		}
	}

	if c.WAHA.HealthCheckIntervalSec <= 0 {
		c.WAHA.HealthCheckIntervalSec = constants.DefaultSessionHealthCheckSec
	}
	if c.WAHA.TimeoutSec <= 0 {
		c.WAHA.TimeoutSec = constants.DefaultWAHATimeoutSec
	}

	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}
	if c.CleanupIntervalHours <= 0 {
		c.CleanupIntervalHours = constants.DefaultCleanupIntervalHours
	}
}

func validate(c *models.Config) error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" && c.Database.DSN == "" {
			return ErrMissingDBPath
		}
		if c.Database.Path != "" {
			if err := security.ValidateFilePath(c.Database.Path); err != nil {
				return models.ConfigError{Message: fmt.Sprintf("invalid database path: %v", err)}
			}
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return ErrMissingDBDSN
		}
	default:
		return ErrUnknownDBDriver
	}

	if c.Webhook.RateLimitPolicy != "reject" && c.Webhook.RateLimitPolicy != "queue" {
		return ErrUnknownRLPolicy
	}

	if err := validateRules("defaults", c.RateLimits.Defaults); err != nil {
		return err
	}
	for key, rules := range c.RateLimits.Sessions {
		if err := validateRules("sessions."+key, rules); err != nil {
			return err
		}
	}

	if c.Retry.BaseDelayMs > c.Retry.MaxDelayMs {
		return ErrInvalidRetryConf
	}
	if c.Sessions.CriticalErrorCount < c.Sessions.ConsecutiveErrorLimit {
		return models.ConfigError{Message: "critical error count must be at least the consecutive error limit"}
	}
	return nil
}

func validateRules(scope string, rules []models.RateLimitRule) error {
	seen := make(map[string]bool)
	for i, r := range rules {
		if r.LimitType == "" {
			return models.ConfigError{Message: fmt.Sprintf("rate_limits.%s[%d]: empty limit type", scope, i)}
		}
		if r.Threshold <= 0 || r.WindowSeconds <= 0 {
			return models.ConfigError{Message: fmt.Sprintf("rate_limits.%s[%d]: threshold and window must be positive", scope, i)}
		}
		if seen[r.LimitType] {
			return models.ConfigError{Message: fmt.Sprintf("rate_limits.%s: duplicate limit type %s", scope, r.LimitType)}
		}
		seen[r.LimitType] = true
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if driver := os.Getenv("WAHAGATE_DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("WAHAGATE_DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}

	// SECURITY: Webhook secrets should be set via environment variables
	if secret := os.Getenv("WAHAGATE_WEBHOOK_SECRET"); secret != "" {
		c.Webhook.Secret = secret
	}

	if brokers := os.Getenv("WAHAGATE_KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = nil
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
	}

	if key := os.Getenv("WAHAGATE_WAHA_API_KEY"); key != "" {
		c.WAHA.APIKey = key
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	// Check if we're in production mode
	isProduction := os.Getenv("WAHAGATE_ENV") == "production"

	if isProduction {
		// In production, webhook secrets are mandatory
		if c.Webhook.Secret == "" {
			return models.ConfigError{Message: "webhook secret is required in production (set WAHAGATE_WEBHOOK_SECRET environment variable)"}
		}

		// Validate webhook secret strength
		if len(c.Webhook.Secret) < 32 {
			return models.ConfigError{Message: "webhook secret must be at least 32 characters long"}
		}

		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if c.Webhook.Secret == "" {
		fmt.Fprintf(os.Stderr, "WARNING: webhook secret not set. Inbound signatures will not be verified. Set WAHAGATE_WEBHOOK_SECRET.\n")
	}

	return nil
}
