package models

// Config holds the application configuration
type Config struct {
	Server               ServerConfig    `json:"server"`
	Database             DatabaseConfig  `json:"database"`
	Webhook              WebhookConfig   `json:"webhook"`
	RateLimits           RateLimitConfig `json:"rate_limits"`
	Retry                RetryConfig     `json:"retry"`
	Sessions             SessionConfig   `json:"sessions"`
	Dispatch             DispatchConfig  `json:"dispatch"`
	Kafka                KafkaConfig     `json:"kafka"`
	Tracing              TracingConfig   `json:"tracing"`
	WAHA                 WAHAConfig      `json:"waha"`
	LogLevel             string          `json:"log_level"`
	RetentionDays        int             `json:"retention_days"`
	CleanupIntervalHours int             `json:"cleanup_interval_hours"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port               int     `json:"port"`
	ReadTimeoutSec     int     `json:"read_timeout_sec"`
	WriteTimeoutSec    int     `json:"write_timeout_sec"`
	IdleTimeoutSec     int     `json:"idle_timeout_sec"`
	MaxBodyBytes       int     `json:"max_body_bytes"`
	ShutdownTimeoutSec int     `json:"shutdown_timeout_sec"`
	AdminRatePerSec    float64 `json:"admin_rate_per_sec"` // per client IP
	AdminBurst         int     `json:"admin_burst"`
}

// DatabaseConfig selects the SQL driver and data source
type DatabaseConfig struct {
	Driver string `json:"driver"` // sqlite3 or postgres
	DSN    string `json:"dsn"`
	Path   string `json:"path"` // sqlite shorthand for DSN
}

// WebhookConfig holds inbound webhook settings
type WebhookConfig struct {
	Secret               string `json:"secret"`
	MaxSkewSec           int    `json:"max_skew_sec"`
	ProcessingTimeoutSec int    `json:"processing_timeout_sec"`
	RateLimitPolicy      string `json:"rate_limit_policy"` // reject or queue
}

// RateLimitRule is a threshold over a fixed window
type RateLimitRule struct {
	LimitType     string `json:"limit_type"`
	Threshold     int    `json:"threshold"`
	WindowSeconds int    `json:"window_seconds"`
	MediaOnly     bool   `json:"media_only,omitempty"`
}

// RateLimitConfig holds default rules and per-session overrides
type RateLimitConfig struct {
	Defaults []RateLimitRule            `json:"defaults"`
	Sessions map[string][]RateLimitRule `json:"sessions,omitempty"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	BaseDelayMs     int `json:"base_delay_ms"`
	MaxDelayMs      int `json:"max_delay_ms"`
	MaxRetries      int `json:"max_retries"`
	PollIntervalSec int `json:"poll_interval_sec"`
	BatchSize       int `json:"batch_size"`
}

// SessionConfig holds session health thresholds
type SessionConfig struct {
	ConsecutiveErrorLimit int `json:"consecutive_error_limit"`
	CriticalErrorCount    int `json:"critical_error_count"`
}

// DispatchConfig holds outbound subscriber delivery settings
type DispatchConfig struct {
	TimeoutSec             int     `json:"timeout_sec"`
	RatePerSec             float64 `json:"rate_per_sec"`
	Burst                  int     `json:"burst"`
	BreakerMaxFailures     int     `json:"breaker_max_failures"`
	BreakerResetTimeoutSec int     `json:"breaker_reset_timeout_sec"`
}

// KafkaConfig enables the Kafka message pipeline when brokers are set
type KafkaConfig struct {
	Brokers         []string `json:"brokers"`
	Topic           string   `json:"topic"`
	DeadLetterTopic string   `json:"dead_letter_topic"`
	WriteTimeoutSec int      `json:"write_timeout_sec"`
}

// Enabled reports whether any broker is configured
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// WAHAConfig points the session health probe at the provider API; empty BaseURL disables it
type WAHAConfig struct {
	BaseURL                string `json:"base_url"`
	APIKey                 string `json:"api_key"`
	HealthCheckIntervalSec int    `json:"health_check_interval_sec"`
	TimeoutSec             int    `json:"timeout_sec"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	OTLPEndpoint string  `json:"otlp_endpoint"`
	SampleRate   float64 `json:"sample_rate"`
	UseStdout    bool    `json:"use_stdout"`
	Environment  string  `json:"environment"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
