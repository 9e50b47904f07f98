package constants

// Default server configuration values
const (
	DefaultServerPort            = 8082
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	DefaultWebhookMaxSkewSec     = 300
	DefaultMaxWebhookBodyBytes   = 1 << 20
	ServerErrorChannelSize       = 1
	DefaultAdminRatePerSec       = 10
	DefaultAdminBurst            = 20
	AdminLimiterIdleMinutes      = 10
)

// Default ingestion values
const (
	DefaultProcessingTimeoutSec = 10
	DefaultRateLimitPolicy      = "reject"
	DefaultRetentionDays        = 30
	DefaultCleanupIntervalHours = 24
)

// Default rate limit rules, keyed by limit type
const (
	LimitTypeMessagesPerMinute = "messages_per_minute"
	LimitTypeMessagesPerHour   = "messages_per_hour"
	LimitTypeMediaPerMinute    = "media_per_minute"

	DefaultMessagesPerMinute = 60
	DefaultMessagesPerHour   = 1000
	DefaultMediaPerMinute    = 20
)

// Default retry values
const (
	DefaultRetryBaseDelayMs      = 1000
	DefaultRetryMaxDelayMs       = 300000
	DefaultMaxRetries            = 3
	DefaultRetryPollIntervalSec  = 5
	DefaultRetryBatchSize        = 50
	DefaultDatabaseRetryAttempts = 3
	DefaultRetryBackoffMs        = 100
	DefaultMaxBackoffMs          = 2000
	DefaultStateWriteAttempts    = 5
)

// Default session health values
const (
	DefaultConsecutiveErrorLimit = 3
	DefaultCriticalErrorCount    = 5
	DefaultSessionHealthCheckSec = 60
	DefaultWAHATimeoutSec        = 10
)

// Default outbound dispatch values
const (
	DefaultDispatchTimeoutSec       = 10
	DefaultDispatchRatePerSec       = 50
	DefaultDispatchBurst            = 10
	DefaultBreakerMaxFailures       = 5
	DefaultBreakerResetTimeoutSec   = 30
	DefaultMaxResponseSnippetBytes  = 512
	DefaultStreamSubscriberBuffer   = 16
	DefaultStreamWriteTimeoutSec    = 5
	DefaultKafkaPipelineTopic       = "waha.events"
	DefaultKafkaDeadLetterTopic     = "waha.events.dlq"
	DefaultKafkaWriteTimeoutSec     = 10
	DefaultConfigWatchIntervalSec   = 5
	DefaultRequestIDHeader          = "X-Request-ID"
	DefaultSignatureHeader          = "X-Webhook-Hmac"
	DefaultSignatureTimestampHeader = "X-Webhook-Timestamp"
)

// Validation limits
const (
	MaxEventIDLength   = 256
	MaxSessionIDLength = 64
	MaxOrgIDLength     = 64
	MaxEventTypeLength = 128
)

// Admin API listing limits
const (
	DefaultAdminListLimit     = 100
	MaxAdminListLimit         = 500
	SubscriberSecretBytes     = 32
	MaxSubscriptionEventTypes = 64
)

// Encryption parameters
const (
	EncryptionSalt = "wahagate-secrets-v1"
	KeySize        = 32
	NonceSize      = 12
	Iterations     = 100000
)
