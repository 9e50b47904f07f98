package database

// Queries are written with "?" placeholders and rebound per driver.

const (
	insertOrganizationQuery = `INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)`
	selectOrganizationQuery = `SELECT id, name, created_at FROM organizations WHERE id = ?`
	deleteOrganizationQuery = `DELETE FROM organizations WHERE id = ?`

	sessionColumns = `org_id, session_id, channel_config_id, status, health_status, is_authenticated,
		is_connected, error_count, last_error, last_health_check_at, last_event_at, version, archived_at,
		created_at, updated_at`

	insertSessionQuery = `
		INSERT INTO sessions (
			org_id, session_id, channel_config_id, status, health_status, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 0, ?, ?)`

	selectSessionQuery = `SELECT ` + sessionColumns + ` FROM sessions WHERE org_id = ? AND session_id = ?`

	listSessionsQuery = `SELECT ` + sessionColumns + ` FROM sessions
		WHERE org_id = ? AND archived_at IS NULL ORDER BY session_id`

	listAllActiveSessionsQuery = `SELECT s.org_id, s.session_id, s.channel_config_id, s.status, s.health_status,
		s.is_authenticated, s.is_connected, s.error_count, s.last_error, s.last_health_check_at, s.last_event_at,
		s.version, s.archived_at, s.created_at, s.updated_at
		FROM sessions s JOIN organizations o ON o.id = s.org_id
		WHERE s.archived_at IS NULL ORDER BY s.org_id, s.session_id`

	updateSessionCASQuery = `
		UPDATE sessions SET
			status = ?, health_status = ?, is_authenticated = ?, is_connected = ?, error_count = ?,
			last_error = ?, last_health_check_at = ?, last_event_at = ?, version = version + 1, updated_at = ?
		WHERE org_id = ? AND session_id = ? AND version = ?`

	archiveSessionQuery = `
		UPDATE sessions SET archived_at = ?, version = version + 1, updated_at = ?
		WHERE org_id = ? AND session_id = ? AND archived_at IS NULL`

	sessionActiveQuery = `
		SELECT COUNT(*) FROM sessions s
		JOIN organizations o ON o.id = s.org_id
		WHERE s.org_id = ? AND s.session_id = ? AND s.archived_at IS NULL`

	insertMarkerQuery = `
		INSERT INTO idempotency_markers (org_id, event_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (org_id, event_id) DO NOTHING`

	deleteMarkersBeforeQuery = `DELETE FROM idempotency_markers WHERE created_at < ?`

	eventColumns = `id, org_id, session_id, event_id, event_type, event_class, has_media, received_at, payload,
		processing_status, retry_count, processing_error, next_retry_at, rate_limited, completed_at, updated_at`

	insertEventQuery = `
		INSERT INTO inbound_events (` + eventColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, event_id) DO NOTHING`

	selectEventByIDQuery      = `SELECT ` + eventColumns + ` FROM inbound_events WHERE id = ?`
	selectEventByEventIDQuery = `SELECT ` + eventColumns + ` FROM inbound_events WHERE org_id = ? AND event_id = ?`

	listEventsByStatusQuery = `SELECT ` + eventColumns + ` FROM inbound_events
		WHERE org_id = ? AND processing_status = ? ORDER BY received_at DESC LIMIT ?`

	listEventsQuery = `SELECT ` + eventColumns + ` FROM inbound_events
		WHERE org_id = ? ORDER BY received_at DESC LIMIT ?`

	dueEventsQuery = `SELECT ` + eventColumns + ` FROM inbound_events
		WHERE processing_status = 'retry' AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY next_retry_at LIMIT ?`

	claimEventQuery = `
		UPDATE inbound_events SET processing_status = 'processing', updated_at = ?
		WHERE id = ? AND processing_status = ?`

	completeEventQuery = `
		UPDATE inbound_events SET processing_status = 'completed', processing_error = '',
			next_retry_at = NULL, completed_at = ?, updated_at = ?
		WHERE id = ? AND processing_status = 'processing'`

	rescheduleEventQuery = `
		UPDATE inbound_events SET processing_status = ?, retry_count = ?, processing_error = ?,
			next_retry_at = ?, updated_at = ?
		WHERE id = ? AND processing_status = 'processing'`

	replayEventQuery = `
		UPDATE inbound_events SET processing_status = 'retry', retry_count = 0, next_retry_at = ?,
			rate_limited = ?, updated_at = ?
		WHERE org_id = ? AND id = ? AND processing_status = 'failed'`

	recoverStaleEventsQuery = `
		UPDATE inbound_events SET processing_status = 'retry', next_retry_at = ?, updated_at = ?
		WHERE processing_status IN ('processing', 'pending') AND updated_at < ?`

	dropEventQuery = `
		UPDATE inbound_events SET processing_status = 'failed', processing_error = ?,
			next_retry_at = NULL, updated_at = ?
		WHERE id = ? AND processing_status = 'processing'`

	countEventsQuery = `SELECT COUNT(*) FROM inbound_events WHERE org_id = ? AND event_id = ?`

	windowColumns = `org_id, session_id, limit_type, window_start, window_duration_seconds, current_count,
		threshold_count, is_exceeded`

	ensureWindowQuery = `
		INSERT INTO rate_limit_windows (` + windowColumns + `)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (org_id, session_id, limit_type) DO NOTHING`

	rollWindowQuery = `
		UPDATE rate_limit_windows SET window_start = ?, window_duration_seconds = ?, current_count = 0,
			threshold_count = ?, is_exceeded = ?
		WHERE org_id = ? AND session_id = ? AND limit_type = ?
			AND window_start + window_duration_seconds * 1000 <= ?`

	incrementWindowQuery = `
		UPDATE rate_limit_windows SET current_count = current_count + 1
		WHERE org_id = ? AND session_id = ? AND limit_type = ? AND current_count < threshold_count
		RETURNING ` + windowColumns

	markWindowExceededQuery = `
		UPDATE rate_limit_windows SET is_exceeded = ?
		WHERE org_id = ? AND session_id = ? AND limit_type = ?
		RETURNING ` + windowColumns

	decrementWindowQuery = `
		UPDATE rate_limit_windows SET current_count = current_count - 1
		WHERE org_id = ? AND session_id = ? AND limit_type = ? AND window_start = ? AND current_count > 0`

	selectWindowQuery = `SELECT ` + windowColumns + ` FROM rate_limit_windows
		WHERE org_id = ? AND session_id = ? AND limit_type = ?`

	subscriptionColumns = `id, org_id, url, secret, event_types, max_retries, is_active, created_at`

	insertSubscriptionQuery = `INSERT INTO webhook_subscriptions (` + subscriptionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	selectSubscriptionQuery = `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions WHERE id = ?`

	listActiveSubscriptionsQuery = `SELECT ` + subscriptionColumns + ` FROM webhook_subscriptions
		WHERE org_id = ? AND is_active = ? ORDER BY created_at`

	deliveryColumns = `id, org_id, webhook_id, correlation_id, event_type, payload, attempt_number, http_status,
		is_success, next_retry_at, attempted_at, error_message, created_at`

	insertDeliveryQuery = `
		INSERT INTO webhook_deliveries (
			org_id, webhook_id, correlation_id, event_type, payload, attempt_number, http_status,
			is_success, next_retry_at, attempted_at, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	dueDeliveriesQuery = `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY next_retry_at LIMIT ?`

	claimDeliveryQuery = `
		UPDATE webhook_deliveries SET next_retry_at = ?
		WHERE id = ? AND next_retry_at = ?`

	releaseDeliveryQuery = `
		UPDATE webhook_deliveries SET next_retry_at = NULL
		WHERE id = ? AND next_retry_at = ?`

	recordDeliveryQuery = `
		UPDATE webhook_deliveries SET attempted_at = ?, http_status = ?, is_success = ?,
			error_message = ?, next_retry_at = ?
		WHERE id = ? AND attempted_at IS NULL`

	listDeliveriesQuery = `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE org_id = ? ORDER BY id DESC LIMIT ?`

	listFailedDeliveriesQuery = `SELECT d.id, d.org_id, d.webhook_id, d.correlation_id, d.event_type, d.payload,
			d.attempt_number, d.http_status, d.is_success, d.next_retry_at, d.attempted_at, d.error_message,
			d.created_at
		FROM webhook_deliveries d
		WHERE d.org_id = ? AND d.is_success = ? AND d.attempted_at IS NOT NULL AND d.next_retry_at IS NULL
			AND d.attempt_number = (
				SELECT MAX(x.attempt_number) FROM webhook_deliveries x WHERE x.correlation_id = d.correlation_id
			)
		ORDER BY d.id DESC LIMIT ?`

	deliveryChainQuery = `SELECT ` + deliveryColumns + ` FROM webhook_deliveries
		WHERE correlation_id = ? ORDER BY attempt_number`
)
