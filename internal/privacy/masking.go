package privacy

import (
	"net/url"
	"strings"
)

// MaskChatID masks a WhatsApp chat ID keeping the domain suffix
// Example: "1234567890@c.us" -> "******7890@c.us"
func MaskChatID(chatID string) string {
	if chatID == "" {
		return ""
	}

	if at := strings.Index(chatID, "@"); at >= 0 {
		return maskString(chatID[:at], 4) + chatID[at:]
	}
	return maskString(chatID, 4)
}

// MaskEventID masks a provider event ID while keeping enough of the tail to correlate logs
func MaskEventID(eventID string) string {
	if eventID == "" {
		return ""
	}

	// WAHA message ids look like "true_<chat>@c.us_<id>"
	parts := strings.SplitN(eventID, "_", 3)
	if len(parts) == 3 {
		return parts[0] + "_" + MaskChatID(parts[1]) + "_" + maskString(parts[2], 4)
	}
	if len(eventID) <= 12 {
		return eventID
	}
	return maskString(eventID, 8)
}

// MaskSessionName masks the middle of a session name
// Example: "primary-session-user123" -> "primary-*******-****123"
func MaskSessionName(sessionName string) string {
	if sessionName == "" {
		return ""
	}

	parts := strings.Split(sessionName, "-")
	if len(parts) < 2 {
		return maskString(sessionName, 3)
	}

	result := parts[0]
	for i := 1; i < len(parts)-1; i++ {
		result += "-" + strings.Repeat("*", len(parts[i]))
	}
	return result + "-" + maskString(parts[len(parts)-1], 3)
}

// MaskURL drops credentials and the query string from a subscriber URL
func MaskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return maskString(raw, 6)
	}
	u.User = nil
	if u.RawQuery != "" {
		u.RawQuery = "redacted"
	}
	u.Fragment = ""
	return u.String()
}

// MaskSecret hides a secret entirely except for its length class
func MaskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}
		switch k {
		case "chat_id", "from", "to":
			masked[k] = MaskChatID(s)
		case "event_id", "message_id":
			masked[k] = MaskEventID(s)
		case "session", "session_id":
			masked[k] = MaskSessionName(s)
		case "url", "subscriber_url":
			masked[k] = MaskURL(s)
		case "secret", "token", "password":
			masked[k] = MaskSecret(s)
		default:
			masked[k] = v
		}
	}

	return masked
}
