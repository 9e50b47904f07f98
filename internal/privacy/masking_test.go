package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskChatID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"1234567890@c.us", "******7890@c.us"},
		{"123@g.us", "***@g.us"},
		{"plainid12345", "********2345"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaskChatID(tt.input))
		})
	}
}

func TestMaskEventID(t *testing.T) {
	assert.Equal(t, "", MaskEventID(""))
	assert.Equal(t, "evt-001", MaskEventID("evt-001"))
	assert.Equal(t, "true_******7890@c.us_****G7H8", MaskEventID("true_1234567890@c.us_A1B2G7H8"))
	assert.Equal(t, "********3c4d5e6f", MaskEventID("0a1b2c3d3c4d5e6f"))
}

func TestMaskSessionName(t *testing.T) {
	assert.Equal(t, "", MaskSessionName(""))
	assert.Equal(t, "****ult", MaskSessionName("default"))
	assert.Equal(t, "primary-*******-****123", MaskSessionName("primary-session-user123"))
}

func TestMaskURL(t *testing.T) {
	assert.Equal(t, "https://hooks.example.com/in?redacted", MaskURL("https://user:pw@hooks.example.com/in?token=abc#frag"))
	assert.Equal(t, "http://localhost:9000/hook", MaskURL("http://localhost:9000/hook"))
	assert.Equal(t, "", MaskURL(""))
}

func TestMaskSensitiveFields(t *testing.T) {
	assert.Nil(t, MaskSensitiveFields(nil))

	masked := MaskSensitiveFields(map[string]interface{}{
		"from":    "1234567890@c.us",
		"secret":  "top-secret",
		"attempt": 2,
		"org_id":  "org-1",
	})

	assert.Equal(t, "******7890@c.us", masked["from"])
	assert.Equal(t, "****", masked["secret"])
	assert.Equal(t, 2, masked["attempt"])
	assert.Equal(t, "org-1", masked["org_id"])
}
