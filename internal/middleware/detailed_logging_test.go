package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDetailedRouter(logger *logrus.Logger, cfg DetailedLoggingConfig) *mux.Router {
	r := mux.NewRouter()
	r.Use(ObservabilityMiddleware(logger))
	r.Use(DetailedLoggingMiddleware(logger, cfg))
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Set-Cookie", "session=abc")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"org-1"}`))
	}
	r.HandleFunc("/api/v1/orgs", handler).Methods(http.MethodPost)
	r.HandleFunc("/health", handler).Methods(http.MethodGet)
	return r
}

func TestDetailedLoggingMasksSensitiveHeaders(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultDetailedLoggingConfig()
	cfg.LogRequestBody = true
	cfg.LogResponseHeaders = true
	cfg.LogResponseBody = true
	router := newDetailedRouter(jsonLogger(&buf, logrus.DebugLevel), cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orgs", strings.NewReader(`{"id":"org-1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Hmac", "deadbeef")
	req.Header.Set("X-Trace-Note", "visible")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, `{"id":"org-1"}`, w.Body.String(), "capture must not swallow the body")

	lines := logLines(t, &buf)
	reqLine := findLine(lines, "Detailed request logging")
	require.NotNil(t, reqLine)
	headers := reqLine["request_headers"].(map[string]interface{})
	assert.Equal(t, maskedValue, headers["X-Webhook-Hmac"])
	assert.Equal(t, "visible", headers["X-Trace-Note"])
	assert.Equal(t, `{"id":"org-1"}`, reqLine["request_body"])

	respLine := findLine(lines, "Detailed response logging")
	require.NotNil(t, respLine)
	assert.Equal(t, float64(http.StatusCreated), respLine["status_code"])
	assert.Equal(t, maskedValue, respLine["response_headers"].(map[string]interface{})["Set-Cookie"])
	assert.Equal(t, `{"id":"org-1"}`, respLine["response_body"])
}

func TestDetailedLoggingTruncatesLargeResponses(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultDetailedLoggingConfig()
	cfg.LogResponseBody = true
	cfg.MaxBodySize = 4
	router := newDetailedRouter(jsonLogger(&buf, logrus.DebugLevel), cfg)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/orgs", nil))

	respLine := findLine(logLines(t, &buf), "Detailed response logging")
	require.NotNil(t, respLine)
	assert.Contains(t, respLine["response_body"], "***TRUNCATED***")
}

func TestDetailedLoggingSkips(t *testing.T) {
	tests := []struct {
		name   string
		level  logrus.Level
		method string
		path   string
		header map[string]string
	}{
		{"info level", logrus.InfoLevel, http.MethodPost, "/api/v1/orgs", nil},
		{"skipped prefix", logrus.DebugLevel, http.MethodGet, "/health", nil},
		{"websocket upgrade", logrus.DebugLevel, http.MethodPost, "/api/v1/orgs", map[string]string{"Upgrade": "websocket"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			router := newDetailedRouter(jsonLogger(&buf, tt.level), DefaultDetailedLoggingConfig())

			req := httptest.NewRequest(tt.method, tt.path, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			router.ServeHTTP(httptest.NewRecorder(), req)

			lines := logLines(t, &buf)
			assert.Nil(t, findLine(lines, "Detailed request logging"))
		})
	}
}

func TestShouldLogBody(t *testing.T) {
	for contentType, want := range map[string]bool{
		"application/json; charset=utf-8":   true,
		"text/plain":                        true,
		"application/x-www-form-urlencoded": true,
		"image/png":                         false,
		"":                                  false,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("Content-Type", contentType)
		assert.Equal(t, want, shouldLogBody(req), contentType)
	}
}
