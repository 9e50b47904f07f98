package middleware

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"wahagate/internal/httputil"
	"wahagate/internal/service"
	"wahagate/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maskedValue = "***MASKED***"

// DetailedLoggingConfig controls what gets logged
type DetailedLoggingConfig struct {
	LogRequestHeaders  bool     `json:"log_request_headers"`
	LogResponseHeaders bool     `json:"log_response_headers"`
	LogRequestBody     bool     `json:"log_request_body"`
	LogResponseBody    bool     `json:"log_response_body"`
	MaxBodySize        int      `json:"max_body_size"`
	SensitiveHeaders   []string `json:"sensitive_headers"`
	SkipPrefixes       []string `json:"skip_prefixes"`
}

// DefaultDetailedLoggingConfig logs request headers only. Bodies carry
// subscriber payloads and stay off unless asked for.
func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		MaxBodySize:       1024,
		SensitiveHeaders: []string{
			"authorization", "x-api-key", "x-webhook-hmac",
			"x-wahagate-signature", "cookie", "set-cookie",
		},
		SkipPrefixes: []string{"/metrics", "/health"},
	}
}

// DetailedLoggingMiddleware dumps request and response details at debug level.
// It is a no-op unless the logger is at debug.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !logger.IsLevelEnabled(logrus.DebugLevel) || skipDetailedLogging(r, config) {
				next.ServeHTTP(w, r)
				return
			}

			requestInfo := tracing.GetRequestInfo(r.Context())
			logRequestDetails(logger, r, requestInfo, config)

			if !config.LogResponseBody && !config.LogResponseHeaders {
				next.ServeHTTP(w, r)
				return
			}

			capture := &responseCaptureWrapper{
				responseWrapper: newResponseWrapper(w),
				body:            bytes.NewBuffer(nil),
				headers:         make(http.Header),
			}
			next.ServeHTTP(capture, r)
			logResponseDetails(logger, capture, requestInfo, config)
		})
	}
}

func skipDetailedLogging(r *http.Request, config DetailedLoggingConfig) bool {
	for _, prefix := range config.SkipPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	// websocket upgrades cannot be captured
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func logRequestDetails(logger *logrus.Logger, r *http.Request, requestInfo *tracing.RequestInfo, config DetailedLoggingConfig) {
	fields := logrus.Fields{
		service.LogFieldRequestID: requestInfo.RequestID,
		service.LogFieldTraceID:   requestInfo.TraceID,
		service.LogFieldMethod:    r.Method,
		service.LogFieldURL:       r.URL.String(),
		service.LogFieldRemoteIP:  httputil.GetClientIP(r),
		"content_length":          r.ContentLength,
		"protocol":                r.Proto,
	}

	if config.LogRequestHeaders {
		fields["request_headers"] = maskHeaders(r.Header, config.SensitiveHeaders)
	}

	if config.LogRequestBody && shouldLogBody(r) && r.ContentLength > 0 && r.ContentLength <= int64(config.MaxBodySize) {
		body, err := io.ReadAll(r.Body)
		if err == nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
			fields["request_body"] = string(body)
		}
	}

	logger.WithFields(fields).Debug("Detailed request logging")
}

func logResponseDetails(logger *logrus.Logger, capture *responseCaptureWrapper, requestInfo *tracing.RequestInfo, config DetailedLoggingConfig) {
	fields := logrus.Fields{
		service.LogFieldRequestID:  requestInfo.RequestID,
		service.LogFieldTraceID:    requestInfo.TraceID,
		service.LogFieldStatusCode: capture.statusCode,
		service.LogFieldSize:       capture.body.Len(),
	}

	if config.LogResponseHeaders {
		fields["response_headers"] = maskHeaders(capture.headers, config.SensitiveHeaders)
	}

	if config.LogResponseBody && capture.body.Len() > 0 {
		if capture.body.Len() <= config.MaxBodySize {
			fields["response_body"] = capture.body.String()
		} else {
			fields["response_body"] = fmt.Sprintf("***TRUNCATED*** (size: %d bytes)", capture.body.Len())
		}
	}

	logger.WithFields(fields).Debug("Detailed response logging")
}

// maskHeaders flattens headers, replacing sensitive values
func maskHeaders(h http.Header, sensitive []string) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if isSensitiveHeader(name, sensitive) {
			out[name] = maskedValue
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// responseCaptureWrapper tees the response body into a buffer
type responseCaptureWrapper struct {
	*responseWrapper
	body    *bytes.Buffer
	headers http.Header
}

func (rc *responseCaptureWrapper) Write(data []byte) (int, error) {
	if !rc.wroteHeader {
		rc.WriteHeader(http.StatusOK)
	}
	n, err := rc.responseWrapper.Write(data)
	if n > 0 {
		rc.body.Write(data[:n])
	}
	return n, err
}

func (rc *responseCaptureWrapper) WriteHeader(statusCode int) {
	if !rc.wroteHeader {
		for name, values := range rc.Header() {
			rc.headers[name] = values
		}
	}
	rc.responseWrapper.WriteHeader(statusCode)
}

func isSensitiveHeader(headerName string, sensitiveHeaders []string) bool {
	for _, sensitive := range sensitiveHeaders {
		if strings.EqualFold(sensitive, headerName) {
			return true
		}
	}
	return false
}

// shouldLogBody only allows text content types
func shouldLogBody(r *http.Request) bool {
	contentType := r.Header.Get("Content-Type")
	for _, textType := range []string{"application/json", "text/", "application/x-www-form-urlencoded"} {
		if strings.Contains(contentType, textType) {
			return true
		}
	}
	return false
}

