package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"wahagate/internal/constants"
	"wahagate/internal/httputil"
	"wahagate/internal/metrics"
	"wahagate/internal/privacy"
	"wahagate/internal/service"
	"wahagate/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var activeRequests atomic.Int64

// routeLabel is the matched route template, so metrics do not fan out per org
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// requestID reuses a caller supplied id when it is sane, otherwise generates one
func requestID(r *http.Request) string {
	if id := r.Header.Get(constants.DefaultRequestIDHeader); id != "" && len(id) <= 128 {
		return id
	}
	return tracing.GenerateRequestID()
}

// ObservabilityMiddleware adds request ids, spans, metrics and access logs.
// It is installed with Router.Use so the matched route is known.
func ObservabilityMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := routeLabel(r)
			ctx, span := tracing.WithOtelTracing(r.Context(), "http "+route)
			defer span.End()

			reqID := requestID(r)
			ctx = tracing.WithRequestID(ctx, reqID)
			ctx = tracing.WithStartTime(ctx, time.Now())
			if org := mux.Vars(r)["org"]; org != "" {
				ctx = tracing.WithOrgID(ctx, org)
			}
			r = r.WithContext(ctx)
			w.Header().Set(constants.DefaultRequestIDHeader, reqID)

			clientIP := httputil.GetClientIP(r)
			tracing.AddSpanAttributes(ctx,
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("user_agent.original", r.Header.Get("User-Agent")),
				attribute.String("client.address", clientIP),
			)

			requestInfo := tracing.GetRequestInfo(ctx)
			wrapper := newResponseWrapper(w)

			logger.WithFields(logrus.Fields{
				service.LogFieldRequestID: requestInfo.RequestID,
				service.LogFieldTraceID:   requestInfo.TraceID,
				service.LogFieldMethod:    r.Method,
				service.LogFieldRoute:     route,
				service.LogFieldRemoteIP:  clientIP,
				service.LogFieldUserAgent: r.Header.Get("User-Agent"),
			}).Debug("HTTP request started")

			metrics.SetGauge("http_requests_active", float64(activeRequests.Add(1)), nil, "Currently active HTTP requests")
			defer func() {
				metrics.SetGauge("http_requests_active", float64(activeRequests.Add(-1)), nil, "Currently active HTTP requests")
			}()

			next.ServeHTTP(wrapper, r)

			duration := tracing.Duration(ctx)
			status := wrapper.statusCode

			tracing.AddSpanAttributes(ctx,
				attribute.Int("http.response.status_code", status),
				attribute.Int64("http.response.size", wrapper.responseSize),
			)
			if status >= 500 {
				tracing.SetSpanStatus(ctx, codes.Error, fmt.Sprintf("HTTP %d", status))
			} else {
				tracing.SetSpanStatus(ctx, codes.Ok, "")
			}

			labels := map[string]string{
				"method":      r.Method,
				"route":       route,
				"status_code": strconv.Itoa(status),
			}
			metrics.RecordTimer("http_request_duration", duration, labels, "HTTP request duration")
			metrics.IncrementCounter("http_responses_total", labels, "HTTP responses by status code")

			logLevel := logrus.InfoLevel
			switch {
			case status >= 500:
				logLevel = logrus.ErrorLevel
			case status >= 400:
				logLevel = logrus.WarnLevel
			}

			logger.WithFields(logrus.Fields{
				service.LogFieldRequestID:  requestInfo.RequestID,
				service.LogFieldTraceID:    requestInfo.TraceID,
				service.LogFieldOrgID:      requestInfo.OrgID,
				service.LogFieldMethod:     r.Method,
				service.LogFieldRoute:      route,
				service.LogFieldStatusCode: status,
				service.LogFieldDuration:   duration.Milliseconds(),
				service.LogFieldRemoteIP:   clientIP,
				service.LogFieldSize:       wrapper.responseSize,
			}).Log(logLevel, "HTTP request completed")
		})
	}
}

// WebhookObservabilityMiddleware records per-organization inbound webhook metrics
func WebhookObservabilityMiddleware(logger *logrus.Logger, provider string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			orgID := mux.Vars(r)["org"]

			tracing.AddSpanAttributes(r.Context(),
				attribute.String("webhook.provider", provider),
				attribute.String("org_id", orgID),
				attribute.Int64("http.request.content_length", r.ContentLength),
			)

			wrapper := newResponseWrapper(w)
			next.ServeHTTP(wrapper, r)

			processingTime := time.Since(startTime)
			status := strconv.Itoa(wrapper.statusCode)

			metrics.RecordTimer("webhook_processing_duration", processingTime, map[string]string{
				"provider":    provider,
				"status_code": status,
			}, "Webhook processing duration")
			metrics.IncrementCounter("webhook_requests_total", map[string]string{
				"provider":    provider,
				"org_id":      orgID,
				"status_code": status,
			}, "Webhook requests by organization and status")

			if wrapper.statusCode < 400 {
				return
			}

			fields := privacy.MaskSensitiveFields(map[string]interface{}{
				service.LogFieldRequestID:  tracing.GetRequestID(r.Context()),
				service.LogFieldComponent:  provider,
				service.LogFieldOrgID:      orgID,
				service.LogFieldStatusCode: wrapper.statusCode,
				service.LogFieldDuration:   processingTime.Milliseconds(),
			})
			logger.WithFields(logrus.Fields(fields)).Warn("Webhook delivery not accepted")
		})
	}
}

// responseWrapper captures the status and size of a response
type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func newResponseWrapper(w http.ResponseWriter) *responseWrapper {
	return &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}

func (rw *responseWrapper) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the session stream upgrade to a websocket through the wrapper
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	rw.wroteHeader = true
	return h.Hijack()
}

func (rw *responseWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
