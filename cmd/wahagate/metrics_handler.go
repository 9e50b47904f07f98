package main

import (
	"encoding/json"
	"net/http"

	"wahagate/internal/metrics"
	"wahagate/internal/service"
	"wahagate/internal/tracing"

	"github.com/sirupsen/logrus"
)

// handleMetrics serves a JSON snapshot of the in-process registry
func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestInfo := tracing.GetRequestInfo(r.Context())
		snapshot := metrics.GetAllMetrics()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(snapshot); err != nil {
			s.logger.WithFields(logrus.Fields{
				service.LogFieldRequestID: requestInfo.RequestID,
				service.LogFieldTraceID:   requestInfo.TraceID,
			}).WithError(err).Error("Failed to encode metrics response")
			return
		}

		s.logger.WithFields(logrus.Fields{
			service.LogFieldRequestID: requestInfo.RequestID,
			service.LogFieldCount:     len(snapshot.Counters) + len(snapshot.Timers) + len(snapshot.Gauges),
		}).Debug("Metrics endpoint served")
	}
}
