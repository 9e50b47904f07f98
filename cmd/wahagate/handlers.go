package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"wahagate/internal/errors"
	"wahagate/internal/httputil"
	"wahagate/internal/models"
	"wahagate/internal/service"
	"wahagate/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	maxAdminBodyBytes = 64 << 10
	healthPingTimeout = 2 * time.Second
)

// ingestResponse is the body returned to the provider
type ingestResponse struct {
	Outcome models.Outcome          `json:"outcome"`
	EventID string                  `json:"event_id,omitempty"`
	Status  models.ProcessingStatus `json:"status,omitempty"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()

		if err := s.health.Ping(ctx); err != nil {
			s.logger.WithError(err).Warn("Health check failed: database unreachable")
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "unavailable",
				"database": "unreachable",
			})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{
			"status":   "ok",
			"database": "ok",
			"version":  Version,
		})
	}
}

func (s *Server) handleWAHAWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := tracing.GetRequestID(ctx)
		orgID := mux.Vars(r)["org"]

		r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.Server.MaxBodyBytes))
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			reason := "unreadable body"
			if stderrors.As(err, &tooLarge) {
				reason = "body too large"
			}
			writeStatusError(w, http.StatusBadRequest, errors.NewInvalidPayloadError(reason, err), requestID)
			return
		}

		if err := s.verifier.Verify(r, body); err != nil {
			s.logger.WithFields(logrus.Fields{
				service.LogFieldOrgID:     orgID,
				service.LogFieldRequestID: requestID,
			}).WithError(err).Warn("Webhook signature rejected")
			writeStatusError(w, http.StatusBadRequest, errors.NewInvalidPayloadError("signature verification failed", err), requestID)
			return
		}

		res := s.ingestor.Accept(ctx, orgID, r.URL.Query().Get("session"), body)
		writeIngestResult(w, res, requestID)
	}
}

// writeIngestResult maps an ingestion outcome onto the provider-facing status code
func writeIngestResult(w http.ResponseWriter, res models.IngestResult, requestID string) {
	resp := ingestResponse{Outcome: res.Outcome, EventID: res.EventID, Status: res.Status}

	switch res.Outcome {
	case models.OutcomeAccepted, models.OutcomeDuplicate:
		httputil.WriteJSON(w, http.StatusOK, resp)
	case models.OutcomeRateLimited:
		if res.Queued {
			httputil.WriteJSON(w, http.StatusAccepted, resp)
			return
		}
		httputil.SetRetryAfter(w, time.Now(), res.ResetAt)
		err := res.Err
		if err == nil {
			err = errors.NewRateLimitError(res.LimitType, 0, "")
		}
		writeStatusError(w, http.StatusTooManyRequests, err, requestID)
	case models.OutcomeInvalid:
		writeStatusError(w, http.StatusBadRequest, res.Err, requestID)
	default:
		writeStatusError(w, http.StatusInternalServerError, res.Err, requestID)
	}
}

// writeStatusError writes the standard error body with a fixed status,
// regardless of what the error code would map to
func writeStatusError(w http.ResponseWriter, status int, err error, requestID string) {
	httputil.WriteJSON(w, status, errors.ToHTTPResponse(err, requestID))
}

// decodeJSON reads a bounded JSON body into v
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "malformed request body").
			WithUserMessage("Malformed request body")
	}
	return nil
}

func listLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.NewValidationError("limit", raw, "limit must be a non-negative integer")
	}
	return n, nil
}

func (s *Server) handleCreateOrganization() http.HandlerFunc {
	type request struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := tracing.GetRequestID(r.Context())
		var req request
		if err := decodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, err, requestID)
			return
		}
		org, err := s.admin.CreateOrganization(r.Context(), req.ID, req.Name)
		if err != nil {
			httputil.WriteError(w, err, requestID)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, org)
	}
}

func (s *Server) handleListSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := s.admin.ListSessions(r.Context(), mux.Vars(r)["org"])
		if err != nil {
			httputil.WriteError(w, err, tracing.GetRequestID(r.Context()))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
	}
}

func (s *Server) handleCreateSession() http.HandlerFunc {
	type request struct {
		SessionID       string `json:"session_id"`
		ChannelConfigID string `json:"channel_config_id"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := tracing.GetRequestID(r.Context())
		var req request
		if err := decodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, err, requestID)
			return
		}
		session, err := s.admin.CreateSession(r.Context(), mux.Vars(r)["org"], req.SessionID, req.ChannelConfigID)
		if err != nil {
			httputil.WriteError(w, err, requestID)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, session)
	}
}

func (s *Server) handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		session, err := s.admin.GetSession(r.Context(), vars["org"], vars["session"])
		if err != nil {
			httputil.WriteError(w, err, tracing.GetRequestID(r.Context()))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, session)
	}
}

func (s *Server) handleArchiveSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if err := s.admin.ArchiveSession(r.Context(), vars["org"], vars["session"]); err != nil {
			httputil.WriteError(w, err, tracing.GetRequestID(r.Context()))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleResetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		session, err := s.admin.ResetSession(r.Context(), vars["org"], vars["session"])
		if err != nil {
			httputil.WriteError(w, err, tracing.GetRequestID(r.Context()))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, session)
	}
}

func (s *Server) handleListEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := tracing.GetRequestID(r.Context())
		limit, err := listLimit(r)
		if err != nil {
			httputil.WriteError(w, err, requestID)
			return
		}
		events, err := s.admin.ListEvents(r.Context(), mux.Vars(r)["org"], r.URL.Query().Get("status"), limit)
		if err != nil {
			httputil.WriteError(w, err, requestID)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events})
	}
}

func (s *Server) handleReplayEvent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if err := s.admin.ReplayEvent(r.Context(), vars["org"], vars["id"]); err != nil {
			httputil.WriteError(w, err, tracing.GetRequestID(r.Context()))
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
			"id":     vars["id"],
			"status": string(models.StatusRetry),
		})
	}
}

func (s *Server) handleRegisterWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := tracing.GetRequestID(r.Context())
		var req service.SubscriptionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			httputil.WriteError(w, err, requestID)
			return
		}
		reg, err := s.admin.RegisterSubscription(r.Context(), mux.Vars(r)["org"], req)
		if err != nil {
			httputil.WriteError(w, err, requestID)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, reg)
	}
}

func (s *Server) handleListDeliveries() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := tracing.GetRequestID(r.Context())
		limit, err := listLimit(r)
		if err != nil {
			httputil.WriteError(w, err, requestID)
			return
		}
		deliveries, err := s.admin.ListDeliveries(r.Context(), mux.Vars(r)["org"], r.URL.Query().Get("status"), limit)
		if err != nil {
			httputil.WriteError(w, err, requestID)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"deliveries": deliveries})
	}
}

// handleSessionStream upgrades to a websocket feed of the organization's session changes
func (s *Server) handleSessionStream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := mux.Vars(r)["org"]
		if _, err := s.admin.ListSessions(r.Context(), orgID); err != nil {
			httputil.WriteError(w, err, tracing.GetRequestID(r.Context()))
			return
		}

		// the server write timeout would otherwise cut long-lived streams
		rc := http.NewResponseController(w)
		_ = rc.SetWriteDeadline(time.Time{})
		_ = rc.SetReadDeadline(time.Time{})

		if err := s.stream.Serve(w, r, orgID); err != nil {
			s.logger.WithField(service.LogFieldOrgID, orgID).WithError(err).Debug("Session stream closed")
		}
	}
}
