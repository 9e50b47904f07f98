// Package stream fans session state changes out to websocket clients.
package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"wahagate/internal/constants"
	"wahagate/internal/metrics"
	"wahagate/internal/models"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

type subscriber struct {
	orgID string
	ch    chan models.SessionChange
	// closeSlow drops a client that cannot keep up with its buffer
	closeSlow func()
}

// Hub implements service.SessionChangePublisher. Clients subscribe per
// organization and only receive that organization's changes.
type Hub struct {
	mu           sync.RWMutex
	subscribers  map[*subscriber]struct{}
	bufferSize   int
	writeTimeout time.Duration
	logger       *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		subscribers:  make(map[*subscriber]struct{}),
		bufferSize:   constants.DefaultStreamSubscriberBuffer,
		writeTimeout: time.Duration(constants.DefaultStreamWriteTimeoutSec) * time.Second,
		logger:       logger,
	}
}

// Publish delivers change to every subscriber of its organization without blocking
func (h *Hub) Publish(change models.SessionChange) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subscribers {
		if s.orgID != change.OrgID {
			continue
		}
		select {
		case s.ch <- change:
		default:
			metrics.IncrementCounter("stream_clients_dropped_total", nil, "Stream clients dropped for falling behind")
			go s.closeSlow()
		}
	}
}

// Subscribers returns the number of connected clients
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	h.subscribers[s] = struct{}{}
	h.mu.Unlock()
	metrics.SetGauge("stream_clients", float64(h.Subscribers()), nil, "Connected session stream clients")
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subscribers, s)
	h.mu.Unlock()
	metrics.SetGauge("stream_clients", float64(h.Subscribers()), nil, "Connected session stream clients")
}

// Serve upgrades the request and streams orgID's session changes as JSON
// until the client goes away or ctx ends
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, orgID string) error {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	var closeOnce sync.Once
	s := &subscriber{
		orgID: orgID,
		ch:    make(chan models.SessionChange, h.bufferSize),
		closeSlow: func() {
			closeOnce.Do(func() {
				h.logger.WithField("org_id", orgID).Warn("Dropping stream client that fell behind")
				conn.CloseNow()
			})
		},
	}
	h.add(s)
	defer h.remove(s)

	h.logger.WithField("org_id", orgID).Debug("Stream client connected")

	// The feed is one-way; CloseRead discards client frames and cancels ctx when the peer closes
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case change := <-s.ch:
			if err := h.write(ctx, conn, change); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, change models.SessionChange) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, change)
}
