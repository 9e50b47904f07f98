// Package broker publishes processed events and dead letters to Kafka.
//
// A Producer holds one writer for the pipeline topic and one for the
// dead-letter topic. Messages are keyed by org/session so a hash balancer
// keeps each session's events in order on one partition.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wahagate/internal/constants"
	"wahagate/internal/errors"
	"wahagate/internal/models"
	"wahagate/internal/service"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Message headers set on every record
const (
	HeaderEventType = "event_type"
	HeaderOrgID     = "org_id"
	HeaderKind      = "failure_kind"
)

// messageWriter is the subset of *kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventRecord is the value written to the pipeline topic
type EventRecord struct {
	OrgID      string          `json:"org_id"`
	SessionID  string          `json:"session_id"`
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	EventClass string          `json:"event_class"`
	HasMedia   bool            `json:"has_media"`
	ReceivedAt time.Time       `json:"received_at"`
	Body       json.RawMessage `json:"body"`
}

// Producer implements service.MessagePipeline and service.AlertSink on Kafka
type Producer struct {
	main         messageWriter
	dlq          messageWriter
	topic        string
	dlqTopic     string
	writeTimeout time.Duration
	logger       *logrus.Logger
}

var (
	_ service.MessagePipeline = (*Producer)(nil)
	_ service.AlertSink       = (*Producer)(nil)
)

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 5 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		// Writes must be synchronous: a failed publish has to fail the handler so the event is retried
		Async: false,
	}
}

func NewProducer(cfg models.KafkaConfig, logger *logrus.Logger) (*Producer, error) {
	if !cfg.Enabled() {
		return nil, errors.NewConfigError("kafka.brokers", "at least one broker is required")
	}
	topic := cfg.Topic
	if topic == "" {
		topic = constants.DefaultKafkaPipelineTopic
	}
	dlqTopic := cfg.DeadLetterTopic
	if dlqTopic == "" {
		dlqTopic = constants.DefaultKafkaDeadLetterTopic
	}
	return newProducer(newWriter(cfg.Brokers, topic), newWriter(cfg.Brokers, dlqTopic), topic, dlqTopic, cfg.WriteTimeoutSec, logger), nil
}

func newProducer(main, dlq messageWriter, topic, dlqTopic string, writeTimeoutSec int, logger *logrus.Logger) *Producer {
	timeout := time.Duration(writeTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = time.Duration(constants.DefaultKafkaWriteTimeoutSec) * time.Second
	}
	return &Producer{
		main:         main,
		dlq:          dlq,
		topic:        topic,
		dlqTopic:     dlqTopic,
		writeTimeout: timeout,
		logger:       logger,
	}
}

func messageKey(orgID, sessionID string) []byte {
	return []byte(orgID + "/" + sessionID)
}

// Publish writes evt to the pipeline topic
func (p *Producer) Publish(ctx context.Context, evt *models.InboundEvent) error {
	value, err := json.Marshal(EventRecord{
		OrgID:      evt.OrgID,
		SessionID:  evt.SessionID,
		EventID:    evt.EventID,
		EventType:  evt.EventType,
		EventClass: string(evt.EventClass),
		HasMedia:   evt.HasMedia,
		ReceivedAt: evt.ReceivedAt,
		Body:       evt.Payload,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodePipeline, "failed to encode event record")
	}

	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	err = p.main.WriteMessages(ctx, kafka.Message{
		Key:   messageKey(evt.OrgID, evt.SessionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(evt.EventType)},
			{Key: HeaderOrgID, Value: []byte(evt.OrgID)},
		},
	})
	if err != nil {
		return errors.NewAPIError("pipeline", p.topic, 0, err)
	}
	return nil
}

// Report writes a permanent failure to the dead-letter topic
func (p *Producer) Report(ctx context.Context, f service.PermanentFailure) error {
	value, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	err = p.dlq.WriteMessages(ctx, kafka.Message{
		Key:   messageKey(f.OrgID, f.SessionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderKind, Value: []byte(f.Kind)},
			{Key: HeaderOrgID, Value: []byte(f.OrgID)},
		},
	})
	if err != nil {
		return errors.NewAPIError("pipeline", p.dlqTopic, 0, err)
	}

	p.logger.WithFields(logrus.Fields{
		service.LogFieldOrgID:     f.OrgID,
		service.LogFieldComponent: "dead_letter",
		"entity_id":               f.EntityID,
		"kind":                    f.Kind,
	}).Warn("Permanent failure written to dead-letter topic")
	return nil
}

// Close flushes and closes both writers
func (p *Producer) Close() error {
	mainErr := p.main.Close()
	dlqErr := p.dlq.Close()
	if mainErr != nil {
		return fmt.Errorf("failed to close pipeline writer: %w", mainErr)
	}
	if dlqErr != nil {
		return fmt.Errorf("failed to close dead-letter writer: %w", dlqErr)
	}
	return nil
}
