package orderlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Mirror appends to the primary log and copies each record to a Kafka topic
// so operators can reconcile offline orders. The primary log is the source of
// truth: a mirror failure is logged and never fails the append.
type Mirror struct {
	Log
	writer  kafkaMessageWriter
	timeout time.Duration
	log     zerolog.Logger
}

// NewKafkaMirror wraps primary with a synchronous kafka-go writer.
func NewKafkaMirror(primary Log, brokers []string, topic string, logger zerolog.Logger) *Mirror {
	return NewMirrorWith(primary, &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}, logger)
}

// NewMirrorWith is used by tests to inject a fake writer.
func NewMirrorWith(primary Log, w kafkaMessageWriter, logger zerolog.Logger) *Mirror {
	return &Mirror{
		Log:     primary,
		writer:  w,
		timeout: 5 * time.Second,
		log:     logger.With().Str("component", "orderlog").Logger(),
	}
}

func (m *Mirror) Append(r Record) error {
	if err := m.Log.Append(r); err != nil {
		return err
	}
	if err := m.mirror(r); err != nil {
		m.log.Warn().Err(err).Str("order", r.Order.ID).Msg("fallback record not mirrored")
	}
	return nil
}

func (m *Mirror) mirror(r Record) error {
	b, err := json.Marshal(&r)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	return m.writer.WriteMessages(ctx, kafka.Message{Key: []byte(r.Order.ID), Value: b})
}

// Close closes the Kafka writer when it supports it.
func (m *Mirror) Close() error {
	if c, ok := m.writer.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
