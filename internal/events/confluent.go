package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// confluentProducer is the subset of *ck.Producer the publisher uses.
type confluentProducer interface {
	Produce(msg *ck.Message, deliveryChan chan ck.Event) error
	Flush(timeoutMs int) int
	Close()
}

// ConfluentPublisher produces through librdkafka with idempotence enabled
// and waits for the delivery report of every event.
type ConfluentPublisher struct {
	p     confluentProducer
	topic string
}

func NewConfluentPublisher(brokers []string, topic string) (*ConfluentPublisher, error) {
	p, err := ck.NewProducer(&ck.ConfigMap{
		"bootstrap.servers":  strings.Join(brokers, ","),
		"enable.idempotence": true,
		"acks":               "all",
	})
	if err != nil {
		return nil, fmt.Errorf("producer: %w", err)
	}
	return &ConfluentPublisher{p: p, topic: topic}, nil
}

// NewConfluentPublisherWith is only for tests to inject a fake producer.
func NewConfluentPublisherWith(p confluentProducer, topic string) *ConfluentPublisher {
	return &ConfluentPublisher{p: p, topic: topic}
}

func (c *ConfluentPublisher) Publish(ctx context.Context, e Event) error {
	b, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	delivery := make(chan ck.Event, 1)
	err = c.p.Produce(&ck.Message{
		TopicPartition: ck.TopicPartition{Topic: &c.topic, Partition: ck.PartitionAny},
		Key:            []byte(e.Key()),
		Value:          b,
	}, delivery)
	if err != nil {
		return fmt.Errorf("produce: %w", err)
	}
	select {
	case ev := <-delivery:
		m, ok := ev.(*ck.Message)
		if !ok {
			return fmt.Errorf("delivery: unexpected event %v", ev)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery: %w", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("delivery: %w", ctx.Err())
	}
}

func (c *ConfluentPublisher) Close() error {
	c.p.Flush(5000)
	c.p.Close()
	return nil
}
