package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"salon/internal/model"
)

type Type string

const (
	OrderCommitted     Type = "order.committed"
	OrderLocalFallback Type = "order.local_fallback"
	OrderReplayed      Type = "order.replayed"
)

const DefaultTopic = "salon.orders"

// Event hands a finished order to whoever composes the customer message.
type Event struct {
	Type  Type        `json:"type"`
	Order model.Order `json:"order"`
	At    time.Time   `json:"at"`
}

// Key is the partition key: order-<type>-<id>.
func (e Event) Key() string {
	return fmt.Sprintf("order-%s-%s", e.Type, e.Order.ID)
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// LogPublisher writes every event to a logger. basketd keeps it next to the
// broker producer so hand-offs stay visible when the broker is down.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) Publish(_ context.Context, e Event) error {
	p.Logger.Info().
		Str("type", string(e.Type)).
		Str("key", e.Key()).
		Str("order", e.Order.ID).
		Float64("total", e.Order.Total).
		Str("method", string(e.Order.Method)).
		Time("at", e.At).
		Msg("order event")
	return nil
}

// MultiPublisher publishes to every publisher and joins their errors.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SplitBrokers turns a comma-separated bootstrap list into addresses.
func SplitBrokers(bootstrap string) []string {
	var brokers []string
	for _, a := range strings.Split(bootstrap, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			brokers = append(brokers, a)
		}
	}
	return brokers
}
