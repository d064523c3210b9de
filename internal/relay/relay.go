// Package relay forwards committed redemption events to Kafka so systems
// outside the process can follow the approval lifecycle.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"redeem/internal/redemption/models"
	"redeem/pkg/platform/circuit"
)

// ErrCircuitOpen is returned while the broker is considered unavailable.
var ErrCircuitOpen = errors.New("kafka relay circuit open")

// Producer is the subset of *kgo.Client the relay needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Relay is a notification sink. Records are keyed by request id so one
// request's events land on one partition in sequence order.
type Relay struct {
	producer Producer
	topic    string
	breaker  *circuit.Breaker
	metrics  *Metrics
	logger   *slog.Logger
	timeout  time.Duration
}

type Option func(*Relay)

// WithTopic overrides the client's default produce topic.
func WithTopic(topic string) Option {
	return func(r *Relay) { r.topic = topic }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(r *Relay) {
		if b != nil {
			r.breaker = b
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTimeout bounds each produce call.
func WithTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func New(producer Producer, opts ...Option) *Relay {
	r := &Relay{
		producer: producer,
		breaker:  circuit.New("kafka-relay"),
		logger:   slog.New(slog.DiscardHandler),
		timeout:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) Name() string { return "kafka" }

// Send produces events in order. While the breaker is open it fails fast
// with ErrCircuitOpen and the events are not relayed.
func (r *Relay) Send(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	if !r.breaker.Allow() {
		r.metrics.addSkipped(len(events))
		return ErrCircuitOpen
	}

	records := make([]*kgo.Record, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("encode %s event: %w", ev.Kind, err)
		}
		records = append(records, &kgo.Record{
			Topic:     r.topic,
			Key:       []byte(ev.RequestID),
			Value:     value,
			Timestamp: ev.OccurredAt,
			Headers: []kgo.RecordHeader{
				{Key: "kind", Value: []byte(ev.Kind)},
			},
		})
	}

	produceCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.producer.ProduceSync(produceCtx, records...).FirstErr(); err != nil {
		_, change := r.breaker.RecordFailure()
		r.metrics.addFailed(len(events))
		if change.Opened {
			r.metrics.setOpen(true)
			r.logger.ErrorContext(ctx, "kafka relay circuit opened",
				"breaker", r.breaker.Name(),
				"error", err,
			)
		}
		return fmt.Errorf("produce %d records: %w", len(records), err)
	}

	_, change := r.breaker.RecordSuccess()
	if change.Closed {
		r.metrics.setOpen(false)
		r.logger.InfoContext(ctx, "kafka relay circuit closed", "breaker", r.breaker.Name())
	}
	r.metrics.addProduced(len(events))
	return nil
}
