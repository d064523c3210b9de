// Package notification fans committed redemption events out to observers.
package notification

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"redeem/internal/redemption/models"
	id "redeem/pkg/domain"
)

// DefaultSinkBuffer is how many committed batches may wait for sinks.
const DefaultSinkBuffer = 256

// Publisher is the bus surface the coordinator needs.
type Publisher interface {
	Publish(topic id.Topic, payload models.Notification)
}

// Sink receives the same events as the bus, after bus publication. Sinks run
// on the coordinator's own goroutine; a sink failure never reaches the caller.
type Sink interface {
	Name() string
	Send(ctx context.Context, events []models.Event) error
}

type sinkBatch struct {
	ctx       context.Context
	requestID id.RequestID
	events    []models.Event
}

// Coordinator maps each event to every topic it concerns.
type Coordinator struct {
	bus        Publisher
	sinks      []Sink
	logger     *slog.Logger
	sinkBuffer int

	mu     sync.RWMutex
	closed bool
	queue  chan sinkBatch
	done   chan struct{}
}

// Option configures the Coordinator.
type Option func(*Coordinator)

func WithSink(s Sink) Option {
	return func(c *Coordinator) {
		if s != nil {
			c.sinks = append(c.sinks, s)
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSinkBuffer bounds the batches queued for sinks. When full, new batches
// are dropped and logged.
func WithSinkBuffer(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.sinkBuffer = n
		}
	}
}

// New starts the sink worker when at least one sink is configured. Call
// Close to drain it.
func New(bus Publisher, opts ...Option) *Coordinator {
	c := &Coordinator{
		bus:        bus,
		logger:     slog.New(slog.DiscardHandler),
		sinkBuffer: DefaultSinkBuffer,
	}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.sinks) > 0 {
		c.queue = make(chan sinkBatch, c.sinkBuffer)
		c.done = make(chan struct{})
		go c.runSinks()
	}
	return c
}

// Topics lists the topics an event on req is published under: the request,
// its investor when set, and every approver on the request.
func Topics(req *models.RedemptionRequest) []id.Topic {
	topics := make([]id.Topic, 0, len(req.Approvers)+2)
	topics = append(topics, id.RequestTopic(req.ID))
	if !req.InvestorID.IsZero() {
		topics = append(topics, id.InvestorTopic(req.InvestorID))
	}
	for _, a := range req.Approvers {
		topics = append(topics, id.ApproverTopic(a.ID))
	}
	return topics
}

// Notify publishes events in the given order. It never recomputes state:
// payloads are exactly what the engine committed. Sinks are only enqueued
// here, so Notify does no I/O.
func (c *Coordinator) Notify(ctx context.Context, req *models.RedemptionRequest, events []models.Event) {
	if len(events) == 0 {
		return
	}
	topics := Topics(req)
	for _, ev := range events {
		for _, topic := range topics {
			c.bus.Publish(topic, ev.Payload)
		}
	}

	if c.queue != nil {
		c.enqueue(ctx, req.ID, events)
	}
}

// The batch keeps the caller's values (request id, trace) but not its
// cancellation: a client hanging up after the commit must not stop the relay.
func (c *Coordinator) enqueue(ctx context.Context, requestID id.RequestID, events []models.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.logger.WarnContext(ctx, "notification sinks closed, batch dropped",
			"request_id", requestID,
			"events", len(events),
		)
		return
	}
	select {
	case c.queue <- sinkBatch{ctx: context.WithoutCancel(ctx), requestID: requestID, events: slices.Clone(events)}:
	default:
		c.logger.WarnContext(ctx, "notification sink buffer full, batch dropped",
			"request_id", requestID,
			"events", len(events),
		)
	}
}

func (c *Coordinator) runSinks() {
	defer close(c.done)
	for batch := range c.queue {
		for _, sink := range c.sinks {
			if err := sink.Send(batch.ctx, batch.events); err != nil {
				c.logger.WarnContext(batch.ctx, "notification sink failed",
					"sink", sink.Name(),
					"request_id", batch.requestID,
					"events", len(batch.events),
					"error", err,
				)
			}
		}
	}
}

// Close stops accepting sink batches and waits until queued ones are sent.
// Bus publication is unaffected. Safe to call more than once.
func (c *Coordinator) Close() {
	if c.queue == nil {
		return
	}
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	c.mu.Unlock()
	<-c.done
}
