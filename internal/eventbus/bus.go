// Package eventbus is an in-process topic registry with bounded
// per-subscriber queues.
//
// Publish never blocks on a slow subscriber: a full queue either evicts its
// oldest message or disconnects the subscriber, depending on policy. The
// registry lock is only held to snapshot or edit registrations, never while
// enqueueing.
package eventbus

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	id "redeem/pkg/domain"
)

// OverflowPolicy decides what happens when a subscriber queue is full.
type OverflowPolicy string

const (
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	OverflowDisconnect OverflowPolicy = "disconnect"
)

const DefaultQueueSize = 64

// Option configures a Bus.
type Option func(*options)

type options struct {
	queueSize int
	policy    OverflowPolicy
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// WithQueueSize sets the per-subscription buffer.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithOverflowPolicy sets the full-queue behavior.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(o *options) {
		if p == OverflowDisconnect || p == OverflowDropOldest {
			o.policy = p
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Bus fans messages out to subscriptions keyed by topic.
type Bus[T any] struct {
	opts options

	mu      sync.RWMutex
	byTopic map[id.Topic][]*Subscription[T]
	byID    map[id.SubscriptionID]*Subscription[T]
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Subscriptions int
	Topics        int
}

func New[T any](opts ...Option) *Bus[T] {
	o := options{
		queueSize: DefaultQueueSize,
		policy:    OverflowDropOldest,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Bus[T]{
		opts:    o,
		byTopic: make(map[id.Topic][]*Subscription[T]),
		byID:    make(map[id.SubscriptionID]*Subscription[T]),
	}
}

// Subscribe registers interest in topic. The subscription ends on Close,
// Unsubscribe, or when ctx is done.
func (b *Bus[T]) Subscribe(ctx context.Context, topic id.Topic) (*Subscription[T], error) {
	if err := topic.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &Subscription[T]{
		id:        id.NewSubscriptionID(),
		topic:     topic,
		createdAt: b.opts.now(),
		bus:       b,
		ch:        make(chan Message[T], b.opts.queueSize),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	b.byTopic[topic] = append(b.byTopic[topic], sub)
	b.byID[sub.id] = sub
	active := len(b.byID)
	b.mu.Unlock()
	b.opts.metrics.setActive(active)

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				b.Unsubscribe(sub.id)
			case <-sub.done:
			}
		}()
	}
	return sub, nil
}

// Unsubscribe removes the registration and closes its channel. Unknown or
// already removed ids are a no-op. Once it returns, nothing more is enqueued
// for that subscription.
func (b *Bus[T]) Unsubscribe(subID id.SubscriptionID) {
	sub := b.remove(subID)
	if sub == nil {
		return
	}
	sub.close(nil)
}

func (b *Bus[T]) remove(subID id.SubscriptionID) *Subscription[T] {
	b.mu.Lock()
	sub, ok := b.byID[subID]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	delete(b.byID, subID)
	subs := b.byTopic[sub.topic]
	if i := slices.Index(subs, sub); i >= 0 {
		// Copy so snapshots taken by in-flight publishes stay intact.
		subs = slices.Delete(slices.Clone(subs), i, i+1)
	}
	if len(subs) == 0 {
		delete(b.byTopic, sub.topic)
	} else {
		b.byTopic[sub.topic] = subs
	}
	active := len(b.byID)
	b.mu.Unlock()

	b.opts.metrics.setActive(active)
	return sub
}

// Publish delivers payload to every live subscription on topic in
// registration order. Zero subscribers is a no-op.
func (b *Bus[T]) Publish(topic id.Topic, payload T) {
	b.mu.RLock()
	subs := b.byTopic[topic]
	b.mu.RUnlock()

	b.opts.metrics.incPublished(string(topic.Kind))
	if len(subs) == 0 {
		return
	}

	msg := Message[T]{Topic: topic, Payload: payload}
	for _, sub := range subs {
		switch sub.deliver(msg, b.opts.policy) {
		case resultDelivered:
			b.opts.metrics.incDelivered()
		case resultDroppedOldest:
			b.opts.metrics.incDelivered()
			b.opts.metrics.incDropped()
		case resultDisconnected:
			b.opts.metrics.incDisconnected()
			b.remove(sub.id)
			if b.opts.logger != nil {
				b.opts.logger.Warn("subscriber disconnected on overflow",
					"subscription_id", sub.id,
					"topic", topic.String(),
				)
			}
		}
	}
}

// Stats reports registry size.
func (b *Bus[T]) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{Subscriptions: len(b.byID), Topics: len(b.byTopic)}
}

// Close ends every subscription. Used on shutdown.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	subs := make([]*Subscription[T], 0, len(b.byID))
	for _, sub := range b.byID {
		subs = append(subs, sub)
	}
	b.byID = make(map[id.SubscriptionID]*Subscription[T])
	b.byTopic = make(map[id.Topic][]*Subscription[T])
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close(nil)
	}
	b.opts.metrics.setActive(0)
}
