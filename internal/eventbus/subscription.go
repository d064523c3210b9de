package eventbus

import (
	"sync"
	"time"

	id "redeem/pkg/domain"
	dErrors "redeem/pkg/domain-errors"
)

// Message is one delivery on a topic.
type Message[T any] struct {
	Topic   id.Topic
	Payload T
}

// Subscription is the owner's handle on a registration. The bus keeps only a
// registry entry; the owner drains C until it is closed.
type Subscription[T any] struct {
	id        id.SubscriptionID
	topic     id.Topic
	createdAt time.Time
	bus       *Bus[T]

	mu     sync.Mutex
	ch     chan Message[T]
	closed bool
	err    error
	done   chan struct{}
}

func (s *Subscription[T]) ID() id.SubscriptionID { return s.id }

func (s *Subscription[T]) Topic() id.Topic { return s.topic }

func (s *Subscription[T]) CreatedAt() time.Time { return s.createdAt }

// C delivers messages in publish order. It is closed on Unsubscribe,
// Close, owner context cancellation, or overflow disconnect.
//
// Publish order is not commit order: two commits racing on one request
// publish from their own goroutines, so their batches may arrive swapped or
// interleaved. Redemption notifications carry a per-request sequence that is
// unique and gap-free; consumers that need commit order sort by it.
func (s *Subscription[T]) C() <-chan Message[T] { return s.ch }

// Done is closed together with C.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended: nil while live or after a normal
// unsubscribe, CodeSubscriberOverflow after an overflow disconnect.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.bus.Unsubscribe(s.id)
}

type deliveryResult int

const (
	resultSkipped deliveryResult = iota
	resultDelivered
	resultDroppedOldest
	resultDisconnected
)

// deliver enqueues msg under the subscription lock. Only publishers send on
// ch and they are serialized here, so a pop always frees a slot.
func (s *Subscription[T]) deliver(msg Message[T], policy OverflowPolicy) deliveryResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return resultSkipped
	}
	select {
	case s.ch <- msg:
		return resultDelivered
	default:
	}

	if policy == OverflowDisconnect {
		s.closeLocked(dErrors.New(dErrors.CodeSubscriberOverflow, "subscriber queue overflowed"))
		return resultDisconnected
	}

	select {
	case <-s.ch:
	default:
	}
	s.ch <- msg
	return resultDroppedOldest
}

// closeLocked ends the subscription. Caller holds s.mu.
func (s *Subscription[T]) closeLocked(err error) bool {
	if s.closed {
		return false
	}
	s.closed = true
	s.err = err
	close(s.ch)
	close(s.done)
	return true
}

func (s *Subscription[T]) close(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked(err)
}
