package notification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redeem/internal/eventbus"
	"redeem/internal/redemption/models"
	id "redeem/pkg/domain"
	"redeem/pkg/testutil"
)

type recordingSink struct {
	mu  sync.Mutex
	got [][]models.Event
	err error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, events []models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, events)
	return s.err
}

func (s *recordingSink) batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

// stalledSink blocks every Send until release is closed and records the
// context state it was handed.
type stalledSink struct {
	release chan struct{}

	mu      sync.Mutex
	sent    int
	ctxErrs []error
}

func newStalledSink() *stalledSink {
	return &stalledSink{release: make(chan struct{})}
}

func (s *stalledSink) Name() string { return "stalled" }

func (s *stalledSink) Send(ctx context.Context, _ []models.Event) error {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return nil
}

func newRequest(t *testing.T, investor id.InvestorID) *models.RedemptionRequest {
	t.Helper()
	req, err := models.NewRedemptionRequest("r-1", investor, []id.ApproverID{"alice", "bob"}, 2, nil, time.Now())
	require.NoError(t, err)
	return req
}

func approvalEvents(req *models.RedemptionRequest) []models.Event {
	b := models.NewEventBuilder(req, time.Now())
	b.Add(models.EventApproved, "alice", "", "")
	b.Add(models.EventQuorumReached, "alice", "", "")
	return b.Events()
}

func TestTopics(t *testing.T) {
	t.Run("with investor", func(t *testing.T) {
		got := Topics(newRequest(t, "inv-1"))
		assert.Equal(t, []id.Topic{
			id.RequestTopic("r-1"),
			id.InvestorTopic("inv-1"),
			id.ApproverTopic("alice"),
			id.ApproverTopic("bob"),
		}, got)
	})

	t.Run("without investor", func(t *testing.T) {
		got := Topics(newRequest(t, ""))
		assert.Len(t, got, 3)
		assert.NotContains(t, got, id.InvestorTopic(""))
	})
}

func TestNotify_PublishesEveryEventOnEveryTopicInOrder(t *testing.T) {
	bus := eventbus.New[models.Notification]()
	req := newRequest(t, "inv-1")

	var subs []*eventbus.Subscription[models.Notification]
	for _, topic := range Topics(req) {
		sub, err := bus.Subscribe(context.Background(), topic)
		require.NoError(t, err)
		subs = append(subs, sub)
	}
	unrelated, err := bus.Subscribe(context.Background(), id.ApproverTopic("mallory"))
	require.NoError(t, err)

	events := approvalEvents(req)
	New(bus).Notify(context.Background(), req, events)

	for _, sub := range subs {
		for _, want := range events {
			select {
			case msg := <-sub.C():
				assert.Equal(t, want.Kind, msg.Payload.Kind)
				assert.Equal(t, want.Sequence, msg.Payload.Sequence)
			default:
				t.Fatalf("topic %s missed %s", sub.Topic(), want.Kind)
			}
		}
	}
	select {
	case <-unrelated.C():
		t.Fatal("unrelated approver received an event")
	default:
	}
}

func TestNotify_SinkFailureIsContained(t *testing.T) {
	testutil.Given(t, "a failing sink registered before a healthy one", func(t *testing.T) {
		bus := eventbus.New[models.Notification]()
		req := newRequest(t, "")
		failing := &recordingSink{err: errors.New("broker down")}
		healthy := &recordingSink{}

		c := New(bus,
			WithSink(failing),
			WithSink(healthy),
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		)

		sub, err := bus.Subscribe(context.Background(), id.RequestTopic(req.ID))
		require.NoError(t, err)

		testutil.When(t, "events are notified and the sinks drained", func(t *testing.T) {
			assert.NotPanics(t, func() { c.Notify(context.Background(), req, approvalEvents(req)) })
			c.Close()

			testutil.Then(t, "every sink sees the batch and the bus still delivers", func(t *testing.T) {
				assert.Equal(t, 1, failing.batches())
				assert.Equal(t, 1, healthy.batches(), "a failing sink does not starve the next one")
				assert.Len(t, sub.C(), 2, "bus publication happens before sinks")
			})
		})
	})
}

func TestNotify_NoEvents(t *testing.T) {
	sink := &recordingSink{}
	c := New(eventbus.New[models.Notification](), WithSink(sink))
	c.Notify(context.Background(), newRequest(t, ""), nil)
	c.Close()
	assert.Zero(t, sink.batches())
}

func TestNotify_StalledSinkDoesNotBlockCaller(t *testing.T) {
	bus := eventbus.New[models.Notification]()
	req := newRequest(t, "")
	sink := newStalledSink()
	c := New(bus, WithSink(sink))

	sub, err := bus.Subscribe(context.Background(), id.RequestTopic(req.ID))
	require.NoError(t, err)

	start := time.Now()
	c.Notify(context.Background(), req, approvalEvents(req))
	c.Notify(context.Background(), req, approvalEvents(req))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Len(t, sub.C(), 4, "bus delivery does not wait for sinks")

	close(sink.release)
	c.Close()
	assert.Equal(t, 2, sink.sent, "Close drains queued batches")
}

func TestNotify_SinkContextOutlivesCaller(t *testing.T) {
	req := newRequest(t, "")
	sink := newStalledSink()
	c := New(eventbus.New[models.Notification](), WithSink(sink))

	ctx, cancel := context.WithCancel(context.Background())
	c.Notify(ctx, req, approvalEvents(req))
	cancel()

	close(sink.release)
	c.Close()
	require.Len(t, sink.ctxErrs, 1)
	assert.NoError(t, sink.ctxErrs[0], "caller cancellation must not reach the sink")
}

func TestNotify_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	req := newRequest(t, "")
	sink := newStalledSink()
	c := New(eventbus.New[models.Notification](), WithSink(sink), WithSinkBuffer(1))

	start := time.Now()
	for range 5 {
		c.Notify(context.Background(), req, approvalEvents(req))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(sink.release)
	c.Close()
	// One batch may be in the worker's hands and one in the buffer.
	assert.GreaterOrEqual(t, sink.sent, 1)
	assert.LessOrEqual(t, sink.sent, 2)
}

func TestNotify_AfterCloseStillPublishes(t *testing.T) {
	bus := eventbus.New[models.Notification]()
	req := newRequest(t, "")
	sink := &recordingSink{}
	c := New(bus, WithSink(sink))
	c.Close()
	c.Close()

	sub, err := bus.Subscribe(context.Background(), id.RequestTopic(req.ID))
	require.NoError(t, err)
	assert.NotPanics(t, func() { c.Notify(context.Background(), req, approvalEvents(req)) })
	assert.Len(t, sub.C(), 2)
	assert.Zero(t, sink.batches())
}
