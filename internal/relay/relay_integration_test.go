//go:build integration

package relay_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"redeem/internal/platform/config"
	"redeem/internal/platform/kafka"
	"redeem/internal/redemption/models"
	"redeem/internal/relay"
	"redeem/pkg/testutil/containers"
)

func TestRelay_ProducesToBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	broker := containers.GetManager().GetRedpanda(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := config.KafkaConfig{Brokers: []string{broker.Broker}, Topic: "redemption-events-it", Partitions: 1}
	producer, err := kafka.NewProducer(cfg)
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, kafka.EnsureTopic(ctx, producer, cfg.Topic, cfg.Partitions))

	r := relay.New(producer)
	require.NoError(t, r.Send(ctx, []models.Event{
		{RequestID: "R1", Kind: models.EventCreated, Sequence: 1,
			Payload: models.Notification{RequestID: "R1", Kind: models.EventCreated, Sequence: 1}},
		{RequestID: "R1", Kind: models.EventApproved, Sequence: 2,
			Payload: models.Notification{RequestID: "R1", Kind: models.EventApproved, Sequence: 2}},
	}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.Broker),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	var kinds []string
	for len(kinds) < 2 {
		fetches := consumer.PollFetches(ctx)
		require.NoError(t, ctx.Err())
		fetches.EachRecord(func(rec *kgo.Record) {
			require.Equal(t, "R1", string(rec.Key))
			kinds = append(kinds, string(rec.Headers[0].Value))
		})
	}
	require.Equal(t, []string{"Created", "Approved"}, kinds)
}
