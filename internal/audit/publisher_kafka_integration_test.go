//go:build integration

package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"charlog/pkg/testutil/containers"
)

func TestKafkaPublisher(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	kc := containers.NewKafkaContainer(t)
	const topic = "charlog.audit.test"

	publisher, err := NewKafkaPublisher(kc.Brokers, topic)
	require.NoError(t, err)
	defer publisher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	event := Event{
		Timestamp:  time.Now().UTC().Truncate(time.Millisecond),
		Action:     ActionSyncSucceeded,
		EntityKind: "facility",
		EntityID:   "fac-1",
		Registry:   "isometric",
		ExternalID: "ext-1",
		Outcome:    OutcomeSuccess,
	}
	require.NoError(t, publisher.Emit(ctx, event))

	consumer := kc.Consumer(t, topic)
	fetches := consumer.PollFetches(ctx)
	require.NoError(t, fetches.Err())

	records := fetches.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "facility:fac-1", string(records[0].Key))

	var got Event
	require.NoError(t, json.Unmarshal(records[0].Value, &got))
	assert.Equal(t, event.Action, got.Action)
	assert.Equal(t, event.EntityID, got.EntityID)
	assert.Equal(t, event.Registry, got.Registry)

	// The producer auto-created the topic.
	admin := kadm.NewClient(mustAdminClient(t, kc.Brokers))
	topics, err := admin.ListTopics(ctx)
	require.NoError(t, err)
	assert.True(t, topics.Has(topic))
}

func mustAdminClient(t *testing.T, brokers []string) *kgo.Client {
	t.Helper()
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}
