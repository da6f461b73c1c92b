package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/playlist-converter/internal/events"
	"github.com/ytget/playlist-converter/internal/model"
)

const testChannel = "playlist-converter:events"

func newTestRelay(t *testing.T) (*RedisRelay, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRelay(client, testChannel), client, mr
}

func finishedEvent(jobID string) model.Event {
	return model.Event{
		Type:  model.EventJobFinished,
		JobID: jobID,
		Result: &model.JobResult{
			JobID:        jobID,
			PlaylistName: "Mix",
			Paths:        []string{"/music/Mix/a.mp3"},
			Total:        2,
			Completed:    1,
			Failed:       1,
		},
	}
}

func TestLastJob_Empty(t *testing.T) {
	relay, _, _ := newTestRelay(t)

	result, err := relay.LastJob(context.Background())
	assert.ErrorIs(t, err, ErrNoLastJob)
	assert.Nil(t, result)
}

func TestHandle_StoresLastJob(t *testing.T) {
	relay, _, mr := newTestRelay(t)

	relay.Handle(model.Event{Type: model.EventQueueReady, JobID: "job-1"})
	_, err := relay.LastJob(context.Background())
	assert.ErrorIs(t, err, ErrNoLastJob, "only job-finished is stored")

	relay.Handle(finishedEvent("job-1"))
	relay.Handle(finishedEvent("job-2"))

	result, err := relay.LastJob(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "job-2", result.JobID)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, []string{"/music/Mix/a.mp3"}, result.Paths)
	assert.Greater(t, mr.TTL(LastJobKey), time.Duration(0))
}

func TestHandle_PublishesEvents(t *testing.T) {
	relay, client, _ := newTestRelay(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, testChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	relay.Handle(model.Event{Type: model.EventItemUpdated, JobID: "job-1", Index: 3})

	select {
	case msg := <-sub.Channel():
		var event model.Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
		assert.Equal(t, model.EventItemUpdated, event.Type)
		assert.Equal(t, "job-1", event.JobID)
		assert.Equal(t, 3, event.Index)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestHandle_RedisDown(t *testing.T) {
	relay, _, mr := newTestRelay(t)
	mr.Close()

	assert.NotPanics(t, func() {
		relay.Handle(finishedEvent("job-1"))
	})
}

func TestAttach(t *testing.T) {
	relay, _, _ := newTestRelay(t)
	bus := events.NewBus()
	defer bus.Close()

	relay.Attach(bus, 16)
	require.Equal(t, 1, bus.Len())

	bus.Publish(finishedEvent("job-7"))

	require.Eventually(t, func() bool {
		result, err := relay.LastJob(context.Background())
		return err == nil && result.JobID == "job-7"
	}, 2*time.Second, 10*time.Millisecond)

	relay.Attach(bus, 16)
	assert.Equal(t, 1, bus.Len(), "re-attaching replaces the subscription")

	relay.Detach()
	require.Eventually(t, func() bool { return bus.Len() == 0 }, time.Second, 10*time.Millisecond)
	relay.Detach()
}
