package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ytget/playlist-converter/internal/events"
	"github.com/ytget/playlist-converter/internal/model"
)

// Relay settings
const (
	LastJobKey     = "playlist-converter:last-job"
	LastJobTTL     = 7 * 24 * time.Hour
	PublishTimeout = 5 * time.Second
)

// ErrNoLastJob is returned by LastJob before any job finished
var ErrNoLastJob = errors.New("no finished job recorded")

// Source is anything events can be observed from
type Source interface {
	SubscribeFunc(buffer int, fn func(model.Event)) *events.Subscription
}

// RedisRelay publishes every event as JSON on a Redis channel and keeps the
// summary of the last finished job under LastJobKey
type RedisRelay struct {
	redis        *redis.Client
	channel      string
	subscription *events.Subscription
	mutex        sync.Mutex
}

// NewRedisRelay creates a relay publishing on channel
func NewRedisRelay(redisClient *redis.Client, channel string) *RedisRelay {
	return &RedisRelay{
		redis:   redisClient,
		channel: channel,
	}
}

// Channel returns the pub/sub channel events are published on
func (r *RedisRelay) Channel() string {
	return r.channel
}

// Attach starts relaying events from source. A relay observes one source at a time.
func (r *RedisRelay) Attach(source Source, buffer int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.subscription != nil {
		r.subscription.Unsubscribe()
	}
	r.subscription = source.SubscribeFunc(buffer, r.Handle)
}

// Detach stops relaying
func (r *RedisRelay) Detach() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.subscription != nil {
		r.subscription.Unsubscribe()
		r.subscription = nil
	}
}

// Handle relays a single event. Redis failures are logged and never reach
// the converter.
func (r *RedisRelay) Handle(event model.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
	defer cancel()

	if err := r.publish(ctx, event); err != nil {
		log.Printf("[relay] publish %s failed: %v", event.Type, err)
	}

	if event.Type == model.EventJobFinished && event.Result != nil {
		if err := r.saveLastJob(ctx, event.Result); err != nil {
			log.Printf("[relay] save last job %s failed: %v", event.JobID, err)
		}
	}
}

// LastJob returns the summary of the most recently finished job
func (r *RedisRelay) LastJob(ctx context.Context) (*model.JobResult, error) {
	data, err := r.redis.Get(ctx, LastJobKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNoLastJob
		}
		return nil, fmt.Errorf("failed to read last job: %w", err)
	}

	var result model.JobResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode last job: %w", err)
	}
	return &result, nil
}

func (r *RedisRelay) publish(ctx context.Context, event model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return r.redis.Publish(ctx, r.channel, data).Err()
}

func (r *RedisRelay) saveLastJob(ctx context.Context, result *model.JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode job result: %w", err)
	}
	return r.redis.Set(ctx, LastJobKey, data, LastJobTTL).Err()
}
