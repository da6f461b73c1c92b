package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task settings
const (
	TaskTypeConvert = "playlist:convert"
	QueueConvert    = "convert"
	MaxRetry        = 3
	TaskRetention   = 24 * time.Hour

	// DefaultTaskTimeout bounds how long a queued conversion may run
	DefaultTaskTimeout = 24 * time.Hour
)

// ConvertPayload is the body of a playlist:convert task
type ConvertPayload struct {
	URL string `json:"url"`
}

// NewConvertTask creates a task converting the playlist at url
func NewConvertTask(url string) (*asynq.Task, error) {
	data, err := json.Marshal(ConvertPayload{URL: url})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeConvert, data), nil
}

// Enqueuer submits convert tasks to Redis
type Enqueuer struct {
	client  *asynq.Client
	timeout time.Duration
}

// NewEnqueuer creates an enqueuer on top of an asynq client
func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{
		client:  client,
		timeout: DefaultTaskTimeout,
	}
}

// SetTaskTimeout sets how long a queued conversion may run
func (e *Enqueuer) SetTaskTimeout(timeout time.Duration) {
	if timeout > 0 {
		e.timeout = timeout
	}
}

// EnqueueConvert queues a conversion of url and returns the task id
func (e *Enqueuer) EnqueueConvert(ctx context.Context, url string) (string, error) {
	task, err := NewConvertTask(url)
	if err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}

	info, err := e.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueConvert),
		asynq.MaxRetry(MaxRetry),
		asynq.Retention(TaskRetention),
		asynq.Timeout(e.timeout),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	return info.ID, nil
}
