package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/playlist-converter/internal/conversion"
	"github.com/ytget/playlist-converter/internal/model"
)

const playlistURL = "https://www.youtube.com/playlist?list=PL1"

type fakeConverter struct {
	startErr  error
	waitErr   error
	result    model.JobResult
	hasResult bool
	started   []string
	cancelled int
}

func (f *fakeConverter) Start(url string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.started = append(f.started, url)
	return "job-1", nil
}

func (f *fakeConverter) CancelAll() bool {
	f.cancelled++
	return true
}

func (f *fakeConverter) Wait(ctx context.Context) error {
	if f.waitErr != nil {
		return f.waitErr
	}
	return ctx.Err()
}

func (f *fakeConverter) LastResult() (model.JobResult, bool) {
	return f.result, f.hasResult
}

func convertTask(t *testing.T) *asynq.Task {
	t.Helper()
	task, err := NewConvertTask(playlistURL)
	require.NoError(t, err)
	return task
}

func TestNewConvertTask(t *testing.T) {
	task := convertTask(t)
	assert.Equal(t, TaskTypeConvert, task.Type())

	var payload ConvertPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, playlistURL, payload.URL)
}

func TestProcessTask_Success(t *testing.T) {
	converter := &fakeConverter{
		result:    model.JobResult{JobID: "job-1", Total: 2, Completed: 2},
		hasResult: true,
	}
	worker := NewConvertWorker(converter)

	err := worker.ProcessTask(context.Background(), convertTask(t))
	require.NoError(t, err)
	assert.Equal(t, []string{playlistURL}, converter.started)
	assert.Zero(t, converter.cancelled)
}

func TestProcessTask_Busy(t *testing.T) {
	converter := &fakeConverter{startErr: conversion.ErrJobActive}
	worker := NewConvertWorker(converter)

	err := worker.ProcessTask(context.Background(), convertTask(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, conversion.ErrJobActive)
	assert.False(t, errors.Is(err, asynq.SkipRetry), "busy converter must be retried")
}

func TestProcessTask_NotRetried(t *testing.T) {
	tests := []struct {
		name      string
		converter *fakeConverter
		task      *asynq.Task
	}{
		{
			name:      "bad payload",
			converter: &fakeConverter{},
			task:      asynq.NewTask(TaskTypeConvert, []byte("{")),
		},
		{
			name:      "closed converter",
			converter: &fakeConverter{startErr: conversion.ErrClosed},
			task:      convertTask(t),
		},
		{
			name: "job failed",
			converter: &fakeConverter{
				result:    model.JobResult{JobID: "job-1", Error: "invalid playlist URL"},
				hasResult: true,
			},
			task: convertTask(t),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewConvertWorker(tt.converter).ProcessTask(context.Background(), tt.task)
			require.Error(t, err)
			assert.ErrorIs(t, err, asynq.SkipRetry)
		})
	}
}

func TestProcessTask_JobFailed(t *testing.T) {
	converter := &fakeConverter{
		result:    model.JobResult{JobID: "job-1", Error: "invalid playlist URL"},
		hasResult: true,
	}

	err := NewConvertWorker(converter).ProcessTask(context.Background(), convertTask(t))
	assert.ErrorIs(t, err, ErrJobFailed)
	assert.Contains(t, err.Error(), "invalid playlist URL")
}

func TestProcessTask_Interrupted(t *testing.T) {
	converter := &fakeConverter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewConvertWorker(converter).ProcessTask(ctx, convertTask(t))
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, asynq.SkipRetry, "an interrupted job must not be replayed")
	assert.Equal(t, 1, converter.cancelled)
}

func TestProcessTask_ResultOfOtherJob(t *testing.T) {
	converter := &fakeConverter{
		result:    model.JobResult{JobID: "job-0", Error: "old failure"},
		hasResult: true,
	}

	err := NewConvertWorker(converter).ProcessTask(context.Background(), convertTask(t))
	assert.NoError(t, err)
}

func TestEnqueueConvert(t *testing.T) {
	tests := []struct {
		name     string
		timeout  time.Duration
		expected time.Duration
	}{
		{"default timeout", 0, DefaultTaskTimeout},
		{"custom timeout", 6 * time.Hour, 6 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr := miniredis.RunT(t)
			redisOpt := asynq.RedisClientOpt{Addr: mr.Addr()}
			client := asynq.NewClient(redisOpt)
			t.Cleanup(func() { client.Close() })

			enqueuer := NewEnqueuer(client)
			enqueuer.SetTaskTimeout(tt.timeout)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			taskID, err := enqueuer.EnqueueConvert(ctx, playlistURL)
			require.NoError(t, err)
			assert.NotEmpty(t, taskID)

			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { rdb.Close() })
			pending, err := rdb.LRange(ctx, "asynq:{"+QueueConvert+"}:pending", 0, -1).Result()
			require.NoError(t, err)
			assert.Equal(t, []string{taskID}, pending)

			inspector := asynq.NewInspector(redisOpt)
			t.Cleanup(func() { inspector.Close() })
			info, err := inspector.GetTaskInfo(QueueConvert, taskID)
			require.NoError(t, err)
			assert.Equal(t, TaskTypeConvert, info.Type)
			assert.Equal(t, tt.expected, info.Timeout)
			assert.True(t, info.Deadline.IsZero())
			assert.Equal(t, MaxRetry, info.MaxRetry)
		})
	}
}
