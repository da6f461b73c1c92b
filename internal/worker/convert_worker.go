package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/ytget/playlist-converter/internal/conversion"
	"github.com/ytget/playlist-converter/internal/model"
)

// ErrJobFailed marks a job that terminated with a job-level error
var ErrJobFailed = errors.New("conversion job failed")

// Converter is the part of the conversion service a worker drives
type Converter interface {
	Start(url string) (string, error)
	CancelAll() bool
	Wait(ctx context.Context) error
	LastResult() (model.JobResult, bool)
}

// ConvertWorker processes playlist:convert tasks one at a time
type ConvertWorker struct {
	converter Converter
}

// NewConvertWorker creates a new convert worker
func NewConvertWorker(converter Converter) *ConvertWorker {
	return &ConvertWorker{converter: converter}
}

// ProcessTask starts the conversion and blocks until the job terminates.
// A busy converter yields a retryable error so asynq runs the task later.
func (w *ConvertWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ConvertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	jobID, err := w.converter.Start(payload.URL)
	switch {
	case errors.Is(err, conversion.ErrJobActive):
		return fmt.Errorf("converter busy: %w", err)
	case err != nil:
		return fmt.Errorf("failed to start conversion: %v: %w", err, asynq.SkipRetry)
	}
	log.Printf("[worker] started job %s for %s", jobID, payload.URL)

	if err := w.converter.Wait(ctx); err != nil {
		// Task deadline or worker shutdown; never retried
		w.converter.CancelAll()
		log.Printf("[worker] job %s interrupted: %v", jobID, err)
		return fmt.Errorf("job %s interrupted: %w: %w", jobID, err, asynq.SkipRetry)
	}

	result, ok := w.converter.LastResult()
	if !ok || result.JobID != jobID {
		return nil
	}

	log.Printf("[worker] job %s finished: %d completed, %d failed, %d cancelled",
		jobID, result.Completed, result.Failed, result.Cancelled)

	if !result.Succeeded() {
		return fmt.Errorf("%w: %s: %w", ErrJobFailed, result.Error, asynq.SkipRetry)
	}
	return nil
}
