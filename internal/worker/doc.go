// Package worker queues conversion requests through asynq and runs them
// against the single-job conversion service.
package worker
