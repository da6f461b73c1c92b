package model

import (
	"errors"
	"fmt"
)

// ResolutionError means the playlist could not be resolved. It is fatal to the job.
type ResolutionError struct {
	URL    string
	Reason string
	Cause  error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("resolve playlist %s", e.URL)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// StreamUnavailableError means the media item is deleted, region-locked or restricted
type StreamUnavailableError struct {
	URL    string
	Reason string
	Cause  error
}

func (e *StreamUnavailableError) Error() string {
	msg := fmt.Sprintf("stream unavailable for %s", e.URL)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StreamUnavailableError) Unwrap() error {
	return e.Cause
}

// NoAudioStreamError means the item has streams but none of them carry audio
type NoAudioStreamError struct {
	URL string
}

func (e *NoAudioStreamError) Error() string {
	return fmt.Sprintf("no audio stream found for %s", e.URL)
}

// TranscodeError means the external encoder exited unsuccessfully
type TranscodeError struct {
	ExitCode int
	Output   string // tail of the encoder log
	Cause    error
}

func (e *TranscodeError) Error() string {
	msg := fmt.Sprintf("transcode failed with exit code %d", e.ExitCode)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TranscodeError) Unwrap() error {
	return e.Cause
}

// MaterializationError means the transcoded file could not be moved into music storage
type MaterializationError struct {
	Path  string
	Cause error
}

func (e *MaterializationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("materialize %s: %s", e.Path, e.Cause.Error())
	}
	return fmt.Sprintf("materialize %s", e.Path)
}

func (e *MaterializationError) Unwrap() error {
	return e.Cause
}

// IsItemError reports whether err is one of the item-level pipeline errors
// that fail a single item without aborting the job
func IsItemError(err error) bool {
	var (
		unavailable *StreamUnavailableError
		noAudio     *NoAudioStreamError
		transcode   *TranscodeError
		materialize *MaterializationError
	)
	return errors.As(err, &unavailable) ||
		errors.As(err, &noAudio) ||
		errors.As(err, &transcode) ||
		errors.As(err, &materialize)
}
