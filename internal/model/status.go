package model

// ItemStatus represents the status of a single conversion item
type ItemStatus string

const (
	// ItemStatusWaiting means the item is queued but not started
	ItemStatusWaiting ItemStatus = "Waiting"

	// ItemStatusConverting means the item is being resolved, transcoded or saved
	ItemStatusConverting ItemStatus = "Converting"

	// ItemStatusCompleted means the item was saved to music storage
	ItemStatusCompleted ItemStatus = "Completed"

	// ItemStatusFailed means the item failed with an item-level error
	ItemStatusFailed ItemStatus = "Failed"

	// ItemStatusCancelled means the item was cancelled before it could finish
	ItemStatusCancelled ItemStatus = "Cancelled"
)

// String returns the string representation of ItemStatus
func (s ItemStatus) String() string {
	return string(s)
}

// IsActive returns true if the item is currently being processed
func (s ItemStatus) IsActive() bool {
	return s == ItemStatusConverting
}

// IsFinished returns true if the item reached a terminal state (completed, failed, or cancelled)
func (s ItemStatus) IsFinished() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed || s == ItemStatusCancelled
}

// JobState represents the lifecycle state of the conversion orchestrator
type JobState string

const (
	// JobStateIdle means no job was started yet
	JobStateIdle JobState = "Idle"

	// JobStateResolving means the playlist URL is being resolved
	JobStateResolving JobState = "Resolving"

	// JobStateItemLoop means items are being processed in playlist order
	JobStateItemLoop JobState = "ItemLoop"

	// JobStateFinalizing means the playlist manifest is being written
	JobStateFinalizing JobState = "Finalizing"

	// JobStateTerminated means the last job has finished
	JobStateTerminated JobState = "Terminated"
)

// String returns the string representation of JobState
func (s JobState) String() string {
	return string(s)
}

// IsActive returns true while a job owns the queue
func (s JobState) IsActive() bool {
	return s == JobStateResolving || s == JobStateItemLoop || s == JobStateFinalizing
}
