package model

import "time"

// EventType identifies an observer notification
type EventType string

const (
	// EventQueueReady fires once per job, after the queue is populated
	EventQueueReady EventType = "queue-ready"

	// EventItemUpdated fires whenever a single item changes
	EventItemUpdated EventType = "item-updated"

	// EventQueueUpdated fires after several items changed at once
	EventQueueUpdated EventType = "queue-updated"

	// EventJobFinished fires exactly once per job
	EventJobFinished EventType = "job-finished"
)

// Event is a point-in-time notification delivered to observers. Item and
// Items are copies; mutating them never affects the queue.
type Event struct {
	Type   EventType        `json:"type"`
	JobID  string           `json:"job_id"`
	Index  int              `json:"index"`
	Item   *ConversionItem  `json:"item,omitempty"`
	Items  []ConversionItem `json:"items,omitempty"`
	Result *JobResult       `json:"result,omitempty"`
	At     time.Time        `json:"at"`
}
