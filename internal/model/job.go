package model

import "time"

// JobResult summarizes a finished conversion job
type JobResult struct {
	JobID        string    `json:"job_id"`
	PlaylistURL  string    `json:"playlist_url"`
	PlaylistName string    `json:"playlist_name,omitempty"`
	Folder       string    `json:"folder,omitempty"`
	ManifestPath string    `json:"manifest_path,omitempty"`
	Paths        []string  `json:"paths"`
	Total        int       `json:"total"`
	Completed    int       `json:"completed"`
	Failed       int       `json:"failed"`
	Cancelled    int       `json:"cancelled"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Count fills the per-status counters from the final queue snapshot
func (r *JobResult) Count(items []ConversionItem) {
	r.Total = len(items)
	r.Completed, r.Failed, r.Cancelled = 0, 0, 0
	for _, item := range items {
		switch item.Status {
		case ItemStatusCompleted:
			r.Completed++
		case ItemStatusFailed:
			r.Failed++
		case ItemStatusCancelled:
			r.Cancelled++
		}
	}
}

// Succeeded reports whether the job ran to completion without a job-level error
func (r *JobResult) Succeeded() bool {
	return r.Error == ""
}
