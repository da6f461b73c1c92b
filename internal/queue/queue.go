package queue

import (
	"sync"
	"time"

	"github.com/ytget/playlist-converter/internal/model"
)

// Queue is an ordered list of conversion items in playlist order
type Queue struct {
	items []model.ConversionItem
	mutex sync.RWMutex
}

// New creates an empty queue
func New() *Queue {
	return &Queue{}
}

// Reset replaces the whole queue content
func (q *Queue) Reset(items []model.ConversionItem) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.items = make([]model.ConversionItem, len(items))
	copy(q.items, items)
}

// Len returns the number of items
func (q *Queue) Len() int {
	q.mutex.RLock()
	defer q.mutex.RUnlock()
	return len(q.items)
}

// Item returns a copy of the item at index
func (q *Queue) Item(index int) (model.ConversionItem, bool) {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	if index < 0 || index >= len(q.items) {
		return model.ConversionItem{}, false
	}
	return q.items[index], true
}

// Snapshot returns a point-in-time copy of all items
func (q *Queue) Snapshot() []model.ConversionItem {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	snapshot := make([]model.ConversionItem, len(q.items))
	copy(snapshot, q.items)
	return snapshot
}

// Update applies fn to the item at index and returns the updated copy
func (q *Queue) Update(index int, fn func(item *model.ConversionItem)) (model.ConversionItem, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if index < 0 || index >= len(q.items) {
		return model.ConversionItem{}, false
	}
	fn(&q.items[index])
	q.items[index].UpdatedAt = time.Now()
	return q.items[index], true
}

// CancelUnfinished marks every item that has not reached a terminal state as
// cancelled and returns the affected indexes. Completed and failed items keep
// their status.
func (q *Queue) CancelUnfinished(progressText string) []int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	var changed []int
	now := time.Now()
	for i := range q.items {
		if q.items[i].Status.IsFinished() {
			continue
		}
		q.items[i].Status = model.ItemStatusCancelled
		q.items[i].ProgressText = progressText
		q.items[i].UpdatedAt = now
		changed = append(changed, i)
	}
	return changed
}

// FailUnfinished marks every unfinished item as failed with the given reason
func (q *Queue) FailUnfinished(reason string) []int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	var changed []int
	now := time.Now()
	for i := range q.items {
		if q.items[i].Status.IsFinished() {
			continue
		}
		q.items[i].Status = model.ItemStatusFailed
		q.items[i].ProgressText = reason
		q.items[i].Error = reason
		q.items[i].UpdatedAt = now
		changed = append(changed, i)
	}
	return changed
}

// CompletedPaths returns the output paths of completed items in queue order
func (q *Queue) CompletedPaths() []string {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	var paths []string
	for _, item := range q.items {
		if item.Status == model.ItemStatusCompleted && item.OutputPath != "" {
			paths = append(paths, item.OutputPath)
		}
	}
	return paths
}
