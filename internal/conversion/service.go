package conversion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ytget/playlist-converter/internal/events"
	"github.com/ytget/playlist-converter/internal/model"
	"github.com/ytget/playlist-converter/internal/platform"
	"github.com/ytget/playlist-converter/internal/queue"
	"github.com/ytget/playlist-converter/internal/storage"
)

// ID prefixes
const (
	JobIDPrefix  = "job-"
	ItemIDPrefix = "item-"
)

// Failure texts shown on failed items
const (
	FailedNoAudio       = "No audio stream found"
	FailedUnavailable   = "Stream unavailable"
	FailedConversion    = "Conversion failed"
	FailedSave          = "Failed to save file"
	FailedErrorPrefix   = "Error"
	FailedUnexpected    = "Unexpected error"
	failureTextFormat   = "%s: %s"
	emptyPlaylistReason = "resolver returned no playlist"
)

var (
	// ErrJobActive is returned by Start while another job runs
	ErrJobActive = errors.New("a conversion job is already active")

	// ErrClosed is returned by Start after Close
	ErrClosed = errors.New("conversion service is closed")

	// ErrEmptyURL is returned by Start for a blank playlist URL
	ErrEmptyURL = errors.New("playlist URL is required")
)

// Status is a point-in-time view of the service
type Status struct {
	JobID        string                 `json:"job_id,omitempty"`
	State        model.JobState         `json:"state"`
	PlaylistURL  string                 `json:"playlist_url,omitempty"`
	PlaylistName string                 `json:"playlist_name,omitempty"`
	Items        []model.ConversionItem `json:"items"`
	LastResult   *model.JobResult       `json:"last_result,omitempty"`
}

// job is the run-scoped state of one conversion
type job struct {
	id           string
	url          string
	playlistName string
	cancelled    atomic.Bool
	ctx          context.Context
	stageCancel  context.CancelFunc // guarded by Service.mutex
	done         chan struct{}
}

// Service is the conversion orchestrator
type Service struct {
	deps     Dependencies
	musicDir string
	queue    *queue.Queue
	bus      *events.Bus

	mutex      sync.RWMutex
	state      model.JobState
	current    *job
	lastResult *model.JobResult
	hardCancel bool
	closed     bool

	stateCallback func(model.JobState)

	baseCtx    context.Context
	baseCancel context.CancelFunc
	now        func() time.Time
}

// NewService creates an orchestrator storing playlists under musicDir
func NewService(deps Dependencies, musicDir string) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		deps:       deps,
		musicDir:   musicDir,
		queue:      queue.New(),
		bus:        events.NewBus(),
		state:      model.JobStateIdle,
		baseCtx:    ctx,
		baseCancel: cancel,
		now:        time.Now,
	}
}

// SetHardCancel makes CancelAll also interrupt in-flight network and
// transcode work instead of waiting for the next checkpoint
func (s *Service) SetHardCancel(enabled bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.hardCancel = enabled
}

// SetStateCallback registers fn to be called on the job goroutine after every
// job state transition
func (s *Service) SetStateCallback(fn func(model.JobState)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.stateCallback = fn
}

// Subscribe attaches an observer. See events.Bus.Subscribe.
func (s *Service) Subscribe(buffer int) *events.Subscription {
	return s.bus.Subscribe(buffer)
}

// SubscribeFunc attaches a callback observer
func (s *Service) SubscribeFunc(buffer int, fn func(model.Event)) *events.Subscription {
	return s.bus.SubscribeFunc(buffer, fn)
}

// Start begins converting the playlist at url and returns the job ID. It is
// rejected with ErrJobActive while another job runs.
func (s *Service) Start(url string) (string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return "", ErrEmptyURL
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return "", ErrClosed
	}
	if s.state.IsActive() {
		return "", ErrJobActive
	}

	j := &job{
		id:   generateID(JobIDPrefix),
		url:  url,
		ctx:  s.baseCtx,
		done: make(chan struct{}),
	}
	s.current = j
	s.state = model.JobStateResolving
	s.queue.Reset(nil)

	log.Printf("[conversion] job %s started for %s", j.id, url)
	go s.run(j)

	return j.id, nil
}

// CancelAll requests cancellation of the running job. Completed and failed
// items are kept. It reports whether a job was active.
func (s *Service) CancelAll() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	j := s.current
	if j == nil || !s.state.IsActive() {
		return false
	}

	j.cancelled.Store(true)
	if s.hardCancel && j.stageCancel != nil {
		j.stageCancel()
	}
	log.Printf("[conversion] job %s cancellation requested", j.id)
	return true
}

// State returns the current job state
func (s *Service) State() model.JobState {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state
}

// Active reports whether a job is running
func (s *Service) Active() bool {
	return s.State().IsActive()
}

// Snapshot returns a copy of the queue
func (s *Service) Snapshot() []model.ConversionItem {
	return s.queue.Snapshot()
}

// LastResult returns the summary of the most recently finished job
func (s *Service) LastResult() (model.JobResult, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.lastResult == nil {
		return model.JobResult{}, false
	}
	return copyResult(s.lastResult), true
}

// Status returns the state, the running job and a queue snapshot
func (s *Service) Status() Status {
	s.mutex.RLock()
	status := Status{State: s.state}
	if j := s.current; j != nil {
		status.JobID = j.id
		status.PlaylistURL = j.url
		status.PlaylistName = j.playlistName
	}
	if s.lastResult != nil {
		result := copyResult(s.lastResult)
		status.LastResult = &result
	}
	s.mutex.RUnlock()

	status.Items = s.queue.Snapshot()
	return status
}

// Done returns a channel closed when the current job has terminated
func (s *Service) Done() <-chan struct{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.current == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return s.current.done
}

// Wait blocks until the current job has terminated or ctx is done
func (s *Service) Wait(ctx context.Context) error {
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels the running job, kills any transcode in flight, waits for
// the job to terminate and detaches all observers
func (s *Service) Close() {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}
	s.closed = true
	j := s.current
	if j != nil {
		j.cancelled.Store(true)
	}
	s.mutex.Unlock()

	s.baseCancel()
	if j != nil {
		<-j.done
	}
	s.bus.Close()
}

// run executes one job on its own goroutine
func (s *Service) run(j *job) {
	result := &model.JobResult{
		JobID:       j.id,
		PlaylistURL: j.url,
		StartedAt:   s.now(),
	}
	defer s.finish(j, result)
	s.notifyState(model.JobStateResolving)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[conversion] job %s panicked: %v", j.id, r)
			result.Error = fmt.Sprintf(failureTextFormat, FailedUnexpected, fmt.Sprint(r))
			if changed := s.queue.FailUnfinished(result.Error); len(changed) > 0 {
				s.publish(j, model.Event{Type: model.EventQueueUpdated, Items: s.queue.Snapshot()})
			}
		}
	}()

	playlist, err := s.resolvePlaylist(j)
	if err != nil {
		log.Printf("[conversion] job %s failed to resolve playlist: %v", j.id, err)
		result.Error = err.Error()
		return
	}

	target := s.prepareTarget(j, playlist)
	result.PlaylistName = target.PlaylistName
	result.Folder = target.Dir

	items := make([]model.ConversionItem, 0, playlist.Len())
	for i, entry := range playlist.Entries {
		items = append(items, model.NewConversionItem(generateID(ItemIDPrefix), i, entry))
	}
	s.queue.Reset(items)
	s.setState(model.JobStateItemLoop)
	s.publish(j, model.Event{Type: model.EventQueueReady, Items: s.queue.Snapshot()})

	for i := range items {
		if j.cancelled.Load() {
			s.cancelRemaining(j)
			break
		}
		s.processItem(j, i, target)
	}

	s.setState(model.JobStateFinalizing)
	paths := s.queue.CompletedPaths()
	result.Paths = paths
	if manifestPath, err := s.deps.Manifest.Write(paths, target.Dir, target.PlaylistName); err != nil {
		log.Printf("[conversion] job %s failed to write manifest: %v", j.id, err)
	} else {
		result.ManifestPath = manifestPath
	}
}

func (s *Service) resolvePlaylist(j *job) (*model.ResolvedPlaylist, error) {
	ctx, release := s.stageContext(j)
	defer release()

	playlist, err := s.deps.Playlists.ResolvePlaylist(ctx, j.url)
	if err != nil {
		var resolutionErr *model.ResolutionError
		if !errors.As(err, &resolutionErr) {
			err = &model.ResolutionError{URL: j.url, Cause: err}
		}
		return nil, err
	}
	if playlist == nil {
		return nil, &model.ResolutionError{URL: j.url, Reason: emptyPlaylistReason}
	}
	return playlist, nil
}

// prepareTarget derives the playlist folder and creates it
func (s *Service) prepareTarget(j *job, playlist *model.ResolvedPlaylist) storage.Target {
	name := platform.SanitizePlaylistName(playlist.Name, s.now())
	target := storage.Target{
		PlaylistName: name,
		Dir:          filepath.Join(s.musicDir, name),
	}

	if err := platform.CreateDirectoryIfNotExists(target.Dir); err != nil {
		log.Printf("[conversion] job %s failed to create folder %s: %v", j.id, target.Dir, err)
	}

	s.mutex.Lock()
	j.playlistName = name
	s.mutex.Unlock()
	return target
}

// processItem runs one item through stream resolution, transcode and storage
func (s *Service) processItem(j *job, index int, target storage.Target) {
	item, ok := s.updateItem(j, index, func(item *model.ConversionItem) {
		item.Status = model.ItemStatusConverting
		item.ProgressText = model.ProgressFetchingStream
	})
	if !ok {
		return
	}

	ctx, release := s.stageContext(j)
	defer release()

	if j.cancelled.Load() {
		s.cancelItem(j, index)
		return
	}

	stream, err := s.deps.Streams.ResolveBest(ctx, item.SourceURL)
	if err != nil {
		s.failItem(j, index, err)
		return
	}

	if j.cancelled.Load() {
		s.cancelItem(j, index)
		return
	}

	s.updateItem(j, index, func(item *model.ConversionItem) {
		item.ProgressText = model.ProgressConverting
	})

	transcoded, err := s.deps.Transcoder.Transcode(ctx, stream.URL, item.Title)
	if err != nil {
		s.failItem(j, index, err)
		return
	}

	s.updateItem(j, index, func(item *model.ConversionItem) {
		item.ProgressText = model.ProgressSaving
	})

	stored, err := s.deps.Materializer.Materialize(ctx, transcoded.OutputPath, item.Title, target)
	if err != nil {
		s.failItem(j, index, err)
		return
	}

	s.updateItem(j, index, func(item *model.ConversionItem) {
		item.Status = model.ItemStatusCompleted
		item.ProgressText = model.ProgressSaved
		item.OutputPath = stored
		item.Error = ""
	})
	log.Printf("[conversion] job %s item %d saved to %s", j.id, index, stored)
}

// failItem records an item-level error. An error caused by cancellation
// marks the item cancelled instead.
func (s *Service) failItem(j *job, index int, err error) {
	if j.cancelled.Load() && isCancellation(err) {
		s.cancelItem(j, index)
		return
	}

	text := failureText(err)
	log.Printf("[conversion] job %s item %d failed: %v", j.id, index, err)
	s.updateItem(j, index, func(item *model.ConversionItem) {
		item.Status = model.ItemStatusFailed
		item.ProgressText = text
		item.Error = err.Error()
	})
}

func (s *Service) cancelItem(j *job, index int) {
	s.updateItem(j, index, func(item *model.ConversionItem) {
		item.Status = model.ItemStatusCancelled
		item.ProgressText = model.ProgressCancelled
	})
}

// cancelRemaining cancels every unfinished item in one queue update
func (s *Service) cancelRemaining(j *job) {
	changed := s.queue.CancelUnfinished(model.ProgressCancelled)
	log.Printf("[conversion] job %s cancelled, %d items skipped", j.id, len(changed))
	s.publish(j, model.Event{Type: model.EventQueueUpdated, Items: s.queue.Snapshot()})
}

func (s *Service) updateItem(j *job, index int, fn func(item *model.ConversionItem)) (model.ConversionItem, bool) {
	item, ok := s.queue.Update(index, fn)
	if !ok {
		return item, false
	}
	s.publish(j, model.Event{Type: model.EventItemUpdated, Index: index, Item: &item})
	return item, true
}

// stageContext returns the context for one pipeline stage. With hard cancel
// enabled CancelAll cancels it.
func (s *Service) stageContext(j *job) (context.Context, func()) {
	ctx, cancel := context.WithCancel(j.ctx)

	s.mutex.Lock()
	j.stageCancel = cancel
	hard := s.hardCancel
	s.mutex.Unlock()

	if hard && j.cancelled.Load() {
		cancel()
	}

	return ctx, func() {
		s.mutex.Lock()
		j.stageCancel = nil
		s.mutex.Unlock()
		cancel()
	}
}

// finish publishes job-finished and terminates the job. A job whose
// playlist never resolved goes from Resolving straight to Terminated.
func (s *Service) finish(j *job, result *model.JobResult) {
	result.Count(s.queue.Snapshot())
	result.FinishedAt = s.now()

	s.mutex.Lock()
	stored := copyResult(result)
	s.lastResult = &stored
	s.mutex.Unlock()

	log.Printf("[conversion] job %s finished: %d completed, %d failed, %d cancelled",
		j.id, result.Completed, result.Failed, result.Cancelled)

	published := copyResult(result)
	s.publish(j, model.Event{Type: model.EventJobFinished, Result: &published})

	s.setState(model.JobStateTerminated)
	close(j.done)
}

func (s *Service) setState(state model.JobState) {
	s.mutex.Lock()
	s.state = state
	s.mutex.Unlock()

	s.notifyState(state)
}

func (s *Service) notifyState(state model.JobState) {
	s.mutex.RLock()
	fn := s.stateCallback
	s.mutex.RUnlock()

	if fn != nil {
		fn(state)
	}
}

func (s *Service) publish(j *job, event model.Event) {
	event.JobID = j.id
	event.At = s.now()
	s.bus.Publish(event)
}

// failureText turns an item error into the text shown to observers
func failureText(err error) string {
	var (
		noAudio     *model.NoAudioStreamError
		unavailable *model.StreamUnavailableError
		transcode   *model.TranscodeError
		materialize *model.MaterializationError
	)

	switch {
	case errors.As(err, &noAudio):
		return FailedNoAudio
	case errors.As(err, &unavailable):
		if unavailable.Reason != "" {
			return fmt.Sprintf(failureTextFormat, FailedUnavailable, unavailable.Reason)
		}
		return FailedUnavailable
	case errors.As(err, &transcode):
		return fmt.Sprintf("%s (exit code %d)", FailedConversion, transcode.ExitCode)
	case errors.As(err, &materialize):
		return FailedSave
	default:
		return fmt.Sprintf(failureTextFormat, FailedErrorPrefix, err.Error())
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func copyResult(result *model.JobResult) model.JobResult {
	copied := *result
	if result.Paths != nil {
		copied.Paths = append([]string(nil), result.Paths...)
	}
	return copied
}

// generateID generates a unique ID using UUID v7 for time ordering
func generateID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf(prefix+"%d", time.Now().UnixNano())
	}
	return prefix + id.String()
}
