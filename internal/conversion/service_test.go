package conversion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ytget/playlist-converter/internal/events"
	"github.com/ytget/playlist-converter/internal/manifest"
	"github.com/ytget/playlist-converter/internal/model"
	"github.com/ytget/playlist-converter/internal/storage"
)

const testURL = "https://www.youtube.com/playlist?list=PL1"

var fixedNow = time.Date(2024, 3, 9, 7, 5, 0, 0, time.UTC)

type harness struct {
	svc          *Service
	playlists    *fakePlaylists
	streams      *fakeStreams
	transcoder   *fakeTranscoder
	materializer *fakeMaterializer
	manifest     *fakeManifest
	musicDir     string
}

func newHarness(t *testing.T, playlist *model.ResolvedPlaylist) *harness {
	t.Helper()
	h := &harness{
		playlists:    &fakePlaylists{playlist: playlist},
		streams:      &fakeStreams{errs: map[string]error{}},
		transcoder:   &fakeTranscoder{dir: t.TempDir(), errs: map[string]error{}},
		materializer: &fakeMaterializer{errs: map[string]error{}},
		manifest:     &fakeManifest{},
		musicDir:     t.TempDir(),
	}
	h.svc = NewService(Dependencies{
		Playlists:    h.playlists,
		Streams:      h.streams,
		Transcoder:   h.transcoder,
		Materializer: h.materializer,
		Manifest:     h.manifest,
	}, h.musicDir)
	h.svc.now = func() time.Time { return fixedNow }
	t.Cleanup(h.svc.Close)
	return h
}

// collect reads events until job-finished
func collect(t *testing.T, sub *events.Subscription) []model.Event {
	t.Helper()
	var received []model.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-sub.Events():
			require.True(t, ok, "subscription closed before job-finished")
			received = append(received, event)
			if event.Type == model.EventJobFinished {
				return received
			}
		case <-timeout:
			t.Fatalf("timed out waiting for job-finished, got %d events", len(received))
		}
	}
}

func (h *harness) run(t *testing.T) []model.Event {
	t.Helper()
	sub := h.svc.Subscribe(1024)
	defer sub.Unsubscribe()

	_, err := h.svc.Start(testURL)
	require.NoError(t, err)
	received := collect(t, sub)
	h.wait(t)
	return received
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Wait(ctx))
}

func countType(received []model.Event, eventType model.EventType) int {
	n := 0
	for _, event := range received {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

func statuses(items []model.ConversionItem) []model.ItemStatus {
	out := make([]model.ItemStatus, len(items))
	for i, item := range items {
		out[i] = item.Status
	}
	return out
}

func TestStart_AllItemsSucceed(t *testing.T) {
	h := newHarness(t, testPlaylist("My Mix: 2024!", 3))
	received := h.run(t)

	require.NotEmpty(t, received)
	assert.Equal(t, model.EventQueueReady, received[0].Type)
	assert.Len(t, received[0].Items, 3)
	assert.Equal(t, model.EventJobFinished, received[len(received)-1].Type)
	assert.Equal(t, 1, countType(received, model.EventQueueReady))
	assert.Equal(t, 1, countType(received, model.EventJobFinished))

	items := h.svc.Snapshot()
	assert.Equal(t, []model.ItemStatus{
		model.ItemStatusCompleted, model.ItemStatusCompleted, model.ItemStatusCompleted,
	}, statuses(items))
	for _, item := range items {
		assert.Equal(t, model.ProgressSaved, item.ProgressText)
		assert.True(t, strings.HasPrefix(item.ID, ItemIDPrefix))
	}

	folder := filepath.Join(h.musicDir, "My_Mix_2024")
	assert.DirExists(t, folder)
	assert.Equal(t, folder, h.manifest.folder)
	assert.Equal(t, "My_Mix_2024", h.manifest.name)
	assert.Equal(t, []string{
		filepath.Join(folder, "Track 1.mp3"),
		filepath.Join(folder, "Track 2.mp3"),
		filepath.Join(folder, "Track 3.mp3"),
	}, h.manifest.lastWrite())

	result, ok := h.svc.LastResult()
	require.True(t, ok)
	assert.True(t, result.Succeeded())
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Completed)
	assert.Equal(t, "My_Mix_2024", result.PlaylistName)
	assert.Equal(t, filepath.Join(folder, "My_Mix_2024.m3u"), result.ManifestPath)
	assert.Equal(t, model.JobStateTerminated, h.svc.State())
	assert.False(t, h.svc.Active())

	finished := received[len(received)-1]
	require.NotNil(t, finished.Result)
	assert.Equal(t, 3, finished.Result.Completed)
}

func TestStart_ItemEventsInOrder(t *testing.T) {
	h := newHarness(t, testPlaylist("List", 2))
	received := h.run(t)

	var texts []string
	for _, event := range received {
		if event.Type == model.EventItemUpdated && event.Index == 0 {
			texts = append(texts, event.Item.ProgressText)
		}
	}
	assert.Equal(t, []string{
		model.ProgressFetchingStream,
		model.ProgressConverting,
		model.ProgressSaving,
		model.ProgressSaved,
	}, texts)

	lastIndex := -1
	for _, event := range received {
		if event.Type == model.EventItemUpdated {
			assert.GreaterOrEqual(t, event.Index, lastIndex, "items must be processed in order")
			lastIndex = event.Index
		}
	}
}

func TestStart_NoAudioStreamFailsOnlyThatItem(t *testing.T) {
	playlist := testPlaylist("List", 3)
	h := newHarness(t, playlist)
	h.streams.errs[playlist.Entries[1].SourceURL] = &model.NoAudioStreamError{URL: playlist.Entries[1].SourceURL}

	h.run(t)

	items := h.svc.Snapshot()
	assert.Equal(t, []model.ItemStatus{
		model.ItemStatusCompleted, model.ItemStatusFailed, model.ItemStatusCompleted,
	}, statuses(items))
	assert.Equal(t, FailedNoAudio, items[1].ProgressText)
	assert.Len(t, h.manifest.lastWrite(), 2)

	result, _ := h.svc.LastResult()
	assert.True(t, result.Succeeded())
	assert.Equal(t, 1, result.Failed)
}

func TestStart_ItemErrorsNeverAbortTheLoop(t *testing.T) {
	playlist := testPlaylist("List", 4)
	h := newHarness(t, playlist)
	h.streams.errs[playlist.Entries[0].SourceURL] = &model.StreamUnavailableError{URL: "x", Reason: "restricted or private"}
	h.transcoder.errs["stream:"+playlist.Entries[1].SourceURL] = &model.TranscodeError{ExitCode: 1}
	h.materializer.errs["Track 3"] = &model.MaterializationError{Path: "Track 3"}

	h.run(t)

	items := h.svc.Snapshot()
	assert.Equal(t, []model.ItemStatus{
		model.ItemStatusFailed, model.ItemStatusFailed, model.ItemStatusFailed, model.ItemStatusCompleted,
	}, statuses(items))
	assert.Equal(t, "Stream unavailable: restricted or private", items[0].ProgressText)
	assert.Equal(t, "Conversion failed (exit code 1)", items[1].ProgressText)
	assert.Equal(t, FailedSave, items[2].ProgressText)
	assert.NotEmpty(t, items[1].Error)
}

func TestStart_ResolutionFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.playlists.err = errors.New("network down")

	received := h.run(t)

	assert.Equal(t, 0, countType(received, model.EventQueueReady))
	require.Len(t, received, 1)
	assert.Equal(t, model.EventJobFinished, received[0].Type)
	assert.Empty(t, h.svc.Snapshot())
	assert.Empty(t, h.manifest.writes)

	result, ok := h.svc.LastResult()
	require.True(t, ok)
	assert.False(t, result.Succeeded())
	assert.Contains(t, result.Error, "network down")
	assert.Equal(t, model.JobStateTerminated, h.svc.State())
}

func recordStates(svc *Service) func() []model.JobState {
	var (
		mu     sync.Mutex
		states []model.JobState
	)
	svc.SetStateCallback(func(state model.JobState) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
	})
	return func() []model.JobState {
		mu.Lock()
		defer mu.Unlock()
		return append([]model.JobState(nil), states...)
	}
}

func TestStart_StateTransitions(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected []model.JobState
	}{
		{
			name: "resolved",
			expected: []model.JobState{
				model.JobStateResolving, model.JobStateItemLoop, model.JobStateFinalizing, model.JobStateTerminated,
			},
		},
		{
			name:     "resolution failed",
			err:      errors.New("network down"),
			expected: []model.JobState{model.JobStateResolving, model.JobStateTerminated},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testPlaylist("List", 2))
			h.playlists.err = tt.err
			states := recordStates(h.svc)

			h.run(t)

			assert.Equal(t, tt.expected, states())
		})
	}
}

func TestStart_SlowObserverReceivesJobFinished(t *testing.T) {
	const total = 300
	playlist := testPlaylist("Burst", total)
	h := newHarness(t, playlist)
	for _, entry := range playlist.Entries {
		h.streams.errs[entry.SourceURL] = &model.StreamUnavailableError{URL: entry.SourceURL, Reason: "unavailable"}
	}

	finished := make(chan model.JobResult, 1)
	h.svc.SubscribeFunc(256, func(event model.Event) {
		time.Sleep(2 * time.Millisecond)
		if event.Type == model.EventJobFinished && event.Result != nil {
			finished <- *event.Result
		}
	})

	_, err := h.svc.Start(testURL)
	require.NoError(t, err)
	h.wait(t)

	select {
	case result := <-finished:
		assert.Equal(t, total, result.Total)
		assert.Equal(t, total, result.Failed)
	case <-time.After(30 * time.Second):
		t.Fatal("slow observer never received job-finished")
	}
}

func TestStart_WhileActiveIsRejected(t *testing.T) {
	h := newHarness(t, testPlaylist("List", 2))
	h.playlists.release = make(chan struct{})
	h.playlists.started = make(chan struct{})

	sub := h.svc.Subscribe(1024)
	defer sub.Unsubscribe()

	_, err := h.svc.Start(testURL)
	require.NoError(t, err)
	<-h.playlists.started

	_, err = h.svc.Start("https://www.youtube.com/playlist?list=OTHER")
	assert.ErrorIs(t, err, ErrJobActive)
	assert.Equal(t, model.JobStateResolving, h.svc.State())
	assert.Empty(t, h.svc.Snapshot())

	close(h.playlists.release)
	received := collect(t, sub)
	h.wait(t)

	assert.Equal(t, 1, countType(received, model.EventQueueReady))
	assert.Len(t, h.svc.Snapshot(), 2)

	_, err = h.svc.Start(testURL)
	assert.NoError(t, err, "a new job may start once the previous one terminated")
	h.wait(t)
}

func TestStart_EmptyURL(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.Start("   ")
	assert.ErrorIs(t, err, ErrEmptyURL)
	assert.Equal(t, model.JobStateIdle, h.svc.State())
}

func TestCancelAll_BeforeAnyItem(t *testing.T) {
	h := newHarness(t, testPlaylist("List", 3))
	h.playlists.release = make(chan struct{})
	h.playlists.started = make(chan struct{})

	sub := h.svc.Subscribe(1024)
	defer sub.Unsubscribe()

	_, err := h.svc.Start(testURL)
	require.NoError(t, err)
	<-h.playlists.started

	assert.True(t, h.svc.CancelAll())
	close(h.playlists.release)
	received := collect(t, sub)
	h.wait(t)

	items := h.svc.Snapshot()
	require.Len(t, items, 3)
	for _, item := range items {
		assert.Equal(t, model.ItemStatusCancelled, item.Status)
		assert.Equal(t, model.ProgressCancelled, item.ProgressText)
	}
	assert.Empty(t, h.manifest.lastWrite())
	assert.Empty(t, h.transcoder.calls)
	assert.Equal(t, 1, countType(received, model.EventQueueUpdated))

	result, _ := h.svc.LastResult()
	assert.Equal(t, 3, result.Cancelled)
}

func TestCancelAll_MidLoop(t *testing.T) {
	playlist := testPlaylist("List", 5)
	const k = 2

	h := newHarness(t, playlist)
	h.streams.hook = func(sourceURL string) {
		if sourceURL == playlist.Entries[k].SourceURL {
			h.svc.CancelAll()
		}
	}

	h.run(t)

	items := h.svc.Snapshot()
	for i := 0; i < k; i++ {
		assert.Equal(t, model.ItemStatusCompleted, items[i].Status, "item %d", i)
	}
	assert.Equal(t, model.ItemStatusCancelled, items[k].Status)
	for i := k + 1; i < len(items); i++ {
		assert.Equal(t, model.ItemStatusCancelled, items[i].Status, "item %d", i)
	}
	assert.Len(t, h.manifest.lastWrite(), k)
	assert.Len(t, h.transcoder.calls, k)
}

func TestCancelAll_SoftLetsTranscodeFinish(t *testing.T) {
	playlist := testPlaylist("List", 3)
	h := newHarness(t, playlist)
	h.transcoder.hook = func(ctx context.Context, src string) error {
		if src == "stream:"+playlist.Entries[0].SourceURL {
			h.svc.CancelAll()
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		return nil
	}

	h.run(t)

	assert.Equal(t, []model.ItemStatus{
		model.ItemStatusCompleted, model.ItemStatusCancelled, model.ItemStatusCancelled,
	}, statuses(h.svc.Snapshot()))
}

func TestCancelAll_HardInterruptsTranscode(t *testing.T) {
	playlist := testPlaylist("List", 2)
	h := newHarness(t, playlist)
	h.svc.SetHardCancel(true)

	started := make(chan struct{})
	h.transcoder.hook = func(ctx context.Context, src string) error {
		close(started)
		<-ctx.Done()
		return &model.TranscodeError{ExitCode: -1, Cause: ctx.Err()}
	}

	sub := h.svc.Subscribe(1024)
	defer sub.Unsubscribe()
	_, err := h.svc.Start(testURL)
	require.NoError(t, err)

	<-started
	assert.True(t, h.svc.CancelAll())
	collect(t, sub)
	h.wait(t)

	assert.Equal(t, []model.ItemStatus{
		model.ItemStatusCancelled, model.ItemStatusCancelled,
	}, statuses(h.svc.Snapshot()))
}

func TestCancelAll_NoJob(t *testing.T) {
	h := newHarness(t, nil)
	assert.False(t, h.svc.CancelAll())
}

func TestClose_KillsInFlightWork(t *testing.T) {
	h := newHarness(t, testPlaylist("List", 2))

	started := make(chan struct{})
	h.transcoder.hook = func(ctx context.Context, src string) error {
		close(started)
		<-ctx.Done()
		return &model.TranscodeError{ExitCode: -1, Cause: ctx.Err()}
	}

	sub := h.svc.Subscribe(1024)
	_, err := h.svc.Start(testURL)
	require.NoError(t, err)
	<-started

	h.svc.Close()
	received := collect(t, sub)

	assert.Equal(t, 1, countType(received, model.EventJobFinished))
	for _, item := range h.svc.Snapshot() {
		assert.True(t, item.Status.IsFinished())
	}

	_, err = h.svc.Start(testURL)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStart_PanicFailsJob(t *testing.T) {
	h := newHarness(t, testPlaylist("List", 3))
	h.streams.hook = func(string) { panic("resolver exploded") }

	received := h.run(t)

	assert.Equal(t, 1, countType(received, model.EventJobFinished))
	for _, item := range h.svc.Snapshot() {
		assert.Equal(t, model.ItemStatusFailed, item.Status)
	}
	result, _ := h.svc.LastResult()
	assert.Contains(t, result.Error, "resolver exploded")
}

func TestStart_ManifestFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, testPlaylist("List", 1))
	h.manifest.err = errors.New("read-only file system")

	h.run(t)

	result, _ := h.svc.LastResult()
	assert.True(t, result.Succeeded())
	assert.Empty(t, result.ManifestPath)
	assert.Equal(t, 1, result.Completed)
}

func TestStart_EmptyPlaylist(t *testing.T) {
	h := newHarness(t, testPlaylist("", 0))
	received := h.run(t)

	assert.Equal(t, 1, countType(received, model.EventQueueReady))
	assert.Equal(t, "Playlist_1709967900000", h.manifest.name)
	assert.Empty(t, h.manifest.lastWrite())
}

func TestStatus(t *testing.T) {
	h := newHarness(t, testPlaylist("Road Trip", 2))
	h.run(t)

	status := h.svc.Status()
	assert.Equal(t, model.JobStateTerminated, status.State)
	assert.True(t, strings.HasPrefix(status.JobID, JobIDPrefix))
	assert.Equal(t, testURL, status.PlaylistURL)
	assert.Equal(t, "Road_Trip", status.PlaylistName)
	assert.Len(t, status.Items, 2)
	require.NotNil(t, status.LastResult)
	assert.Equal(t, 2, status.LastResult.Completed)
}

func TestFailureText(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"no audio", &model.NoAudioStreamError{URL: "u"}, FailedNoAudio},
		{"unavailable", &model.StreamUnavailableError{URL: "u"}, FailedUnavailable},
		{"transcode", &model.TranscodeError{ExitCode: 137}, "Conversion failed (exit code 137)"},
		{"materialize", &model.MaterializationError{Path: "p"}, FailedSave},
		{"other", errors.New("boom"), "Error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, failureText(tt.err))
		})
	}
}

// TestPipeline_RealStorageAndManifest runs two jobs over the same playlist
// through the file system materializer and manifest writer
func TestPipeline_RealStorageAndManifest(t *testing.T) {
	playlist := testPlaylist("Live Set", 2)
	playlist.Entries[0].Title = "Song: Title?! (Live)"
	playlist.Entries[1].Title = "***"

	h := newHarness(t, playlist)
	h.svc.deps.Materializer = storage.NewLegacyMaterializer()
	h.svc.deps.Manifest = manifest.NewWriter()

	h.run(t)
	first := h.svc.Snapshot()
	h.run(t)
	second := h.svc.Snapshot()

	baseName := regexp.MustCompile(`^[A-Za-z0-9 \-_]*_\d{8}_\d{4}(_\d+)?\.mp3$`)
	seen := map[string]bool{}
	for _, item := range append(first, second...) {
		require.Equal(t, model.ItemStatusCompleted, item.Status, item.ProgressText)
		name := filepath.Base(item.OutputPath)
		assert.Regexp(t, baseName, name)
		assert.False(t, seen[item.OutputPath], "output %s reused", item.OutputPath)
		seen[item.OutputPath] = true
		assert.FileExists(t, item.OutputPath)
	}
	assert.True(t, strings.HasPrefix(filepath.Base(first[0].OutputPath), "Song Title Live_"))
	assert.True(t, strings.HasPrefix(filepath.Base(first[1].OutputPath), "Audio_"))

	result, _ := h.svc.LastResult()
	data, err := os.ReadFile(result.ManifestPath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "#EXTINF:-1,"))
	assert.True(t, strings.HasPrefix(string(data), "#EXTM3U\n"))

	entries, err := os.ReadDir(h.transcoder.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files must be removed")
}
