package conversion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ytget/playlist-converter/internal/model"
	"github.com/ytget/playlist-converter/internal/storage"
	"github.com/ytget/playlist-converter/internal/transcode"
)

type fakePlaylists struct {
	playlist *model.ResolvedPlaylist
	err      error
	release  chan struct{} // when set, resolution blocks until closed
	started  chan struct{}
	once     sync.Once
}

func (f *fakePlaylists) ResolvePlaylist(ctx context.Context, url string) (*model.ResolvedPlaylist, error) {
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.playlist, nil
}

type fakeStreams struct {
	errs map[string]error
	hook func(sourceURL string)
}

func (f *fakeStreams) ResolveBest(ctx context.Context, sourceURL string) (model.StreamDescriptor, error) {
	if f.hook != nil {
		f.hook(sourceURL)
	}
	if err := f.errs[sourceURL]; err != nil {
		return model.StreamDescriptor{}, err
	}
	return model.StreamDescriptor{URL: "stream:" + sourceURL, Bitrate: 128000}, nil
}

type fakeTranscoder struct {
	dir   string
	errs  map[string]error
	hook  func(ctx context.Context, src string) error
	mutex sync.Mutex
	calls []string
}

func (f *fakeTranscoder) Transcode(ctx context.Context, src, title string) (*transcode.Result, error) {
	f.mutex.Lock()
	f.calls = append(f.calls, src)
	n := len(f.calls)
	f.mutex.Unlock()

	if f.hook != nil {
		if err := f.hook(ctx, src); err != nil {
			return nil, err
		}
	}
	if err := f.errs[src]; err != nil {
		return nil, err
	}

	out := filepath.Join(f.dir, fmt.Sprintf("conv_%d.mp3", n))
	if err := os.WriteFile(out, []byte("mp3:"+title), 0644); err != nil {
		return nil, err
	}
	return &transcode.Result{OutputPath: out}, nil
}

type fakeMaterializer struct {
	errs map[string]error
}

func (f *fakeMaterializer) Materialize(ctx context.Context, tempPath, title string, target storage.Target) (string, error) {
	defer os.Remove(tempPath)
	if err := f.errs[title]; err != nil {
		return "", err
	}
	return filepath.Join(target.Dir, title+".mp3"), nil
}

type fakeManifest struct {
	mutex  sync.Mutex
	writes [][]string
	folder string
	name   string
	err    error
}

func (f *fakeManifest) Write(paths []string, folder, name string) (string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.writes = append(f.writes, append([]string(nil), paths...))
	f.folder = folder
	f.name = name
	if f.err != nil {
		return "", f.err
	}
	return filepath.Join(folder, name+".m3u"), nil
}

func (f *fakeManifest) lastWrite() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

// testPlaylist builds a playlist of n entries with titles Track 1..n
func testPlaylist(name string, n int) *model.ResolvedPlaylist {
	playlist := &model.ResolvedPlaylist{ID: "PL1", Name: name, URL: "https://www.youtube.com/playlist?list=PL1"}
	for i := 1; i <= n; i++ {
		playlist.Entries = append(playlist.Entries, model.PlaylistEntry{
			VideoID:   fmt.Sprintf("v%d", i),
			Title:     fmt.Sprintf("Track %d", i),
			SourceURL: fmt.Sprintf("https://www.youtube.com/watch?v=v%d", i),
		})
	}
	return playlist
}
