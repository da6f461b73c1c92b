package conversion

import (
	"context"

	"github.com/ytget/playlist-converter/internal/model"
	"github.com/ytget/playlist-converter/internal/storage"
	"github.com/ytget/playlist-converter/internal/transcode"
)

// PlaylistResolver turns a playlist URL into its name and ordered entries
type PlaylistResolver interface {
	ResolvePlaylist(ctx context.Context, url string) (*model.ResolvedPlaylist, error)
}

// StreamResolver picks the best audio stream of a media item
type StreamResolver interface {
	ResolveBest(ctx context.Context, sourceURL string) (model.StreamDescriptor, error)
}

// Transcoder converts a stream into a local temp MP3 file
type Transcoder interface {
	Transcode(ctx context.Context, src, title string) (*transcode.Result, error)
}

// ManifestWriter writes the playlist manifest for the stored files
type ManifestWriter interface {
	Write(paths []string, folder, name string) (string, error)
}

// Dependencies are the collaborators of a Service
type Dependencies struct {
	Playlists    PlaylistResolver
	Streams      StreamResolver
	Transcoder   Transcoder
	Materializer storage.Materializer
	Manifest     ManifestWriter
}
