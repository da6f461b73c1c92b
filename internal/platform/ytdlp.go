package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ytget/ytdlp/v2"

	"github.com/ytget/playlist-converter/internal/model"
)

// Timeout constants
const (
	DefaultPlaylistParseTimeout = 60 * time.Second
)

// Playlist title constants
const (
	DefaultPlaylistTitle = "Untitled Playlist"
	MinPrefixLength      = 10
	PlaylistSuffix       = " Playlist"
)

// YTDLPPlaylistResolver lists playlist items with the ytdlp library. The
// listing carries no playlist title, so the name is derived from the items.
type YTDLPPlaylistResolver struct {
	timeout time.Duration
}

// NewYTDLPPlaylistResolver creates a resolver with the default timeout
func NewYTDLPPlaylistResolver() *YTDLPPlaylistResolver {
	return &YTDLPPlaylistResolver{
		timeout: DefaultPlaylistParseTimeout,
	}
}

// SetTimeout sets the timeout for listing operations. Zero disables it.
func (y *YTDLPPlaylistResolver) SetTimeout(timeout time.Duration) {
	y.timeout = timeout
}

// ResolvePlaylist lists all items of the playlist referenced by rawURL
func (y *YTDLPPlaylistResolver) ResolvePlaylist(ctx context.Context, rawURL string) (*model.ResolvedPlaylist, error) {
	playlistID, err := ExtractPlaylistID(rawURL)
	if err != nil {
		return nil, &model.ResolutionError{URL: rawURL, Reason: ReasonInvalidURL, Cause: err}
	}

	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}

	items, err := ytdlp.New().GetPlaylistItemsAll(ctx, playlistID, 0)
	if err != nil {
		return nil, &model.ResolutionError{
			URL:    rawURL,
			Reason: ReasonUnreachable,
			Cause:  fmt.Errorf("failed to get playlist items: %w", err),
		}
	}

	entries := make([]model.PlaylistEntry, 0, len(items))
	for _, it := range items {
		if it.VideoID == "" {
			continue
		}
		entries = append(entries, model.PlaylistEntry{
			VideoID:   it.VideoID,
			Title:     it.Title,
			SourceURL: WatchURLForID(it.VideoID),
		})
	}

	return &model.ResolvedPlaylist{
		ID:      playlistID,
		Name:    derivePlaylistName(entries),
		URL:     rawURL,
		Entries: entries,
	}, nil
}

// derivePlaylistName uses the common title prefix of the first two entries,
// or the first title, as the playlist name
func derivePlaylistName(entries []model.PlaylistEntry) string {
	if len(entries) == 0 {
		return DefaultPlaylistTitle
	}
	if len(entries) > 1 {
		prefix := findCommonPrefix(entries[0].Title, entries[1].Title)
		if len(prefix) > MinPrefixLength {
			return strings.TrimSpace(prefix) + PlaylistSuffix
		}
	}
	if entries[0].Title == "" {
		return DefaultPlaylistTitle
	}
	return entries[0].Title + PlaylistSuffix
}

// findCommonPrefix finds the common prefix between two strings
func findCommonPrefix(s1, s2 string) string {
	minLen := min(len(s1), len(s2))
	for i := 0; i < minLen; i++ {
		if s1[i] != s2[i] {
			return s1[:i]
		}
	}
	return s1[:minLen]
}
