package platform

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"

	"github.com/ytget/playlist-converter/internal/model"
)

// URL parameters and templates
const (
	PlaylistURLParam       = "list="
	PlaylistParamSeparator = "&"
	YouTubeWatchURLPrefix  = "https://www.youtube.com/watch?v="
)

// Stream selection constants
const (
	AudioMimePrefix = "audio/"
	CodecsParam     = "codecs"
)

// Error reasons reported to observers
const (
	ReasonRestricted  = "restricted or private"
	ReasonInvalidURL  = "invalid URL"
	ReasonUnreachable = "source unreachable"
	ReasonNoStreams   = "no streams available"
)

// YouTubeResolver resolves playlists and audio streams through the YouTube
// innertube client
type YouTubeResolver struct {
	client     *youtube.Client
	httpClient *http.Client
}

// NewYouTubeResolver creates a resolver. A zero timeout means no timeout.
func NewYouTubeResolver(timeout time.Duration) *YouTubeResolver {
	httpClient := &http.Client{Timeout: timeout}
	return &YouTubeResolver{
		client:     &youtube.Client{HTTPClient: httpClient},
		httpClient: httpClient,
	}
}

// ResolvePlaylist resolves a playlist URL to its name and ordered entries. A
// URL without a playlist parameter resolves to a one-entry playlist named
// after the video.
func (r *YouTubeResolver) ResolvePlaylist(ctx context.Context, rawURL string) (*model.ResolvedPlaylist, error) {
	if !IsPlaylistURL(rawURL) {
		return r.resolveSingleVideo(ctx, rawURL)
	}

	playlist, err := r.client.GetPlaylistContext(ctx, rawURL)
	if err != nil {
		return nil, &model.ResolutionError{URL: rawURL, Reason: describeYouTubeError(err), Cause: err}
	}

	resolved := &model.ResolvedPlaylist{
		ID:      playlist.ID,
		Name:    playlist.Title,
		URL:     rawURL,
		Entries: make([]model.PlaylistEntry, 0, len(playlist.Videos)),
	}
	for _, entry := range playlist.Videos {
		if entry == nil || entry.ID == "" {
			continue
		}
		resolved.Entries = append(resolved.Entries, model.PlaylistEntry{
			VideoID:   entry.ID,
			Title:     entry.Title,
			SourceURL: WatchURLForID(entry.ID),
		})
	}
	return resolved, nil
}

func (r *YouTubeResolver) resolveSingleVideo(ctx context.Context, rawURL string) (*model.ResolvedPlaylist, error) {
	video, err := r.client.GetVideoContext(ctx, rawURL)
	if err != nil {
		return nil, &model.ResolutionError{URL: rawURL, Reason: describeYouTubeError(err), Cause: err}
	}

	return &model.ResolvedPlaylist{
		ID:   video.ID,
		Name: video.Title,
		URL:  rawURL,
		Entries: []model.PlaylistEntry{{
			VideoID:   video.ID,
			Title:     video.Title,
			SourceURL: WatchURLForID(video.ID),
		}},
	}, nil
}

// ResolveStreams returns the audio streams of a media item. Descriptors backed
// by a ciphered format carry an empty URL until ResolveBest deciphers it.
func (r *YouTubeResolver) ResolveStreams(ctx context.Context, sourceURL string) ([]model.StreamDescriptor, error) {
	_, streams, _, err := r.audioStreams(ctx, sourceURL)
	return streams, err
}

// ResolveBest picks the highest-bitrate audio stream and returns it with a
// playable URL
func (r *YouTubeResolver) ResolveBest(ctx context.Context, sourceURL string) (model.StreamDescriptor, error) {
	video, streams, formats, err := r.audioStreams(ctx, sourceURL)
	if err != nil {
		return model.StreamDescriptor{}, err
	}

	index, ok := selectBestIndex(streams)
	if !ok {
		return model.StreamDescriptor{}, &model.NoAudioStreamError{URL: sourceURL}
	}
	best := streams[index]

	// HLS descriptors already carry a playable URL
	if index < len(formats) {
		streamURL, err := r.client.GetStreamURLContext(ctx, video, formats[index])
		if err != nil {
			return model.StreamDescriptor{}, &model.StreamUnavailableError{URL: sourceURL, Reason: describeYouTubeError(err), Cause: err}
		}
		best.URL = streamURL
	}
	return best, nil
}

// audioStreams fetches the video and lists its audio streams. formats[i] is
// the format behind streams[i]; HLS descriptors come after all formats.
func (r *YouTubeResolver) audioStreams(ctx context.Context, sourceURL string) (*youtube.Video, []model.StreamDescriptor, []*youtube.Format, error) {
	video, err := r.client.GetVideoContext(ctx, sourceURL)
	if err != nil {
		return nil, nil, nil, &model.StreamUnavailableError{URL: sourceURL, Reason: describeYouTubeError(err), Cause: err}
	}

	streams, formats := AudioStreamsFromFormats(video.Formats)
	if len(streams) == 0 && video.HLSManifestURL != "" {
		variants, err := HLSAudioVariants(ctx, r.httpClient, video.HLSManifestURL)
		if err != nil {
			log.Printf("[platform] HLS fallback failed for %s: %v", sourceURL, err)
		}
		streams = append(streams, variants...)
	}

	if len(streams) == 0 {
		if len(video.Formats) == 0 && video.HLSManifestURL == "" {
			return nil, nil, nil, &model.StreamUnavailableError{URL: sourceURL, Reason: ReasonNoStreams}
		}
		return nil, nil, nil, &model.NoAudioStreamError{URL: sourceURL}
	}
	return video, streams, formats, nil
}

// AudioStreamsFromFormats converts the audio-carrying formats into descriptors.
// Audio-only formats are preferred; muxed formats with audio channels are used
// only when no audio-only format exists.
func AudioStreamsFromFormats(list youtube.FormatList) ([]model.StreamDescriptor, []*youtube.Format) {
	audioOnly := list.Select(func(f youtube.Format) bool {
		return strings.HasPrefix(f.MimeType, AudioMimePrefix)
	})
	if len(audioOnly) == 0 {
		audioOnly = list.WithAudioChannels()
	}

	streams := make([]model.StreamDescriptor, 0, len(audioOnly))
	formats := make([]*youtube.Format, 0, len(audioOnly))
	for i := range audioOnly {
		f := &audioOnly[i]
		streams = append(streams, model.StreamDescriptor{
			URL:      f.URL,
			Bitrate:  bitrateForFormat(f),
			Codec:    codecFromMime(f.MimeType),
			MimeType: f.MimeType,
			Itag:     f.ItagNo,
		})
		formats = append(formats, f)
	}
	return streams, formats
}

// SelectBest returns the stream with the highest bitrate. On ties the stream
// that comes first wins.
func SelectBest(streams []model.StreamDescriptor) (model.StreamDescriptor, bool) {
	index, ok := selectBestIndex(streams)
	if !ok {
		return model.StreamDescriptor{}, false
	}
	return streams[index], true
}

func selectBestIndex(streams []model.StreamDescriptor) (int, bool) {
	if len(streams) == 0 {
		return 0, false
	}
	best := 0
	for i := 1; i < len(streams); i++ {
		if streams[i].Bitrate > streams[best].Bitrate {
			best = i
		}
	}
	return best, true
}

// IsPlaylistURL reports whether the URL carries a non-empty playlist parameter
func IsPlaylistURL(rawURL string) bool {
	id, err := ExtractPlaylistID(rawURL)
	return err == nil && id != ""
}

// ExtractPlaylistID extracts the playlist ID from a YouTube URL:
//   - https://www.youtube.com/watch?v=VIDEO_ID&list=PLAYLIST_ID&start_radio=1
//   - https://www.youtube.com/playlist?list=PLAYLIST_ID
func ExtractPlaylistID(rawURL string) (string, error) {
	if !strings.Contains(rawURL, PlaylistURLParam) {
		return "", fmt.Errorf("URL does not contain playlist parameter")
	}

	parts := strings.SplitN(rawURL, PlaylistURLParam, 2)
	playlistID := parts[1]
	if idx := strings.Index(playlistID, PlaylistParamSeparator); idx >= 0 {
		playlistID = playlistID[:idx]
	}

	if playlistID == "" {
		return "", fmt.Errorf("empty playlist ID")
	}
	return playlistID, nil
}

// WatchURLForID returns the canonical watch URL of a video
func WatchURLForID(id string) string {
	if id == "" {
		return ""
	}
	return YouTubeWatchURLPrefix + id
}

func bitrateForFormat(f *youtube.Format) int {
	if f.Bitrate > 0 {
		return f.Bitrate
	}
	return f.AverageBitrate
}

// codecFromMime extracts the codecs parameter, e.g. opus from audio/webm; codecs="opus"
func codecFromMime(mimeType string) string {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return ""
	}
	return params[CodecsParam]
}

func describeYouTubeError(err error) string {
	switch {
	case errors.Is(err, youtube.ErrLoginRequired),
		errors.Is(err, youtube.ErrVideoPrivate),
		errors.Is(err, youtube.ErrNotPlayableInEmbed):
		return ReasonRestricted
	case errors.Is(err, youtube.ErrInvalidPlaylist),
		errors.Is(err, youtube.ErrInvalidCharactersInVideoID),
		errors.Is(err, youtube.ErrVideoIDMinLength):
		return ReasonInvalidURL
	}

	var statusErr *youtube.ErrPlayabiltyStatus
	if errors.As(err, &statusErr) {
		return ReasonRestricted
	}
	var playlistErr youtube.ErrPlaylistStatus
	if errors.As(err, &playlistErr) {
		return ReasonRestricted
	}

	return ReasonUnreachable
}
