package model

// PlaylistEntry is one member of a resolved playlist
type PlaylistEntry struct {
	VideoID   string `json:"video_id,omitempty"`
	Title     string `json:"title"`
	SourceURL string `json:"source_url"`
}

// ResolvedPlaylist is the playlist resolver output: a display name and its
// members in playlist order
type ResolvedPlaylist struct {
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name"`
	URL     string          `json:"url"`
	Entries []PlaylistEntry `json:"entries"`
}

// Len returns the number of entries in the playlist
func (p *ResolvedPlaylist) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Entries)
}

// StreamDescriptor describes one remote audio stream of a media item
type StreamDescriptor struct {
	URL      string `json:"url"`
	Bitrate  int    `json:"bitrate"`
	Codec    string `json:"codec,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Itag     int    `json:"itag,omitempty"`
}
