package model

import (
	"fmt"
	"strings"
	"time"
)

// UnknownTitleFormat is used when the remote metadata carries no title
const UnknownTitleFormat = "Unknown %d"

// Progress texts shown to observers while an item moves through the pipeline
const (
	ProgressFetchingStream = "Fetching stream info..."
	ProgressConverting     = "Converting to MP3..."
	ProgressSaving         = "Saving file..."
	ProgressSaved          = "Saved successfully"
	ProgressCancelled      = "Cancelled by user"
)

// ConversionItem represents a single playlist entry moving through the pipeline
type ConversionItem struct {
	ID           string     `json:"id"`
	Index        int        `json:"index"`
	Title        string     `json:"title"`
	SourceURL    string     `json:"source_url"`
	Status       ItemStatus `json:"status"`
	ProgressText string     `json:"progress_text"`
	OutputPath   string     `json:"output_path,omitempty"` // library path of the saved file
	Error        string     `json:"error,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewConversionItem creates a waiting item for the playlist entry at index
func NewConversionItem(id string, index int, entry PlaylistEntry) ConversionItem {
	title := strings.TrimSpace(entry.Title)
	if title == "" {
		title = fmt.Sprintf(UnknownTitleFormat, index+1)
	}
	return ConversionItem{
		ID:        id,
		Index:     index,
		Title:     title,
		SourceURL: entry.SourceURL,
		Status:    ItemStatusWaiting,
		UpdatedAt: time.Now(),
	}
}

// DisplayTitle returns title, saved filename, or source URL in order of preference
func (ci ConversionItem) DisplayTitle() string {
	if ci.Title != "" && !strings.HasPrefix(ci.Title, "http") {
		return ci.Title
	}

	if ci.OutputPath != "" {
		parts := strings.FieldsFunc(ci.OutputPath, func(r rune) bool {
			return r == '/' || r == '\\'
		})
		if len(parts) > 0 {
			filename := parts[len(parts)-1]
			if idx := strings.LastIndex(filename, "."); idx > 0 {
				filename = filename[:idx]
			}
			return filename
		}
	}

	return ci.SourceURL
}
