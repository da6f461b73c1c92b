package manifest

import (
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ytget/playlist-converter/internal/platform"
)

// M3U format constants
const (
	Header          = "#EXTM3U"
	EntryInfoFormat = "#EXTINF:-1,%s"
	LineSeparator   = "\n"
)

// Writer emits playlist manifests next to the converted files
type Writer struct {
	notify func(filePath, mimeType string) error
}

// NewWriter creates a manifest writer that hands written files to the media scanner
func NewWriter() *Writer {
	return &Writer{notify: platform.NotifyMediaScanner}
}

// Render returns the manifest body. Entries reference bare file names in the
// given order.
func (w *Writer) Render(paths []string) string {
	var b strings.Builder
	b.WriteString(Header + LineSeparator)
	for _, p := range paths {
		name := path.Base(filepath.ToSlash(p))
		b.WriteString(fmt.Sprintf(EntryInfoFormat, strings.TrimSuffix(name, path.Ext(name))) + LineSeparator)
		b.WriteString(name + LineSeparator)
	}
	return b.String()
}

// Write stores <folder>/<name>.m3u and returns its path
func (w *Writer) Write(paths []string, folder, name string) (string, error) {
	if err := platform.CreateDirectoryIfNotExists(folder); err != nil {
		return "", fmt.Errorf("failed to create playlist folder: %w", err)
	}

	manifestPath := filepath.Join(folder, platform.ManifestFileName(name))
	if err := os.WriteFile(manifestPath, []byte(w.Render(paths)), platform.DefaultFilePermissions); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}

	if w.notify != nil {
		if err := w.notify(manifestPath, platform.MimeTypeM3U); err != nil {
			log.Printf("[manifest] media scan failed for %s: %v", manifestPath, err)
		}
	}
	return manifestPath, nil
}
