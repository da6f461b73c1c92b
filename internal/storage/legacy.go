package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ytget/playlist-converter/internal/model"
	"github.com/ytget/playlist-converter/internal/platform"
)

// LegacyMaterializer copies files straight into the playlist folder
type LegacyMaterializer struct {
	now clock
}

// NewLegacyMaterializer creates a direct-copy materializer
func NewLegacyMaterializer() *LegacyMaterializer {
	return &LegacyMaterializer{now: time.Now}
}

// Materialize copies tempPath into target.Dir and returns the absolute path
func (m *LegacyMaterializer) Materialize(ctx context.Context, tempPath, title string, target Target) (string, error) {
	defer os.Remove(tempPath)

	if err := platform.CreateDirectoryIfNotExists(target.Dir); err != nil {
		return "", &model.MaterializationError{Path: target.Dir, Cause: fmt.Errorf("failed to create folder: %w", err)}
	}

	base := platform.OutputBaseName(title, m.now())
	name, err := uniqueName(base, platform.OutputExtensionMP3, func(name string) bool {
		return fileExists(filepath.Join(target.Dir, name))
	})
	if err != nil {
		return "", &model.MaterializationError{Path: target.Dir, Cause: err}
	}

	dest, err := filepath.Abs(filepath.Join(target.Dir, name))
	if err != nil {
		return "", &model.MaterializationError{Path: name, Cause: err}
	}

	if err := copyFile(ctx, tempPath, dest); err != nil {
		os.Remove(dest)
		return "", &model.MaterializationError{Path: dest, Cause: err}
	}

	if err := platform.NotifyMediaScanner(dest, platform.MimeTypeMP3); err != nil {
		log.Printf("[storage] media scan failed for %s: %v", dest, err)
	}
	return dest, nil
}

func copyFile(ctx context.Context, src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, platform.DefaultFilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	if _, err := io.Copy(out, &contextReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy audio: %w", err)
	}
	return out.Close()
}
