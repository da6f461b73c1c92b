package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ytget/playlist-converter/internal/platform"
)

// Storage modes
const (
	ModeAuto   = "auto"
	ModeScoped = "scoped"
	ModeLegacy = "legacy"
)

// Naming constants
const (
	MaxNameAttempts    = 100
	UniqueSuffixFormat = "%s_%d"
)

// Target is the destination of one job's files
type Target struct {
	PlaylistName string // sanitized playlist folder name
	Dir          string // absolute playlist folder
}

// Materializer moves a temp file into music storage and returns the stored
// path. The temp file is removed whatever the outcome.
type Materializer interface {
	Materialize(ctx context.Context, tempPath, title string, target Target) (string, error)
}

// NewMaterializer returns the materializer for mode. ModeAuto picks scoped
// storage when the platform supports it.
func NewMaterializer(mode, musicDir string) (Materializer, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeAuto, "":
		if platform.SupportsScopedStorage() {
			return NewScopedMaterializer(NewFSMediaLibrary(musicDir)), nil
		}
		return NewLegacyMaterializer(), nil
	case ModeScoped:
		return NewScopedMaterializer(NewFSMediaLibrary(musicDir)), nil
	case ModeLegacy:
		return NewLegacyMaterializer(), nil
	default:
		return nil, fmt.Errorf("unknown storage mode: %s", mode)
	}
}

// uniqueName returns base+ext, or base_N+ext for the first N that is free
func uniqueName(base, ext string, exists func(name string) bool) (string, error) {
	name := base + ext
	for i := 1; exists(name); i++ {
		if i > MaxNameAttempts {
			return "", fmt.Errorf("no free file name for %s", base+ext)
		}
		name = fmt.Sprintf(UniqueSuffixFormat, base, i) + ext
	}
	return name, nil
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type clock func() time.Time
