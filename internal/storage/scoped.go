package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ytget/playlist-converter/internal/model"
	"github.com/ytget/playlist-converter/internal/platform"
)

// PendingFilePrefix marks files whose media record is not published yet
const PendingFilePrefix = ".pending-"

// MediaRecord describes a media library entry to insert
type MediaRecord struct {
	DisplayName  string
	MimeType     string
	RelativePath string // e.g. Music/<playlist>
}

// PendingMedia is an inserted record that is invisible until published
type PendingMedia interface {
	io.Writer
	// Publish makes the record visible and returns its logical path
	Publish() (string, error)
	// Abort deletes the record
	Abort() error
}

// MediaLibrary is a pending/publish media store
type MediaLibrary interface {
	Exists(relativePath, displayName string) bool
	Insert(record MediaRecord) (PendingMedia, error)
}

// ScopedMaterializer stores files through a MediaLibrary
type ScopedMaterializer struct {
	library MediaLibrary
	now     clock
}

// NewScopedMaterializer creates a materializer over library
func NewScopedMaterializer(library MediaLibrary) *ScopedMaterializer {
	return &ScopedMaterializer{library: library, now: time.Now}
}

// Materialize streams tempPath into a new library record under
// Music/<playlist> and returns the record's logical path
func (m *ScopedMaterializer) Materialize(ctx context.Context, tempPath, title string, target Target) (string, error) {
	defer os.Remove(tempPath)

	relativePath := path.Join(platform.MusicDirName, target.PlaylistName)
	base := platform.OutputBaseName(title, m.now())
	name, err := uniqueName(base, platform.OutputExtensionMP3, func(name string) bool {
		return m.library.Exists(relativePath, name)
	})
	if err != nil {
		return "", &model.MaterializationError{Path: relativePath, Cause: err}
	}
	logical := path.Join(relativePath, name)

	in, err := os.Open(tempPath)
	if err != nil {
		return "", &model.MaterializationError{Path: logical, Cause: fmt.Errorf("failed to open temp file: %w", err)}
	}
	defer in.Close()

	pending, err := m.library.Insert(MediaRecord{
		DisplayName:  name,
		MimeType:     platform.MimeTypeMP3,
		RelativePath: relativePath,
	})
	if err != nil {
		return "", &model.MaterializationError{Path: logical, Cause: fmt.Errorf("failed to insert media record: %w", err)}
	}

	if _, err := io.Copy(pending, &contextReader{ctx: ctx, r: in}); err != nil {
		abort(pending, logical)
		return "", &model.MaterializationError{Path: logical, Cause: fmt.Errorf("failed to copy audio: %w", err)}
	}

	if err := ctx.Err(); err != nil {
		abort(pending, logical)
		return "", &model.MaterializationError{Path: logical, Cause: err}
	}

	published, err := pending.Publish()
	if err != nil {
		abort(pending, logical)
		return "", &model.MaterializationError{Path: logical, Cause: fmt.Errorf("failed to publish media record: %w", err)}
	}
	return published, nil
}

func abort(pending PendingMedia, logical string) {
	if err := pending.Abort(); err != nil {
		log.Printf("[storage] failed to roll back %s: %v", logical, err)
	}
}

// FSMediaLibrary is a MediaLibrary on the local file system. Relative paths
// under Music/ map onto the music directory.
type FSMediaLibrary struct {
	musicDir string
}

// NewFSMediaLibrary creates a library rooted at musicDir
func NewFSMediaLibrary(musicDir string) *FSMediaLibrary {
	return &FSMediaLibrary{musicDir: musicDir}
}

// dir maps a library relative path onto the file system
func (l *FSMediaLibrary) dir(relativePath string) string {
	rel := path.Clean(relativePath)
	if rel == platform.MusicDirName {
		rel = ""
	}
	rel = strings.TrimPrefix(rel, platform.MusicDirName+"/")
	return filepath.Join(l.musicDir, filepath.FromSlash(rel))
}

// Exists reports whether a published or pending record holds displayName
func (l *FSMediaLibrary) Exists(relativePath, displayName string) bool {
	dir := l.dir(relativePath)
	return fileExists(filepath.Join(dir, displayName)) ||
		fileExists(filepath.Join(dir, PendingFilePrefix+displayName))
}

// Insert creates a pending record
func (l *FSMediaLibrary) Insert(record MediaRecord) (PendingMedia, error) {
	if record.DisplayName == "" {
		return nil, errors.New("display name is required")
	}

	dir := l.dir(record.RelativePath)
	if err := platform.CreateDirectoryIfNotExists(dir); err != nil {
		return nil, fmt.Errorf("failed to create folder: %w", err)
	}

	pendingPath := filepath.Join(dir, PendingFilePrefix+record.DisplayName)
	file, err := os.OpenFile(pendingPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, platform.DefaultFilePermissions)
	if err != nil {
		return nil, err
	}

	return &fsPendingMedia{
		file:        file,
		pendingPath: pendingPath,
		finalPath:   filepath.Join(dir, record.DisplayName),
		logicalPath: path.Join(record.RelativePath, record.DisplayName),
		mimeType:    record.MimeType,
	}, nil
}

type fsPendingMedia struct {
	file        *os.File
	pendingPath string
	finalPath   string
	logicalPath string
	mimeType    string
	closed      bool
}

func (p *fsPendingMedia) Write(b []byte) (int, error) {
	return p.file.Write(b)
}

func (p *fsPendingMedia) close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.file.Close()
}

func (p *fsPendingMedia) Publish() (string, error) {
	if err := p.close(); err != nil {
		return "", err
	}
	if err := os.Rename(p.pendingPath, p.finalPath); err != nil {
		return "", err
	}
	if err := platform.NotifyMediaScanner(p.finalPath, p.mimeType); err != nil {
		log.Printf("[storage] media scan failed for %s: %v", p.finalPath, err)
	}
	return p.logicalPath, nil
}

func (p *fsPendingMedia) Abort() error {
	p.close()
	if err := os.Remove(p.pendingPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
