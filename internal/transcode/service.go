package transcode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ytget/playlist-converter/internal/model"
	"github.com/ytget/playlist-converter/internal/platform"
)

// FFmpeg constants for the fixed MP3 profile
const (
	// Audio codec settings
	AudioCodec   = "libmp3lame"
	AudioBitrate = "192k"
	SampleRate   = "44100"

	// Executable and I/O constants
	FFmpegCommand      = "ffmpeg"
	TempPrefix         = "conv_"
	OutputExtensionMP3 = ".mp3"
	OutputTailLines    = 20
	unknownExitCode    = -1
)

// Result describes a finished transcode
type Result struct {
	OutputPath string
	Elapsed    time.Duration
}

// Service runs ffmpeg synchronously on the caller's goroutine
type Service struct {
	ffmpegPath string
	tempDir    string
	logOutput  bool
	mutex      sync.RWMutex
}

// NewService creates a transcoder writing temp files into tempDir
func NewService(tempDir string) *Service {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "playlist-converter")
	}
	return &Service{
		ffmpegPath: FFmpegCommand,
		tempDir:    tempDir,
	}
}

// SetFFmpegPath overrides the ffmpeg executable
func (s *Service) SetFFmpegPath(path string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if path == "" {
		path = FFmpegCommand
	}
	s.ffmpegPath = path
}

// SetLogOutput forwards ffmpeg stderr lines to the log when enabled
func (s *Service) SetLogOutput(enabled bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.logOutput = enabled
}

// TempDir returns the directory used for intermediate files
func (s *Service) TempDir() string {
	return s.tempDir
}

// Available reports whether the ffmpeg executable can be found
func (s *Service) Available() bool {
	s.mutex.RLock()
	path := s.ffmpegPath
	s.mutex.RUnlock()

	_, err := exec.LookPath(path)
	return err == nil
}

// BuildFFmpegArgs builds the ffmpeg command arguments
func (s *Service) BuildFFmpegArgs(src, dest string) []string {
	return []string{
		"-i", src,             // Input stream
		"-vn",                 // Drop video
		"-acodec", AudioCodec, // Audio codec
		"-ab", AudioBitrate,   // Audio bitrate
		"-ar", SampleRate,     // Sample rate
		"-y",                  // Overwrite output file
		dest,                  // Output file
	}
}

// Transcode converts src into a temp MP3 file. Cancelling ctx kills ffmpeg.
// The temp file is removed on any failure.
func (s *Service) Transcode(ctx context.Context, src, title string) (*Result, error) {
	s.mutex.RLock()
	ffmpegPath := s.ffmpegPath
	logOutput := s.logOutput
	s.mutex.RUnlock()

	if err := platform.CreateDirectoryIfNotExists(s.tempDir); err != nil {
		return nil, &model.TranscodeError{ExitCode: unknownExitCode, Cause: fmt.Errorf("failed to create temp dir: %w", err)}
	}

	dest := filepath.Join(s.tempDir, generateTempName())
	started := time.Now()
	log.Printf("[transcode] converting %q to %s", title, dest)

	cmd := exec.CommandContext(ctx, ffmpegPath, s.BuildFFmpegArgs(src, dest)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &model.TranscodeError{ExitCode: unknownExitCode, Cause: fmt.Errorf("failed to create stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &model.TranscodeError{ExitCode: unknownExitCode, Cause: fmt.Errorf("failed to start ffmpeg: %w", err)}
	}

	tail := collectOutput(stderr, logOutput)
	err = cmd.Wait()

	if err != nil {
		os.Remove(dest)
		exitCode := unknownExitCode
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		log.Printf("[transcode] %q failed with exit code %d: %v", title, exitCode, err)
		return nil, &model.TranscodeError{ExitCode: exitCode, Output: tail, Cause: err}
	}

	if _, err := os.Stat(dest); err != nil {
		return nil, &model.TranscodeError{ExitCode: 0, Output: tail, Cause: fmt.Errorf("output file missing: %w", err)}
	}

	return &Result{OutputPath: dest, Elapsed: time.Since(started)}, nil
}

// collectOutput drains ffmpeg stderr and returns its last lines
func collectOutput(r io.Reader, logOutput bool) string {
	scanner := bufio.NewScanner(r)
	lines := make([]string, 0, OutputTailLines)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if logOutput {
			log.Printf("[transcode] ffmpeg: %s", line)
		}
		if len(lines) == OutputTailLines {
			lines = lines[1:]
		}
		lines = append(lines, line)
	}

	return strings.Join(lines, "\n")
}

// generateTempName generates a unique temp file name using UUID v7
func generateTempName() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf(TempPrefix+"%d"+OutputExtensionMP3, time.Now().UnixNano())
	}
	return TempPrefix + id.String() + OutputExtensionMP3
}
