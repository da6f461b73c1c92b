package platform

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Operating system constants
const (
	OSAndroid = "android"
)

// File permissions
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// Android storage and media scanner constants
const (
	AndroidMusicDir       = "/sdcard/Music"
	MusicDirName          = "Music"
	ActivityManagerCmd    = "am"
	GetPropCmd            = "getprop"
	SDKVersionProp        = "ro.build.version.sdk"
	MediaScannerAction    = "android.intent.action.MEDIA_SCANNER_SCAN_FILE"
	FileURIPrefix         = "file://"
	MimeTypeMP3           = "audio/mpeg"
	MimeTypeM3U           = "audio/x-mpegurl"
	ScopedStorageMinSDK   = 29
	unknownAndroidVersion = 0
)

// CreateDirectoryIfNotExists creates directory if it doesn't exist
func CreateDirectoryIfNotExists(dirPath string) error {
	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		return os.MkdirAll(dirPath, DefaultDirPermissions)
	}
	return nil
}

// IsAndroid reports whether the process runs on Android
func IsAndroid() bool {
	return runtime.GOOS == OSAndroid ||
		os.Getenv("ANDROID_DATA") != "" ||
		os.Getenv("ANDROID_ROOT") != "" ||
		os.Getenv("ANDROID_STORAGE") != ""
}

// AndroidSDKVersion returns the Android API level, or 0 when unknown or not on Android
func AndroidSDKVersion() int {
	if !IsAndroid() {
		return unknownAndroidVersion
	}
	output, err := exec.Command(GetPropCmd, SDKVersionProp).Output()
	if err != nil {
		return unknownAndroidVersion
	}
	version, err := strconv.Atoi(strings.TrimSpace(string(output)))
	if err != nil {
		return unknownAndroidVersion
	}
	return version
}

// SupportsScopedStorage reports whether the platform uses a pending/publish media library
func SupportsScopedStorage() bool {
	return AndroidSDKVersion() >= ScopedStorageMinSDK
}

// GetMusicDir returns the standard music directory for the user
func GetMusicDir() (string, error) {
	if IsAndroid() {
		// Shared storage so files show up in music players
		return AndroidMusicDir, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, MusicDirName), nil
}

// NotifyMediaScanner asks the Android media scanner to index a new file so it
// shows up in music players. It is a no-op on other platforms.
func NotifyMediaScanner(filePath, mimeType string) error {
	if !IsAndroid() {
		return nil
	}

	cmd := exec.Command(ActivityManagerCmd, "broadcast",
		"-a", MediaScannerAction,
		"-d", FileURIPrefix+filePath,
		"-t", mimeType)

	// Don't block the pipeline on the broadcast
	go func() {
		if err := cmd.Run(); err != nil {
			fmt.Printf("Failed to notify media scanner about %s: %v\n", filePath, err)
		}
	}()

	return nil
}
