package platform

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Output naming constants
const (
	MaxNameLength         = 50
	TimestampLayout       = "20060102_1504"
	FallbackAudioName     = "Audio"
	FallbackPlaylistName  = "Playlist"
	OutputExtensionMP3    = ".mp3"
	ManifestExtension     = ".m3u"
	titleWhitespace       = " "
	playlistNameSeparator = "_"
)

var (
	disallowedNameChars = regexp.MustCompile(`[^A-Za-z0-9 \-_]`)
	whitespaceRun       = regexp.MustCompile(`\s+`)
)

// SanitizeTitle keeps only letters, digits, spaces, hyphens and underscores,
// collapses whitespace and truncates to MaxNameLength
func SanitizeTitle(title string) string {
	clean := disallowedNameChars.ReplaceAllString(title, "")
	clean = whitespaceRun.ReplaceAllString(clean, titleWhitespace)
	clean = strings.TrimSpace(clean)
	return truncate(clean, MaxNameLength)
}

// OutputBaseName returns the file name without extension for a track title:
// <clean-title>_<yyyyMMdd_HHmm>, or Audio_<yyyyMMdd_HHmm> when nothing survives
func OutputBaseName(title string, now time.Time) string {
	timestamp := now.Format(TimestampLayout)
	clean := SanitizeTitle(title)
	if clean == "" {
		return FallbackAudioName + "_" + timestamp
	}
	return clean + "_" + timestamp
}

// OutputFileName returns OutputBaseName with the .mp3 extension
func OutputFileName(title string, now time.Time) string {
	return OutputBaseName(title, now) + OutputExtensionMP3
}

// SanitizePlaylistName turns a playlist display name into a folder name:
// whitespace becomes underscores, other disallowed characters are dropped,
// and an empty result falls back to Playlist_<unix-millis>
func SanitizePlaylistName(name string, now time.Time) string {
	clean := disallowedNameChars.ReplaceAllString(name, "")
	clean = whitespaceRun.ReplaceAllString(clean, playlistNameSeparator)
	clean = truncate(clean, MaxNameLength)
	if strings.Trim(clean, playlistNameSeparator) == "" {
		return fmt.Sprintf("%s_%d", FallbackPlaylistName, now.UnixMilli())
	}
	return clean
}

// ManifestFileName returns the manifest file name for a sanitized playlist name
func ManifestFileName(playlistName string) string {
	return playlistName + ManifestExtension
}

// truncate cuts s to at most n bytes. Sanitized names are ASCII only.
func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
