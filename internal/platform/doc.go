package platform

// Package platform contains OS/platform integration and remote source glue:
// filesystem and media-scanner helpers, output naming, playlist resolution via
// the YouTube client or yt-dlp item listing, and audio stream resolution.
