// Package manifest writes M3U playlists referencing converted files.
package manifest
