// Package transcode converts remote audio streams to local MP3 files with ffmpeg.
package transcode
