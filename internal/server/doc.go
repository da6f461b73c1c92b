// Package server exposes the conversion service over HTTP and websockets.
package server
