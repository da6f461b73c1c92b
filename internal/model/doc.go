package model

// Package model defines the domain data shared across the conversion pipeline:
// conversion items and their statuses, resolved playlists, stream descriptors,
// job lifecycle states, observer events and the typed pipeline errors.
