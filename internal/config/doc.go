// Package config loads application settings from defaults, an optional
// config file, PLCONV_ environment variables and command line flags.
package config
