package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ytget/playlist-converter/internal/platform"
	"github.com/ytget/playlist-converter/internal/storage"
)

// Resolver backends
const (
	ResolverYouTube = "youtube"
	ResolverYTDLP   = "ytdlp"
)

// Settings keys
const (
	KeyMusicDir        = "music_dir"
	KeyTempDir         = "temp_dir"
	KeyStorageMode     = "storage.mode"
	KeyResolverBackend = "resolver.backend"
	KeyHTTPTimeout     = "resolver.http_timeout"
	KeyFFmpegPath      = "transcode.ffmpeg_path"
	KeyHardCancel      = "transcode.hard_cancel"
	KeyLogOutput       = "transcode.log_output"
	KeyEventBuffer     = "events.buffer"
	KeyServerPort      = "server.port"
	KeyRedisAddr       = "redis.addr"
	KeyRedisPassword   = "redis.password"
	KeyRedisDB         = "redis.db"
	KeyRedisChannel    = "redis.channel"
	KeyJWTSecret       = "jwt.secret"
	KeyStartPerHour    = "ratelimit.start_per_hour"
	KeyTaskTimeout     = "worker.task_timeout"
)

// Command line flags
const (
	FlagConfig      = "config"
	FlagMusicDir    = "music-dir"
	FlagTempDir     = "temp-dir"
	FlagStorageMode = "storage-mode"
	FlagResolver    = "resolver"
	FlagFFmpeg      = "ffmpeg"
	FlagHardCancel  = "hard-cancel"
	FlagLogFFmpeg   = "log-ffmpeg"
	FlagPort        = "port"
	FlagRedisAddr   = "redis-addr"
)

// Default values
const (
	EnvPrefix           = "PLCONV"
	ConfigName          = "config"
	ConfigType          = "yaml"
	DefaultTempDirName  = "playlist-converter"
	DefaultFallbackDir  = "/tmp/music"
	DefaultStorageMode  = storage.ModeAuto
	DefaultResolver     = ResolverYouTube
	DefaultFFmpegPath   = "ffmpeg"
	DefaultEventBuffer  = 256
	MinEventBuffer      = 16
	MaxEventBuffer      = 4096
	DefaultServerPort   = "3000"
	DefaultRedisChannel = "playlist-converter:events"
	DefaultStartPerHour = 30
	MaxStartPerHour     = 1000
	DefaultTaskTimeout  = 24 * time.Hour
)

// RedisConfig holds the optional Redis connection
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Enabled reports whether a Redis address is configured
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// Settings manages application configuration
type Settings struct {
	v *viper.Viper
}

// NewSettings creates settings with defaults and environment overrides only
func NewSettings() *Settings {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyMusicDir, "")
	v.SetDefault(KeyTempDir, filepath.Join(os.TempDir(), DefaultTempDirName))
	v.SetDefault(KeyStorageMode, DefaultStorageMode)
	v.SetDefault(KeyResolverBackend, DefaultResolver)
	v.SetDefault(KeyHTTPTimeout, time.Duration(0))
	v.SetDefault(KeyFFmpegPath, DefaultFFmpegPath)
	v.SetDefault(KeyHardCancel, false)
	v.SetDefault(KeyLogOutput, false)
	v.SetDefault(KeyEventBuffer, DefaultEventBuffer)
	v.SetDefault(KeyServerPort, DefaultServerPort)
	v.SetDefault(KeyRedisAddr, "")
	v.SetDefault(KeyRedisPassword, "")
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyRedisChannel, DefaultRedisChannel)
	v.SetDefault(KeyJWTSecret, "")
	v.SetDefault(KeyStartPerHour, DefaultStartPerHour)
	v.SetDefault(KeyTaskTimeout, DefaultTaskTimeout)

	return &Settings{v: v}
}

// RegisterFlags defines the command line flags understood by Load
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(FlagConfig, "", "path to a config file")
	flags.String(FlagMusicDir, "", "music directory playlists are stored in")
	flags.String(FlagTempDir, "", "directory for intermediate files")
	flags.String(FlagStorageMode, DefaultStorageMode, "storage mode: auto, scoped or legacy")
	flags.String(FlagResolver, DefaultResolver, "playlist resolver: youtube or ytdlp")
	flags.String(FlagFFmpeg, DefaultFFmpegPath, "ffmpeg executable")
	flags.Bool(FlagHardCancel, false, "kill ffmpeg when cancelling")
	flags.Bool(FlagLogFFmpeg, false, "forward ffmpeg output to the log")
	flags.String(FlagPort, DefaultServerPort, "HTTP port for serve mode")
	flags.String(FlagRedisAddr, "", "Redis address for the event relay and task queue")
}

var flagKeys = map[string]string{
	FlagMusicDir:    KeyMusicDir,
	FlagTempDir:     KeyTempDir,
	FlagStorageMode: KeyStorageMode,
	FlagResolver:    KeyResolverBackend,
	FlagFFmpeg:      KeyFFmpegPath,
	FlagHardCancel:  KeyHardCancel,
	FlagLogFFmpeg:   KeyLogOutput,
	FlagPort:        KeyServerPort,
	FlagRedisAddr:   KeyRedisAddr,
}

// Load builds settings from defaults, an optional config file, environment
// variables prefixed with PLCONV_ and the given flags. flags may be nil.
func Load(flags *pflag.FlagSet) (*Settings, error) {
	s := NewSettings()

	configFile := ""
	if flags != nil {
		for name, key := range flagKeys {
			if flag := flags.Lookup(name); flag != nil {
				if err := s.v.BindPFlag(key, flag); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
		if flag := flags.Lookup(FlagConfig); flag != nil {
			configFile = flag.Value.String()
		}
	}

	if configFile != "" {
		s.v.SetConfigFile(configFile)
		if err := s.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
		return s, nil
	}

	s.v.SetConfigName(ConfigName)
	s.v.SetConfigType(ConfigType)
	s.v.AddConfigPath(".")
	s.v.AddConfigPath("./config")

	// Config file is optional
	_ = s.v.ReadInConfig()

	return s, nil
}

// GetMusicDir returns the configured music directory
func (s *Settings) GetMusicDir() string {
	dir := s.v.GetString(KeyMusicDir)
	if dir == "" {
		// Use the platform music directory
		defaultDir, err := platform.GetMusicDir()
		if err != nil {
			defaultDir = DefaultFallbackDir
		}
		return defaultDir
	}
	return dir
}

// SetMusicDir sets the music directory
func (s *Settings) SetMusicDir(dir string) {
	s.v.Set(KeyMusicDir, dir)
}

// GetTempDir returns the directory for intermediate files
func (s *Settings) GetTempDir() string {
	dir := s.v.GetString(KeyTempDir)
	if dir == "" {
		return filepath.Join(os.TempDir(), DefaultTempDirName)
	}
	return dir
}

// GetStorageMode returns the storage mode, falling back to auto for unknown values
func (s *Settings) GetStorageMode() string {
	mode := strings.ToLower(strings.TrimSpace(s.v.GetString(KeyStorageMode)))
	switch mode {
	case storage.ModeAuto, storage.ModeScoped, storage.ModeLegacy:
		return mode
	default:
		return DefaultStorageMode
	}
}

// SetStorageMode sets the storage mode
func (s *Settings) SetStorageMode(mode string) {
	s.v.Set(KeyStorageMode, mode)
}

// GetResolverBackend returns the playlist resolver backend
func (s *Settings) GetResolverBackend() string {
	backend := strings.ToLower(strings.TrimSpace(s.v.GetString(KeyResolverBackend)))
	if backend == ResolverYTDLP {
		return ResolverYTDLP
	}
	return ResolverYouTube
}

// GetHTTPTimeout returns the resolver HTTP timeout; zero means none
func (s *Settings) GetHTTPTimeout() time.Duration {
	timeout := s.v.GetDuration(KeyHTTPTimeout)
	if timeout < 0 {
		return 0
	}
	return timeout
}

// GetFFmpegPath returns the ffmpeg executable
func (s *Settings) GetFFmpegPath() string {
	path := s.v.GetString(KeyFFmpegPath)
	if path == "" {
		return DefaultFFmpegPath
	}
	return path
}

// GetHardCancel returns whether cancelling kills ffmpeg
func (s *Settings) GetHardCancel() bool {
	return s.v.GetBool(KeyHardCancel)
}

// SetHardCancel sets whether cancelling kills ffmpeg
func (s *Settings) SetHardCancel(enabled bool) {
	s.v.Set(KeyHardCancel, enabled)
}

// GetLogOutput returns whether ffmpeg output is logged
func (s *Settings) GetLogOutput() bool {
	return s.v.GetBool(KeyLogOutput)
}

// GetEventBuffer returns the per-observer event buffer size
func (s *Settings) GetEventBuffer() int {
	return clamp(s.v.GetInt(KeyEventBuffer), MinEventBuffer, MaxEventBuffer)
}

// SetEventBuffer sets the per-observer event buffer size
func (s *Settings) SetEventBuffer(size int) {
	s.v.Set(KeyEventBuffer, clamp(size, MinEventBuffer, MaxEventBuffer))
}

// GetServerPort returns the HTTP port
func (s *Settings) GetServerPort() string {
	port := s.v.GetString(KeyServerPort)
	if port == "" {
		return DefaultServerPort
	}
	return port
}

// GetRedis returns the Redis settings
func (s *Settings) GetRedis() RedisConfig {
	channel := s.v.GetString(KeyRedisChannel)
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return RedisConfig{
		Addr:     s.v.GetString(KeyRedisAddr),
		Password: s.v.GetString(KeyRedisPassword),
		DB:       s.v.GetInt(KeyRedisDB),
		Channel:  channel,
	}
}

// GetJWTSecret returns the bearer token secret; empty disables auth
func (s *Settings) GetJWTSecret() string {
	return s.v.GetString(KeyJWTSecret)
}

// GetStartPerHour returns how many jobs one client may start per hour
func (s *Settings) GetStartPerHour() int {
	value := s.v.GetInt(KeyStartPerHour)
	if value <= 0 {
		return DefaultStartPerHour
	}
	return clamp(value, 1, MaxStartPerHour)
}

// SetStartPerHour sets how many jobs one client may start per hour
func (s *Settings) SetStartPerHour(count int) {
	s.v.Set(KeyStartPerHour, clamp(count, 1, MaxStartPerHour))
}

// GetTaskTimeout returns how long a queued conversion may run before the
// task queue abandons it
func (s *Settings) GetTaskTimeout() time.Duration {
	timeout := s.v.GetDuration(KeyTaskTimeout)
	if timeout <= 0 {
		return DefaultTaskTimeout
	}
	return timeout
}

// SetTaskTimeout sets the queued conversion timeout
func (s *Settings) SetTaskTimeout(timeout time.Duration) {
	s.v.Set(KeyTaskTimeout, timeout)
}

// GetStorageModeOptions returns the available storage modes
func (s *Settings) GetStorageModeOptions() []string {
	return []string{storage.ModeAuto, storage.ModeScoped, storage.ModeLegacy}
}

func clamp(value, minValue, maxValue int) int {
	if value < minValue {
		return minValue
	}
	if value > maxValue {
		return maxValue
	}
	return value
}
