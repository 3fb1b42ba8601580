package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration for the speech backend.
type Config struct {
	Deepgram   DeepgramConfig
	Audio      AudioConfig
	Mute       MuteConfig
	Models     ModelsConfig
	Permission PermissionConfig
	Session    SessionConfig
	Log        LogConfig
}

type DeepgramConfig struct {
	APIKey         string
	APIBaseURL     string
	Model          string
	Language       string
	SmartFormat    bool
	EndpointingMs  int
	UtteranceEndMs int
}

type AudioConfig struct {
	Backend         string
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

// MuteConfig selects the sinks that stand in for the music and
// notification streams while a session mutes its start beep.
type MuteConfig struct {
	Enabled          bool
	Command          string
	MusicSink        string
	NotificationSink string
}

type ModelsConfig struct {
	Dir     string
	BaseURL string
}

type PermissionConfig struct {
	Path     string
	Override string
}

type SessionConfig struct {
	ChunkSize     int
	CreateTimeout time.Duration
	DefaultLocale string
}

type LogConfig struct {
	Level  slog.Level
	Format string
}

const (
	AudioBackendFFMPEG    = "ffmpeg"
	AudioBackendPortAudio = "portaudio"
)

// Load resolves configuration from environment variables and sensible
// defaults. Variables from a .env file fill in anything not already set.
func Load() (Config, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return Config{}, errors.New("could not determine user config directory")
	}
	appDir := filepath.Join(configDir, "voicekit")

	if err := loadDotEnv(os.Getenv("VOICEKIT_ENV_FILE"), ".env", filepath.Join(appDir, ".env")); err != nil {
		return Config{}, err
	}

	modelsDir := strings.TrimSpace(os.Getenv("VOICEKIT_MODELS_DIR"))
	if modelsDir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return Config{}, errors.New("could not determine user cache directory")
		}
		modelsDir = filepath.Join(cacheDir, "voicekit", "models")
	}

	cfg := Config{
		Deepgram: DeepgramConfig{
			APIKey:         strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL:     envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:          envOrDefault("DEEPGRAM_MODEL", "nova-2"),
			Language:       strings.TrimSpace(os.Getenv("DEEPGRAM_LANGUAGE")),
			SmartFormat:    envOrDefaultBool("DEEPGRAM_SMART_FORMAT", true),
			EndpointingMs:  firstNonNegativeInt("VOICEKIT_ENDPOINTING_MS", "DEEPGRAM_ENDPOINTING_MS", 300),
			UtteranceEndMs: envOrDefaultInt("DEEPGRAM_UTTERANCE_END_MS", 1000),
		},
		Audio: AudioConfig{
			Backend:         strings.ToLower(envOrDefault("VOICEKIT_AUDIO_BACKEND", AudioBackendFFMPEG)),
			RecorderCommand: envOrDefault("VOICEKIT_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     strings.TrimSpace(os.Getenv("VOICEKIT_AUDIO_INPUT_FORMAT")),
			InputDevice: firstNonEmpty(
				os.Getenv("VOICEKIT_AUDIO_INPUT_DEVICE"),
				os.Getenv("PULSE_SOURCE"),
			),
			SampleRate: envOrDefaultInt("VOICEKIT_SAMPLE_RATE", 16000),
			Channels:   envOrDefaultInt("VOICEKIT_CHANNELS", 1),
		},
		Mute: MuteConfig{
			Enabled:          envOrDefaultBool("VOICEKIT_MUTE_ENABLED", true),
			Command:          envOrDefault("VOICEKIT_PACTL_COMMAND", "pactl"),
			MusicSink:        strings.TrimSpace(os.Getenv("VOICEKIT_MUSIC_SINK")),
			NotificationSink: strings.TrimSpace(os.Getenv("VOICEKIT_NOTIFICATION_SINK")),
		},
		Models: ModelsConfig{
			Dir:     modelsDir,
			BaseURL: envOrDefault("VOICEKIT_MODELS_BASE_URL", "https://alphacephei.com/vosk/models"),
		},
		Permission: PermissionConfig{
			Path:     envOrDefault("VOICEKIT_PERMISSION_FILE", filepath.Join(appDir, "permissions.json")),
			Override: strings.TrimSpace(os.Getenv("VOICEKIT_MIC_PERMISSION")),
		},
		Session: SessionConfig{
			ChunkSize:     envOrDefaultInt("VOICEKIT_AUDIO_CHUNK_SIZE", 4096),
			CreateTimeout: time.Duration(envOrDefaultInt("VOICEKIT_CREATE_TIMEOUT_MS", 10000)) * time.Millisecond,
			DefaultLocale: envOrDefault("VOICEKIT_DEFAULT_LOCALE", "en-US"),
		},
		Log: LogConfig{
			Level:  parseLevel(os.Getenv("VOICEKIT_LOG_LEVEL")),
			Format: strings.ToLower(envOrDefault("VOICEKIT_LOG_FORMAT", "text")),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = 4096
	}
	if cfg.Session.CreateTimeout <= 0 {
		cfg.Session.CreateTimeout = 10 * time.Second
	}
	switch cfg.Audio.Backend {
	case AudioBackendFFMPEG, AudioBackendPortAudio:
	default:
		return Config{}, fmt.Errorf("unsupported VOICEKIT_AUDIO_BACKEND %q", cfg.Audio.Backend)
	}

	return cfg, nil
}

// loadDotEnv loads every existing file in order; earlier files win.
func loadDotEnv(paths ...string) error {
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

func parseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func firstNonNegativeInt(primary string, secondary string, fallback int) int {
	for _, key := range []string{primary, secondary} {
		value := strings.TrimSpace(os.Getenv(key))
		if value == "" {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err == nil && parsed >= 0 {
			return parsed
		}
	}
	return fallback
}
