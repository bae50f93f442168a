package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration resolved at startup.
type Config struct {
	Server  ServerConfig
	Audio   AudioConfig
	Session SessionConfig
	Rules   RulesConfig
	Log     LogConfig
}

type ServerConfig struct {
	// URL is the dictation service base address, e.g. http://127.0.0.1:7860.
	URL string
	// ConnectTimeout is the hard ceiling on one connect attempt.
	ConnectTimeout time.Duration
	// RequestTimeout bounds identity registration round trips.
	RequestTimeout time.Duration
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

type SessionConfig struct {
	ChunkSize int
	// SettingsPath locates the persisted settings file.
	SettingsPath string
	// HistoryPath locates the persisted dictation history file.
	HistoryPath string
}

type RulesConfig struct {
	// Path locates the transcript substitution rules file. Empty or
	// missing means no rewriting.
	Path           string
	IterationLimit int
}

type LogConfig struct {
	Level string
}

// Load resolves configuration from environment variables and sensible defaults.
func Load() (Config, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return Config{}, errors.New("could not determine config directory")
		}
		configDir = filepath.Join(home, ".config")
	}

	settingsPath := strings.TrimSpace(os.Getenv("PATTER_SETTINGS_FILE"))
	if settingsPath == "" {
		settingsPath = filepath.Join(configDir, "patter", "settings.json")
	}
	historyPath := strings.TrimSpace(os.Getenv("PATTER_HISTORY_FILE"))
	if historyPath == "" {
		historyPath = filepath.Join(configDir, "patter", "history.json")
	}

	cfg := Config{
		Server: ServerConfig{
			URL:            envOrDefault("PATTER_SERVER_URL", "http://127.0.0.1:7860"),
			ConnectTimeout: time.Duration(envOrDefaultInt("PATTER_CONNECT_TIMEOUT_MS", 30000)) * time.Millisecond,
			RequestTimeout: time.Duration(envOrDefaultInt("PATTER_REQUEST_TIMEOUT_MS", 10000)) * time.Millisecond,
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("PATTER_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("PATTER_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:     envOrDefault("PATTER_AUDIO_INPUT_DEVICE", "default"),
			SampleRate:      envOrDefaultInt("PATTER_SAMPLE_RATE", 16000),
			Channels:        envOrDefaultInt("PATTER_CHANNELS", 1),
		},
		Session: SessionConfig{
			ChunkSize:    envOrDefaultInt("PATTER_AUDIO_CHUNK_SIZE", 4096),
			SettingsPath: settingsPath,
			HistoryPath:  historyPath,
		},
		Rules: RulesConfig{
			Path:           strings.TrimSpace(os.Getenv("PATTER_RULES_FILE")),
			IterationLimit: envOrDefaultInt("PATTER_RULES_ITERATION_LIMIT", 30),
		},
		Log: LogConfig{
			Level: envOrDefault("PATTER_LOG_LEVEL", "info"),
		},
	}

	if cfg.Server.ConnectTimeout <= 0 {
		cfg.Server.ConnectTimeout = 30 * time.Second
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 10 * time.Second
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

	return cfg, nil
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
