package bootstrap

import (
	"os"
	"strings"

	"github.com/rs/zerolog"

	"patter/internal/audio"
	"patter/internal/config"
	"patter/internal/configsync"
	"patter/internal/history"
	"patter/internal/identity"
	"patter/internal/machine"
	"patter/internal/ports"
	"patter/internal/rewrite"
	"patter/internal/settings"
	"patter/internal/transport"
)

// Services is the assembled runtime graph.
type Services struct {
	Machine  *machine.Machine
	Settings ports.SettingsStore
	History  ports.HistoryStore
	Config   config.Config
	Log      zerolog.Logger
}

// Build wires all backend dependencies for the current runtime.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	log := newLogger(cfg.Log.Level)

	store, err := settings.Open(cfg.Session.SettingsPath)
	if err != nil {
		return Services{}, err
	}

	rewriter, err := rewrite.Load(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}

	hist, err := history.Open(cfg.Session.HistoryPath)
	if err != nil {
		return Services{}, err
	}

	m := machine.New(
		identity.NewRegistrar(store, cfg.Server.RequestTimeout, log),
		transport.NewFactory(log),
		store,
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
		eventSink,
		configsync.New(store, log),
		machine.Config{
			ConnectTimeout: cfg.Server.ConnectTimeout,
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			ChunkSize: cfg.Session.ChunkSize,
			Rewriter:  rewriter,
			History:   hist,
		},
		log,
	)

	return Services{Machine: m, Settings: store, History: hist, Config: cfg, Log: log}, nil
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(parsed).
		With().
		Timestamp().
		Logger()
}
