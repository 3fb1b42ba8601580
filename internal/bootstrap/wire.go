package bootstrap

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"voicekit/internal/audio"
	"voicekit/internal/config"
	"voicekit/internal/domain"
	"voicekit/internal/models"
	"voicekit/internal/permission"
	"voicekit/internal/ports"
	"voicekit/internal/providers/deepgram"
	"voicekit/internal/providers/vosk"
	"voicekit/internal/recognizer"
	"voicekit/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Models     *usecase.ModelController
	Gate       *permission.Gate
	Config     config.Config
	Logger     *slog.Logger

	closers []func()
}

// Close shuts the graph down in reverse dependency order.
func (s Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Build wires all backend dependencies for the current runtime.
func Build(events ports.EventSink, prompter permission.Prompter) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWithConfig(cfg, events, prompter, os.Stderr)
}

// BuildWithConfig wires the graph from an already loaded configuration.
func BuildWithConfig(cfg config.Config, events ports.EventSink, prompter permission.Prompter, logOutput io.Writer) (Services, error) {
	logger := newLogger(cfg.Log, logOutput)
	var closers []func()

	manager, err := models.NewManager(models.Config{
		Dir:       cfg.Models.Dir,
		BaseURL:   cfg.Models.BaseURL,
		Supported: vosk.Enabled,
		Logger:    logger.With("component", "models"),
	})
	if err != nil {
		return Services{}, err
	}

	capture, closeCapture, err := newCapture(cfg.Audio, logger)
	if err != nil {
		return Services{}, err
	}
	closers = append(closers, closeCapture)

	onDevice := vosk.NewProvider(manager, vosk.Config{
		SampleRate: cfg.Audio.SampleRate,
		Logger:     logger.With("provider", "vosk"),
	})
	closers = append(closers, onDevice.Close)

	cloud := deepgram.NewProvider(deepgram.Config{
		APIKey:         cfg.Deepgram.APIKey,
		APIBaseURL:     cfg.Deepgram.APIBaseURL,
		Model:          cfg.Deepgram.Model,
		Language:       cfg.Deepgram.Language,
		SmartFormat:    cfg.Deepgram.SmartFormat,
		EndpointingMs:  cfg.Deepgram.EndpointingMs,
		UtteranceEndMs: cfg.Deepgram.UtteranceEndMs,
	})

	factory := recognizer.NewFactory(capture, cloud, onDevice, recognizer.Config{
		Audio: ports.AudioConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		},
		Streaming: ports.StreamingConfig{
			SampleRate:     cfg.Audio.SampleRate,
			Channels:       cfg.Audio.Channels,
			Encoding:       "linear16",
			InterimResults: true,
		},
		ChunkSize: cfg.Session.ChunkSize,
		Logger:    logger,
	})

	override, ok := permission.ParseDecision(cfg.Permission.Override)
	if cfg.Permission.Override != "" && !ok {
		logger.Warn("ignoring unknown microphone permission override", "value", cfg.Permission.Override)
	}
	gate := permission.NewGate(permission.NewStore(cfg.Permission.Path), prompter, override, logger.With("component", "permission"))

	controller := usecase.NewSessionController(factory, gate, newVolumes(cfg.Mute), events, usecase.Config{
		Logger:        logger.With("component", "session"),
		CreateTimeout: cfg.Session.CreateTimeout,
	})
	closers = append(closers, controller.Close)

	modelController := usecase.NewModelController(manager, events, logger.With("component", "models"), controller.RefreshAvailability)
	closers = append(closers, modelController.Close)

	logger.Info("speech backend ready",
		"audio_backend", cfg.Audio.Backend,
		"cloud_available", cloud.Available(),
		"on_device_supported", vosk.Enabled,
		"models_dir", manager.Dir(),
	)

	return Services{
		Controller: controller,
		Models:     modelController,
		Gate:       gate,
		Config:     cfg,
		Logger:     logger,
		closers:    closers,
	}, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newCapture(cfg config.AudioConfig, logger *slog.Logger) (ports.AudioCapture, func(), error) {
	logger = logger.With("component", "audio", "backend", cfg.Backend)
	if cfg.Backend != config.AudioBackendPortAudio {
		return audio.NewFFMPEGCapture(cfg.RecorderCommand, logger), func() {}, nil
	}
	capture, err := audio.NewPortAudioCapture(logger)
	if err != nil {
		return nil, nil, fmt.Errorf("portaudio backend unavailable: %w", err)
	}
	return capture, func() {
		if err := capture.Close(); err != nil {
			logger.Warn("failed to terminate portaudio", "error", err)
		}
	}, nil
}

// newVolumes returns nil when muting is disabled so the controller skips it.
func newVolumes(cfg config.MuteConfig) ports.VolumeController {
	if !cfg.Enabled {
		return nil
	}
	sinks := map[domain.AudioStream]string{}
	if cfg.MusicSink != "" {
		sinks[domain.AudioStreamMusic] = cfg.MusicSink
	}
	if cfg.NotificationSink != "" {
		sinks[domain.AudioStreamNotification] = cfg.NotificationSink
	}
	return audio.NewPulseVolume(cfg.Command, sinks)
}
