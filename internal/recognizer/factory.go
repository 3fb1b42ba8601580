// Package recognizer turns a streaming transcription provider and a
// microphone capture into a recognizer that reports partial results, final
// results, end of speech and errors through a ports.RecognitionListener.
package recognizer

import (
	"context"
	"fmt"
	"log/slog"

	"voicekit/internal/domain"
	"voicekit/internal/ports"
)

// Config controls capture and streaming for every recognizer.
type Config struct {
	Audio     ports.AudioConfig
	Streaming ports.StreamingConfig
	ChunkSize int
	Logger    *slog.Logger
}

// Factory implements ports.RecognizerFactory. The on-device provider is
// optional; requests for it fall back to the cloud provider when it is
// missing or has no usable model.
type Factory struct {
	audio    ports.AudioCapture
	cloud    ports.TranscriptionProvider
	onDevice ports.TranscriptionProvider
	cfg      Config
}

func NewFactory(audio ports.AudioCapture, cloud ports.TranscriptionProvider, onDevice ports.TranscriptionProvider, cfg Config) *Factory {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Factory{audio: audio, cloud: cloud, onDevice: onDevice, cfg: cfg}
}

func (f *Factory) Available(onDevice bool) bool {
	if onDevice {
		return f.onDevice != nil && f.onDevice.Available()
	}
	return f.cloud != nil && f.cloud.Available()
}

func (f *Factory) Create(ctx context.Context, cfg ports.RecognizerConfig, listener ports.RecognitionListener) (ports.Recognizer, error) {
	candidates := f.providers(cfg.OnDevice)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no speech provider configured: %w", domain.ErrSpeechRecognizerNotAvailable)
	}

	streaming := f.cfg.Streaming
	streaming.Language = cfg.Locale
	streaming.Continuous = cfg.Mode.Continuous()

	// The recognizer lives until Close; ctx only bounds construction.
	lifetime, cancel := context.WithCancel(context.WithoutCancel(ctx))
	detach := context.AfterFunc(ctx, cancel)

	var (
		stream ports.StreamingSession
		kind   string
		err    error
	)
	for _, c := range candidates {
		kind = c.kind
		stream, err = c.provider.StartStreaming(lifetime, streaming)
		if err == nil {
			break
		}
		// An installed model for another locale makes the on-device
		// provider available without being able to serve this one.
		f.cfg.Logger.Warn("speech provider failed to start",
			"provider", kind, "locale", cfg.Locale, "error", err)
	}
	if err != nil {
		detach()
		cancel()
		return nil, fmt.Errorf("%s provider: %v: %w", kind, err, domain.ErrSpeechRecognizerNotAvailable)
	}

	audioSession, err := f.audio.Start(lifetime, f.cfg.Audio)
	if err != nil {
		detach()
		_ = stream.Close()
		cancel()
		return nil, fmt.Errorf("audio capture: %v: %w", err, domain.ErrRecordingStartFailed)
	}

	if !detach() {
		_ = audioSession.Stop()
		_ = stream.Close()
		cancel()
		return nil, fmt.Errorf("recognizer setup interrupted: %v: %w", context.Cause(ctx), domain.ErrSpeechRecognizerNotAvailable)
	}

	r := newStreamRecognizer(cancel, audioSession, stream, listener, f.cfg.ChunkSize,
		f.cfg.Logger.With("provider", kind, "locale", cfg.Locale, "mode", cfg.Mode))
	r.start()
	return r, nil
}

type candidate struct {
	provider ports.TranscriptionProvider
	kind     string
}

// providers lists the providers to try in order. On-device requests keep the
// cloud provider as a fallback.
func (f *Factory) providers(onDevice bool) []candidate {
	var candidates []candidate
	if onDevice && f.onDevice != nil && f.onDevice.Available() {
		candidates = append(candidates, candidate{f.onDevice, "on-device"})
	}
	if f.cloud != nil && f.cloud.Available() {
		candidates = append(candidates, candidate{f.cloud, "cloud"})
	}
	return candidates
}
