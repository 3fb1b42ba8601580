//go:build !portaudio

package audio

import (
	"context"
	"errors"
	"log/slog"

	"voicekit/internal/ports"
)

// PortAudioEnabled reports whether the binary was built with PortAudio.
const PortAudioEnabled = false

var errPortAudioNotBuilt = errors.New("portaudio capture requires building with -tags portaudio")

type PortAudioCapture struct{}

func NewPortAudioCapture(*slog.Logger) (*PortAudioCapture, error) {
	return nil, errPortAudioNotBuilt
}

func (c *PortAudioCapture) Close() error { return nil }

func (c *PortAudioCapture) Start(context.Context, ports.AudioConfig) (ports.AudioSession, error) {
	return nil, errPortAudioNotBuilt
}
