package usecase

import (
	"context"
	"log/slog"
	"time"

	"voicekit/internal/domain"
	"voicekit/internal/ports"
)

var mutedStreams = []domain.AudioStream{domain.AudioStreamMusic, domain.AudioStreamNotification}

// beepMuter silences the output streams that would play the recognizer
// start/stop sounds and restores them afterwards.
type beepMuter struct {
	volumes ports.VolumeController
	logger  *slog.Logger
	timeout time.Duration

	previous map[domain.AudioStream]int
	muted    bool
}

func newBeepMuter(volumes ports.VolumeController, logger *slog.Logger) *beepMuter {
	return &beepMuter{
		volumes:  volumes,
		logger:   logger,
		timeout:  2 * time.Second,
		previous: make(map[domain.AudioStream]int, len(mutedStreams)),
	}
}

func (m *beepMuter) mute() {
	if m.volumes == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	for _, stream := range mutedStreams {
		volume, err := m.volumes.StreamVolume(ctx, stream)
		if err != nil {
			m.logger.Warn("failed to read stream volume", "stream", stream, "error", err)
			volume = 0
		}
		m.previous[stream] = volume
	}
	for _, stream := range mutedStreams {
		if err := m.volumes.SetStreamVolume(ctx, stream, 0); err != nil {
			m.logger.Warn("failed to mute stream", "stream", stream, "error", err)
		}
	}
	m.muted = true
}

// unmute restores the volumes recorded by mute. Without a prior mute it
// leaves the device untouched.
func (m *beepMuter) unmute() {
	if m.volumes == nil || !m.muted {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.logger.Debug("unmuting recognizer beep")
	for _, stream := range mutedStreams {
		if err := m.volumes.SetStreamVolume(ctx, stream, m.previous[stream]); err != nil {
			m.logger.Warn("failed to restore stream volume", "stream", stream, "error", err)
		}
	}
	m.muted = false
	clear(m.previous)
}
