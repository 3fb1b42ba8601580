//go:build portaudio

package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"voicekit/internal/ports"
)

// PortAudioEnabled reports whether the binary was built with PortAudio.
const PortAudioEnabled = true

const framesPerBuffer = 1024

// PortAudioCapture reads the default input device through PortAudio.
type PortAudioCapture struct {
	logger *slog.Logger
}

func NewPortAudioCapture(logger *slog.Logger) (*PortAudioCapture, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PortAudioCapture{logger: logger}, nil
}

// Close terminates PortAudio. All sessions must be stopped first.
func (c *PortAudioCapture) Close() error {
	return portaudio.Terminate()
}

func (c *PortAudioCapture) Start(_ context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	buffer := make([]int16, framesPerBuffer*cfg.Channels)
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), framesPerBuffer, buffer)
	if err != nil {
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start input stream: %w", err)
	}

	c.logger.Debug("portaudio capture started", "sample_rate", cfg.SampleRate, "channels", cfg.Channels)
	return &portAudioSession{stream: stream, buffer: buffer}, nil
}

type portAudioSession struct {
	stream *portaudio.Stream
	buffer []int16

	readMu  sync.Mutex
	pending []byte
	stopped atomic.Bool

	stopOnce sync.Once
	stopErr  error
}

// Read returns little-endian PCM. It polls for available frames so Stop
// never races a blocking read inside PortAudio.
func (s *portAudioSession) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for len(s.pending) == 0 {
		if s.stopped.Load() {
			return 0, io.EOF
		}
		available, err := s.stream.AvailableToRead()
		if err != nil {
			return 0, err
		}
		if available < framesPerBuffer {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if err := s.stream.Read(); err != nil {
			return 0, err
		}
		s.pending = encodePCM(s.pending[:0], s.buffer)
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *portAudioSession) Close() error {
	return s.Stop()
}

func (s *portAudioSession) Stop() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.readMu.Lock()
		defer s.readMu.Unlock()
		if err := s.stream.Stop(); err != nil {
			s.stopErr = err
		}
		if err := s.stream.Close(); err != nil && s.stopErr == nil {
			s.stopErr = err
		}
	})
	return s.stopErr
}

func encodePCM(dst []byte, samples []int16) []byte {
	for _, sample := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(sample))
	}
	return dst
}
