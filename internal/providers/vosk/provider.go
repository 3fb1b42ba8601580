// Package vosk runs on-device recognition with Vosk models that the model
// manager installs. Builds without the vosk tag keep the provider but report
// it unavailable.
package vosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"voicekit/internal/domain"
	"voicekit/internal/ports"
)

const maxAlternatives = 3

// ModelLocator resolves installed model directories.
type ModelLocator interface {
	ModelDir(locale string) (string, bool)
	HasInstalledModel() bool
}

type engine interface {
	accept(chunk []byte) bool
	result() string
	partial() string
	final() string
	free()
}

type engineLoader interface {
	load(modelDir string, sampleRate float64) (engine, error)
	close()
}

type Config struct {
	SampleRate int
	Logger     *slog.Logger
}

// Provider implements ports.TranscriptionProvider on top of Vosk.
type Provider struct {
	models  ModelLocator
	loader  engineLoader
	enabled bool
	cfg     Config
}

func NewProvider(models ModelLocator, cfg Config) *Provider {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Provider{models: models, loader: newEngineLoader(), enabled: Enabled, cfg: cfg}
}

func (p *Provider) Available() bool {
	return p.enabled && p.models != nil && p.models.HasInstalledModel()
}

// Close releases cached models. Sessions must be closed first.
func (p *Provider) Close() {
	p.loader.close()
}

func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if p.models == nil {
		return nil, errors.New("no model store configured")
	}
	modelDir, ok := p.models.ModelDir(cfg.Language)
	if !ok {
		return nil, fmt.Errorf("no on-device model installed for %q", cfg.Language)
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = p.cfg.SampleRate
	}
	eng, err := p.loader.load(modelDir, float64(sampleRate))
	if err != nil {
		return nil, fmt.Errorf("failed to load vosk model %s: %w", modelDir, err)
	}
	p.cfg.Logger.Debug("vosk session started", "model", modelDir, "locale", cfg.Language, "continuous", cfg.Continuous)

	s := &session{
		engine:     eng,
		continuous: cfg.Continuous,
		events:     make(chan domain.TranscriptEvent, 64),
		audio:      make(chan []byte, 32),
		done:       make(chan struct{}),
		closing:    make(chan struct{}),
	}
	go s.run()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

type session struct {
	engine     engine
	continuous bool

	events  chan domain.TranscriptEvent
	audio   chan []byte
	done    chan struct{}
	closing chan struct{}

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

func (s *session) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errors.New("audio stream is already closed")
	}

	select {
	case <-s.closing:
		return errors.New("session closed")
	default:
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.done:
		return errors.New("session closed")
	case <-s.closing:
		return errors.New("session closed")
	}
}

func (s *session) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *session) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *session) Wait() error {
	<-s.done
	return nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
	})
	<-s.done
	return nil
}

func (s *session) run() {
	defer close(s.done)
	defer close(s.events)
	defer s.engine.free()

	lastPartial := ""
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				s.emitResult(parseMatches(s.engine.final()), false)
				return
			}
			if s.engine.accept(chunk) {
				s.emitResult(parseMatches(s.engine.result()), true)
				lastPartial = ""
				continue
			}
			partial := parsePartial(s.engine.partial())
			if partial != "" && partial != lastPartial {
				lastPartial = partial
				s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: partial})
			}
		case <-s.closing:
			return
		}
	}
}

// emitResult reports an endpointed utterance. Continuous sessions surface it
// as a partial so the session's silence timer decides when it is final.
func (s *session) emitResult(matches []string, endpointed bool) {
	if s.continuous {
		if len(matches) == 0 {
			return
		}
		s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: matches[0]})
		s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindUtteranceEnd})
		return
	}
	if len(matches) == 0 && !endpointed {
		return
	}

	event := domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, IsSpeechFinal: true}
	if len(matches) > 0 {
		event.Text = matches[0]
		event.Alternatives = matches
	}
	s.emit(event)
}

func (s *session) emit(event domain.TranscriptEvent) {
	select {
	case s.events <- event:
	case <-s.closing:
	}
}

type voskResult struct {
	Text         string `json:"text"`
	Partial      string `json:"partial"`
	Alternatives []struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"alternatives"`
}

func parseMatches(payload string) []string {
	var result voskResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil
	}

	var matches []string
	for _, alternative := range result.Alternatives {
		if text := strings.TrimSpace(alternative.Text); text != "" {
			matches = append(matches, text)
		}
	}
	if len(matches) == 0 {
		if text := strings.TrimSpace(result.Text); text != "" {
			matches = append(matches, text)
		}
	}
	return matches
}

func parsePartial(payload string) string {
	var result voskResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return ""
	}
	return strings.TrimSpace(result.Partial)
}
