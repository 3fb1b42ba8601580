package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voicekit/internal/domain"
	"voicekit/internal/ports"
)

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	// EndpointingMs is the trailing silence Deepgram waits for before
	// marking speech final in single-utterance sessions.
	EndpointingMs    int
	UtteranceEndMs   int
	HandshakeTimeout time.Duration
}

// Provider implements ports.TranscriptionProvider for Deepgram.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewProvider(cfg Config) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.EndpointingMs <= 0 {
		cfg.EndpointingMs = 300
	}
	if cfg.UtteranceEndMs < 1000 {
		cfg.UtteranceEndMs = 1000
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Provider{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Available reports whether an API key is configured.
func (p *Provider) Available() bool {
	return strings.TrimSpace(p.cfg.APIKey) != ""
}

func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if !p.Available() {
		return nil, errors.New("DEEPGRAM_API_KEY is not configured")
	}

	wsURL, err := buildListenURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, _, err := p.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}

	session := &streamingSession{
		conn:       conn,
		continuous: cfg.Continuous,
		events:     make(chan domain.TranscriptEvent, 64),
		audio:      make(chan []byte, 32),
		done:       make(chan struct{}),
		readDone:   make(chan struct{}),
		closing:    make(chan struct{}),
	}

	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		close(session.events)
		close(session.done)
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-session.done:
		}
	}()

	return session, nil
}

type streamingSession struct {
	conn       *websocket.Conn
	continuous bool
	utterance  utteranceBuffer

	events   chan domain.TranscriptEvent
	audio    chan []byte
	done     chan struct{}
	readDone chan struct{}
	closing  chan struct{}
	closed   atomic.Bool

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

func (s *streamingSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errors.New("audio stream is already closed")
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("session closed")
	case <-s.closing:
		return errors.New("session closed")
	}
}

func (s *streamingSession) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *streamingSession) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *streamingSession) Wait() error {
	<-s.done
	return s.waitErr()
}

// Close tears the websocket down. Errors caused by the teardown itself are
// not reported.
func (s *streamingSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closing)
		_ = s.conn.Close()
		_ = s.CloseSend()
	})
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamingSession) setErr(err error) {
	if err == nil || s.closed.Load() {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamingSession) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
					s.setErr(domain.NewNativeError(classifyTransportError(err), fmt.Errorf("failed to close stream: %w", err)))
				}
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(domain.NewNativeError(classifyTransportError(err), fmt.Errorf("failed to send audio: %w", err)))
				return
			}
		case <-s.readDone:
			return
		}
	}
}

func (s *streamingSession) readLoop() {
	defer s.wg.Done()
	defer close(s.readDone)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(domain.NewNativeError(classifyTransportError(err), fmt.Errorf("failed to read provider event: %w", err)))
			return
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		switch {
		case strings.EqualFold(response.Type, "Error"):
			message := strings.TrimSpace(firstNonEmpty(response.Message, response.Description))
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			s.setErr(domain.NewNativeError(domain.NativeErrorServer, errors.New(message)))
			return
		case strings.EqualFold(response.Type, "SpeechStarted"):
			s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindSpeechStarted})
		case strings.EqualFold(response.Type, "UtteranceEnd"):
			s.handleUtteranceEnd()
		case response.Type == "" || strings.EqualFold(response.Type, "Results"):
			s.handleResults(response)
		}
	}
}

func (s *streamingSession) handleResults(response deepgramResponse) {
	alternatives := extractAlternatives(response)
	transcript := ""
	if len(alternatives) > 0 {
		transcript = alternatives[0]
	}

	switch {
	case response.SpeechFinal && !s.continuous:
		prefix := s.utterance.text()
		s.utterance.reset()
		event := domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: joinWords(prefix, transcript), IsSpeechFinal: true}
		if len(alternatives) > 0 {
			event.Alternatives = withPrefix(prefix, alternatives)
		}
		s.emit(event)
	case response.IsFinal || response.SpeechFinal:
		if transcript == "" {
			return
		}
		s.utterance.finalize(transcript)
		s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: s.utterance.text()})
	default:
		if transcript == "" {
			return
		}
		s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: s.utterance.withInterim(transcript)})
	}
}

// handleUtteranceEnd closes the current utterance. Single-utterance sessions
// promote buffered text to a final result when endpointing never fired.
func (s *streamingSession) handleUtteranceEnd() {
	text := s.utterance.text()
	s.utterance.reset()
	if !s.continuous && text != "" {
		s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: text, IsSpeechFinal: true})
		return
	}
	s.emit(domain.TranscriptEvent{Kind: domain.TranscriptKindUtteranceEnd})
}

func (s *streamingSession) emit(event domain.TranscriptEvent) {
	select {
	case s.events <- event:
	case <-s.closing:
	}
}

type deepgramAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []deepgramAlternative `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []deepgramAlternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// extractAlternatives returns the non-empty transcripts, best first.
func extractAlternatives(response deepgramResponse) []string {
	alternatives := response.Channel.Alternatives
	if len(alternatives) == 0 && len(response.Results.Channels) > 0 {
		alternatives = response.Results.Channels[0].Alternatives
	}

	out := make([]string, 0, len(alternatives))
	for _, alternative := range alternatives {
		if text := strings.TrimSpace(alternative.Transcript); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func withPrefix(prefix string, alternatives []string) []string {
	out := make([]string, 0, len(alternatives))
	for _, alternative := range alternatives {
		out = append(out, joinWords(prefix, alternative))
	}
	return out
}

func classifyTransportError(err error) domain.NativeErrorCode {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NativeErrorNetworkTimeout
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.ClosePolicyViolation, websocket.CloseUnsupportedData, websocket.CloseInvalidFramePayloadData:
			return domain.NativeErrorClient
		case websocket.CloseInternalServerErr, websocket.CloseTryAgainLater, websocket.CloseServiceRestart:
			return domain.NativeErrorServer
		}
	}
	return domain.NativeErrorNetwork
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func buildListenURL(providerCfg Config, streamCfg ports.StreamingConfig) (string, error) {
	base := providerCfg.APIBaseURL
	if base == "" {
		base = "https://api.deepgram.com/v1"
	}
	base = strings.TrimSpace(base)

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	query := listenURL.Query()
	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "linear16"
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = 16000
	}
	if streamCfg.Channels <= 0 {
		streamCfg.Channels = 1
	}
	query.Set("model", providerCfg.Model)
	query.Set("encoding", streamCfg.Encoding)
	query.Set("sample_rate", fmt.Sprintf("%d", streamCfg.SampleRate))
	query.Set("channels", fmt.Sprintf("%d", streamCfg.Channels))
	query.Set("interim_results", fmt.Sprintf("%t", streamCfg.InterimResults))
	query.Set("smart_format", fmt.Sprintf("%t", providerCfg.SmartFormat))
	query.Set("vad_events", "true")
	if streamCfg.Continuous {
		query.Set("endpointing", "false")
	} else {
		query.Set("endpointing", fmt.Sprintf("%d", providerCfg.EndpointingMs))
	}
	if streamCfg.InterimResults {
		query.Set("utterance_end_ms", fmt.Sprintf("%d", providerCfg.UtteranceEndMs))
	}

	language := strings.TrimSpace(streamCfg.Language)
	if language == "" {
		language = providerCfg.Language
	}
	if language != "" {
		query.Set("language", language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
