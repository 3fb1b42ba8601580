package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voicekit/internal/domain"
	"voicekit/internal/ports"
)

func TestNewProviderDefaults(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{})
	if p.cfg.APIBaseURL != "https://api.deepgram.com/v1" {
		t.Fatalf("unexpected base url: %q", p.cfg.APIBaseURL)
	}
	if p.cfg.Model != "nova-2" {
		t.Fatalf("unexpected model: %q", p.cfg.Model)
	}
	if p.cfg.EndpointingMs != 300 || p.cfg.UtteranceEndMs != 1000 {
		t.Fatalf("unexpected endpointing defaults: %+v", p.cfg)
	}
	if p.Available() {
		t.Fatalf("provider without key must be unavailable")
	}
}

func TestProviderStartStreamingRequiresAPIKey(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{APIKey: " "})
	_, err := p.StartStreaming(context.Background(), ports.StreamingConfig{})
	if err == nil {
		t.Fatalf("expected missing key error")
	}
}

func TestBuildListenURLDefaults(t *testing.T) {
	t.Parallel()

	url, err := buildListenURL(Config{APIBaseURL: "https://api.deepgram.com/v1", Model: "nova-2", EndpointingMs: 300}, ports.StreamingConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"wss://api.deepgram.com/v1/listen", "encoding=linear16", "sample_rate=16000", "channels=1", "endpointing=300", "vad_events=true"} {
		if !strings.Contains(url, want) {
			t.Fatalf("expected %q in url: %s", want, url)
		}
	}
	if strings.Contains(url, "utterance_end_ms") {
		t.Fatalf("utterance_end_ms requires interim results: %s", url)
	}
}

func TestBuildListenURLContinuousDisablesEndpointing(t *testing.T) {
	t.Parallel()

	url, err := buildListenURL(
		Config{APIBaseURL: "http://localhost:8080/v1", Model: "m", Language: "en-US", SmartFormat: true, UtteranceEndMs: 1200},
		ports.StreamingConfig{Encoding: "linear16", SampleRate: 8000, Channels: 2, InterimResults: true, Language: "fr-FR", Continuous: true},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"ws://localhost:8080/v1/listen", "language=fr-FR", "smart_format=true", "endpointing=false", "utterance_end_ms=1200"} {
		if !strings.Contains(url, want) {
			t.Fatalf("expected %q in url: %s", want, url)
		}
	}
}

func TestBuildListenURLInvalidBase(t *testing.T) {
	t.Parallel()

	_, err := buildListenURL(Config{APIBaseURL: ":// bad"}, ports.StreamingConfig{})
	if err == nil {
		t.Fatalf("expected invalid base url error")
	}
}

func TestExtractAlternatives(t *testing.T) {
	t.Parallel()

	r1 := deepgramResponse{}
	r1.Channel.Alternatives = []deepgramAlternative{{Transcript: " channel "}, {Transcript: ""}, {Transcript: "channels"}}
	if got := extractAlternatives(r1); len(got) != 2 || got[0] != "channel" || got[1] != "channels" {
		t.Fatalf("unexpected alternatives from channel: %q", got)
	}

	r2 := deepgramResponse{}
	r2.Results.Channels = append(r2.Results.Channels, struct {
		Alternatives []deepgramAlternative `json:"alternatives"`
	}{Alternatives: []deepgramAlternative{{Transcript: "results"}}})
	if got := extractAlternatives(r2); len(got) != 1 || got[0] != "results" {
		t.Fatalf("unexpected alternatives from results: %q", got)
	}

	if got := extractAlternatives(deepgramResponse{}); len(got) != 0 {
		t.Fatalf("expected no alternatives, got %q", got)
	}
}

func TestUtteranceBufferJoinsSegments(t *testing.T) {
	t.Parallel()

	var b utteranceBuffer
	b.finalize("hello")
	b.finalize("hello")
	b.finalize(" ")
	b.finalize("world")
	if got := b.withInterim("again"); got != "hello world again" {
		t.Fatalf("unexpected text: %q", got)
	}
	b.reset()
	if b.text() != "" || b.withInterim("x") != "x" {
		t.Fatalf("expected empty buffer after reset")
	}
}

func TestStreamingSessionSendAudioClosed(t *testing.T) {
	t.Parallel()

	s := &streamingSession{sendClosed: true}
	if err := s.SendAudio([]byte("x")); err == nil {
		t.Fatalf("expected closed error")
	}
}

func TestStreamingSessionCloseSendIsIdempotent(t *testing.T) {
	t.Parallel()

	s := &streamingSession{audio: make(chan []byte, 1)}
	if err := s.CloseSend(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CloseSend(); err != nil {
		t.Fatalf("unexpected second error: %v", err)
	}
}

func TestStreamingSessionSetErrIgnoresCloseErrors(t *testing.T) {
	t.Parallel()

	s := &streamingSession{}
	s.setErr(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "closed"})
	if s.waitErr() != nil {
		t.Fatalf("expected close error to be ignored")
	}

	s.setErr(errors.New("boom"))
	if s.waitErr() == nil || s.waitErr().Error() != "boom" {
		t.Fatalf("expected non-close error to be captured")
	}

	s.setErr(errors.New("second"))
	if s.waitErr().Error() != "boom" {
		t.Fatalf("expected first error to win")
	}
}

func TestClassifyTransportError(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		err  error
		want domain.NativeErrorCode
	}{
		"server":  {&websocket.CloseError{Code: websocket.CloseInternalServerErr}, domain.NativeErrorServer},
		"client":  {&websocket.CloseError{Code: websocket.ClosePolicyViolation}, domain.NativeErrorClient},
		"timeout": {timeoutErr{}, domain.NativeErrorNetworkTimeout},
		"other":   {errors.New("reset"), domain.NativeErrorNetwork},
	}
	for name, tc := range cases {
		if got := classifyTransportError(tc.err); got != tc.want {
			t.Fatalf("%s: got %s want %s", name, got, tc.want)
		}
	}
}

func TestStreamingSessionSingleUtterance(t *testing.T) {
	t.Parallel()

	frames := []string{
		`{"type":"SpeechStarted"}`,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"turn"}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"turn on"}]}}`,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"the"}]}}`,
		`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"the lights"},{"transcript":"the light"}]}}`,
	}
	server, auth := newDeepgramServer(t, frames, "")
	provider := NewProvider(Config{APIKey: "secret", APIBaseURL: server.URL})

	session, err := provider.StartStreaming(context.Background(), ports.StreamingConfig{InterimResults: true, Language: "en-US"})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.Close()

	events := collect(t, session, 5)
	if events[0].Kind != domain.TranscriptKindSpeechStarted {
		t.Fatalf("expected speech started, got %+v", events[0])
	}
	if events[1].Text != "turn" || events[2].Text != "turn on" || events[3].Text != "turn on the" {
		t.Fatalf("unexpected partials: %+v", events[1:4])
	}
	final := events[4]
	if final.Kind != domain.TranscriptKindFinal || !final.IsSpeechFinal || final.Text != "turn on the lights" {
		t.Fatalf("unexpected final: %+v", final)
	}
	if len(final.Alternatives) != 2 || final.Alternatives[1] != "turn on the light" {
		t.Fatalf("unexpected alternatives: %+v", final.Alternatives)
	}
	if got := <-auth; got != "Token secret" {
		t.Fatalf("unexpected authorization header: %q", got)
	}
}

func TestStreamingSessionContinuousUtteranceEnd(t *testing.T) {
	t.Parallel()

	frames := []string{
		`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"first part"}]}}`,
		`{"type":"UtteranceEnd"}`,
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"next"}]}}`,
	}
	server, _ := newDeepgramServer(t, frames, "")
	provider := NewProvider(Config{APIKey: "secret", APIBaseURL: server.URL})

	session, err := provider.StartStreaming(context.Background(), ports.StreamingConfig{InterimResults: true, Continuous: true})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.Close()

	events := collect(t, session, 3)
	if events[0].Kind != domain.TranscriptKindPartial || events[0].Text != "first part" {
		t.Fatalf("continuous sessions must not emit speech-final results: %+v", events[0])
	}
	if events[1].Kind != domain.TranscriptKindUtteranceEnd {
		t.Fatalf("expected utterance end, got %+v", events[1])
	}
	if events[2].Text != "next" {
		t.Fatalf("expected buffer reset after utterance end, got %+v", events[2])
	}
}

func TestStreamingSessionProviderError(t *testing.T) {
	t.Parallel()

	server, _ := newDeepgramServer(t, []string{`{"type":"Error","description":"quota exceeded"}`}, "")
	provider := NewProvider(Config{APIKey: "secret", APIBaseURL: server.URL})

	session, err := provider.StartStreaming(context.Background(), ports.StreamingConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer session.Close()

	for range session.Events() {
	}
	err = session.Wait()
	var nativeErr *domain.NativeError
	if !errors.As(err, &nativeErr) || nativeErr.Code != domain.NativeErrorServer {
		t.Fatalf("expected server native error, got %v", err)
	}
	if !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected provider message, got %v", err)
	}
}

func TestStreamingSessionForwardsAudioAndCloseIsQuiet(t *testing.T) {
	t.Parallel()

	server, _ := newDeepgramServer(t, nil, "pcm")
	provider := NewProvider(Config{APIKey: "secret", APIBaseURL: server.URL})

	session, err := provider.StartStreaming(context.Background(), ports.StreamingConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := session.SendAudio([]byte("pcm")); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	events := collect(t, session, 1)
	if events[0].Text != "echo" {
		t.Fatalf("expected echo transcript, got %+v", events[0])
	}
	if err := session.Close(); err != nil {
		t.Fatalf("close must not report teardown errors: %v", err)
	}
}

// newDeepgramServer writes frames to every client. When echo is set, the
// server waits for that binary payload and answers with an "echo" partial.
func newDeepgramServer(t *testing.T, frames []string, echo string) (*httptest.Server, <-chan string) {
	t.Helper()

	auth := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case auth <- r.Header.Get("Authorization"):
		default:
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if echo != "" && kind == websocket.BinaryMessage && string(payload) == echo {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","channel":{"alternatives":[{"transcript":"echo"}]}}`))
			}
		}
	}))
	t.Cleanup(server.Close)
	return server, auth
}

func collect(t *testing.T, session ports.StreamingSession, n int) []domain.TranscriptEvent {
	t.Helper()

	var events []domain.TranscriptEvent
	timeout := time.After(2 * time.Second)
	for len(events) < n {
		select {
		case event, ok := <-session.Events():
			if !ok {
				t.Fatalf("stream ended after %d events: %+v", len(events), events)
			}
			events = append(events, event)
		case <-timeout:
			t.Fatalf("timed out after %d events: %+v", len(events), events)
		}
	}
	return events
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
