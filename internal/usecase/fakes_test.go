package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"voicekit/internal/domain"
	"voicekit/internal/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flush waits until everything posted to the loop so far has run.
func flush(t *testing.T, c *SessionController) {
	t.Helper()
	if err := c.loop.call(func() {}); err != nil {
		t.Fatalf("loop closed: %v", err)
	}
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{clock: c, at: c.now + d, fn: fn}
	c.timers = append(c.timers, timer)
	return timer
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired && timer.at <= c.now {
			timer.fired = true
			due = append(due, timer)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, timer := range due {
		timer.fn()
	}
}

func (c *fakeClock) stoppedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, timer := range c.timers {
		if timer.stopped {
			n++
		}
	}
	return n
}

type fakeRecognizer struct {
	cfg      ports.RecognizerConfig
	listener ports.RecognitionListener

	mu         sync.Mutex
	closeCalls int
}

func (r *fakeRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeCalls++
	return nil
}

func (r *fakeRecognizer) closed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeCalls
}

type fakeFactory struct {
	mu          sync.Mutex
	created     []*fakeRecognizer
	errs        []error
	calls       int
	cloud       bool
	onDevice    bool
	availableFn func(onDevice bool) bool
}

func (f *fakeFactory) Create(_ context.Context, cfg ports.RecognizerConfig, listener ports.RecognitionListener) (ports.Recognizer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls
	f.calls++
	if call < len(f.errs) && f.errs[call] != nil {
		return nil, f.errs[call]
	}
	recognizer := &fakeRecognizer{cfg: cfg, listener: listener}
	f.created = append(f.created, recognizer)
	return recognizer, nil
}

func (f *fakeFactory) Available(onDevice bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.availableFn != nil {
		return f.availableFn(onDevice)
	}
	if onDevice {
		return f.onDevice
	}
	return f.cloud
}

func (f *fakeFactory) recognizers() []*fakeRecognizer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeRecognizer, len(f.created))
	copy(out, f.created)
	return out
}

func (f *fakeFactory) last(t *testing.T) *fakeRecognizer {
	t.Helper()
	all := f.recognizers()
	if len(all) == 0 {
		t.Fatalf("no recognizer created")
	}
	return all[len(all)-1]
}

type fakeGate struct {
	err     error
	release chan struct{}
	entered chan struct{}
}

func (g *fakeGate) Check(ctx context.Context) error {
	if g.entered != nil {
		close(g.entered)
	}
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return g.err
}

type fakeVolumes struct {
	mu      sync.Mutex
	volumes map[domain.AudioStream]int
	readErr error
	sets    []volumeSet
}

type volumeSet struct {
	stream domain.AudioStream
	volume int
}

func newFakeVolumes(music int, notification int) *fakeVolumes {
	return &fakeVolumes{volumes: map[domain.AudioStream]int{
		domain.AudioStreamMusic:        music,
		domain.AudioStreamNotification: notification,
	}}
}

func (f *fakeVolumes) StreamVolume(_ context.Context, stream domain.AudioStream) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.volumes[stream], nil
}

func (f *fakeVolumes) SetStreamVolume(_ context.Context, stream domain.AudioStream, volume int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[stream] = volume
	f.sets = append(f.sets, volumeSet{stream: stream, volume: volume})
	return nil
}

func (f *fakeVolumes) volume(stream domain.AudioStream) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volumes[stream]
}

func (f *fakeVolumes) setCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sets)
}

type eventKind string

const (
	evResult       eventKind = "result"
	evPartial      eventKind = "partial"
	evAvailability eventKind = "availability"
	evListening    eventKind = "listening"
	evError        eventKind = "error"
	evProgress     eventKind = "progress"
)

type sinkEvent struct {
	kind  eventKind
	text  string
	flag  bool
	code  domain.ErrorCode
	value int
}

type fakeEventSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

func (f *fakeEventSink) record(event sinkEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeEventSink) Result(text string) { f.record(sinkEvent{kind: evResult, text: text}) }

func (f *fakeEventSink) PartialResult(text string) { f.record(sinkEvent{kind: evPartial, text: text}) }

func (f *fakeEventSink) AvailabilityChanged(available bool) {
	f.record(sinkEvent{kind: evAvailability, flag: available})
}

func (f *fakeEventSink) ListeningStateChanged(listening bool) {
	f.record(sinkEvent{kind: evListening, flag: listening})
}

func (f *fakeEventSink) Error(code domain.ErrorCode, message string) {
	f.record(sinkEvent{kind: evError, code: code, text: message})
}

func (f *fakeEventSink) ModelDownloadProgress(percent int) {
	f.record(sinkEvent{kind: evProgress, value: percent})
}

func (f *fakeEventSink) snapshot() []sinkEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sinkEvent, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeEventSink) ofKind(kind eventKind) []sinkEvent {
	var out []sinkEvent
	for _, event := range f.snapshot() {
		if event.kind == kind {
			out = append(out, event)
		}
	}
	return out
}

type fakeModelStore struct {
	supported bool
	progress  bool

	installed []string
	all       []string
	listErr   error

	mu        sync.Mutex
	release   chan struct{}
	started   chan string
	steps     []int
	outcome   domain.ModelDownloadOutcome
	err       error
	downloads int
}

func (f *fakeModelStore) OnDeviceSupported() bool { return f.supported }

func (f *fakeModelStore) ProgressTracking() bool { return f.progress }

func (f *fakeModelStore) InstalledLocales(context.Context) ([]string, error) {
	return f.installed, f.listErr
}

func (f *fakeModelStore) SupportedLocales(context.Context) ([]string, error) {
	return f.all, f.listErr
}

func (f *fakeModelStore) IsInstalled(locale string) bool {
	for _, installed := range f.installed {
		if installed == locale {
			return true
		}
	}
	return false
}

func (f *fakeModelStore) Download(ctx context.Context, locale string, progress func(int)) (domain.ModelDownloadOutcome, error) {
	f.mu.Lock()
	f.downloads++
	release := f.release
	steps := f.steps
	outcome := f.outcome
	err := f.err
	f.mu.Unlock()

	if f.started != nil {
		f.started <- locale
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	for _, step := range steps {
		if progress != nil {
			progress(step)
		}
	}
	if err != nil {
		return "", err
	}
	if outcome == "" {
		outcome = domain.ModelDownloadCompleted
	}
	return outcome, nil
}

var errBoom = errors.New("boom")
