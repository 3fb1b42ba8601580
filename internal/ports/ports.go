package ports

import (
	"context"
	"io"

	"voicekit/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
	Language       string
	// Continuous disables provider-side endpointing so a single stream can
	// span several utterances.
	Continuous bool
}

// StreamingSession is an active provider session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
	Available() bool
}

// RecognitionListener receives recognizer callbacks. Implementations must
// not block.
type RecognitionListener interface {
	OnPartialResult(text string)
	OnFinalResult(matches []string)
	OnEndOfSpeech()
	OnError(code domain.NativeErrorCode, detail string)
}

// RecognizerConfig binds a recognizer to a language and mode.
type RecognizerConfig struct {
	Locale   string
	Mode     domain.Mode
	OnDevice bool
}

// Recognizer is a live recognizer handle. Close releases the engine and the
// audio tap; no callback is delivered once Close returns.
type Recognizer interface {
	Close() error
}

// RecognizerFactory creates recognizer handles.
type RecognizerFactory interface {
	Create(ctx context.Context, cfg RecognizerConfig, listener RecognitionListener) (Recognizer, error)
	Available(onDevice bool) bool
}

// PermissionGate checks microphone access before a session starts.
type PermissionGate interface {
	Check(ctx context.Context) error
}

// VolumeController reads and writes output stream volumes.
type VolumeController interface {
	StreamVolume(ctx context.Context, stream domain.AudioStream) (int, error)
	SetStreamVolume(ctx context.Context, stream domain.AudioStream, volume int) error
}

// ModelStore manages on-device recognition models.
type ModelStore interface {
	// OnDeviceSupported reports whether on-device recognition is available at all.
	OnDeviceSupported() bool
	// ProgressTracking reports whether Download reports progress. Stores
	// without it are downloaded fire-and-forget.
	ProgressTracking() bool
	InstalledLocales(ctx context.Context) ([]string, error)
	SupportedLocales(ctx context.Context) ([]string, error)
	IsInstalled(locale string) bool
	// Download returns ModelDownloadScheduled when the model will become
	// usable later without further work from the caller.
	Download(ctx context.Context, locale string, progress func(percent int)) (domain.ModelDownloadOutcome, error)
}

// EventSink emits backend events to the host application.
type EventSink interface {
	Result(text string)
	PartialResult(text string)
	AvailabilityChanged(available bool)
	ListeningStateChanged(listening bool)
	Error(code domain.ErrorCode, message string)
	ModelDownloadProgress(percent int)
}
