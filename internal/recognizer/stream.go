package recognizer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"voicekit/internal/domain"
	"voicekit/internal/ports"
)

// streamRecognizer pumps microphone chunks into a provider stream and
// translates the provider's transcript events into listener callbacks.
type streamRecognizer struct {
	cancel    context.CancelFunc
	audio     ports.AudioSession
	stream    ports.StreamingSession
	listener  ports.RecognitionListener
	chunkSize int
	logger    *slog.Logger

	closing    atomic.Bool
	failOnce   sync.Once
	closeOnce  sync.Once
	closeErr   error
	eventsDone chan struct{}
	audioDone  chan struct{}
}

func newStreamRecognizer(cancel context.CancelFunc, audio ports.AudioSession, stream ports.StreamingSession, listener ports.RecognitionListener, chunkSize int, logger *slog.Logger) *streamRecognizer {
	return &streamRecognizer{
		cancel:     cancel,
		audio:      audio,
		stream:     stream,
		listener:   listener,
		chunkSize:  chunkSize,
		logger:     logger,
		eventsDone: make(chan struct{}),
		audioDone:  make(chan struct{}),
	}
}

func (r *streamRecognizer) start() {
	go r.consume()
	go r.pump()
}

func (r *streamRecognizer) Close() error {
	r.closeOnce.Do(func() {
		r.closing.Store(true)
		if err := r.audio.Stop(); err != nil {
			r.logger.Debug("audio capture stop failed", "error", err)
		}
		r.cancel()
		r.closeErr = r.stream.Close()
		<-r.eventsDone
		<-r.audioDone
	})
	return r.closeErr
}

func (r *streamRecognizer) pump() {
	defer close(r.audioDone)

	buf := make([]byte, r.chunkSize)
	for {
		n, err := r.audio.Read(buf)
		if n > 0 {
			// Send failures surface through the stream's own Wait error.
			if sendErr := r.stream.SendAudio(buf[:n]); sendErr != nil {
				return
			}
		}
		if err == nil {
			continue
		}
		if r.closing.Load() {
			return
		}
		if errors.Is(err, io.EOF) {
			r.fail(domain.NativeErrorAudio, "audio capture ended unexpectedly")
		} else {
			r.fail(domain.NativeErrorAudio, "audio capture failed: "+err.Error())
		}
		_ = r.stream.CloseSend()
		return
	}
}

func (r *streamRecognizer) consume() {
	defer close(r.eventsDone)

	heard := false
	for event := range r.stream.Events() {
		if r.closing.Load() {
			continue
		}

		switch event.Kind {
		case domain.TranscriptKindPartial:
			text := strings.TrimSpace(event.Text)
			if text == "" {
				continue
			}
			heard = true
			r.listener.OnPartialResult(text)
		case domain.TranscriptKindFinal:
			matches := nonEmpty(event.Matches())
			if len(matches) > 0 {
				heard = true
				r.listener.OnFinalResult(matches)
			}
			if !event.IsSpeechFinal {
				continue
			}
			if heard {
				r.listener.OnEndOfSpeech()
			} else {
				r.fail(domain.NativeErrorNoMatch, "no speech recognized")
			}
			heard = false
		case domain.TranscriptKindUtteranceEnd:
			if heard {
				r.listener.OnEndOfSpeech()
			}
			heard = false
		case domain.TranscriptKindSpeechStarted:
			r.logger.Debug("speech started")
		}
	}

	if r.closing.Load() {
		return
	}

	err := r.stream.Wait()
	var nativeErr *domain.NativeError
	switch {
	case errors.As(err, &nativeErr):
		r.fail(nativeErr.Code, nativeErr.Error())
	case err != nil:
		r.fail(domain.NativeErrorNetwork, err.Error())
	default:
		r.fail(domain.NativeErrorNoSpeech, "recognition stream ended")
	}
}

// fail reports at most one error per recognizer.
func (r *streamRecognizer) fail(code domain.NativeErrorCode, detail string) {
	if r.closing.Load() {
		return
	}
	r.failOnce.Do(func() {
		r.logger.Debug("recognizer error", "code", code, "detail", detail)
		r.listener.OnError(code, detail)
	})
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
