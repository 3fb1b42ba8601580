package usecase

import (
	"time"

	"voicekit/internal/domain"
)

// sessionListener forwards recognizer callbacks onto the loop. Callbacks
// from a handle that has been replaced or torn down are dropped there.
type sessionListener struct {
	controller *SessionController
	session    *activeSession
	handle     uint64
}

func (l *sessionListener) live() bool {
	return l.controller.current == l.session && l.session.handle == l.handle && l.session.recognizer != nil
}

func (l *sessionListener) dispatch(fn func()) {
	l.controller.loop.post(func() {
		if l.live() {
			fn()
		}
	})
}

func (l *sessionListener) OnPartialResult(text string) {
	l.dispatch(func() { l.controller.onPartialResult(l.session, text) })
}

func (l *sessionListener) OnFinalResult(matches []string) {
	copied := append([]string(nil), matches...)
	l.dispatch(func() { l.controller.onFinalResult(l.session, copied) })
}

func (l *sessionListener) OnEndOfSpeech() {
	l.dispatch(func() { l.controller.onEndOfSpeech(l.session) })
}

func (l *sessionListener) OnError(code domain.NativeErrorCode, detail string) {
	l.dispatch(func() { l.controller.onError(l.session, code, detail) })
}

func (c *SessionController) onPartialResult(session *activeSession, text string) {
	if !session.pending.observe(text) {
		return
	}
	c.events.PartialResult(text)

	if !session.options.Mode.Continuous() {
		return
	}
	timeout := time.Duration(session.options.SilenceTimeoutMs) * time.Millisecond
	session.pending.schedule(c.clock, timeout, func(generation uint64) {
		c.loop.post(func() {
			if c.current != session || !session.pending.current(generation) {
				return
			}
			c.onSilenceTimeout(session)
		})
	})
}

func (c *SessionController) onSilenceTimeout(session *activeSession) {
	c.sessionLogger(session).Debug("silence timeout elapsed")
	if text, ok := session.pending.take(); ok {
		c.events.Result(text)
	}
	if session.options.Mode == domain.ModeContinuousAndStop {
		c.stopSession(session, "silence")
	}
}

// onFinalResult treats the engine's final result as advisory in continuous
// modes; the silence timer decides when an utterance is done there.
func (c *SessionController) onFinalResult(session *activeSession, matches []string) {
	switch session.options.Mode {
	case domain.ModeSingle:
		if len(matches) > 0 {
			c.events.Result(matches[0])
		}
	case domain.ModeContinuous:
		c.restart(session, "final_result")
	}
}

func (c *SessionController) onEndOfSpeech(session *activeSession) {
	if session.options.Mode == domain.ModeSingle {
		c.stopSession(session, "end_of_speech")
	}
}

func (c *SessionController) onError(session *activeSession, code domain.NativeErrorCode, detail string) {
	logger := c.sessionLogger(session)
	if code.Recoverable() {
		logger.Debug("nothing recognized, restarting", "code", code)
		c.restart(session, string(code))
		return
	}

	logger.Error("recognizer failed", "code", code, "detail", detail)
	c.terminate(session, domain.ClassifyNativeError(code))
}
