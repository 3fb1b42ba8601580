package usecase

import (
	"context"

	"voicekit/internal/domain"
	"voicekit/internal/ports"
)

// activeSession is one listening episode. It is only touched on the loop.
type activeSession struct {
	id      string
	options domain.StartOptions

	// ctx outlives the call that started the session and is cancelled on
	// teardown.
	ctx    context.Context
	cancel context.CancelFunc

	recognizer ports.Recognizer
	// handle increments every time the recognizer is recreated; callbacks
	// carrying an older handle are dropped.
	handle   uint64
	restarts int

	pending pendingResult
	muter   *beepMuter
}

func (s *activeSession) state() domain.SessionState {
	if s.recognizer == nil {
		return domain.SessionStateRestarting
	}
	if s.pending.waiting() {
		return domain.SessionStateAwaitingSilence
	}
	return domain.SessionStateListening
}
