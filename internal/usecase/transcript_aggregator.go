package usecase

import (
	"strings"
	"time"
)

// pendingResult buffers the latest partial transcript until the silence
// timer decides the utterance is finished.
type pendingResult struct {
	lastTranscription *string
	timer             Timer
	// generation invalidates timer callbacks that were already queued on
	// the loop when the timer was cancelled.
	generation uint64
}

// observe stores a partial transcript. Blank text is ignored and reported
// as not accepted.
func (p *pendingResult) observe(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	p.lastTranscription = &text
	return true
}

// schedule cancels any running timer and arms a new one. fire receives the
// generation it was armed with.
func (p *pendingResult) schedule(clock Clock, timeout time.Duration, fire func(generation uint64)) {
	p.cancelTimer()
	generation := p.generation
	p.timer = clock.AfterFunc(timeout, func() { fire(generation) })
}

// current reports whether generation still belongs to the armed timer.
func (p *pendingResult) current(generation uint64) bool {
	return p.timer != nil && p.generation == generation
}

// take returns the buffered transcript and clears the pending state.
func (p *pendingResult) take() (string, bool) {
	p.cancelTimer()
	if p.lastTranscription == nil {
		return "", false
	}
	text := *p.lastTranscription
	p.lastTranscription = nil
	return text, true
}

func (p *pendingResult) cancelTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.generation++
}

func (p *pendingResult) reset() {
	p.cancelTimer()
	p.lastTranscription = nil
}

func (p *pendingResult) waiting() bool {
	return p.timer != nil
}
