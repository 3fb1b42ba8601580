package deepgram

import "strings"

// utteranceBuffer joins the finalized segments Deepgram emits while one
// utterance is still in progress.
type utteranceBuffer struct {
	finals []string
}

func (b *utteranceBuffer) finalize(segment string) {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return
	}
	if n := len(b.finals); n > 0 && b.finals[n-1] == segment {
		return
	}
	b.finals = append(b.finals, segment)
}

func (b *utteranceBuffer) text() string {
	return strings.Join(b.finals, " ")
}

func (b *utteranceBuffer) withInterim(interim string) string {
	return joinWords(b.text(), interim)
}

func (b *utteranceBuffer) reset() {
	b.finals = b.finals[:0]
}

func joinWords(prefix, text string) string {
	prefix = strings.TrimSpace(prefix)
	text = strings.TrimSpace(text)
	switch {
	case prefix == "":
		return text
	case text == "":
		return prefix
	default:
		return prefix + " " + text
	}
}
