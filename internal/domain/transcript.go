package domain

// TranscriptKind identifies the type of a provider stream event.
type TranscriptKind string

const (
	TranscriptKindPartial       TranscriptKind = "partial"
	TranscriptKindFinal         TranscriptKind = "final"
	TranscriptKindSpeechStarted TranscriptKind = "speech_started"
	TranscriptKindUtteranceEnd  TranscriptKind = "utterance_end"
)

// TranscriptEvent represents incremental transcription output from a provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	Alternatives  []string       `json:"alternatives,omitempty"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}

// Matches returns the ranked hypotheses of a final event, best first.
func (e TranscriptEvent) Matches() []string {
	if len(e.Alternatives) > 0 {
		return e.Alternatives
	}
	if e.Text == "" {
		return nil
	}
	return []string{e.Text}
}
