package domain

import "strings"

// Mode selects how a listening session reacts to recognizer callbacks.
type Mode string

const (
	ModeSingle            Mode = "single"
	ModeContinuous        Mode = "continuous"
	ModeContinuousAndStop Mode = "continuous-and-stop"
)

// Continuous reports whether results are finalized by the silence timer.
func (m Mode) Continuous() bool {
	return m == ModeContinuous || m == ModeContinuousAndStop
}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeSingle, ModeContinuous, ModeContinuousAndStop:
		return true
	default:
		return false
	}
}

const (
	DefaultLocale           = "en-US"
	DefaultSilenceTimeoutMs = 1000
)

// StartOptions configures one listening session. A restart reuses the same value.
type StartOptions struct {
	Locale                string `json:"locale"`
	Mode                  Mode   `json:"mode"`
	SilenceTimeoutMs      uint   `json:"silenceTimeoutMs"`
	MuteAndroidBeep       bool   `json:"muteAndroidBeep"`
	UseOnDeviceRecognizer bool   `json:"useOnDeviceRecognizer"`
}

// WithDefaults fills unset fields with their defaults.
func (o StartOptions) WithDefaults() StartOptions {
	o.Locale = strings.TrimSpace(o.Locale)
	if o.Locale == "" {
		o.Locale = DefaultLocale
	}
	if o.Mode == "" {
		o.Mode = ModeSingle
	}
	if o.SilenceTimeoutMs == 0 {
		o.SilenceTimeoutMs = DefaultSilenceTimeoutMs
	}
	return o
}

// SessionState models the recognition session lifecycle.
type SessionState string

const (
	SessionStateIdle            SessionState = "idle"
	SessionStateStarting        SessionState = "starting"
	SessionStateListening       SessionState = "listening"
	SessionStateAwaitingSilence SessionState = "awaiting_silence"
	SessionStateRestarting      SessionState = "restarting"
)

// Status summarizes the current runtime status.
type Status struct {
	State     SessionState  `json:"state"`
	Listening bool          `json:"listening"`
	SessionID string        `json:"sessionId,omitempty"`
	Options   *StartOptions `json:"options,omitempty"`
	Restarts  int           `json:"restarts"`
}

// SupportedLocales lists on-device recognition languages.
type SupportedLocales struct {
	Installed []string `json:"installed"`
	Supported []string `json:"supported"`
}

// ModelDownloadStatus is the immediate outcome of a download request.
type ModelDownloadStatus string

const (
	ModelDownloadStarted ModelDownloadStatus = "started"
)

// ModelDownloadResult is returned as soon as a download has been triggered.
type ModelDownloadResult struct {
	Status            ModelDownloadStatus `json:"status"`
	ProgressAvailable bool                `json:"progressAvailable"`
}

// ModelDownloadOutcome is the terminal state of a tracked download.
type ModelDownloadOutcome string

const (
	ModelDownloadCompleted ModelDownloadOutcome = "completed"
	ModelDownloadScheduled ModelDownloadOutcome = "scheduled"
)

// AudioStream identifies a device output stream that can be muted.
type AudioStream string

const (
	AudioStreamMusic        AudioStream = "music"
	AudioStreamNotification AudioStream = "notification"
)
