package domain

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable code reported to the host application.
type ErrorCode string

const (
	ErrorCodeSpeechRecognizerNotAvailable ErrorCode = "ERR_SPEECH_RECOGNIZER_NOT_AVAILABLE"
	ErrorCodeRecordingStartFailed         ErrorCode = "ERR_RECORDING_START_FAILED"
	ErrorCodeRecognitionFailed            ErrorCode = "ERR_RECOGNITION_FAILED"
	ErrorCodePermissionDenied             ErrorCode = "ERR_PERMISSION_DENIED"
	ErrorCodePermissionRestricted         ErrorCode = "ERR_PERMISSION_RESTRICTED"
	ErrorCodePermissionNotDetermined      ErrorCode = "ERR_PERMISSION_NOT_DETERMINED"
	ErrorCodeInvalidState                 ErrorCode = "ERR_INVALID_STATE"
	ErrorCodeUnknown                      ErrorCode = "ERR_UNKNOWN"
)

// VoiceError is an error with a host-visible code.
type VoiceError struct {
	Code    ErrorCode
	Message string
}

func (e *VoiceError) Error() string {
	return e.Message
}

// Is matches any VoiceError with the same code, so Unknown errors with
// different messages compare equal to ErrUnknown.
func (e *VoiceError) Is(target error) bool {
	other, ok := target.(*VoiceError)
	if !ok {
		return false
	}
	return other.Code == e.Code
}

var (
	ErrSpeechRecognizerNotAvailable = &VoiceError{ErrorCodeSpeechRecognizerNotAvailable, "Speech recognition is not available on this device"}
	ErrRecordingStartFailed         = &VoiceError{ErrorCodeRecordingStartFailed, "Failed to start audio recording"}
	ErrRecognitionFailed            = &VoiceError{ErrorCodeRecognitionFailed, "Failed to recognize speech"}
	ErrPermissionDenied             = &VoiceError{ErrorCodePermissionDenied, "Speech recognition permission was denied"}
	ErrPermissionRestricted         = &VoiceError{ErrorCodePermissionRestricted, "Speech recognition is restricted on this device"}
	ErrPermissionNotDetermined      = &VoiceError{ErrorCodePermissionNotDetermined, "Speech recognition permission was not yet determined"}
	ErrInvalidState                 = &VoiceError{ErrorCodeInvalidState, "Invalid state, cannot perform action"}
	ErrUnknown                      = &VoiceError{ErrorCodeUnknown, "An unknown error occurred"}
)

// Unknown builds an ERR_UNKNOWN error with a custom message.
func Unknown(message string) *VoiceError {
	if message == "" {
		message = ErrUnknown.Message
	}
	return &VoiceError{Code: ErrorCodeUnknown, Message: message}
}

// AsVoiceError converts any error into a VoiceError, defaulting to ERR_UNKNOWN.
func AsVoiceError(err error) *VoiceError {
	if err == nil {
		return nil
	}
	var voiceErr *VoiceError
	if errors.As(err, &voiceErr) {
		return voiceErr
	}
	return Unknown(err.Error())
}

// NativeErrorCode is an engine-level failure reported by a recognizer.
type NativeErrorCode string

const (
	NativeErrorAudio                   NativeErrorCode = "audio"
	NativeErrorInsufficientPermissions NativeErrorCode = "insufficient_permissions"
	NativeErrorNetwork                 NativeErrorCode = "network"
	NativeErrorNetworkTimeout          NativeErrorCode = "network_timeout"
	NativeErrorNoMatch                 NativeErrorCode = "no_match"
	NativeErrorNoSpeech                NativeErrorCode = "no_speech"
	NativeErrorSpeechTimeout           NativeErrorCode = "speech_timeout"
	NativeErrorRecognizerBusy          NativeErrorCode = "recognizer_busy"
	NativeErrorServer                  NativeErrorCode = "server"
	NativeErrorClient                  NativeErrorCode = "client"
)

// NativeError carries an engine error code and its cause.
type NativeError struct {
	Code NativeErrorCode
	Err  error
}

func (e *NativeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("recognizer error: %s", e.Code)
	}
	return fmt.Sprintf("recognizer error (%s): %v", e.Code, e.Err)
}

func (e *NativeError) Unwrap() error {
	return e.Err
}

// NewNativeError wraps err with an engine error code.
func NewNativeError(code NativeErrorCode, err error) *NativeError {
	return &NativeError{Code: code, Err: err}
}

// Recoverable reports whether the engine only signalled that nothing was
// recognized in the current window.
func (c NativeErrorCode) Recoverable() bool {
	switch c {
	case NativeErrorNoMatch, NativeErrorNoSpeech, NativeErrorSpeechTimeout:
		return true
	default:
		return false
	}
}

// ClassifyNativeError maps an engine error code to the host-visible error.
func ClassifyNativeError(code NativeErrorCode) *VoiceError {
	switch code {
	case NativeErrorAudio:
		return ErrRecordingStartFailed
	case NativeErrorInsufficientPermissions:
		return ErrPermissionDenied
	case NativeErrorNetwork, NativeErrorNetworkTimeout:
		return Unknown("Network error occurred")
	case NativeErrorNoMatch:
		return ErrRecognitionFailed
	case NativeErrorRecognizerBusy:
		return Unknown("Recognition service busy")
	case NativeErrorServer:
		return Unknown("Server error occurred")
	case NativeErrorNoSpeech, NativeErrorSpeechTimeout:
		return Unknown("No speech input")
	default:
		return Unknown("Unknown error occurred")
	}
}
