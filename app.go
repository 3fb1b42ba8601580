package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"voicekit/internal/bootstrap"
	"voicekit/internal/domain"
	"voicekit/internal/providers/vosk"
)

const (
	eventResult                = "voicekit:result"
	eventPartialResult         = "voicekit:partial-result"
	eventAvailabilityChange    = "voicekit:availability-change"
	eventListeningStateChange  = "voicekit:listening-state-change"
	eventError                 = "voicekit:error"
	eventModelDownloadProgress = "voicekit:model-download-progress"
)

// App is the Wails application root.
type App struct {
	ctx  context.Context
	emit func(ctx context.Context, name string, data ...interface{})

	services bootstrap.Services
	bootErr  error
}

func NewApp() *App {
	return &App{emit: runtime.EventsEmit}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(a, &dialogPrompter{ctx: ctx})
	if err != nil {
		a.bootErr = err
		a.Error(domain.ErrorCodeUnknown, fmt.Sprintf("Startup failed: %v", err))
		return
	}
	a.services = services
	a.services.Controller.RefreshAvailability()
}

func (a *App) shutdown(context.Context) {
	if a.services.Controller == nil {
		return
	}
	a.services.Close()
}

// StartListening starts a recognition session. An empty locale falls back to
// the configured default.
func (a *App) StartListening(options domain.StartOptions) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if strings.TrimSpace(options.Locale) == "" {
		options.Locale = a.services.Config.Session.DefaultLocale
	}
	return bindingError(a.services.Controller.Start(a.ctx, options))
}

// StopListening stops the active session.
func (a *App) StopListening() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return bindingError(a.services.Controller.Stop())
}

func (a *App) IsSpeechRecognitionAvailable() bool {
	if a.services.Controller == nil {
		return false
	}
	return a.services.Controller.IsAvailable()
}

func (a *App) GetSupportedLocales() domain.SupportedLocales {
	if a.services.Models == nil {
		return domain.SupportedLocales{Installed: []string{}, Supported: []string{}}
	}
	return a.services.Models.SupportedLocales(a.ctx)
}

func (a *App) IsOnDeviceModelInstalled(locale string) bool {
	if a.services.Models == nil {
		return false
	}
	return a.services.Models.IsInstalled(locale)
}

// DownloadOnDeviceModel triggers a model download and returns immediately.
// Progress and completion arrive as events.
func (a *App) DownloadOnDeviceModel(locale string) (domain.ModelDownloadResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.ModelDownloadResult{}, err
	}
	result, err := a.services.Models.Download(locale)
	return result, bindingError(err)
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.services.Controller == nil {
		return domain.Status{State: domain.SessionStateIdle}
	}
	return a.services.Controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}
	if a.services.Controller == nil {
		return map[string]string{}
	}

	cfg := a.services.Config
	return map[string]string{
		"cloudProvider":     "Deepgram",
		"model":             cfg.Deepgram.Model,
		"language":          cfg.Deepgram.Language,
		"defaultLocale":     cfg.Session.DefaultLocale,
		"audioBackend":      cfg.Audio.Backend,
		"audioInput":        cfg.Audio.InputDevice,
		"audioInputFormat":  cfg.Audio.InputFormat,
		"modelsDir":         cfg.Models.Dir,
		"onDeviceSupported": strconv.FormatBool(vosk.Enabled),
		"microphone":        string(a.services.Gate.Decision()),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services.Controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// Result emits a recognized transcript.
func (a *App) Result(text string) {
	a.send(eventResult, text)
}

// PartialResult emits live partial transcript text.
func (a *App) PartialResult(text string) {
	a.send(eventPartialResult, text)
}

func (a *App) AvailabilityChanged(available bool) {
	a.send(eventAvailabilityChange, available)
}

func (a *App) ListeningStateChanged(listening bool) {
	a.send(eventListeningStateChange, listening)
}

// Error emits session errors to the UI.
func (a *App) Error(code domain.ErrorCode, message string) {
	a.send(eventError, map[string]string{
		"code":    string(code),
		"message": message,
	})
}

func (a *App) ModelDownloadProgress(percent int) {
	a.send(eventModelDownloadProgress, percent)
}

func (a *App) send(name string, payload interface{}) {
	if a.ctx == nil || a.emit == nil {
		return
	}
	a.emit(a.ctx, name, payload)
}

// bindingError prefixes the stable error code so the frontend can branch on
// it after Wails flattens the error into a string.
func bindingError(err error) error {
	if err == nil {
		return nil
	}
	voiceErr := domain.AsVoiceError(err)
	return fmt.Errorf("%s: %s", voiceErr.Code, voiceErr.Message)
}

// dialogPrompter asks for microphone access with a native dialog.
type dialogPrompter struct {
	ctx context.Context
}

func (p *dialogPrompter) RequestMicrophone(context.Context) (bool, error) {
	answer, err := runtime.MessageDialog(p.ctx, runtime.MessageDialogOptions{
		Type:          runtime.QuestionDialog,
		Title:         "Microphone access",
		Message:       "Allow this application to use the microphone for speech recognition?",
		Buttons:       []string{"Allow", "Don't Allow"},
		DefaultButton: "Allow",
		CancelButton:  "Don't Allow",
	})
	if err != nil {
		return false, err
	}
	return promptAccepted(answer), nil
}

// promptAccepted understands both custom buttons and the fixed Yes/No
// buttons some platforms fall back to.
func promptAccepted(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "allow", "yes", "ok":
		return true
	default:
		return false
	}
}
