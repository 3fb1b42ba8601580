package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"voicekit/internal/domain"
	"voicekit/internal/ports"
)

// ModelController tracks on-device model availability and downloads. At
// most one progress-tracked download runs at a time.
type ModelController struct {
	store  ports.ModelStore
	events ports.EventSink
	logger *slog.Logger

	// onInstalled runs after a download finished successfully.
	onInstalled func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	downloading bool
}

func NewModelController(store ports.ModelStore, events ports.EventSink, logger *slog.Logger, onInstalled func()) *ModelController {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ModelController{
		store:       store,
		events:      events,
		logger:      logger,
		onInstalled: onInstalled,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SupportedLocales lists installed and supported on-device locales. Errors
// degrade to empty lists.
func (m *ModelController) SupportedLocales(ctx context.Context) domain.SupportedLocales {
	result := domain.SupportedLocales{Installed: []string{}, Supported: []string{}}
	if m.store == nil || !m.store.OnDeviceSupported() {
		return result
	}

	installed, err := m.store.InstalledLocales(ctx)
	if err != nil {
		m.logger.Warn("failed to list installed on-device locales", "error", err)
		return result
	}
	supported, err := m.store.SupportedLocales(ctx)
	if err != nil {
		m.logger.Warn("failed to list supported on-device locales", "error", err)
		return result
	}
	if installed != nil {
		result.Installed = installed
	}
	if supported != nil {
		result.Supported = supported
	}
	return result
}

// IsInstalled reports whether a model for locale is present.
func (m *ModelController) IsInstalled(locale string) bool {
	if m.store == nil || !m.store.OnDeviceSupported() {
		return false
	}
	return m.store.IsInstalled(strings.TrimSpace(locale))
}

// Download triggers a model download and returns immediately. Progress,
// completion and failure are reported through the event sink.
func (m *ModelController) Download(locale string) (domain.ModelDownloadResult, error) {
	locale = strings.TrimSpace(locale)
	if locale == "" {
		return domain.ModelDownloadResult{}, &domain.VoiceError{Code: domain.ErrorCodeInvalidState, Message: "A locale is required to download a model"}
	}
	if m.store == nil || !m.store.OnDeviceSupported() {
		return domain.ModelDownloadResult{}, &domain.VoiceError{Code: domain.ErrorCodeInvalidState, Message: "On-device recognition is not supported on this platform"}
	}

	logger := m.logger.With("locale", locale)

	if !m.store.ProgressTracking() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if _, err := m.store.Download(m.ctx, locale, nil); err != nil {
				m.downloadFailed(logger, err)
				return
			}
			m.downloadSucceeded(logger, domain.ModelDownloadCompleted)
		}()
		return domain.ModelDownloadResult{Status: domain.ModelDownloadStarted, ProgressAvailable: false}, nil
	}

	m.mu.Lock()
	if m.downloading {
		m.mu.Unlock()
		return domain.ModelDownloadResult{}, &domain.VoiceError{Code: domain.ErrorCodeInvalidState, Message: "A model download is already in progress"}
	}
	m.downloading = true
	m.mu.Unlock()

	logger.Info("model download started")
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		last := -1
		outcome, err := m.store.Download(m.ctx, locale, func(percent int) {
			if percent == last {
				return
			}
			last = percent
			m.events.ModelDownloadProgress(percent)
		})

		m.mu.Lock()
		m.downloading = false
		m.mu.Unlock()

		if err != nil {
			m.downloadFailed(logger, err)
			return
		}
		m.downloadSucceeded(logger, outcome)
	}()

	return domain.ModelDownloadResult{Status: domain.ModelDownloadStarted, ProgressAvailable: true}, nil
}

// Close cancels running downloads and waits for them to finish.
func (m *ModelController) Close() {
	m.cancel()
	m.wg.Wait()
}

// wait blocks until background downloads have returned.
func (m *ModelController) wait() {
	m.wg.Wait()
}

func (m *ModelController) downloadFailed(logger *slog.Logger, err error) {
	logger.Error("model download failed", "error", err)
	m.events.Error(domain.ErrorCodeRecognitionFailed, fmt.Sprintf("Model download failed: %v", err))
}

func (m *ModelController) downloadSucceeded(logger *slog.Logger, outcome domain.ModelDownloadOutcome) {
	logger.Info("model download finished", "outcome", outcome)
	if outcome == domain.ModelDownloadCompleted && m.onInstalled != nil {
		m.onInstalled()
	}
}
