package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"voicekit/internal/domain"
	"voicekit/internal/ports"
)

// Config controls session behavior.
type Config struct {
	Clock  Clock
	Logger *slog.Logger
	// CreateTimeout bounds how long creating a recognizer may take.
	CreateTimeout time.Duration
}

// SessionController owns the recognition session state machine. Every
// transition runs on a single loop goroutine.
type SessionController struct {
	factory ports.RecognizerFactory
	gate    ports.PermissionGate
	volumes ports.VolumeController
	events  ports.EventSink
	clock   Clock
	logger  *slog.Logger
	cfg     Config

	loop *loop

	// Owned by the loop.
	current   *activeSession
	starting  bool
	available *bool
}

func NewSessionController(
	factory ports.RecognizerFactory,
	gate ports.PermissionGate,
	volumes ports.VolumeController,
	events ports.EventSink,
	cfg Config,
) *SessionController {
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = 10 * time.Second
	}
	return &SessionController{
		factory: factory,
		gate:    gate,
		volumes: volumes,
		events:  events,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		cfg:     cfg,
		loop:    newLoop(),
	}
}

// Start begins a listening session. It fails with ErrInvalidState while a
// session is active or another start is in flight.
func (c *SessionController) Start(ctx context.Context, options domain.StartOptions) error {
	options = options.WithDefaults()
	if !options.Mode.Valid() {
		return &domain.VoiceError{
			Code:    domain.ErrorCodeInvalidState,
			Message: fmt.Sprintf("Unsupported recognition mode %q", options.Mode),
		}
	}

	var reserveErr error
	if err := c.loop.call(func() {
		if c.current != nil || c.starting {
			reserveErr = domain.ErrInvalidState
			return
		}
		c.starting = true
	}); err != nil {
		return domain.ErrInvalidState
	}
	if reserveErr != nil {
		c.logger.Warn("already listening, rejecting start")
		return reserveErr
	}

	if c.gate != nil {
		if err := c.gate.Check(ctx); err != nil {
			c.logger.Warn("microphone permission not granted", "error", err)
			_ = c.loop.call(func() { c.starting = false })
			return err
		}
	}

	var startErr error
	if err := c.loop.call(func() {
		c.starting = false
		startErr = c.startSession(ctx, options)
	}); err != nil {
		return domain.ErrInvalidState
	}
	return startErr
}

// Stop ends the active session. Without one it reports ErrInvalidState both
// as an event and as the returned error.
func (c *SessionController) Stop() error {
	var stopErr error
	if err := c.loop.call(func() {
		if c.current == nil {
			c.logger.Warn("not listening, rejecting stop")
			c.events.Error(domain.ErrInvalidState.Code, domain.ErrInvalidState.Message)
			stopErr = domain.ErrInvalidState
			return
		}
		c.stopSession(c.current, "stopped")
	}); err != nil {
		return domain.ErrInvalidState
	}
	return stopErr
}

// Status returns a snapshot of the session state.
func (c *SessionController) Status() domain.Status {
	status := domain.Status{State: domain.SessionStateIdle}
	_ = c.loop.call(func() {
		if c.current == nil {
			if c.starting {
				status.State = domain.SessionStateStarting
			}
			return
		}
		options := c.current.options
		status = domain.Status{
			State:     c.current.state(),
			Listening: true,
			SessionID: c.current.id,
			Options:   &options,
			Restarts:  c.current.restarts,
		}
	})
	return status
}

// IsAvailable reports whether any recognizer can be created. It never fails.
func (c *SessionController) IsAvailable() bool {
	if c.factory == nil {
		return false
	}
	return c.factory.Available(false) || c.factory.Available(true)
}

// RefreshAvailability re-evaluates availability and emits an event when it changed.
func (c *SessionController) RefreshAvailability() {
	available := c.IsAvailable()
	_ = c.loop.call(func() {
		if c.available != nil && *c.available == available {
			return
		}
		c.available = &available
		c.logger.Info("speech recognition availability changed", "available", available)
		c.events.AvailabilityChanged(available)
	})
}

// Close stops any active session, restoring muted audio, and shuts the loop down.
func (c *SessionController) Close() {
	_ = c.loop.call(func() {
		if c.current != nil {
			c.stopSession(c.current, "shutdown")
		}
	})
	c.loop.close()
}

func (c *SessionController) startSession(ctx context.Context, options domain.StartOptions) error {
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	session := &activeSession{
		id:      uuid.NewString(),
		options: options,
		ctx:     sessionCtx,
		cancel:  cancel,
		muter:   newBeepMuter(c.volumes, c.logger),
	}
	logger := c.sessionLogger(session)

	if options.MuteAndroidBeep {
		session.muter.mute()
	}

	if err := c.attachRecognizer(session); err != nil {
		logger.Error("failed to start recognizer", "error", err)
		session.muter.unmute()
		cancel()
		return err
	}

	c.current = session
	logger.Info("listening started", "on_device", options.UseOnDeviceRecognizer)
	c.events.ListeningStateChanged(true)
	return nil
}

// attachRecognizer creates a fresh recognizer handle for session.
func (c *SessionController) attachRecognizer(session *activeSession) error {
	session.handle++
	listener := &sessionListener{controller: c, session: session, handle: session.handle}

	ctx, cancel := context.WithTimeout(session.ctx, c.cfg.CreateTimeout)
	defer cancel()

	recognizer, err := c.factory.Create(ctx, ports.RecognizerConfig{
		Locale:   session.options.Locale,
		Mode:     session.options.Mode,
		OnDevice: session.options.UseOnDeviceRecognizer,
	}, listener)
	if err != nil {
		return err
	}
	session.recognizer = recognizer
	return nil
}

func (c *SessionController) releaseRecognizer(session *activeSession) {
	if session.recognizer == nil {
		return
	}
	if err := session.recognizer.Close(); err != nil {
		c.sessionLogger(session).Warn("failed to release recognizer", "error", err)
	}
	session.recognizer = nil
}

// restart replaces the recognizer handle without any listening-state or
// audio side effects.
func (c *SessionController) restart(session *activeSession, reason string) {
	logger := c.sessionLogger(session)
	logger.Debug("restarting recognizer", "reason", reason)

	session.pending.reset()
	c.releaseRecognizer(session)
	session.restarts++

	if err := c.attachRecognizer(session); err != nil {
		logger.Error("failed to restart recognizer", "error", err)
		c.terminate(session, domain.AsVoiceError(err))
	}
}

// stopSession tears the session down. The pending timer is cancelled before
// the recognizer is released.
func (c *SessionController) stopSession(session *activeSession, reason string) {
	session.pending.reset()
	c.releaseRecognizer(session)
	session.cancel()
	if c.current == session {
		c.current = nil
	}
	session.muter.unmute()

	c.sessionLogger(session).Info("listening stopped", "reason", reason, "restarts", session.restarts)
	c.events.ListeningStateChanged(false)
}

// terminate stops the session after a fatal error and then reports it.
func (c *SessionController) terminate(session *activeSession, err *domain.VoiceError) {
	c.stopSession(session, "error")
	c.events.Error(err.Code, err.Message)
}

func (c *SessionController) sessionLogger(session *activeSession) *slog.Logger {
	return c.logger.With(
		"session_id", session.id,
		"mode", session.options.Mode,
		"locale", session.options.Locale,
	)
}
