// Package permission decides whether a session may open the microphone.
// Desktop platforms have no system-wide microphone consent for unsandboxed
// processes, so the decision is asked once and stored next to the user's
// configuration.
package permission

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"voicekit/internal/domain"
)

// Decision is the stored microphone consent.
type Decision string

const (
	DecisionUndetermined Decision = "undetermined"
	DecisionGranted      Decision = "granted"
	DecisionDenied       Decision = "denied"
	DecisionRestricted   Decision = "restricted"
)

// ParseDecision accepts the decision names plus the usual boolean spellings.
func ParseDecision(value string) (Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "granted", "grant", "allow", "1", "true", "yes", "on":
		return DecisionGranted, true
	case "denied", "deny", "0", "false", "no", "off":
		return DecisionDenied, true
	case "restricted":
		return DecisionRestricted, true
	case "undetermined", "prompt", "ask":
		return DecisionUndetermined, true
	default:
		return "", false
	}
}

// Prompter asks the user for microphone access.
type Prompter interface {
	RequestMicrophone(ctx context.Context) (bool, error)
}

// Gate implements ports.PermissionGate.
type Gate struct {
	store    *Store
	prompter Prompter
	override Decision
	logger   *slog.Logger
}

// NewGate builds a gate. A non-empty override replaces the stored decision
// and is never persisted.
func NewGate(store *Store, prompter Prompter, override Decision, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: store, prompter: prompter, override: override, logger: logger}
}

func (g *Gate) Check(ctx context.Context) error {
	decision := g.Decision()
	if decision == DecisionUndetermined {
		var err error
		decision, err = g.prompt(ctx)
		if err != nil {
			return err
		}
	}

	switch decision {
	case DecisionGranted:
		return nil
	case DecisionDenied:
		return domain.ErrPermissionDenied
	case DecisionRestricted:
		return domain.ErrPermissionRestricted
	default:
		return domain.ErrPermissionNotDetermined
	}
}

// Decision returns the effective decision without prompting.
func (g *Gate) Decision() Decision {
	if g.override != "" {
		return g.override
	}
	if g.store == nil {
		return DecisionUndetermined
	}
	decision, err := g.store.Load()
	if err != nil {
		g.logger.Warn("permission store unreadable; treating as undetermined", "error", err)
		return DecisionUndetermined
	}
	return decision
}

func (g *Gate) prompt(ctx context.Context) (Decision, error) {
	if g.prompter == nil {
		return "", domain.ErrPermissionNotDetermined
	}

	granted, err := g.prompter.RequestMicrophone(ctx)
	if err != nil {
		g.logger.Warn("microphone permission prompt failed", "error", err)
		return "", fmt.Errorf("%s: %v: %w", domain.ErrPermissionNotDetermined.Message, err, domain.ErrPermissionNotDetermined)
	}

	decision := DecisionDenied
	if granted {
		decision = DecisionGranted
	}
	g.logger.Info("microphone permission decided", "decision", decision)

	if g.override == "" && g.store != nil {
		if err := g.store.Save(decision); err != nil {
			g.logger.Warn("failed to persist microphone permission", "error", err)
		}
	}
	return decision, nil
}
