// File: internal/engine/recovery.go
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cicerone-dev/cicerone/api/schemas"
)

// Advisory recovery-time estimates surfaced to callers. Nothing in the
// engine enforces them.
const (
	adaptRecoveryEstimate = 2 * time.Minute
	retryRecoveryEstimate = 1 * time.Minute
)

// classifyMessage buckets an error message into the action error taxonomy by
// pattern matching, for failures that arrive as raw errors rather than typed
// results.
func classifyMessage(msg string) schemas.ActionErrorType {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "element"),
		strings.Contains(m, "selector"),
		strings.Contains(m, "node"),
		strings.Contains(m, "not found"):
		return schemas.ErrTypeElementNotFound
	case strings.Contains(m, "timeout"),
		strings.Contains(m, "deadline"),
		strings.Contains(m, "network"),
		strings.Contains(m, "connection"),
		strings.Contains(m, "dns"):
		return schemas.ErrTypeTimeout
	case strings.Contains(m, "auth"),
		strings.Contains(m, "login"),
		strings.Contains(m, "credential"),
		strings.Contains(m, "session expired"):
		return schemas.ErrTypeAuthentication
	default:
		return schemas.ErrTypeOther
	}
}

// selectRecovery picks how the engine responds to a failure of the given
// type. element-not-found failures are adapted (new selectors), transient
// timeouts and network errors are retried unchanged, authentication always
// requires the user, and anything else tries an alternative approach before
// giving up with a skip.
func (e *Engine) selectRecovery(ctx context.Context, step schemas.Step, errType schemas.ActionErrorType, msg string) schemas.RecoveryAction {
	switch errType {
	case schemas.ErrTypeElementNotFound:
		return e.adaptRecovery(ctx, step, msg)

	case schemas.ErrTypeTimeout, schemas.ErrTypeNetwork:
		return schemas.RecoveryAction{
			Type:              schemas.RecoveryRetry,
			Reason:            msg,
			EstimatedRecovery: retryRecoveryEstimate,
		}

	case schemas.ErrTypeAuthentication:
		return schemas.RecoveryAction{
			Type:   schemas.RecoveryManualIntervention,
			Reason: msg,
			Instructions: "Authentication is required and cannot be automated. " +
				"Sign in to the tool in the open browser window, then resume the session.",
		}

	default:
		return e.alternativeRecovery(ctx, step, msg)
	}
}

// adaptRecovery asks the step adapter to rewrite the step's target
// selectors. Without an adapter (or on adapter failure) the step is retried
// unchanged, which still burns an attempt.
func (e *Engine) adaptRecovery(ctx context.Context, step schemas.Step, reason string) schemas.RecoveryAction {
	action := schemas.RecoveryAction{
		Type:              schemas.RecoveryAdapt,
		Reason:            reason,
		EstimatedRecovery: adaptRecoveryEstimate,
	}
	if e.adapter == nil {
		return action
	}

	adapted, err := e.adapter.AdaptStep(ctx, step, fmt.Sprintf("element not found: %s", reason))
	if err != nil {
		e.logger.Warn("Step adaptation failed, retrying unchanged", zap.Error(err))
		return action
	}
	action.AdaptedStep = &adapted
	return action
}

// alternativeRecovery asks the plan generator for a substitute step. An
// empty response means no alternative exists and the step is skipped with a
// user-visible note.
func (e *Engine) alternativeRecovery(ctx context.Context, step schemas.Step, reason string) schemas.RecoveryAction {
	skip := schemas.RecoveryAction{
		Type:   schemas.RecoverySkip,
		Reason: fmt.Sprintf("no alternative approach available (%s)", reason),
	}
	if e.planner == nil {
		return skip
	}

	alternatives, err := e.planner.GenerateAlternativeSteps(ctx, step.Objectives, step.RequiredCapability, reason)
	if err != nil {
		e.logger.Warn("Alternative step generation failed", zap.Error(err))
		return skip
	}
	if len(alternatives) == 0 {
		return skip
	}

	alt := alternatives[0].Clone()
	// The substitute keeps the original step identity so progress tracking
	// stays keyed to the plan.
	alt.ID = step.ID
	return schemas.RecoveryAction{
		Type:        schemas.RecoveryAlternative,
		Reason:      reason,
		AdaptedStep: &alt,
	}
}
