// File: api/schemas/interfaces.go
// Description: Contracts for the external collaborators the core consumes.
// Implementations are injected; the core only depends on these interfaces.
package schemas

import (
	"context"
	"time"
)

// ActionExecutor performs one atomic action against the external target.
// Expected failure modes (element missing, timeout, auth) must be reported
// through ActionResult with a typed error, never as a returned error. The
// returned error is reserved for unexpected infrastructure failure such as a
// lost browser context. Implementations must be safe to retry.
type ActionExecutor interface {
	PerformAction(ctx context.Context, action Action) (ActionResult, error)
}

// RuleChecker evaluates a validation rule against the current state of the
// external target.
type RuleChecker interface {
	CheckRule(ctx context.Context, rule Rule) (bool, error)
}

// Navigator prepares the external capability a step requires. A returned
// error is unrecoverable by step-level retry and propagates immediately.
type Navigator interface {
	EnsureReady(ctx context.Context, capability string) error
}

// PlanGenerator produces plans and alternative steps.
// GenerateAlternativeSteps may return an empty slice to signal that no
// alternative exists.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, intent Intent, timeConstraint time.Duration) ([]Step, error)
	GenerateAlternativeSteps(ctx context.Context, objectives []string, capability, failureReason string) ([]Step, error)
}

// StepAdapter rewrites a step based on an outcome or feedback. It must
// return a new Step value (copy-on-adapt); callers rely on the input step
// remaining untouched.
type StepAdapter interface {
	AdaptStep(ctx context.Context, step Step, reason string) (Step, error)
}

// IntentExtractor turns raw request text into a structured intent.
type IntentExtractor interface {
	ExtractIntent(ctx context.Context, req GuidanceRequest) (Intent, error)
}
