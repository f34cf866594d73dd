// File: internal/engine/engine.go
// Description: The step execution engine. Runs one step's action sequence
// against the action executor, validates the effect, classifies failures and
// drives the bounded retry/adaptation chain.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cicerone-dev/cicerone/api/schemas"
	"github.com/cicerone-dev/cicerone/internal/events"
	"github.com/cicerone-dev/cicerone/internal/observability"
	"github.com/cicerone-dev/cicerone/internal/store"
)

// ExecutionContext carries the per-invocation parameters for one step.
type ExecutionContext struct {
	SessionID  string
	OwnerID    string
	MaxRetries int
}

// Engine executes steps. The action executor and navigator are required;
// the rule checker, step adapter and plan generator are optional and the
// engine degrades to simpler behavior when they are absent.
type Engine struct {
	executor  schemas.ActionExecutor
	navigator schemas.Navigator
	checker   schemas.RuleChecker
	adapter   schemas.StepAdapter
	planner   schemas.PlanGenerator
	history   store.HistoryStore
	bus       *events.Bus
	logger    *zap.Logger
}

// Options configures optional engine collaborators.
type Options struct {
	RuleChecker   schemas.RuleChecker
	StepAdapter   schemas.StepAdapter
	PlanGenerator schemas.PlanGenerator
}

// New creates an execution engine.
func New(
	executor schemas.ActionExecutor,
	navigator schemas.Navigator,
	history store.HistoryStore,
	bus *events.Bus,
	logger *zap.Logger,
	opts Options,
) (*Engine, error) {
	if executor == nil || navigator == nil || history == nil || bus == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize engine with nil dependencies")
	}
	return &Engine{
		executor:  executor,
		navigator: navigator,
		checker:   opts.RuleChecker,
		adapter:   opts.StepAdapter,
		planner:   opts.PlanGenerator,
		history:   history,
		bus:       bus,
		logger:    logger.Named("engine"),
	}, nil
}

// attemptOutcome is the internal result of one pass over a step's actions.
type attemptOutcome struct {
	results      []schemas.ActionResult
	score        float64
	passed       bool
	failedAction *schemas.ActionResult
	execErr      error
}

// ExecuteStep runs the step to a final StepResult. Retries are an explicit
// bounded loop: no more than MaxRetries+1 attempts ever run. Step-level
// failures are reported in the result, never as a returned error; the error
// return is reserved for context cancellation.
func (e *Engine) ExecuteStep(ctx context.Context, step schemas.Step, ec ExecutionContext) (schemas.StepResult, error) {
	logger := e.logger.With(
		zap.String("session_id", ec.SessionID),
		zap.String("step_id", step.ID),
	)
	start := time.Now()

	// Readiness failure is unrecoverable by step-level retry.
	if err := e.navigator.EnsureReady(ctx, step.RequiredCapability); err != nil {
		logger.Error("Capability not ready, aborting step", zap.Error(err))
		res := e.failedResult(step, ec, 0, schemas.ProficiencyGainException, 0,
			fmt.Sprintf("required capability %q unavailable: %v", step.RequiredCapability, err), nil)
		e.finish(ctx, res, start)
		return res, nil
	}

	current := step
	maxAttempts := ec.MaxRetries + 1
	var adaptations []string

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return schemas.StepResult{}, err
		}

		out := e.attempt(ctx, current)

		if out.execErr != nil {
			logger.Warn("Step attempt raised an execution error",
				zap.Int("attempt", attempt), zap.Error(out.execErr))
			recovery := e.selectRecovery(ctx, current, classifyMessage(out.execErr.Error()), out.execErr.Error())
			observability.RecordRecoveryAction(string(recovery.Type))

			res, done := e.applyRecovery(recovery, &current, &adaptations, attempt, maxAttempts,
				step, ec, out, schemas.ProficiencyGainException)
			if done {
				e.finish(ctx, res, start)
				return res, nil
			}
			continue
		}

		if out.passed {
			res := schemas.StepResult{
				StepID:    step.ID,
				SessionID: ec.SessionID,
				Status:    schemas.StepCompleted,
				Score:     out.score,
				Outcome: schemas.Outcome{
					Skill:            step.RequiredCapability,
					ProficiencyDelta: schemas.ProficiencyGainSuccess,
					Description:      step.ExpectedOutcome,
				},
				Adaptations: adaptations,
				Attempts:    attempt,
				Timestamp:   time.Now().UTC(),
			}
			logger.Info("Step completed",
				zap.Float64("score", out.score), zap.Int("attempts", attempt))
			e.finish(ctx, res, start)
			return res, nil
		}

		// Validation miss. A typed action error feeds the recovery chain; a
		// pure threshold miss with all actions succeeding is final.
		if out.failedAction == nil {
			res := e.failedResult(step, ec, out.score, schemas.ProficiencyGainPartial, attempt,
				fmt.Sprintf("validation score %.0f below threshold %.0f", out.score, step.Validation.SuccessThreshold),
				adaptations)
			e.finish(ctx, res, start)
			return res, nil
		}

		logger.Warn("Step attempt failed",
			zap.Int("attempt", attempt),
			zap.String("error_type", string(out.failedAction.ErrorType)),
			zap.String("error", out.failedAction.Error))

		recovery := e.selectRecovery(ctx, current, out.failedAction.ErrorType, out.failedAction.Error)
		observability.RecordRecoveryAction(string(recovery.Type))

		res, done := e.applyRecovery(recovery, &current, &adaptations, attempt, maxAttempts,
			step, ec, out, schemas.ProficiencyGainPartial)
		if done {
			e.finish(ctx, res, start)
			return res, nil
		}
	}

	// Unreachable: applyRecovery terminates the chain on the last attempt.
	res := e.failedResult(step, ec, 0, schemas.ProficiencyGainPartial, maxAttempts, "retries exhausted", adaptations)
	e.finish(ctx, res, start)
	return res, nil
}

// applyRecovery mutates the retry state for a continuing recovery, or builds
// the final failed result when the chain terminates. exhaustionGain is the
// proficiency credited when the retry budget runs out (partial for
// action-level failures, zero for execution errors).
func (e *Engine) applyRecovery(
	recovery schemas.RecoveryAction,
	current *schemas.Step,
	adaptations *[]string,
	attempt, maxAttempts int,
	step schemas.Step,
	ec ExecutionContext,
	out attemptOutcome,
	exhaustionGain int,
) (schemas.StepResult, bool) {
	switch recovery.Type {
	case schemas.RecoveryManualIntervention:
		res := e.failedResult(step, ec, out.score, schemas.ProficiencyGainException, attempt,
			recovery.Instructions, *adaptations)
		return res, true

	case schemas.RecoverySkip:
		res := e.failedResult(step, ec, out.score, exhaustionGain, attempt,
			fmt.Sprintf("step skipped: %s", recovery.Reason), *adaptations)
		return res, true

	case schemas.RecoveryRetry, schemas.RecoveryAdapt, schemas.RecoveryAlternative:
		if attempt >= maxAttempts {
			res := e.failedResult(step, ec, out.score, exhaustionGain, attempt,
				fmt.Sprintf("retries exhausted: %s", recovery.Reason), *adaptations)
			return res, true
		}
		if recovery.AdaptedStep != nil {
			*current = *recovery.AdaptedStep
			*adaptations = append(*adaptations, string(recovery.Type))
		}
		return schemas.StepResult{}, false
	}

	res := e.failedResult(step, ec, out.score, exhaustionGain, attempt,
		fmt.Sprintf("unhandled recovery %q", recovery.Type), *adaptations)
	return res, true
}

// attempt executes the step's actions in order and validates the effect.
func (e *Engine) attempt(ctx context.Context, step schemas.Step) attemptOutcome {
	out := attemptOutcome{results: make([]schemas.ActionResult, 0, len(step.Actions))}

	for _, action := range step.Actions {
		res, err := e.executor.PerformAction(ctx, action)
		if err != nil {
			out.execErr = err
			return out
		}
		if res.ActionID == "" {
			res.ActionID = action.ID
		}
		out.results = append(out.results, res)

		// A failed critical action short-circuits the rest of the step.
		if !res.Success && action.Type.Critical() {
			break
		}
	}

	for i := range out.results {
		if !out.results[i].Success {
			out.failedAction = &out.results[i]
			break
		}
	}

	out.score = e.scoreStep(ctx, step, out.results)
	out.passed = out.score >= step.Validation.SuccessThreshold
	return out
}

func (e *Engine) failedResult(
	step schemas.Step,
	ec ExecutionContext,
	score float64,
	gain int,
	attempts int,
	note string,
	adaptations []string,
) schemas.StepResult {
	return schemas.StepResult{
		StepID:    step.ID,
		SessionID: ec.SessionID,
		Status:    schemas.StepFailed,
		Score:     score,
		Outcome: schemas.Outcome{
			Skill:            step.RequiredCapability,
			ProficiencyDelta: gain,
			Description:      note,
		},
		Adaptations: adaptations,
		Attempts:    attempts,
		Note:        note,
		Timestamp:   time.Now().UTC(),
	}
}

// finish records the final result in the per-session history and notifies
// subscribers. History failures are logged, not propagated; the result is
// already decided.
func (e *Engine) finish(ctx context.Context, res schemas.StepResult, start time.Time) {
	if err := e.history.Append(ctx, res.SessionID, res); err != nil {
		e.logger.Error("Failed to append execution history",
			zap.String("session_id", res.SessionID), zap.Error(err))
	}

	evtType := schemas.EventStepCompleted
	outcome := "completed"
	if res.Status == schemas.StepFailed {
		evtType = schemas.EventStepFailed
		outcome = "failed"
	}
	observability.RecordStepAttempt(outcome, time.Since(start))

	if err := e.bus.Publish(ctx, schemas.Event{
		Type:      evtType,
		SessionID: res.SessionID,
		Payload:   res,
	}); err != nil {
		e.logger.Debug("Failed to publish step event", zap.Error(err))
	}
}
