// File: internal/orchestrator/orchestrator.go
// Description: Turns one external request into a running session and keeps
// it executing to completion. It is injected with fully configured
// collaborators via interfaces, making it decoupled and testable.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/cicerone-dev/cicerone/api/schemas"
	"github.com/cicerone-dev/cicerone/internal/config"
	"github.com/cicerone-dev/cicerone/internal/degradation"
	"github.com/cicerone-dev/cicerone/internal/events"
	"github.com/cicerone-dev/cicerone/internal/observability"
	"github.com/cicerone-dev/cicerone/internal/session"
)

// FeatureGate reports whether a named feature is currently enabled. The
// degradation manager implements it; a nil gate leaves every feature on.
type FeatureGate interface {
	IsFeatureAvailable(feature string) bool
}

// Proficiency floor below which a completed step still triggers adaptation
// of the upcoming step.
const proficiencyFloor = 50

// Pace factors applied by the adjust_pace adaptation action.
const (
	paceSlowDown = 1.5
	paceSpeedUp  = 0.7
)

// Orchestrator coordinates the request pipeline and the per-session
// execution loop.
type Orchestrator struct {
	cfg       config.OrchestratorConfig
	sessions  *session.Manager
	intent    schemas.IntentExtractor
	planner   schemas.PlanGenerator
	adapter   schemas.StepAdapter
	navigator schemas.Navigator
	gate      FeatureGate
	bus       *events.Bus
	logger    *zap.Logger

	// Concurrency cap. TryAcquire keeps rejection synchronous: requests are
	// never queued.
	slots *semaphore.Weighted

	mu        sync.Mutex
	pipelines map[string]*schemas.PipelineStatus
	errCounts map[string]int
}

// New creates an Orchestrator with its dependencies provided as interfaces.
func New(
	cfg config.OrchestratorConfig,
	sessions *session.Manager,
	intent schemas.IntentExtractor,
	planner schemas.PlanGenerator,
	adapter schemas.StepAdapter,
	navigator schemas.Navigator,
	gate FeatureGate,
	bus *events.Bus,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if sessions == nil || intent == nil || planner == nil || navigator == nil || bus == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if cfg.MaxConcurrentSessions <= 0 {
		cfg.MaxConcurrentSessions = 8
	}
	if cfg.RecoveryAttemptBudget <= 0 {
		cfg.RecoveryAttemptBudget = 10
	}
	if cfg.PausePollInterval <= 0 {
		cfg.PausePollInterval = time.Second
	}
	return &Orchestrator{
		cfg:       cfg,
		sessions:  sessions,
		intent:    intent,
		planner:   planner,
		adapter:   adapter,
		navigator: navigator,
		gate:      gate,
		bus:       bus,
		logger:    logger.Named("orchestrator"),
		slots:     semaphore.NewWeighted(cfg.MaxConcurrentSessions),
		pipelines: make(map[string]*schemas.PipelineStatus),
		errCounts: make(map[string]int),
	}, nil
}

// ProcessRequest runs the full pipeline for one request: input → intent →
// planning → execution (→ adaptation as needed) → completion. It blocks
// until the session reaches a terminal state and returns the final session.
// When the concurrency cap is reached the request fails fast with
// ErrCapacityExceeded and no session is created; when the degradation level
// has gated guided sessions off it fails fast with ErrFeatureUnavailable.
func (o *Orchestrator) ProcessRequest(ctx context.Context, req schemas.GuidanceRequest) (*schemas.Session, error) {
	if !o.featureEnabled(degradation.FeatureGuidedSessions) {
		return nil, fmt.Errorf("%w: %s", schemas.ErrFeatureUnavailable, degradation.FeatureGuidedSessions)
	}
	if !o.slots.TryAcquire(1) {
		observability.RecordCapacityRejection()
		return nil, schemas.ErrCapacityExceeded
	}
	defer o.slots.Release(1)

	logger := o.logger.With(zap.String("request_id", req.ID))
	logger.Info("Processing request", zap.String("owner_id", req.OwnerID))

	// The pipeline record is keyed by request id until a session exists.
	pipelineKey := req.ID
	o.updatePipeline(pipelineKey, schemas.StageInput, 5, "validating request")
	if req.RawInput == "" {
		o.dropPipeline(pipelineKey)
		return nil, fmt.Errorf("request %s has no input", req.ID)
	}

	o.updatePipeline(pipelineKey, schemas.StageIntent, 20, "extracting intent")
	intent, err := o.intent.ExtractIntent(ctx, req)
	if err != nil {
		o.dropPipeline(pipelineKey)
		return nil, fmt.Errorf("failed to extract intent: %w", err)
	}

	o.updatePipeline(pipelineKey, schemas.StagePlanning, 40, "generating plan")
	sess, err := o.sessions.Start(ctx, req, intent)
	if err != nil {
		o.dropPipeline(pipelineKey)
		return nil, err
	}
	// Alias the pipeline record to the session id; callers holding either
	// the request id or the session id can query progress.
	o.aliasPipeline(pipelineKey, sess.ID)

	// Initialize the primary target up front; later steps may still
	// reference other targets and ready them lazily.
	if sess.Context.PrimaryTool != "" {
		if err := o.navigator.EnsureReady(ctx, sess.Context.PrimaryTool); err != nil {
			logger.Warn("Primary tool not ready at startup",
				zap.String("tool", sess.Context.PrimaryTool), zap.Error(err))
		}
	}

	final, err := o.runSession(ctx, sess.ID)
	o.dropPipeline(pipelineKey)
	o.dropPipeline(sess.ID)
	o.clearErrors(sess.ID)
	if err != nil {
		return final, err
	}
	return final, nil
}

// runSession drains the plan's steps in order, honoring pause and cancel
// signals observed between steps and applying post-step adaptation.
func (o *Orchestrator) runSession(ctx context.Context, sessionID string) (*schemas.Session, error) {
	logger := o.logger.With(zap.String("session_id", sessionID))

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sess, err := o.sessions.Get(ctx, sessionID)
		if err != nil {
			if errors.Is(err, schemas.ErrSessionNotFound) {
				// The session left the active set: it reached a terminal
				// state through completion or an external cancel. The manager
				// retained the terminal snapshot for us.
				o.updatePipeline(sessionID, schemas.StageCompletion, 100, "finished")
				return o.sessions.TakeFinished(sessionID), nil
			}
			return nil, err
		}

		switch sess.Status {
		case schemas.SessionPaused:
			// Cooperative wait; cancel/resume are observed on the next tick.
			select {
			case <-ctx.Done():
				return sess, ctx.Err()
			case <-time.After(o.cfg.PausePollInterval):
			}
			continue
		case schemas.SessionActive:
		default:
			return sess, nil
		}

		o.updatePipeline(sessionID, schemas.StageExecution,
			40+50*float64(sess.CurrentStepIndex)/float64(len(sess.Steps)),
			currentStepTitle(sess))

		result, err := o.sessions.ExecuteNextStep(ctx, sessionID)
		if err != nil {
			if errors.Is(err, schemas.ErrTerminalState) || errors.Is(err, schemas.ErrSessionNotFound) {
				o.updatePipeline(sessionID, schemas.StageCompletion, 100, "finished")
				if final := o.sessions.TakeFinished(sessionID); final != nil {
					return final, nil
				}
				return sess, nil
			}
			if errors.Is(err, schemas.ErrNoStepsRemaining) {
				return sess, nil
			}
			return sess, err
		}

		if result.Status == schemas.StepFailed {
			if o.trackError(sessionID) > o.cfg.RecoveryAttemptBudget {
				// Circuit breaker between bounded per-step retries and
				// session-level failure.
				logger.Error("Recovery attempt budget exhausted, failing session")
				if _, err := o.sessions.Fail(ctx, sessionID, "recovery attempt budget exhausted"); err != nil {
					logger.Warn("Failed to mark session failed", zap.Error(err))
				}
				o.updatePipeline(sessionID, schemas.StageCompletion, 100, "failed")
				if final := o.sessions.TakeFinished(sessionID); final != nil {
					return final, nil
				}
				return sess, nil
			}
		}

		// A failed step, or a completed one with too little learned, adapts
		// the upcoming step before the loop continues.
		if result.Status == schemas.StepFailed || result.Outcome.ProficiencyDelta < proficiencyFloor {
			o.adaptCurrentStep(ctx, sessionID, result)
		}
	}
}

// adaptCurrentStep asks the adaptation collaborator to rewrite the current
// (not yet executed) step based on the outcome and substitutes it in place.
func (o *Orchestrator) adaptCurrentStep(ctx context.Context, sessionID string, result schemas.StepResult) {
	if o.adapter == nil {
		return
	}
	sess, err := o.sessions.Get(ctx, sessionID)
	if err != nil || sess.CurrentStepIndex >= len(sess.Steps) {
		return
	}

	o.updatePipeline(sessionID, schemas.StageAdaptation,
		40+50*float64(sess.CurrentStepIndex)/float64(len(sess.Steps)),
		"adapting next step")

	current := sess.Steps[sess.CurrentStepIndex]
	reason := fmt.Sprintf("previous step %s with score %.0f: %s", result.Status, result.Score, result.Note)
	adapted, err := o.adapter.AdaptStep(ctx, current, reason)
	if err != nil {
		o.logger.Warn("Step adaptation failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if err := o.sessions.ReplaceCurrentStep(ctx, sessionID, adapted); err != nil {
		o.logger.Warn("Could not substitute adapted step",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

// PipelineStatus reports the progress record for an in-flight request.
func (o *Orchestrator) PipelineStatus(sessionID string) (schemas.PipelineStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pipelines[sessionID]
	if !ok {
		return schemas.PipelineStatus{}, schemas.ErrPipelineNotFound
	}
	return *p, nil
}

func (o *Orchestrator) updatePipeline(key string, stage schemas.PipelineStage, percent float64, desc string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pipelines[key]
	if !ok {
		p = &schemas.PipelineStatus{SessionID: key}
		o.pipelines[key] = p
	}
	p.Stage = stage
	p.ProgressPercent = percent
	p.CurrentStepDescription = desc
	p.UpdatedAt = time.Now().UTC()
}

func (o *Orchestrator) aliasPipeline(oldKey, newKey string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.pipelines[oldKey]; ok {
		p.SessionID = newKey
		o.pipelines[newKey] = p
	}
}

func (o *Orchestrator) dropPipeline(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pipelines, key)
}

func (o *Orchestrator) featureEnabled(feature string) bool {
	return o.gate == nil || o.gate.IsFeatureAvailable(feature)
}

func (o *Orchestrator) trackError(sessionID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errCounts[sessionID]++
	return o.errCounts[sessionID]
}

func (o *Orchestrator) clearErrors(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.errCounts, sessionID)
}

func currentStepTitle(sess *schemas.Session) string {
	if sess.CurrentStepIndex < len(sess.Steps) {
		return sess.Steps[sess.CurrentStepIndex].Title
	}
	return ""
}
