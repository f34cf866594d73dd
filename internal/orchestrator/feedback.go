// File: internal/orchestrator/feedback.go
package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cicerone-dev/cicerone/api/schemas"
	"github.com/cicerone-dev/cicerone/internal/degradation"
)

// AdaptationAction is the orchestrator's response to poor feedback.
type AdaptationAction string

const (
	ActionAdjustPace     AdaptationAction = "adjust_pace"
	ActionChangeApproach AdaptationAction = "change_approach"
	ActionProvideHelp    AdaptationAction = "provide_help"
	ActionNone           AdaptationAction = "none"
)

// ScoreSatisfaction folds feedback into a satisfaction value in [0,1] using
// the fixed weighted rule: base 0.5, +0.3 helpful, -0.3 confusing, -0.2 for
// pace complaints, -0.1 for difficulty complaints.
func ScoreSatisfaction(fb schemas.Feedback) float64 {
	score := 0.5
	if fb.Helpful {
		score += 0.3
	}
	if fb.Confusing {
		score -= 0.3
	}
	if fb.TooFast || fb.TooSlow {
		score -= 0.2
	}
	if fb.TooEasy || fb.TooHard {
		score -= 0.1
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// HandleFeedback scores the feedback and, when satisfaction falls below the
// configured threshold, executes one adaptation action. The chosen action is
// returned so callers can surface it.
func (o *Orchestrator) HandleFeedback(ctx context.Context, fb schemas.Feedback) (AdaptationAction, error) {
	if !o.featureEnabled(degradation.FeatureFeedback) {
		return ActionNone, fmt.Errorf("%w: %s", schemas.ErrFeatureUnavailable, degradation.FeatureFeedback)
	}
	satisfaction := ScoreSatisfaction(fb)

	if err := o.sessions.RecordFeedback(ctx, fb.SessionID, satisfaction); err != nil {
		return ActionNone, err
	}

	logger := o.logger.With(
		zap.String("session_id", fb.SessionID),
		zap.Float64("satisfaction", satisfaction))

	if satisfaction >= o.cfg.SatisfactionThreshold {
		logger.Debug("Feedback satisfactory, no adaptation")
		return ActionNone, nil
	}

	action := chooseAdaptation(fb)
	logger.Info("Applying feedback adaptation", zap.String("action", string(action)))

	switch action {
	case ActionAdjustPace:
		factor := paceSpeedUp
		if fb.TooFast {
			// Stretch the remaining estimates so the user has more time.
			factor = paceSlowDown
		}
		return action, o.sessions.AdjustPace(ctx, fb.SessionID, factor)

	case ActionChangeApproach:
		return action, o.changeApproach(ctx, fb)

	default:
		// provide_help leaves the plan alone and signals consumers.
		if err := o.bus.Publish(ctx, schemas.Event{
			Type:      schemas.EventHelpRequested,
			SessionID: fb.SessionID,
			Payload:   fb.Comment,
		}); err != nil {
			logger.Debug("Failed to publish help event", zap.Error(err))
		}
		return ActionProvideHelp, nil
	}
}

// chooseAdaptation maps the feedback shape to one of the three actions:
// pace complaints adjust pace, confusion or difficulty regenerate the
// current step, anything else asks for help.
func chooseAdaptation(fb schemas.Feedback) AdaptationAction {
	switch {
	case fb.TooFast || fb.TooSlow:
		return ActionAdjustPace
	case fb.Confusing || fb.TooHard:
		return ActionChangeApproach
	default:
		return ActionProvideHelp
	}
}

// changeApproach regenerates the current step through the plan-generation
// collaborator and substitutes it in place.
func (o *Orchestrator) changeApproach(ctx context.Context, fb schemas.Feedback) error {
	sess, err := o.sessions.Get(ctx, fb.SessionID)
	if err != nil {
		return err
	}
	if sess.CurrentStepIndex >= len(sess.Steps) {
		return schemas.ErrNoStepsRemaining
	}

	current := sess.Steps[sess.CurrentStepIndex]
	reason := fmt.Sprintf("user feedback: confusing=%t too_hard=%t %s", fb.Confusing, fb.TooHard, fb.Comment)
	alternatives, err := o.planner.GenerateAlternativeSteps(ctx, current.Objectives, current.RequiredCapability, reason)
	if err != nil {
		return fmt.Errorf("failed to regenerate step: %w", err)
	}
	if len(alternatives) == 0 {
		// Nothing better to offer; fall back to signalling for help.
		return o.bus.Publish(ctx, schemas.Event{
			Type:      schemas.EventHelpRequested,
			SessionID: fb.SessionID,
			Payload:   fb.Comment,
		})
	}

	replacement := alternatives[0].Clone()
	replacement.ID = current.ID
	return o.sessions.ReplaceCurrentStep(ctx, fb.SessionID, replacement)
}
