// File: internal/planner/template.go
// Description: Deterministic plan generation. The template planner is the
// floor the system degrades to when the language model is unavailable, and
// also serves as the step adapter.
package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cicerone-dev/cicerone/api/schemas"
)

// TemplatePlanner builds plans from fixed step templates. It implements
// schemas.PlanGenerator and schemas.StepAdapter.
type TemplatePlanner struct {
	logger *zap.Logger
}

// NewTemplatePlanner builds the planner.
func NewTemplatePlanner(logger *zap.Logger) (*TemplatePlanner, error) {
	if logger == nil {
		return nil, fmt.Errorf("cannot initialize template planner with nil dependencies")
	}
	return &TemplatePlanner{logger: logger.Named("planner.template")}, nil
}

// GeneratePlan produces a three-phase plan: orient, act, verify. Each step
// carries validation criteria so execution can score itself.
func (p *TemplatePlanner) GeneratePlan(ctx context.Context, intent schemas.Intent, timeConstraint time.Duration) ([]schemas.Step, error) {
	if intent.Objective == "" {
		return nil, fmt.Errorf("cannot plan without an objective")
	}

	tool := intent.Tool
	if tool == "" {
		tool = "web"
	}

	perStep := 5 * time.Minute
	if timeConstraint > 0 {
		perStep = timeConstraint / 3
	}

	steps := []schemas.Step{
		{
			ID:                 uuid.New().String(),
			Title:              "Open the workspace",
			Description:        fmt.Sprintf("Bring up %s and confirm it is responsive.", tool),
			Tool:               tool,
			RequiredCapability: tool,
			Actions: []schemas.Action{
				{ID: uuid.New().String(), Type: schemas.ActionObserve, Selector: "body",
					Description: "Confirm the page rendered"},
			},
			Explanation:       "Starting from a known state makes the following steps reliable.",
			ExpectedOutcome:   "The workspace is visible and interactive.",
			Validation:        schemas.ValidationCriteria{SuccessThreshold: 100},
			EstimatedDuration: perStep,
			Complexity:        "low",
			Objectives:        []string{intent.Objective},
		},
		{
			ID:                 uuid.New().String(),
			Title:              "Work toward the objective",
			Description:        intent.Objective,
			Tool:               tool,
			RequiredCapability: tool,
			Actions: []schemas.Action{
				{ID: uuid.New().String(), Type: schemas.ActionScroll,
					Description: "Survey the available controls"},
				{ID: uuid.New().String(), Type: schemas.ActionObserve, Selector: "main, body",
					Description: "Locate the area relevant to the objective"},
			},
			Explanation:       "This is the core of the task; take it one control at a time.",
			ExpectedOutcome:   "The main objective action has been performed.",
			Validation:        schemas.ValidationCriteria{SuccessThreshold: 80},
			EstimatedDuration: perStep,
			Complexity:        complexityFor(intent.SkillLevel),
			Objectives:        []string{intent.Objective},
		},
		{
			ID:                 uuid.New().String(),
			Title:              "Verify the result",
			Description:        "Check that the outcome matches what was intended.",
			Tool:               tool,
			RequiredCapability: tool,
			Actions: []schemas.Action{
				{ID: uuid.New().String(), Type: schemas.ActionObserve, Selector: "body",
					Description: "Read back the final state"},
			},
			Explanation:       "Verifying now avoids discovering a miss much later.",
			ExpectedOutcome:   "The result is confirmed on screen.",
			Validation:        schemas.ValidationCriteria{SuccessThreshold: 80},
			EstimatedDuration: perStep,
			Complexity:        "low",
			Objectives:        []string{intent.Objective},
		},
	}

	p.logger.Debug("Template plan generated",
		zap.String("tool", tool), zap.Int("steps", len(steps)))
	return steps, nil
}

func complexityFor(skillLevel string) string {
	switch skillLevel {
	case "advanced":
		return "high"
	case "intermediate":
		return "medium"
	default:
		return "low"
	}
}

// GenerateAlternativeSteps proposes a simpler observation-first variant of
// the failed approach. It never returns an alternative for authentication
// failures; those need the user.
func (p *TemplatePlanner) GenerateAlternativeSteps(ctx context.Context, objectives []string, capability, failureReason string) ([]schemas.Step, error) {
	if strings.Contains(strings.ToLower(failureReason), "auth") {
		return nil, nil
	}

	objective := "continue the task"
	if len(objectives) > 0 {
		objective = objectives[0]
	}

	alt := schemas.Step{
		ID:                 uuid.New().String(),
		Title:              "Try a simpler route",
		Description:        fmt.Sprintf("Approach %q through observation before acting.", objective),
		Tool:               capability,
		RequiredCapability: capability,
		Actions: []schemas.Action{
			{ID: uuid.New().String(), Type: schemas.ActionObserve, Selector: "body",
				Description: "Re-read the current state"},
			{ID: uuid.New().String(), Type: schemas.ActionScroll,
				Description: "Look for an alternative control"},
		},
		Explanation:       fmt.Sprintf("The previous approach did not work (%s); this one avoids the failing element.", failureReason),
		ExpectedOutcome:   "A workable path toward the objective is visible.",
		Validation:        schemas.ValidationCriteria{SuccessThreshold: 80},
		EstimatedDuration: 3 * time.Minute,
		Complexity:        "low",
		Objectives:        objectives,
	}
	return []schemas.Step{alt}, nil
}

// AdaptStep implements schemas.StepAdapter: the returned step is a copy with
// a longer budget, relaxed threshold and an adjusted explanation. The input
// step is never mutated.
func (p *TemplatePlanner) AdaptStep(ctx context.Context, step schemas.Step, reason string) (schemas.Step, error) {
	adapted := step.Clone()

	adapted.EstimatedDuration = step.EstimatedDuration * 3 / 2
	if adapted.Validation.SuccessThreshold > 50 {
		adapted.Validation.SuccessThreshold -= 10
		if adapted.Validation.SuccessThreshold < 50 {
			// 50 is the relaxation floor.
			adapted.Validation.SuccessThreshold = 50
		}
	}
	for i := range adapted.Actions {
		if adapted.Actions[i].Timeout > 0 {
			adapted.Actions[i].Timeout = adapted.Actions[i].Timeout * 3 / 2
		}
	}
	adapted.Explanation = strings.TrimSpace(
		adapted.Explanation + " Adjusted after: " + reason)

	p.logger.Debug("Step adapted",
		zap.String("step_id", step.ID), zap.String("reason", reason))
	return adapted, nil
}
