// File: internal/planner/gated.go
// Description: Plan generation that honors the AI degradation switch. While
// the switch is set, every request is served by the deterministic fallback
// planner instead of the primary one.
package planner

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cicerone-dev/cicerone/api/schemas"
)

// GatedPlanner fronts a primary plan generator with a runtime switch. The
// switch is typically the template_planner_only toggle flipped by the
// ai_slow_or_failing degradation strategy.
type GatedPlanner struct {
	primary  schemas.PlanGenerator
	fallback schemas.PlanGenerator
	degraded func() bool
	logger   *zap.Logger
}

// NewGatedPlanner creates a GatedPlanner.
func NewGatedPlanner(primary, fallback schemas.PlanGenerator, degraded func() bool, logger *zap.Logger) (*GatedPlanner, error) {
	if primary == nil || fallback == nil || degraded == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize gated planner with nil dependencies")
	}
	return &GatedPlanner{
		primary:  primary,
		fallback: fallback,
		degraded: degraded,
		logger:   logger.Named("gated_planner"),
	}, nil
}

// GeneratePlan implements schemas.PlanGenerator.
func (g *GatedPlanner) GeneratePlan(ctx context.Context, intent schemas.Intent, timeConstraint time.Duration) ([]schemas.Step, error) {
	if g.degraded() {
		g.logger.Debug("AI planning degraded, using fallback planner",
			zap.String("objective", intent.Objective))
		return g.fallback.GeneratePlan(ctx, intent, timeConstraint)
	}
	return g.primary.GeneratePlan(ctx, intent, timeConstraint)
}

// GenerateAlternativeSteps implements schemas.PlanGenerator.
func (g *GatedPlanner) GenerateAlternativeSteps(ctx context.Context, objectives []string, capability, failureReason string) ([]schemas.Step, error) {
	if g.degraded() {
		return g.fallback.GenerateAlternativeSteps(ctx, objectives, capability, failureReason)
	}
	return g.primary.GenerateAlternativeSteps(ctx, objectives, capability, failureReason)
}
