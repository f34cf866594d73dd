// File: internal/engine/validation.go
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/cicerone-dev/cicerone/api/schemas"
)

// scoreStep produces the 0-100 completion score: the raw action success rate
// combined with the weighted pass rate of the declared validation rules.
// Without rules (or without a rule checker) the action rate stands alone.
func (e *Engine) scoreStep(ctx context.Context, step schemas.Step, results []schemas.ActionResult) float64 {
	actionRate := 100.0
	if len(step.Actions) > 0 {
		succeeded := 0
		for _, r := range results {
			if r.Success {
				succeeded++
			}
		}
		// Short-circuited actions never ran and count against the step.
		actionRate = 100.0 * float64(succeeded) / float64(len(step.Actions))
	}

	if len(step.Validation.Rules) == 0 || e.checker == nil {
		return actionRate
	}

	ruleRate := e.evaluateRules(ctx, step.Validation.Rules)
	return (actionRate + ruleRate) / 2
}

// evaluateRules returns the weighted pass percentage across rules. A rule
// whose check errors counts as a failure; one bad probe must not abort the
// rest.
func (e *Engine) evaluateRules(ctx context.Context, rules []schemas.Rule) float64 {
	var totalWeight, passedWeight float64
	for _, rule := range rules {
		weight := rule.Weight
		if weight <= 0 {
			weight = 1
		}
		totalWeight += weight

		ok, err := e.checker.CheckRule(ctx, rule)
		if err != nil {
			e.logger.Debug("Validation rule check failed",
				zap.String("rule_type", string(rule.Type)),
				zap.String("selector", rule.Selector),
				zap.Error(err))
			continue
		}
		if ok {
			passedWeight += weight
		}
	}
	if totalWeight == 0 {
		return 100
	}
	return 100.0 * passedWeight / totalWeight
}
