// File: internal/engine/dryrun.go
// Description: A simulated executor for running plans without a browser.
// Every action and rule check succeeds after a short pause, which keeps the
// pipeline usable for demos and for the browser_automation fallback path.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cicerone-dev/cicerone/api/schemas"
)

// DryRunExecutor implements ActionExecutor, RuleChecker and Navigator
// without touching any external surface.
type DryRunExecutor struct {
	// Delay per simulated action. Zero means no delay.
	Delay time.Duration
}

// PerformAction implements schemas.ActionExecutor.
func (d DryRunExecutor) PerformAction(ctx context.Context, action schemas.Action) (schemas.ActionResult, error) {
	if d.Delay > 0 {
		select {
		case <-ctx.Done():
			return schemas.ActionResult{ActionID: action.ID}, ctx.Err()
		case <-time.After(d.Delay):
		}
	}
	return schemas.ActionResult{
		ActionID:      action.ID,
		Success:       true,
		ElementFound:  true,
		ExecutionTime: d.Delay,
		ActualResult:  fmt.Sprintf("simulated %s", action.Type),
	}, nil
}

// CheckRule implements schemas.RuleChecker.
func (d DryRunExecutor) CheckRule(ctx context.Context, rule schemas.Rule) (bool, error) {
	return true, nil
}

// EnsureReady implements schemas.Navigator.
func (d DryRunExecutor) EnsureReady(ctx context.Context, capability string) error {
	return nil
}
