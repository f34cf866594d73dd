// File: internal/engine/fallback.go
// Description: Execution surface that honors the browser degradation switch.
// While the switch is set, actions run through the simulated executor so
// sessions keep progressing on written instructions instead of live browser
// control.
package engine

import (
	"context"

	"github.com/cicerone-dev/cicerone/api/schemas"
)

// LiveSurface is the full execution contract a browser driver satisfies.
type LiveSurface interface {
	schemas.ActionExecutor
	schemas.RuleChecker
	schemas.Navigator
}

// FallbackExecutor routes to Live until Degraded reports true, then serves
// everything from Standby. The switch is read per call, so an in-flight
// session moves to the fallback path at the next action.
type FallbackExecutor struct {
	Live     LiveSurface
	Standby  DryRunExecutor
	Degraded func() bool
}

func (f FallbackExecutor) degraded() bool {
	return f.Degraded != nil && f.Degraded()
}

// PerformAction implements schemas.ActionExecutor.
func (f FallbackExecutor) PerformAction(ctx context.Context, action schemas.Action) (schemas.ActionResult, error) {
	if f.degraded() {
		return f.Standby.PerformAction(ctx, action)
	}
	return f.Live.PerformAction(ctx, action)
}

// CheckRule implements schemas.RuleChecker.
func (f FallbackExecutor) CheckRule(ctx context.Context, rule schemas.Rule) (bool, error) {
	if f.degraded() {
		return f.Standby.CheckRule(ctx, rule)
	}
	return f.Live.CheckRule(ctx, rule)
}

// EnsureReady implements schemas.Navigator.
func (f FallbackExecutor) EnsureReady(ctx context.Context, capability string) error {
	if f.degraded() {
		return f.Standby.EnsureReady(ctx, capability)
	}
	return f.Live.EnsureReady(ctx, capability)
}
