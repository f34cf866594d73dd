// File: internal/planner/gated_test.go
package planner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cicerone-dev/cicerone/api/schemas"
)

// namedPlanner stamps its name on every step so tests can tell which
// generator served the request.
type namedPlanner struct{ name string }

func (p namedPlanner) GeneratePlan(ctx context.Context, intent schemas.Intent, timeConstraint time.Duration) ([]schemas.Step, error) {
	return []schemas.Step{{ID: p.name, Title: p.name}}, nil
}

func (p namedPlanner) GenerateAlternativeSteps(ctx context.Context, objectives []string, capability, failureReason string) ([]schemas.Step, error) {
	return []schemas.Step{{ID: p.name + "-alt"}}, nil
}

func TestGatedPlannerFollowsTheSwitch(t *testing.T) {
	var degraded atomic.Bool
	g, err := NewGatedPlanner(namedPlanner{"llm"}, namedPlanner{"template"},
		degraded.Load, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	intent := schemas.Intent{Objective: "do something"}

	steps, err := g.GeneratePlan(ctx, intent, 0)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "llm", steps[0].ID)

	degraded.Store(true)
	steps, err = g.GeneratePlan(ctx, intent, 0)
	require.NoError(t, err)
	assert.Equal(t, "template", steps[0].ID)

	alts, err := g.GenerateAlternativeSteps(ctx, nil, "web", "timeout")
	require.NoError(t, err)
	require.Len(t, alts, 1)
	assert.Equal(t, "template-alt", alts[0].ID)

	degraded.Store(false)
	steps, err = g.GeneratePlan(ctx, intent, 0)
	require.NoError(t, err)
	assert.Equal(t, "llm", steps[0].ID)
}

func TestGatedPlannerRejectsNilDependencies(t *testing.T) {
	_, err := NewGatedPlanner(nil, namedPlanner{"template"},
		func() bool { return false }, zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = NewGatedPlanner(namedPlanner{"llm"}, namedPlanner{"template"},
		nil, zaptest.NewLogger(t))
	assert.Error(t, err)
}
