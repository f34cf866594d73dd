// File: internal/orchestrator/feedback_test.go
package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cicerone-dev/cicerone/api/schemas"
	"github.com/cicerone-dev/cicerone/internal/config"
)

func TestScoreSatisfaction(t *testing.T) {
	cases := []struct {
		name string
		fb   schemas.Feedback
		want float64
	}{
		{"neutral", schemas.Feedback{}, 0.5},
		{"helpful", schemas.Feedback{Helpful: true}, 0.8},
		{"confusing", schemas.Feedback{Confusing: true}, 0.2},
		{"too fast", schemas.Feedback{TooFast: true}, 0.3},
		{"too slow", schemas.Feedback{TooSlow: true}, 0.3},
		{"too hard", schemas.Feedback{TooHard: true}, 0.4},
		{"helpful but fast", schemas.Feedback{Helpful: true, TooFast: true}, 0.6},
		{"clamped at zero", schemas.Feedback{Confusing: true, TooFast: true, TooHard: true}, 0.0},
		{"pace counted once", schemas.Feedback{TooFast: true, TooSlow: true}, 0.3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, ScoreSatisfaction(tc.fb), 1e-9)
		})
	}
}

func startFixtureSession(t *testing.T, f *fixture) string {
	t.Helper()
	sess, err := f.sessions.Start(context.Background(),
		schemas.GuidanceRequest{ID: "req-fb", OwnerID: "u1", RawInput: "task"},
		schemas.Intent{Objective: "task", Tool: "web", SkillLevel: "beginner"})
	require.NoError(t, err)
	return sess.ID
}

func TestHandleFeedbackSatisfiedDoesNothing(t *testing.T) {
	f := newFixture(t, config.OrchestratorConfig{SatisfactionThreshold: 0.4})
	id := startFixtureSession(t, f)

	action, err := f.orch.HandleFeedback(context.Background(), schemas.Feedback{SessionID: id, Helpful: true})
	require.NoError(t, err)
	assert.Equal(t, ActionNone, action)

	got, err := f.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Analytics.FeedbackCount)
	assert.InDelta(t, 0.8, got.Analytics.SatisfactionAvg, 1e-9)
}

func TestHandleFeedbackTooFastSlowsThePace(t *testing.T) {
	f := newFixture(t, config.OrchestratorConfig{SatisfactionThreshold: 0.4})
	id := startFixtureSession(t, f)

	action, err := f.orch.HandleFeedback(context.Background(), schemas.Feedback{SessionID: id, TooFast: true})
	require.NoError(t, err)
	assert.Equal(t, ActionAdjustPace, action)

	got, err := f.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, got.Steps[0].EstimatedDuration)
}

func TestHandleFeedbackTooSlowSpeedsUp(t *testing.T) {
	f := newFixture(t, config.OrchestratorConfig{SatisfactionThreshold: 0.4})
	id := startFixtureSession(t, f)

	action, err := f.orch.HandleFeedback(context.Background(), schemas.Feedback{SessionID: id, TooSlow: true})
	require.NoError(t, err)
	assert.Equal(t, ActionAdjustPace, action)

	got, err := f.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 42*time.Second, got.Steps[0].EstimatedDuration)
}

func TestHandleFeedbackConfusingRegeneratesTheCurrentStep(t *testing.T) {
	f := newFixture(t, config.OrchestratorConfig{SatisfactionThreshold: 0.4})
	f.planner.alternatives = []schemas.Step{{
		ID:                 "alt",
		Title:              "gentler approach",
		Tool:               "web",
		RequiredCapability: "web",
		Validation:         schemas.ValidationCriteria{SuccessThreshold: 80},
	}}
	id := startFixtureSession(t, f)

	originalStepID := func() string {
		sess, err := f.sessions.Get(context.Background(), id)
		require.NoError(t, err)
		return sess.Steps[0].ID
	}()

	action, err := f.orch.HandleFeedback(context.Background(), schemas.Feedback{SessionID: id, Confusing: true})
	require.NoError(t, err)
	assert.Equal(t, ActionChangeApproach, action)

	got, err := f.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	// The substitute keeps the plan position and identity.
	assert.Equal(t, "gentler approach", got.Steps[0].Title)
	assert.Equal(t, originalStepID, got.Steps[0].ID)
	assert.Equal(t, 1, got.Analytics.Adaptations)
}

func TestHandleFeedbackFallsBackToHelp(t *testing.T) {
	f := newFixture(t, config.OrchestratorConfig{SatisfactionThreshold: 0.45})
	id := startFixtureSession(t, f)
	help := collect(t, f.bus, schemas.EventHelpRequested)

	// TooEasy scores 0.4: below the raised threshold, but neither a pace nor
	// a comprehension complaint.
	action, err := f.orch.HandleFeedback(context.Background(), schemas.Feedback{SessionID: id, TooEasy: true})
	require.NoError(t, err)
	assert.Equal(t, ActionProvideHelp, action)

	require.Eventually(t, func() bool { return len(help()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandleFeedbackUnknownSession(t *testing.T) {
	f := newFixture(t, config.OrchestratorConfig{})
	_, err := f.orch.HandleFeedback(context.Background(), schemas.Feedback{SessionID: "nope", Confusing: true})
	assert.ErrorIs(t, err, schemas.ErrSessionNotFound)
}
