// File: internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cicerone-dev/cicerone/api/schemas"
	"github.com/cicerone-dev/cicerone/internal/config"
	"github.com/cicerone-dev/cicerone/internal/engine"
	"github.com/cicerone-dev/cicerone/internal/events"
	"github.com/cicerone-dev/cicerone/internal/session"
	"github.com/cicerone-dev/cicerone/internal/store"
)

// --- Mocks ---

type passthroughIntent struct{}

func (passthroughIntent) ExtractIntent(ctx context.Context, req schemas.GuidanceRequest) (schemas.Intent, error) {
	return schemas.Intent{Objective: req.RawInput, Tool: "web", SkillLevel: "beginner"}, nil
}

type stubPlanner struct {
	mu           sync.Mutex
	stepCount    int
	alternatives []schemas.Step
}

func (p *stubPlanner) GeneratePlan(ctx context.Context, intent schemas.Intent, timeConstraint time.Duration) ([]schemas.Step, error) {
	steps := make([]schemas.Step, 0, p.stepCount)
	for i := 0; i < p.stepCount; i++ {
		steps = append(steps, schemas.Step{
			ID:                 "step-" + string(rune('a'+i)),
			Title:              "step " + string(rune('A'+i)),
			Tool:               "web",
			RequiredCapability: "web",
			Actions: []schemas.Action{
				{ID: "act", Type: schemas.ActionObserve, Selector: "body"},
			},
			Validation:        schemas.ValidationCriteria{SuccessThreshold: 80},
			EstimatedDuration: time.Minute,
		})
	}
	return steps, nil
}

func (p *stubPlanner) GenerateAlternativeSteps(ctx context.Context, objectives []string, capability, failureReason string) ([]schemas.Step, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alternatives, nil
}

// gateExecutor blocks every action until released, then succeeds or fails
// according to the failing switch.
type gateExecutor struct {
	mu      sync.Mutex
	gate    chan struct{} // nil means no gating
	failing bool
}

func (g *gateExecutor) setFailing(failing bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failing = failing
}

func (g *gateExecutor) PerformAction(ctx context.Context, action schemas.Action) (schemas.ActionResult, error) {
	g.mu.Lock()
	gate := g.gate
	failing := g.failing
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return schemas.ActionResult{ActionID: action.ID}, ctx.Err()
		}
	}
	if failing {
		return schemas.ActionResult{
			ActionID:  action.ID,
			Success:   false,
			ErrorType: schemas.ErrTypeTimeout,
			Error:     "simulated timeout",
		}, nil
	}
	return schemas.ActionResult{ActionID: action.ID, Success: true, ElementFound: true}, nil
}

func (g *gateExecutor) EnsureReady(ctx context.Context, capability string) error { return nil }

type fixture struct {
	orch     *Orchestrator
	sessions *session.Manager
	bus      *events.Bus
	planner  *stubPlanner
	exec     *gateExecutor
}

func newFixture(t *testing.T, cfg config.OrchestratorConfig) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger, 64)
	t.Cleanup(bus.Shutdown)

	exec := &gateExecutor{}
	history := store.NewMemoryHistoryStore()
	eng, err := engine.New(exec, exec, history, bus, logger, engine.Options{})
	require.NoError(t, err)

	planner := &stubPlanner{stepCount: 2}
	sessions, err := session.NewManager(store.NewMemorySessionStore(), history, nil,
		eng, planner, nil, bus, logger, 0)
	require.NoError(t, err)

	orch, err := New(cfg, sessions, passthroughIntent{}, planner, nil, exec, nil, bus, logger)
	require.NoError(t, err)
	return &fixture{orch: orch, sessions: sessions, bus: bus, planner: planner, exec: exec}
}

// deniedGate blocks exactly the listed features.
type deniedGate map[string]bool

func (g deniedGate) IsFeatureAvailable(feature string) bool { return !g[feature] }

// collect drains bus events of the given types into a slice until the
// returned stop function is called.
func collect(t *testing.T, bus *events.Bus, types ...schemas.EventType) func() []schemas.Event {
	t.Helper()
	ch := bus.Subscribe(types...)
	var mu sync.Mutex
	var got []schemas.Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range ch {
			mu.Lock()
			got = append(got, evt)
			mu.Unlock()
			bus.Acknowledge(evt)
		}
	}()
	return func() []schemas.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]schemas.Event(nil), got...)
	}
}

// --- Tests ---

func TestProcessRequestRunsToCompletion(t *testing.T) {
	f := newFixture(t, config.OrchestratorConfig{
		MaxConcurrentSessions: 2,
		RecoveryAttemptBudget: 5,
		PausePollInterval:     10 * time.Millisecond,
	})
	completed := collect(t, f.bus, schemas.EventSessionCompleted)

	final, err := f.orch.ProcessRequest(context.Background(),
		schemas.GuidanceRequest{ID: "req-1", OwnerID: "u1", RawInput: "create a repository"})
	require.NoError(t, err)

	// The caller gets the terminal session back, not just the side effects.
	require.NotNil(t, final)
	assert.Equal(t, schemas.SessionCompleted, final.Status)
	assert.Equal(t, 2, final.Progress.CompletedSteps)
	assert.Equal(t, 100.0, final.Progress.Percent)

	require.Eventually(t, func() bool { return len(completed()) == 1 }, 2*time.Second, 10*time.Millisecond)
	sessionID := completed()[0].SessionID
	assert.Equal(t, final.ID, sessionID)

	outcomes, err := f.sessions.Outcomes(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, schemas.StepCompleted, o.Status)
	}

	// The pipeline record is gone once the request settles.
	_, err = f.orch.PipelineStatus(sessionID)
	assert.ErrorIs(t, err, schemas.ErrPipelineNotFound)
	_, err = f.orch.PipelineStatus("req-1")
	assert.ErrorIs(t, err, schemas.ErrPipelineNotFound)
}

func TestProcessRequestFailsFastAtCapacity(t *testing.T) {
	f := newFixture(t, config.OrchestratorConfig{
		MaxConcurrentSessions: 1,
		RecoveryAttemptBudget: 5,
		PausePollInterval:     10 * time.Millisecond,
	})
	gate := make(chan struct{})
	f.exec.gate = gate

	started := collect(t, f.bus, schemas.EventSessionStarted)

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.orch.ProcessRequest(context.Background(),
			schemas.GuidanceRequest{ID: "req-long", OwnerID: "u1", RawInput: "long task"})
		firstDone <- err
	}()

	// Wait until the first request holds its slot and is executing.
	require.Eventually(t, func() bool { return len(started()) == 1 }, 2*time.Second, 10*time.Millisecond)

	// The second request is rejected synchronously; no session is created.
	_, err := f.orch.ProcessRequest(context.Background(),
		schemas.GuidanceRequest{ID: "req-2", OwnerID: "u2", RawInput: "another task"})
	assert.ErrorIs(t, err, schemas.ErrCapacityExceeded)
	assert.Len(t, started(), 1)

	close(gate)
	require.NoError(t, <-firstDone)
}

func TestRecoveryBudgetExhaustionFailsTheSession(t *testing.T) {
	f := newFixture(t, config.OrchestratorConfig{
		MaxConcurrentSessions: 1,
		RecoveryAttemptBudget: 2,
		PausePollInterval:     10 * time.Millisecond,
	})
	f.exec.setFailing(true)
	failed := collect(t, f.bus, schemas.EventSessionFailed)

	final, err := f.orch.ProcessRequest(context.Background(),
		schemas.GuidanceRequest{ID: "req-1", OwnerID: "u1", RawInput: "doomed task"})
	require.NoError(t, err)

	require.NotNil(t, final)
	assert.Equal(t, schemas.SessionFailed, final.Status)
	assert.Equal(t, "recovery attempt budget exhausted", final.FailureReason)

	require.Eventually(t, func() bool { return len(failed()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "recovery attempt budget exhausted", failed()[0].Payload)
}

func TestDegradedLevelBlocksGatedFeatures(t *testing.T) {
	f := newFixture(t, config.OrchestratorConfig{
		MaxConcurrentSessions: 1,
		RecoveryAttemptBudget: 5,
		PausePollInterval:     10 * time.Millisecond,
	})
	logger := zaptest.NewLogger(t)
	gated, err := New(config.OrchestratorConfig{MaxConcurrentSessions: 1},
		f.sessions, passthroughIntent{}, f.planner, nil, f.exec,
		deniedGate{"guided_sessions": true, "feedback": true}, f.bus, logger)
	require.NoError(t, err)

	started := collect(t, f.bus, schemas.EventSessionStarted)

	_, err = gated.ProcessRequest(context.Background(),
		schemas.GuidanceRequest{ID: "req-1", OwnerID: "u1", RawInput: "create a repository"})
	assert.ErrorIs(t, err, schemas.ErrFeatureUnavailable)
	assert.Empty(t, started(), "no session may be admitted while guided sessions are gated off")

	_, err = gated.HandleFeedback(context.Background(), schemas.Feedback{SessionID: "s1", Helpful: true})
	assert.ErrorIs(t, err, schemas.ErrFeatureUnavailable)
}

func TestProcessRequestRejectsEmptyInput(t *testing.T) {
	f := newFixture(t, config.OrchestratorConfig{MaxConcurrentSessions: 1})
	_, err := f.orch.ProcessRequest(context.Background(),
		schemas.GuidanceRequest{ID: "req-1", OwnerID: "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no input")
}
