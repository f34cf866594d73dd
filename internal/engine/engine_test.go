// File: internal/engine/engine_test.go
package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cicerone-dev/cicerone/api/schemas"
	"github.com/cicerone-dev/cicerone/internal/events"
	"github.com/cicerone-dev/cicerone/internal/store"
)

// --- Mocks ---

// scriptedExecutor returns canned results per action id. Results queue per
// action: successive calls for the same action pop the next entry, the last
// entry repeats.
type scriptedExecutor struct {
	mu      sync.Mutex
	scripts map[string][]schemas.ActionResult
	errs    map[string]error
	calls   []string
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{
		scripts: make(map[string][]schemas.ActionResult),
		errs:    make(map[string]error),
	}
}

func (s *scriptedExecutor) on(actionID string, results ...schemas.ActionResult) {
	s.scripts[actionID] = results
}

func (s *scriptedExecutor) PerformAction(ctx context.Context, action schemas.Action) (schemas.ActionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, action.ID)

	if err, ok := s.errs[action.ID]; ok {
		return schemas.ActionResult{ActionID: action.ID}, err
	}
	queue, ok := s.scripts[action.ID]
	if !ok || len(queue) == 0 {
		return schemas.ActionResult{ActionID: action.ID, Success: true, ElementFound: true}, nil
	}
	res := queue[0]
	if len(queue) > 1 {
		s.scripts[action.ID] = queue[1:]
	}
	res.ActionID = action.ID
	return res, nil
}

func (s *scriptedExecutor) callCount(actionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.calls {
		if id == actionID {
			n++
		}
	}
	return n
}

type stubNavigator struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (n *stubNavigator) EnsureReady(ctx context.Context, capability string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return n.err
}

type stubChecker struct {
	mu   sync.Mutex
	pass map[string]bool
}

func (c *stubChecker) CheckRule(ctx context.Context, rule schemas.Rule) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pass[rule.Selector], nil
}

type stubAdapter struct {
	mu    sync.Mutex
	calls int
	err   error
	// rewrite transforms the step; defaults to changing the first selector.
	rewrite func(schemas.Step) schemas.Step
}

func (a *stubAdapter) AdaptStep(ctx context.Context, step schemas.Step, reason string) (schemas.Step, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.err != nil {
		return schemas.Step{}, a.err
	}
	adapted := step.Clone()
	if a.rewrite != nil {
		adapted = a.rewrite(adapted)
	}
	return adapted, nil
}

type stubPlanner struct {
	mu           sync.Mutex
	alternatives []schemas.Step
	err          error
	calls        int
}

func (p *stubPlanner) GeneratePlan(ctx context.Context, intent schemas.Intent, timeConstraint time.Duration) ([]schemas.Step, error) {
	return nil, errors.New("not used")
}

func (p *stubPlanner) GenerateAlternativeSteps(ctx context.Context, objectives []string, capability, failureReason string) ([]schemas.Step, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.alternatives, p.err
}

// --- Helpers ---

func newTestEngine(t *testing.T, exec schemas.ActionExecutor, nav schemas.Navigator, opts Options) (*Engine, store.HistoryStore) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger, 16)
	t.Cleanup(bus.Shutdown)
	history := store.NewMemoryHistoryStore()

	eng, err := New(exec, nav, history, bus, logger, opts)
	require.NoError(t, err)
	return eng, history
}

func testStep(threshold float64, actions ...schemas.Action) schemas.Step {
	return schemas.Step{
		ID:                 "step-1",
		Title:              "test step",
		RequiredCapability: "web",
		Actions:            actions,
		Validation:         schemas.ValidationCriteria{SuccessThreshold: threshold},
	}
}

func failedAction(errType schemas.ActionErrorType, msg string) schemas.ActionResult {
	return schemas.ActionResult{Success: false, ErrorType: errType, Error: msg}
}

func okAction() schemas.ActionResult {
	return schemas.ActionResult{Success: true, ElementFound: true}
}

// --- Tests ---

func TestExecuteStepSuccess(t *testing.T) {
	exec := newScriptedExecutor()
	eng, history := newTestEngine(t, exec, &stubNavigator{}, Options{})

	step := testStep(80,
		schemas.Action{ID: "a1", Type: schemas.ActionNavigate, Value: "https://example.com"},
		schemas.Action{ID: "a2", Type: schemas.ActionClick, Selector: "#go"},
	)
	res, err := eng.ExecuteStep(context.Background(), step, ExecutionContext{SessionID: "s1", MaxRetries: 3})
	require.NoError(t, err)

	assert.Equal(t, schemas.StepCompleted, res.Status)
	assert.Equal(t, 100.0, res.Score)
	assert.Equal(t, schemas.ProficiencyGainSuccess, res.Outcome.ProficiencyDelta)
	assert.Equal(t, 1, res.Attempts)

	recorded, err := history.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, res.StepID, recorded[0].StepID)
}

func TestExecuteStepElementNotFoundAdaptsAndRetries(t *testing.T) {
	exec := newScriptedExecutor()
	// First attempt fails on the old selector, the adapted one succeeds.
	exec.on("a1",
		failedAction(schemas.ErrTypeElementNotFound, "element #old not found"),
		okAction(),
	)
	adapter := &stubAdapter{rewrite: func(s schemas.Step) schemas.Step {
		s.Actions[0].Selector = "#new"
		return s
	}}
	eng, _ := newTestEngine(t, exec, &stubNavigator{}, Options{StepAdapter: adapter})

	step := testStep(80, schemas.Action{ID: "a1", Type: schemas.ActionClick, Selector: "#old"})
	res, err := eng.ExecuteStep(context.Background(), step, ExecutionContext{SessionID: "s1", MaxRetries: 3})
	require.NoError(t, err)

	assert.Equal(t, schemas.StepCompleted, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, adapter.calls)
	assert.Contains(t, res.Adaptations, string(schemas.RecoveryAdapt))
	assert.Equal(t, schemas.ProficiencyGainSuccess, res.Outcome.ProficiencyDelta)
}

func TestExecuteStepZeroRetriesActionFailure(t *testing.T) {
	exec := newScriptedExecutor()
	exec.on("a1", failedAction(schemas.ErrTypeTimeout, "timeout waiting for page"))
	eng, _ := newTestEngine(t, exec, &stubNavigator{}, Options{})

	step := testStep(80, schemas.Action{ID: "a1", Type: schemas.ActionClick, Selector: "#x"})
	res, err := eng.ExecuteStep(context.Background(), step, ExecutionContext{SessionID: "s1", MaxRetries: 0})
	require.NoError(t, err)

	// Exactly one attempt ever runs; an action-level failure still credits
	// partial proficiency for the exposure.
	assert.Equal(t, schemas.StepFailed, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, exec.callCount("a1"))
	assert.Equal(t, schemas.ProficiencyGainPartial, res.Outcome.ProficiencyDelta)
}

func TestExecuteStepZeroRetriesExecutionError(t *testing.T) {
	exec := newScriptedExecutor()
	exec.errs["a1"] = errors.New("browser context lost: connection refused")
	eng, _ := newTestEngine(t, exec, &stubNavigator{}, Options{})

	step := testStep(80, schemas.Action{ID: "a1", Type: schemas.ActionClick, Selector: "#x"})
	res, err := eng.ExecuteStep(context.Background(), step, ExecutionContext{SessionID: "s1", MaxRetries: 0})
	require.NoError(t, err)

	assert.Equal(t, schemas.StepFailed, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, schemas.ProficiencyGainException, res.Outcome.ProficiencyDelta)
}

func TestExecuteStepAuthenticationRequiresManualIntervention(t *testing.T) {
	exec := newScriptedExecutor()
	exec.on("a1", failedAction(schemas.ErrTypeAuthentication, "session expired"))
	eng, _ := newTestEngine(t, exec, &stubNavigator{}, Options{})

	step := testStep(80, schemas.Action{ID: "a1", Type: schemas.ActionInputText, Selector: "#user"})
	res, err := eng.ExecuteStep(context.Background(), step, ExecutionContext{SessionID: "s1", MaxRetries: 3})
	require.NoError(t, err)

	// Manual intervention terminates the chain immediately with zero gain.
	assert.Equal(t, schemas.StepFailed, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, schemas.ProficiencyGainException, res.Outcome.ProficiencyDelta)
	assert.Contains(t, res.Note, "Sign in")
}

func TestExecuteStepCriticalActionShortCircuits(t *testing.T) {
	exec := newScriptedExecutor()
	exec.on("a1", failedAction(schemas.ErrTypeTimeout, "timeout"))
	eng, _ := newTestEngine(t, exec, &stubNavigator{}, Options{})

	step := testStep(80,
		schemas.Action{ID: "a1", Type: schemas.ActionClick, Selector: "#x"},
		schemas.Action{ID: "a2", Type: schemas.ActionObserve, Selector: "body"},
	)
	_, err := eng.ExecuteStep(context.Background(), step, ExecutionContext{SessionID: "s1", MaxRetries: 0})
	require.NoError(t, err)

	// The failed CLICK stops the attempt before the OBSERVE runs.
	assert.Equal(t, 1, exec.callCount("a1"))
	assert.Equal(t, 0, exec.callCount("a2"))
}

func TestExecuteStepNonCriticalFailureContinues(t *testing.T) {
	exec := newScriptedExecutor()
	exec.on("a1", failedAction(schemas.ErrTypeTimeout, "timeout"))
	eng, _ := newTestEngine(t, exec, &stubNavigator{}, Options{})

	step := testStep(80,
		schemas.Action{ID: "a1", Type: schemas.ActionObserve, Selector: "#gone"},
		schemas.Action{ID: "a2", Type: schemas.ActionObserve, Selector: "body"},
	)
	_, err := eng.ExecuteStep(context.Background(), step, ExecutionContext{SessionID: "s1", MaxRetries: 0})
	require.NoError(t, err)

	assert.Equal(t, 1, exec.callCount("a2"))
}

func TestExecuteStepValidationMissIsFinal(t *testing.T) {
	exec := newScriptedExecutor()
	checker := &stubChecker{pass: map[string]bool{"#present": true, "#missing": false}}
	eng, _ := newTestEngine(t, exec, &stubNavigator{}, Options{RuleChecker: checker})

	// Both actions succeed (action rate 100) but only one of two equally
	// weighted rules passes (rule rate 50): score 75 misses the 80 threshold.
	step := testStep(80,
		schemas.Action{ID: "a1", Type: schemas.ActionClick, Selector: "#go"},
		schemas.Action{ID: "a2", Type: schemas.ActionObserve, Selector: "body"},
	)
	step.Validation.Rules = []schemas.Rule{
		{Type: schemas.RuleExists, Selector: "#present", Weight: 1},
		{Type: schemas.RuleExists, Selector: "#missing", Weight: 1},
	}

	res, err := eng.ExecuteStep(context.Background(), step, ExecutionContext{SessionID: "s1", MaxRetries: 3})
	require.NoError(t, err)

	// A pure threshold miss does not retry: re-running identical actions
	// cannot change the validation outcome.
	assert.Equal(t, schemas.StepFailed, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 75.0, res.Score)
	assert.Equal(t, schemas.ProficiencyGainPartial, res.Outcome.ProficiencyDelta)
}

func TestExecuteStepAlternativeApproachSubstitutes(t *testing.T) {
	exec := newScriptedExecutor()
	exec.on("a1", failedAction(schemas.ErrTypePermission, "permission denied"))
	alt := schemas.Step{
		ID:                 "alt-id",
		Title:              "alternative",
		RequiredCapability: "web",
		Actions:            []schemas.Action{{ID: "b1", Type: schemas.ActionObserve, Selector: "body"}},
		Validation:         schemas.ValidationCriteria{SuccessThreshold: 80},
	}
	planner := &stubPlanner{alternatives: []schemas.Step{alt}}
	eng, _ := newTestEngine(t, exec, &stubNavigator{}, Options{PlanGenerator: planner})

	step := testStep(80, schemas.Action{ID: "a1", Type: schemas.ActionClick, Selector: "#x"})
	res, err := eng.ExecuteStep(context.Background(), step, ExecutionContext{SessionID: "s1", MaxRetries: 2})
	require.NoError(t, err)

	// The substitute succeeded and kept the original step identity.
	assert.Equal(t, schemas.StepCompleted, res.Status)
	assert.Equal(t, "step-1", res.StepID)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, planner.calls)
	assert.Contains(t, res.Adaptations, string(schemas.RecoveryAlternative))
	assert.Equal(t, 1, exec.callCount("b1"))
}

func TestExecuteStepSkipsWhenNoAlternativeExists(t *testing.T) {
	exec := newScriptedExecutor()
	exec.on("a1", failedAction(schemas.ErrTypeOther, "unexpected state"))
	planner := &stubPlanner{alternatives: nil}
	eng, _ := newTestEngine(t, exec, &stubNavigator{}, Options{PlanGenerator: planner})

	step := testStep(80, schemas.Action{ID: "a1", Type: schemas.ActionClick, Selector: "#x"})
	res, err := eng.ExecuteStep(context.Background(), step, ExecutionContext{SessionID: "s1", MaxRetries: 3})
	require.NoError(t, err)

	assert.Equal(t, schemas.StepFailed, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Contains(t, res.Note, "skipped")
}

func TestExecuteStepRetriesExhaustTheBudget(t *testing.T) {
	exec := newScriptedExecutor()
	exec.on("a1", failedAction(schemas.ErrTypeTimeout, "timeout")) // repeats forever
	eng, _ := newTestEngine(t, exec, &stubNavigator{}, Options{})

	step := testStep(80, schemas.Action{ID: "a1", Type: schemas.ActionClick, Selector: "#x"})
	res, err := eng.ExecuteStep(context.Background(), step, ExecutionContext{SessionID: "s1", MaxRetries: 2})
	require.NoError(t, err)

	assert.Equal(t, schemas.StepFailed, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, exec.callCount("a1"))
	assert.Contains(t, res.Note, "retries exhausted")
}

func TestExecuteStepNavigatorFailureAbortsWithoutRetry(t *testing.T) {
	exec := newScriptedExecutor()
	nav := &stubNavigator{err: errors.New("browser unavailable")}
	eng, _ := newTestEngine(t, exec, nav, Options{})

	step := testStep(80, schemas.Action{ID: "a1", Type: schemas.ActionClick, Selector: "#x"})
	res, err := eng.ExecuteStep(context.Background(), step, ExecutionContext{SessionID: "s1", MaxRetries: 3})
	require.NoError(t, err)

	assert.Equal(t, schemas.StepFailed, res.Status)
	assert.Equal(t, schemas.ProficiencyGainException, res.Outcome.ProficiencyDelta)
	assert.Equal(t, 0, exec.callCount("a1"))
	assert.Equal(t, 1, nav.calls)
}

func TestClassifyMessage(t *testing.T) {
	cases := []struct {
		msg  string
		want schemas.ActionErrorType
	}{
		{"element #x not found", schemas.ErrTypeElementNotFound},
		{"waiting for selector timed out: node missing", schemas.ErrTypeElementNotFound},
		{"request timeout after 30s", schemas.ErrTypeTimeout},
		{"connection reset by peer", schemas.ErrTypeTimeout},
		{"authentication required", schemas.ErrTypeAuthentication},
		{"session expired, please login", schemas.ErrTypeAuthentication},
		{"something odd happened", schemas.ErrTypeOther},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			assert.Equal(t, tc.want, classifyMessage(tc.msg))
		})
	}
}

func TestScoreStepCountsSkippedActionsAgainst(t *testing.T) {
	exec := newScriptedExecutor()
	eng, _ := newTestEngine(t, exec, &stubNavigator{}, Options{})

	step := testStep(50,
		schemas.Action{ID: "a1", Type: schemas.ActionClick},
		schemas.Action{ID: "a2", Type: schemas.ActionObserve},
		schemas.Action{ID: "a3", Type: schemas.ActionObserve},
	)
	// Only the first action ran and failed; the short-circuited rest count
	// as failures too.
	results := []schemas.ActionResult{{ActionID: "a1", Success: false}}
	score := eng.scoreStep(context.Background(), step, results)
	assert.Equal(t, 0.0, score)

	results = append(results, schemas.ActionResult{ActionID: "a2", Success: true})
	score = eng.scoreStep(context.Background(), step, results)
	assert.InDelta(t, 33.3, score, 0.1)
}

func TestDryRunExecutor(t *testing.T) {
	d := DryRunExecutor{}

	res, err := d.PerformAction(context.Background(), schemas.Action{ID: "a1", Type: schemas.ActionClick})
	require.NoError(t, err)
	assert.True(t, res.Success)

	ok, err := d.CheckRule(context.Background(), schemas.Rule{Type: schemas.RuleExists})
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, d.EnsureReady(context.Background(), "web"))
}
