// File: internal/session/manager.go
// Description: Owns the lifecycle of guided sessions from creation to a
// terminal state and drives per-step execution through the engine.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cicerone-dev/cicerone/api/schemas"
	"github.com/cicerone-dev/cicerone/internal/engine"
	"github.com/cicerone-dev/cicerone/internal/events"
	"github.com/cicerone-dev/cicerone/internal/observability"
	"github.com/cicerone-dev/cicerone/internal/store"
)

// Manager owns session state. Each session's step execution is serialized by
// a per-session lock; lifecycle reads and writes go through the store.
type Manager struct {
	sessions store.SessionStore
	history  store.HistoryStore
	recovery store.RecoveryStore
	engine   *engine.Engine
	planner  schemas.PlanGenerator
	adapter  schemas.StepAdapter
	bus      *events.Bus
	logger   *zap.Logger

	maxRetries int

	// Per-session execution locks so two executeNextStep calls for the same
	// session can never interleave.
	locks sync.Map

	// Terminal snapshots retained after a session leaves the active set,
	// consumed exactly once via TakeFinished.
	finished sync.Map
}

// NewManager creates the session manager.
func NewManager(
	sessions store.SessionStore,
	history store.HistoryStore,
	recovery store.RecoveryStore,
	eng *engine.Engine,
	planner schemas.PlanGenerator,
	adapter schemas.StepAdapter,
	bus *events.Bus,
	logger *zap.Logger,
	maxRetries int,
) (*Manager, error) {
	if sessions == nil || history == nil || eng == nil || planner == nil || bus == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize session manager with nil dependencies")
	}
	if recovery == nil {
		recovery = store.NopRecoveryStore{}
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Manager{
		sessions:   sessions,
		history:    history,
		recovery:   recovery,
		engine:     eng,
		planner:    planner,
		adapter:    adapter,
		bus:        bus,
		logger:     logger.Named("session_manager"),
		maxRetries: maxRetries,
	}, nil
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	l, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// PrimaryTool returns the tool referenced by the plurality of steps, ties
// broken by first-seen order. Used to decide which external target to
// initialize up front.
func PrimaryTool(steps []schemas.Step) string {
	counts := make(map[string]int)
	var order []string
	for _, s := range steps {
		if s.Tool == "" {
			continue
		}
		if _, seen := counts[s.Tool]; !seen {
			order = append(order, s.Tool)
		}
		counts[s.Tool]++
	}
	best := ""
	bestCount := 0
	for _, tool := range order {
		if counts[tool] > bestCount {
			best = tool
			bestCount = counts[tool]
		}
	}
	return best
}

// Start obtains a plan for the intent, constructs the session and
// transitions it straight to ACTIVE.
func (m *Manager) Start(ctx context.Context, req schemas.GuidanceRequest, intent schemas.Intent) (*schemas.Session, error) {
	steps, err := m.planner.GeneratePlan(ctx, intent, req.TimeConstraint)
	if err != nil {
		return nil, fmt.Errorf("failed to generate plan: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("planner produced an empty plan for objective %q", intent.Objective)
	}

	now := time.Now().UTC()
	session := &schemas.Session{
		ID:               uuid.NewString(),
		OwnerID:          req.OwnerID,
		Objective:        intent.Objective,
		Status:           schemas.SessionActive,
		CurrentStepIndex: 0,
		Steps:            steps,
		Progress:         schemas.Progress{TotalSteps: len(steps)},
		Context: schemas.SessionContext{
			SkillLevel:       intent.SkillLevel,
			PrimaryTool:      PrimaryTool(steps),
			EnvironmentState: map[string]string{},
		},
		StartTime:    now,
		LastActivity: now,
	}

	if err := m.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	observability.RecordSessionStarted()
	m.publish(ctx, schemas.EventSessionStarted, session.ID, session.Objective)
	m.logger.Info("Session started",
		zap.String("session_id", session.ID),
		zap.String("owner_id", session.OwnerID),
		zap.Int("steps", len(steps)))
	return session, nil
}

// Get returns the session by id.
func (m *Manager) Get(ctx context.Context, id string) (*schemas.Session, error) {
	return m.sessions.Get(ctx, id)
}

// Outcomes returns the accumulated execution history for a session.
func (m *Manager) Outcomes(ctx context.Context, id string) ([]schemas.StepResult, error) {
	return m.history.Get(ctx, id)
}

// TakeFinished returns the terminal snapshot of a session that already left
// the active set and removes it, so each terminal session is handed out once.
// It returns nil when no snapshot is held.
func (m *Manager) TakeFinished(id string) *schemas.Session {
	v, ok := m.finished.LoadAndDelete(id)
	if !ok {
		return nil
	}
	return v.(*schemas.Session)
}

// Pause suspends an active session. The transition takes effect at the next
// step boundary; an in-flight step runs to completion first.
func (m *Manager) Pause(ctx context.Context, id string) (*schemas.Session, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.guarded(ctx, id, schemas.SessionActive)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	session.Status = schemas.SessionPaused
	session.PausedAt = &now
	session.LastActivity = now
	if err := m.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	m.publish(ctx, schemas.EventSessionPaused, id, nil)
	return session, nil
}

// Resume reactivates a paused session. The previous-steps context window is
// recomputed from the already-completed prefix so the engine never has to
// re-derive history after a pause/resume cycle.
func (m *Manager) Resume(ctx context.Context, id string) (*schemas.Session, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.guarded(ctx, id, schemas.SessionPaused)
	if err != nil {
		return nil, err
	}
	session.Status = schemas.SessionActive
	session.PausedAt = nil
	session.LastActivity = time.Now().UTC()
	session.Context.PreviousSteps = completedTitles(session)
	if session.Context.EnvironmentState == nil {
		session.Context.EnvironmentState = map[string]string{}
	}
	session.Context.EnvironmentState["resumed_at"] = session.LastActivity.Format(time.RFC3339)

	if err := m.sessions.Save(ctx, session); err != nil {
		return nil, err
	}
	m.publish(ctx, schemas.EventSessionResumed, id, nil)
	return session, nil
}

// Cancel terminates the session. Terminal states are final.
func (m *Manager) Cancel(ctx context.Context, id string) (*schemas.Session, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, schemas.ErrTerminalState
	}
	m.terminate(ctx, session, schemas.SessionCancelled, "cancelled by caller")
	m.publish(ctx, schemas.EventSessionCancelled, id, nil)
	return session, nil
}

// Fail transitions the session to FAILED. Used by the orchestrator when the
// session-level recovery budget is exhausted.
func (m *Manager) Fail(ctx context.Context, id, reason string) (*schemas.Session, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, schemas.ErrTerminalState
	}
	session.FailureReason = reason
	m.terminate(ctx, session, schemas.SessionFailed, reason)
	m.publish(ctx, schemas.EventSessionFailed, id, reason)
	return session, nil
}

// Complete explicitly finishes an active session.
func (m *Manager) Complete(ctx context.Context, id string) (*schemas.Session, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.guarded(ctx, id, schemas.SessionActive)
	if err != nil {
		return nil, err
	}
	m.complete(ctx, session)
	return session, nil
}

// ExecuteNextStep adapts the current step for accumulated progress, runs it
// through the engine, records the outcome, and advances the step index if
// and only if the step succeeded. Reaching the end of the plan completes the
// session atomically with the final result being recorded.
func (m *Manager) ExecuteNextStep(ctx context.Context, id string) (schemas.StepResult, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.sessions.Get(ctx, id)
	if err != nil {
		return schemas.StepResult{}, err
	}
	if session.Status.Terminal() {
		return schemas.StepResult{}, schemas.ErrTerminalState
	}
	if session.Status != schemas.SessionActive {
		return schemas.StepResult{}, fmt.Errorf("%w: cannot execute step while %s", schemas.ErrInvalidTransition, session.Status)
	}
	if session.CurrentStepIndex >= len(session.Steps) {
		return schemas.StepResult{}, schemas.ErrNoStepsRemaining
	}

	step := m.adaptForProgress(ctx, session)

	result, err := m.engine.ExecuteStep(ctx, step, engine.ExecutionContext{
		SessionID:  session.ID,
		OwnerID:    session.OwnerID,
		MaxRetries: m.maxRetries,
	})
	if err != nil {
		return schemas.StepResult{}, err
	}

	m.record(ctx, session, step, result)
	return result, nil
}

// ReplaceCurrentStep substitutes the not-yet-executed current step in place
// (same index, new content). Already-executed steps are never rewritten.
func (m *Manager) ReplaceCurrentStep(ctx context.Context, id string, step schemas.Step) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return schemas.ErrTerminalState
	}
	if session.CurrentStepIndex >= len(session.Steps) {
		return schemas.ErrNoStepsRemaining
	}

	session.Steps[session.CurrentStepIndex] = step.Clone()
	session.Analytics.Adaptations++
	session.LastActivity = time.Now().UTC()
	if err := m.sessions.Save(ctx, session); err != nil {
		return err
	}
	m.publish(ctx, schemas.EventAdaptationApplied, id, step.Title)
	return nil
}

// AdjustPace scales the estimated durations of the remaining steps.
func (m *Manager) AdjustPace(ctx context.Context, id string, factor float64) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return schemas.ErrTerminalState
	}
	for i := session.CurrentStepIndex; i < len(session.Steps); i++ {
		session.Steps[i].EstimatedDuration = time.Duration(float64(session.Steps[i].EstimatedDuration) * factor)
	}
	session.LastActivity = time.Now().UTC()
	return m.sessions.Save(ctx, session)
}

// RecordFeedback folds a satisfaction score into the session analytics.
func (m *Manager) RecordFeedback(ctx context.Context, id string, satisfaction float64) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	n := float64(session.Analytics.FeedbackCount)
	session.Analytics.SatisfactionAvg = (session.Analytics.SatisfactionAvg*n + satisfaction) / (n + 1)
	session.Analytics.FeedbackCount++
	return m.sessions.Save(ctx, session)
}

// adaptForProgress clones the current step and, when an adapter is
// available and the user has history, tailors it to the completed prefix.
func (m *Manager) adaptForProgress(ctx context.Context, session *schemas.Session) schemas.Step {
	step := session.Steps[session.CurrentStepIndex].Clone()
	if m.adapter == nil || len(session.Context.PreviousSteps) == 0 {
		return step
	}

	reason := fmt.Sprintf("user has completed %d of %d steps (skill level %s)",
		session.CurrentStepIndex, len(session.Steps), session.Context.SkillLevel)
	adapted, err := m.adapter.AdaptStep(ctx, step, reason)
	if err != nil {
		m.logger.Debug("Progress adaptation failed, using step as planned",
			zap.String("session_id", session.ID), zap.Error(err))
		return step
	}
	return adapted
}

// record commits a step result to the session: analytics, progress, index
// advancement, and the automatic completion transition.
func (m *Manager) record(ctx context.Context, session *schemas.Session, step schemas.Step, result schemas.StepResult) {
	session.Analytics.TotalAttempts += result.Attempts
	if result.Attempts > 1 {
		session.Analytics.Retries += result.Attempts - 1
	}
	session.Analytics.Adaptations += len(result.Adaptations)
	session.Analytics.ProficiencyTotal += result.Outcome.ProficiencyDelta
	session.LastActivity = time.Now().UTC()

	if result.Status == schemas.StepCompleted {
		session.Context.PreviousSteps = append(session.Context.PreviousSteps, step.Title)
		session.CurrentStepIndex++
		session.Progress.CompletedSteps = session.CurrentStepIndex
		session.Progress.Percent = 100.0 * float64(session.CurrentStepIndex) / float64(len(session.Steps))

		// Reaching the end of the plan is the only automatic completion
		// trigger, and it happens in the same commit as the final result.
		if session.CurrentStepIndex == len(session.Steps) && session.Status == schemas.SessionActive {
			m.complete(ctx, session)
			return
		}
	} else {
		session.Analytics.Failures++
	}

	if err := m.sessions.Save(ctx, session); err != nil {
		m.logger.Error("Failed to persist session after step",
			zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (m *Manager) complete(ctx context.Context, session *schemas.Session) {
	m.terminate(ctx, session, schemas.SessionCompleted, "")
	m.publish(ctx, schemas.EventSessionCompleted, session.ID, session.Analytics)
	m.logger.Info("Session completed",
		zap.String("session_id", session.ID),
		zap.Int("proficiency_total", session.Analytics.ProficiencyTotal))
}

// terminate moves the session to a terminal status, archives it in the
// recovery store and removes it from the active set.
func (m *Manager) terminate(ctx context.Context, session *schemas.Session, status schemas.SessionStatus, reason string) {
	now := time.Now().UTC()
	session.Status = status
	session.CompletedAt = &now
	session.LastActivity = now

	history, err := m.history.Get(ctx, session.ID)
	if err != nil {
		m.logger.Warn("Could not load history for archive",
			zap.String("session_id", session.ID), zap.Error(err))
	}
	if err := m.recovery.Archive(ctx, session, history); err != nil {
		m.logger.Error("Failed to archive session",
			zap.String("session_id", session.ID), zap.Error(err))
	}
	if err := m.sessions.Save(ctx, session); err == nil {
		if err := m.sessions.Delete(ctx, session.ID); err != nil {
			m.logger.Warn("Failed to remove session from active set",
				zap.String("session_id", session.ID), zap.Error(err))
		}
	}
	m.locks.Delete(session.ID)
	m.finished.Store(session.ID, session)

	observability.RecordSessionFinished(string(status))
	if reason != "" {
		m.logger.Info("Session terminated",
			zap.String("session_id", session.ID),
			zap.String("status", string(status)),
			zap.String("reason", reason))
	}
}

func (m *Manager) guarded(ctx context.Context, id string, want schemas.SessionStatus) (*schemas.Session, error) {
	session, err := m.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, schemas.ErrTerminalState
	}
	if session.Status != want {
		return nil, fmt.Errorf("%w: session is %s, expected %s", schemas.ErrInvalidTransition, session.Status, want)
	}
	return session, nil
}

func (m *Manager) publish(ctx context.Context, t schemas.EventType, sessionID string, payload interface{}) {
	if err := m.bus.Publish(ctx, schemas.Event{Type: t, SessionID: sessionID, Payload: payload}); err != nil {
		m.logger.Debug("Failed to publish session event", zap.Error(err))
	}
}

func completedTitles(session *schemas.Session) []string {
	titles := make([]string, 0, session.CurrentStepIndex)
	for i := 0; i < session.CurrentStepIndex && i < len(session.Steps); i++ {
		titles = append(titles, session.Steps[i].Title)
	}
	return titles
}
