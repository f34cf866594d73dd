// File: internal/degradation/manager.go
// Description: Health monitor and graceful degradation controller. Probes
// component health on a fixed interval, evaluates degradation strategies as
// a level-triggered control loop, and gates features off the computed
// overall level.
package degradation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cicerone-dev/cicerone/api/schemas"
	"github.com/cicerone-dev/cicerone/internal/config"
	"github.com/cicerone-dev/cicerone/internal/events"
	"github.com/cicerone-dev/cicerone/internal/observability"
)

// ProbeResult is the outcome of one health probe.
type ProbeResult struct {
	OK      bool
	Latency time.Duration
	Err     error
}

// ProbeFunc performs one real health measurement for a component.
type ProbeFunc func(ctx context.Context) ProbeResult

// Availability and error-rate smoothing factor for successive probes.
const healthSmoothing = 0.2

type componentState struct {
	health    schemas.ComponentHealth
	probe     ProbeFunc
	errorRate float64
	// manual marks a component whose level was set by override; the polling
	// loop leaves its level alone until it is restored.
	manual bool
}

// Manager is the process-wide degradation singleton. Component health and
// the strategy registry are mutated only by the polling loop or by the
// manual override calls.
type Manager struct {
	cfg     config.DegradationConfig
	bus     *events.Bus
	logger  *zap.Logger
	limiter *rate.Limiter

	mu         sync.RWMutex
	components map[string]*componentState
	order      []string
	strategies []*Strategy
	// active maps strategy name to the index of the fallback that succeeded,
	// so rollback undoes exactly what was applied.
	active map[string]int
	// holdSince tracks when each trigger condition started holding
	// continuously, keyed by strategy name and trigger index. Entries are
	// dropped the moment the condition clears.
	holdSince map[string]time.Time
	overall   schemas.DegradationLevel
}

// NewManager builds the manager with the given component registry and
// strategies. Components and strategies are fixed for the process lifetime.
func NewManager(
	cfg config.DegradationConfig,
	components []Component,
	strategies []*Strategy,
	bus *events.Bus,
	logger *zap.Logger,
) (*Manager, error) {
	if bus == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize degradation manager with nil dependencies")
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.ProbesPerSec <= 0 {
		cfg.ProbesPerSec = 4
	}

	m := &Manager{
		cfg:        cfg,
		bus:        bus,
		logger:     logger.Named("degradation"),
		limiter:    rate.NewLimiter(rate.Limit(cfg.ProbesPerSec), 1),
		components: make(map[string]*componentState),
		active:     make(map[string]int),
		holdSince:  make(map[string]time.Time),
		strategies: strategies,
		overall:    schemas.FullFunctionality,
	}

	for _, c := range components {
		probe := c.Probe
		if probe == nil {
			probe = alwaysHealthy
		}
		m.components[c.Name] = &componentState{
			health: schemas.ComponentHealth{
				Component:          c.Name,
				Status:             schemas.HealthUnknown,
				Availability:       1.0,
				DegradationLevel:   schemas.FullFunctionality,
				FallbacksAvailable: c.Fallbacks,
				Criticality:        c.Criticality,
			},
			probe: probe,
		}
		m.order = append(m.order, c.Name)
	}
	return m, nil
}

// Run drives the health-check loop until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("Health monitor started",
		zap.Duration("interval", m.cfg.CheckInterval),
		zap.Int("components", len(m.order)))

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	// One immediate pass so the system has health data before the first tick.
	m.CheckNow(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health monitor stopped")
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// CheckNow performs one full health-check cycle: probe every component,
// evaluate every enabled strategy against the fresh values, and recompute
// the overall level. Probe errors are isolated per component; one failing
// check never blocks the rest of the cycle.
func (m *Manager) CheckNow(ctx context.Context) {
	for _, name := range m.order {
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}
		m.checkComponent(ctx, name)
	}

	m.mu.Lock()
	for _, s := range m.strategies {
		if !s.Enabled {
			continue
		}
		m.evaluateStrategyLocked(ctx, s)
	}
	m.recomputeOverallLocked(ctx, "health check cycle")
	m.mu.Unlock()
}

func (m *Manager) checkComponent(ctx context.Context, name string) {
	m.mu.RLock()
	state := m.components[name]
	m.mu.RUnlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	res := runProbe(probeCtx, state.probe)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	h := &state.health
	h.LastChecked = time.Now().UTC()
	h.ResponseTime = res.Latency

	okValue := 1.0
	if !res.OK {
		okValue = 0.0
		h.ErrorCount++
		if res.Err != nil {
			m.logger.Warn("Component probe failed",
				zap.String("component", name), zap.Error(res.Err))
		}
	}
	h.Availability = (1-healthSmoothing)*h.Availability + healthSmoothing*okValue
	state.errorRate = (1-healthSmoothing)*state.errorRate + healthSmoothing*(1-okValue)

	h.Status = statusFor(h.Availability)
	if !state.manual {
		h.DegradationLevel = levelForStatus(h.Status)
	}

	observability.RecordComponentAvailability(name, h.Availability)
}

// runProbe shields the loop from a panicking probe implementation.
func runProbe(ctx context.Context, probe ProbeFunc) (res ProbeResult) {
	defer func() {
		if r := recover(); r != nil {
			res = ProbeResult{OK: false, Err: fmt.Errorf("probe panicked: %v", r)}
		}
	}()
	start := time.Now()
	res = probe(ctx)
	if res.Latency == 0 {
		res.Latency = time.Since(start)
	}
	return res
}

func statusFor(availability float64) schemas.HealthStatus {
	switch {
	case availability >= 0.9:
		return schemas.HealthHealthy
	case availability >= 0.7:
		return schemas.HealthDegraded
	case availability >= 0.4:
		return schemas.HealthFailing
	default:
		return schemas.HealthOffline
	}
}

func levelForStatus(status schemas.HealthStatus) schemas.DegradationLevel {
	switch status {
	case schemas.HealthHealthy, schemas.HealthUnknown:
		return schemas.FullFunctionality
	case schemas.HealthDegraded:
		return schemas.ReducedFunctionality
	case schemas.HealthFailing:
		return schemas.BasicFunctionality
	default:
		return schemas.OfflineMode
	}
}

// evaluateStrategyLocked applies the level-triggered rule: a trigger whose
// condition has held continuously for its window activates an inactive
// strategy; no condition holding deactivates an active one via its paired
// rollback immediately, no window required. Re-evaluating already-active
// strategies against recovered conditions is what drives automatic recovery.
func (m *Manager) evaluateStrategyLocked(ctx context.Context, s *Strategy) {
	state, ok := m.components[s.TargetComponent]
	if !ok {
		return
	}
	// Manual overrides freeze automatic evaluation for the component until
	// it is restored.
	if state.manual {
		return
	}

	holding, matured := m.strategyHolds(s, state, time.Now())

	appliedIdx, active := m.active[s.Name]

	switch {
	case matured && !active:
		for i, fb := range s.Fallbacks {
			if err := fb.apply(ctx); err != nil {
				m.logger.Warn("Fallback action failed, trying next",
					zap.String("strategy", s.Name),
					zap.String("fallback", fb.Name),
					zap.Error(err))
				continue
			}
			m.active[s.Name] = i
			m.logger.Info("Degradation strategy activated",
				zap.String("strategy", s.Name),
				zap.String("component", s.TargetComponent),
				zap.String("fallback", fb.Name))
			return
		}
		m.logger.Error("All fallback actions failed",
			zap.String("strategy", s.Name))

	case !holding && active:
		fb := s.Fallbacks[appliedIdx]
		if err := fb.rollback(ctx); err != nil {
			m.logger.Warn("Fallback rollback failed",
				zap.String("strategy", s.Name),
				zap.String("fallback", fb.Name),
				zap.Error(err))
			return
		}
		delete(m.active, s.Name)
		m.logger.Info("Degradation strategy deactivated",
			zap.String("strategy", s.Name),
			zap.String("component", s.TargetComponent))
	}
}

// strategyHolds evaluates a strategy's triggers. holding is true while any
// trigger condition is met; matured is true once a condition has been met
// continuously for that trigger's window, which is what arms activation. A
// zero window matures immediately.
func (m *Manager) strategyHolds(s *Strategy, state *componentState, now time.Time) (holding, matured bool) {
	for i, t := range s.Triggers {
		key := fmt.Sprintf("%s/%d", s.Name, i)
		if !triggerHolds(t, state) {
			delete(m.holdSince, key)
			continue
		}
		holding = true
		since, ok := m.holdSince[key]
		if !ok {
			since = now
			m.holdSince[key] = since
		}
		if now.Sub(since) >= t.Window {
			matured = true
		}
	}
	return holding, matured
}

func triggerHolds(t schemas.Trigger, state *componentState) bool {
	var value float64
	switch t.Metric {
	case schemas.MetricErrorRate:
		value = state.errorRate
	case schemas.MetricResponseTime:
		value = float64(state.health.ResponseTime.Milliseconds())
	case schemas.MetricAvailability:
		value = state.health.Availability
	default:
		return false
	}

	switch t.Operator {
	case schemas.OpGreaterThan:
		return value > t.Threshold
	case schemas.OpGreaterOrEq:
		return value >= t.Threshold
	case schemas.OpLessThan:
		return value < t.Threshold
	case schemas.OpLessOrEq:
		return value <= t.Threshold
	}
	return false
}

// recomputeOverallLocked sets the overall level to the worst component
// level and notifies exactly once per change.
func (m *Manager) recomputeOverallLocked(ctx context.Context, reason string) {
	worst := schemas.FullFunctionality
	for _, state := range m.components {
		if state.health.DegradationLevel > worst {
			worst = state.health.DegradationLevel
		}
	}

	if worst == m.overall {
		return
	}

	previous := m.overall
	m.overall = worst
	observability.RecordDegradationLevel(int(worst))
	m.logger.Warn("Overall degradation level changed",
		zap.String("previous", previous.String()),
		zap.String("current", worst.String()),
		zap.String("reason", reason))

	if err := m.bus.Publish(ctx, schemas.Event{
		Type: schemas.EventDegradationChanged,
		Payload: schemas.DegradationChange{
			Previous: previous,
			Current:  worst,
			Reason:   reason,
		},
	}); err != nil {
		m.logger.Debug("Failed to publish degradation event", zap.Error(err))
	}
}

// OverallLevel returns the current overall degradation level.
func (m *Manager) OverallLevel() schemas.DegradationLevel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overall
}

// IsFeatureAvailable gates a feature purely off the already-computed
// overall level. It never consults live health state, keeping checks cheap
// and consistent within a health-check cycle.
func (m *Manager) IsFeatureAvailable(feature string) bool {
	m.mu.RLock()
	level := m.overall
	m.mu.RUnlock()

	allowed, ok := featuresByLevel[level]
	if !ok {
		// Unknown level: only the minimal guarantee.
		return feature == FeatureBasicUI
	}
	if allowed == nil {
		return true
	}
	return allowed[feature]
}

// TriggerManualDegradation forces a component to the given level, bypassing
// trigger evaluation but reusing the same strategy activation machinery so
// manual and automatic state cannot desynchronize.
func (m *Manager) TriggerManualDegradation(ctx context.Context, component string, level schemas.DegradationLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.components[component]
	if !ok {
		return fmt.Errorf("unknown component %q", component)
	}

	state.manual = true
	state.health.DegradationLevel = level
	if level > schemas.FullFunctionality {
		state.health.Status = schemas.HealthDegraded
	}

	for _, s := range m.strategies {
		if !s.Enabled || s.TargetComponent != component {
			continue
		}
		if _, active := m.active[s.Name]; active {
			continue
		}
		for i, fb := range s.Fallbacks {
			if err := fb.apply(ctx); err != nil {
				continue
			}
			m.active[s.Name] = i
			break
		}
	}

	m.recomputeOverallLocked(ctx, fmt.Sprintf("manual degradation of %s", component))
	return nil
}

// RestoreComponent reverses a manual degradation: active strategies for the
// component are rolled back and its health is reset.
func (m *Manager) RestoreComponent(ctx context.Context, component string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.components[component]
	if !ok {
		return fmt.Errorf("unknown component %q", component)
	}

	for _, s := range m.strategies {
		if s.TargetComponent != component {
			continue
		}
		idx, active := m.active[s.Name]
		if !active {
			continue
		}
		if err := s.Fallbacks[idx].rollback(ctx); err != nil {
			m.logger.Warn("Rollback failed during restore",
				zap.String("strategy", s.Name), zap.Error(err))
			continue
		}
		delete(m.active, s.Name)
	}

	state.manual = false
	state.health.Status = schemas.HealthHealthy
	state.health.DegradationLevel = schemas.FullFunctionality
	state.health.Availability = 1.0
	state.health.ErrorCount = 0
	state.errorRate = 0

	m.recomputeOverallLocked(ctx, fmt.Sprintf("restore of %s", component))
	return nil
}

// ComponentHealth returns a snapshot of one component's health.
func (m *Manager) ComponentHealth(component string) (schemas.ComponentHealth, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.components[component]
	if !ok {
		return schemas.ComponentHealth{}, fmt.Errorf("unknown component %q", component)
	}
	return state.health, nil
}

// Report builds the externally surfaced health snapshot.
func (m *Manager) Report() schemas.SystemHealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := schemas.SystemHealthReport{
		OverallLevel:     m.overall,
		OverallLevelName: m.overall.String(),
		Timestamp:        time.Now().UTC(),
	}

	for _, name := range m.order {
		h := m.components[name].health
		report.Components = append(report.Components, h)
		if h.DegradationLevel > schemas.FullFunctionality {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("%s is %s; available fallbacks: %v", name, h.Status, h.FallbacksAvailable))
		}
	}
	for _, s := range m.strategies {
		if _, active := m.active[s.Name]; active {
			report.ActiveStrategies = append(report.ActiveStrategies, s.Name)
		}
	}
	return report
}

// ActiveStrategies returns the names of currently active strategies.
func (m *Manager) ActiveStrategies() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for _, s := range m.strategies {
		if _, active := m.active[s.Name]; active {
			names = append(names, s.Name)
		}
	}
	return names
}

func alwaysHealthy(context.Context) ProbeResult {
	return ProbeResult{OK: true}
}
