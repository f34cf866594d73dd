// File: internal/degradation/manager_test.go
package degradation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cicerone-dev/cicerone/api/schemas"
	"github.com/cicerone-dev/cicerone/internal/config"
	"github.com/cicerone-dev/cicerone/internal/events"
)

func fastConfig() config.DegradationConfig {
	return config.DegradationConfig{
		CheckInterval: 30 * time.Second,
		ProbeTimeout:  time.Second,
		ProbesPerSec:  10000,
	}
}

func newTestManager(t *testing.T, components []Component, strategies []*Strategy) (*Manager, *events.Bus) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	bus := events.NewBus(logger, 64)
	t.Cleanup(bus.Shutdown)

	m, err := NewManager(fastConfig(), components, strategies, bus, logger)
	require.NoError(t, err)
	return m, bus
}

func defaultManager(t *testing.T) (*Manager, *events.Bus, *Toggles) {
	t.Helper()
	toggles := &Toggles{}
	m, bus := newTestManager(t, DefaultComponents(Probes{}), DefaultStrategies(toggles))
	return m, bus, toggles
}

func TestManualDegradeAndRestore(t *testing.T) {
	m, _, toggles := defaultManager(t)
	ctx := context.Background()

	require.NoError(t, m.TriggerManualDegradation(ctx, schemas.ComponentBrowserAutomation, schemas.BasicFunctionality))

	assert.Equal(t, schemas.BasicFunctionality, m.OverallLevel())
	assert.Contains(t, m.ActiveStrategies(), "browser_unreliable")
	assert.True(t, toggles.ManualInstructions.Load())

	health, err := m.ComponentHealth(schemas.ComponentBrowserAutomation)
	require.NoError(t, err)
	assert.Equal(t, schemas.BasicFunctionality, health.DegradationLevel)

	require.NoError(t, m.RestoreComponent(ctx, schemas.ComponentBrowserAutomation))

	assert.Equal(t, schemas.FullFunctionality, m.OverallLevel())
	assert.Empty(t, m.ActiveStrategies())
	assert.False(t, toggles.ManualInstructions.Load())

	health, err = m.ComponentHealth(schemas.ComponentBrowserAutomation)
	require.NoError(t, err)
	assert.Equal(t, schemas.HealthHealthy, health.Status)
	assert.Equal(t, 1.0, health.Availability)
}

func TestManualDegradeUnknownComponent(t *testing.T) {
	m, _, _ := defaultManager(t)
	err := m.TriggerManualDegradation(context.Background(), "no_such_component", schemas.BasicFunctionality)
	assert.Error(t, err)
	err = m.RestoreComponent(context.Background(), "no_such_component")
	assert.Error(t, err)
}

func TestOverallLevelIsTheWorstComponent(t *testing.T) {
	m, _, _ := defaultManager(t)
	ctx := context.Background()

	require.NoError(t, m.TriggerManualDegradation(ctx, schemas.ComponentStorage, schemas.ReducedFunctionality))
	require.NoError(t, m.TriggerManualDegradation(ctx, schemas.ComponentNetwork, schemas.OfflineMode))
	assert.Equal(t, schemas.OfflineMode, m.OverallLevel())

	require.NoError(t, m.RestoreComponent(ctx, schemas.ComponentNetwork))
	assert.Equal(t, schemas.ReducedFunctionality, m.OverallLevel())

	require.NoError(t, m.RestoreComponent(ctx, schemas.ComponentStorage))
	assert.Equal(t, schemas.FullFunctionality, m.OverallLevel())
}

func TestFeatureAvailabilityPerLevel(t *testing.T) {
	cases := []struct {
		level     schemas.DegradationLevel
		available []string
		blocked   []string
	}{
		{schemas.FullFunctionality,
			[]string{FeatureGuidedSessions, FeatureAdaptivePlanning, FeatureRealTimeHelp, FeatureBasicUI},
			nil},
		{schemas.ReducedFunctionality,
			[]string{FeatureGuidedSessions, FeatureAdaptivePlanning, FeatureFeedback, FeatureBasicUI},
			[]string{FeatureRealTimeHelp}},
		{schemas.BasicFunctionality,
			[]string{FeatureGuidedSessions, FeatureCachedContent, FeatureBasicUI},
			[]string{FeatureAdaptivePlanning, FeatureFeedback}},
		{schemas.OfflineMode,
			[]string{FeatureCachedContent, FeatureLocalStorage, FeatureBasicUI},
			[]string{FeatureGuidedSessions}},
		{schemas.EmergencyMode,
			[]string{FeatureBasicUI},
			[]string{FeatureGuidedSessions, FeatureCachedContent, FeatureLocalStorage}},
	}

	for _, tc := range cases {
		t.Run(tc.level.String(), func(t *testing.T) {
			m, _, _ := defaultManager(t)
			if tc.level > schemas.FullFunctionality {
				require.NoError(t, m.TriggerManualDegradation(context.Background(),
					schemas.ComponentNetwork, tc.level))
			}
			require.Equal(t, tc.level, m.OverallLevel())

			for _, feature := range tc.available {
				assert.True(t, m.IsFeatureAvailable(feature), "%s should be available at %s", feature, tc.level)
			}
			for _, feature := range tc.blocked {
				assert.False(t, m.IsFeatureAvailable(feature), "%s should be blocked at %s", feature, tc.level)
			}
		})
	}
}

func TestHealthLoopActivatesAndRollsBackStrategies(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	probe := func(ctx context.Context) ProbeResult {
		if failing.Load() {
			return ProbeResult{OK: false, Latency: time.Millisecond}
		}
		return ProbeResult{OK: true, Latency: time.Millisecond}
	}

	var fallbackActive atomic.Bool
	strategy := &Strategy{
		Name:            "net_degraded",
		TargetComponent: schemas.ComponentNetwork,
		Triggers: []schemas.Trigger{
			{Metric: schemas.MetricAvailability, Operator: schemas.OpLessThan, Threshold: 0.5},
		},
		Fallbacks: []FallbackAction{{
			Name:     "use_cache",
			Apply:    func(context.Context) error { fallbackActive.Store(true); return nil },
			Rollback: func(context.Context) error { fallbackActive.Store(false); return nil },
		}},
		Enabled: true,
	}
	components := []Component{{
		Name:        schemas.ComponentNetwork,
		Criticality: schemas.CriticalityCritical,
		Fallbacks:   []string{"use_cache"},
		Probe:       probe,
	}}
	m, _ := newTestManager(t, components, []*Strategy{strategy})
	ctx := context.Background()

	// Availability decays from 1.0 by 20% of the gap per failed probe; it
	// takes several cycles to cross the 0.5 trigger.
	for i := 0; i < 4 && !fallbackActive.Load(); i++ {
		m.CheckNow(ctx)
	}
	assert.True(t, fallbackActive.Load(), "strategy should activate once availability drops below 0.5")
	assert.Contains(t, m.ActiveStrategies(), "net_degraded")
	assert.Greater(t, int(m.OverallLevel()), int(schemas.FullFunctionality))

	// Recovery: successful probes raise availability back over the trigger
	// and the level-triggered loop rolls the fallback back.
	failing.Store(false)
	for i := 0; i < 10 && fallbackActive.Load(); i++ {
		m.CheckNow(ctx)
	}
	assert.False(t, fallbackActive.Load(), "strategy should deactivate after recovery")
	assert.Empty(t, m.ActiveStrategies())

	for i := 0; i < 20 && m.OverallLevel() != schemas.FullFunctionality; i++ {
		m.CheckNow(ctx)
	}
	assert.Equal(t, schemas.FullFunctionality, m.OverallLevel())
}

func TestTriggerWindowDelaysActivation(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	probe := func(ctx context.Context) ProbeResult {
		if failing.Load() {
			return ProbeResult{OK: false, Latency: time.Millisecond}
		}
		return ProbeResult{OK: true, Latency: time.Millisecond}
	}

	var fallbackActive atomic.Bool
	strategy := &Strategy{
		Name:            "net_degraded",
		TargetComponent: schemas.ComponentNetwork,
		Triggers: []schemas.Trigger{
			{Metric: schemas.MetricAvailability, Operator: schemas.OpLessThan, Threshold: 0.5, Window: 80 * time.Millisecond},
		},
		Fallbacks: []FallbackAction{{
			Name:     "use_cache",
			Apply:    func(context.Context) error { fallbackActive.Store(true); return nil },
			Rollback: func(context.Context) error { fallbackActive.Store(false); return nil },
		}},
		Enabled: true,
	}
	components := []Component{{
		Name:        schemas.ComponentNetwork,
		Criticality: schemas.CriticalityCritical,
		Fallbacks:   []string{"use_cache"},
		Probe:       probe,
	}}
	m, _ := newTestManager(t, components, []*Strategy{strategy})
	ctx := context.Background()

	// Availability crosses the threshold after a few failed probes, but the
	// trigger must then hold for its window before the strategy arms.
	for i := 0; i < 6; i++ {
		m.CheckNow(ctx)
	}
	assert.False(t, fallbackActive.Load(), "activation must wait out the trigger window")

	time.Sleep(120 * time.Millisecond)
	m.CheckNow(ctx)
	assert.True(t, fallbackActive.Load(), "strategy should activate once the condition held for the window")
	assert.Contains(t, m.ActiveStrategies(), "net_degraded")

	// Recovery rolls back without any window once the condition clears.
	failing.Store(false)
	for i := 0; i < 10 && fallbackActive.Load(); i++ {
		m.CheckNow(ctx)
	}
	assert.False(t, fallbackActive.Load())

	// A fresh breach starts a fresh window instead of reusing the old hold.
	failing.Store(true)
	for i := 0; i < 6; i++ {
		m.CheckNow(ctx)
	}
	assert.False(t, fallbackActive.Load(), "a new breach must wait out the window again")
}

func TestProbeFailureIsIsolated(t *testing.T) {
	probed := make(map[string]bool)
	var mu sync.Mutex
	okProbe := func(name string) ProbeFunc {
		return func(ctx context.Context) ProbeResult {
			mu.Lock()
			probed[name] = true
			mu.Unlock()
			return ProbeResult{OK: true}
		}
	}
	components := []Component{
		{Name: "panicky", Criticality: schemas.CriticalityLow,
			Probe: func(ctx context.Context) ProbeResult { panic("boom") }},
		{Name: "steady", Criticality: schemas.CriticalityLow, Probe: okProbe("steady")},
	}
	m, _ := newTestManager(t, components, nil)

	m.CheckNow(context.Background())

	mu.Lock()
	assert.True(t, probed["steady"], "a panicking probe must not stop the cycle")
	mu.Unlock()

	health, err := m.ComponentHealth("panicky")
	require.NoError(t, err)
	assert.Equal(t, 1, health.ErrorCount)
	assert.Less(t, health.Availability, 1.0)
}

func TestDegradationEventOncePerLevelChange(t *testing.T) {
	m, bus, _ := defaultManager(t)
	ctx := context.Background()

	ch := bus.Subscribe(schemas.EventDegradationChanged)
	var mu sync.Mutex
	var got []schemas.Event
	go func() {
		for evt := range ch {
			mu.Lock()
			got = append(got, evt)
			mu.Unlock()
			bus.Acknowledge(evt)
		}
	}()
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(got)
	}

	// Healthy cycles never notify.
	m.CheckNow(ctx)
	m.CheckNow(ctx)
	assert.Equal(t, 0, count())

	require.NoError(t, m.TriggerManualDegradation(ctx, schemas.ComponentStorage, schemas.ReducedFunctionality))
	require.Eventually(t, func() bool { return count() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Re-checking while the level is unchanged stays silent.
	m.CheckNow(ctx)
	assert.Equal(t, 1, count())

	require.NoError(t, m.RestoreComponent(ctx, schemas.ComponentStorage))
	require.Eventually(t, func() bool { return count() == 2 }, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	change, ok := got[0].Payload.(schemas.DegradationChange)
	mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, schemas.FullFunctionality, change.Previous)
	assert.Equal(t, schemas.ReducedFunctionality, change.Current)
}

func TestReportListsDegradedComponents(t *testing.T) {
	m, _, _ := defaultManager(t)
	ctx := context.Background()
	m.CheckNow(ctx)

	report := m.Report()
	assert.Len(t, report.Components, 6)
	assert.Equal(t, "FULL_FUNCTIONALITY", report.OverallLevelName)
	assert.Empty(t, report.Recommendations)

	require.NoError(t, m.TriggerManualDegradation(ctx, schemas.ComponentAIProcessing, schemas.ReducedFunctionality))
	report = m.Report()
	assert.Equal(t, schemas.ReducedFunctionality, report.OverallLevel)
	require.Len(t, report.Recommendations, 1)
	assert.Contains(t, report.Recommendations[0], schemas.ComponentAIProcessing)
	assert.Contains(t, report.ActiveStrategies, "ai_slow_or_failing")
}
