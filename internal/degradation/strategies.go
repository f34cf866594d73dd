// File: internal/degradation/strategies.go
// Description: Strategy and fallback definitions plus the default registry
// of monitored components, their strategies, and the feature matrix keyed by
// overall degradation level.
package degradation

import (
	"context"
	"time"

	"github.com/cicerone-dev/cicerone/api/schemas"
)

// Feature names gated by the degradation level.
const (
	FeatureGuidedSessions   = "guided_sessions"
	FeatureAdaptivePlanning = "adaptive_planning"
	FeatureRealTimeHelp     = "real_time_help"
	FeatureFeedback         = "feedback"
	FeatureCachedContent    = "cached_content"
	FeatureLocalStorage     = "local_storage"
	FeatureBasicUI          = "basic_ui"
)

// featuresByLevel is the fixed availability matrix. A nil set means every
// feature is available. basic_ui is present in every set so there is always
// a surface left to tell the user what happened.
var featuresByLevel = map[schemas.DegradationLevel]map[string]bool{
	schemas.FullFunctionality: nil,
	schemas.ReducedFunctionality: {
		FeatureGuidedSessions:   true,
		FeatureAdaptivePlanning: true,
		FeatureFeedback:         true,
		FeatureCachedContent:    true,
		FeatureLocalStorage:     true,
		FeatureBasicUI:          true,
	},
	schemas.BasicFunctionality: {
		FeatureGuidedSessions: true,
		FeatureCachedContent:  true,
		FeatureLocalStorage:   true,
		FeatureBasicUI:        true,
	},
	schemas.OfflineMode: {
		FeatureCachedContent: true,
		FeatureLocalStorage:  true,
		FeatureBasicUI:       true,
	},
	schemas.EmergencyMode: {
		FeatureBasicUI: true,
	},
}

// Component declares one monitored component for the registry.
type Component struct {
	Name        string
	Criticality schemas.Criticality
	Fallbacks   []string
	Probe       ProbeFunc
}

// FallbackAction is one reversible mitigation. Apply and Rollback are paired:
// deactivation runs the rollback of exactly the action that was applied.
type FallbackAction struct {
	Name     string
	Apply    func(ctx context.Context) error
	Rollback func(ctx context.Context) error
}

func (f FallbackAction) apply(ctx context.Context) error {
	if f.Apply == nil {
		return nil
	}
	return f.Apply(ctx)
}

func (f FallbackAction) rollback(ctx context.Context) error {
	if f.Rollback == nil {
		return nil
	}
	return f.Rollback(ctx)
}

// Strategy binds triggers to an ordered list of fallback actions for one
// component. Fallbacks are tried in declaration order until one succeeds.
type Strategy struct {
	Name            string
	TargetComponent string
	Triggers        []schemas.Trigger
	Fallbacks       []FallbackAction
	Priority        int
	Enabled         bool
}

// Toggles is the set of runtime switches the default fallback actions flip.
// Consumers read them to decide between the full and the degraded path.
type Toggles struct {
	ManualInstructions  atomicBool // browser automation replaced by written steps
	TemplatePlannerOnly atomicBool // LLM planning bypassed
	CachedContentOnly   atomicBool // network fetches disabled
	MemoryStoreOnly     atomicBool // persistent archiving disabled
	SimplifiedUI        atomicBool // interface reduced to essentials
	GuestMode           atomicBool // authentication bypassed read-only
}

// Snapshot reports the current switch states keyed by fallback name. Clients
// poll it to honor the interface-facing switches (simplified UI, cached
// content, guest mode) that the server cannot enforce on their behalf.
func (t *Toggles) Snapshot() map[string]bool {
	return map[string]bool{
		"manual_instructions":   t.ManualInstructions.Load(),
		"template_planner_only": t.TemplatePlannerOnly.Load(),
		"cached_content_only":   t.CachedContentOnly.Load(),
		"memory_store_only":     t.MemoryStoreOnly.Load(),
		"simplified_ui":         t.SimplifiedUI.Load(),
		"guest_mode":            t.GuestMode.Load(),
	}
}

// DefaultComponents returns the fixed component registry. Probes come from
// the caller; a nil probe reports the component as permanently healthy.
func DefaultComponents(p Probes) []Component {
	return []Component{
		{
			Name:        schemas.ComponentBrowserAutomation,
			Criticality: schemas.CriticalityHigh,
			Fallbacks:   []string{"manual_instructions", "simplified_selectors"},
			Probe:       p.Browser,
		},
		{
			Name:        schemas.ComponentAIProcessing,
			Criticality: schemas.CriticalityHigh,
			Fallbacks:   []string{"template_planning", "cached_plans"},
			Probe:       p.AI,
		},
		{
			Name:        schemas.ComponentNetwork,
			Criticality: schemas.CriticalityCritical,
			Fallbacks:   []string{"cached_content", "offline_queue"},
			Probe:       p.Network,
		},
		{
			Name:        schemas.ComponentInterface,
			Criticality: schemas.CriticalityMedium,
			Fallbacks:   []string{"simplified_ui"},
			Probe:       p.Interface,
		},
		{
			Name:        schemas.ComponentStorage,
			Criticality: schemas.CriticalityHigh,
			Fallbacks:   []string{"memory_store", "local_files"},
			Probe:       p.Storage,
		},
		{
			Name:        schemas.ComponentAuthentication,
			Criticality: schemas.CriticalityMedium,
			Fallbacks:   []string{"guest_mode"},
			Probe:       p.Auth,
		},
	}
}

// DefaultStrategies returns the built-in strategy set wired to the shared
// toggle block.
func DefaultStrategies(t *Toggles) []*Strategy {
	flip := func(b *atomicBool) FallbackAction {
		return FallbackAction{
			Name:     "toggle",
			Apply:    func(context.Context) error { b.Store(true); return nil },
			Rollback: func(context.Context) error { b.Store(false); return nil },
		}
	}

	browserFallback := flip(&t.ManualInstructions)
	browserFallback.Name = "manual_instructions"
	aiFallback := flip(&t.TemplatePlannerOnly)
	aiFallback.Name = "template_planning"
	networkFallback := flip(&t.CachedContentOnly)
	networkFallback.Name = "cached_content"
	storageFallback := flip(&t.MemoryStoreOnly)
	storageFallback.Name = "memory_store"
	interfaceFallback := flip(&t.SimplifiedUI)
	interfaceFallback.Name = "simplified_ui"
	authFallback := flip(&t.GuestMode)
	authFallback.Name = "guest_mode"

	return []*Strategy{
		{
			Name:            "browser_unreliable",
			TargetComponent: schemas.ComponentBrowserAutomation,
			Triggers: []schemas.Trigger{
				{Metric: schemas.MetricAvailability, Operator: schemas.OpLessThan, Threshold: 0.7, Window: 5 * time.Minute},
				{Metric: schemas.MetricErrorRate, Operator: schemas.OpGreaterOrEq, Threshold: 0.5, Window: 5 * time.Minute},
			},
			Fallbacks: []FallbackAction{browserFallback},
			Priority:  1,
			Enabled:   true,
		},
		{
			Name:            "ai_slow_or_failing",
			TargetComponent: schemas.ComponentAIProcessing,
			Triggers: []schemas.Trigger{
				{Metric: schemas.MetricAvailability, Operator: schemas.OpLessThan, Threshold: 0.7, Window: 5 * time.Minute},
				{Metric: schemas.MetricResponseTime, Operator: schemas.OpGreaterThan, Threshold: 10_000, Window: 5 * time.Minute},
			},
			Fallbacks: []FallbackAction{aiFallback},
			Priority:  1,
			Enabled:   true,
		},
		{
			Name:            "network_down",
			TargetComponent: schemas.ComponentNetwork,
			Triggers: []schemas.Trigger{
				{Metric: schemas.MetricAvailability, Operator: schemas.OpLessThan, Threshold: 0.5, Window: 2 * time.Minute},
			},
			Fallbacks: []FallbackAction{networkFallback},
			Priority:  0,
			Enabled:   true,
		},
		{
			Name:            "interface_errors",
			TargetComponent: schemas.ComponentInterface,
			Triggers: []schemas.Trigger{
				{Metric: schemas.MetricErrorRate, Operator: schemas.OpGreaterThan, Threshold: 0.3, Window: 5 * time.Minute},
			},
			Fallbacks: []FallbackAction{interfaceFallback},
			Priority:  2,
			Enabled:   true,
		},
		{
			Name:            "storage_unavailable",
			TargetComponent: schemas.ComponentStorage,
			Triggers: []schemas.Trigger{
				{Metric: schemas.MetricAvailability, Operator: schemas.OpLessThan, Threshold: 0.7, Window: 5 * time.Minute},
			},
			Fallbacks: []FallbackAction{storageFallback},
			Priority:  1,
			Enabled:   true,
		},
		{
			Name:            "auth_unavailable",
			TargetComponent: schemas.ComponentAuthentication,
			Triggers: []schemas.Trigger{
				{Metric: schemas.MetricAvailability, Operator: schemas.OpLessThan, Threshold: 0.5, Window: 5 * time.Minute},
			},
			Fallbacks: []FallbackAction{authFallback},
			Priority:  2,
			Enabled:   true,
		},
	}
}
