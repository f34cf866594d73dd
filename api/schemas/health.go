// File: api/schemas/health.go
package schemas

import (
	"time"
)

// HealthStatus is the probe-level status of one monitored component.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthFailing  HealthStatus = "failing"
	HealthOffline  HealthStatus = "offline"
	HealthUnknown  HealthStatus = "unknown"
)

// Criticality ranks how much a component's failure matters to the system.
type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityMedium   Criticality = "medium"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// DegradationLevel is a ranked system-wide capability tier. Higher values
// are worse; the overall level is the worst of all component levels.
type DegradationLevel int

const (
	FullFunctionality DegradationLevel = iota
	ReducedFunctionality
	BasicFunctionality
	OfflineMode
	EmergencyMode
)

func (l DegradationLevel) String() string {
	switch l {
	case FullFunctionality:
		return "FULL_FUNCTIONALITY"
	case ReducedFunctionality:
		return "REDUCED_FUNCTIONALITY"
	case BasicFunctionality:
		return "BASIC_FUNCTIONALITY"
	case OfflineMode:
		return "OFFLINE_MODE"
	case EmergencyMode:
		return "EMERGENCY_MODE"
	}
	return "UNKNOWN"
}

// Monitored component names. The registry is fixed at startup.
const (
	ComponentBrowserAutomation = "browser_automation"
	ComponentAIProcessing      = "ai_processing"
	ComponentNetwork           = "network"
	ComponentInterface         = "interface"
	ComponentStorage           = "storage"
	ComponentAuthentication    = "authentication"
)

// ComponentHealth is the monitor's view of one component. It is mutated only
// by the health-check loop or by a manual override.
type ComponentHealth struct {
	Component          string           `json:"component"`
	Status             HealthStatus     `json:"status"`
	ErrorCount         int              `json:"error_count"`
	ResponseTime       time.Duration    `json:"response_time"`
	Availability       float64          `json:"availability"`
	DegradationLevel   DegradationLevel `json:"degradation_level"`
	FallbacksAvailable []string         `json:"fallbacks_available"`
	Criticality        Criticality      `json:"criticality"`
	LastChecked        time.Time        `json:"last_checked"`
}

// TriggerMetric names the health metric a degradation trigger compares.
type TriggerMetric string

const (
	MetricErrorRate    TriggerMetric = "error_rate"
	MetricResponseTime TriggerMetric = "response_time"
	MetricAvailability TriggerMetric = "availability"
)

// TriggerOperator is the comparison applied between metric and threshold.
type TriggerOperator string

const (
	OpGreaterThan TriggerOperator = "gt"
	OpGreaterOrEq TriggerOperator = "gte"
	OpLessThan    TriggerOperator = "lt"
	OpLessOrEq    TriggerOperator = "lte"
)

// Trigger compares a health metric against a threshold over a time window.
type Trigger struct {
	Metric    TriggerMetric   `json:"metric"`
	Operator  TriggerOperator `json:"operator"`
	Threshold float64         `json:"threshold"`
	Window    time.Duration   `json:"window,omitempty"`
}

// SystemHealthReport is the externally surfaced snapshot of monitor state.
type SystemHealthReport struct {
	Components       []ComponentHealth `json:"components"`
	OverallLevel     DegradationLevel  `json:"overall_level"`
	OverallLevelName string            `json:"overall_level_name"`
	ActiveStrategies []string          `json:"active_strategies"`
	Recommendations  []string          `json:"recommendations"`
	Timestamp        time.Time         `json:"timestamp"`
}
