// File: api/schemas/result.go
package schemas

import (
	"time"
)

// Proficiency credit assigned to a learning outcome after a step attempt.
const (
	ProficiencyGainSuccess   = 25
	ProficiencyGainPartial   = 5
	ProficiencyGainException = 0
)

// ActionErrorType is the typed failure taxonomy for action execution.
// Executors must report expected failures through this type instead of
// returning an error.
type ActionErrorType string

const (
	ErrTypeElementNotFound ActionErrorType = "element_not_found"
	ErrTypeTimeout         ActionErrorType = "timeout"
	ErrTypeNavigation      ActionErrorType = "navigation"
	ErrTypeAuthentication  ActionErrorType = "authentication"
	ErrTypeNetwork         ActionErrorType = "network"
	ErrTypePermission      ActionErrorType = "permission"
	ErrTypeOther           ActionErrorType = "other"
)

// ActionResult is the outcome of one atomic action.
type ActionResult struct {
	ActionID      string          `json:"action_id"`
	Success       bool            `json:"success"`
	ErrorType     ActionErrorType `json:"error_type,omitempty"`
	Error         string          `json:"error,omitempty"`
	ElementFound  bool            `json:"element_found"`
	ExecutionTime time.Duration   `json:"execution_time"`
	ActualResult  string          `json:"actual_result,omitempty"`
}

// StepStatus is the terminal status of one step execution.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Outcome is the learning outcome credited for a step attempt.
type Outcome struct {
	Skill            string `json:"skill"`
	ProficiencyDelta int    `json:"proficiency_delta"`
	Description      string `json:"description"`
}

// StepResult is produced once per step execution. When the engine retries,
// the result surfaced to the session manager is the final one after the
// retry chain.
type StepResult struct {
	StepID      string     `json:"step_id"`
	SessionID   string     `json:"session_id"`
	Status      StepStatus `json:"status"`
	Score       float64    `json:"score"`
	Outcome     Outcome    `json:"outcome"`
	Adaptations []string   `json:"adaptations,omitempty"`
	Attempts    int        `json:"attempts"`
	Note        string     `json:"note,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// RecoveryType is the engine's choice of how to respond to a step failure.
type RecoveryType string

const (
	RecoveryRetry              RecoveryType = "retry"
	RecoveryAdapt              RecoveryType = "adapt"
	RecoverySkip               RecoveryType = "skip"
	RecoveryAlternative        RecoveryType = "alternative_approach"
	RecoveryManualIntervention RecoveryType = "manual_intervention"
)

// RecoveryAction describes the selected recovery. EstimatedRecovery is
// advisory metadata for the caller, not an enforced deadline.
type RecoveryAction struct {
	Type              RecoveryType  `json:"type"`
	Reason            string        `json:"reason"`
	Instructions      string        `json:"instructions,omitempty"`
	EstimatedRecovery time.Duration `json:"estimated_recovery,omitempty"`
	AdaptedStep       *Step         `json:"-"`
}
