// File: api/schemas/session.go
package schemas

import (
	"time"
)

// SessionStatus represents the lifecycle state of a guided session.
type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status is final. No operation accepts a
// session in a terminal state.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	}
	return false
}

// Progress summarizes how far a session has advanced through its plan.
type Progress struct {
	CompletedSteps int     `json:"completed_steps"`
	TotalSteps     int     `json:"total_steps"`
	Percent        float64 `json:"percent"`
}

// SessionContext carries the environment and accumulated history the engine
// needs to adapt steps for the user. PreviousSteps is recomputed from the
// completed prefix of the plan on resume.
type SessionContext struct {
	SkillLevel       string            `json:"skill_level"`
	PrimaryTool      string            `json:"primary_tool"`
	EnvironmentState map[string]string `json:"environment_state,omitempty"`
	PreviousSteps    []string          `json:"previous_steps,omitempty"`
}

// SessionAnalytics accumulates counters over the life of a session.
type SessionAnalytics struct {
	TotalAttempts    int     `json:"total_attempts"`
	Retries          int     `json:"retries"`
	Adaptations      int     `json:"adaptations"`
	Failures         int     `json:"failures"`
	ProficiencyTotal int     `json:"proficiency_total"`
	FeedbackCount    int     `json:"feedback_count"`
	SatisfactionAvg  float64 `json:"satisfaction_avg"`
}

// Session is the unit of work owned by the session manager. Steps may be
// replaced in place by adaptation (same index, new value) but never
// reordered.
type Session struct {
	ID               string           `json:"id"`
	OwnerID          string           `json:"owner_id"`
	Objective        string           `json:"objective"`
	Status           SessionStatus    `json:"status"`
	CurrentStepIndex int              `json:"current_step_index"`
	Steps            []Step           `json:"steps"`
	Progress         Progress         `json:"progress"`
	Context          SessionContext   `json:"context"`
	Analytics        SessionAnalytics `json:"analytics"`
	StartTime        time.Time        `json:"start_time"`
	LastActivity     time.Time        `json:"last_activity"`
	PausedAt         *time.Time       `json:"paused_at,omitempty"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	FailureReason    string           `json:"failure_reason,omitempty"`
}

// GuidanceRequest is an external request to start a guided session.
type GuidanceRequest struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"owner_id"`
	RawInput       string        `json:"raw_input"`
	SkillLevel     string        `json:"skill_level,omitempty"`
	TimeConstraint time.Duration `json:"time_constraint,omitempty"`
}

// Intent is the structured result of intent extraction over a raw request.
type Intent struct {
	Objective      string        `json:"objective"`
	Tool           string        `json:"tool,omitempty"`
	SkillLevel     string        `json:"skill_level"`
	TimeConstraint time.Duration `json:"time_constraint,omitempty"`
}

// Feedback is user feedback about the session as it runs.
type Feedback struct {
	SessionID string `json:"session_id"`
	Helpful   bool   `json:"helpful"`
	Confusing bool   `json:"confusing"`
	TooFast   bool   `json:"too_fast"`
	TooSlow   bool   `json:"too_slow"`
	TooEasy   bool   `json:"too_easy"`
	TooHard   bool   `json:"too_hard"`
	Comment   string `json:"comment,omitempty"`
}
