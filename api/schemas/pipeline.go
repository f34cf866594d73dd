// File: api/schemas/pipeline.go
package schemas

import (
	"time"
)

// PipelineStage is one stage of the request-processing pipeline. Stages are
// strictly ordered; each updates the pipeline record before advancing.
type PipelineStage string

const (
	StageInput      PipelineStage = "input"
	StageIntent     PipelineStage = "intent"
	StagePlanning   PipelineStage = "planning"
	StageExecution  PipelineStage = "execution"
	StageAdaptation PipelineStage = "adaptation"
	StageCompletion PipelineStage = "completion"
)

// PipelineStatus is the ephemeral progress record of one in-flight request.
// It exists only while the request is being processed and is discarded once
// the session reaches a terminal state.
type PipelineStatus struct {
	SessionID              string        `json:"session_id"`
	Stage                  PipelineStage `json:"stage"`
	ProgressPercent        float64       `json:"progress_percent"`
	CurrentStepDescription string        `json:"current_step_description,omitempty"`
	EstimatedTimeRemaining time.Duration `json:"estimated_time_remaining,omitempty"`
	UpdatedAt              time.Time     `json:"updated_at"`
}
