// File: api/schemas/step.go
package schemas

import (
	"time"
)

// ActionType defines the categories of atomic actions a step can perform
// against the external tool.
type ActionType string

const (
	ActionNavigate  ActionType = "NAVIGATE"
	ActionClick     ActionType = "CLICK"
	ActionInputText ActionType = "INPUT_TEXT"
	ActionSubmit    ActionType = "SUBMIT"
	ActionScroll    ActionType = "SCROLL"
	ActionWait      ActionType = "WAIT"
	ActionObserve   ActionType = "OBSERVE"
)

// Critical reports whether a failed action of this type should short-circuit
// the remaining actions of its step. Critical actions are the ones that
// directly change external state.
func (t ActionType) Critical() bool {
	switch t {
	case ActionClick, ActionInputText, ActionSubmit:
		return true
	}
	return false
}

// Action is one atomic external operation within a step.
type Action struct {
	ID          string            `json:"id"`
	Type        ActionType        `json:"type"`
	Selector    string            `json:"selector,omitempty"`
	Value       string            `json:"value,omitempty"`
	Description string            `json:"description,omitempty"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// RuleType identifies how a validation rule inspects the external surface.
type RuleType string

const (
	RuleExists          RuleType = "exists"
	RuleContentContains RuleType = "content_contains"
	RuleContentEquals   RuleType = "content_equals"
)

// Rule is a single post-step validation check.
type Rule struct {
	Type     RuleType `json:"type"`
	Selector string   `json:"selector"`
	Expected string   `json:"expected,omitempty"`
	Weight   float64  `json:"weight"`
}

// ValidationCriteria declares when a step counts as complete: the combined
// action-success rate and weighted rule pass rate must meet SuccessThreshold
// (a 0-100 percentage).
type ValidationCriteria struct {
	Rules            []Rule  `json:"rules,omitempty"`
	SuccessThreshold float64 `json:"success_threshold"`
}

// Step is one unit of plan execution. A Step value is immutable once created;
// adaptation produces a new value via Clone rather than mutating a step that
// may be referenced elsewhere.
type Step struct {
	ID                 string             `json:"id"`
	Title              string             `json:"title"`
	Description        string             `json:"description"`
	Tool               string             `json:"tool,omitempty"`
	RequiredCapability string             `json:"required_capability"`
	Actions            []Action           `json:"actions"`
	Explanation        string             `json:"explanation,omitempty"`
	ExpectedOutcome    string             `json:"expected_outcome,omitempty"`
	Validation         ValidationCriteria `json:"validation"`
	EstimatedDuration  time.Duration      `json:"estimated_duration"`
	Complexity         string             `json:"complexity,omitempty"`
	Prerequisites      []string           `json:"prerequisites,omitempty"`
	Objectives         []string           `json:"objectives,omitempty"`
}

// Clone returns a deep copy of the step. Adaptation operates on the copy so
// that a shared plan template is never mutated through an alias.
func (s Step) Clone() Step {
	out := s
	out.Actions = make([]Action, len(s.Actions))
	for i, a := range s.Actions {
		out.Actions[i] = a
		if a.Metadata != nil {
			md := make(map[string]string, len(a.Metadata))
			for k, v := range a.Metadata {
				md[k] = v
			}
			out.Actions[i].Metadata = md
		}
	}
	out.Validation.Rules = append([]Rule(nil), s.Validation.Rules...)
	out.Prerequisites = append([]string(nil), s.Prerequisites...)
	out.Objectives = append([]string(nil), s.Objectives...)
	return out
}
