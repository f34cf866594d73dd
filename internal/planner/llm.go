// File: internal/planner/llm.go
// Description: Language-model plan generation over the Gemini HTTP API with
// exponential backoff. Any model failure falls back to the deterministic
// template planner so planning never becomes a hard dependency.
package planner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/cicerone-dev/cicerone/api/schemas"
	"github.com/cicerone-dev/cicerone/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GeminiPlanner asks a Gemini model to produce plans as structured JSON.
// It implements schemas.PlanGenerator.
type GeminiPlanner struct {
	apiKey     string
	endpoint   string
	maxTokens  int
	httpClient *http.Client
	fallback   *TemplatePlanner
	logger     *zap.Logger
}

// Wire format of the Gemini generateContent API, reduced to the fields used.
type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	GenerationConfig  struct {
		Temperature      float64 `json:"temperature"`
		ResponseMimeType string  `json:"response_mime_type,omitempty"`
		MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// planStep is the JSON shape the model is asked to emit per step.
type planStep struct {
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Tool            string  `json:"tool"`
	Explanation     string  `json:"explanation"`
	ExpectedOutcome string  `json:"expected_outcome"`
	Complexity      string  `json:"complexity"`
	DurationMinutes int     `json:"duration_minutes"`
	Threshold       float64 `json:"success_threshold"`
	Actions         []struct {
		Type        string `json:"type"`
		Selector    string `json:"selector"`
		Value       string `json:"value"`
		Description string `json:"description"`
	} `json:"actions"`
}

// NewGeminiPlanner builds the planner. The fallback is mandatory: plan
// generation must keep working when the model does not.
func NewGeminiPlanner(cfg config.PlannerConfig, fallback *TemplatePlanner, logger *zap.Logger) (*GeminiPlanner, error) {
	if fallback == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize gemini planner with nil dependencies")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini planner requires an API key")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	}
	timeout := cfg.APITimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	return &GeminiPlanner{
		apiKey:     cfg.APIKey,
		endpoint:   endpoint,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: timeout},
		fallback:   fallback,
		logger:     logger.Named("planner.gemini"),
	}, nil
}

const planSystemPrompt = `You are a planning assistant for guided, step-by-step task walkthroughs in web tools.
Respond with a JSON array of steps only. Each step has: title, description, tool,
explanation, expected_outcome, complexity (low|medium|high), duration_minutes,
success_threshold (0-100) and actions. Each action has: type (one of NAVIGATE,
CLICK, INPUT_TEXT, SUBMIT, SCROLL, WAIT, OBSERVE), selector, value, description.
Prefer OBSERVE actions for verification. Keep plans between 2 and 8 steps.`

// GeneratePlan implements schemas.PlanGenerator.
func (p *GeminiPlanner) GeneratePlan(ctx context.Context, intent schemas.Intent, timeConstraint time.Duration) ([]schemas.Step, error) {
	prompt := fmt.Sprintf("Objective: %s\nTool: %s\nUser skill level: %s", intent.Objective, intent.Tool, intent.SkillLevel)
	if timeConstraint > 0 {
		prompt += fmt.Sprintf("\nTime available: %s", timeConstraint)
	}

	steps, err := p.generateSteps(ctx, prompt, intent.Tool)
	if err != nil {
		p.logger.Warn("Model planning failed, using template plan", zap.Error(err))
		return p.fallback.GeneratePlan(ctx, intent, timeConstraint)
	}
	return steps, nil
}

// GenerateAlternativeSteps implements schemas.PlanGenerator.
func (p *GeminiPlanner) GenerateAlternativeSteps(ctx context.Context, objectives []string, capability, failureReason string) ([]schemas.Step, error) {
	prompt := fmt.Sprintf(
		"The previous approach failed: %s\nObjectives: %s\nTool: %s\nPropose 1 or 2 alternative steps that avoid the failing approach.",
		failureReason, strings.Join(objectives, "; "), capability)

	steps, err := p.generateSteps(ctx, prompt, capability)
	if err != nil {
		p.logger.Warn("Model alternative generation failed, using template", zap.Error(err))
		return p.fallback.GenerateAlternativeSteps(ctx, objectives, capability, failureReason)
	}
	for i := range steps {
		steps[i].Objectives = append([]string(nil), objectives...)
	}
	return steps, nil
}

func (p *GeminiPlanner) generateSteps(ctx context.Context, prompt, tool string) ([]schemas.Step, error) {
	raw, err := p.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var wire []planStep
	if err := json.Unmarshal([]byte(extractJSON(raw)), &wire); err != nil {
		return nil, fmt.Errorf("model returned unparseable plan: %w", err)
	}
	if len(wire) == 0 {
		return nil, fmt.Errorf("model returned an empty plan")
	}

	steps := make([]schemas.Step, 0, len(wire))
	for _, w := range wire {
		step, err := convertPlanStep(w, tool)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func convertPlanStep(w planStep, defaultTool string) (schemas.Step, error) {
	if w.Title == "" {
		return schemas.Step{}, fmt.Errorf("model emitted a step without a title")
	}

	tool := w.Tool
	if tool == "" {
		tool = defaultTool
	}
	threshold := w.Threshold
	if threshold <= 0 || threshold > 100 {
		threshold = 80
	}
	duration := time.Duration(w.DurationMinutes) * time.Minute
	if duration <= 0 {
		duration = 5 * time.Minute
	}

	step := schemas.Step{
		ID:                 uuid.New().String(),
		Title:              w.Title,
		Description:        w.Description,
		Tool:               tool,
		RequiredCapability: tool,
		Explanation:        w.Explanation,
		ExpectedOutcome:    w.ExpectedOutcome,
		Validation:         schemas.ValidationCriteria{SuccessThreshold: threshold},
		EstimatedDuration:  duration,
		Complexity:         w.Complexity,
	}
	for _, a := range w.Actions {
		actionType := schemas.ActionType(strings.ToUpper(a.Type))
		switch actionType {
		case schemas.ActionNavigate, schemas.ActionClick, schemas.ActionInputText,
			schemas.ActionSubmit, schemas.ActionScroll, schemas.ActionWait, schemas.ActionObserve:
		default:
			return schemas.Step{}, fmt.Errorf("model emitted unknown action type %q", a.Type)
		}
		step.Actions = append(step.Actions, schemas.Action{
			ID:          uuid.New().String(),
			Type:        actionType,
			Selector:    a.Selector,
			Value:       a.Value,
			Description: a.Description,
		})
	}
	return step, nil
}

// generate performs the HTTP call with retries. Rate limits and 5xx are
// transient; everything else is permanent.
func (p *GeminiPlanner) generate(ctx context.Context, userPrompt string) (string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: userPrompt}}},
		},
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: planSystemPrompt}}},
	}
	payload.GenerationConfig.Temperature = 0.2
	payload.GenerationConfig.ResponseMimeType = "application/json"
	payload.GenerationConfig.MaxOutputTokens = p.maxTokens

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var text string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", p.apiKey)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			p.logger.Warn("Network error during model request, retrying", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			apiErr := fmt.Errorf("model API error: status %d, body: %s", resp.StatusCode, respBody)
			switch resp.StatusCode {
			case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
				return apiErr
			default:
				return backoff.Permanent(apiErr)
			}
		}

		var parsed geminiResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}
		if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
			return backoff.Permanent(fmt.Errorf("model returned no content"))
		}
		text = parsed.Candidates[0].Content.Parts[0].Text
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return text, nil
}

// extractJSON strips markdown fences the model sometimes wraps around JSON.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
