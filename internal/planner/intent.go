// File: internal/planner/intent.go
// Description: Keyword-based intent extraction. Deliberately deterministic
// so the pipeline keeps working when no language model is configured.
package planner

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cicerone-dev/cicerone/api/schemas"
)

// KeywordExtractor derives a structured intent from the raw request text by
// scanning for known tool and skill markers.
type KeywordExtractor struct {
	logger *zap.Logger
}

// NewKeywordExtractor builds the extractor.
func NewKeywordExtractor(logger *zap.Logger) (*KeywordExtractor, error) {
	if logger == nil {
		return nil, fmt.Errorf("cannot initialize intent extractor with nil dependencies")
	}
	return &KeywordExtractor{logger: logger.Named("intent")}, nil
}

type marker struct {
	keyword string
	value   string
}

// toolMarkers maps a keyword in the raw input to the capability name used by
// plan steps. Ordered so the more specific marker wins ("github" before
// "git").
var toolMarkers = []marker{
	{"github", "github"},
	{"git", "git"},
	{"docker", "docker"},
	{"kubernetes", "kubernetes"},
	{"k8s", "kubernetes"},
	{"spreadsheet", "spreadsheet"},
	{"browser", "web"},
	{"website", "web"},
	{"web", "web"},
	{"terminal", "terminal"},
	{"shell", "terminal"},
}

var skillMarkers = []marker{
	{"beginner", "beginner"},
	{"new to", "beginner"},
	{"never used", "beginner"},
	{"first time", "beginner"},
	{"intermediate", "intermediate"},
	{"familiar", "intermediate"},
	{"advanced", "advanced"},
	{"expert", "advanced"},
}

// ExtractIntent implements schemas.IntentExtractor.
func (e *KeywordExtractor) ExtractIntent(ctx context.Context, req schemas.GuidanceRequest) (schemas.Intent, error) {
	if strings.TrimSpace(req.RawInput) == "" {
		return schemas.Intent{}, fmt.Errorf("request %s has empty input", req.ID)
	}

	lower := strings.ToLower(req.RawInput)
	intent := schemas.Intent{
		Objective:      strings.TrimSpace(req.RawInput),
		SkillLevel:     req.SkillLevel,
		TimeConstraint: req.TimeConstraint,
	}

	for _, m := range toolMarkers {
		if strings.Contains(lower, m.keyword) {
			intent.Tool = m.value
			break
		}
	}

	if intent.SkillLevel == "" {
		intent.SkillLevel = "beginner"
		for _, m := range skillMarkers {
			if strings.Contains(lower, m.keyword) {
				intent.SkillLevel = m.value
				break
			}
		}
	}

	e.logger.Debug("Intent extracted",
		zap.String("request_id", req.ID),
		zap.String("tool", intent.Tool),
		zap.String("skill_level", intent.SkillLevel))
	return intent, nil
}
