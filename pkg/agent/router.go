package agent

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
)

// RouterDecision is the structured answer of the router
type RouterDecision struct {
	Category  string `json:"category" jsonschema:"Either calculation or conceptual"`
	Reasoning string `json:"reasoning" jsonschema:"One sentence explaining the choice"`
}

// Route classifies the problem. A failed call leaves the category unset,
// which ends the run.
func (a *Agent) Route(ctx context.Context, s *model.SessionState) model.Delta {
	topic := ""
	if s.ParsedProblem != nil {
		topic = s.ParsedProblem.Topic
	}

	prompt, err := render("route.md", map[string]any{
		"Problem": s.ProblemText(),
		"Topic":   topic,
	})
	if err != nil {
		return a.fallback(ctx, model.StageRouter, err, model.Delta{})
	}

	var decision RouterDecision
	if err := a.llm.GenerateStructured(ctx, prompt, &decision); err != nil {
		return a.fallback(ctx, model.StageRouter, goerr.Wrap(err, "failed to route problem"), model.Delta{})
	}

	category := normalizeCategory(decision.Category)
	return model.Delta{
		Category: &category,
		Trace:    tracef(model.StageRouter, "routed to %s (%s)", category, decision.Reasoning),
	}
}

// normalizeCategory maps anything that is not calculation to conceptual
func normalizeCategory(s string) model.Category {
	if model.Category(strings.ToLower(strings.TrimSpace(s))) == model.CategoryCalculation {
		return model.CategoryCalculation
	}
	return model.CategoryConceptual
}
