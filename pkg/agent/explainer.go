package agent

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
)

// Explain writes a student facing explanation of a verified answer
func (a *Agent) Explain(ctx context.Context, s *model.SessionState) model.Delta {
	const stage = model.StageExplainer

	if !s.Verified() || s.FinalAnswer == nil {
		return a.fallback(ctx, stage, goerr.New("answer is not verified"), model.Delta{})
	}

	prompt, err := render("explain.md", map[string]any{
		"Problem":  s.ProblemText(),
		"Solution": *s.FinalAnswer,
		"Notation": string(a.notation),
	})
	if err != nil {
		return a.fallback(ctx, stage, err, model.Delta{})
	}

	text, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return a.fallback(ctx, stage, goerr.Wrap(err, "failed to explain solution"), model.Delta{})
	}

	return model.Delta{
		Explanation: model.Ptr(strings.TrimSpace(text)),
		Trace:       tracef(stage, "explained in %s notation", a.notation),
	}
}
