package agent

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
)

// Verification is the structured answer of the verifier
type Verification struct {
	IsCorrect bool   `json:"is_correct" jsonschema:"Is the solution mathematically sound?"`
	Critique  string `json:"critique" jsonschema:"Critique of the solution logic"`
}

// Verify judges the final answer. Anything short of a positive judgment,
// including a failed call, rejects the run.
func (a *Agent) Verify(ctx context.Context, s *model.SessionState) model.Delta {
	const stage = model.StageVerifier

	reject := func(critique string) model.Delta {
		return model.Delta{IsCorrect: model.Ptr(false), Critique: &critique}
	}

	if s.FinalAnswer == nil {
		err := goerr.New("no final answer to verify")
		return a.fallback(ctx, stage, err, reject(err.Error()))
	}

	var category string
	if s.Category != nil {
		category = string(*s.Category)
	}

	prompt, err := render("verify.md", map[string]any{
		"Problem":  s.ProblemText(),
		"Category": category,
		"Solution": *s.FinalAnswer,
	})
	if err != nil {
		return a.fallback(ctx, stage, err, reject(err.Error()))
	}

	var v Verification
	if err := a.llm.GenerateStructured(ctx, prompt, &v); err != nil {
		err = goerr.Wrap(err, "failed to verify solution")
		return a.fallback(ctx, stage, err, reject(err.Error()))
	}

	return model.Delta{
		IsCorrect: &v.IsCorrect,
		Critique:  &v.Critique,
		Trace:     tracef(stage, "correctness = %t", v.IsCorrect),
	}
}
