package agent

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
)

// Parse turns raw input into a ParsedProblem. On any failure the problem is
// marked as needing clarification.
func (a *Agent) Parse(ctx context.Context, s *model.SessionState) model.Delta {
	clarify := model.Delta{
		ParsedProblem: &model.ParsedProblem{ProblemText: s.RawInput, NeedsClarification: true},
	}

	prompt, err := render("parse.md", map[string]any{"Input": s.RawInput})
	if err != nil {
		return a.fallback(ctx, model.StageParser, err, clarify)
	}

	var parsed model.ParsedProblem
	if err := a.llm.GenerateStructured(ctx, prompt, &parsed); err != nil {
		return a.fallback(ctx, model.StageParser, goerr.Wrap(err, "failed to parse input"), clarify)
	}

	parsed.ProblemText = strings.TrimSpace(parsed.ProblemText)
	if parsed.ProblemText == "" && !parsed.NeedsClarification {
		return a.fallback(ctx, model.StageParser,
			goerr.Wrap(model.ErrParseAmbiguity, "parser returned an empty problem"), clarify)
	}

	if parsed.NeedsClarification {
		if parsed.ProblemText == "" {
			parsed.ProblemText = s.RawInput
		}
		return model.Delta{
			ParsedProblem: &parsed,
			Trace:         tracef(model.StageParser, "input needs clarification"),
		}
	}

	return model.Delta{
		ParsedProblem: &parsed,
		Trace:         tracef(model.StageParser, "parsed input (topic: %s)", parsed.Topic),
	}
}
