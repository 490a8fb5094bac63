package agent

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
)

var fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*[ \t]*\n?(.*?)\n?```\\s*$")

// stripFences removes a surrounding Markdown code fence such as ```python
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// SolveByCode has the model write a program, runs it in the sandbox and
// formats the result. Sandbox failures are kept as "Error: ..." output and
// the run continues.
func (a *Agent) SolveByCode(ctx context.Context, s *model.SessionState) model.Delta {
	const stage = model.StagePythonSolver
	problem := s.ProblemText()

	prompt, err := render("code.md", map[string]any{
		"Problem": problem,
		"Allowed": a.sandbox.AllowedSymbols(),
	})
	if err != nil {
		return a.fallback(ctx, stage, err, model.Delta{})
	}

	generated, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return a.fallback(ctx, stage, goerr.Wrap(err, "failed to generate code"), model.Delta{})
	}
	code := stripFences(generated)

	output, err := a.sandbox.Execute(ctx, code)
	result := "ok"
	if err != nil {
		output = "Error: " + executionMessage(err)
		result = "error"
	}
	a.metrics.Sandbox(result)

	d := model.Delta{
		CodeSnippet: &code,
		CodeOutput:  &output,
	}

	prompt, err = render("format.md", map[string]any{
		"Problem": problem,
		"Code":    code,
		"Output":  output,
	})
	if err != nil {
		return a.fallback(ctx, stage, err, d)
	}

	answer, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return a.fallback(ctx, stage, goerr.Wrap(err, "failed to format answer"), d)
	}

	d.FinalAnswer = model.Ptr(strings.TrimSpace(answer))
	d.Trace = tracef(stage, "executed code (%s)", result)
	return d
}

// executionMessage drops the sentinel text from sandbox errors
func executionMessage(err error) string {
	msg := err.Error()
	if errors.Is(err, model.ErrExecution) {
		msg = strings.TrimSuffix(msg, ": "+model.ErrExecution.Error())
		msg = strings.Replace(msg, ": "+model.ErrExecution.Error()+": ", ": ", 1)
	}
	return msg
}

// SolveByRetrieval answers from knowledge store chunks, which are recorded as
// retrieved_docs.
func (a *Agent) SolveByRetrieval(ctx context.Context, s *model.SessionState) model.Delta {
	const stage = model.StageRAGSolver
	problem := s.ProblemText()

	chunks, err := a.retriever.Query(ctx, problem, a.retrievalK)
	if err != nil {
		return a.fallback(ctx, stage, goerr.Wrap(err, "failed to retrieve context"), model.Delta{})
	}

	docs := make([]model.RetrievedDoc, len(chunks))
	for i, c := range chunks {
		docs[i] = c.AsRetrievedDoc()
	}
	d := model.Delta{RetrievedDocs: docs}

	prompt, err := render("solve.md", map[string]any{
		"Problem": problem,
		"Context": FormatContext(docs),
	})
	if err != nil {
		return a.fallback(ctx, stage, err, d)
	}

	answer, err := a.llm.Generate(ctx, prompt)
	if err != nil {
		return a.fallback(ctx, stage, goerr.Wrap(err, "failed to solve with context"), d)
	}

	d.FinalAnswer = model.Ptr(strings.TrimSpace(answer))
	d.Trace = tracef(stage, "retrieved %d chunks", len(docs))
	return d
}

// FormatContext renders documents as "[Source: id]\ncontent" blocks separated by a blank line
func FormatContext(docs []model.RetrievedDoc) string {
	blocks := make([]string, len(docs))
	for i, doc := range docs {
		blocks[i] = "[Source: " + doc.SourceID + "]\n" + doc.Content
	}
	return strings.Join(blocks, "\n\n")
}
