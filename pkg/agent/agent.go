// Package agent implements the stages of the tutor pipeline. Every stage
// catches its own failures: the error goes to the trace and the delta carries
// a terminal outcome, so a stage never aborts a run.
package agent

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/adapter"
	"github.com/m-mizutani/mathmentor/pkg/graph"
	"github.com/m-mizutani/mathmentor/pkg/metrics"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"github.com/m-mizutani/mathmentor/pkg/utils/logging"
)

//go:embed prompt/*.md
var promptFS embed.FS

var prompts = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"join": strings.Join,
}).ParseFS(promptFS, "prompt/*.md"))

func render(name string, data map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", goerr.Wrap(err, "failed to render prompt", goerr.V("name", name))
	}
	return buf.String(), nil
}

// Notation selects how explanations write math
type Notation string

const (
	NotationLaTeX Notation = "latex"
	NotationPlain Notation = "plain"
)

func ParseNotation(s string) (Notation, error) {
	switch n := Notation(strings.ToLower(strings.TrimSpace(s))); n {
	case NotationLaTeX, NotationPlain:
		return n, nil
	case "":
		return NotationLaTeX, nil
	default:
		return "", goerr.New("unknown notation, use latex or plain", goerr.V("notation", s))
	}
}

// Sandbox runs generated code
type Sandbox interface {
	Execute(ctx context.Context, code string) (string, error)
	AllowedSymbols() []string
}

// Retriever looks up reference material
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]model.Chunk, error)
}

const DefaultRetrievalK = 5

// Agent holds the dependencies shared by all stages
type Agent struct {
	llm       adapter.LLM
	sandbox   Sandbox
	retriever Retriever

	notation   Notation
	retrievalK int
	metrics    *metrics.Metrics
}

type Option func(*Agent)

func WithNotation(n Notation) Option {
	return func(a *Agent) {
		a.notation = n
	}
}

func WithRetrievalK(k int) Option {
	return func(a *Agent) {
		if k > 0 {
			a.retrievalK = k
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) {
		a.metrics = m
	}
}

func New(llm adapter.LLM, sandbox Sandbox, retriever Retriever, opts ...Option) *Agent {
	a := &Agent{
		llm:        llm,
		sandbox:    sandbox,
		retriever:  retriever,
		notation:   NotationLaTeX,
		retrievalK: DefaultRetrievalK,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Stages returns the stage implementations for graph.New
func (a *Agent) Stages() graph.Stages {
	return graph.Stages{
		model.StageParser:       a.Parse,
		model.StageRouter:       a.Route,
		model.StagePythonSolver: a.SolveByCode,
		model.StageRAGSolver:    a.SolveByRetrieval,
		model.StageVerifier:     a.Verify,
		model.StageExplainer:    a.Explain,
	}
}

// fallback records err as the stage's trace entry on top of d
func (a *Agent) fallback(ctx context.Context, stage model.Stage, err error, d model.Delta) model.Delta {
	logging.From(ctx).Warn("stage failed", "stage", stage, "error", err)
	a.metrics.Fallback(string(stage))
	d.Trace = append(d.Trace, fmt.Sprintf("%s: %s", stage, err.Error()))
	return d
}

func tracef(stage model.Stage, format string, args ...any) []string {
	return []string{fmt.Sprintf("%s: ", stage) + fmt.Sprintf(format, args...)}
}
