package graph_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mathmentor/pkg/graph"
	"github.com/m-mizutani/mathmentor/pkg/metrics"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func input(text string) model.ConfirmedInput {
	return model.NewConfirmedInput(text, model.InputText)
}

// script builds stages from canned deltas and counts invocations
type script struct {
	deltas map[model.Stage]model.Delta
	calls  map[model.Stage]*atomic.Int32
}

func newScript(deltas map[model.Stage]model.Delta) *script {
	s := &script{deltas: deltas, calls: map[model.Stage]*atomic.Int32{}}
	for _, stage := range graph.DefaultTable().Stages() {
		s.calls[stage] = &atomic.Int32{}
	}
	return s
}

func (s *script) stages() graph.Stages {
	stages := graph.Stages{}
	for stage := range s.calls {
		stages[stage] = func(ctx context.Context, st *model.SessionState) model.Delta {
			s.calls[stage].Add(1)
			d := s.deltas[stage]
			d.Trace = append([]string{string(stage) + ": ran"}, d.Trace...)
			return d
		}
	}
	return stages
}

func (s *script) called(stage model.Stage) int {
	return int(s.calls[stage].Load())
}

func happyDeltas(category model.Category) map[model.Stage]model.Delta {
	return map[model.Stage]model.Delta{
		model.StageParser:       {ParsedProblem: &model.ParsedProblem{ProblemText: "p", Topic: "Algebra"}},
		model.StageRouter:       {Category: &category},
		model.StagePythonSolver: {CodeSnippet: model.Ptr("print(4)"), CodeOutput: model.Ptr("4\n"), FinalAnswer: model.Ptr("4")},
		model.StageRAGSolver:    {RetrievedDocs: []model.RetrievedDoc{{SourceID: "s", Content: "c"}}, FinalAnswer: model.Ptr("4")},
		model.StageVerifier:     {IsCorrect: model.Ptr(true), Critique: model.Ptr("ok")},
		model.StageExplainer:    {Explanation: model.Ptr("because")},
	}
}

func stagesOf(t *testing.T, r *graph.Runner, in model.ConfirmedInput) []model.Stage {
	t.Helper()
	var stages []model.Stage
	for stage := range r.Run(context.Background(), in) {
		stages = append(stages, stage)
	}
	return stages
}

func TestDefaultTable(t *testing.T) {
	table := graph.DefaultTable()
	calc := model.CategoryCalculation
	concept := model.CategoryConceptual

	testCases := map[string]struct {
		from  model.Stage
		state model.SessionState
		want  model.Stage
	}{
		"parser clarification": {
			from:  model.StageParser,
			state: model.SessionState{ParsedProblem: &model.ParsedProblem{NeedsClarification: true}},
			want:  model.StageEnd,
		},
		"parser ok": {
			from:  model.StageParser,
			state: model.SessionState{ParsedProblem: &model.ParsedProblem{ProblemText: "p"}},
			want:  model.StageRouter,
		},
		"router calculation": {
			from:  model.StageRouter,
			state: model.SessionState{Category: &calc},
			want:  model.StagePythonSolver,
		},
		"router conceptual": {
			from:  model.StageRouter,
			state: model.SessionState{Category: &concept},
			want:  model.StageRAGSolver,
		},
		"router failed": {
			from: model.StageRouter,
			want: model.StageEnd,
		},
		"code solver": {
			from: model.StagePythonSolver,
			want: model.StageVerifier,
		},
		"retrieval solver": {
			from: model.StageRAGSolver,
			want: model.StageVerifier,
		},
		"verified": {
			from:  model.StageVerifier,
			state: model.SessionState{IsCorrect: model.Ptr(true)},
			want:  model.StageExplainer,
		},
		"rejected": {
			from:  model.StageVerifier,
			state: model.SessionState{IsCorrect: model.Ptr(false)},
			want:  model.StageEnd,
		},
		"explainer": {
			from: model.StageExplainer,
			want: model.StageEnd,
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got, err := table.Next(tc.from, &tc.state)
			gt.NoError(t, err)
			gt.Equal(t, got, tc.want)
		})
	}

	_, err := table.Next(model.Stage("unknown"), &model.SessionState{})
	gt.Error(t, err)
}

func TestOwnership(t *testing.T) {
	gt.True(t, graph.Owns(model.StageParser, model.FieldParsedProblem))
	gt.False(t, graph.Owns(model.StageRouter, model.FieldParsedProblem))
	gt.True(t, graph.Owns(model.StageRAGSolver, model.FieldFinalAnswer))
	gt.True(t, graph.Owns(model.StagePythonSolver, model.FieldFinalAnswer))
	gt.False(t, graph.Owns(model.StageVerifier, model.FieldExplanation))
}

func TestNewRequiresEveryStage(t *testing.T) {
	_, err := graph.New(graph.Stages{})
	gt.Error(t, err)
}

func TestRunCustomTable(t *testing.T) {
	// answers without verification or explanation
	table := graph.Table{
		{From: model.StageParser, When: graph.Always, To: model.StagePythonSolver},
		{From: model.StagePythonSolver, When: graph.Always, To: model.StageEnd},
	}
	stages := newScript(happyDeltas(model.CategoryCalculation)).stages()

	t.Run("follows the table", func(t *testing.T) {
		s := newScript(happyDeltas(model.CategoryCalculation))
		r, err := graph.New(s.stages(), graph.WithTable(table))
		gt.NoError(t, err)

		gt.Equal(t, stagesOf(t, r, input("2+2")), []model.Stage{model.StageParser, model.StagePythonSolver})
		gt.Equal(t, s.called(model.StageRouter), 0)
		gt.Equal(t, s.called(model.StageVerifier), 0)
	})

	t.Run("needs only the stages it names", func(t *testing.T) {
		_, err := graph.New(graph.Stages{
			model.StageParser:       stages[model.StageParser],
			model.StagePythonSolver: stages[model.StagePythonSolver],
		}, graph.WithTable(table))
		gt.NoError(t, err)

		_, err = graph.New(graph.Stages{model.StageParser: stages[model.StageParser]}, graph.WithTable(table))
		gt.Error(t, err)
	})
}

func TestRunCalculationPath(t *testing.T) {
	s := newScript(happyDeltas(model.CategoryCalculation))
	r, err := graph.New(s.stages())
	gt.NoError(t, err)

	gt.Equal(t, stagesOf(t, r, input("2+2")), []model.Stage{
		model.StageParser, model.StageRouter, model.StagePythonSolver, model.StageVerifier, model.StageExplainer,
	})
	gt.Equal(t, s.called(model.StageRAGSolver), 0)

	state, err := r.Execute(context.Background(), input("2+2"))
	gt.NoError(t, err)
	gt.True(t, state.Completed())
	gt.V(t, state.CodeSnippet).NotNil()
	gt.A(t, state.RetrievedDocs).Length(0)
	gt.A(t, state.Trace).Length(5)
}

func TestRunConceptualPath(t *testing.T) {
	s := newScript(happyDeltas(model.CategoryConceptual))
	r, err := graph.New(s.stages())
	gt.NoError(t, err)

	state, err := r.Execute(context.Background(), input("What is a derivative?"))
	gt.NoError(t, err)
	gt.Equal(t, s.called(model.StagePythonSolver), 0)
	gt.Equal(t, s.called(model.StageRAGSolver), 1)
	gt.V(t, state.CodeSnippet).Nil()
	gt.V(t, state.CodeOutput).Nil()
	gt.A(t, state.RetrievedDocs).Length(1)
}

func TestRunClarificationShortCircuit(t *testing.T) {
	deltas := happyDeltas(model.CategoryCalculation)
	deltas[model.StageParser] = model.Delta{ParsedProblem: &model.ParsedProblem{NeedsClarification: true}}
	s := newScript(deltas)
	r, err := graph.New(s.stages())
	gt.NoError(t, err)

	state, err := r.Execute(context.Background(), input("blah"))
	gt.NoError(t, err)
	gt.True(t, state.NeedsClarification())
	gt.V(t, state.Category).Nil()
	gt.V(t, state.FinalAnswer).Nil()
	gt.V(t, state.IsCorrect).Nil()
	gt.V(t, state.Explanation).Nil()
	gt.A(t, state.RetrievedDocs).Length(0)
	gt.Equal(t, s.called(model.StageRouter), 0)
}

func TestRunRejectedHasNoExplanation(t *testing.T) {
	deltas := happyDeltas(model.CategoryCalculation)
	deltas[model.StageVerifier] = model.Delta{IsCorrect: model.Ptr(false), Critique: model.Ptr("wrong sign")}
	s := newScript(deltas)
	r, err := graph.New(s.stages())
	gt.NoError(t, err)

	state, err := r.Execute(context.Background(), input("2+2"))
	gt.NoError(t, err)
	gt.False(t, state.Verified())
	gt.V(t, state.Explanation).Nil()
	gt.Equal(t, s.called(model.StageExplainer), 0)
	gt.Equal(t, *state.Critique, "wrong sign")
}

func TestRunRouterFailureEnds(t *testing.T) {
	deltas := happyDeltas(model.CategoryCalculation)
	deltas[model.StageRouter] = model.Tracef("router: model unavailable")
	s := newScript(deltas)
	m := metrics.New()
	r, err := graph.New(s.stages(), graph.WithMetrics(m))
	gt.NoError(t, err)

	state, err := r.Execute(context.Background(), input("2+2"))
	gt.NoError(t, err)
	gt.V(t, state.Category).Nil()
	gt.Equal(t, s.called(model.StagePythonSolver), 0)
	gt.Equal(t, s.called(model.StageRAGSolver), 0)
	gt.Equal(t, state.Trace[len(state.Trace)-1], "router: model unavailable")
	gt.Equal(t, testutil.ToFloat64(m.RunsTotal.WithLabelValues(graph.OutcomeAborted)), 1.0)
}

func TestRunRejectsForeignFields(t *testing.T) {
	deltas := happyDeltas(model.CategoryCalculation)
	// the router tries to overwrite the parsed problem
	deltas[model.StageRouter] = model.Delta{
		Category:      model.Ptr(model.CategoryCalculation),
		ParsedProblem: &model.ParsedProblem{ProblemText: "other"},
	}
	s := newScript(deltas)
	r, err := graph.New(s.stages())
	gt.NoError(t, err)

	var last model.Stage
	var lastDelta model.Delta
	for stage, d := range r.Run(context.Background(), input("2+2")) {
		last, lastDelta = stage, d
	}
	gt.Equal(t, last, model.StageEnd)
	gt.S(t, lastDelta.Trace[0]).Contains("router set fields it does not own")
	gt.Equal(t, s.called(model.StagePythonSolver), 0)

	state, err := r.Execute(context.Background(), input("2+2"))
	gt.NoError(t, err)
	gt.Equal(t, state.ParsedProblem.ProblemText, "p")
	gt.V(t, state.Category).Nil()
}

func TestRunIsLazyAndRestartable(t *testing.T) {
	s := newScript(happyDeltas(model.CategoryConceptual))
	r, err := graph.New(s.stages())
	gt.NoError(t, err)

	seq := r.Run(context.Background(), input("What is pi?"))
	gt.Equal(t, s.called(model.StageParser), 0)

	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}
	gt.Equal(t, first, 5)
	gt.Equal(t, second, 5)
	gt.Equal(t, s.called(model.StageParser), 2)
}

func TestRunStopsWhenConsumerBreaks(t *testing.T) {
	s := newScript(happyDeltas(model.CategoryCalculation))
	r, err := graph.New(s.stages())
	gt.NoError(t, err)

	for stage := range r.Run(context.Background(), input("2+2")) {
		if stage == model.StageRouter {
			break
		}
	}
	gt.Equal(t, s.called(model.StageRouter), 1)
	gt.Equal(t, s.called(model.StagePythonSolver), 0)
}

func TestRunCancelled(t *testing.T) {
	s := newScript(happyDeltas(model.CategoryCalculation))
	r, err := graph.New(s.stages())
	gt.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var trace []string
	for _, d := range r.Run(ctx, input("2+2")) {
		trace = append(trace, d.Trace...)
	}
	gt.Equal(t, s.called(model.StageParser), 0)
	gt.A(t, trace).Length(1)
	gt.True(t, strings.HasPrefix(trace[0], "graph: "))
}

func TestRunStageTimeout(t *testing.T) {
	s := newScript(happyDeltas(model.CategoryCalculation))
	stages := s.stages()
	stages[model.StageParser] = func(ctx context.Context, st *model.SessionState) model.Delta {
		<-ctx.Done()
		return model.Delta{
			ParsedProblem: &model.ParsedProblem{NeedsClarification: true},
			Trace:         []string{"parser: " + ctx.Err().Error()},
		}
	}
	r, err := graph.New(stages, graph.WithStageTimeout(10*time.Millisecond))
	gt.NoError(t, err)

	state, err := r.Execute(context.Background(), input("2+2"))
	gt.NoError(t, err)
	gt.True(t, state.NeedsClarification())
	gt.S(t, state.Trace[0]).Contains("deadline exceeded")
}

func TestRunUnconfirmedInput(t *testing.T) {
	s := newScript(happyDeltas(model.CategoryCalculation))
	r, err := graph.New(s.stages())
	gt.NoError(t, err)

	gt.True(t, model.ConfirmedInput{}.IsZero())
	_, err = r.Execute(context.Background(), model.ConfirmedInput{})
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrParseAmbiguity))

	stages := stagesOf(t, r, model.ConfirmedInput{})
	gt.Equal(t, stages, []model.Stage{model.StageEnd})
	gt.Equal(t, s.called(model.StageParser), 0)
}

func TestStagesDoNotMutateState(t *testing.T) {
	s := newScript(happyDeltas(model.CategoryCalculation))
	stages := s.stages()
	stages[model.StageRouter] = func(ctx context.Context, st *model.SessionState) model.Delta {
		st.ParsedProblem.ProblemText = "mutated"
		st.Trace = append(st.Trace, "sneaky")
		return model.Delta{Category: model.Ptr(model.CategoryCalculation)}
	}
	r, err := graph.New(stages)
	gt.NoError(t, err)

	state, err := r.Execute(context.Background(), input("2+2"))
	gt.NoError(t, err)
	gt.Equal(t, state.ParsedProblem.ProblemText, "p")
	for _, line := range state.Trace {
		gt.False(t, line == "sneaky")
	}
}
