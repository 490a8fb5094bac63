package model_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mathmentor/pkg/model"
)

func TestApplyMergesOnlyGivenFields(t *testing.T) {
	s := model.NewSessionState(model.NewConfirmedInput("Integrate x^2 dx", model.InputText))
	s.Apply(model.Delta{
		ParsedProblem: &model.ParsedProblem{ProblemText: "integrate x^2 dx", Topic: "Calculus"},
		Trace:         []string{"parser: ok"},
	})
	s.Apply(model.Delta{
		Category: model.Ptr(model.CategoryCalculation),
		Trace:    []string{"router: calculation"},
	})

	gt.V(t, s.ParsedProblem).NotNil()
	gt.Equal(t, s.ParsedProblem.Topic, "Calculus")
	gt.Equal(t, *s.Category, model.CategoryCalculation)
	gt.Equal(t, s.RawInput, "Integrate x^2 dx")
	gt.A(t, s.Trace).Length(2)
	gt.Equal(t, s.Trace[1], "router: calculation")
	gt.V(t, s.FinalAnswer).Nil()
	gt.V(t, s.Explanation).Nil()
}

func TestApplyAppendsRetrievedDocs(t *testing.T) {
	s := model.NewSessionState(model.NewConfirmedInput("What is Bayes theorem?", model.InputText))
	s.Apply(model.Delta{RetrievedDocs: []model.RetrievedDoc{{SourceID: "a.md", Content: "x"}}})
	s.Apply(model.Delta{RetrievedDocs: []model.RetrievedDoc{{SourceID: "b.md", Content: "y"}}})

	gt.A(t, s.RetrievedDocs).Length(2)
	gt.Equal(t, s.RetrievedDocs[0].SourceID, "a.md")
}

func TestDeltaFields(t *testing.T) {
	d := model.Delta{
		CodeSnippet: model.Ptr("print(1)"),
		CodeOutput:  model.Ptr("1\n"),
		Trace:       []string{"solver"},
	}
	gt.Equal(t, d.Fields(), []model.Field{model.FieldCodeSnippet, model.FieldCodeOutput})
	gt.A(t, model.Tracef("x").Fields()).Length(0)
}

func TestCloneIsIndependent(t *testing.T) {
	s := model.NewSessionState(model.NewConfirmedInput("1+1", model.InputText))
	s.Apply(model.Tracef("a"))
	c := s.Clone()
	s.Apply(model.Tracef("b"))

	gt.A(t, c.Trace).Length(1)
	gt.A(t, s.Trace).Length(2)
}

func TestTranscriptionMeanConfidence(t *testing.T) {
	empty := &model.Transcription{}
	gt.Equal(t, empty.MeanConfidence(), 0.0)

	tr := &model.Transcription{Regions: []model.Region{
		{Text: "x^2", Confidence: 0.4},
		{Text: "+ 1", Confidence: 0.8},
	}}
	gt.Number(t, tr.MeanConfidence()).GreaterOrEqual(0.59)
	gt.Equal(t, tr.Text(), "x^2\n+ 1")
}

func TestNewMemoryEntry(t *testing.T) {
	s := model.NewSessionState(model.NewConfirmedInput("1+1", model.InputText))
	s.Apply(model.Delta{
		ParsedProblem: &model.ParsedProblem{ProblemText: "Compute 1+1"},
		FinalAnswer:   model.Ptr("2"),
		IsCorrect:     model.Ptr(true),
	})
	entry := model.NewMemoryEntry(s)
	gt.Equal(t, entry, model.MemoryEntry{Problem: "Compute 1+1", Solution: "2", Verified: true})
}

func TestNewMemoryEntryTrustsConfirmationOverVerifier(t *testing.T) {
	s := model.NewSessionState(model.NewConfirmedInput("2+2", model.InputText))
	s.Apply(model.Delta{
		ParsedProblem: &model.ParsedProblem{ProblemText: "Compute 2+2"},
		FinalAnswer:   model.Ptr("4"),
		IsCorrect:     model.Ptr(false),
	})
	gt.False(t, s.Verified())

	entry := model.NewMemoryEntry(s)
	gt.True(t, entry.Verified)
	gt.Equal(t, entry.Solution, "4")
}
