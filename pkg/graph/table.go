// Package graph runs the tutor pipeline as a finite state machine. Transitions
// are declared in a Table so routing can be tested without any model call.
package graph

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
)

// Predicate inspects the state after the From stage has been applied
type Predicate func(s *model.SessionState) bool

// Transition moves from one stage to the next when its predicate holds
type Transition struct {
	From model.Stage
	When Predicate
	To   model.Stage
}

// Table is evaluated in order; the first matching transition wins
type Table []Transition

// Always matches any state
func Always(*model.SessionState) bool { return true }

func needsClarification(s *model.SessionState) bool {
	return s.ParsedProblem == nil || s.NeedsClarification()
}

func categoryMissing(s *model.SessionState) bool {
	return s.Category == nil
}

func isCalculation(s *model.SessionState) bool {
	return s.Category != nil && *s.Category == model.CategoryCalculation
}

func verified(s *model.SessionState) bool {
	return s.Verified()
}

// DefaultTable is the tutor pipeline:
//
//	parser -> END when clarification is needed, otherwise router
//	router -> END when no category was decided
//	router -> python_solver for calculations, rag_solver for anything else
//	python_solver, rag_solver -> verifier
//	verifier -> explainer when the answer is correct, otherwise END
//	explainer -> END
func DefaultTable() Table {
	return Table{
		{From: model.StageParser, When: needsClarification, To: model.StageEnd},
		{From: model.StageParser, When: Always, To: model.StageRouter},

		{From: model.StageRouter, When: categoryMissing, To: model.StageEnd},
		{From: model.StageRouter, When: isCalculation, To: model.StagePythonSolver},
		{From: model.StageRouter, When: Always, To: model.StageRAGSolver},

		{From: model.StagePythonSolver, When: Always, To: model.StageVerifier},
		{From: model.StageRAGSolver, When: Always, To: model.StageVerifier},

		{From: model.StageVerifier, When: verified, To: model.StageExplainer},
		{From: model.StageVerifier, When: Always, To: model.StageEnd},

		{From: model.StageExplainer, When: Always, To: model.StageEnd},
	}
}

// Next returns the stage that follows from for state s
func (t Table) Next(from model.Stage, s *model.SessionState) (model.Stage, error) {
	for _, tr := range t {
		if tr.From == from && tr.When(s) {
			return tr.To, nil
		}
	}
	return model.StageEnd, goerr.New("no transition matched", goerr.V("from", from))
}

// Stages returns every stage that appears in the table except END
func (t Table) Stages() []model.Stage {
	seen := map[model.Stage]bool{}
	var stages []model.Stage
	for _, tr := range t {
		for _, s := range []model.Stage{tr.From, tr.To} {
			if s != model.StageEnd && !seen[s] {
				seen[s] = true
				stages = append(stages, s)
			}
		}
	}
	return stages
}

// ownership lists the state fields each stage may set
var ownership = map[model.Stage][]model.Field{
	model.StageParser:       {model.FieldParsedProblem},
	model.StageRouter:       {model.FieldCategory},
	model.StagePythonSolver: {model.FieldCodeSnippet, model.FieldCodeOutput, model.FieldFinalAnswer},
	model.StageRAGSolver:    {model.FieldRetrievedDocs, model.FieldFinalAnswer},
	model.StageVerifier:     {model.FieldIsCorrect, model.FieldCritique},
	model.StageExplainer:    {model.FieldExplanation},
}

// Owns reports whether stage may set field
func Owns(stage model.Stage, field model.Field) bool {
	for _, f := range ownership[stage] {
		if f == field {
			return true
		}
	}
	return false
}

// checkOwnership returns the fields of d that stage does not own
func checkOwnership(stage model.Stage, d model.Delta) []model.Field {
	var foreign []model.Field
	for _, f := range d.Fields() {
		if !Owns(stage, f) {
			foreign = append(foreign, f)
		}
	}
	return foreign
}
