package mentor_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"github.com/m-mizutani/mathmentor/pkg/usecase/mentor"
)

func TestReport(t *testing.T) {
	t.Run("clarification", func(t *testing.T) {
		s := model.NewSessionState(model.NewConfirmedInput("??", model.InputText))
		s.ParsedProblem = &model.ParsedProblem{NeedsClarification: true}
		s.Trace = []string{"parser: input needs clarification"}

		out := mentor.Report(s)
		gt.S(t, out).Contains("ambiguous")
		gt.S(t, out).Contains("- parser: input needs clarification")
	})

	t.Run("verified", func(t *testing.T) {
		s := model.NewSessionState(model.NewConfirmedInput("Integrate x^2 dx", model.InputText))
		s.Category = model.Ptr(model.CategoryCalculation)
		s.CodeSnippet = model.Ptr("print('x^3/3 + C')")
		s.CodeOutput = model.Ptr("x^3/3 + C\n")
		s.FinalAnswer = model.Ptr("x^3/3 + C")
		s.IsCorrect = model.Ptr(true)
		s.Explanation = model.Ptr("Use the power rule.")

		out := mentor.Report(s)
		gt.S(t, out).Contains(mentor.VerificationCaveat)
		gt.S(t, out).Contains("Use the power rule.")
		gt.S(t, out).Contains("```python\nprint('x^3/3 + C')\n```")
	})

	t.Run("rejected shows raw answer and critique", func(t *testing.T) {
		s := model.NewSessionState(model.NewConfirmedInput("What is Bayes theorem?", model.InputText))
		s.RetrievedDocs = []model.RetrievedDoc{{SourceID: "bayes_theorem", Content: "..."}}
		s.FinalAnswer = model.Ptr("P(A|B) = P(A)")
		s.IsCorrect = model.Ptr(false)
		s.Critique = model.Ptr("missing likelihood")

		out := mentor.Report(s)
		gt.S(t, out).Contains("potentially incorrect")
		gt.S(t, out).Contains("missing likelihood")
		gt.S(t, out).Contains("P(A|B) = P(A)")
		gt.S(t, out).Contains("**Sources:** bayes_theorem")
	})
}
