package model

// Stage is a node of the agent graph
type Stage string

const (
	StageParser       Stage = "parser"
	StageRouter       Stage = "router"
	StagePythonSolver Stage = "python_solver"
	StageRAGSolver    Stage = "rag_solver"
	StageVerifier     Stage = "verifier"
	StageExplainer    Stage = "explainer"
	StageEnd          Stage = "END"
)

// Field names a SessionState field that a stage may produce
type Field string

const (
	FieldParsedProblem Field = "parsed_problem"
	FieldCategory      Field = "problem_category"
	FieldRetrievedDocs Field = "retrieved_docs"
	FieldCodeSnippet   Field = "code_snippet"
	FieldCodeOutput    Field = "code_output"
	FieldFinalAnswer   Field = "final_answer"
	FieldIsCorrect     Field = "is_correct"
	FieldCritique      Field = "critique"
	FieldExplanation   Field = "explanation"
)

// Delta is the partial state produced by one stage. Nil fields are untouched,
// RetrievedDocs and Trace are appended.
type Delta struct {
	ParsedProblem *ParsedProblem `json:"parsed_problem,omitempty"`
	Category      *Category      `json:"problem_category,omitempty"`
	RetrievedDocs []RetrievedDoc `json:"retrieved_docs,omitempty"`
	CodeSnippet   *string        `json:"code_snippet,omitempty"`
	CodeOutput    *string        `json:"code_output,omitempty"`
	FinalAnswer   *string        `json:"final_answer,omitempty"`
	IsCorrect     *bool          `json:"is_correct,omitempty"`
	Critique      *string        `json:"critique,omitempty"`
	Explanation   *string        `json:"explanation,omitempty"`
	Trace         []string       `json:"trace,omitempty"`
}

// Fields lists the state fields this delta sets, trace excluded
func (d Delta) Fields() []Field {
	var fields []Field
	if d.ParsedProblem != nil {
		fields = append(fields, FieldParsedProblem)
	}
	if d.Category != nil {
		fields = append(fields, FieldCategory)
	}
	if len(d.RetrievedDocs) > 0 {
		fields = append(fields, FieldRetrievedDocs)
	}
	if d.CodeSnippet != nil {
		fields = append(fields, FieldCodeSnippet)
	}
	if d.CodeOutput != nil {
		fields = append(fields, FieldCodeOutput)
	}
	if d.FinalAnswer != nil {
		fields = append(fields, FieldFinalAnswer)
	}
	if d.IsCorrect != nil {
		fields = append(fields, FieldIsCorrect)
	}
	if d.Critique != nil {
		fields = append(fields, FieldCritique)
	}
	if d.Explanation != nil {
		fields = append(fields, FieldExplanation)
	}
	return fields
}

// Tracef returns a delta that only appends a trace line
func Tracef(line string) Delta {
	return Delta{Trace: []string{line}}
}

// Apply merges d into s with set-or-append semantics. Fields absent from d are
// left as they are.
func (s *SessionState) Apply(d Delta) {
	if d.ParsedProblem != nil {
		p := *d.ParsedProblem
		s.ParsedProblem = &p
	}
	if d.Category != nil {
		c := *d.Category
		s.Category = &c
	}
	s.RetrievedDocs = append(s.RetrievedDocs, d.RetrievedDocs...)
	if d.CodeSnippet != nil {
		s.CodeSnippet = ptr(*d.CodeSnippet)
	}
	if d.CodeOutput != nil {
		s.CodeOutput = ptr(*d.CodeOutput)
	}
	if d.FinalAnswer != nil {
		s.FinalAnswer = ptr(*d.FinalAnswer)
	}
	if d.IsCorrect != nil {
		s.IsCorrect = ptr(*d.IsCorrect)
	}
	if d.Critique != nil {
		s.Critique = ptr(*d.Critique)
	}
	if d.Explanation != nil {
		s.Explanation = ptr(*d.Explanation)
	}
	s.Trace = append(s.Trace, d.Trace...)
}

func ptr[T any](v T) *T {
	return &v
}

// Ptr returns a pointer to a copy of v. Stages use it to fill optional delta fields.
func Ptr[T any](v T) *T {
	return ptr(v)
}
