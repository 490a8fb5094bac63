package model

import (
	"github.com/google/uuid"
)

type RunID string

// NewRunID generates a new unique RunID
func NewRunID() RunID {
	return RunID(uuid.New().String())
}

// InputKind is the provenance of raw input
type InputKind string

const (
	InputText  InputKind = "text"
	InputImage InputKind = "image"
	InputAudio InputKind = "audio"
)

// Valid reports whether k is one of the known input kinds
func (k InputKind) Valid() bool {
	switch k {
	case InputText, InputImage, InputAudio:
		return true
	}
	return false
}

// Category is the router's decision for a parsed problem
type Category string

const (
	CategoryCalculation Category = "calculation"
	CategoryConceptual  Category = "conceptual"
)

// ParsedProblem is the structured result of the parser stage
type ParsedProblem struct {
	ProblemText        string `json:"problem_text" jsonschema:"Clean math problem text"`
	Topic              string `json:"topic" jsonschema:"Math topic e.g. Calculus, Algebra"`
	NeedsClarification bool   `json:"needs_clarification" jsonschema:"True if input is ambiguous or nonsensical"`
}

// RetrievedDoc is a labeled chunk used as evidence by the retrieval solver
type RetrievedDoc struct {
	SourceID string `json:"source_id"`
	Content  string `json:"content"`
}

// SessionState is the record threaded through the agent graph for a single run.
// Only the graph runner mutates it, by applying stage deltas.
type SessionState struct {
	RunID         RunID          `json:"run_id"`
	RawInput      string         `json:"raw_input"`
	InputKind     InputKind      `json:"input_kind"`
	ParsedProblem *ParsedProblem `json:"parsed_problem,omitempty"`
	Category      *Category      `json:"problem_category,omitempty"`
	RetrievedDocs []RetrievedDoc `json:"retrieved_docs,omitempty"`
	CodeSnippet   *string        `json:"code_snippet,omitempty"`
	CodeOutput    *string        `json:"code_output,omitempty"`
	FinalAnswer   *string        `json:"final_answer,omitempty"`
	IsCorrect     *bool          `json:"is_correct,omitempty"`
	Critique      *string        `json:"critique,omitempty"`
	Explanation   *string        `json:"explanation,omitempty"`
	Trace         []string       `json:"trace"`
}

// NewSessionState creates the initial state for a confirmed input
func NewSessionState(in ConfirmedInput) *SessionState {
	return &SessionState{
		RunID:     NewRunID(),
		RawInput:  in.Text(),
		InputKind: in.Kind(),
		Trace:     []string{},
	}
}

// ProblemText returns the parsed problem text, falling back to raw input
func (s *SessionState) ProblemText() string {
	if s.ParsedProblem != nil && s.ParsedProblem.ProblemText != "" {
		return s.ParsedProblem.ProblemText
	}
	return s.RawInput
}

// NeedsClarification reports whether the parser gave up on the input
func (s *SessionState) NeedsClarification() bool {
	return s.ParsedProblem != nil && s.ParsedProblem.NeedsClarification
}

// Verified reports whether the verifier accepted the final answer
func (s *SessionState) Verified() bool {
	return s.IsCorrect != nil && *s.IsCorrect
}

// Completed reports whether the run reached an explanation
func (s *SessionState) Completed() bool {
	return s.Verified() && s.Explanation != nil
}

// Clone returns a deep copy so that callers can observe a snapshot without sharing slices
func (s *SessionState) Clone() *SessionState {
	c := *s
	if s.ParsedProblem != nil {
		p := *s.ParsedProblem
		c.ParsedProblem = &p
	}
	c.RetrievedDocs = append([]RetrievedDoc(nil), s.RetrievedDocs...)
	c.Trace = append([]string(nil), s.Trace...)
	return &c
}
