package model

import "time"

// AuditRecord summarizes one finished run for the audit sink
type AuditRecord struct {
	RunID       string    `bigquery:"run_id" json:"run_id"`
	InputKind   string    `bigquery:"input_kind" json:"input_kind"`
	RawInput    string    `bigquery:"raw_input" json:"raw_input"`
	ProblemText string    `bigquery:"problem_text" json:"problem_text"`
	Category    string    `bigquery:"category" json:"category"`
	FinalAnswer string    `bigquery:"final_answer" json:"final_answer"`
	IsCorrect   bool      `bigquery:"is_correct" json:"is_correct"`
	Explained   bool      `bigquery:"explained" json:"explained"`
	Committed   bool      `bigquery:"committed" json:"committed"`
	Trace       []string  `bigquery:"trace" json:"trace"`
	CreatedAt   time.Time `bigquery:"created_at" json:"created_at"`
}

// NewAuditRecord builds a record from the final state of a run
func NewAuditRecord(s *SessionState, committed bool, now time.Time) *AuditRecord {
	rec := &AuditRecord{
		RunID:       string(s.RunID),
		InputKind:   string(s.InputKind),
		RawInput:    s.RawInput,
		ProblemText: s.ProblemText(),
		IsCorrect:   s.Verified(),
		Explained:   s.Explanation != nil,
		Committed:   committed,
		Trace:       append([]string{}, s.Trace...),
		CreatedAt:   now,
	}
	if s.Category != nil {
		rec.Category = string(*s.Category)
	}
	if s.FinalAnswer != nil {
		rec.FinalAnswer = *s.FinalAnswer
	}
	return rec
}
