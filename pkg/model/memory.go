package model

// MemoryEntry is an accepted solution committed by explicit user confirmation
type MemoryEntry struct {
	Problem  string `json:"problem"`
	Solution string `json:"solution"`
	Verified bool   `json:"verified"`
}

// NewMemoryEntry builds an entry from a run the user confirmed as accurate.
// The confirmation marks the entry verified; the verifier's own verdict is
// kept in the audit record.
func NewMemoryEntry(s *SessionState) MemoryEntry {
	entry := MemoryEntry{
		Problem:  s.ProblemText(),
		Verified: true,
	}
	if s.FinalAnswer != nil {
		entry.Solution = *s.FinalAnswer
	}
	return entry
}
