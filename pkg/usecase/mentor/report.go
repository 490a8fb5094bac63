package mentor

import (
	"fmt"
	"strings"

	"github.com/m-mizutani/mathmentor/pkg/model"
)

// VerificationCaveat is shown with every verdict
const VerificationCaveat = "Verification is a model judgment, not a proof."

// Report renders the outcome of a run as Markdown
func Report(s *model.SessionState) string {
	var b strings.Builder

	switch {
	case s.NeedsClarification():
		b.WriteString("⚠️ The problem is ambiguous. Please edit the input and try again.\n")

	case s.FinalAnswer == nil:
		b.WriteString("⚠️ No answer could be produced.\n")

	default:
		if s.Category != nil {
			fmt.Fprintf(&b, "**Category:** %s\n\n", *s.Category)
		}
		if s.CodeSnippet != nil {
			fmt.Fprintf(&b, "**Program:**\n\n```python\n%s\n```\n\n", *s.CodeSnippet)
		}
		if s.CodeOutput != nil {
			fmt.Fprintf(&b, "**Output:**\n\n```\n%s\n```\n\n", strings.TrimRight(*s.CodeOutput, "\n"))
		}
		if len(s.RetrievedDocs) > 0 {
			sources := make([]string, len(s.RetrievedDocs))
			for i, d := range s.RetrievedDocs {
				sources[i] = d.SourceID
			}
			fmt.Fprintf(&b, "**Sources:** %s\n\n", strings.Join(sources, ", "))
		}

		if s.Verified() {
			fmt.Fprintf(&b, "✅ **Verified.** %s\n\n", VerificationCaveat)
		} else {
			b.WriteString("⚠️ **The verifier flagged this solution as potentially incorrect.** Please review the logic.\n\n")
			if s.Critique != nil && *s.Critique != "" {
				fmt.Fprintf(&b, "**Critique:** %s\n\n", *s.Critique)
			}
		}

		if s.Explanation != nil {
			b.WriteString(*s.Explanation)
		} else {
			b.WriteString(*s.FinalAnswer)
		}
		b.WriteString("\n")
	}

	if len(s.Trace) > 0 {
		b.WriteString("\n**Trace:**\n")
		for _, line := range s.Trace {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	return b.String()
}
