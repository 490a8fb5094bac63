package model

// ConfirmedInput is problem text that a human has reviewed. input.Confirm
// builds it from the reviewed transcription; the agent graph refuses the zero
// value, so a run cannot start before that step.
type ConfirmedInput struct {
	text string
	kind InputKind
}

// NewConfirmedInput wraps text that was already reviewed. Callers other than
// input.Confirm must have their own review step.
func NewConfirmedInput(text string, kind InputKind) ConfirmedInput {
	return ConfirmedInput{text: text, kind: kind}
}

func (c ConfirmedInput) Text() string    { return c.text }
func (c ConfirmedInput) Kind() InputKind { return c.kind }

// IsZero reports whether c was never confirmed
func (c ConfirmedInput) IsZero() bool {
	return c.text == ""
}

// Region is a block of text recognized in an image
type Region struct {
	Text       string  `json:"text" jsonschema:"Transcribed text of this region"`
	Confidence float64 `json:"confidence" jsonschema:"Recognition confidence between 0 and 1"`
}

// Transcription is the result of image recognition
type Transcription struct {
	Regions []Region `json:"regions" jsonschema:"Detected text regions in reading order"`
}

// Text joins all regions in reading order
func (t *Transcription) Text() string {
	var out string
	for i, r := range t.Regions {
		if i > 0 {
			out += "\n"
		}
		out += r.Text
	}
	return out
}

// MeanConfidence is the average confidence over all regions, 0 when nothing was detected
func (t *Transcription) MeanConfidence() float64 {
	if len(t.Regions) == 0 {
		return 0
	}
	var sum float64
	for _, r := range t.Regions {
		sum += r.Confidence
	}
	return sum / float64(len(t.Regions))
}
