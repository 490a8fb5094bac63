package adapter

import (
	"context"

	"github.com/m-mizutani/mathmentor/pkg/model"
)

// LLM is the language model capability used by the agent stages and the
// knowledge store. Implementations run with temperature 0.
type LLM interface {
	// Generate returns free text for the prompt
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateStructured asks for JSON conforming to the schema inferred from
	// out (a pointer to a struct) and decodes it into out. A response that does
	// not match the schema fails with model.ErrSchemaViolation.
	GenerateStructured(ctx context.Context, prompt string, out any) error

	// Embed returns one embedding vector per input text
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Transcriber is the OCR/ASR capability used by the input normalizer
type Transcriber interface {
	TranscribeImage(ctx context.Context, data []byte, mimeType string) (*model.Transcription, error)
	TranscribeAudio(ctx context.Context, data []byte, filename, hint string) (string, error)
}

// Credentialed backends accept a new API key, or drop the current one, without
// a process restart.
type Credentialed interface {
	SetAPIKey(ctx context.Context, apiKey string) error
	ClearAPIKey()
}

// Provider bundles every model capability a backend offers
type Provider interface {
	LLM
	Transcriber
	Credentialed
}

const imageTranscriptionPrompt = `Transcribe the math problem in this image.
Return every text region you detect in reading order. Write formulas in plain text
(for example x^2, sqrt(x), integral of x dx). For each region give a confidence between
0 and 1 reflecting how sure you are about the transcription.`
