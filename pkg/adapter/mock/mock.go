// Package mock provides in-memory stand-ins for the model capabilities.
package mock

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
)

// LLM implements adapter.LLM with function fields. Unset functions fail.
type LLM struct {
	GenerateFunc           func(ctx context.Context, prompt string) (string, error)
	GenerateStructuredFunc func(ctx context.Context, prompt string, out any) error
	EmbedFunc              func(ctx context.Context, texts []string) ([][]float32, error)

	mu      sync.Mutex
	prompts []string
}

func (m *LLM) record(prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
}

// Prompts returns every prompt passed to Generate or GenerateStructured
func (m *LLM) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

func (m *LLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.record(prompt)
	if m.GenerateFunc == nil {
		return "", goerr.Wrap(model.ErrCapability, "GenerateFunc is not set")
	}
	return m.GenerateFunc(ctx, prompt)
}

func (m *LLM) GenerateStructured(ctx context.Context, prompt string, out any) error {
	m.record(prompt)
	if m.GenerateStructuredFunc == nil {
		return goerr.Wrap(model.ErrCapability, "GenerateStructuredFunc is not set")
	}
	return m.GenerateStructuredFunc(ctx, prompt, out)
}

func (m *LLM) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedFunc == nil {
		return HashEmbed(ctx, texts)
	}
	return m.EmbedFunc(ctx, texts)
}

// Respond copies v into out through JSON, the way a real structured response is decoded
func Respond(out any, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// HashDim is the dimension of HashEmbed vectors
const HashDim = 256

// HashEmbed is a deterministic bag-of-words embedding: each lower-cased word
// is hashed into one of HashDim buckets. Texts sharing words get a positive
// cosine similarity, which is enough to test retrieval ranking offline.
func HashEmbed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, HashDim)
		words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			v[h.Sum32()%HashDim]++
		}
		vectors[i] = v
	}
	return vectors, nil
}

// Transcriber implements adapter.Transcriber with function fields
type Transcriber struct {
	TranscribeImageFunc func(ctx context.Context, data []byte, mimeType string) (*model.Transcription, error)
	TranscribeAudioFunc func(ctx context.Context, data []byte, filename, hint string) (string, error)
}

func (m *Transcriber) TranscribeImage(ctx context.Context, data []byte, mimeType string) (*model.Transcription, error) {
	if m.TranscribeImageFunc == nil {
		return nil, goerr.Wrap(model.ErrCapability, "TranscribeImageFunc is not set")
	}
	return m.TranscribeImageFunc(ctx, data, mimeType)
}

func (m *Transcriber) TranscribeAudio(ctx context.Context, data []byte, filename, hint string) (string, error) {
	if m.TranscribeAudioFunc == nil {
		return "", goerr.Wrap(model.ErrCapability, "TranscribeAudioFunc is not set")
	}
	return m.TranscribeAudioFunc(ctx, data, filename, hint)
}
