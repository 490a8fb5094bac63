package adapter_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mathmentor/pkg/adapter"
	"github.com/m-mizutani/mathmentor/pkg/model"
)

func newTestGemini(t *testing.T) *adapter.GeminiClient {
	apiKey := os.Getenv("TEST_GEMINI_API_KEY")
	if apiKey == "" {
		t.Skip("TEST_GEMINI_API_KEY is not set")
	}

	client, err := adapter.NewGemini(context.Background(), apiKey)
	gt.NoError(t, err)
	return client
}

func TestGeminiGenerate(t *testing.T) {
	client := newTestGemini(t)
	ctx := context.Background()

	resp, err := client.Generate(ctx, "What is 2 + 3? Answer with the number only.")
	gt.NoError(t, err)
	gt.S(t, resp).Contains("5")
}

func TestGeminiGenerateStructured(t *testing.T) {
	client := newTestGemini(t)
	ctx := context.Background()

	var parsed model.ParsedProblem
	err := client.GenerateStructured(ctx, "Convert into a structured math problem: integrate x squared dx", &parsed)
	gt.NoError(t, err)
	gt.False(t, parsed.NeedsClarification)
	t.Log("parsed:", parsed)
}

func TestGeminiEmbed(t *testing.T) {
	client := newTestGemini(t)
	ctx := context.Background()

	vectors, err := client.Embed(ctx, []string{"quadratic formula", "integration by parts"})
	gt.NoError(t, err)
	gt.A(t, vectors).Length(2)
	gt.A(t, vectors[0]).Longer(0)
}

func TestGeminiClearAPIKey(t *testing.T) {
	client := newTestGemini(t)
	ctx := context.Background()

	client.ClearAPIKey()
	_, err := client.Generate(ctx, "hello")
	gt.True(t, errors.Is(err, model.ErrCredentialNotConfigured))

	gt.NoError(t, client.SetAPIKey(ctx, os.Getenv("TEST_GEMINI_API_KEY")))
	_, err = client.Generate(ctx, "hello")
	gt.NoError(t, err)
}
