package adapter

import (
	"context"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"google.golang.org/genai"
)

// GeminiClient implements Provider with google.golang.org/genai. It talks to
// Vertex AI when a project is configured and to the Gemini API when an API key
// is set.
type GeminiClient struct {
	mu     sync.RWMutex
	client *genai.Client

	projectID string
	location  string

	generativeModel string
	embeddingModel  string
}

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.generativeModel = model
	}
}

func WithEmbeddingModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingModel = model
	}
}

// WithVertexAI makes the client use Vertex AI with application default credentials
func WithVertexAI(projectID, location string) GeminiOption {
	return func(g *GeminiClient) {
		g.projectID = projectID
		g.location = location
	}
}

// NewGemini creates a Gemini client. apiKey may be empty when WithVertexAI is given.
func NewGemini(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiClient, error) {
	g := &GeminiClient{
		generativeModel: "gemini-2.5-flash",
		embeddingModel:  "gemini-embedding-001",
	}

	for _, opt := range opts {
		opt(g)
	}

	if apiKey == "" && g.projectID == "" {
		return nil, goerr.Wrap(model.ErrCredentialNotConfigured, "gemini api key or project is required")
	}

	if err := g.SetAPIKey(ctx, apiKey); err != nil {
		return nil, err
	}

	return g, nil
}

// SetAPIKey rebuilds the underlying client. An empty key falls back to Vertex AI
// if a project was configured.
func (g *GeminiClient) SetAPIKey(ctx context.Context, apiKey string) error {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if apiKey == "" {
		cfg = &genai.ClientConfig{
			Project:  g.projectID,
			Location: g.location,
			Backend:  genai.BackendVertexAI,
		}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return goerr.Wrap(err, "failed to create genai client")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.client = client
	return nil
}

// ClearAPIKey drops the client; calls fail until SetAPIKey is called again
func (g *GeminiClient) ClearAPIKey() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.client = nil
}

func (g *GeminiClient) current() (*genai.Client, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.client == nil {
		return nil, goerr.Wrap(model.ErrCredentialNotConfigured, "gemini client is not configured")
	}
	return g.client, nil
}

func (g *GeminiClient) baseConfig() *genai.GenerateContentConfig {
	thinkingBudget := int32(0)
	return &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
		ThinkingConfig: &genai.ThinkingConfig{
			ThinkingBudget: &thinkingBudget,
		},
	}
}

func (g *GeminiClient) generate(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error) {
	client, err := g.current()
	if err != nil {
		return "", err
	}

	resp, err := client.Models.GenerateContent(ctx, g.generativeModel, contents, config)
	if err != nil {
		return "", goerr.Wrap(model.ErrCapability.Wrap(err), "failed to generate content",
			goerr.V("model", g.generativeModel))
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", goerr.Wrap(model.ErrCapability, "empty response from gemini", goerr.V("model", g.generativeModel))
	}

	var parts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			parts = append(parts, part.Text)
		}
	}
	return strings.Join(parts, ""), nil
}

func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	return g.generate(ctx, genai.Text(prompt), g.baseConfig())
}

func (g *GeminiClient) GenerateStructured(ctx context.Context, prompt string, out any) error {
	return g.generateStructured(ctx, genai.Text(prompt), out)
}

func (g *GeminiClient) generateStructured(ctx context.Context, contents []*genai.Content, out any) error {
	schema, err := inferSchema(out)
	if err != nil {
		return err
	}

	genaiSchema, err := convertJSONSchemaToGenai(schema.schema)
	if err != nil {
		return goerr.Wrap(err, "failed to convert schema for gemini")
	}

	config := g.baseConfig()
	config.ResponseMIMEType = "application/json"
	config.ResponseSchema = genaiSchema

	text, err := g.generate(ctx, contents, config)
	if err != nil {
		return err
	}

	return schema.decode(text, out)
}

func (g *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	client, err := g.current()
	if err != nil {
		return nil, err
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	resp, err := client.Models.EmbedContent(ctx, g.embeddingModel, contents, &genai.EmbedContentConfig{})
	if err != nil {
		return nil, goerr.Wrap(model.ErrCapability.Wrap(err), "failed to embed content",
			goerr.V("model", g.embeddingModel))
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, goerr.Wrap(model.ErrCapability, "embedding count mismatch",
			goerr.V("expected", len(texts)), goerr.V("actual", len(resp.Embeddings)))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		vectors[i] = e.Values
	}
	return vectors, nil
}

func (g *GeminiClient) TranscribeImage(ctx context.Context, data []byte, mimeType string) (*model.Transcription, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(imageTranscriptionPrompt),
			genai.NewPartFromBytes(data, mimeType),
		}, genai.RoleUser),
	}

	var result model.Transcription
	if err := g.generateStructured(ctx, contents, &result); err != nil {
		return nil, goerr.Wrap(err, "failed to transcribe image")
	}
	return &result, nil
}

func (g *GeminiClient) TranscribeAudio(ctx context.Context, data []byte, filename, hint string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText("Transcribe this audio verbatim. " + hint),
			genai.NewPartFromBytes(data, audioMIMEType(filename)),
		}, genai.RoleUser),
	}

	text, err := g.generate(ctx, contents, g.baseConfig())
	if err != nil {
		return "", goerr.Wrap(err, "failed to transcribe audio", goerr.V("filename", filename))
	}
	return strings.TrimSpace(text), nil
}

func audioMIMEType(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(filename, ".m4a"):
		return "audio/mp4"
	case strings.HasSuffix(filename, ".ogg"):
		return "audio/ogg"
	case strings.HasSuffix(filename, ".flac"):
		return "audio/flac"
	default:
		return "audio/wav"
	}
}
