package adapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"math"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Provider with the OpenAI API
type OpenAIClient struct {
	mu     sync.RWMutex
	client *openai.Client

	baseURL         string
	generativeModel string
	embeddingModel  string
	visionModel     string
	audioModel      string
}

type OpenAIOption func(*OpenAIClient)

func WithOpenAIModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		c.generativeModel = model
	}
}

func WithOpenAIEmbeddingModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		c.embeddingModel = model
	}
}

func WithOpenAIVisionModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		c.visionModel = model
	}
}

func WithOpenAIAudioModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		c.audioModel = model
	}
}

// WithOpenAIBaseURL points the client at an OpenAI compatible endpoint
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *OpenAIClient) {
		c.baseURL = url
	}
}

// NewOpenAI creates an OpenAI client
func NewOpenAI(ctx context.Context, apiKey string, opts ...OpenAIOption) (*OpenAIClient, error) {
	c := &OpenAIClient{
		generativeModel: openai.GPT4o,
		embeddingModel:  string(openai.SmallEmbedding3),
		visionModel:     openai.GPT4o,
		audioModel:      openai.Whisper1,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.SetAPIKey(ctx, apiKey); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *OpenAIClient) SetAPIKey(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return goerr.Wrap(model.ErrCredentialNotConfigured, "openai api key is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = openai.NewClientWithConfig(cfg)
	return nil
}

func (c *OpenAIClient) ClearAPIKey() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = nil
}

func (c *OpenAIClient) current() (*openai.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, goerr.Wrap(model.ErrCredentialNotConfigured, "openai client is not configured")
	}
	return c.client, nil
}

// zeroTemperature is the smallest non-zero value; go-openai omits a literal 0
// from the request and the API would fall back to its default of 1.
const zeroTemperature = math.SmallestNonzeroFloat32

func (c *OpenAIClient) complete(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	client, err := c.current()
	if err != nil {
		return "", err
	}

	req.Temperature = zeroTemperature
	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", goerr.Wrap(model.ErrCapability.Wrap(err), "failed to create chat completion",
			goerr.V("model", req.Model))
	}
	if len(resp.Choices) == 0 {
		return "", goerr.Wrap(model.ErrCapability, "no choices in chat completion", goerr.V("model", req.Model))
	}

	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, openai.ChatCompletionRequest{
		Model: c.generativeModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
}

func (c *OpenAIClient) GenerateStructured(ctx context.Context, prompt string, out any) error {
	return c.generateStructured(ctx, c.generativeModel, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}, out)
}

func (c *OpenAIClient) generateStructured(ctx context.Context, modelName string, messages []openai.ChatCompletionMessage, out any) error {
	schema, err := inferSchema(out)
	if err != nil {
		return err
	}

	text, err := c.complete(ctx, openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schema.name,
				Schema: schema.schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		return err
	}

	return schema.decode(text, out)
}

func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	client, err := c.current()
	if err != nil {
		return nil, err
	}

	resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, goerr.Wrap(model.ErrCapability.Wrap(err), "failed to create embeddings",
			goerr.V("model", c.embeddingModel))
	}
	if len(resp.Data) != len(texts) {
		return nil, goerr.Wrap(model.ErrCapability, "embedding count mismatch",
			goerr.V("expected", len(texts)), goerr.V("actual", len(resp.Data)))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (c *OpenAIClient) TranscribeImage(ctx context.Context, data []byte, mimeType string) (*model.Transcription, error) {
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)

	var result model.Transcription
	err := c.generateStructured(ctx, c.visionModel, []openai.ChatCompletionMessage{
		{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: imageTranscriptionPrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
			},
		},
	}, &result)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to transcribe image")
	}
	return &result, nil
}

func (c *OpenAIClient) TranscribeAudio(ctx context.Context, data []byte, filename, hint string) (string, error) {
	client, err := c.current()
	if err != nil {
		return "", err
	}

	resp, err := client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.audioModel,
		FilePath: filename,
		Reader:   bytes.NewReader(data),
		Prompt:   hint,
	})
	if err != nil {
		return "", goerr.Wrap(model.ErrCapability.Wrap(err), "failed to transcribe audio",
			goerr.V("filename", filename))
	}
	return strings.TrimSpace(resp.Text), nil
}
