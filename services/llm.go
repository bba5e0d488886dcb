package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"qa-agent/models"

	"google.golang.org/genai"
)

// CompletionRequest is one generation call. When WantTestCaseJSON is set the
// backend must return a JSON array of test-case records; backends whose API
// supports response schemas enforce that natively, the others rely on the
// prompt contract and downstream cleanup.
type CompletionRequest struct {
	System           string
	Prompt           string
	Temperature      float32
	WantTestCaseJSON bool
}

// GenerativeBackend is the black-box generative model behind both generation
// stages. Implementations return the raw completion text; schema validation
// and grounding checks live in the generator.
type GenerativeBackend interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// geminiBackend generates with Google Gemini through the genai client.
type geminiBackend struct {
	client *genai.Client
	model  string
}

// NewGeminiBackend wraps an existing genai client for the given model.
func NewGeminiBackend(client *genai.Client, model string) GenerativeBackend {
	return &geminiBackend{client: client, model: model}
}

func (g *geminiBackend) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	temp := req.Temperature
	config := &genai.GenerateContentConfig{
		Temperature: &temp,
	}
	if req.System != "" {
		contents := genai.Text(req.System)
		if len(contents) > 0 {
			config.SystemInstruction = contents[0]
		}
	}
	if req.WantTestCaseJSON {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = testCaseArraySchema()
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.Prompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini api call failed: %w", err)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var responseText strings.Builder
	for _, p := range result.Candidates[0].Content.Parts {
		if p.Text != "" {
			responseText.WriteString(p.Text)
		}
	}
	if responseText.Len() == 0 {
		return "", fmt.Errorf("gemini returned an empty completion")
	}
	return responseText.String(), nil
}

// openAIChatBackend generates with an OpenAI-compatible chat completions API.
type openAIChatBackend struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewOpenAIChatBackend creates a backend for an OpenAI-compatible chat API.
// baseURL includes the version prefix, e.g. "https://api.openai.com/v1".
func NewOpenAIChatBackend(client *http.Client, baseURL, apiKey, model string) GenerativeBackend {
	return &openAIChatBackend{
		httpClient: client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
	}
}

func (o *openAIChatBackend) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]models.OpenAIChatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, models.OpenAIChatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, models.OpenAIChatMessage{Role: "user", Content: req.Prompt})

	reqBody, err := json.Marshal(models.OpenAIChatRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create chat http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to call chat completions api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("chat completions api returned non-200 status: %d, body: %s", resp.StatusCode, string(snippet))
	}

	var parsed models.OpenAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat completions response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat completions api error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("chat completions api returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
