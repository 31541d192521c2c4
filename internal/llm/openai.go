package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/mouimet-infinisoft/ibrain2024/internal/config"
)

const intentSystemPrompt = `You analyze a user message and return strict JSON with the keys:
"domain" (the contextual domain, e.g. "software development"),
"context" (one sentence describing what the user is doing),
"strength" (confidence 0..1),
"capabilities" (array of capability names the request calls for).
Return only the JSON object.`

// OpenAIClient implements Client against an OpenAI-compatible API.
type OpenAIClient struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client from configuration. BaseURL may point at
// any OpenAI-compatible endpoint.
func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client:         openai.NewClientWithConfig(oc),
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
	}
}

// Embed returns the embedding vector for the text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("llm: empty embedding response")
	}
	vec := make([]float64, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float64(v)
	}
	return vec, nil
}

// AnalyzeIntent asks the chat model for a structured intent read in JSON mode.
func (c *OpenAIClient) AnalyzeIntent(ctx context.Context, input string, history []string) (IntentAnalysis, error) {
	user := input
	if len(history) > 0 {
		user = "Recent conversation:\n" + strings.Join(history, "\n") + "\n\nCurrent message:\n" + input
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: intentSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	})
	if err != nil {
		return IntentAnalysis{}, fmt.Errorf("llm: intent analysis: %w", err)
	}
	if len(resp.Choices) == 0 {
		return IntentAnalysis{}, fmt.Errorf("llm: no choices in intent response")
	}
	var out IntentAnalysis
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &out); err != nil {
		return IntentAnalysis{}, fmt.Errorf("llm: parse intent response: %w", err)
	}
	return out, nil
}

// Complete generates a reply for the prompt.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: no choices in completion response")
	}
	return resp.Choices[0].Message.Content, nil
}
