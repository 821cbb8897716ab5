package gemini

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash"

// Client is a JSON-mode text generation client for the Gemini API. It
// satisfies llm.Completer so Gemini can stand in for OpenAI for slot
// extraction and grounded answers.
type Client struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

// NewClient creates the GenAI client for the Gemini API backend.
func NewClient(ctx context.Context, apiKey, model string, log *zap.Logger) (*Client, error) {
	return newClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}, model, log)
}

func newClient(ctx context.Context, cfg *genai.ClientConfig, model string, log *zap.Logger) (*Client, error) {
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if model == "" {
		model = defaultModel
	}

	return &Client{
		client: client,
		model:  model,
		log:    log.Named("llm.gemini"),
	}, nil
}

// CompleteJSON asks the model for a JSON object answer.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPayload string) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{
				{Text: systemPrompt},
			},
		},
		ResponseMIMEType: "application/json",
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(userPayload), config)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		c.log.Warn("completion has no text", zap.String("model", c.model), zap.String("finish_reason", finishReason(resp)))
		return "", nil
	}

	c.log.Debug("received completion", zap.String("model", c.model), zap.Int("bytes", len(text)))
	return text, nil
}

func finishReason(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	return string(resp.Candidates[0].FinishReason)
}
