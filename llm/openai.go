package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAI is a Completer backed by the chat completions API in JSON mode.
type OpenAI struct {
	client *openai.Client
	model  string
	log    *zap.Logger
}

func NewOpenAI(client *openai.Client, model string, log *zap.Logger) *OpenAI {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{
		client: client,
		model:  model,
		log:    log.Named("llm.openai"),
	}
}

func (o *OpenAI) CompleteJSON(ctx context.Context, systemPrompt, userPayload string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPayload},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		o.log.Warn("completion has no choices", zap.String("model", o.model))
		return "", nil
	}

	o.log.Debug("received completion",
		zap.String("model", o.model),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)))
	return resp.Choices[0].Message.Content, nil
}
