package llm

import (
	"context"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// Answer is the structured reply of a grounded generation call.
type Answer struct {
	Response      string         `json:"response"`
	DeveloperNote map[string]any `json:"developer_note"`
}

// UsedDocs returns developer_note.used_docs when the model reported it.
func (a Answer) UsedDocs() ([]string, bool) {
	raw, ok := a.DeveloperNote["used_docs"]
	if !ok || raw == nil {
		return nil, false
	}

	var ids []string
	switch v := raw.(type) {
	case []string:
		ids = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				ids = append(ids, s)
			}
		}
	}
	if len(ids) == 0 {
		return nil, false
	}
	return ids, true
}

// Generator produces {response, developer_note} answers.
type Generator struct {
	completer Completer
	log       *zap.Logger
}

func NewGenerator(completer Completer, log *zap.Logger) *Generator {
	return &Generator{
		completer: completer,
		log:       log.Named("llm.generator"),
	}
}

// Generate calls the model once. Transport failures are returned; output
// that is not the expected JSON object degrades to an empty Answer.
func (g *Generator) Generate(ctx context.Context, systemPrompt, userPayload string) (Answer, error) {
	raw, err := g.completer.CompleteJSON(ctx, systemPrompt, userPayload)
	if err != nil {
		return Answer{}, err
	}
	return ParseAnswer(raw, g.log), nil
}

// ParseAnswer decodes a generation payload, tolerating malformed output.
func ParseAnswer(raw string, log *zap.Logger) Answer {
	var answer Answer
	if err := sonic.UnmarshalString(raw, &answer); err != nil {
		log.Warn("malformed generation output", zap.Error(err), zap.Int("bytes", len(raw)))
		return Answer{DeveloperNote: map[string]any{}}
	}
	answer.Response = strings.TrimSpace(answer.Response)
	if answer.DeveloperNote == nil {
		answer.DeveloperNote = map[string]any{}
	}
	return answer
}
