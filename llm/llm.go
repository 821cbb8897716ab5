package llm

import "context"

// Completer sends one system + user exchange and returns the raw JSON object
// the model produced. A reply with no content is not an error: it comes back
// as "" and the callers' parsers degrade it like any other malformed output.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPayload string) (string, error)
}
