package speech

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Whisper transcribes caller audio with the OpenAI transcription API.
type Whisper struct {
	client *openai.Client
	model  string
}

func NewWhisper(client *openai.Client) *Whisper {
	return &Whisper{client: client, model: openai.Whisper1}
}

// Transcribe returns the trimmed transcript of one recording. filename only
// hints the audio format.
func (w *Whisper) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	res, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: filename,
		Reader:   audio,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}
