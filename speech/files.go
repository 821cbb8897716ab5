package speech

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var (
	unsafeChars  = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	audioFileRef = regexp.MustCompile(`^[A-Za-z0-9_-]+\.mp3$`)
)

// AudioFiles synthesizes replies into MP3 files served under /tts/.
type AudioFiles struct {
	synth   Synthesizer
	dir     string
	baseURL string
	log     *zap.Logger
}

func NewAudioFiles(synth Synthesizer, dir, publicBaseURL string, log *zap.Logger) *AudioFiles {
	return &AudioFiles{
		synth:   synth,
		dir:     dir,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		log:     log.Named("speech.files"),
	}
}

// FileName is the audio file of one turn of a conversation.
func FileName(conversationID string, seq int) string {
	return fmt.Sprintf("%s_%d.mp3", unsafeChars.ReplaceAllString(conversationID, "_"), seq)
}

// Speak synthesizes text and returns the public URL of the stored audio.
func (a *AudioFiles) Speak(ctx context.Context, conversationID string, seq int, text string) (string, error) {
	audio, err := a.synth.Synthesize(ctx, text)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("create tts dir: %w", err)
	}

	name := FileName(conversationID, seq)
	if err := os.WriteFile(filepath.Join(a.dir, name), audio, 0o644); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	a.log.Debug("audio stored", zap.String("file", name), zap.Int("bytes", len(audio)))

	return a.baseURL + "/tts/" + name, nil
}

// Path resolves a requested file name inside the audio directory. Names that
// could escape the directory are rejected.
func (a *AudioFiles) Path(name string) (string, bool) {
	if !audioFileRef.MatchString(name) {
		return "", false
	}
	return filepath.Join(a.dir, name), true
}
