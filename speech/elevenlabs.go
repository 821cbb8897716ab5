package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const (
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModelID = "eleven_flash_v2_5"

	// MaxCharacters bounds what is sent for synthesis.
	MaxCharacters  = 300
	requestTimeout = 10 * time.Second
)

var ErrEmptyText = errors.New("empty text")

// Synthesizer turns text into MP3 audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// ElevenLabs calls the ElevenLabs text-to-speech REST API.
type ElevenLabs struct {
	apiKey  string
	voiceID string
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

func NewElevenLabs(apiKey, voiceID string, log *zap.Logger) *ElevenLabs {
	if voiceID == "" {
		log.Warn("ELEVENLABS_VOICE_ID not set, using default voice")
		voiceID = DefaultVoiceID
	}
	return &ElevenLabs{
		apiKey:  apiKey,
		voiceID: voiceID,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: requestTimeout},
		log:     log.Named("speech.elevenlabs"),
	}
}

// WithBaseURL points the client at another endpoint.
func (e *ElevenLabs) WithBaseURL(url string) *ElevenLabs {
	e.baseURL = strings.TrimRight(url, "/")
	return e
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	spoken := Truncate(FormatForSpeech(text), MaxCharacters)

	body, err := sonic.Marshal(ttsRequest{
		Text:    spoken,
		ModelID: defaultModelID,
		VoiceSettings: voiceSettings{
			Stability:       0.71,
			SimilarityBoost: 0.5,
			Style:           0.35,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode tts request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=mp3_44100_128", e.baseURL, e.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", e.apiKey)

	res, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer res.Body.Close()

	audio, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read elevenlabs response: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs returned %d: %s", res.StatusCode, truncateBytes(audio, 200))
	}
	if len(audio) == 0 {
		return nil, errors.New("elevenlabs returned no audio")
	}

	e.log.Debug("speech generated", zap.Int("chars", utf8.RuneCountInString(spoken)), zap.Int("bytes", len(audio)))
	return audio, nil
}

// FormatForSpeech stretches punctuation into pauses for a more natural
// delivery.
func FormatForSpeech(text string) string {
	r := strings.NewReplacer(
		".", "... ",
		"?", "...? ",
		"!", "...! ",
		",", "... ",
	)
	return strings.Join(strings.Fields(r.Replace(text)), " ")
}

// Truncate cuts text longer than limit runes at the last sentence end inside
// the limit. Without one it cuts early enough that the trailing ellipsis still
// fits, so the result never exceeds limit runes.
func Truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	if i := strings.LastIndexAny(string(runes[:limit]), ".!?"); i > 0 {
		return string(runes[:limit])[:i+1]
	}
	if limit <= len(ellipsis) {
		return string(runes[:limit])
	}
	return strings.TrimSpace(string(runes[:limit-len(ellipsis)])) + ellipsis
}

const ellipsis = "..."

func truncateBytes(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
