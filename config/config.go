package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ErrMissingSetting is returned when a required setting is absent.
var ErrMissingSetting = errors.New("missing required setting")

// Config holds all server configuration
type Config struct {
	Port           int    `validate:"min=1,max=65535"`
	PublicBaseURL  string `validate:"required,url"`
	FacilityName   string `validate:"required"`
	AllowedOrigins []string
	MaxSessions    int `validate:"min=1"`

	RedisURL      string
	RedisPassword string
	SessionTTL    time.Duration `validate:"min=1s"`

	LLMProvider          string `validate:"oneof=openai gemini"`
	OpenAIAPIKey         string
	OpenAIModel          string `validate:"required"`
	OpenAISlotModel      string `validate:"required"`
	OpenAIEmbeddingModel string `validate:"required"`
	GeminiAPIKey         string
	GeminiModel          string `validate:"required"`

	// VectorBackend pgvector reads the knowledge base from DATABASE_URL and
	// therefore requires it; weaviate needs only WEAVIATE_URL.
	VectorBackend         string `validate:"oneof=pgvector weaviate"`
	WeaviateURL           string
	KBTenantID            string  `validate:"required"`
	KBClassName           string  `validate:"required"`
	RAGAdmissionThreshold float64 `validate:"gte=0,lte=1"`
	RAGAnswerThreshold    float64 `validate:"gte=0,lte=1"`
	RAGMaxResults         int     `validate:"min=1"`

	// DatabaseURL also holds call logs and appointments unless
	// PERSIST_CALL_LOGS=false, so pgvector retrieval can run with persistence
	// disabled.
	DatabaseURL     string
	PersistCallLogs bool

	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	TTSDir            string `validate:"required"`

	TwilioAccountSID string
	TwilioAuthToken  string

	LogFile      string
	Env          string
	OtelEnabled  bool
	OtelEndpoint string
}

// PersistenceEnabled reports whether call logs and appointments are written.
func (c *Config) PersistenceEnabled() bool {
	return c.DatabaseURL != "" && c.PersistCallLogs
}

// IsProduction reports whether APP_ENV selects production logging.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:                  8080,
		PublicBaseURL:         "http://localhost:8080",
		FacilityName:          "Precision Pain and Spine Institute",
		AllowedOrigins:        []string{"*"},
		MaxSessions:           100,
		SessionTTL:            time.Hour,
		LLMProvider:           "openai",
		OpenAIModel:           "gpt-4o-mini",
		OpenAIEmbeddingModel:  "text-embedding-3-small",
		GeminiModel:           "gemini-2.5-flash",
		VectorBackend:         "pgvector",
		KBTenantID:            "demo",
		KBClassName:           "ClinicDocument",
		RAGAdmissionThreshold: 0.7,
		RAGAnswerThreshold:    0.78,
		RAGMaxResults:         3,
		TTSDir:                "static/tts",
		LogFile:               "logs/openbooking.log",
		Env:                   "development",
	}

	overrideString(&config.PublicBaseURL, "PUBLIC_BASE_URL")
	overrideString(&config.FacilityName, "FACILITY_NAME")
	overrideString(&config.RedisURL, "REDIS_URL")
	overrideString(&config.RedisPassword, "REDIS_PASSWORD")
	overrideString(&config.LLMProvider, "LLM_PROVIDER")
	overrideString(&config.OpenAIModel, "OPENAI_MODEL")
	overrideString(&config.OpenAIEmbeddingModel, "OPENAI_EMBEDDING_MODEL")
	overrideString(&config.GeminiModel, "GEMINI_MODEL")
	overrideString(&config.VectorBackend, "VECTOR_BACKEND")
	overrideString(&config.WeaviateURL, "WEAVIATE_URL")
	overrideString(&config.KBTenantID, "KB_TENANT_ID")
	overrideString(&config.KBClassName, "KB_CLASS_NAME")
	overrideString(&config.DatabaseURL, "DATABASE_URL")
	overrideString(&config.ElevenLabsAPIKey, "ELEVENLABS_API_KEY")
	overrideString(&config.ElevenLabsVoiceID, "ELEVENLABS_VOICE_ID")
	overrideString(&config.TTSDir, "TTS_DIR")
	overrideString(&config.TwilioAccountSID, "TWILIO_ACCOUNT_SID")
	overrideString(&config.TwilioAuthToken, "TWILIO_AUTH_TOKEN")
	overrideString(&config.LogFile, "LOG_FILE")
	overrideString(&config.Env, "APP_ENV")
	overrideString(&config.OtelEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	config.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	config.OtelEnabled = os.Getenv("OTEL_ENABLED") == "true"
	config.PersistCallLogs = os.Getenv("PERSIST_CALL_LOGS") != "false"

	// The slot model follows OPENAI_MODEL unless set separately.
	config.OpenAISlotModel = config.OpenAIModel
	overrideString(&config.OpenAISlotModel, "OPENAI_SLOT_MODEL")

	config.LLMProvider = strings.ToLower(config.LLMProvider)
	config.VectorBackend = strings.ToLower(config.VectorBackend)
	config.PublicBaseURL = strings.TrimRight(config.PublicBaseURL, "/")

	// Optional: PORT
	if err := overrideInt(&config.Port, "PORT"); err != nil {
		return nil, err
	}

	// Optional: MAX_SESSIONS
	if err := overrideInt(&config.MaxSessions, "MAX_SESSIONS"); err != nil {
		return nil, err
	}

	// Optional: SESSION_TTL_MINUTES
	if ttl := os.Getenv("SESSION_TTL_MINUTES"); ttl != "" {
		t, err := strconv.Atoi(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TTL_MINUTES: %w", err)
		}
		config.SessionTTL = time.Duration(t) * time.Minute
	}

	// Optional: RAG_MAX_RESULTS
	if err := overrideInt(&config.RAGMaxResults, "RAG_MAX_RESULTS"); err != nil {
		return nil, err
	}

	// Optional: RAG_ADMISSION_THRESHOLD, RAG_ANSWER_THRESHOLD
	if err := overrideFloat(&config.RAGAdmissionThreshold, "RAG_ADMISSION_THRESHOLD"); err != nil {
		return nil, err
	}
	if err := overrideFloat(&config.RAGAnswerThreshold, "RAG_ANSWER_THRESHOLD"); err != nil {
		return nil, err
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	if err := config.requireCredentials(); err != nil {
		return nil, err
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// requireCredentials checks the settings without which no turn can run.
// Embeddings and transcription always go through OpenAI.
func (c *Config) requireCredentials() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingSetting)
	}
	if c.LLMProvider == "gemini" && c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY (LLM_PROVIDER=gemini)", ErrMissingSetting)
	}
	if c.VectorBackend == "weaviate" && c.WeaviateURL == "" {
		return fmt.Errorf("%w: WEAVIATE_URL (VECTOR_BACKEND=weaviate)", ErrMissingSetting)
	}
	if c.VectorBackend == "pgvector" && c.DatabaseURL == "" {
		return fmt.Errorf("%w: DATABASE_URL (VECTOR_BACKEND=pgvector)", ErrMissingSetting)
	}
	return nil
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func overrideFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = f
	return nil
}
