package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/room4-2/OpenBooking/audit"
	"github.com/room4-2/OpenBooking/config"
	"github.com/room4-2/OpenBooking/extraction"
	"github.com/room4-2/OpenBooking/gemini"
	"github.com/room4-2/OpenBooking/llm"
	"github.com/room4-2/OpenBooking/logger"
	"github.com/room4-2/OpenBooking/metrics"
	"github.com/room4-2/OpenBooking/policy"
	"github.com/room4-2/OpenBooking/retrieval"
	"github.com/room4-2/OpenBooking/server"
	"github.com/room4-2/OpenBooking/session"
	"github.com/room4-2/OpenBooking/speech"
	"github.com/room4-2/OpenBooking/storage"
	"github.com/room4-2/OpenBooking/tracing"
	"github.com/room4-2/OpenBooking/turn"

	"github.com/sashabaranov/go-openai"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.NewConsole().Fatal("failed to load config", zap.Error(err))
	}

	log := logger.New(cfg.LogFile, cfg.IsProduction())
	defer func() { _ = log.Sync() }()

	shutdownTracer := tracing.Init(cfg.OtelEnabled, cfg.OtelEndpoint, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sessions: Redis when reachable, in-process otherwise
	sessions := session.Open(ctx, session.Options{
		RedisURL:      cfg.RedisURL,
		RedisPassword: cfg.RedisPassword,
		TTL:           cfg.SessionTTL,
	}, log)
	metrics.SessionBackend.WithLabelValues(sessions.Backend()).Set(1)

	var db *gorm.DB
	if cfg.DatabaseURL != "" {
		db, err = storage.NewGormDBFromDSN(cfg.DatabaseURL)
		if err != nil {
			log.Fatal("failed to connect database", zap.Error(err))
		}
	}
	var callLogDB *gorm.DB
	if cfg.PersistenceEnabled() {
		callLogDB = db
	}
	repo, err := storage.Open(ctx, callLogDB, log)
	if err != nil {
		log.Fatal("failed to open storage", zap.Error(err))
	}

	openaiClient := openai.NewClient(cfg.OpenAIAPIKey)

	slotLLM, answerLLM, err := newCompleters(ctx, cfg, openaiClient, log)
	if err != nil {
		log.Fatal("failed to create language model client", zap.Error(err))
	}

	searcher, err := newSearcher(ctx, cfg, db)
	if err != nil {
		log.Fatal("failed to create vector searcher", zap.Error(err))
	}
	gate := retrieval.NewGate(
		retrieval.NewOpenAIEmbedder(openaiClient, cfg.OpenAIEmbeddingModel),
		searcher,
		retrieval.GateConfig{
			Tenant:     cfg.KBTenantID,
			Threshold:  cfg.RAGAdmissionThreshold,
			MaxResults: cfg.RAGMaxResults,
		},
		log,
	)

	emitter := audit.NewEmitter(repo, log)
	if err := emitter.Start(ctx); err != nil {
		log.Fatal("failed to start audit emitter", zap.Error(err))
	}

	var synth speech.Synthesizer
	if cfg.ElevenLabsAPIKey != "" {
		synth = speech.NewElevenLabs(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID, log)
	}
	audioFiles := speech.NewAudioFiles(synth, cfg.TTSDir, cfg.PublicBaseURL, log)

	deps := turn.Deps{
		Sessions:  sessions,
		Extractor: extraction.New(slotLLM, cfg.FacilityName, log),
		Retriever: gate,
		Policy: policy.New(llm.NewGenerator(answerLLM, log), policy.Config{
			FacilityName:    cfg.FacilityName,
			AnswerThreshold: cfg.RAGAnswerThreshold,
		}, log),
		Bookings: repo,
		Audit:    emitter,
	}
	if synth != nil {
		deps.Speaker = audioFiles
	} else {
		log.Warn("ELEVENLABS_API_KEY not set, replies will be spoken with <Say>")
	}
	orchestrator := turn.New(deps, log)

	srv := server.NewServer(cfg, server.Deps{
		Turns:          orchestrator,
		Transcriber:    speech.NewWhisper(openaiClient),
		Recordings:     server.NewTwilioRecordings(cfg.TwilioAccountSID, cfg.TwilioAuthToken),
		CallLogs:       repo,
		Audio:          audioFiles,
		SessionBackend: sessions.Backend(),
	}, log)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("received shutdown signal")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error", zap.Error(err))
		}
		if err := emitter.Close(); err != nil {
			log.Error("audit emitter shutdown error", zap.Error(err))
		}
		if err := sessions.Close(); err != nil {
			log.Error("session store shutdown error", zap.Error(err))
		}
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Error("tracer shutdown error", zap.Error(err))
		}
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server stopped")
}

// newCompleters returns the models used for slot extraction and for grounded
// answers.
func newCompleters(ctx context.Context, cfg *config.Config, client *openai.Client, log *zap.Logger) (llm.Completer, llm.Completer, error) {
	switch cfg.LLMProvider {
	case "gemini":
		c, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, log)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case "openai":
		return llm.NewOpenAI(client, cfg.OpenAISlotModel, log), llm.NewOpenAI(client, cfg.OpenAIModel, log), nil
	default:
		return nil, nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}
}

func newSearcher(ctx context.Context, cfg *config.Config, db *gorm.DB) (retrieval.Searcher, error) {
	switch cfg.VectorBackend {
	case "weaviate":
		u, err := url.Parse(cfg.WeaviateURL)
		if err != nil {
			return nil, fmt.Errorf("invalid WEAVIATE_URL: %w", err)
		}
		client, err := weaviate.NewClient(weaviate.Config{Host: u.Host, Scheme: u.Scheme})
		if err != nil {
			return nil, fmt.Errorf("create weaviate client: %w", err)
		}
		return retrieval.NewWeaviateSearcher(client, cfg.KBClassName), nil
	case "pgvector":
		if db == nil {
			return nil, errors.New("pgvector backend needs DATABASE_URL")
		}
		searcher := retrieval.NewPGVectorSearcher(db)
		if err := searcher.Migrate(ctx); err != nil {
			return nil, err
		}
		return searcher, nil
	default:
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q", cfg.VectorBackend)
	}
}
