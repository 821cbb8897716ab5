package main

import (
	"context"
	"flag"
	"net/url"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"
	"github.com/room4-2/OpenBooking/knowledge"
	"github.com/room4-2/OpenBooking/logger"
	"github.com/room4-2/OpenBooking/retrieval"
	"github.com/room4-2/OpenBooking/storage"
	"github.com/sashabaranov/go-openai"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type upserter interface {
	Upsert(ctx context.Context, chunks []retrieval.Chunk) error
}

func main() {
	_ = godotenv.Load()

	source := flag.String("source", "data/kb", "Directory containing KB files (jsonl/md/txt)")
	backend := flag.String("backend", envOr("VECTOR_BACKEND", "pgvector"), "pgvector or weaviate")
	tenant := flag.String("tenant-id", envOr("KB_TENANT_ID", "demo"), "Tenant the chunks belong to")
	className := flag.String("class", envOr("KB_CLASS_NAME", retrieval.DefaultClassName), "Weaviate class name")
	chunkSize := flag.Int("chunk-size", knowledge.DefaultChunkSize, "Chunk size in characters")
	overlap := flag.Int("chunk-overlap", knowledge.DefaultChunkOverlap, "Overlap between chunks")
	model := flag.String("embedding-model", envOr("OPENAI_EMBEDDING_MODEL", string(openai.SmallEmbedding3)), "Embedding model")
	flag.Parse()

	log := logger.NewConsole()
	defer func() { _ = log.Sync() }()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Fatal("OPENAI_API_KEY not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	docs, err := knowledge.LoadDir(*source)
	if err != nil {
		log.Fatal("failed to load documents", zap.Error(err))
	}
	if len(docs) == 0 {
		log.Fatal("no documents found", zap.String("source", *source))
	}
	chunks := knowledge.Prepare(docs, *chunkSize, *overlap, *tenant)
	log.Info("documents loaded", zap.Int("documents", len(docs)), zap.Int("chunks", len(chunks)))

	store, err := openStore(ctx, *backend, *className)
	if err != nil {
		log.Fatal("failed to open vector store", zap.Error(err))
	}

	embedder := retrieval.NewOpenAIEmbedder(openai.NewClient(apiKey), *model)
	rows := make([]retrieval.Chunk, 0, len(chunks))
	for i, c := range chunks {
		vec, err := embedder.Embed(ctx, c.Text)
		if err != nil {
			log.Fatal("embedding failed", zap.String("chunk", c.ID), zap.Error(err))
		}
		rows = append(rows, retrieval.Chunk{
			ID:        c.ID,
			TenantID:  *tenant,
			Body:      c.Text,
			Metadata:  datatypes.JSONMap(c.Metadata),
			Embedding: pgvector.NewVector(vec),
		})
		if (i+1)%25 == 0 {
			log.Info("embedded", zap.Int("done", i+1), zap.Int("total", len(chunks)))
		}
	}

	if err := store.Upsert(ctx, rows); err != nil {
		log.Fatal("upsert failed", zap.Error(err))
	}
	log.Info("knowledge base seeded",
		zap.String("backend", *backend),
		zap.String("tenant", *tenant),
		zap.Int("chunks", len(rows)),
	)
}

func openStore(ctx context.Context, backend, className string) (upserter, error) {
	if backend == "weaviate" {
		u, err := url.Parse(os.Getenv("WEAVIATE_URL"))
		if err != nil {
			return nil, err
		}
		client, err := weaviate.NewClient(weaviate.Config{Host: u.Host, Scheme: u.Scheme})
		if err != nil {
			return nil, err
		}
		return retrieval.NewWeaviateSearcher(client, className), nil
	}

	db, err := storage.NewGormDBFromDSN(os.Getenv("DATABASE_URL"))
	if err != nil {
		return nil, err
	}
	searcher := retrieval.NewPGVectorSearcher(db)
	if err := searcher.Migrate(ctx); err != nil {
		return nil, err
	}
	return searcher, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
