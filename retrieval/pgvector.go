package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Chunk is one embedded knowledge base passage stored in Postgres.
type Chunk struct {
	ID        string            `gorm:"type:varchar(128);primaryKey"`
	TenantID  string            `gorm:"type:varchar(64);not null;index"`
	Body      string            `gorm:"type:text;not null"`
	Metadata  datatypes.JSONMap `gorm:"type:jsonb"`
	Embedding pgvector.Vector   `gorm:"type:vector(1536)"` // text-embedding-3-small
	CreatedAt time.Time         `gorm:"autoCreateTime"`
	UpdatedAt time.Time         `gorm:"autoUpdateTime"`
}

func (Chunk) TableName() string {
	return "kb_chunks"
}

// PGVectorSearcher searches kb_chunks by cosine distance.
type PGVectorSearcher struct {
	db *gorm.DB
}

func NewPGVectorSearcher(db *gorm.DB) *PGVectorSearcher {
	return &PGVectorSearcher{db: db}
}

// Migrate creates the vector extension and the chunk table.
func (s *PGVectorSearcher) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("enable pgvector: %w", err)
	}
	return s.db.WithContext(ctx).AutoMigrate(&Chunk{})
}

func (s *PGVectorSearcher) Search(ctx context.Context, embedding []float32, tenant string, topK int) ([]Candidate, error) {
	if topK <= 0 {
		topK = DefaultMaxResults
	}

	type result struct {
		ID       string
		Body     string
		Metadata datatypes.JSONMap
		Distance float64
	}
	var rows []result

	// <=> is cosine distance, so 1 - distance is cosine similarity.
	err := s.db.WithContext(ctx).
		Model(&Chunk{}).
		Select("id, body, metadata, embedding <=> ? AS distance", pgvector.NewVector(embedding)).
		Where("tenant_id = ?", tenant).
		Order("distance").
		Limit(topK).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}

	candidates := make([]Candidate, len(rows))
	for i, r := range rows {
		distance := r.Distance
		candidates[i] = Candidate{
			ID:       r.ID,
			Text:     r.Body,
			Distance: &distance,
			Metadata: map[string]any(r.Metadata),
		}
	}
	return candidates, nil
}

// Upsert stores chunks, replacing any with the same ID.
func (s *PGVectorSearcher) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tenant_id", "body", "metadata", "embedding", "updated_at"}),
		}).
		Create(&chunks).Error
}
