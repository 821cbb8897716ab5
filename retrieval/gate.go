package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const (
	DefaultAdmissionThreshold = 0.7
	DefaultMaxResults         = 3
	DefaultOverFetch          = 3
)

// Document is a knowledge base passage admitted for one turn.
type Document struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// Candidate is a raw search hit. Distance is nil when the backend did not
// report one.
type Candidate struct {
	ID       string
	Text     string
	Distance *float64
	Metadata map[string]any
}

// Score converts the candidate distance into a relevance score.
func (c Candidate) Score() float64 {
	if c.Distance == nil {
		return 0
	}
	return 1 - *c.Distance
}

// Embedder turns a query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs a nearest-neighbour query restricted to one tenant.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, tenant string, topK int) ([]Candidate, error)
}

// GateConfig tunes admission.
type GateConfig struct {
	Tenant    string
	Threshold float64
	// MaxResults caps the returned documents.
	MaxResults int
	// OverFetch multiplies MaxResults when querying the searcher.
	OverFetch int
}

// Gate wraps the knowledge lookup with a relevance admission policy.
type Gate struct {
	embedder Embedder
	searcher Searcher
	cfg      GateConfig
	log      *zap.Logger
}

func NewGate(embedder Embedder, searcher Searcher, cfg GateConfig, log *zap.Logger) *Gate {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.OverFetch <= 0 {
		cfg.OverFetch = DefaultOverFetch
	}
	return &Gate{
		embedder: embedder,
		searcher: searcher,
		cfg:      cfg,
		log:      log.Named("retrieval"),
	}
}

// Threshold returns the admission threshold in effect.
func (g *Gate) Threshold() float64 {
	return g.cfg.Threshold
}

// Retrieve returns admitted documents sorted by descending score. A blank
// query returns nothing without calling the embedder or the searcher.
func (g *Gate) Retrieve(ctx context.Context, query string) ([]Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	embedding, err := g.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	topK := g.cfg.MaxResults * g.cfg.OverFetch
	candidates, err := g.searcher.Search(ctx, embedding, g.cfg.Tenant, topK)
	if err != nil {
		return nil, fmt.Errorf("search knowledge base: %w", err)
	}

	docs := Admit(candidates, g.cfg.Threshold, g.cfg.MaxResults)

	g.log.Debug("retrieved documents",
		zap.Int("candidates", len(candidates)),
		zap.Int("admitted", len(docs)),
		zap.Float64("threshold", g.cfg.Threshold))

	return docs, nil
}

// Admit scores candidates, drops those below threshold and returns at most
// limit documents ordered by descending score. Ties keep search order.
func Admit(candidates []Candidate, threshold float64, limit int) []Document {
	docs := make([]Document, 0, len(candidates))
	for _, c := range candidates {
		score := c.Score()
		if score < threshold {
			continue
		}
		metadata := c.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		docs = append(docs, Document{
			ID:       c.ID,
			Text:     c.Text,
			Score:    score,
			Metadata: metadata,
		})
	}

	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Score > docs[j].Score
	})

	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs
}

// IDs lists the document identifiers in order.
func IDs(docs []Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	return ids
}

// FormatForPrompt renders up to maxDocs documents as grounding context.
func FormatForPrompt(docs []Document, maxDocs int) string {
	var b strings.Builder
	for i, d := range docs {
		if maxDocs > 0 && i >= maxDocs {
			break
		}
		fmt.Fprintf(&b, "[DOC id: %s]\n%s\n\n", d.ID, strings.TrimSpace(d.Text))
	}
	return strings.TrimSpace(b.String())
}
