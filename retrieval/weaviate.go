package retrieval

import (
	"context"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClassName is the Weaviate class holding clinic passages.
const DefaultClassName = "ClinicDocument"

// WeaviateSearcher runs nearVector queries against a Weaviate class whose
// objects carry docId, body, source and tenantId properties.
type WeaviateSearcher struct {
	client    *weaviate.Client
	className string
}

func NewWeaviateSearcher(client *weaviate.Client, className string) *WeaviateSearcher {
	if className == "" {
		className = DefaultClassName
	}
	return &WeaviateSearcher{client: client, className: className}
}

func (s *WeaviateSearcher) Search(ctx context.Context, embedding []float32, tenant string, topK int) ([]Candidate, error) {
	if topK <= 0 {
		topK = DefaultMaxResults
	}

	where := filters.Where().
		WithPath([]string{"tenantId"}).
		WithOperator(filters.Equal).
		WithValueString(tenant)

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(embedding)

	fields := []graphql.Field{
		{Name: "docId"},
		{Name: "body"},
		{Name: "source"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "distance"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(fields...).
		WithWhere(where).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search: %s", result.Errors[0].Message)
	}

	return parseWeaviateCandidates(result, s.className), nil
}

func parseWeaviateCandidates(result *models.GraphQLResponse, className string) []Candidate {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[className].([]interface{})
	if !ok {
		return nil
	}

	candidates := make([]Candidate, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}

		c := Candidate{
			ID:       stringField(m, "docId"),
			Text:     stringField(m, "body"),
			Metadata: map[string]any{},
		}
		if source := stringField(m, "source"); source != "" {
			c.Metadata["source"] = source
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if c.ID == "" {
				c.ID = stringField(additional, "id")
			}
			if d, ok := additional["distance"].(float64); ok {
				c.Distance = &d
			}
		}
		candidates = append(candidates, c)
	}
	return candidates
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Upsert writes chunks as objects of the class. Object ids derive from the
// tenant and chunk id, so seeding twice overwrites instead of duplicating.
func (s *WeaviateSearcher) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	objects := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		source, _ := c.Metadata["source"].(string)
		objects[i] = &models.Object{
			Class: s.className,
			ID:    strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(c.TenantID+"/"+c.ID)).String()),
			Properties: map[string]interface{}{
				"docId":    c.ID,
				"body":     c.Body,
				"source":   source,
				"tenantId": c.TenantID,
			},
			Vector: c.Embedding.Slice(),
		}
	}

	result, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate batch import: %w", err)
	}
	for _, obj := range result {
		if obj.Result != nil && obj.Result.Errors != nil && len(obj.Result.Errors.Error) > 0 {
			return fmt.Errorf("weaviate import %s: %s", obj.ID, obj.Result.Errors.Error[0].Message)
		}
	}
	return nil
}
