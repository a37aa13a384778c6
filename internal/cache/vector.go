package cache

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// Embedder turns text into a vector. The Ollama client satisfies this via
// its /api/embeddings endpoint.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// VectorIndex performs embedding-based similarity search over stored
// samples, backed by Qdrant. It supplements the lexical scorer; lookup
// errors degrade to a lexical scan, never to a request failure.
type VectorIndex struct {
	client     *qdrant.Client
	collection string
	embedder   Embedder
	model      string
}

type VectorConfig struct {
	URL        string
	APIKey     string
	Collection string
	// EmbeddingModel is passed to the embedder on every call.
	EmbeddingModel string
}

func NewVectorIndex(cfg VectorConfig, embedder Embedder) (*VectorIndex, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("vector store url is required")
	}

	raw := cfg.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse vector store url: %w", err)
	}
	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid vector store port: %w", err)
		}
		port = p
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	return &VectorIndex{
		client:     client,
		collection: cfg.Collection,
		embedder:   embedder,
		model:      cfg.EmbeddingModel,
	}, nil
}

// Lookup returns the closest stored sample and its cosine similarity.
// ok is false when nothing is indexed yet.
func (v *VectorIndex) Lookup(ctx context.Context, message string) (Sample, float64, bool, error) {
	vector, err := v.embedder.Embed(ctx, v.model, message)
	if err != nil {
		return Sample{}, 0, false, fmt.Errorf("embed query: %w", err)
	}

	limit := uint64(1)
	points, err := v.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: v.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return Sample{}, 0, false, fmt.Errorf("qdrant query: %w", err)
	}
	if len(points) == 0 {
		return Sample{}, 0, false, nil
	}

	point := points[0]
	s := Sample{}
	if point.Id != nil {
		s.ID = point.Id.GetUuid()
	}
	if payload := point.Payload; payload != nil {
		if f, ok := payload["user_message"]; ok {
			s.UserMessage = f.GetStringValue()
		}
		if f, ok := payload["agent_response"]; ok {
			s.AgentResponse = f.GetStringValue()
		}
	}
	return s, float64(point.Score), true, nil
}

// Index stores a sample's embedding alongside its payload.
func (v *VectorIndex) Index(ctx context.Context, s Sample) error {
	vector, err := v.embedder.Embed(ctx, v.model, s.UserMessage)
	if err != nil {
		return fmt.Errorf("embed sample: %w", err)
	}

	_, err = v.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: v.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDUUID(s.ID),
				Vectors: qdrant.NewVectors(vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					"user_message":   s.UserMessage,
					"agent_response": s.AgentResponse,
					"created_at":     s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
				}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (v *VectorIndex) Close() error {
	return v.client.Close()
}
