package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/seenimoa/portiq/pkg/models"
)

// Searcher runs a filtered nearest-neighbour search.
type Searcher interface {
	Search(ctx context.Context, vector []float32, filters map[string]string, limit int) ([]models.Document, error)
}

// Point is one document with its vector, ready for indexing.
type Point struct {
	ID       string
	Vector   []float32
	Document models.Document
}

// Indexer writes documents into the vector store.
type Indexer interface {
	EnsureCollection(ctx context.Context, dimensions int) error
	Upsert(ctx context.Context, points []Point) error
}

const upsertBatchSize = 10

// QdrantClient talks to the Qdrant REST API. Payloads carry the document body
// under "text" and its metadata under "metadata".
type QdrantClient struct {
	client     *resty.Client
	collection string
	vectorName string
}

// QdrantConfig configures QdrantClient.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	VectorName string
	Timeout    time.Duration
}

// NewQdrantClient creates a Qdrant REST client.
func NewQdrantClient(cfg QdrantConfig) *QdrantClient {
	client := resty.New()
	client.SetBaseURL(cfg.URL)
	client.SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.APIKey != "" {
		client.SetHeader("api-key", cfg.APIKey)
	}
	if cfg.Collection == "" {
		cfg.Collection = "documents"
	}
	return &QdrantClient{
		client:     client,
		collection: cfg.Collection,
		vectorName: cfg.VectorName,
	}
}

type qdrantMatch struct {
	Key   string `json:"key"`
	Match struct {
		Value string `json:"value"`
	} `json:"match"`
}

type qdrantFilter struct {
	Must []qdrantMatch `json:"must"`
}

type qdrantQuery struct {
	Query       []float32     `json:"query"`
	Using       string        `json:"using,omitempty"`
	Filter      *qdrantFilter `json:"filter,omitempty"`
	Limit       int           `json:"limit"`
	WithPayload bool          `json:"with_payload"`
}

type qdrantPayload struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

type qdrantQueryResponse struct {
	Result struct {
		Points []struct {
			ID      any           `json:"id"`
			Score   float64       `json:"score"`
			Payload qdrantPayload `json:"payload"`
		} `json:"points"`
	} `json:"result"`
	Status any `json:"status"`
}

// buildFilter maps metadata filters onto "metadata.<key>" must-match
// conditions. Keys are emitted in sorted order.
func buildFilter(filters map[string]string) *qdrantFilter {
	if len(filters) == 0 {
		return nil
	}
	f := &qdrantFilter{}
	for _, k := range sortedKeys(filters) {
		m := qdrantMatch{Key: "metadata." + k}
		m.Match.Value = filters[k]
		f.Must = append(f.Must, m)
	}
	return f
}

// Search queries the collection's named vector.
func (q *QdrantClient) Search(ctx context.Context, vector []float32, filters map[string]string, limit int) ([]models.Document, error) {
	var out qdrantQueryResponse
	resp, err := q.client.R().
		SetContext(ctx).
		SetPathParam("collection", q.collection).
		SetBody(qdrantQuery{
			Query:       vector,
			Using:       q.vectorName,
			Filter:      buildFilter(filters),
			Limit:       limit,
			WithPayload: true,
		}).
		SetResult(&out).
		Post("/collections/{collection}/points/query")
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("qdrant query: API error %d: %s", resp.StatusCode(), resp.String())
	}

	docs := make([]models.Document, 0, len(out.Result.Points))
	for _, p := range out.Result.Points {
		docs = append(docs, models.Document{
			Content:  p.Payload.Text,
			Metadata: stringifyMetadata(p.Payload.Metadata),
		})
	}
	return docs, nil
}

// EnsureCollection creates the collection with a single cosine named vector
// when it does not exist yet.
func (q *QdrantClient) EnsureCollection(ctx context.Context, dimensions int) error {
	resp, err := q.client.R().
		SetContext(ctx).
		SetPathParam("collection", q.collection).
		Get("/collections/{collection}")
	if err != nil {
		return fmt.Errorf("qdrant get collection: %w", err)
	}
	if resp.StatusCode() == http.StatusOK {
		return nil
	}
	if resp.StatusCode() != http.StatusNotFound {
		return fmt.Errorf("qdrant get collection: API error %d: %s", resp.StatusCode(), resp.String())
	}

	params := map[string]any{"size": dimensions, "distance": "Cosine"}
	var vectors any = params
	if q.vectorName != "" {
		vectors = map[string]any{q.vectorName: params}
	}
	resp, err = q.client.R().
		SetContext(ctx).
		SetPathParam("collection", q.collection).
		SetBody(map[string]any{"vectors": vectors}).
		Put("/collections/{collection}")
	if err != nil {
		return fmt.Errorf("qdrant create collection: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("qdrant create collection: API error %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Upsert writes points in batches of ten.
func (q *QdrantClient) Upsert(ctx context.Context, points []Point) error {
	for start := 0; start < len(points); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(points))

		batch := make([]map[string]any, 0, end-start)
		for _, p := range points[start:end] {
			var vector any = p.Vector
			if q.vectorName != "" {
				vector = map[string]any{q.vectorName: p.Vector}
			}
			batch = append(batch, map[string]any{
				"id":     p.ID,
				"vector": vector,
				"payload": qdrantPayload{
					Text:     p.Document.Content,
					Metadata: anyMetadata(p.Document.Metadata),
				},
			})
		}

		resp, err := q.client.R().
			SetContext(ctx).
			SetPathParam("collection", q.collection).
			SetQueryParam("wait", "true").
			SetBody(map[string]any{"points": batch}).
			Put("/collections/{collection}/points")
		if err != nil {
			return fmt.Errorf("qdrant upsert: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return fmt.Errorf("qdrant upsert: API error %d: %s", resp.StatusCode(), resp.String())
		}
	}
	return nil
}

func stringifyMetadata(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
		default:
			b, err := json.Marshal(t)
			if err != nil {
				out[k] = fmt.Sprint(t)
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}

func anyMetadata(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
