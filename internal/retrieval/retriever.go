package retrieval

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/seenimoa/portiq/internal/config"
	"github.com/seenimoa/portiq/internal/infra"
	"github.com/seenimoa/portiq/pkg/models"
)

// DocumentRetriever answers filing and news queries for one ticker.
// Failures while analysing are logged and turned into empty results so a
// section still gets analysed on "No relevant content found".
type DocumentRetriever struct {
	embedder Embedder
	searcher Searcher
	log      logrus.FieldLogger
}

// NewDocumentRetriever wires an embedder to a searcher.
func NewDocumentRetriever(e Embedder, s Searcher, log logrus.FieldLogger) *DocumentRetriever {
	if log == nil {
		log = infra.NopLogger()
	}
	return &DocumentRetriever{embedder: e, searcher: s, log: log}
}

// Search embeds query and runs a filtered search. Errors are returned.
func (r *DocumentRetriever) Search(ctx context.Context, query string, filters map[string]string, limit int) ([]models.Document, error) {
	ctx, span := infra.Tracer().Start(ctx, "retrieval.search", trace.WithAttributes(
		attribute.Int("retrieval.limit", limit),
		attribute.String("retrieval.filters", fmt.Sprint(filters)),
	))
	defer span.End()

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		infra.RecordSpanError(span, err)
		return nil, err
	}
	docs, err := r.searcher.Search(ctx, vec, filters, limit)
	if err != nil {
		infra.RecordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("retrieval.results", len(docs)))
	return docs, nil
}

// QueryFilings searches filings of the given form type.
func (r *DocumentRetriever) QueryFilings(ctx context.Context, ticker, query, formType string, limit int) []models.Document {
	return r.absorb(ctx, "query_filings", ticker, query, map[string]string{
		models.MetaTicker:   ticker,
		models.MetaFormType: formType,
	}, limit)
}

// QueryNews searches news chunks.
func (r *DocumentRetriever) QueryNews(ctx context.Context, ticker, query string, limit int) []models.Document {
	return r.absorb(ctx, "query_news", ticker, query, map[string]string{
		models.MetaTicker:    ticker,
		models.MetaChunkType: models.ChunkTypeNews,
	}, limit)
}

func (r *DocumentRetriever) absorb(ctx context.Context, op, ticker, query string, filters map[string]string, limit int) []models.Document {
	docs, err := r.Search(ctx, query, filters, limit)
	if err != nil {
		rerr := &RetrievalError{Op: op, Ticker: ticker, Err: err}
		r.log.WithFields(logrus.Fields{
			"operation": op,
			"ticker":    ticker,
		}).WithError(rerr).Warn("document retrieval failed, continuing without context")
		return nil
	}
	return docs
}

// Backend is a store that can both search and index.
type Backend interface {
	Searcher
	Indexer
}

// NewBackendFromConfig opens the configured vector store. The returned
// closer is never nil.
func NewBackendFromConfig(ctx context.Context, cfg *config.Config) (Backend, func(), error) {
	switch cfg.Retrieval.Backend {
	case "qdrant", "":
		return NewQdrantClient(QdrantConfig{
			URL:        cfg.Retrieval.QdrantURL,
			APIKey:     cfg.Retrieval.QdrantAPIKey,
			Collection: cfg.Retrieval.Collection,
			VectorName: cfg.Retrieval.VectorName,
			Timeout:    cfg.Retrieval.Timeout,
		}), func() {}, nil
	case "pgvector":
		s, err := NewPGVectorStore(ctx, cfg.Retrieval.PostgresDSN, cfg.Retrieval.Table)
		if err != nil {
			return nil, func() {}, err
		}
		return s, s.Close, nil
	}
	return nil, func() {}, fmt.Errorf("%w: %q", ErrNoBackend, cfg.Retrieval.Backend)
}

// NewEmbedderFromConfig builds the OpenAI embedder.
func NewEmbedderFromConfig(cfg *config.Config) (*OpenAIEmbedder, error) {
	return NewOpenAIEmbedder(EmbedderConfig{
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.LLM.Timeout,
	})
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
