package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/seenimoa/portiq/internal/agent/prompts"
	"github.com/seenimoa/portiq/internal/infra"
	"github.com/seenimoa/portiq/internal/llm"
	"github.com/seenimoa/portiq/internal/retrieval"
	"github.com/seenimoa/portiq/pkg/models"
)

// DefaultAskLimit is the number of documents retrieved for a question when
// the request does not say.
const DefaultAskLimit = 5

// ErrEmptyQuery is returned for a blank question.
var ErrEmptyQuery = errors.New("query must not be empty")

// Searcher is a raw filtered similarity search. Unlike DocumentSource it
// reports backend failures.
type Searcher interface {
	Search(ctx context.Context, query string, filters map[string]string, limit int) ([]models.Document, error)
}

var _ Searcher = (*retrieval.DocumentRetriever)(nil)

// Answerer answers free-text questions from retrieved documents using the
// rag_response prompt.
type Answerer struct {
	search   Searcher
	gw       *llm.Gateway
	prompts  *prompts.Table
	settings Settings
	log      logrus.FieldLogger
}

// NewAnswerer builds an answerer sharing the analysis gateway and prompts.
func NewAnswerer(d Deps, search Searcher) *Answerer {
	return &Answerer{
		search:   search,
		gw:       d.Gateway,
		prompts:  d.Prompts,
		settings: d.Settings,
		log:      d.logger(),
	}
}

type askCall struct {
	system string
	docs   []models.Document
	opts   llm.InferOptions
}

// prepare retrieves the context documents and renders the system prompt.
func (a *Answerer) prepare(ctx context.Context, req models.AskRequest) (*askCall, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultAskLimit
	}

	docs, err := a.search.Search(ctx, query, req.Filters, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieve documents: %w", err)
	}
	if len(docs) == 0 {
		a.log.WithFields(logrus.Fields{"operation": "ask", "query": query}).
			Warn("no relevant documents found for query")
		docs = []models.Document{}
	}

	contents := make([]string, len(docs))
	for i, d := range docs {
		contents[i] = d.Content
	}
	system, err := a.prompts.Render(prompts.RAGResponse, map[string]string{
		"context": strings.Join(contents, "\n\n"),
		"query":   query,
	})
	if err != nil {
		return nil, err
	}

	opts := llm.InferOptions{Temperature: a.settings.Temperature, MaxTokens: req.MaxOutputTokens}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	return &askCall{system: system, docs: docs, opts: opts}, nil
}

func (a *Answerer) start(ctx context.Context, name string, req models.AskRequest) (context.Context, trace.Span) {
	return infra.Tracer().Start(ctx, name, trace.WithAttributes(
		attribute.Int("ask.limit", req.Limit),
		attribute.Int("ask.filters", len(req.Filters)),
	))
}

// Ask retrieves documents for req.Query and answers from them.
func (a *Answerer) Ask(ctx context.Context, req models.AskRequest) (*models.AskResponse, error) {
	ctx, span := a.start(ctx, "answerer.ask", req)
	defer span.End()
	start := time.Now()

	call, err := a.prepare(ctx, req)
	if err != nil {
		infra.RecordSpanError(span, err)
		return nil, err
	}

	answer, err := a.gw.Complete(ctx, call.system, "", call.opts)
	if err != nil {
		infra.RecordSpanError(span, err)
		a.log.WithField("operation", "ask").WithError(err).Error("answer generation failed")
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	a.log.WithFields(logrus.Fields{
		"operation": "ask",
		"documents": len(call.docs),
		"elapsed":   time.Since(start).Round(time.Millisecond).String(),
	}).Info("question answered")
	return &models.AskResponse{Answer: answer, SourceDocuments: call.docs}, nil
}

// AskStream is Ask delivered incrementally: onSources receives the
// retrieved documents once, then onDelta receives the answer fragments.
// An error returned before onSources ran means nothing was delivered.
func (a *Answerer) AskStream(ctx context.Context, req models.AskRequest, onSources func([]models.Document) error, onDelta func(string) error) error {
	ctx, span := a.start(ctx, "answerer.ask_stream", req)
	defer span.End()

	call, err := a.prepare(ctx, req)
	if err != nil {
		infra.RecordSpanError(span, err)
		return err
	}
	if err := onSources(call.docs); err != nil {
		return err
	}

	if err := a.gw.Stream(ctx, call.system, "", call.opts, onDelta); err != nil {
		infra.RecordSpanError(span, err)
		a.log.WithField("operation", "ask_stream").WithError(err).Error("answer stream failed")
		return fmt.Errorf("stream answer: %w", err)
	}
	return nil
}
