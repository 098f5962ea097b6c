package agent

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/seenimoa/portiq/internal/agent/prompts"
	"github.com/seenimoa/portiq/internal/catalog"
	"github.com/seenimoa/portiq/internal/infra"
	"github.com/seenimoa/portiq/internal/llm"
	"github.com/seenimoa/portiq/internal/retrieval"
)

// SectionAnalyzer runs retrieve → render → infer for one section.
type SectionAnalyzer struct {
	gw          *llm.Gateway
	docs        DocumentSource
	prompts     *prompts.Table
	maxChars    int
	temperature float64
	log         logrus.FieldLogger
}

// NewSectionAnalyzer creates a section analyzer.
func NewSectionAnalyzer(d Deps) *SectionAnalyzer {
	return &SectionAnalyzer{
		gw:          d.Gateway,
		docs:        d.Documents,
		prompts:     d.Prompts,
		maxChars:    d.Settings.MaxContextChars,
		temperature: d.Settings.Temperature,
		log:         d.logger(),
	}
}

// AnalyzeSection returns a fully validated T for one section of ticker.
// Retrieval problems degrade to an empty context; a missing prompt or a
// failed inference is returned.
func AnalyzeSection[T any](ctx context.Context, sa *SectionAnalyzer, ticker string, sec catalog.Section, kind DocumentKind, limit int) (*T, error) {
	ctx, span := infra.Tracer().Start(ctx, "section."+sec.Key, trace.WithAttributes(
		attribute.String("analysis.ticker", ticker),
		attribute.String("analysis.stream", sec.Stream),
		attribute.String("analysis.documents", kind.String()),
	))
	defer span.End()

	query := sec.QueryFor(ticker)

	var content string
	if kind == KindNews {
		docs := sa.docs.QueryNews(ctx, ticker, query, limit)
		content = retrieval.NewsToContext(docs)
		span.SetAttributes(attribute.Int("analysis.document_count", len(docs)))
	} else {
		docs := sa.docs.QueryFilings(ctx, ticker, query, kind.formType(), limit)
		content = retrieval.FilingsToContext(docs, sa.maxChars)
		span.SetAttributes(attribute.Int("analysis.document_count", len(docs)))
	}

	system, err := sa.prompts.Get(sec.PromptID)
	if err != nil {
		infra.RecordSpanError(span, err)
		return nil, err
	}

	user := fmt.Sprintf("%s content for %s:\n%s", sec.Label, ticker, content)
	out, err := llm.Infer[T](ctx, sa.gw, system, user, llm.InferOptions{Temperature: sa.temperature})
	if err != nil {
		infra.RecordSpanError(span, err)
		return nil, err
	}

	sa.log.WithFields(logrus.Fields{
		"operation": "analyze_section",
		"ticker":    ticker,
		"section":   sec.Key,
	}).Debug("section analysed")
	return out, nil
}
