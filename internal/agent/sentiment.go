package agent

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/seenimoa/portiq/internal/catalog"
	"github.com/seenimoa/portiq/internal/infra"
	"github.com/seenimoa/portiq/pkg/models"
)

var sentimentSection = sectionSpec{"market_news", KindNews}

// SentimentStream reads recent news. Its single section result is the
// stream result.
type SentimentStream struct {
	sa       *SectionAnalyzer
	sections *catalog.Sections
	limit    int
}

// NewSentimentStream creates the sentiment stream.
func NewSentimentStream(d Deps) *SentimentStream {
	return &SentimentStream{
		sa:       NewSectionAnalyzer(d),
		sections: d.Sections,
		limit:    d.Settings.NewsLimit,
	}
}

// Name returns the stream identifier.
func (s *SentimentStream) Name() string { return StreamSentiment }

// Analyze runs the news section.
func (s *SentimentStream) Analyze(ctx context.Context, ticker string) (*models.MarketSentiment, error) {
	ctx, span := infra.Tracer().Start(ctx, "stream."+StreamSentiment,
		trace.WithAttributes(attribute.String("analysis.ticker", ticker)))
	defer span.End()

	sec, err := s.sections.Get(StreamSentiment, sentimentSection.key)
	if err != nil {
		infra.RecordSpanError(span, err)
		return nil, err
	}

	out, err := AnalyzeSection[models.MarketSentiment](ctx, s.sa, ticker, sec, sentimentSection.kind, s.limit)
	if err != nil {
		infra.RecordSpanError(span, err)
		return nil, fmt.Errorf("sentiment analysis: %w", err)
	}
	return out, nil
}
