package agent

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/portiq/internal/agent/prompts"
	"github.com/seenimoa/portiq/internal/catalog"
	"github.com/seenimoa/portiq/internal/infra"
	"github.com/seenimoa/portiq/internal/llm"
	"github.com/seenimoa/portiq/pkg/models"
)

var fundamentalSections = []sectionSpec{
	{"risk_factors", KindAnnual},
	{"business_overview", KindAnnual},
	{"financial_performance", KindAnnual},
	{"management_discussion", KindAnnual},
}

// FundamentalStream analyses the annual 10-K filing.
type FundamentalStream struct {
	sa       *SectionAnalyzer
	sections *catalog.Sections
	prompts  *prompts.Table
	gw       *llm.Gateway
	settings Settings
}

// NewFundamentalStream creates the fundamental stream.
func NewFundamentalStream(d Deps) *FundamentalStream {
	return &FundamentalStream{
		sa:       NewSectionAnalyzer(d),
		sections: d.Sections,
		prompts:  d.Prompts,
		gw:       d.Gateway,
		settings: d.Settings,
	}
}

// Name returns the stream identifier.
func (s *FundamentalStream) Name() string { return StreamFundamental }

// Analyze runs the four sections concurrently, then consolidates them.
func (s *FundamentalStream) Analyze(ctx context.Context, ticker string) (*models.FundamentalAnalysis, error) {
	ctx, span := infra.Tracer().Start(ctx, "stream."+StreamFundamental,
		trace.WithAttributes(attribute.String("analysis.ticker", ticker)))
	defer span.End()

	secs, err := lookupSections(s.sections, StreamFundamental, fundamentalSections)
	if err != nil {
		infra.RecordSpanError(span, err)
		return nil, err
	}

	var (
		g          errgroup.Group
		risk       *models.RiskAssessment
		business   *models.BusinessAnalysis
		financial  *models.FinancialMetrics
		management *models.ManagementInsights
		limit      = s.settings.DocumentLimit
	)
	launch(ctx, &g, s.sa, ticker, secs[0], KindAnnual, limit, &risk)
	launch(ctx, &g, s.sa, ticker, secs[1], KindAnnual, limit, &business)
	launch(ctx, &g, s.sa, ticker, secs[2], KindAnnual, limit, &financial)
	launch(ctx, &g, s.sa, ticker, secs[3], KindAnnual, limit, &management)
	if err := g.Wait(); err != nil {
		infra.RecordSpanError(span, err)
		return nil, fmt.Errorf("fundamental analysis: %w", err)
	}

	system, err := s.prompts.Get(prompts.FundamentalConsolidation)
	if err != nil {
		infra.RecordSpanError(span, err)
		return nil, err
	}
	payload := renderSections(ticker, []labeled{
		{secs[0].Label, risk},
		{secs[1].Label, business},
		{secs[2].Label, financial},
		{secs[3].Label, management},
	})

	out, err := llm.Infer[models.FundamentalAnalysis](ctx, s.gw, system, payload,
		llm.InferOptions{Temperature: s.settings.Temperature})
	if err != nil {
		infra.RecordSpanError(span, err)
		return nil, fmt.Errorf("fundamental consolidation: %w", err)
	}
	return out, nil
}
