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

var momentumSections = []sectionSpec{
	{"operational_updates", KindQuarterly},
	{"quarterly_performance", KindQuarterly},
	{"short_term_risks", KindQuarterly},
}

// MomentumStream analyses the recent 10-Q filings.
type MomentumStream struct {
	sa       *SectionAnalyzer
	sections *catalog.Sections
	prompts  *prompts.Table
	gw       *llm.Gateway
	settings Settings
}

// NewMomentumStream creates the momentum stream.
func NewMomentumStream(d Deps) *MomentumStream {
	return &MomentumStream{
		sa:       NewSectionAnalyzer(d),
		sections: d.Sections,
		prompts:  d.Prompts,
		gw:       d.Gateway,
		settings: d.Settings,
	}
}

// Name returns the stream identifier.
func (s *MomentumStream) Name() string { return StreamMomentum }

// Analyze runs the three sections concurrently, then consolidates them.
func (s *MomentumStream) Analyze(ctx context.Context, ticker string) (*models.MomentumAnalysis, error) {
	ctx, span := infra.Tracer().Start(ctx, "stream."+StreamMomentum,
		trace.WithAttributes(attribute.String("analysis.ticker", ticker)))
	defer span.End()

	secs, err := lookupSections(s.sections, StreamMomentum, momentumSections)
	if err != nil {
		infra.RecordSpanError(span, err)
		return nil, err
	}

	var (
		g           errgroup.Group
		operational *models.OperationalUpdate
		quarterly   *models.QuarterlyPerformance
		risks       *models.ShortTermRisks
		limit       = s.settings.DocumentLimit
	)
	launch(ctx, &g, s.sa, ticker, secs[0], KindQuarterly, limit, &operational)
	launch(ctx, &g, s.sa, ticker, secs[1], KindQuarterly, limit, &quarterly)
	launch(ctx, &g, s.sa, ticker, secs[2], KindQuarterly, limit, &risks)
	if err := g.Wait(); err != nil {
		infra.RecordSpanError(span, err)
		return nil, fmt.Errorf("momentum analysis: %w", err)
	}

	system, err := s.prompts.Get(prompts.MomentumConsolidation)
	if err != nil {
		infra.RecordSpanError(span, err)
		return nil, err
	}
	payload := renderSections(ticker, []labeled{
		{secs[0].Label, operational},
		{secs[1].Label, quarterly},
		{secs[2].Label, risks},
	})

	out, err := llm.Infer[models.MomentumAnalysis](ctx, s.gw, system, payload,
		llm.InferOptions{Temperature: s.settings.Temperature})
	if err != nil {
		infra.RecordSpanError(span, err)
		return nil, fmt.Errorf("momentum consolidation: %w", err)
	}
	return out, nil
}
