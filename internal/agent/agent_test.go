package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/portiq/internal/agent/prompts"
	"github.com/seenimoa/portiq/internal/catalog"
	"github.com/seenimoa/portiq/internal/llm"
	"github.com/seenimoa/portiq/pkg/models"
)

// ════════════════════════════════════════════════════════════════════
// Fakes
// ════════════════════════════════════════════════════════════════════

// fakeCompleter answers by schema name. A reply queued in overrides wins
// over the canned fixture; failures return an error for that schema.
type fakeCompleter struct {
	mu        sync.Mutex
	replies   map[string]string
	failures  map[string]error
	calls     []*llm.StructuredRequest
	bySchema  map[string]int
	bySection map[string]int
}

func newFakeCompleter() *fakeCompleter {
	return &fakeCompleter{
		replies:   fixtures(),
		failures:  map[string]error{},
		bySchema:  map[string]int{},
		bySection: map[string]int{},
	}
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) CompleteJSON(_ context.Context, req *llm.StructuredRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	f.bySchema[req.SchemaName]++
	if err, ok := f.failures[req.SchemaName]; ok {
		return "", err
	}
	reply, ok := f.replies[req.SchemaName]
	if !ok {
		return "", errors.New("no fixture for " + req.SchemaName)
	}
	return reply, nil
}

func (f *fakeCompleter) count(schema string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bySchema[schema]
}

func (f *fakeCompleter) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCompleter) lastFor(schema string) *llm.StructuredRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].SchemaName == schema {
			return f.calls[i]
		}
	}
	return nil
}

// orderedCompleter holds a schema's reply until every schema it depends on
// has answered. A held call gives up after a deadline, so a caller that
// awaits branches one at a time fails instead of hanging.
type orderedCompleter struct {
	*fakeCompleter
	holds map[string][]string

	mu       sync.Mutex
	answered map[string]chan struct{}
	order    []string
}

func newOrderedCompleter(f *fakeCompleter, holds map[string][]string) *orderedCompleter {
	return &orderedCompleter{fakeCompleter: f, holds: holds, answered: map[string]chan struct{}{}}
}

func (o *orderedCompleter) answeredCh(schema string) chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch, ok := o.answered[schema]
	if !ok {
		ch = make(chan struct{})
		o.answered[schema] = ch
	}
	return ch
}

func (o *orderedCompleter) CompleteJSON(ctx context.Context, req *llm.StructuredRequest) (string, error) {
	for _, dep := range o.holds[req.SchemaName] {
		select {
		case <-o.answeredCh(dep):
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(2 * time.Second):
			return "", fmt.Errorf("%s never saw %s answer: branches are not concurrent", req.SchemaName, dep)
		}
	}

	reply, err := o.fakeCompleter.CompleteJSON(ctx, req)

	ch := o.answeredCh(req.SchemaName)
	o.mu.Lock()
	o.order = append(o.order, req.SchemaName)
	select {
	case <-ch:
	default:
		close(ch)
	}
	o.mu.Unlock()
	return reply, err
}

func (o *orderedCompleter) answerOrder() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.order...)
}

type docQuery struct {
	ticker, query, formType string
	news                    bool
	limit                   int
}

// fakeDocuments records every query and returns a fixed document.
type fakeDocuments struct {
	mu      sync.Mutex
	queries []docQuery
	empty   bool
}

func (f *fakeDocuments) record(q docQuery) []models.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.empty {
		return nil
	}
	return []models.Document{{
		Content:  "Filing text about " + q.ticker,
		Metadata: map[string]string{models.MetaTitle: q.ticker + " headline", models.MetaDate: "2024-05-01"},
	}}
}

func (f *fakeDocuments) QueryFilings(_ context.Context, ticker, query, formType string, limit int) []models.Document {
	return f.record(docQuery{ticker: ticker, query: query, formType: formType, limit: limit})
}

func (f *fakeDocuments) QueryNews(_ context.Context, ticker, query string, limit int) []models.Document {
	return f.record(docQuery{ticker: ticker, query: query, news: true, limit: limit})
}

func (f *fakeDocuments) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func fixtures() map[string]string {
	ticker := "AAPL"
	return map[string]string{
		"TickerExtraction": mustJSON(models.TickerExtraction{Ticker: &ticker, Reasoning: "Apple Inc."}),
		"RiskAssessment": mustJSON(models.RiskAssessment{
			MainRisks: []string{"supply chain"}, RiskCategories: "operational", EmergingRisks: []string{"AI regulation"},
			RiskProfile: models.LevelModerate, AllocationRecommendation: "moderate", RiskScore: 4,
		}),
		"BusinessAnalysis": mustJSON(models.BusinessAnalysis{
			BusinessModel: "hardware and services", RevenueStreams: []string{"iPhone", "Services"},
			CompetitiveAdvantages: []string{"ecosystem"}, MarketPosition: "leader", BusinessStability: "stable",
		}),
		"FinancialMetrics": mustJSON(models.FinancialMetrics{
			RevenueTrend: "growing", ProfitabilityHealth: "healthy", DebtLevel: models.LevelModerate,
			CashPosition: models.StrengthStrong, FinancialQualityScore: 8, KeyMetrics: "gross margin 45%",
		}),
		"ManagementInsights": mustJSON(models.ManagementInsights{
			ManagementOutlook: "optimistic", StrategicInitiatives: []string{"services growth"},
			ChallengesAcknowledged: []string{"China demand"}, GuidanceQuality: "clear", ManagementCredibility: "high",
		}),
		"FundamentalAnalysis": mustJSON(models.FundamentalAnalysis{
			OverallInvestmentThesis: "durable franchise", InvestmentGrade: "A", ConfidenceScore: 0.8,
			KeyStrengths: []string{"ecosystem"}, KeyConcerns: []string{"valuation"}, Recommendation: "buy",
		}),
		"OperationalUpdate": mustJSON(models.OperationalUpdate{
			OperationalChanges: []string{"new plant"}, NewDevelopments: []string{"Vision Pro"},
			ExpansionActivities: []string{"India retail"}, OperationalMomentum: "stable", OperationalScore: 7,
		}),
		"QuarterlyPerformance": mustJSON(models.QuarterlyPerformance{
			RevenuePerformance: models.StrengthAdequate, MarginTrends: models.TrendImproving, LiquidityPosition: "strong",
			CostManagement: "effective", FinancialMomentum: "positive", PerformanceScore: 7.5,
		}),
		"ShortTermRisks": mustJSON(models.ShortTermRisks{
			EmergingRisks: []string{"tariffs"}, RiskIntensity: "stable", ImmediateConcerns: []string{"FX"},
			RiskMitigation: "moderate", RiskOutlook: "stable", RiskScore: 3,
		}),
		"MomentumAnalysis": mustJSON(models.MomentumAnalysis{
			OverallMomentum: "positive", MomentumStrength: "moderate", KeyMomentumDrivers: []string{"services"},
			MomentumRisks: []string{"tariffs"}, ShortTermOutlook: "bullish", MomentumScore: 7,
		}),
		"MarketSentiment": mustJSON(models.MarketSentiment{
			SentimentScore: 7, SentimentDirection: "Positive", KeyNewsThemes: []string{"AI features"},
			RecentCatalysts: []string{"WWDC"}, MarketOutlook: "constructive",
		}),
		"FinalRecommendation": mustJSON(models.FinalRecommendation{
			Action: models.ActionBuy, Confidence: 0.75, Rationale: "all streams positive",
			KeyRisks: []string{"valuation"}, KeyOpportunities: []string{"services"}, TimeHorizon: "Long-term",
		}),
	}
}

type harness struct {
	completer *fakeCompleter
	docs      *fakeDocuments
	deps      Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sections, err := catalog.LoadSections("")
	require.NoError(t, err)
	tickers, err := catalog.LoadTickers("")
	require.NoError(t, err)

	c := newFakeCompleter()
	d := &fakeDocuments{}
	return &harness{
		completer: c,
		docs:      d,
		deps: Deps{
			Gateway:   llm.NewGateway(c),
			Documents: d,
			Prompts:   prompts.Default(),
			Sections:  sections,
			Tickers:   tickers,
			Settings: Settings{
				DocumentLimit:   3,
				NewsLimit:       3,
				MaxContextChars: 15000,
				Temperature:     0,
				TickerMaxTokens: 50,
			},
		},
	}
}

// ════════════════════════════════════════════════════════════════════
// Section analyzer
// ════════════════════════════════════════════════════════════════════

func TestAnalyzeSectionFilings(t *testing.T) {
	h := newHarness(t)
	sec, err := h.deps.Sections.Get(StreamFundamental, "risk_factors")
	require.NoError(t, err)

	out, err := AnalyzeSection[models.RiskAssessment](context.Background(), NewSectionAnalyzer(h.deps), "AAPL", sec, KindAnnual, 3)
	require.NoError(t, err)
	assert.Equal(t, models.LevelModerate, out.RiskProfile)
	assert.Equal(t, []string{"supply chain"}, out.MainRisks)

	require.Len(t, h.docs.queries, 1)
	q := h.docs.queries[0]
	assert.Equal(t, "AAPL", q.ticker)
	assert.Equal(t, "10-K", q.formType)
	assert.Equal(t, 3, q.limit)
	assert.True(t, strings.HasPrefix(q.query, "AAPL "))

	req := h.completer.lastFor("RiskAssessment")
	require.NotNil(t, req)
	assert.Equal(t, "Risk Factors content for AAPL:\nFiling text about AAPL", req.User)
	want, _ := h.deps.Prompts.Get(prompts.RiskFactors)
	assert.Equal(t, want, req.System)
}

func TestAnalyzeSectionNewsUsesNewsContext(t *testing.T) {
	h := newHarness(t)
	sec, _ := h.deps.Sections.Get(StreamSentiment, "market_news")

	_, err := AnalyzeSection[models.MarketSentiment](context.Background(), NewSectionAnalyzer(h.deps), "MSFT", sec, KindNews, 3)
	require.NoError(t, err)

	require.Len(t, h.docs.queries, 1)
	assert.True(t, h.docs.queries[0].news)
	req := h.completer.lastFor("MarketSentiment")
	assert.Contains(t, req.User, "TITLE: MSFT headline\nDATE: 2024-05-01\nCONTENT: Filing text about MSFT")
}

func TestAnalyzeSectionEmptyRetrievalStillInfers(t *testing.T) {
	h := newHarness(t)
	h.docs.empty = true
	sec, _ := h.deps.Sections.Get(StreamMomentum, "short_term_risks")

	_, err := AnalyzeSection[models.ShortTermRisks](context.Background(), NewSectionAnalyzer(h.deps), "AAPL", sec, KindQuarterly, 3)
	require.NoError(t, err)
	assert.Equal(t, "10-Q", h.docs.queries[0].formType)
	assert.True(t, strings.HasSuffix(h.completer.lastFor("ShortTermRisks").User, "No relevant content found"))
}

func TestAnalyzeSectionRejectsInvalidOutput(t *testing.T) {
	base := fixtures()["RiskAssessment"]
	tests := []struct {
		name  string
		reply string
	}{
		{"missing field", `{"main_risks":[],"risk_categories":"x"}`},
		{"bad enum", strings.Replace(base, `"moderate","allocation`, `"extreme","allocation`, 1)},
		{"score out of range", strings.Replace(base, `"risk_score":4`, `"risk_score":11`, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.completer.replies["RiskAssessment"] = tt.reply
			sec, _ := h.deps.Sections.Get(StreamFundamental, "risk_factors")

			out, err := AnalyzeSection[models.RiskAssessment](context.Background(), NewSectionAnalyzer(h.deps), "AAPL", sec, KindAnnual, 3)
			assert.Nil(t, out)
			assert.ErrorIs(t, err, llm.ErrInference)
		})
	}
}

func TestAnalyzeSectionMissingPrompt(t *testing.T) {
	h := newHarness(t)
	sec := catalog.Section{Stream: "fundamental", Key: "x", Query: "{ticker}", PromptID: "nope", Label: "X"}

	_, err := AnalyzeSection[models.RiskAssessment](context.Background(), NewSectionAnalyzer(h.deps), "AAPL", sec, KindAnnual, 3)
	assert.ErrorIs(t, err, prompts.ErrPromptNotFound)
	assert.Zero(t, h.completer.total())
}

// ════════════════════════════════════════════════════════════════════
// Ticker resolver
// ════════════════════════════════════════════════════════════════════

func TestResolveFromTable(t *testing.T) {
	h := newHarness(t)
	got, err := NewTickerResolver(h.deps).Resolve(context.Background(), "I like Apple products")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", got)
	assert.Zero(t, h.completer.total(), "table hit must not call the model")
}

func TestResolveFallsBackToModel(t *testing.T) {
	h := newHarness(t)
	h.completer.replies["TickerExtraction"] = `{"ticker":" pltr ","reasoning":"Palantir"}`

	got, err := NewTickerResolver(h.deps).Resolve(context.Background(), "thoughts on palantir?")
	require.NoError(t, err)
	assert.Equal(t, "PLTR", got)

	req := h.completer.lastFor("TickerExtraction")
	require.NotNil(t, req)
	assert.Equal(t, "Extract ticker from: thoughts on palantir?", req.User)
	assert.Equal(t, 50, req.MaxTokens)
	assert.Zero(t, req.Temperature)
}

func TestResolveRejectsImplausibleTickers(t *testing.T) {
	replies := map[string]string{
		"null":      `{"ticker":null,"reasoning":"no company"}`,
		"NONE":      `{"ticker":"NONE","reasoning":"no company"}`,
		"too long":  `{"ticker":"TOOLONGX","reasoning":"guess"}`,
		"empty str": `{"ticker":"","reasoning":"nothing"}`,
	}
	for name, reply := range replies {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.completer.replies["TickerExtraction"] = reply
			_, err := NewTickerResolver(h.deps).Resolve(context.Background(), "what should I buy")
			assert.ErrorIs(t, err, ErrUnresolvedTicker)
		})
	}
}

func TestResolveInferenceFailure(t *testing.T) {
	h := newHarness(t)
	h.completer.failures["TickerExtraction"] = llm.ErrProviderDown

	_, err := NewTickerResolver(h.deps).Resolve(context.Background(), "what should I buy")
	assert.ErrorIs(t, err, llm.ErrInference)
	assert.ErrorIs(t, err, llm.ErrProviderDown)
}

// ════════════════════════════════════════════════════════════════════
// Streams
// ════════════════════════════════════════════════════════════════════

func TestFundamentalStream(t *testing.T) {
	h := newHarness(t)
	out, err := NewFundamentalStream(h.deps).Analyze(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "A", out.InvestmentGrade)

	assert.Equal(t, 4, h.docs.count())
	for _, schema := range []string{"RiskAssessment", "BusinessAnalysis", "FinancialMetrics", "ManagementInsights", "FundamentalAnalysis"} {
		assert.Equal(t, 1, h.completer.count(schema), schema)
	}

	payload := h.completer.lastFor("FundamentalAnalysis").User
	assert.True(t, strings.HasPrefix(payload, "Section analyses for AAPL:\n\nRISK FACTORS:\nmain_risks: supply chain\n"))
	order := []string{"RISK FACTORS:", "BUSINESS OVERVIEW:", "FINANCIAL PERFORMANCE:", "MANAGEMENT DISCUSSION:"}
	last := -1
	for _, heading := range order {
		idx := strings.Index(payload, heading)
		require.GreaterOrEqual(t, idx, 0, heading)
		assert.Greater(t, idx, last, "sections must keep their declared order")
		last = idx
	}
	assert.Contains(t, payload, "financial_quality_score: 8")
}

func TestFundamentalSectionsRunConcurrently(t *testing.T) {
	h := newHarness(t)
	oc := newOrderedCompleter(h.completer, map[string][]string{
		"RiskAssessment": {"BusinessAnalysis", "FinancialMetrics", "ManagementInsights"},
	})
	h.deps.Gateway = llm.NewGateway(oc)

	_, err := NewFundamentalStream(h.deps).Analyze(context.Background(), "AAPL")
	require.NoError(t, err)

	order := oc.answerOrder()
	require.Len(t, order, 5)
	assert.Equal(t, "RiskAssessment", order[3], "risk factors answers last among the sections")
	assert.Equal(t, "FundamentalAnalysis", order[4])

	// The first declared section still leads the consolidation payload.
	payload := h.completer.lastFor("FundamentalAnalysis").User
	assert.True(t, strings.HasPrefix(payload, "Section analyses for AAPL:\n\nRISK FACTORS:\n"), payload)
	last := -1
	for _, heading := range []string{"RISK FACTORS:", "BUSINESS OVERVIEW:", "FINANCIAL PERFORMANCE:", "MANAGEMENT DISCUSSION:"} {
		idx := strings.Index(payload, heading)
		require.GreaterOrEqual(t, idx, 0, heading)
		assert.Greater(t, idx, last, heading)
		last = idx
	}
}

func TestMomentumSectionsRunConcurrently(t *testing.T) {
	h := newHarness(t)
	oc := newOrderedCompleter(h.completer, map[string][]string{
		"OperationalUpdate": {"QuarterlyPerformance", "ShortTermRisks"},
	})
	h.deps.Gateway = llm.NewGateway(oc)

	_, err := NewMomentumStream(h.deps).Analyze(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, []string{"OperationalUpdate", "MomentumAnalysis"}, oc.answerOrder()[2:])

	payload := h.completer.lastFor("MomentumAnalysis").User
	i1 := strings.Index(payload, "OPERATIONAL UPDATES:")
	i2 := strings.Index(payload, "QUARTERLY PERFORMANCE:")
	i3 := strings.Index(payload, "SHORT-TERM RISKS:")
	assert.True(t, i1 >= 0 && i1 < i2 && i2 < i3, "sections out of order:\n%s", payload)
}

func TestStreamFailsFastWithoutConsolidation(t *testing.T) {
	h := newHarness(t)
	h.completer.failures["BusinessAnalysis"] = errors.New("model overloaded")

	out, err := NewFundamentalStream(h.deps).Analyze(context.Background(), "AAPL")
	assert.Nil(t, out)
	assert.ErrorIs(t, err, llm.ErrInference)
	assert.Contains(t, err.Error(), "business_overview")
	assert.Zero(t, h.completer.count("FundamentalAnalysis"), "consolidation must not run")
	assert.Equal(t, 4, h.docs.count(), "sibling sections still run to completion")
}

func TestMomentumStream(t *testing.T) {
	h := newHarness(t)
	out, err := NewMomentumStream(h.deps).Analyze(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "bullish", out.ShortTermOutlook)
	assert.Equal(t, 3, h.docs.count())
	for _, q := range h.docs.queries {
		assert.Equal(t, "10-Q", q.formType)
	}
	assert.Contains(t, h.completer.lastFor("MomentumAnalysis").User, "QUARTERLY PERFORMANCE:\nrevenue_performance: adequate")
}

func TestSentimentStreamHasNoConsolidation(t *testing.T) {
	h := newHarness(t)
	out, err := NewSentimentStream(h.deps).Analyze(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "Positive", out.SentimentDirection)
	assert.Equal(t, 1, h.completer.total())
}

func TestStreamUnknownSectionIsConfigError(t *testing.T) {
	h := newHarness(t)
	sections, err := catalog.ParseSections([]byte(`
analysis_queries:
  sentiment:
    market_news:
      query: "{ticker} news"
      prompt_name: market_news
`))
	require.NoError(t, err)
	h.deps.Sections = sections

	_, err = NewFundamentalStream(h.deps).Analyze(context.Background(), "AAPL")
	assert.ErrorIs(t, err, catalog.ErrConfig)
	assert.Zero(t, h.docs.count())
	assert.Zero(t, h.completer.total())
}

func TestRenderFields(t *testing.T) {
	got := renderFields(&models.ShortTermRisks{
		EmergingRisks: []string{"a", "b"}, RiskIntensity: "stable", RiskScore: 2.5,
	})
	want := "emerging_risks: a; b\nrisk_intensity: stable\nimmediate_concerns: \nrisk_mitigation: \nrisk_outlook: \nrisk_score: 2.5"
	assert.Equal(t, want, got)
}

// ════════════════════════════════════════════════════════════════════
// Orchestrator
// ════════════════════════════════════════════════════════════════════

func TestAnalyzeInvestmentEndToEnd(t *testing.T) {
	h := newHarness(t)
	var (
		mu     sync.Mutex
		events []Event
	)
	o := NewOrchestrator(h.deps, WithObserver(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}))

	resp, err := o.AnalyzeInvestment(context.Background(), models.AnalysisRequest{Ticker: " msft "})
	require.NoError(t, err)
	assert.Equal(t, "MSFT", resp.Ticker)
	assert.GreaterOrEqual(t, resp.ExecutionTime, 0.0)
	assert.Equal(t, "A", resp.FundamentalAnalysis.InvestmentGrade)
	assert.Equal(t, "bullish", resp.MomentumAnalysis.ShortTermOutlook)
	assert.Equal(t, 7.0, resp.MarketSentiment.SentimentScore)
	assert.Equal(t, models.ActionBuy, resp.FinalRecommendation.Action)

	// 8 sections + 2 consolidations + 1 aggregation, no ticker extraction.
	assert.Equal(t, 11, h.completer.total())
	assert.Zero(t, h.completer.count("TickerExtraction"))
	assert.Equal(t, 8, h.docs.count())

	agg := h.completer.lastFor("FinalRecommendation")
	require.NotNil(t, agg)
	assert.Zero(t, agg.Temperature)
	i1 := strings.Index(agg.User, "STREAM 1 - FUNDAMENTAL ANALYSIS for MSFT:")
	i2 := strings.Index(agg.User, "STREAM 2 - MOMENTUM ANALYSIS for MSFT:")
	i3 := strings.Index(agg.User, "STREAM 3 - MARKET SENTIMENT for MSFT:")
	assert.True(t, i1 == 0 && i1 < i2 && i2 < i3, "stream blocks out of order:\n%s", agg.User)
	assert.Contains(t, agg.User, `"investment_grade": "A"`)

	mu.Lock()
	defer mu.Unlock()
	counts := map[EventType]int{}
	for _, e := range events {
		counts[e.Type]++
		assert.NotEmpty(t, e.RequestID)
	}
	assert.Equal(t, 3, counts[EventStreamStarted])
	assert.Equal(t, 3, counts[EventStreamCompleted])
	assert.Equal(t, 1, counts[EventAnalysisCompleted])
	assert.Equal(t, EventAnalysisCompleted, events[len(events)-1].Type)
}

func TestAnalyzeInvestmentStreamsRunConcurrently(t *testing.T) {
	h := newHarness(t)
	oc := newOrderedCompleter(h.completer, map[string][]string{
		"FundamentalAnalysis": {"MomentumAnalysis", "MarketSentiment"},
	})
	h.deps.Gateway = llm.NewGateway(oc)

	var (
		mu        sync.Mutex
		completed []string
	)
	o := NewOrchestrator(h.deps, WithObserver(func(e Event) {
		if e.Type == EventStreamCompleted {
			mu.Lock()
			completed = append(completed, e.Stream)
			mu.Unlock()
		}
	}))

	resp, err := o.AnalyzeInvestment(context.Background(), models.AnalysisRequest{Ticker: "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "A", resp.FundamentalAnalysis.InvestmentGrade)
	assert.Equal(t, "bullish", resp.MomentumAnalysis.ShortTermOutlook)
	assert.Equal(t, "Positive", resp.MarketSentiment.SentimentDirection)

	mu.Lock()
	assert.ElementsMatch(t, []string{StreamFundamental, StreamMomentum, StreamSentiment}, completed)
	mu.Unlock()

	order := oc.answerOrder()
	answeredAt := map[string]int{}
	for i, schema := range order {
		answeredAt[schema] = i
	}
	assert.Greater(t, answeredAt["FundamentalAnalysis"], answeredAt["MomentumAnalysis"])
	assert.Greater(t, answeredAt["FundamentalAnalysis"], answeredAt["MarketSentiment"])
	assert.Equal(t, "FinalRecommendation", order[len(order)-1])

	agg := h.completer.lastFor("FinalRecommendation").User
	i1 := strings.Index(agg, "STREAM 1 - FUNDAMENTAL ANALYSIS for AAPL:")
	i2 := strings.Index(agg, "STREAM 2 - MOMENTUM ANALYSIS for AAPL:")
	i3 := strings.Index(agg, "STREAM 3 - MARKET SENTIMENT for AAPL:")
	assert.True(t, i1 == 0 && i1 < i2 && i2 < i3, "stream blocks out of order:\n%s", agg)
}

func TestAnalyzeInvestmentResolvesMessage(t *testing.T) {
	h := newHarness(t)
	resp, err := NewOrchestrator(h.deps).AnalyzeInvestment(context.Background(), models.AnalysisRequest{Message: "Is Microsoft a buy?"})
	require.NoError(t, err)
	assert.Equal(t, "MSFT", resp.Ticker)
}

func TestAnalyzeInvestmentEmptyRequest(t *testing.T) {
	h := newHarness(t)
	var failed []Event
	o := NewOrchestrator(h.deps, WithObserver(func(e Event) { failed = append(failed, e) }))

	resp, err := o.AnalyzeInvestment(context.Background(), models.AnalysisRequest{})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrMissingInput)
	assert.Zero(t, h.completer.total())
	assert.Zero(t, h.docs.count())
	require.Len(t, failed, 1)
	assert.Equal(t, EventAnalysisFailed, failed[0].Type)
}

func TestAnalyzeInvestmentBareDollarTicker(t *testing.T) {
	for _, req := range []models.AnalysisRequest{
		{Ticker: "$"},
		{Ticker: " $ ", Message: "  "},
	} {
		h := newHarness(t)
		resp, err := NewOrchestrator(h.deps).AnalyzeInvestment(context.Background(), req)
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, ErrMissingInput, "%+v", req)
		assert.Zero(t, h.completer.total(), "no inference for %+v", req)
	}
}

func TestAnalyzeInvestmentUnresolvedTicker(t *testing.T) {
	h := newHarness(t)
	h.completer.replies["TickerExtraction"] = `{"ticker":"NONE","reasoning":"no company"}`

	_, err := NewOrchestrator(h.deps).AnalyzeInvestment(context.Background(), models.AnalysisRequest{Message: "what is a good stock?"})
	assert.ErrorIs(t, err, ErrUnresolvedTicker)
	assert.Zero(t, h.docs.count())
}

func TestAnalyzeInvestmentStreamFailure(t *testing.T) {
	h := newHarness(t)
	h.completer.failures["QuarterlyPerformance"] = llm.ErrRateLimit

	resp, err := NewOrchestrator(h.deps).AnalyzeInvestment(context.Background(), models.AnalysisRequest{Ticker: "AAPL"})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, llm.ErrInference)
	assert.ErrorIs(t, err, llm.ErrRateLimit)
	assert.Zero(t, h.completer.count("FinalRecommendation"), "aggregation must not run")
}

func TestAnalyzeInvestmentIdempotent(t *testing.T) {
	h := newHarness(t)
	o := NewOrchestrator(h.deps)

	first, err := o.AnalyzeInvestment(context.Background(), models.AnalysisRequest{Ticker: "AAPL"})
	require.NoError(t, err)
	second, err := o.AnalyzeInvestment(context.Background(), models.AnalysisRequest{Ticker: "AAPL"})
	require.NoError(t, err)

	assert.Equal(t, first.FinalRecommendation, second.FinalRecommendation)
	assert.Equal(t, first.FundamentalAnalysis, second.FundamentalAnalysis)
}
