package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/seenimoa/portiq/internal/agent/prompts"
	"github.com/seenimoa/portiq/internal/infra"
	"github.com/seenimoa/portiq/internal/llm"
	"github.com/seenimoa/portiq/pkg/models"
	"github.com/seenimoa/portiq/pkg/utils"
)

// ── Progress events ──

// EventType names an orchestrator progress event.
type EventType string

const (
	EventStreamStarted     EventType = "stream_started"
	EventStreamCompleted   EventType = "stream_completed"
	EventAnalysisCompleted EventType = "analysis_completed"
	EventAnalysisFailed    EventType = "analysis_failed"
)

// Event reports progress of one AnalyzeInvestment call.
type Event struct {
	Type      EventType     `json:"type"`
	RequestID string        `json:"request_id"`
	Ticker    string        `json:"ticker,omitempty"`
	Stream    string        `json:"stream,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	Error     string        `json:"error,omitempty"`
}

// Observer receives progress events. It is called from stream goroutines
// and must not block.
type Observer func(Event)

// ── Orchestrator ──

// Orchestrator resolves the ticker, runs the three streams concurrently and
// merges their results into a final recommendation.
type Orchestrator struct {
	resolver    *TickerResolver
	fundamental *FundamentalStream
	momentum    *MomentumStream
	sentiment   *SentimentStream
	gw          *llm.Gateway
	prompts     *prompts.Table
	log         logrus.FieldLogger
	observer    Observer
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithObserver installs a progress observer.
func WithObserver(obs Observer) OrchestratorOption {
	return func(o *Orchestrator) { o.observer = obs }
}

// NewOrchestrator builds the resolver and the three streams from d.
func NewOrchestrator(d Deps, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		resolver:    NewTickerResolver(d),
		fundamental: NewFundamentalStream(d),
		momentum:    NewMomentumStream(d),
		sentiment:   NewSentimentStream(d),
		gw:          d.Gateway,
		prompts:     d.Prompts,
		log:         d.logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Resolver returns the ticker resolver.
func (o *Orchestrator) Resolver() *TickerResolver { return o.resolver }

func (o *Orchestrator) emit(e Event) {
	if o.observer != nil {
		o.observer(e)
	}
}

// AnalyzeInvestment runs the complete analysis for one request.
func (o *Orchestrator) AnalyzeInvestment(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResponse, error) {
	start := time.Now()
	requestID := uuid.NewString()

	ctx, span := infra.Tracer().Start(ctx, "orchestrator.analyze",
		trace.WithAttributes(attribute.String("analysis.request_id", requestID)))
	defer span.End()

	var ticker string
	fail := func(err error) (*models.AnalysisResponse, error) {
		infra.RecordSpanError(span, err)
		o.log.WithFields(logrus.Fields{
			"operation":  "analyze_investment",
			"ticker":     ticker,
			"request_id": requestID,
		}).WithError(err).Error("investment analysis failed")
		o.emit(Event{
			Type:      EventAnalysisFailed,
			RequestID: requestID,
			Ticker:    ticker,
			Elapsed:   time.Since(start),
			Error:     err.Error(),
		})
		return nil, fmt.Errorf("analysis failed: %w", err)
	}

	if req.IsEmpty() {
		return fail(ErrMissingInput)
	}

	ticker = utils.NormalizeTicker(req.Ticker)
	if ticker == "" {
		if strings.TrimSpace(req.Message) == "" {
			return fail(ErrMissingInput)
		}
		resolved, err := o.resolver.Resolve(ctx, req.Message)
		if err != nil {
			return fail(err)
		}
		ticker = resolved
	}
	span.SetAttributes(attribute.String("analysis.ticker", ticker))
	o.log.WithFields(logrus.Fields{
		"operation":  "analyze_investment",
		"ticker":     ticker,
		"request_id": requestID,
	}).Info("starting investment analysis")

	var (
		g           errgroup.Group
		fundamental *models.FundamentalAnalysis
		momentum    *models.MomentumAnalysis
		sentiment   *models.MarketSentiment
	)
	runStream(ctx, o, &g, requestID, ticker, start, StreamFundamental, o.fundamental.Analyze, &fundamental)
	runStream(ctx, o, &g, requestID, ticker, start, StreamMomentum, o.momentum.Analyze, &momentum)
	runStream(ctx, o, &g, requestID, ticker, start, StreamSentiment, o.sentiment.Analyze, &sentiment)
	if err := g.Wait(); err != nil {
		return fail(err)
	}

	final, err := o.aggregate(ctx, ticker, fundamental, momentum, sentiment)
	if err != nil {
		return fail(err)
	}

	elapsed := time.Since(start)
	o.emit(Event{Type: EventAnalysisCompleted, RequestID: requestID, Ticker: ticker, Elapsed: elapsed})
	o.log.WithFields(logrus.Fields{
		"operation":  "analyze_investment",
		"ticker":     ticker,
		"request_id": requestID,
		"action":     final.Action,
		"elapsed":    elapsed.Round(time.Millisecond).String(),
	}).Info("investment analysis completed")

	return &models.AnalysisResponse{
		Ticker:              ticker,
		ExecutionTime:       elapsed.Seconds(),
		FundamentalAnalysis: *fundamental,
		MomentumAnalysis:    *momentum,
		MarketSentiment:     *sentiment,
		FinalRecommendation: *final,
	}, nil
}

func runStream[T any](ctx context.Context, o *Orchestrator, g *errgroup.Group, requestID, ticker string, start time.Time,
	name string, analyze func(context.Context, string) (*T, error), out **T) {
	g.Go(func() error {
		o.emit(Event{Type: EventStreamStarted, RequestID: requestID, Ticker: ticker, Stream: name, Elapsed: time.Since(start)})
		v, err := analyze(ctx, ticker)
		if err != nil {
			return err
		}
		*out = v
		o.emit(Event{Type: EventStreamCompleted, RequestID: requestID, Ticker: ticker, Stream: name, Elapsed: time.Since(start)})
		return nil
	})
}

func (o *Orchestrator) aggregate(ctx context.Context, ticker string, f *models.FundamentalAnalysis, m *models.MomentumAnalysis, s *models.MarketSentiment) (*models.FinalRecommendation, error) {
	system, err := o.prompts.Get(prompts.FinalRecommendation)
	if err != nil {
		return nil, err
	}

	blocks := []struct {
		heading string
		value   any
	}{
		{"STREAM 1 - FUNDAMENTAL ANALYSIS", f},
		{"STREAM 2 - MOMENTUM ANALYSIS", m},
		{"STREAM 3 - MARKET SENTIMENT", s},
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		body, err := json.MarshalIndent(b.value, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", b.heading, err)
		}
		parts = append(parts, fmt.Sprintf("%s for %s:\n%s", b.heading, ticker, body))
	}

	final, err := llm.Infer[models.FinalRecommendation](ctx, o.gw, system, strings.Join(parts, "\n\n"), llm.InferOptions{Temperature: 0})
	if err != nil {
		return nil, fmt.Errorf("final aggregation: %w", err)
	}
	return final, nil
}
