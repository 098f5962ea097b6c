// Package agent implements retrieval-augmented investment analysis. Section
// analyzers extract typed findings from retrieved filings and news, three
// streams consolidate them, and the orchestrator merges the streams into a
// final recommendation.
package agent

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/seenimoa/portiq/internal/agent/prompts"
	"github.com/seenimoa/portiq/internal/catalog"
	"github.com/seenimoa/portiq/internal/config"
	"github.com/seenimoa/portiq/internal/infra"
	"github.com/seenimoa/portiq/internal/llm"
	"github.com/seenimoa/portiq/internal/retrieval"
	"github.com/seenimoa/portiq/pkg/models"
)

var (
	ErrMissingInput     = errors.New("either ticker or message must be provided")
	ErrUnresolvedTicker = errors.New("could not determine ticker from input")
)

// ── Collaborators ──

// DocumentSource retrieves documents for a ticker. Implementations absorb
// their own failures and return an empty slice instead.
type DocumentSource interface {
	QueryFilings(ctx context.Context, ticker, query, formType string, limit int) []models.Document
	QueryNews(ctx context.Context, ticker, query string, limit int) []models.Document
}

var _ DocumentSource = (*retrieval.DocumentRetriever)(nil)

// Settings are the per-process analysis parameters.
type Settings struct {
	DocumentLimit   int
	NewsLimit       int
	MaxContextChars int
	Temperature     float64
	TickerMaxTokens int
}

// SettingsFromConfig copies the analysis section of the config.
func SettingsFromConfig(cfg config.AnalysisConfig) Settings {
	return Settings{
		DocumentLimit:   cfg.DocumentSearchLimit,
		NewsLimit:       cfg.NewsSearchLimit,
		MaxContextChars: cfg.MaxContextChars,
		Temperature:     cfg.Temperature,
		TickerMaxTokens: cfg.TickerExtractionMaxTokens,
	}
}

// Deps bundles everything the analyzers share. All fields are read-only
// after construction.
type Deps struct {
	Gateway   *llm.Gateway
	Documents DocumentSource
	Prompts   *prompts.Table
	Sections  *catalog.Sections
	Tickers   *catalog.Tickers
	Settings  Settings
	Log       logrus.FieldLogger
}

func (d Deps) logger() logrus.FieldLogger {
	if d.Log == nil {
		return infra.NopLogger()
	}
	return d.Log
}

// ── Streams ──

const (
	StreamFundamental = "fundamental"
	StreamMomentum    = "momentum"
	StreamSentiment   = "sentiment"
)

// DocumentKind selects which corpus a section reads.
type DocumentKind int

const (
	KindAnnual DocumentKind = iota
	KindQuarterly
	KindNews
)

func (k DocumentKind) formType() string {
	switch k {
	case KindAnnual:
		return models.FormAnnual
	case KindQuarterly:
		return models.FormQuarterly
	}
	return ""
}

func (k DocumentKind) String() string {
	switch k {
	case KindAnnual:
		return "annual"
	case KindQuarterly:
		return "quarterly"
	case KindNews:
		return "news"
	}
	return "unknown"
}
