package agent

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/seenimoa/portiq/internal/agent/prompts"
	"github.com/seenimoa/portiq/internal/catalog"
	"github.com/seenimoa/portiq/internal/llm"
	"github.com/seenimoa/portiq/pkg/models"
	"github.com/seenimoa/portiq/pkg/utils"
)

// TickerResolver maps a free-form message to a ticker symbol: first through
// the company table, then through the model.
type TickerResolver struct {
	tickers   *catalog.Tickers
	gw        *llm.Gateway
	prompts   *prompts.Table
	maxTokens int
	log       logrus.FieldLogger
}

// NewTickerResolver creates a resolver.
func NewTickerResolver(d Deps) *TickerResolver {
	maxTokens := d.Settings.TickerMaxTokens
	if maxTokens <= 0 {
		maxTokens = 50
	}
	return &TickerResolver{
		tickers:   d.Tickers,
		gw:        d.Gateway,
		prompts:   d.Prompts,
		maxTokens: maxTokens,
		log:       d.logger(),
	}
}

// Resolve returns an upper-case ticker or ErrUnresolvedTicker.
func (r *TickerResolver) Resolve(ctx context.Context, message string) (string, error) {
	log := r.log.WithField("operation", "resolve_ticker")

	if t, ok := r.tickers.Lookup(message); ok {
		log.WithField("ticker", t).Info("ticker found in company table")
		return utils.NormalizeTicker(t), nil
	}

	system, err := r.prompts.Get(prompts.TickerExtraction)
	if err != nil {
		return "", err
	}

	ext, err := llm.Infer[models.TickerExtraction](ctx, r.gw, system, "Extract ticker from: "+message, llm.InferOptions{
		Temperature: 0,
		MaxTokens:   r.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("ticker extraction: %w", err)
	}

	if ext.Ticker == nil {
		log.WithField("reasoning", ext.Reasoning).Info("model found no ticker")
		return "", ErrUnresolvedTicker
	}
	ticker := utils.NormalizeTicker(*ext.Ticker)
	if !utils.IsPlausibleTicker(ticker) {
		log.WithFields(logrus.Fields{
			"candidate": *ext.Ticker,
			"reasoning": ext.Reasoning,
		}).Info("model ticker rejected")
		return "", ErrUnresolvedTicker
	}

	log.WithFields(logrus.Fields{"ticker": ticker, "reasoning": ext.Reasoning}).Info("model extracted ticker")
	return ticker, nil
}
