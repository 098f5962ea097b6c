package llm

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/seenimoa/portiq/internal/config"
	"github.com/seenimoa/portiq/internal/infra"
)

// NewCompleterFromConfig instantiates the transport named by llm.provider.
// Exactly one transport is active per process; callers only see Completer.
func NewCompleterFromConfig(ctx context.Context, cfg *config.Config) (Completer, error) {
	switch cfg.LLM.Provider {
	case ProviderOpenAI, "":
		opts := []OpenAIOption{
			WithOpenAIModel(cfg.LLM.Model),
			WithOpenAITimeout(cfg.LLM.Timeout),
		}
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, WithOpenAIBaseURL(cfg.LLM.BaseURL))
		}
		return NewOpenAICompleter(cfg.LLM.APIKey, opts...)

	case ProviderEino:
		return NewEinoCompleter(ctx, EinoConfig{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		})
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.LLM.Provider)
}

// NewGatewayFromConfig builds the configured transport and wraps it with the
// configured rate limit.
func NewGatewayFromConfig(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Gateway, error) {
	c, err := NewCompleterFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup failed: %w", err)
	}
	return NewGateway(c,
		WithLimiter(infra.NewRateLimiter(cfg.LLM.RequestsPerMinute, cfg.LLM.Burst)),
		WithLogger(log),
	), nil
}
