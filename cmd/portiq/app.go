package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/seenimoa/portiq/internal/agent"
	"github.com/seenimoa/portiq/internal/agent/prompts"
	"github.com/seenimoa/portiq/internal/catalog"
	"github.com/seenimoa/portiq/internal/config"
	"github.com/seenimoa/portiq/internal/llm"
	"github.com/seenimoa/portiq/internal/retrieval"
)

// app holds the wired services for one CLI invocation.
type app struct {
	cfg       *config.Config
	log       *logrus.Logger
	backend   retrieval.Backend
	embedder  retrieval.Embedder
	retriever *retrieval.DocumentRetriever
	closers   []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newRetrievalApp wires the vector store and embedder only.
func newRetrievalApp(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	backend, closeBackend, err := retrieval.NewBackendFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("retrieval setup failed: %w", err)
	}
	a.backend = backend
	a.closers = append(a.closers, closeBackend)

	embedder, err := retrieval.NewEmbedderFromConfig(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("embedder setup failed: %w", err)
	}
	a.embedder = embedder
	a.retriever = retrieval.NewDocumentRetriever(embedder, backend, log)
	return a, nil
}

// newOrchestrator builds the full analysis pipeline on top of a.
func (a *app) newOrchestrator(ctx context.Context, opts ...agent.OrchestratorOption) (*agent.Orchestrator, error) {
	deps, err := a.deps(ctx)
	if err != nil {
		return nil, err
	}
	return agent.NewOrchestrator(deps, opts...), nil
}

func (a *app) deps(ctx context.Context) (agent.Deps, error) {
	gw, err := llm.NewGatewayFromConfig(ctx, a.cfg, a.log)
	if err != nil {
		return agent.Deps{}, err
	}
	table, err := prompts.Load(a.cfg.Analysis.PromptsDir)
	if err != nil {
		return agent.Deps{}, err
	}
	sections, err := catalog.LoadSections(a.cfg.Analysis.QueriesPath)
	if err != nil {
		return agent.Deps{}, err
	}
	tickers, err := catalog.LoadTickers(a.cfg.Analysis.TickerMappingsPath)
	if err != nil {
		return agent.Deps{}, err
	}

	a.log.WithFields(logrus.Fields{
		"provider": gw.Provider(),
		"model":    a.cfg.LLM.Model,
		"backend":  a.cfg.Retrieval.Backend,
		"prompts":  len(table.IDs()),
		"tickers":  tickers.Len(),
	}).Debug("analysis pipeline ready")

	return agent.Deps{
		Gateway:   gw,
		Documents: a.retriever,
		Prompts:   table,
		Sections:  sections,
		Tickers:   tickers,
		Settings:  agent.SettingsFromConfig(a.cfg.Analysis),
		Log:       a.log,
	}, nil
}
