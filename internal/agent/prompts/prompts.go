// Package prompts holds the system instructions for every model call, keyed
// by template id. Built-in templates are embedded; a directory of .md files
// can override any of them by name.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ── Template ids ──

const (
	TickerExtraction         = "ticker_extraction"
	RiskFactors              = "risk_factors"
	BusinessOverview         = "business_overview"
	FinancialPerformance     = "financial_performance"
	ManagementDiscussion     = "management_discussion"
	FundamentalConsolidation = "fundamental_consolidation"
	OperationalUpdates       = "operational_updates"
	QuarterlyPerformance     = "quarterly_performance"
	ShortTermRisks           = "short_term_risks"
	MomentumConsolidation    = "momentum_consolidation"
	MarketNews               = "market_news"
	FinalRecommendation      = "final_recommendation"
	RAGResponse              = "rag_response"
)

// ErrPromptNotFound is returned for an unknown template id.
var ErrPromptNotFound = errors.New("prompt template not found")

//go:embed templates/*.md
var builtin embed.FS

// Table maps template ids to instruction text. It is read-only once built.
type Table struct {
	templates map[string]string
}

// Default returns the embedded templates.
func Default() *Table {
	t, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("prompts: embedded templates unreadable: %v", err))
	}
	return t
}

// Load reads the embedded templates, then any <id>.md files in dir.
// An empty dir uses the embedded set only.
func Load(dir string) (*Table, error) {
	t := &Table{templates: make(map[string]string)}

	sub, err := fs.Sub(builtin, "templates")
	if err != nil {
		return nil, err
	}
	if err := t.readFS(sub); err != nil {
		return nil, err
	}

	if dir != "" {
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("prompts dir: %w", err)
		}
		if err := t.readFS(os.DirFS(dir)); err != nil {
			return nil, fmt.Errorf("prompts dir %s: %w", dir, err)
		}
	}
	return t, nil
}

func (t *Table) readFS(fsys fs.FS) error {
	files, err := fs.Glob(fsys, "*.md")
	if err != nil {
		return err
	}
	for _, name := range files {
		b, err := fs.ReadFile(fsys, name)
		if err != nil {
			return err
		}
		id := strings.TrimSuffix(filepath.Base(name), ".md")
		t.templates[id] = strings.TrimSpace(string(b))
	}
	return nil
}

// New builds a table from literal templates.
func New(templates map[string]string) *Table {
	m := make(map[string]string, len(templates))
	for k, v := range templates {
		m[k] = v
	}
	return &Table{templates: m}
}

// Get returns the instruction text for id.
func (t *Table) Get(id string) (string, error) {
	s, ok := t.templates[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPromptNotFound, id)
	}
	return s, nil
}

// Render returns the template for id with each {name} placeholder replaced
// by vars[name]. Placeholders without a value are left as they are.
func (t *Table) Render(id string, vars map[string]string) (string, error) {
	s, err := t.Get(id)
	if err != nil {
		return "", err
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s), nil
}

// IDs lists the known template ids in sorted order.
func (t *Table) IDs() []string {
	ids := make([]string, 0, len(t.templates))
	for id := range t.templates {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
