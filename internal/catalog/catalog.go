// Package catalog loads the read-only lookup tables used during analysis:
// per-section retrieval queries and company-name to ticker mappings.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrConfig marks a missing or malformed table entry.
var ErrConfig = errors.New("analysis configuration error")

//go:embed data/queries.yaml
var defaultQueries []byte

//go:embed data/ticker_mappings.yaml
var defaultTickerMappings []byte

// ── Sections ──

// Section binds an analysis section to its retrieval query and prompt.
type Section struct {
	Stream   string `yaml:"-"`
	Key      string `yaml:"-"`
	Query    string `yaml:"query"`
	PromptID string `yaml:"prompt_name"`
	Label    string `yaml:"section_name"`
}

// QueryFor substitutes {ticker} in the section query.
func (s Section) QueryFor(ticker string) string {
	return strings.ReplaceAll(s.Query, "{ticker}", ticker)
}

// Sections is the stream → section → Section table.
type Sections struct {
	streams map[string]map[string]Section
}

type queriesFile struct {
	AnalysisQueries map[string]map[string]Section `yaml:"analysis_queries"`
}

// ParseSections decodes a queries document.
func ParseSections(data []byte) (*Sections, error) {
	var f queriesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse queries: %v", ErrConfig, err)
	}
	if len(f.AnalysisQueries) == 0 {
		return nil, fmt.Errorf("%w: analysis_queries is empty", ErrConfig)
	}
	for stream, sections := range f.AnalysisQueries {
		for key, s := range sections {
			if s.Query == "" || s.PromptID == "" {
				return nil, fmt.Errorf("%w: %s.%s needs query and prompt_name", ErrConfig, stream, key)
			}
			s.Stream, s.Key = stream, key
			if s.Label == "" {
				s.Label = key
			}
			sections[key] = s
		}
	}
	return &Sections{streams: f.AnalysisQueries}, nil
}

// LoadSections reads path, or the built-in table when path is empty.
func LoadSections(path string) (*Sections, error) {
	if path == "" {
		return ParseSections(defaultQueries)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return ParseSections(data)
}

// Get returns one section's configuration.
func (s *Sections) Get(stream, section string) (Section, error) {
	sections, ok := s.streams[stream]
	if !ok {
		return Section{}, fmt.Errorf("%w: unknown analysis stream %q", ErrConfig, stream)
	}
	sec, ok := sections[section]
	if !ok {
		return Section{}, fmt.Errorf("%w: unknown section %q for stream %q", ErrConfig, section, stream)
	}
	return sec, nil
}

// ── Tickers ──

type tickerEntry struct {
	company string
	ticker  string
}

// Tickers maps company-name fragments to symbols in document order.
type Tickers struct {
	entries []tickerEntry
}

// ParseTickers decodes a company_ticker_mappings document, keeping the
// order in which entries appear.
func ParseTickers(data []byte) (*Tickers, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: parse ticker mappings: %v", ErrConfig, err)
	}
	if len(root.Content) == 0 {
		return &Tickers{}, nil
	}

	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: ticker mappings must be a mapping", ErrConfig)
	}

	var mappings *yaml.Node
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value == "company_ticker_mappings" {
			mappings = doc.Content[i+1]
			break
		}
	}
	if mappings == nil || mappings.Kind != yaml.MappingNode {
		return &Tickers{}, nil
	}

	t := &Tickers{entries: make([]tickerEntry, 0, len(mappings.Content)/2)}
	for i := 0; i+1 < len(mappings.Content); i += 2 {
		company := strings.ToLower(strings.TrimSpace(mappings.Content[i].Value))
		ticker := strings.TrimSpace(mappings.Content[i+1].Value)
		if company == "" || ticker == "" {
			continue
		}
		t.entries = append(t.entries, tickerEntry{company: company, ticker: ticker})
	}
	return t, nil
}

// LoadTickers reads path, or the built-in table when path is empty.
func LoadTickers(path string) (*Tickers, error) {
	if path == "" {
		return ParseTickers(defaultTickerMappings)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return ParseTickers(data)
}

// Lookup returns the ticker of the first company fragment contained in
// message, compared case-insensitively.
func (t *Tickers) Lookup(message string) (string, bool) {
	lower := strings.ToLower(message)
	for _, e := range t.entries {
		if strings.Contains(lower, e.company) {
			return e.ticker, true
		}
	}
	return "", false
}

// Len reports the number of mappings.
func (t *Tickers) Len() int { return len(t.entries) }
