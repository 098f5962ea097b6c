package api

import (
	"net/http"

	"github.com/seenimoa/portiq/internal/config"
)

// PublicConfig is the non-sensitive view of the running configuration.
type PublicConfig struct {
	LLMProvider      string  `json:"llm_provider"`
	LLMModel         string  `json:"llm_model"`
	EmbeddingModel   string  `json:"embedding_model"`
	RetrievalBackend string  `json:"retrieval_backend"`
	Collection       string  `json:"collection,omitempty"`
	DocumentLimit    int     `json:"document_search_limit"`
	NewsLimit        int     `json:"news_search_limit"`
	MaxContextChars  int     `json:"max_context_chars"`
	Temperature      float64 `json:"temperature"`
}

func publicConfig(cfg *config.Config) PublicConfig {
	pc := PublicConfig{
		LLMProvider:      cfg.LLM.Provider,
		LLMModel:         cfg.LLM.Model,
		EmbeddingModel:   cfg.Embedding.Model,
		RetrievalBackend: cfg.Retrieval.Backend,
		DocumentLimit:    cfg.Analysis.DocumentSearchLimit,
		NewsLimit:        cfg.Analysis.NewsSearchLimit,
		MaxContextChars:  cfg.Analysis.MaxContextChars,
		Temperature:      cfg.Analysis.Temperature,
	}
	switch cfg.Retrieval.Backend {
	case "pgvector":
		pc.Collection = cfg.Retrieval.Table
	default:
		pc.Collection = cfg.Retrieval.Collection
	}
	return pc
}

// handleGetConfig returns the running configuration without secrets.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    publicConfig(s.cfg),
	})
}

// handleGetConfigKeys returns the status of all sensitive API keys.
func (s *Server) handleGetConfigKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    config.CheckAPIKeys(s.cfg),
	})
}
