package models

import "strings"

// Document is a single chunk returned by the vector store, most relevant first.
type Document struct {
	Content  string            `json:"page_content"`
	Metadata map[string]string `json:"metadata"`
}

// Well-known metadata keys written by ingestion and used as search filters.
const (
	MetaTicker    = "ticker"
	MetaFormType  = "formType"
	MetaChunkType = "chunk_type"
	MetaTitle     = "title"
	MetaDate      = "date"
	MetaURL       = "url"
	MetaSource    = "source"

	MetaCompanyName    = "companyName"
	MetaPeriodOfReport = "periodOfReport"

	ChunkTypeNews = "news"
)

// Filing form types searched by the filing streams.
const (
	FormAnnual    = "10-K"
	FormQuarterly = "10-Q"
)

// AnalysisRequest carries an explicit ticker or a free-text message.
// At least one of the two must be non-empty.
type AnalysisRequest struct {
	Ticker  string `json:"ticker,omitempty" validate:"required_without=Message"`
	Message string `json:"message,omitempty" validate:"required_without=Ticker"`
}

// IsEmpty reports whether neither a ticker nor a message was supplied.
// Whitespace-only values count as empty.
func (r AnalysisRequest) IsEmpty() bool {
	return strings.TrimSpace(r.Ticker) == "" && strings.TrimSpace(r.Message) == ""
}

// AnalysisResponse is the complete result of one investment analysis.
type AnalysisResponse struct {
	Ticker              string              `json:"ticker"`
	ExecutionTime       float64             `json:"execution_time"` // seconds
	FundamentalAnalysis FundamentalAnalysis `json:"fundamental_analysis"`
	MomentumAnalysis    MomentumAnalysis    `json:"momentum_analysis"`
	MarketSentiment     MarketSentiment     `json:"market_sentiment"`
	FinalRecommendation FinalRecommendation `json:"final_recommendation"`
}

// SearchRequest is a raw filtered similarity search.
type SearchRequest struct {
	Query   string            `json:"query" validate:"required"`
	Limit   int               `json:"limit,omitempty" validate:"omitempty,gte=1,lte=100"`
	Filters map[string]string `json:"filters,omitempty"`
}

// SearchResponse wraps the documents returned by a search.
type SearchResponse struct {
	Results []Document `json:"results"`
}

// AskRequest is a free-text question answered from retrieved documents.
// Zero-valued options fall back to server defaults.
type AskRequest struct {
	Query           string            `json:"query" validate:"required"`
	Temperature     *float64          `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	MaxOutputTokens int               `json:"max_output_tokens,omitempty" validate:"omitempty,gte=1,lte=16384"`
	Limit           int               `json:"limit,omitempty" validate:"omitempty,gte=1,lte=100"`
	Filters         map[string]string `json:"filters,omitempty"`
}

// AskResponse is the answer together with the documents it was grounded on.
type AskResponse struct {
	Answer          string     `json:"answer"`
	SourceDocuments []Document `json:"source_documents"`
}
