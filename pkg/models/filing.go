package models

import "time"

// --- SEC Filings ---

// CompanyFiling is one EDGAR filing selected for ingestion.
type CompanyFiling struct {
	Ticker      string    `json:"ticker"`
	CIK         string    `json:"cik"`
	CompanyName string    `json:"company_name"`
	FormType    string    `json:"form_type"` // "10-K" or "10-Q"
	AccessionNo string    `json:"accession_no"`
	FilingDate  time.Time `json:"filing_date"`
	ReportDate  string    `json:"report_date,omitempty"` // period of report, YYYY-MM-DD
	FilingURL   string    `json:"filing_url"`
}

// CIKMapping maps a ticker to its EDGAR CIK number.
type CIKMapping struct {
	CIK    string `json:"cik"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}
