package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/seenimoa/portiq/internal/config"
	"github.com/seenimoa/portiq/internal/infra"
	"github.com/seenimoa/portiq/internal/retrieval"
	"github.com/seenimoa/portiq/pkg/models"
	"github.com/seenimoa/portiq/pkg/utils"
)

// EDGAR endpoints. No API key is required, but every request must carry a
// User-Agent naming a contact. Fair access is 10 requests per second.
const (
	DefaultSECDataURL    = "https://data.sec.gov"
	DefaultSECArchiveURL = "https://www.sec.gov"
	DefaultSECUserAgent  = "portiq/1.0 (github.com/seenimoa/portiq)"

	secSource = "sec-edgar"

	// minFilingWords drops headings, page numbers and table fragments.
	minFilingWords = 10
)

var (
	// ErrCIKNotFound is returned when a ticker is absent from the EDGAR
	// ticker map.
	ErrCIKNotFound = errors.New("CIK not found")
	// ErrFilingNotFound is returned when a company has no recent filing
	// of the requested form type.
	ErrFilingNotFound = errors.New("filing not found")
)

// FilingsIngestor indexes the latest 10-K and 10-Q of each ticker from
// SEC EDGAR.
type FilingsIngestor struct {
	dataURL    string
	archiveURL string
	chunkChars int
	maxChunks  int
	http       *resty.Client
	limiter    *rate.Limiter
	embedder   retrieval.Embedder
	index      retrieval.Indexer
	log        logrus.FieldLogger

	mu   sync.Mutex
	ciks map[string]models.CIKMapping // nil until the ticker map is loaded
}

// FilingsOptions configures a FilingsIngestor.
type FilingsOptions struct {
	DataURL    string
	ArchiveURL string
	UserAgent  string
	ChunkChars int
	MaxChunks  int // per filing; 0 keeps every chunk
	Timeout    time.Duration

	RequestsPerMinute int
}

// FilingsOptionsFromConfig copies the EDGAR settings of the ingest section.
func FilingsOptionsFromConfig(cfg config.IngestConfig) FilingsOptions {
	return FilingsOptions{
		DataURL:           cfg.SECDataURL,
		ArchiveURL:        cfg.SECArchiveURL,
		UserAgent:         cfg.SECUserAgent,
		ChunkChars:        cfg.ChunkChars,
		MaxChunks:         cfg.MaxFilingChunks,
		Timeout:           cfg.Timeout,
		RequestsPerMinute: 600,
	}
}

// NewFilingsIngestor creates an ingestor writing to index.
func NewFilingsIngestor(opts FilingsOptions, e retrieval.Embedder, index retrieval.Indexer, log logrus.FieldLogger) *FilingsIngestor {
	if opts.DataURL == "" {
		opts.DataURL = DefaultSECDataURL
	}
	if opts.ArchiveURL == "" {
		opts.ArchiveURL = DefaultSECArchiveURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultSECUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if log == nil {
		log = infra.NopLogger()
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeader("User-Agent", opts.UserAgent)

	return &FilingsIngestor{
		dataURL:    strings.TrimRight(opts.DataURL, "/"),
		archiveURL: strings.TrimRight(opts.ArchiveURL, "/"),
		chunkChars: opts.ChunkChars,
		maxChunks:  opts.MaxChunks,
		http:       client,
		limiter:    infra.NewRateLimiter(opts.RequestsPerMinute, 1),
		embedder:   e,
		index:      index,
		log:        log,
	}
}

// Ingest indexes the latest filing of every form type for each ticker.
// Tickers without a filing of some form type are reported with zero
// documents; any other failure stops the run.
func (f *FilingsIngestor) Ingest(ctx context.Context, tickers, formTypes []string) ([]Report, error) {
	if len(formTypes) == 0 {
		formTypes = []string{models.FormAnnual, models.FormQuarterly}
	}

	reports := make([]Report, 0, len(tickers)*len(formTypes))
	ensured := false
	for _, raw := range tickers {
		ticker := utils.NormalizeTicker(raw)
		if ticker == "" {
			continue
		}
		for _, form := range formTypes {
			log := f.log.WithFields(logrus.Fields{
				"operation": "ingest_filing",
				"ticker":    ticker,
				"form_type": form,
			})
			r := Report{Ticker: ticker, FormType: form}

			filing, err := f.LatestFiling(ctx, ticker, form)
			if errors.Is(err, ErrFilingNotFound) {
				log.Warn("no filing found")
				r.Skipped = 1
				reports = append(reports, r)
				continue
			}
			if err != nil {
				return reports, fmt.Errorf("find %s for %s: %w", form, ticker, err)
			}

			text, err := f.FilingText(ctx, filing.FilingURL)
			if err != nil {
				return reports, fmt.Errorf("download %s for %s: %w", form, ticker, err)
			}

			points, err := embedChunks(ctx, f.embedder, ChunkText(text, f.chunkChars), filingMetadata(filing), f.maxChunks)
			if err != nil {
				return reports, fmt.Errorf("embed %s for %s: %w", form, ticker, err)
			}
			if len(points) > 0 {
				if !ensured {
					if err := f.index.EnsureCollection(ctx, len(points[0].Vector)); err != nil {
						return reports, err
					}
					ensured = true
				}
				if err := f.index.Upsert(ctx, points); err != nil {
					return reports, fmt.Errorf("upsert %s for %s: %w", form, ticker, err)
				}
			}

			r.Documents = 1
			r.Chunks = len(points)
			log.WithFields(logrus.Fields{
				"accession": filing.AccessionNo,
				"period":    filing.ReportDate,
				"chunks":    r.Chunks,
			}).Info("filing ingested")
			reports = append(reports, r)
		}
	}
	return reports, nil
}

func filingMetadata(fl *models.CompanyFiling) map[string]string {
	return map[string]string{
		models.MetaTicker:         fl.Ticker,
		models.MetaFormType:       fl.FormType,
		models.MetaCompanyName:    fl.CompanyName,
		models.MetaPeriodOfReport: fl.ReportDate,
		models.MetaDate:           fl.FilingDate.Format("2006-01-02"),
		models.MetaURL:            fl.FilingURL,
		models.MetaSource:         secSource,
	}
}

// --- EDGAR lookups ---

type edgarTickerEntry struct {
	CIK    int64  `json:"cik_str"`
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

type edgarSubmissions struct {
	CIK     string `json:"cik"`
	Name    string `json:"name"`
	Filings struct {
		Recent struct {
			AccessionNumber []string `json:"accessionNumber"`
			FilingDate      []string `json:"filingDate"`
			ReportDate      []string `json:"reportDate"`
			Form            []string `json:"form"`
			PrimaryDocument []string `json:"primaryDocument"`
		} `json:"recent"`
	} `json:"filings"`
}

// LookupCIK maps a ticker to its EDGAR company. The ticker map is fetched
// once and kept for the life of the ingestor.
func (f *FilingsIngestor) LookupCIK(ctx context.Context, ticker string) (models.CIKMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ciks == nil {
		var entries map[string]edgarTickerEntry
		if err := f.getJSON(ctx, f.dataURL+"/files/company_tickers.json", &entries); err != nil {
			return models.CIKMapping{}, fmt.Errorf("fetch company tickers: %w", err)
		}
		ciks := make(map[string]models.CIKMapping, len(entries))
		for _, e := range entries {
			sym := strings.ToUpper(e.Ticker)
			ciks[sym] = models.CIKMapping{CIK: strconv.FormatInt(e.CIK, 10), Symbol: sym, Name: e.Title}
		}
		f.ciks = ciks
	}

	sym := utils.NormalizeTicker(ticker)
	if m, ok := f.ciks[sym]; ok {
		return m, nil
	}
	// EDGAR writes share classes with a dash.
	if m, ok := f.ciks[utils.FeedSymbol(sym)]; ok {
		return m, nil
	}
	return models.CIKMapping{}, fmt.Errorf("%w for %s", ErrCIKNotFound, ticker)
}

// LatestFiling returns the most recent filing of formType. Amendments
// (10-K/A) do not match.
func (f *FilingsIngestor) LatestFiling(ctx context.Context, ticker, formType string) (*models.CompanyFiling, error) {
	m, err := f.LookupCIK(ctx, ticker)
	if err != nil {
		return nil, err
	}
	cik, err := strconv.ParseInt(m.CIK, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CIK %q: %w", m.CIK, err)
	}

	var sub edgarSubmissions
	if err := f.getJSON(ctx, fmt.Sprintf("%s/submissions/CIK%010d.json", f.dataURL, cik), &sub); err != nil {
		return nil, fmt.Errorf("fetch submissions: %w", err)
	}

	// Recent filings are listed newest first.
	recent := sub.Filings.Recent
	for i, form := range recent.Form {
		if form != formType || i >= len(recent.AccessionNumber) || i >= len(recent.PrimaryDocument) {
			continue
		}
		accNo := recent.AccessionNumber[i]
		filed, _ := time.Parse("2006-01-02", at(recent.FilingDate, i))
		name := sub.Name
		if name == "" {
			name = m.Name
		}
		return &models.CompanyFiling{
			Ticker:      utils.NormalizeTicker(ticker),
			CIK:         m.CIK,
			CompanyName: name,
			FormType:    form,
			AccessionNo: accNo,
			FilingDate:  filed,
			ReportDate:  at(recent.ReportDate, i),
			FilingURL: fmt.Sprintf("%s/Archives/edgar/data/%d/%s/%s",
				f.archiveURL, cik, strings.ReplaceAll(accNo, "-", ""), recent.PrimaryDocument[i]),
		}, nil
	}
	return nil, fmt.Errorf("%w: no %s for %s", ErrFilingNotFound, formType, ticker)
}

// FilingText downloads a primary filing document and returns its prose,
// one block per line.
func (f *FilingsIngestor) FilingText(ctx context.Context, url string) (string, error) {
	body, err := f.get(ctx, url)
	if err != nil {
		return "", err
	}
	return filingText(body)
}

func (f *FilingsIngestor) getJSON(ctx context.Context, url string, dest any) error {
	body, err := f.get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("parse SEC JSON: %w", err)
	}
	return nil
}

func (f *FilingsIngestor) get(ctx context.Context, url string) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	resp, err := f.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode(), url)
	}
	return resp.Body(), nil
}

func at(s []string, i int) string {
	if i < len(s) {
		return s[i]
	}
	return ""
}

// filingText keeps leaf text blocks of an EDGAR HTML document. Hidden
// elements, which hold the inline XBRL header, are dropped.
func filingText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, [style*='display:none']").Remove()

	var blocks []string
	doc.Find("p, div, li, td").Each(func(_ int, s *goquery.Selection) {
		if s.Find("p, div, li, td").Length() > 0 {
			return
		}
		words := strings.Fields(s.Text())
		if len(words) < minFilingWords {
			return
		}
		blocks = append(blocks, strings.Join(words, " "))
	})
	return strings.Join(blocks, "\n"), nil
}
