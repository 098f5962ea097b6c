// Package ingest fills the vector store: SEC filing chunks for the
// fundamental and momentum streams, news chunks for the sentiment stream.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/seenimoa/portiq/internal/config"
	"github.com/seenimoa/portiq/internal/infra"
	"github.com/seenimoa/portiq/internal/retrieval"
	"github.com/seenimoa/portiq/pkg/models"
	"github.com/seenimoa/portiq/pkg/utils"
)

// DefaultFeedURL is the Yahoo Finance headline feed; %s is the symbol.
const DefaultFeedURL = "https://feeds.finance.yahoo.com/rss/2.0/headline?s=%s&region=US&lang=en-US"

// Article is one fetched news story.
type Article struct {
	Title     string
	URL       string
	Source    string
	Published time.Time
	Text      string
}

// Report summarises one ingestion run for a ticker.
type Report struct {
	Ticker    string `json:"ticker"`
	FormType  string `json:"form_type,omitempty"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
	Skipped   int    `json:"skipped"`
}

// NewsIngestor fetches RSS headlines per ticker, downloads each article,
// splits it into chunks, embeds them and upserts them.
type NewsIngestor struct {
	feedURL    string
	maxStories int
	chunkChars int
	parser     *gofeed.Parser
	http       *resty.Client
	limiter    *rate.Limiter
	embedder   retrieval.Embedder
	index      retrieval.Indexer
	log        logrus.FieldLogger
}

// Options configures a NewsIngestor.
type Options struct {
	FeedURL    string
	MaxStories int
	ChunkChars int
	Timeout    time.Duration

	// RequestsPerMinute bounds article downloads; 0 disables the limit.
	RequestsPerMinute int
}

// OptionsFromConfig copies the ingest section of the config.
func OptionsFromConfig(cfg config.IngestConfig) Options {
	return Options{
		FeedURL:           cfg.FeedURL,
		MaxStories:        cfg.MaxStories,
		ChunkChars:        cfg.ChunkChars,
		Timeout:           cfg.Timeout,
		RequestsPerMinute: 120,
	}
}

// NewNewsIngestor creates an ingestor writing to index.
func NewNewsIngestor(opts Options, e retrieval.Embedder, index retrieval.Indexer, log logrus.FieldLogger) *NewsIngestor {
	if opts.FeedURL == "" {
		opts.FeedURL = DefaultFeedURL
	}
	if opts.MaxStories <= 0 {
		opts.MaxStories = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if log == nil {
		log = infra.NopLogger()
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeader("User-Agent", "portiq-news-ingest/1.0")

	parser := gofeed.NewParser()
	parser.Client = &http.Client{Timeout: opts.Timeout}

	return &NewsIngestor{
		feedURL:    opts.FeedURL,
		maxStories: opts.MaxStories,
		chunkChars: opts.ChunkChars,
		parser:     parser,
		http:       client,
		limiter:    infra.NewRateLimiter(opts.RequestsPerMinute, 1),
		embedder:   e,
		index:      index,
		log:        log,
	}
}

// Ingest processes each ticker in turn. A failing ticker stops the run.
func (n *NewsIngestor) Ingest(ctx context.Context, tickers []string) ([]Report, error) {
	reports := make([]Report, 0, len(tickers))
	ensured := false
	for _, raw := range tickers {
		ticker := utils.NormalizeTicker(raw)
		if ticker == "" {
			continue
		}
		log := n.log.WithFields(logrus.Fields{"operation": "ingest_news", "ticker": ticker})

		articles, skipped, err := n.FetchArticles(ctx, ticker)
		if err != nil {
			return reports, fmt.Errorf("fetch news for %s: %w", ticker, err)
		}

		points, err := n.points(ctx, ticker, articles)
		if err != nil {
			return reports, fmt.Errorf("embed news for %s: %w", ticker, err)
		}
		if len(points) > 0 {
			if !ensured {
				if err := n.index.EnsureCollection(ctx, len(points[0].Vector)); err != nil {
					return reports, err
				}
				ensured = true
			}
			if err := n.index.Upsert(ctx, points); err != nil {
				return reports, fmt.Errorf("upsert news for %s: %w", ticker, err)
			}
		}

		r := Report{Ticker: ticker, Documents: len(articles), Chunks: len(points), Skipped: skipped}
		log.WithFields(logrus.Fields{
			"articles": r.Documents,
			"chunks":   r.Chunks,
			"skipped":  r.Skipped,
		}).Info("news ingested")
		reports = append(reports, r)
	}
	return reports, nil
}

// FetchArticles reads the ticker's feed and downloads up to maxStories
// articles. Articles whose page yields no text fall back to the feed
// summary; those with neither are skipped.
func (n *NewsIngestor) FetchArticles(ctx context.Context, ticker string) ([]Article, int, error) {
	feed, err := n.parser.ParseURLWithContext(fmt.Sprintf(n.feedURL, utils.FeedSymbol(ticker)), ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("parse RSS: %w", err)
	}

	var (
		articles []Article
		skipped  int
	)
	for _, item := range feed.Items {
		if len(articles) >= n.maxStories {
			break
		}
		a := Article{Title: strings.TrimSpace(item.Title), URL: item.Link, Source: feed.Title}
		if item.PublishedParsed != nil {
			a.Published = *item.PublishedParsed
		}

		if a.URL != "" {
			text, err := n.fetchText(ctx, a.URL)
			if err != nil {
				n.log.WithFields(logrus.Fields{"operation": "ingest_news", "url": a.URL}).
					WithError(err).Debug("article download failed")
			}
			a.Text = text
		}
		if a.Text == "" {
			a.Text = cleanHTML(item.Description)
		}
		if a.Text == "" {
			skipped++
			continue
		}
		articles = append(articles, a)
	}
	return articles, skipped, nil
}

func (n *NewsIngestor) fetchText(ctx context.Context, url string) (string, error) {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	resp, err := n.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode())
	}
	return articleText(resp.Body())
}

func (n *NewsIngestor) points(ctx context.Context, ticker string, articles []Article) ([]retrieval.Point, error) {
	var points []retrieval.Point
	for _, a := range articles {
		date := ""
		if !a.Published.IsZero() {
			date = a.Published.UTC().Format(time.RFC3339)
		}
		p, err := embedChunks(ctx, n.embedder, ChunkText(a.Text, n.chunkChars), map[string]string{
			models.MetaTicker:    ticker,
			models.MetaChunkType: models.ChunkTypeNews,
			models.MetaTitle:     a.Title,
			models.MetaDate:      date,
			models.MetaURL:       a.URL,
			models.MetaSource:    a.Source,
		}, 0)
		if err != nil {
			return nil, err
		}
		points = append(points, p...)
	}
	return points, nil
}

// articleText extracts paragraph text from an article page, one paragraph
// per line. Pages with an <article> element are read from it only.
func articleText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	doc.Find("script, style, nav, footer, header, aside").Remove()

	root := doc.Selection
	if article := doc.Find("article"); article.Length() > 0 {
		root = article.First()
	}

	var paras []string
	root.Find("p").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			paras = append(paras, t)
		}
	})
	return strings.Join(paras, "\n"), nil
}

// cleanHTML strips HTML tags from a string using goquery.
func cleanHTML(s string) string {
	if s == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<body>" + s + "</body>"))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}
