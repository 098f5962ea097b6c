// portiq: retrieval-augmented investment analysis.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/seenimoa/portiq/api"
	"github.com/seenimoa/portiq/internal/agent"
	"github.com/seenimoa/portiq/internal/config"
	"github.com/seenimoa/portiq/internal/infra"
	"github.com/seenimoa/portiq/internal/ingest"
	"github.com/seenimoa/portiq/pkg/models"
	"github.com/seenimoa/portiq/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config and logger
var (
	cfg           *config.Config
	log           *logrus.Logger
	shutdownTrace func(context.Context) error
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "portiq",
	Short: "portiq — retrieval-augmented investment analysis",
	Long: `portiq analyses a company from its SEC filings and recent news.
Fundamental, momentum and sentiment streams run concurrently over a vector
store and are merged into a BUY/HOLD/SELL recommendation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			cfg.Logging.Level = level
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		log, err = infra.NewLogger(cfg.Logging)
		if err != nil {
			return err
		}
		shutdownTrace, err = infra.SetupTracing(cfg.Tracing)
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdownTrace != nil {
			return shutdownTrace(context.Background())
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(tickerCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// Version needs no config.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("portiq %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Analyze Command ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run a full investment analysis",
	Long:  "Analyse a ticker, or a free-text message naming a company, and print the recommendation.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ticker, _ := cmd.Flags().GetString("ticker")
		message, _ := cmd.Flags().GetString("message")
		asJSON, _ := cmd.Flags().GetBool("json")

		req := models.AnalysisRequest{Ticker: ticker, Message: message}
		if req.IsEmpty() {
			return fmt.Errorf("--ticker or --message is required")
		}

		ctx, cancel := signalContext()
		defer cancel()

		a, err := newRetrievalApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		orch, err := a.newOrchestrator(ctx)
		if err != nil {
			return err
		}
		resp, err := orch.AnalyzeInvestment(ctx, req)
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(resp)
		}
		printAnalysis(resp)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().String("ticker", "", "ticker symbol to analyse")
	analyzeCmd.Flags().String("message", "", "free-text message naming the company")
	analyzeCmd.Flags().Bool("json", false, "print the full response as JSON")
}

func printAnalysis(r *models.AnalysisResponse) {
	f := r.FinalRecommendation
	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("  %s — %s (confidence %.0f%%)\n", r.Ticker, f.Action, f.Confidence*100)
	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("  Horizon:   %s\n", f.TimeHorizon)
	fmt.Printf("  Elapsed:   %.1fs\n", r.ExecutionTime)
	fmt.Println()
	fmt.Println("  Rationale:")
	fmt.Printf("    %s\n", f.Rationale)
	printList("Key risks", f.KeyRisks)
	printList("Key opportunities", f.KeyOpportunities)
	fmt.Println()
	fmt.Printf("  Fundamental: grade %s, %s\n", r.FundamentalAnalysis.InvestmentGrade, r.FundamentalAnalysis.Recommendation)
	fmt.Printf("  Momentum:    %s (%s)\n", r.MomentumAnalysis.OverallMomentum, r.MomentumAnalysis.MomentumStrength)
	fmt.Printf("  Sentiment:   %s (%.1f/10)\n", r.MarketSentiment.SentimentDirection, r.MarketSentiment.SentimentScore)
	fmt.Println("═══════════════════════════════════════")
}

func printList(title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("\n  %s:\n", title)
	for _, it := range items {
		fmt.Printf("    - %s\n", it)
	}
}

// --- Ticker Command ---

var tickerCmd = &cobra.Command{
	Use:   "ticker <message>",
	Short: "Resolve the ticker a message refers to",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newRetrievalApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		orch, err := a.newOrchestrator(ctx)
		if err != nil {
			return err
		}
		ticker, err := orch.Resolver().Resolve(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(ticker)
		return nil
	},
}

// --- Search Command ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run a raw filtered similarity search",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ticker, _ := cmd.Flags().GetString("ticker")
		formType, _ := cmd.Flags().GetString("form-type")
		news, _ := cmd.Flags().GetBool("news")
		limit, _ := cmd.Flags().GetInt("limit")

		filters := map[string]string{}
		if ticker != "" {
			filters[models.MetaTicker] = utils.NormalizeTicker(ticker)
		}
		if formType != "" {
			filters[models.MetaFormType] = formType
		}
		if news {
			filters[models.MetaChunkType] = models.ChunkTypeNews
		}

		ctx, cancel := signalContext()
		defer cancel()

		a, err := newRetrievalApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		docs, err := a.retriever.Search(ctx, strings.Join(args, " "), filters, limit)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		return printJSON(models.SearchResponse{Results: docs})
	},
}

func init() {
	searchCmd.Flags().String("ticker", "", "filter by ticker")
	searchCmd.Flags().String("form-type", "", "filter by filing form type (10-K, 10-Q)")
	searchCmd.Flags().Bool("news", false, "search news chunks only")
	searchCmd.Flags().Int("limit", api.DefaultSearchLimit, "maximum number of results")
}

// --- Ask Command ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the indexed filings and news",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ticker, _ := cmd.Flags().GetString("ticker")
		limit, _ := cmd.Flags().GetInt("limit")
		showSources, _ := cmd.Flags().GetBool("sources")

		req := models.AskRequest{Query: strings.Join(args, " "), Limit: limit}
		if ticker != "" {
			req.Filters = map[string]string{models.MetaTicker: utils.NormalizeTicker(ticker)}
		}

		ctx, cancel := signalContext()
		defer cancel()

		a, err := newRetrievalApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		deps, err := a.deps(ctx)
		if err != nil {
			return err
		}
		err = agent.NewAnswerer(deps, a.retriever).AskStream(ctx, req,
			func(docs []models.Document) error {
				if !showSources {
					return nil
				}
				for i, d := range docs {
					fmt.Printf("[%d] %s %s %s\n", i+1, d.Metadata[models.MetaTicker], d.Metadata[models.MetaFormType], d.Metadata[models.MetaDate])
				}
				fmt.Println()
				return nil
			},
			func(delta string) error {
				_, err := fmt.Print(delta)
				return err
			})
		fmt.Println()
		return err
	},
}

func init() {
	askCmd.Flags().String("ticker", "", "restrict retrieval to one ticker")
	askCmd.Flags().Int("limit", agent.DefaultAskLimit, "documents to retrieve")
	askCmd.Flags().Bool("sources", false, "list the retrieved documents before the answer")
}

// --- Ingest Command ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load documents into the vector store",
}

var ingestNewsCmd = &cobra.Command{
	Use:   "news <ticker>...",
	Short: "Fetch, chunk and index recent news for tickers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newRetrievalApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		n := ingest.NewNewsIngestor(ingest.OptionsFromConfig(cfg.Ingest), a.embedder, a.backend, log)
		reports, err := n.Ingest(ctx, args)
		for _, r := range reports {
			fmt.Printf("  %-8s %3d articles  %4d chunks  %2d skipped\n", r.Ticker, r.Documents, r.Chunks, r.Skipped)
		}
		return err
	},
}

var ingestFilingsCmd = &cobra.Command{
	Use:   "filings <ticker>...",
	Short: "Index the latest SEC 10-K and 10-Q for tickers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		forms, _ := cmd.Flags().GetStringSlice("form")

		ctx, cancel := signalContext()
		defer cancel()

		a, err := newRetrievalApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		f := ingest.NewFilingsIngestor(ingest.FilingsOptionsFromConfig(cfg.Ingest), a.embedder, a.backend, log)
		reports, err := f.Ingest(ctx, args, forms)
		for _, r := range reports {
			status := fmt.Sprintf("%4d chunks", r.Chunks)
			if r.Skipped > 0 {
				status = "not found"
			}
			fmt.Printf("  %-8s %-5s %s\n", r.Ticker, r.FormType, status)
		}
		return err
	},
}

func init() {
	ingestFilingsCmd.Flags().StringSlice("form", []string{models.FormAnnual, models.FormQuarterly}, "form types to index")

	ingestCmd.AddCommand(ingestNewsCmd)
	ingestCmd.AddCommand(ingestFilingsCmd)
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newRetrievalApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		deps, err := a.deps(ctx)
		if err != nil {
			return err
		}
		hub := api.NewWSHub(log)
		orch := agent.NewOrchestrator(deps, agent.WithObserver(hub.Observe))
		answerer := agent.NewAnswerer(deps, a.retriever)

		api.Version = version
		srv := api.NewServer(cfg, orch, a.retriever, answerer, hub, log)
		return srv.ListenAndServe(ctx, fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  portiq — System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Println()

		fmt.Println("  Configuration:")
		fmt.Printf("    LLM Provider:  %s (model: %s)\n", cfg.LLM.Provider, cfg.LLM.Model)
		fmt.Printf("    Embeddings:    %s\n", cfg.Embedding.Model)
		fmt.Printf("    Vector Store:  %s\n", describeBackend(cfg.Retrieval))
		fmt.Printf("    API Server:    %s:%d\n", cfg.API.Host, cfg.API.Port)
		fmt.Println()

		fmt.Println("  API Keys:")
		for _, k := range config.CheckAPIKeys(cfg) {
			status := "❌ not set"
			if k.IsSet {
				status = fmt.Sprintf("✅ set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}

func describeBackend(r config.RetrievalConfig) string {
	if r.Backend == "pgvector" {
		return fmt.Sprintf("pgvector (table: %s)", r.Table)
	}
	return fmt.Sprintf("qdrant %s (collection: %s)", r.QdrantURL, r.Collection)
}
