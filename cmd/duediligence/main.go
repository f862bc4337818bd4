package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sheeki03/duediligence/internal/cache"
	"github.com/sheeki03/duediligence/internal/continuation"
	"github.com/sheeki03/duediligence/internal/deck"
	"github.com/sheeki03/duediligence/internal/docextract"
	"github.com/sheeki03/duediligence/internal/entity"
	"github.com/sheeki03/duediligence/internal/fetch"
	"github.com/sheeki03/duediligence/internal/llm"
	"github.com/sheeki03/duediligence/internal/orchestrator"
	"github.com/sheeki03/duediligence/internal/report"
	"github.com/sheeki03/duediligence/internal/robots"
	"github.com/sheeki03/duediligence/internal/scrape"
	"github.com/sheeki03/duediligence/internal/sitemap"
	"github.com/sheeki03/duediligence/internal/source"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		query        string
		urlsCSV      string
		documentsCSV string
		sitemapRoot  string
		deckURL      string
		deckEmail    string
		deckPassword string
		mode         string
		model        string
		llmBaseURL   string
		nanoGPTURL   string
		llmKey       string
		extractEnts  bool
		breadth      int
		depth        int
		maxToolCalls int
		crawlLimit   int
		cacheDir     string
		outputPath   string
		verbose      bool
		deadline     time.Duration
		cacheClear   bool
		cachePurgeAge time.Duration
		cacheMaxBytes int64
		cacheMaxCount int
	)

	flag.StringVar(&query, "query", "", "Research question")
	flag.StringVar(&urlsCSV, "urls", "", "Comma-separated explicit URLs to scrape")
	flag.StringVar(&documentsCSV, "documents", "", "Comma-separated local file paths to extract")
	flag.StringVar(&sitemapRoot, "crawl.root", "", "Site root to discover via sitemap before scraping")
	flag.StringVar(&deckURL, "deck.url", "", "Gated deck URL")
	flag.StringVar(&deckEmail, "deck.email", "", "Deck access email")
	flag.StringVar(&deckPassword, "deck.password", os.Getenv("DECK_PASSWORD"), "Deck access password")
	flag.StringVar(&mode, "mode", "classic", "classic or deep")
	flag.StringVar(&model, "llm.model", os.Getenv("LLM_MODEL"), "Model name")
	flag.StringVar(&llmBaseURL, "llm.base", os.Getenv("LLM_BASE_URL"), "OpenAI-compatible base URL for the primary provider")
	flag.StringVar(&nanoGPTURL, "llm.nanogpt_base", os.Getenv("NANOGPT_BASE_URL"), "Base URL for nanogpt/dmind-prefixed models")
	flag.StringVar(&llmKey, "llm.key", os.Getenv("LLM_API_KEY"), "API key for the primary provider")
	flag.BoolVar(&extractEnts, "extract-entities", true, "Run entity extraction over successful sources")
	flag.IntVar(&breadth, "breadth", 5, "Deep mode breadth [1,15]")
	flag.IntVar(&depth, "depth", 3, "Deep mode depth [1,8]")
	flag.IntVar(&maxToolCalls, "max-tool-calls", 8, "Deep mode max tool calls [1,15]")
	flag.IntVar(&crawlLimit, "crawl-limit", 25, "Sitemap crawl page limit [1,50]")
	flag.StringVar(&cacheDir, "cache.dir", ".duediligence-cache", "Cache directory path")
	flag.StringVar(&outputPath, "output", "report.json", "Path to write the JSON report")
	var pdfPath string
	flag.StringVar(&pdfPath, "pdf", "", "Optional path to also write a PDF rendering of the report")
	var continueQuestion string
	flag.StringVar(&continueQuestion, "continue-question", "", "Optional follow-up question answered against this run's report")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.DurationVar(&deadline, "deadline", 10*time.Minute, "Global orchestrator deadline")
	flag.BoolVar(&cacheClear, "cache.clear", false, "Maintenance: wipe the cache directory and exit")
	flag.DurationVar(&cachePurgeAge, "cache.purge-age", 0, "Maintenance: purge HTTP and LLM cache entries older than this and exit")
	flag.Int64Var(&cacheMaxBytes, "cache.max-bytes", 0, "Maintenance: enforce an LRU byte budget across both caches and exit (requires -cache.max-count)")
	flag.IntVar(&cacheMaxCount, "cache.max-count", 0, "Maintenance: enforce an LRU entry-count budget across both caches and exit (requires -cache.max-bytes)")
	flag.Parse()

	if cacheClear || cachePurgeAge > 0 || (cacheMaxBytes > 0 && cacheMaxCount > 0) {
		runCacheMaintenance(cacheDir, cacheClear, cachePurgeAge, cacheMaxBytes, cacheMaxCount)
		if query == "" && urlsCSV == "" && documentsCSV == "" && sitemapRoot == "" && deckURL == "" {
			return
		}
	}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg := source.Config{
		Model:                model,
		Breadth:              breadth,
		Depth:                depth,
		MaxToolCalls:         maxToolCalls,
		ExtractEntities:      extractEnts,
		CrawlLimit:           crawlLimit,
		MaxConcurrentSources: 8,
		GlobalDeadline:       deadline,
	}

	req := source.ResearchRequest{
		ID:    fmt.Sprintf("req-%d", time.Now().UnixNano()),
		Query: query,
		Mode:  source.Mode(mode),
		Config: cfg,
	}
	if urlsCSV != "" {
		req.URLs = splitNonEmpty(urlsCSV)
	}
	if documentsCSV != "" {
		for _, p := range splitNonEmpty(documentsCSV) {
			data, err := os.ReadFile(p)
			if err != nil {
				log.Warn().Err(err).Str("path", p).Msg("failed to read document; skipping")
				continue
			}
			req.Documents = append(req.Documents, source.DocumentInput{Name: p, Bytes: data})
		}
	}
	if sitemapRoot != "" {
		req.Crawl = &source.CrawlSpec{StartURL: sitemapRoot, MaxPages: crawlLimit, MaxDepth: 5}
	}
	if deckURL != "" {
		req.Deck = &source.DeckSpec{URL: deckURL, Email: deckEmail, Password: deckPassword}
	}

	o := buildOrchestrator(cfg, llmBaseURL, nanoGPTURL, llmKey, cacheDir)

	reportResult, err := o.Run(context.Background(), req)
	if err != nil {
		log.Error().Err(err).Msg("orchestrator run failed")
		os.Exit(1)
	}

	data, err := json.MarshalIndent(reportResult, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("marshal report failed")
		os.Exit(1)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		log.Error().Err(err).Msg("write report failed")
		os.Exit(1)
	}
	log.Info().Str("out", outputPath).Bool("success", reportResult.Success).Msg("wrote report")

	if pdfPath != "" {
		if err := report.WritePDF(reportResult, pdfPath); err != nil {
			log.Warn().Err(err).Str("path", pdfPath).Msg("failed to write pdf rendering")
		} else {
			log.Info().Str("out", pdfPath).Msg("wrote pdf rendering")
		}
	}

	if continueQuestion != "" {
		continuer := &continuation.Continuer{Store: o.Reports(), Router: o.Deps().Router, Model: model}
		answer, err := continuer.Answer(context.Background(), reportResult.ID, continueQuestion)
		if err != nil {
			log.Error().Err(err).Msg("continuation answer failed")
			os.Exit(1)
		}
		log.Info().Str("method", string(answer.Method)).Msg("continuation answered")
		fmt.Println(answer.Text)
	}
}

// runCacheMaintenance implements the cache.dir housekeeping flags: a full
// wipe, age-based purging, or LRU-by-size/count enforcement across both the
// HTTP cache (internal/cache.HTTPCache's .meta.json/.body pairs in cacheDir)
// and the LLM response cache rooted at cacheDir/llm. The internal/cache.Store
// entries that scraping writes to cacheDir are removed only by the full wipe.
func runCacheMaintenance(cacheDir string, clear bool, purgeAge time.Duration, maxBytes int64, maxCount int) {
	httpDir := cacheDir
	llmDir := filepath.Join(cacheDir, "llm")

	if clear {
		if err := cache.ClearDir(httpDir); err != nil {
			log.Warn().Err(err).Str("dir", httpDir).Msg("failed to clear http cache")
		}
		if err := cache.ClearDir(llmDir); err != nil {
			log.Warn().Err(err).Str("dir", llmDir).Msg("failed to clear llm cache")
		}
		log.Info().Msg("cache cleared")
		return
	}

	if purgeAge > 0 {
		n, err := cache.PurgeHTTPCacheByAge(httpDir, purgeAge)
		if err != nil {
			log.Warn().Err(err).Msg("http cache age purge failed")
		}
		m, err := cache.PurgeLLMCacheByAge(llmDir, purgeAge)
		if err != nil {
			log.Warn().Err(err).Msg("llm cache age purge failed")
		}
		log.Info().Int("http_purged", n).Int("llm_purged", m).Msg("cache age purge complete")
	}

	if maxBytes > 0 && maxCount > 0 {
		n, err := cache.EnforceHTTPCacheLimits(httpDir, maxBytes, maxCount)
		if err != nil {
			log.Warn().Err(err).Msg("http cache limit enforcement failed")
		}
		m, err := cache.EnforceLLMCacheLimits(llmDir, maxBytes, maxCount)
		if err != nil {
			log.Warn().Err(err).Msg("llm cache limit enforcement failed")
		}
		log.Info().Int("http_evicted", n).Int("llm_evicted", m).Msg("cache limit enforcement complete")
	}
}

func splitNonEmpty(csv string) []string {
	var out []string
	for _, s := range strings.Split(csv, ",") {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func buildOrchestrator(cfg source.Config, llmBaseURL, nanoGPTURL, llmKey, cacheDir string) *orchestrator.Orchestrator {
	fetcher := &fetch.Client{
		UserAgent:         "duediligence/1.0",
		MaxAttempts:       3,
		PerRequestTimeout: 15 * time.Second,
		RedirectMaxHops:   5,
		MaxConcurrent:     8,
	}
	store := &cache.Store{Dir: cacheDir, DefaultTTL: 24 * time.Hour}
	llmCache := &cache.LLMCache{Dir: filepath.Join(cacheDir, "llm")}

	router := &llm.Router{
		Primary:       llm.ProviderConfig{BaseURL: llmBaseURL, APIKey: llmKey},
		NanoGPT:       llm.ProviderConfig{BaseURL: nanoGPTURL, APIKey: llmKey},
		FallbackModel: cfg.Model,
		Cache:         llmCache,
	}

	scraper := &scrape.Client{BaseURL: os.Getenv("RENDER_SERVICE_URL"), APIKey: os.Getenv("RENDER_SERVICE_KEY"), Cache: store, Fetcher: fetcher}
	resolver := &sitemap.Resolver{Fetcher: fetcher, Robots: &robots.Manager{UserAgent: "duediligence/1.0"}, MaxDepth: 5, MaxTotal: 50}
	deckExtractor := &deck.Extractor{OCR: deck.NewExternalOCR().AsOCRFunc(context.Background())}
	entityExtractor := &entity.Extractor{Router: router, Model: cfg.Model, MaxChunkSize: 4000}

	return orchestrator.New(orchestrator.Dependencies{
		DocExtractor: func(name string, data []byte) (docextract.Result, error) {
			return docextract.Extract(name, data)
		},
		Scraper:         scraper,
		SitemapResolver: resolver,
		DeckExtractor:   deckExtractor,
		EntityExtractor: entityExtractor,
		Router:          router,
		Log:             log.Logger,
	})
}
