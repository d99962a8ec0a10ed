package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/purify/api"
	"github.com/use-agent/purify/browser"
	"github.com/use-agent/purify/cache"
	"github.com/use-agent/purify/cleaner"
	"github.com/use-agent/purify/config"
	"github.com/use-agent/purify/cookiejar"
	"github.com/use-agent/purify/httpclient"
	"github.com/use-agent/purify/knowledge"
	"github.com/use-agent/purify/learning"
	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/orchestrator"
	"github.com/use-agent/purify/pipeline"
	"github.com/use-agent/purify/sandbox"
	"github.com/use-agent/purify/scraper"
	"github.com/use-agent/purify/semantic"
	"github.com/use-agent/purify/strategy"
	"github.com/use-agent/purify/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("fetchengine starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
	)

	// ── 3. Cookie Jar + HTTP Client Wrapper ─────────────────────────
	jar, err := cookiejar.New()
	if err != nil {
		slog.Error("failed to initialise cookie jar", "error", err)
		os.Exit(1)
	}
	httpClient := httpclient.New(jar, cfg.HTTPClient.DefaultProxy)

	// ── 4. Knowledge Store ───────────────────────────────────────────
	store := knowledge.New(cfg.KnowledgeStore.Path, knowledge.WithDebounce(cfg.KnowledgeStore.SaveDebounce))
	defer store.Close()

	// ── 5. Sandbox Runtime + Cleaner ─────────────────────────────────
	sb := sandbox.New(httpClient, jar)
	cl := cleaner.NewCleaner()

	// ── 6. Browser (Rod scraper), needed by both the legacy /scrape
	// endpoint and the orchestrator's browser tier ──────────────────
	sc, err := scraper.NewScraper(cfg.Browser, cfg.Scraper, cfg.AdaptivePool)
	if err != nil {
		slog.Error("failed to initialise scraper", "error", err)
		os.Exit(1)
	}
	defer sc.Close()
	renderer := browser.New(sc)

	// ── 7. Extraction strategy chain, in cost order ──────────────────
	staticParse := strategy.NewStaticParseStrategy(cl)
	chain := make([]strategy.Strategy, 0, 24)
	chain = append(chain, strategy.SiteAPIStrategies(httpClient)...)
	chain = append(chain, strategy.FrameworkDataStrategies()...)
	chain = append(chain, strategy.StructuredDataStrategies()...)
	chain = append(chain, staticParse)
	chain = append(chain, strategy.NewSandboxRenderStrategy(sb, staticParse))
	chain = append(chain, strategy.NewBrowserStrategy(renderer, staticParse))

	pipe := pipeline.New(chain, store)

	// ── 8. Webhook delivery of extraction-success events ─────────────
	if cfg.Webhook.URL != "" {
		pipe.Subscribe(func(ev models.ExtractionSuccessEvent) {
			webhook.DeliverAsync(cfg.Webhook.URL, cfg.Webhook.Secret, &webhook.Event{
				Type:      "extraction.success",
				Timestamp: time.Now().Unix(),
				Data:      ev,
			})
		})
		slog.Info("webhook delivery enabled", "url", cfg.Webhook.URL)
	}

	// ── 9. Semantic Pattern Matcher + Learning Engine ─────────────────
	matcher := newSemanticMatcher(cfg.SemanticMatcher)
	learner := learning.New(store, nil, matcher)

	// ── 10. Tiered Fetch Orchestrator ─────────────────────────────────
	orch := orchestrator.New(pipe, httpClient, renderer, learner, cfg.Orchestrator.RequestsPerSecond, cfg.Orchestrator.Burst)

	// ── 11. Response caches (legacy /scrape and /fetch endpoints) ──────
	cc := cache.New[*models.ScrapeResponse](cfg.Cache.MaxEntries)
	fc := cache.New[*models.FetchResponse](cfg.Cache.MaxEntries)

	// ── 12. Router ─────────────────────────────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(sc, cl, httpClient, pipe, orch, store, cfg, cc, fc, startTime)

	// ── 13. Start HTTP server ───────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 14. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// sc.Close() and store.Close() run via defer.
	slog.Info("fetchengine stopped")
}

// newSemanticMatcher selects the Semantic Pattern Matcher backend per
// config. "openai" falls back to "simhash" if no API key is configured,
// since an unauthenticated embeddings backend can never serve a match.
func newSemanticMatcher(cfg config.SemanticMatcherConfig) semantic.Matcher {
	if cfg.Backend == "openai" && cfg.OpenAIAPIKey != "" {
		return semantic.NewOpenAIMatcher(nil, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	}
	return semantic.NewSimHashMatcher()
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
