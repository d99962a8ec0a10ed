package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/purify/api/handler"
	"github.com/use-agent/purify/api/middleware"
	"github.com/use-agent/purify/cache"
	"github.com/use-agent/purify/cleaner"
	"github.com/use-agent/purify/config"
	"github.com/use-agent/purify/httpclient"
	"github.com/use-agent/purify/knowledge"
	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/orchestrator"
	"github.com/use-agent/purify/pipeline"
	"github.com/use-agent/purify/scraper"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(sc *scraper.Scraper, cl *cleaner.Cleaner, httpClient *httpclient.Client, pipe *pipeline.Pipeline, orch *orchestrator.Orchestrator, store *knowledge.Store, cfg *config.Config, cc *cache.Cache[*models.ScrapeResponse], fc *cache.Cache[*models.FetchResponse], startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health — no auth required.
	v1.GET("/health", handler.Health(sc, store, startTime))

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Scrape — raw render + clean, no content-intelligence chain.
	protected.POST("/scrape", handler.Scrape(sc, cl, cc))

	// Extract — single-pass Content Intelligence Pipeline.
	protected.POST("/extract", handler.Extract(httpClient, pipe))

	// Fetch — full tiered cascade with budget enforcement and learning.
	protected.POST("/fetch", handler.Fetch(orch, fc))

	// Batch
	protected.POST("/batch/scrape", handler.PostBatch(sc, cl))
	protected.GET("/batch/:id", handler.GetBatch())

	return r
}
