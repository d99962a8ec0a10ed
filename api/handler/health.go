package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/purify/knowledge"
	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/scraper"
)

// Health returns a handler for GET /api/v1/health.
//
// Degrades status when either the browser page pool is saturated (> 80%
// active) or the Knowledge Store failed its last flush — both are signs
// the cascade's browser tier or its learning loop can't keep up.
func Health(sc *scraper.Scraper, store *knowledge.Store, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := sc.Stats()

		status := "healthy"
		if stats.MaxPages > 0 && stats.ActivePages > int(float64(stats.MaxPages)*0.8) {
			status = "degraded"
		}
		if store.LastSaveErr() != nil {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:         status,
			Uptime:         time.Since(startTime).Round(time.Second).String(),
			PoolStats:      stats,
			LearnedDomains: len(store.Domains()),
			Version:        "0.1.0",
		})
	}
}
