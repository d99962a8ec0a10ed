package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/purify/cache"
	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/orchestrator"
)

// Fetch returns a handler for POST /api/v1/fetch, driving the Tiered Fetch
// Orchestrator's intelligence -> lightweight -> browser cascade.
//
// The orchestrator's own budget.usedCache is always false (caching a
// result is a concern owned here, above the cascade); fc is this layer's
// response cache, honored only when the caller sets max_age_ms and does
// not request realtime freshness.
func Fetch(orch *orchestrator.Orchestrator, fc *cache.Cache[*models.FetchResponse]) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.FetchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.FetchResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeValidationFailed,
					Message: err.Error(),
				},
			})
			return
		}
		req.Defaults()

		cacheKey := cache.Key(req.URL, string(req.ForceTier), string(req.MaxCostTier))
		if !req.FreshnessRealtime {
			if cached, ok := fc.Get(cacheKey, req.MaxAgeMs); ok {
				hit := *cached
				hit.Budget.UsedCache = true
				c.JSON(http.StatusOK, hit)
				return
			}
		}

		result := orch.Fetch(c.Request.Context(), req.URL, orchestrator.Options{
			ForceTier:         req.ForceTier,
			MinContentLength:  req.MinContentLength,
			AllowBrowser:      req.AllowBrowser,
			EnableLearning:    *req.EnableLearning,
			UseRateLimiting:   *req.UseRateLimiting,
			MaxLatencyMs:      req.MaxLatencyMs,
			MaxCostTier:       req.MaxCostTier,
			FreshnessRealtime: req.FreshnessRealtime,
			Cookies:           req.Cookies,
		})

		resp := models.FromTieredFetchResult(result)
		if !resp.Success {
			c.JSON(http.StatusUnprocessableEntity, resp)
			return
		}
		if req.MaxAgeMs > 0 {
			fc.Set(cacheKey, &resp)
		}
		c.JSON(http.StatusOK, resp)
	}
}
