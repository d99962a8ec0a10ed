package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/purify/httpclient"
	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/pipeline"
)

// Extract returns a handler for POST /api/v1/extract.
//
// Flow:
//  1. Parse & validate ExtractRequest, apply defaults.
//  2. HTTP Client Wrapper fetches the raw page body. Strategies that hit
//     their own API or render their own DOM (site-API, browser) ignore it.
//  3. Content Intelligence Pipeline runs the strategy chain.
//  4. Assemble response from the resulting ContentResult.
func Extract(httpClient *httpclient.Client, pipe *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ExtractRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ExtractResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeValidationFailed,
					Message: err.Error(),
				},
			})
			return
		}
		req.Defaults()

		html := ""
		if res, err := httpClient.Fetch(c.Request.Context(), req.URL, httpclient.Options{}); err == nil {
			html = res.BodyText
		}

		result := pipe.Extract(c.Request.Context(), req.URL, html, pipeline.Options{
			ForceStrategy:    req.ForceStrategy,
			SkipStrategies:   req.SkipStrategies,
			MinContentLength: req.MinContentLength,
			AllowBrowser:     req.AllowBrowser,
			AsyncWaitTime:    req.AsyncWaitTimeMs,
			Cookies:          req.Cookies,
		})

		resp := models.FromContentResult(result)
		if !resp.Success {
			c.JSON(http.StatusUnprocessableEntity, resp)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}
