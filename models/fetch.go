package models

// FetchRequest is the payload for POST /api/v1/fetch, driving the Tiered
// Fetch Orchestrator's intelligence -> lightweight -> browser cascade.
type FetchRequest struct {
	// URL is the target page. Required.
	URL string `json:"url" binding:"required,url"`

	// ForceTier pins the cascade to a single starting tier and disables
	// fallback. "static" is accepted as a legacy alias for "intelligence".
	ForceTier Tier `json:"force_tier,omitempty"`

	// MinContentLength overrides the validator's length floor. Default: 500.
	MinContentLength int `json:"min_content_length,omitempty"`

	// AllowBrowser permits the cascade to fall back to the browser tier.
	AllowBrowser bool `json:"allow_browser,omitempty"`

	// EnableLearning records the outcome with the Learning Engine.
	// Default: true.
	EnableLearning *bool `json:"enable_learning,omitempty"`

	// UseRateLimiting applies the per-domain token bucket. Default: true.
	UseRateLimiting *bool `json:"use_rate_limiting,omitempty"`

	// MaxLatencyMs bounds the total cascade time across all tiers. 0 means
	// unbounded.
	MaxLatencyMs int `json:"max_latency_ms,omitempty"`

	// MaxCostTier caps how far the cascade may fall back.
	MaxCostTier Tier `json:"max_cost_tier,omitempty"`

	// FreshnessRealtime requests the most current content, bypassing any
	// cached preference for a cheaper tier. It also bypasses the response
	// cache entirely, regardless of MaxAgeMs.
	FreshnessRealtime bool `json:"freshness_realtime,omitempty"`

	// MaxAgeMs allows a cached response up to this old to be returned
	// instead of re-running the cascade. 0 disables the response cache.
	// This is the "higher-level concern" the orchestrator's own
	// budget.usedCache always reports false for.
	MaxAgeMs int `json:"max_age_ms,omitempty"`

	// Cookies seeds the request with caller-supplied cookies.
	Cookies map[string]string `json:"cookies,omitempty"`
}

// Defaults applies default values to unset fields.
func (r *FetchRequest) Defaults() {
	if r.MinContentLength == 0 {
		r.MinContentLength = 500
	}
	if r.EnableLearning == nil {
		t := true
		r.EnableLearning = &t
	}
	if r.UseRateLimiting == nil {
		t := true
		r.UseRateLimiting = &t
	}
}

// FetchResponse is the response for POST /api/v1/fetch, mirroring
// TieredFetchResult.
type FetchResponse struct {
	Success        bool          `json:"success"`
	Content        ContentOutput `json:"content,omitempty"`
	Tier           Tier          `json:"tier,omitempty"`
	TiersAttempted []Tier        `json:"tiers_attempted,omitempty"`
	FellBack       bool          `json:"fell_back"`
	TierReason     string        `json:"tier_reason,omitempty"`
	Budget         BudgetInfo    `json:"budget"`
	Warnings       []string      `json:"warnings,omitempty"`
	Error          *ErrorDetail  `json:"error,omitempty"`
}

// FromTieredFetchResult adapts an orchestrator TieredFetchResult into the
// API shape.
func FromTieredFetchResult(r *TieredFetchResult) FetchResponse {
	resp := FetchResponse{
		Success:        r.Error == "",
		Content:        r.Content,
		Tier:           r.Tier,
		TiersAttempted: r.TiersAttempted,
		FellBack:       r.FellBack,
		TierReason:     r.TierReason,
		Budget:         r.Budget,
		Warnings:       r.Warnings,
	}
	if r.Error != "" {
		resp.Error = &ErrorDetail{Code: ErrCodeUnknown, Message: r.Error}
	}
	return resp
}
