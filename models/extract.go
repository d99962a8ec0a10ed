package models

// ExtractRequest is the payload for POST /api/v1/extract. It drives the
// Content Intelligence Pipeline directly — no LLM round-trip, no schema.
type ExtractRequest struct {
	// URL is the target page. Required.
	URL string `json:"url" binding:"required,url"`

	// ForceStrategy skips the chain and runs a single named strategy.
	ForceStrategy string `json:"force_strategy,omitempty"`

	// SkipStrategies excludes these chain strategies by name.
	SkipStrategies []string `json:"skip_strategies,omitempty"`

	// MinContentLength overrides the validator's length floor. Default: 500.
	MinContentLength int `json:"min_content_length,omitempty"`

	// AllowBrowser permits the chain to reach the browser strategy.
	AllowBrowser bool `json:"allow_browser,omitempty"`

	// AsyncWaitTimeMs is passed down the strategy chain, but the sandbox
	// does not read it: it always waits up to 1s for queued async work
	// after script execution.
	AsyncWaitTimeMs int `json:"async_wait_time_ms,omitempty"`

	// Cookies seeds the request with caller-supplied cookies, merged with
	// whatever the Cookie Jar already holds for the domain.
	Cookies map[string]string `json:"cookies,omitempty"`
}

// Defaults applies default values to unset fields.
func (r *ExtractRequest) Defaults() {
	if r.MinContentLength == 0 {
		r.MinContentLength = 500
	}
}

// ExtractResponse is the response for POST /api/v1/extract, mirroring
// ContentResult.
type ExtractResponse struct {
	Success  bool          `json:"success"`
	Content  ContentOutput `json:"content,omitempty"`
	Meta     ResultMeta    `json:"meta,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Error    *ErrorDetail  `json:"error,omitempty"`
}

// FromContentResult adapts a pipeline ContentResult into the API shape.
func FromContentResult(r *ContentResult) ExtractResponse {
	resp := ExtractResponse{
		Success:  r.Error == "",
		Content:  r.Content,
		Meta:     r.Meta,
		Warnings: r.Warnings,
	}
	if r.Error != "" {
		resp.Error = &ErrorDetail{Code: ErrCodeUnknown, Message: r.Error}
	}
	return resp
}
