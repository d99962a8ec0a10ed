// Package strategy implements the ordered Extraction Strategy chain
// (SPEC_FULL.md §4.6): site-specific APIs, framework-embedded data,
// structured data, static parsing, sandbox rendering, and the browser
// collaborator — each exposing a uniform extract(url, html, options)
// signature.
package strategy

import (
	"context"

	"github.com/use-agent/purify/models"
)

// Options carries the caller-supplied knobs that can influence a single
// strategy invocation, mirroring the Content Intelligence Pipeline's
// options bag in §4.8.
type Options struct {
	MinContentLength int
	AllowBrowser     bool
	AsyncWaitTime    int
	Cookies          map[string]string
}

// Strategy is one link in the fixed extraction chain.
type Strategy interface {
	// Name identifies the strategy for meta.strategiesAttempted and, for
	// site-API strategies, is prefixed "api:" so the pipeline can gate
	// extraction-success events on it.
	Name() string
	// Extract attempts extraction. A nil result with a nil error means
	// "this strategy does not apply here" (e.g. a site-API gate miss).
	Extract(ctx context.Context, url, html string, opts Options) (*models.ContentResult, error)
}
