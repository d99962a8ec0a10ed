package strategy

import (
	"context"
	"time"

	"github.com/use-agent/purify/browser"
	"github.com/use-agent/purify/models"
)

const defaultBrowserTimeout = 30 * time.Second

// browserStrategy is §4.6.6, the last-resort link in the chain: full headless
// Chrome rendering followed by a static-parse pass over the final DOM.
type browserStrategy struct {
	renderer    browser.Renderer
	staticParse Strategy
}

// NewBrowserStrategy wraps a browser.Renderer and a static-parse strategy.
func NewBrowserStrategy(r browser.Renderer, staticParse Strategy) Strategy {
	return &browserStrategy{renderer: r, staticParse: staticParse}
}

func (s *browserStrategy) Name() string { return "browser" }

// Extract ignores the caller-supplied html — it is never reached with a
// browser render in hand, since this strategy performs its own navigation.
func (s *browserStrategy) Extract(ctx context.Context, rawURL, _ string, opts Options) (*models.ContentResult, error) {
	if !opts.AllowBrowser {
		return nil, nil
	}

	rendered, err := s.renderer.Render(ctx, rawURL, browser.RenderOptions{
		Timeout:        defaultBrowserTimeout,
		Cookies:        opts.Cookies,
		RemoveOverlays: true,
	})
	if err != nil {
		return nil, err
	}

	result, err := s.staticParse.Extract(ctx, rendered.FinalURL, rendered.HTML, opts)
	if err != nil || result == nil {
		return result, err
	}
	result.Meta.Strategy = s.Name()
	result.Meta.FinalURL = rendered.FinalURL
	result.Meta.Confidence = models.ConfidenceHigh
	if result.Content.Title == "" {
		result.Content.Title = rendered.Title
	}
	return result, nil
}
