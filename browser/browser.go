// Package browser is the thin adapter between the extraction strategy chain
// and the headless-Chrome collaborator (scraper.Scraper + its engine pool).
// It exposes only what §4.6.6 needs — render a URL to final HTML with a
// cookie jar and a hard timeout — so the rest of the pipeline never has to
// know about rod, page pools, or CDP.
package browser

import (
	"context"
	"time"

	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/scraper"
)

// Renderer renders a URL with full JavaScript execution and returns the
// final DOM HTML. It is the last-resort tier of the extraction chain and
// of the Tiered Fetch Orchestrator.
type Renderer interface {
	Render(ctx context.Context, url string, opts RenderOptions) (*RenderResult, error)
}

// RenderOptions carries the subset of scrape knobs the browser tier needs.
type RenderOptions struct {
	Timeout        time.Duration
	Stealth        bool
	Cookies        map[string]string
	RemoveOverlays bool
}

// RenderResult is what the browser tier hands back up the chain.
type RenderResult struct {
	HTML       string
	Title      string
	FinalURL   string
	StatusCode int
}

// scraperRenderer adapts *scraper.Scraper to Renderer.
type scraperRenderer struct {
	s *scraper.Scraper
}

// New wraps an already-initialized Scraper as a Renderer.
func New(s *scraper.Scraper) Renderer {
	return &scraperRenderer{s: s}
}

func (r *scraperRenderer) Render(ctx context.Context, rawURL string, opts RenderOptions) (*RenderResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	req := &models.ScrapeRequest{
		URL:            rawURL,
		Timeout:        int(timeout.Seconds()),
		Stealth:        opts.Stealth,
		RemoveOverlays: opts.RemoveOverlays,
		OutputFormat:   "html",
		ExtractMode:    "raw",
		FetchMode:      "browser",
	}
	req.Defaults()

	if len(opts.Cookies) > 0 {
		req.Cookies = make([]models.Cookie, 0, len(opts.Cookies))
		for name, value := range opts.Cookies {
			req.Cookies = append(req.Cookies, models.Cookie{Name: name, Value: value})
		}
	}

	result, err := r.s.DoScrape(ctx, req)
	if err != nil {
		return nil, err
	}

	return &RenderResult{
		HTML:       result.RawHTML,
		Title:      result.Title,
		FinalURL:   result.FinalURL,
		StatusCode: result.StatusCode,
	}, nil
}
