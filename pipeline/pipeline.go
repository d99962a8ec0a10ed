// Package pipeline implements the Content Intelligence Pipeline
// (SPEC_FULL.md §4.8): the ordered strategy chain, with validation gating
// each attempt and an extraction-success broadcaster for subscribed
// observers. The broadcaster calls each observer synchronously, one after
// another, before Extract returns; events are not buffered, so a slow
// observer delays the extraction that emitted the event.
//
// Grounded on purify's engine/dispatcher.go for the "try in order, continue
// on failure, record what was attempted" shape, generalized from racing
// fetch engines to sequential extraction strategies.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/purify/knowledge"
	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/strategy"
	"github.com/use-agent/purify/validator"
)

// Options mirrors SPEC_FULL.md §4.8's options bag.
type Options struct {
	ForceStrategy    string
	SkipStrategies   []string
	MinContentLength int
	AllowBrowser     bool
	AsyncWaitTime    int
	Cookies          map[string]string
}

// Observer receives extraction-success events, emitted exclusively for
// api:* strategies whose result is accepted: validated in the chain, or
// returned by a forced strategy (which skips validation).
type Observer func(models.ExtractionSuccessEvent)

// Pipeline runs url+html through the fixed strategy chain.
type Pipeline struct {
	chain []strategy.Strategy
	store *knowledge.Store

	mu        sync.RWMutex
	observers map[int]Observer
	nextObsID int
}

// New builds a Pipeline over chain, in the exact order strategies should be
// attempted. store supplies learned validators for the gate; it may be nil.
func New(chain []strategy.Strategy, store *knowledge.Store) *Pipeline {
	return &Pipeline{
		chain:     chain,
		store:     store,
		observers: make(map[int]Observer),
	}
}

// Subscribe registers an observer and returns an unsubscribe func.
func (p *Pipeline) Subscribe(obs Observer) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextObsID
	p.nextObsID++
	p.observers[id] = obs
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
	}
}

func (p *Pipeline) broadcast(ev models.ExtractionSuccessEvent) {
	p.mu.RLock()
	obs := make([]Observer, 0, len(p.observers))
	for _, o := range p.observers {
		obs = append(obs, o)
	}
	p.mu.RUnlock()
	for _, o := range obs {
		o(ev)
	}
}

// Extract implements extract(url, options) -> ContentResult.
func (p *Pipeline) Extract(ctx context.Context, rawURL, html string, opts Options) *models.ContentResult {
	start := time.Now()
	sopts := strategy.Options{
		MinContentLength: opts.MinContentLength,
		AllowBrowser:     opts.AllowBrowser,
		AsyncWaitTime:    opts.AsyncWaitTime,
		Cookies:          opts.Cookies,
	}

	domain := hostOf(rawURL)
	var entry *models.DomainEntry
	if p.store != nil {
		entry = p.store.ReadEntry(domain)
	}

	if opts.ForceStrategy != "" {
		s := p.find(opts.ForceStrategy)
		if s == nil {
			return &models.ContentResult{
				Error: fmt.Sprintf("unknown forced strategy %q", opts.ForceStrategy),
				Meta: models.ResultMeta{
					URL: rawURL, Strategy: opts.ForceStrategy,
					StrategiesAttempted: []string{opts.ForceStrategy},
					Timing:              time.Since(start),
				},
			}
		}
		result, err := p.attempt(ctx, s, rawURL, html, sopts, entry)
		attempted := []string{opts.ForceStrategy}
		if err != nil || result == nil {
			return &models.ContentResult{
				Error: "forced strategy failed",
				Meta: models.ResultMeta{
					URL: rawURL, Strategy: opts.ForceStrategy,
					StrategiesAttempted: attempted, Timing: time.Since(start),
				},
			}
		}
		result.Meta.StrategiesAttempted = attempted
		result.Meta.Timing = time.Since(start)
		p.maybeEmit(s.Name(), rawURL, *result)
		return result
	}

	skip := toSet(opts.SkipStrategies)
	var attempted []string
	var warnings []string

	for _, s := range p.chain {
		name := s.Name()
		if skip[name] {
			continue
		}
		if name == "browser" && !opts.AllowBrowser {
			continue
		}

		result, err := p.attempt(ctx, s, rawURL, html, sopts, entry)
		if err != nil {
			slog.Debug("pipeline: strategy error", "strategy", name, "url", rawURL, "error", err)
			continue
		}
		if result == nil {
			// Strategy opted out (e.g. a site-API gate miss); not an attempt.
			continue
		}
		attempted = append(attempted, name)

		vr := validator.Validate(result, name, opts.MinContentLength, entry)
		p.recordValidatorOutcome(domain, vr)
		if vr.Valid {
			result.Meta.StrategiesAttempted = attempted
			result.Meta.Timing = time.Since(start)
			if result.Meta.Strategy == "" {
				result.Meta.Strategy = name
			}
			p.maybeEmit(name, rawURL, *result)
			return result
		}
		warnings = append(warnings, fmt.Sprintf("%s: %s", name, vr.Reason))
	}

	return &models.ContentResult{
		Error:    "all strategies failed",
		Warnings: warnings,
		Meta: models.ResultMeta{
			URL:                 rawURL,
			StrategiesAttempted: attempted,
			Timing:              time.Since(start),
		},
	}
}

func (p *Pipeline) attempt(ctx context.Context, s strategy.Strategy, rawURL, html string, sopts strategy.Options, entry *models.DomainEntry) (*models.ContentResult, error) {
	result, err := s.Extract(ctx, rawURL, html, sopts)
	if err != nil || result == nil {
		return result, err
	}
	if result.Meta.Strategy == "" {
		result.Meta.Strategy = s.Name()
	}
	if result.Meta.URL == "" {
		result.Meta.URL = rawURL
	}
	if result.Meta.FinalURL == "" {
		result.Meta.FinalURL = rawURL
	}
	return result, nil
}

func (p *Pipeline) recordValidatorOutcome(domain string, vr validator.Result) {
	if vr.Matched == nil || p.store == nil {
		return
	}
	p.store.WithWrite(domain, func(e *models.DomainEntry) {
		for _, v := range e.Validators {
			if v == vr.Matched {
				validator.RecordOutcome(v, vr.Valid)
				return
			}
		}
	})
}

func (p *Pipeline) maybeEmit(strategyName, sourceURL string, result models.ContentResult) {
	if !strings.HasPrefix(strategyName, "api:") {
		return
	}
	p.broadcast(models.ExtractionSuccessEvent{
		SourceURL: sourceURL,
		APIURL:    result.Meta.FinalURL,
		Strategy:  strategyName,
		Content:   result.Content,
	})
}

// Names returns the chain's strategy names in order, letting callers (like
// the orchestrator) build tier skip-lists without hardcoding site/framework
// names that belong to the chain's construction site.
func (p *Pipeline) Names() []string {
	out := make([]string, len(p.chain))
	for i, s := range p.chain {
		out[i] = s.Name()
	}
	return out
}

func (p *Pipeline) find(name string) strategy.Strategy {
	for _, s := range p.chain {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func toSet(ss []string) map[string]bool {
	out := make(map[string]bool, len(ss))
	for _, s := range ss {
		out[s] = true
	}
	return out
}

func hostOf(rawURL string) string {
	rawURL = strings.TrimPrefix(rawURL, "https://")
	rawURL = strings.TrimPrefix(rawURL, "http://")
	if i := strings.IndexAny(rawURL, "/?#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	if i := strings.Index(rawURL, "@"); i >= 0 {
		rawURL = rawURL[i+1:]
	}
	return strings.ToLower(rawURL)
}
