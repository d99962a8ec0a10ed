// Package orchestrator implements the Tiered Fetch Orchestrator
// (SPEC_FULL.md §4.9): the three-tier cascade (intelligence, lightweight,
// browser) with budget enforcement and tier-preference learning.
//
// The per-domain rate limiter is grounded on
// api/middleware/ratelimit.go's golang.org/x/time/rate token-bucket +
// evict-on-idle idiom, narrowed from per-API-key to per-domain.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/use-agent/purify/anomaly"
	"github.com/use-agent/purify/browser"
	"github.com/use-agent/purify/httpclient"
	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/pipeline"
)

// Options mirrors SPEC_FULL.md §4.9's options bag.
type Options struct {
	ForceTier          models.Tier
	MinContentLength   int
	AllowBrowser       bool
	EnableLearning     bool
	UseRateLimiting    bool
	MaxLatencyMs       int
	MaxCostTier        models.Tier
	FreshnessRealtime  bool
	Cookies            map[string]string
}

// Learner is the subset of the Learning Engine the orchestrator drives on
// DONE. Kept as an interface so orchestrator doesn't import learning
// directly, avoiding an import cycle (learning consumes knowledge.Store,
// which has no dependency on orchestrator).
type Learner interface {
	RecordSuccess(domain string, tier models.Tier, strategyName string, responseTime time.Duration, contentLength int)
	RecordFailure(domain string, failure models.FailureContext)
	PreferredTier(domain string) (tier models.Tier, ok bool)
}

// knownBrowserRequired seeds preference=browser for domains that are known
// to never serve usable content without full rendering.
var knownBrowserRequired = map[string]bool{
	"twitter.com":  true,
	"x.com":        true,
	"facebook.com": true,
	"instagram.com": true,
	"linkedin.com": true,
}

const rateLimiterIdleEvict = time.Hour

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Orchestrator runs the tiered cascade over a Content Intelligence Pipeline.
// The lightweight tier's sandbox-render strategy already lives inside the
// pipeline's chain (strategy/sandboxrender.go); the orchestrator only needs
// to know which strategies belong to which tier to build the skip-lists.
type Orchestrator struct {
	pipe     *pipeline.Pipeline
	http     *httpclient.Client
	renderer browser.Renderer
	learner  Learner

	rlMu     sync.Mutex
	limiters map[string]*limiterEntry
	rlRate   rate.Limit
	rlBurst  int
}

// New builds an Orchestrator. learner may be nil (learning disabled). http
// fetches the raw HTML that the intelligence and lightweight tiers' static
// parsing strategies need — the browser tier navigates on its own.
func New(pipe *pipeline.Pipeline, http *httpclient.Client, renderer browser.Renderer, learner Learner, requestsPerSecond float64, burst int) *Orchestrator {
	o := &Orchestrator{
		pipe:     pipe,
		http:     http,
		renderer: renderer,
		learner:  learner,
		limiters: make(map[string]*limiterEntry),
		rlRate:   rate.Limit(requestsPerSecond),
		rlBurst:  burst,
	}
	go o.evictIdleLimiters()
	return o
}

func (o *Orchestrator) evictIdleLimiters() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-rateLimiterIdleEvict)
		o.rlMu.Lock()
		for d, e := range o.limiters {
			if e.lastSeen.Before(cutoff) {
				delete(o.limiters, d)
			}
		}
		o.rlMu.Unlock()
	}
}

func (o *Orchestrator) allow(domain string) bool {
	o.rlMu.Lock()
	defer o.rlMu.Unlock()
	e, ok := o.limiters[domain]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(o.rlRate, o.rlBurst)}
		o.limiters[domain] = e
	}
	e.lastSeen = time.Now()
	return e.limiter.Allow()
}

// Fetch implements fetch(url, options) -> TieredFetchResult.
func (o *Orchestrator) Fetch(ctx context.Context, rawURL string, opts Options) *models.TieredFetchResult {
	start := time.Now()
	domain := hostOf(rawURL)

	if opts.UseRateLimiting && !o.allow(domain) {
		return &models.TieredFetchResult{
			Error: "rate limit exceeded for domain",
			Budget: models.BudgetInfo{
				LatencyExceeded: false,
			},
		}
	}

	forceTier := normalizeTier(opts.ForceTier)
	tier := o.startingTier(domain, forceTier, opts.AllowBrowser, opts.FreshnessRealtime)

	var tiersAttempted []models.Tier
	var tiersSkipped []models.Tier
	var warnings []string
	fellBack := false

	for {
		select {
		case <-ctx.Done():
			return &models.TieredFetchResult{
				Error: "timeout",
				Tier:  tier, TiersAttempted: tiersAttempted,
				Budget: models.BudgetInfo{LatencyExceeded: true, TiersSkipped: tiersSkipped, FreshnessApplied: freshnessApplied(opts)},
			}
		default:
		}

		tiersAttempted = append(tiersAttempted, tier)
		tierStart := time.Now()
		result, ok := o.runTier(ctx, tier, rawURL, opts)
		elapsed := time.Since(tierStart)

		if ok {
			if opts.EnableLearning && forceTier == "" && o.learner != nil {
				o.learner.RecordSuccess(domain, tier, result.Meta.Strategy, elapsed, len(result.Content.Text))
			}
			return &models.TieredFetchResult{
				Content:        result.Content,
				Tier:           tier,
				TiersAttempted: tiersAttempted,
				FellBack:       fellBack,
				Budget: models.BudgetInfo{
					LatencyExceeded:  false,
					TiersSkipped:     tiersSkipped,
					FreshnessApplied: freshnessApplied(opts),
				},
				Warnings: append(warnings, result.Warnings...),
			}
		}
		if result != nil {
			warnings = append(warnings, result.Warnings...)
		}

		// A forced tier is run exactly once: per §8's invariant,
		// tiersAttempted = [forceTier] and fellBack = false, win or lose.
		// Neither success nor failure feeds the learner in this mode.
		if forceTier != "" {
			return &models.TieredFetchResult{
				Error:          "all tiers failed",
				Tier:           tier,
				TiersAttempted: tiersAttempted,
				FellBack:       false,
				TierReason:     "forced tier failed",
				Budget: models.BudgetInfo{
					TiersSkipped:     tiersSkipped,
					FreshnessApplied: freshnessApplied(opts),
				},
				Warnings: warnings,
			}
		}

		next, reason, failed := o.nextTier(tier, opts, time.Since(start))
		if failed {
			if opts.EnableLearning && o.learner != nil {
				o.learner.RecordFailure(domain, models.FailureContext{
					Type: models.FailureUnknown, Timestamp: time.Now(),
				})
			}
			budget := models.BudgetInfo{
				LatencyExceeded:  reason == "latency budget exceeded",
				TiersSkipped:     tiersSkipped,
				FreshnessApplied: freshnessApplied(opts),
			}
			if reason == "max cost tier enforced" {
				capTier := normalizeTier(opts.MaxCostTier)
				budget.MaxCostTierEnforced = capTier
				budget.TiersSkipped = tiersAboveCap(capTier)
			}
			return &models.TieredFetchResult{
				Error:          "all tiers failed",
				Tier:           tier,
				TiersAttempted: tiersAttempted,
				FellBack:       fellBack,
				TierReason:     reason,
				Budget:         budget,
				Warnings:       warnings,
			}
		}
		tiersSkipped = append(tiersSkipped, tier)
		tier = next
		fellBack = true
	}
}

// freshnessApplied reports the freshness policy actually honored for this
// call, per §4.9's budget.freshnessApplied. "any" (the default) is left
// unstamped; only an explicit realtime requirement is surfaced.
func freshnessApplied(opts Options) string {
	if opts.FreshnessRealtime {
		return "realtime"
	}
	return ""
}

// tiersAboveCap lists, in ascending cost order, every tier more expensive
// than cap — the tiers a maxCostTier-enforced failure never got to attempt.
func tiersAboveCap(cap models.Tier) []models.Tier {
	all := []models.Tier{models.TierIntelligence, models.TierLightweight, models.TierBrowser}
	var out []models.Tier
	for _, t := range all {
		if t.Rank() > cap.Rank() {
			out = append(out, t)
		}
	}
	return out
}

// runTier executes one tier and reports whether it produced a validated
// result. Any error is treated as an invalid result per §4.9's tie-break.
func (o *Orchestrator) runTier(ctx context.Context, tier models.Tier, rawURL string, opts Options) (*models.ContentResult, bool) {
	popts := pipeline.Options{
		MinContentLength: opts.MinContentLength,
		Cookies:          opts.Cookies,
	}

	html := ""
	switch tier {
	case models.TierIntelligence:
		popts.SkipStrategies = []string{"sandbox-render", "browser"}
		popts.AllowBrowser = false
		html = o.fetchHTML(ctx, rawURL, opts)
	case models.TierLightweight:
		popts.SkipStrategies = o.lightweightSkipList()
		popts.AllowBrowser = false
		html = o.fetchHTML(ctx, rawURL, opts)
	case models.TierBrowser:
		if !opts.AllowBrowser || o.renderer == nil {
			return nil, false
		}
		popts.AllowBrowser = true
	}

	result := o.pipe.Extract(ctx, rawURL, html, popts)
	if result == nil || result.Error != "" {
		if note := anomalyNote(html, rawURL); note != "" {
			if result == nil {
				result = &models.ContentResult{}
			}
			result.Warnings = append(result.Warnings, note)
		}
		return result, false
	}
	return result, true
}

// anomalyNote runs the universal challenge/error/empty-page classifier over
// a tier's fetched HTML so a failed tier's warnings explain *why* it likely
// failed, not just that it did. Strategies that fetch their own payloads
// (site APIs, the browser tier) have no raw HTML to score here.
func anomalyNote(html, rawURL string) string {
	if html == "" {
		return ""
	}
	a := anomaly.Detect(anomaly.Input{HTML: html, URL: rawURL})
	if !a.IsAnomaly {
		return ""
	}
	return fmt.Sprintf("anomaly detected: %s (confidence %.2f, suggested action: %s)", a.AnomalyType, a.Confidence, a.SuggestedAction)
}

// fetchHTML retrieves the raw page body for the strategies in the
// intelligence and lightweight tiers that parse HTML directly rather than
// fetching their own (site-API strategies ignore this value; the browser
// tier never calls it). A fetch failure degrades to an empty body and lets
// the chain's site-API/framework/structured strategies still run.
func (o *Orchestrator) fetchHTML(ctx context.Context, rawURL string, opts Options) string {
	res, err := o.http.Fetch(ctx, rawURL, httpclient.Options{})
	if err != nil {
		return ""
	}
	return res.BodyText
}

// lightweightSkipList skips every chain strategy except sandbox-render and
// static-parse, so the lightweight tier is exactly "sandbox render + static
// parse" per §4.9, regardless of how many site-API/framework strategies the
// intelligence tier's chain happens to carry.
func (o *Orchestrator) lightweightSkipList() []string {
	var skip []string
	for _, name := range o.pipe.Names() {
		if name == "sandbox-render" || name == "static-parse" {
			continue
		}
		skip = append(skip, name)
	}
	return skip
}

// startingTier picks the INITIAL tier per §4.9. A realtime freshness
// requirement bypasses the learned-preference shortcut: a remembered
// cheap-tier preference reflects what worked in the past, not necessarily
// what's current, so realtime callers always start from the heuristic.
func (o *Orchestrator) startingTier(domain string, forceTier models.Tier, allowBrowser, freshnessRealtime bool) models.Tier {
	if forceTier != "" {
		return forceTier
	}
	if !freshnessRealtime && o.learner != nil {
		if t, ok := o.learner.PreferredTier(domain); ok {
			return t
		}
	}
	if knownBrowserRequired[domain] && allowBrowser {
		return models.TierBrowser
	}
	if strings.HasSuffix(domain, ".gov") || strings.Contains(domain, "docs.") {
		return models.TierIntelligence
	}
	return models.TierIntelligence
}

// nextTier picks the next more-expensive tier, or reports FAILED per §4.9's
// FALLBACK rules.
func (o *Orchestrator) nextTier(current models.Tier, opts Options, elapsed time.Duration) (next models.Tier, reason string, failed bool) {
	if opts.MaxLatencyMs > 0 && elapsed > time.Duration(opts.MaxLatencyMs)*time.Millisecond {
		return "", "latency budget exceeded", true
	}

	switch current {
	case models.TierIntelligence:
		next = models.TierLightweight
	case models.TierLightweight:
		next = models.TierBrowser
	default:
		return "", "no further tier available", true
	}

	if opts.MaxCostTier != "" && next.Rank() > normalizeTier(opts.MaxCostTier).Rank() {
		return "", "max cost tier enforced", true
	}
	if next == models.TierBrowser && (!opts.AllowBrowser || o.renderer == nil) {
		return "", "browser unavailable or disallowed", true
	}
	return next, "", false
}

// normalizeTier applies the "static" legacy alias for "intelligence".
func normalizeTier(t models.Tier) models.Tier {
	if t == "static" {
		return models.TierIntelligence
	}
	return t
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
