package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/use-agent/purify/browser"
	"github.com/use-agent/purify/httpclient"
	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/pipeline"
	"github.com/use-agent/purify/strategy"
)

// fakeStrategy is a minimal strategy.Strategy stand-in. It never touches the
// network: Extract returns a fixed result regardless of html content, which
// is exactly what the orchestrator's html-ownership contract requires a test
// double to tolerate (fetchHTML may legitimately return "" when the target
// URL can't be reached).
type fakeStrategy struct {
	name    string
	content string
}

func (f fakeStrategy) Name() string { return f.name }

func (f fakeStrategy) Extract(ctx context.Context, url, html string, opts strategy.Options) (*models.ContentResult, error) {
	return &models.ContentResult{
		Content: models.ContentOutput{Text: f.content},
	}, nil
}

func newHTTPClient() *httpclient.Client {
	return httpclient.New(nil, "")
}

// unreachableURL always fails fast: loopback, nothing listens on port 1.
const unreachableURL = "http://127.0.0.1:1/page"

type fakeRenderer struct{}

func (fakeRenderer) Render(ctx context.Context, url string, opts browser.RenderOptions) (*browser.RenderResult, error) {
	return &browser.RenderResult{}, nil
}

func TestFetch_IntelligenceTierSucceeds(t *testing.T) {
	long := strings.Repeat("content ", 100)
	chain := []strategy.Strategy{
		fakeStrategy{name: "static-parse", content: long},
	}
	pipe := pipeline.New(chain, nil)
	orch := New(pipe, newHTTPClient(), nil, nil, 100, 100)

	result := orch.Fetch(context.Background(), unreachableURL, Options{MinContentLength: 100})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Tier != models.TierIntelligence {
		t.Errorf("tier = %s, want intelligence", result.Tier)
	}
	if result.FellBack {
		t.Error("did not expect a fallback on first-tier success")
	}
}

func TestFetch_FallsBackToLightweightTier(t *testing.T) {
	long := strings.Repeat("content ", 100)
	chain := []strategy.Strategy{
		fakeStrategy{name: "api:test", content: "short"},
		fakeStrategy{name: "static-parse", content: "short"},
		fakeStrategy{name: "sandbox-render", content: long},
	}
	pipe := pipeline.New(chain, nil)
	orch := New(pipe, newHTTPClient(), nil, nil, 100, 100)

	result := orch.Fetch(context.Background(), unreachableURL, Options{MinContentLength: 100})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Tier != models.TierLightweight {
		t.Errorf("tier = %s, want lightweight", result.Tier)
	}
	if !result.FellBack {
		t.Error("expected FellBack true after intelligence tier failed")
	}
	if len(result.TiersAttempted) != 2 {
		t.Errorf("TiersAttempted = %v, want [intelligence, lightweight]", result.TiersAttempted)
	}
}

func TestFetch_FallsBackToBrowserTierWhenAllowed(t *testing.T) {
	long := strings.Repeat("content ", 100)
	chain := []strategy.Strategy{
		fakeStrategy{name: "api:test", content: "short"},
		fakeStrategy{name: "static-parse", content: "short"},
		fakeStrategy{name: "sandbox-render", content: "short"},
		fakeStrategy{name: "browser", content: long},
	}
	pipe := pipeline.New(chain, nil)
	orch := New(pipe, newHTTPClient(), fakeRenderer{}, nil, 100, 100)

	result := orch.Fetch(context.Background(), unreachableURL, Options{MinContentLength: 100, AllowBrowser: true})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Tier != models.TierBrowser {
		t.Errorf("tier = %s, want browser", result.Tier)
	}
}

func TestFetch_BrowserTierUnreachableWithoutAllowBrowser(t *testing.T) {
	chain := []strategy.Strategy{
		fakeStrategy{name: "static-parse", content: "short"},
	}
	pipe := pipeline.New(chain, nil)
	orch := New(pipe, newHTTPClient(), fakeRenderer{}, nil, 100, 100)

	result := orch.Fetch(context.Background(), unreachableURL, Options{MinContentLength: 100, AllowBrowser: false})
	if result.Error == "" {
		t.Fatal("expected all-tiers-failed since browser tier is disallowed")
	}
	if result.TierReason != "browser unavailable or disallowed" {
		t.Errorf("tierReason = %q, want 'browser unavailable or disallowed'", result.TierReason)
	}
}

func TestFetch_MaxCostTierStopsEscalation(t *testing.T) {
	chain := []strategy.Strategy{
		fakeStrategy{name: "static-parse", content: "short"},
	}
	pipe := pipeline.New(chain, nil)
	orch := New(pipe, newHTTPClient(), fakeRenderer{}, nil, 100, 100)

	result := orch.Fetch(context.Background(), unreachableURL, Options{
		MinContentLength: 100,
		AllowBrowser:     true,
		MaxCostTier:      models.TierIntelligence,
	})
	if result.Error == "" {
		t.Fatal("expected failure: max cost tier forbids escalating past intelligence")
	}
	if result.TierReason != "max cost tier enforced" {
		t.Errorf("tierReason = %q, want 'max cost tier enforced'", result.TierReason)
	}
	if result.Budget.MaxCostTierEnforced != models.TierIntelligence {
		t.Errorf("budget.maxCostTierEnforced = %q, want intelligence", result.Budget.MaxCostTierEnforced)
	}
	wantSkipped := []models.Tier{models.TierLightweight, models.TierBrowser}
	if len(result.Budget.TiersSkipped) != len(wantSkipped) {
		t.Fatalf("budget.tiersSkipped = %v, want %v", result.Budget.TiersSkipped, wantSkipped)
	}
	for i, tier := range wantSkipped {
		if result.Budget.TiersSkipped[i] != tier {
			t.Errorf("budget.tiersSkipped[%d] = %q, want %q", i, result.Budget.TiersSkipped[i], tier)
		}
	}
}

func TestFetch_ForceTierRunsOnceAndDoesNotFallBackOnFailure(t *testing.T) {
	chain := []strategy.Strategy{fakeStrategy{name: "static-parse", content: "too short"}}
	pipe := pipeline.New(chain, nil)
	learner := &fakeLearner{}
	orch := New(pipe, newHTTPClient(), fakeRenderer{}, learner, 100, 100)

	result := orch.Fetch(context.Background(), unreachableURL, Options{
		MinContentLength: 100,
		ForceTier:        models.TierIntelligence,
		AllowBrowser:     true,
		EnableLearning:   true,
	})
	if result.Error == "" {
		t.Fatal("expected failure: the forced tier's only strategy can't meet the length floor")
	}
	if len(result.TiersAttempted) != 1 || result.TiersAttempted[0] != models.TierIntelligence {
		t.Errorf("TiersAttempted = %v, want exactly [intelligence] (no fallback on a forced tier)", result.TiersAttempted)
	}
	if result.FellBack {
		t.Error("FellBack = true, want false: a forced tier never falls back")
	}
	if learner.failureCalls != 0 {
		t.Error("a forced tier's failure must not feed the learner either")
	}
}

func TestFetch_RateLimitExceeded(t *testing.T) {
	chain := []strategy.Strategy{fakeStrategy{name: "static-parse", content: strings.Repeat("x", 1000)}}
	pipe := pipeline.New(chain, nil)
	orch := New(pipe, newHTTPClient(), nil, nil, 0.00001, 1)

	// First call consumes the single burst token; a rapid second call must
	// be rejected before any tier executes.
	_ = orch.Fetch(context.Background(), unreachableURL, Options{MinContentLength: 100, UseRateLimiting: true})
	result := orch.Fetch(context.Background(), unreachableURL, Options{MinContentLength: 100, UseRateLimiting: true})
	if result.Error != "rate limit exceeded for domain" {
		t.Fatalf("got error %q, want rate limit rejection", result.Error)
	}
}

type fakeLearner struct {
	successCalls int
	failureCalls int
	preferred    models.Tier
	hasPreferred bool
}

func (l *fakeLearner) RecordSuccess(domain string, tier models.Tier, strategyName string, responseTime time.Duration, contentLength int) {
	l.successCalls++
}
func (l *fakeLearner) RecordFailure(domain string, failure models.FailureContext) { l.failureCalls++ }
func (l *fakeLearner) PreferredTier(domain string) (models.Tier, bool)            { return l.preferred, l.hasPreferred }

func TestFetch_RecordsSuccessWithLearner(t *testing.T) {
	long := strings.Repeat("content ", 100)
	chain := []strategy.Strategy{fakeStrategy{name: "static-parse", content: long}}
	pipe := pipeline.New(chain, nil)
	learner := &fakeLearner{}
	orch := New(pipe, newHTTPClient(), nil, learner, 100, 100)

	orch.Fetch(context.Background(), unreachableURL, Options{MinContentLength: 100, EnableLearning: true})
	if learner.successCalls != 1 {
		t.Errorf("successCalls = %d, want 1", learner.successCalls)
	}
}

func TestFetch_StartingTierHonorsLearnerPreference(t *testing.T) {
	long := strings.Repeat("content ", 100)
	chain := []strategy.Strategy{
		fakeStrategy{name: "static-parse", content: long},
		fakeStrategy{name: "sandbox-render", content: long},
	}
	pipe := pipeline.New(chain, nil)
	learner := &fakeLearner{preferred: models.TierLightweight, hasPreferred: true}
	orch := New(pipe, newHTTPClient(), nil, learner, 100, 100)

	result := orch.Fetch(context.Background(), unreachableURL, Options{MinContentLength: 100, EnableLearning: true})
	if result.Tier != models.TierLightweight {
		t.Errorf("tier = %s, want lightweight (learner preference)", result.Tier)
	}
	if len(result.TiersAttempted) != 1 {
		t.Errorf("expected the learner's preferred tier to be tried first with no fallback, got %v", result.TiersAttempted)
	}
}

func TestFetch_ForceTierSkipsLearning(t *testing.T) {
	long := strings.Repeat("content ", 100)
	chain := []strategy.Strategy{fakeStrategy{name: "static-parse", content: long}}
	pipe := pipeline.New(chain, nil)
	learner := &fakeLearner{}
	orch := New(pipe, newHTTPClient(), nil, learner, 100, 100)

	result := orch.Fetch(context.Background(), unreachableURL, Options{
		MinContentLength: 100, ForceTier: models.TierIntelligence, EnableLearning: true,
	})
	if result.Tier != models.TierIntelligence {
		t.Fatalf("tier = %s, want intelligence", result.Tier)
	}
	if learner.successCalls != 0 {
		t.Error("forced-tier runs must not feed the learner (per the forceTier==\"\" guard)")
	}
}

func TestFetch_FreshnessRealtimeBypassesLearnerPreference(t *testing.T) {
	long := strings.Repeat("content ", 100)
	chain := []strategy.Strategy{
		fakeStrategy{name: "static-parse", content: long},
	}
	pipe := pipeline.New(chain, nil)
	learner := &fakeLearner{preferred: models.TierLightweight, hasPreferred: true}
	orch := New(pipe, newHTTPClient(), nil, learner, 100, 100)

	result := orch.Fetch(context.Background(), unreachableURL, Options{
		MinContentLength:  100,
		EnableLearning:    true,
		FreshnessRealtime: true,
	})
	if result.Tier != models.TierIntelligence {
		t.Errorf("tier = %s, want intelligence: realtime freshness should skip the learned (lightweight) preference", result.Tier)
	}
	if result.Budget.FreshnessApplied != "realtime" {
		t.Errorf("budget.freshnessApplied = %q, want realtime", result.Budget.FreshnessApplied)
	}
}

func TestFetch_FreshnessUnsetLeavesBudgetFieldEmpty(t *testing.T) {
	long := strings.Repeat("content ", 100)
	chain := []strategy.Strategy{fakeStrategy{name: "static-parse", content: long}}
	pipe := pipeline.New(chain, nil)
	orch := New(pipe, newHTTPClient(), nil, nil, 100, 100)

	result := orch.Fetch(context.Background(), unreachableURL, Options{MinContentLength: 100})
	if result.Budget.FreshnessApplied != "" {
		t.Errorf("budget.freshnessApplied = %q, want empty when no freshness requirement was given", result.Budget.FreshnessApplied)
	}
}

func TestFetch_ContextTimeoutReturnsTimeoutError(t *testing.T) {
	chain := []strategy.Strategy{fakeStrategy{name: "static-parse", content: "x"}}
	pipe := pipeline.New(chain, nil)
	orch := New(pipe, newHTTPClient(), nil, nil, 100, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := orch.Fetch(ctx, unreachableURL, Options{MinContentLength: 100})
	if result.Error != "timeout" {
		t.Errorf("error = %q, want timeout", result.Error)
	}
	if !result.Budget.LatencyExceeded {
		t.Error("expected LatencyExceeded set on a pre-cancelled context")
	}
}

func TestAnomalyNote_EmptyHTMLIsSilent(t *testing.T) {
	if got := anomalyNote("", "https://example.com"); got != "" {
		t.Errorf("anomalyNote(\"\") = %q, want empty (site-API/browser tiers have no raw HTML to score)", got)
	}
}

func TestAnomalyNote_CloudflareChallengeProducesWarning(t *testing.T) {
	html := `<html><body><div class="cf-chl-bypass">Just a moment...</div></body></html>`
	note := anomalyNote(html, "https://example.com")
	if note == "" {
		t.Fatal("expected a warning for a Cloudflare challenge page")
	}
	if !strings.Contains(note, "challenge_page") {
		t.Errorf("note = %q, want it to name the challenge_page anomaly type", note)
	}
}

func TestAnomalyNote_OrdinaryContentIsSilent(t *testing.T) {
	html := "<html><body>" + strings.Repeat("<p>A perfectly ordinary paragraph of real article content.</p>", 10) + "</body></html>"
	if got := anomalyNote(html, "https://example.com"); got != "" {
		t.Errorf("anomalyNote(ordinary content) = %q, want empty", got)
	}
}

func TestNormalizeTier_StaticAliasesToIntelligence(t *testing.T) {
	if got := normalizeTier("static"); got != models.TierIntelligence {
		t.Errorf("normalizeTier(static) = %s, want intelligence", got)
	}
	if got := normalizeTier(models.TierBrowser); got != models.TierBrowser {
		t.Errorf("normalizeTier(browser) = %s, want browser (unchanged)", got)
	}
}
