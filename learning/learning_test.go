package learning

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/use-agent/purify/knowledge"
	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/semantic"
)

func newTestStore(t *testing.T) *knowledge.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kb.json")
	s := knowledge.New(path, knowledge.WithDebounce(time.Hour))
	t.Cleanup(s.Close)
	return s
}

func TestLearnApiPattern_InsertsThenUpdatesInPlace(t *testing.T) {
	store := newTestStore(t)
	e := New(store, nil, nil)

	e.LearnApiPattern("example.com", models.ApiPattern{Endpoint: "/api/v1/items", Method: "GET", Confidence: models.ConfidenceLow}, "discovered", "https://example.com", "")
	entry := store.ReadEntry("example.com")
	if len(entry.APIPatterns) != 1 {
		t.Fatalf("got %d patterns, want 1", len(entry.APIPatterns))
	}

	e.LearnApiPattern("example.com", models.ApiPattern{Endpoint: "/api/v1/items", Method: "GET", Confidence: models.ConfidenceHigh}, "discovered", "https://example.com", "")
	entry = store.ReadEntry("example.com")
	if len(entry.APIPatterns) != 1 {
		t.Fatalf("got %d patterns after re-learn, want 1 (should update in place)", len(entry.APIPatterns))
	}
	if entry.APIPatterns[0].Confidence != models.ConfidenceHigh {
		t.Errorf("confidence = %s, want high", entry.APIPatterns[0].Confidence)
	}
	if entry.APIPatterns[0].VerificationCount != 1 {
		t.Errorf("verificationCount = %d, want 1 after a single re-learn", entry.APIPatterns[0].VerificationCount)
	}
	if entry.APIPatterns[0].Provenance.VerificationCount != 1 {
		t.Errorf("provenance.verificationCount = %d, want 1", entry.APIPatterns[0].Provenance.VerificationCount)
	}
}

func TestVerifyApiPattern_BumpsCountersAndSuccessRate(t *testing.T) {
	store := newTestStore(t)
	e := New(store, nil, nil)
	e.LearnApiPattern("example.com", models.ApiPattern{Endpoint: "/x", Method: "GET"}, "discovered", "", "")
	// A fresh entry starts at the 1.0 ceiling; one failure leaves room for the nudge up.
	e.RecordFailure("example.com", models.FailureContext{Type: models.FailureUnknown})

	before := store.ReadEntry("example.com").OverallSuccessRate
	e.VerifyApiPattern("example.com", "/x", "GET")

	entry := store.ReadEntry("example.com")
	if entry.APIPatterns[0].VerificationCount != 1 {
		t.Errorf("verificationCount = %d, want 1", entry.APIPatterns[0].VerificationCount)
	}
	if entry.OverallSuccessRate <= before {
		t.Errorf("success rate should have risen from %v, got %v", before, entry.OverallSuccessRate)
	}
}

func TestRecordApiPatternFailure_DemotesAfterThreshold(t *testing.T) {
	store := newTestStore(t)
	e := New(store, nil, nil)
	e.LearnApiPattern("example.com", models.ApiPattern{Endpoint: "/x", Method: "GET", Confidence: models.ConfidenceHigh}, "discovered", "", "")

	for i := 0; i < demoteHighThreshold; i++ {
		e.RecordApiPatternFailure("example.com", "/x", "GET", models.FailureContext{Type: models.FailureServerError})
	}

	p := store.ReadEntry("example.com").APIPatterns[0]
	if p.Confidence != models.ConfidenceMedium {
		t.Fatalf("confidence = %s, want medium after %d failures", p.Confidence, demoteHighThreshold)
	}
	if p.CanBypass {
		t.Error("CanBypass should be cleared on demotion")
	}
}

func TestRecordApiPatternFailure_SevereCategoryDemotesFaster(t *testing.T) {
	store := newTestStore(t)
	e := New(store, nil, nil)
	e.LearnApiPattern("example.com", models.ApiPattern{Endpoint: "/x", Method: "GET", Confidence: models.ConfidenceHigh}, "discovered", "", "")

	// FailureRateLimited is severe: halved threshold means 2 failures, not 3.
	e.RecordApiPatternFailure("example.com", "/x", "GET", models.FailureContext{Type: models.FailureRateLimited})
	e.RecordApiPatternFailure("example.com", "/x", "GET", models.FailureContext{Type: models.FailureRateLimited})

	p := store.ReadEntry("example.com").APIPatterns[0]
	if p.Confidence != models.ConfidenceMedium {
		t.Fatalf("confidence = %s, want medium after 2 severe failures", p.Confidence)
	}
}

func TestApplyConfidenceDecay_NoOpWithinGracePeriod(t *testing.T) {
	store := newTestStore(t)
	e := New(store, nil, nil)
	e.LearnApiPattern("example.com", models.ApiPattern{Endpoint: "/x", Method: "GET", Confidence: models.ConfidenceHigh}, "discovered", "", "")

	e.ApplyConfidenceDecay()
	p := store.ReadEntry("example.com").APIPatterns[0]
	if p.Confidence != models.ConfidenceHigh {
		t.Errorf("confidence = %s, want unchanged (just verified, within grace period)", p.Confidence)
	}
}

func TestApplyConfidenceDecay_DemotesPastGracePeriod(t *testing.T) {
	store := newTestStore(t)
	e := New(store, nil, nil)
	e.LearnApiPattern("example.com", models.ApiPattern{Endpoint: "/x", Method: "GET", Confidence: models.ConfidenceHigh}, "discovered", "", "")

	store.WithWrite("example.com", func(entry *models.DomainEntry) {
		entry.APIPatterns[0].LastVerified = time.Now().Add(-60 * 24 * time.Hour)
	})

	e.ApplyConfidenceDecay()
	p := store.ReadEntry("example.com").APIPatterns[0]
	if p.Confidence == models.ConfidenceHigh {
		t.Error("expected confidence to decay after 60 days unverified")
	}
}

func TestLearnSelector_NewSelectorStartsAtFiftyAndSortsDescending(t *testing.T) {
	store := newTestStore(t)
	e := New(store, nil, nil)

	e.LearnSelector("example.com", "article.body", "text", "")
	e.LearnSelector("example.com", "div.content", "text", "")
	e.LearnSelector("example.com", "div.content", "text", "") // second success, priority 52

	chain := e.GetSelectorChain("example.com", "text")
	if len(chain) != 2 {
		t.Fatalf("got %d selectors, want 2", len(chain))
	}
	if chain[0].Selector != "div.content" {
		t.Errorf("expected div.content (higher priority) first, got %s", chain[0].Selector)
	}
}

func TestRecordSelectorFailure_PriorityFloorsAtZero(t *testing.T) {
	store := newTestStore(t)
	e := New(store, nil, nil)
	e.LearnSelector("example.com", "div.x", "text", "")

	for i := 0; i < 20; i++ {
		e.RecordSelectorFailure("example.com", "div.x", "text")
	}

	chain := e.GetSelectorChain("example.com", "text")
	if chain[0].Priority != 0 {
		t.Errorf("priority = %d, want floored at 0", chain[0].Priority)
	}
}

func TestGetSelectorChain_FallsBackToDomainGroup(t *testing.T) {
	store := newTestStore(t)
	groups := map[string]*models.DomainGroup{
		"b.example.com": {Name: "example-network", Members: []string{"a.example.com", "b.example.com"}, SharedContentSelectors: []string{"article"}},
	}
	e := New(store, groups, nil)

	chain := e.GetSelectorChain("b.example.com", "text")
	if len(chain) != 1 || chain[0].Selector != "article" {
		t.Fatalf("expected fallback to shared selector 'article', got %+v", chain)
	}
}

func TestRecordSuccess_PreferredTierOnlyUpgradesTowardCheaper(t *testing.T) {
	store := newTestStore(t)
	e := New(store, nil, nil)

	e.RecordSuccess("example.com", models.TierBrowser, "browser", 2*time.Second, 1000)
	e.RecordSuccess("example.com", models.TierIntelligence, "api:site", 100*time.Millisecond, 500)

	profile := store.ReadEntry("example.com").SuccessProfile
	if profile.PreferredTier != models.TierIntelligence {
		t.Errorf("preferred tier = %s, want intelligence (cheaper than browser)", profile.PreferredTier)
	}

	// A subsequent browser-tier success must not regress the preference.
	e.RecordSuccess("example.com", models.TierBrowser, "browser", 2*time.Second, 1000)
	profile = store.ReadEntry("example.com").SuccessProfile
	if profile.PreferredTier != models.TierIntelligence {
		t.Errorf("preferred tier regressed to %s after a pricier success", profile.PreferredTier)
	}
}

func TestRecordSuccess_SetsCapabilityFlagsFromStrategyPrefix(t *testing.T) {
	store := newTestStore(t)
	e := New(store, nil, nil)
	e.RecordSuccess("example.com", models.TierIntelligence, "api:orders", time.Second, 100)

	profile := store.ReadEntry("example.com").SuccessProfile
	if !profile.HasBypassableAPIs {
		t.Error("expected HasBypassableAPIs set for an api: strategy")
	}
}

func TestPreferredTier_RequiresThreeUsesAndRecency(t *testing.T) {
	store := newTestStore(t)
	e := New(store, nil, nil)
	e.RecordSuccess("example.com", models.TierIntelligence, "api:x", time.Second, 100)

	if _, ok := e.PreferredTier("example.com"); ok {
		t.Error("expected no preferred tier with fewer than 3 uses")
	}

	e.RecordSuccess("example.com", models.TierIntelligence, "api:x", time.Second, 100)
	e.RecordSuccess("example.com", models.TierIntelligence, "api:x", time.Second, 100)

	tier, ok := e.PreferredTier("example.com")
	if !ok || tier != models.TierIntelligence {
		t.Errorf("got tier=%s ok=%v, want intelligence/true after 3 uses", tier, ok)
	}
}

func TestGetFailurePatterns_BackoffOnRateLimiting(t *testing.T) {
	store := newTestStore(t)
	e := New(store, nil, nil)
	e.RecordFailure("example.com", models.FailureContext{Type: models.FailureRateLimited})
	e.RecordFailure("example.com", models.FailureContext{Type: models.FailureRateLimited})

	fp := e.GetFailurePatterns("example.com")
	if !fp.ShouldBackoff {
		t.Error("expected backoff recommended for repeated rate limiting")
	}
	if fp.MostCommonType != models.FailureRateLimited {
		t.Errorf("mostCommonType = %s, want rate_limited", fp.MostCommonType)
	}
}

func TestClassifyError_StatusCodesTakePriorityOverMessage(t *testing.T) {
	cases := []struct {
		status int
		err    error
		want   models.FailureCategory
	}{
		{401, nil, models.FailureAuthExpired},
		{403, nil, models.FailureAuthExpired},
		{404, nil, models.FailureNotFound},
		{429, nil, models.FailureRateLimited},
		{503, nil, models.FailureServerError},
	}
	for _, tc := range cases {
		if got := ClassifyError(tc.err, tc.status); got != tc.want {
			t.Errorf("ClassifyError(_, %d) = %s, want %s", tc.status, got, tc.want)
		}
	}
}

func TestLearnValidator_TopWordsRequireFrequencyThree(t *testing.T) {
	store := newTestStore(t)
	e := New(store, nil, nil)

	content := "widget widget widget gadget gadget oneoff"
	e.LearnValidator("example.com", content, "/products/")

	entry := store.ReadEntry("example.com")
	if len(entry.Validators) != 1 {
		t.Fatalf("got %d validators, want 1", len(entry.Validators))
	}
	v := entry.Validators[0]
	found := false
	for _, w := range v.MustContainAny {
		if w == "widget" {
			found = true
		}
		if w == "oneoff" {
			t.Error("word appearing only once should not qualify (freq >= 3 required)")
		}
	}
	if !found {
		t.Error("expected 'widget' (freq 3) among the learned markers")
	}
}

func TestTransferPatterns_RequiresSameGroup(t *testing.T) {
	store := newTestStore(t)
	groups := map[string]*models.DomainGroup{
		"a.example.com": {Name: "net-a", Members: []string{"a.example.com"}},
		"b.example.com": {Name: "net-b", Members: []string{"b.example.com"}},
	}
	e := New(store, groups, nil)
	e.LearnSelector("a.example.com", "div.x", "text", "")

	e.TransferPatterns("a.example.com", "b.example.com")

	if entry := store.ReadEntry("b.example.com"); entry != nil && len(entry.SelectorChains["text"]) > 0 {
		t.Error("expected no transfer across different domain groups")
	}
}

func TestTransferPatterns_HalvesPriorityAndResetsCounters(t *testing.T) {
	store := newTestStore(t)
	groups := map[string]*models.DomainGroup{
		"a.example.com": {Name: "shared", Members: []string{"a.example.com", "b.example.com"}},
		"b.example.com": {Name: "shared", Members: []string{"a.example.com", "b.example.com"}},
	}
	e := New(store, groups, nil)
	e.LearnSelector("a.example.com", "div.x", "text", "")
	e.LearnSelector("a.example.com", "div.x", "text", "") // priority now 52

	e.TransferPatterns("a.example.com", "b.example.com")

	chain := store.ReadEntry("b.example.com").SelectorChains["text"]
	if len(chain) != 1 {
		t.Fatalf("got %d transferred selectors, want 1", len(chain))
	}
	if chain[0].Priority != 26 {
		t.Errorf("priority = %d, want 26 (52/2)", chain[0].Priority)
	}
	if chain[0].SuccessCount != 0 {
		t.Error("expected counters reset on transfer")
	}
}

func TestLearnPaginationPattern_PrefersQueryParamOverPathSegment(t *testing.T) {
	store := newTestStore(t)
	e := New(store, nil, nil)

	urls := []string{
		"https://example.com/list/2?page=2",
		"https://example.com/list/3?page=3",
	}
	e.LearnPaginationPattern("example.com", urls, "https://example.com/list/")

	p := store.ReadEntry("example.com").PaginationPatterns["https://example.com/list/"]
	if p.Kind != "query_param" || p.Param != "page" {
		t.Errorf("got %+v, want query_param/page", p)
	}
}

func TestLearnPaginationPattern_RequiresAtLeastTwoSamples(t *testing.T) {
	store := newTestStore(t)
	e := New(store, nil, nil)
	e.LearnPaginationPattern("example.com", []string{"https://example.com/list/1"}, "https://example.com/list/")

	entry := store.ReadEntry("example.com")
	if entry != nil && entry.PaginationPatterns["https://example.com/list/"] != nil {
		t.Error("expected no pattern learned from a single sample URL")
	}
}

func TestPersistAntiPattern_RequiresThresholdAndCategory(t *testing.T) {
	store := newTestStore(t)
	e := New(store, nil, nil)

	e.PersistAntiPattern(&models.AntiPattern{ID: "1", FailureCategory: models.FailureAuthRequired, FailureCount: 3})
	if len(store.AntiPatterns()) != 0 {
		t.Error("expected no persistence below the failure-count threshold")
	}

	e.PersistAntiPattern(&models.AntiPattern{ID: "2", FailureCategory: models.FailureServerError, FailureCount: 10})
	if len(store.AntiPatterns()) != 0 {
		t.Error("expected no persistence for a non-persistable category")
	}

	e.PersistAntiPattern(&models.AntiPattern{ID: "3", FailureCategory: models.FailureAuthRequired, FailureCount: 5})
	if len(store.AntiPatterns()) != 1 {
		t.Error("expected persistence once both threshold and category are satisfied")
	}
}

func TestFindPattern_ExactBeatsPrefix(t *testing.T) {
	store := newTestStore(t)
	e := New(store, nil, nil)
	e.LearnApiPattern("example.com", models.ApiPattern{Endpoint: "/api", Method: "GET"}, "discovered", "", "")
	e.LearnApiPattern("example.com", models.ApiPattern{Endpoint: "/api/v1/items", Method: "GET"}, "discovered", "", "")

	fp := e.FindPattern("example.com", "/api/v1/items")
	if fp == nil || fp.Pattern.Endpoint != "/api/v1/items" {
		t.Fatalf("expected exact match, got %+v", fp)
	}
}

func TestFindPattern_MissReturnsNil(t *testing.T) {
	store := newTestStore(t)
	e := New(store, nil, nil)
	if fp := e.FindPattern("unknown.com", "/x"); fp != nil {
		t.Errorf("expected nil for unknown domain, got %+v", fp)
	}
}

type stubMatcher struct {
	matches []stubMatch
}

type stubMatch struct {
	pattern    *models.ApiPattern
	domain     string
	similarity float64
}

func (s *stubMatcher) Index(domain string, pattern *models.ApiPattern) {}

func (s *stubMatcher) Search(fullURL, domain string, topK int) []semantic.Match {
	out := make([]semantic.Match, len(s.matches))
	for i, m := range s.matches {
		out[i] = semantic.Match{Pattern: m.pattern, Domain: m.domain, Similarity: m.similarity}
	}
	return out
}

func TestFindPatternAsync_FallsBackToSemanticMatchOnMiss(t *testing.T) {
	store := newTestStore(t)
	pattern := &models.ApiPattern{Endpoint: "/api/v1/items", Method: "GET", Confidence: models.ConfidenceHigh}
	matcher := &stubMatcher{matches: []stubMatch{{pattern: pattern, domain: "sibling.com", similarity: 0.8}}}
	e := New(store, nil, matcher)

	fp := e.FindPatternAsync("example.com", "https://example.com/api/v1/items", 0.75)
	if fp == nil {
		t.Fatal("expected a semantic fallback match")
	}
	if !fp.Semantic {
		t.Error("expected Semantic flag set")
	}
	if fp.Confidence != models.ConfidenceMedium {
		t.Errorf("confidence = %s, want medium (downgraded one band for similarity 0.8)", fp.Confidence)
	}
}

func TestFindPatternAsync_BelowMinSimilarityReturnsNil(t *testing.T) {
	store := newTestStore(t)
	pattern := &models.ApiPattern{Endpoint: "/x", Method: "GET"}
	matcher := &stubMatcher{matches: []stubMatch{{pattern: pattern, domain: "sibling.com", similarity: 0.5}}}
	e := New(store, nil, matcher)

	if fp := e.FindPatternAsync("example.com", "https://example.com/x", 0.75); fp != nil {
		t.Errorf("expected nil below the similarity floor, got %+v", fp)
	}
}
