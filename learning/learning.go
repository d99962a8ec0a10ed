// Package learning implements the Learning Engine (SPEC_FULL.md §4.10): the
// persistent, per-domain knowledge that records what worked, decays
// confidence over time, promotes/demotes API patterns, persists
// anti-patterns, and transfers patterns between related domains.
//
// Grounded on the already-built knowledge.Store for persistence; every
// mutating operation here runs inside a Store.WithWrite closure so writes
// stay serialized per SPEC_FULL.md §5.
package learning

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/use-agent/purify/knowledge"
	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/orchestrator"
	"github.com/use-agent/purify/semantic"
)

const (
	gracePeriodDays  = 14
	decayRatePerWeek = 0.1
	minConfidenceNum = 0.3

	demoteHighThreshold   = 3
	demoteMediumThreshold = 5
	severeDemoteThreshold = 2 // non-severe persistAntiPattern default is 5; see recordPatternFailure

	selectorPriorityGainOnSuccess = 1
	selectorPriorityLossOnFailure = 5
	selectorPriorityCap           = 100

	emaAlpha = 0.3

	recentFailuresCap = 20

	defaultMinSimilarity = 0.75
)

var confidenceNumeric = map[models.Confidence]float64{
	models.ConfidenceHigh:   1.0,
	models.ConfidenceMedium: 0.6,
	models.ConfidenceLow:    0.3,
}

// Engine is the Learning Engine, bound to a Knowledge Store and (optionally)
// a Domain Group registry and a Semantic Pattern Matcher.
type Engine struct {
	store        *knowledge.Store
	domainGroups map[string]*models.DomainGroup // keyed by member domain
	matcher      semantic.Matcher               // nil disables findPatternAsync's semantic fallback
}

// New builds an Engine. groups maps domain -> group, built by flattening each
// models.DomainGroup's Members at configuration time. matcher may be nil.
func New(store *knowledge.Store, groups map[string]*models.DomainGroup, matcher semantic.Matcher) *Engine {
	return &Engine{store: store, domainGroups: groups, matcher: matcher}
}

var _ orchestrator.Learner = (*Engine)(nil)

// --- API patterns -----------------------------------------------------

// LearnApiPattern upserts pattern by (endpoint, method). New entries carry a
// Provenance record with the given source metadata.
func (e *Engine) LearnApiPattern(domain string, pattern models.ApiPattern, source, sourceURL, sourcePatternID string) {
	now := time.Now()
	e.store.WithWrite(domain, func(entry *models.DomainEntry) {
		key := pattern.Method + " " + pattern.Endpoint
		for _, existing := range entry.APIPatterns {
			if existing.Key() == key {
				existing.Confidence = pattern.Confidence
				existing.CanBypass = pattern.CanBypass
				existing.VerificationCount++
				existing.LastVerified = now
				existing.Provenance.VerificationCount++
				return
			}
		}
		pattern.CreatedAt = now
		pattern.LastVerified = now
		pattern.Provenance = models.Provenance{
			Source: source, SourceURL: sourceURL, SourcePatternID: sourcePatternID,
			FirstSeen: now,
		}
		entry.APIPatterns = append(entry.APIPatterns, &pattern)
	})
}

// VerifyApiPattern bumps verificationCount, lastVerified, and nudges the
// domain's overall success rate up.
func (e *Engine) VerifyApiPattern(domain, endpoint, method string) {
	now := time.Now()
	e.store.WithWrite(domain, func(entry *models.DomainEntry) {
		p := findAPIPattern(entry, endpoint, method)
		if p == nil {
			return
		}
		p.VerificationCount++
		p.LastVerified = now
		p.Provenance.VerificationCount++
		entry.OverallSuccessRate = clamp01(entry.OverallSuccessRate + 0.05)
	})
}

// RecordApiPatternFailure increments failureCount and demotes confidence
// across the 3/5 thresholds (halved for severe categories), recording a
// decay event on every demotion.
func (e *Engine) RecordApiPatternFailure(domain, endpoint, method string, failure models.FailureContext) {
	e.store.WithWrite(domain, func(entry *models.DomainEntry) {
		p := findAPIPattern(entry, endpoint, method)
		if p == nil {
			return
		}
		p.FailureCount++
		p.LastFailure = &failure

		highThresh, medThresh := demoteHighThreshold, demoteMediumThreshold
		if models.SevereFailureCategories[failure.Type] {
			highThresh, medThresh = (highThresh+1)/2, (medThresh+1)/2
			if highThresh < 1 {
				highThresh = 1
			}
			if medThresh < 1 {
				medThresh = 1
			}
		}

		switch {
		case p.Confidence == models.ConfidenceHigh && p.FailureCount >= highThresh:
			demote(p, models.ConfidenceMedium, "cumulative failure threshold reached")
			p.CanBypass = false
		case p.Confidence == models.ConfidenceMedium && p.FailureCount >= medThresh:
			demote(p, models.ConfidenceLow, "cumulative failure threshold reached")
		}
	})
}

func demote(p *models.ApiPattern, to models.Confidence, reason string) {
	old := p.Confidence
	p.Confidence = to
	p.Provenance.DecayEvents = append(p.Provenance.DecayEvents, models.DecayEvent{
		At: time.Now(), OldConfidence: old, NewConfidence: to, Reason: reason,
	})
}

func findAPIPattern(entry *models.DomainEntry, endpoint, method string) *models.ApiPattern {
	key := method + " " + endpoint
	for _, p := range entry.APIPatterns {
		if p.Key() == key {
			return p
		}
	}
	return nil
}

// ApplyConfidenceDecay sweeps every domain, decaying API patterns whose
// lastVerified predates the grace period. Invoked on load and periodically.
func (e *Engine) ApplyConfidenceDecay() {
	now := time.Now()
	for _, domain := range e.store.Domains() {
		e.store.WithWrite(domain, func(entry *models.DomainEntry) {
			for _, p := range entry.APIPatterns {
				decayOne(p, now)
			}
		})
	}
}

func decayOne(p *models.ApiPattern, now time.Time) {
	age := now.Sub(p.LastVerified)
	if age <= gracePeriodDays*24*time.Hour {
		return
	}
	weeks := (age - gracePeriodDays*24*time.Hour).Hours() / (24 * 7)
	numeric := confidenceNumeric[p.Confidence] - decayRatePerWeek*weeks
	if numeric < minConfidenceNum {
		numeric = minConfidenceNum
	}
	newConf := quantizeConfidence(numeric)
	if newConf == p.Confidence {
		return
	}
	demote(p, newConf, "confidence decay past grace period")
	p.CanBypass = newConf == models.ConfidenceHigh
}

func quantizeConfidence(n float64) models.Confidence {
	switch {
	case n >= 1.0:
		return models.ConfidenceHigh
	case n >= 0.6:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}

// --- Selectors ----------------------------------------------------------

// LearnSelector upserts selector within contentType's chain. A fresh
// selector starts at priority 50; success/failure moves priority by the
// asymmetric deltas below. Chains stay priority-sorted.
func (e *Engine) LearnSelector(domain, selector, contentType, urlPattern string) {
	e.store.WithWrite(domain, func(entry *models.DomainEntry) {
		sp := findOrCreateSelector(entry, selector, contentType, urlPattern)
		sp.Priority = minInt(sp.Priority+selectorPriorityGainOnSuccess, selectorPriorityCap)
		sp.SuccessCount++
		sp.LastWorked = time.Now()
		sortSelectors(entry.SelectorChains[contentType])
	})
}

// RecordSelectorFailure decreases priority by 5 (floor 0) and bumps
// failureCount. The asymmetry against LearnSelector's +1 gain is
// deliberate (spec.md §9 open question #1) — not "fixed" to be symmetric.
func (e *Engine) RecordSelectorFailure(domain, selector, contentType string) {
	e.store.WithWrite(domain, func(entry *models.DomainEntry) {
		chain := entry.SelectorChains[contentType]
		for _, sp := range chain {
			if sp.Selector == selector {
				sp.Priority = maxInt(sp.Priority-selectorPriorityLossOnFailure, 0)
				sp.FailureCount++
				now := time.Now()
				sp.LastFailed = &now
				break
			}
		}
		sortSelectors(chain)
	})
}

func findOrCreateSelector(entry *models.DomainEntry, selector, contentType, urlPattern string) *models.SelectorPattern {
	chain := entry.SelectorChains[contentType]
	for _, sp := range chain {
		if sp.Selector == selector {
			return sp
		}
	}
	sp := &models.SelectorPattern{Selector: selector, ContentType: contentType, Priority: 50, URLPattern: urlPattern}
	entry.SelectorChains[contentType] = append(chain, sp)
	return sp
}

func sortSelectors(chain []*models.SelectorPattern) {
	sort.SliceStable(chain, func(i, j int) bool { return chain[i].Priority > chain[j].Priority })
}

// GetSelectorChain returns the per-domain chain if present; else falls back
// to the domain group's shared content selectors (as bare low-priority
// SelectorPattern stubs).
func (e *Engine) GetSelectorChain(domain, contentType string) []*models.SelectorPattern {
	entry := e.store.ReadEntry(domain)
	if entry != nil {
		if chain, ok := entry.SelectorChains[contentType]; ok && len(chain) > 0 {
			return chain
		}
	}
	if group, ok := e.domainGroups[domain]; ok {
		out := make([]*models.SelectorPattern, 0, len(group.SharedContentSelectors))
		for _, sel := range group.SharedContentSelectors {
			out = append(out, &models.SelectorPattern{Selector: sel, ContentType: contentType, Priority: 50})
		}
		return out
	}
	return nil
}

// --- Success / failure profile ------------------------------------------

// RecordSuccess maintains a successProfile with EMA (alpha=0.3) response
// time / content length, and a monotonic preferred-tier that only upgrades
// toward cheaper tiers.
func (e *Engine) RecordSuccess(domain string, tier models.Tier, strategyName string, responseTime time.Duration, contentLength int) {
	e.store.WithWrite(domain, func(entry *models.DomainEntry) {
		if entry.SuccessProfile == nil {
			entry.SuccessProfile = &models.SuccessProfile{
				PreferredTier:     tier,
				PreferredStrategy: strategyName,
				AvgResponseTimeMs: float64(responseTime.Milliseconds()),
				AvgContentLength:  float64(contentLength),
			}
		} else {
			sp := entry.SuccessProfile
			sp.AvgResponseTimeMs = ema(sp.AvgResponseTimeMs, float64(responseTime.Milliseconds()))
			sp.AvgContentLength = ema(sp.AvgContentLength, float64(contentLength))
			if sp.PreferredTier == "" || tier.Rank() < sp.PreferredTier.Rank() {
				sp.PreferredTier = tier
				sp.PreferredStrategy = strategyName
			}
		}
		if strings.HasPrefix(strategyName, "api:") {
			entry.SuccessProfile.HasBypassableAPIs = true
		}
		if strings.HasPrefix(strategyName, "framework:") {
			entry.SuccessProfile.HasFrameworkData = true
		}
		if strings.HasPrefix(strategyName, "structured:") {
			entry.SuccessProfile.HasStructuredData = true
		}
		entry.UsageCount++
		entry.LastUsed = time.Now()
	})
}

func ema(avg, sample float64) float64 { return emaAlpha*sample + (1-emaAlpha)*avg }

// RecordFailure prepends a failure to recentFailures (cap 20) and reduces
// overallSuccessRate by 0.05 (floor 0).
func (e *Engine) RecordFailure(domain string, failure models.FailureContext) {
	e.store.WithWrite(domain, func(entry *models.DomainEntry) {
		entry.RecentFailures = append([]*models.FailureContext{&failure}, entry.RecentFailures...)
		if len(entry.RecentFailures) > recentFailuresCap {
			entry.RecentFailures = entry.RecentFailures[:recentFailuresCap]
		}
		entry.OverallSuccessRate = clamp01(entry.OverallSuccessRate - 0.05)
	})
}

// PreferredTier implements orchestrator.Learner: returns the learned
// preferred tier if it has at least 3 successes and was used within 7 days.
func (e *Engine) PreferredTier(domain string) (models.Tier, bool) {
	entry := e.store.ReadEntry(domain)
	if entry == nil || entry.SuccessProfile == nil {
		return "", false
	}
	if entry.UsageCount < 3 {
		return "", false
	}
	if time.Since(entry.LastUsed) > 7*24*time.Hour {
		return "", false
	}
	return entry.SuccessProfile.PreferredTier, entry.SuccessProfile.PreferredTier != ""
}

// FailurePatterns is the result of GetFailurePatterns.
type FailurePatterns struct {
	MostCommonType    models.FailureCategory
	RecentFailureRate float64
	ShouldBackoff     bool
}

// GetFailurePatterns summarizes recentFailures.
func (e *Engine) GetFailurePatterns(domain string) FailurePatterns {
	entry := e.store.ReadEntry(domain)
	if entry == nil || len(entry.RecentFailures) == 0 {
		return FailurePatterns{}
	}
	counts := make(map[models.FailureCategory]int)
	for _, f := range entry.RecentFailures {
		counts[f.Type]++
	}
	var mostCommon models.FailureCategory
	best := 0
	for cat, n := range counts {
		if n > best {
			best, mostCommon = n, cat
		}
	}
	rate := float64(best) / float64(len(entry.RecentFailures))
	backoff := mostCommon == models.FailureRateLimited || mostCommon == models.FailureBlocked || rate > 0.5
	return FailurePatterns{MostCommonType: mostCommon, RecentFailureRate: rate, ShouldBackoff: backoff}
}

// ClassifyError maps an error/status into a FailureCategory via the fixed
// rules in §4.10.
func ClassifyError(err error, status int) models.FailureCategory {
	switch {
	case status == 401 || status == 403:
		return models.FailureAuthExpired
	case status == 404:
		return models.FailureNotFound
	case status == 429:
		return models.FailureRateLimited
	case status >= 500:
		return models.FailureServerError
	}
	if err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout"):
			return models.FailureTimeout
		case strings.Contains(msg, "blocked"), strings.Contains(msg, "captcha"), strings.Contains(msg, "cloudflare"):
			return models.FailureBlocked
		}
	}
	return models.FailureUnknown
}

// --- Refresh / content-change tracking -----------------------------------

// RecordContentCheck maintains a running min/max/avg change-frequency (in
// hours) per URL base, when changed is true.
func (e *Engine) RecordContentCheck(domain, urlBase string, changed bool) {
	if !changed {
		return
	}
	e.store.WithWrite(domain, func(entry *models.DomainEntry) {
		rp, ok := entry.RefreshPatterns[urlBase]
		if !ok {
			rp = &models.RefreshPattern{URLTemplate: urlBase}
			entry.RefreshPatterns[urlBase] = rp
		}
		elapsed := time.Since(entry.LastUpdated).Hours()
		if elapsed <= 0 {
			elapsed = 1
		}
		if rp.SampleCount == 0 || elapsed < rp.MinHours {
			rp.MinHours = elapsed
		}
		if elapsed > rp.MaxHours {
			rp.MaxHours = elapsed
		}
		rp.AvgHours = (rp.AvgHours*float64(rp.SampleCount) + elapsed) / float64(rp.SampleCount+1)
		rp.SampleCount++
	})
}

// GetRecommendedRefreshInterval returns max(1, 0.8*avg) once sampleCount>=3,
// else the 24h default.
func (e *Engine) GetRecommendedRefreshInterval(domain, urlBase string) float64 {
	entry := e.store.ReadEntry(domain)
	if entry == nil {
		return 24
	}
	rp, ok := entry.RefreshPatterns[urlBase]
	if !ok || rp.SampleCount < 3 {
		return 24
	}
	v := 0.8 * rp.AvgHours
	if v < 1 {
		v = 1
	}
	return v
}

// --- Validators -----------------------------------------------------------

var wordRe = regexp.MustCompile(`[A-Za-z]{5,}`)

// LearnValidator extracts the top-10 words (len>4, freq>=3) from content
// into mustContainAny, and seeds length bounds at [0.5*len, 2*len].
func (e *Engine) LearnValidator(domain, content, urlPattern string) {
	words := topWords(content)
	if len(words) == 0 && urlPattern == "" {
		return
	}
	n := len(content)
	e.store.WithWrite(domain, func(entry *models.DomainEntry) {
		entry.Validators = append(entry.Validators, &models.ContentValidatorSpec{
			URLPattern:        urlPattern,
			ExpectedMinLength: n / 2,
			ExpectedMaxLength: n * 2,
			MustContainAny:    words,
		})
	})
}

func topWords(content string) []string {
	counts := make(map[string]int)
	for _, m := range wordRe.FindAllString(content, -1) {
		counts[strings.ToLower(m)]++
	}
	type wc struct {
		word string
		n    int
	}
	var list []wc
	for w, n := range counts {
		if n >= 3 {
			list = append(list, wc{w, n})
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].n != list[j].n {
			return list[i].n > list[j].n
		}
		return list[i].word < list[j].word
	})
	if len(list) > 10 {
		list = list[:10]
	}
	out := make([]string, len(list))
	for i, wc := range list {
		out[i] = wc.word
	}
	return out
}

// --- Pattern transfer / domain groups --------------------------------------

// TransferPatterns copies selector chains (priority halved, counters reset)
// and validators (counters reset) from one domain to another, only if both
// belong to the same domain group.
func (e *Engine) TransferPatterns(from, to string) {
	fromGroup, fromOK := e.domainGroups[from]
	toGroup, toOK := e.domainGroups[to]
	if !fromOK || !toOK || fromGroup.Name != toGroup.Name {
		return
	}
	source := e.store.ReadEntry(from)
	if source == nil {
		return
	}
	newChains := make(map[string][]*models.SelectorPattern, len(source.SelectorChains))
	for ct, chain := range source.SelectorChains {
		copied := make([]*models.SelectorPattern, len(chain))
		for i, sp := range chain {
			copied[i] = &models.SelectorPattern{
				Selector: sp.Selector, ContentType: sp.ContentType,
				Priority: sp.Priority / 2, URLPattern: sp.URLPattern,
			}
		}
		newChains[ct] = copied
	}
	newValidators := make([]*models.ContentValidatorSpec, len(source.Validators))
	for i, v := range source.Validators {
		newValidators[i] = &models.ContentValidatorSpec{
			URLPattern: v.URLPattern, ExpectedMinLength: v.ExpectedMinLength,
			ExpectedMaxLength: v.ExpectedMaxLength, MustContainAny: v.MustContainAny,
			MustContainAll: v.MustContainAll, MustNotContain: v.MustNotContain,
		}
	}
	e.store.WithWrite(to, func(entry *models.DomainEntry) {
		for ct, chain := range newChains {
			entry.SelectorChains[ct] = chain
		}
		entry.Validators = append(entry.Validators, newValidators...)
		entry.DomainGroup = toGroup.Name
	})
}

// GetDomainGroup returns the configured group a domain belongs to, if any.
// Membership is declared via configuration; never inferred.
func (e *Engine) GetDomainGroup(domain string) (*models.DomainGroup, bool) {
	g, ok := e.domainGroups[domain]
	return g, ok
}

// --- Pagination -------------------------------------------------------------

var paginationParamRe = regexp.MustCompile(`(?i)^(page|p|offset|start|cursor|after)$`)
var numericSegmentRe = regexp.MustCompile(`^\d+$`)

// LearnPaginationPattern infers a pagination descriptor from >=2 sample
// URLs: query_param first, then numeric path-segment, else next_button.
func (e *Engine) LearnPaginationPattern(domain string, urls []string, urlBase string) {
	if len(urls) < 2 {
		return
	}
	pattern := inferPagination(urls, urlBase)
	e.store.WithWrite(domain, func(entry *models.DomainEntry) {
		entry.PaginationPatterns[urlBase] = pattern
	})
}

func inferPagination(urls []string, urlBase string) *models.PaginationPattern {
	for _, u := range urls {
		if i := strings.Index(u, "?"); i >= 0 {
			for _, kv := range strings.Split(u[i+1:], "&") {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) == 2 && paginationParamRe.MatchString(parts[0]) {
					return &models.PaginationPattern{URLBase: urlBase, Kind: "query_param", Param: strings.ToLower(parts[0])}
				}
			}
		}
	}
	for _, u := range urls {
		segments := strings.Split(strings.TrimPrefix(u, urlBase), "/")
		for _, seg := range segments {
			if numericSegmentRe.MatchString(seg) {
				return &models.PaginationPattern{URLBase: urlBase, Kind: "path_segment"}
			}
		}
	}
	return &models.PaginationPattern{URLBase: urlBase, Kind: "next_button"}
}

// --- Anti-patterns ----------------------------------------------------------

// PersistAntiPattern persists ap only if it meets the persistable predicate
// (failureCount>=5 AND category in the persistable set).
func (e *Engine) PersistAntiPattern(ap *models.AntiPattern) {
	if ap.FailureCount < 5 || !models.PersistableFailureCategories[ap.FailureCategory] {
		return
	}
	e.store.UpsertAntiPattern(ap)
}

// RecordPatternFailure is the feedback path from anti-pattern detection:
// severe categories demote at threshold 2, others at 5.
func (e *Engine) RecordPatternFailure(domain, patternID string, category models.FailureCategory, msg string) {
	threshold := 5
	if models.SevereFailureCategories[category] {
		threshold = severeDemoteThreshold
	}
	e.store.WithWrite(domain, func(entry *models.DomainEntry) {
		for _, p := range entry.APIPatterns {
			if p.Key() != patternID && p.Endpoint != patternID {
				continue
			}
			p.FailureCount++
			fc := models.FailureContext{Type: category, ErrorMessage: msg, Timestamp: time.Now()}
			p.LastFailure = &fc
			if p.FailureCount >= threshold && p.Confidence == models.ConfidenceHigh {
				demote(p, models.ConfidenceMedium, "pattern failure threshold reached")
				p.CanBypass = false
			} else if p.FailureCount >= threshold*2 && p.Confidence == models.ConfidenceMedium {
				demote(p, models.ConfidenceLow, "pattern failure threshold reached")
			}
			return
		}
	})
}

// --- Pattern lookup ----------------------------------------------------------

// FoundPattern is the result of FindPattern/FindPatternAsync.
type FoundPattern struct {
	Pattern    *models.ApiPattern
	Domain     string
	Confidence models.Confidence
	Semantic   bool
}

// FindPattern performs a synchronous exact-path-over-prefix scan of a
// domain's API patterns for the given path.
func (e *Engine) FindPattern(domain, path string) *FoundPattern {
	entry := e.store.ReadEntry(domain)
	if entry == nil {
		return nil
	}
	var prefixMatch *models.ApiPattern
	for _, p := range entry.APIPatterns {
		if p.Endpoint == path {
			return &FoundPattern{Pattern: p, Domain: domain, Confidence: p.Confidence}
		}
		if prefixMatch == nil && strings.HasPrefix(path, p.Endpoint) {
			prefixMatch = p
		}
	}
	if prefixMatch != nil {
		return &FoundPattern{Pattern: prefixMatch, Domain: domain, Confidence: prefixMatch.Confidence}
	}
	return nil
}

// FindPatternAsync tries FindPattern first; on a miss, and if a semantic
// matcher is configured, falls back to embedding similarity search with
// confidence downgraded per the similarity band.
func (e *Engine) FindPatternAsync(domain, fullURL string, minSimilarity float64) *FoundPattern {
	path := pathOf(fullURL)
	if fp := e.FindPattern(domain, path); fp != nil {
		return fp
	}
	if e.matcher == nil {
		return nil
	}
	if minSimilarity <= 0 {
		minSimilarity = defaultMinSimilarity
	}
	matches := e.matcher.Search(fullURL, domain, 1)
	if len(matches) == 0 || matches[0].Similarity < minSimilarity {
		return nil
	}
	m := matches[0]
	conf := m.Pattern.Confidence
	switch {
	case m.Similarity < 0.7:
		conf = models.ConfidenceLow
	case m.Similarity < 0.85:
		conf = downgradeOne(conf)
	}
	return &FoundPattern{Pattern: m.Pattern, Domain: m.Domain, Confidence: conf, Semantic: true}
}

func downgradeOne(c models.Confidence) models.Confidence {
	switch c {
	case models.ConfidenceHigh:
		return models.ConfidenceMedium
	case models.ConfidenceMedium:
		return models.ConfidenceLow
	default:
		return models.ConfidenceLow
	}
}

func pathOf(fullURL string) string {
	rest := fullURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.Index(rest, "/"); i >= 0 {
		return rest[i:]
	}
	return "/"
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
