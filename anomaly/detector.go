// Package anomaly implements the Anomaly Detector (SPEC_FULL.md §4.4): a
// universal challenge/error/empty-page classifier requiring no prior
// learning.
//
// Grounded on neothelobster-ghostfetch's challenge.go (detectChallenge,
// containsAny, Cloudflare/Turnstile/hCaptcha/reCAPTCHA pattern lists) for
// the challenge-pattern half, and uzzalhcse-CrawlPilot's
// internal/recovery/types.go (ErrorPattern enum + RecoveryPlan) for the
// result-type -> action mapping shape.
package anomaly

import (
	"strings"
)

// Type is the anomaly classification.
type Type string

const (
	TypeChallengePage  Type = "challenge_page"
	TypeRedirectNotice Type = "redirect_notice"
	TypeCaptcha        Type = "captcha"
	TypeRateLimited    Type = "rate_limited"
	TypeErrorPage      Type = "error_page"
	TypeEmptyContent   Type = "empty_content"
)

// Action is the suggested remediation for a detected anomaly.
type Action string

const (
	ActionWait10s      Action = "wait_10s"
	ActionNeedsSession Action = "needs_session"
	ActionWait60s      Action = "wait_60s"
	ActionSkip         Action = "skip"
	ActionRetry        Action = "retry"
)

// actionForType implements SPEC_FULL.md §4.4's fixed result-type -> action
// mapping.
var actionForType = map[Type]Action{
	TypeChallengePage:  ActionWait10s,
	TypeRedirectNotice: ActionWait10s,
	TypeCaptcha:        ActionNeedsSession,
	TypeRateLimited:    ActionWait60s,
	TypeErrorPage:      ActionSkip,
	TypeEmptyContent:   ActionRetry,
}

var waitTimeForType = map[Type]int{
	TypeChallengePage:  10000,
	TypeRedirectNotice: 10000,
	TypeRateLimited:    60000,
}

// Input is what the detector scores.
type Input struct {
	HTML          string
	URL           string
	ExpectedTopic string
}

// Result is the detector's verdict.
type Result struct {
	IsAnomaly      bool
	AnomalyType    Type
	Confidence     float64
	Reasons        []string
	SuggestedAction Action
	WaitTimeMs     int
}

var challengePatterns = []string{
	"just a moment", "checking your browser", "cf-browser-verification",
	"__cf_chl", "cf-chl-bypass", "challenge-platform", "ddos protection by",
}

var captchaPatterns = []string{
	"recaptcha", "hcaptcha", "turnstile", "g-recaptcha", "h-captcha",
}

var rateLimitPatterns = []string{
	"rate limit", "too many requests", "slow down", "429",
}

var errorPagePatterns = []string{
	"404 not found", "page not found", "500 internal server error",
	"service unavailable", "bad gateway", "this page isn't working",
}

// weight is the score contribution for each pattern category hit.
const (
	weightChallenge = 0.55
	weightCaptcha   = 0.6
	weightRateLimit = 0.5
	weightErrorPage = 0.45
	weightShortBody = 0.35
	weightNoStructure = 0.2
	weightTopicMiss = 0.15
)

// shortBodyThreshold is the character count below which a body is
// considered suspiciously short.
const shortBodyThreshold = 200

// Detect scores in and returns a classification. isAnomaly <=> confidence
// > 0.5, per SPEC_FULL.md §4.4.
func Detect(in Input) Result {
	lower := strings.ToLower(in.HTML)

	var (
		score   float64
		reasons []string
		kind    Type
	)

	if hit, pat := containsAny(lower, captchaPatterns); hit {
		score += weightCaptcha
		reasons = append(reasons, "captcha pattern: "+pat)
		kind = TypeCaptcha
	} else if hit, pat := containsAny(lower, challengePatterns); hit {
		score += weightChallenge
		reasons = append(reasons, "challenge pattern: "+pat)
		kind = TypeChallengePage
	} else if hit, pat := containsAny(lower, rateLimitPatterns); hit {
		score += weightRateLimit
		reasons = append(reasons, "rate-limit pattern: "+pat)
		kind = TypeRateLimited
	} else if hit, pat := containsAny(lower, errorPagePatterns); hit {
		score += weightErrorPage
		reasons = append(reasons, "error-page pattern: "+pat)
		kind = TypeErrorPage
	}

	bodyLen := len(strings.TrimSpace(visibleText(in.HTML)))
	if bodyLen < shortBodyThreshold {
		score += weightShortBody
		reasons = append(reasons, "short visible content")
		if kind == "" {
			kind = TypeEmptyContent
		}
	}

	if !hasStructure(lower) {
		score += weightNoStructure
		reasons = append(reasons, "no paragraphs/lists/headings")
		if kind == "" {
			kind = TypeEmptyContent
		}
	}

	if in.ExpectedTopic != "" {
		overlap := topicOverlap(lower, strings.ToLower(in.ExpectedTopic))
		if overlap < 0.1 {
			score += weightTopicMiss
			reasons = append(reasons, "low topic-term overlap")
		}
	}

	if score > 1.0 {
		score = 1.0
	}

	res := Result{
		Confidence: score,
		IsAnomaly:  score > 0.5,
		Reasons:    reasons,
	}
	if res.IsAnomaly {
		res.AnomalyType = kind
		res.SuggestedAction = actionForType[kind]
		res.WaitTimeMs = waitTimeForType[kind]
	}
	return res
}

func containsAny(haystack string, patterns []string) (bool, string) {
	for _, p := range patterns {
		if strings.Contains(haystack, p) {
			return true, p
		}
	}
	return false, ""
}

func hasStructure(lowerHTML string) bool {
	for _, tag := range []string{"<p", "<li", "<h1", "<h2", "<h3"} {
		if strings.Contains(lowerHTML, tag) {
			return true
		}
	}
	return false
}

// visibleText is a crude tag-stripper used only for length heuristics; the
// Static Parse strategy owns real text extraction.
func visibleText(htmlStr string) string {
	var b strings.Builder
	inTag := false
	for _, r := range htmlStr {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func topicOverlap(haystack, topic string) float64 {
	terms := strings.Fields(topic)
	if len(terms) == 0 {
		return 1.0
	}
	hits := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
