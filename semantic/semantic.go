// Package semantic implements the optional Semantic Pattern Matcher
// (SPEC_FULL.md §4.11): URL-signature decomposition, embedding, and
// cosine-similarity search over previously indexed API patterns.
//
// The embedding provider and vector store are pluggable backends (§1 lists
// both as external collaborators); this package supplies two concrete ones:
// a local SimHash-derived backend (simhash_matcher.go, built on
// simhash/simhash.go — always available, no network dependency) and an
// OpenAI-embeddings backend (openai_matcher.go, adapted from
// llm/openai.go's request/response/error-classification shape).
package semantic

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/use-agent/purify/models"
)

// Match is one scored hit from Search.
type Match struct {
	Pattern    *models.ApiPattern
	Domain     string
	Similarity float64
}

// Matcher is the interface the Learning Engine's findPatternAsync consults.
type Matcher interface {
	// Index registers a pattern's URL signature for later retrieval.
	Index(domain string, pattern *models.ApiPattern)
	// Search returns up to topK matches for fullURL, optionally filtered to
	// domain (empty string searches all indexed domains).
	Search(fullURL, domain string, topK int) []Match
}

var uuidLikeRe = regexp.MustCompile(`(?i)^[0-9a-f]{8}-?[0-9a-f]{4}-?[0-9a-f]{4}-?[0-9a-f]{4}-?[0-9a-f]{12}$`)
var numericRe = regexp.MustCompile(`^\d+$`)

// Signature builds the text "URL signature" §4.11 specifies: registrable
// domain (www-stripped), path segments with numeric/UUID-like segments
// removed, and query-parameter names (not values).
func Signature(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")

	var parts []string
	parts = append(parts, host)

	for _, seg := range strings.Split(u.Path, "/") {
		if seg == "" {
			continue
		}
		if numericRe.MatchString(seg) || uuidLikeRe.MatchString(seg) {
			continue
		}
		parts = append(parts, seg)
	}

	if u.RawQuery != "" {
		values := u.Query()
		names := make([]string, 0, len(values))
		for k := range values {
			names = append(names, k)
		}
		sortStrings(names)
		parts = append(parts, names...)
	}

	return strings.Join(parts, " ")
}

func sortStrings(ss []string) {
	for i := 1; i < len(ss); i++ {
		for j := i; j > 0 && ss[j-1] > ss[j]; j-- {
			ss[j-1], ss[j] = ss[j], ss[j-1]
		}
	}
}

// scoreByRecency adds a confidence bonus to vector similarity: 0.1 for high
// and 0.05 for medium confidence, clamped to 1. Recency (LastUsed) does not
// enter the score.
func scoreByRecency(similarity float64, p *models.ApiPattern) float64 {
	confBonus := 0.0
	switch p.Confidence {
	case models.ConfidenceHigh:
		confBonus = 0.1
	case models.ConfidenceMedium:
		confBonus = 0.05
	}
	score := similarity + confBonus
	if score > 1 {
		score = 1
	}
	return score
}
