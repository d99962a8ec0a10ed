package semantic

import (
	"sync"

	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/simhash"
)

// indexedPattern is one entry in SimHashMatcher's in-memory vector store.
type indexedPattern struct {
	domain      string
	pattern     *models.ApiPattern
	fingerprint uint64
}

// SimHashMatcher is the default, no-network Matcher: it embeds URL
// signatures as 64-bit SimHash fingerprints (simhash.Fingerprint, the same
// bit-vector technique simhash/simhash.go uses for DOM structural
// comparison) and scores similarity as 1 - hammingDistance/64.
//
// This is the always-available local fallback; wire openai_matcher.go's
// OpenAIMatcher instead when a real embedding provider is configured.
type SimHashMatcher struct {
	mu      sync.RWMutex
	indexed []indexedPattern
}

// NewSimHashMatcher creates an empty in-memory matcher.
func NewSimHashMatcher() *SimHashMatcher {
	return &SimHashMatcher{}
}

func (m *SimHashMatcher) Index(domain string, pattern *models.ApiPattern) {
	fp := simhash.Fingerprint(Signature(pattern.Endpoint))
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, ip := range m.indexed {
		if ip.domain == domain && ip.pattern.Key() == pattern.Key() {
			m.indexed[i].fingerprint = fp
			m.indexed[i].pattern = pattern
			return
		}
	}
	m.indexed = append(m.indexed, indexedPattern{domain: domain, pattern: pattern, fingerprint: fp})
}

func (m *SimHashMatcher) Search(fullURL, domain string, topK int) []Match {
	target := simhash.Fingerprint(Signature(fullURL))

	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []Match
	for _, ip := range m.indexed {
		if domain != "" && ip.domain != domain {
			continue
		}
		dist := simhash.Distance(target, ip.fingerprint)
		similarity := 1 - float64(dist)/64
		candidates = append(candidates, Match{
			Pattern:    ip.pattern,
			Domain:     ip.domain,
			Similarity: scoreByRecency(similarity, ip.pattern),
		})
	}

	sortMatchesDesc(candidates)
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}

func sortMatchesDesc(m []Match) {
	for i := 1; i < len(m); i++ {
		for j := i; j > 0 && m[j-1].Similarity < m[j].Similarity; j-- {
			m[j-1], m[j] = m[j], m[j-1]
		}
	}
}
