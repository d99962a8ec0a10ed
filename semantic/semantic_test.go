package semantic

import (
	"testing"

	"github.com/use-agent/purify/models"
)

func TestSignature_StripsWWWAndNumericSegments(t *testing.T) {
	got := Signature("https://www.example.com/api/v2/products/12345/reviews")
	want := "example.com api v2 products reviews"
	if got != want {
		t.Errorf("Signature = %q, want %q", got, want)
	}
}

func TestSignature_StripsUUIDLikeSegments(t *testing.T) {
	got := Signature("https://api.example.com/orders/550e8400-e29b-41d4-a716-446655440000")
	want := "api.example.com orders"
	if got != want {
		t.Errorf("Signature = %q, want %q", got, want)
	}
}

func TestSignature_SortsQueryParamNames(t *testing.T) {
	got := Signature("https://example.com/search?z=1&a=2")
	want := "example.com search a z"
	if got != want {
		t.Errorf("Signature = %q, want %q", got, want)
	}
}

func TestSignature_InvalidURLReturnsRawInput(t *testing.T) {
	raw := "://not a url"
	if got := Signature(raw); got != raw {
		t.Errorf("Signature(%q) = %q, want raw input unchanged", raw, got)
	}
}

func TestScoreByRecency_ConfidenceBonusClampedToOne(t *testing.T) {
	p := &models.ApiPattern{Confidence: models.ConfidenceHigh}
	got := scoreByRecency(0.99, p)
	if got != 1.0 {
		t.Errorf("scoreByRecency = %v, want clamped to 1.0", got)
	}
}

func TestScoreByRecency_MediumConfidenceSmallerBonusThanHigh(t *testing.T) {
	low := scoreByRecency(0.5, &models.ApiPattern{Confidence: models.ConfidenceMedium})
	high := scoreByRecency(0.5, &models.ApiPattern{Confidence: models.ConfidenceHigh})
	if high <= low {
		t.Errorf("expected high-confidence bonus (%v) to exceed medium (%v)", high, low)
	}
}

func TestSimHashMatcher_IndexAndSearchFindsExactMatch(t *testing.T) {
	m := NewSimHashMatcher()
	pattern := &models.ApiPattern{Endpoint: "https://api.example.com/v1/products/123", Method: "GET"}
	m.Index("example.com", pattern)

	matches := m.Search("https://api.example.com/v1/products/456", "example.com", 5)
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].Pattern != pattern {
		t.Error("expected the indexed pattern to be returned")
	}
	if matches[0].Similarity < 0.9 {
		t.Errorf("expected near-identical signatures to score high, got %v", matches[0].Similarity)
	}
}

func TestSimHashMatcher_SearchFiltersByDomain(t *testing.T) {
	m := NewSimHashMatcher()
	m.Index("a.example.com", &models.ApiPattern{Endpoint: "https://a.example.com/v1/items/1", Method: "GET"})
	m.Index("b.example.com", &models.ApiPattern{Endpoint: "https://b.example.com/v1/items/1", Method: "GET"})

	matches := m.Search("https://a.example.com/v1/items/99", "a.example.com", 10)
	for _, mt := range matches {
		if mt.Domain != "a.example.com" {
			t.Errorf("got match from domain %q, want only a.example.com", mt.Domain)
		}
	}
}

func TestSimHashMatcher_SearchRespectsTopK(t *testing.T) {
	m := NewSimHashMatcher()
	for i := 0; i < 5; i++ {
		m.Index("example.com", &models.ApiPattern{Endpoint: "https://example.com/v1/widgets/1", Method: "GET"})
	}
	matches := m.Search("https://example.com/v1/widgets/2", "", 2)
	if len(matches) > 2 {
		t.Errorf("got %d matches, want at most 2", len(matches))
	}
}

func TestSimHashMatcher_ReindexSamePatternKeyUpdatesInPlace(t *testing.T) {
	m := NewSimHashMatcher()
	pattern := &models.ApiPattern{Endpoint: "https://example.com/v1/a", Method: "GET", Confidence: models.ConfidenceLow}
	m.Index("example.com", pattern)

	updated := &models.ApiPattern{Endpoint: "https://example.com/v1/a", Method: "GET", Confidence: models.ConfidenceHigh}
	m.Index("example.com", updated)

	matches := m.Search("https://example.com/v1/a", "example.com", 10)
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1 (re-index should replace, not append)", len(matches))
	}
	if matches[0].Pattern.Confidence != models.ConfidenceHigh {
		t.Error("expected the re-indexed pattern's confidence to win")
	}
}
