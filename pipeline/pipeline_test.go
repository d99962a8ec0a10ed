package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/use-agent/purify/models"
	"github.com/use-agent/purify/strategy"
)

type fakeStrategy struct {
	name    string
	content string
	err     error
	skip    bool // Extract returns nil, nil to simulate "does not apply here"
}

func (f fakeStrategy) Name() string { return f.name }

func (f fakeStrategy) Extract(ctx context.Context, url, html string, opts strategy.Options) (*models.ContentResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.skip {
		return nil, nil
	}
	return &models.ContentResult{Content: models.ContentOutput{Text: f.content}}, nil
}

func chainOf(s ...strategy.Strategy) []strategy.Strategy { return s }

func TestExtract_ForceStrategySucceeds(t *testing.T) {
	long := strings.Repeat("content ", 50)
	p := New(chainOf(fakeStrategy{name: "static-parse", content: long}), nil)

	result := p.Extract(context.Background(), "https://example.com", "", Options{
		ForceStrategy: "static-parse", MinContentLength: 100,
	})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Meta.Strategy != "static-parse" {
		t.Errorf("strategy = %q, want static-parse", result.Meta.Strategy)
	}
}

func TestExtract_ForceStrategyUnknownName(t *testing.T) {
	p := New(chainOf(fakeStrategy{name: "static-parse", content: "x"}), nil)

	result := p.Extract(context.Background(), "https://example.com", "", Options{ForceStrategy: "does-not-exist"})
	if result.Error == "" || !strings.Contains(result.Error, "unknown forced strategy") {
		t.Fatalf("got error %q, want unknown-strategy error", result.Error)
	}
}

func TestExtract_ForceStrategyExtractError(t *testing.T) {
	p := New(chainOf(fakeStrategy{name: "static-parse", err: errBoom{}}), nil)

	result := p.Extract(context.Background(), "https://example.com", "", Options{ForceStrategy: "static-parse"})
	if result.Error != "forced strategy failed" {
		t.Fatalf("got error %q, want forced strategy failed", result.Error)
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func TestExtract_ChainFallsThroughOnValidationFailure(t *testing.T) {
	long := strings.Repeat("content ", 50)
	p := New(chainOf(
		fakeStrategy{name: "api:test", content: "short"},
		fakeStrategy{name: "static-parse", content: long},
	), nil)

	result := p.Extract(context.Background(), "https://example.com", "", Options{MinContentLength: 100})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Meta.Strategy != "static-parse" {
		t.Errorf("strategy = %q, want static-parse (api:test should have failed validation)", result.Meta.Strategy)
	}
	if len(result.Meta.StrategiesAttempted) != 2 {
		t.Errorf("StrategiesAttempted = %v, want both strategies recorded as attempted", result.Meta.StrategiesAttempted)
	}
}

func TestExtract_SkipStrategiesHonored(t *testing.T) {
	long := strings.Repeat("content ", 50)
	p := New(chainOf(
		fakeStrategy{name: "sandbox-render", content: long},
		fakeStrategy{name: "static-parse", content: long},
	), nil)

	result := p.Extract(context.Background(), "https://example.com", "", Options{
		MinContentLength: 100, SkipStrategies: []string{"sandbox-render"},
	})
	if result.Meta.Strategy != "static-parse" {
		t.Errorf("strategy = %q, want static-parse (sandbox-render should be skipped)", result.Meta.Strategy)
	}
}

func TestExtract_BrowserStrategySkippedUnlessAllowed(t *testing.T) {
	long := strings.Repeat("content ", 50)
	p := New(chainOf(fakeStrategy{name: "browser", content: long}), nil)

	result := p.Extract(context.Background(), "https://example.com", "", Options{MinContentLength: 100, AllowBrowser: false})
	if result.Error != "all strategies failed" {
		t.Fatalf("expected all strategies failed when browser is disallowed, got %q", result.Error)
	}

	result = p.Extract(context.Background(), "https://example.com", "", Options{MinContentLength: 100, AllowBrowser: true})
	if result.Error != "" {
		t.Fatalf("unexpected error with browser allowed: %s", result.Error)
	}
}

func TestExtract_StrategyErrorIsSkippedNotFatal(t *testing.T) {
	long := strings.Repeat("content ", 50)
	p := New(chainOf(
		fakeStrategy{name: "api:test", err: errBoom{}},
		fakeStrategy{name: "static-parse", content: long},
	), nil)

	result := p.Extract(context.Background(), "https://example.com", "", Options{MinContentLength: 100})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if len(result.Meta.StrategiesAttempted) != 1 {
		t.Errorf("a strategy that errored should not count as attempted, got %v", result.Meta.StrategiesAttempted)
	}
}

func TestExtract_StrategyOptOutIsSkippedNotFatal(t *testing.T) {
	long := strings.Repeat("content ", 50)
	p := New(chainOf(
		fakeStrategy{name: "api:test", skip: true},
		fakeStrategy{name: "static-parse", content: long},
	), nil)

	result := p.Extract(context.Background(), "https://example.com", "", Options{MinContentLength: 100})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if len(result.Meta.StrategiesAttempted) != 1 {
		t.Errorf("a nil/nil opt-out should not count as attempted, got %v", result.Meta.StrategiesAttempted)
	}
}

func TestExtract_AllStrategiesFailReportsWarnings(t *testing.T) {
	p := New(chainOf(
		fakeStrategy{name: "static-parse", content: "too short"},
	), nil)

	result := p.Extract(context.Background(), "https://example.com", "", Options{MinContentLength: 1000})
	if result.Error != "all strategies failed" {
		t.Fatalf("got error %q, want all strategies failed", result.Error)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("expected one warning describing the validation failure, got %v", result.Warnings)
	}
}

func TestSubscribe_OnlyAPIPrefixedStrategiesEmit(t *testing.T) {
	long := strings.Repeat("content ", 50)
	p := New(chainOf(fakeStrategy{name: "static-parse", content: long}), nil)

	var events []models.ExtractionSuccessEvent
	unsub := p.Subscribe(func(ev models.ExtractionSuccessEvent) { events = append(events, ev) })
	defer unsub()

	p.Extract(context.Background(), "https://example.com", "", Options{MinContentLength: 100})
	if len(events) != 0 {
		t.Errorf("expected no events for a non-api: strategy, got %d", len(events))
	}
}

func TestSubscribe_APIStrategyEmitsEvent(t *testing.T) {
	long := strings.Repeat("content ", 50)
	p := New(chainOf(fakeStrategy{name: "api:products", content: long}), nil)

	var events []models.ExtractionSuccessEvent
	unsub := p.Subscribe(func(ev models.ExtractionSuccessEvent) { events = append(events, ev) })
	defer unsub()

	p.Extract(context.Background(), "https://example.com/p/1", "", Options{MinContentLength: 100})
	if len(events) != 1 {
		t.Fatalf("expected one extraction-success event, got %d", len(events))
	}
	if events[0].Strategy != "api:products" {
		t.Errorf("event.Strategy = %q, want api:products", events[0].Strategy)
	}
}

func TestSubscribe_UnsubscribeStopsDelivery(t *testing.T) {
	long := strings.Repeat("content ", 50)
	p := New(chainOf(fakeStrategy{name: "api:products", content: long}), nil)

	var count int
	unsub := p.Subscribe(func(ev models.ExtractionSuccessEvent) { count++ })
	unsub()

	p.Extract(context.Background(), "https://example.com", "", Options{MinContentLength: 100})
	if count != 0 {
		t.Errorf("expected no delivery after unsubscribe, got %d events", count)
	}
}

func TestNames_ReturnsChainOrder(t *testing.T) {
	p := New(chainOf(
		fakeStrategy{name: "api:test"},
		fakeStrategy{name: "static-parse"},
		fakeStrategy{name: "sandbox-render"},
	), nil)

	got := p.Names()
	want := []string{"api:test", "static-parse", "sandbox-render"}
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHostOf_StripsSchemeAndPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://Example.com/path?q=1", "example.com"},
		{"http://user@example.com:8080/x", "example.com:8080"},
		{"example.com", "example.com"},
	}
	for _, tt := range tests {
		if got := hostOf(tt.in); got != tt.want {
			t.Errorf("hostOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
