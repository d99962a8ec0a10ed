package validator

import (
	"strings"
	"testing"
	"time"

	"github.com/use-agent/purify/models"
)

func resultWithText(text string) *models.ContentResult {
	return &models.ContentResult{
		Content: models.ContentOutput{Text: text},
		Meta:    models.ResultMeta{FinalURL: "https://example.com/article/1"},
	}
}

func TestValidate_BelowMinLength(t *testing.T) {
	r := Validate(resultWithText("too short"), "static-parse", 500, nil)
	if r.Valid {
		t.Fatal("expected invalid for content shorter than floor")
	}
	if !strings.Contains(r.Reason, "minimum length") {
		t.Errorf("reason = %q, want mention of minimum length", r.Reason)
	}
}

func TestValidate_ZeroMinLengthUsesDefault(t *testing.T) {
	short := strings.Repeat("x", defaultMinContentLength-1)
	r := Validate(resultWithText(short), "static-parse", 0, nil)
	if r.Valid {
		t.Fatal("expected invalid: content one byte under the package default floor")
	}
}

func TestValidate_FallsBackToMarkdownWhenTextEmpty(t *testing.T) {
	long := strings.Repeat("word ", 200)
	res := &models.ContentResult{
		Content: models.ContentOutput{Markdown: long},
		Meta:    models.ResultMeta{FinalURL: "https://example.com/x"},
	}
	r := Validate(res, "static-parse", 100, nil)
	if !r.Valid {
		t.Fatalf("expected valid using markdown fallback, got reason %q", r.Reason)
	}
}

func TestValidate_IncompleteMarkerRejected(t *testing.T) {
	long := strings.Repeat("word ", 200) + "Please enable JavaScript to continue"
	r := Validate(resultWithText(long), "static-parse", 100, nil)
	if r.Valid {
		t.Fatal("expected invalid: content contains an incomplete-page marker")
	}
}

func TestValidate_NoEntryPassesCleanContent(t *testing.T) {
	long := strings.Repeat("real article content ", 50)
	r := Validate(resultWithText(long), "static-parse", 100, nil)
	if !r.Valid {
		t.Fatalf("expected valid, got reason %q", r.Reason)
	}
}

func TestValidate_LearnedValidatorURLPatternMatch(t *testing.T) {
	entry := &models.DomainEntry{
		Validators: []*models.ContentValidatorSpec{
			{URLPattern: "/article/", MustContainAny: []string{"byline"}},
		},
	}
	long := strings.Repeat("content without the marker ", 50)
	r := Validate(resultWithText(long), "static-parse", 100, entry)
	if r.Valid {
		t.Fatal("expected invalid: missing required byline marker")
	}
	if r.Matched == nil {
		t.Fatal("expected Matched to point at the learned validator")
	}
}

func TestValidate_LearnedValidatorFallbackWhenNoPatternMatches(t *testing.T) {
	entry := &models.DomainEntry{
		Validators: []*models.ContentValidatorSpec{
			{URLPattern: "", MustNotContain: []string{"paywall"}},
		},
	}
	long := strings.Repeat("content ", 50) + "paywall"
	r := Validate(resultWithText(long), "static-parse", 100, entry)
	if r.Valid {
		t.Fatal("expected invalid: domain-wide default validator forbids 'paywall'")
	}
}

func TestValidate_NonEmptyPatternWinsOverEmptyDefault(t *testing.T) {
	entry := &models.DomainEntry{
		Validators: []*models.ContentValidatorSpec{
			{URLPattern: "", MustContainAny: []string{"never-present-marker"}},
			{URLPattern: "/article/", ExpectedMinLength: 1},
		},
	}
	long := strings.Repeat("content ", 50)
	r := Validate(resultWithText(long), "static-parse", 100, entry)
	if !r.Valid {
		t.Fatalf("expected the specific /article/ pattern to win over the empty-pattern default, got reason %q", r.Reason)
	}
}

func TestApplySpec_MaxLengthExceeded(t *testing.T) {
	spec := &models.ContentValidatorSpec{ExpectedMaxLength: 10}
	r := applySpec(spec, strings.Repeat("x", 11))
	if r.Valid {
		t.Fatal("expected invalid: content longer than learned maximum")
	}
}

func TestApplySpec_MustContainAll(t *testing.T) {
	spec := &models.ContentValidatorSpec{MustContainAll: []string{"foo", "bar"}}
	if r := applySpec(spec, "foo only"); r.Valid {
		t.Fatal("expected invalid: missing 'bar'")
	}
	if r := applySpec(spec, "foo and bar both here"); !r.Valid {
		t.Fatalf("expected valid, got reason %q", r.Reason)
	}
}

func TestRecordOutcome(t *testing.T) {
	spec := &models.ContentValidatorSpec{}
	RecordOutcome(spec, true)
	RecordOutcome(spec, true)
	RecordOutcome(spec, false)
	if spec.SuccessCount != 2 || spec.FailureCount != 1 {
		t.Errorf("got success=%d failure=%d, want 2/1", spec.SuccessCount, spec.FailureCount)
	}
	// nil spec must be a no-op, not a panic.
	RecordOutcome(nil, true)
}

func TestFindMatchingValidator_NilEntry(t *testing.T) {
	if v := findMatchingValidator(nil, "https://example.com"); v != nil {
		t.Error("expected nil for a nil entry")
	}
}

func TestNewDomainEntry_HasInitializedTimestamps(t *testing.T) {
	now := time.Now()
	e := models.NewDomainEntry("example.com", now)
	if e.Domain != "example.com" {
		t.Errorf("domain = %q, want example.com", e.Domain)
	}
	if !e.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, now)
	}
}
