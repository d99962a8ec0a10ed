// Package validator implements the Content Validator (SPEC_FULL.md §4.7):
// the gate the Content Intelligence Pipeline runs every candidate result
// through before accepting it.
//
// Grounded on cleaner/readability.go's minContentLength threshold idiom,
// generalized from a single package constant into a per-call floor (with a
// package default) plus learned per-domain overrides sourced from the Knowledge
// Store's models.ContentValidatorSpec entries.
package validator

import (
	"strings"

	"github.com/use-agent/purify/models"
)

// defaultMinContentLength is the fallback floor for non-API strategies.
// API strategies (site-API, framework-data) typically return small, dense
// JSON payloads and are expected to pass a caller-supplied override instead.
const defaultMinContentLength = 500

// incompleteMarkers are generic signs a page rendered before it finished
// loading. "Loading" is deliberately kept as a bare substring match even
// though it also matches legitimate copy like "Loading dock hours" — this
// mirrors a known false-positive in the source behavior and is not "fixed"
// here (spec.md §9 open question #2).
var incompleteMarkers = []string{
	"Loading",
	"Please enable JavaScript",
	"<body></body>",
}

// Result is the outcome of validating a single candidate.
type Result struct {
	Valid  bool
	Reason string
	// Matched is the learned validator that judged this candidate, if any.
	Matched *models.ContentValidatorSpec
}

// Validate checks result against minLength (0 means the package default,
// defaultMinContentLength; strategyName is not consulted), then against any
// learned validator in entry whose URLPattern matches result.Meta.FinalURL,
// then against the generic incomplete-content markers.
//
// entry may be nil (no learned state yet for this domain).
func Validate(result *models.ContentResult, strategyName string, minLength int, entry *models.DomainEntry) Result {
	text := result.Content.Text
	if text == "" {
		text = result.Content.Markdown
	}

	floor := minLength
	if floor <= 0 {
		floor = defaultMinContentLength
	}
	if len(text) < floor {
		return Result{Valid: false, Reason: "content shorter than minimum length"}
	}

	spec := findMatchingValidator(entry, result.Meta.FinalURL)
	if spec != nil {
		if r := applySpec(spec, text); !r.Valid {
			r.Matched = spec
			return r
		}
	}

	if marker, ok := containsIncompleteMarker(text); ok {
		return Result{Valid: false, Reason: "content contains incomplete-page marker: " + marker}
	}

	return Result{Valid: true, Matched: spec}
}

// findMatchingValidator returns the first learned validator in entry whose
// URLPattern is a substring of finalURL, or whose URLPattern is empty
// (a domain-wide default). Exact-over-prefix: a non-empty pattern match
// wins over an empty-pattern default.
func findMatchingValidator(entry *models.DomainEntry, finalURL string) *models.ContentValidatorSpec {
	if entry == nil {
		return nil
	}
	var fallback *models.ContentValidatorSpec
	for _, v := range entry.Validators {
		if v.URLPattern == "" {
			if fallback == nil {
				fallback = v
			}
			continue
		}
		if strings.Contains(finalURL, v.URLPattern) {
			return v
		}
	}
	return fallback
}

func applySpec(spec *models.ContentValidatorSpec, text string) Result {
	if spec.ExpectedMinLength > 0 && len(text) < spec.ExpectedMinLength {
		return Result{Valid: false, Reason: "content shorter than learned minimum"}
	}
	if spec.ExpectedMaxLength > 0 && len(text) > spec.ExpectedMaxLength {
		return Result{Valid: false, Reason: "content longer than learned maximum"}
	}
	if len(spec.MustContainAny) > 0 {
		found := false
		for _, s := range spec.MustContainAny {
			if strings.Contains(text, s) {
				found = true
				break
			}
		}
		if !found {
			return Result{Valid: false, Reason: "content missing any required marker"}
		}
	}
	for _, s := range spec.MustContainAll {
		if !strings.Contains(text, s) {
			return Result{Valid: false, Reason: "content missing required marker: " + s}
		}
	}
	for _, s := range spec.MustNotContain {
		if strings.Contains(text, s) {
			return Result{Valid: false, Reason: "content contains forbidden marker: " + s}
		}
	}
	return Result{Valid: true}
}

func containsIncompleteMarker(text string) (string, bool) {
	for _, m := range incompleteMarkers {
		if strings.Contains(text, m) {
			return m, true
		}
	}
	return "", false
}

// RecordOutcome updates the matched validator's counters. Callers invoke
// this inside a knowledge.Store.WithWrite closure so the mutation is
// serialized with every other writer of the domain entry.
func RecordOutcome(spec *models.ContentValidatorSpec, valid bool) {
	if spec == nil {
		return
	}
	if valid {
		spec.SuccessCount++
	} else {
		spec.FailureCount++
	}
}
