package strategy

import (
	"context"

	"github.com/use-agent/purify/cleaner"
	"github.com/use-agent/purify/models"
)

// staticParseStrategy is §4.6.4: strip boilerplate, prefer article > main >
// body, convert to markdown. Directly adapted from purify's
// cleaner.Cleaner, which already implements this via go-readability
// (boilerplate stripping, article/main/body preference) and
// html-to-markdown/v2 (deterministic HTML->MD mapping).
type staticParseStrategy struct {
	cleaner *cleaner.Cleaner
}

// NewStaticParseStrategy wraps a Cleaner as an extraction Strategy.
func NewStaticParseStrategy(c *cleaner.Cleaner) Strategy {
	return &staticParseStrategy{cleaner: c}
}

func (s *staticParseStrategy) Name() string { return "static-parse" }

func (s *staticParseStrategy) Extract(_ context.Context, rawURL, html string, opts Options) (*models.ContentResult, error) {
	resp, err := s.cleaner.Clean(html, rawURL, "markdown", "auto")
	if err != nil {
		return nil, err
	}

	return &models.ContentResult{
		Content: models.ContentOutput{
			Title:    resp.Metadata.Title,
			Text:     resp.Content,
			Markdown: resp.Content,
		},
		Meta: models.ResultMeta{
			URL:        rawURL,
			Strategy:   s.Name(),
			Confidence: models.ConfidenceMedium,
		},
	}, nil
}
