package strategy

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/purify/models"
)

// StructuredDataStrategies builds the JSON-LD and OpenGraph strategies of
// §4.6.3, grounded on purify's cleaner/extract.go ExtractOGMetadata
// (adapted here to feed a ContentResult instead of a response's
// OGMetadata side-channel field) and goquery's attribute-prefix selectors.
func StructuredDataStrategies() []Strategy {
	return []Strategy{&jsonLDStrategy{}, &openGraphStrategy{}}
}

type jsonLDStrategy struct{}

func (s *jsonLDStrategy) Name() string { return "structured:json-ld" }

// Extract parses every application/ld+json block; the first block with a
// "name" or "headline" field wins for the title, per §4.6.3.
func (s *jsonLDStrategy) Extract(_ context.Context, rawURL, html string, _ Options) (*models.ContentResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var title string
	var structured map[string]interface{}
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var block map[string]interface{}
		if err := json.Unmarshal([]byte(sel.Text()), &block); err != nil {
			return true
		}
		if structured == nil {
			structured = block
		}
		if title == "" {
			if name, ok := block["name"].(string); ok && name != "" {
				title = name
			} else if headline, ok := block["headline"].(string); ok && headline != "" {
				title = headline
			}
		}
		return title == ""
	})

	if structured == nil {
		return nil, nil
	}

	description, _ := structured["description"].(string)
	return &models.ContentResult{
		Content: models.ContentOutput{
			Title:      title,
			Text:       description,
			Markdown:   description,
			Structured: structured,
		},
		Meta: models.ResultMeta{URL: rawURL, Strategy: s.Name(), Confidence: models.ConfidenceMedium},
	}, nil
}

type openGraphStrategy struct{}

func (s *openGraphStrategy) Name() string { return "structured:opengraph" }

func (s *openGraphStrategy) Extract(_ context.Context, rawURL, html string, _ Options) (*models.ContentResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	og := map[string]string{}
	doc.Find(`meta[property^="og:"]`).Each(func(_ int, sel *goquery.Selection) {
		prop, _ := sel.Attr("property")
		content, _ := sel.Attr("content")
		if prop == "" || content == "" {
			return
		}
		og[strings.TrimPrefix(prop, "og:")] = content
	})

	if len(og) == 0 {
		return nil, nil
	}

	structured := make(map[string]interface{}, len(og))
	for k, v := range og {
		structured[k] = v
	}

	return &models.ContentResult{
		Content: models.ContentOutput{
			Title:      og["title"],
			Text:       og["description"],
			Markdown:   og["description"],
			Structured: structured,
		},
		Meta: models.ResultMeta{URL: rawURL, Strategy: s.Name(), Confidence: models.ConfidenceMedium},
	}, nil
}
