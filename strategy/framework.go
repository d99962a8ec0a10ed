package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/use-agent/purify/models"
)

// frameworkSpec locates a framework's embedded JSON blob in server-rendered
// HTML and walks it for text-bearing leaves, per §4.6.2.
type frameworkSpec struct {
	name    string
	locate  func(html string) (jsonText string, ok bool)
}

// FrameworkDataStrategies builds the Next.js/Nuxt/Angular-Universal/
// VitePress/VuePress/Gatsby strategy set.
func FrameworkDataStrategies() []Strategy {
	specs := []frameworkSpec{
		nextDataSpec(), nuxtSpec(), angularUniversalSpec(),
		vitePressSpec(), vuePressSpec(), gatsbySpec(),
	}
	out := make([]Strategy, 0, len(specs))
	for _, s := range specs {
		out = append(out, &frameworkStrategy{spec: s})
	}
	return out
}

type frameworkStrategy struct{ spec frameworkSpec }

func (s *frameworkStrategy) Name() string { return "framework:" + s.spec.name }

func (s *frameworkStrategy) Extract(_ context.Context, rawURL, html string, _ Options) (*models.ContentResult, error) {
	jsonText, ok := s.spec.locate(html)
	if !ok {
		return nil, nil
	}
	var value interface{}
	if err := json.Unmarshal([]byte(jsonText), &value); err != nil {
		return nil, fmt.Errorf("strategy: %s: invalid embedded JSON: %w", s.spec.name, err)
	}

	leaves := walkTextLeaves(value, minLeafLength)
	text := strings.Join(leaves, "\n\n")
	if text == "" {
		return nil, fmt.Errorf("strategy: %s: no text leaves found in embedded data", s.spec.name)
	}

	return &models.ContentResult{
		Content: models.ContentOutput{Text: text, Markdown: text},
		Meta: models.ResultMeta{
			URL:        rawURL,
			Strategy:   s.Name(),
			Confidence: models.ConfidenceMedium,
		},
	}, nil
}

// minLeafLength is the length threshold below which a string leaf is
// considered noise (ids, flags, short labels) rather than content.
const minLeafLength = 40

// walkTextLeaves recurses through a decoded JSON value collecting string
// leaves longer than minLen, in traversal order, per §4.6.2.
func walkTextLeaves(v interface{}, minLen int) []string {
	var out []string
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch t := v.(type) {
		case string:
			if len(t) > minLen {
				out = append(out, t)
			}
		case []interface{}:
			for _, e := range t {
				walk(e)
			}
		case map[string]interface{}:
			for _, e := range t {
				walk(e)
			}
		}
	}
	walk(v)
	return out
}

var (
	nextDataRe  = regexp.MustCompile(`(?s)<script id="__NEXT_DATA__"[^>]*>(.*?)</script>`)
	nuxtRe      = regexp.MustCompile(`(?s)window\.__NUXT__\s*=\s*(\{.*?\});?\s*</script>`)
	angularRe   = regexp.MustCompile(`(?s)<script[^>]+id="(?:serverApp-state|transfer-state|ng-state)"[^>]*>(.*?)</script>`)
	vitePressRe = regexp.MustCompile(`(?s)__VP_ROUTE_DATA__\s*=\s*(\{.*?\});?\s*</script>`)
	vuePressRe  = regexp.MustCompile(`(?s)__VUEPRESS_SSR_CONTEXT__\s*=\s*(\{.*?\});?\s*</script>`)
	gatsbyRe    = regexp.MustCompile(`(?s)window\.___GATSBY\s*=\s*(\{.*?\});?\s*</script>`)
)

func nextDataSpec() frameworkSpec {
	return frameworkSpec{name: "nextjs", locate: regexLocator(nextDataRe)}
}

func nuxtSpec() frameworkSpec {
	return frameworkSpec{name: "nuxt", locate: regexLocator(nuxtRe)}
}

func angularUniversalSpec() frameworkSpec {
	return frameworkSpec{name: "angular-universal", locate: regexLocator(angularRe)}
}

func vitePressSpec() frameworkSpec {
	return frameworkSpec{name: "vitepress", locate: regexLocator(vitePressRe)}
}

func vuePressSpec() frameworkSpec {
	return frameworkSpec{name: "vuepress", locate: regexLocator(vuePressRe)}
}

func gatsbySpec() frameworkSpec {
	return frameworkSpec{name: "gatsby", locate: regexLocator(gatsbyRe)}
}

func regexLocator(re *regexp.Regexp) func(string) (string, bool) {
	return func(html string) (string, bool) {
		m := re.FindStringSubmatch(html)
		if len(m) < 2 {
			return "", false
		}
		return strings.TrimSpace(m[1]), true
	}
}
