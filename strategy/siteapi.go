package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/use-agent/purify/httpclient"
	"github.com/use-agent/purify/models"
)

// jsonHijackPrefixes are stripped from API responses that guard against
// JSON-hijacking (Medium's feed API is the canonical example), per §4.6.1.
var jsonHijackPrefixes = []string{
	`])}while(1);</x>`,
	`while(1);`,
	`)]}',`,
	`)]}`,
}

func stripJSONHijackPrefix(body []byte) []byte {
	s := string(body)
	for _, p := range jsonHijackPrefixes {
		if strings.HasPrefix(s, p) {
			return []byte(strings.TrimPrefix(s, p))
		}
	}
	return body
}

// siteAPI is one site-specific API strategy, gated by URL shape.
type siteAPI struct {
	name       string
	match      func(u *url.URL) bool
	apiURL     func(u *url.URL) (string, error)
	format     func(body []byte, sourceURL string) (models.ContentOutput, error)
}

// SiteAPIStrategies builds the full site-specific API strategy set named
// in §4.6.1: Reddit, HackerNews, GitHub, Wikipedia, StackOverflow, NPM,
// PyPI, Dev.to, Medium, YouTube. Each is gated by a URL-shape test and
// calls the site's JSON/oEmbed endpoint.
func SiteAPIStrategies(http *httpclient.Client) []Strategy {
	apis := []siteAPI{
		redditAPI(), hackerNewsAPI(), githubAPI(), wikipediaAPI(),
		stackOverflowAPI(), npmAPI(), pypiAPI(), devToAPI(), mediumAPI(), youTubeAPI(),
	}
	out := make([]Strategy, 0, len(apis))
	for _, a := range apis {
		out = append(out, &siteAPIStrategy{api: a, http: http})
	}
	return out
}

type siteAPIStrategy struct {
	api  siteAPI
	http *httpclient.Client
}

func (s *siteAPIStrategy) Name() string { return "api:" + s.api.name }

func (s *siteAPIStrategy) Extract(ctx context.Context, rawURL, html string, opts Options) (*models.ContentResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil || !s.api.match(u) {
		return nil, nil
	}

	apiURL, err := s.api.apiURL(u)
	if err != nil {
		return nil, nil // URL shape matched but couldn't be parsed further (e.g. channel page)
	}

	res, err := s.http.Fetch(ctx, apiURL, httpclient.Options{Timeout: 0})
	if err != nil {
		return nil, err
	}
	body := stripJSONHijackPrefix([]byte(res.BodyText))

	content, err := s.api.format(body, rawURL)
	if err != nil {
		return nil, err
	}

	return &models.ContentResult{
		Content: content,
		Meta: models.ResultMeta{
			URL:        rawURL,
			FinalURL:   apiURL,
			Strategy:   s.Name(),
			Confidence: models.ConfidenceHigh,
		},
	}, nil
}

// --- Reddit --------------------------------------------------------------

func redditAPI() siteAPI {
	return siteAPI{
		name: "reddit",
		match: func(u *url.URL) bool {
			return strings.Contains(u.Hostname(), "reddit.com") && strings.Contains(u.Path, "/comments/")
		},
		apiURL: func(u *url.URL) (string, error) {
			return strings.TrimSuffix(u.Scheme+"://"+u.Host+u.Path, "/") + ".json", nil
		},
		format: func(body []byte, sourceURL string) (models.ContentOutput, error) {
			var listings []struct {
				Data struct {
					Children []struct {
						Data struct {
							Title    string `json:"title"`
							Selftext string `json:"selftext"`
							Author   string `json:"author"`
						} `json:"data"`
					} `json:"children"`
				} `json:"data"`
			}
			if err := json.Unmarshal(body, &listings); err != nil || len(listings) == 0 || len(listings[0].Data.Children) == 0 {
				return models.ContentOutput{}, fmt.Errorf("strategy: reddit response shape mismatch")
			}
			post := listings[0].Data.Children[0].Data
			return models.ContentOutput{
				Title:      post.Title,
				Text:       post.Selftext,
				Markdown:   post.Selftext,
				Structured: map[string]interface{}{"author": post.Author},
			}, nil
		},
	}
}

// --- Hacker News -----------------------------------------------------------

func hackerNewsAPI() siteAPI {
	idPattern := regexp.MustCompile(`[?&]id=(\d+)`)
	return siteAPI{
		name: "hackernews",
		match: func(u *url.URL) bool {
			return strings.Contains(u.Hostname(), "news.ycombinator.com") && idPattern.MatchString(u.RawQuery)
		},
		apiURL: func(u *url.URL) (string, error) {
			m := idPattern.FindStringSubmatch(u.RawQuery)
			if len(m) < 2 {
				return "", fmt.Errorf("strategy: no item id")
			}
			return fmt.Sprintf("https://hacker-news.firebaseio.com/v0/item/%s.json", m[1]), nil
		},
		format: func(body []byte, sourceURL string) (models.ContentOutput, error) {
			var item struct {
				Title string `json:"title"`
				Text  string `json:"text"`
				By    string `json:"by"`
				URL   string `json:"url"`
			}
			if err := json.Unmarshal(body, &item); err != nil || item.Title == "" {
				return models.ContentOutput{}, fmt.Errorf("strategy: hackernews response shape mismatch")
			}
			return models.ContentOutput{
				Title:      item.Title,
				Text:       item.Text,
				Markdown:   item.Text,
				Structured: map[string]interface{}{"author": item.By, "externalUrl": item.URL},
			}, nil
		},
	}
}

// --- GitHub ----------------------------------------------------------------

func githubAPI() siteAPI {
	repoPattern := regexp.MustCompile(`^/([^/]+)/([^/]+)/?$`)
	return siteAPI{
		name: "github",
		match: func(u *url.URL) bool {
			return u.Hostname() == "github.com" && repoPattern.MatchString(u.Path)
		},
		apiURL: func(u *url.URL) (string, error) {
			m := repoPattern.FindStringSubmatch(u.Path)
			if len(m) < 3 {
				return "", fmt.Errorf("strategy: not a repo URL")
			}
			return fmt.Sprintf("https://api.github.com/repos/%s/%s", m[1], m[2]), nil
		},
		format: func(body []byte, sourceURL string) (models.ContentOutput, error) {
			var repo struct {
				FullName    string `json:"full_name"`
				Description string `json:"description"`
				Language    string `json:"language"`
				Stars       int    `json:"stargazers_count"`
			}
			if err := json.Unmarshal(body, &repo); err != nil || repo.FullName == "" {
				return models.ContentOutput{}, fmt.Errorf("strategy: github response shape mismatch")
			}
			text := repo.Description
			return models.ContentOutput{
				Title:    repo.FullName,
				Text:     text,
				Markdown: text,
				Structured: map[string]interface{}{
					"language": repo.Language, "stars": repo.Stars,
				},
			}, nil
		},
	}
}

// --- Wikipedia ---------------------------------------------------------------

func wikipediaAPI() siteAPI {
	return siteAPI{
		name: "wikipedia",
		match: func(u *url.URL) bool {
			return strings.Contains(u.Hostname(), "wikipedia.org") && strings.Contains(u.Path, "/wiki/")
		},
		apiURL: func(u *url.URL) (string, error) {
			title := strings.TrimPrefix(u.Path, "/wiki/")
			return fmt.Sprintf("https://%s/api/rest_v1/page/summary/%s", u.Hostname(), title), nil
		},
		format: func(body []byte, sourceURL string) (models.ContentOutput, error) {
			var page struct {
				Title   string `json:"title"`
				Extract string `json:"extract"`
			}
			if err := json.Unmarshal(body, &page); err != nil || page.Title == "" {
				return models.ContentOutput{}, fmt.Errorf("strategy: wikipedia response shape mismatch")
			}
			return models.ContentOutput{Title: page.Title, Text: page.Extract, Markdown: page.Extract}, nil
		},
	}
}

// --- StackOverflow -----------------------------------------------------------

func stackOverflowAPI() siteAPI {
	qPattern := regexp.MustCompile(`/questions/(\d+)`)
	return siteAPI{
		name: "stackoverflow",
		match: func(u *url.URL) bool {
			return strings.Contains(u.Hostname(), "stackoverflow.com") && qPattern.MatchString(u.Path)
		},
		apiURL: func(u *url.URL) (string, error) {
			m := qPattern.FindStringSubmatch(u.Path)
			if len(m) < 2 {
				return "", fmt.Errorf("strategy: no question id")
			}
			return fmt.Sprintf("https://api.stackexchange.com/2.3/questions/%s?site=stackoverflow&filter=withbody", m[1]), nil
		},
		format: func(body []byte, sourceURL string) (models.ContentOutput, error) {
			var resp struct {
				Items []struct {
					Title string `json:"title"`
					Body  string `json:"body"`
				} `json:"items"`
			}
			if err := json.Unmarshal(body, &resp); err != nil || len(resp.Items) == 0 {
				return models.ContentOutput{}, fmt.Errorf("strategy: stackoverflow response shape mismatch")
			}
			item := resp.Items[0]
			return models.ContentOutput{Title: item.Title, Text: item.Body, Markdown: item.Body}, nil
		},
	}
}

// --- NPM ---------------------------------------------------------------------

func npmAPI() siteAPI {
	pkgPattern := regexp.MustCompile(`^/package/(.+)$`)
	return siteAPI{
		name: "npm",
		match: func(u *url.URL) bool {
			return u.Hostname() == "www.npmjs.com" && pkgPattern.MatchString(u.Path)
		},
		apiURL: func(u *url.URL) (string, error) {
			m := pkgPattern.FindStringSubmatch(u.Path)
			if len(m) < 2 {
				return "", fmt.Errorf("strategy: no package name")
			}
			return "https://registry.npmjs.org/" + m[1], nil
		},
		format: func(body []byte, sourceURL string) (models.ContentOutput, error) {
			var pkg struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := json.Unmarshal(body, &pkg); err != nil || pkg.Name == "" {
				return models.ContentOutput{}, fmt.Errorf("strategy: npm response shape mismatch")
			}
			return models.ContentOutput{Title: pkg.Name, Text: pkg.Description, Markdown: pkg.Description}, nil
		},
	}
}

// --- PyPI ---------------------------------------------------------------------

func pypiAPI() siteAPI {
	pkgPattern := regexp.MustCompile(`^/project/([^/]+)/?`)
	return siteAPI{
		name: "pypi",
		match: func(u *url.URL) bool {
			return u.Hostname() == "pypi.org" && pkgPattern.MatchString(u.Path)
		},
		apiURL: func(u *url.URL) (string, error) {
			m := pkgPattern.FindStringSubmatch(u.Path)
			if len(m) < 2 {
				return "", fmt.Errorf("strategy: no project name")
			}
			return "https://pypi.org/pypi/" + m[1] + "/json", nil
		},
		format: func(body []byte, sourceURL string) (models.ContentOutput, error) {
			var resp struct {
				Info struct {
					Name    string `json:"name"`
					Summary string `json:"summary"`
				} `json:"info"`
			}
			if err := json.Unmarshal(body, &resp); err != nil || resp.Info.Name == "" {
				return models.ContentOutput{}, fmt.Errorf("strategy: pypi response shape mismatch")
			}
			return models.ContentOutput{Title: resp.Info.Name, Text: resp.Info.Summary, Markdown: resp.Info.Summary}, nil
		},
	}
}

// --- Dev.to --------------------------------------------------------------------

func devToAPI() siteAPI {
	slugPattern := regexp.MustCompile(`^/[^/]+/([^/]+)/?$`)
	return siteAPI{
		name: "devto",
		match: func(u *url.URL) bool {
			return u.Hostname() == "dev.to" && slugPattern.MatchString(u.Path)
		},
		apiURL: func(u *url.URL) (string, error) {
			m := slugPattern.FindStringSubmatch(u.Path)
			if len(m) < 2 {
				return "", fmt.Errorf("strategy: no article slug")
			}
			return "https://dev.to/api/articles/" + m[1], nil
		},
		format: func(body []byte, sourceURL string) (models.ContentOutput, error) {
			var article struct {
				Title    string `json:"title"`
				BodyMD   string `json:"body_markdown"`
			}
			if err := json.Unmarshal(body, &article); err != nil || article.Title == "" {
				return models.ContentOutput{}, fmt.Errorf("strategy: dev.to response shape mismatch")
			}
			return models.ContentOutput{Title: article.Title, Text: article.BodyMD, Markdown: article.BodyMD}, nil
		},
	}
}

// --- Medium ----------------------------------------------------------------
// Medium's public post API is guarded by a JSON-hijacking prefix, stripped
// by stripJSONHijackPrefix before this formatter sees the body.

func mediumAPI() siteAPI {
	return siteAPI{
		name: "medium",
		match: func(u *url.URL) bool {
			return strings.HasSuffix(u.Hostname(), "medium.com")
		},
		apiURL: func(u *url.URL) (string, error) {
			return u.Scheme + "://" + u.Host + u.Path + "?format=json", nil
		},
		format: func(body []byte, sourceURL string) (models.ContentOutput, error) {
			var payload struct {
				Payload struct {
					Value struct {
						Title    string `json:"title"`
						Subtitle string `json:"subtitle"`
					} `json:"value"`
				} `json:"payload"`
			}
			if err := json.Unmarshal(body, &payload); err != nil || payload.Payload.Value.Title == "" {
				return models.ContentOutput{}, fmt.Errorf("strategy: medium response shape mismatch")
			}
			v := payload.Payload.Value
			return models.ContentOutput{Title: v.Title, Text: v.Subtitle, Markdown: v.Subtitle}, nil
		},
	}
}

// --- YouTube -----------------------------------------------------------------
// Video ID is parsed from ?v=, youtu.be/ID, /embed/ID, /shorts/ID, and
// youtube-nocookie.com/embed/ID; channel/profile URLs return null (no
// apiURL match), per §4.6.1.

func youTubeAPI() siteAPI {
	return siteAPI{
		name:   "youtube",
		match:  isYouTubeVideoURL,
		apiURL: youTubeOEmbedURL,
		format: func(body []byte, sourceURL string) (models.ContentOutput, error) {
			var oembed struct {
				Title        string `json:"title"`
				AuthorName   string `json:"author_name"`
				ProviderName string `json:"provider_name"`
			}
			if err := json.Unmarshal(body, &oembed); err != nil || oembed.Title == "" {
				return models.ContentOutput{}, fmt.Errorf("strategy: youtube oembed shape mismatch")
			}
			return models.ContentOutput{
				Title:      oembed.Title,
				Structured: map[string]interface{}{"author": oembed.AuthorName},
			}, nil
		},
	}
}

func isYouTubeVideoURL(u *url.URL) bool {
	id, _ := extractYouTubeVideoID(u)
	return id != ""
}

func youTubeOEmbedURL(u *url.URL) (string, error) {
	id, ok := extractYouTubeVideoID(u)
	if !ok {
		return "", fmt.Errorf("strategy: not a youtube video URL")
	}
	watchURL := "https://www.youtube.com/watch?v=" + id
	return "https://www.youtube.com/oembed?url=" + url.QueryEscape(watchURL) + "&format=json", nil
}

func extractYouTubeVideoID(u *url.URL) (string, bool) {
	host := u.Hostname()
	switch {
	case host == "youtu.be":
		id := strings.Trim(u.Path, "/")
		return id, id != ""
	case strings.Contains(host, "youtube.com") || strings.Contains(host, "youtube-nocookie.com"):
		if v := u.Query().Get("v"); v != "" {
			return v, true
		}
		for _, prefix := range []string{"/embed/", "/shorts/"} {
			if strings.HasPrefix(u.Path, prefix) {
				id := strings.TrimPrefix(u.Path, prefix)
				id = strings.SplitN(id, "/", 2)[0]
				if id != "" {
					return id, true
				}
			}
		}
	}
	return "", false
}
