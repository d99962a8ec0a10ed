package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"

	"github.com/use-agent/purify/models"
)

// embeddingsRequest/-Response mirror OpenAI's /embeddings endpoint, adapted
// from llm/openai.go's chatRequest/chatResponse shape (same
// marshal-request/unmarshal-response/classify-error structure, different
// endpoint and payload).
type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

type embeddingsErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// OpenAIMatcher is a Matcher backed by a real embedding provider, for
// deployments that configure an API key. Vectors are cached per pattern key
// since recomputing an embedding per request would be wasteful and slow.
type OpenAIMatcher struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string

	mu      sync.RWMutex
	indexed []openAIIndexed
}

type openAIIndexed struct {
	domain  string
	pattern *models.ApiPattern
	vector  []float64
}

// NewOpenAIMatcher creates a Matcher that calls baseURL+"/embeddings" with
// the given model and API key. httpClient may be nil to use
// http.DefaultClient.
func NewOpenAIMatcher(httpClient *http.Client, apiKey, model, baseURL string) *OpenAIMatcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIMatcher{httpClient: httpClient, apiKey: apiKey, model: model, baseURL: baseURL}
}

func (m *OpenAIMatcher) Index(domain string, pattern *models.ApiPattern) {
	vec, err := m.embed(context.Background(), Signature(pattern.Endpoint))
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, ip := range m.indexed {
		if ip.domain == domain && ip.pattern.Key() == pattern.Key() {
			m.indexed[i].vector = vec
			m.indexed[i].pattern = pattern
			return
		}
	}
	m.indexed = append(m.indexed, openAIIndexed{domain: domain, pattern: pattern, vector: vec})
}

func (m *OpenAIMatcher) Search(fullURL, domain string, topK int) []Match {
	target, err := m.embed(context.Background(), Signature(fullURL))
	if err != nil {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []Match
	for _, ip := range m.indexed {
		if domain != "" && ip.domain != domain {
			continue
		}
		sim := cosineSimilarity(target, ip.vector)
		candidates = append(candidates, Match{
			Pattern:    ip.pattern,
			Domain:     ip.domain,
			Similarity: scoreByRecency(sim, ip.pattern),
		})
	}

	sortMatchesDesc(candidates)
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates
}

func (m *OpenAIMatcher) embed(ctx context.Context, text string) ([]float64, error) {
	reqBody := embeddingsRequest{Model: m.model, Input: []string{text}}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	endpoint := strings.TrimRight(m.baseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create embeddings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeServerError, "embeddings request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeServerError, "failed to read embeddings response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyEmbeddingsError(resp.StatusCode, respBody)
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, models.NewFetchError(models.ErrCodeServerError, "failed to parse embeddings response", err)
	}
	if len(parsed.Data) == 0 {
		return nil, models.NewFetchError(models.ErrCodeServerError, "embeddings response had no data", nil)
	}
	return parsed.Data[0].Embedding, nil
}

func classifyEmbeddingsError(statusCode int, body []byte) *models.FetchError {
	var errResp embeddingsErrorResponse
	msg := "embeddings API error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return models.NewFetchError(models.ErrCodeAuthRequired, msg, nil)
	case statusCode == http.StatusTooManyRequests:
		return models.NewFetchError(models.ErrCodeRateLimited, msg, nil)
	default:
		return models.NewFetchError(models.ErrCodeServerError, fmt.Sprintf("embeddings API returned %d: %s", statusCode, msg), nil)
	}
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
