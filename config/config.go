package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	Browser      BrowserConfig
	Scraper      ScraperConfig
	Auth         AuthConfig
	RateLimit    RateLimitConfig
	Cache        CacheConfig
	Log          LogConfig
	AdaptivePool AdaptivePoolConfig

	KnowledgeStore KnowledgeStoreConfig
	HTTPClient     HTTPClientConfig
	Sandbox        SandboxConfig
	Orchestrator   OrchestratorConfig
	Learning       LearningConfig
	SemanticMatcher SemanticMatcherConfig
	Webhook        WebhookConfig
}

// WebhookConfig controls delivery of extraction-success events. Empty URL
// disables delivery entirely.
type WebhookConfig struct {
	URL    string
	Secret string
}

// KnowledgeStoreConfig controls the Learning Engine's persistence layer.
type KnowledgeStoreConfig struct {
	// Path is the JSON document path for persisted domain entries.
	Path string // default: "./data/knowledge.json"

	// SaveDebounce coalesces bursts of writes into one flush.
	SaveDebounce time.Duration // default: 1s
}

// HTTPClientConfig controls the Chrome-fingerprinted HTTP Client Wrapper.
type HTTPClientConfig struct {
	DefaultTimeout time.Duration // default: 30s
	MaxRedirects   int           // default: 5
	DefaultProxy   string
}

// SandboxConfig controls the isolated JS execution environment. The
// per-script timeout mirrors sandbox.perScriptTimeout's hardcoded 5s — kept
// here so it is visible as a documented knob even though the runtime does
// not yet accept it as a constructor argument.
type SandboxConfig struct {
	ScriptTimeout time.Duration // default: 5s
}

// OrchestratorConfig controls the Tiered Fetch Orchestrator.
type OrchestratorConfig struct {
	// RequestsPerSecond/Burst size the per-domain token bucket.
	RequestsPerSecond float64 // default: 2
	Burst             int     // default: 5

	// DefaultMaxLatencyMs is loaded from the environment but not applied by
	// any caller; only a request's max_latency_ms bounds the tier cascade.
	DefaultMaxLatencyMs int // default: 0 (unbounded)
}

// LearningConfig mirrors the Learning Engine's hardcoded constants
// (SPEC_FULL.md §4.10), including the deliberately asymmetric
// selector-priority deltas (§9 open question #1). learning.New does not
// take these values; the engine always runs with its own constants.
type LearningConfig struct {
	GracePeriodDays         int     // default: 14
	DecayRatePerWeek        float64 // default: 0.1
	SelectorPriorityBump    int     // default: 1
	SelectorPriorityPenalty int     // default: 5
}

// SemanticMatcherConfig selects and configures the optional Semantic
// Pattern Matcher backend.
type SemanticMatcherConfig struct {
	// Backend is "simhash" (default, local, no network) or "openai".
	Backend string

	OpenAIAPIKey  string
	OpenAIModel   string // default: "text-embedding-3-small"
	OpenAIBaseURL string // default: "https://api.openai.com/v1"

	MinSimilarity float64 // default: 0.75
}

// AdaptivePoolConfig controls the adaptive page pool sizing.
type AdaptivePoolConfig struct {
	// MinPages is the minimum number of pages kept in the pool.
	MinPages int // default: 3

	// HardMax is the absolute maximum number of pages.
	HardMax int // default: 20

	// MemThreshold is the heap memory fraction (0.0-1.0) above which the pool shrinks.
	MemThreshold float64 // default: 0.9

	// ScaleStep is the fraction of pool size to grow or shrink per interval.
	ScaleStep float64 // default: 0.05
}

// CacheConfig controls the scrape response cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached responses.
	MaxEntries int // default: 1000
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// MaxPages is the page pool capacity (max concurrent tabs).
	MaxPages int // default: 10

	// DefaultProxy is the default proxy URL for all requests.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string
}

// ScraperConfig controls scraping behavior.
type ScraperConfig struct {
	// DefaultTimeout is the per-request timeout.
	DefaultTimeout time.Duration // default: 30s

	// MaxTimeout is the maximum allowed timeout from the client.
	MaxTimeout time.Duration // default: 120s

	// NavigationTimeout is the max time for page.Navigate alone.
	NavigationTimeout time.Duration // default: 15s

	// BlockedResourceTypes lists resource types to block.
	// default: ["Image", "Stylesheet", "Font", "Media"]
	BlockedResourceTypes []string
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys (for MVP; replace with DB later).
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("FETCHENGINE_HOST", "0.0.0.0"),
			Port: envIntOr("FETCHENGINE_PORT", 8080),
			Mode: envOr("FETCHENGINE_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:     envBoolOr("FETCHENGINE_HEADLESS", true),
			MaxPages:     envIntOr("FETCHENGINE_MAX_PAGES", 10),
			DefaultProxy: os.Getenv("FETCHENGINE_PROXY"),
			NoSandbox:    envBoolOr("FETCHENGINE_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("FETCHENGINE_BROWSER_BIN"),
		},
		Scraper: ScraperConfig{
			DefaultTimeout:    envDurationOr("FETCHENGINE_DEFAULT_TIMEOUT", 30*time.Second),
			MaxTimeout:        envDurationOr("FETCHENGINE_MAX_TIMEOUT", 120*time.Second),
			NavigationTimeout: envDurationOr("FETCHENGINE_NAV_TIMEOUT", 15*time.Second),
			BlockedResourceTypes: envSliceOr("FETCHENGINE_BLOCKED_RESOURCES", []string{
				"Image", "Stylesheet", "Font", "Media",
			}),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("FETCHENGINE_AUTH_ENABLED", true),
			APIKeys: envSliceOr("FETCHENGINE_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("FETCHENGINE_RATE_RPS", 5.0),
			Burst:             envIntOr("FETCHENGINE_RATE_BURST", 10),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("CACHE_MAX_ENTRIES", 1000),
		},
		Log: LogConfig{
			Level:  envOr("FETCHENGINE_LOG_LEVEL", "info"),
			Format: envOr("FETCHENGINE_LOG_FORMAT", "json"),
		},
		AdaptivePool: AdaptivePoolConfig{
			MinPages:     envIntOr("FETCHENGINE_MIN_PAGES", 3),
			HardMax:      envIntOr("FETCHENGINE_HARD_MAX_PAGES", 20),
			MemThreshold: envFloatOr("FETCHENGINE_MEM_THRESHOLD", 0.9),
			ScaleStep:    envFloatOr("FETCHENGINE_SCALE_STEP", 0.05),
		},
		KnowledgeStore: KnowledgeStoreConfig{
			Path:         envOr("FETCHENGINE_KNOWLEDGE_PATH", "./data/knowledge.json"),
			SaveDebounce: envDurationOr("FETCHENGINE_KNOWLEDGE_DEBOUNCE", time.Second),
		},
		HTTPClient: HTTPClientConfig{
			DefaultTimeout: envDurationOr("FETCHENGINE_HTTP_CLIENT_TIMEOUT", 30*time.Second),
			MaxRedirects:   envIntOr("FETCHENGINE_HTTP_CLIENT_MAX_REDIRECTS", 5),
			DefaultProxy:   os.Getenv("FETCHENGINE_HTTP_CLIENT_PROXY"),
		},
		Sandbox: SandboxConfig{
			ScriptTimeout: envDurationOr("FETCHENGINE_SANDBOX_SCRIPT_TIMEOUT", 5*time.Second),
		},
		Orchestrator: OrchestratorConfig{
			RequestsPerSecond:   envFloatOr("FETCHENGINE_ORCHESTRATOR_RPS", 2.0),
			Burst:               envIntOr("FETCHENGINE_ORCHESTRATOR_BURST", 5),
			DefaultMaxLatencyMs: envIntOr("FETCHENGINE_ORCHESTRATOR_MAX_LATENCY_MS", 0),
		},
		Learning: LearningConfig{
			GracePeriodDays:         envIntOr("FETCHENGINE_LEARNING_GRACE_PERIOD_DAYS", 14),
			DecayRatePerWeek:        envFloatOr("FETCHENGINE_LEARNING_DECAY_RATE_PER_WEEK", 0.1),
			SelectorPriorityBump:    envIntOr("FETCHENGINE_LEARNING_SELECTOR_BUMP", 1),
			SelectorPriorityPenalty: envIntOr("FETCHENGINE_LEARNING_SELECTOR_PENALTY", 5),
		},
		SemanticMatcher: SemanticMatcherConfig{
			Backend:       envOr("FETCHENGINE_SEMANTIC_BACKEND", "simhash"),
			OpenAIAPIKey:  os.Getenv("FETCHENGINE_SEMANTIC_OPENAI_API_KEY"),
			OpenAIModel:   envOr("FETCHENGINE_SEMANTIC_OPENAI_MODEL", "text-embedding-3-small"),
			OpenAIBaseURL: envOr("FETCHENGINE_SEMANTIC_OPENAI_BASE_URL", "https://api.openai.com/v1"),
			MinSimilarity: envFloatOr("FETCHENGINE_SEMANTIC_MIN_SIMILARITY", 0.75),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("FETCHENGINE_WEBHOOK_URL"),
			Secret: os.Getenv("FETCHENGINE_WEBHOOK_SECRET"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
