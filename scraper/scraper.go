package scraper

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/purify/config"
	"github.com/use-agent/purify/engine"
	"github.com/use-agent/purify/models"
)

// Scraper manages the global browser lifecycle and the health-scored page pool.
// It is safe for concurrent use.
type Scraper struct {
	browser     *rod.Browser
	pool        *engine.AdaptivePool
	pagesMu     sync.Mutex
	pages       map[int64]*rod.Page
	nextPageID  atomic.Int64
	browserCfg  config.BrowserConfig
	scraperCfg  config.ScraperConfig
	activePages atomic.Int32
	startTime   time.Time
}

// NewScraper launches a headless browser and initialises the reusable page pool.
func NewScraper(browserCfg config.BrowserConfig, scraperCfg config.ScraperConfig, poolCfg config.AdaptivePoolConfig) (*Scraper, error) {
	l := launcher.New().
		Headless(browserCfg.Headless).
		NoSandbox(browserCfg.NoSandbox)

	if browserCfg.BrowserBin != "" {
		l = l.Bin(browserCfg.BrowserBin)
	}
	if browserCfg.DefaultProxy != "" {
		l = l.Proxy(browserCfg.DefaultProxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-prompt-on-repost"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewFetchError(
			models.ErrCodeServerError,
			"failed to launch browser",
			err,
		)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewFetchError(
			models.ErrCodeServerError,
			"failed to connect to browser",
			err,
		)
	}

	s := &Scraper{
		browser:    browser,
		pages:      make(map[int64]*rod.Page),
		browserCfg: browserCfg,
		scraperCfg: scraperCfg,
		startTime:  time.Now(),
	}

	minPages := poolCfg.MinPages
	if minPages < 1 {
		minPages = 1
	}
	hardMax := poolCfg.HardMax
	if hardMax < minPages {
		hardMax = browserCfg.MaxPages
	}
	pool, err := engine.NewAdaptivePool(engine.AdaptivePoolConfig{
		MinPages:     minPages,
		HardMax:      hardMax,
		MemThreshold: poolCfg.MemThreshold,
		ScaleStep:    poolCfg.ScaleStep,
	}, s.newPage, s.closePage)
	if err != nil {
		return nil, models.NewFetchError(
			models.ErrCodeServerError,
			"failed to create page pool",
			err,
		)
	}
	s.pool = pool
	slog.Info("adaptive page pool created", "maxPages", browserCfg.MaxPages)

	return s, nil
}

// newPage is the engine.PageFactory: opens a fresh tab and registers it
// under a monotonically increasing handle ID.
func (s *Scraper) newPage() (int64, error) {
	page, err := s.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return 0, err
	}
	id := s.nextPageID.Add(1)
	s.pagesMu.Lock()
	s.pages[id] = page
	s.pagesMu.Unlock()
	return id, nil
}

// closePage is the engine.PageDestroyer.
func (s *Scraper) closePage(id int64) {
	s.pagesMu.Lock()
	page, ok := s.pages[id]
	delete(s.pages, id)
	s.pagesMu.Unlock()
	if ok {
		_ = page.Close()
	}
}

// pageByID looks up a live page by its pool handle ID.
func (s *Scraper) pageByID(id int64) (*rod.Page, bool) {
	s.pagesMu.Lock()
	defer s.pagesMu.Unlock()
	page, ok := s.pages[id]
	return page, ok
}

// Stats returns a snapshot of the pool's current state.
func (s *Scraper) Stats() models.PoolStats {
	return models.PoolStats{
		MaxPages:    s.browserCfg.MaxPages,
		ActivePages: int(s.activePages.Load()),
	}
}

// Close drains the page pool and kills the browser process.
// Call this on graceful shutdown to prevent zombie Chrome processes.
func (s *Scraper) Close() {
	slog.Info("scraper shutting down: draining page pool")
	s.pool.Stop()
	slog.Info("scraper shutting down: closing browser")
	s.browser.MustClose()
	slog.Info("scraper shutdown complete")
}
