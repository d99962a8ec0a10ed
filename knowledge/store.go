// Package knowledge implements the Knowledge Store: debounced, atomic
// persistence of per-domain learning state.
package knowledge

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/use-agent/purify/models"
)

const maxLearningEvents = 100

// document is the on-disk shape described in SPEC_FULL.md §6.
type document struct {
	Entries        map[string]*models.DomainEntry `json:"entries"`
	LearningEvents []models.LearningEvent         `json:"learningEvents"`
	AntiPatterns   []*models.AntiPattern          `json:"antiPatterns"`
	LastSaved      int64                          `json:"lastSaved"`
}

// legacyDocument is the single-level flat format absorbed on first load.
type legacyDocument map[string]struct {
	Patterns    []*models.ApiPattern `json:"patterns"`
	UsageCount  int                  `json:"usageCount"`
	SuccessRate float64              `json:"successRate"`
	LastUsed    time.Time            `json:"lastUsed"`
}

// Store owns all Domain Entries and Anti-Patterns, matching the ownership
// rule in SPEC_FULL.md §3. Writes are coalesced through a debounce timer
// and committed atomically (temp file + rename), grounded on purify's
// cache.Cache/DomainMemory ticker-driven background-goroutine idiom.
type Store struct {
	mu   sync.RWMutex
	path string

	entries        map[string]*models.DomainEntry
	learningEvents []models.LearningEvent
	antiPatterns   []*models.AntiPattern

	debounce     time.Duration
	dirty        bool
	saveTimer    *time.Timer
	saveTimerMu  sync.Mutex
	stopped      chan struct{}
	legacyPath   string
	migratedMark string

	saveErrMu sync.RWMutex
	saveErr   error
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithDebounce overrides the default 1s write-coalescing window.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) { s.debounce = d }
}

// New creates a Store backed by the JSON document at path. It attempts to
// load existing state (absorbing the legacy flat format if present) and
// returns a Store ready for use even if the load failed (empty state is
// substituted, per §4.1's "load failures yield empty state + warning").
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:         path,
		entries:      make(map[string]*models.DomainEntry),
		debounce:     time.Second,
		stopped:      make(chan struct{}),
		legacyPath:   path + ".legacy",
		migratedMark: filepath.Join(filepath.Dir(path), ".knowledge-base-migrated"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	return s
}

func (s *Store) load() {
	if err := s.tryMigrateLegacy(); err != nil {
		slog.Warn("knowledge: legacy migration failed", "error", err)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("knowledge: load failed, starting with empty state", "error", err)
		}
		return
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("knowledge: load failed to parse, starting with empty state", "error", err)
		return
	}

	now := time.Now()
	if doc.Entries != nil {
		s.entries = doc.Entries
	}
	s.learningEvents = doc.LearningEvents
	s.antiPatterns = filterExpiredAntiPatterns(doc.AntiPatterns, now)
}

func filterExpiredAntiPatterns(in []*models.AntiPattern, now time.Time) []*models.AntiPattern {
	out := make([]*models.AntiPattern, 0, len(in))
	for _, ap := range in {
		if !ap.Expired(now) {
			out = append(out, ap)
		}
	}
	return out
}

// tryMigrateLegacy absorbs a legacy flat document once, guarded by a marker
// file written only after the migrated state itself is durably written
// (spec.md §9: "write the migrated state first, then the marker").
func (s *Store) tryMigrateLegacy() error {
	if _, err := os.Stat(s.migratedMark); err == nil {
		return nil // already migrated
	}

	data, err := os.ReadFile(s.legacyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var legacy legacyDocument
	if err := json.Unmarshal(data, &legacy); err != nil {
		return err
	}

	now := time.Now()
	migrated := make(map[string]*models.DomainEntry, len(legacy))
	for domain, rec := range legacy {
		entry := models.NewDomainEntry(domain, now)
		entry.APIPatterns = rec.Patterns
		entry.UsageCount = rec.UsageCount
		entry.OverallSuccessRate = rec.SuccessRate
		entry.LastUsed = rec.LastUsed
		migrated[domain] = entry
	}

	doc := document{
		Entries:   migrated,
		LastSaved: now.UnixMilli(),
	}
	if err := writeAtomic(s.path, doc); err != nil {
		return err
	}
	return os.WriteFile(s.migratedMark, []byte(now.Format(time.RFC3339)), 0o644)
}

func writeAtomic(path string, doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// GetEntry returns the domain entry for domain, creating and inserting one
// if absent. The returned pointer is owned by the Store; callers mutate it
// under WithWrite.
func (s *Store) GetEntry(domain string) *models.DomainEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[domain]
	if !ok {
		e = models.NewDomainEntry(domain, time.Now())
		s.entries[domain] = e
	}
	return e
}

// ReadEntry returns the Store's own entry for domain (not a copy), or nil
// if none exists. Callers MUST NOT mutate the returned value.
func (s *Store) ReadEntry(domain string) *models.DomainEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[domain]
}

// WithWrite runs fn holding the write lock, then schedules a debounced
// save. fn receives the entry for domain (created if absent).
func (s *Store) WithWrite(domain string, fn func(e *models.DomainEntry)) {
	s.mu.Lock()
	e, ok := s.entries[domain]
	if !ok {
		e = models.NewDomainEntry(domain, time.Now())
		s.entries[domain] = e
	}
	fn(e)
	e.LastUpdated = time.Now()
	s.mu.Unlock()
	s.scheduleSave()
}

// AppendLearningEvent records an audit-trail entry, capped at 100
// (newest-last, oldest dropped).
func (s *Store) AppendLearningEvent(ev models.LearningEvent) {
	s.mu.Lock()
	s.learningEvents = append(s.learningEvents, ev)
	if len(s.learningEvents) > maxLearningEvents {
		s.learningEvents = s.learningEvents[len(s.learningEvents)-maxLearningEvents:]
	}
	s.mu.Unlock()
	s.scheduleSave()
}

// AntiPatterns returns a snapshot of the persisted anti-patterns.
func (s *Store) AntiPatterns() []*models.AntiPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AntiPattern, len(s.antiPatterns))
	copy(out, s.antiPatterns)
	return out
}

// UpsertAntiPattern inserts or updates an anti-pattern by ID.
func (s *Store) UpsertAntiPattern(ap *models.AntiPattern) {
	s.mu.Lock()
	found := false
	for i, existing := range s.antiPatterns {
		if existing.ID == ap.ID {
			s.antiPatterns[i] = ap
			found = true
			break
		}
	}
	if !found {
		s.antiPatterns = append(s.antiPatterns, ap)
	}
	s.mu.Unlock()
	s.scheduleSave()
}

// scheduleSave coalesces concurrent writes into a single save at most once
// per debounce window.
func (s *Store) scheduleSave() {
	s.saveTimerMu.Lock()
	defer s.saveTimerMu.Unlock()
	s.dirty = true
	if s.saveTimer != nil {
		return
	}
	s.saveTimer = time.AfterFunc(s.debounce, s.flush)
}

func (s *Store) flush() {
	s.saveTimerMu.Lock()
	s.saveTimer = nil
	wasDirty := s.dirty
	s.dirty = false
	s.saveTimerMu.Unlock()

	if !wasDirty {
		return
	}

	s.mu.RLock()
	doc := document{
		Entries:        s.entries,
		LearningEvents: s.learningEvents,
		AntiPatterns:   s.antiPatterns,
		LastSaved:      time.Now().UnixMilli(),
	}
	s.mu.RUnlock()

	err := writeAtomic(s.path, doc)
	if err != nil {
		slog.Error("knowledge: save failed", "error", err)
	}
	s.saveErrMu.Lock()
	s.saveErr = err
	s.saveErrMu.Unlock()
}

// LastSaveErr reports the error from the most recent flush attempt, or nil
// if the store has never flushed or its last flush succeeded. Used by the
// health endpoint to surface a persistence failure before it's noticed
// only as missing learned state after a restart.
func (s *Store) LastSaveErr() error {
	s.saveErrMu.RLock()
	defer s.saveErrMu.RUnlock()
	return s.saveErr
}

// Close flushes any pending write synchronously. Save failures are logged
// and do not propagate, per §4.1.
func (s *Store) Close() {
	s.saveTimerMu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	s.saveTimerMu.Unlock()
	s.flush()
}

// Domains returns every known domain, for iteration by the Learning Engine.
func (s *Store) Domains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for d := range s.entries {
		out = append(out, d)
	}
	return out
}
