// Package cache implements the disk-backed download cache: a sharded
// content directory addressed by a hash of the source URL, plus a JSON
// index rewritten on every mutation. Caching is best-effort; callers
// must treat commit failures as non-fatal.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/akwieck/envfetch/internal/domain"
	"github.com/akwieck/envfetch/internal/metrics"
	"github.com/akwieck/envfetch/internal/stats"
)

const indexFileName = "cache_index.json"

// ResponseMetadata carries the response headers a commit records with
// the entry.
type ResponseMetadata struct {
	ContentType  string
	ETag         string
	LastModified string
	CacheControl string
}

// Store is the content-addressable download cache.
type Store struct {
	rootDir    string
	maxBytes   int64
	evictEvery int
	logger     *zap.Logger
	stats      *stats.Statistics

	mu          sync.Mutex
	entries     map[string]*domain.CacheEntry
	commitCount int
}

// New opens (or creates) a cache rooted at rootDir and loads its index.
// Entries whose backing file has vanished are dropped silently.
func New(rootDir string, maxBytes int64, evictEvery int, logger *zap.Logger, st *stats.Statistics) (*Store, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache root dir: %w", err)
	}
	if evictEvery <= 0 {
		evictEvery = 10
	}

	s := &Store{
		rootDir:    rootDir,
		maxBytes:   maxBytes,
		evictEvery: evictEvery,
		logger:     logger,
		stats:      st,
		entries:    make(map[string]*domain.CacheEntry),
	}

	if err := s.loadIndex(); err != nil {
		// A corrupt index is recoverable: start empty, the content
		// files will be re-fetched on demand.
		logger.Warn("failed to load cache index, starting empty", zap.Error(err))
		s.entries = make(map[string]*domain.CacheEntry)
	}
	metrics.CacheSizeBytes.Set(float64(s.totalSizeLocked()))

	return s, nil
}

// Lookup returns the cached file path for url if a valid entry exists.
// A valid entry has its backing file present and has not expired.
// Lookup updates the entry's access bookkeeping on a hit.
func (s *Store) Lookup(url string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[url]
	if !ok {
		s.stats.CacheMiss()
		return "", false
	}

	// Self-heal: the backing file may have been removed out of band.
	if _, err := os.Stat(entry.CacheFilePath); err != nil {
		delete(s.entries, url)
		s.saveIndexLocked()
		s.stats.CacheMiss()
		return "", false
	}

	if entry.Expired(time.Now()) {
		s.stats.CacheMiss()
		return "", false
	}

	entry.Touch(time.Now())
	s.saveIndexLocked()
	s.stats.CacheHit()
	return entry.CacheFilePath, true
}

// Commit copies sourceFile into the cache's content-addressed location
// and indexes it. An existing entry for the same URL is overwritten.
// Eviction runs after every Nth commit, and immediately when the commit
// pushes the index over budget.
func (s *Store) Commit(url, sourceFile string, meta ResponseMetadata) (*domain.CacheEntry, error) {
	dest := s.contentPath(url)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache shard dir: %w", err)
	}

	size, err := copyFile(sourceFile, dest)
	if err != nil {
		return nil, fmt.Errorf("failed to copy into cache: %w", err)
	}

	now := time.Now()
	entry := &domain.CacheEntry{
		URL:            url,
		CacheFilePath:  dest,
		ContentType:    meta.ContentType,
		Size:           size,
		ETag:           meta.ETag,
		CachedAt:       now,
		LastAccessedAt: now,
	}
	if meta.LastModified != "" {
		if t, err := time.Parse(time.RFC1123, meta.LastModified); err == nil {
			entry.LastModified = &t
		}
	}
	if maxAge, ok := parseMaxAge(meta.CacheControl); ok {
		exp := now.Add(maxAge)
		entry.ExpiresAt = &exp
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[url] = entry
	s.commitCount++
	s.stats.AddBytesCached(size)

	total := s.totalSizeLocked()
	if total > s.maxBytes || s.commitCount%s.evictEvery == 0 {
		s.evictToBudgetLocked(s.maxBytes)
	}
	s.saveIndexLocked()
	metrics.CacheSizeBytes.Set(float64(s.totalSizeLocked()))

	s.logger.Debug("cached download",
		zap.String("url", url),
		zap.String("size", humanize.Bytes(uint64(size))))

	return entry, nil
}

// EvictToBudget removes least-valuable entries until the indexed total
// is at or under maxBytes.
func (s *Store) EvictToBudget(maxBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictToBudgetLocked(maxBytes)
	s.saveIndexLocked()
	metrics.CacheSizeBytes.Set(float64(s.totalSizeLocked()))
}

// evictToBudgetLocked removes entries in (access_count, last_accessed)
// order until the total indexed size fits the budget. Caller holds mu.
func (s *Store) evictToBudgetLocked(maxBytes int64) {
	total := s.totalSizeLocked()
	if total <= maxBytes {
		return
	}

	ordered := make([]*domain.CacheEntry, 0, len(s.entries))
	for _, e := range s.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].AccessCount != ordered[j].AccessCount {
			return ordered[i].AccessCount < ordered[j].AccessCount
		}
		return ordered[i].LastAccessedAt.Before(ordered[j].LastAccessedAt)
	})

	evicted := 0
	for _, e := range ordered {
		if total <= maxBytes {
			break
		}
		if err := os.Remove(e.CacheFilePath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to delete evicted cache file",
				zap.String("path", e.CacheFilePath),
				zap.Error(err))
			continue
		}
		total -= e.Size
		delete(s.entries, e.URL)
		metrics.CacheEvictions.Inc()
		evicted++
	}

	if evicted > 0 {
		s.logger.Info("cache evicted to budget",
			zap.Int("evicted", evicted),
			zap.String("total", humanize.Bytes(uint64(total))),
			zap.String("budget", humanize.Bytes(uint64(maxBytes))))
	}
}

// TotalSize returns the summed size of all indexed entries.
func (s *Store) TotalSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSizeLocked()
}

// EntryCount returns the number of indexed entries.
func (s *Store) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entry returns a copy of the indexed entry for url, if present.
func (s *Store) Entry(url string) (domain.CacheEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[url]
	if !ok {
		return domain.CacheEntry{}, false
	}
	return *e, true
}

func (s *Store) totalSizeLocked() int64 {
	var total int64
	for _, e := range s.entries {
		total += e.Size
	}
	return total
}

// indexFile is the serialized form of the cache index.
type indexFile struct {
	Version string                        `json:"version"`
	Entries map[string]*domain.CacheEntry `json:"entries"`
}

func (s *Store) indexPath() string {
	return filepath.Join(s.rootDir, indexFileName)
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return err
	}

	for url, entry := range idx.Entries {
		if _, err := os.Stat(entry.CacheFilePath); err != nil {
			continue
		}
		s.entries[url] = entry
	}
	return nil
}

// saveIndexLocked rewrites the whole index file. Caller holds mu.
// Index write failures are logged, never escalated.
func (s *Store) saveIndexLocked() {
	idx := indexFile{Version: "1", Entries: s.entries}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		s.logger.Warn("failed to encode cache index", zap.Error(err))
		return
	}

	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Warn("failed to write cache index", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		s.logger.Warn("failed to replace cache index", zap.Error(err))
	}
}
