package domain

import "time"

// CacheEntry records a previously fetched resource, keyed by source URL.
// The JSON tags define the on-disk index format.
type CacheEntry struct {
	URL            string     `json:"url"`
	CacheFilePath  string     `json:"cache_file_path"`
	ContentType    string     `json:"content_type"`
	Size           int64      `json:"size"`
	ETag           string     `json:"etag,omitempty"`
	LastModified   *time.Time `json:"last_modified,omitempty"`
	CachedAt       time.Time  `json:"cached_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	AccessCount    int64      `json:"access_count"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
}

// Expired reports whether the entry has passed its expiry, if one was
// recorded from the origin's cache-control response.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// Touch updates the access bookkeeping used by the eviction ordering.
func (e *CacheEntry) Touch(now time.Time) {
	e.AccessCount++
	e.LastAccessedAt = now
}
