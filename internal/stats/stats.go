// Package stats holds the process-lifetime download counters. A single
// Statistics value is constructed at startup and injected into the
// engine; it is safe for concurrent use.
package stats

import (
	"sync"

	"github.com/akwieck/envfetch/internal/metrics"
)

// Statistics accumulates monotonically increasing counters for the
// lifetime of the process.
type Statistics struct {
	mu sync.Mutex

	downloadsAttempted  int64
	downloadsSuccessful int64
	downloadsFailed     int64
	cacheHits           int64
	cacheMisses         int64
	bytesDownloaded     int64
	bytesCached         int64
	networkErrors       int64
	retryAttempts       int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	DownloadsAttempted  int64
	DownloadsSuccessful int64
	DownloadsFailed     int64
	CacheHits           int64
	CacheMisses         int64
	BytesDownloaded     int64
	BytesCached         int64
	NetworkErrors       int64
	RetryAttempts       int64
}

// New returns a zeroed Statistics.
func New() *Statistics {
	return &Statistics{}
}

func (s *Statistics) DownloadAttempted() {
	s.mu.Lock()
	s.downloadsAttempted++
	s.mu.Unlock()
	metrics.DownloadsAttempted.Inc()
}

func (s *Statistics) DownloadSucceeded() {
	s.mu.Lock()
	s.downloadsSuccessful++
	s.mu.Unlock()
	metrics.DownloadsCompleted.WithLabelValues("success").Inc()
}

func (s *Statistics) DownloadFailed() {
	s.mu.Lock()
	s.downloadsFailed++
	s.mu.Unlock()
	metrics.DownloadsCompleted.WithLabelValues("failure").Inc()
}

func (s *Statistics) CacheHit() {
	s.mu.Lock()
	s.cacheHits++
	s.mu.Unlock()
	metrics.CacheLookups.WithLabelValues("hit").Inc()
}

func (s *Statistics) CacheMiss() {
	s.mu.Lock()
	s.cacheMisses++
	s.mu.Unlock()
	metrics.CacheLookups.WithLabelValues("miss").Inc()
}

func (s *Statistics) AddBytesDownloaded(n int64) {
	s.mu.Lock()
	s.bytesDownloaded += n
	s.mu.Unlock()
	metrics.BytesDownloaded.Add(float64(n))
}

func (s *Statistics) AddBytesCached(n int64) {
	s.mu.Lock()
	s.bytesCached += n
	s.mu.Unlock()
}

func (s *Statistics) NetworkError() {
	s.mu.Lock()
	s.networkErrors++
	s.mu.Unlock()
	metrics.NetworkErrors.Inc()
}

func (s *Statistics) RetryAttempt() {
	s.mu.Lock()
	s.retryAttempts++
	s.mu.Unlock()
	metrics.RetryAttempts.Inc()
}

// Snapshot returns a copy of the current counter values.
func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		DownloadsAttempted:  s.downloadsAttempted,
		DownloadsSuccessful: s.downloadsSuccessful,
		DownloadsFailed:     s.downloadsFailed,
		CacheHits:           s.cacheHits,
		CacheMisses:         s.cacheMisses,
		BytesDownloaded:     s.bytesDownloaded,
		BytesCached:         s.bytesCached,
		NetworkErrors:       s.networkErrors,
		RetryAttempts:       s.retryAttempts,
	}
}
