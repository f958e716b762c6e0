// Package engine is the public entry point of the download system: it
// checks the cache, drives retries and mirror failover on a miss,
// verifies integrity, and writes results back through the cache.
package engine

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/akwieck/envfetch/internal/cache"
	"github.com/akwieck/envfetch/internal/domain"
	"github.com/akwieck/envfetch/internal/journal"
	"github.com/akwieck/envfetch/internal/stats"
	"github.com/akwieck/envfetch/internal/transfer"
)

// Attempter runs a task's transfer with retries and failover.
type Attempter interface {
	Attempt(ctx context.Context, task domain.DownloadTask, req transfer.Request) (*domain.TransferResult, error)
}

// CacheStore is the engine's view of the download cache.
type CacheStore interface {
	Lookup(url string) (string, bool)
	Commit(url, sourceFile string, meta cache.ResponseMetadata) (*domain.CacheEntry, error)
}

// HeadClient probes remote metadata without downloading.
type HeadClient interface {
	Head(ctx context.Context, url string) (*transfer.RemoteInfo, error)
}

// ResumeJournal persists partial-download state between runs.
type ResumeJournal interface {
	Get(url string) (*journal.Partial, error)
	Record(p *journal.Partial) error
	Complete(url string) error
	Fail(url, errMsg string) error
}

// Options configures the engine.
type Options struct {
	// OfflineMode forbids all network access; only cached files can
	// satisfy a fetch.
	OfflineMode bool

	// OnProgress, when set, receives per-chunk progress for every
	// running transfer. total is -1 when unknown.
	OnProgress func(url string, written, total int64)
}

// Engine coordinates one download per Fetch call. Safe for concurrent
// use by scheduler workers.
type Engine struct {
	cache     CacheStore
	attempter Attempter
	head      HeadClient
	journal   ResumeJournal // may be nil
	stats     *stats.Statistics
	logger    *zap.Logger
	opts      Options
}

// New creates an Engine. jnl may be nil, in which case resume state is
// not persisted across runs.
func New(cs CacheStore, att Attempter, head HeadClient, jnl ResumeJournal, st *stats.Statistics, logger *zap.Logger, opts Options) *Engine {
	return &Engine{
		cache:     cs,
		attempter: att,
		head:      head,
		journal:   jnl,
		stats:     st,
		logger:    logger,
		opts:      opts,
	}
}

// Fetch downloads one task. It never panics across the boundary; every
// outcome is reported in the returned FetchResult.
func (e *Engine) Fetch(ctx context.Context, task domain.DownloadTask) domain.FetchResult {
	task = task.Normalize()
	if err := task.Validate(); err != nil {
		return domain.FetchResult{Task: task, Err: err}
	}

	e.stats.DownloadAttempted()

	if e.opts.OfflineMode {
		return e.fetchOffline(task)
	}

	// Cache fast path. With no expected hash the cached bytes are used
	// as-is; with one, the cached copy is verified locally before it is
	// trusted, which keeps repeat fetches off the network entirely.
	if path, ok := e.cache.Lookup(task.URL); ok {
		if usable, err := e.cachedUsable(path, task); err == nil && usable {
			if err := e.materialize(path, task.Destination); err == nil {
				e.stats.DownloadSucceeded()
				return domain.FetchResult{Task: task, OK: true, FromCache: true}
			}
		}
	}

	if err := e.checkStalePartial(ctx, task); err != nil {
		e.logger.Debug("stale partial check failed",
			zap.String("url", task.URL),
			zap.Error(err))
	}

	req := transfer.Request{
		URL:           task.URL,
		Destination:   task.Destination,
		HashAlgorithm: task.HashAlgorithm,
		ChunkSize:     task.ChunkSize,
		Resumable:     task.Resumable,
	}
	if e.opts.OnProgress != nil {
		url := task.URL
		req.Progress = func(written, total int64) {
			e.opts.OnProgress(url, written, total)
		}
	}
	if task.Resumable && e.journal != nil {
		// Capture the remote's validators when the transfer opens so a
		// later resume can tell whether the partial went stale.
		url, dest := task.URL, task.Destination
		req.OnResponse = func(etag, lastModified string) {
			e.journal.Record(&journal.Partial{
				URL:          url,
				Destination:  dest,
				ETag:         etag,
				LastModified: lastModified,
			})
		}
	}

	result, err := e.attempter.Attempt(ctx, task, req)
	if err != nil {
		e.recordFailure(task, err)
		e.stats.DownloadFailed()
		return domain.FetchResult{
			Task:  task,
			Class: domain.Classify(err),
			Err:   err,
		}
	}

	if task.ExpectedHash != "" && !strings.EqualFold(result.Digest, task.ExpectedHash) {
		os.Remove(task.Destination)
		if e.journal != nil {
			e.journal.Complete(task.URL)
		}
		e.stats.DownloadFailed()
		err := domain.NewTransferError(domain.FailureIntegrity, result.Source, 0,
			fmt.Errorf("hash mismatch: expected %s, got %s", task.ExpectedHash, result.Digest))
		e.logger.Warn("integrity check failed, download discarded",
			zap.String("url", task.URL),
			zap.String("source", result.Source))
		return domain.FetchResult{
			Task:   task,
			Source: result.Source,
			Class:  domain.FailureIntegrity,
			Err:    err,
		}
	}

	// Write-through to cache. Best-effort: a cache that cannot accept
	// the file must not turn a finished download into a failure.
	if _, err := e.cache.Commit(task.URL, task.Destination, cache.ResponseMetadata{
		ContentType:  result.ContentType,
		ETag:         result.ETag,
		LastModified: result.LastModified,
		CacheControl: result.CacheControl,
	}); err != nil {
		e.logger.Warn("cache commit failed",
			zap.String("url", task.URL),
			zap.Error(err))
	}

	if e.journal != nil {
		e.journal.Complete(task.URL)
	}

	e.stats.DownloadSucceeded()
	return domain.FetchResult{Task: task, OK: true, Source: result.Source}
}

// fetchOffline serves only from cache; no request leaves the process.
// A task with an expected hash is held to it here too: a cached copy
// that does not match must not be reported as success.
func (e *Engine) fetchOffline(task domain.DownloadTask) domain.FetchResult {
	path, ok := e.cache.Lookup(task.URL)
	if !ok {
		e.stats.DownloadFailed()
		return domain.FetchResult{Task: task, Err: domain.ErrOfflineCacheMiss}
	}
	usable, err := e.cachedUsable(path, task)
	if err != nil {
		e.stats.DownloadFailed()
		return domain.FetchResult{
			Task:  task,
			Class: domain.FailureResource,
			Err:   domain.NewTransferError(domain.FailureResource, task.URL, 0, err),
		}
	}
	if !usable {
		e.stats.DownloadFailed()
		return domain.FetchResult{
			Task:  task,
			Class: domain.FailureIntegrity,
			Err: domain.NewTransferError(domain.FailureIntegrity, task.URL, 0,
				fmt.Errorf("cached copy does not match expected hash %s", task.ExpectedHash)),
		}
	}
	if err := e.materialize(path, task.Destination); err != nil {
		e.stats.DownloadFailed()
		return domain.FetchResult{
			Task:  task,
			Class: domain.FailureResource,
			Err:   err,
		}
	}
	e.stats.DownloadSucceeded()
	return domain.FetchResult{Task: task, OK: true, FromCache: true}
}

// cachedUsable reports whether a cached file may satisfy the task. A
// task without an expected hash trusts the cache; one with a hash
// verifies the cached bytes first.
func (e *Engine) cachedUsable(path string, task domain.DownloadTask) (bool, error) {
	if task.ExpectedHash == "" {
		return true, nil
	}
	digest, err := hashFile(path, task.HashAlgorithm)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(digest, task.ExpectedHash), nil
}

// materialize copies a cached file to the task destination unless they
// are already the same path.
func (e *Engine) materialize(cached, destination string) error {
	if cached == destination {
		return nil
	}
	_, err := cache.CopyFile(cached, destination)
	return err
}

// checkStalePartial discards a resumable partial whose remote resource
// changed since the partial was written. Appending fresh bytes to a
// stale prefix would produce a corrupt file that only fails at hash
// verification, after the whole transfer.
func (e *Engine) checkStalePartial(ctx context.Context, task domain.DownloadTask) error {
	if !task.Resumable || e.journal == nil {
		return nil
	}
	if _, err := os.Stat(task.Destination); err != nil {
		return nil
	}

	p, err := e.journal.Get(task.URL)
	if err != nil || p == nil {
		return err
	}
	if p.ETag == "" && p.LastModified == "" {
		return nil
	}

	info, err := e.head.Head(ctx, task.URL)
	if err != nil {
		// Leave the partial alone; the GET itself will still restart
		// from zero if the server refuses the range.
		return err
	}

	changed := (p.ETag != "" && info.ETag != "" && p.ETag != info.ETag) ||
		(p.LastModified != "" && !info.LastModified.IsZero() &&
			p.LastModified != info.LastModified.UTC().Format(http.TimeFormat))
	if changed {
		e.logger.Info("remote changed since partial download, restarting",
			zap.String("url", task.URL))
		os.Remove(task.Destination)
		e.journal.Complete(task.URL)
	}
	return nil
}

// recordFailure persists resume state for a resumable failure so a
// later run can continue the partial.
func (e *Engine) recordFailure(task domain.DownloadTask, cause error) {
	if e.journal == nil || !task.Resumable {
		return
	}

	info, err := os.Stat(task.Destination)
	if err != nil {
		e.journal.Complete(task.URL)
		return
	}

	p, _ := e.journal.Get(task.URL)
	if p == nil {
		p = &journal.Partial{URL: task.URL, Destination: task.Destination}
	}
	p.BytesWritten = info.Size()
	p.Attempts++
	p.LastError = cause.Error()
	if err := e.journal.Record(p); err != nil {
		e.logger.Warn("failed to record resume state",
			zap.String("url", task.URL),
			zap.Error(err))
	}
}

// hashFile computes the hex digest of a file.
func hashFile(path, algorithm string) (string, error) {
	var h hash.Hash
	switch algorithm {
	case "sha256", "":
		h = sha256.New()
	case "sha1":
		h = sha1.New()
	case "sha512":
		h = sha512.New()
	case "md5":
		h = md5.New()
	default:
		return "", fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
