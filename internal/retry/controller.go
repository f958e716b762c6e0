// Package retry drives transfer attempts across an ordered list of
// sources: the task's own URL first, then registered mirrors. Transient
// failures consume retries with capped exponential backoff; terminal
// failures skip straight to the next source.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/akwieck/envfetch/internal/domain"
	"github.com/akwieck/envfetch/internal/mirror"
	"github.com/akwieck/envfetch/internal/stats"
	"github.com/akwieck/envfetch/internal/transfer"
)

// Transferer runs a single transfer attempt.
type Transferer interface {
	Fetch(ctx context.Context, req transfer.Request) (*domain.TransferResult, error)
}

// MirrorSource supplies failover candidates and receives attempt
// outcomes.
type MirrorSource interface {
	BestCandidates(n int) []domain.Mirror
	Mirror(name string) (domain.Mirror, bool)
	RecordResult(name string, ok bool)
}

// Options configures retry behavior.
type Options struct {
	BackoffBase   time.Duration // first backoff, doubled each retry
	BackoffCap    time.Duration // upper bound on a single backoff
	MaxCandidates int           // mirrors consulted per task
}

// DefaultOptions returns the controller defaults.
func DefaultOptions() Options {
	return Options{
		BackoffBase:   time.Second,
		BackoffCap:    30 * time.Second,
		MaxCandidates: 3,
	}
}

// Controller wraps transfer attempts with retries and mirror failover.
type Controller struct {
	transferer Transferer
	mirrors    MirrorSource
	opts       Options
	logger     *zap.Logger
	stats      *stats.Statistics

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Controller.
func New(t Transferer, mirrors MirrorSource, opts Options, logger *zap.Logger, st *stats.Statistics) *Controller {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 30 * time.Second
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 3
	}
	return &Controller{
		transferer: t,
		mirrors:    mirrors,
		opts:       opts,
		logger:     logger,
		stats:      st,
		sleep:      sleepCtx,
	}
}

// source is one URL to attempt, with the mirror it came from (empty for
// the task's own URL).
type source struct {
	url        string
	mirrorName string
}

// Attempt runs the task's transfer against each source in order until
// one succeeds or all retries are exhausted. req carries the transfer
// parameters; its URL is overridden per source.
func (c *Controller) Attempt(ctx context.Context, task domain.DownloadTask, req transfer.Request) (*domain.TransferResult, error) {
	sources := c.buildSources(task)
	if len(sources) == 0 {
		return nil, domain.ErrNoSources
	}

	var lastErr error
	for _, src := range sources {
		result, err := c.attemptSource(ctx, task, req, src)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// A local write failure (disk full, permissions) will not get
		// better on another mirror; fail the task now.
		if domain.Classify(err) == domain.FailureResource {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("all %d sources failed: %w", len(sources), lastErr)
}

// attemptSource runs up to task.MaxRetries attempts against a single
// source. A terminal failure ends the source immediately.
func (c *Controller) attemptSource(ctx context.Context, task domain.DownloadTask, req transfer.Request, src source) (*domain.TransferResult, error) {
	var lastErr error
	for attempt := 0; attempt < task.MaxRetries; attempt++ {
		if attempt > 0 {
			c.stats.RetryAttempt()
			if err := c.sleep(ctx, c.backoff(attempt-1)); err != nil {
				return nil, err
			}
		}

		attemptReq := req
		attemptReq.URL = src.url
		result, err := c.transferer.Fetch(ctx, attemptReq)

		if src.mirrorName != "" {
			c.mirrors.RecordResult(src.mirrorName, err == nil)
		}

		if err == nil {
			if attempt > 0 || src.mirrorName != "" {
				c.logger.Info("download recovered",
					zap.String("url", src.url),
					zap.String("mirror", src.mirrorName),
					zap.Int("attempt", attempt+1))
			}
			return result, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if domain.IsTerminalForSource(err) {
			c.logger.Debug("source failed terminally, moving on",
				zap.String("url", src.url),
				zap.String("class", string(domain.Classify(err))))
			return nil, err
		}

		c.logger.Warn("transfer attempt failed",
			zap.String("url", src.url),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", task.MaxRetries),
			zap.Error(err))
	}

	return nil, lastErr
}

// buildSources orders the candidate URLs: the task URL, then mirrors
// the task names explicitly, then the registry's best candidates.
func (c *Controller) buildSources(task domain.DownloadTask) []source {
	sources := []source{{url: task.URL}}
	seen := map[string]bool{task.URL: true}

	add := func(m domain.Mirror) {
		rewritten, err := mirror.Rewrite(m, task.URL)
		if err != nil || seen[rewritten] {
			return
		}
		seen[rewritten] = true
		sources = append(sources, source{url: rewritten, mirrorName: m.Name})
	}

	for _, name := range task.MirrorCandidates {
		if m, ok := c.mirrors.Mirror(name); ok && m.Available() {
			add(m)
		}
	}
	for _, m := range c.mirrors.BestCandidates(c.opts.MaxCandidates) {
		add(m)
	}

	return sources
}

// backoff computes the capped exponential delay for a retry index, with
// jitter between 0.5x and 1.5x.
func (c *Controller) backoff(index int) time.Duration {
	d := c.opts.BackoffBase << uint(index)
	if d > c.opts.BackoffCap || d <= 0 {
		d = c.opts.BackoffCap
	}
	return time.Duration(float64(d) * (0.5 + rand.Float64()))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
