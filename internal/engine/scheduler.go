package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/akwieck/envfetch/internal/domain"
)

// Fetcher is what the scheduler runs per task.
type Fetcher interface {
	Fetch(ctx context.Context, task domain.DownloadTask) domain.FetchResult
}

// Scheduler fans download tasks out over a bounded worker pool.
type Scheduler struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// NewScheduler creates a Scheduler over the given fetcher.
func NewScheduler(f Fetcher, logger *zap.Logger) *Scheduler {
	return &Scheduler{fetcher: f, logger: logger}
}

// RunAll executes every task with at most maxConcurrent transfers in
// flight. Results are positionally matched to the input slice; one
// task's failure never cancels its siblings.
func (s *Scheduler) RunAll(ctx context.Context, tasks []domain.DownloadTask, maxConcurrent int) []domain.FetchResult {
	results := make([]domain.FetchResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	if maxConcurrent == 1 {
		for i, task := range tasks {
			results[i] = s.fetcher.Fetch(ctx, task)
		}
		return results
	}

	type job struct {
		index int
		task  domain.DownloadTask
	}

	jobs := make(chan job)
	var wg sync.WaitGroup

	workers := maxConcurrent
	if workers > len(tasks) {
		workers = len(tasks)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.index] = s.fetcher.Fetch(ctx, j.task)
			}
		}()
	}

	for i, task := range tasks {
		jobs <- job{index: i, task: task}
	}
	close(jobs)
	wg.Wait()

	ok := 0
	for _, r := range results {
		if r.OK {
			ok++
		}
	}
	s.logger.Debug("batch finished",
		zap.Int("tasks", len(tasks)),
		zap.Int("succeeded", ok),
		zap.Int("workers", workers))

	return results
}
