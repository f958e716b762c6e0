package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/akwieck/envfetch/internal/domain"
)

// countingFetcher tracks in-flight concurrency and succeeds per a
// scripted outcome map.
type countingFetcher struct {
	mu        sync.Mutex
	inFlight  int32
	maxSeen   int32
	delay     time.Duration
	failURLs  map[string]bool
	fetchedBy map[string]int
}

func (f *countingFetcher) Fetch(ctx context.Context, task domain.DownloadTask) domain.FetchResult {
	cur := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxSeen)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxSeen, max, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	atomic.AddInt32(&f.inFlight, -1)

	f.mu.Lock()
	if f.fetchedBy == nil {
		f.fetchedBy = make(map[string]int)
	}
	f.fetchedBy[task.URL]++
	f.mu.Unlock()

	if f.failURLs[task.URL] {
		return domain.FetchResult{Task: task, Err: fmt.Errorf("scripted failure for %s", task.URL)}
	}
	return domain.FetchResult{Task: task, OK: true}
}

func makeTasks(n int) []domain.DownloadTask {
	tasks := make([]domain.DownloadTask, n)
	for i := range tasks {
		tasks[i] = domain.DownloadTask{
			URL:         fmt.Sprintf("http://example.com/%d", i),
			Destination: fmt.Sprintf("/tmp/out-%d", i),
		}
	}
	return tasks
}

func TestRunAll_ResultsMatchInputOrder(t *testing.T) {
	f := &countingFetcher{delay: time.Millisecond}
	s := NewScheduler(f, zap.NewNop())

	tasks := makeTasks(20)
	results := s.RunAll(context.Background(), tasks, 4)

	if len(results) != len(tasks) {
		t.Fatalf("results = %d, want %d", len(results), len(tasks))
	}
	for i, r := range results {
		if r.Task.URL != tasks[i].URL {
			t.Errorf("results[%d] is for %q, want %q", i, r.Task.URL, tasks[i].URL)
		}
	}
}

func TestRunAll_BoundsConcurrency(t *testing.T) {
	f := &countingFetcher{delay: 10 * time.Millisecond}
	s := NewScheduler(f, zap.NewNop())

	s.RunAll(context.Background(), makeTasks(12), 3)

	if max := atomic.LoadInt32(&f.maxSeen); max > 3 {
		t.Errorf("max in-flight = %d, want at most 3", max)
	}
}

func TestRunAll_SequentialWhenConcurrencyOne(t *testing.T) {
	f := &countingFetcher{delay: time.Millisecond}
	s := NewScheduler(f, zap.NewNop())

	s.RunAll(context.Background(), makeTasks(5), 1)

	if max := atomic.LoadInt32(&f.maxSeen); max != 1 {
		t.Errorf("max in-flight = %d, want 1", max)
	}
}

func TestRunAll_FailureDoesNotCancelSiblings(t *testing.T) {
	f := &countingFetcher{
		failURLs: map[string]bool{"http://example.com/1": true},
	}
	s := NewScheduler(f, zap.NewNop())

	tasks := makeTasks(4)
	results := s.RunAll(context.Background(), tasks, 2)

	ok := 0
	for _, r := range results {
		if r.OK {
			ok++
		}
	}
	if ok != 3 {
		t.Errorf("succeeded = %d, want 3", ok)
	}
	if results[1].OK || results[1].Err == nil {
		t.Error("failed task should carry its error in place")
	}
	for _, task := range tasks {
		if f.fetchedBy[task.URL] != 1 {
			t.Errorf("task %s fetched %d times", task.URL, f.fetchedBy[task.URL])
		}
	}
}

func TestRunAll_EmptyInput(t *testing.T) {
	s := NewScheduler(&countingFetcher{}, zap.NewNop())
	if got := s.RunAll(context.Background(), nil, 4); len(got) != 0 {
		t.Errorf("results = %d, want 0", len(got))
	}
}

func TestRunAll_ZeroConcurrencyTreatedAsOne(t *testing.T) {
	f := &countingFetcher{}
	s := NewScheduler(f, zap.NewNop())

	results := s.RunAll(context.Background(), makeTasks(3), 0)
	for i, r := range results {
		if !r.OK {
			t.Errorf("results[%d] failed: %v", i, r.Err)
		}
	}
}
