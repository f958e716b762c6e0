// Package mirror tracks alternate base URLs for the download origin and
// their observed health, and rewrites request URLs against them.
package mirror

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akwieck/envfetch/internal/domain"
	"github.com/akwieck/envfetch/internal/metrics"
)

// Options controls probe behavior.
type Options struct {
	ProbeTimeout     time.Duration // per-probe request timeout
	HealthyThreshold time.Duration // probes slower than this mark the mirror slow
	UserAgent        string
}

// DefaultOptions returns the registry defaults.
func DefaultOptions() Options {
	return Options{
		ProbeTimeout:     10 * time.Second,
		HealthyThreshold: 2 * time.Second,
	}
}

// Registry holds the known mirrors for the process lifetime.
type Registry struct {
	opts   Options
	client *http.Client
	logger *zap.Logger

	mu      sync.Mutex
	mirrors map[string]*domain.Mirror
}

// New creates an empty registry.
func New(opts Options, logger *zap.Logger) *Registry {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 10 * time.Second
	}
	if opts.HealthyThreshold <= 0 {
		opts.HealthyThreshold = 2 * time.Second
	}
	return &Registry{
		opts:    opts,
		client:  &http.Client{Timeout: opts.ProbeTimeout},
		logger:  logger,
		mirrors: make(map[string]*domain.Mirror),
	}
}

// NewWithDefaults creates a registry seeded with the stock origin
// mirrors used when no seed file is configured.
func NewWithDefaults(opts Options, logger *zap.Logger) *Registry {
	r := New(opts, logger)
	r.register(&domain.Mirror{Name: "github", BaseURL: "https://github.com", Priority: 1, Status: domain.MirrorUnknown})
	r.register(&domain.Mirror{Name: "github_api", BaseURL: "https://api.github.com", Priority: 1, Status: domain.MirrorUnknown})
	return r
}

// seedFile is the externally editable mirror list format.
type seedFile struct {
	Mirrors []struct {
		Name     string `json:"name"`
		BaseURL  string `json:"base_url"`
		Priority int    `json:"priority"`
	} `json:"mirrors"`
}

// LoadSeedFile registers mirrors from a JSON seed file. Missing files
// are not an error; the registry keeps whatever it already holds.
func (r *Registry) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return err
	}

	for _, m := range seed.Mirrors {
		if m.Name == "" || m.BaseURL == "" {
			continue
		}
		r.register(&domain.Mirror{
			Name:     m.Name,
			BaseURL:  m.BaseURL,
			Priority: m.Priority,
			Status:   domain.MirrorUnknown,
		})
	}
	return nil
}

func (r *Registry) register(m *domain.Mirror) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mirrors[m.Name] = m
}

// AddMirror registers a new mirror and probes it immediately.
func (r *Registry) AddMirror(ctx context.Context, name, baseURL string, priority int) {
	m := &domain.Mirror{Name: name, BaseURL: baseURL, Priority: priority, Status: domain.MirrorUnknown}
	r.register(m)
	r.Probe(ctx, name)
}

// Probe issues a HEAD request against the mirror's base URL and updates
// its health fields in place.
func (r *Registry) Probe(ctx context.Context, name string) {
	r.mu.Lock()
	m, ok := r.mirrors[name]
	r.mu.Unlock()
	if !ok {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.BaseURL, nil)
	if err != nil {
		r.recordProbe(m, 0, false)
		return
	}
	if r.opts.UserAgent != "" {
		req.Header.Set("User-Agent", r.opts.UserAgent)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		r.logger.Debug("mirror probe failed",
			zap.String("mirror", m.Name),
			zap.Error(err))
		r.recordProbe(m, elapsed, false)
		return
	}
	resp.Body.Close()

	r.recordProbe(m, elapsed, resp.StatusCode < 400)
}

// ProbeAll probes every registered mirror.
func (r *Registry) ProbeAll(ctx context.Context) {
	for _, name := range r.names() {
		r.Probe(ctx, name)
	}
}

func (r *Registry) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.mirrors))
	for name := range r.mirrors {
		names = append(names, name)
	}
	return names
}

func (r *Registry) recordProbe(m *domain.Mirror, elapsed time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m.LastResponseTime = elapsed
	m.LastCheckedAt = time.Now()
	m.RecordAttempt(ok)

	switch {
	case !ok:
		m.Status = domain.MirrorUnreachable
	case elapsed < r.opts.HealthyThreshold:
		m.Status = domain.MirrorHealthy
	default:
		m.Status = domain.MirrorSlow
	}
	metrics.MirrorProbes.WithLabelValues(string(m.Status)).Inc()
}

// BestCandidates returns up to n mirrors ordered by priority, success
// rate and response time, excluding any currently unreachable.
func (r *Registry) BestCandidates(n int) []domain.Mirror {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := make([]domain.Mirror, 0, len(r.mirrors))
	for _, m := range r.mirrors {
		if m.Available() {
			candidates = append(candidates, *m)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		return a.LastResponseTime < b.LastResponseTime
	})

	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}

// RecordResult updates a mirror's counters after a real transfer
// attempt against it.
func (r *Registry) RecordResult(name string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, found := r.mirrors[name]; found {
		m.RecordAttempt(ok)
		if !ok && m.SuccessRate == 0 {
			m.Status = domain.MirrorUnreachable
		}
	}
}

// Summary is an aggregate view of registry health.
type Summary struct {
	Total       int
	Healthy     int
	Slow        int
	Unreachable int
}

// Summary counts the registered mirrors by status.
func (r *Registry) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Summary{Total: len(r.mirrors)}
	for _, m := range r.mirrors {
		switch m.Status {
		case domain.MirrorHealthy:
			s.Healthy++
		case domain.MirrorSlow:
			s.Slow++
		case domain.MirrorUnreachable:
			s.Unreachable++
		}
	}
	return s
}

// Mirrors returns a copy of every registered mirror's current state.
func (r *Registry) Mirrors() []domain.Mirror {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Mirror, 0, len(r.mirrors))
	for _, m := range r.mirrors {
		out = append(out, *m)
	}
	return out
}

// Mirror returns a copy of the named mirror's current state.
func (r *Registry) Mirror(name string) (domain.Mirror, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mirrors[name]
	if !ok {
		return domain.Mirror{}, false
	}
	return *m, true
}

// Rewrite maps rawURL onto the mirror by substituting scheme and host
// while preserving path and query.
func Rewrite(m domain.Mirror, rawURL string) (string, error) {
	src, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	base, err := url.Parse(m.BaseURL)
	if err != nil {
		return "", err
	}
	src.Scheme = base.Scheme
	src.Host = base.Host
	return src.String(), nil
}
