package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/akwieck/envfetch/internal/domain"
)

func TestProbe_Statuses(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	r := New(Options{
		ProbeTimeout:     time.Second,
		HealthyThreshold: 10 * time.Millisecond,
	}, zap.NewNop())

	ctx := context.Background()
	r.AddMirror(ctx, "healthy", healthy.URL, 1)
	r.AddMirror(ctx, "slow", slow.URL, 1)
	r.AddMirror(ctx, "failing", failing.URL, 1)
	r.AddMirror(ctx, "unreachable", "http://127.0.0.1:1", 1)

	tests := []struct {
		name string
		want domain.MirrorStatus
	}{
		{"healthy", domain.MirrorHealthy},
		{"slow", domain.MirrorSlow},
		{"failing", domain.MirrorUnreachable},
		{"unreachable", domain.MirrorUnreachable},
	}
	for _, tt := range tests {
		m, ok := r.Mirror(tt.name)
		if !ok {
			t.Fatalf("mirror %q not registered", tt.name)
		}
		if m.Status != tt.want {
			t.Errorf("mirror %q status = %q, want %q", tt.name, m.Status, tt.want)
		}
	}
}

func TestBestCandidates_Ordering(t *testing.T) {
	r := New(DefaultOptions(), zap.NewNop())

	r.register(&domain.Mirror{Name: "low-priority", BaseURL: "http://a", Priority: 1,
		Status: domain.MirrorHealthy, SuccessRate: 1.0})
	r.register(&domain.Mirror{Name: "high-priority", BaseURL: "http://b", Priority: 5,
		Status: domain.MirrorHealthy, SuccessRate: 0.5})
	r.register(&domain.Mirror{Name: "dead", BaseURL: "http://c", Priority: 9,
		Status: domain.MirrorUnreachable})
	r.register(&domain.Mirror{Name: "fast", BaseURL: "http://d", Priority: 1,
		Status: domain.MirrorHealthy, SuccessRate: 1.0, LastResponseTime: time.Millisecond})
	r.register(&domain.Mirror{Name: "slow", BaseURL: "http://e", Priority: 1,
		Status: domain.MirrorSlow, SuccessRate: 1.0, LastResponseTime: time.Second})

	got := r.BestCandidates(10)

	if len(got) != 4 {
		t.Fatalf("got %d candidates, want 4 (unreachable excluded)", len(got))
	}
	if got[0].Name != "high-priority" {
		t.Errorf("first candidate = %q, want high-priority", got[0].Name)
	}
	for _, m := range got {
		if m.Name == "dead" {
			t.Error("unreachable mirror offered as candidate")
		}
	}

	// Equal priority and success rate fall back to response time.
	var fastIdx, slowIdx int
	for i, m := range got {
		switch m.Name {
		case "fast":
			fastIdx = i
		case "slow":
			slowIdx = i
		}
	}
	if fastIdx > slowIdx {
		t.Error("faster mirror ranked below slower one")
	}
}

func TestBestCandidates_Truncates(t *testing.T) {
	r := New(DefaultOptions(), zap.NewNop())
	for _, name := range []string{"a", "b", "c", "d"} {
		r.register(&domain.Mirror{Name: name, BaseURL: "http://" + name, Status: domain.MirrorHealthy})
	}
	if got := r.BestCandidates(2); len(got) != 2 {
		t.Errorf("got %d candidates, want 2", len(got))
	}
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirrors.json")
	seed := `{"mirrors":[
		{"name":"eu","base_url":"https://eu.example.com","priority":2},
		{"name":"","base_url":"https://skipped.example.com","priority":1},
		{"name":"us","base_url":"https://us.example.com","priority":1}
	]}`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(DefaultOptions(), zap.NewNop())
	if err := r.LoadSeedFile(path); err != nil {
		t.Fatalf("LoadSeedFile() error = %v", err)
	}

	if m, ok := r.Mirror("eu"); !ok || m.Priority != 2 {
		t.Errorf("eu mirror = %+v, ok = %v", m, ok)
	}
	if _, ok := r.Mirror("us"); !ok {
		t.Error("us mirror not registered")
	}
	if _, ok := r.Mirror(""); ok {
		t.Error("nameless mirror was registered")
	}
}

func TestLoadSeedFile_MissingIsNotAnError(t *testing.T) {
	r := New(DefaultOptions(), zap.NewNop())
	if err := r.LoadSeedFile(filepath.Join(t.TempDir(), "absent.json")); err != nil {
		t.Errorf("missing seed file should not error, got %v", err)
	}
}

func TestNewWithDefaults_SeedsOrigins(t *testing.T) {
	r := NewWithDefaults(DefaultOptions(), zap.NewNop())
	for _, name := range []string{"github", "github_api"} {
		if _, ok := r.Mirror(name); !ok {
			t.Errorf("default mirror %q missing", name)
		}
	}
}

func TestSummary(t *testing.T) {
	r := New(DefaultOptions(), zap.NewNop())
	r.register(&domain.Mirror{Name: "a", BaseURL: "http://a", Status: domain.MirrorHealthy})
	r.register(&domain.Mirror{Name: "b", BaseURL: "http://b", Status: domain.MirrorHealthy})
	r.register(&domain.Mirror{Name: "c", BaseURL: "http://c", Status: domain.MirrorSlow})
	r.register(&domain.Mirror{Name: "d", BaseURL: "http://d", Status: domain.MirrorUnreachable})
	r.register(&domain.Mirror{Name: "e", BaseURL: "http://e", Status: domain.MirrorUnknown})

	got := r.Summary()
	if got.Total != 5 {
		t.Errorf("Total = %d, want 5", got.Total)
	}
	if got.Healthy != 2 {
		t.Errorf("Healthy = %d, want 2", got.Healthy)
	}
	if got.Slow != 1 || got.Unreachable != 1 {
		t.Errorf("Slow/Unreachable = %d/%d, want 1/1", got.Slow, got.Unreachable)
	}
}

func TestMirrors_ReturnsCopies(t *testing.T) {
	r := New(DefaultOptions(), zap.NewNop())
	r.register(&domain.Mirror{Name: "a", BaseURL: "http://a", Status: domain.MirrorHealthy})

	mirrors := r.Mirrors()
	if len(mirrors) != 1 {
		t.Fatalf("len = %d, want 1", len(mirrors))
	}
	mirrors[0].Status = domain.MirrorUnreachable

	if m, _ := r.Mirror("a"); m.Status != domain.MirrorHealthy {
		t.Error("mutating the returned slice changed registry state")
	}
}

func TestRecordResult(t *testing.T) {
	r := New(DefaultOptions(), zap.NewNop())
	r.register(&domain.Mirror{Name: "m", BaseURL: "http://m", Status: domain.MirrorHealthy})

	r.RecordResult("m", true)
	r.RecordResult("m", false)

	m, _ := r.Mirror("m")
	if m.TotalRequests != 2 || m.SuccessfulRequests != 1 {
		t.Errorf("counters = %d/%d, want 2/1", m.TotalRequests, m.SuccessfulRequests)
	}
	if m.SuccessRate != 0.5 {
		t.Errorf("SuccessRate = %v, want 0.5", m.SuccessRate)
	}
	if !m.Available() {
		t.Error("mirror with partial success should stay available")
	}

	// Total failure marks the mirror unreachable.
	r.register(&domain.Mirror{Name: "x", BaseURL: "http://x", Status: domain.MirrorHealthy})
	r.RecordResult("x", false)
	if x, _ := r.Mirror("x"); x.Available() {
		t.Error("mirror with zero success rate should be unreachable")
	}
}

func TestRewrite(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		rawURL  string
		want    string
	}{
		{
			"host swap keeps path",
			"https://mirror.example.com",
			"https://github.com/owner/repo/archive/v1.tar.gz",
			"https://mirror.example.com/owner/repo/archive/v1.tar.gz",
		},
		{
			"scheme follows mirror",
			"http://insecure.example.com",
			"https://github.com/f",
			"http://insecure.example.com/f",
		},
		{
			"query preserved",
			"https://m.example.com",
			"https://github.com/f?ref=main&x=1",
			"https://m.example.com/f?ref=main&x=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Rewrite(domain.Mirror{Name: "m", BaseURL: tt.baseURL}, tt.rawURL)
			if err != nil {
				t.Fatalf("Rewrite() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Rewrite() = %q, want %q", got, tt.want)
			}
		})
	}
}
