package cache

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/akwieck/envfetch/internal/stats"
)

func TestKey(t *testing.T) {
	a := Key("http://example.com/a")
	b := Key("http://example.com/b")

	if len(a) != 64 {
		t.Errorf("key length = %d, want 64", len(a))
	}
	if a == b {
		t.Error("distinct URLs produced the same key")
	}
	if a != Key("http://example.com/a") {
		t.Error("key is not stable")
	}
}

func TestContentPathSharding(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, 1<<20, 10, zap.NewNop(), stats.New())
	if err != nil {
		t.Fatal(err)
	}

	url := "http://example.com/archive.tar.gz"
	key := Key(url)
	got := s.contentPath(url)
	want := filepath.Join(root, "files", key[:2], key[2:4], key)
	if got != want {
		t.Errorf("contentPath = %q, want %q", got, want)
	}
	if !strings.HasPrefix(got, root) {
		t.Errorf("content path %q escapes the cache root", got)
	}
}

func TestParseMaxAge(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
		wantOK bool
	}{
		{"simple", "max-age=3600", time.Hour, true},
		{"with other directives", "public, max-age=60, immutable", time.Minute, true},
		{"zero", "max-age=0", 0, true},
		{"absent", "no-store", 0, false},
		{"empty", "", 0, false},
		{"malformed value", "max-age=soon", 0, false},
		{"negative", "max-age=-5", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseMaxAge(tt.header)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("parseMaxAge(%q) = (%v, %v), want (%v, %v)",
					tt.header, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
