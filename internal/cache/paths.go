package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Key returns the stable cache key for a source URL.
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// contentPath maps a URL to its content file, sharded by key prefix so
// no single directory accumulates every cached file.
func (s *Store) contentPath(url string) string {
	key := Key(url)
	return filepath.Join(s.rootDir, "files", key[:2], key[2:4], key)
}

// copyFile copies src to dst, replacing dst if it exists.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return 0, err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return 0, err
	}
	return n, nil
}

// CopyFile copies src to dst, creating parent directories for dst.
// Used to materialize cache hits at a task's destination path.
func CopyFile(src, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	return copyFile(src, dst)
}

// parseMaxAge extracts the max-age value from a Cache-Control header.
func parseMaxAge(cacheControl string) (time.Duration, bool) {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(directive)
		if v, found := strings.CutPrefix(directive, "max-age="); found {
			secs, err := strconv.ParseInt(v, 10, 64)
			if err != nil || secs < 0 {
				return 0, false
			}
			return time.Duration(secs) * time.Second, true
		}
	}
	return 0, false
}
