package domain

import "time"

// Default task parameters, applied by Normalize.
const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 30 * time.Second
	DefaultChunkSize  = 64 * 1024
	DefaultHashAlgo   = "sha256"
)

// DownloadTask describes one file to fetch. Tasks are immutable once
// submitted to the engine and are consumed exactly once.
type DownloadTask struct {
	URL              string
	Destination      string
	ExpectedHash     string
	HashAlgorithm    string
	MaxRetries       int
	Timeout          time.Duration
	ChunkSize        int
	Resumable        bool
	MirrorCandidates []string
	Priority         int
}

// Normalize returns a copy of the task with zero-valued fields replaced
// by defaults. The original task is not modified.
func (t DownloadTask) Normalize() DownloadTask {
	if t.HashAlgorithm == "" {
		t.HashAlgorithm = DefaultHashAlgo
	}
	if t.MaxRetries <= 0 {
		t.MaxRetries = DefaultMaxRetries
	}
	if t.Timeout <= 0 {
		t.Timeout = DefaultTimeout
	}
	if t.ChunkSize <= 0 {
		t.ChunkSize = DefaultChunkSize
	}
	return t
}

// Validate checks that the task carries the fields the engine cannot
// default.
func (t DownloadTask) Validate() error {
	if t.URL == "" {
		return ErrMissingURL
	}
	if t.Destination == "" {
		return ErrMissingDestination
	}
	return nil
}
