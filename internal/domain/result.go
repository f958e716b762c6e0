package domain

// TransferResult is what a completed transfer attempt reports upward.
type TransferResult struct {
	// Source is the URL the bytes were actually fetched from (the task
	// URL or a mirror rewrite of it).
	Source string

	// BytesWritten counts only bytes written during this session, not
	// any resumed prefix.
	BytesWritten int64

	// TotalSize is the final size of the destination file.
	TotalSize int64

	// Digest is the lowercase hex digest over the whole file.
	Digest string

	// Resumed reports whether the transfer continued a partial file.
	Resumed bool

	// ContentType, ETag and LastModified carry response metadata for
	// the cache commit.
	ContentType  string
	ETag         string
	LastModified string
	CacheControl string
}

// FetchResult is the per-task outcome returned by the engine and the
// scheduler, positionally matched to the submitted task list.
type FetchResult struct {
	Task      DownloadTask
	OK        bool
	FromCache bool
	Source    string
	Class     FailureClass
	Err       error
}
