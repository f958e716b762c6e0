// Package transfer performs single HTTP GET transfers: streaming a
// response body to disk in chunks, resuming from a byte offset via
// range requests, and computing a running digest over the whole file.
package transfer

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
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/akwieck/envfetch/internal/domain"
	"github.com/akwieck/envfetch/internal/stats"
)

// Options configures the transfer client.
type Options struct {
	UserAgent   string
	BearerToken string
	Timeout     time.Duration
}

// Client issues transfer requests. One client is shared by all workers.
type Client struct {
	http   *http.Client
	opts   Options
	logger *zap.Logger
	stats  *stats.Statistics
}

// NewClient creates a transfer client. The timeout bounds connection
// establishment and response headers; body reads are bounded by the
// caller's context instead, so large files are not cut off mid-stream.
func NewClient(opts Options, logger *zap.Logger, st *stats.Statistics) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = domain.DefaultTimeout
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: opts.Timeout,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Client{
		http:   &http.Client{Transport: transport},
		opts:   opts,
		logger: logger,
		stats:  st,
	}
}

// Request describes one transfer attempt against one URL.
type Request struct {
	// URL is the concrete source for this attempt (the task URL or a
	// mirror rewrite).
	URL string

	// Destination is the output file. When Resumable is set and a
	// partial file exists, the attempt tries to continue from its end.
	Destination string

	HashAlgorithm string
	ChunkSize     int
	Resumable     bool

	// Progress, when set, is invoked after each chunk with the bytes
	// written so far (including any resumed prefix) and the expected
	// total, or -1 when the server sent no Content-Length.
	Progress func(written, total int64)

	// OnResponse, when set, is invoked once with the accepted
	// response's validators before the body is streamed.
	OnResponse func(etag, lastModified string)
}

// Fetch streams the URL's body into the destination file and returns
// the digest over the complete file. Failures are classified; the
// partial file survives only for resumable requests.
func (c *Client) Fetch(ctx context.Context, req Request) (*domain.TransferResult, error) {
	if req.ChunkSize <= 0 {
		req.ChunkSize = domain.DefaultChunkSize
	}
	if req.HashAlgorithm == "" {
		req.HashAlgorithm = domain.DefaultHashAlgo
	}

	if err := os.MkdirAll(filepath.Dir(req.Destination), 0o755); err != nil {
		return nil, domain.NewTransferError(domain.FailureResource, req.URL, 0, err)
	}

	offset := int64(0)
	if req.Resumable {
		if info, err := os.Stat(req.Destination); err == nil {
			offset = info.Size()
		}
	}

	resp, offset, err := c.open(ctx, req, offset)
	if err != nil {
		c.cleanup(req)
		return nil, err
	}
	defer resp.Body.Close()

	hasher, err := newHasher(req.HashAlgorithm)
	if err != nil {
		c.cleanup(req)
		return nil, domain.NewTransferError(domain.FailureResource, req.URL, 0, err)
	}

	// When resuming, the digest must cover the whole file. Prime the
	// hasher with the on-disk prefix before appending.
	if offset > 0 {
		if err := primeHash(hasher, req.Destination, offset, req.ChunkSize); err != nil {
			c.cleanup(req)
			return nil, domain.NewTransferError(domain.FailureResource, req.URL, 0, err)
		}
	}

	if req.OnResponse != nil {
		req.OnResponse(cleanETag(resp.Header.Get("ETag")), resp.Header.Get("Last-Modified"))
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	written, err := c.stream(ctx, req, resp.Body, hasher, offset, total)
	if err != nil {
		c.cleanup(req)
		return nil, err
	}

	result := &domain.TransferResult{
		Source:       req.URL,
		BytesWritten: written,
		TotalSize:    offset + written,
		Digest:       hex.EncodeToString(hasher.Sum(nil)),
		Resumed:      offset > 0,
		ContentType:  resp.Header.Get("Content-Type"),
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		CacheControl: resp.Header.Get("Cache-Control"),
	}

	c.logger.Debug("transfer complete",
		zap.String("url", req.URL),
		zap.Int64("bytes", written),
		zap.Bool("resumed", result.Resumed))

	return result, nil
}

// open issues the GET, negotiating the resume offset. A server that
// does not answer a range request with 206 forces a restart from zero.
func (c *Client) open(ctx context.Context, req Request, offset int64) (*http.Response, int64, error) {
	resp, err := c.get(ctx, req.URL, offset)
	if err != nil {
		return nil, 0, err
	}

	// A success status other than 206 means the server ignored the range
	// request and sent the whole body; 416 means the offset is past the
	// end of the resource (the partial may already be complete). Both
	// force a restart from zero: the stale partial is truncated before
	// the fresh response is accepted, so no stale leading bytes can
	// survive. Error statuses other than 416 are classified as-is, which
	// keeps the partial intact for the next retry.
	if offset > 0 && rangeIgnored(resp.StatusCode) {
		resp.Body.Close()
		if err := os.Truncate(req.Destination, 0); err != nil && !os.IsNotExist(err) {
			return nil, 0, domain.NewTransferError(domain.FailureResource, req.URL, 0, err)
		}
		c.logger.Debug("server did not honor range request, restarting from zero",
			zap.String("url", req.URL),
			zap.Int("status", resp.StatusCode))

		offset = 0
		resp, err = c.get(ctx, req.URL, 0)
		if err != nil {
			return nil, 0, err
		}
	}

	if class := domain.ClassifyStatus(resp.StatusCode); class != "" {
		status := resp.StatusCode
		resp.Body.Close()
		return nil, 0, domain.NewTransferError(class, req.URL, status,
			fmt.Errorf("unexpected status %d", status))
	}

	return resp, offset, nil
}

// rangeIgnored reports whether a reply to a range request requires a
// restart from offset zero: any success status other than 206, or 416
// when the offset is at or past the end of the resource.
func rangeIgnored(code int) bool {
	if code == http.StatusRequestedRangeNotSatisfiable {
		return true
	}
	return code >= 200 && code < 300 && code != http.StatusPartialContent
}

func (c *Client) get(ctx context.Context, url string, offset int64) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		// A request that cannot be built is a local input problem, not
		// an answer from the origin.
		return nil, domain.NewTransferError(domain.FailureResource, url, 0, err)
	}
	c.setHeaders(httpReq)
	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.stats.NetworkError()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewTransferError(domain.FailureTransient, url, 0, err)
	}
	return resp, nil
}

// stream copies the body to the destination in chunk-sized reads,
// feeding the hasher and the progress callback as it goes.
func (c *Client) stream(ctx context.Context, req Request, body io.Reader, hasher hash.Hash, offset, total int64) (int64, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if offset > 0 {
		flags = os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(req.Destination, flags, 0o644)
	if err != nil {
		return 0, domain.NewTransferError(domain.FailureResource, req.URL, 0, err)
	}

	var written int64
	buf := make([]byte, req.ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			f.Close()
			return written, err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := f.Write(buf[:n]); writeErr != nil {
				f.Close()
				return written, domain.NewTransferError(domain.FailureResource, req.URL, 0, writeErr)
			}
			hasher.Write(buf[:n])
			written += int64(n)
			c.stats.AddBytesDownloaded(int64(n))
			if req.Progress != nil {
				req.Progress(offset+written, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			f.Close()
			c.stats.NetworkError()
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			return written, domain.NewTransferError(domain.FailureTransient, req.URL, 0, readErr)
		}
	}

	if err := f.Close(); err != nil {
		return written, domain.NewTransferError(domain.FailureResource, req.URL, 0, err)
	}
	return written, nil
}

// cleanup removes the partial destination after a failed attempt unless
// the request is resumable, in which case the partial is kept for the
// next attempt.
func (c *Client) cleanup(req Request) {
	if req.Resumable {
		return
	}
	if err := os.Remove(req.Destination); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("failed to remove partial download",
			zap.String("path", req.Destination),
			zap.Error(err))
	}
}

func (c *Client) setHeaders(req *http.Request) {
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if c.opts.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.BearerToken)
	}
}

// primeHash feeds the existing on-disk prefix into the hasher.
func primeHash(hasher hash.Hash, path string, limit int64, chunkSize int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	_, err = io.CopyBuffer(hasher, io.LimitReader(f, limit), buf)
	return err
}

func newHasher(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "sha256":
		return sha256.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha512":
		return sha512.New(), nil
	case "md5":
		return md5.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
}
