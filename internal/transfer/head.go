package transfer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/akwieck/envfetch/internal/domain"
)

// RemoteInfo describes a remote file without downloading it.
type RemoteInfo struct {
	Size          int64
	ContentType   string
	AcceptsRanges bool
	ETag          string
	LastModified  time.Time
	Filename      string
}

var filenameRe = regexp.MustCompile(`filename\*?=([^;]+)`)

// Head fetches metadata for a URL via a HEAD request.
func (c *Client) Head(ctx context.Context, rawURL string) (*RemoteInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, domain.NewTransferError(domain.FailureResource, rawURL, 0, err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		c.stats.NetworkError()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewTransferError(domain.FailureTransient, rawURL, 0, err)
	}
	resp.Body.Close()

	if class := domain.ClassifyStatus(resp.StatusCode); class != "" {
		return nil, domain.NewTransferError(class, rawURL, resp.StatusCode,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	info := &RemoteInfo{
		Size:          resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
		AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
		ETag:          cleanETag(resp.Header.Get("ETag")),
		Filename:      filenameFrom(resp.Header.Get("Content-Disposition"), rawURL),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			info.LastModified = t
		}
	}
	return info, nil
}

// filenameFrom extracts a filename from Content-Disposition, falling
// back to the last URL path segment.
func filenameFrom(disposition, rawURL string) string {
	if m := filenameRe.FindStringSubmatch(disposition); m != nil {
		return strings.Trim(strings.TrimSpace(m[1]), `"'`)
	}
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "." && name != "/" {
			return name
		}
	}
	return "download"
}

// cleanETag strips the weak-validator prefix and quotes from an ETag.
func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}
