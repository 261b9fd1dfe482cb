package webdav

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// Get streams the content of relPath to w, returning the number of bytes
// written. Grounded on the teacher's internal/graph download path, adapted
// to a plain GET (no pre-signed download URL concept in WebDAV).
func (c *Client) Get(ctx context.Context, relPath string, w io.Writer) (int64, error) {
	resp, err := c.Do(ctx, http.MethodGet, relPath, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("webdav: GET %s: %w", relPath, err)
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("webdav: reading GET body for %s: %w", relPath, err)
	}

	return n, nil
}

// GetRange streams bytes [from, EOF) of relPath to w (spec §8 "Resumable
// downloads" / teacher's RangeDownloader). Returns the number of bytes
// appended.
func (c *Client) GetRange(ctx context.Context, relPath string, w io.Writer, from int64) (int64, error) {
	resp, err := c.Do(ctx, http.MethodGet, relPath, nil, map[string]string{
		"Range": "bytes=" + strconv.FormatInt(from, 10) + "-",
	})
	if err != nil {
		return 0, fmt.Errorf("webdav: ranged GET %s from %d: %w", relPath, from, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		// Server ignored the Range header and sent the whole file — the
		// caller (resumeDownload) must fall back to a fresh download.
		return 0, fmt.Errorf("webdav: server does not support range requests for %s (status %d)", relPath, resp.StatusCode)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("webdav: reading ranged GET body for %s: %w", relPath, err)
	}

	return n, nil
}

// Put uploads content as the entire body of relPath with optional
// conditional headers (spec §4.6 "If-Match on the known etag"). An empty
// ifMatch/ifNoneMatch is omitted.
func (c *Client) Put(ctx context.Context, relPath string, r io.Reader, size int64, ifMatch, ifNoneMatch string) (*Entry, error) {
	headers := map[string]string{"Content-Type": "application/octet-stream"}
	if ifMatch != "" {
		headers["If-Match"] = `"` + ifMatch + `"`
	}

	if ifNoneMatch != "" {
		headers["If-None-Match"] = ifNoneMatch
	}

	resp, err := c.Do(ctx, http.MethodPut, relPath, &sizedReader{r: r, size: size}, headers)
	if err != nil {
		return nil, fmt.Errorf("webdav: PUT %s: %w", relPath, err)
	}
	defer resp.Body.Close()

	etag := resp.Header.Get("ETag")

	return &Entry{Path: relPath, Kind: KindFile, Size: size, ETag: trimQuotes(etag)}, nil
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}

	return s
}

// sizedReader carries an explicit length alongside a generic io.Reader —
// net/http infers ContentLength only for *bytes.Reader, *bytes.Buffer and
// *strings.Reader, so Client.Do reads the length through a Len() int64
// method and assigns it to req.ContentLength itself.
type sizedReader struct {
	r    io.Reader
	size int64
}

func (s *sizedReader) Read(p []byte) (int, error) { return s.r.Read(p) }

// Len lets Client.Do set an accurate Content-Length header without type-
// switching on every possible io.Reader implementation.
func (s *sizedReader) Len() int64 { return s.size }
