package webdav

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// List issues a PROPFIND against relPath and returns the collection itself
// (Path "") followed, at depth 1, by its immediate children, matching spec
// §4.4. The custom oc:/nc:
// properties (fileid, permissions, checksums) are requested alongside the
// standard DAV ones.
func (c *Client) List(ctx context.Context, relPath string, depth int) ([]Entry, error) {
	if depth != 0 && depth != 1 {
		return nil, fmt.Errorf("webdav: unsupported PROPFIND depth %d", depth)
	}

	resp, err := c.Do(ctx, "PROPFIND", relPath, strings.NewReader(propfindBody), map[string]string{
		"Depth":        strconv.Itoa(depth),
		"Content-Type": "application/xml; charset=utf-8",
	})
	if err != nil {
		return nil, fmt.Errorf("webdav: PROPFIND %s: %w", relPath, err)
	}
	defer resp.Body.Close()

	return parseMultistatus(resp.Body, relPath)
}

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:" xmlns:oc="http://owncloud.org/ns" xmlns:nc="http://nextcloud.org/ns">
  <d:prop>
    <d:getlastmodified/>
    <d:getcontentlength/>
    <d:getetag/>
    <d:resourcetype/>
    <oc:id/>
    <oc:fileid/>
    <oc:permissions/>
    <oc:checksums/>
    <nc:is-mount-root/>
  </d:prop>
</d:propfind>`

// multistatus mirrors the subset of RFC4918 multistatus XML this engine reads.
type multistatus struct {
	XMLName   xml.Name   `xml:"multistatus"`
	Responses []response `xml:"response"`
}

type response struct {
	Href     string     `xml:"href"`
	Propstat []propstat `xml:"propstat"`
}

type propstat struct {
	Status string `xml:"status"`
	Prop   prop   `xml:"prop"`
}

type prop struct {
	LastModified string       `xml:"getlastmodified"`
	ContentLen   string       `xml:"getcontentlength"`
	ETag         string       `xml:"getetag"`
	ResourceType resourceType `xml:"resourcetype"`
	FileID       string       `xml:"fileid"`
	Permissions  string       `xml:"permissions"`
	Checksums    checksums    `xml:"checksums"`
	IsMountRoot  string       `xml:"is-mount-root"`
}

type resourceType struct {
	Collection *struct{} `xml:"collection"`
}

type checksums struct {
	Checksum []string `xml:"checksum"`
}

// parseMultistatus decodes a PROPFIND response body into Entry values,
// relative to requestPath. The self-referencing response for requestPath
// itself (the server sends the collection's own properties as the first
// <response>) is kept, with an empty Path.
func parseMultistatus(r io.Reader, requestPath string) ([]Entry, error) {
	var ms multistatus
	if err := xml.NewDecoder(r).Decode(&ms); err != nil {
		return nil, fmt.Errorf("webdav: decoding PROPFIND response: %w", err)
	}

	entries := make([]Entry, 0, len(ms.Responses))

	for _, resp := range ms.Responses {
		entry, ok, err := entryFromResponse(resp)
		if err != nil {
			return nil, err
		}

		if !ok {
			continue
		}

		entry.Path = relativizeHref(resp.Href, requestPath)
		entries = append(entries, entry)
	}

	return entries, nil
}

func entryFromResponse(resp response) (Entry, bool, error) {
	for _, ps := range resp.Propstat {
		if !strings.Contains(ps.Status, "200") {
			continue
		}

		e := Entry{
			ETag:        strings.Trim(ps.Prop.ETag, `"`),
			FileID:      ps.Prop.FileID,
			Permissions: ParsePermissions(ps.Prop.Permissions),
			IsSharedMnt: ps.Prop.IsMountRoot == "1",
		}

		if ps.Prop.ResourceType.Collection != nil {
			e.Kind = KindDirectory
		} else {
			e.Kind = KindFile
		}

		if ps.Prop.ContentLen != "" {
			size, err := strconv.ParseInt(ps.Prop.ContentLen, 10, 64)
			if err != nil {
				return Entry{}, false, fmt.Errorf("webdav: parsing content length %q: %w", ps.Prop.ContentLen, err)
			}

			e.Size = size
		}

		if ps.Prop.LastModified != "" {
			mtime, err := time.Parse(time.RFC1123, ps.Prop.LastModified)
			if err == nil {
				e.Mtime = mtime
			}
		}

		if len(ps.Prop.Checksums.Checksum) > 0 {
			e.ChecksumRaw = ps.Prop.Checksums.Checksum[0]
		}

		return e, true, nil
	}

	return Entry{}, false, nil
}

// relativizeHref strips everything up to and including the first occurrence
// of requestPath in href, leaving a path relative to the requested collection.
func relativizeHref(href, requestPath string) string {
	decoded, err := url.PathUnescape(href)
	if err != nil {
		decoded = href
	}

	decoded = strings.TrimSuffix(decoded, "/")

	idx := strings.Index(decoded, requestPath)
	if idx < 0 {
		return decoded
	}

	rel := decoded[idx+len(requestPath):]

	return strings.TrimPrefix(rel, "/")
}

// MkCol issues a MKCOL to create a directory at relPath.
func (c *Client) MkCol(ctx context.Context, relPath string) error {
	resp, err := c.Do(ctx, "MKCOL", relPath, nil, nil)
	if err != nil {
		return fmt.Errorf("webdav: MKCOL %s: %w", relPath, err)
	}
	resp.Body.Close()

	return nil
}

// Delete issues a DELETE for relPath. A 404 is treated as success by the
// caller (the sync executor's remove path), not swallowed here, so callers can
// still distinguish via errors.Is(err, ErrNotFound).
func (c *Client) Delete(ctx context.Context, relPath string) error {
	resp, err := c.Do(ctx, http.MethodDelete, relPath, nil, nil)
	if err != nil {
		return fmt.Errorf("webdav: DELETE %s: %w", relPath, err)
	}
	resp.Body.Close()

	return nil
}

// Move issues a MOVE from srcPath to dstPath (server-side rename, spec
// §4.5 move detection). overwrite controls the Overwrite header.
func (c *Client) Move(ctx context.Context, srcPath, dstPath string, overwrite bool) error {
	destHeader := c.baseURL + dstPath
	ow := "F"

	if overwrite {
		ow = "T"
	}

	resp, err := c.Do(ctx, "MOVE", srcPath, nil, map[string]string{
		"Destination": destHeader,
		"Overwrite":   ow,
	})
	if err != nil {
		return fmt.Errorf("webdav: MOVE %s -> %s: %w", srcPath, dstPath, err)
	}
	resp.Body.Close()

	return nil
}
