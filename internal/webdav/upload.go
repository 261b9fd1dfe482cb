package webdav

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

// ChunkAlignment mirrors the teacher's 320 KiB Graph alignment constant —
// ownCloud's chunking dialects have no such hard alignment requirement, but
// keeping upload chunks a multiple of it avoids needless small writes and
// matches the one piece of chunking wisdom the teacher encodes.
const ChunkAlignment = 320 * 1024

// DefaultChunkSize is the baseline chunk size (spec §4.6 "10 MiB
// default"); resolveChunkSize clamps it to the server's advertised
// [MinChunkSize, MaxChunkSize].
const DefaultChunkSize = 10 * 1024 * 1024

// CreateUploadSession starts a chunked upload for a file of the given size,
// targeting destPath, using whichever dialect caps.ChunkingDialect selects
// (spec §6 "the engine uses whichever chunked dialect the server advertises").
func (c *Client) CreateUploadSession(ctx context.Context, destPath string, size int64, caps Capabilities) (*UploadSession, error) {
	switch caps.ChunkingDialect {
	case DialectNumberedChunks:
		return c.createNumberedChunkSession(ctx, destPath, size)
	case DialectServerOffsets:
		return c.createOffsetChunkSession(ctx, destPath, size)
	case DialectResumableToken:
		return c.createResumableTokenSession(ctx, destPath, size)
	default:
		return nil, fmt.Errorf("webdav: unknown chunking dialect %d", caps.ChunkingDialect)
	}
}

// createNumberedChunkSession implements ownCloud chunking v1: chunks are
// PUT to a per-upload "/uploads/chunking-<transferID>" collection, each
// named "<index>-<length>" with index 0..N-1; a final MOVE assembles them at
// destPath.
func (c *Client) createNumberedChunkSession(ctx context.Context, destPath string, size int64) (*UploadSession, error) {
	transferID := uuid.NewString()
	folder := fmt.Sprintf("/uploads/chunking-%s", transferID)

	if err := c.MkCol(ctx, folder); err != nil {
		return nil, fmt.Errorf("webdav: creating chunk assembly folder for %s: %w", destPath, err)
	}

	return &UploadSession{SessionURL: folder, Dialect: DialectNumberedChunks, TransferID: transferID}, nil
}

// createOffsetChunkSession implements ownCloud chunking v2 / NG: the client
// creates an upload folder named by a fresh UUID; chunks are PUT keyed by their byte offset
// rather than a sequence number, letting the server reassemble out of order.
func (c *Client) createOffsetChunkSession(ctx context.Context, destPath string, size int64) (*UploadSession, error) {
	transferID := uuid.NewString()
	folder := fmt.Sprintf("/uploads/%s", transferID)

	if err := c.MkCol(ctx, folder); err != nil {
		return nil, fmt.Errorf("webdav: creating NG chunk upload folder for %s: %w", destPath, err)
	}

	return &UploadSession{SessionURL: folder, Dialect: DialectServerOffsets, TransferID: transferID}, nil
}

// createResumableTokenSession implements the token-based dialect (spec's
// "open questions" preferred choice): a single POST allocates an opaque
// resumable-upload token that subsequent PATCH requests target with
// Content-Range bodies, closest in shape to the teacher's Graph
// CreateUploadSession (a pre-authenticated uploadUrl).
func (c *Client) createResumableTokenSession(ctx context.Context, destPath string, size int64) (*UploadSession, error) {
	resp, err := c.Do(ctx, http.MethodPost, "/uploads", nil, map[string]string{
		"OC-Total-Length": strconv.FormatInt(size, 10),
		"X-Dest-Path":     destPath,
	})
	if err != nil {
		return nil, fmt.Errorf("webdav: creating resumable upload token for %s: %w", destPath, err)
	}
	defer resp.Body.Close()

	token := resp.Header.Get("OC-Upload-Token")
	if token == "" {
		token = uuid.NewString()
	}

	return &UploadSession{SessionURL: "/uploads/" + token, Dialect: DialectResumableToken, TransferID: token}, nil
}

// UploadChunk uploads one chunk of an in-progress session. offset/length
// describe the chunk's position in the overall file; index is only
// meaningful for DialectNumberedChunks. Returns nil once the server has
// accepted the chunk; the caller calls Finalize after the last one.
func (c *Client) UploadChunk(ctx context.Context, session *UploadSession, index int, chunk io.ReaderAt, offset, length, total int64) error {
	switch session.Dialect {
	case DialectNumberedChunks:
		path := fmt.Sprintf("%s/%d-%d", session.SessionURL, index, length)
		_, err := c.Put(ctx, path, io.NewSectionReader(chunk, 0, length), length, "", "")

		return err

	case DialectServerOffsets:
		path := fmt.Sprintf("%s/%d", session.SessionURL, offset)
		_, err := c.Put(ctx, path, io.NewSectionReader(chunk, 0, length), length, "", "")

		return err

	case DialectResumableToken:
		resp, err := c.Do(ctx, "PATCH", session.SessionURL, io.NewSectionReader(chunk, 0, length), map[string]string{
			"Content-Range":  fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, total),
			"Content-Length": strconv.FormatInt(length, 10),
		})
		if err != nil {
			return fmt.Errorf("webdav: PATCH chunk at offset %d: %w", offset, err)
		}
		resp.Body.Close()

		return nil

	default:
		return fmt.Errorf("webdav: unknown chunking dialect %d", session.Dialect)
	}
}

// Finalize completes a chunked upload session, assembling the uploaded
// chunks into destPath. For the numbered/offset dialects this is a MOVE of
// the assembly folder; for the token dialect the server assembles
// automatically once all bytes are PATCHed, so Finalize only confirms
// completion with a depth-0 PROPFIND of destPath.
func (c *Client) Finalize(ctx context.Context, session *UploadSession, destPath string, mtime int64) (*Entry, error) {
	switch session.Dialect {
	case DialectNumberedChunks, DialectServerOffsets:
		headers := map[string]string{"Destination": c.baseURL + destPath}
		if mtime > 0 {
			headers["X-OC-Mtime"] = strconv.FormatInt(mtime, 10)
		}

		resp, err := c.Do(ctx, "MOVE", session.SessionURL+"/.file", nil, headers)
		if err != nil {
			return nil, fmt.Errorf("webdav: finalizing chunked upload to %s: %w", destPath, err)
		}
		resp.Body.Close()

		return &Entry{Path: destPath, Kind: KindFile}, nil

	case DialectResumableToken:
		entries, err := c.List(ctx, destPath, 0)
		if err != nil {
			return nil, fmt.Errorf("webdav: confirming resumable upload completion for %s: %w", destPath, err)
		}

		if len(entries) == 0 {
			return nil, fmt.Errorf("webdav: resumable upload for %s reported no final entry", destPath)
		}

		return &entries[0], nil

	default:
		return nil, fmt.Errorf("webdav: unknown chunking dialect %d", session.Dialect)
	}
}

// CancelUploadSession aborts an in-progress chunked upload, freeing server-side state.
// Best-effort: errors are logged by the caller, never propagated as fatal.
func (c *Client) CancelUploadSession(ctx context.Context, session *UploadSession) error {
	if session.Dialect == DialectResumableToken {
		resp, err := c.Do(ctx, http.MethodDelete, session.SessionURL, nil, nil)
		if err != nil {
			return err
		}
		resp.Body.Close()

		return nil
	}

	return c.Delete(ctx, session.SessionURL)
}

// QuerySessionProgress asks the server which byte ranges of a chunked
// upload it has already received, for resume after a crash (spec §8
// "Resumable uploads" / testable property 5). Only the token dialect
// exposes this; callers for the other two dialects track progress purely
// from the journal's chunk map.
func (c *Client) QuerySessionProgress(ctx context.Context, session *UploadSession) (int64, error) {
	if session.Dialect != DialectResumableToken {
		return 0, fmt.Errorf("webdav: QuerySessionProgress unsupported for dialect %d", session.Dialect)
	}

	resp, err := c.Do(ctx, "HEAD", session.SessionURL, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("webdav: querying upload session progress: %w", err)
	}
	defer resp.Body.Close()

	uploadOffset := resp.Header.Get("Upload-Offset")
	if uploadOffset == "" {
		return 0, nil
	}

	n, parseErr := strconv.ParseInt(uploadOffset, 10, 64)
	if parseErr != nil {
		return 0, fmt.Errorf("webdav: parsing Upload-Offset %q: %w", uploadOffset, parseErr)
	}

	return n, nil
}

// resolveChunkSize starts from DefaultChunkSize, clamps it to whichever of
// MinChunkSize/MaxChunkSize the capabilities document sets (spec §4.6
// "adaptive chunk size... clamped to [min, max]"), then rounds it up to a
// multiple of ChunkAlignment.
func resolveChunkSize(caps Capabilities) int64 {
	size := int64(DefaultChunkSize)

	if caps.MinChunkSize > 0 && size < caps.MinChunkSize {
		size = caps.MinChunkSize
	}

	if caps.MaxChunkSize > 0 && size > caps.MaxChunkSize {
		size = caps.MaxChunkSize
	}

	// Round up to ChunkAlignment so intermediate chunks are alignment
	// multiples; the final chunk is whatever remains.
	if rem := size % ChunkAlignment; rem != 0 {
		size += ChunkAlignment - rem
	}

	return size
}
