package webdav

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

const userAgent = "davsync/1.0"

// CredentialProvider signs outgoing requests and reports credential
// invalidation. It is the contract spec §6 describes as "opaque to the
// core": onboarding/OAuth/keychain concerns live entirely outside this
// package. The teacher's graph.Client took a similarly opaque
// oauth2.TokenSource; here the interface is even thinner since no refresh
// logic belongs in the sync engine.
type CredentialProvider interface {
	// Authorize sets whatever headers are needed to authenticate req.
	Authorize(req *http.Request) error
	// Invalid reports whether err indicates the credential itself is no
	// longer usable (as opposed to a transient failure) — the engine
	// responds by ending the run with a fatal error (spec §7).
	Invalid(err error) bool
}

// Client is a WebDAV client bound to one collection root.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cred       CredentialProvider
	logger     *slog.Logger

	// retryBackoff is the base sequence (1,2,5,10,30s) spec §4.6 mandates
	// for transient network errors; maxAttempts caps it at 5.
	retryBackoff retry.Backoff
	maxAttempts  uint64
}

// Config configures a new Client.
type Config struct {
	BaseURL     string
	Credential  CredentialProvider
	HTTPClient  *http.Client
	Logger      *slog.Logger
	MaxAttempts uint64
}

// New creates a WebDAV client for baseURL (the collection root, e.g.
// "https://dav.example.com/remote.php/dav/files/bob").
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute} // spec §5 default data-transfer timeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 5 // spec §4.6 "5 attempts"
	}

	// 1, 2, 5, 10, 30s sequence from spec §4.6, expressed as a fixed backoff
	// table rather than an exponential formula since the sequence isn't a
	// clean power series.
	backoffSeq := []time.Duration{
		1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second,
	}

	return &Client{
		httpClient:   httpClient,
		baseURL:      cfg.BaseURL,
		cred:         cfg.Credential,
		logger:       logger,
		retryBackoff: tableBackoff(backoffSeq),
		maxAttempts:  maxAttempts,
	}
}

// tableBackoff returns a retry.Backoff that walks a fixed table of
// durations and then repeats the last entry forever.
func tableBackoff(table []time.Duration) retry.Backoff {
	i := 0

	return retry.BackoffFunc(func() (time.Duration, bool) {
		d := table[i]
		if i < len(table)-1 {
			i++
		}

		return d, false
	})
}

// Do issues an authenticated request with retry for transient failures
// (§4.6: network errors, 429, 5xx except 507). A 423 Locked is surfaced as
// ErrLocked without retry — the caller parks the item on the soft
// blacklist (spec §4.1 error blacklist, category soft_local).
func (c *Client) Do(ctx context.Context, method, relPath string, body io.Reader, headers map[string]string) (*http.Response, error) {
	var resp *http.Response

	b := retry.WithMaxRetries(c.maxAttempts, c.retryBackoff)

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+relPath, body)
		if err != nil {
			return fmt.Errorf("webdav: building request: %w", err)
		}

		req.Header.Set("User-Agent", userAgent)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		if sized, ok := body.(interface{ Len() int64 }); ok {
			req.ContentLength = sized.Len()
		}

		if c.cred != nil {
			if authErr := c.cred.Authorize(req); authErr != nil {
				return fmt.Errorf("webdav: authorizing request: %w", authErr)
			}
		}

		r, doErr := c.httpClient.Do(req)
		if doErr != nil {
			c.logger.Warn("webdav: request failed, retrying", slog.String("method", method), slog.String("path", relPath), slog.String("error", doErr.Error()))
			return retry.RetryableError(doErr)
		}

		if r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices {
			resp = r
			return nil
		}

		errBody, _ := io.ReadAll(r.Body) //nolint:errcheck // best-effort for diagnostics
		r.Body.Close()

		werr := &Error{StatusCode: r.StatusCode, RequestID: r.Header.Get("X-Request-Id"), Message: string(errBody), Err: classifyStatus(r.StatusCode)}

		if c.cred != nil && c.cred.Invalid(werr) {
			return werr // fatal: credential invalidation never retries (spec §7)
		}

		if werr.Retryable() {
			c.logger.Warn("webdav: transient error, retrying", slog.Int("status", r.StatusCode), slog.String("path", relPath))
			return retry.RetryableError(werr)
		}

		return werr
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}
