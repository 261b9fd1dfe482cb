package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tonimelisma/davsync/internal/webdav"
)

// credentialFilePerms restricts credential files to owner-only read/write,
// matching the teacher's tokenfile.FilePerms — a credential file is just as
// sensitive as an OAuth token file.
const credentialFilePerms = 0o600

// basicCredential is the on-disk format for a root's credential_file: HTTP
// Basic Auth, the one authentication scheme spec §6 assumes any WebDAV
// server supports. Acquiring these values (prompting the user, a keychain
// integration, OAuth) is explicitly out of scope (spec §1 Non-goals) — this
// package only loads and applies what's already on disk.
type basicCredential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loadCredential reads path and returns a webdav.CredentialProvider that
// signs requests with HTTP Basic Auth.
func loadCredential(path string) (webdav.CredentialProvider, error) {
	if path == "" {
		return nil, errors.New("no credential_file configured for this root")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading credential file %s: %w", path, err)
	}

	var bc basicCredential
	if err := json.Unmarshal(data, &bc); err != nil {
		return nil, fmt.Errorf("parsing credential file %s: %w", path, err)
	}

	if bc.Username == "" {
		return nil, fmt.Errorf("credential file %s: missing username", path)
	}

	return &basicAuthCredential{username: bc.Username, password: bc.Password}, nil
}

// saveCredential writes a Basic Auth credential file atomically with
// owner-only permissions, mirroring the teacher's tokenfile.Save.
func saveCredential(path, username, password string) error {
	data, err := json.MarshalIndent(basicCredential{Username: username, Password: password}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credential file: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating credential directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credential-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp credential file: %w", err)
	}

	tmpPath := tmp.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing credential file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing credential file: %w", err)
	}

	if err := os.Chmod(tmpPath, credentialFilePerms); err != nil {
		return fmt.Errorf("setting credential file permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming credential file: %w", err)
	}

	succeeded = true

	return nil
}

// basicAuthCredential implements webdav.CredentialProvider over HTTP Basic
// Auth. Grounded on the teacher's graph.Client TokenSource contract, thinned
// to match webdav.CredentialProvider's narrower interface (spec §6
// "Authentication... opaque to the core").
type basicAuthCredential struct {
	username string
	password string
}

func (b *basicAuthCredential) Authorize(req *http.Request) error {
	req.SetBasicAuth(b.username, b.password)

	return nil
}

// Invalid reports credential invalidation on 401/403, the two status codes
// a WebDAV server uses to reject bad Basic Auth (spec §5 "on invalidation
// the run ends with error and the folder is paused").
func (b *basicAuthCredential) Invalid(err error) bool {
	return errors.Is(err, webdav.ErrUnauthorized) || errors.Is(err, webdav.ErrForbidden)
}
