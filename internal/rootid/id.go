// Package rootid provides a type-safe identity for sync roots. A davsync
// process may own several (local root, remote collection) pairs at once —
// each gets a stable RootID derived from the remote collection's base URL so
// journal rows, job-queue entries and log fields never need to carry a raw
// string URL around.
package rootid

import (
	"crypto/sha1" //nolint:gosec // used as a stable short fingerprint, not for security
	"database/sql"
	"database/sql/driver"
	"encoding"
	"encoding/hex"
	"fmt"
	"strings"
)

// shortLength is how many hex characters of the URL fingerprint are kept.
// 16 hex chars (64 bits) is ample to avoid collisions across the small
// number of roots a single process manages.
const shortLength = 16

// ID is a normalized identifier for a sync root, derived from the remote
// collection URL. The zero value (ID{}) represents an absent/unknown root.
type ID struct {
	value string
}

// New derives a RootID from a remote collection base URL. The URL is
// lowercased and trimmed of a trailing slash before hashing, so
// "https://dav.example.com/remote.php/dav/files/bob/" and the same URL
// without the trailing slash produce the same ID.
func New(remoteURL string) ID {
	if remoteURL == "" {
		return ID{}
	}

	normalized := strings.TrimSuffix(strings.ToLower(remoteURL), "/")
	sum := sha1.Sum([]byte(normalized)) //nolint:gosec // fingerprint only

	return ID{value: hex.EncodeToString(sum[:])[:shortLength]}
}

// String returns the normalized root ID string.
func (id ID) String() string {
	return id.value
}

// IsZero reports whether this is the zero-value ID.
func (id ID) IsZero() bool {
	return id.value == ""
}

// Equal reports whether two IDs refer to the same root.
func (id ID) Equal(other ID) bool {
	return id.value == other.value
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	id.value = string(text)
	return nil
}

// Scan implements sql.Scanner for reading root IDs back from SQLite.
func (id *ID) Scan(src any) error {
	if src == nil {
		*id = ID{}
		return nil
	}

	switch v := src.(type) {
	case string:
		id.value = v
		return nil
	case []byte:
		id.value = string(v)
		return nil
	default:
		return fmt.Errorf("rootid.ID.Scan: unsupported type %T", src)
	}
}

// Value implements driver.Valuer for writing root IDs to SQLite.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}

	return id.value, nil
}

var (
	_ encoding.TextMarshaler   = ID{}
	_ encoding.TextUnmarshaler = (*ID)(nil)
	_ fmt.Stringer             = ID{}
	_ driver.Valuer            = ID{}
	_ sql.Scanner              = (*ID)(nil)
)
