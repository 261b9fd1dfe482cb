package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConflictPath_Basic(t *testing.T) {
	at := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	got := ConflictPath("docs/report.txt", at, nil)
	assert.Equal(t, "docs/report (conflicted copy 2026-07-29 120000).txt", got)
}

func TestConflictPath_NoExtension(t *testing.T) {
	at := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	got := ConflictPath("README", at, nil)
	assert.Equal(t, "README (conflicted copy 2026-07-29 120000)", got)
}

func TestConflictPath_DisambiguatesOnCollision(t *testing.T) {
	at := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)

	taken := map[string]bool{
		"report (conflicted copy 2026-07-29 120000).txt":   true,
		"report (conflicted copy 2026-07-29 120000 2).txt": true,
	}

	got := ConflictPath("report.txt", at, func(p string) bool { return taken[p] })
	assert.Equal(t, "report (conflicted copy 2026-07-29 120000 3).txt", got)
}

func TestConflictPath_PreservesDirectory(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	got := ConflictPath("a/b/c.txt", at, nil)
	assert.Equal(t, "a/b/c (conflicted copy 2026-01-02 030405).txt", got)
}
