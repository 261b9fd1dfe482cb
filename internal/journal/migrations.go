package journal

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrate runs all pending goose migrations against db in a single
// transaction per file, exactly as the teacher's internal/sync/migrations.go
// does. Schema version is goose's own goose_db_version table, which backs
// the spec §6 "persisted journal schema version... engine refuses to open a
// journal of a higher major version" guarantee: goose.Up refuses to apply
// migrations a newer binary already moved past, and an older binary opening
// a newer journal will simply see unapplied-in-its-view migrations it
// doesn't recognize, which callers treat as a corrupt/future journal (see
// Store.Open).
func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("journal: setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("journal: running migrations: %w", err)
	}

	return nil
}
