package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/davsync/internal/journal"
)

// conflictIDPrefixLen is the number of characters of a conflict's base path
// to show truncated in table output, for readability only.
const conflictIDPrefixLen = 8

func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List unresolved sync conflicts",
		Long: `Display every conflict copy recorded in the journal for the root selected
by --root (or the sole configured root). A conflict copy is the losing
side of a same-path edit detected on both ends (spec §4.3); the winning
side keeps the original path and the copy is named "<base> (conflicted
copy <timestamp>)<ext>".`,
		RunE: runConflicts,
	}
}

// conflictJSON is the JSON-serializable representation of a conflict.
type conflictJSON struct {
	ConflictPath string  `json:"conflict_path"`
	BasePath     string  `json:"base_path"`
	DetectedAt   string  `json:"detected_at"`
	Resolved     bool    `json:"resolved"`
	ResolvedAt   *string `json:"resolved_at,omitempty"`
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	resolved, err := resolveOneRoot(cc)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}

	dbPath := resolved.StatePath()
	if dbPath == "" {
		return fmt.Errorf("cannot determine journal path for root %q", resolved.Name)
	}

	store, err := journal.Open(cmd.Context(), dbPath, cc.Logger)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer store.Close()

	conflicts, err := store.ListConflicts(cmd.Context(), resolved.RootID)
	if err != nil {
		return fmt.Errorf("listing conflicts: %w", err)
	}

	if len(conflicts) == 0 {
		fmt.Println("No conflicts recorded.")
		return nil
	}

	if cc.Flags.JSON {
		return printConflictsJSON(conflicts)
	}

	printConflictsTable(conflicts)

	return nil
}

func printConflictsJSON(conflicts []journal.ConflictRecord) error {
	items := make([]conflictJSON, len(conflicts))

	for i, c := range conflicts {
		items[i] = conflictJSON{
			ConflictPath: c.ConflictPath,
			BasePath:     c.BasePath,
			DetectedAt:   time.Unix(0, c.DetectedAt).UTC().Format(time.RFC3339),
			Resolved:     c.ResolvedAt != nil,
		}

		if c.ResolvedAt != nil {
			ts := time.Unix(0, *c.ResolvedAt).UTC().Format(time.RFC3339)
			items[i].ResolvedAt = &ts
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printConflictsTable(conflicts []journal.ConflictRecord) {
	headers := []string{"BASE", "CONFLICT COPY", "DETECTED", "STATUS"}
	rows := make([][]string, len(conflicts))

	for i, c := range conflicts {
		status := "unresolved"
		if c.ResolvedAt != nil {
			status = "resolved"
		}

		detected := time.Unix(0, c.DetectedAt).UTC().Format(time.RFC3339)

		rows[i] = []string{truncateID(c.BasePath), c.ConflictPath, detected, status}
	}

	printTable(os.Stdout, headers, rows)
}

// truncateID shortens a path for compact table display, used whenever the
// full value would overflow a column.
func truncateID(id string) string {
	if len(id) > conflictIDPrefixLen {
		return id[:conflictIDPrefixLen]
	}

	return id
}
