package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/davsync/internal/config"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show all configured sync roots and their state",
		Long: `Display the status of every configured sync root: server, local directory,
and paused/ready state. Reads from config only — does not contact the
server or open the journal.`,
		RunE: runStatus,
	}
}

// statusRoot is the JSON/text representation of one root's status.
type statusRoot struct {
	Name       string `json:"name"`
	ServerURL  string `json:"server_url"`
	RemotePath string `json:"remote_path"`
	SyncDir    string `json:"sync_dir"`
	State      string `json:"state"`
}

const (
	rootStatePaused = "paused"
	rootStateReady  = "ready"
)

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	resolved, err := config.ResolveRoots(cc.Cfg, nil, true)
	if err != nil {
		return fmt.Errorf("resolving roots: %w", err)
	}

	if len(resolved) == 0 {
		fmt.Println("No sync roots configured. Add one with 'davsync root add'.")
		return nil
	}

	statuses := make([]statusRoot, 0, len(resolved))

	for _, rr := range resolved {
		state := rootStateReady
		if rr.Paused {
			state = rootStatePaused
		}

		statuses = append(statuses, statusRoot{
			Name: rr.Name, ServerURL: rr.ServerURL, RemotePath: rr.RemotePath,
			SyncDir: rr.SyncDir, State: state,
		})
	}

	if cc.Flags.JSON {
		return printStatusJSON(statuses)
	}

	printStatusText(statuses)

	return nil
}

func printStatusJSON(statuses []statusRoot) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(statuses); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printStatusText(statuses []statusRoot) {
	headers := []string{"NAME", "SERVER", "SYNC_DIR", "STATE"}
	rows := make([][]string, len(statuses))

	for i, s := range statuses {
		rows[i] = []string{s.Name, s.ServerURL + s.RemotePath, s.SyncDir, s.State}
	}

	printTable(os.Stdout, headers, rows)
}
