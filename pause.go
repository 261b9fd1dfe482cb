package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/davsync/internal/config"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause syncing for a root",
		Long: `Pause syncing for the root selected by --root (or the sole configured root).
The root stays paused until 'davsync resume' is run.

If a 'sync --watch' daemon is running, it receives a SIGHUP to pick up the
change.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runPause,
	}
}

func runPause(cmd *cobra.Command, _ []string) error {
	if cliContextFrom(cmd.Context()) == nil {
		if err := loadConfig(cmd); err != nil {
			return err
		}
	}

	cc := mustCLIContext(cmd.Context())

	name, _, err := config.MatchRoot(cc.Cfg, cc.Flags.Root)
	if err != nil {
		return err
	}

	if err := config.SetRootKey(cc.CfgPath, name, "paused", "true"); err != nil {
		return fmt.Errorf("setting paused flag: %w", err)
	}

	cc.Statusf("Root %q paused\n", name)
	notifyDaemon(cc, name)

	return nil
}

// notifyDaemon attempts to send SIGHUP to a running 'sync --watch' daemon for
// the given root so it reloads config. Non-fatal: if no daemon is running,
// prints a note.
func notifyDaemon(cc *CLIContext, rootName string) {
	pidPath := daemonPIDPath(rootName)
	if pidPath == "" {
		return
	}

	if err := sendSIGHUP(pidPath); err != nil {
		cc.Statusf("Note: %v — changes take effect on next daemon start\n", err)
	} else {
		cc.Statusf("Notified running daemon to reload config\n")
	}
}
