package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/davsync/internal/config"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume syncing for a paused root",
		Long: `Resume syncing for the root selected by --root. Without --root, resumes
every paused root.

If a 'sync --watch' daemon is running, it receives a SIGHUP to pick up the
change.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runResume,
	}
}

func runResume(cmd *cobra.Command, _ []string) error {
	if cliContextFrom(cmd.Context()) == nil {
		if err := loadConfig(cmd); err != nil {
			return err
		}
	}

	cc := mustCLIContext(cmd.Context())

	if cc.Flags.Root != "" {
		return resumeSingleRoot(cc, cc.Flags.Root)
	}

	return resumeAllRoots(cc)
}

func resumeSingleRoot(cc *CLIContext, name string) error {
	root, exists := cc.Cfg.Roots[name]
	if !exists {
		return fmt.Errorf("root %q not found in config", name)
	}

	if !root.Paused {
		cc.Statusf("Root %q is not paused\n", name)
		return nil
	}

	if err := config.DeleteRootKey(cc.CfgPath, name, "paused"); err != nil {
		return fmt.Errorf("clearing paused flag: %w", err)
	}

	cc.Statusf("Root %q resumed\n", name)
	notifyDaemon(cc, name)

	return nil
}

func resumeAllRoots(cc *CLIContext) error {
	if len(cc.Cfg.Roots) == 0 {
		return fmt.Errorf("no sync roots configured")
	}

	resumed := 0

	for name, root := range cc.Cfg.Roots {
		if !root.Paused {
			continue
		}

		if err := config.DeleteRootKey(cc.CfgPath, name, "paused"); err != nil {
			return fmt.Errorf("resuming %s: %w", name, err)
		}

		cc.Statusf("Root %q resumed\n", name)
		notifyDaemon(cc, name)
		resumed++
	}

	if resumed == 0 {
		cc.Statusf("No paused roots found\n")
	}

	return nil
}
