package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/davsync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration for a root after all overrides",
		RunE:  runConfigShow,
	}
}

// runConfigShow resolves the --root selector (or the sole configured root)
// through the full four-layer override chain and prints it, mirroring the
// teacher's "config show" but over davsync's flat root namespace instead of
// a per-account/per-drive hierarchy.
func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	resolved, err := resolveOneRoot(cc)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(resolved)
	}

	return config.RenderEffective(resolved, os.Stdout)
}
