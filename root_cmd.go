package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/davsync/internal/config"
)

// newRootMgmtCmd builds the "root" command group: add/list/remove. Named
// distinctly from newRootCmd (the cobra program root) to avoid confusion —
// this is the root *sync root* management command, the davsync analogue of
// the teacher's "drive add/list/remove", generalized from a two-level
// account/drive hierarchy to one flat namespace of (local dir, WebDAV
// collection) pairs.
func newRootMgmtCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "root",
		Short:       "Manage sync roots",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
	}

	cmd.AddCommand(newRootAddCmd())
	cmd.AddCommand(newRootListCmd())
	cmd.AddCommand(newRootRemoveCmd())

	return cmd
}

func newRootAddCmd() *cobra.Command {
	var serverURL, remotePath, syncDir, username, password, credentialFile string

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a new sync root",
		Long: `Add a new (local directory, remote WebDAV collection) pair under the given
name. The name becomes the "[root.NAME]" section in the config file and the
default target of --root on every other command when it's the only one.

Examples:
  davsync root add work --server-url https://dav.example.com --username alice --password secret
  davsync root add home --server-url https://dav.example.com --remote-path /home --sync-dir ~/davsync-home`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRootAdd(cmd, args[0], serverURL, remotePath, syncDir, username, password, credentialFile)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server-url", "", "WebDAV server base URL (required)")
	cmd.Flags().StringVar(&remotePath, "remote-path", "/", "remote collection path within the server")
	cmd.Flags().StringVar(&syncDir, "sync-dir", "", "local directory to sync (default: ~/davsync/<name>)")
	cmd.Flags().StringVar(&username, "username", "", "Basic Auth username")
	cmd.Flags().StringVar(&password, "password", "", "Basic Auth password")
	cmd.Flags().StringVar(&credentialFile, "credential-file", "", "path to an existing credential file (alternative to --username/--password)")

	if err := cmd.MarkFlagRequired("server-url"); err != nil {
		panic(err)
	}

	return cmd
}

func runRootAdd(cmd *cobra.Command, name, serverURL, remotePath, syncDir, username, password, credentialFile string) error {
	cc := mustCLIContext(cmd.Context())

	if !config.ValidRootName(name) {
		return fmt.Errorf("root name %q must contain only letters, digits, underscores and dashes", name)
	}

	if _, exists := cc.Cfg.Roots[name]; exists {
		return fmt.Errorf("root %q already exists in config", name)
	}

	if syncDir == "" {
		syncDir = config.DefaultSyncDir(name, existingSyncDirs(cc.Cfg))
	}

	if credentialFile == "" && username != "" {
		var err error

		credentialFile, err = defaultCredentialPath(name)
		if err != nil {
			return err
		}

		if err := saveCredential(credentialFile, username, password); err != nil {
			return fmt.Errorf("saving credential file: %w", err)
		}
	}

	if _, statErr := os.Stat(cc.CfgPath); os.IsNotExist(statErr) {
		if err := config.CreateConfigWithRoot(cc.CfgPath, name, serverURL, remotePath, syncDir); err != nil {
			return fmt.Errorf("creating config file: %w", err)
		}
	} else {
		if err := config.AppendRootSection(cc.CfgPath, name, serverURL, remotePath, syncDir); err != nil {
			return fmt.Errorf("appending root section: %w", err)
		}
	}

	if credentialFile != "" {
		if err := config.SetRootKey(cc.CfgPath, name, "credential_file", credentialFile); err != nil {
			return fmt.Errorf("recording credential_file: %w", err)
		}
	}

	cc.Statusf("Added root %q (%s%s -> %s)\n", name, serverURL, remotePath, syncDir)

	return nil
}

// existingSyncDirs collects every currently configured root's sync_dir, used
// to disambiguate a newly generated default.
func existingSyncDirs(cfg *config.Config) []string {
	dirs := make([]string, 0, len(cfg.Roots))
	for _, r := range cfg.Roots {
		if r.SyncDir != "" {
			dirs = append(dirs, r.SyncDir)
		}
	}

	return dirs
}

// defaultCredentialPath returns the platform data directory path for a
// newly created root's credential file.
func defaultCredentialPath(name string) (string, error) {
	dataDir := config.DefaultDataDir()
	if dataDir == "" {
		return "", fmt.Errorf("cannot determine data directory for credential storage")
	}

	return dataDir + "/credentials/" + config.SanitizePathComponent(name) + ".json", nil
}

func newRootListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured sync roots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			names := make([]string, 0, len(cc.Cfg.Roots))
			for name := range cc.Cfg.Roots {
				names = append(names, name)
			}

			sort.Strings(names)

			if len(names) == 0 {
				fmt.Println("No sync roots configured. Add one with 'davsync root add'.")
				return nil
			}

			headers := []string{"NAME", "SERVER", "SYNC_DIR", "PAUSED"}
			rows := make([][]string, 0, len(names))

			for _, name := range names {
				r := cc.Cfg.Roots[name]
				rows = append(rows, []string{name, r.ServerURL + r.RemotePath, r.SyncDir, fmt.Sprintf("%t", r.Paused)})
			}

			printTable(os.Stdout, headers, rows)

			return nil
		},
	}
}

func newRootRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a sync root from the config",
		Long: `Remove a root's section from the config file. Does not delete the local
sync directory, the journal database, or any credential file — only the
config entry itself.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			name := args[0]

			if _, exists := cc.Cfg.Roots[name]; !exists {
				return fmt.Errorf("root %q not found in config", name)
			}

			if err := config.DeleteRootSection(cc.CfgPath, name); err != nil {
				return fmt.Errorf("removing root section: %w", err)
			}

			cc.Statusf("Removed root %q from config\n", name)

			return nil
		},
	}
}
