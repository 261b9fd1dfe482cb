package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/davsync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Flags bundles every persistent CLI flag, bound in newRootCmd. Grouping
// them in one struct (rather than threading each through every RunE) is the
// teacher's CLIContext.Flags pattern.
type Flags struct {
	ConfigPath string
	Root       string
	JSON       bool
	Verbose    bool
	Debug      bool
	Quiet      bool
}

var flags Flags

// skipConfigAnnotation marks commands that handle config loading themselves
// (or need none at all, like the "root" command group, which has no action
// of its own).
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles the parsed config and logger built once in
// PersistentPreRunE, eliminating redundant config loads in RunE handlers.
type CLIContext struct {
	Cfg     *config.Config
	CfgPath string
	Logger  *slog.Logger
	Flags   Flags
}

type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

// mustCLIContext extracts the CLIContext or panics. Panics are always
// programmer errors — the command tree guarantees PersistentPreRunE has run.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — ensure the command " +
			"does not skip config loading (no skipConfigAnnotation)")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "davsync",
		Short:         "Bidirectional WebDAV sync client",
		Long:          "A fast, safe bidirectional file-sync client for WebDAV servers.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flags.Root, "root", "", "root selector (name from config)")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newRootMgmtCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVerifyCmd())

	return cmd
}

// loadConfig reads the config file (or defaults, if absent) and stores it in
// the command's context for use by subcommands. Unlike the teacher, this
// does not resolve a single root here — most commands either operate across
// every root (status) or resolve their own root selector via
// config.ResolveRoot, since --root may not even be the right selector for
// every command (e.g. "root add" has no root to resolve yet).
func loadConfig(cmd *cobra.Command) error {
	logger := buildLogger(nil)

	cfgPath := config.ResolveConfigPath(
		config.ReadEnvOverrides(),
		config.CLIOverrides{ConfigPath: flags.ConfigPath},
		logger,
	)

	cfg, err := config.LoadOrDefault(cfgPath, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cc := &CLIContext{Cfg: cfg, CfgPath: cfgPath, Logger: logger, Flags: flags}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// resolveOneRoot resolves the CLI's --root selector (or config's lone root)
// against cc's already-loaded config path, applying the full four-layer
// override chain.
func resolveOneRoot(cc *CLIContext) (*config.ResolvedRoot, error) {
	resolved, _, err := config.ResolveRoot(
		config.ReadEnvOverrides(),
		config.CLIOverrides{ConfigPath: cc.CfgPath, Root: cc.Flags.Root},
		cc.Logger,
	)

	return resolved, err
}

// buildLogger creates an slog.Logger gated by isatty, matching format.go's
// TTY-aware text formatting: colorized tint output on a terminal, plain
// structured text otherwise (e.g. when redirected to a log file).
func buildLogger(cfg *config.LoggingConfig) *slog.Logger {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	// CLI flags override config (highest priority); mutually exclusive.
	switch {
	case flags.Debug:
		level = slog.LevelDebug
	case flags.Verbose:
		level = slog.LevelInfo
	case flags.Quiet:
		level = slog.LevelError
	}

	if isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level}))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
