package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unlike the teacher's two-pass decode (drive sections
// needed manual extraction because canonical IDs contain ":", not a valid
// bare TOML key), root sections are plain names and decode directly via the
// Roots field's "root" toml tag. Unknown keys are treated as fatal errors
// with "did you mean?" suggestions.
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", "path", path)

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	// Global settings are flat top-level keys, so decode through a view that
	// embeds every section (BurntSushi flattens anonymous struct fields).
	flat := struct {
		Roots map[string]Root `toml:"root"`
		FilterConfig
		TransfersConfig
		SafetyConfig
		SyncConfig
		LoggingConfig
		NetworkConfig
	}{cfg.Roots, cfg.Filter, cfg.Transfers, cfg.Safety, cfg.Sync, cfg.Logging, cfg.Network}

	md, err := toml.Decode(string(data), &flat)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.Roots, cfg.Filter, cfg.Transfers = flat.Roots, flat.FilterConfig, flat.TransfersConfig
	cfg.Safety, cfg.Sync, cfg.Logging, cfg.Network = flat.SafetyConfig, flat.SyncConfig, flat.LoggingConfig, flat.NetworkConfig

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config file parsed successfully", "path", path, "root_count", len(cfg.Roots))

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values. This supports the zero-config
// first-run experience: users can start without creating a config file.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("config file not found, using defaults", "path", path)

		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// CLIOverrides holds values that came from command-line flags, which take
// priority over both the config file and environment variables.
type CLIOverrides struct {
	ConfigPath string
	Root       string
	DryRun     *bool
}

// ResolveRoot loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags. It returns
// the fully resolved root configuration and the raw parsed config.
func ResolveRoot(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*ResolvedRoot, *Config, error) {
	cfgPath := ResolveConfigPath(env, cli, logger)

	cfg, err := LoadOrDefault(cfgPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	selector := env.Root
	if cli.Root != "" {
		selector = cli.Root
	}

	logger.Debug("root selector resolved", "selector", selector, "source_env", env.Root, "source_cli", cli.Root)

	name, root, err := MatchRoot(cfg, selector)
	if err != nil {
		return nil, nil, err
	}

	resolved := buildResolvedRoot(cfg, name, &root)

	if cli.DryRun != nil {
		resolved.DryRun = *cli.DryRun
		logger.Debug("CLI override applied", "dry_run", resolved.DryRun)
	}

	if err := ValidateResolved(resolved); err != nil {
		return nil, nil, fmt.Errorf("config validation: %w", err)
	}

	return resolved, cfg, nil
}

// ResolveConfigPath determines the config file path using the three-layer
// priority: CLI flag > environment variable > platform default.
func ResolveConfigPath(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) string {
	cfgPath := DefaultConfigPath()
	source := "default"

	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
		source = "env"
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
		source = "cli"
	}

	logger.Debug("config path resolved", "path", cfgPath, "source", source)

	return cfgPath
}
