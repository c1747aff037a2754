package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"buildgate/internal/backends/git"
	"buildgate/internal/config"
	"buildgate/internal/slogutil"
	"buildgate/internal/version"
)

var (
	configPath string
	verbosity  int
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "buildgate",
	Short: "buildgate - on-demand build and caching gateway",
	Long: `buildgate resolves a branch, tag or commit against an upstream git
repository, exports only the sources a build needs, compiles and assembles
the requested artifact on demand and serves the cached result.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("buildgate version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default: .buildgate/config.json)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress logs")
}

// loadConfig loads and validates the effective configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// cliLevel returns the level selected by -v/-q, or nil when neither was given
func cliLevel(cmd *cobra.Command) *slog.Level {
	flags := cmd.Flags()
	if !flags.Changed("verbose") && !flags.Changed("quiet") {
		return nil
	}
	level := slogutil.LevelFromVerbosity(verbosity, quiet)
	return &level
}

// newLogger builds the command logger. The returned close func releases
// any log file.
func newLogger(cmd *cobra.Command, cfg *config.Config, w io.Writer) (*slog.Logger, func(), error) {
	factory := slogutil.NewLoggerFactory(cfg.Logging, cliLevel(cmd))
	logger, err := factory.Logger(w)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logger, func() { _ = factory.Close() }, nil
}

func newSourceCache(cfg *config.Config, logger *slog.Logger) (*git.SourceCache, error) {
	return git.NewSourceCache(git.Options{
		URL:                     cfg.Repo.URL,
		Token:                   cfg.Repo.Token,
		Dir:                     cfg.Repo.Dir,
		RequiredPaths:           cfg.Repo.RequiredPaths,
		DefaultBranchCandidates: cfg.Repo.DefaultBranchCandidates,
		Logger:                  logger,
	})
}

// sourceCommand prepares config, logger and source cache for the one-shot
// git commands. Logs go to stderr so stdout stays clean.
func sourceCommand(cmd *cobra.Command) (*git.SourceCache, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, closeLog, err := newLogger(cmd, cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	source, err := newSourceCache(cfg, logger)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return source, closeLog, nil
}
