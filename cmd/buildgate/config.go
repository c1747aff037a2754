package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"buildgate/internal/config"
)

var configFormat string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage buildgate configuration",
	Long:  "View and manage buildgate configuration stored in .buildgate/config.json",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Display the configuration after defaults and environment overrides.
Secrets are redacted.

Examples:
  buildgate config show
  buildgate config show --format yaml
  buildgate config show --format toml`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to .buildgate/config.json",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "List active BUILDGATE_* environment overrides",
	Args:  cobra.NoArgs,
	Run:   runConfigEnv,
}

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "json", "Output format (json, yaml, toml)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configEnvCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	data, err := cfg.Render(configFormat)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	if err == nil && len(data) > 0 && data[len(data)-1] != '\n' {
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return err
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		path = config.DefaultPath(wd)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigEnv(cmd *cobra.Command, args []string) {
	overrides := envOverrides(os.Environ())
	if len(overrides) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No BUILDGATE_* overrides set.")
		return
	}
	for _, kv := range overrides {
		fmt.Fprintln(cmd.OutOrStdout(), kv)
	}
}

// envOverrides returns the BUILDGATE_* variables, sorted, with secret values masked
func envOverrides(environ []string) []string {
	prefix := config.EnvPrefix + "_"
	var out []string
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		if strings.Contains(name, "TOKEN") && value != "" {
			value = "********"
		}
		out = append(out, name+"="+value)
	}
	sort.Strings(out)
	return out
}
