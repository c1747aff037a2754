package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
)

var sourceFormat string

var resolveCmd = &cobra.Command{
	Use:   "resolve <ref>",
	Short: "Resolve a branch, tag or commit to a full commit id",
	Long: `Resolve a ref against the local clone, fetching it from upstream when it
is not known yet. Exits non-zero when the ref does not exist.

Examples:
  buildgate resolve main
  buildgate resolve v11.4.0
  buildgate resolve 3f2a9c1`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

var exportCmd = &cobra.Command{
	Use:   "export <ref> <dir>",
	Short: "Export the required source paths of a ref into a directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runExport,
}

var catCmd = &cobra.Command{
	Use:   "cat <ref> <path>",
	Short: "Print one file as it exists at a ref",
	Args:  cobra.ExactArgs(2),
	RunE:  runCat,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch upstream and reset the local clone to the default branch",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func init() {
	resolveCmd.Flags().StringVar(&sourceFormat, "format", "human", "Output format (json, human)")
	exportCmd.Flags().StringVar(&sourceFormat, "format", "human", "Output format (json, human)")

	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(syncCmd)
}

// ResolveResponseCLI is the output of resolve
type ResolveResponseCLI struct {
	Ref    string `json:"ref"`
	Commit string `json:"commit"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	source, closeLog, err := sourceCommand(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	commit, err := source.ResolveRef(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if commit == "" {
		return fmt.Errorf("ref %q not found", args[0])
	}

	if OutputFormat(sourceFormat) == FormatJSON {
		return printJSON(cmd.OutOrStdout(), ResolveResponseCLI{Ref: args[0], Commit: commit})
	}
	fmt.Fprintln(cmd.OutOrStdout(), commit)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	source, closeLog, err := sourceCommand(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	dir, err := filepath.Abs(args[1])
	if err != nil {
		return err
	}

	result, err := source.ExportTree(cmd.Context(), args[0], dir)
	if err != nil {
		return err
	}

	if OutputFormat(sourceFormat) == FormatJSON {
		return printJSON(cmd.OutOrStdout(), result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %s (%s) to %s\n", result.Ref, shortCommit(result.Commit), dir)
	for _, p := range result.Paths {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", p)
	}
	return nil
}

func runCat(cmd *cobra.Command, args []string) error {
	source, closeLog, err := sourceCommand(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	result, err := source.ExportFile(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	if !result.Found {
		if result.Commit == "" {
			return fmt.Errorf("ref %q not found", args[0])
		}
		return fmt.Errorf("%s does not exist at %s", args[1], shortCommit(result.Commit))
	}

	_, err = cmd.OutOrStdout().Write(result.Content)
	return err
}

func runSync(cmd *cobra.Command, args []string) error {
	source, closeLog, err := sourceCommand(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	branch, err := source.SyncDefaultBranch(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Synced %s\n", branch)
	return nil
}
