package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"buildgate/internal/storage"
)

var (
	buildsLimit  int
	buildsRef    string
	buildsFormat string
)

var buildsCmd = &cobra.Command{
	Use:   "builds",
	Short: "Show recent build history",
	Long: `List recorded download, compile and assemble steps, newest first.

Examples:
  buildgate builds
  buildgate builds --ref main --limit 20
  buildgate builds --format json`,
	Args: cobra.NoArgs,
	RunE: runBuilds,
}

func init() {
	buildsCmd.Flags().IntVarP(&buildsLimit, "limit", "n", 50, "Maximum number of records")
	buildsCmd.Flags().StringVar(&buildsRef, "ref", "", "Only show builds of this ref")
	buildsCmd.Flags().StringVar(&buildsFormat, "format", "human", "Output format (json, human)")
	rootCmd.AddCommand(buildsCmd)
}

func runBuilds(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cmd, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := storage.Open(cfg.Storage.DBPath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	var records []storage.BuildRecord
	if buildsRef != "" {
		records, err = db.BuildsForRef(cmd.Context(), buildsRef, buildsLimit)
	} else {
		records, err = db.RecentBuilds(cmd.Context(), buildsLimit)
	}
	if err != nil {
		return err
	}

	if OutputFormat(buildsFormat) == FormatJSON {
		if records == nil {
			records = []storage.BuildRecord{}
		}
		return printJSON(cmd.OutOrStdout(), records)
	}
	return writeBuildsTable(cmd.OutOrStdout(), records)
}

func writeBuildsTable(w io.Writer, records []storage.BuildRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No builds recorded.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTEP\tSTATUS\tREF\tCOMMIT\tPATH\tDURATION")
	for _, r := range records {
		path := r.Path
		if path == "" {
			path = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Step,
			r.Status,
			r.Ref,
			shortCommit(r.Commit),
			path,
			(time.Duration(r.DurationMs) * time.Millisecond).String(),
		)
	}
	return tw.Flush()
}
