package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/scribe/internal/backfill"
)

var (
	importState     string
	importSince     string
	importForce     bool
	importDryRun    bool
	importBatchSize int
)

func init() {
	importCmd.Flags().StringVar(&importState, "state", backfill.DefaultStatePath, "resumable progress file")
	importCmd.Flags().StringVar(&importSince, "since", "", "only import files modified on or after this date (YYYY-MM-DD)")
	importCmd.Flags().BoolVar(&importForce, "force", false, "archive regardless of the capture policy")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "decide only, write nothing")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", 20, "save progress every N files")

	rootCmd.AddCommand(importCmd)
}

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Import a directory of saved chat pages",
	Long: `Capture every .html/.htm page under <dir>. Progress is recorded in the
state file so an interrupted import resumes where it stopped.

Examples:
  scribe import ~/Downloads/chats
  scribe import ~/Downloads/chats --since 2025-01-01 --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if importSince != "" {
			t, err := time.Parse("2006-01-02", importSince)
			if err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			since = t
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer a.Close()

		runner := backfill.NewRunner(backfill.Config{
			Dir:       args[0],
			StatePath: importState,
			Since:     since,
			Force:     importForce,
			DryRun:    importDryRun,
			BatchSize: importBatchSize,
		}, a.proc, a.logger)

		sum, err := runner.Run(ctx)
		if perr := printJSON(cmd.OutOrStdout(), sum); perr != nil && err == nil {
			err = perr
		}
		return err
	},
}
