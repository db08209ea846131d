package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture API",
	Long: `Run the HTTP message API, the capture policy watcher and, when nats_url
is set, the NATS force-archive subscription.

Examples:
  scribe serve
  SCRIBE_PORT=9000 SCRIBE_DATABASE_URL=postgres://localhost/scribe scribe serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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
		return a.serve(ctx)
	},
}
