package main

import (
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/scribe/internal/observer"
)

var tailURL string

func init() {
	tailCmd.Flags().StringVar(&tailURL, "url", "", "page address the snapshot file belongs to (required)")
	_ = tailCmd.MarkFlagRequired("url")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(tailCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch <url>",
	Short: "Observe a live chat tab and capture it as it changes",
	Long: `Attach to Chrome over the DevTools protocol, open or find the tab showing
<url>, and capture the conversation after each burst of page changes.
The API runs alongside.

Set browser_url (SCRIBE_BROWSER_URL) to reuse a running browser; otherwise
one is launched.

Examples:
  scribe watch https://chatgpt.com/c/6790e6a0-1234
  SCRIBE_HEADLESS=false scribe watch https://claude.ai/chat/0b1c2d3e`,
	Args: cobra.ExactArgs(1),
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

		br, err := observer.OpenBrowser(ctx, observer.BrowserConfig{
			ControlURL: cfg.BrowserURL,
			Headless:   *cfg.Headless,
		}, args[0], a.logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := br.Close(); err != nil {
				a.logger.Warn("close browser", "error", err)
			}
		}()

		return a.serve(ctx, a.observe(br))
	},
}

var tailCmd = &cobra.Command{
	Use:   "tail <file>",
	Short: "Capture a saved page file every time it is rewritten",
	Long: `Watch an HTML snapshot on disk and capture it after each burst of writes.
Useful with tools that periodically dump the page.

Examples:
  scribe tail /tmp/chat.html --url https://chatgpt.com/c/6790e6a0-1234`,
	Args: cobra.ExactArgs(1),
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

		return a.serve(ctx, a.observe(observer.NewFile(args[0], tailURL, a.logger)))
	},
}
