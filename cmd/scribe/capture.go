package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/scribe/internal/parser"
	"github.com/MikeSquared-Agency/scribe/internal/pending"
	"github.com/MikeSquared-Agency/scribe/internal/policy"
	"github.com/MikeSquared-Agency/scribe/internal/processor"
)

var (
	pageURL    string
	forceFlag  bool
	policyPath string
)

func init() {
	captureCmd.Flags().StringVar(&pageURL, "url", "", "page address (defaults to the page's canonical link)")
	captureCmd.Flags().BoolVar(&forceFlag, "force", false, "archive regardless of the capture policy")

	decideCmd.Flags().StringVar(&pageURL, "url", "", "page address (defaults to the page's canonical link)")
	decideCmd.Flags().BoolVar(&forceFlag, "force", false, "evaluate as a forced archive")
	decideCmd.Flags().StringVar(&policyPath, "policy", "", "policy file to evaluate (defaults to policy_file)")

	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(decideCmd)
}

var captureCmd = &cobra.Command{
	Use:   "capture <file>",
	Short: "Capture one saved page",
	Long: `Run one saved HTML page through the pipeline and print the result.

Examples:
  scribe capture chat.html
  scribe capture chat.html --url https://chatgpt.com/c/6790e6a0-1234 --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := readPage(args[0], pageURL)
		if err != nil {
			return err
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

		res, err := a.proc.Capture(ctx, page, processor.Options{Force: forceFlag})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var decideCmd = &cobra.Command{
	Use:   "decide <file>",
	Short: "Show the capture decision for a saved page without storing anything",
	Long: `Extract the conversation from a saved page and evaluate the capture policy
against it. Nothing is written.

Examples:
  scribe decide chat.html
  scribe decide chat.html --policy ./strict.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		page, err := readPage(args[0], pageURL)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := policyPath
		if path == "" {
			path = cfg.PolicyFile
		}

		proc := processor.New(parser.Default(nil), policy.NewFileSource(path, nil), nil, pending.NewMemory(0), nil)
		res, err := proc.Capture(cmd.Context(), page, processor.Options{Force: forceFlag, DryRun: true})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func readPage(path, url string) (processor.Page, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return processor.Page{}, fmt.Errorf("read page: %w", err)
	}
	html := string(raw)
	if url == "" {
		if url, err = processor.SourceURLFromHTML(html); err != nil {
			return processor.Page{}, fmt.Errorf("%w; pass --url", err)
		}
	}
	return processor.Page{URL: url, HTML: html}, nil
}
