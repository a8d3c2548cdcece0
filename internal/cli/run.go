package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/evalagent/internal/model"
	"github.com/ppiankov/evalagent/internal/orchestrator"
)

var (
	runPages     []string
	runDocuments []string
	runSince     string
	runDryRun    bool
	runsLimit    int
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <daily_rules|weekly_factcheck|on_demand>",
	Short: "Run an evaluation over the selected content",
	Long: `Run an evaluation and record the issues it finds.

daily_rules checks claims with deterministic rules only. weekly_factcheck
extracts claims with the configured model and asks it for verdicts.
on_demand runs both over the same scope.

Examples:
  evalagent run daily_rules
  evalagent run weekly_factcheck --document doc-1 --document doc-2
  evalagent run on_demand --page uae --since 2026-01-01 --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := orchestrator.TriggerRequest{
			RunType: model.RunType(args[0]),
			Scope: model.Scope{
				Pages:       runPages,
				DocumentIDs: runDocuments,
			},
			DryRun:      runDryRun,
			TriggeredBy: "cli",
		}
		if runSince != "" {
			since, err := parseSince(runSince)
			if err != nil {
				return err
			}
			req.Scope.Since = &since
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		result, err := a.orchestrator.Trigger(cmd.Context(), req)
		if err != nil {
			if result.RunID != "" {
				fmt.Fprintf(os.Stderr, "Run %s failed\n", result.RunID)
			}
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

// runsCmd lists recent runs
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		runs, err := a.orchestrator.ListRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), runs)
	},
}

// parseSince accepts RFC 3339 timestamps or plain dates
func parseSince(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: use YYYY-MM-DD or RFC 3339", raw)
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)

	runCmd.Flags().StringArrayVar(&runPages, "page", nil, "limit the run to this page (repeatable)")
	runCmd.Flags().StringArrayVar(&runDocuments, "document", nil, "limit the run to this document ID (repeatable)")
	runCmd.Flags().StringVar(&runSince, "since", "", "only content updated at or after this time")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "report what would be checked without recording anything")

	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
}
