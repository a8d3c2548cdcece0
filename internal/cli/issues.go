package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/evalagent/internal/issue"
	"github.com/ppiankov/evalagent/internal/model"
)

var (
	issuesStatus string
	issuesLimit  int
	issuesJSON   bool
	decideActor  string
)

// issuesCmd lists issues
var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "List issues, newest first",
	Long: `List issues recorded by runs.

Examples:
  evalagent issues
  evalagent issues --status open --limit 10
  evalagent issues --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		issues, err := a.issues.List(cmd.Context(), model.IssueStatus(issuesStatus), issuesLimit)
		if err != nil {
			return err
		}
		if issuesJSON {
			return printJSON(cmd.OutOrStdout(), issues)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tSEVERITY\tVERDICT\tOBJECT\tLOCATOR\tCLAIM")
		for _, iss := range issues {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				iss.ID, iss.Status, iss.Severity, iss.Verdict, iss.ObjectType,
				iss.ObjectLocator, truncate(iss.Claim, 60))
		}
		return tw.Flush()
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <issue-id>",
	Short: "Approve an issue and apply its suggested fix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], issue.ActionApprove)
	},
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss <issue-id>",
	Short: "Dismiss an issue without changing content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], issue.ActionDismiss)
	},
}

func decide(cmd *cobra.Command, id string, action issue.Action) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	decision, err := a.issues.Decide(cmd.Context(), id, action, decideActor)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), decision)
}

func init() {
	rootCmd.AddCommand(issuesCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(dismissCmd)

	issuesCmd.Flags().StringVar(&issuesStatus, "status", "", "filter by status (open, triaged, fixed, dismissed)")
	issuesCmd.Flags().IntVar(&issuesLimit, "limit", 50, "maximum issues to list")
	issuesCmd.Flags().BoolVar(&issuesJSON, "json", false, "print JSON instead of a table")

	for _, c := range []*cobra.Command{approveCmd, dismissCmd} {
		c.Flags().StringVar(&decideActor, "actor", issue.DefaultActor, "operator recorded on the decision")
	}
}
