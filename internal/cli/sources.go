package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/evalagent/internal/validate"
)

var (
	checkWorkers int
	checkTimeout time.Duration
)

// sourcesCmd manages the trusted source registry
var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage the trusted source registry",
}

var sourcesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import sources from a YAML or JSON file",
	Long: `Import sources from a YAML or JSON list. Existing sources with the same
ID are replaced.

Example file:
  - id: fta
    name: Federal Tax Authority
    category: regulator
    base_url: https://tax.gov.ae
    trust_level: 5
    active: true
    topics: [tax]`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		n, err := a.registry.ImportFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d sources from %s\n", n, args[0])
		return nil
	},
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		sources, err := a.registry.All(cmd.Context())
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCATEGORY\tTRUST\tACTIVE\tBASE URL\tTOPICS")
		for _, src := range sources {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\t%s\n",
				src.ID, src.Category, src.TrustLevel, src.Active, src.BaseURL, strings.Join(src.Topics, ","))
		}
		return tw.Flush()
	},
}

var sourcesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that active sources are reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		sources, err := a.registry.Active(cmd.Context())
		if err != nil {
			return err
		}

		v := validate.NewValidator(checkTimeout, checkWorkers, a.cfg.Fetch.UserAgent,
			a.cfg.LLM.HTTPProxy, a.cfg.LLM.HTTPSProxy, "")
		results := v.CheckSources(cmd.Context(), sources)

		dead := 0
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tREACHABLE\tURL\tNOTE")
		for _, h := range results {
			note := h.Error
			if h.RedirectURL != "" {
				note = "redirects to " + h.RedirectURL
			}
			if h.Dead {
				dead++
			}
			fmt.Fprintf(tw, "%s\t%d\t%t\t%s\t%s\n", h.SourceID, h.StatusCode, h.Reachable, h.URL, note)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if dead > 0 {
			return fmt.Errorf("%d of %d sources are dead", dead, len(results))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
	sourcesCmd.AddCommand(sourcesImportCmd)
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesCheckCmd)

	sourcesCheckCmd.Flags().IntVar(&checkWorkers, "workers", 8, "concurrent checks")
	sourcesCheckCmd.Flags().DurationVar(&checkTimeout, "timeout", 10*time.Second, "per-request timeout")
}
