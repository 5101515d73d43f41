package cli

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"seo-rules-engine/internal/storage"
)

var statsCmd = &cobra.Command{
	Use:   "stats <site-key>",
	Short: "Show rules of a site with impressions and success rate",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	key := args[0]
	return withStore(cmd.Context(), func(st storage.Store) error {
		rs, err := st.Rules(cmd.Context(), key)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("site '%s' not found", key)
		}
		if err != nil {
			return fmt.Errorf("failed to list rules: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "SITE: %s\n\n", key)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RULE\tSTATUS\tPRIORITY\tIMPRESSIONS\tSUCCESS\tLAST APPLIED\tKINDS")
		for _, r := range rs {
			last := "-"
			if r.Stats.LastApplied != nil {
				last = r.Stats.LastApplied.Format("2006-01-02 15:04")
			}
			kinds := make([]string, 0, 4)
			for _, k := range r.Modifications.EnabledKinds() {
				kinds = append(kinds, string(k))
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.1f%%\t%s\t%s\n",
				r.ID, r.Status, r.Priority, r.Stats.Impressions, r.Stats.SuccessRate*100, last, strings.Join(kinds, ","))
		}
		return tw.Flush()
	})
}
