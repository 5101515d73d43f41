package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"seo-rules-engine/internal/rulefile"
	"seo-rules-engine/internal/storage"
)

var seedMigrate bool

var seedCmd = &cobra.Command{
	Use:   "seed <file-or-dir>",
	Short: "Load sites and rules from YAML rule files",
	Long: `Load sites and rules from YAML rule files. Existing rules with the same id
are updated in place; their impression counters are kept.

Example:
  seorules seed configs/rules`,
	Args: cobra.ExactArgs(1),
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().BoolVar(&seedMigrate, "migrate", false, "run migrations first")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	files, err := rulefile.Load(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	return withStore(ctx, func(st storage.Store) error {
		if seedMigrate {
			if err := st.Migrate(ctx); err != nil {
				return err
			}
		}
		for _, f := range files {
			site, err := st.UpsertSite(ctx, f.Site)
			if err != nil {
				return err
			}
			if err := st.UpsertRules(ctx, site, f.Rules); err != nil {
				return fmt.Errorf("site %s: %w", site.Key, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules\n", site.Key, len(f.Rules))
		}
		return nil
	})
}
