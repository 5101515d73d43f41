package cli

import (
	"github.com/spf13/cobra"

	"seo-rules-engine/internal/app/server"
	"seo-rules-engine/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rule delivery service",
	Long: `Start the rule delivery service.

The service provides:
  - GET  /v1/sites/{siteKey}/rules?url=&lang=&device=
  - POST /v1/sites/{siteKey}/rules/{ruleId}/impressions
  - GET  /v1/sites/{siteKey}/stats
  - /healthz and /metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	return withStore(ctx, func(st storage.Store) error {
		return server.New(cfg, st).Run(ctx)
	})
}
