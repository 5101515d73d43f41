package cli

import (
	"github.com/spf13/cobra"

	"seo-rules-engine/internal/config"
)

var (
	configPath string
	cfg        config.Config
)

var rootCmd = &cobra.Command{
	Use:   "seorules",
	Short: "SEO rule delivery service and rewriting edge",
	Long: `seorules stores SEO rules, serves the ones matching a page, and rewrites
HTML pages at the edge by applying them.

Configuration is read from configs/application.yaml (or --config) and APP_*
environment variables, e.g. APP_EDGE_SITE_KEY.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = c
		config.SetupLogging(cfg.Server.LogLevel, cfg.Server.LogFile)
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default configs/application.yaml)")
}
