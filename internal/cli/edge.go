package cli

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"seo-rules-engine/internal/agent"
	"seo-rules-engine/internal/app/server"
	"seo-rules-engine/internal/edge"
	"seo-rules-engine/internal/selector"
	"seo-rules-engine/internal/telemetry"
	"seo-rules-engine/internal/variant"
)

var edgeCmd = &cobra.Command{
	Use:   "edge",
	Short: "Start the rewriting reverse proxy",
	Long: `Start a reverse proxy in front of edge.upstream that applies the rules of
edge.site_key to every HTML page it serves.

Example:
  APP_EDGE_UPSTREAM=http://localhost:3000 APP_EDGE_SITE_KEY=acme seorules edge`,
	RunE: runEdge,
}

func init() {
	rootCmd.AddCommand(edgeCmd)
}

func runEdge(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	sessions := variant.NewMemorySessions(cfg.SessionTTL())
	defer sessions.Stop()

	fetcher := agent.NewFetcher(agent.FetchOptions{
		BaseURL:        cfg.Agent.RulesURL,
		MaxAttempts:    cfg.Agent.MaxAttempts,
		RetryDelay:     cfg.RetryDelay(),
		AttemptTimeout: cfg.AttemptTimeout(),
	})

	var rec agent.Recorder
	if cfg.Telemetry.Enabled {
		reporter := telemetry.NewReporter(telemetry.NewHTTPSink(cfg.TelemetryURL(), nil), telemetry.Options{
			Workers:     cfg.Telemetry.Workers,
			QueueSize:   cfg.Telemetry.QueueSize,
			SendTimeout: cfg.SendTimeout(),
		})
		reporter.Start(ctx)
		defer reporter.Close()
		rec = reporter
	}

	a := agent.New(agent.Options{SiteKey: cfg.Edge.SiteKey, Debug: cfg.Edge.Debug},
		selector.New(fetcher, variant.NewResolver(sessions)), rec)

	proxy, err := edge.New(edge.Options{
		Upstream:     cfg.Edge.Upstream,
		CookieName:   cfg.Edge.CookieName,
		MaxBodyBytes: cfg.Edge.MaxBodyBytes,
		TotalTimeout: cfg.TotalTimeout(),
		Debug:        cfg.Edge.Debug,
	}, a)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:        cfg.Edge.Addr,
		Handler:     proxy.Router(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return server.Serve(ctx, srv)
}
