// Package cmd defines and implements the CLI commands for the tvcrawl executable.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/tvcatalog-crawler/internal/metrics"
)

// newCrawlCmd creates the 'crawl' subcommand, which performs one full
// incremental update of every catalog.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs one incremental crawl and rewrites the catalogs",
		Args:  cobra.NoArgs,
		RunE:  runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), rt.cfg, rt.logger, true)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(cmd.Context())
	serveCtx, stopServe := context.WithCancel(ctx)
	if addr := rt.cfg.Metrics.Addr; addr != "" {
		g.Go(func() error {
			return metrics.Serve(serveCtx, addr, rt.logger.Named("metrics"))
		})
	}
	g.Go(func() error {
		defer stopServe()
		summary, err := a.Crawl(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d resolved, %d unresolved, %d cached, %d skipped, %d deferred\n",
			summary.RunID,
			summary.Stats.Resolved,
			summary.Stats.Unresolved,
			summary.Stats.CacheHits,
			summary.Stats.FetchFailed,
			summary.Stats.Deferred,
		)
		return nil
	})
	if err := g.Wait(); err != nil {
		rt.logger.Error("crawl command failed", zap.Error(err))
		return err
	}
	return nil
}
