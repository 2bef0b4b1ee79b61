package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tvcatalog-crawler/internal/app"
	"github.com/JakeFAU/tvcatalog-crawler/internal/catalog"
	"github.com/JakeFAU/tvcatalog-crawler/internal/config"
	"github.com/JakeFAU/tvcatalog-crawler/internal/logging"
)

// runtimeKeyType is the key for storing the loaded runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// App is the surface the commands drive. Tests swap in a mock via newApp.
type App interface {
	Crawl(ctx context.Context) (app.Summary, error)
	Inspect(ctx context.Context, itemURL string) (catalog.Record, error)
	Close()
}

// runtime is what PersistentPreRunE prepares for every subcommand.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, withStore bool) (App, error) {
	return app.New(ctx, cfg, logger, withStore)
}

var newLogger = logging.New

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "tvcrawl",
		Short: "Incrementally crawls the Apple TV sitemap into film and series catalogs.",
		Long: `tvcrawl walks the Apple TV sitemap tree, resolves each new film or series
detail page from its structured data, and rewrites the catalog tables sorted
by identity. Items already present in a catalog are never fetched again.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: cfg, logger: logger}))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newCrawlCmd(), newInspectCmd())
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("configuration not initialized")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute(ctx context.Context) int {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
