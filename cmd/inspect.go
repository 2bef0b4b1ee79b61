package cmd

import (
	"encoding/csv"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tvcatalog-crawler/internal/catalog"
	"github.com/JakeFAU/tvcatalog-crawler/internal/crawler"
)

// newInspectCmd creates the 'inspect' subcommand. It resolves one detail page
// and prints the row a crawl would write, without reading or writing catalogs.
func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <url>",
		Short: "Resolves one detail page and prints its catalog row",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspectCommand,
	}
}

func runInspectCommand(cmd *cobra.Command, args []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), rt.cfg, rt.logger, false)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer a.Close()

	rec, err := a.Inspect(cmd.Context(), args[0])
	var extractErr *crawler.ExtractionError
	if err != nil && !errors.As(err, &extractErr) {
		return err
	}

	w := csv.NewWriter(cmd.OutOrStdout())
	_ = w.Write(append([]string{"catalog"}, catalog.Columns...))
	_ = w.Write(append([]string{string(rec.Catalog)}, rec.Entry.Row()...))
	w.Flush()
	return w.Error()
}
