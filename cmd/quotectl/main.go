// Command quotectl prices baskets and walks quote flows against the quote
// engine without running the HTTP API.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type globalOptions struct {
	catalogPath string
	clock       func() time.Time
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(stdout)
	root.SetArgs(args)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "quotectl: %v\n", err)
		return 1
	}
	return 0
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &globalOptions{clock: time.Now}

	root := &cobra.Command{
		Use:   "quotectl",
		Short: "Price dental treatment baskets with the quote engine",
		Long: `quotectl runs the quote engine locally over in-memory repositories.

Examples:
  # Price a basket against the built-in catalog
  quotectl price basket.yaml

  # Walk the wizard for a basket and submit it
  quotectl flow basket.yaml --submit

  # List the catalog a clinic would fall back to
  quotectl catalog show`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.catalogPath, "catalog", "", "Catalog YAML file (defaults to the built-in catalog)")

	root.AddCommand(
		newPriceCommand(opts),
		newFlowCommand(opts),
		newCatalogCommand(opts),
	)
	return root
}
