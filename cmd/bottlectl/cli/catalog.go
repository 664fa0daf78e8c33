package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bottleops/bottleops/internal/platform/db"
	"github.com/bottleops/bottleops/internal/pricing"
)

// NewCatalogCommand groups catalog subcommands.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Validate and import product catalogs",
	}
	cmd.AddCommand(newCatalogValidateCommand(rootOpts))
	cmd.AddCommand(newCatalogImportCommand(rootOpts))
	return cmd
}

func newCatalogValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a YAML catalog without touching the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			products, err := loadCatalogFile(file)
			if err != nil {
				return err
			}
			return printProducts(cmd.OutOrStdout(), rootOpts.Format, products)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "catalog YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newCatalogImportCommand(rootOpts *RootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert a YAML catalog into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.DSN == "" {
				return errors.New("--dsn or PG_DSN is required")
			}
			products, err := loadCatalogFile(file)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			pool, err := db.New(ctx, rootOpts.DSN, db.PoolConfig{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()
			saved, err := pricing.NewRepository(pool).UpsertProducts(ctx, products)
			if err != nil {
				return err
			}
			return printProducts(cmd.OutOrStdout(), rootOpts.Format, saved)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "catalog YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func loadCatalogFile(path string) ([]pricing.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return pricing.LoadCatalog(f)
}

func printProducts(w io.Writer, format string, products []pricing.Product) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(products)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tPACK\tKIT\tPIECE\tTIERS")
	for _, p := range products {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%d\n", p.Code, p.PackSize, p.KitPrice, p.PiecePrice, len(p.Tiers))
	}
	return tw.Flush()
}
