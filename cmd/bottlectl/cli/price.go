package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/bottleops/bottleops/internal/pricing"
)

type priceOptions struct {
	file     string
	product  string
	qty      int
	mode     string
	moq      int
	currency string
}

type quoteOutput struct {
	Product   string        `json:"product"`
	SellMode  string        `json:"sell_mode"`
	Quantity  int           `json:"quantity"`
	UnitPrice pricing.Money `json:"unit_price"`
	BottleQty int           `json:"bottle_qty"`
	Subtotal  pricing.Money `json:"subtotal"`
	Fallback  bool          `json:"tier_fallback"`
	Display   string        `json:"display"`
}

// NewPriceCommand prices one line against a catalog file.
func NewPriceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &priceOptions{}
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Quote a line against a YAML catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			products, err := loadCatalogFile(opts.file)
			if err != nil {
				return err
			}
			var product *pricing.Product
			for i := range products {
				if products[i].Code == opts.product {
					product = &products[i]
					break
				}
			}
			if product == nil {
				return fmt.Errorf("%w: %s", pricing.ErrProductNotFound, opts.product)
			}
			formatter, err := pricing.NewFormatter(opts.currency, language.AmericanEnglish)
			if err != nil {
				return err
			}
			totals, err := pricing.NewCalculator(pricing.Config{KitMOQ: opts.moq}).Line(*product, pricing.SellMode(opts.mode), opts.qty)
			if err != nil {
				return err
			}
			out := quoteOutput{
				Product:   product.Code,
				SellMode:  opts.mode,
				Quantity:  totals.Quantity,
				UnitPrice: totals.UnitPrice,
				BottleQty: totals.BottleQty,
				Subtotal:  totals.Subtotal,
				Fallback:  totals.Fallback,
				Display:   formatter.Format(totals.Subtotal),
			}
			w := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return json.NewEncoder(w).Encode(out)
			}
			fmt.Fprintf(w, "%s %s x%d: unit %s, %d bottles, subtotal %s\n",
				out.Product, out.SellMode, out.Quantity, out.UnitPrice, out.BottleQty, out.Display)
			if out.Fallback {
				fmt.Fprintln(w, "warning: quantity falls in a tier gap, base kit price applied")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.file, "file", "", "catalog YAML file")
	cmd.Flags().StringVar(&opts.product, "product", "", "product code")
	cmd.Flags().IntVar(&opts.qty, "qty", 1, "quantity in kits or pieces")
	cmd.Flags().StringVar(&opts.mode, "mode", string(pricing.SellModeKit), "sell mode (kit|piece)")
	cmd.Flags().IntVar(&opts.moq, "moq", 1, "kit minimum order quantity")
	cmd.Flags().StringVar(&opts.currency, "currency", "USD", "ISO 4217 display currency")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}
