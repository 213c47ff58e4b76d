package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/quote"
	"github.com/smilequote/api/internal/services"
)

func newPriceCommand(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "price <basket.yaml>",
		Short: "Price a basket with server-side promo validation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			basket, err := loadBasket(args[0])
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(opts.catalogPath)
			if err != nil {
				return err
			}
			engine, err := newLocalEngine(cmd.Context(), catalog, basket.PromoCodes, opts.clock)
			if err != nil {
				return err
			}

			priced, err := engine.container.Services.Quotes.PriceSelection(cmd.Context(), basket.selection())
			if err != nil {
				return fmt.Errorf("price basket: %w", err)
			}
			if asJSON {
				return writeTotalsJSON(cmd.OutOrStdout(), priced.Totals)
			}
			writePricedSelection(cmd.OutOrStdout(), priced)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the totals as JSON")
	return cmd
}

type totalsJSON struct {
	Currency       string         `json:"currency"`
	Subtotal       int64          `json:"subtotal"`
	OfferDiscount  int64          `json:"offerDiscount"`
	PromoDiscount  int64          `json:"promoDiscount"`
	PackageSavings int64          `json:"packageSavings"`
	TotalSavings   int64          `json:"totalSavings"`
	Total          int64          `json:"total"`
	Discounts      []discountJSON `json:"discounts,omitempty"`
}

type discountJSON struct {
	Kind       string `json:"kind"`
	Code       string `json:"code,omitempty"`
	Amount     int64  `json:"amount"`
	Subtracted bool   `json:"subtracted"`
}

func writeTotalsJSON(w io.Writer, t domain.QuoteTotals) error {
	payload := totalsJSON{
		Currency:       t.Currency,
		Subtotal:       t.Subtotal,
		OfferDiscount:  t.OfferDiscount,
		PromoDiscount:  t.PromoDiscount,
		PackageSavings: t.PackageSavings,
		TotalSavings:   t.TotalSavings,
		Total:          t.Total,
	}
	for _, d := range t.Discounts {
		payload.Discounts = append(payload.Discounts, discountJSON{Kind: d.Kind, Code: d.Code, Amount: d.Amount, Subtracted: d.Subtracted})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func writePricedSelection(w io.Writer, priced services.PricedSelection) {
	writeSelection(w, priced.Selection, priced.Totals)
	if priced.PromoMessage != "" {
		fmt.Fprintf(w, "\n%s\n", priced.PromoMessage)
	}
}

func writeSelection(w io.Writer, snap quote.Snapshot, totals domain.QuoteTotals) {
	cur := totals.Currency
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if snap.Package != nil {
		fmt.Fprintf(tw, "%s (package)\t1\t%s\n", snap.Package.Name, services.FormatMoney(snap.Package.Price, cur))
	}
	for _, line := range snap.Treatments {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", line.Treatment.Name, line.Quantity, services.FormatMoney(line.LineTotal(), cur))
	}
	fmt.Fprintf(tw, "\t\t\n")
	fmt.Fprintf(tw, "Subtotal\t\t%s\n", services.FormatMoney(totals.Subtotal, cur))
	for _, d := range totals.Discounts {
		label := d.Kind
		if d.Code != "" {
			label += " " + d.Code
		}
		if d.Subtracted {
			fmt.Fprintf(tw, "%s\t\t-%s\n", label, services.FormatMoney(d.Amount, cur))
		} else {
			fmt.Fprintf(tw, "%s\t\t(%s)\n", label, services.FormatMoney(d.Amount, cur))
		}
	}
	fmt.Fprintf(tw, "Total\t\t%s\n", services.FormatMoney(totals.Total, cur))
	_ = tw.Flush()
}
