package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/smilequote/api/internal/quote"
	"github.com/smilequote/api/internal/services"
)

type flowOptions struct {
	variant            string
	acceptSubstitution bool
	submit             bool
}

func newFlowCommand(opts *globalOptions) *cobra.Command {
	var flow flowOptions

	cmd := &cobra.Command{
		Use:   "flow <basket.yaml>",
		Short: "Walk the quote wizard for a basket, stage by stage",
		Long: `flow drives a quote session the way a UI shell would: it selects the basket,
applies its promo code, fills in the patient and advances until review.
With --submit the quote is submitted and its reference printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			basket, err := loadBasket(args[0])
			if err != nil {
				return err
			}
			if flow.variant == "" {
				flow.variant = basket.Variant
			}
			catalog, err := loadCatalog(opts.catalogPath)
			if err != nil {
				return err
			}
			engine, err := newLocalEngine(cmd.Context(), catalog, basket.PromoCodes, opts.clock)
			if err != nil {
				return err
			}
			return walkFlow(cmd.Context(), cmd.OutOrStdout(), engine.container.Services.Sessions, basket, flow)
		},
	}
	cmd.Flags().StringVar(&flow.variant, "variant", "", "Flow variant (standard or charted)")
	cmd.Flags().BoolVar(&flow.acceptSubstitution, "accept-substitution", false, "Accept a promo code that replaces the selection with a package")
	cmd.Flags().BoolVar(&flow.submit, "submit", false, "Submit the quote at review")
	return cmd
}

func walkFlow(ctx context.Context, w io.Writer, sessions services.QuoteSessionService, basket basketFile, opts flowOptions) error {
	view, err := sessions.CreateSession(ctx, services.CreateSessionCommand{
		ClinicID: basket.ClinicID,
		Currency: basket.Currency,
		Variant:  opts.variant,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	id := view.ID
	fmt.Fprintf(w, "session %s (%s)\n", id, view.Variant)
	printStage(w, view)

	for _, line := range basket.selection().Treatments {
		if view, err = sessions.ToggleTreatment(ctx, id, line.TreatmentID); err != nil {
			return fmt.Errorf("select %s: %w", line.TreatmentID, err)
		}
		if line.Quantity > 1 {
			if view, err = sessions.UpdateQuantity(ctx, id, line.TreatmentID, line.Quantity); err != nil {
				return fmt.Errorf("quantity %s: %w", line.TreatmentID, err)
			}
		}
	}
	if basket.Package != "" {
		if view, err = sessions.TogglePackage(ctx, id, basket.Package); err != nil {
			return fmt.Errorf("select package %s: %w", basket.Package, err)
		}
	}
	if basket.Offer != "" {
		if view, err = sessions.ToggleOffer(ctx, id, basket.Offer); err != nil {
			return fmt.Errorf("select offer %s: %w", basket.Offer, err)
		}
	}
	if basket.PromoCode != "" {
		if view, err = applyPromo(ctx, w, sessions, id, basket.PromoCode, opts.acceptSubstitution); err != nil {
			return err
		}
	}

	for view.Stage != quote.StagePatientInfo {
		from := view.Stage
		if view, err = sessions.Next(ctx, id); err != nil {
			return fmt.Errorf("leave %s: %w", from, err)
		}
		printStage(w, view)
	}
	if view, err = sessions.UpdatePatient(ctx, id, basket.patient()); err != nil {
		return fmt.Errorf("patient details: %w", err)
	}
	if view, err = sessions.Next(ctx, id); err != nil {
		return fmt.Errorf("leave %s: %w", quote.StagePatientInfo, err)
	}
	printStage(w, view)

	fmt.Fprintln(w)
	writeSelection(w, view.Selection, view.Totals)

	if !opts.submit {
		return nil
	}
	if view, err = sessions.Submit(ctx, id); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	printStage(w, view)
	if view.Receipt != nil {
		fmt.Fprintf(w, "submitted quote %s (reference %s)\n", view.Receipt.ID, view.Receipt.Reference)
	}
	return nil
}

func applyPromo(ctx context.Context, w io.Writer, sessions services.QuoteSessionService, id, code string, accept bool) (services.SessionView, error) {
	view, err := sessions.ApplyPromoCode(ctx, id, code)
	if err != nil {
		return view, fmt.Errorf("apply promo %s: %w", code, err)
	}
	if view.Promo != nil {
		fmt.Fprintf(w, "promo %s: %s", view.Promo.Code, view.Promo.Outcome)
		if view.Promo.Message != "" {
			fmt.Fprintf(w, " (%s)", view.Promo.Message)
		}
		fmt.Fprintln(w)
	}
	if view.Pending == nil {
		return view, nil
	}
	if accept {
		view, err = sessions.ConfirmSubstitution(ctx, id)
	} else {
		view, err = sessions.DeclineSubstitution(ctx, id)
	}
	if err != nil {
		return view, fmt.Errorf("resolve substitution: %w", err)
	}
	return view, nil
}

func printStage(w io.Writer, view services.SessionView) {
	for i, st := range view.Stages {
		if st == view.Stage {
			fmt.Fprintf(w, "-> %s (%d/%d)\n", st, i+1, len(view.Stages))
			return
		}
	}
	fmt.Fprintf(w, "-> %s\n", view.Stage)
}
