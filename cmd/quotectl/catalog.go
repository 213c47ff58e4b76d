package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/smilequote/api/internal/di"
	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/platform/config"
	pfirestore "github.com/smilequote/api/internal/platform/firestore"
	"github.com/smilequote/api/internal/repositories"
	firestoreRepo "github.com/smilequote/api/internal/repositories/firestore"
	"github.com/smilequote/api/internal/services"
)

func newCatalogCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect or publish a treatment catalog",
	}
	cmd.AddCommand(newCatalogShowCommand(opts), newCatalogSeedCommand(opts))
	return cmd
}

func newCatalogShowCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List treatments, packages and offers of a catalog file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := loadCatalog(opts.catalogPath)
			if err != nil {
				return err
			}
			writeCatalog(cmd.OutOrStdout(), catalog)
			return nil
		},
	}
}

const seedDialTimeout = 5 * time.Second

type seedOptions struct {
	projectID    string
	emulatorHost string
	clinicID     string
	city         string
}

func newCatalogSeedCommand(opts *globalOptions) *cobra.Command {
	var seed seedOptions

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write a catalog file into Firestore",
		Long: `seed upserts every treatment, package and offer of the catalog into Firestore,
scoped to a clinic and city when given. Entities without a scope are served
to every clinic.

Examples:
  quotectl catalog seed --project smilequote-dev --catalog clinic.yaml --clinic clinic-1
  quotectl catalog seed --project demo --emulator localhost:8081`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(seed.projectID) == "" {
				return errors.New("--project is required")
			}
			catalog, err := loadCatalog(opts.catalogPath)
			if err != nil {
				return err
			}
			if err := seedFirestore(cmd.Context(), catalog, seed); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d treatments, %d packages, %d offers into %s\n",
				len(catalog.Treatments), len(catalog.Packages), len(catalog.Offers), seed.projectID)
			return nil
		},
	}
	cmd.Flags().StringVar(&seed.projectID, "project", "", "Firestore project id")
	cmd.Flags().StringVar(&seed.emulatorHost, "emulator", "", "Firestore emulator host (host:port)")
	cmd.Flags().StringVar(&seed.clinicID, "clinic", "", "Clinic scope")
	cmd.Flags().StringVar(&seed.city, "city", "", "City scope")
	return cmd
}

func seedFirestore(ctx context.Context, catalog services.Catalog, seed seedOptions) error {
	provider := pfirestore.NewProvider(config.FirestoreConfig{
		ProjectID:    seed.projectID,
		EmulatorHost: seed.emulatorHost,
	}, pfirestore.WithDialTimeout(seedDialTimeout))
	reg, err := firestoreRepo.NewRegistry(provider, firestoreRepo.Options{})
	if err != nil {
		_ = provider.Close()
		return err
	}
	scope := repositories.CatalogQuery{ClinicID: seed.clinicID, City: seed.city}
	err = di.SeedCatalog(ctx, reg.CatalogWriter(), scope, catalog)
	if cerr := reg.Close(ctx); err == nil {
		err = cerr
	}
	return err
}

func writeCatalog(w io.Writer, catalog services.Catalog) {
	cur := catalog.Currency
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TREATMENT\tCATEGORY\tPRICE")
	for _, t := range catalog.Treatments {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, t.Category, services.FormatMoney(t.UnitPrice, cur))
	}
	fmt.Fprintln(tw, "\t\t")
	fmt.Fprintln(tw, "PACKAGE\tTREATMENTS\tPRICE")
	for _, p := range catalog.Packages {
		ids := make([]string, 0, len(p.Treatments))
		for _, t := range p.Treatments {
			ids = append(ids, t.ID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, strings.Join(ids, ","), services.FormatMoney(p.Price, cur))
	}
	fmt.Fprintln(tw, "\t\t")
	fmt.Fprintln(tw, "OFFER\tTYPE\tVALUE")
	for _, o := range catalog.Offers {
		value := fmt.Sprintf("%d%%", o.DiscountValue)
		if o.DiscountType != domain.DiscountPercentage {
			value = services.FormatMoney(o.DiscountValue, cur)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", o.ID, o.DiscountType, value)
	}
	_ = tw.Flush()
}
