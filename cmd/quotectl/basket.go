package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/smilequote/api/internal/di"
	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/platform/config"
	"github.com/smilequote/api/internal/repositories"
	"github.com/smilequote/api/internal/repositories/memory"
	"github.com/smilequote/api/internal/services"
)

// basketFile is the YAML document priced by the price and flow commands.
type basketFile struct {
	ClinicID   string         `yaml:"clinicId"`
	Currency   string         `yaml:"currency"`
	Variant    string         `yaml:"variant"`
	Treatments []basketLine   `yaml:"treatments"`
	Package    string         `yaml:"package"`
	Offer      string         `yaml:"offer"`
	PromoCode  string         `yaml:"promoCode"`
	PromoCodes []basketPromo  `yaml:"promoCodes"`
	Patient    *basketPatient `yaml:"patient"`
}

type basketLine struct {
	ID       string `yaml:"id"`
	Quantity int    `yaml:"quantity"`
}

// basketPromo seeds the local promo code store so codes can be tried offline.
type basketPromo struct {
	Code          string `yaml:"code"`
	DiscountType  string `yaml:"discountType"`
	DiscountValue int64  `yaml:"discountValue"`
	PackageID     string `yaml:"packageId"`
	MinSubtotal   int64  `yaml:"minSubtotal"`
}

type basketPatient struct {
	Name    string `yaml:"name"`
	Email   string `yaml:"email"`
	Phone   string `yaml:"phone"`
	Country string `yaml:"country"`
	Notes   string `yaml:"notes"`
}

func loadBasket(path string) (basketFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return basketFile{}, fmt.Errorf("read basket: %w", err)
	}
	var b basketFile
	if err := yaml.Unmarshal(data, &b); err != nil {
		return basketFile{}, fmt.Errorf("decode basket %s: %w", path, err)
	}
	if len(b.Treatments) == 0 && strings.TrimSpace(b.Package) == "" {
		return basketFile{}, errors.New("basket selects no treatments and no package")
	}
	return b, nil
}

func (b basketFile) selection() services.SelectionCommand {
	cmd := services.SelectionCommand{
		ClinicID:  b.ClinicID,
		Currency:  b.Currency,
		PackageID: b.Package,
		OfferID:   b.Offer,
		PromoCode: b.PromoCode,
	}
	for _, line := range b.Treatments {
		qty := line.Quantity
		if qty == 0 {
			qty = 1
		}
		cmd.Treatments = append(cmd.Treatments, services.SelectionLine{TreatmentID: line.ID, Quantity: qty})
	}
	return cmd
}

func (b basketFile) patient() domain.PatientInfo {
	if b.Patient == nil {
		return domain.PatientInfo{}
	}
	return domain.PatientInfo{
		Name:    b.Patient.Name,
		Email:   b.Patient.Email,
		Phone:   b.Patient.Phone,
		Country: b.Patient.Country,
		Notes:   b.Patient.Notes,
	}
}

// loadCatalog reads a catalog file, or the embedded fallback when path is empty.
func loadCatalog(path string) (services.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return services.DefaultFallbackCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return services.Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return services.ParseCatalogYAML(data)
}

// localEngine runs the services over memory repositories seeded with
// the catalog and the basket's promo codes.
type localEngine struct {
	container *di.Container
	registry  *memory.Registry
}

func newLocalEngine(ctx context.Context, catalog services.Catalog, promos []basketPromo, clock func() time.Time) (*localEngine, error) {
	cfg, err := config.Load(ctx, config.WithEnvFile(""), config.WithEnvMap(map[string]string{
		"SQ_PERSISTENCE_BACKEND":          config.BackendMemory,
		"SQ_QUOTES_DEFAULT_CURRENCY":      catalog.Currency,
		"SQ_QUOTES_LOCAL_PROMO_HEURISTIC": "false",
	}))
	if err != nil {
		return nil, err
	}

	reg := memory.NewRegistry(memory.Options{SessionTTL: cfg.Quotes.SessionTTL, Clock: clock})
	if err := di.SeedCatalog(ctx, reg.CatalogStore(), repositories.CatalogQuery{}, catalog); err != nil {
		return nil, err
	}
	for _, p := range promos {
		code := domain.PromoCode{
			Code:          p.Code,
			Status:        domain.PromoCodeActive,
			DiscountType:  domain.DiscountType(strings.ToLower(strings.TrimSpace(p.DiscountType))),
			DiscountValue: p.DiscountValue,
			PackageID:     p.PackageID,
			MinSubtotal:   p.MinSubtotal,
		}
		if err := reg.PromoStore().Upsert(ctx, code); err != nil {
			return nil, fmt.Errorf("seed promo %s: %w", p.Code, err)
		}
	}

	container, err := di.NewContainer(ctx, cfg, reg,
		di.WithFallbackCatalog(catalog),
		di.WithClock(clock),
	)
	if err != nil {
		return nil, err
	}
	return &localEngine{container: container, registry: reg}, nil
}
