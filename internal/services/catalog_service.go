package services

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/repositories"
)

//go:embed fallback_catalog.yaml
var fallbackCatalogYAML []byte

const (
	servicesMeterName = "github.com/smilequote/api/internal/services"

	catalogEventFallback    = "catalog.fallback"
	catalogEventInvalidItem = "catalog.invalid_item"

	defaultCatalogCacheTTL = 5 * time.Minute
)

// CatalogServiceDeps bundles collaborators required to construct a CatalogService.
type CatalogServiceDeps struct {
	Repository repositories.CatalogRepository
	// Fallback replaces the embedded catalog.
	Fallback *Catalog
	Currency string
	CacheTTL time.Duration
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
	Meter    metric.Meter
}

type catalogService struct {
	repo      repositories.CatalogRepository
	fallback  Catalog
	currency  string
	ttl       time.Duration
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
	fallbacks metric.Int64Counter

	mu    sync.Mutex
	cache map[string]cachedCatalog
}

type cachedCatalog struct {
	catalog Catalog
	expires time.Time
}

var _ CatalogService = (*catalogService)(nil)

// NewCatalogService wires a CatalogService backed by the repository and the built-in fallback catalog.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Repository == nil {
		return nil, ErrCatalogRepositoryMissing
	}

	var fallback Catalog
	if deps.Fallback != nil {
		fallback = *deps.Fallback
	} else {
		loaded, err := DefaultFallbackCatalog()
		if err != nil {
			return nil, err
		}
		fallback = loaded
	}
	fallback.Source = domain.CatalogSourceFallback

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = fallback.Currency
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultCatalogCacheTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(servicesMeterName)
	}
	fallbacks, err := meter.Int64Counter("catalog.fallbacks",
		metric.WithDescription("Catalog parts served from the built-in fallback"))
	if err != nil {
		return nil, fmt.Errorf("catalog service: create counter: %w", err)
	}

	return &catalogService{
		repo:     deps.Repository,
		fallback: fallback,
		currency: currency,
		ttl:      ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:    logger,
		fallbacks: fallbacks,
		cache:     make(map[string]cachedCatalog),
	}, nil
}

// GetCatalog returns the catalog for query. Treatments, packages and
// offers are fetched concurrently; a part that fails is replaced by the
// fallback part. Only fully remote catalogs are cached so recovery is
// picked up on the next call. The returned catalog must be treated as
// read-only.
func (s *catalogService) GetCatalog(ctx context.Context, query CatalogQuery) (Catalog, error) {
	query = normalizeCatalogQuery(query)
	key := query.ClinicID + "|" + query.City
	if cached, ok := s.cached(key); ok {
		return cached, nil
	}

	var (
		treatments []domain.Treatment
		packages   []domain.Package
		offers     []domain.SpecialOffer
		errs       [3]error
		g          errgroup.Group
	)
	g.Go(func() error {
		treatments, errs[0] = s.repo.ListTreatments(ctx, query)
		return nil
	})
	g.Go(func() error {
		packages, errs[1] = s.repo.ListPackages(ctx, query)
		return nil
	})
	g.Go(func() error {
		offers, errs[2] = s.repo.ListOffers(ctx, query)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Catalog{}, err
	}

	catalog := Catalog{ClinicID: query.ClinicID, City: query.City, Currency: s.currency}
	var degraded []string
	if errs[0] != nil {
		degraded = append(degraded, s.degrade(ctx, query, "treatments", errs[0]))
		catalog.Treatments = s.fallback.Treatments
	} else {
		catalog.Treatments = s.validTreatments(ctx, treatments)
	}
	if errs[1] != nil {
		degraded = append(degraded, s.degrade(ctx, query, "packages", errs[1]))
		catalog.Packages = s.fallback.Packages
	} else {
		catalog.Packages = s.validPackages(ctx, packages)
	}
	if errs[2] != nil {
		degraded = append(degraded, s.degrade(ctx, query, "offers", errs[2]))
		catalog.Offers = s.fallback.Offers
	} else {
		catalog.Offers = s.validOffers(ctx, offers)
	}

	switch {
	case len(degraded) == 0 && catalog.Empty():
		s.degrade(ctx, query, "all", nil)
		catalog.Treatments, catalog.Packages, catalog.Offers = s.fallback.Treatments, s.fallback.Packages, s.fallback.Offers
		catalog.Source = domain.CatalogSourceFallback
	case len(degraded) == 0:
		catalog.Source = domain.CatalogSourceRemote
	case len(degraded) == 3:
		catalog.Source = domain.CatalogSourceFallback
	default:
		catalog.Source = domain.CatalogSourceMixed
	}

	if catalog.Empty() {
		return catalog, ErrCatalogEmpty
	}
	if catalog.Source == domain.CatalogSourceRemote {
		s.store(key, catalog)
	}
	return catalog, nil
}

func (s *catalogService) FindTreatment(ctx context.Context, query CatalogQuery, id string) (domain.Treatment, error) {
	catalog, err := s.lookupCatalog(ctx, query)
	if err != nil {
		return domain.Treatment{}, err
	}
	t, ok := catalog.Treatment(strings.TrimSpace(id))
	if !ok {
		return domain.Treatment{}, fmt.Errorf("%w: treatment %q", ErrCatalogItemNotFound, id)
	}
	return t, nil
}

func (s *catalogService) FindPackage(ctx context.Context, query CatalogQuery, id string) (domain.Package, error) {
	catalog, err := s.lookupCatalog(ctx, query)
	if err != nil {
		return domain.Package{}, err
	}
	p, ok := catalog.Package(strings.TrimSpace(id))
	if !ok {
		return domain.Package{}, fmt.Errorf("%w: package %q", ErrCatalogItemNotFound, id)
	}
	return p, nil
}

func (s *catalogService) FindOffer(ctx context.Context, query CatalogQuery, id string) (domain.SpecialOffer, error) {
	catalog, err := s.lookupCatalog(ctx, query)
	if err != nil {
		return domain.SpecialOffer{}, err
	}
	o, ok := catalog.Offer(strings.TrimSpace(id))
	if !ok {
		return domain.SpecialOffer{}, fmt.Errorf("%w: offer %q", ErrCatalogItemNotFound, id)
	}
	return o, nil
}

// Invalidate drops the cached catalog for query.
func (s *catalogService) Invalidate(query CatalogQuery) {
	query = normalizeCatalogQuery(query)
	s.mu.Lock()
	delete(s.cache, query.ClinicID+"|"+query.City)
	s.mu.Unlock()
}

func (s *catalogService) lookupCatalog(ctx context.Context, query CatalogQuery) (Catalog, error) {
	catalog, err := s.GetCatalog(ctx, query)
	if errors.Is(err, ErrCatalogEmpty) {
		return catalog, nil
	}
	return catalog, err
}

func (s *catalogService) cached(key string) (Catalog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[key]
	if !ok {
		return Catalog{}, false
	}
	if !s.clock().Before(entry.expires) {
		delete(s.cache, key)
		return Catalog{}, false
	}
	return entry.catalog, true
}

func (s *catalogService) store(key string, catalog Catalog) {
	s.mu.Lock()
	s.cache[key] = cachedCatalog{catalog: catalog, expires: s.clock().Add(s.ttl)}
	s.mu.Unlock()
}

func (s *catalogService) degrade(ctx context.Context, query CatalogQuery, part string, cause error) string {
	reason := "empty"
	fields := map[string]any{
		"clinicId": query.ClinicID,
		"city":     query.City,
		"part":     part,
	}
	if cause != nil {
		reason = "error"
		fields["error"] = cause.Error()
	}
	fields["reason"] = reason
	s.logger(ctx, catalogEventFallback, fields)
	s.fallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("part", part),
		attribute.String("reason", reason),
	))
	return part
}

func (s *catalogService) validTreatments(ctx context.Context, items []domain.Treatment) []domain.Treatment {
	out := make([]domain.Treatment, 0, len(items))
	for _, t := range items {
		if err := validateTreatment(t); err != nil {
			s.logInvalid(ctx, "treatment", t.ID, err)
			continue
		}
		out = append(out, t)
	}
	return out
}

func (s *catalogService) validPackages(ctx context.Context, items []domain.Package) []domain.Package {
	out := make([]domain.Package, 0, len(items))
	for _, p := range items {
		if err := validatePackage(p); err != nil {
			s.logInvalid(ctx, "package", p.ID, err)
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *catalogService) validOffers(ctx context.Context, items []domain.SpecialOffer) []domain.SpecialOffer {
	out := make([]domain.SpecialOffer, 0, len(items))
	for _, o := range items {
		if err := validateOffer(o); err != nil {
			s.logInvalid(ctx, "offer", o.ID, err)
			continue
		}
		out = append(out, o)
	}
	return out
}

func (s *catalogService) logInvalid(ctx context.Context, kind, id string, err error) {
	s.logger(ctx, catalogEventInvalidItem, map[string]any{
		"kind":  kind,
		"id":    id,
		"error": err.Error(),
	})
}

func normalizeCatalogQuery(q CatalogQuery) CatalogQuery {
	return CatalogQuery{
		ClinicID: strings.TrimSpace(q.ClinicID),
		City:     strings.ToLower(strings.TrimSpace(q.City)),
	}
}

func validateTreatment(t domain.Treatment) error {
	switch {
	case strings.TrimSpace(t.ID) == "":
		return errors.New("id is required")
	case strings.TrimSpace(t.Name) == "":
		return errors.New("name is required")
	case t.UnitPrice < 0:
		return errors.New("unit price must not be negative")
	}
	return nil
}

func validatePackage(p domain.Package) error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return errors.New("id is required")
	case strings.TrimSpace(p.Name) == "":
		return errors.New("name is required")
	case p.Price < 0 || p.Savings < 0:
		return errors.New("price and savings must not be negative")
	case p.DiscountPercent < 0 || p.DiscountPercent > 100:
		return errors.New("discount percent must be between 0 and 100")
	}
	return nil
}

func validateOffer(o domain.SpecialOffer) error {
	switch {
	case strings.TrimSpace(o.ID) == "":
		return errors.New("id is required")
	case !o.DiscountType.Valid():
		return fmt.Errorf("unknown discount type %q", o.DiscountType)
	case o.DiscountValue < 0:
		return errors.New("discount value must not be negative")
	case o.DiscountType == domain.DiscountPercentage && o.DiscountValue > 100:
		return errors.New("percentage must not exceed 100")
	}
	return nil
}

type catalogFile struct {
	Currency   string          `yaml:"currency"`
	Treatments []treatmentFile `yaml:"treatments"`
	Packages   []packageFile   `yaml:"packages"`
	Offers     []offerFile     `yaml:"offers"`
}

type treatmentFile struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Category    string `yaml:"category"`
	UnitPrice   int64  `yaml:"unitPrice"`
	Description string `yaml:"description"`
}

type packageFile struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Description     string   `yaml:"description"`
	Price           int64    `yaml:"price"`
	Savings         int64    `yaml:"savings"`
	DiscountPercent int64    `yaml:"discountPercent"`
	Treatments      []string `yaml:"treatments"`
}

type offerFile struct {
	ID            string `yaml:"id"`
	Title         string `yaml:"title"`
	Description   string `yaml:"description"`
	DiscountType  string `yaml:"discountType"`
	DiscountValue int64  `yaml:"discountValue"`
}

// DefaultFallbackCatalog returns the embedded catalog.
func DefaultFallbackCatalog() (Catalog, error) {
	return ParseCatalogYAML(fallbackCatalogYAML)
}

// ParseCatalogYAML decodes a catalog file. Package treatments reference
// treatment ids declared in the same file. Every entity is validated.
func ParseCatalogYAML(data []byte) (Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Catalog{}, fmt.Errorf("catalog: decode yaml: %w", err)
	}

	catalog := Catalog{
		Currency: strings.ToUpper(strings.TrimSpace(file.Currency)),
		Source:   domain.CatalogSourceFallback,
	}
	byID := make(map[string]domain.Treatment, len(file.Treatments))
	for _, entry := range file.Treatments {
		t := domain.Treatment{
			ID:          strings.TrimSpace(entry.ID),
			Name:        strings.TrimSpace(entry.Name),
			UnitPrice:   entry.UnitPrice,
			Description: strings.TrimSpace(entry.Description),
			Category:    strings.TrimSpace(entry.Category),
		}
		if err := validateTreatment(t); err != nil {
			return Catalog{}, fmt.Errorf("catalog: treatment %q: %w", entry.ID, err)
		}
		if _, dup := byID[t.ID]; dup {
			return Catalog{}, fmt.Errorf("catalog: duplicate treatment %q", t.ID)
		}
		byID[t.ID] = t
		catalog.Treatments = append(catalog.Treatments, t)
	}
	for _, entry := range file.Packages {
		p := domain.Package{
			ID:              strings.TrimSpace(entry.ID),
			Name:            strings.TrimSpace(entry.Name),
			Description:     strings.TrimSpace(entry.Description),
			Price:           entry.Price,
			Savings:         entry.Savings,
			DiscountPercent: entry.DiscountPercent,
		}
		for _, id := range entry.Treatments {
			t, ok := byID[strings.TrimSpace(id)]
			if !ok {
				return Catalog{}, fmt.Errorf("catalog: package %q references unknown treatment %q", p.ID, id)
			}
			p.Treatments = append(p.Treatments, t)
		}
		if err := validatePackage(p); err != nil {
			return Catalog{}, fmt.Errorf("catalog: package %q: %w", entry.ID, err)
		}
		catalog.Packages = append(catalog.Packages, p)
	}
	for _, entry := range file.Offers {
		o := domain.SpecialOffer{
			ID:            strings.TrimSpace(entry.ID),
			Title:         strings.TrimSpace(entry.Title),
			Description:   strings.TrimSpace(entry.Description),
			DiscountType:  domain.DiscountType(strings.ToLower(strings.TrimSpace(entry.DiscountType))),
			DiscountValue: entry.DiscountValue,
		}
		if err := validateOffer(o); err != nil {
			return Catalog{}, fmt.Errorf("catalog: offer %q: %w", entry.ID, err)
		}
		catalog.Offers = append(catalog.Offers, o)
	}
	return catalog, nil
}
