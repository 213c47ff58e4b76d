package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/smilequote/api/internal/platform/config"
	"github.com/smilequote/api/internal/platform/observability"
	"github.com/smilequote/api/internal/repositories"
	"github.com/smilequote/api/internal/services"
)

const meterName = "github.com/smilequote/api"

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog  services.CatalogService
	Promos   services.PromoCodeService
	Quotes   services.QuoteService
	Sessions services.QuoteSessionService
	System   services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option supplies optional infrastructure to NewContainer.
type Option func(*containerOptions)

type containerOptions struct {
	logger    *zap.Logger
	meter     metric.Meter
	clock     func() time.Time
	archiver  services.QuoteArchiver
	publisher services.QuoteEmailPublisher
	fallback  *services.Catalog
	build     services.BuildInfo
}

// WithLogger routes service events to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMeter overrides the global otel meter.
func WithMeter(meter metric.Meter) Option {
	return func(o *containerOptions) { o.meter = meter }
}

// WithClock overrides time.Now for every service.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithArchiver stores submitted quotes and sent emails.
func WithArchiver(archiver services.QuoteArchiver) Option {
	return func(o *containerOptions) { o.archiver = archiver }
}

// WithPublisher enqueues quote emails. Without one, emailing reports unavailable.
func WithPublisher(publisher services.QuoteEmailPublisher) Option {
	return func(o *containerOptions) { o.publisher = publisher }
}

// WithFallbackCatalog replaces the embedded fallback catalog.
func WithFallbackCatalog(catalog services.Catalog) Option {
	return func(o *containerOptions) { o.fallback = &catalog }
}

// WithBuildInfo is reported by the health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) { o.build = build }
}

// NewContainer constructs the runtime dependencies. Production wiring provides the Firestore
// registry and cloud collaborators, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	options := containerOptions{
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.meter == nil {
		options.meter = otel.GetMeterProvider().Meter(meterName)
	}

	svc, err := buildServices(ctx, reg, cfg, options)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, opts containerOptions) (Services, error) {
	var svc Services
	logger := opts.logger

	catalogRepo := reg.Catalog()
	if catalogRepo == nil {
		return Services{}, errors.New("build catalog service: catalog repository is required")
	}
	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Repository: catalogRepo,
		Fallback:   opts.fallback,
		Currency:   cfg.Quotes.DefaultCurrency,
		CacheTTL:   cfg.Quotes.CatalogCacheTTL,
		Clock:      opts.clock,
		Logger:     observability.EventLogger(logger.Named("catalog")),
		Meter:      opts.meter,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	if promoRepo := reg.PromoCodes(); promoRepo != nil {
		promoSvc, err := services.NewPromoCodeService(services.PromoCodeServiceDeps{
			Repository: promoRepo,
			Catalog:    catalogSvc,
			Clock:      opts.clock,
			Logger:     observability.EventLogger(logger.Named("promo")),
			Meter:      opts.meter,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build promo code service: %w", err)
		}
		svc.Promos = promoSvc
	}

	if quotesRepo := reg.Quotes(); quotesRepo != nil {
		deps := services.QuoteServiceDeps{
			Quotes:          quotesRepo,
			Catalog:         catalogSvc,
			Archiver:        opts.archiver,
			Publisher:       opts.publisher,
			DefaultCurrency: cfg.Quotes.DefaultCurrency,
			ReferencePrefix: cfg.Quotes.ReferencePrefix,
			EmailFrom:       cfg.Email.FromAddress,
			SigningKey:      cfg.Email.SigningKey,
			Clock:           opts.clock,
			Logger:          observability.EventLogger(logger.Named("quotes")),
			Meter:           opts.meter,
		}
		if svc.Promos != nil {
			deps.Promos = svc.Promos
		}
		quoteSvc, err := services.NewQuoteService(deps)
		if err != nil {
			return Services{}, fmt.Errorf("build quote service: %w", err)
		}
		svc.Quotes = quoteSvc
	}

	if sessionsRepo := reg.Sessions(); sessionsRepo != nil && svc.Quotes != nil {
		deps := services.QuoteSessionServiceDeps{
			Sessions:            sessionsRepo,
			Handoffs:            reg.Handoffs(),
			Catalog:             catalogSvc,
			Gateway:             svc.Quotes,
			DefaultCurrency:     cfg.Quotes.DefaultCurrency,
			DefaultVariant:      cfg.Quotes.FlowVariant,
			LocalPromoHeuristic: cfg.Quotes.LocalPromoHeuristic,
			SessionTTL:          cfg.Quotes.SessionTTL,
			HandoffTTL:          cfg.Quotes.HandoffTTL,
			Clock:               opts.clock,
			Logger:              observability.EventLogger(logger.Named("sessions")),
		}
		if svc.Promos != nil {
			deps.Validator = svc.Promos
		}
		sessionSvc, err := services.NewQuoteSessionService(deps)
		if err != nil {
			return Services{}, fmt.Errorf("build quote session service: %w", err)
		}
		svc.Sessions = sessionSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Catalog:          svc.Catalog,
			Clock:            opts.clock,
			Build:            opts.build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

// SeedCatalog writes every entity of catalog into w under the given scope.
// Local runs use it to give the memory registry a remote catalog.
func SeedCatalog(ctx context.Context, w repositories.CatalogWriter, scope repositories.CatalogQuery, catalog services.Catalog) error {
	if w == nil {
		return errors.New("seed catalog: writer is required")
	}
	for _, t := range catalog.Treatments {
		if err := w.UpsertTreatment(ctx, scope, t); err != nil {
			return fmt.Errorf("seed treatment %s: %w", t.ID, err)
		}
	}
	for _, p := range catalog.Packages {
		if err := w.UpsertPackage(ctx, scope, p); err != nil {
			return fmt.Errorf("seed package %s: %w", p.ID, err)
		}
	}
	for _, o := range catalog.Offers {
		if err := w.UpsertOffer(ctx, scope, o); err != nil {
			return fmt.Errorf("seed offer %s: %w", o.ID, err)
		}
	}
	return nil
}
