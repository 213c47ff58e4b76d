// Package memory holds process-local repositories for development and tests.
package memory

import (
	"context"
	"time"

	"github.com/smilequote/api/internal/repositories"
)

// Options configures a memory registry.
type Options struct {
	SessionTTL time.Duration
	Clock      func() time.Time
}

// Registry bundles the memory repositories.
type Registry struct {
	catalog  *CatalogRepository
	promos   *PromoCodeRepository
	quotes   *QuoteRepository
	sessions *QuoteSessionRepository
	handoffs *HandoffRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds an empty registry.
func NewRegistry(opts Options) *Registry {
	health, _ := repositories.NewProbeHealthRepository([]repositories.Probe{{
		Name:  "memory",
		Check: func(ctx context.Context) error { return ctx.Err() },
	}})
	return &Registry{
		catalog:  NewCatalogRepository(),
		promos:   NewPromoCodeRepository(),
		quotes:   NewQuoteRepository(),
		sessions: NewQuoteSessionRepository(opts.SessionTTL, opts.Clock),
		handoffs: NewHandoffRepository(opts.Clock),
		health:   health,
	}
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }
func (r *Registry) PromoCodes() repositories.PromoCodeRepository { return r.promos }
func (r *Registry) Quotes() repositories.QuoteRepository { return r.quotes }
func (r *Registry) Sessions() repositories.QuoteSessionRepository { return r.sessions }
func (r *Registry) Handoffs() repositories.HandoffRepository { return r.handoffs }
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// CatalogStore exposes the concrete catalog for seeding.
func (r *Registry) CatalogStore() *CatalogRepository { return r.catalog }

// PromoStore exposes the concrete promo store for seeding.
func (r *Registry) PromoStore() *PromoCodeRepository { return r.promos }
