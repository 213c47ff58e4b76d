package repositories

import (
	"context"
	"time"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/quote"
)

// RepositoryError exposes classification helpers so services can map
// storage failures without depending on a backend.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// Registry groups the repositories a running service needs.
type Registry interface {
	Close(ctx context.Context) error

	Catalog() CatalogRepository
	PromoCodes() PromoCodeRepository
	Quotes() QuoteRepository
	Sessions() QuoteSessionRepository
	Handoffs() HandoffRepository
	Health() HealthRepository
}

// CatalogQuery scopes catalog reads to one clinic context. Empty fields
// match every document.
type CatalogQuery struct {
	ClinicID string
	City     string
}

// CatalogRepository reads the sellable items. Each list is fetched on its
// own so a single failing collection can fall back independently.
type CatalogRepository interface {
	ListTreatments(ctx context.Context, query CatalogQuery) ([]domain.Treatment, error)
	ListPackages(ctx context.Context, query CatalogQuery) ([]domain.Package, error)
	ListOffers(ctx context.Context, query CatalogQuery) ([]domain.SpecialOffer, error)
}

// CatalogWriter seeds catalog entries. Used by local tooling and tests.
type CatalogWriter interface {
	UpsertTreatment(ctx context.Context, query CatalogQuery, treatment domain.Treatment) error
	UpsertPackage(ctx context.Context, query CatalogQuery, pkg domain.Package) error
	UpsertOffer(ctx context.Context, query CatalogQuery, offer domain.SpecialOffer) error
}

// PromoCodeRepository looks up promo codes by their normalised code.
type PromoCodeRepository interface {
	FindByCode(ctx context.Context, code string) (domain.PromoCode, error)
	Upsert(ctx context.Context, code domain.PromoCode) error
}

// QuoteRepository persists submitted quotes.
type QuoteRepository interface {
	Insert(ctx context.Context, quote domain.Quote) error
	FindByID(ctx context.Context, id string) (domain.Quote, error)
	MarkEmailed(ctx context.Context, id, email string, at time.Time) (domain.Quote, error)
}

// QuoteSessionRepository stores session snapshots so a session survives
// a process restart or a different instance serving the next request.
type QuoteSessionRepository interface {
	Save(ctx context.Context, record quote.Record) error
	FindByID(ctx context.Context, id string) (quote.Record, error)
	Delete(ctx context.Context, id string) error
}

// HandoffRepository stores pending selections. Take returns and removes
// the entry in one step; a second Take for the same token is NotFound.
type HandoffRepository interface {
	Put(ctx context.Context, selection domain.PendingSelection) error
	Take(ctx context.Context, token string) (domain.PendingSelection, error)
}

// HealthRepository reports dependency readiness.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
