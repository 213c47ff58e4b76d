// Package firestore implements the repositories on Cloud Firestore.
package firestore

import (
	"context"
	"errors"
	"time"

	"google.golang.org/api/iterator"

	pfirestore "github.com/smilequote/api/internal/platform/firestore"
	"github.com/smilequote/api/internal/repositories"
)

// Options configures the Firestore registry.
type Options struct {
	SessionTTL time.Duration
	Clock      func() time.Time
	// ExtraProbes are added to the readiness report next to Firestore.
	ExtraProbes []repositories.Probe
}

// Registry wires every Firestore repository to one provider.
type Registry struct {
	provider *pfirestore.Provider
	catalog  *CatalogRepository
	promos   *PromoCodeRepository
	quotes   *QuoteRepository
	sessions *QuoteSessionRepository
	handoffs *HandoffRepository
	health   *repositories.ProbeHealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the registry. The provider is owned by the registry
// and closed by Close.
func NewRegistry(provider *pfirestore.Provider, opts Options) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider}
	var err error
	if reg.catalog, err = NewCatalogRepository(provider); err != nil {
		return nil, err
	}
	if reg.promos, err = NewPromoCodeRepository(provider); err != nil {
		return nil, err
	}
	if reg.quotes, err = NewQuoteRepository(provider); err != nil {
		return nil, err
	}
	if reg.sessions, err = NewQuoteSessionRepository(provider, opts.SessionTTL, opts.Clock); err != nil {
		return nil, err
	}
	if reg.handoffs, err = NewHandoffRepository(provider, opts.Clock); err != nil {
		return nil, err
	}
	probes := append([]repositories.Probe{{Name: "firestore", Check: reg.ping}}, opts.ExtraProbes...)
	if reg.health, err = repositories.NewProbeHealthRepository(probes); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) Close(context.Context) error { return r.provider.Close() }

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) PromoCodes() repositories.PromoCodeRepository { return r.promos }

func (r *Registry) Quotes() repositories.QuoteRepository { return r.quotes }

func (r *Registry) Sessions() repositories.QuoteSessionRepository { return r.sessions }

func (r *Registry) Handoffs() repositories.HandoffRepository { return r.handoffs }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// CatalogWriter exposes the catalog for seeding.
func (r *Registry) CatalogWriter() repositories.CatalogWriter { return r.catalog }

func (r *Registry) ping(ctx context.Context) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collection(treatmentsCollection).Limit(1).Documents(ctx)
	defer iter.Stop()
	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return pfirestore.WrapError("firestore.ping", err)
	}
	return nil
}
