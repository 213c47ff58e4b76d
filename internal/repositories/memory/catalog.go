package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/repositories"
)

type scoped[T any] struct {
	scope repositories.CatalogQuery
	id    string
	item  T
}

// CatalogRepository keeps catalog entries in insertion order. An entry
// stored with an empty clinic or city matches every query on that field.
type CatalogRepository struct {
	mu         sync.RWMutex
	treatments []scoped[domain.Treatment]
	packages   []scoped[domain.Package]
	offers     []scoped[domain.SpecialOffer]
	fail       map[string]error
}

var (
	_ repositories.CatalogRepository = (*CatalogRepository)(nil)
	_ repositories.CatalogWriter     = (*CatalogRepository)(nil)
)

// NewCatalogRepository returns an empty catalog.
func NewCatalogRepository() *CatalogRepository {
	return &CatalogRepository{fail: make(map[string]error)}
}

// FailWith makes the named list ("treatments", "packages" or "offers")
// return err until cleared with a nil err.
func (r *CatalogRepository) FailWith(list string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, list)
		return
	}
	r.fail[list] = err
}

func (r *CatalogRepository) ListTreatments(ctx context.Context, query repositories.CatalogQuery) ([]domain.Treatment, error) {
	if err := r.check(ctx, "treatments"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return list(r.treatments, query, func(t domain.Treatment) domain.Treatment { return t }), nil
}

func (r *CatalogRepository) ListPackages(ctx context.Context, query repositories.CatalogQuery) ([]domain.Package, error) {
	if err := r.check(ctx, "packages"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return list(r.packages, query, clonePackage), nil
}

func (r *CatalogRepository) ListOffers(ctx context.Context, query repositories.CatalogQuery) ([]domain.SpecialOffer, error) {
	if err := r.check(ctx, "offers"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return list(r.offers, query, func(o domain.SpecialOffer) domain.SpecialOffer { return o }), nil
}

func (r *CatalogRepository) UpsertTreatment(_ context.Context, query repositories.CatalogQuery, t domain.Treatment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.treatments = upsert(r.treatments, query, t.ID, t)
	return nil
}

func (r *CatalogRepository) UpsertPackage(_ context.Context, query repositories.CatalogQuery, p domain.Package) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packages = upsert(r.packages, query, p.ID, clonePackage(p))
	return nil
}

func (r *CatalogRepository) UpsertOffer(_ context.Context, query repositories.CatalogQuery, o domain.SpecialOffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers = upsert(r.offers, query, o.ID, o)
	return nil
}

func (r *CatalogRepository) check(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.fail[name]; err != nil {
		return repositories.NewUnavailable("catalog."+name, err)
	}
	return nil
}

func upsert[T any](entries []scoped[T], scope repositories.CatalogQuery, id string, item T) []scoped[T] {
	scope = normalizeScope(scope)
	for i := range entries {
		if entries[i].id == id && entries[i].scope == scope {
			entries[i].item = item
			return entries
		}
	}
	return append(entries, scoped[T]{scope: scope, id: id, item: item})
}

func list[T any](entries []scoped[T], query repositories.CatalogQuery, clone func(T) T) []T {
	query = normalizeScope(query)
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		if matches(e.scope.ClinicID, query.ClinicID) && matches(e.scope.City, query.City) {
			out = append(out, clone(e.item))
		}
	}
	return out
}

func matches(stored, wanted string) bool {
	return stored == "" || wanted == "" || stored == wanted
}

func normalizeScope(q repositories.CatalogQuery) repositories.CatalogQuery {
	return repositories.CatalogQuery{
		ClinicID: strings.TrimSpace(q.ClinicID),
		City:     strings.ToLower(strings.TrimSpace(q.City)),
	}
}

func clonePackage(p domain.Package) domain.Package {
	if p.Treatments != nil {
		p.Treatments = append([]domain.Treatment(nil), p.Treatments...)
	}
	return p
}
