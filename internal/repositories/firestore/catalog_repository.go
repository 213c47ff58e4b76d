package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/smilequote/api/internal/domain"
	pfirestore "github.com/smilequote/api/internal/platform/firestore"
	"github.com/smilequote/api/internal/repositories"
)

const (
	treatmentsCollection = "treatments"
	packagesCollection   = "packages"
	offersCollection     = "special_offers"
)

type keyed[T any] struct {
	id    string
	doc   T
	order int
}

// CatalogRepository reads treatments, packages and offers. Documents with
// an empty clinicId or city apply to every clinic or city.
type CatalogRepository struct {
	provider *pfirestore.Provider
}

var (
	_ repositories.CatalogRepository = (*CatalogRepository)(nil)
	_ repositories.CatalogWriter     = (*CatalogRepository)(nil)
)

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{provider: provider}, nil
}

func (r *CatalogRepository) ListTreatments(ctx context.Context, query repositories.CatalogQuery) ([]domain.Treatment, error) {
	docs, err := listScoped[treatmentDocument](ctx, r.provider, treatmentsCollection, query,
		func(d treatmentDocument) (string, string, int) { return d.ClinicID, d.City, d.SortOrder })
	if err != nil {
		return nil, err
	}
	out := make([]domain.Treatment, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.Treatment{
			ID:          d.id,
			Name:        d.doc.Name,
			UnitPrice:   d.doc.UnitPrice,
			Description: d.doc.Description,
			Category:    d.doc.Category,
		})
	}
	return out, nil
}

func (r *CatalogRepository) ListPackages(ctx context.Context, query repositories.CatalogQuery) ([]domain.Package, error) {
	docs, err := listScoped[packageDocument](ctx, r.provider, packagesCollection, query,
		func(d packageDocument) (string, string, int) { return d.ClinicID, d.City, d.SortOrder })
	if err != nil {
		return nil, err
	}
	out := make([]domain.Package, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.Package{
			ID:              d.id,
			Name:            d.doc.Name,
			Description:     d.doc.Description,
			Price:           d.doc.Price,
			Savings:         d.doc.Savings,
			DiscountPercent: d.doc.DiscountPercent,
			Treatments:      fromPackageItems(d.doc.Treatments),
		})
	}
	return out, nil
}

func (r *CatalogRepository) ListOffers(ctx context.Context, query repositories.CatalogQuery) ([]domain.SpecialOffer, error) {
	docs, err := listScoped[offerDocument](ctx, r.provider, offersCollection, query,
		func(d offerDocument) (string, string, int) { return d.ClinicID, d.City, d.SortOrder })
	if err != nil {
		return nil, err
	}
	out := make([]domain.SpecialOffer, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.SpecialOffer{
			ID:            d.id,
			Title:         d.doc.Title,
			Description:   d.doc.Description,
			DiscountType:  domain.DiscountType(d.doc.DiscountType),
			DiscountValue: d.doc.DiscountValue,
		})
	}
	return out, nil
}

func (r *CatalogRepository) UpsertTreatment(ctx context.Context, query repositories.CatalogQuery, t domain.Treatment) error {
	scope := normalizeScope(query)
	return pfirestore.NewCollection[treatmentDocument](r.provider, treatmentsCollection).Set(ctx, t.ID, treatmentDocument{
		ClinicID:    scope.ClinicID,
		City:        scope.City,
		Name:        t.Name,
		UnitPrice:   t.UnitPrice,
		Description: t.Description,
		Category:    t.Category,
		Active:      true,
	})
}

func (r *CatalogRepository) UpsertPackage(ctx context.Context, query repositories.CatalogQuery, p domain.Package) error {
	scope := normalizeScope(query)
	return pfirestore.NewCollection[packageDocument](r.provider, packagesCollection).Set(ctx, p.ID, packageDocument{
		ClinicID:        scope.ClinicID,
		City:            scope.City,
		Name:            p.Name,
		Description:     p.Description,
		Price:           p.Price,
		Savings:         p.Savings,
		DiscountPercent: p.DiscountPercent,
		Treatments:      toPackageItems(p.Treatments),
		Active:          true,
	})
}

func (r *CatalogRepository) UpsertOffer(ctx context.Context, query repositories.CatalogQuery, o domain.SpecialOffer) error {
	scope := normalizeScope(query)
	return pfirestore.NewCollection[offerDocument](r.provider, offersCollection).Set(ctx, o.ID, offerDocument{
		ClinicID:      scope.ClinicID,
		City:          scope.City,
		Title:         o.Title,
		Description:   o.Description,
		DiscountType:  string(o.DiscountType),
		DiscountValue: o.DiscountValue,
		Active:        true,
	})
}

// listScoped filters by clinic in Firestore and by city in memory, since a
// query may carry only one "in" filter without a composite index.
func listScoped[T any](ctx context.Context, provider *pfirestore.Provider, collection string, query repositories.CatalogQuery, scope func(T) (string, string, int)) ([]keyed[T], error) {
	q := normalizeScope(query)
	client, err := provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	fq := client.Collection(collection).Where("active", "==", true)
	if q.ClinicID != "" {
		fq = fq.Where("clinicId", "in", []string{q.ClinicID, ""})
	}
	snaps, err := fq.Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError(collection+".list", err)
	}
	out := make([]keyed[T], 0, len(snaps))
	for _, snap := range snaps {
		doc, err := pfirestore.Decode[T](snap)
		if err != nil {
			return nil, pfirestore.WrapError(collection+".decode", err)
		}
		_, city, sortOrder := scope(doc)
		if city != "" && q.City != "" && !strings.EqualFold(city, q.City) {
			continue
		}
		out = append(out, keyed[T]{id: snap.Ref.ID, doc: doc, order: sortOrder})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].order != out[j].order {
			return out[i].order < out[j].order
		}
		return out[i].id < out[j].id
	})
	return out, nil
}

func normalizeScope(q repositories.CatalogQuery) repositories.CatalogQuery {
	return repositories.CatalogQuery{
		ClinicID: strings.TrimSpace(q.ClinicID),
		City:     strings.ToLower(strings.TrimSpace(q.City)),
	}
}
