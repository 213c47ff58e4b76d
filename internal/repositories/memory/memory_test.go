package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/quote"
	"github.com/smilequote/api/internal/repositories"
)

func TestCatalogRepositoryScopesAndFailures(t *testing.T) {
	ctx := context.Background()
	repo := NewCatalogRepository()
	shared := repositories.CatalogQuery{}
	istanbul := repositories.CatalogQuery{ClinicID: "clinic-ist", City: "Istanbul"}

	_ = repo.UpsertTreatment(ctx, shared, domain.Treatment{ID: "cleaning", UnitPrice: 80})
	_ = repo.UpsertTreatment(ctx, istanbul, domain.Treatment{ID: "implant", UnitPrice: 900})
	_ = repo.UpsertTreatment(ctx, istanbul, domain.Treatment{ID: "implant", UnitPrice: 950})
	_ = repo.UpsertTreatment(ctx, repositories.CatalogQuery{ClinicID: "clinic-bud"}, domain.Treatment{ID: "crown", UnitPrice: 250})

	got, err := repo.ListTreatments(ctx, repositories.CatalogQuery{ClinicID: "clinic-ist", City: "istanbul"})
	if err != nil {
		t.Fatalf("ListTreatments: %v", err)
	}
	if len(got) != 2 || got[0].ID != "cleaning" || got[1].UnitPrice != 950 {
		t.Fatalf("unexpected treatments: %+v", got)
	}

	repo.FailWith("packages", errors.New("timeout"))
	if _, err := repo.ListPackages(ctx, istanbul); !repositories.IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if _, err := repo.ListOffers(ctx, istanbul); err != nil {
		t.Fatalf("offers should still load: %v", err)
	}
	repo.FailWith("packages", nil)
	if _, err := repo.ListPackages(ctx, istanbul); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
}

func TestCatalogRepositoryReturnsDetachedPackages(t *testing.T) {
	ctx := context.Background()
	repo := NewCatalogRepository()
	pkg := domain.Package{ID: "smile", Price: 1800, Treatments: []domain.Treatment{{ID: "veneer"}}}
	_ = repo.UpsertPackage(ctx, repositories.CatalogQuery{}, pkg)

	first, _ := repo.ListPackages(ctx, repositories.CatalogQuery{})
	first[0].Treatments[0].ID = "mutated"
	second, _ := repo.ListPackages(ctx, repositories.CatalogQuery{})
	if second[0].Treatments[0].ID != "veneer" {
		t.Fatalf("stored package was mutated: %+v", second[0])
	}
}

func TestPromoCodeRepositoryNormalisesCodes(t *testing.T) {
	ctx := context.Background()
	repo := NewPromoCodeRepository()
	_ = repo.Upsert(ctx, domain.PromoCode{Code: " smile10 ", Status: domain.PromoCodeActive})

	promo, err := repo.FindByCode(ctx, "Smile10")
	if err != nil {
		t.Fatalf("FindByCode: %v", err)
	}
	if promo.Code != "SMILE10" {
		t.Fatalf("expected normalised code, got %q", promo.Code)
	}
	if _, err := repo.FindByCode(ctx, "nope"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	repo.FailWith(errors.New("down"))
	if _, err := repo.FindByCode(ctx, "SMILE10"); !repositories.IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestQuoteRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewQuoteRepository()
	q := domain.Quote{ID: "q_1", Status: domain.QuoteStatusSubmitted, Totals: domain.QuoteTotals{Total: 765}}

	if err := repo.Insert(ctx, q); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := repo.Insert(ctx, q); !repositories.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	at := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	updated, err := repo.MarkEmailed(ctx, "q_1", "ana@example.com", at)
	if err != nil {
		t.Fatalf("MarkEmailed: %v", err)
	}
	if updated.Status != domain.QuoteStatusEmailed || updated.EmailedAt == nil || !updated.EmailedAt.Equal(at) {
		t.Fatalf("unexpected quote: %+v", updated)
	}
	if _, err := repo.MarkEmailed(ctx, "missing", "x@example.com", at); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestQuoteSessionRepositoryExpiresIdleRecords(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	repo := NewQuoteSessionRepository(time.Hour, func() time.Time { return now })

	rec := quote.Record{ID: "s1", UpdatedAt: now, Stage: quote.StageTreatments}
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got, err := repo.FindByID(ctx, "s1"); err != nil || got.Stage != quote.StageTreatments {
		t.Fatalf("FindByID: %+v %v", got, err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := repo.FindByID(ctx, "s1"); !repositories.IsNotFound(err) {
		t.Fatalf("expected expired record, got %v", err)
	}
}

func TestHandoffRepositoryTakeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	repo := NewHandoffRepository(func() time.Time { return now })

	sel := domain.PendingSelection{Token: "tok", Kind: domain.PendingPackage, Payload: "smile", ExpiresAt: now.Add(time.Minute)}
	if err := repo.Put(ctx, sel); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := repo.Put(ctx, sel); !repositories.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, err := repo.Take(ctx, "tok")
	if err != nil || got.Payload != "smile" {
		t.Fatalf("Take: %+v %v", got, err)
	}
	if _, err := repo.Take(ctx, "tok"); !repositories.IsNotFound(err) {
		t.Fatalf("second take should miss, got %v", err)
	}

	expired := domain.PendingSelection{Token: "old", Kind: domain.PendingOffer, ExpiresAt: now}
	_ = repo.Put(ctx, expired)
	if _, err := repo.Take(ctx, "old"); !repositories.IsNotFound(err) {
		t.Fatalf("expired hand-off should miss, got %v", err)
	}
}

func TestHandoffRepositoryPutSweepsExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	repo := NewHandoffRepository(func() time.Time { return now })

	for _, tok := range []string{"a", "b"} {
		if err := repo.Put(ctx, domain.PendingSelection{Token: tok, Kind: domain.PendingPromoCode, Payload: "SMILE10", ExpiresAt: now.Add(time.Minute)}); err != nil {
			t.Fatalf("Put %s: %v", tok, err)
		}
	}
	if repo.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", repo.Len())
	}

	now = now.Add(2 * time.Minute)
	if err := repo.Put(ctx, domain.PendingSelection{Token: "a", Kind: domain.PendingOffer, Payload: "spring", ExpiresAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("reusing an expired token should succeed: %v", err)
	}
	if repo.Len() != 1 {
		t.Fatalf("expired hand-offs should be swept, got %d entries", repo.Len())
	}
	got, err := repo.Take(ctx, "a")
	if err != nil || got.Payload != "spring" {
		t.Fatalf("Take: %+v %v", got, err)
	}
}

func TestRegistryHealth(t *testing.T) {
	reg := NewRegistry(Options{})
	report, err := reg.Health().Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
}
