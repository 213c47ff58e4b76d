package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/repositories"
	"github.com/smilequote/api/internal/repositories/memory"
)

var (
	testCrown     = domain.Treatment{ID: "crown", Name: "Zirconia crown", UnitPrice: 30000, Category: "restorative"}
	testImplant   = domain.Treatment{ID: "implant", Name: "Dental implant", UnitPrice: 75000, Category: "implants"}
	testWhitening = domain.Treatment{ID: "whitening", Name: "Whitening", UnitPrice: 20000, Category: "cosmetic"}

	testPackage = domain.Package{
		ID:              "smile",
		Name:            "Smile makeover",
		Price:           100000,
		Savings:         20000,
		DiscountPercent: 15,
		Treatments:      []domain.Treatment{testCrown, testWhitening},
	}
	testOffer = domain.SpecialOffer{ID: "ten", Title: "Ten percent", DiscountType: domain.DiscountPercentage, DiscountValue: 10}

	testPatient = domain.PatientInfo{Name: "Ana Ruiz", Email: "ana@example.com", Phone: "+34 600 123 456", Country: "ES"}
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func seededCatalogRepository(t *testing.T) *memory.CatalogRepository {
	t.Helper()
	repo := memory.NewCatalogRepository()
	ctx := context.Background()
	scope := repositories.CatalogQuery{}
	for _, tr := range []domain.Treatment{testCrown, testImplant, testWhitening} {
		if err := repo.UpsertTreatment(ctx, scope, tr); err != nil {
			t.Fatalf("seed treatment: %v", err)
		}
	}
	if err := repo.UpsertPackage(ctx, scope, testPackage); err != nil {
		t.Fatalf("seed package: %v", err)
	}
	if err := repo.UpsertOffer(ctx, scope, testOffer); err != nil {
		t.Fatalf("seed offer: %v", err)
	}
	return repo
}

func seededPromoRepository(t *testing.T, codes ...domain.PromoCode) *memory.PromoCodeRepository {
	t.Helper()
	repo := memory.NewPromoCodeRepository()
	for _, code := range codes {
		if err := repo.Upsert(context.Background(), code); err != nil {
			t.Fatalf("seed promo: %v", err)
		}
	}
	return repo
}

func newTestCatalogService(t *testing.T, repo repositories.CatalogRepository) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{Repository: repo, Currency: "USD"})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	return svc
}

type recordedEvent struct {
	event  string
	fields map[string]any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) log(_ context.Context, event string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{event: event, fields: fields})
}

func (r *eventRecorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.event == event {
			n++
		}
	}
	return n
}
