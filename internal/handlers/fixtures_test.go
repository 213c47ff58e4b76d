package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/platform/idempotency"
	"github.com/smilequote/api/internal/repositories"
	"github.com/smilequote/api/internal/repositories/memory"
	"github.com/smilequote/api/internal/services"
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
)

const testPatientJSON = `{"name":"Ana Ruiz","email":"ana@example.com","phone":"+34 600 123 456","country":"ES"}`

type stubPublisher struct {
	mu       sync.Mutex
	messages []services.QuoteEmailMessage
}

func (p *stubPublisher) PublishQuoteEmail(_ context.Context, msg services.QuoteEmailMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return fmt.Sprintf("msg-%d", len(p.messages)), nil
}

func (p *stubPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type testAPI struct {
	router    http.Handler
	registry  *memory.Registry
	publisher *stubPublisher
}

// newTestAPI wires every handler over memory repositories the way the
// container does in production.
func newTestAPI(t *testing.T) testAPI {
	t.Helper()
	now := time.Date(2025, time.March, 3, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	registry := memory.NewRegistry(memory.Options{SessionTTL: time.Hour, Clock: clock})
	seedCatalog(t, registry.CatalogStore())
	for _, code := range []domain.PromoCode{
		{Code: "SAVE10", Status: domain.PromoCodeActive, DiscountType: domain.DiscountPercentage, DiscountValue: 10},
		{Code: "MAKEOVER", Status: domain.PromoCodeActive, PackageID: "smile"},
	} {
		if err := registry.PromoStore().Upsert(context.Background(), code); err != nil {
			t.Fatalf("seed promo: %v", err)
		}
	}

	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{Repository: registry.Catalog(), Currency: "USD"})
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	promos, err := services.NewPromoCodeService(services.PromoCodeServiceDeps{Repository: registry.PromoCodes(), Catalog: catalog, Clock: clock})
	if err != nil {
		t.Fatalf("NewPromoCodeService: %v", err)
	}
	publisher := &stubPublisher{}
	var quoteIDs int
	quotes, err := services.NewQuoteService(services.QuoteServiceDeps{
		Quotes:          registry.Quotes(),
		Catalog:         catalog,
		Promos:          promos,
		Publisher:       publisher,
		DefaultCurrency: "USD",
		ReferencePrefix: "SQ",
		IDGenerator: func() string {
			quoteIDs++
			return fmt.Sprintf("01hzquote%012d", quoteIDs)
		},
		Clock: clock,
	})
	if err != nil {
		t.Fatalf("NewQuoteService: %v", err)
	}
	var ids, tokens int
	sessions, err := services.NewQuoteSessionService(services.QuoteSessionServiceDeps{
		Sessions:        registry.Sessions(),
		Handoffs:        registry.Handoffs(),
		Catalog:         catalog,
		Validator:       promos,
		Gateway:         quotes,
		DefaultCurrency: "USD",
		SessionTTL:      time.Hour,
		HandoffTTL:      time.Hour,
		IDGenerator: func() string {
			ids++
			return fmt.Sprintf("session-%d", ids)
		},
		TokenGenerator: func() string {
			tokens++
			return fmt.Sprintf("token-%d", tokens)
		},
		Clock: clock,
	})
	if err != nil {
		t.Fatalf("NewQuoteSessionService: %v", err)
	}

	submitGuard := idempotency.Middleware(idempotency.NewMemoryStore(), idempotency.WithOptionalKey(), idempotency.WithClock(clock))
	sessionGuard := idempotency.Middleware(idempotency.NewMemoryStore(), idempotency.WithOptionalKey(), idempotency.WithClock(clock),
		idempotency.WithScope(func(r *http.Request) string { return chi.URLParam(r, "sessionId") }))
	router := NewRouter(
		WithCatalogRoutes(NewCatalogHandlers(catalog).Routes),
		WithPromoRoutes(NewPromoHandlers(promos).Routes),
		WithQuoteRoutes(NewQuoteHandlers(quotes, WithQuoteSubmitMiddleware(submitGuard)).Routes),
		WithHandoffRoutes(NewHandoffHandlers(sessions).Routes),
		WithSessionRoutes(NewSessionHandlers(sessions, WithSessionSubmitMiddleware(sessionGuard)).Routes),
	)
	return testAPI{router: router, registry: registry, publisher: publisher}
}

func seedCatalog(t *testing.T, repo *memory.CatalogRepository) {
	t.Helper()
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
}

func (api testAPI) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	api.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

type errorBody struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Fields    map[string]string `json:"fields"`
	Stage     string            `json:"stage"`
	Reason    string            `json:"reason"`
	Session   *sessionResponse  `json:"session"`
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}
