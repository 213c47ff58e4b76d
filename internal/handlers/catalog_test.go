package handlers

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/smilequote/api/internal/domain"
)

func TestCatalogHandlersServeRemoteCatalog(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodGet, "/api/v1/catalog?clinicId=clinic-1&city=Istanbul", "")
	expectStatus(t, rr, http.StatusOK)

	body := decodeBody[catalogResponse](t, rr)
	if body.Degraded || body.Empty || body.Source != string(domain.CatalogSourceRemote) {
		t.Fatalf("expected healthy remote catalog, got %+v", body)
	}
	if len(body.Treatments) != 3 || len(body.Packages) != 1 || len(body.Offers) != 1 {
		t.Fatalf("unexpected catalog sizes: %d/%d/%d", len(body.Treatments), len(body.Packages), len(body.Offers))
	}
	if body.Packages[0].ID != "smile" || len(body.Packages[0].Treatments) != 2 {
		t.Fatalf("unexpected package %+v", body.Packages[0])
	}
	if cc := rr.Header().Get("Cache-Control"); !strings.Contains(cc, "max-age") {
		t.Fatalf("expected cacheable response, got %q", cc)
	}
}

func TestCatalogHandlersFlagDegradedCatalog(t *testing.T) {
	api := newTestAPI(t)
	api.registry.CatalogStore().FailWith("packages", errors.New("deadline exceeded"))

	rr := api.do(t, http.MethodGet, "/api/v1/catalog", "")
	expectStatus(t, rr, http.StatusOK)

	body := decodeBody[catalogResponse](t, rr)
	if !body.Degraded || body.Source != string(domain.CatalogSourceMixed) {
		t.Fatalf("expected mixed degraded catalog, got source=%s degraded=%v", body.Source, body.Degraded)
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("degraded catalogs must not be cached, got %q", rr.Header().Get("Cache-Control"))
	}
}

func TestCatalogHandlersWithoutService(t *testing.T) {
	router := NewRouter(WithCatalogRoutes(NewCatalogHandlers(nil).Routes))
	api := testAPI{router: router}

	rr := api.do(t, http.MethodGet, "/api/v1/catalog", "")
	expectStatus(t, rr, http.StatusServiceUnavailable)
}

func TestPromoHandlersValidate(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodPost, "/api/v1/promo-codes:validate", `{"code":"save10","basket":{"currency":"USD","subtotal":30000}}`)
	expectStatus(t, rr, http.StatusOK)
	valid := decodeBody[validatePromoResponse](t, rr)
	if !valid.Valid || valid.Code != "SAVE10" || valid.DiscountAmount != 3000 || valid.Source != string(domain.PromoSourceServer) {
		t.Fatalf("unexpected validation %+v", valid)
	}

	rr = api.do(t, http.MethodPost, "/api/v1/promo-codes:validate", `{"code":"MAKEOVER","clinicId":"clinic-1"}`)
	expectStatus(t, rr, http.StatusOK)
	pkg := decodeBody[validatePromoResponse](t, rr)
	if !pkg.Valid || pkg.Package == nil || pkg.Package.ID != "smile" {
		t.Fatalf("expected package resolution, got %+v", pkg)
	}

	rr = api.do(t, http.MethodPost, "/api/v1/promo-codes:validate", `{"code":"NOPE","basket":{"subtotal":30000}}`)
	expectStatus(t, rr, http.StatusOK)
	rejected := decodeBody[validatePromoResponse](t, rr)
	if rejected.Valid || !strings.Contains(rejected.Message, "not recognised") {
		t.Fatalf("expected rejection, got %+v", rejected)
	}
}

func TestPromoHandlersRejectBadRequests(t *testing.T) {
	api := newTestAPI(t)

	cases := map[string]struct {
		body   string
		status int
		field  string
	}{
		"missing code":    {`{"basket":{"subtotal":100}}`, http.StatusBadRequest, "code"},
		"negative amount": {`{"code":"SAVE10","basket":{"subtotal":-1}}`, http.StatusBadRequest, "basket"},
		"unknown field":   {`{"code":"SAVE10","coupon":"x"}`, http.StatusBadRequest, ""},
	}
	for name, tc := range cases {
		rr := api.do(t, http.MethodPost, "/api/v1/promo-codes:validate", tc.body)
		if rr.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", name, tc.status, rr.Code)
		}
		if tc.field != "" {
			if body := decodeBody[errorBody](t, rr); body.Fields[tc.field] == "" {
				t.Fatalf("%s: expected field error for %s, got %+v", name, tc.field, body)
			}
		}
	}
}

func TestPromoHandlersReportUnavailableValidator(t *testing.T) {
	api := newTestAPI(t)
	api.registry.PromoStore().FailWith(errors.New("firestore down"))

	rr := api.do(t, http.MethodPost, "/api/v1/promo-codes:validate", `{"code":"SAVE10"}`)
	expectStatus(t, rr, http.StatusServiceUnavailable)
	if body := decodeBody[errorBody](t, rr); body.Error != "promo_service_unavailable" || !body.Retryable {
		t.Fatalf("unexpected error %+v", body)
	}
}
