package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/smilequote/api/internal/platform/httpx"
	"github.com/smilequote/api/internal/services"
)

// CatalogHandlers exposes the public catalog read.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs catalog handlers.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes wires GET /catalog.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/catalog", h.getCatalog)
}

type catalogResponse struct {
	ClinicID   string             `json:"clinicId,omitempty"`
	City       string             `json:"city,omitempty"`
	Currency   string             `json:"currency"`
	Source     string             `json:"source"`
	Degraded   bool               `json:"degraded"`
	Empty      bool               `json:"empty"`
	Treatments []treatmentPayload `json:"treatments"`
	Packages   []packagePayload   `json:"packages"`
	Offers     []offerPayload     `json:"offers"`
}

func (h *CatalogHandlers) getCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeUnavailable(ctx, w, "catalog_service_unavailable", "catalog service is unavailable")
		return
	}

	query := services.CatalogQuery{
		ClinicID: strings.TrimSpace(r.URL.Query().Get("clinicId")),
		City:     strings.TrimSpace(r.URL.Query().Get("city")),
	}
	catalog, err := h.catalog.GetCatalog(ctx, query)
	if err != nil && !errors.Is(err, services.ErrCatalogEmpty) {
		writeServiceError(ctx, w, err)
		return
	}

	payload := catalogResponse{
		ClinicID:   catalog.ClinicID,
		City:       catalog.City,
		Currency:   catalog.Currency,
		Source:     string(catalog.Source),
		Degraded:   catalog.Degraded(),
		Empty:      catalog.Empty(),
		Treatments: make([]treatmentPayload, 0, len(catalog.Treatments)),
		Packages:   make([]packagePayload, 0, len(catalog.Packages)),
		Offers:     make([]offerPayload, 0, len(catalog.Offers)),
	}
	for _, t := range catalog.Treatments {
		payload.Treatments = append(payload.Treatments, buildTreatmentPayload(t))
	}
	for _, p := range catalog.Packages {
		payload.Packages = append(payload.Packages, buildPackagePayload(p))
	}
	for _, o := range catalog.Offers {
		payload.Offers = append(payload.Offers, buildOfferPayload(o))
	}
	if payload.Degraded {
		w.Header().Set("Cache-Control", "no-store")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=60")
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}
