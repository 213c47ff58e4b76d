package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/platform/httpx"
	"github.com/smilequote/api/internal/quote"
	"github.com/smilequote/api/internal/services"
)

// PromoHandlers exposes the promo validator to clients that price locally.
type PromoHandlers struct {
	promos services.PromoCodeService
}

// NewPromoHandlers constructs promo handlers.
func NewPromoHandlers(promos services.PromoCodeService) *PromoHandlers {
	return &PromoHandlers{promos: promos}
}

// Routes wires POST /promo-codes:validate.
func (h *PromoHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/promo-codes:validate", h.validate)
}

type basketRequest struct {
	Currency      string   `json:"currency"`
	PackageID     string   `json:"packageId"`
	OfferID       string   `json:"offerId"`
	TreatmentIDs  []string `json:"treatmentIds"`
	Subtotal      int64    `json:"subtotal"`
	OfferDiscount int64    `json:"offerDiscount"`
}

type validatePromoRequest struct {
	Code     string        `json:"code"`
	ClinicID string        `json:"clinicId"`
	Basket   basketRequest `json:"basket"`
}

type validatePromoResponse struct {
	Valid          bool            `json:"valid"`
	Code           string          `json:"code"`
	DiscountType   string          `json:"discountType,omitempty"`
	DiscountValue  int64           `json:"discountValue,omitempty"`
	DiscountAmount int64           `json:"discountAmount"`
	Package        *packagePayload `json:"package,omitempty"`
	Message        string          `json:"message,omitempty"`
	Source         string          `json:"source,omitempty"`
}

func (h *PromoHandlers) validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promos == nil {
		writeUnavailable(ctx, w, "promo_service_unavailable", "promo service is unavailable")
		return
	}

	var req validatePromoRequest
	if err := httpx.DecodeJSON(r, httpx.DefaultBodyLimit, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", "some fields need attention", http.StatusBadRequest).
			WithFields(map[string]string{"code": "is required"}))
		return
	}
	if req.Basket.Subtotal < 0 || req.Basket.OfferDiscount < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", "some fields need attention", http.StatusBadRequest).
			WithFields(map[string]string{"basket": "amounts must not be negative"}))
		return
	}

	basket := quote.Basket{
		Currency:      strings.ToUpper(strings.TrimSpace(req.Basket.Currency)),
		OfferID:       strings.TrimSpace(req.Basket.OfferID),
		Subtotal:      req.Basket.Subtotal,
		OfferDiscount: req.Basket.OfferDiscount,
	}
	if id := strings.TrimSpace(req.Basket.PackageID); id != "" {
		basket.Package = &domain.Package{ID: id}
	}
	for _, id := range req.Basket.TreatmentIDs {
		if id = strings.TrimSpace(id); id != "" {
			basket.Treatments = append(basket.Treatments, domain.TreatmentSelection{Treatment: domain.Treatment{ID: id}, Quantity: 1})
		}
	}

	v, err := h.promos.ValidatePromoCode(ctx, quote.PromoRequest{
		Code:     req.Code,
		ClinicID: strings.TrimSpace(req.ClinicID),
		Basket:   basket,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := validatePromoResponse{
		Valid:          v.Valid,
		Code:           v.Code,
		DiscountType:   string(v.DiscountType),
		DiscountValue:  v.DiscountValue,
		DiscountAmount: v.DiscountAmount,
		Message:        v.Message,
		Source:         string(v.Source),
	}
	if v.Package != nil {
		p := buildPackagePayload(*v.Package)
		resp.Package = &p
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
