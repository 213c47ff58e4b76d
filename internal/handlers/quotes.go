package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/smilequote/api/internal/platform/httpx"
	"github.com/smilequote/api/internal/services"
)

const maxQuoteBodySize = 32 * 1024

// QuoteHandlers exposes stateless pricing and the quote submission gateway.
type QuoteHandlers struct {
	quotes      services.QuoteService
	idempotency func(http.Handler) http.Handler
}

// QuoteHandlerOption customises QuoteHandlers.
type QuoteHandlerOption func(*QuoteHandlers)

// WithQuoteSubmitMiddleware wraps POST /quotes, typically with the idempotency middleware.
func WithQuoteSubmitMiddleware(mw func(http.Handler) http.Handler) QuoteHandlerOption {
	return func(h *QuoteHandlers) {
		h.idempotency = mw
	}
}

// NewQuoteHandlers constructs quote handlers.
func NewQuoteHandlers(quotes services.QuoteService, opts ...QuoteHandlerOption) *QuoteHandlers {
	h := &QuoteHandlers{quotes: quotes}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /quotes endpoints.
func (h *QuoteHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/quotes:price", h.price)
	if h.idempotency != nil {
		r.With(h.idempotency).Post("/quotes", h.submit)
	} else {
		r.Post("/quotes", h.submit)
	}
	r.Get("/quotes/{quoteId}", h.getQuote)
	r.Post("/quotes/{quoteId}:email", h.email)
}

type selectionLineRequest struct {
	ID       string `json:"id"`
	Quantity *int   `json:"quantity"`
}

type selectionRequest struct {
	ClinicID   string                 `json:"clinicId"`
	Currency   string                 `json:"currency"`
	Treatments []selectionLineRequest `json:"treatments"`
	PackageID  string                 `json:"packageId"`
	OfferID    string                 `json:"offerId"`
	PromoCode  string                 `json:"promoCode"`
}

func (s selectionRequest) toCommand() services.SelectionCommand {
	cmd := services.SelectionCommand{
		ClinicID:  strings.TrimSpace(s.ClinicID),
		Currency:  strings.TrimSpace(s.Currency),
		PackageID: strings.TrimSpace(s.PackageID),
		OfferID:   strings.TrimSpace(s.OfferID),
		PromoCode: strings.TrimSpace(s.PromoCode),
	}
	for _, line := range s.Treatments {
		quantity := 1
		if line.Quantity != nil {
			quantity = *line.Quantity
		}
		cmd.Treatments = append(cmd.Treatments, services.SelectionLine{TreatmentID: line.ID, Quantity: quantity})
	}
	return cmd
}

type priceResponse struct {
	Currency     string           `json:"currency"`
	Selection    selectionPayload `json:"selection"`
	Totals       totalsPayload    `json:"totals"`
	PromoMessage string           `json:"promoMessage,omitempty"`
}

type submitQuoteRequest struct {
	selectionRequest
	Patient patientPayload `json:"patient"`
}

type emailQuoteRequest struct {
	Email string `json:"email"`
}

type emailQuoteResponse struct {
	QuoteID string `json:"quoteId"`
	Email   string `json:"email"`
	Status  string `json:"status"`
}

func (h *QuoteHandlers) price(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		writeUnavailable(ctx, w, "quote_service_unavailable", "quote service is unavailable")
		return
	}

	var req selectionRequest
	if err := httpx.DecodeJSON(r, maxQuoteBodySize, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	priced, err := h.quotes.PriceSelection(ctx, req.toCommand())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, priceResponse{
		Currency:     priced.Currency,
		Selection:    buildSelectionPayload(priced.Selection),
		Totals:       buildTotalsPayload(priced.Totals),
		PromoMessage: priced.PromoMessage,
	})
}

func (h *QuoteHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		writeUnavailable(ctx, w, "quote_service_unavailable", "quote service is unavailable")
		return
	}

	var req submitQuoteRequest
	if err := httpx.DecodeJSON(r, maxQuoteBodySize, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	q, err := h.quotes.SubmitSelection(ctx, services.SubmitSelectionCommand{
		Selection: req.selectionRequest.toCommand(),
		Patient:   req.Patient.toDomain(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/quotes/"+q.ID)
	httpx.WriteJSON(w, http.StatusCreated, buildQuotePayload(q))
}

func (h *QuoteHandlers) getQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		writeUnavailable(ctx, w, "quote_service_unavailable", "quote service is unavailable")
		return
	}

	q, err := h.quotes.GetQuote(ctx, strings.TrimSpace(chi.URLParam(r, "quoteId")))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildQuotePayload(q))
}

func (h *QuoteHandlers) email(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.quotes == nil {
		writeUnavailable(ctx, w, "quote_service_unavailable", "quote service is unavailable")
		return
	}

	var req emailQuoteRequest
	if err := httpx.DecodeJSON(r, httpx.DefaultBodyLimit, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	quoteID := strings.TrimSpace(chi.URLParam(r, "quoteId"))
	if err := h.quotes.EmailQuote(ctx, quoteID, req.Email); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, emailQuoteResponse{
		QuoteID: quoteID,
		Email:   strings.ToLower(strings.TrimSpace(req.Email)),
		Status:  "queued",
	})
}
