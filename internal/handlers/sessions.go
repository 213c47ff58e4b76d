package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/smilequote/api/internal/platform/httpx"
	"github.com/smilequote/api/internal/platform/requestctx"
	"github.com/smilequote/api/internal/quote"
	"github.com/smilequote/api/internal/services"
)

// SessionHandlers exposes server-held quote sessions to the UI shells.
// Every response carries the full session so clients never merge state.
type SessionHandlers struct {
	sessions    services.QuoteSessionService
	basePath    string
	submitGuard func(http.Handler) http.Handler
}

// SessionHandlerOption customises SessionHandlers.
type SessionHandlerOption func(*SessionHandlers)

// WithSessionSubmitMiddleware wraps POST /sessions/{id}:submit.
func WithSessionSubmitMiddleware(mw func(http.Handler) http.Handler) SessionHandlerOption {
	return func(h *SessionHandlers) { h.submitGuard = mw }
}

// NewSessionHandlers constructs session handlers.
func NewSessionHandlers(sessions services.QuoteSessionService, opts ...SessionHandlerOption) *SessionHandlers {
	h := &SessionHandlers{sessions: sessions, basePath: defaultAPIPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /sessions endpoints.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/sessions", h.create)
	r.Get("/sessions/{sessionId}", h.get)

	r.Post("/sessions/{sessionId}/treatments/{treatmentId}:toggle", h.toggleTreatment)
	r.Put("/sessions/{sessionId}/treatments/{treatmentId}", h.updateQuantity)
	r.Post("/sessions/{sessionId}/packages/{packageId}:toggle", h.togglePackage)
	r.Post("/sessions/{sessionId}/offers/{offerId}:toggle", h.toggleOffer)
	r.Delete("/sessions/{sessionId}/offer", h.action(services.QuoteSessionService.ClearOffer))

	r.Post("/sessions/{sessionId}/promo-code", h.applyPromo)
	r.Post("/sessions/{sessionId}/promo-code:confirm", h.action(services.QuoteSessionService.ConfirmSubstitution))
	r.Post("/sessions/{sessionId}/promo-code:decline", h.action(services.QuoteSessionService.DeclineSubstitution))
	r.Delete("/sessions/{sessionId}/promo-code", h.action(services.QuoteSessionService.ClearPromoCode))

	r.Put("/sessions/{sessionId}/patient", h.updatePatient)

	r.Post("/sessions/{sessionId}:next", h.action(services.QuoteSessionService.Next))
	r.Post("/sessions/{sessionId}:previous", h.action(services.QuoteSessionService.Previous))
	r.Post("/sessions/{sessionId}:reset", h.action(services.QuoteSessionService.Reset))
	submit := r
	if h.submitGuard != nil {
		submit = r.With(h.submitGuard)
	}
	submit.Post("/sessions/{sessionId}:submit", h.action(services.QuoteSessionService.Submit))
	r.Post("/sessions/{sessionId}:email", h.email)
}

type createSessionRequest struct {
	ClinicID string `json:"clinicId"`
	Currency string `json:"currency"`
	Variant  string `json:"variant"`
	Handoff  string `json:"handoff"`
	Step     string `json:"step"`
}

type updateQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

type applyPromoRequest struct {
	Code string `json:"code"`
}

type sessionEmailRequest struct {
	Email string `json:"email"`
}

type pendingSubstitutionPayload struct {
	Code           string         `json:"code"`
	Package        packagePayload `json:"package"`
	DisplayPercent int64          `json:"displayPercent,omitempty"`
	Message        string         `json:"message,omitempty"`
}

type sessionResponse struct {
	ID                  string                      `json:"id"`
	ClinicID            string                      `json:"clinicId,omitempty"`
	Currency            string                      `json:"currency"`
	Variant             string                      `json:"variant"`
	Step                string                      `json:"step"`
	StepIndex           int                         `json:"stepIndex"`
	Steps               []string                    `json:"steps"`
	Selection           selectionPayload            `json:"selection"`
	Totals              totalsPayload               `json:"totals"`
	Patient             patientPayload              `json:"patient"`
	PendingSubstitution *pendingSubstitutionPayload `json:"pendingSubstitution,omitempty"`
	Receipt             *receiptPayload             `json:"receipt,omitempty"`
	PromoInFlight       bool                        `json:"promoInFlight"`
	Promo               *promoResultPayload         `json:"promo,omitempty"`
	Notices             []string                    `json:"notices,omitempty"`
	CreatedAt           string                      `json:"createdAt,omitempty"`
	UpdatedAt           string                      `json:"updatedAt,omitempty"`
}

func buildSessionResponse(view services.SessionView) sessionResponse {
	out := sessionResponse{
		ID:            view.ID,
		ClinicID:      view.ClinicID,
		Currency:      view.Currency,
		Variant:       view.Variant,
		Step:          string(view.Stage),
		StepIndex:     -1,
		Steps:         make([]string, 0, len(view.Stages)),
		Selection:     buildSelectionPayload(view.Selection),
		Totals:        buildTotalsPayload(view.Totals),
		Patient:       buildPatientPayload(view.Patient),
		PromoInFlight: view.PromoInFlight,
		Notices:       view.Notices,
		CreatedAt:     formatTime(view.CreatedAt),
		UpdatedAt:     formatTime(view.UpdatedAt),
	}
	for i, stage := range view.Stages {
		out.Steps = append(out.Steps, string(stage))
		if stage == view.Stage {
			out.StepIndex = i
		}
	}
	if view.Pending != nil {
		out.PendingSubstitution = &pendingSubstitutionPayload{
			Code:           view.Pending.Code,
			Package:        buildPackagePayload(view.Pending.Package),
			DisplayPercent: view.Pending.DisplayPercent,
			Message:        view.Pending.Message,
		}
	}
	if view.Receipt != nil {
		out.Receipt = &receiptPayload{ID: view.Receipt.ID, Reference: view.Receipt.Reference}
	}
	if view.Promo != nil {
		promo := buildPromoResultPayload(*view.Promo)
		out.Promo = &promo
	}
	if view.Notice != "" {
		out.Notices = append(append([]string(nil), view.Notices...), view.Notice)
	}
	return out
}

// sessionContext tags the request context with the session id for logging.
func sessionContext(r *http.Request) (context.Context, string) {
	id := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	return requestctx.WithSessionID(r.Context(), id), id
}

func (h *SessionHandlers) available(ctx context.Context, w http.ResponseWriter) bool {
	if h.sessions == nil {
		writeUnavailable(ctx, w, "session_service_unavailable", "session service is unavailable")
		return false
	}
	return true
}

// action adapts a session operation that needs nothing but the id.
func (h *SessionHandlers) action(fn func(svc services.QuoteSessionService, ctx context.Context, sessionID string) (services.SessionView, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, id := sessionContext(r)
		if !h.available(ctx, w) {
			return
		}
		view, err := fn(h.sessions, ctx, id)
		h.respond(ctx, w, http.StatusOK, view, err)
	}
}

// respond writes the session, or the error with the session attached when
// the operation returned both (e.g. a blocked Next).
func (h *SessionHandlers) respond(ctx context.Context, w http.ResponseWriter, status int, view services.SessionView, err error) {
	if view.ID != "" {
		w.Header().Set("Content-Location", h.location(view))
	}
	if err != nil {
		httpErr := toHTTPError(err)
		if view.ID != "" {
			httpErr = httpErr.WithDetails(map[string]any{"session": buildSessionResponse(view)})
		}
		if httpErr.Status >= http.StatusInternalServerError {
			logServiceError(ctx, httpErr, err)
		}
		httpx.WriteError(ctx, w, httpErr)
		return
	}
	httpx.WriteJSON(w, status, buildSessionResponse(view))
}

// location is the session URL with the current stage as the step query,
// so a reload restores the same position.
func (h *SessionHandlers) location(view services.SessionView) string {
	loc := h.basePath + "/sessions/" + url.PathEscape(view.ID)
	if encoded := view.StepQuery.Encode(); encoded != "" {
		loc += "?" + encoded
	}
	return loc
}

func (h *SessionHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	var req createSessionRequest
	if err := httpx.DecodeJSON(r, httpx.DefaultBodyLimit, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	step := strings.TrimSpace(req.Step)
	if step == "" {
		step = strings.TrimSpace(r.URL.Query().Get(quote.StepParam))
	}

	view, err := h.sessions.CreateSession(ctx, services.CreateSessionCommand{
		ClinicID:     strings.TrimSpace(req.ClinicID),
		Currency:     strings.TrimSpace(req.Currency),
		Variant:      strings.TrimSpace(req.Variant),
		HandoffToken: strings.TrimSpace(req.Handoff),
		Step:         step,
	})
	h.respond(ctx, w, http.StatusCreated, view, err)
}

func (h *SessionHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx, id := sessionContext(r)
	if !h.available(ctx, w) {
		return
	}
	view, err := h.sessions.GetSession(ctx, id, strings.TrimSpace(r.URL.Query().Get(quote.StepParam)))
	h.respond(ctx, w, http.StatusOK, view, err)
}

func (h *SessionHandlers) toggleTreatment(w http.ResponseWriter, r *http.Request) {
	ctx, id := sessionContext(r)
	if !h.available(ctx, w) {
		return
	}
	view, err := h.sessions.ToggleTreatment(ctx, id, chi.URLParam(r, "treatmentId"))
	h.respond(ctx, w, http.StatusOK, view, err)
}

func (h *SessionHandlers) updateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, id := sessionContext(r)
	if !h.available(ctx, w) {
		return
	}

	var req updateQuantityRequest
	if err := httpx.DecodeJSON(r, httpx.DefaultBodyLimit, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", "some fields need attention", http.StatusBadRequest).
			WithFields(map[string]string{"quantity": "is required"}))
		return
	}

	view, err := h.sessions.UpdateQuantity(ctx, id, chi.URLParam(r, "treatmentId"), *req.Quantity)
	h.respond(ctx, w, http.StatusOK, view, err)
}

func (h *SessionHandlers) togglePackage(w http.ResponseWriter, r *http.Request) {
	ctx, id := sessionContext(r)
	if !h.available(ctx, w) {
		return
	}
	view, err := h.sessions.TogglePackage(ctx, id, chi.URLParam(r, "packageId"))
	h.respond(ctx, w, http.StatusOK, view, err)
}

func (h *SessionHandlers) toggleOffer(w http.ResponseWriter, r *http.Request) {
	ctx, id := sessionContext(r)
	if !h.available(ctx, w) {
		return
	}
	view, err := h.sessions.ToggleOffer(ctx, id, chi.URLParam(r, "offerId"))
	h.respond(ctx, w, http.StatusOK, view, err)
}

func (h *SessionHandlers) applyPromo(w http.ResponseWriter, r *http.Request) {
	ctx, id := sessionContext(r)
	if !h.available(ctx, w) {
		return
	}

	var req applyPromoRequest
	if err := httpx.DecodeJSON(r, httpx.DefaultBodyLimit, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	view, err := h.sessions.ApplyPromoCode(ctx, id, req.Code)
	h.respond(ctx, w, http.StatusOK, view, err)
}

func (h *SessionHandlers) updatePatient(w http.ResponseWriter, r *http.Request) {
	ctx, id := sessionContext(r)
	if !h.available(ctx, w) {
		return
	}

	var req patientPayload
	if err := httpx.DecodeJSON(r, httpx.DefaultBodyLimit, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	view, err := h.sessions.UpdatePatient(ctx, id, req.toDomain())
	h.respond(ctx, w, http.StatusOK, view, err)
}

func (h *SessionHandlers) email(w http.ResponseWriter, r *http.Request) {
	ctx, id := sessionContext(r)
	if !h.available(ctx, w) {
		return
	}

	var req sessionEmailRequest
	if err := httpx.DecodeJSON(r, httpx.DefaultBodyLimit, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}
	view, err := h.sessions.Email(ctx, id, req.Email)
	h.respond(ctx, w, http.StatusOK, view, err)
}
