package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/platform/httpx"
	"github.com/smilequote/api/internal/services"
)

// HandoffHandlers lets a marketing page stash a selection for the quote page.
type HandoffHandlers struct {
	sessions services.QuoteSessionService
}

// NewHandoffHandlers constructs hand-off handlers.
func NewHandoffHandlers(sessions services.QuoteSessionService) *HandoffHandlers {
	return &HandoffHandlers{sessions: sessions}
}

// Routes wires POST /handoffs.
func (h *HandoffHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/handoffs", h.create)
}

type createHandoffRequest struct {
	ClinicID string `json:"clinicId"`
	Kind     string `json:"kind"`
	Payload  string `json:"payload"`
}

type handoffResponse struct {
	Token     string `json:"token"`
	Kind      string `json:"kind"`
	Payload   string `json:"payload"`
	ClinicID  string `json:"clinicId,omitempty"`
	CreatedAt string `json:"createdAt"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

func (h *HandoffHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sessions == nil {
		writeUnavailable(ctx, w, "session_service_unavailable", "session service is unavailable")
		return
	}

	var req createHandoffRequest
	if err := httpx.DecodeJSON(r, httpx.DefaultBodyLimit, &req); err != nil {
		writeDecodeError(ctx, w, err)
		return
	}

	fields := map[string]string{}
	kind := domain.PendingKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if !kind.Valid() {
		fields["kind"] = "must be one of package, promo-code, offer"
	}
	if strings.TrimSpace(req.Payload) == "" {
		fields["payload"] = "is required"
	}
	if len(fields) > 0 {
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", "some fields need attention", http.StatusBadRequest).WithFields(fields))
		return
	}

	pending, err := h.sessions.CreateHandoff(ctx, services.CreateHandoffCommand{
		ClinicID: strings.TrimSpace(req.ClinicID),
		Kind:     kind,
		Payload:  req.Payload,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, handoffResponse{
		Token:     pending.Token,
		Kind:      string(pending.Kind),
		Payload:   pending.Payload,
		ClinicID:  pending.ClinicID,
		CreatedAt: formatTime(pending.CreatedAt),
		ExpiresAt: formatTime(pending.ExpiresAt),
	})
}
