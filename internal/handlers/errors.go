package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/smilequote/api/internal/platform/httpx"
	"github.com/smilequote/api/internal/platform/requestctx"
	"github.com/smilequote/api/internal/quote"
	"github.com/smilequote/api/internal/services"
)

// errorMapping pairs a sentinel with the envelope it is rendered as.
// Order matters: wrapped gateway failures are matched on their cause first.
type errorMapping struct {
	target    error
	code      string
	message   string
	status    int
	retryable bool
}

var serviceErrorMappings = []errorMapping{
	{services.ErrQuotePromoRejected, "promo_rejected", "the promo code is no longer valid for this quote", http.StatusUnprocessableEntity, false},
	{services.ErrPromoServiceUnavailable, "promo_service_unavailable", "promo validation is temporarily unavailable", http.StatusServiceUnavailable, true},
	{quote.ErrPromoUnavailable, "promo_service_unavailable", "promo validation is temporarily unavailable", http.StatusServiceUnavailable, true},
	{quote.ErrPromoInFlight, "promo_in_flight", "a promo code is already being checked", http.StatusConflict, true},
	{quote.ErrSubmissionInFlight, "submission_in_flight", "the quote is already being submitted", http.StatusConflict, true},
	{quote.ErrUnknownStage, "unknown_stage", "unknown step", http.StatusBadRequest, false},
	{quote.ErrNotAtReview, "not_at_review", "quotes can only be submitted from the review step", http.StatusConflict, false},
	{quote.ErrNoPendingSubstitution, "no_pending_substitution", "there is no package substitution to decide", http.StatusConflict, false},
	{quote.ErrEmptySelection, "empty_selection", "select at least one treatment or package", http.StatusUnprocessableEntity, false},
	{quote.ErrInvalidSnapshot, "invalid_selection", "the selection is not valid", http.StatusBadRequest, false},
	{quote.ErrPendingNotFound, "handoff_target_not_found", "the linked item is no longer available", http.StatusNotFound, false},
	{services.ErrHandoffInvalid, "handoff_invalid", "the hand-off cannot be created", http.StatusUnprocessableEntity, false},
	{services.ErrSessionNotFound, "session_not_found", "session not found", http.StatusNotFound, false},
	{services.ErrQuoteNotFound, "quote_not_found", "quote not found", http.StatusNotFound, false},
	{services.ErrCatalogItemNotFound, "catalog_item_not_found", "catalog item not found", http.StatusNotFound, false},
	{services.ErrHandoffNotFound, "handoff_not_found", "the link has expired or was already used", http.StatusNotFound, false},
	{services.ErrCatalogEmpty, "catalog_empty", "no treatments are available", http.StatusServiceUnavailable, true},
	{services.ErrEmailUnavailable, "email_unavailable", "quote emails are not available", http.StatusServiceUnavailable, false},
	{services.ErrQuoteUnavailable, "quote_store_unavailable", "quotes are temporarily unavailable", http.StatusServiceUnavailable, true},
	{services.ErrSessionUnavailable, "session_store_unavailable", "sessions are temporarily unavailable", http.StatusServiceUnavailable, true},
	{quote.ErrSubmissionFailed, "submission_failed", "the quote could not be submitted", http.StatusBadGateway, true},
	{quote.ErrEmailFailed, "email_failed", "the quote could not be emailed", http.StatusBadGateway, true},
	{context.DeadlineExceeded, "timeout", "the request timed out", http.StatusGatewayTimeout, true},
}

// toHTTPError converts a service or engine error into the JSON envelope.
func toHTTPError(err error) httpx.Error {
	var guard *quote.GuardError
	if errors.As(err, &guard) {
		httpErr := httpx.NewError("stage_guard_failed", "the current step is not complete", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"stage": string(guard.Stage), "reason": guardReason(guard.Err)})
		var validation *quote.ValidationError
		if errors.As(guard.Err, &validation) {
			httpErr = httpErr.WithFields(validation.Fields)
		}
		return httpErr
	}

	var validation *quote.ValidationError
	if errors.As(err, &validation) {
		return httpx.NewError("validation_failed", "some fields need attention", http.StatusBadRequest).WithFields(validation.Fields)
	}

	for _, m := range serviceErrorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		httpErr := httpx.NewError(m.code, m.message, m.status)
		if m.retryable {
			httpErr = httpErr.AsRetryable()
		}
		var revoked *quote.PromoRevokedError
		if errors.As(err, &revoked) {
			httpErr = httpErr.WithDetails(map[string]any{"promoCode": revoked.Code, "reason": revoked.Reason})
		}
		return httpErr
	}

	return httpx.NewError("internal_error", "an unexpected error occurred", http.StatusInternalServerError)
}

func guardReason(err error) string {
	switch {
	case errors.Is(err, quote.ErrEmptySelection):
		return "empty_selection"
	case errors.Is(err, quote.ErrSubmitRequired):
		return "submit_required"
	}
	var validation *quote.ValidationError
	if errors.As(err, &validation) {
		return "invalid_patient_info"
	}
	return "guard"
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	httpErr := toHTTPError(err)
	if httpErr.Status >= http.StatusInternalServerError {
		logServiceError(ctx, httpErr, err)
	}
	httpx.WriteError(ctx, w, httpErr)
}

func logServiceError(ctx context.Context, httpErr httpx.Error, err error) {
	requestctx.Logger(ctx).Warn("request failed",
		zap.String("code", httpErr.Code),
		zap.Int("status", httpErr.Status),
		zap.String("session_id", requestctx.SessionID(ctx)),
		zap.Error(err),
	)
}

func writeDecodeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, httpx.ErrBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, http.StatusServiceUnavailable))
}
