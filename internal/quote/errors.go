package quote

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrPromoInFlight is returned while a previous promo attempt is pending.
	ErrPromoInFlight = errors.New("quote: promo code validation already in flight")
	// ErrPromoUnavailable reports a validator transport failure with no
	// usable local fallback. The attempt can be retried.
	ErrPromoUnavailable = errors.New("quote: promo validation unavailable")
	// ErrNoPendingSubstitution is returned by confirm/decline without a pending decision.
	ErrNoPendingSubstitution = errors.New("quote: no pending package substitution")
	// ErrStageGuard is wrapped by GuardError.
	ErrStageGuard = errors.New("quote: stage guard not satisfied")
	// ErrUnknownStage reports a stage id outside the configured flow.
	ErrUnknownStage = errors.New("quote: unknown stage")
	// ErrSubmitRequired is the review stage guard: only a submission moves past review.
	ErrSubmitRequired = errors.New("quote: review stage requires submission")
	// ErrNotAtReview is returned when submitting from any stage but review.
	ErrNotAtReview = errors.New("quote: submission is only possible from review")
	// ErrSubmissionInFlight guards against duplicate submissions.
	ErrSubmissionInFlight = errors.New("quote: submission already in flight")
	// ErrSubmissionFailed wraps gateway failures; the user may retry.
	ErrSubmissionFailed = errors.New("quote: submission failed")
	// ErrEmailFailed wraps gateway email failures; the user may retry.
	ErrEmailFailed = errors.New("quote: email failed")
	// ErrEmptySelection reports an operation that needs at least one item.
	ErrEmptySelection = errors.New("quote: selection is empty")
	// ErrInvalidSnapshot reports a snapshot that violates selection invariants.
	ErrInvalidSnapshot = errors.New("quote: invalid snapshot")
	// ErrPendingNotFound reports a hand-off payload missing from the catalog.
	ErrPendingNotFound = errors.New("quote: hand-off target not in catalog")
	// ErrPromoRevoked is wrapped by PromoRevokedError.
	ErrPromoRevoked = errors.New("quote: promo code no longer valid")
)

// ValidationError carries per-field messages for local validation failures.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "quote: validation failed (" + strings.Join(parts, "; ") + ")"
}

// GuardError names the stage whose guard blocked forward progress.
type GuardError struct {
	Stage Stage
	Err   error
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrStageGuard, e.Stage, e.Err)
}

// Unwrap exposes both ErrStageGuard and the guard's own error.
func (e *GuardError) Unwrap() []error {
	return []error{ErrStageGuard, e.Err}
}

// PromoRevokedError is returned by a Gateway when the promo code bound to
// a submitted selection no longer validates against it.
type PromoRevokedError struct {
	Code   string
	Reason string
}

func (e *PromoRevokedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%v: %s", ErrPromoRevoked, e.Code)
	}
	return fmt.Sprintf("%v: %s: %s", ErrPromoRevoked, e.Code, e.Reason)
}

func (e *PromoRevokedError) Unwrap() error { return ErrPromoRevoked }

func fieldError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}
