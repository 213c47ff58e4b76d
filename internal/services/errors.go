package services

import "errors"

var (
	// ErrCatalogRepositoryMissing indicates the catalog service was built without a repository.
	ErrCatalogRepositoryMissing = errors.New("catalog service: repository is required")
	// ErrCatalogEmpty is returned when neither the repository nor the built-in fallback has items.
	ErrCatalogEmpty = errors.New("catalog service: catalog is empty")
	// ErrCatalogItemNotFound reports an unknown treatment, package or offer id.
	ErrCatalogItemNotFound = errors.New("catalog service: item not found")

	// ErrPromoRepositoryMissing indicates the promo code service was built without a repository.
	ErrPromoRepositoryMissing = errors.New("promo code service: repository is required")
	// ErrPromoServiceUnavailable is a transport-class failure; callers may degrade.
	ErrPromoServiceUnavailable = errors.New("promo code service: unavailable")

	ErrQuoteRepositoryMissing = errors.New("quote service: repository is required")
	ErrQuoteNotFound          = errors.New("quote service: quote not found")
	ErrQuoteUnavailable       = errors.New("quote service: quote storage unavailable")
	// ErrQuotePromoRejected means the promo code on a submitted quote no longer validates.
	ErrQuotePromoRejected = errors.New("quote service: promo code rejected")
	// ErrEmailUnavailable indicates quote emails are not configured.
	ErrEmailUnavailable = errors.New("quote service: email publishing not configured")

	ErrSessionRepositoryMissing = errors.New("quote session service: repository is required")
	ErrSessionNotFound          = errors.New("quote session service: session not found")
	ErrSessionUnavailable       = errors.New("quote session service: session storage unavailable")
	ErrHandoffNotFound          = errors.New("quote session service: hand-off not found or already used")
	ErrHandoffInvalid           = errors.New("quote session service: invalid hand-off")
)
