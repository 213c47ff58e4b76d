package domain

import "time"

// PendingKind identifies what a hand-off carries.
type PendingKind string

const (
	PendingPackage   PendingKind = "package"
	PendingPromoCode PendingKind = "promo-code"
	PendingOffer     PendingKind = "offer"
)

// Valid reports whether k is a known kind.
func (k PendingKind) Valid() bool {
	switch k {
	case PendingPackage, PendingPromoCode, PendingOffer:
		return true
	}
	return false
}

// PendingSelection carries one selection decision across a navigation
// boundary. It is consumed exactly once.
type PendingSelection struct {
	Token     string
	Kind      PendingKind
	Payload   string
	ClinicID  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the hand-off is past its expiry at now.
func (p PendingSelection) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}
