package domain

import "time"

// PromoCodeStatus values.
const (
	PromoCodeActive   = "active"
	PromoCodeDisabled = "disabled"
)

// PromoCode is the server-side definition of a promo code. A code either
// carries a discount or resolves to PackageID.
type PromoCode struct {
	Code          string
	Status        string
	DiscountType  DiscountType
	DiscountValue int64
	PackageID     string
	MinSubtotal   int64
	StartsAt      time.Time
	EndsAt        time.Time
	Description   string
}

// PromoSource distinguishes a server-validated discount from the degraded
// local fallback.
type PromoSource string

const (
	PromoSourceServer         PromoSource = "server"
	PromoSourceLocalHeuristic PromoSource = "local-heuristic"
)

// PromoValidation is the validator's answer for one code and basket. When
// Package is set the code resolves to that package instead of a discount.
type PromoValidation struct {
	Valid          bool
	Code           string
	DiscountType   DiscountType
	DiscountValue  int64
	DiscountAmount int64
	Package        *Package
	Message        string
	Source         PromoSource
}

// IsSubstitution reports whether the code replaces the selection with a package.
func (v PromoValidation) IsSubstitution() bool {
	return v.Valid && v.Package != nil
}
