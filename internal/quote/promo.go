package quote

import (
	"context"
	"strconv"
	"strings"
	"unicode"

	"github.com/smilequote/api/internal/domain"
)

// Basket is the priced selection sent to the promo validator.
type Basket struct {
	Currency      string
	Treatments    []domain.TreatmentSelection
	Package       *domain.Package
	OfferID       string
	Subtotal      int64
	OfferDiscount int64
}

// BasketOf prices snap for validation.
func BasketOf(snap Snapshot, currency string) Basket {
	subtotal := Subtotal(snap)
	b := Basket{
		Currency:      currency,
		Treatments:    snap.Treatments,
		Package:       snap.Package,
		Subtotal:      subtotal,
		OfferDiscount: OfferDiscount(snap.Offer, subtotal),
	}
	if snap.Offer != nil {
		b.OfferID = snap.Offer.ID
	}
	return b
}

// PromoRequest is one validation call.
type PromoRequest struct {
	Code     string
	ClinicID string
	Basket   Basket
}

// PromoValidator checks a promo code against a basket. A returned error
// means the validator could not be reached or failed; an invalid code is
// reported through PromoValidation.Valid.
type PromoValidator interface {
	ValidatePromoCode(ctx context.Context, req PromoRequest) (domain.PromoValidation, error)
}

// PromoValidatorFunc adapts a function to PromoValidator.
type PromoValidatorFunc func(context.Context, PromoRequest) (domain.PromoValidation, error)

// ValidatePromoCode calls f.
func (f PromoValidatorFunc) ValidatePromoCode(ctx context.Context, req PromoRequest) (domain.PromoValidation, error) {
	return f(ctx, req)
}

// PromoOutcome classifies the result of an apply attempt.
type PromoOutcome string

const (
	PromoApplied           PromoOutcome = "applied"
	PromoRejected          PromoOutcome = "rejected"
	PromoNeedsConfirmation PromoOutcome = "needs_confirmation"
	PromoCleared           PromoOutcome = "cleared"
)

// PromoResult reports what ApplyPromoCode did.
type PromoResult struct {
	Outcome     PromoOutcome
	Code        string
	Message     string
	Source      domain.PromoSource
	Substituted bool
	Package     *domain.Package
}

// Degraded reports whether the discount came from the local heuristic.
func (r PromoResult) Degraded() bool {
	return r.Source == domain.PromoSourceLocalHeuristic
}

// PendingSubstitution is a package substitution awaiting the user's
// decision because it would replace a non-empty selection.
type PendingSubstitution struct {
	Code           string
	Package        domain.Package
	DisplayPercent int64
	Message        string
}

// NormalizeCode trims and upper-cases a promo code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// HeuristicPercent is the degraded-mode rule used when the validator is
// unreachable: the first run of digits in the code, when it is a multiple
// of 5 between 5 and 50, is taken as a percentage ("SMILE25" gives 25).
func HeuristicPercent(code string) (int64, bool) {
	start := strings.IndexFunc(code, unicode.IsDigit)
	if start < 0 {
		return 0, false
	}
	end := start
	for end < len(code) && code[end] >= '0' && code[end] <= '9' {
		end++
	}
	n, err := strconv.ParseInt(code[start:end], 10, 64)
	if err != nil || n < 5 || n > 50 || n%5 != 0 {
		return 0, false
	}
	return n, true
}

func ruleFromValidation(code string, v domain.PromoValidation) (PromoRule, bool) {
	source := v.Source
	if source == "" {
		source = domain.PromoSourceServer
	}
	rule := PromoRule{Code: code, Source: source}
	switch {
	case v.DiscountType.Valid() && v.DiscountValue > 0:
		rule.DiscountType, rule.DiscountValue = v.DiscountType, v.DiscountValue
	case v.DiscountAmount > 0:
		rule.DiscountType, rule.DiscountValue = domain.DiscountFixed, v.DiscountAmount
	default:
		return PromoRule{}, false
	}
	return rule, true
}
