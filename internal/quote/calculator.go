package quote

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/smilequote/api/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Calculate prices a selection. The offer discount and the promo discount
// are each computed against the original subtotal, never against one
// another, and the total is floored at zero. Package savings are reported
// but never subtracted.
func Calculate(s Snapshot, currency string) domain.QuoteTotals {
	subtotal := Subtotal(s)
	offer := OfferDiscount(s.Offer, subtotal)
	promo := PromoDiscount(s.Promo, subtotal, offer)

	var savings int64
	if s.Package != nil {
		savings = max(s.Package.Savings, 0)
	}

	totals := domain.QuoteTotals{
		Currency:       currency,
		Subtotal:       subtotal,
		OfferDiscount:  offer,
		PromoDiscount:  promo,
		PackageSavings: savings,
		TotalSavings:   addSat(addSat(savings, offer), promo),
		Total:          max(0, subtotal-offer-promo),
		Empty:          s.Empty(),
	}

	if savings > 0 {
		totals.Discounts = append(totals.Discounts, domain.DiscountBreakdown{
			Kind:        domain.DiscountKindPackageSavings,
			Source:      s.Package.ID,
			Description: s.Package.Name,
			Amount:      savings,
		})
	}
	if s.Offer != nil {
		totals.Discounts = append(totals.Discounts, domain.DiscountBreakdown{
			Kind:        domain.DiscountKindOffer,
			Source:      s.Offer.ID,
			Description: s.Offer.Title,
			Amount:      offer,
			Subtracted:  true,
		})
	}
	if s.Promo != nil && !s.Promo.Pending && s.Promo.PackageID == "" {
		totals.Discounts = append(totals.Discounts, domain.DiscountBreakdown{
			Kind:       domain.DiscountKindPromo,
			Code:       s.Promo.Code,
			Source:     string(s.Promo.Source),
			Amount:     promo,
			Subtracted: true,
		})
	}
	return totals
}

// Subtotal is the package price, or the sum of unit price times quantity.
func Subtotal(s Snapshot) int64 {
	if s.Package != nil {
		return max(s.Package.Price, 0)
	}
	var sum int64
	for _, line := range s.Treatments {
		if line.Quantity < 1 || line.Treatment.UnitPrice < 0 {
			continue
		}
		sum = addSat(sum, mulSat(line.Treatment.UnitPrice, int64(line.Quantity)))
	}
	return sum
}

// OfferDiscount returns the offer's discount against subtotal, never more
// than subtotal.
func OfferDiscount(offer *domain.SpecialOffer, subtotal int64) int64 {
	if offer == nil {
		return 0
	}
	return discountFor(offer.DiscountType, offer.DiscountValue, subtotal)
}

// PromoDiscount returns the promo discount against subtotal, clamped so
// that together with offerDiscount it never exceeds subtotal. Pending and
// package-substitution rules contribute nothing.
func PromoDiscount(rule *PromoRule, subtotal, offerDiscount int64) int64 {
	if rule == nil || rule.Pending || rule.PackageID != "" {
		return 0
	}
	amount := discountFor(rule.DiscountType, rule.DiscountValue, subtotal)
	return min(amount, max(0, subtotal-offerDiscount))
}

// PercentOf returns percent% of amount in minor units, rounded half up.
// percent is clamped to [0, 100].
func PercentOf(amount, percent int64) int64 {
	if amount <= 0 || percent <= 0 {
		return 0
	}
	percent = min(percent, 100)
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(percent)).
		Div(hundred).
		Round(0).
		IntPart()
}

func discountFor(kind domain.DiscountType, value, subtotal int64) int64 {
	if value <= 0 || subtotal <= 0 {
		return 0
	}
	switch kind {
	case domain.DiscountPercentage:
		return PercentOf(subtotal, value)
	case domain.DiscountFixed:
		return min(value, subtotal)
	default:
		return 0
	}
}

func addSat(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func mulSat(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}
