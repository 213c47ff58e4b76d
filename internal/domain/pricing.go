package domain

// Discount line kinds used in QuoteTotals.Discounts.
const (
	DiscountKindPackageSavings = "package_savings"
	DiscountKindOffer          = "offer"
	DiscountKindPromo          = "promo"
)

// QuoteTotals is the priced view of a selection. All amounts are minor units.
type QuoteTotals struct {
	Currency       string
	Subtotal       int64
	OfferDiscount  int64
	PromoDiscount  int64
	PackageSavings int64
	TotalSavings   int64
	Total          int64
	Discounts      []DiscountBreakdown
	Empty          bool
}

// DiscountBreakdown itemises one discount or savings line.
type DiscountBreakdown struct {
	Kind        string
	Code        string
	Source      string
	Description string
	Amount      int64
	Subtracted  bool
}
