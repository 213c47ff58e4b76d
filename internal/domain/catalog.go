package domain

// DiscountType selects how a discount value is interpreted.
type DiscountType string

const (
	// DiscountPercentage values are whole percent of the subtotal (0-100).
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed values are an amount in minor units.
	DiscountFixed DiscountType = "fixed"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixed
}

// Treatment is a sellable line item. UnitPrice is in minor units.
type Treatment struct {
	ID          string
	Name        string
	UnitPrice   int64
	Description string
	Category    string
}

// TreatmentSelection pairs a treatment with a quantity of at least one.
type TreatmentSelection struct {
	Treatment Treatment
	Quantity  int
}

// LineTotal returns UnitPrice * Quantity.
func (s TreatmentSelection) LineTotal() int64 {
	return s.Treatment.UnitPrice * int64(s.Quantity)
}

// Package is a bundle sold at a single Price. Savings is the advertised
// difference against buying the treatments separately and is display-only.
type Package struct {
	ID              string
	Name            string
	Description     string
	Price           int64
	Savings         int64
	Treatments      []Treatment
	DiscountPercent int64
}

// SpecialOffer is a codeless discount picked from a list.
type SpecialOffer struct {
	ID            string
	Title         string
	Description   string
	DiscountType  DiscountType
	DiscountValue int64
}

// CatalogSource records where catalog data came from.
type CatalogSource string

const (
	CatalogSourceRemote   CatalogSource = "remote"
	CatalogSourceFallback CatalogSource = "fallback"
	CatalogSourceMixed    CatalogSource = "mixed"
)

// Catalog is the read-only set of sellable items for one clinic context.
type Catalog struct {
	ClinicID   string
	City       string
	Currency   string
	Treatments []Treatment
	Packages   []Package
	Offers     []SpecialOffer
	Source     CatalogSource
}

// Empty reports whether nothing at all can be sold.
func (c Catalog) Empty() bool {
	return len(c.Treatments) == 0 && len(c.Packages) == 0 && len(c.Offers) == 0
}

// Degraded reports whether any part came from the built-in fallback.
func (c Catalog) Degraded() bool {
	return c.Source != CatalogSourceRemote
}

// Treatment looks up a treatment by id.
func (c Catalog) Treatment(id string) (Treatment, bool) {
	for _, t := range c.Treatments {
		if t.ID == id {
			return t, true
		}
	}
	return Treatment{}, false
}

// Package looks up a package by id.
func (c Catalog) Package(id string) (Package, bool) {
	for _, p := range c.Packages {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}

// Offer looks up a special offer by id.
func (c Catalog) Offer(id string) (SpecialOffer, bool) {
	for _, o := range c.Offers {
		if o.ID == id {
			return o, true
		}
	}
	return SpecialOffer{}, false
}
