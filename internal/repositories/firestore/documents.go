package firestore

import (
	"time"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/quote"
)

type treatmentDocument struct {
	ClinicID    string `firestore:"clinicId"`
	City        string `firestore:"city"`
	Name        string `firestore:"name"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Description string `firestore:"description,omitempty"`
	Category    string `firestore:"category,omitempty"`
	SortOrder   int    `firestore:"sortOrder"`
	Active      bool   `firestore:"active"`
}

type packageDocument struct {
	ClinicID        string              `firestore:"clinicId"`
	City            string              `firestore:"city"`
	Name            string              `firestore:"name"`
	Description     string              `firestore:"description,omitempty"`
	Price           int64               `firestore:"price"`
	Savings         int64               `firestore:"savings"`
	DiscountPercent int64               `firestore:"discountPercent"`
	Treatments      []packageItemRecord `firestore:"treatments"`
	SortOrder       int                 `firestore:"sortOrder"`
	Active          bool                `firestore:"active"`
}

type packageItemRecord struct {
	ID        string `firestore:"id"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
}

type offerDocument struct {
	ClinicID      string `firestore:"clinicId"`
	City          string `firestore:"city"`
	Title         string `firestore:"title"`
	Description   string `firestore:"description,omitempty"`
	DiscountType  string `firestore:"discountType"`
	DiscountValue int64  `firestore:"discountValue"`
	SortOrder     int    `firestore:"sortOrder"`
	Active        bool   `firestore:"active"`
}

type promoCodeDocument struct {
	Status        string     `firestore:"status"`
	DiscountType  string     `firestore:"discountType"`
	DiscountValue int64      `firestore:"discountValue"`
	PackageID     string     `firestore:"packageId,omitempty"`
	MinSubtotal   int64      `firestore:"minSubtotal"`
	StartsAt      *time.Time `firestore:"startsAt,omitempty"`
	EndsAt        *time.Time `firestore:"endsAt,omitempty"`
	Description   string     `firestore:"description,omitempty"`
}

type selectionLine struct {
	ID        string `firestore:"id"`
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	Category  string `firestore:"category,omitempty"`
	Quantity  int    `firestore:"quantity"`
}

type selectedPackage struct {
	ID              string              `firestore:"id"`
	Name            string              `firestore:"name"`
	Price           int64               `firestore:"price"`
	Savings         int64               `firestore:"savings"`
	DiscountPercent int64               `firestore:"discountPercent"`
	Treatments      []packageItemRecord `firestore:"treatments,omitempty"`
}

type selectedOffer struct {
	ID            string `firestore:"id"`
	Title         string `firestore:"title"`
	DiscountType  string `firestore:"discountType"`
	DiscountValue int64  `firestore:"discountValue"`
}

type promoRuleRecord struct {
	Code           string `firestore:"code"`
	DiscountType   string `firestore:"discountType,omitempty"`
	DiscountValue  int64  `firestore:"discountValue"`
	Source         string `firestore:"source,omitempty"`
	PackageID      string `firestore:"packageId,omitempty"`
	DisplayPercent int64  `firestore:"displayPercent"`
}

type patientRecord struct {
	Name          string `firestore:"name,omitempty"`
	Email         string `firestore:"email,omitempty"`
	Phone         string `firestore:"phone,omitempty"`
	Country       string `firestore:"country,omitempty"`
	PreferredDate string `firestore:"preferredDate,omitempty"`
	Notes         string `firestore:"notes,omitempty"`
}

type totalsRecord struct {
	Subtotal       int64            `firestore:"subtotal"`
	OfferDiscount  int64            `firestore:"offerDiscount"`
	PromoDiscount  int64            `firestore:"promoDiscount"`
	PackageSavings int64            `firestore:"packageSavings"`
	TotalSavings   int64            `firestore:"totalSavings"`
	Total          int64            `firestore:"total"`
	Discounts      []discountRecord `firestore:"discounts,omitempty"`
}

type discountRecord struct {
	Kind        string `firestore:"kind"`
	Code        string `firestore:"code,omitempty"`
	Source      string `firestore:"source,omitempty"`
	Description string `firestore:"description,omitempty"`
	Amount      int64  `firestore:"amount"`
	Subtracted  bool   `firestore:"subtracted"`
}

type quoteDocument struct {
	Reference   string           `firestore:"reference"`
	SessionID   string           `firestore:"sessionId,omitempty"`
	ClinicID    string           `firestore:"clinicId,omitempty"`
	Currency    string           `firestore:"currency"`
	Treatments  []selectionLine  `firestore:"treatments,omitempty"`
	Package     *selectedPackage `firestore:"package,omitempty"`
	Offer       *selectedOffer   `firestore:"offer,omitempty"`
	PromoCode   string           `firestore:"promoCode,omitempty"`
	PromoSource string           `firestore:"promoSource,omitempty"`
	Patient     patientRecord    `firestore:"patient"`
	Totals      totalsRecord     `firestore:"totals"`
	Status      string           `firestore:"status"`
	CreatedAt   time.Time        `firestore:"createdAt"`
	EmailedAt   *time.Time       `firestore:"emailedAt,omitempty"`
	EmailedTo   string           `firestore:"emailedTo,omitempty"`
}

type sessionDocument struct {
	ClinicID   string           `firestore:"clinicId,omitempty"`
	Currency   string           `firestore:"currency"`
	Variant    string           `firestore:"variant"`
	Stage      string           `firestore:"stage"`
	Treatments []selectionLine  `firestore:"treatments,omitempty"`
	Package    *selectedPackage `firestore:"package,omitempty"`
	Offer      *selectedOffer   `firestore:"offer,omitempty"`
	Promo      *promoRuleRecord `firestore:"promo,omitempty"`
	Patient    patientRecord    `firestore:"patient"`
	Pending    *pendingRecord   `firestore:"pending,omitempty"`
	Receipt    *receiptRecord   `firestore:"receipt,omitempty"`
	CreatedAt  time.Time        `firestore:"createdAt"`
	UpdatedAt  time.Time        `firestore:"updatedAt"`
	ExpiresAt  *time.Time       `firestore:"expiresAt,omitempty"`
}

type pendingRecord struct {
	Code           string          `firestore:"code"`
	Package        selectedPackage `firestore:"package"`
	DisplayPercent int64           `firestore:"displayPercent"`
	Message        string          `firestore:"message,omitempty"`
}

type receiptRecord struct {
	ID        string `firestore:"id"`
	Reference string `firestore:"reference"`
}

type handoffDocument struct {
	Kind      string    `firestore:"kind"`
	Payload   string    `firestore:"payload"`
	ClinicID  string    `firestore:"clinicId,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
	ExpiresAt time.Time `firestore:"expiresAt"`
}

func toPackageItems(items []domain.Treatment) []packageItemRecord {
	if len(items) == 0 {
		return nil
	}
	out := make([]packageItemRecord, 0, len(items))
	for _, t := range items {
		out = append(out, packageItemRecord{ID: t.ID, Name: t.Name, UnitPrice: t.UnitPrice})
	}
	return out
}

func fromPackageItems(items []packageItemRecord) []domain.Treatment {
	if len(items) == 0 {
		return nil
	}
	out := make([]domain.Treatment, 0, len(items))
	for _, item := range items {
		out = append(out, domain.Treatment{ID: item.ID, Name: item.Name, UnitPrice: item.UnitPrice})
	}
	return out
}

func toSelectionLines(lines []domain.TreatmentSelection) []selectionLine {
	if len(lines) == 0 {
		return nil
	}
	out := make([]selectionLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, selectionLine{
			ID:        l.Treatment.ID,
			Name:      l.Treatment.Name,
			UnitPrice: l.Treatment.UnitPrice,
			Category:  l.Treatment.Category,
			Quantity:  l.Quantity,
		})
	}
	return out
}

func fromSelectionLines(lines []selectionLine) []domain.TreatmentSelection {
	if len(lines) == 0 {
		return nil
	}
	out := make([]domain.TreatmentSelection, 0, len(lines))
	for _, l := range lines {
		out = append(out, domain.TreatmentSelection{
			Treatment: domain.Treatment{ID: l.ID, Name: l.Name, UnitPrice: l.UnitPrice, Category: l.Category},
			Quantity:  l.Quantity,
		})
	}
	return out
}

func toSelectedPackage(p *domain.Package) *selectedPackage {
	if p == nil {
		return nil
	}
	return &selectedPackage{
		ID:              p.ID,
		Name:            p.Name,
		Price:           p.Price,
		Savings:         p.Savings,
		DiscountPercent: p.DiscountPercent,
		Treatments:      toPackageItems(p.Treatments),
	}
}

func fromSelectedPackage(p *selectedPackage) *domain.Package {
	if p == nil {
		return nil
	}
	return &domain.Package{
		ID:              p.ID,
		Name:            p.Name,
		Price:           p.Price,
		Savings:         p.Savings,
		DiscountPercent: p.DiscountPercent,
		Treatments:      fromPackageItems(p.Treatments),
	}
}

func toSelectedOffer(o *domain.SpecialOffer) *selectedOffer {
	if o == nil {
		return nil
	}
	return &selectedOffer{ID: o.ID, Title: o.Title, DiscountType: string(o.DiscountType), DiscountValue: o.DiscountValue}
}

func fromSelectedOffer(o *selectedOffer) *domain.SpecialOffer {
	if o == nil {
		return nil
	}
	return &domain.SpecialOffer{ID: o.ID, Title: o.Title, DiscountType: domain.DiscountType(o.DiscountType), DiscountValue: o.DiscountValue}
}

func toPatient(p domain.PatientInfo) patientRecord {
	return patientRecord(p)
}

func fromPatient(p patientRecord) domain.PatientInfo {
	return domain.PatientInfo(p)
}

func toTotals(t domain.QuoteTotals) totalsRecord {
	rec := totalsRecord{
		Subtotal:       t.Subtotal,
		OfferDiscount:  t.OfferDiscount,
		PromoDiscount:  t.PromoDiscount,
		PackageSavings: t.PackageSavings,
		TotalSavings:   t.TotalSavings,
		Total:          t.Total,
	}
	for _, d := range t.Discounts {
		rec.Discounts = append(rec.Discounts, discountRecord{
			Kind:        d.Kind,
			Code:        d.Code,
			Source:      d.Source,
			Description: d.Description,
			Amount:      d.Amount,
			Subtracted:  d.Subtracted,
		})
	}
	return rec
}

func fromTotals(currency string, rec totalsRecord) domain.QuoteTotals {
	t := domain.QuoteTotals{
		Currency:       currency,
		Subtotal:       rec.Subtotal,
		OfferDiscount:  rec.OfferDiscount,
		PromoDiscount:  rec.PromoDiscount,
		PackageSavings: rec.PackageSavings,
		TotalSavings:   rec.TotalSavings,
		Total:          rec.Total,
	}
	for _, d := range rec.Discounts {
		t.Discounts = append(t.Discounts, domain.DiscountBreakdown{
			Kind:        d.Kind,
			Code:        d.Code,
			Source:      d.Source,
			Description: d.Description,
			Amount:      d.Amount,
			Subtracted:  d.Subtracted,
		})
	}
	return t
}

func toQuoteDocument(q domain.Quote) quoteDocument {
	return quoteDocument{
		Reference:   q.Reference,
		SessionID:   q.SessionID,
		ClinicID:    q.ClinicID,
		Currency:    q.Currency,
		Treatments:  toSelectionLines(q.Treatments),
		Package:     toSelectedPackage(q.Package),
		Offer:       toSelectedOffer(q.Offer),
		PromoCode:   q.PromoCode,
		PromoSource: string(q.PromoSource),
		Patient:     toPatient(q.Patient),
		Totals:      toTotals(q.Totals),
		Status:      q.Status,
		CreatedAt:   q.CreatedAt.UTC(),
		EmailedAt:   q.EmailedAt,
		EmailedTo:   q.EmailedTo,
	}
}

func fromQuoteDocument(id string, doc quoteDocument) domain.Quote {
	q := domain.Quote{
		ID:          id,
		Reference:   doc.Reference,
		SessionID:   doc.SessionID,
		ClinicID:    doc.ClinicID,
		Currency:    doc.Currency,
		Treatments:  fromSelectionLines(doc.Treatments),
		Package:     fromSelectedPackage(doc.Package),
		Offer:       fromSelectedOffer(doc.Offer),
		PromoCode:   doc.PromoCode,
		PromoSource: domain.PromoSource(doc.PromoSource),
		Patient:     fromPatient(doc.Patient),
		Totals:      fromTotals(doc.Currency, doc.Totals),
		Status:      doc.Status,
		CreatedAt:   doc.CreatedAt.UTC(),
		EmailedTo:   doc.EmailedTo,
	}
	if doc.EmailedAt != nil {
		at := doc.EmailedAt.UTC()
		q.EmailedAt = &at
	}
	q.Totals.Empty = q.Totals.Subtotal == 0 && len(q.Treatments) == 0 && q.Package == nil
	return q
}

func toSessionDocument(rec quote.Record, ttl time.Duration) sessionDocument {
	doc := sessionDocument{
		ClinicID:   rec.ClinicID,
		Currency:   rec.Currency,
		Variant:    rec.Variant,
		Stage:      string(rec.Stage),
		Treatments: toSelectionLines(rec.Selection.Treatments),
		Package:    toSelectedPackage(rec.Selection.Package),
		Offer:      toSelectedOffer(rec.Selection.Offer),
		Patient:    toPatient(rec.Patient),
		CreatedAt:  rec.CreatedAt.UTC(),
		UpdatedAt:  rec.UpdatedAt.UTC(),
	}
	// Pending markers belong to an in-flight request and are never stored.
	if p := rec.Selection.Promo; p != nil && !p.Pending {
		doc.Promo = &promoRuleRecord{
			Code:           p.Code,
			DiscountType:   string(p.DiscountType),
			DiscountValue:  p.DiscountValue,
			Source:         string(p.Source),
			PackageID:      p.PackageID,
			DisplayPercent: p.DisplayPercent,
		}
	}
	if rec.Pending != nil {
		doc.Pending = &pendingRecord{
			Code:           rec.Pending.Code,
			Package:        *toSelectedPackage(&rec.Pending.Package),
			DisplayPercent: rec.Pending.DisplayPercent,
			Message:        rec.Pending.Message,
		}
	}
	if rec.Receipt != nil {
		doc.Receipt = &receiptRecord{ID: rec.Receipt.ID, Reference: rec.Receipt.Reference}
	}
	if ttl > 0 {
		expires := rec.UpdatedAt.UTC().Add(ttl)
		doc.ExpiresAt = &expires
	}
	return doc
}

func fromSessionDocument(id string, doc sessionDocument) quote.Record {
	rec := quote.Record{
		ID:       id,
		ClinicID: doc.ClinicID,
		Currency: doc.Currency,
		Variant:  doc.Variant,
		Stage:    quote.Stage(doc.Stage),
		Selection: quote.Snapshot{
			Treatments: fromSelectionLines(doc.Treatments),
			Package:    fromSelectedPackage(doc.Package),
			Offer:      fromSelectedOffer(doc.Offer),
		},
		Patient:   fromPatient(doc.Patient),
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
	if p := doc.Promo; p != nil {
		rec.Selection.Promo = &quote.PromoRule{
			Code:           p.Code,
			DiscountType:   domain.DiscountType(p.DiscountType),
			DiscountValue:  p.DiscountValue,
			Source:         domain.PromoSource(p.Source),
			PackageID:      p.PackageID,
			DisplayPercent: p.DisplayPercent,
		}
	}
	if p := doc.Pending; p != nil {
		rec.Pending = &quote.PendingSubstitution{
			Code:           p.Code,
			Package:        *fromSelectedPackage(&p.Package),
			DisplayPercent: p.DisplayPercent,
			Message:        p.Message,
		}
	}
	if r := doc.Receipt; r != nil {
		rec.Receipt = &domain.QuoteReceipt{ID: r.ID, Reference: r.Reference}
	}
	return rec
}
