package handlers

import (
	"time"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/quote"
	"github.com/smilequote/api/internal/services"
)

type treatmentPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	UnitPrice   int64  `json:"unitPrice"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
}

type packagePayload struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Description     string             `json:"description,omitempty"`
	Price           int64              `json:"price"`
	Savings         int64              `json:"savings"`
	DiscountPercent int64              `json:"discountPercent,omitempty"`
	Treatments      []treatmentPayload `json:"treatments"`
}

type offerPayload struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	DiscountType  string `json:"discountType"`
	DiscountValue int64  `json:"discountValue"`
}

type lineItemPayload struct {
	Treatment treatmentPayload `json:"treatment"`
	Quantity  int              `json:"quantity"`
	LineTotal int64            `json:"lineTotal"`
}

type promoRulePayload struct {
	Code           string `json:"code"`
	Source         string `json:"source"`
	DiscountType   string `json:"discountType,omitempty"`
	DiscountValue  int64  `json:"discountValue,omitempty"`
	PackageID      string `json:"packageId,omitempty"`
	DisplayPercent int64  `json:"displayPercent,omitempty"`
}

type selectionPayload struct {
	Treatments []lineItemPayload `json:"treatments"`
	Package    *packagePayload   `json:"package,omitempty"`
	Offer      *offerPayload     `json:"offer,omitempty"`
	Promo      *promoRulePayload `json:"promo,omitempty"`
}

type discountPayload struct {
	Kind        string `json:"kind"`
	Code        string `json:"code,omitempty"`
	Source      string `json:"source,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      int64  `json:"amount"`
	Subtracted  bool   `json:"subtracted"`
}

type totalsPayload struct {
	Currency       string            `json:"currency"`
	Subtotal       int64             `json:"subtotal"`
	OfferDiscount  int64             `json:"offerDiscount"`
	PromoDiscount  int64             `json:"promoDiscount"`
	PackageSavings int64             `json:"packageSavings"`
	TotalSavings   int64             `json:"totalSavings"`
	Total          int64             `json:"total"`
	Empty          bool              `json:"empty"`
	Discounts      []discountPayload `json:"discounts"`
}

type patientPayload struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Country       string `json:"country,omitempty"`
	PreferredDate string `json:"preferredDate,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

type receiptPayload struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
}

func buildTreatmentPayload(t domain.Treatment) treatmentPayload {
	return treatmentPayload{
		ID:          t.ID,
		Name:        t.Name,
		UnitPrice:   t.UnitPrice,
		Description: t.Description,
		Category:    t.Category,
	}
}

func buildPackagePayload(p domain.Package) packagePayload {
	out := packagePayload{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		Price:           p.Price,
		Savings:         p.Savings,
		DiscountPercent: p.DiscountPercent,
		Treatments:      make([]treatmentPayload, 0, len(p.Treatments)),
	}
	for _, t := range p.Treatments {
		out.Treatments = append(out.Treatments, buildTreatmentPayload(t))
	}
	return out
}

func buildOfferPayload(o domain.SpecialOffer) offerPayload {
	return offerPayload{
		ID:            o.ID,
		Title:         o.Title,
		Description:   o.Description,
		DiscountType:  string(o.DiscountType),
		DiscountValue: o.DiscountValue,
	}
}

func buildSelectionPayload(snap quote.Snapshot) selectionPayload {
	out := selectionPayload{Treatments: make([]lineItemPayload, 0, len(snap.Treatments))}
	for _, line := range snap.Treatments {
		out.Treatments = append(out.Treatments, lineItemPayload{
			Treatment: buildTreatmentPayload(line.Treatment),
			Quantity:  line.Quantity,
			LineTotal: line.LineTotal(),
		})
	}
	if snap.Package != nil {
		p := buildPackagePayload(*snap.Package)
		out.Package = &p
	}
	if snap.Offer != nil {
		o := buildOfferPayload(*snap.Offer)
		out.Offer = &o
	}
	if snap.Promo != nil && !snap.Promo.Pending {
		out.Promo = &promoRulePayload{
			Code:           snap.Promo.Code,
			Source:         string(snap.Promo.Source),
			DiscountType:   string(snap.Promo.DiscountType),
			DiscountValue:  snap.Promo.DiscountValue,
			PackageID:      snap.Promo.PackageID,
			DisplayPercent: snap.Promo.DisplayPercent,
		}
	}
	return out
}

func buildTotalsPayload(t domain.QuoteTotals) totalsPayload {
	out := totalsPayload{
		Currency:       t.Currency,
		Subtotal:       t.Subtotal,
		OfferDiscount:  t.OfferDiscount,
		PromoDiscount:  t.PromoDiscount,
		PackageSavings: t.PackageSavings,
		TotalSavings:   t.TotalSavings,
		Total:          t.Total,
		Empty:          t.Empty,
		Discounts:      make([]discountPayload, 0, len(t.Discounts)),
	}
	for _, d := range t.Discounts {
		out.Discounts = append(out.Discounts, discountPayload{
			Kind:        d.Kind,
			Code:        d.Code,
			Source:      d.Source,
			Description: d.Description,
			Amount:      d.Amount,
			Subtracted:  d.Subtracted,
		})
	}
	return out
}

func buildPatientPayload(p domain.PatientInfo) patientPayload {
	return patientPayload{
		Name:          p.Name,
		Email:         p.Email,
		Phone:         p.Phone,
		Country:       p.Country,
		PreferredDate: p.PreferredDate,
		Notes:         p.Notes,
	}
}

func (p patientPayload) toDomain() domain.PatientInfo {
	return domain.PatientInfo{
		Name:          p.Name,
		Email:         p.Email,
		Phone:         p.Phone,
		Country:       p.Country,
		PreferredDate: p.PreferredDate,
		Notes:         p.Notes,
	}
}

type promoResultPayload struct {
	Outcome     string          `json:"outcome"`
	Code        string          `json:"code,omitempty"`
	Message     string          `json:"message,omitempty"`
	Source      string          `json:"source,omitempty"`
	Degraded    bool            `json:"degraded"`
	Substituted bool            `json:"substituted"`
	Package     *packagePayload `json:"package,omitempty"`
}

func buildPromoResultPayload(r services.PromoResult) promoResultPayload {
	out := promoResultPayload{
		Outcome:     string(r.Outcome),
		Code:        r.Code,
		Message:     r.Message,
		Source:      string(r.Source),
		Degraded:    r.Degraded(),
		Substituted: r.Substituted,
	}
	if r.Package != nil {
		p := buildPackagePayload(*r.Package)
		out.Package = &p
	}
	return out
}

type quotePayload struct {
	ID          string           `json:"id"`
	Reference   string           `json:"reference"`
	SessionID   string           `json:"sessionId,omitempty"`
	ClinicID    string           `json:"clinicId,omitempty"`
	Currency    string           `json:"currency"`
	Status      string           `json:"status"`
	Selection   selectionPayload `json:"selection"`
	PromoCode   string           `json:"promoCode,omitempty"`
	PromoSource string           `json:"promoSource,omitempty"`
	Patient     patientPayload   `json:"patient"`
	Totals      totalsPayload    `json:"totals"`
	CreatedAt   string           `json:"createdAt"`
	EmailedAt   *string          `json:"emailedAt,omitempty"`
}

func buildQuotePayload(q services.Quote) quotePayload {
	snap := quote.Snapshot{Treatments: q.Treatments, Package: q.Package, Offer: q.Offer}
	out := quotePayload{
		ID:          q.ID,
		Reference:   q.Reference,
		SessionID:   q.SessionID,
		ClinicID:    q.ClinicID,
		Currency:    q.Currency,
		Status:      q.Status,
		Selection:   buildSelectionPayload(snap),
		PromoCode:   q.PromoCode,
		PromoSource: string(q.PromoSource),
		Patient:     buildPatientPayload(q.Patient),
		Totals:      buildTotalsPayload(q.Totals),
		CreatedAt:   formatTime(q.CreatedAt),
	}
	if q.EmailedAt != nil {
		emailed := formatTime(*q.EmailedAt)
		out.EmailedAt = &emailed
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
