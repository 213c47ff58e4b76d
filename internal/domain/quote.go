package domain

import "time"

// PatientInfo is the contact data captured before review.
type PatientInfo struct {
	Name          string
	Email         string
	Phone         string
	Country       string
	PreferredDate string
	Notes         string
}

// QuoteStatus values.
const (
	QuoteStatusSubmitted = "submitted"
	QuoteStatusEmailed   = "emailed"
)

// Quote is the persisted snapshot handed to the submission gateway.
type Quote struct {
	ID          string
	Reference   string
	SessionID   string
	ClinicID    string
	Currency    string
	Treatments  []TreatmentSelection
	Package     *Package
	Offer       *SpecialOffer
	PromoCode   string
	PromoSource PromoSource
	Patient     PatientInfo
	Totals      QuoteTotals
	Status      string
	CreatedAt   time.Time
	EmailedAt   *time.Time
	EmailedTo   string
}

// QuoteReceipt is returned by a successful submission.
type QuoteReceipt struct {
	ID        string
	Reference string
}
