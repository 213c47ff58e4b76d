package services

import (
	"context"
	"time"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/quote"
	"github.com/smilequote/api/internal/repositories"
)

// Type aliases expose domain and engine models to the services package without reversing dependency direction.
type (
	Catalog          = domain.Catalog
	CatalogQuery     = repositories.CatalogQuery
	Quote            = domain.Quote
	QuoteReceipt     = domain.QuoteReceipt
	QuoteTotals      = domain.QuoteTotals
	PendingSelection = domain.PendingSelection
	HealthReport     = domain.HealthReport
	PromoResult      = quote.PromoResult
)

// CatalogService serves the sellable items for a clinic context, degrading
// to the built-in catalog when the repository fails.
type CatalogService interface {
	GetCatalog(ctx context.Context, query CatalogQuery) (Catalog, error)
	FindTreatment(ctx context.Context, query CatalogQuery, id string) (domain.Treatment, error)
	FindPackage(ctx context.Context, query CatalogQuery, id string) (domain.Package, error)
	FindOffer(ctx context.Context, query CatalogQuery, id string) (domain.SpecialOffer, error)
	Invalidate(query CatalogQuery)
}

// PromoCodeService is the server-side promo validator.
type PromoCodeService interface {
	quote.PromoValidator
}

// QuoteService is the quote submission gateway plus stateless pricing.
type QuoteService interface {
	quote.Gateway
	PriceSelection(ctx context.Context, cmd SelectionCommand) (PricedSelection, error)
	SubmitSelection(ctx context.Context, cmd SubmitSelectionCommand) (Quote, error)
	GetQuote(ctx context.Context, quoteID string) (Quote, error)
}

// QuoteSessionService hosts server-held quote sessions for UI shells.
type QuoteSessionService interface {
	CreateSession(ctx context.Context, cmd CreateSessionCommand) (SessionView, error)
	GetSession(ctx context.Context, sessionID, step string) (SessionView, error)
	ToggleTreatment(ctx context.Context, sessionID, treatmentID string) (SessionView, error)
	UpdateQuantity(ctx context.Context, sessionID, treatmentID string, quantity int) (SessionView, error)
	TogglePackage(ctx context.Context, sessionID, packageID string) (SessionView, error)
	ToggleOffer(ctx context.Context, sessionID, offerID string) (SessionView, error)
	ClearOffer(ctx context.Context, sessionID string) (SessionView, error)
	ApplyPromoCode(ctx context.Context, sessionID, code string) (SessionView, error)
	ConfirmSubstitution(ctx context.Context, sessionID string) (SessionView, error)
	DeclineSubstitution(ctx context.Context, sessionID string) (SessionView, error)
	ClearPromoCode(ctx context.Context, sessionID string) (SessionView, error)
	UpdatePatient(ctx context.Context, sessionID string, info domain.PatientInfo) (SessionView, error)
	Next(ctx context.Context, sessionID string) (SessionView, error)
	Previous(ctx context.Context, sessionID string) (SessionView, error)
	Reset(ctx context.Context, sessionID string) (SessionView, error)
	Submit(ctx context.Context, sessionID string) (SessionView, error)
	Email(ctx context.Context, sessionID, email string) (SessionView, error)
	CreateHandoff(ctx context.Context, cmd CreateHandoffCommand) (PendingSelection, error)
}

// SystemService reports service health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// QuoteEmailPublisher enqueues a rendered quote email for delivery.
type QuoteEmailPublisher interface {
	PublishQuoteEmail(ctx context.Context, message QuoteEmailMessage) (string, error)
}

// QuoteArchiver stores submitted quotes and sent emails outside the database.
type QuoteArchiver interface {
	ArchiveQuote(ctx context.Context, q Quote) (string, error)
	ArchiveEmail(ctx context.Context, q Quote, html string) (string, error)
}

// QuoteEmailMessage is the job payload consumed by the email worker.
type QuoteEmailMessage struct {
	QuoteID        string    `json:"quoteId"`
	Reference      string    `json:"reference"`
	ClinicID       string    `json:"clinicId,omitempty"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to"`
	Subject        string    `json:"subject"`
	HTMLBody       string    `json:"htmlBody"`
	TextBody       string    `json:"textBody"`
	Signature      string    `json:"signature,omitempty"`
	RequestedAt    time.Time `json:"requestedAt"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
}

// SelectionLine is one treatment line by catalog id.
type SelectionLine struct {
	TreatmentID string
	Quantity    int
}

// SelectionCommand describes a selection by catalog ids.
type SelectionCommand struct {
	ClinicID   string
	Currency   string
	Treatments []SelectionLine
	PackageID  string
	OfferID    string
	PromoCode  string
}

// PricedSelection is the server-side pricing of a SelectionCommand.
type PricedSelection struct {
	Currency     string
	Selection    quote.Snapshot
	Totals       QuoteTotals
	PromoMessage string
}

// SubmitSelectionCommand submits a selection without a server-held session.
type SubmitSelectionCommand struct {
	Selection SelectionCommand
	Patient   domain.PatientInfo
}

// CreateSessionCommand starts a server-held session.
type CreateSessionCommand struct {
	ClinicID     string
	Currency     string
	Variant      string
	HandoffToken string
	Step         string
}

// CreateHandoffCommand stashes a selection decision for the next page.
type CreateHandoffCommand struct {
	ClinicID string
	Kind     domain.PendingKind
	Payload  string
}

// SessionView is a session read plus the outcome of the last action.
type SessionView struct {
	quote.View
	Promo   *PromoResult
	Notices []string
}

// SystemHealthReport is the health payload with build metadata.
type SystemHealthReport struct {
	HealthReport
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
}
