package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/quote"
	"github.com/smilequote/api/internal/repositories"
)

const (
	quoteEventRepriced       = "quote.submit.repriced"
	quoteEventArchiveFailed  = "quote.archive.failed"
	quoteEventEmailPublished = "quote.email.published"

	defaultReferencePrefix = "SQ"
	referenceLength        = 8
)

// QuoteServiceDeps bundles dependencies required to construct a QuoteService implementation.
type QuoteServiceDeps struct {
	Quotes    repositories.QuoteRepository
	Catalog   CatalogService
	Promos    quote.PromoValidator
	Archiver  QuoteArchiver
	Publisher QuoteEmailPublisher

	DefaultCurrency string
	ReferencePrefix string
	EmailFrom       string
	SigningKey      string

	IDGenerator func() string
	Clock       func() time.Time
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Meter       metric.Meter
}

type quoteService struct {
	repo      repositories.QuoteRepository
	catalog   CatalogService
	promos    quote.PromoValidator
	archiver  QuoteArchiver
	publisher QuoteEmailPublisher
	renderer  *quoteEmailRenderer
	sanitizer *bluemonday.Policy

	currency   string
	prefix     string
	emailFrom  string
	signingKey []byte

	newID       func() string
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
	submissions metric.Int64Counter
	emails      metric.Int64Counter
}

var _ QuoteService = (*quoteService)(nil)

// NewQuoteService wires the quote submission gateway.
func NewQuoteService(deps QuoteServiceDeps) (QuoteService, error) {
	if deps.Quotes == nil {
		return nil, ErrQuoteRepositoryMissing
	}
	if deps.Catalog == nil {
		return nil, errors.New("quote service: catalog service is required")
	}
	prefix := strings.ToUpper(strings.TrimSpace(deps.ReferencePrefix))
	if prefix == "" {
		prefix = defaultReferencePrefix
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(servicesMeterName)
	}
	submissions, err := meter.Int64Counter("quotes.submitted",
		metric.WithDescription("Quotes accepted by the submission gateway"))
	if err != nil {
		return nil, fmt.Errorf("quote service: create counter: %w", err)
	}
	emails, err := meter.Int64Counter("quotes.emailed",
		metric.WithDescription("Quote emails queued for delivery"))
	if err != nil {
		return nil, fmt.Errorf("quote service: create counter: %w", err)
	}

	return &quoteService{
		repo:       deps.Quotes,
		catalog:    deps.Catalog,
		promos:     deps.Promos,
		archiver:   deps.Archiver,
		publisher:  deps.Publisher,
		renderer:   newQuoteEmailRenderer(),
		sanitizer:  bluemonday.StrictPolicy(),
		currency:   strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency)),
		prefix:     prefix,
		emailFrom:  strings.TrimSpace(deps.EmailFrom),
		signingKey: []byte(deps.SigningKey),
		newID:      newID,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:      logger,
		submissions: submissions,
		emails:      emails,
	}, nil
}

// PriceSelection resolves catalog ids to current catalog items and prices
// them. A promo code is validated against the resolved basket.
func (s *quoteService) PriceSelection(ctx context.Context, cmd SelectionCommand) (PricedSelection, error) {
	currency, err := normalizeCurrency(cmd.Currency, s.currency)
	if err != nil {
		return PricedSelection{}, &quote.ValidationError{Fields: map[string]string{"currency": "unsupported currency"}}
	}

	query := CatalogQuery{ClinicID: strings.TrimSpace(cmd.ClinicID)}
	catalog, err := s.catalog.GetCatalog(ctx, query)
	if err != nil && !errors.Is(err, ErrCatalogEmpty) {
		return PricedSelection{}, err
	}

	snap, err := resolveSelection(catalog, cmd)
	if err != nil {
		return PricedSelection{}, err
	}

	priced := PricedSelection{Currency: currency}
	if code := quote.NormalizeCode(cmd.PromoCode); code != "" {
		rule, message, err := s.validatePromo(ctx, query.ClinicID, code, snap, currency)
		if err != nil {
			return PricedSelection{}, err
		}
		snap.Promo = &rule
		priced.PromoMessage = message
	}
	priced.Selection = snap
	priced.Totals = quote.Calculate(snap, currency)
	return priced, nil
}

// SubmitQuote persists a draft. Prices, discounts and the promo code are
// recomputed from the current catalog; the client's totals are ignored.
func (s *quoteService) SubmitQuote(ctx context.Context, draft Quote) (QuoteReceipt, error) {
	q, err := s.submit(ctx, selectionFromDraft(draft), draft.Patient, draft)
	if err != nil {
		return QuoteReceipt{}, err
	}
	return QuoteReceipt{ID: q.ID, Reference: q.Reference}, nil
}

// SubmitSelection submits a selection made without a server-held session.
func (s *quoteService) SubmitSelection(ctx context.Context, cmd SubmitSelectionCommand) (Quote, error) {
	return s.submit(ctx, cmd.Selection, cmd.Patient, Quote{})
}

func (s *quoteService) submit(ctx context.Context, sel SelectionCommand, patient domain.PatientInfo, draft Quote) (Quote, error) {
	patient = quote.NormalizePatientInfo(patient)
	patient.Name = s.stripMarkup(patient.Name)
	patient.Notes = s.stripMarkup(patient.Notes)
	if err := quote.ValidatePatientInfo(patient); err != nil {
		return Quote{}, err
	}

	priced, err := s.PriceSelection(ctx, sel)
	if err != nil {
		return Quote{}, err
	}
	if priced.Selection.Empty() {
		return Quote{}, quote.ErrEmptySelection
	}
	if draft.Totals.Total != 0 && draft.Totals.Total != priced.Totals.Total {
		s.logger(ctx, quoteEventRepriced, map[string]any{
			"sessionId":   draft.SessionID,
			"clientTotal": draft.Totals.Total,
			"serverTotal": priced.Totals.Total,
		})
	}

	id := s.newID()
	q := Quote{
		ID:         id,
		Reference:  s.reference(id),
		SessionID:  strings.TrimSpace(draft.SessionID),
		ClinicID:   strings.TrimSpace(sel.ClinicID),
		Currency:   priced.Currency,
		Treatments: priced.Selection.Treatments,
		Package:    priced.Selection.Package,
		Offer:      priced.Selection.Offer,
		Patient:    patient,
		Totals:     priced.Totals,
		Status:     domain.QuoteStatusSubmitted,
		CreatedAt:  s.clock(),
	}
	if rule := priced.Selection.Promo; rule != nil {
		q.PromoCode = rule.Code
		q.PromoSource = rule.Source
	}

	if err := s.repo.Insert(ctx, q); err != nil {
		return Quote{}, s.mapRepoError(err)
	}

	if s.archiver != nil {
		if _, err := s.archiver.ArchiveQuote(ctx, q); err != nil {
			s.logger(ctx, quoteEventArchiveFailed, map[string]any{"quoteId": q.ID, "error": err.Error()})
		}
	}
	s.submissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("clinic", q.ClinicID),
		attribute.Bool("promo", q.PromoCode != ""),
		attribute.Bool("package", q.Package != nil),
	))
	return q, nil
}

// GetQuote loads a persisted quote.
func (s *quoteService) GetQuote(ctx context.Context, quoteID string) (Quote, error) {
	quoteID = strings.TrimSpace(quoteID)
	if quoteID == "" {
		return Quote{}, ErrQuoteNotFound
	}
	q, err := s.repo.FindByID(ctx, quoteID)
	if err != nil {
		return Quote{}, s.mapRepoError(err)
	}
	return q, nil
}

// EmailQuote renders the saved quote and queues it for delivery to email.
func (s *quoteService) EmailQuote(ctx context.Context, quoteID, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if !quote.ValidEmail(email) {
		return &quote.ValidationError{Fields: map[string]string{"email": "invalid email address"}}
	}
	if s.publisher == nil {
		return ErrEmailUnavailable
	}
	q, err := s.GetQuote(ctx, quoteID)
	if err != nil {
		return err
	}

	rendered, err := s.renderer.Render(q)
	if err != nil {
		return err
	}
	now := s.clock()
	message := QuoteEmailMessage{
		QuoteID:        q.ID,
		Reference:      q.Reference,
		ClinicID:       q.ClinicID,
		From:           s.emailFrom,
		To:             email,
		Subject:        rendered.Subject,
		HTMLBody:       rendered.HTML,
		TextBody:       rendered.Markdown,
		Signature:      signEmail(s.signingKey, q.ID, email, rendered.HTML),
		RequestedAt:    now,
		IdempotencyKey: q.ID + ":" + email,
	}
	messageID, err := s.publisher.PublishQuoteEmail(ctx, message)
	if err != nil {
		return fmt.Errorf("quote service: publish email: %w", err)
	}
	s.logger(ctx, quoteEventEmailPublished, map[string]any{"quoteId": q.ID, "messageId": messageID, "to": email})
	s.emails.Add(ctx, 1)

	if s.archiver != nil {
		if _, err := s.archiver.ArchiveEmail(ctx, q, rendered.HTML); err != nil {
			s.logger(ctx, quoteEventArchiveFailed, map[string]any{"quoteId": q.ID, "kind": "email", "error": err.Error()})
		}
	}
	if _, err := s.repo.MarkEmailed(ctx, q.ID, email, now); err != nil {
		return s.mapRepoError(err)
	}
	return nil
}

func (s *quoteService) validatePromo(ctx context.Context, clinicID, code string, snap quote.Snapshot, currency string) (quote.PromoRule, string, error) {
	if s.promos == nil {
		return quote.PromoRule{}, "", ErrPromoServiceUnavailable
	}
	v, err := s.promos.ValidatePromoCode(ctx, quote.PromoRequest{
		Code:     code,
		ClinicID: clinicID,
		Basket:   quote.BasketOf(snap, currency),
	})
	if err != nil {
		if errors.Is(err, ErrPromoServiceUnavailable) {
			return quote.PromoRule{}, "", err
		}
		return quote.PromoRule{}, "", fmt.Errorf("%w: %w", ErrPromoServiceUnavailable, err)
	}
	if !v.Valid {
		return quote.PromoRule{}, "", fmt.Errorf("%w: %w", ErrQuotePromoRejected, &quote.PromoRevokedError{Code: code, Reason: v.Message})
	}
	if v.Package != nil {
		if snap.Package == nil || snap.Package.ID != v.Package.ID {
			reason := fmt.Sprintf("code applies to the %s package", v.Package.Name)
			return quote.PromoRule{}, "", fmt.Errorf("%w: %w", ErrQuotePromoRejected, &quote.PromoRevokedError{Code: code, Reason: reason})
		}
		percent := v.Package.DiscountPercent
		if v.DiscountType == domain.DiscountPercentage && v.DiscountValue > 0 {
			percent = v.DiscountValue
		}
		return quote.PromoRule{
			Code:           code,
			Source:         domain.PromoSourceServer,
			PackageID:      v.Package.ID,
			DisplayPercent: percent,
		}, v.Message, nil
	}
	rule := quote.PromoRule{Code: code, Source: domain.PromoSourceServer}
	switch {
	case v.DiscountType.Valid() && v.DiscountValue > 0:
		rule.DiscountType, rule.DiscountValue = v.DiscountType, v.DiscountValue
	case v.DiscountAmount > 0:
		rule.DiscountType, rule.DiscountValue = domain.DiscountFixed, v.DiscountAmount
	default:
		return quote.PromoRule{}, "", fmt.Errorf("%w: %w", ErrQuotePromoRejected, &quote.PromoRevokedError{Code: code, Reason: "code carries no discount"})
	}
	return rule, v.Message, nil
}

// stripMarkup removes tags while keeping the text readable.
func (s *quoteService) stripMarkup(in string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(in)))
}

func (s *quoteService) reference(id string) string {
	tail := strings.ToUpper(id)
	if len(tail) > referenceLength {
		tail = tail[len(tail)-referenceLength:]
	}
	return s.prefix + "-" + tail
}

func (s *quoteService) mapRepoError(err error) error {
	switch {
	case repositories.IsNotFound(err):
		return fmt.Errorf("%w: %w", ErrQuoteNotFound, err)
	case repositories.IsUnavailable(err), repositories.IsConflict(err):
		return fmt.Errorf("%w: %w", ErrQuoteUnavailable, err)
	}
	return err
}

// resolveSelection maps catalog ids to a validated snapshot. Repeated
// treatment ids are merged.
func resolveSelection(catalog Catalog, cmd SelectionCommand) (quote.Snapshot, error) {
	fields := make(map[string]string)
	var snap quote.Snapshot

	packageID := strings.TrimSpace(cmd.PackageID)
	if packageID != "" && len(cmd.Treatments) > 0 {
		fields["packageId"] = "a package cannot be combined with individual treatments"
	}

	index := make(map[string]int, len(cmd.Treatments))
	for i, line := range cmd.Treatments {
		key := fmt.Sprintf("treatments[%d]", i)
		id := strings.TrimSpace(line.TreatmentID)
		if line.Quantity < 1 {
			fields[key+".quantity"] = "must be at least 1"
			continue
		}
		t, ok := catalog.Treatment(id)
		if !ok {
			fields[key+".id"] = "unknown treatment"
			continue
		}
		if at, seen := index[id]; seen {
			snap.Treatments[at].Quantity += line.Quantity
			continue
		}
		index[id] = len(snap.Treatments)
		snap.Treatments = append(snap.Treatments, domain.TreatmentSelection{Treatment: t, Quantity: line.Quantity})
	}

	if packageID != "" {
		if p, ok := catalog.Package(packageID); ok {
			snap.Package = &p
		} else {
			fields["packageId"] = "unknown package"
		}
	}
	if offerID := strings.TrimSpace(cmd.OfferID); offerID != "" {
		if o, ok := catalog.Offer(offerID); ok {
			snap.Offer = &o
		} else {
			fields["offerId"] = "unknown offer"
		}
	}

	if len(fields) > 0 {
		return quote.Snapshot{}, &quote.ValidationError{Fields: fields}
	}
	if err := snap.Validate(); err != nil {
		return quote.Snapshot{}, err
	}
	return snap.Clone(), nil
}

func selectionFromDraft(draft Quote) SelectionCommand {
	cmd := SelectionCommand{
		ClinicID:  draft.ClinicID,
		Currency:  draft.Currency,
		PromoCode: draft.PromoCode,
	}
	for _, line := range draft.Treatments {
		cmd.Treatments = append(cmd.Treatments, SelectionLine{TreatmentID: line.Treatment.ID, Quantity: line.Quantity})
	}
	if draft.Package != nil {
		cmd.PackageID = draft.Package.ID
	}
	if draft.Offer != nil {
		cmd.OfferID = draft.Offer.ID
	}
	return cmd
}
