package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/quote"
	"github.com/smilequote/api/internal/repositories/memory"
)

type stubArchiver struct {
	mu     sync.Mutex
	quotes []string
	emails []string
	err    error
}

func (a *stubArchiver) ArchiveQuote(_ context.Context, q Quote) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.quotes = append(a.quotes, q.ID)
	return "gs://archive/" + q.ID + ".json", nil
}

func (a *stubArchiver) ArchiveEmail(_ context.Context, q Quote, html string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.emails = append(a.emails, html)
	return "gs://archive/" + q.ID + "-email.html", nil
}

type stubPublisher struct {
	messages []QuoteEmailMessage
	err      error
}

func (p *stubPublisher) PublishQuoteEmail(_ context.Context, msg QuoteEmailMessage) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, msg)
	return "msg-1", nil
}

type quoteFixture struct {
	svc       QuoteService
	quotes    *memory.QuoteRepository
	archiver  *stubArchiver
	publisher *stubPublisher
	events    *eventRecorder
}

func newQuoteFixture(t *testing.T, promos ...domain.PromoCode) quoteFixture {
	t.Helper()
	catalog := newTestCatalogService(t, seededCatalogRepository(t))
	validator, err := NewPromoCodeService(PromoCodeServiceDeps{Repository: seededPromoRepository(t, promos...), Catalog: catalog})
	if err != nil {
		t.Fatalf("NewPromoCodeService: %v", err)
	}
	f := quoteFixture{
		quotes:    memory.NewQuoteRepository(),
		archiver:  &stubArchiver{},
		publisher: &stubPublisher{},
		events:    &eventRecorder{},
	}
	f.svc, err = NewQuoteService(QuoteServiceDeps{
		Quotes:          f.quotes,
		Catalog:         catalog,
		Promos:          validator,
		Archiver:        f.archiver,
		Publisher:       f.publisher,
		DefaultCurrency: "USD",
		EmailFrom:       "quotes@smile.example",
		SigningKey:      "test-key",
		IDGenerator:     func() string { return "01hzquote0000abcd1234" },
		Clock:           newFakeClock().Now,
		Logger:          f.events.log,
	})
	if err != nil {
		t.Fatalf("NewQuoteService: %v", err)
	}
	return f
}

func TestNewQuoteServiceRequiresCollaborators(t *testing.T) {
	if _, err := NewQuoteService(QuoteServiceDeps{}); !errors.Is(err, ErrQuoteRepositoryMissing) {
		t.Fatalf("expected ErrQuoteRepositoryMissing, got %v", err)
	}
	if _, err := NewQuoteService(QuoteServiceDeps{Quotes: memory.NewQuoteRepository()}); err == nil {
		t.Fatal("expected error without catalog")
	}
}

func TestQuoteServicePriceSelection(t *testing.T) {
	f := newQuoteFixture(t, domain.PromoCode{Code: "SAVE10", Status: domain.PromoCodeActive, DiscountType: domain.DiscountPercentage, DiscountValue: 10})

	priced, err := f.svc.PriceSelection(context.Background(), SelectionCommand{
		Treatments: []SelectionLine{{TreatmentID: "crown", Quantity: 1}, {TreatmentID: "crown", Quantity: 1}},
		OfferID:    "ten",
		PromoCode:  "save10",
	})
	if err != nil {
		t.Fatalf("PriceSelection: %v", err)
	}
	got := priced.Totals
	if got.Subtotal != 60000 || got.OfferDiscount != 6000 || got.PromoDiscount != 6000 || got.Total != 48000 {
		t.Fatalf("unexpected totals %+v", got)
	}
	if len(priced.Selection.Treatments) != 1 || priced.Selection.Treatments[0].Quantity != 2 {
		t.Fatalf("expected merged treatment line, got %+v", priced.Selection.Treatments)
	}
	if priced.Currency != "USD" {
		t.Fatalf("expected default currency, got %s", priced.Currency)
	}
}

func TestQuoteServicePriceSelectionValidatesInput(t *testing.T) {
	f := newQuoteFixture(t)

	_, err := f.svc.PriceSelection(context.Background(), SelectionCommand{
		Currency:   "ZZZ1",
		Treatments: []SelectionLine{{TreatmentID: "crown", Quantity: 1}},
	})
	var verr *quote.ValidationError
	if !errors.As(err, &verr) || verr.Fields["currency"] == "" {
		t.Fatalf("expected currency validation error, got %v", err)
	}

	_, err = f.svc.PriceSelection(context.Background(), SelectionCommand{
		Treatments: []SelectionLine{{TreatmentID: "ghost", Quantity: 1}, {TreatmentID: "crown", Quantity: 0}},
		PackageID:  "smile",
		OfferID:    "nope",
	})
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"treatments[0].id", "treatments[1].quantity", "packageId", "offerId"} {
		if verr.Fields[field] == "" {
			t.Fatalf("expected field %s in %v", field, verr.Fields)
		}
	}
}

func TestQuoteServiceSubmitQuoteRepricesFromCatalog(t *testing.T) {
	f := newQuoteFixture(t)
	tampered := testCrown
	tampered.UnitPrice = 1
	draft := domain.Quote{
		SessionID:  "s-1",
		ClinicID:   "clinic-1",
		Currency:   "usd",
		Treatments: []domain.TreatmentSelection{{Treatment: tampered, Quantity: 2}},
		Patient:    testPatient,
		Totals:     domain.QuoteTotals{Total: 2},
	}

	receipt, err := f.svc.SubmitQuote(context.Background(), draft)
	if err != nil {
		t.Fatalf("SubmitQuote: %v", err)
	}
	if receipt.ID != "01hzquote0000abcd1234" || receipt.Reference != "SQ-ABCD1234" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	stored, err := f.svc.GetQuote(context.Background(), receipt.ID)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if stored.Totals.Total != 60000 || stored.Treatments[0].Treatment.UnitPrice != 30000 {
		t.Fatalf("expected catalog prices, got %+v", stored.Totals)
	}
	if stored.Status != domain.QuoteStatusSubmitted || stored.SessionID != "s-1" || stored.Currency != "USD" {
		t.Fatalf("unexpected stored quote %+v", stored)
	}
	if f.events.count(quoteEventRepriced) != 1 {
		t.Fatal("expected reprice to be logged")
	}
	if len(f.archiver.quotes) != 1 {
		t.Fatalf("expected quote archived, got %v", f.archiver.quotes)
	}
}

func TestQuoteServiceSubmitRejectsBadInput(t *testing.T) {
	f := newQuoteFixture(t)
	ctx := context.Background()

	_, err := f.svc.SubmitSelection(ctx, SubmitSelectionCommand{
		Selection: SelectionCommand{Treatments: []SelectionLine{{TreatmentID: "crown", Quantity: 1}}},
		Patient:   domain.PatientInfo{Name: "Ana"},
	})
	var verr *quote.ValidationError
	if !errors.As(err, &verr) || verr.Fields["email"] == "" {
		t.Fatalf("expected patient validation error, got %v", err)
	}

	_, err = f.svc.SubmitSelection(ctx, SubmitSelectionCommand{Patient: testPatient})
	if !errors.Is(err, quote.ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}

	_, err = f.svc.SubmitSelection(ctx, SubmitSelectionCommand{
		Selection: SelectionCommand{Treatments: []SelectionLine{{TreatmentID: "crown", Quantity: 1}}, PromoCode: "NOPE"},
		Patient:   testPatient,
	})
	if !errors.Is(err, ErrQuotePromoRejected) {
		t.Fatalf("expected ErrQuotePromoRejected, got %v", err)
	}
}

func TestQuoteServiceSubmitPackagePromo(t *testing.T) {
	f := newQuoteFixture(t, domain.PromoCode{Code: "MAKEOVER", Status: domain.PromoCodeActive, PackageID: "smile"})
	ctx := context.Background()

	q, err := f.svc.SubmitSelection(ctx, SubmitSelectionCommand{
		Selection: SelectionCommand{PackageID: "smile", PromoCode: "MAKEOVER"},
		Patient:   testPatient,
	})
	if err != nil {
		t.Fatalf("SubmitSelection: %v", err)
	}
	if q.PromoCode != "MAKEOVER" || q.Totals.Total != testPackage.Price || q.Totals.PromoDiscount != 0 {
		t.Fatalf("unexpected package quote %+v", q.Totals)
	}

	_, err = f.svc.SubmitSelection(ctx, SubmitSelectionCommand{
		Selection: SelectionCommand{Treatments: []SelectionLine{{TreatmentID: "implant", Quantity: 1}}, PromoCode: "MAKEOVER"},
		Patient:   testPatient,
	})
	if !errors.Is(err, ErrQuotePromoRejected) {
		t.Fatalf("expected package promo on treatments to be rejected, got %v", err)
	}
}

func TestQuoteServiceSubmitStripsMarkupAndToleratesArchiveFailure(t *testing.T) {
	f := newQuoteFixture(t)
	f.archiver.err = errors.New("bucket missing")
	patient := testPatient
	patient.Name = "<b>Ana</b> O'Brien"
	patient.Notes = "<script>alert(1)</script>Prefers mornings"

	q, err := f.svc.SubmitSelection(context.Background(), SubmitSelectionCommand{
		Selection: SelectionCommand{Treatments: []SelectionLine{{TreatmentID: "implant", Quantity: 1}}},
		Patient:   patient,
	})
	if err != nil {
		t.Fatalf("SubmitSelection: %v", err)
	}
	if q.Patient.Name != "Ana O'Brien" {
		t.Fatalf("unexpected name %q", q.Patient.Name)
	}
	if strings.Contains(q.Patient.Notes, "script") || !strings.Contains(q.Patient.Notes, "Prefers mornings") {
		t.Fatalf("unexpected notes %q", q.Patient.Notes)
	}
	if f.events.count(quoteEventArchiveFailed) != 1 {
		t.Fatal("expected archive failure to be logged")
	}
}

func TestQuoteServiceEmailQuote(t *testing.T) {
	f := newQuoteFixture(t)
	ctx := context.Background()
	q, err := f.svc.SubmitSelection(ctx, SubmitSelectionCommand{
		Selection: SelectionCommand{Treatments: []SelectionLine{{TreatmentID: "crown", Quantity: 1}}, OfferID: "ten"},
		Patient:   testPatient,
	})
	if err != nil {
		t.Fatalf("SubmitSelection: %v", err)
	}

	if err := f.svc.EmailQuote(ctx, q.ID, " Ana@Example.com "); err != nil {
		t.Fatalf("EmailQuote: %v", err)
	}
	if len(f.publisher.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(f.publisher.messages))
	}
	msg := f.publisher.messages[0]
	if msg.To != "ana@example.com" || msg.QuoteID != q.ID || msg.Reference != q.Reference || msg.From != "quotes@smile.example" {
		t.Fatalf("unexpected message %+v", msg)
	}
	if !strings.Contains(msg.HTMLBody, q.Reference) || !strings.Contains(msg.HTMLBody, "<table>") {
		t.Fatalf("expected rendered html table, got %s", msg.HTMLBody)
	}
	if !strings.Contains(msg.TextBody, "USD 270.00") {
		t.Fatalf("expected total in text body, got %s", msg.TextBody)
	}
	if msg.Signature != signEmail([]byte("test-key"), q.ID, msg.To, msg.HTMLBody) {
		t.Fatal("signature mismatch")
	}
	if len(f.archiver.emails) != 1 {
		t.Fatal("expected email archived")
	}

	stored, err := f.svc.GetQuote(ctx, q.ID)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if stored.Status != domain.QuoteStatusEmailed || stored.EmailedTo != "ana@example.com" || stored.EmailedAt == nil {
		t.Fatalf("expected emailed quote, got %+v", stored)
	}
}

func TestQuoteServiceEmailQuoteErrors(t *testing.T) {
	f := newQuoteFixture(t)
	ctx := context.Background()

	var verr *quote.ValidationError
	if err := f.svc.EmailQuote(ctx, "q", "not-an-email"); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := f.svc.EmailQuote(ctx, "missing", "ana@example.com"); !errors.Is(err, ErrQuoteNotFound) {
		t.Fatalf("expected ErrQuoteNotFound, got %v", err)
	}

	svc, err := NewQuoteService(QuoteServiceDeps{Quotes: memory.NewQuoteRepository(), Catalog: newTestCatalogService(t, seededCatalogRepository(t))})
	if err != nil {
		t.Fatalf("NewQuoteService: %v", err)
	}
	if err := svc.EmailQuote(ctx, "q", "ana@example.com"); !errors.Is(err, ErrEmailUnavailable) {
		t.Fatalf("expected ErrEmailUnavailable, got %v", err)
	}
}

func TestQuoteMarkdownEscapesPatientText(t *testing.T) {
	md := quoteMarkdown(Quote{
		Reference: "SQ-1",
		Currency:  "USD",
		Patient:   domain.PatientInfo{Name: "Ana | *bold* <i>"},
	})
	if !strings.Contains(md, `Ana \| \*bold\* &lt;i&gt;`) {
		t.Fatalf("expected escaped name, got %s", md)
	}
}

func TestFormatMoney(t *testing.T) {
	cases := []struct {
		amount int64
		code   string
		want   string
	}{
		{123450, "USD", "USD 1234.50"},
		{5000, "JPY", "JPY 5000"},
		{-250, "EUR", "EUR -2.50"},
		{99, "", "0.99"},
	}
	for _, tc := range cases {
		if got := FormatMoney(tc.amount, tc.code); got != tc.want {
			t.Fatalf("FormatMoney(%d, %q) = %q, want %q", tc.amount, tc.code, got, tc.want)
		}
	}
}
