package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/quote"
	"github.com/smilequote/api/internal/repositories/memory"
)

type sessionFixture struct {
	svc      QuoteSessionService
	deps     QuoteSessionServiceDeps
	sessions *memory.QuoteSessionRepository
	quotes   QuoteService
	clock    *fakeClock
}

func newSessionFixture(t *testing.T, promos ...domain.PromoCode) sessionFixture {
	t.Helper()
	clock := newFakeClock()
	catalog := newTestCatalogService(t, seededCatalogRepository(t))
	validator, err := NewPromoCodeService(PromoCodeServiceDeps{Repository: seededPromoRepository(t, promos...), Catalog: catalog})
	if err != nil {
		t.Fatalf("NewPromoCodeService: %v", err)
	}
	quotes, err := NewQuoteService(QuoteServiceDeps{
		Quotes:          memory.NewQuoteRepository(),
		Catalog:         catalog,
		Promos:          validator,
		Publisher:       &stubPublisher{},
		DefaultCurrency: "USD",
	})
	if err != nil {
		t.Fatalf("NewQuoteService: %v", err)
	}

	sessions := memory.NewQuoteSessionRepository(time.Hour, clock.Now)
	var ids, tokens int
	deps := QuoteSessionServiceDeps{
		Sessions:        sessions,
		Handoffs:        memory.NewHandoffRepository(clock.Now),
		Catalog:         catalog,
		Validator:       validator,
		Gateway:         quotes,
		DefaultCurrency: "USD",
		SessionTTL:      time.Hour,
		IDGenerator: func() string {
			ids++
			return fmt.Sprintf("session-%d", ids)
		},
		TokenGenerator: func() string {
			tokens++
			return fmt.Sprintf("token-%d", tokens)
		},
		Clock: clock.Now,
	}
	svc, err := NewQuoteSessionService(deps)
	if err != nil {
		t.Fatalf("NewQuoteSessionService: %v", err)
	}
	return sessionFixture{svc: svc, deps: deps, sessions: sessions, quotes: quotes, clock: clock}
}

func TestQuoteSessionServiceFullFlow(t *testing.T) {
	f := newSessionFixture(t, domain.PromoCode{Code: "SAVE10", Status: domain.PromoCodeActive, DiscountType: domain.DiscountPercentage, DiscountValue: 10})
	ctx := context.Background()

	view, err := f.svc.CreateSession(ctx, CreateSessionCommand{ClinicID: "clinic-1"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	id := view.ID
	if view.Stage != quote.StageTreatmentSelection || view.Currency != "USD" {
		t.Fatalf("unexpected new session %+v", view.Record)
	}

	if _, err := f.svc.Next(ctx, id); !errors.Is(err, quote.ErrStageGuard) {
		t.Fatalf("expected guard error on empty selection, got %v", err)
	}
	if _, err := f.svc.ToggleTreatment(ctx, id, "crown"); err != nil {
		t.Fatalf("ToggleTreatment: %v", err)
	}
	view, err = f.svc.UpdateQuantity(ctx, id, "crown", 2)
	if err != nil {
		t.Fatalf("UpdateQuantity: %v", err)
	}
	if view.Totals.Subtotal != 60000 {
		t.Fatalf("expected subtotal 60000, got %d", view.Totals.Subtotal)
	}

	view, err = f.svc.ApplyPromoCode(ctx, id, "save10")
	if err != nil {
		t.Fatalf("ApplyPromoCode: %v", err)
	}
	if view.Promo == nil || view.Promo.Outcome != quote.PromoApplied || view.Totals.PromoDiscount != 6000 {
		t.Fatalf("unexpected promo result %+v totals %+v", view.Promo, view.Totals)
	}

	for _, want := range []quote.Stage{quote.StagePromoOffer, quote.StagePatientInfo} {
		view, err = f.svc.Next(ctx, id)
		if err != nil || view.Stage != want {
			t.Fatalf("expected %s, got %s (%v)", want, view.Stage, err)
		}
	}
	if _, err := f.svc.UpdatePatient(ctx, id, domain.PatientInfo{Name: "Ana"}); err == nil {
		t.Fatal("expected validation error for incomplete patient")
	}
	if _, err := f.svc.UpdatePatient(ctx, id, testPatient); err != nil {
		t.Fatalf("UpdatePatient: %v", err)
	}
	view, err = f.svc.Next(ctx, id)
	if err != nil || view.Stage != quote.StageReview {
		t.Fatalf("expected review, got %s (%v)", view.Stage, err)
	}
	if _, err := f.svc.Next(ctx, id); !errors.Is(err, quote.ErrSubmitRequired) {
		t.Fatalf("expected submit required, got %v", err)
	}

	view, err = f.svc.Submit(ctx, id)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if view.Stage != quote.StageConfirmation || view.Receipt == nil {
		t.Fatalf("expected confirmation with receipt, got %+v", view.Record)
	}
	stored, err := f.quotes.GetQuote(ctx, view.Receipt.ID)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if stored.PromoCode != "SAVE10" || stored.Totals.Total != 54000 || stored.SessionID != id {
		t.Fatalf("unexpected stored quote %+v", stored)
	}

	view, err = f.svc.Reset(ctx, id)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if view.Stage != quote.StageTreatmentSelection || !view.Totals.Empty || view.Receipt != nil {
		t.Fatalf("expected fresh session after reset, got %+v", view.Record)
	}
}

func TestQuoteSessionServiceRestoresFromRepository(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	view, err := f.svc.CreateSession(ctx, CreateSessionCommand{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := f.svc.TogglePackage(ctx, view.ID, "smile"); err != nil {
		t.Fatalf("TogglePackage: %v", err)
	}
	if _, err := f.svc.ToggleOffer(ctx, view.ID, "ten"); err != nil {
		t.Fatalf("ToggleOffer: %v", err)
	}

	other, err := NewQuoteSessionService(f.deps)
	if err != nil {
		t.Fatalf("NewQuoteSessionService: %v", err)
	}
	restored, err := other.GetSession(ctx, view.ID, "")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if restored.Selection.Package == nil || restored.Selection.Package.ID != "smile" || restored.Selection.Offer == nil {
		t.Fatalf("unexpected restored selection %+v", restored.Selection)
	}
	if restored.Totals.Total != 90000 {
		t.Fatalf("expected recomputed total 90000, got %d", restored.Totals.Total)
	}

	view, err = other.ClearOffer(ctx, view.ID)
	if err != nil || view.Selection.Offer != nil {
		t.Fatalf("ClearOffer: %+v %v", view.Selection, err)
	}
}

func TestQuoteSessionServiceStepRestoreStopsAtGuard(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	view, err := f.svc.CreateSession(ctx, CreateSessionCommand{Step: "review"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if view.Stage != quote.StageTreatmentSelection {
		t.Fatalf("expected guard to hold the first stage, got %s", view.Stage)
	}

	if _, err := f.svc.ToggleTreatment(ctx, view.ID, "implant"); err != nil {
		t.Fatalf("ToggleTreatment: %v", err)
	}
	got, err := f.svc.GetSession(ctx, view.ID, "review")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Stage != quote.StagePatientInfo {
		t.Fatalf("expected patient-info to block, got %s", got.Stage)
	}

	if _, err := f.svc.GetSession(ctx, view.ID, "nowhere"); !errors.Is(err, quote.ErrUnknownStage) {
		t.Fatalf("expected ErrUnknownStage, got %v", err)
	}
}

func TestQuoteSessionServiceHandoffIsConsumedOnce(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	sel, err := f.svc.CreateHandoff(ctx, CreateHandoffCommand{ClinicID: "clinic-1", Kind: domain.PendingPackage, Payload: "smile"})
	if err != nil {
		t.Fatalf("CreateHandoff: %v", err)
	}
	if sel.Token != "token-1" || !sel.ExpiresAt.After(sel.CreatedAt) {
		t.Fatalf("unexpected hand-off %+v", sel)
	}

	first, err := f.svc.CreateSession(ctx, CreateSessionCommand{ClinicID: "clinic-1", HandoffToken: sel.Token})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if first.Selection.Package == nil || first.Selection.Package.ID != "smile" {
		t.Fatalf("expected package from hand-off, got %+v", first.Selection)
	}

	second, err := f.svc.CreateSession(ctx, CreateSessionCommand{ClinicID: "clinic-1", HandoffToken: sel.Token})
	if err != nil {
		t.Fatalf("CreateSession replay: %v", err)
	}
	if !second.Selection.Empty() || len(second.Notices) != 1 {
		t.Fatalf("expected empty session with a notice, got %+v / %v", second.Selection, second.Notices)
	}
}

func TestQuoteSessionServiceHandoffPromoCode(t *testing.T) {
	f := newSessionFixture(t, domain.PromoCode{Code: "MAKEOVER", Status: domain.PromoCodeActive, PackageID: "smile"})
	ctx := context.Background()

	sel, err := f.svc.CreateHandoff(ctx, CreateHandoffCommand{Kind: domain.PendingPromoCode, Payload: " makeover "})
	if err != nil {
		t.Fatalf("CreateHandoff: %v", err)
	}
	if sel.Payload != "MAKEOVER" {
		t.Fatalf("expected normalised payload, got %q", sel.Payload)
	}
	view, err := f.svc.CreateSession(ctx, CreateSessionCommand{HandoffToken: sel.Token})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if view.Promo == nil || !view.Promo.Substituted || view.Selection.PromoCode() != "MAKEOVER" {
		t.Fatalf("expected substituted package, got %+v", view.Promo)
	}
}

func TestQuoteSessionServiceSubstitutionNeedsConfirmation(t *testing.T) {
	f := newSessionFixture(t, domain.PromoCode{Code: "MAKEOVER", Status: domain.PromoCodeActive, PackageID: "smile"})
	ctx := context.Background()
	view, _ := f.svc.CreateSession(ctx, CreateSessionCommand{})
	id := view.ID
	if _, err := f.svc.ToggleTreatment(ctx, id, "implant"); err != nil {
		t.Fatalf("ToggleTreatment: %v", err)
	}

	view, err := f.svc.ApplyPromoCode(ctx, id, "MAKEOVER")
	if err != nil {
		t.Fatalf("ApplyPromoCode: %v", err)
	}
	if view.Promo.Outcome != quote.PromoNeedsConfirmation || view.Pending == nil {
		t.Fatalf("expected pending substitution, got %+v", view.Promo)
	}
	if len(view.Selection.Treatments) != 1 {
		t.Fatal("selection must be untouched until confirmed")
	}

	view, err = f.svc.DeclineSubstitution(ctx, id)
	if err != nil || view.Pending != nil || len(view.Selection.Treatments) != 1 {
		t.Fatalf("DeclineSubstitution: %+v %v", view.Selection, err)
	}
	if _, err := f.svc.ConfirmSubstitution(ctx, id); !errors.Is(err, quote.ErrNoPendingSubstitution) {
		t.Fatalf("expected ErrNoPendingSubstitution, got %v", err)
	}

	if _, err := f.svc.ApplyPromoCode(ctx, id, "MAKEOVER"); err != nil {
		t.Fatalf("ApplyPromoCode: %v", err)
	}
	view, err = f.svc.ConfirmSubstitution(ctx, id)
	if err != nil {
		t.Fatalf("ConfirmSubstitution: %v", err)
	}
	if view.Selection.Package == nil || len(view.Selection.Treatments) != 0 || view.Selection.PromoCode() != "MAKEOVER" {
		t.Fatalf("expected package selection, got %+v", view.Selection)
	}

	view, err = f.svc.ClearPromoCode(ctx, id)
	if err != nil || view.Selection.Promo != nil {
		t.Fatalf("ClearPromoCode: %+v %v", view.Selection, err)
	}
}

func TestQuoteSessionServiceErrors(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	if _, err := f.svc.GetSession(ctx, "missing", ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := f.svc.CreateSession(ctx, CreateSessionCommand{Currency: "dollars"}); err == nil {
		t.Fatal("expected currency validation error")
	}
	if _, err := f.svc.CreateHandoff(ctx, CreateHandoffCommand{Kind: domain.PendingPackage, Payload: "missing"}); !errors.Is(err, ErrHandoffInvalid) {
		t.Fatalf("expected ErrHandoffInvalid, got %v", err)
	}
	if _, err := f.svc.CreateHandoff(ctx, CreateHandoffCommand{Kind: "coupon", Payload: "x"}); err == nil {
		t.Fatal("expected invalid kind error")
	}

	view, _ := f.svc.CreateSession(ctx, CreateSessionCommand{})
	if _, err := f.svc.ToggleTreatment(ctx, view.ID, "ghost"); !errors.Is(err, ErrCatalogItemNotFound) {
		t.Fatalf("expected ErrCatalogItemNotFound, got %v", err)
	}
	if _, err := f.svc.Submit(ctx, view.ID); !errors.Is(err, quote.ErrNotAtReview) {
		t.Fatalf("expected ErrNotAtReview, got %v", err)
	}
}

func TestQuoteSessionServiceExpiresIdleSessions(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	view, err := f.svc.CreateSession(ctx, CreateSessionCommand{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	f.clock.Advance(2 * time.Hour)
	if _, err := f.svc.GetSession(ctx, view.ID, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}
}

func TestQuoteSessionServiceEmailSavesFirst(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	view, _ := f.svc.CreateSession(ctx, CreateSessionCommand{})
	id := view.ID
	if _, err := f.svc.ToggleTreatment(ctx, id, "whitening"); err != nil {
		t.Fatalf("ToggleTreatment: %v", err)
	}
	if _, err := f.svc.UpdatePatient(ctx, id, testPatient); err != nil {
		t.Fatalf("UpdatePatient: %v", err)
	}

	view, err := f.svc.Email(ctx, id, "")
	if err != nil {
		t.Fatalf("Email: %v", err)
	}
	if view.Receipt == nil {
		t.Fatal("expected the quote to be saved before emailing")
	}
	stored, err := f.quotes.GetQuote(ctx, view.Receipt.ID)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if stored.Status != domain.QuoteStatusEmailed || stored.EmailedTo != testPatient.Email {
		t.Fatalf("expected emailed quote, got %+v", stored)
	}
}

func TestQuoteSessionServiceSubmitDropsStalePromo(t *testing.T) {
	f := newSessionFixture(t, domain.PromoCode{Code: "BIG100", Status: domain.PromoCodeActive, DiscountType: domain.DiscountFixed, DiscountValue: 10000, MinSubtotal: 100000})
	ctx := context.Background()

	view, err := f.svc.CreateSession(ctx, CreateSessionCommand{ClinicID: "clinic-1"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	id := view.ID
	for _, treatment := range []string{"implant", "crown"} {
		if _, err := f.svc.ToggleTreatment(ctx, id, treatment); err != nil {
			t.Fatalf("ToggleTreatment %s: %v", treatment, err)
		}
	}
	view, err = f.svc.ApplyPromoCode(ctx, id, "BIG100")
	if err != nil || view.Totals.Total != 95000 {
		t.Fatalf("expected BIG100 on 105000, got %+v (%v)", view.Totals, err)
	}
	view, err = f.svc.ToggleTreatment(ctx, id, "crown")
	if err != nil || view.Totals.Subtotal != 75000 || view.Selection.PromoCode() != "BIG100" {
		t.Fatalf("unexpected shrunk basket %+v (%v)", view.Totals, err)
	}

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Next(ctx, id); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if _, err := f.svc.UpdatePatient(ctx, id, testPatient); err != nil {
		t.Fatalf("UpdatePatient: %v", err)
	}
	if view, err = f.svc.Next(ctx, id); err != nil || view.Stage != quote.StageReview {
		t.Fatalf("expected review, got %s (%v)", view.Stage, err)
	}

	view, err = f.svc.Submit(ctx, id)
	if !errors.Is(err, ErrQuotePromoRejected) {
		t.Fatalf("expected the stale promo to be rejected, got %v", err)
	}
	if view.Stage != quote.StageReview || view.Selection.PromoCode() != "" || view.Totals.Total != 75000 {
		t.Fatalf("expected review without promo at 75000, got %s %q %+v", view.Stage, view.Selection.PromoCode(), view.Totals)
	}
	if view.Notice == "" {
		t.Fatal("expected a notice explaining the removed promo code")
	}

	view, err = f.svc.Submit(ctx, id)
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if view.Stage != quote.StageConfirmation || view.Receipt == nil {
		t.Fatalf("expected confirmation, got %+v", view.Record)
	}
	stored, err := f.quotes.GetQuote(ctx, view.Receipt.ID)
	if err != nil {
		t.Fatalf("GetQuote: %v", err)
	}
	if stored.PromoCode != "" || stored.Totals.Total != 75000 {
		t.Fatalf("unexpected stored quote %+v", stored.Totals)
	}
}
