package handlers

import (
	"net/http"
	"strings"
	"testing"

	"github.com/smilequote/api/internal/quote"
)

func createSession(t *testing.T, api testAPI, body string) sessionResponse {
	t.Helper()
	rr := api.do(t, http.MethodPost, "/api/v1/sessions", body)
	expectStatus(t, rr, http.StatusCreated)
	return decodeBody[sessionResponse](t, rr)
}

func TestSessionHandlersFullFlow(t *testing.T) {
	api := newTestAPI(t)

	session := createSession(t, api, `{"clinicId":"clinic-1"}`)
	if session.ID != "session-1" || session.Step != string(quote.StageTreatmentSelection) || session.StepIndex != 0 || len(session.Steps) != 5 {
		t.Fatalf("unexpected new session %+v", session)
	}
	base := "/api/v1/sessions/" + session.ID

	rr := api.do(t, http.MethodPost, base+":next", "")
	expectStatus(t, rr, http.StatusUnprocessableEntity)
	blocked := decodeBody[errorBody](t, rr)
	if blocked.Error != "stage_guard_failed" || blocked.Reason != "empty_selection" || blocked.Session == nil {
		t.Fatalf("expected guard failure with session, got %+v", blocked)
	}

	rr = api.do(t, http.MethodPost, base+"/treatments/crown:toggle", "")
	expectStatus(t, rr, http.StatusOK)
	rr = api.do(t, http.MethodPut, base+"/treatments/crown", `{"quantity":2}`)
	expectStatus(t, rr, http.StatusOK)
	if got := decodeBody[sessionResponse](t, rr); got.Totals.Subtotal != 60000 {
		t.Fatalf("expected subtotal 60000, got %d", got.Totals.Subtotal)
	}

	rr = api.do(t, http.MethodPost, base+"/promo-code", `{"code":"save10"}`)
	expectStatus(t, rr, http.StatusOK)
	promo := decodeBody[sessionResponse](t, rr)
	if promo.Promo == nil || promo.Promo.Outcome != string(quote.PromoApplied) || promo.Totals.PromoDiscount != 6000 {
		t.Fatalf("unexpected promo response %+v", promo.Promo)
	}
	if promo.Selection.Promo == nil || promo.Selection.Promo.Code != "SAVE10" {
		t.Fatalf("expected bound promo rule, got %+v", promo.Selection.Promo)
	}

	for _, want := range []quote.Stage{quote.StagePromoOffer, quote.StagePatientInfo} {
		rr = api.do(t, http.MethodPost, base+":next", "")
		expectStatus(t, rr, http.StatusOK)
		if got := decodeBody[sessionResponse](t, rr); got.Step != string(want) {
			t.Fatalf("expected %s, got %s", want, got.Step)
		}
	}
	if loc := rr.Header().Get("Content-Location"); loc != base+"?step=patient-info" {
		t.Fatalf("unexpected content location %q", loc)
	}

	rr = api.do(t, http.MethodPut, base+"/patient", `{"name":"Ana"}`)
	expectStatus(t, rr, http.StatusBadRequest)
	invalid := decodeBody[errorBody](t, rr)
	if invalid.Fields["email"] == "" || invalid.Session == nil || invalid.Session.Patient.Name != "Ana" {
		t.Fatalf("expected field errors with the stored form, got %+v", invalid)
	}

	rr = api.do(t, http.MethodPut, base+"/patient", testPatientJSON)
	expectStatus(t, rr, http.StatusOK)

	rr = api.do(t, http.MethodPost, base+":next", "")
	expectStatus(t, rr, http.StatusOK)
	rr = api.do(t, http.MethodPost, base+":next", "")
	expectStatus(t, rr, http.StatusUnprocessableEntity)
	if body := decodeBody[errorBody](t, rr); body.Reason != "submit_required" || body.Stage != string(quote.StageReview) {
		t.Fatalf("expected submit_required at review, got %+v", body)
	}

	rr = api.do(t, http.MethodPost, base+":submit", "")
	expectStatus(t, rr, http.StatusOK)
	done := decodeBody[sessionResponse](t, rr)
	if done.Step != string(quote.StageConfirmation) || done.Receipt == nil {
		t.Fatalf("expected confirmation with receipt, got %+v", done)
	}

	rr = api.do(t, http.MethodGet, "/api/v1/quotes/"+done.Receipt.ID, "")
	expectStatus(t, rr, http.StatusOK)
	if stored := decodeBody[quotePayload](t, rr); stored.Totals.Total != 54000 || stored.SessionID != session.ID {
		t.Fatalf("unexpected stored quote %+v", stored)
	}

	rr = api.do(t, http.MethodPost, base+":email", "")
	expectStatus(t, rr, http.StatusOK)
	if api.publisher.count() != 1 {
		t.Fatalf("expected the quote to be emailed to the patient, got %d messages", api.publisher.count())
	}

	rr = api.do(t, http.MethodPost, base+":reset", "")
	expectStatus(t, rr, http.StatusOK)
	if reset := decodeBody[sessionResponse](t, rr); reset.Step != string(quote.StageTreatmentSelection) || !reset.Totals.Empty || reset.Receipt != nil {
		t.Fatalf("expected a fresh session, got %+v", reset)
	}
}

func TestSessionHandlersSubmitOutsideReview(t *testing.T) {
	api := newTestAPI(t)
	session := createSession(t, api, `{}`)

	rr := api.do(t, http.MethodPost, "/api/v1/sessions/"+session.ID+":submit", "")
	expectStatus(t, rr, http.StatusConflict)
	if body := decodeBody[errorBody](t, rr); body.Error != "not_at_review" {
		t.Fatalf("expected not_at_review, got %+v", body)
	}
}

func TestSessionHandlersPackageSubstitution(t *testing.T) {
	api := newTestAPI(t)
	session := createSession(t, api, `{"clinicId":"clinic-1"}`)
	base := "/api/v1/sessions/" + session.ID

	expectStatus(t, api.do(t, http.MethodPost, base+"/treatments/implant:toggle", ""), http.StatusOK)

	rr := api.do(t, http.MethodPost, base+"/promo-code", `{"code":"makeover"}`)
	expectStatus(t, rr, http.StatusOK)
	pending := decodeBody[sessionResponse](t, rr)
	if pending.Promo == nil || pending.Promo.Outcome != string(quote.PromoNeedsConfirmation) || pending.PendingSubstitution == nil {
		t.Fatalf("expected a pending substitution, got %+v", pending)
	}
	if len(pending.Selection.Treatments) != 1 {
		t.Fatal("selection must be untouched until the user decides")
	}

	rr = api.do(t, http.MethodPost, base+"/promo-code:confirm", "")
	expectStatus(t, rr, http.StatusOK)
	confirmed := decodeBody[sessionResponse](t, rr)
	if confirmed.Selection.Package == nil || confirmed.Selection.Package.ID != "smile" || len(confirmed.Selection.Treatments) != 0 {
		t.Fatalf("expected the package to replace the selection, got %+v", confirmed.Selection)
	}
	if confirmed.PendingSubstitution != nil {
		t.Fatal("pending substitution should be cleared")
	}

	rr = api.do(t, http.MethodPost, base+"/promo-code:decline", "")
	expectStatus(t, rr, http.StatusConflict)

	rr = api.do(t, http.MethodDelete, base+"/promo-code", "")
	expectStatus(t, rr, http.StatusOK)
	if cleared := decodeBody[sessionResponse](t, rr); cleared.Selection.Promo != nil {
		t.Fatalf("expected promo to be cleared, got %+v", cleared.Selection.Promo)
	}
}

func TestSessionHandlersToggleOffersAndPackages(t *testing.T) {
	api := newTestAPI(t)
	session := createSession(t, api, `{}`)
	base := "/api/v1/sessions/" + session.ID

	expectStatus(t, api.do(t, http.MethodPost, base+"/packages/smile:toggle", ""), http.StatusOK)
	rr := api.do(t, http.MethodPost, base+"/offers/ten:toggle", "")
	expectStatus(t, rr, http.StatusOK)
	got := decodeBody[sessionResponse](t, rr)
	if got.Selection.Package == nil || got.Selection.Offer == nil || got.Totals.Total != 90000 {
		t.Fatalf("unexpected selection %+v totals %+v", got.Selection, got.Totals)
	}

	rr = api.do(t, http.MethodDelete, base+"/offer", "")
	expectStatus(t, rr, http.StatusOK)
	if got := decodeBody[sessionResponse](t, rr); got.Selection.Offer != nil {
		t.Fatal("expected offer to be cleared")
	}

	rr = api.do(t, http.MethodPost, base+"/offers/unknown:toggle", "")
	expectStatus(t, rr, http.StatusNotFound)
	if body := decodeBody[errorBody](t, rr); body.Error != "catalog_item_not_found" {
		t.Fatalf("expected catalog_item_not_found, got %+v", body)
	}

	rr = api.do(t, http.MethodPut, base+"/treatments/crown", `{}`)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestSessionHandlersStepQuery(t *testing.T) {
	api := newTestAPI(t)
	session := createSession(t, api, `{"step":"review"}`)
	if session.Step != string(quote.StageTreatmentSelection) {
		t.Fatalf("guards must hold the first step, got %s", session.Step)
	}
	base := "/api/v1/sessions/" + session.ID

	expectStatus(t, api.do(t, http.MethodPost, base+"/treatments/crown:toggle", ""), http.StatusOK)
	rr := api.do(t, http.MethodGet, base+"?step=patient-info", "")
	expectStatus(t, rr, http.StatusOK)
	if got := decodeBody[sessionResponse](t, rr); got.Step != string(quote.StagePatientInfo) {
		t.Fatalf("expected patient-info, got %s", got.Step)
	}

	rr = api.do(t, http.MethodPost, base+":previous", "")
	expectStatus(t, rr, http.StatusOK)
	if got := decodeBody[sessionResponse](t, rr); got.Step != string(quote.StagePromoOffer) {
		t.Fatalf("expected promo-offer, got %s", got.Step)
	}

	rr = api.do(t, http.MethodGet, base+"?step=bogus", "")
	expectStatus(t, rr, http.StatusBadRequest)
	if body := decodeBody[errorBody](t, rr); body.Error != "unknown_stage" {
		t.Fatalf("expected unknown_stage, got %+v", body)
	}

	rr = api.do(t, http.MethodGet, "/api/v1/sessions/nope", "")
	expectStatus(t, rr, http.StatusNotFound)
}

func TestHandoffHandlersCreateAndConsume(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodPost, "/api/v1/handoffs", `{"clinicId":"clinic-1","kind":"package","payload":"smile"}`)
	expectStatus(t, rr, http.StatusCreated)
	handoff := decodeBody[handoffResponse](t, rr)
	if handoff.Token != "token-1" || handoff.Kind != "package" || handoff.ExpiresAt == "" {
		t.Fatalf("unexpected hand-off %+v", handoff)
	}

	session := createSession(t, api, `{"clinicId":"clinic-1","handoff":"token-1"}`)
	if session.Selection.Package == nil || session.Selection.Package.ID != "smile" {
		t.Fatalf("expected the package to be applied, got %+v", session.Selection)
	}

	again := createSession(t, api, `{"clinicId":"clinic-1","handoff":"token-1"}`)
	if again.Selection.Package != nil || len(again.Notices) != 1 || !strings.Contains(again.Notices[0], "expired") {
		t.Fatalf("a consumed token must only leave a notice, got %+v", again)
	}
}

func TestHandoffHandlersValidate(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodPost, "/api/v1/handoffs", `{"kind":"coupon","payload":""}`)
	expectStatus(t, rr, http.StatusBadRequest)
	body := decodeBody[errorBody](t, rr)
	if body.Fields["kind"] == "" || body.Fields["payload"] == "" {
		t.Fatalf("expected kind and payload errors, got %+v", body)
	}

	rr = api.do(t, http.MethodPost, "/api/v1/handoffs", `{"kind":"package","payload":"missing"}`)
	expectStatus(t, rr, http.StatusUnprocessableEntity)
	if body := decodeBody[errorBody](t, rr); body.Error != "handoff_invalid" {
		t.Fatalf("expected handoff_invalid, got %+v", body)
	}
}

func TestSessionHandlersSubmitReplaysWithIdempotencyKey(t *testing.T) {
	api := newTestAPI(t)
	session := createSession(t, api, `{"clinicId":"clinic-1"}`)
	base := "/api/v1/sessions/" + session.ID

	expectStatus(t, api.do(t, http.MethodPost, base+"/treatments/crown:toggle", ""), http.StatusOK)
	expectStatus(t, api.do(t, http.MethodPost, base+":next", ""), http.StatusOK)
	expectStatus(t, api.do(t, http.MethodPost, base+":next", ""), http.StatusOK)
	expectStatus(t, api.do(t, http.MethodPut, base+"/patient", testPatientJSON), http.StatusOK)
	expectStatus(t, api.do(t, http.MethodPost, base+":next", ""), http.StatusOK)

	first := api.do(t, http.MethodPost, base+":submit", "", "Idempotency-Key", "tap-1")
	expectStatus(t, first, http.StatusOK)
	retry := api.do(t, http.MethodPost, base+":submit", "", "Idempotency-Key", "tap-1")
	expectStatus(t, retry, http.StatusOK)

	if retry.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatal("expected the retry to be served from the idempotency store")
	}
	a := decodeBody[sessionResponse](t, first)
	b := decodeBody[sessionResponse](t, retry)
	if a.Receipt == nil || b.Receipt == nil || a.Receipt.ID != b.Receipt.ID {
		t.Fatalf("expected the same receipt, got %+v and %+v", a.Receipt, b.Receipt)
	}
}
