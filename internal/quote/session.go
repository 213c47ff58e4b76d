package quote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/smilequote/api/internal/domain"
)

// Gateway persists finished quotes and sends them by email.
type Gateway interface {
	SubmitQuote(ctx context.Context, draft domain.Quote) (domain.QuoteReceipt, error)
	EmailQuote(ctx context.Context, quoteID, email string) error
}

// SessionDeps configures a Session.
type SessionDeps struct {
	ID        string
	ClinicID  string
	Currency  string
	Variant   string
	Validator PromoValidator
	// LocalPromoHeuristic enables HeuristicPercent when the validator fails.
	LocalPromoHeuristic bool
	Clock               func() time.Time
}

// Record is the persistable form of a session.
type Record struct {
	ID        string
	ClinicID  string
	Currency  string
	Variant   string
	Stage     Stage
	Selection Snapshot
	Patient   domain.PatientInfo
	Pending   *PendingSubstitution
	Receipt   *domain.QuoteReceipt
	CreatedAt time.Time
	UpdatedAt time.Time
}

// View is a consistent read of a session for rendering.
type View struct {
	Record
	Stages        []Stage
	Totals        domain.QuoteTotals
	PromoInFlight bool
	// StepQuery carries the current stage under StepParam.
	StepQuery     url.Values
	// Notice explains a change the session made on its own, such as a
	// promo code the gateway no longer accepts.
	Notice        string
}

// Session is one user's quote: selection, flow position, patient details
// and the totals derived from them. Totals are recomputed after every
// mutation. Methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	id        string
	clinicID  string
	currency  string
	variant   string
	validator PromoValidator
	heuristic bool
	clock     func() time.Time

	state   *State
	flow    *Flow
	patient domain.PatientInfo
	totals  domain.QuoteTotals
	pending *PendingSubstitution
	receipt *domain.QuoteReceipt
	notice  string

	promoInFlight  bool
	submitInFlight bool

	createdAt time.Time
	updatedAt time.Time
}

// NewSession starts an empty session at the first stage.
func NewSession(deps SessionDeps) (*Session, error) {
	if strings.TrimSpace(deps.ID) == "" {
		return nil, errors.New("quote: session id is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	variant := strings.ToLower(strings.TrimSpace(deps.Variant))
	if variant != VariantCharted {
		variant = VariantStandard
	}
	flow, err := NewFlow(StagesForVariant(variant))
	if err != nil {
		return nil, err
	}
	now := clock().UTC()
	s := &Session{
		id:        deps.ID,
		clinicID:  deps.ClinicID,
		currency:  strings.ToUpper(strings.TrimSpace(deps.Currency)),
		variant:   variant,
		validator: deps.Validator,
		heuristic: deps.LocalPromoHeuristic,
		clock:     func() time.Time { return clock().UTC() },
		state:     NewState(),
		flow:      flow,
		createdAt: now,
		updatedAt: now,
	}
	s.installGuards()
	s.recompute()
	return s, nil
}

// RestoreSession rebuilds a session from a persisted record.
func RestoreSession(deps SessionDeps, rec Record) (*Session, error) {
	deps.ID = rec.ID
	deps.ClinicID = rec.ClinicID
	deps.Currency = rec.Currency
	deps.Variant = rec.Variant
	s, err := NewSession(deps)
	if err != nil {
		return nil, err
	}
	state, err := FromSnapshot(rec.Selection)
	if err != nil {
		return nil, err
	}
	if state.promo != nil && state.promo.Pending {
		state.promo = nil
	}
	s.state = state
	s.patient = rec.Patient
	if rec.Pending != nil {
		pending := *rec.Pending
		s.pending = &pending
	}
	if rec.Receipt != nil {
		receipt := *rec.Receipt
		s.receipt = &receipt
	}
	s.recompute()
	if _, err := s.flow.Restore(string(rec.Stage)); err != nil && !errors.Is(err, ErrStageGuard) {
		return nil, err
	}
	if !rec.CreatedAt.IsZero() {
		s.createdAt = rec.CreatedAt
	}
	if !rec.UpdatedAt.IsZero() {
		s.updatedAt = rec.UpdatedAt
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// View returns a copy of the session state.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// Totals returns the current totals.
func (s *Session) Totals() domain.QuoteTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

// SelectTreatment toggles t, starting over when a package is active.
func (s *Session) SelectTreatment(t domain.Treatment) View {
	return s.mutate(func() { s.state.SelectTreatment(t) })
}

// UpdateQuantity changes a line quantity; zero removes the line.
func (s *Session) UpdateQuantity(treatmentID string, quantity int) View {
	return s.mutate(func() { s.state.UpdateQuantity(treatmentID, quantity) })
}

// SelectPackage toggles p.
func (s *Session) SelectPackage(p domain.Package) View {
	return s.mutate(func() { s.state.SelectPackage(p) })
}

// ApplyOffer toggles o.
func (s *Session) ApplyOffer(o domain.SpecialOffer) View {
	return s.mutate(func() { s.state.ApplyOffer(o) })
}

// ClearOffer removes the active offer.
func (s *Session) ClearOffer() View {
	return s.mutate(s.state.ClearOffer)
}

// ClearPromoCode removes the promo code and its discount.
func (s *Session) ClearPromoCode() View {
	return s.mutate(s.state.ClearPromoCode)
}

// Reset empties the session and returns it to the first stage. A new
// quote can be started after a confirmation.
func (s *Session) Reset() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Reset()
	s.patient = domain.PatientInfo{}
	s.pending = nil
	s.receipt = nil
	s.notice = ""
	s.flow.Reset()
	s.recompute()
	return s.viewLocked()
}

// SetPatient stores the contact details. Invalid details are stored too so
// the form can be re-rendered; the returned error lists the bad fields.
func (s *Session) SetPatient(p domain.PatientInfo) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	normalized := NormalizePatientInfo(p)
	if normalized != s.patient {
		s.dropReceipt()
	}
	s.patient = normalized
	s.touch()
	return s.viewLocked(), ValidatePatientInfo(s.patient)
}

// Next advances the flow when the current stage's guard passes.
func (s *Session) Next() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.flow.Next()
	s.touch()
	return s.viewLocked(), err
}

// Previous steps back one stage.
func (s *Session) Previous() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flow.Previous()
	s.touch()
	return s.viewLocked()
}

// RestoreStage applies an externally stored stage such as a URL param.
func (s *Session) RestoreStage(param string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.flow.Restore(param)
	s.touch()
	return s.viewLocked(), err
}

// ApplyPromoCode validates code and applies it. The selection is
// snapshotted and an optimistic marker set before the validator is called
// without holding the lock; on failure the snapshot is restored, unless the
// user changed the selection meanwhile, in which case only the marker is
// removed. A second attempt while one is pending fails with
// ErrPromoInFlight. Re-applying the active code toggles it off.
func (s *Session) ApplyPromoCode(ctx context.Context, code string) (PromoResult, error) {
	code = NormalizeCode(code)
	if code == "" {
		return PromoResult{}, fieldError("promoCode", "required")
	}

	s.mu.Lock()
	if s.promoInFlight {
		s.mu.Unlock()
		return PromoResult{}, ErrPromoInFlight
	}
	if current := s.state.promo; current != nil && !current.Pending && current.Code == code {
		s.state.ClearPromoCode()
		s.pending = nil
		s.notice = ""
		s.dropReceipt()
		s.recompute()
		s.mu.Unlock()
		return PromoResult{Outcome: PromoCleared, Code: code}, nil
	}
	snapshot := s.state.Snapshot()
	basket := BasketOf(snapshot, s.currency)
	s.pending = nil
	s.notice = ""
	s.state.setPromo(PromoRule{Code: code, Pending: true})
	optimistic := s.state.Version()
	s.promoInFlight = true
	s.recompute()
	validator := s.validator
	clinicID := s.clinicID
	s.mu.Unlock()

	var (
		validation domain.PromoValidation
		err        = errors.New("promo validator not configured")
	)
	if validator != nil {
		validation, err = validator.ValidatePromoCode(ctx, PromoRequest{Code: code, ClinicID: clinicID, Basket: basket})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoInFlight = false
	defer s.recompute()

	rollback := func() {
		if s.state.Version() == optimistic {
			s.state.Restore(snapshot)
			return
		}
		s.state.dropPendingPromo(code)
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			rollback()
			return PromoResult{}, ctxErr
		}
		if pct, ok := HeuristicPercent(code); ok && s.heuristic {
			s.dropReceipt()
			s.state.setPromo(PromoRule{
				Code:          code,
				DiscountType:  domain.DiscountPercentage,
				DiscountValue: pct,
				Source:        domain.PromoSourceLocalHeuristic,
			})
			return PromoResult{
				Outcome: PromoApplied,
				Code:    code,
				Source:  domain.PromoSourceLocalHeuristic,
				Message: fmt.Sprintf("%d%% discount applied offline; it will be confirmed when the quote is submitted", pct),
			}, nil
		}
		rollback()
		return PromoResult{}, fmt.Errorf("%w: %w", ErrPromoUnavailable, err)
	}

	if !validation.Valid {
		rollback()
		return PromoResult{Outcome: PromoRejected, Code: code, Message: validation.Message, Source: domain.PromoSourceServer}, nil
	}

	if validation.Package != nil {
		rollback()
		pkg := clonePackage(*validation.Package)
		percent := validation.Package.DiscountPercent
		if validation.DiscountType == domain.DiscountPercentage && validation.DiscountValue > 0 {
			percent = validation.DiscountValue
		}
		if s.state.IsEmpty() {
			s.dropReceipt()
			s.state.substitute(pkg, PromoRule{Code: code, Source: domain.PromoSourceServer, DisplayPercent: percent})
			return PromoResult{Outcome: PromoApplied, Code: code, Message: validation.Message, Source: domain.PromoSourceServer, Substituted: true, Package: &pkg}, nil
		}
		s.pending = &PendingSubstitution{Code: code, Package: pkg, DisplayPercent: percent, Message: validation.Message}
		return PromoResult{Outcome: PromoNeedsConfirmation, Code: code, Message: validation.Message, Source: domain.PromoSourceServer, Package: &pkg}, nil
	}

	rule, ok := ruleFromValidation(code, validation)
	if !ok {
		rollback()
		return PromoResult{Outcome: PromoRejected, Code: code, Message: "promo code carries no discount", Source: domain.PromoSourceServer}, nil
	}
	s.dropReceipt()
	s.state.setPromo(rule)
	return PromoResult{Outcome: PromoApplied, Code: code, Message: validation.Message, Source: rule.Source}, nil
}

// ConfirmSubstitution replaces the selection with the pending package.
func (s *Session) ConfirmSubstitution() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return s.viewLocked(), ErrNoPendingSubstitution
	}
	p := s.pending
	s.pending = nil
	s.dropReceipt()
	s.state.substitute(p.Package, PromoRule{Code: p.Code, Source: domain.PromoSourceServer, DisplayPercent: p.DisplayPercent})
	s.recompute()
	return s.viewLocked(), nil
}

// DeclineSubstitution drops the pending package and keeps the selection.
func (s *Session) DeclineSubstitution() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return s.viewLocked(), ErrNoPendingSubstitution
	}
	s.pending = nil
	s.touch()
	return s.viewLocked(), nil
}

// ApplyPending applies a hand-off received from another page. Packages and
// offers are selected (never toggled off); promo codes go through
// ApplyPromoCode.
func (s *Session) ApplyPending(ctx context.Context, sel domain.PendingSelection, catalog domain.Catalog) (PromoResult, error) {
	switch sel.Kind {
	case domain.PendingPackage:
		pkg, ok := catalog.Package(sel.Payload)
		if !ok {
			return PromoResult{}, fmt.Errorf("%w: package %s", ErrPendingNotFound, sel.Payload)
		}
		s.mutate(func() {
			if s.state.pkg == nil || s.state.pkg.ID != pkg.ID {
				s.state.SelectPackage(pkg)
			}
		})
		return PromoResult{}, nil
	case domain.PendingOffer:
		offer, ok := catalog.Offer(sel.Payload)
		if !ok {
			return PromoResult{}, fmt.Errorf("%w: offer %s", ErrPendingNotFound, sel.Payload)
		}
		s.mutate(func() {
			if s.state.offer == nil || s.state.offer.ID != offer.ID {
				s.state.ApplyOffer(offer)
			}
		})
		return PromoResult{}, nil
	case domain.PendingPromoCode:
		return s.ApplyPromoCode(ctx, sel.Payload)
	default:
		return PromoResult{}, fieldError("kind", "unknown hand-off kind")
	}
}

// Draft assembles the quote that would be submitted now.
func (s *Session) Draft() domain.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draftLocked()
}

// Submit hands the quote to gw. It is the only way past the review stage:
// success records the receipt and moves to confirmation, failure leaves
// the session on review.
func (s *Session) Submit(ctx context.Context, gw Gateway) (domain.QuoteReceipt, error) {
	s.mu.Lock()
	if s.flow.Current() != StageReview {
		s.mu.Unlock()
		return domain.QuoteReceipt{}, ErrNotAtReview
	}
	if err := ValidatePatientInfo(s.patient); err != nil {
		s.mu.Unlock()
		return domain.QuoteReceipt{}, err
	}
	saved := s.receipt
	s.mu.Unlock()

	var receipt domain.QuoteReceipt
	if saved != nil {
		receipt = *saved
	} else {
		var err error
		if receipt, err = s.save(ctx, gw); err != nil {
			return domain.QuoteReceipt{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flow.Current() == StageReview {
		_, _ = s.flow.Next()
	}
	s.touch()
	return receipt, nil
}

// EmailQuote emails the quote to email, or to the patient's address when
// email is empty. A quote that was never saved is submitted first.
func (s *Session) EmailQuote(ctx context.Context, gw Gateway, email string) (domain.QuoteReceipt, error) {
	s.mu.Lock()
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		email = s.patient.Email
	}
	receipt := s.receipt
	s.mu.Unlock()

	if !ValidEmail(email) {
		return domain.QuoteReceipt{}, fieldError("email", "invalid email address")
	}

	if receipt == nil {
		saved, err := s.save(ctx, gw)
		if err != nil {
			return domain.QuoteReceipt{}, err
		}
		receipt = &saved
	}
	if err := gw.EmailQuote(ctx, receipt.ID, email); err != nil {
		return *receipt, fmt.Errorf("%w: %w", ErrEmailFailed, err)
	}
	return *receipt, nil
}

func (s *Session) save(ctx context.Context, gw Gateway) (domain.QuoteReceipt, error) {
	s.mu.Lock()
	if s.submitInFlight {
		s.mu.Unlock()
		return domain.QuoteReceipt{}, ErrSubmissionInFlight
	}
	if s.state.IsEmpty() {
		s.mu.Unlock()
		return domain.QuoteReceipt{}, ErrEmptySelection
	}
	draft := s.draftLocked()
	s.submitInFlight = true
	s.mu.Unlock()

	receipt, err := gw.SubmitQuote(ctx, draft)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitInFlight = false
	if err != nil {
		var revoked *PromoRevokedError
		if errors.As(err, &revoked) {
			s.revokePromo(revoked)
		}
		return domain.QuoteReceipt{}, fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
	}
	s.receipt = &receipt
	s.notice = ""
	s.touch()
	return receipt, nil
}

func (s *Session) installGuards() {
	for _, stage := range s.flow.Stages() {
		switch {
		case IsSelectionStage(stage):
			s.flow.SetGuard(stage, func() error {
				if s.state.IsEmpty() {
					return ErrEmptySelection
				}
				return nil
			})
		case stage == StagePatientInfo:
			s.flow.SetGuard(stage, func() error { return ValidatePatientInfo(s.patient) })
		case stage == StageReview:
			s.flow.SetGuard(stage, func() error {
				if s.receipt == nil {
					return ErrSubmitRequired
				}
				return nil
			})
		}
	}
}

// mutate applies a selection change. Any change invalidates a pending
// substitution decision and a previously saved quote.
func (s *Session) mutate(fn func()) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.state.Version()
	fn()
	if s.state.Version() != before {
		s.pending = nil
		s.notice = ""
		s.dropReceipt()
	}
	s.recompute()
	return s.viewLocked()
}

// dropReceipt forgets the saved quote after a change. A confirmation
// without a receipt steps back to review.
func (s *Session) dropReceipt() {
	s.receipt = nil
	if s.flow.Current() == StageConfirmation {
		s.flow.Previous()
	}
}

// revokePromo removes a promo code the gateway refused so the totals show
// the price the quote would be saved at. The session stays on its stage.
func (s *Session) revokePromo(revoked *PromoRevokedError) {
	rule := s.state.promo
	if rule == nil || rule.Pending || rule.Code != revoked.Code {
		return
	}
	s.state.ClearPromoCode()
	s.pending = nil
	s.notice = fmt.Sprintf("Promo code %s was removed", revoked.Code)
	if revoked.Reason != "" {
		s.notice += ": " + revoked.Reason
	}
	s.recompute()
}

func (s *Session) recompute() {
	s.totals = Calculate(s.state.Snapshot(), s.currency)
	s.touch()
}

func (s *Session) touch() {
	s.updatedAt = s.clock()
}

func (s *Session) draftLocked() domain.Quote {
	snap := s.state.Snapshot()
	draft := domain.Quote{
		SessionID:  s.id,
		ClinicID:   s.clinicID,
		Currency:   s.currency,
		Treatments: snap.Treatments,
		Package:    snap.Package,
		Offer:      snap.Offer,
		Patient:    s.patient,
		Totals:     Calculate(snap, s.currency),
	}
	if snap.Promo != nil && !snap.Promo.Pending {
		draft.PromoCode = snap.Promo.Code
		draft.PromoSource = snap.Promo.Source
	}
	return draft
}

func (s *Session) viewLocked() View {
	v := View{
		Record: Record{
			ID:        s.id,
			ClinicID:  s.clinicID,
			Currency:  s.currency,
			Variant:   s.variant,
			Stage:     s.flow.Current(),
			Selection: s.state.Snapshot(),
			Patient:   s.patient,
			CreatedAt: s.createdAt,
			UpdatedAt: s.updatedAt,
		},
		Stages:        s.flow.Stages(),
		Totals:        s.totals,
		PromoInFlight: s.promoInFlight,
		Notice:        s.notice,
		StepQuery:     url.Values{},
	}
	s.flow.Encode(v.StepQuery)
	if s.pending != nil {
		pending := *s.pending
		pending.Package = clonePackage(pending.Package)
		v.Pending = &pending
	}
	if s.receipt != nil {
		receipt := *s.receipt
		v.Receipt = &receipt
	}
	v.Totals.Discounts = append([]domain.DiscountBreakdown(nil), s.totals.Discounts...)
	return v
}
