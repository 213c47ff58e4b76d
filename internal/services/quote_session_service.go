package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/quote"
	"github.com/smilequote/api/internal/repositories"
)

const (
	sessionEventPersistFailed = "quote.session.persist_failed"
	sessionEventHandoff       = "quote.session.handoff_applied"

	defaultSessionTTL = 2 * time.Hour
	defaultHandoffTTL = 30 * time.Minute
)

// QuoteSessionServiceDeps bundles dependencies required to construct a QuoteSessionService.
type QuoteSessionServiceDeps struct {
	Sessions  repositories.QuoteSessionRepository
	Handoffs  repositories.HandoffRepository
	Catalog   CatalogService
	Validator quote.PromoValidator
	Gateway   quote.Gateway

	DefaultCurrency     string
	DefaultVariant      string
	LocalPromoHeuristic bool
	SessionTTL          time.Duration
	HandoffTTL          time.Duration

	IDGenerator    func() string
	TokenGenerator func() string
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type quoteSessionService struct {
	repo      repositories.QuoteSessionRepository
	handoffs  repositories.HandoffRepository
	catalog   CatalogService
	validator quote.PromoValidator
	gateway   quote.Gateway

	currency   string
	variant    string
	heuristic  bool
	sessionTTL time.Duration
	handoffTTL time.Duration

	newID    func() string
	newToken func() string
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)

	mu   sync.Mutex
	live map[string]*liveSession
}

// liveSession keeps the engine instance between requests so in-flight
// guards survive across calls.
type liveSession struct {
	session *quote.Session
	seen    time.Time
}

var _ QuoteSessionService = (*quoteSessionService)(nil)

// NewQuoteSessionService wires the session host.
func NewQuoteSessionService(deps QuoteSessionServiceDeps) (QuoteSessionService, error) {
	if deps.Sessions == nil {
		return nil, ErrSessionRepositoryMissing
	}
	if deps.Catalog == nil {
		return nil, errors.New("quote session service: catalog service is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("quote session service: gateway is required")
	}
	currency, err := normalizeCurrency(deps.DefaultCurrency, "USD")
	if err != nil {
		return nil, fmt.Errorf("quote session service: default currency: %w", err)
	}
	sessionTTL := deps.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	handoffTTL := deps.HandoffTTL
	if handoffTTL <= 0 {
		handoffTTL = defaultHandoffTTL
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	newToken := deps.TokenGenerator
	if newToken == nil {
		newToken = func() string { return ulid.Make().String() }
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &quoteSessionService{
		repo:       deps.Sessions,
		handoffs:   deps.Handoffs,
		catalog:    deps.Catalog,
		validator:  deps.Validator,
		gateway:    deps.Gateway,
		currency:   currency,
		variant:    strings.TrimSpace(deps.DefaultVariant),
		heuristic:  deps.LocalPromoHeuristic,
		sessionTTL: sessionTTL,
		handoffTTL: handoffTTL,
		newID:      newID,
		newToken:   newToken,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		live:   make(map[string]*liveSession),
	}, nil
}

// CreateSession starts a session, optionally consuming a hand-off token
// and restoring a stage passed in the page URL.
func (s *quoteSessionService) CreateSession(ctx context.Context, cmd CreateSessionCommand) (SessionView, error) {
	currency, err := normalizeCurrency(cmd.Currency, s.currency)
	if err != nil {
		return SessionView{}, &quote.ValidationError{Fields: map[string]string{"currency": "unsupported currency"}}
	}
	variant := strings.TrimSpace(cmd.Variant)
	if variant == "" {
		variant = s.variant
	}
	session, err := quote.NewSession(s.sessionDeps(quote.SessionDeps{
		ID:       s.newID(),
		ClinicID: strings.TrimSpace(cmd.ClinicID),
		Currency: currency,
		Variant:  variant,
	}))
	if err != nil {
		return SessionView{}, err
	}

	view := SessionView{}
	if token := strings.TrimSpace(cmd.HandoffToken); token != "" {
		result, notice, err := s.applyHandoff(ctx, session, token)
		switch {
		case errors.Is(err, ErrHandoffNotFound):
			notice = "the link has expired or was already used"
		case err != nil:
			return SessionView{}, err
		}
		view.Promo = result
		if notice != "" {
			view.Notices = append(view.Notices, notice)
		}
	}
	if step := strings.TrimSpace(cmd.Step); step != "" {
		if _, err := session.RestoreStage(step); err != nil && !errors.Is(err, quote.ErrStageGuard) {
			view.Notices = append(view.Notices, fmt.Sprintf("unknown step %q ignored", step))
		}
	}

	s.remember(session)
	s.persist(ctx, session)
	view.View = session.View()
	return view, nil
}

// GetSession loads a session. A non-empty step is applied first so a
// browser navigation is reflected back into the flow; a step blocked by a
// guard lands on the blocking stage instead.
func (s *quoteSessionService) GetSession(ctx context.Context, sessionID, step string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	step = strings.TrimSpace(step)
	if step == "" || step == string(session.View().Stage) {
		return SessionView{View: session.View()}, nil
	}
	view, err := session.RestoreStage(step)
	s.persist(ctx, session)
	if err != nil && !errors.Is(err, quote.ErrStageGuard) {
		return SessionView{}, err
	}
	return SessionView{View: view}, nil
}

func (s *quoteSessionService) ToggleTreatment(ctx context.Context, sessionID, treatmentID string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	t, err := s.catalog.FindTreatment(ctx, s.query(session), treatmentID)
	if err != nil {
		return SessionView{}, err
	}
	return s.done(ctx, session, session.SelectTreatment(t))
}

func (s *quoteSessionService) UpdateQuantity(ctx context.Context, sessionID, treatmentID string, quantity int) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return s.done(ctx, session, session.UpdateQuantity(strings.TrimSpace(treatmentID), quantity))
}

func (s *quoteSessionService) TogglePackage(ctx context.Context, sessionID, packageID string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	p, err := s.catalog.FindPackage(ctx, s.query(session), packageID)
	if err != nil {
		return SessionView{}, err
	}
	return s.done(ctx, session, session.SelectPackage(p))
}

func (s *quoteSessionService) ToggleOffer(ctx context.Context, sessionID, offerID string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	o, err := s.catalog.FindOffer(ctx, s.query(session), offerID)
	if err != nil {
		return SessionView{}, err
	}
	return s.done(ctx, session, session.ApplyOffer(o))
}

func (s *quoteSessionService) ClearOffer(ctx context.Context, sessionID string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return s.done(ctx, session, session.ClearOffer())
}

// ApplyPromoCode runs the engine's promo flow. A rejected code is not an
// error; the outcome is reported in SessionView.Promo.
func (s *quoteSessionService) ApplyPromoCode(ctx context.Context, sessionID, code string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	result, err := session.ApplyPromoCode(ctx, code)
	if err != nil {
		return SessionView{}, err
	}
	s.persist(ctx, session)
	return SessionView{View: session.View(), Promo: &result}, nil
}

func (s *quoteSessionService) ConfirmSubstitution(ctx context.Context, sessionID string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	view, err := session.ConfirmSubstitution()
	if err != nil {
		return SessionView{}, err
	}
	return s.done(ctx, session, view)
}

func (s *quoteSessionService) DeclineSubstitution(ctx context.Context, sessionID string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	view, err := session.DeclineSubstitution()
	if err != nil {
		return SessionView{}, err
	}
	return s.done(ctx, session, view)
}

func (s *quoteSessionService) ClearPromoCode(ctx context.Context, sessionID string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return s.done(ctx, session, session.ClearPromoCode())
}

// UpdatePatient stores the details even when invalid so the form can be
// re-rendered; the validation error is returned alongside the view.
func (s *quoteSessionService) UpdatePatient(ctx context.Context, sessionID string, info domain.PatientInfo) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	view, verr := session.SetPatient(info)
	s.persist(ctx, session)
	return SessionView{View: view}, verr
}

// Next returns the view together with a guard error so callers can show
// why the flow did not advance.
func (s *quoteSessionService) Next(ctx context.Context, sessionID string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	view, gerr := session.Next()
	s.persist(ctx, session)
	return SessionView{View: view}, gerr
}

func (s *quoteSessionService) Previous(ctx context.Context, sessionID string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return s.done(ctx, session, session.Previous())
}

func (s *quoteSessionService) Reset(ctx context.Context, sessionID string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return s.done(ctx, session, session.Reset())
}

// Submit sends the quote through the gateway. On failure the session
// stays on review and the error is returned with the view.
func (s *quoteSessionService) Submit(ctx context.Context, sessionID string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	_, serr := session.Submit(ctx, s.gateway)
	s.persist(ctx, session)
	return SessionView{View: session.View()}, serr
}

func (s *quoteSessionService) Email(ctx context.Context, sessionID, email string) (SessionView, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	_, eerr := session.EmailQuote(ctx, s.gateway, email)
	s.persist(ctx, session)
	return SessionView{View: session.View()}, eerr
}

// CreateHandoff stores a selection decision under a new single-use token.
// Package and offer payloads must exist in the clinic's catalog.
func (s *quoteSessionService) CreateHandoff(ctx context.Context, cmd CreateHandoffCommand) (PendingSelection, error) {
	if s.handoffs == nil {
		return PendingSelection{}, fmt.Errorf("%w: hand-offs are not configured", ErrHandoffInvalid)
	}
	payload := strings.TrimSpace(cmd.Payload)
	if !cmd.Kind.Valid() {
		return PendingSelection{}, &quote.ValidationError{Fields: map[string]string{"kind": "must be package, promo-code or offer"}}
	}
	if payload == "" {
		return PendingSelection{}, &quote.ValidationError{Fields: map[string]string{"payload": "required"}}
	}
	query := CatalogQuery{ClinicID: strings.TrimSpace(cmd.ClinicID)}
	switch cmd.Kind {
	case domain.PendingPackage:
		if _, err := s.catalog.FindPackage(ctx, query, payload); err != nil {
			return PendingSelection{}, s.handoffTargetError(err)
		}
	case domain.PendingOffer:
		if _, err := s.catalog.FindOffer(ctx, query, payload); err != nil {
			return PendingSelection{}, s.handoffTargetError(err)
		}
	case domain.PendingPromoCode:
		payload = quote.NormalizeCode(payload)
	}

	now := s.clock()
	sel := PendingSelection{
		Token:     s.newToken(),
		Kind:      cmd.Kind,
		Payload:   payload,
		ClinicID:  query.ClinicID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.handoffTTL),
	}
	if err := s.handoffs.Put(ctx, sel); err != nil {
		if repositories.IsUnavailable(err) {
			return PendingSelection{}, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
		}
		return PendingSelection{}, err
	}
	return sel, nil
}

func (s *quoteSessionService) handoffTargetError(err error) error {
	if errors.Is(err, ErrCatalogItemNotFound) {
		return fmt.Errorf("%w: %w", ErrHandoffInvalid, err)
	}
	return err
}

func (s *quoteSessionService) applyHandoff(ctx context.Context, session *quote.Session, token string) (*PromoResult, string, error) {
	if s.handoffs == nil {
		return nil, "", ErrHandoffNotFound
	}
	sel, err := s.handoffs.Take(ctx, token)
	if err != nil {
		switch {
		case repositories.IsNotFound(err):
			return nil, "", ErrHandoffNotFound
		case repositories.IsUnavailable(err):
			return nil, "", fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
		}
		return nil, "", err
	}
	view := session.View()
	if sel.ClinicID != "" && view.ClinicID != "" && sel.ClinicID != view.ClinicID {
		return nil, "", fmt.Errorf("%w: token belongs to another clinic", ErrHandoffInvalid)
	}

	catalog, err := s.catalog.GetCatalog(ctx, s.query(session))
	if err != nil && !errors.Is(err, ErrCatalogEmpty) {
		return nil, "", err
	}
	result, err := session.ApplyPending(ctx, sel, catalog)
	s.logger(ctx, sessionEventHandoff, map[string]any{
		"sessionId": session.ID(),
		"kind":      string(sel.Kind),
		"ok":        err == nil,
	})
	if err != nil {
		// The token is spent either way; a stale target is reported but
		// does not block the session.
		if errors.Is(err, quote.ErrPendingNotFound) || errors.Is(err, quote.ErrPromoUnavailable) {
			return nil, "selection from the previous page is no longer available", nil
		}
		return nil, "", err
	}
	if sel.Kind == domain.PendingPromoCode {
		return &result, "", nil
	}
	return nil, "", nil
}

func (s *quoteSessionService) sessionDeps(deps quote.SessionDeps) quote.SessionDeps {
	deps.Validator = s.validator
	deps.LocalPromoHeuristic = s.heuristic
	deps.Clock = s.clock
	return deps
}

func (s *quoteSessionService) query(session *quote.Session) CatalogQuery {
	return CatalogQuery{ClinicID: session.View().ClinicID}
}

func (s *quoteSessionService) done(ctx context.Context, session *quote.Session, view quote.View) (SessionView, error) {
	s.persist(ctx, session)
	return SessionView{View: view}, nil
}

// load returns the live session or rebuilds it from storage.
func (s *quoteSessionService) load(ctx context.Context, sessionID string) (*quote.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	now := s.clock()

	s.mu.Lock()
	if entry, ok := s.live[sessionID]; ok {
		if now.Sub(entry.seen) < s.sessionTTL {
			entry.seen = now
			s.mu.Unlock()
			return entry.session, nil
		}
		delete(s.live, sessionID)
	}
	s.mu.Unlock()

	rec, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		switch {
		case repositories.IsNotFound(err):
			return nil, ErrSessionNotFound
		case repositories.IsUnavailable(err):
			return nil, fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
		}
		return nil, err
	}
	session, err := quote.RestoreSession(s.sessionDeps(quote.SessionDeps{}), rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionNotFound, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.live[sessionID]; ok {
		entry.seen = now
		return entry.session, nil
	}
	s.live[sessionID] = &liveSession{session: session, seen: now}
	return session, nil
}

func (s *quoteSessionService) remember(session *quote.Session) {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.live {
		if now.Sub(entry.seen) >= s.sessionTTL {
			delete(s.live, id)
		}
	}
	s.live[session.ID()] = &liveSession{session: session, seen: now}
}

// persist saves the session snapshot. The live copy stays authoritative
// for this process when storage fails, so failures are logged only.
func (s *quoteSessionService) persist(ctx context.Context, session *quote.Session) {
	view := session.View()
	if err := s.repo.Save(ctx, view.Record); err != nil {
		s.logger(ctx, sessionEventPersistFailed, map[string]any{
			"sessionId": view.ID,
			"error":     err.Error(),
		})
	}
}
