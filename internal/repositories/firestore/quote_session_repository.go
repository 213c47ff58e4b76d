package firestore

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/smilequote/api/internal/platform/firestore"
	"github.com/smilequote/api/internal/quote"
	"github.com/smilequote/api/internal/repositories"
)

const sessionsCollection = "quote_sessions"

// QuoteSessionRepository stores session snapshots. expiresAt is written
// for a Firestore TTL policy; reads also treat expired documents as missing.
type QuoteSessionRepository struct {
	sessions *pfirestore.Collection[sessionDocument]
	ttl      time.Duration
	now      func() time.Time
}

var _ repositories.QuoteSessionRepository = (*QuoteSessionRepository)(nil)

// NewQuoteSessionRepository constructs a Firestore-backed session repository.
func NewQuoteSessionRepository(provider *pfirestore.Provider, ttl time.Duration, clock func() time.Time) (*QuoteSessionRepository, error) {
	if provider == nil {
		return nil, errors.New("quote session repository requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}
	return &QuoteSessionRepository{
		sessions: pfirestore.NewCollection[sessionDocument](provider, sessionsCollection),
		ttl:      ttl,
		now:      clock,
	}, nil
}

func (r *QuoteSessionRepository) Save(ctx context.Context, rec quote.Record) error {
	return r.sessions.Set(ctx, rec.ID, toSessionDocument(rec, r.ttl))
}

func (r *QuoteSessionRepository) FindByID(ctx context.Context, id string) (quote.Record, error) {
	doc, err := r.sessions.Get(ctx, id)
	if err != nil {
		return quote.Record{}, err
	}
	if doc.ExpiresAt != nil && !r.now().Before(*doc.ExpiresAt) {
		return quote.Record{}, pfirestore.NotFound(sessionsCollection+".get", id)
	}
	return fromSessionDocument(id, doc), nil
}

func (r *QuoteSessionRepository) Delete(ctx context.Context, id string) error {
	return r.sessions.Delete(ctx, id)
}
