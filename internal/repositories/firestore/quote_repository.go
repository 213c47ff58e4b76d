package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/smilequote/api/internal/domain"
	pfirestore "github.com/smilequote/api/internal/platform/firestore"
	"github.com/smilequote/api/internal/repositories"
)

const quotesCollection = "quotes"

// QuoteRepository persists submitted quotes.
type QuoteRepository struct {
	provider *pfirestore.Provider
	quotes   *pfirestore.Collection[quoteDocument]
}

var _ repositories.QuoteRepository = (*QuoteRepository)(nil)

// NewQuoteRepository constructs a Firestore-backed quote repository.
func NewQuoteRepository(provider *pfirestore.Provider) (*QuoteRepository, error) {
	if provider == nil {
		return nil, errors.New("quote repository requires firestore provider")
	}
	return &QuoteRepository{
		provider: provider,
		quotes:   pfirestore.NewCollection[quoteDocument](provider, quotesCollection),
	}, nil
}

func (r *QuoteRepository) Insert(ctx context.Context, q domain.Quote) error {
	id := strings.TrimSpace(q.ID)
	if id == "" {
		return errors.New("quote repository: quote id is required")
	}
	return r.quotes.Create(ctx, id, toQuoteDocument(q))
}

func (r *QuoteRepository) FindByID(ctx context.Context, id string) (domain.Quote, error) {
	doc, err := r.quotes.Get(ctx, id)
	if err != nil {
		return domain.Quote{}, err
	}
	return fromQuoteDocument(id, doc), nil
}

// MarkEmailed records the delivery inside a transaction so concurrent
// sends never lose an update.
func (r *QuoteRepository) MarkEmailed(ctx context.Context, id, email string, at time.Time) (domain.Quote, error) {
	ref, err := r.quotes.Doc(ctx, id)
	if err != nil {
		return domain.Quote{}, err
	}
	var updated domain.Quote
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError(quotesCollection+".mark_emailed", err)
		}
		doc, err := pfirestore.Decode[quoteDocument](snap)
		if err != nil {
			return err
		}
		emailedAt := at.UTC()
		doc.EmailedAt = &emailedAt
		doc.EmailedTo = email
		doc.Status = domain.QuoteStatusEmailed
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = fromQuoteDocument(id, doc)
		return nil
	})
	if err != nil {
		return domain.Quote{}, err
	}
	return updated, nil
}
