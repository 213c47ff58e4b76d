package memory

import (
	"context"
	"sync"
	"time"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/repositories"
)

// QuoteRepository stores submitted quotes by id.
type QuoteRepository struct {
	mu     sync.RWMutex
	quotes map[string]domain.Quote
}

var _ repositories.QuoteRepository = (*QuoteRepository)(nil)

func NewQuoteRepository() *QuoteRepository {
	return &QuoteRepository{quotes: make(map[string]domain.Quote)}
}

func (r *QuoteRepository) Insert(ctx context.Context, q domain.Quote) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.quotes[q.ID]; exists {
		return repositories.NewConflict("quotes.insert", q.ID)
	}
	r.quotes[q.ID] = cloneQuote(q)
	return nil
}

func (r *QuoteRepository) FindByID(ctx context.Context, id string) (domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Quote{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.quotes[id]
	if !ok {
		return domain.Quote{}, repositories.NewNotFound("quotes.get", id)
	}
	return cloneQuote(q), nil
}

func (r *QuoteRepository) MarkEmailed(ctx context.Context, id, email string, at time.Time) (domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return domain.Quote{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotes[id]
	if !ok {
		return domain.Quote{}, repositories.NewNotFound("quotes.mark_emailed", id)
	}
	at = at.UTC()
	q.EmailedAt = &at
	q.EmailedTo = email
	q.Status = domain.QuoteStatusEmailed
	r.quotes[id] = q
	return cloneQuote(q), nil
}

func cloneQuote(q domain.Quote) domain.Quote {
	if q.Treatments != nil {
		q.Treatments = append([]domain.TreatmentSelection(nil), q.Treatments...)
	}
	if q.Package != nil {
		pkg := clonePackage(*q.Package)
		q.Package = &pkg
	}
	if q.Offer != nil {
		offer := *q.Offer
		q.Offer = &offer
	}
	if q.EmailedAt != nil {
		at := *q.EmailedAt
		q.EmailedAt = &at
	}
	if q.Totals.Discounts != nil {
		q.Totals.Discounts = append([]domain.DiscountBreakdown(nil), q.Totals.Discounts...)
	}
	return q
}
