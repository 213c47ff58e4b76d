package memory

import (
	"context"
	"sync"
	"time"

	"github.com/smilequote/api/internal/quote"
	"github.com/smilequote/api/internal/repositories"
)

// QuoteSessionRepository keeps session records until they have been idle
// for longer than the configured TTL.
type QuoteSessionRepository struct {
	mu      sync.Mutex
	records map[string]quote.Record
	ttl     time.Duration
	now     func() time.Time
}

var _ repositories.QuoteSessionRepository = (*QuoteSessionRepository)(nil)

// NewQuoteSessionRepository creates a store; ttl <= 0 keeps records forever.
func NewQuoteSessionRepository(ttl time.Duration, clock func() time.Time) *QuoteSessionRepository {
	if clock == nil {
		clock = time.Now
	}
	return &QuoteSessionRepository{records: make(map[string]quote.Record), ttl: ttl, now: clock}
}

func (r *QuoteSessionRepository) Save(ctx context.Context, rec quote.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec.Selection = rec.Selection.Clone()
	if rec.Pending != nil {
		pending := *rec.Pending
		rec.Pending = &pending
	}
	if rec.Receipt != nil {
		receipt := *rec.Receipt
		rec.Receipt = &receipt
	}
	r.mu.Lock()
	r.records[rec.ID] = rec
	r.mu.Unlock()
	return nil
}

func (r *QuoteSessionRepository) FindByID(ctx context.Context, id string) (quote.Record, error) {
	if err := ctx.Err(); err != nil {
		return quote.Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return quote.Record{}, repositories.NewNotFound("sessions.get", id)
	}
	if r.ttl > 0 && !r.now().Before(rec.UpdatedAt.Add(r.ttl)) {
		delete(r.records, id)
		return quote.Record{}, repositories.NewNotFound("sessions.get", id)
	}
	rec.Selection = rec.Selection.Clone()
	return rec, nil
}

func (r *QuoteSessionRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.records, id)
	r.mu.Unlock()
	return nil
}
