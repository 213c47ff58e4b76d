package memory

import (
	"context"
	"sync"
	"time"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/repositories"
)

// HandoffRepository holds pending selections until they are taken or expire.
type HandoffRepository struct {
	mu      sync.Mutex
	entries map[string]domain.PendingSelection
	now     func() time.Time
}

var _ repositories.HandoffRepository = (*HandoffRepository)(nil)

func NewHandoffRepository(clock func() time.Time) *HandoffRepository {
	if clock == nil {
		clock = time.Now
	}
	return &HandoffRepository{entries: make(map[string]domain.PendingSelection), now: clock}
}

func (r *HandoffRepository) Put(ctx context.Context, sel domain.PendingSelection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for token, entry := range r.entries {
		if entry.Expired(now) {
			delete(r.entries, token)
		}
	}
	if _, exists := r.entries[sel.Token]; exists {
		return repositories.NewConflict("handoffs.put", sel.Token)
	}
	r.entries[sel.Token] = sel
	return nil
}

func (r *HandoffRepository) Take(ctx context.Context, token string) (domain.PendingSelection, error) {
	if err := ctx.Err(); err != nil {
		return domain.PendingSelection{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sel, ok := r.entries[token]
	if !ok {
		return domain.PendingSelection{}, repositories.NewNotFound("handoffs.take", token)
	}
	delete(r.entries, token)
	if sel.Expired(r.now()) {
		return domain.PendingSelection{}, repositories.NewNotFound("handoffs.take", token)
	}
	return sel, nil
}

// Len reports the number of stored hand-offs, expired ones included until
// the next Put.
func (r *HandoffRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
