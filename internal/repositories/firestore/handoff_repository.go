package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/smilequote/api/internal/domain"
	pfirestore "github.com/smilequote/api/internal/platform/firestore"
	"github.com/smilequote/api/internal/repositories"
)

const handoffsCollection = "quote_handoffs"

// HandoffRepository stores pending selections; Take reads and deletes in
// one transaction so a token is honoured at most once.
type HandoffRepository struct {
	provider *pfirestore.Provider
	handoffs *pfirestore.Collection[handoffDocument]
	now      func() time.Time
}

var _ repositories.HandoffRepository = (*HandoffRepository)(nil)

// NewHandoffRepository constructs a Firestore-backed hand-off repository.
func NewHandoffRepository(provider *pfirestore.Provider, clock func() time.Time) (*HandoffRepository, error) {
	if provider == nil {
		return nil, errors.New("handoff repository requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}
	return &HandoffRepository{
		provider: provider,
		handoffs: pfirestore.NewCollection[handoffDocument](provider, handoffsCollection),
		now:      clock,
	}, nil
}

func (r *HandoffRepository) Put(ctx context.Context, sel domain.PendingSelection) error {
	return r.handoffs.Create(ctx, sel.Token, handoffDocument{
		Kind:      string(sel.Kind),
		Payload:   sel.Payload,
		ClinicID:  sel.ClinicID,
		CreatedAt: sel.CreatedAt.UTC(),
		ExpiresAt: sel.ExpiresAt.UTC(),
	})
}

func (r *HandoffRepository) Take(ctx context.Context, token string) (domain.PendingSelection, error) {
	ref, err := r.handoffs.Doc(ctx, token)
	if err != nil {
		return domain.PendingSelection{}, err
	}
	var taken domain.PendingSelection
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError(handoffsCollection+".take", err)
		}
		doc, err := pfirestore.Decode[handoffDocument](snap)
		if err != nil {
			return err
		}
		if err := tx.Delete(ref); err != nil {
			return err
		}
		taken = domain.PendingSelection{
			Token:     token,
			Kind:      domain.PendingKind(doc.Kind),
			Payload:   doc.Payload,
			ClinicID:  doc.ClinicID,
			CreatedAt: doc.CreatedAt.UTC(),
			ExpiresAt: doc.ExpiresAt.UTC(),
		}
		return nil
	})
	if err != nil {
		return domain.PendingSelection{}, err
	}
	if taken.Expired(r.now()) {
		return domain.PendingSelection{}, pfirestore.NotFound(handoffsCollection+".take", token)
	}
	return taken, nil
}
