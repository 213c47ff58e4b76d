package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/smilequote/api/internal/platform/firestore"
)

const (
	defaultCollection = "idempotency_keys"
	defaultSweepBatch = 100
)

// FirestoreStore keeps entries in a Firestore collection, one document per
// hashed key. A TTL policy on expiresAt may replace Sweep.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

// NewFirestoreStore binds a store to collection ("" selects the default).
func NewFirestoreStore(provider *pfirestore.Provider, collection string) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreStore{provider: provider, collection: collection}, nil
}

type entryDoc struct {
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	State       string              `firestore:"state"`
	Status      int                 `firestore:"status,omitempty"`
	Header      map[string][]string `firestore:"header,omitempty"`
	Body        []byte              `firestore:"body,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func docFromEntry(e Entry) entryDoc {
	return entryDoc{
		Key:         e.Key,
		Fingerprint: e.Fingerprint,
		State:       string(e.State),
		Status:      e.Reply.Status,
		Header:      e.Reply.Header,
		Body:        e.Reply.Body,
		CreatedAt:   e.CreatedAt,
		ExpiresAt:   e.ExpiresAt,
	}
}

func (d entryDoc) entry() Entry {
	return Entry{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		State:       EntryState(d.State),
		Reply:       Reply{Status: d.Status, Header: d.Header, Body: d.Body},
		CreatedAt:   d.CreatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}

func (s *FirestoreStore) ref(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(entryID(key)), nil
}

// Claim reads and, when free or expired, takes the key in one transaction.
func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	now = now.UTC()
	ref, err := s.ref(ctx, key)
	if err != nil {
		return Claim{}, err
	}
	fresh := newEntry(key, fingerprint, now, normalizeTTL(ttl))

	var claim Claim
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && !isNotFound(err) {
			return err
		}
		if err == nil {
			var doc entryDoc
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if existing := doc.entry(); !existing.expiredAt(now) {
				claim, err = existing.claimFor(fingerprint)
				return err
			}
		}
		claim = Claim{Outcome: ClaimAcquired, Entry: fresh}
		return tx.Set(ref, docFromEntry(fresh))
	})
	if errors.Is(err, ErrKeyReused) {
		return Claim{}, ErrKeyReused
	}
	return claim, err
}

// Complete stores reply under key, overwriting the in-flight marker.
func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	entry := newEntry(key, fingerprint, now, normalizeTTL(ttl))
	entry.State = EntryStored
	entry.Reply = Reply{Status: reply.Status, Header: replayable(reply.Header), Body: cloneBody(reply.Body)}
	_, err = ref.Set(ctx, docFromEntry(entry))
	return pfirestore.WrapError("idempotency.complete", err)
}

// Abandon frees key so a retry runs the handler again.
func (s *FirestoreStore) Abandon(ctx context.Context, key string) error {
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && !isNotFound(err) {
		return pfirestore.WrapError("idempotency.abandon", err)
	}
	return nil
}

// Sweep deletes up to limit expired entries through a bulk writer.
func (s *FirestoreStore) Sweep(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepBatch
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	docs, err := client.Collection(s.collection).Where("expiresAt", "<=", now.UTC()).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.sweep", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	bw := client.BulkWriter(ctx)
	defer bw.End()
	for _, doc := range docs {
		if _, err := bw.Delete(doc.Ref); err != nil {
			return 0, pfirestore.WrapError("idempotency.sweep", err)
		}
	}
	return len(docs), nil
}

func isNotFound(err error) bool {
	var repoErr *pfirestore.Error
	if errors.As(pfirestore.WrapError("idempotency", err), &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}
