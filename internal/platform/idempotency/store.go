// Package idempotency guards quote submission against duplicate delivery.
// A client retrying POST .../submit with the same key gets the original
// receipt back instead of a second quote.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a stored reply stays replayable.
const DefaultTTL = 24 * time.Hour

// EntryState is the persisted phase of a key.
type EntryState string

const (
	EntryInFlight EntryState = "in_flight"
	EntryStored   EntryState = "stored"
)

// ClaimOutcome tells the caller what to do after Claim.
type ClaimOutcome int

const (
	// ClaimAcquired: the caller owns the key and must Complete or Abandon it.
	ClaimAcquired ClaimOutcome = iota
	// ClaimReplay: a reply is stored; write it back unchanged.
	ClaimReplay
	// ClaimBusy: another request holds the key.
	ClaimBusy
)

// Claim is the result of Store.Claim.
type Claim struct {
	Outcome ClaimOutcome
	Entry   Entry
}

// Reply is the recorded HTTP response for a key.
type Reply struct {
	Status int
	Header http.Header
	Body   []byte
}

// Entry is one stored key.
type Entry struct {
	Key         string
	Fingerprint string
	State       EntryState
	Reply       Reply
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func newEntry(key, fingerprint string, now time.Time, ttl time.Duration) Entry {
	return Entry{
		Key:         key,
		Fingerprint: fingerprint,
		State:       EntryInFlight,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func (e Entry) expiredAt(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// claimFor resolves an existing, unexpired entry against fingerprint.
func (e Entry) claimFor(fingerprint string) (Claim, error) {
	if e.Fingerprint != fingerprint {
		return Claim{}, ErrKeyReused
	}
	if e.State == EntryStored {
		return Claim{Outcome: ClaimReplay, Entry: e}, nil
	}
	return Claim{Outcome: ClaimBusy, Entry: e}, nil
}

// Store persists keys. Claim must be atomic per key.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error)
	Complete(ctx context.Context, key, fingerprint string, reply Reply, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, key string) error
	Sweep(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrKeyReused reports a key presented again with a different request.
var ErrKeyReused = errors.New("idempotency: key already bound to another request")

func entryID(key string) string {
	return digest([]byte(strings.TrimSpace(key)))
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// hop-by-hop and per-response headers never replayed.
var volatileHeaders = map[string]struct{}{
	"Connection":          {},
	"Content-Length":      {},
	"Date":                {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

// replayable deep-copies h without volatile headers; nil when nothing is left.
func replayable(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for name, values := range h {
		name = http.CanonicalHeaderKey(name)
		if _, skip := volatileHeaders[name]; skip {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cloneBody(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}
