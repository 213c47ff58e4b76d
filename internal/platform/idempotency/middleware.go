package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smilequote/api/internal/platform/httpx"
)

const (
	DefaultHeader    = "Idempotency-Key"
	replayHeaderName = "X-Idempotent-Replay"
	maxKeyLength     = 128
)

// Logger matches the structured event logger used across the service.
type Logger func(ctx context.Context, event string, fields map[string]any)

type middlewareConfig struct {
	header   string
	ttl      time.Duration
	required bool
	scope    func(*http.Request) string
	clock    func() time.Time
	logger   Logger
}

// MiddlewareOption customises Middleware.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if name = strings.TrimSpace(name); name != "" {
			cfg.header = name
		}
	}
}

// WithTTL sets how long responses are replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithOptionalKey lets requests without the header through unguarded.
func WithOptionalKey() MiddlewareOption {
	return func(cfg *middlewareConfig) { cfg.required = false }
}

// WithScope namespaces keys, e.g. by session, so two callers cannot collide.
func WithScope(scope func(*http.Request) string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if scope != nil {
			cfg.scope = scope
		}
	}
}

func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) { cfg.logger = logger }
}

func WithClock(clock func() time.Time) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware replays the stored response for a repeated key and rejects
// concurrent duplicates. Server errors are not stored, so a client retry
// with the same key runs the handler again.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := middlewareConfig{
		header:   DefaultHeader,
		ttl:      DefaultTTL,
		required: true,
		scope:    func(*http.Request) string { return "" },
		clock:    time.Now,
		logger:   func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = func(context.Context, string, map[string]any) {}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := strings.TrimSpace(r.Header.Get(cfg.header))
			if key == "" {
				if cfg.required {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+cfg.header+" header", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_invalid", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := readAndReplayBody(r)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read request body", http.StatusBadRequest))
				return
			}

			scoped := scopedKey(key, cfg.scope(r))
			fingerprint := requestFingerprint(r, body)

			claim, err := store.Claim(ctx, scoped, fingerprint, cfg.clock().UTC(), cfg.ttl)
			if err != nil {
				if errors.Is(err, ErrKeyReused) {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
					return
				}
				cfg.logger(ctx, "idempotency.claim_failed", map[string]any{"error": err})
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable).AsRetryable())
				return
			}

			switch claim.Outcome {
			case ClaimReplay:
				writeReply(w, claim.Entry.Reply)
				return
			case ClaimBusy:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is in progress", http.StatusConflict).AsRetryable())
				return
			}

			rec := &responseRecorder{parent: w, header: make(http.Header)}
			next.ServeHTTP(rec, r)

			if rec.Status() >= http.StatusInternalServerError {
				if err := store.Abandon(ctx, scoped); err != nil {
					cfg.logger(ctx, "idempotency.abandon_failed", map[string]any{"error": err})
				}
			} else {
				reply := Reply{Status: rec.Status(), Header: rec.header.Clone(), Body: rec.Body()}
				if err := store.Complete(ctx, scoped, fingerprint, reply, cfg.clock().UTC(), cfg.ttl); err != nil {
					cfg.logger(ctx, "idempotency.complete_failed", map[string]any{"error": err})
					_ = store.Abandon(ctx, scoped)
				}
			}
			if err := rec.Commit(); err != nil {
				cfg.logger(ctx, "idempotency.flush_failed", map[string]any{"error": err})
			}
		})
	}
}

// RunCleanup sweeps expired entries every interval until ctx is done.
func RunCleanup(ctx context.Context, store Store, interval time.Duration, logger Logger) {
	if store == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.Sweep(ctx, now.UTC(), 0)
			if logger == nil {
				continue
			}
			if err != nil {
				logger(ctx, "idempotency.cleanup_failed", map[string]any{"error": err})
			} else if removed > 0 {
				logger(ctx, "idempotency.cleanup", map[string]any{"removed": removed})
			}
		}
	}
}

func readAndReplayBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, httpx.DefaultBodyLimit+1))
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(r.Method))
	b.WriteByte('|')
	b.WriteString(r.URL.Path)
	b.WriteByte('|')
	b.WriteString(r.URL.RawQuery)
	b.WriteByte('|')
	b.WriteString(r.Header.Get("Content-Type"))
	b.WriteByte('|')
	if len(body) > 0 {
		b.WriteString(digest(body))
	}
	return digest([]byte(b.String()))
}

func scopedKey(key, scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return key
	}
	return scope + "|" + key
}

func writeReply(w http.ResponseWriter, reply Reply) {
	dst := w.Header()
	for name, values := range reply.Header {
		dst[name] = append([]string(nil), values...)
	}
	dst.Set(replayHeaderName, "true")
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(reply.Body) > 0 {
		_, _ = w.Write(reply.Body)
	}
}

// responseRecorder buffers the handler output until the record is saved.
type responseRecorder struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) Body() []byte {
	if r.body.Len() == 0 {
		return nil
	}
	return append([]byte(nil), r.body.Bytes()...)
}

func (r *responseRecorder) Commit() error {
	dst := r.parent.Header()
	for name, values := range r.header {
		dst[name] = append([]string(nil), values...)
	}
	r.parent.WriteHeader(r.Status())
	if r.body.Len() == 0 {
		return nil
	}
	_, err := r.parent.Write(r.body.Bytes())
	return err
}
