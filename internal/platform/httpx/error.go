package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/smilequote/api/internal/platform/requestctx"
)

const (
	codeLimit    = 80
	messageLimit = 512
	fieldLimit   = 256
)

// Error is the JSON error envelope returned by every endpoint. Details
// (stage, reason, session snapshot) are flattened next to the standard
// members.
type Error struct {
	Code      string
	Message   string
	Status    int
	Retryable bool
	Fields    map[string]string
	Details   map[string]any
}

// NewError constructs an Error, defaulting the status to 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: oneLine(code, codeLimit), Message: oneLine(message, messageLimit), Status: status}
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// AsRetryable marks the error so clients may offer a retry action.
func (e Error) AsRetryable() Error {
	e.Retryable = true
	return e
}

// WithDetails merges extra JSON members into the envelope.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for _, src := range []map[string]any{e.Details, details} {
		for k, v := range src {
			merged[k] = v
		}
	}
	e.Details = merged
	return e
}

// WithFields attaches per-field validation messages under "fields".
func (e Error) WithFields(fields map[string]string) Error {
	if len(fields) == 0 {
		return e
	}
	e.Fields = make(map[string]string, len(fields))
	for k, v := range fields {
		e.Fields[k] = oneLine(v, fieldLimit)
	}
	return e
}

func (e Error) envelope(ctx context.Context) map[string]any {
	out := make(map[string]any, len(e.Details)+6)
	for k, v := range e.Details {
		out[k] = v
	}
	out["error"] = e.Code
	out["message"] = e.Message
	out["status"] = e.Status
	if e.Retryable {
		out["retryable"] = true
	}
	if len(e.Fields) > 0 {
		out["fields"] = e.Fields
	}
	if id := oneLine(middleware.GetReqID(ctx), codeLimit); id != "" {
		out["request_id"] = id
	}
	if id := oneLine(requestctx.TraceID(ctx), 64); id != "" {
		out["trace_id"] = id
	}
	return out
}

// WriteError renders err as JSON, echoing the request and trace ids from ctx.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	_ = json.NewEncoder(w).Encode(err.envelope(ctx))
}

// oneLine flattens newlines and truncates to limit bytes.
func oneLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
