package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smilequote/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()

	err := NewError("invalid_patient", "patient info\nis invalid", http.StatusUnprocessableEntity).
		WithFields(map[string]string{"email": "required"}).
		AsRetryable()
	WriteError(ctx, rec, err)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var payload map[string]any
	if decodeErr := json.Unmarshal(rec.Body.Bytes(), &payload); decodeErr != nil {
		t.Fatalf("decode: %v", decodeErr)
	}
	if payload["error"] != "invalid_patient" {
		t.Fatalf("unexpected code %v", payload["error"])
	}
	if payload["message"] != "patient info is invalid" {
		t.Fatalf("expected newline stripped, got %v", payload["message"])
	}
	if payload["trace_id"] != "trace-1" {
		t.Fatalf("expected trace id, got %v", payload["trace_id"])
	}
	if payload["retryable"] != true {
		t.Fatalf("expected retryable flag")
	}
	fields, ok := payload["fields"].(map[string]any)
	if !ok || fields["email"] != "required" {
		t.Fatalf("expected fields map, got %v", payload["fields"])
	}
}

func TestDecodeJSONLimits(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"SMILE25"}`))
	var dst struct {
		Code string `json:"code"`
	}
	if err := DecodeJSON(req, 0, &dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dst.Code != "SMILE25" {
		t.Fatalf("expected code decoded, got %q", dst.Code)
	}

	big := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"code":"`+strings.Repeat("x", 64)+`"}`))
	if err := DecodeJSON(big, 16, &dst); err != ErrBodyTooLarge {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}

	unknown := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"other":1}`))
	if err := DecodeJSON(unknown, 0, &dst); err == nil {
		t.Fatalf("expected unknown field error")
	}
}
