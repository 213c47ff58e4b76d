package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smilequote/api/internal/domain"
	"github.com/smilequote/api/internal/services"
)

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	handlers.Healthz(rr, req)

	expectStatus(t, rr, http.StatusOK)
	body := decodeBody[map[string]any](t, rr)
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["version"] != "1.0.0" {
		t.Fatalf("expected version 1.0.0, got %v", body["version"])
	}
	if body["commitSha"] != "abc123" {
		t.Fatalf("expected commit abc123, got %v", body["commitSha"])
	}
	if body["environment"] != "prod" {
		t.Fatalf("expected environment prod, got %v", body["environment"])
	}
	if body["uptime"] != "30s" {
		t.Fatalf("expected uptime 30s, got %v", body["uptime"])
	}
}

func TestHealthHandlersReadyzSuccess(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	svc := &stubSystemService{
		report: services.SystemHealthReport{
			HealthReport: domain.HealthReport{
				Status:      domain.HealthStatusOK,
				GeneratedAt: now,
				Checks: map[string]domain.HealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 10 * time.Millisecond, CheckedAt: now},
				},
			},
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			Uptime:      time.Minute,
		},
	}

	handlers := NewHealthHandlers(
		WithHealthSystemService(svc),
		WithHealthClock(func() time.Time { return now }),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()

	handlers.Readyz(rr, req)

	expectStatus(t, rr, http.StatusOK)
	body := decodeBody[readyzPayload](t, rr)
	if body.Status != string(domain.HealthStatusOK) {
		t.Fatalf("expected status ok, got %s", body.Status)
	}
	if len(body.Details) != 0 {
		t.Fatalf("expected no details, got %v", body.Details)
	}
	if check := body.Checks["firestore"]; check.Status != string(domain.HealthStatusOK) || check.LatencyMS != 10 {
		t.Fatalf("unexpected firestore check %+v", check)
	}
}

func TestHealthHandlersReadyzDegradedStillServes(t *testing.T) {
	svc := &stubSystemService{
		report: services.SystemHealthReport{
			HealthReport: domain.HealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.HealthCheck{
					"catalog":   {Status: domain.HealthStatusDegraded, Detail: string(domain.CatalogSourceFallback)},
					"firestore": {Status: domain.HealthStatusOK},
				},
			},
		},
	}

	rr := httptest.NewRecorder()
	NewHealthHandlers(WithHealthSystemService(svc)).Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	expectStatus(t, rr, http.StatusOK)
	body := decodeBody[readyzPayload](t, rr)
	if body.Status != string(domain.HealthStatusDegraded) {
		t.Fatalf("expected status degraded, got %s", body.Status)
	}
	if len(body.Details) != 1 || body.Details[0] != "catalog: fallback" {
		t.Fatalf("expected catalog detail, got %v", body.Details)
	}
}

func TestHealthHandlersReadyzErrorIsUnavailable(t *testing.T) {
	svc := &stubSystemService{
		report: services.SystemHealthReport{
			HealthReport: domain.HealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.HealthCheck{
					"pubsub":    {Status: domain.HealthStatusError, Error: "publish failed"},
					"firestore": {Status: domain.HealthStatusDegraded},
				},
			},
		},
	}

	rr := httptest.NewRecorder()
	NewHealthHandlers(WithHealthSystemService(svc)).Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	expectStatus(t, rr, http.StatusServiceUnavailable)
	body := decodeBody[readyzPayload](t, rr)
	want := []string{"firestore: degraded", "pubsub: publish failed"}
	if len(body.Details) != len(want) || body.Details[0] != want[0] || body.Details[1] != want[1] {
		t.Fatalf("expected sorted details %v, got %v", want, body.Details)
	}
}

func TestHealthHandlersReadyzServiceError(t *testing.T) {
	handlers := NewHealthHandlers(WithHealthSystemService(&stubSystemService{err: errors.New("probe crashed")}))

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	expectStatus(t, rr, http.StatusServiceUnavailable)
	if body := decodeBody[errorBody](t, rr); !body.Retryable || body.Error != "health_unavailable" {
		t.Fatalf("unexpected error body %+v", body)
	}
}
