package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.0.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start}),
		WithHealthClock(func() time.Time { return now }),
		WithDependencyChecks(DependencyCheck{Name: "firestore", Check: func(context.Context) error {
			t.Fatalf("liveness must not run dependency checks")
			return nil
		}}),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["version"] != "1.0.0" || body["commitSha"] != "abc123" || body["uptime"] != "30s" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	handlers := NewHealthHandlers(WithDependencyChecks(
		DependencyCheck{Name: "firestore", Check: func(context.Context) error { return nil }},
		DependencyCheck{Name: "redis", Check: func(context.Context) error { return nil }},
	))
	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	checks := decodeJSONBody(t, rr)["checks"].(map[string]any)
	if len(checks) != 2 {
		t.Fatalf("expected two checks, got %v", checks)
	}
}

func TestHealthHandlersReadyzFailure(t *testing.T) {
	handlers := NewHealthHandlers(WithDependencyChecks(
		DependencyCheck{Name: "firestore", Check: func(context.Context) error { return nil }},
		DependencyCheck{Name: "stripe", Timeout: 10 * time.Millisecond, Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		DependencyCheck{Name: "pubsub", Check: func(context.Context) error { return errors.New("topic missing") }},
	))
	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	body := decodeJSONBody(t, rr)
	checks := body["checks"].(map[string]any)
	if checks["pubsub"].(map[string]any)["error"] != "topic missing" {
		t.Fatalf("unexpected pubsub check %v", checks["pubsub"])
	}
	if checks["stripe"].(map[string]any)["status"] != "error" || checks["firestore"].(map[string]any)["status"] != "ok" {
		t.Fatalf("unexpected checks %v", checks)
	}
}
