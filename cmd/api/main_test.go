package main

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/marketplace/internal/platform/config"
	pfirestore "github.com/hanko-field/marketplace/internal/platform/firestore"
	"github.com/hanko-field/marketplace/internal/platform/idempotency"
)

func envFunc(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestBuildInfoFromEnvDefaults(t *testing.T) {
	started := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	info := buildInfoFromEnv(envFunc(nil), config.Config{}, started)
	if info.Version != "dev" || info.CommitSHA != "unknown" || info.Environment != "local" {
		t.Fatalf("unexpected defaults %+v", info)
	}
	if !info.StartedAt.Equal(started) {
		t.Fatalf("expected started at %s, got %s", started, info.StartedAt)
	}
}

func TestBuildInfoFromEnvOverrides(t *testing.T) {
	cfg := config.Config{Security: config.SecurityConfig{Environment: "prod"}}
	info := buildInfoFromEnv(envFunc(map[string]string{
		"API_BUILD_VERSION":    " 1.4.0 ",
		"API_BUILD_COMMIT_SHA": "abc123",
	}), cfg, time.Now())
	if info.Version != "1.4.0" || info.CommitSHA != "abc123" || info.Environment != "prod" {
		t.Fatalf("unexpected build info %+v", info)
	}
}

func TestTraceProjectIDPrefersFirebase(t *testing.T) {
	cfg := config.Config{
		Firebase:  config.FirebaseConfig{ProjectID: "fb-project"},
		Firestore: config.FirestoreConfig{ProjectID: "fs-project"},
	}
	if got := traceProjectID(cfg); got != "fb-project" {
		t.Fatalf("expected firebase project, got %q", got)
	}
	cfg.Firebase.ProjectID = ""
	if got := traceProjectID(cfg); got != "fs-project" {
		t.Fatalf("expected firestore project, got %q", got)
	}
}

func TestNewIdempotencyBackendSelectsRedis(t *testing.T) {
	cfg := config.Config{Redis: config.RedisConfig{Addr: "127.0.0.1:6390"}}
	store, check, closeStore := newIdempotencyBackend(cfg, nil, zap.NewNop())
	defer func() { _ = closeStore() }()

	if _, ok := store.(*idempotency.RedisStore); !ok {
		t.Fatalf("expected redis store, got %T", store)
	}
	if check == nil || check.Name != "redis" {
		t.Fatalf("expected redis readiness check, got %+v", check)
	}
}

func TestNewIdempotencyBackendFallsBackToFirestore(t *testing.T) {
	store, check, closeStore := newIdempotencyBackend(config.Config{}, nil, zap.NewNop())
	if _, ok := store.(*idempotency.FirestoreStore); !ok {
		t.Fatalf("expected firestore store, got %T", store)
	}
	if check != nil {
		t.Fatalf("firestore store is covered by the repository check")
	}
	if err := closeStore(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestBuildOIDCMiddlewareDisabledWithoutJWKS(t *testing.T) {
	if mw := buildOIDCMiddleware(zap.NewNop(), config.Config{}); mw != nil {
		t.Fatalf("expected no middleware without a JWKS url")
	}
}

func TestLogContendedTxOnlyWarnsOnRetries(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	observe := logContendedTx(zap.New(core))

	observe(context.Background(), pfirestore.TxStats{Attempts: 1})
	observe(context.Background(), pfirestore.TxStats{Attempts: 3, Elapsed: time.Second})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one warning, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["attempts"]; got != int64(3) {
		t.Fatalf("expected attempts=3, got %v", got)
	}
}
