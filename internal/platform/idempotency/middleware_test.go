package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hanko-field/marketplace/internal/platform/auth"
	"github.com/hanko-field/marketplace/internal/platform/requestctx"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func newOrderRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func asUser(req *http.Request, uid string) *http.Request {
	identity := &auth.Identity{UID: uid, Role: auth.RoleUser}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func TestMiddleware_MissingHeader(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked when header is missing")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newOrderRequest("", `{"paymentMethod":"card"}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ord_1"}`))
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, asUser(newOrderRequest("abc-123", `{"paymentMethod":"card"}`), "u1"))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, asUser(newOrderRequest("abc-123", `{"paymentMethod":"card"}`), "u1"))

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if rr2.Code != http.StatusCreated || rr2.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replayed 201, got %d %v", rr2.Code, rr2.Header())
	}
	if rr2.Header().Get("Content-Type") != "application/json" || rr2.Body.String() != rr1.Body.String() {
		t.Fatalf("unexpected replay %q", rr2.Body.String())
	}
}

func TestMiddleware_ExposesKeyToHandler(t *testing.T) {
	var seen string
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestctx.IdempotencyKey(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), asUser(newOrderRequest(" key-9 ", `{}`), "u1"))
	if seen != "key-9" {
		t.Fatalf("expected trimmed key on context, got %q", seen)
	}
}

func TestMiddleware_KeysAreScopedPerCaller(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for _, uid := range []string{"u1", "u2"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, asUser(newOrderRequest("shared", `{}`), uid))
		if rr.Code != http.StatusCreated {
			t.Fatalf("%s: expected 201, got %d", uid, rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected each caller to execute, got %d calls", calls)
	}
}

func TestMiddleware_ConflictingFingerprint(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newOrderRequest("same-key", `{"paymentMethod":"card"}`))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newOrderRequest("same-key", `{"paymentMethod":"cod"}`))

	if rr2.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", rr2.Code)
	}
	assertErrorResponse(t, rr2.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_PendingReservation(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked when reservation pending")
	}))

	req := newOrderRequest("pending-key", `{}`)
	body, _ := readAndReplayBody(req)
	requester := extractRequester(req.Context())
	if _, err := store.Reserve(req.Context(), "pending-key|"+requester, requestFingerprint(req, body, requester), fixedTime, time.Hour); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending reservation, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddleware_ServerErrorsAreRetryable(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, newOrderRequest("retry", `{}`))
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, newOrderRequest("retry", `{}`))

	if rr1.Code != http.StatusServiceUnavailable || rr2.Code != http.StatusCreated || calls != 2 {
		t.Fatalf("expected retry to execute, got %d then %d (%d calls)", rr1.Code, rr2.Code, calls)
	}
}

func TestMiddleware_SaveFailureReleasesReservation(t *testing.T) {
	store := &stubStore{failSave: true}
	handler := Middleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newOrderRequest("fail-key", `{}`))

	if rr.Code != http.StatusCreated || rr.Body.String() != "ok" {
		t.Fatalf("expected handler response to pass through, got %d %q", rr.Code, rr.Body.String())
	}
	if !store.released {
		t.Fatalf("expected reservation to be released on failure")
	}
}

func TestMemoryStore_EventLedger(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.MarkProcessed(ctx, "evt_1", fixedTime, time.Hour)
	if err != nil || !first {
		t.Fatalf("expected first mark, got %v %v", first, err)
	}
	again, _ := store.MarkProcessed(ctx, "evt_1", fixedTime.Add(time.Minute), time.Hour)
	if again {
		t.Fatalf("expected duplicate event to be reported")
	}
	if err := store.Forget(ctx, "evt_1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if retried, _ := store.MarkProcessed(ctx, "evt_1", fixedTime, time.Hour); !retried {
		t.Fatalf("expected forgotten event to be processable again")
	}
	if expired, _ := store.MarkProcessed(ctx, "evt_1", fixedTime.Add(2*time.Hour), time.Hour); !expired {
		t.Fatalf("expected expired mark to be replaced")
	}
	if _, err := store.MarkProcessed(ctx, " ", fixedTime, 0); err == nil {
		t.Fatalf("expected empty event id to fail")
	}
}

func TestMemoryStore_CleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, _ = store.Reserve(ctx, "old", "fp", fixedTime, time.Minute)
	_, _ = store.Reserve(ctx, "fresh", "fp", fixedTime, time.Hour)
	_, _ = store.MarkProcessed(ctx, "evt_old", fixedTime, time.Minute)

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(10*time.Minute), 0)
	if err != nil || removed != 2 {
		t.Fatalf("expected two expired entries removed, got %d %v", removed, err)
	}
	res, _ := store.Reserve(ctx, "fresh", "fp", fixedTime.Add(10*time.Minute), time.Hour)
	if res.State != ReservationStatePending {
		t.Fatalf("expected fresh reservation to survive, got %v", res.State)
	}
}

func TestExtractRequesterPrefersUserIdentity(t *testing.T) {
	ctx := auth.WithIdentity(context.Background(), &auth.Identity{UID: "u1"})
	if got := extractRequester(ctx); got != "u1" {
		t.Fatalf("expected u1, got %s", got)
	}
	ctx = auth.WithServiceIdentity(context.Background(), &auth.ServiceIdentity{Subject: "svc"})
	if got := extractRequester(ctx); got != "svc" {
		t.Fatalf("expected svc, got %s", got)
	}
	if got := extractRequester(context.Background()); got != "anonymous" {
		t.Fatalf("expected anonymous, got %s", got)
	}
}

type stubStore struct {
	failSave bool
	released bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}
