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

	"github.com/atelier-sucre/api/internal/platform/auth"
)

var fixedTime = time.Date(2026, time.February, 14, 8, 30, 0, 0, time.UTC)

const orderPayload = `{"items":[{"productId":"prd_fraisier","quantity":1}]}`

func postOrder(key, payload string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func fixedClockMiddleware(store Store) func(http.Handler) http.Handler {
	return Middleware(store, WithClock(func() time.Time { return fixedTime }))
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("error code = %q, want %q", body.Error, expected)
	}
}

func TestMiddleware_MissingHeader(t *testing.T) {
	var handlerCalled bool
	handler := fixedClockMiddleware(NewMemoryStore())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		handlerCalled = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, postOrder("", orderPayload))

	if handlerCalled {
		t.Fatal("handler ran without an idempotency key")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := fixedClockMiddleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderId":"ord_001"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, postOrder("abc-123", orderPayload))

	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}
	if first.Code != http.StatusCreated {
		t.Fatalf("unexpected first response status: %d", first.Code)
	}

	retry := httptest.NewRecorder()
	handler.ServeHTTP(retry, postOrder("abc-123", orderPayload))

	if calls != 1 {
		t.Fatalf("handler ran %d times after replay, want 1", calls)
	}
	if retry.Code != http.StatusCreated {
		t.Fatalf("expected replayed status 201, got %d", retry.Code)
	}
	if retry.Header().Get(replayHeaderName) != "true" {
		t.Fatal("replay marker header missing from replayed response")
	}
	if got := retry.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("replayed content-type = %q, want application/json", got)
	}
	if retry.Body.String() != first.Body.String() {
		t.Fatalf("expected replayed body %s, got %s", first.Body.String(), retry.Body.String())
	}
}

func TestMiddleware_ConflictingFingerprintReturnsConflict(t *testing.T) {
	handler := fixedClockMiddleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, postOrder("same-key", orderPayload))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request success, got %d", first.Code)
	}

	// Same key, different payload.
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, postOrder("same-key", `{"items":[{"productId":"prd_opera","quantity":2}]}`))

	if second.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", second.Code)
	}
	assertErrorResponse(t, second.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddleware_PendingReservationReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	handler := fixedClockMiddleware(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler ran while the reservation was still pending")
	}))

	req := postOrder("pending-key", orderPayload)
	body, err := snapshotBody(req)
	if err != nil {
		t.Fatalf("read request body: %v", err)
	}
	identity := requesterFrom(req.Context())
	fingerprint := requestDigest(req, body, identity)
	if _, err := store.Reserve(req.Context(), recordKey("pending-key", identity), fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("pending reservation status = %d, want 409", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestRequesterFrom(t *testing.T) {
	if got := requesterFrom(context.Background()); got != "anonymous" {
		t.Fatalf("expected anonymous requester, got %q", got)
	}

	ctx := auth.WithIdentity(context.Background(), &auth.Identity{UID: "uid-42"})
	if got := requesterFrom(ctx); got != "uid-42" {
		t.Fatalf("expected uid-42 requester, got %q", got)
	}
}

func TestMiddleware_SaveFailureRollsBackReservation(t *testing.T) {
	store := &stubStore{failSave: true}
	handler := fixedClockMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, postOrder("fail-key", orderPayload))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_store_error")
	if !store.released {
		t.Fatal("reservation was not released after the save failure")
	}
	if rr.Body.String() == "ok" {
		t.Fatalf("handler response must not leak when persistence fails")
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
		return errors.New("firestore write rejected")
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
