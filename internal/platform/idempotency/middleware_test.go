package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopfront/api/internal/platform/auth"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func newRequest(key, body, uid string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/create", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: []string{auth.RoleUser}}))
	}
	return req
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	code, _ := payload["error"].(string)
	return code
}

func TestMiddleware_PassesThroughWithoutKey(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), Options{Clock: func() time.Time { return fixedTime }})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), newRequest("", `{"a":1}`, "u1"))
	}
	if calls != 2 {
		t.Fatalf("expected handler to run for each keyless request, got %d", calls)
	}
}

func TestMiddleware_RequireRejectsMissingKey(t *testing.T) {
	handler := Middleware(NewMemoryStore(), Options{Require: true})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not run")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("", `{}`, "u1"))
	if rr.Code != http.StatusBadRequest || errorCode(t, rr.Body.Bytes()) != "idempotency_key_required" {
		t.Fatalf("expected 400 idempotency_key_required, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), Options{Clock: func() time.Time { return fixedTime }})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderId":"ORD00001"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest("abc-123", `{"mode":"cart"}`, "u1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest("abc-123", `{"mode":"cart"}`, "u1"))

	if calls != 1 {
		t.Fatalf("expected a single handler call, got %d", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != `{"orderId":"ORD00001"}` {
		t.Fatalf("unexpected replay %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header")
	}
}

func TestMiddleware_FingerprintMismatch(t *testing.T) {
	handler := Middleware(NewMemoryStore(), Options{Clock: func() time.Time { return fixedTime }})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest("abc", `{"qty":1}`, "u1"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, newRequest("abc", `{"qty":2}`, "u1"))

	if rr.Code != http.StatusConflict || errorCode(t, rr.Body.Bytes()) != "idempotency_key_conflict" {
		t.Fatalf("expected 409 conflict, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestMiddleware_KeysAreScopedPerCaller(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), Options{Clock: func() time.Time { return fixedTime }})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), newRequest("same", `{}`, "alice"))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest("same", `{}`, "bob"))
	if calls != 2 {
		t.Fatalf("expected keys to be scoped per caller, got %d calls", calls)
	}
}

func TestMiddleware_ServerErrorReleasesKey(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), Options{Clock: func() time.Time { return fixedTime }})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest("retry", `{}`, "u1"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest("retry", `{}`, "u1"))

	if first.Code != http.StatusServiceUnavailable || second.Code != http.StatusCreated || calls != 2 {
		t.Fatalf("expected retry after 503, got %d then %d (%d calls)", first.Code, second.Code, calls)
	}
}

func TestMemoryStore_CleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Reserve(ctx, "old", "fp", fixedTime, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.Reserve(ctx, "fresh", "fp", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, fixedTime.Add(10*time.Minute), 10)
	if err != nil || removed != 1 {
		t.Fatalf("expected one expired record removed, got %d err=%v", removed, err)
	}

	res, err := store.Reserve(ctx, "old", "other-fp", fixedTime.Add(10*time.Minute), time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected expired key to be reusable, got %+v err=%v", res, err)
	}
}
