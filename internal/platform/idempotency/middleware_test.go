package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hanko-field/checkout/internal/platform/auth"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func newRequest(key, user, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/storefronts/accra/checkout/initialize", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderName, key)
	}
	if user != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: user}))
	}
	return req
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]int{"call": *calls})
	})
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

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK))
	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), newRequest("", "user-1", `{}`))
	}
	if calls != 2 {
		t.Fatalf("expected both requests to reach handler, got %d", calls)
	}
}

func TestMiddlewareRequiredKey(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithRequiredKey())(countingHandler(&calls, http.StatusOK))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("", "user-1", `{}`))
	if rec.Code != http.StatusBadRequest || calls != 0 {
		t.Fatalf("expected 400 without handler call, got %d calls=%d", rec.Code, calls)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "idempotency_key_required" {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, newRequest("key-1", "user-1", `{"promoCode":"SAVE10"}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, newRequest("key-1", "user-1", `{"promoCode":"SAVE10"}`))

	if calls != 1 {
		t.Fatalf("expected handler once, got %d", calls)
	}
	if second.Code != http.StatusCreated || !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatalf("expected identical replay, got %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get(ReplayHeader) != "true" || first.Header().Get(ReplayHeader) != "" {
		t.Fatal("expected replay header only on the replay")
	}
}

func TestMiddlewareScopesKeysPerUser(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest("shared", "user-1", `{}`))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest("shared", "user-2", `{}`))
	if calls != 2 {
		t.Fatalf("expected separate scopes per user, got %d calls", calls)
	}
}

func TestMiddlewareRejectsDifferentPayload(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest("key-1", "user-1", `{"a":1}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("key-1", "user-1", `{"a":2}`))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "idempotency_key_conflict" {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestMiddlewareReleasesKeyOnServerError(t *testing.T) {
	var calls int
	status := http.StatusServiceUnavailable
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(status)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), newRequest("key-1", "user-1", `{}`))
	status = http.StatusOK
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("key-1", "user-1", `{}`))
	if calls != 2 || rec.Code != http.StatusOK {
		t.Fatalf("expected retry to run handler, calls=%d code=%d", calls, rec.Code)
	}
}

func TestMiddlewareReportsInProgress(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Reserve(context.Background(), "user-1|key-1", "other", fixedTime, time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	var calls int
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls, http.StatusOK))
	rec := httptest.NewRecorder()
	req := newRequest("key-1", "user-1", `{}`)
	handler.ServeHTTP(rec, req)
	// A different fingerprint on a pending key is a conflict, not in-progress.
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}

	fingerprint := requestFingerprint(newRequest("key-2", "user-1", `{}`), []byte(`{}`))
	if _, err := store.Reserve(context.Background(), "user-1|key-2", fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest("key-2", "user-1", `{}`))
	if rec.Code != http.StatusConflict || calls != 0 {
		t.Fatalf("expected 409 in progress, got %d calls=%d", rec.Code, calls)
	}
}

func TestMemoryStoreExpiresRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.SaveResponse(ctx, "k", "fp", Response{Status: http.StatusOK}, fixedTime, time.Minute); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
	res, err := store.Reserve(ctx, "k", "fp", fixedTime.Add(30*time.Second), time.Minute)
	if err != nil || res.State != ReservationStateCompleted {
		t.Fatalf("expected completed, got %v %v", res.State, err)
	}
	res, err = store.Reserve(ctx, "k", "other", fixedTime.Add(2*time.Minute), time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected fresh reservation after expiry, got %v %v", res.State, err)
	}
}

type fakeRedis struct {
	mu     sync.Mutex
	values map[string][]byte
	ttls   map[string]time.Duration
	err    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.([]byte)
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value.([]byte)
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.values[key]; ok {
		return redis.NewStringResult(string(v), nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := f.values[key]; ok {
			delete(f.values, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStoreLifecycle(t *testing.T) {
	client := newFakeRedis()
	store, err := NewRedisStore(client)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	ctx := context.Background()

	res, err := store.Reserve(ctx, "user-1|k", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %v %v", res.State, err)
	}
	if client.ttls[redisKey("user-1|k")] != time.Hour {
		t.Fatalf("expected ttl applied, got %v", client.ttls)
	}
	res, err = store.Reserve(ctx, "user-1|k", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected pending, got %v %v", res.State, err)
	}
	if _, err := store.Reserve(ctx, "user-1|k", "other", fixedTime, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	resp := Response{Status: http.StatusCreated, Headers: http.Header{"Content-Type": {"application/json"}, "Date": {"x"}}, Body: []byte(`{"ok":true}`)}
	if err := store.SaveResponse(ctx, "user-1|k", "fp", resp, fixedTime, time.Hour); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
	res, err = store.Reserve(ctx, "user-1|k", "fp", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateCompleted {
		t.Fatalf("expected completed, got %v %v", res.State, err)
	}
	if res.Record.ResponseStatus != http.StatusCreated || string(res.Record.ResponseBody) != `{"ok":true}` {
		t.Fatalf("unexpected record %+v", res.Record)
	}
	if _, ok := res.Record.ResponseHeaders["Date"]; ok {
		t.Fatal("expected hop headers stripped")
	}

	if err := store.Release(ctx, "user-1|k"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	res, err = store.Reserve(ctx, "user-1|k", "other", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new after release, got %v %v", res.State, err)
	}
}

func TestRedisStoreSurfacesErrors(t *testing.T) {
	client := newFakeRedis()
	client.err = errors.New("connection refused")
	store, _ := NewRedisStore(client)
	if _, err := store.Reserve(context.Background(), "k", "fp", fixedTime, time.Hour); err == nil {
		t.Fatal("expected reserve error")
	}
	if _, err := NewRedisStore(nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}
