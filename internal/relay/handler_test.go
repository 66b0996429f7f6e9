package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	extratelimit "github.com/vnmchuo/ratelimiter"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/billing-relay/internal/arm"
	"github.com/vnmchuo/billing-relay/internal/auth"
	"github.com/vnmchuo/billing-relay/pkg/ratelimit"
)

// Mock Limiter Store
type mockLimiterStore struct {
	allowed bool
	err     error
	keys    []string
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	m.keys = append(m.keys, key)
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return m.AllowN(ctx, key, 1)
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

// Test Suite
func setupTest(up *mockUpstream, limiter *mockLimiterStore, defaultSub string) *Handler {
	var l *ratelimit.Limiter
	if limiter != nil {
		l = ratelimit.NewTestLimiter(limiter)
	}
	tracer := noop.NewTracerProvider().Tracer("test")
	return NewHandler(New(up), arm.DefaultCatalog("ActualCost"), l, tracer, defaultSub)
}

func authed(req *http.Request, token auth.Token) *http.Request {
	return req.WithContext(auth.WithToken(req.Context(), token))
}

func TestHandleSubscriptions_Unauthorized(t *testing.T) {
	up := &mockUpstream{status: http.StatusOK, body: `{"value":[]}`}
	h := setupTest(up, nil, "")

	req := httptest.NewRequest(http.MethodGet, "/api/GetSubscriptions", nil)
	w := httptest.NewRecorder()
	h.HandleSubscriptions(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, up.calls)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Missing Authorization header", resp["error"])
}

func TestHandleSubscriptions_Success(t *testing.T) {
	up := &mockUpstream{status: http.StatusOK, body: `{"value":[{"subscriptionId":"s1","displayName":"Prod","extra":"x"}]}`}
	h := setupTest(up, nil, "")

	req := authed(httptest.NewRequest(http.MethodGet, "/api/GetSubscriptions", nil), "abc123")
	w := httptest.NewRecorder()
	h.HandleSubscriptions(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"subscriptions":[{"subscriptionId":"s1","displayName":"Prod"}]}`, w.Body.String())
}

func TestHandleSubscriptionCost_QueryParamWins(t *testing.T) {
	up := &mockUpstream{status: http.StatusOK, body: `{"properties":{"rows":[[1,20250901]]}}`}
	h := setupTest(up, nil, "11111111-1111-1111-1111-111111111111")

	req := authed(httptest.NewRequest(http.MethodGet, "/api/GetBillingData?subscriptionId="+testSubscription, nil), "abc123")
	w := httptest.NewRecorder()
	h.HandleSubscriptionCost(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"properties":{"rows":[[1,20250901]]}}`, w.Body.String())
	require.Len(t, up.calls, 1)
	assert.Equal(t, testSubscription, up.calls[0].subscriptionID)
}

func TestHandleSubscriptionCost_DefaultSubscription(t *testing.T) {
	up := &mockUpstream{status: http.StatusOK, body: `{"properties":{"rows":[]}}`}
	h := setupTest(up, nil, testSubscription)

	req := authed(httptest.NewRequest(http.MethodGet, "/api/GetBillingData", nil), "abc123")
	w := httptest.NewRecorder()
	h.HandleSubscriptionCost(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), NoCostDataMessage)
	require.Len(t, up.calls, 1)
	assert.Equal(t, testSubscription, up.calls[0].subscriptionID)
}

func TestHandleSubscriptionCost_NoSubscription(t *testing.T) {
	up := &mockUpstream{status: http.StatusOK, body: `{}`}
	h := setupTest(up, nil, "")

	req := authed(httptest.NewRequest(http.MethodGet, "/api/GetBillingData", nil), "abc123")
	w := httptest.NewRecorder()
	h.HandleSubscriptionCost(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, up.calls)
}

func TestHandleTenantCost_UpstreamError(t *testing.T) {
	up := &mockUpstream{status: http.StatusForbidden, body: `{"error":{"code":"AuthorizationFailed","message":"denied"}}`}
	h := setupTest(up, nil, "")

	req := authed(httptest.NewRequest(http.MethodGet, "/api/GetTenantBillingData", nil), "abc123")
	w := httptest.NewRecorder()
	h.HandleTenantCost(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"denied","code":"AuthorizationFailed"}`, w.Body.String())
}

func TestHandleDailyCost_Success(t *testing.T) {
	up := &mockUpstream{status: http.StatusOK, body: `{"properties":{"columns":[{"name":"PreTaxCost"},{"name":"UsageDate"}],"rows":[[2.5,20250901]]}}`}
	h := setupTest(up, nil, testSubscription)

	req := authed(httptest.NewRequest(http.MethodGet, "/api/GetDailyCost", nil), "abc123")
	w := httptest.NewRecorder()
	h.HandleDailyCost(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"days":[{"date":"2025-09-01","cost":2.5}],"total":2.5}`, w.Body.String())
}

func TestHandleQuery_ByName(t *testing.T) {
	up := &mockUpstream{status: http.StatusOK, body: `{"properties":{"rows":[[3]]}}`}
	h := setupTest(up, nil, "")

	r := chi.NewRouter()
	r.Get("/api/query/{name}", h.HandleQuery)

	req := authed(httptest.NewRequest(http.MethodGet, "/api/query/tenant-cost", nil), "abc123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, up.calls, 1)
	assert.Equal(t, arm.QueryTenantCost, up.calls[0].query)

	req = authed(httptest.NewRequest(http.MethodGet, "/api/query/unknown", nil), "abc123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, up.calls, 1)
}

func TestHandle_RateLimited(t *testing.T) {
	up := &mockUpstream{status: http.StatusOK, body: `{"value":[]}`}
	store := &mockLimiterStore{allowed: false}
	h := setupTest(up, store, "")

	req := authed(httptest.NewRequest(http.MethodGet, "/api/GetSubscriptions", nil), "abc123")
	w := httptest.NewRecorder()
	h.HandleSubscriptions(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Empty(t, up.calls)

	require.Len(t, store.keys, 1)
	assert.Equal(t, "ratelimit:caller:"+auth.CallerKey("abc123"), store.keys[0])
	assert.NotContains(t, store.keys[0], "abc123")
}

func TestHandle_RateLimiterFailsOpen(t *testing.T) {
	up := &mockUpstream{status: http.StatusOK, body: `{"value":[]}`}
	h := setupTest(up, &mockLimiterStore{err: errors.New("redis down")}, "")

	req := authed(httptest.NewRequest(http.MethodGet, "/api/GetSubscriptions", nil), "abc123")
	w := httptest.NewRecorder()
	h.HandleSubscriptions(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, up.calls, 1)
}

func TestHandle_RateLimitSkippedWithoutToken(t *testing.T) {
	up := &mockUpstream{status: http.StatusOK, body: `{"value":[]}`}
	store := &mockLimiterStore{allowed: true}
	h := setupTest(up, store, "")

	req := httptest.NewRequest(http.MethodGet, "/api/GetSubscriptions", nil)
	w := httptest.NewRecorder()
	h.HandleSubscriptions(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, store.keys)
}

func TestHandle_InvalidSubscriptionSkipsRateLimit(t *testing.T) {
	up := &mockUpstream{status: http.StatusOK, body: `{}`}
	store := &mockLimiterStore{allowed: false}
	h := setupTest(up, store, "")

	req := authed(httptest.NewRequest(http.MethodGet, "/api/GetBillingData?subscriptionId=not-a-uuid", nil), "abc123")
	w := httptest.NewRecorder()
	h.HandleSubscriptionCost(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, store.keys)
	assert.Empty(t, up.calls)
}
