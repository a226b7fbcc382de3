package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_RejectsOverBudgetPerIP(t *testing.T) {
	rules, err := NewRules(map[Action]Rule{ActionSearch: {Window: time.Minute, MaxRequests: 2}})
	require.NoError(t, err)
	limiter, _ := newRedisLimiter(t, rules)

	calls := 0
	handler := limiter.Middleware(ActionSearch, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/hoas/search", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do("9.9.9.9").Code)
	assert.Equal(t, http.StatusOK, do("9.9.9.9").Code)

	rec := do("9.9.9.9")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Contains(t, rec.Body.String(), "exceeded")

	assert.Equal(t, http.StatusOK, do("8.8.8.8").Code)
	assert.Equal(t, 3, calls)
}

func TestMiddleware_StoreFailure(t *testing.T) {
	limiter := NewLimiter(&stubStore{hitErr: errors.New("down")}, DefaultRules(), nil)
	handler := limiter.Middleware(ActionSearch, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("next must not be called")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background()))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWriteExceeded_IgnoresOtherErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	assert.False(t, WriteExceeded(rec, errors.New("other")))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_SpoofedForwardedHopKeepsBudget(t *testing.T) {
	rules, err := NewRules(map[Action]Rule{ActionSearch: {Window: time.Minute, MaxRequests: 1}})
	require.NoError(t, err)
	limiter, _ := newRedisLimiter(t, rules)

	handler := limiter.Middleware(ActionSearch, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/hoas/search", nil)
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("1.1.1.1, 9.9.9.9"))
	assert.Equal(t, http.StatusTooManyRequests, do("2.2.2.2, 9.9.9.9"))
	assert.Equal(t, http.StatusTooManyRequests, do("3.3.3.3, 9.9.9.9"))
}
