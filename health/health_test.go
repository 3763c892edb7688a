package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerAlwaysOK(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyHandler(t *testing.T) {
	registry := NewRegistry()
	failing := errors.New("backend unreachable")
	var healthy bool
	registry.Register("storage", CheckFunc(func(context.Context) error {
		if healthy {
			return nil
		}
		return failing
	}))

	rec := httptest.NewRecorder()
	ReadyHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "backend unreachable")

	healthy = true
	rec = httptest.NewRecorder()
	ReadyHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCheckStatusTimeout(t *testing.T) {
	registry := NewRegistry()
	registry.Register("slow", CheckFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	registry.Timeout = 0

	failures := registry.CheckStatus(context.Background())
	assert.Contains(t, failures, "slow")
}
