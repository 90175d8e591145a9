package gin_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	ginpkg "github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	infragin "github.com/jonesrussell/north-cloud/guardrail/infrastructure/gin"
	"github.com/jonesrussell/north-cloud/guardrail/infrastructure/logger"
)

func newTestRouter(t *testing.T, handler ginpkg.HandlerFunc) *ginpkg.Engine {
	t.Helper()

	ginpkg.SetMode(ginpkg.TestMode)
	router := ginpkg.New()
	router.Use(infragin.RecoveryMiddleware(logger.NewNop()), infragin.RequestIDLoggerMiddleware(logger.NewNop()))
	if handler == nil {
		handler = func(c *ginpkg.Context) { c.String(http.StatusOK, "ok") }
	}
	router.GET("/test", handler)
	return router
}

func serve(router http.Handler, header string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	if header != "" {
		req.Header.Set(infragin.RequestIDHeader, header)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestRequestIDLoggerMiddleware_GeneratesID(t *testing.T) {
	t.Parallel()

	w := serve(newTestRouter(t, nil), "")

	id := w.Header().Get(infragin.RequestIDHeader)
	assert.Len(t, id, 32)
}

func TestRequestIDLoggerMiddleware_PreservesInboundID(t *testing.T) {
	t.Parallel()

	const inbound = "trace-from-upstream-abc123"
	var ctxID any
	router := newTestRouter(t, func(c *ginpkg.Context) {
		ctxID, _ = c.Get(infragin.RequestIDKey)
		c.Status(http.StatusOK)
	})

	w := serve(router, inbound)

	assert.Equal(t, inbound, w.Header().Get(infragin.RequestIDHeader))
	assert.Equal(t, inbound, ctxID)
}

func TestRequestIDLoggerMiddleware_ReplacesInvalidID(t *testing.T) {
	t.Parallel()

	for _, bad := range []string{strings.Repeat("x", 200), "has space"} {
		w := serve(newTestRouter(t, nil), bad)
		got := w.Header().Get(infragin.RequestIDHeader)
		assert.NotEqual(t, bad, got)
		assert.Len(t, got, 32)
	}
}

func TestRequestIDLoggerMiddleware_StoresLoggerInContext(t *testing.T) {
	t.Parallel()

	var got logger.Logger
	router := newTestRouter(t, func(c *ginpkg.Context) {
		got = logger.FromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	serve(router, "")
	require.NotNil(t, got)
}

func TestRequestIDLoggerMiddleware_UniqueIDs(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, nil)
	seen := make(map[string]bool)
	for range 100 {
		id := serve(router, "").Header().Get(infragin.RequestIDHeader)
		require.False(t, seen[id], "duplicate request id %s", id)
		seen[id] = true
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, func(*ginpkg.Context) { panic(errors.New("boom")) })

	w := serve(router, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
}

func TestCORSMiddleware(t *testing.T) {
	t.Parallel()

	ginpkg.SetMode(ginpkg.TestMode)
	router := ginpkg.New()
	router.Use(infragin.CORSMiddleware(infragin.CORSConfig{Enabled: true, AllowedOrigins: []string{"https://ok.example"}}))
	router.POST("/x", func(c *ginpkg.Context) { c.Status(http.StatusOK) })

	preflight := httptest.NewRequest(http.MethodOptions, "/x", http.NoBody)
	preflight.Header.Set("Origin", "https://ok.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, preflight)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ok.example", w.Header().Get("Access-Control-Allow-Origin"))

	denied := httptest.NewRequest(http.MethodPost, "/x", http.NoBody)
	denied.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, denied)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
