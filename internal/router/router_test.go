package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/trnrg/zeapi-identity-go/internal/identity"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	log := zap.NewNop().Sugar()
	handler := identity.NewHandler(nil, nil, log)
	return RegisterRoutes(log, db, handler)
}

func TestHealth(t *testing.T) {
	h := testRouter(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestUnknownRoute(t *testing.T) {
	h := testRouter(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLoggingMiddleware_EchoesRequestID(t *testing.T) {
	mw := LoggingMiddleware(zap.NewNop().Sugar())
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}
