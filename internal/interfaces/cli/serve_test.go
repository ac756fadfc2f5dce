package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/woosync/internal/infrastructure/config"
)

func TestNewHTTPServer(t *testing.T) {
	store := newFakeStore(t)
	f := newRunFixture(t, store.URL)

	cfg, err := config.Load(f.configPath)
	require.NoError(t, err)
	cfg.HTTP.Port = "18080"

	a, err := newApp(context.Background(), cfg, "test")
	require.NoError(t, err)
	t.Cleanup(func() { a.close(context.Background()) })

	srv := newHTTPServer(a, &ServeOptions{RootOptions: &RootOptions{Version: "test"}, MaxRecords: 10})
	assert.Equal(t, ":18080", srv.Addr)
	assert.Equal(t, cfg.HTTP.WriteTimeout, srv.WriteTimeout)

	t.Run("ingest applies records once", func(t *testing.T) {
		body := `{"records": [{"stream": "OrderNotes", "record": {"order_id": 9, "note": "Gift wrap"}}]}`
		for range 2 {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/records", strings.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			srv.Handler.ServeHTTP(w, req)
			require.Equal(t, http.StatusOK, w.Code)
		}
		assert.Equal(t, int32(1), store.notes.Load())
	})

	t.Run("summary and state reflect the last request", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sync/summary", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"existing":1`)

		w = httptest.NewRecorder()
		srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sync/state", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"OrderNotes"`)
	})

	t.Run("metrics count records", func(t *testing.T) {
		w := httptest.NewRecorder()
		srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "woosync_records_total")
	})
}

func TestNewHTTPServer_Auth(t *testing.T) {
	store := newFakeStore(t)
	f := newRunFixture(t, store.URL)

	cfg, err := config.Load(f.configPath)
	require.NoError(t, err)
	cfg.HTTP.Auth.JWTSecret = "test-secret"

	a, err := newApp(context.Background(), cfg, "test")
	require.NoError(t, err)
	t.Cleanup(func() { a.close(context.Background()) })
	require.NotNil(t, a.auth)

	srv := newHTTPServer(a, &ServeOptions{RootOptions: &RootOptions{Version: "test"}, MaxRecords: 10})

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sync/state", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, _, err := a.auth.GenerateToken("erp-outbox", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/state", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
