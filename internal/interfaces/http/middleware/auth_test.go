package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/erp/woosync/internal/infrastructure/auth"
	"github.com/erp/woosync/internal/interfaces/http/dto"
)

func TestJWTAuth(t *testing.T) {
	svc, err := auth.NewJWTService(auth.Config{Secret: "test-secret", Issuer: "erp"})
	require.NoError(t, err)
	token, _, err := svc.GenerateToken("erp-outbox", time.Hour)
	require.NoError(t, err)
	expired, _, err := svc.GenerateToken("erp-outbox", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name        string
		header      string
		wantStatus  int
		wantMessage string
	}{
		{"valid token", "Bearer " + token, http.StatusOK, ""},
		{"missing header", "", http.StatusUnauthorized, "Authentication required"},
		{"basic scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, "Authentication required"},
		{"empty bearer", "Bearer ", http.StatusUnauthorized, "Authentication required"},
		{"tampered token", "Bearer " + token + "x", http.StatusUnauthorized, "Authentication required"},
		{"expired token", "Bearer " + expired, http.StatusUnauthorized, "Token has expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := gin.New()
			engine.Use(RequestID(), JWTAuth(svc, zap.NewNop()))
			var subject string
			engine.POST("/api/v1/sync/records", func(c *gin.Context) {
				subject = c.GetString(AuthSubjectKey)
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/records", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "erp-outbox", subject)
				return
			}

			assert.Empty(t, subject, "handler must not run")
			assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
			var resp dto.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, dto.ErrCodeUnauthorized, resp.Error.Code)
			assert.Equal(t, tt.wantMessage, resp.Error.Message)
			assert.NotEmpty(t, resp.Error.RequestID)
		})
	}
}

func TestJWTAuth_NilValidatorIsOpen(t *testing.T) {
	engine := gin.New()
	engine.Use(JWTAuth(nil, nil))
	engine.GET("/open", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/open", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
