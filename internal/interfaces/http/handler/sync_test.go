package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appintegration "github.com/erp/woosync/internal/application/integration"
	"github.com/erp/woosync/internal/domain/integration"
	"github.com/erp/woosync/internal/interfaces/http/dto"
	"github.com/erp/woosync/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSyncService struct {
	received []integration.InboundRecord
	state    *integration.SyncState
	report   *appintegration.RunReport
	saveErr  error
	stateErr error
}

func (f *fakeSyncService) ProcessRecords(_ context.Context, records []integration.InboundRecord) ([]integration.Outcome, *appintegration.RunReport, error) {
	f.received = append(f.received, records...)
	outcomes := make([]integration.Outcome, len(records))
	for i, rec := range records {
		id := int64(100 + i)
		outcomes[i] = integration.Outcome{
			Stream:      integration.StreamKind(rec.Stream),
			Fingerprint: "fp",
			Status:      integration.OutcomeCreated,
			RemoteID:    &id,
		}
	}
	report := &appintegration.RunReport{RunID: uuid.New(), StartedAt: time.Now(), FinishedAt: time.Now(), Streams: []appintegration.StreamReport{}}
	f.report = report
	return outcomes, report, f.saveErr
}

func (f *fakeSyncService) State(context.Context) (*integration.SyncState, error) {
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	if f.state == nil {
		return integration.NewSyncState(), nil
	}
	return f.state, nil
}

func (f *fakeSyncService) LastReport() *appintegration.RunReport {
	return f.report
}

func setupSyncRouter(svc SyncService, maxRecords int) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.RequestID())
	NewSyncHandler(svc, maxRecords).RegisterRoutes(engine.Group("/api/v1"))
	return engine
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) dto.Response {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestSyncHandler_IngestRecords(t *testing.T) {
	t.Run("json body", func(t *testing.T) {
		svc := &fakeSyncService{}
		router := setupSyncRouter(svc, 0)

		body := `{"records": [
			{"stream": "Products", "record": {"sku": "A-1"}},
			{"stream": "Inventory", "record": {"sku": "A-1", "quantity": 3}}
		]}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/records", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, svc.received, 2)
		assert.Equal(t, "Products", svc.received[0].Stream)
		assert.JSONEq(t, `{"sku": "A-1"}`, string(svc.received[0].Data))

		var resp struct {
			Success bool                      `json:"success"`
			Data    dto.IngestRecordsResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		require.Len(t, resp.Data.Outcomes, 2)
		assert.Equal(t, integration.OutcomeCreated, resp.Data.Outcomes[0].Status)
		require.NotNil(t, resp.Data.Summary)
	})

	t.Run("jsonl body", func(t *testing.T) {
		svc := &fakeSyncService{}
		router := setupSyncRouter(svc, 0)

		body := strings.Join([]string{
			`{"type": "SCHEMA", "stream": "Products", "schema": {}}`,
			`{"type": "RECORD", "stream": "Products", "record": {"sku": "A-1"}}`,
			``,
			`{"type": "RECORD", "stream": "Orders", "record": {"id": 7}}`,
			`{"type": "STATE", "value": {}}`,
		}, "\n")
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/records", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/x-ndjson")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, svc.received, 2)
		assert.Equal(t, "Products", svc.received[0].Stream)
		assert.Equal(t, "Orders", svc.received[1].Stream)
	})

	t.Run("state save failure", func(t *testing.T) {
		svc := &fakeSyncService{saveErr: errors.New("redis down")}
		router := setupSyncRouter(svc, 0)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/records",
			strings.NewReader(`{"records": [{"stream": "Products", "record": {}}]}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(middleware.RequestIDHeader, "req-42")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		resp := decodeResponse(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeStateUnavailable, resp.Error.Code)
		assert.Equal(t, "req-42", resp.Error.RequestID)
		assert.NotContains(t, resp.Error.Message, "redis down")
	})
}

func TestSyncHandler_IngestRecords_Rejects(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		maxRecords  int
		wantStatus  int
		wantCode    string
	}{
		{
			name:        "malformed json",
			contentType: "application/json",
			body:        `{"records": [`,
			wantStatus:  http.StatusBadRequest,
			wantCode:    dto.ErrCodeBadRequest,
		},
		{
			name:        "empty records",
			contentType: "application/json",
			body:        `{"records": []}`,
			wantStatus:  http.StatusBadRequest,
			wantCode:    dto.ErrCodeBadRequest,
		},
		{
			name:        "missing records",
			contentType: "application/json",
			body:        `{}`,
			wantStatus:  http.StatusBadRequest,
			wantCode:    dto.ErrCodeBadRequest,
		},
		{
			name:        "too many json records",
			contentType: "application/json",
			body:        `{"records": [{"stream": "Products", "record": {}}, {"stream": "Products", "record": {}}]}`,
			maxRecords:  1,
			wantStatus:  http.StatusBadRequest,
			wantCode:    dto.ErrCodeBadRequest,
		},
		{
			name:        "jsonl without records",
			contentType: "application/x-ndjson",
			body:        `{"type": "STATE", "value": {}}`,
			wantStatus:  http.StatusBadRequest,
			wantCode:    dto.ErrCodeBadRequest,
		},
		{
			name:        "too many jsonl records",
			contentType: "application/jsonl",
			body:        "{\"type\": \"RECORD\", \"stream\": \"Products\", \"record\": {}}\n{\"type\": \"RECORD\", \"stream\": \"Products\", \"record\": {}}\n",
			maxRecords:  1,
			wantStatus:  http.StatusBadRequest,
			wantCode:    dto.ErrCodeBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeSyncService{}
			router := setupSyncRouter(svc, tt.maxRecords)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/records", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeResponse(t, w)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Empty(t, svc.received)
		})
	}
}

func TestSyncHandler_IngestRecords_BodyTooLarge(t *testing.T) {
	svc := &fakeSyncService{}
	engine := gin.New()
	engine.Use(middleware.RequestID())
	engine.Use(func(c *gin.Context) {
		// Hide the length so the streaming limit is what trips
		c.Request.ContentLength = -1
		c.Next()
	})
	engine.Use(middleware.BodyLimit(16))
	NewSyncHandler(svc, 0).RegisterRoutes(engine.Group("/api/v1"))

	body := `{"type": "RECORD", "stream": "Products", "record": {"sku": "a-very-long-sku"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/records", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-ndjson")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeRequestTooLarge, resp.Error.Code)
	assert.Empty(t, svc.received)
}

func TestSyncHandler_GetState(t *testing.T) {
	t.Run("returns stored state", func(t *testing.T) {
		state := integration.NewSyncState()
		state.Summary[integration.StreamProducts] = &integration.StreamSummary{Success: 2}
		router := setupSyncRouter(&fakeSyncService{state: state}, 0)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sync/state", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Data integration.SyncState `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Contains(t, resp.Data.Summary, integration.StreamProducts)
		assert.Equal(t, 2, resp.Data.Summary[integration.StreamProducts].Success)
	})

	t.Run("store failure", func(t *testing.T) {
		router := setupSyncRouter(&fakeSyncService{stateErr: errors.New("bucket gone")}, 0)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sync/state", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		resp := decodeResponse(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeStateUnavailable, resp.Error.Code)
	})
}

func TestSyncHandler_GetSummary(t *testing.T) {
	t.Run("no run yet", func(t *testing.T) {
		router := setupSyncRouter(&fakeSyncService{}, 0)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sync/summary", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
		resp := decodeResponse(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeNotFound, resp.Error.Code)
	})

	t.Run("after a run", func(t *testing.T) {
		report := &appintegration.RunReport{
			RunID: uuid.New(),
			Streams: []appintegration.StreamReport{
				{Stream: integration.StreamProducts, Total: 3, Success: 2, Fail: 1},
			},
		}
		router := setupSyncRouter(&fakeSyncService{report: report}, 0)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sync/summary", nil))

		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Data appintegration.RunReport `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, report.RunID, resp.Data.RunID)
		require.Len(t, resp.Data.Streams, 1)
		assert.Equal(t, 1, resp.Data.Streams[0].Fail)
	})
}

func TestHealthHandler(t *testing.T) {
	engine := gin.New()
	engine.GET("/healthz", NewHealthHandler("1.2.3").Health)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success": true, "data": {"status": "ok", "version": "1.2.3"}}`, w.Body.String())
}
