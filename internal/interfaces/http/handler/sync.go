package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appintegration "github.com/erp/woosync/internal/application/integration"
	"github.com/erp/woosync/internal/domain/integration"
	"github.com/erp/woosync/internal/infrastructure/logger"
	"github.com/erp/woosync/internal/infrastructure/source"
	"github.com/erp/woosync/internal/interfaces/http/dto"
)

// SyncService is the application service behind the ingest API
type SyncService interface {
	ProcessRecords(ctx context.Context, records []integration.InboundRecord) ([]integration.Outcome, *appintegration.RunReport, error)
	State(ctx context.Context) (*integration.SyncState, error)
	LastReport() *appintegration.RunReport
}

// DefaultMaxRecords caps the records accepted by one ingest request
const DefaultMaxRecords = 10000

// JSONL content types accepted by IngestRecords
var jsonlContentTypes = map[string]bool{
	"application/x-ndjson":    true,
	"application/jsonl":       true,
	"application/x-jsonlines": true,
	"application/jsonlines":   true,
}

// SyncHandler serves the ingest API
type SyncHandler struct {
	BaseHandler
	service    SyncService
	maxRecords int
}

// NewSyncHandler creates a SyncHandler; maxRecords <= 0 uses DefaultMaxRecords
func NewSyncHandler(service SyncService, maxRecords int) *SyncHandler {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &SyncHandler{service: service, maxRecords: maxRecords}
}

// RegisterRoutes registers the /sync routes
func (h *SyncHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sync := rg.Group("/sync")
	sync.POST("/records", h.IngestRecords)
	sync.GET("/state", h.GetState)
	sync.GET("/summary", h.GetSummary)
}

// IngestRecords processes a batch of inbound records as one run.
// The body is either {"records": [...]} or, with a JSONL content type, a
// Singer-style message stream.
//
// @Summary      Ingest records
// @Tags         sync
// @Accept       json
// @Produce      json
// @Success      200  {object}  dto.Response{data=dto.IngestRecordsResponse}
// @Router       /sync/records [post]
func (h *SyncHandler) IngestRecords(c *gin.Context) {
	records, err := h.readRecords(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge, "Request body exceeds maximum allowed size")
			return
		}
		h.BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	outcomes, report, err := h.service.ProcessRecords(ctx, records)
	if err != nil {
		logger.L(ctx).Error("Failed to process records", zap.Error(err))
		h.Error(c, http.StatusInternalServerError, dto.ErrCodeStateUnavailable, "Sync state could not be loaded or saved")
		return
	}

	h.Success(c, dto.IngestRecordsResponse{Outcomes: outcomes, Summary: report})
}

// GetState returns the stored sync state
//
// @Summary      Get sync state
// @Tags         sync
// @Produce      json
// @Router       /sync/state [get]
func (h *SyncHandler) GetState(c *gin.Context) {
	state, err := h.service.State(c.Request.Context())
	if err != nil {
		logger.L(c.Request.Context()).Error("Failed to load sync state", zap.Error(err))
		h.Error(c, http.StatusServiceUnavailable, dto.ErrCodeStateUnavailable, "Sync state is unavailable")
		return
	}
	h.Success(c, state)
}

// GetSummary returns the summary of the most recent run
//
// @Summary      Get last run summary
// @Tags         sync
// @Produce      json
// @Router       /sync/summary [get]
func (h *SyncHandler) GetSummary(c *gin.Context) {
	report := h.service.LastReport()
	if report == nil {
		h.NotFound(c, "No run has finished yet")
		return
	}
	h.Success(c, report)
}

func (h *SyncHandler) readRecords(c *gin.Context) ([]integration.InboundRecord, error) {
	if jsonlContentTypes[c.ContentType()] {
		return h.readJSONL(c)
	}

	var req dto.IngestRecordsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if len(req.Records) > h.maxRecords {
		return nil, fmt.Errorf("too many records: %d (max %d)", len(req.Records), h.maxRecords)
	}
	return req.Records, nil
}

func (h *SyncHandler) readJSONL(c *gin.Context) ([]integration.InboundRecord, error) {
	src := source.NewJSONLSource(c.Request.Body, logger.GetGinLogger(c))
	var records []integration.InboundRecord
	for {
		batch, err := src.ReadBatch(c.Request.Context(), h.maxRecords+1-len(records))
		records = append(records, batch...)
		if len(records) > h.maxRecords {
			return nil, fmt.Errorf("too many records (max %d)", h.maxRecords)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(records) == 0 {
		return nil, errors.New("no RECORD messages in request body")
	}
	return records, nil
}
