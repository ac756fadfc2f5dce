package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/erp/woosync/internal/interfaces/http/dto"
)

// HealthHandler answers liveness probes
type HealthHandler struct {
	BaseHandler
	version string
}

// NewHealthHandler creates a HealthHandler reporting version
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{version: version}
}

// Health reports that the process is serving
func (h *HealthHandler) Health(c *gin.Context) {
	h.Success(c, dto.HealthResponse{Status: "ok", Version: h.version})
}
