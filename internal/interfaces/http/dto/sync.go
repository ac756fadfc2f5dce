package dto

import (
	appintegration "github.com/erp/woosync/internal/application/integration"
	"github.com/erp/woosync/internal/domain/integration"
)

// IngestRecordsRequest is the JSON body of POST /sync/records
type IngestRecordsRequest struct {
	Records []integration.InboundRecord `json:"records" binding:"required,min=1"`
}

// IngestRecordsResponse reports one outcome per submitted record, in order
type IngestRecordsResponse struct {
	Outcomes []integration.Outcome     `json:"outcomes"`
	Summary  *appintegration.RunReport `json:"summary"`
}

// HealthResponse is the body of GET /healthz
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
