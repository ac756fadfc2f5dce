package integration

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/erp/woosync/internal/domain/integration"
)

// StreamReport is the end-of-run summary of one stream
type StreamReport struct {
	Stream   integration.StreamKind `json:"stream" yaml:"stream"`
	Status   integration.SyncStatus `json:"status" yaml:"status"`
	Total    int                    `json:"total" yaml:"total"`
	Success  int                    `json:"success" yaml:"success"`
	Updated  int                    `json:"updated" yaml:"updated"`
	Existing int                    `json:"existing" yaml:"existing"`
	Fail     int                    `json:"fail" yaml:"fail"`
	Errors   []string               `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// RunReport is the export summary handed to the job runner.
type RunReport struct {
	RunID      uuid.UUID      `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time      `json:"finished_at" yaml:"finished_at"`
	Streams    []StreamReport `json:"streams" yaml:"streams"`
}

// NewRunReport summarizes state. Streams appear in dispatch order, unknown
// stream names last.
func NewRunReport(runID uuid.UUID, started, finished time.Time, state *integration.SyncState) *RunReport {
	report := &RunReport{RunID: runID, StartedAt: started, FinishedAt: finished, Streams: []StreamReport{}}
	for kind, summary := range state.Summary {
		if summary == nil || summary.Total() == 0 {
			continue
		}
		report.Streams = append(report.Streams, StreamReport{
			Stream:   kind,
			Status:   summary.Status(),
			Total:    summary.Total(),
			Success:  summary.Success,
			Updated:  summary.Updated,
			Existing: summary.Existing,
			Fail:     summary.Fail,
			Errors:   append([]string(nil), summary.Errors...),
		})
	}
	slices.SortFunc(report.Streams, func(a, b StreamReport) int {
		if d := a.Stream.Priority() - b.Stream.Priority(); d != 0 {
			return d
		}
		return strings.Compare(string(a.Stream), string(b.Stream))
	})
	return report
}

// Failed returns the total number of failed records
func (r *RunReport) Failed() int {
	n := 0
	for _, s := range r.Streams {
		n += s.Fail
	}
	return n
}

// Encode renders the report as "json", "yaml" or "text"
func (r *RunReport) Encode(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return []byte(r.String()), nil
	case "json":
		return json.MarshalIndent(r, "", "  ")
	case "yaml", "yml":
		return yaml.Marshal(r)
	default:
		return nil, fmt.Errorf("unknown summary format %q", format)
	}
}

// String renders the human-readable summary
func (r *RunReport) String() string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "EXPORT SUMMARY REPORT")
	fmt.Fprintln(&b, rule)
	if len(r.Streams) == 0 {
		fmt.Fprintln(&b, "No records processed")
	}
	for _, s := range r.Streams {
		fmt.Fprintf(&b, "%s [%s]: total=%d success=%d updated=%d existing=%d fail=%d\n",
			s.Stream, s.Status, s.Total, s.Success, s.Updated, s.Existing, s.Fail)
		for _, msg := range s.Errors {
			fmt.Fprintf(&b, "  - %s\n", msg)
		}
	}
	fmt.Fprintln(&b, rule)
	return b.String()
}

// Log writes one structured line per stream
func (r *RunReport) Log(logger *zap.Logger) {
	for _, s := range r.Streams {
		logger.Info("Export summary",
			zap.String("run_id", r.RunID.String()),
			zap.String("stream", s.Stream.String()),
			zap.String("status", s.Status.String()),
			zap.Int("total", s.Total),
			zap.Int("success", s.Success),
			zap.Int("updated", s.Updated),
			zap.Int("existing", s.Existing),
			zap.Int("fail", s.Fail),
			zap.Strings("errors", s.Errors),
		)
	}
}
