package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/erp/woosync/internal/domain/integration"
)

// RecordSource delivers inbound records in batches.
type RecordSource interface {
	// ReadBatch returns up to max records; io.EOF once the source is exhausted
	ReadBatch(ctx context.Context, max int) ([]integration.InboundRecord, error)
	// Commit acknowledges every record returned so far
	Commit(ctx context.Context) error
}

// StateDrain receives the sync state at every drain point.
type StateDrain interface {
	Save(ctx context.Context, state *integration.SyncState) error
}

// DefaultBatchSize is the number of records processed between drains
const DefaultBatchSize = 100

// SyncService runs the engine over a source and drains the state after
// every batch.
type SyncService struct {
	engine    *Engine
	store     integration.StateStore
	drains    []StateDrain
	batchSize int
	logger    *zap.Logger

	// mu serializes runs
	mu sync.Mutex

	reportMu   sync.Mutex
	lastReport *RunReport
}

// NewSyncService creates a SyncService. store provides the initial state and
// is always drained; extra drains (e.g. a Singer STATE writer) follow it.
func NewSyncService(engine *Engine, store integration.StateStore, batchSize int, logger *zap.Logger, drains ...StateDrain) *SyncService {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		engine:    engine,
		store:     store,
		drains:    drains,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run processes src to exhaustion. The summary is returned even when the
// run stops early; the error is set only for source, state or drain failures.
func (s *SyncService) Run(ctx context.Context, src RecordSource) (report *RunReport, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadState(ctx)
	if err != nil {
		return nil, err
	}
	run := s.engine.NewRun(state)
	s.logger.Info("Sync run started", zap.String("run_id", run.ID.String()))

	defer func() {
		report = run.Report()
		s.setLastReport(report)
		s.logger.Info("Sync run finished",
			zap.String("run_id", run.ID.String()),
			zap.Int("failed", report.Failed()),
			zap.Error(err),
		)
	}()

	for {
		batch, readErr := src.ReadBatch(ctx, s.batchSize)
		if len(batch) > 0 {
			run.ProcessBatch(ctx, batch)
			if err := s.drain(ctx, run.State()); err != nil {
				return nil, err
			}
			if err := src.Commit(ctx); err != nil {
				return nil, fmt.Errorf("commit source: %w", err)
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil, nil
		}
		if readErr != nil {
			return nil, fmt.Errorf("read source: %w", readErr)
		}
	}
}

// ProcessRecords runs one batch as its own run against the stored state.
// Calls are serialized so concurrent batches never overwrite each other's
// state.
func (s *SyncService) ProcessRecords(ctx context.Context, records []integration.InboundRecord) ([]integration.Outcome, *RunReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadState(ctx)
	if err != nil {
		return nil, nil, err
	}
	run := s.engine.NewRun(state)
	outcomes := run.ProcessBatch(ctx, records)
	report := run.Report()
	s.setLastReport(report)
	if err := s.drain(ctx, run.State()); err != nil {
		return outcomes, report, err
	}
	return outcomes, report, nil
}

// State returns the stored state
func (s *SyncService) State(ctx context.Context) (*integration.SyncState, error) {
	return s.loadState(ctx)
}

// LastReport returns the summary of the most recent run, or nil
func (s *SyncService) LastReport() *RunReport {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	return s.lastReport
}

func (s *SyncService) setLastReport(r *RunReport) {
	s.reportMu.Lock()
	s.lastReport = r
	s.reportMu.Unlock()
}

func (s *SyncService) loadState(ctx context.Context) (*integration.SyncState, error) {
	state, err := s.store.Load(ctx)
	if errors.Is(err, integration.ErrStateNotFound) {
		return integration.NewSyncState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}
	return state, nil
}

func (s *SyncService) drain(ctx context.Context, state *integration.SyncState) error {
	if err := s.store.Save(ctx, state); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}
	for _, d := range s.drains {
		if err := d.Save(ctx, state); err != nil {
			return fmt.Errorf("drain sync state: %w", err)
		}
	}
	return nil
}
