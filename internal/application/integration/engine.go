package integration

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/erp/woosync/internal/domain/integration"
	applog "github.com/erp/woosync/internal/infrastructure/logger"
	"github.com/erp/woosync/internal/infrastructure/telemetry"
)

// ReferenceFactory creates the reference data owned by one sink
type ReferenceFactory func() integration.ReferenceData

// Engine reconciles inbound records against the platform. It holds no run
// state; every run gets its own RunContext.
type Engine struct {
	api        integration.RemoteAPI
	references ReferenceFactory
	policy     SyncPolicy
	logger     *zap.Logger
	metrics    *telemetry.SyncMetrics
}

// EngineOption is a functional option for configuring Engine
type EngineOption func(*Engine)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *telemetry.SyncMetrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an Engine
func NewEngine(api integration.RemoteAPI, references ReferenceFactory, policy SyncPolicy, opts ...EngineOption) *Engine {
	e := &Engine{
		api:        api,
		references: references,
		policy:     policy.withDefaults(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the effective policy
func (e *Engine) Policy() SyncPolicy {
	return e.policy
}

// NewRun starts a run from a previously emitted state; nil starts fresh.
func (e *Engine) NewRun(state *integration.SyncState) *RunContext {
	id := uuid.New()
	return &RunContext{
		ID:        id,
		StartedAt: time.Now(),
		engine:    e,
		tracker:   NewOutcomeTracker(state, e.policy.ErrorSampleSize, e.metrics),
		logger:    e.logger.With(zap.String("run_id", id.String())),
		sinks:     make(map[integration.StreamKind]Sink),
	}
}

// RunContext is the state of one synchronization run: its sinks, their
// reference caches and the outcome tracker.
type RunContext struct {
	ID        uuid.UUID
	StartedAt time.Time

	engine  *Engine
	tracker *OutcomeTracker
	logger  *zap.Logger

	mu    sync.Mutex
	sinks map[integration.StreamKind]Sink
}

// ProcessBatch processes records and returns one outcome per record in input
// order. Records of one stream are processed sequentially; distinct streams
// run concurrently up to MaxParallelStreams. Per-record failures are reported
// in the outcomes, never returned.
func (r *RunContext) ProcessBatch(ctx context.Context, records []integration.InboundRecord) []integration.Outcome {
	outcomes := make([]integration.Outcome, len(records))
	groups := make(map[integration.StreamKind][]int)
	ctx = applog.WithRunID(applog.WithContext(ctx, r.engine.logger), r.ID.String())

	for i, rec := range records {
		kind, err := integration.ParseStreamKind(rec.Stream)
		if err != nil {
			outcomes[i] = r.finish(applog.WithStream(ctx, rec.Stream), failed(integration.StreamKind(rec.Stream), integration.RawFingerprint(integration.StreamKind(rec.Stream), rec.Data), err))
			continue
		}
		groups[kind] = append(groups[kind], i)
	}

	kinds := make([]integration.StreamKind, 0, len(groups))
	for kind := range groups {
		kinds = append(kinds, kind)
	}
	slices.SortFunc(kinds, func(a, b integration.StreamKind) int { return a.Priority() - b.Priority() })

	var g errgroup.Group
	g.SetLimit(r.engine.policy.MaxParallelStreams)
	for _, kind := range kinds {
		indexes := groups[kind]
		g.Go(func() error {
			sink, err := r.sink(kind)
			telemetry.WithProfilingLabels(ctx, map[string]string{telemetry.ProfilingLabelStream: kind.String()}, func(ctx context.Context) {
				for _, i := range indexes {
					outcomes[i] = r.processRecord(ctx, sink, err, kind, records[i])
				}
			})
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// State returns a snapshot of the run's sync state
func (r *RunContext) State() *integration.SyncState {
	return r.tracker.Snapshot()
}

// Report builds the run summary from the current state
func (r *RunContext) Report() *RunReport {
	return NewRunReport(r.ID, r.StartedAt, time.Now(), r.tracker.Snapshot())
}

// sink returns the stream's sink, creating it with fresh reference data on
// first use.
func (r *RunContext) sink(kind integration.StreamKind) (Sink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sinks[kind]; ok {
		return s, nil
	}

	logger := r.logger.With(zap.String("stream", kind.String()))
	s, err := newSink(kind, sinkDeps{
		api:      r.engine.api,
		resolver: NewEntityResolver(r.engine.references(), r.engine.api, logger),
		policy:   r.engine.policy,
		logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	r.sinks[kind] = s
	return s, nil
}

func (r *RunContext) processRecord(ctx context.Context, sink Sink, sinkErr error, kind integration.StreamKind, rec integration.InboundRecord) integration.Outcome {
	ctx, span := telemetry.StartSpan(ctx, "sync.record",
		telemetry.WithSpanKind(trace.SpanKindInternal),
		telemetry.WithAttribute(telemetry.SpanAttrStream, kind.String()),
	)
	defer span.End()
	ctx = applog.WithStream(ctx, kind.String())

	var outcome integration.Outcome
	if sinkErr != nil {
		outcome = failed(kind, integration.RawFingerprint(kind, rec.Data), sinkErr)
	} else {
		outcome = r.process(ctx, sink, kind, rec)
	}

	telemetry.SetAttributes(span,
		telemetry.SpanAttrFingerprint, outcome.Fingerprint,
		telemetry.SpanAttrOutcome, string(outcome.Status),
	)
	if outcome.RemoteID != nil {
		telemetry.SetAttributes(span, telemetry.SpanAttrRemoteID, *outcome.RemoteID)
	}
	if outcome.Err != nil {
		telemetry.RecordError(span, outcome.Err)
	}
	return r.finish(ctx, outcome)
}

func (r *RunContext) process(ctx context.Context, sink Sink, kind integration.StreamKind, rec integration.InboundRecord) integration.Outcome {
	raw := integration.RawFingerprint(kind, rec.Data)

	if err := ctx.Err(); err != nil {
		return failed(kind, raw, err)
	}

	decoded, err := integration.DecodeRecord(kind, rec.Data)
	if err != nil {
		return failed(kind, raw, err)
	}

	plan, err := sink.Prepare(ctx, decoded)
	if err != nil {
		return failed(kind, raw, err)
	}

	fingerprint, err := integration.Fingerprint(kind, plan.Payload)
	if err != nil {
		return failed(kind, raw, fmt.Errorf("%w: %v", integration.ErrInvalidRecord, err))
	}

	if remoteID, ok := r.tracker.AlreadyApplied(kind, fingerprint); ok {
		return integration.Outcome{
			Stream:      kind,
			Fingerprint: fingerprint,
			Status:      integration.OutcomeExisting,
			RemoteID:    remoteID,
		}
	}

	applied, err := plan.Apply(ctx)
	outcome := integration.Outcome{Stream: kind, Fingerprint: fingerprint}
	if applied.RemoteID != 0 {
		id := applied.RemoteID
		outcome.RemoteID = &id
	}
	switch {
	case err != nil:
		outcome.Status = integration.OutcomeFailed
		outcome.Err = err
	case applied.Updated:
		outcome.Status = integration.OutcomeUpdated
	default:
		outcome.Status = integration.OutcomeCreated
	}
	return outcome
}

// finish records outcome and logs it
func (r *RunContext) finish(ctx context.Context, outcome integration.Outcome) integration.Outcome {
	r.tracker.Record(outcome)

	log := applog.L(ctx)
	if outcome.Err != nil {
		log.Error("Failed to process record",
			zap.String("fingerprint", outcome.Fingerprint),
			zap.String("class", integration.ClassifyError(outcome.Err).String()),
			zap.Error(outcome.Err),
		)
		return outcome
	}
	fields := []zap.Field{
		zap.String("fingerprint", outcome.Fingerprint),
		zap.String("status", string(outcome.Status)),
	}
	if outcome.RemoteID != nil {
		fields = append(fields, zap.Int64("remote_id", *outcome.RemoteID))
	}
	log.Info("Record processed", fields...)
	return outcome
}

func failed(kind integration.StreamKind, fingerprint string, err error) integration.Outcome {
	return integration.Outcome{
		Stream:      kind,
		Fingerprint: fingerprint,
		Status:      integration.OutcomeFailed,
		Err:         err,
	}
}
