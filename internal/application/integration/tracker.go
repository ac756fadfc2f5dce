package integration

import (
	"sync"

	"github.com/erp/woosync/internal/domain/integration"
	"github.com/erp/woosync/internal/infrastructure/telemetry"
)

// OutcomeTracker folds record outcomes into the sync state: one bookmark and
// one counter per processed record.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type OutcomeTracker struct {
	mu          sync.Mutex
	state       *integration.SyncState
	applied     map[integration.StreamKind]map[string]int64
	sampleLimit int
	metrics     *telemetry.SyncMetrics
}

// NewOutcomeTracker indexes the successful bookmarks of state. A nil state
// starts empty. The tracker owns state from here on.
func NewOutcomeTracker(state *integration.SyncState, sampleLimit int, metrics *telemetry.SyncMetrics) *OutcomeTracker {
	if state == nil {
		state = integration.NewSyncState()
	}
	if sampleLimit <= 0 {
		sampleLimit = DefaultErrorSampleSize
	}
	t := &OutcomeTracker{
		state:       state,
		applied:     make(map[integration.StreamKind]map[string]int64),
		sampleLimit: sampleLimit,
		metrics:     metrics,
	}
	for stream, marks := range state.Bookmarks {
		for _, mark := range marks {
			if mark.Success {
				t.index(stream, mark)
			}
		}
	}
	return t
}

// AlreadyApplied reports whether fingerprint has a successful bookmark on stream
func (t *OutcomeTracker) AlreadyApplied(stream integration.StreamKind, fingerprint string) (*int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.applied[stream][fingerprint]
	if !ok {
		return nil, false
	}
	if id == 0 {
		return nil, true
	}
	return &id, true
}

// Record accounts for one outcome. Existing outcomes bump the counter only;
// every other status also appends a bookmark.
func (t *OutcomeTracker) Record(outcome integration.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	summary := t.state.EnsureStream(outcome.Stream)
	t.metrics.ObserveRecord(string(outcome.Stream), string(outcome.Status))

	switch outcome.Status {
	case integration.OutcomeExisting:
		summary.Existing++
		return
	case integration.OutcomeCreated:
		summary.Success++
	case integration.OutcomeUpdated:
		summary.Updated++
	default:
		summary.Fail++
		if outcome.Err != nil && len(summary.Errors) < t.sampleLimit {
			summary.Errors = append(summary.Errors, outcome.Err.Error())
		}
	}

	mark := integration.Bookmark{
		Fingerprint: outcome.Fingerprint,
		Success:     outcome.Succeeded(),
		RemoteID:    outcome.RemoteID,
	}
	t.state.Bookmarks[outcome.Stream] = append(t.state.Bookmarks[outcome.Stream], mark)
	if mark.Success {
		t.index(outcome.Stream, mark)
	}
}

// Snapshot returns a copy of the current state
func (t *OutcomeTracker) Snapshot() *integration.SyncState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Clone()
}

// index must be called with mu held (or before the tracker is shared)
func (t *OutcomeTracker) index(stream integration.StreamKind, mark integration.Bookmark) {
	byFingerprint, ok := t.applied[stream]
	if !ok {
		byFingerprint = make(map[string]int64)
		t.applied[stream] = byFingerprint
	}
	var id int64
	if mark.RemoteID != nil {
		id = *mark.RemoteID
	}
	byFingerprint[mark.Fingerprint] = id
}
