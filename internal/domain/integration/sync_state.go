package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// SyncStatus represents the overall result of a stream
// ---------------------------------------------------------------------------

// SyncStatus represents the overall result of a stream
type SyncStatus string

const (
	// SyncStatusSuccess indicates every record succeeded or already existed
	SyncStatusSuccess SyncStatus = "SUCCESS"
	// SyncStatusPartial indicates some records failed
	SyncStatusPartial SyncStatus = "PARTIAL"
	// SyncStatusFailed indicates every record failed
	SyncStatusFailed SyncStatus = "FAILED"
)

// String returns the string representation of SyncStatus
func (s SyncStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// OutcomeStatus
// ---------------------------------------------------------------------------

// OutcomeStatus is the result of processing one record
type OutcomeStatus string

const (
	// OutcomeCreated means the record was applied with a create call
	OutcomeCreated OutcomeStatus = "created"
	// OutcomeUpdated means the record was applied with an update call
	OutcomeUpdated OutcomeStatus = "updated"
	// OutcomeExisting means an identical payload was already applied
	OutcomeExisting OutcomeStatus = "existing"
	// OutcomeFailed means the record was not applied
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome is the explicit result of processing one record.
type Outcome struct {
	// Stream is the stream the record arrived on
	Stream StreamKind `json:"stream"`
	// Fingerprint identifies the mapped payload
	Fingerprint string `json:"fingerprint"`
	// Status is created, updated, existing or failed
	Status OutcomeStatus `json:"status"`
	// RemoteID is the platform id of the written entity, when known
	RemoteID *int64 `json:"remote_id,omitempty"`
	// Err is the failure cause for failed outcomes
	Err error `json:"-"`
}

// Succeeded returns true if the record was applied in this run
func (o Outcome) Succeeded() bool {
	return o.Status == OutcomeCreated || o.Status == OutcomeUpdated
}

// MarshalJSON adds the error message
func (o Outcome) MarshalJSON() ([]byte, error) {
	type plain Outcome
	out := struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain: plain(o)}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	return json.Marshal(out)
}

// ---------------------------------------------------------------------------
// SyncState
// ---------------------------------------------------------------------------

// Bookmark is one per-record outcome entry.
type Bookmark struct {
	Fingerprint string `json:"fingerprint"`
	Success     bool   `json:"success"`
	RemoteID    *int64 `json:"remote_id,omitempty"`
}

// StreamSummary holds the counters of one stream.
type StreamSummary struct {
	Success  int `json:"success"`
	Fail     int `json:"fail"`
	Existing int `json:"existing"`
	Updated  int `json:"updated"`
	// Errors is a capped sample of failure messages
	Errors []string `json:"errors,omitempty"`
}

// Total returns the number of records counted
func (s *StreamSummary) Total() int {
	return s.Success + s.Fail + s.Existing + s.Updated
}

// Status derives the overall stream status from the counters
func (s *StreamSummary) Status() SyncStatus {
	switch {
	case s.Fail == 0:
		return SyncStatusSuccess
	case s.Fail == s.Total():
		return SyncStatusFailed
	default:
		return SyncStatusPartial
	}
}

// SyncState is the blob handed in at run start and emitted at drain points.
type SyncState struct {
	Bookmarks map[StreamKind][]Bookmark      `json:"bookmarks"`
	Summary   map[StreamKind]*StreamSummary `json:"summary"`
}

// NewSyncState returns an empty state
func NewSyncState() *SyncState {
	return &SyncState{
		Bookmarks: make(map[StreamKind][]Bookmark),
		Summary:   make(map[StreamKind]*StreamSummary),
	}
}

// ParseSyncState decodes a state blob. An empty blob yields an empty state.
func ParseSyncState(data []byte) (*SyncState, error) {
	state := NewSyncState()
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("invalid sync state: %w", err)
	}
	if state.Bookmarks == nil {
		state.Bookmarks = make(map[StreamKind][]Bookmark)
	}
	if state.Summary == nil {
		state.Summary = make(map[StreamKind]*StreamSummary)
	}
	return state, nil
}

// EnsureStream initializes bookmarks and summary for a stream
func (s *SyncState) EnsureStream(kind StreamKind) *StreamSummary {
	if _, ok := s.Bookmarks[kind]; !ok {
		s.Bookmarks[kind] = []Bookmark{}
	}
	summary, ok := s.Summary[kind]
	if !ok || summary == nil {
		summary = &StreamSummary{}
		s.Summary[kind] = summary
	}
	return summary
}

// Clone returns a deep copy
func (s *SyncState) Clone() *SyncState {
	out := NewSyncState()
	for kind, marks := range s.Bookmarks {
		out.Bookmarks[kind] = append(make([]Bookmark, 0, len(marks)), marks...)
	}
	for kind, summary := range s.Summary {
		if summary == nil {
			continue
		}
		cp := *summary
		cp.Errors = append([]string(nil), summary.Errors...)
		out.Summary[kind] = &cp
	}
	return out
}

// ---------------------------------------------------------------------------
// StateStore port
// ---------------------------------------------------------------------------

// ErrStateNotFound is returned by a StateStore holding no state yet.
var ErrStateNotFound = errors.New("integration: sync state not found")

// StateStore persists the sync state between runs.
type StateStore interface {
	// Load returns the last saved state or ErrStateNotFound
	Load(ctx context.Context) (*SyncState, error)
	// Save replaces the stored state
	Save(ctx context.Context, state *SyncState) error
}
