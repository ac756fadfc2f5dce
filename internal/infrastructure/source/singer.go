// Package source reads inbound records from a Singer-style JSONL stream or a
// Kafka topic.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/erp/woosync/internal/domain/integration"
)

// Singer message types
const (
	MessageRecord = "RECORD"
	MessageSchema = "SCHEMA"
	MessageState  = "STATE"
)

// maxLineBytes bounds one JSONL message
const maxLineBytes = 64 << 20

// MalformedStream is the stream name given to input lines that are not JSON
const MalformedStream = "malformed"

// singerMessage is one line of a Singer stream
type singerMessage struct {
	Type   string          `json:"type"`
	Stream string          `json:"stream,omitempty"`
	Record json.RawMessage `json:"record,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// JSONLSource reads RECORD messages from a Singer-style JSONL stream. SCHEMA
// and STATE messages are skipped. A line that is not valid JSON is passed on
// as a record of MalformedStream so the engine counts it as failed.
type JSONLSource struct {
	scanner *bufio.Scanner
	logger  *zap.Logger
	line    int
	skipped int
}

// NewJSONLSource creates a JSONLSource reading r
func NewJSONLSource(r io.Reader, logger *zap.Logger) *JSONLSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &JSONLSource{scanner: scanner, logger: logger}
}

// ReadBatch returns up to max records; io.EOF once the input is exhausted
func (s *JSONLSource) ReadBatch(ctx context.Context, max int) ([]integration.InboundRecord, error) {
	var batch []integration.InboundRecord
	for len(batch) < max {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return batch, fmt.Errorf("line %d: %w", s.line+1, err)
			}
			return batch, io.EOF
		}
		s.line++

		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rec, ok := s.parse(line)
		if ok {
			batch = append(batch, rec)
		}
	}
	return batch, nil
}

// Commit is a no-op; the input cannot be rewound
func (s *JSONLSource) Commit(context.Context) error {
	return nil
}

// Skipped returns the number of non-RECORD messages seen
func (s *JSONLSource) Skipped() int {
	return s.skipped
}

func (s *JSONLSource) parse(line []byte) (integration.InboundRecord, bool) {
	var msg singerMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		s.logger.Warn("Malformed input line", zap.Int("line", s.line), zap.Error(err))
		return integration.InboundRecord{Stream: MalformedStream, Data: append(json.RawMessage(nil), line...)}, true
	}

	switch strings.ToUpper(msg.Type) {
	case MessageRecord:
		return integration.InboundRecord{Stream: msg.Stream, Data: msg.Record}, true
	case MessageSchema, MessageState:
		s.skipped++
		s.logger.Debug("Skipping message", zap.String("type", msg.Type), zap.String("stream", msg.Stream))
		return integration.InboundRecord{}, false
	default:
		s.skipped++
		s.logger.Warn("Unknown message type", zap.Int("line", s.line), zap.String("type", msg.Type))
		return integration.InboundRecord{}, false
	}
}

// StateWriter emits the sync state as Singer STATE messages, one per line.
//
// Thread Safety: Safe for concurrent use by multiple goroutines.
type StateWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStateWriter creates a StateWriter writing to w
func NewStateWriter(w io.Writer) *StateWriter {
	return &StateWriter{w: w}
}

// Save writes one STATE message
func (s *StateWriter) Save(_ context.Context, state *integration.SyncState) error {
	value, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	line, err := json.Marshal(singerMessage{Type: MessageState, Value: value})
	if err != nil {
		return fmt.Errorf("failed to encode state message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write state message: %w", err)
	}
	return nil
}
