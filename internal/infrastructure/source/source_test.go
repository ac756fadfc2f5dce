package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/erp/woosync/internal/domain/integration"
)

// ============================================================================
// JSONLSource
// ============================================================================

const singerInput = `{"type": "SCHEMA", "stream": "SalesOrders", "schema": {}}
{"type": "RECORD", "stream": "SalesOrders", "record": {"customer_id": 1}}

{"type": "STATE", "value": {"bookmarks": {}}}
{"type": "RECORD", "stream": "OrderNotes", "record": {"order_id": 1, "note": "a"}}
not json at all
{"type": "ACTIVATE_VERSION", "stream": "SalesOrders"}
{"type": "record", "stream": "OrderNotes", "record": {"order_id": 1, "note": "b"}}
`

func TestJSONLSource_ReadBatch(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	src := NewJSONLSource(strings.NewReader(singerInput), zap.New(core))
	ctx := context.Background()

	first, err := src.ReadBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "SalesOrders", first[0].Stream)
	assert.JSONEq(t, `{"customer_id": 1}`, string(first[0].Data))
	assert.Equal(t, "OrderNotes", first[1].Stream)

	second, err := src.ReadBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, MalformedStream, second[0].Stream)
	assert.Equal(t, "not json at all", string(second[0].Data))
	assert.Equal(t, "OrderNotes", second[1].Stream, "message types are case-insensitive")

	last, err := src.ReadBatch(ctx, 2)
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, last)

	assert.Equal(t, 3, src.Skipped())
	assert.Equal(t, 1, logs.FilterMessage("Malformed input line").Len())
	assert.Equal(t, 1, logs.FilterMessage("Unknown message type").Len())
	assert.NoError(t, src.Commit(ctx))
}

func TestJSONLSource_EOFWithPartialBatch(t *testing.T) {
	src := NewJSONLSource(strings.NewReader(`{"type": "RECORD", "stream": "Products", "record": {"name": "Mug"}}`), nil)

	batch, err := src.ReadBatch(context.Background(), 10)

	assert.ErrorIs(t, err, io.EOF)
	require.Len(t, batch, 1)
	assert.Equal(t, "Products", batch[0].Stream)
}

func TestJSONLSource_Errors(t *testing.T) {
	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewJSONLSource(strings.NewReader(singerInput), nil).ReadBatch(ctx, 10)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("line too long", func(t *testing.T) {
		src := NewJSONLSource(strings.NewReader(strings.Repeat("x", maxLineBytes+1)), nil)
		_, err := src.ReadBatch(context.Background(), 10)
		assert.ErrorIs(t, err, bufio.ErrTooLong)
		assert.ErrorContains(t, err, "line 1")
	})
}

// ============================================================================
// StateWriter
// ============================================================================

func TestStateWriter_Save(t *testing.T) {
	var buf bytes.Buffer
	writer := NewStateWriter(&buf)
	state := integration.NewSyncState()
	state.EnsureStream(integration.StreamOrders).Success = 2

	require.NoError(t, writer.Save(context.Background(), state))
	require.NoError(t, writer.Save(context.Background(), state))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)

	var msg struct {
		Type   string                 `json:"type"`
		Stream *string                `json:"stream"`
		Value  *integration.SyncState `json:"value"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &msg))
	assert.Equal(t, MessageState, msg.Type)
	assert.Nil(t, msg.Stream)
	require.NotNil(t, msg.Value)
	assert.Equal(t, 2, msg.Value.Summary[integration.StreamOrders].Success)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestStateWriter_WriteError(t *testing.T) {
	err := NewStateWriter(failingWriter{}).Save(context.Background(), integration.NewSyncState())
	assert.ErrorContains(t, err, "closed pipe")
}

// ============================================================================
// KafkaSource
// ============================================================================

// fakeReader serves queued messages and blocks on an empty queue until the
// context ends.
type fakeReader struct {
	queue     []kafka.Message
	committed []kafka.Message
	commitErr error
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.queue) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := f.queue[0]
	f.queue = f.queue[1:]
	return msg, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func message(offset int64, value string, headers ...kafka.Header) kafka.Message {
	return kafka.Message{Topic: "woosync-records", Offset: offset, Value: []byte(value), Headers: headers}
}

func TestKafkaSource_Decode(t *testing.T) {
	tests := []struct {
		name       string
		msg        kafka.Message
		wantOK     bool
		wantStream string
		wantData   string
	}{
		{
			name:       "singer record",
			msg:        message(1, `{"type": "RECORD", "stream": "SalesOrders", "record": {"id": 1}}`),
			wantOK:     true,
			wantStream: "SalesOrders",
			wantData:   `{"id": 1}`,
		},
		{
			name:       "inbound envelope",
			msg:        message(2, `{"stream": "OrderNotes", "record": {"note": "x"}}`),
			wantOK:     true,
			wantStream: "OrderNotes",
			wantData:   `{"note": "x"}`,
		},
		{
			name:       "bare record uses header",
			msg:        message(3, `{"sku": "A", "quantity": 1}`, kafka.Header{Key: "Stream", Value: []byte("UpdateInventory")}),
			wantOK:     true,
			wantStream: "UpdateInventory",
			wantData:   `{"sku": "A", "quantity": 1}`,
		},
		{
			name:       "bare record falls back to topic",
			msg:        message(4, `{"sku": "A"}`),
			wantOK:     true,
			wantStream: "woosync-records",
			wantData:   `{"sku": "A"}`,
		},
		{
			name:   "state message skipped",
			msg:    message(5, `{"type": "STATE", "value": {}}`),
			wantOK: false,
		},
		{
			name:       "malformed value",
			msg:        message(6, `{broken`),
			wantOK:     true,
			wantStream: MalformedStream,
		},
	}

	src := newKafkaSourceWithReader(&fakeReader{}, time.Millisecond, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := src.decode(tt.msg)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantStream, rec.Stream)
			if tt.wantData != "" {
				assert.JSONEq(t, tt.wantData, string(rec.Data))
			}
		})
	}
}

func TestKafkaSource_ReadBatchAndCommit(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		message(1, `{"stream": "OrderNotes", "record": {"note": "a"}}`),
		message(2, `{"type": "SCHEMA", "stream": "OrderNotes"}`),
		message(3, `{"stream": "OrderNotes", "record": {"note": "b"}}`),
		message(4, `{"stream": "OrderNotes", "record": {"note": "c"}}`),
	}}
	src := newKafkaSourceWithReader(reader, 20*time.Millisecond, nil)
	ctx := context.Background()

	batch, err := src.ReadBatch(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	require.NoError(t, src.Commit(ctx))
	assert.Len(t, reader.committed, 3, "skipped messages are committed with the batch")

	batch, err = src.ReadBatch(ctx, 10)
	require.NoError(t, err, "the batch wait ends a partial batch")
	assert.Len(t, batch, 1)
	require.NoError(t, src.Commit(ctx))
	assert.Len(t, reader.committed, 4)

	require.NoError(t, src.Commit(ctx))
	assert.Len(t, reader.committed, 4, "nothing pending")

	require.NoError(t, src.Close())
	assert.True(t, reader.closed)
}

func TestKafkaSource_Errors(t *testing.T) {
	t.Run("canceled while waiting", func(t *testing.T) {
		src := newKafkaSourceWithReader(&fakeReader{}, time.Second, nil)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := src.ReadBatch(ctx, 10)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("commit failure", func(t *testing.T) {
		reader := &fakeReader{
			queue:     []kafka.Message{message(1, `{"stream": "OrderNotes", "record": {}}`)},
			commitErr: errors.New("rebalance in progress"),
		}
		src := newKafkaSourceWithReader(reader, time.Millisecond, nil)
		_, err := src.ReadBatch(context.Background(), 1)
		require.NoError(t, err)

		err = src.Commit(context.Background())
		assert.ErrorContains(t, err, "commit offsets")
	})

	t.Run("config validation", func(t *testing.T) {
		_, err := NewKafkaSource(KafkaConfig{Topic: "t"}, nil)
		assert.Error(t, err)
		_, err = NewKafkaSource(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
		assert.Error(t, err)
	})
}
