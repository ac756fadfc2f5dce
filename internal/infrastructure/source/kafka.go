package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/erp/woosync/internal/domain/integration"
)

// StreamHeader names the message header that carries the stream name
const StreamHeader = "stream"

// KafkaConfig holds the consumer settings
type KafkaConfig struct {
	Brokers   []string
	Topic     string
	GroupID   string
	MinBytes  int
	MaxBytes  int
	BatchWait time.Duration
}

// DefaultKafkaConfig returns the consumer defaults
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		GroupID:   "woosync",
		MinBytes:  10e3, // 10KB
		MaxBytes:  10e6, // 10MB
		BatchWait: 2 * time.Second,
	}
}

// messageReader is the subset of *kafka.Reader used by KafkaSource
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource consumes inbound records from a Kafka topic. Offsets are
// committed only after the engine has drained the state for the batch, so a
// crash redelivers the batch and the fingerprints turn it into no-ops.
//
// A message value is either a Singer RECORD message, an object with "stream"
// and "record" keys, or a bare record whose stream is taken from the
// StreamHeader header or, failing that, the topic name.
type KafkaSource struct {
	reader    messageReader
	logger    *zap.Logger
	batchWait time.Duration
	pending   []kafka.Message
}

// NewKafkaSource creates a consumer group reader for cfg
func NewKafkaSource(cfg KafkaConfig, logger *zap.Logger) (*KafkaSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	defaults := DefaultKafkaConfig()
	if cfg.GroupID == "" {
		cfg.GroupID = defaults.GroupID
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = defaults.MinBytes
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaults.MaxBytes
	}
	if cfg.BatchWait <= 0 {
		cfg.BatchWait = defaults.BatchWait
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})
	return newKafkaSourceWithReader(reader, cfg.BatchWait, logger), nil
}

func newKafkaSourceWithReader(reader messageReader, batchWait time.Duration, logger *zap.Logger) *KafkaSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSource{reader: reader, logger: logger, batchWait: batchWait}
}

// ReadBatch blocks until one message arrives, then collects more until max
// records are read or the batch wait elapses. It never returns io.EOF; the
// caller stops it by canceling ctx.
func (s *KafkaSource) ReadBatch(ctx context.Context, max int) ([]integration.InboundRecord, error) {
	var batch []integration.InboundRecord

	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	batch = s.accept(batch, msg)

	waitCtx, cancel := context.WithTimeout(ctx, s.batchWait)
	defer cancel()
	for len(batch) < max {
		msg, err := s.reader.FetchMessage(waitCtx)
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return batch, fmt.Errorf("fetch message: %w", err)
		}
		batch = s.accept(batch, msg)
	}
	return batch, nil
}

// Commit commits the offsets of every message fetched so far
func (s *KafkaSource) Commit(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	if err := s.reader.CommitMessages(ctx, s.pending...); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	s.logger.Debug("Committed offsets", zap.Int("messages", len(s.pending)))
	s.pending = s.pending[:0]
	return nil
}

// Close closes the underlying reader
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

func (s *KafkaSource) accept(batch []integration.InboundRecord, msg kafka.Message) []integration.InboundRecord {
	s.pending = append(s.pending, msg)
	rec, ok := s.decode(msg)
	if !ok {
		return batch
	}
	return append(batch, rec)
}

func (s *KafkaSource) decode(msg kafka.Message) (integration.InboundRecord, bool) {
	fields := []zap.Field{
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	}

	var envelope singerMessage
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		s.logger.Warn("Malformed message", append(fields, zap.Error(err))...)
		return integration.InboundRecord{Stream: MalformedStream, Data: msg.Value}, true
	}
	if envelope.Type != "" && !strings.EqualFold(envelope.Type, MessageRecord) {
		s.logger.Debug("Skipping message", append(fields, zap.String("type", envelope.Type))...)
		return integration.InboundRecord{}, false
	}
	if len(envelope.Record) > 0 {
		stream := envelope.Stream
		if stream == "" {
			stream = streamOf(msg)
		}
		return integration.InboundRecord{Stream: stream, Data: envelope.Record}, true
	}
	return integration.InboundRecord{Stream: streamOf(msg), Data: msg.Value}, true
}

func streamOf(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if strings.EqualFold(h.Key, StreamHeader) && len(h.Value) > 0 {
			return string(h.Value)
		}
	}
	return msg.Topic
}
