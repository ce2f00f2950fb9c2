package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/flood-forecast-refresh/internal/config"
	"github.com/couchcryptid/flood-forecast-refresh/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafkago.Writer used by Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes run outcomes to a Kafka topic.
// It implements scheduler.OutcomeSink.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured runs topic.
func NewWriter(cfg config.KafkaConfig, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.RunsTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// RecordOutcome serializes the outcome and writes it keyed by run ID.
func (w *Writer) RecordOutcome(ctx context.Context, outcome domain.RunOutcome) error {
	msg, err := serializeToMessage(outcome)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish run %s: %w", outcome.RunID, err)
	}
	w.logger.Debug("run outcome published", "run_id", outcome.RunID, "status", outcome.Status)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a RunOutcome into a Kafka message.
func serializeToMessage(outcome domain.RunOutcome) (kafkago.Message, error) {
	data, err := json.Marshal(outcome)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize run outcome: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(outcome.RunID),
		Value: data,
		Time:  outcome.FinishedAt,
		Headers: []kafkago.Header{
			{Key: "status", Value: []byte(outcome.Status)},
			{Key: "trigger", Value: []byte(outcome.Trigger)},
			{Key: "finished_at", Value: []byte(outcome.FinishedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
