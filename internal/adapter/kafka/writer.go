package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/field-env-sync/internal/config"
	"github.com/couchcryptid/field-env-sync/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces per-polygon sync results to a Kafka topic.
// It implements pipeline.ResultPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured result topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaResultTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes and publishes results in a single WriteMessages call.
// Messages are keyed by parcel id so results for one parcel stay ordered.
func (w *Writer) Publish(ctx context.Context, runID string, results []domain.PolygonResult) error {
	if len(results) == 0 {
		return nil
	}
	publishedAt := domain.Now().UTC()
	msgs := make([]kafkago.Message, len(results))
	for i := range results {
		msg, err := serializeToMessage(runID, results[i], publishedAt)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish sync results: %w", err)
	}
	w.logger.Debug("sync results published", "run_id", runID, "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a PolygonResult into a Kafka message.
func serializeToMessage(runID string, result domain.PolygonResult, publishedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize sync result: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(result.ParcelID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(runID)},
			{Key: "succeeded", Value: []byte(strconv.FormatBool(result.Succeeded()))},
			{Key: "published_at", Value: []byte(publishedAt.Format(time.RFC3339))},
		},
	}, nil
}
