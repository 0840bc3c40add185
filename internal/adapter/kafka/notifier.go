// Package kafka publishes table-change notifications so downstream
// consumers (map tiles, dashboards) can refresh after a batch run without
// polling the geodatabase. The notifier is optional: when no brokers are
// configured the pipeline runs without one.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/trafficgeo/accident-etl/internal/config"
	"github.com/trafficgeo/accident-etl/internal/domain"
)

// Notifier produces table-change events to a Kafka topic.
// It implements domain.ChangeNotifier.
type Notifier struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewNotifier creates a Kafka producer for the configured change topic.
func NewNotifier(cfg *config.Config, logger *slog.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Notifier{writer: w, logger: logger}
}

// NotifyTableChanged serializes and publishes one change event.
func (n *Notifier) NotifyTableChanged(ctx context.Context, change domain.TableChange) error {
	msg, err := serializeToMessage(change)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish table change for %s: %w", change.Table, err)
	}
	n.logger.Debug("published table change", "table", change.Table,
		"inserted", change.Inserted, "updated", change.Updated)
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

// serializeToMessage marshals a TableChange into a Kafka message keyed by
// table name so per-table ordering is preserved across partitions.
func serializeToMessage(change domain.TableChange) (kafkago.Message, error) {
	data, err := json.Marshal(change)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize table change: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(change.Table),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(change.RunID)},
			{Key: "occurred_at", Value: []byte(change.OccurredAt.Format(time.RFC3339))},
		},
	}, nil
}
