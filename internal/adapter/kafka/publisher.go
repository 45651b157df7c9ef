// Package kafka publishes run summaries to a Kafka topic so downstream
// reporting can pick up completed runs. It implements
// pipeline.SummaryPublisher.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/canopywatch/alert-engine/internal/domain"
)

// Publisher produces run-summary messages to a Kafka topic.
type Publisher struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the summary topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, logger: logger}
}

// PublishRunSummary serializes and publishes one run summary, keyed by run
// id so compacted topics keep the latest summary per run.
func (p *Publisher) PublishRunSummary(ctx context.Context, summary domain.RunSummary) error {
	msg, err := serializeSummary(summary)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish run summary: %w", err)
	}
	p.logger.Info("run summary published", "run_id", summary.RunID, "topic", p.writer.Topic)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func serializeSummary(summary domain.RunSummary) (kafkago.Message, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize run summary: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(summary.RunID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(summary.RunID)},
			{Key: "completed_at", Value: []byte(summary.CompletedAt.Format(time.RFC3339))},
		},
	}, nil
}
