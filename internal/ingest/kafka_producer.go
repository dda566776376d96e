package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/resq-relay/internal/models"
)

// AuditProducer publishes rescue lifecycle events to Kafka for downstream
// archiving. Publishing is best-effort from the relay's point of view: a
// broker outage must never block envelope handling.
type AuditProducer struct {
	writer *kafka.Writer
}

func NewAuditProducer(brokers []string, topic string) *AuditProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &AuditProducer{writer: w}
}

func (p *AuditProducer) PublishEvent(ev models.RescueEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(ev)
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.RequestID), Value: b})
}

func (p *AuditProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
