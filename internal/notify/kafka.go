package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaBackend publishes notification events to a Kafka topic, keyed by
// site so one site's events stay ordered within a partition.
type KafkaBackend struct {
	writer *kafka.Writer
}

func NewKafkaBackend(brokers []string, topic string) *KafkaBackend {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 100 * time.Millisecond,
	}
	return &KafkaBackend{writer: w}
}

func (k *KafkaBackend) Name() string {
	return "kafka"
}

func (k *KafkaBackend) Publish(ctx context.Context, payload []byte) error {
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   siteKey(payload),
		Value: payload,
	})
}

func (k *KafkaBackend) Close() error {
	return k.writer.Close()
}

// siteKey extracts the site id from an encoded event for partitioning.
func siteKey(payload []byte) []byte {
	var ev struct {
		SiteID string `json:"site_id"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil
	}
	return []byte(ev.SiteID)
}
