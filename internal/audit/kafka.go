package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"admin-auth-service/internal/client"
)

// KafkaSink publishes events to the security-event topic, keyed by
// action so consumers can partition on it.
type KafkaSink struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaSink(producer *client.KafkaProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return s.producer.ProduceMessage(ctx, s.topic, []byte(ev.Action), payload)
}
