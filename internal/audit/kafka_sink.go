package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"otp-service/internal/client"
	"otp-service/internal/model"
)

// KafkaSink publishes security events for downstream consumers (fraud
// monitoring, the back-office alert feed).
type KafkaSink struct {
	producer *client.KafkaProducer
	topic    string
}

func NewKafkaSink(producer *client.KafkaProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) WriteSecurityEvent(ctx context.Context, event *model.SecurityEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal security event: %w", err)
	}

	return s.producer.Publish(ctx, s.topic, []byte(event.EmailDigest), value, map[string]string{
		"event_type": event.EventType,
	})
}
