package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"otp-service/internal/client"
	"otp-service/internal/model"
	"otp-service/internal/util"
)

// Job is the message the platform mailer consumes to send the code. This is
// the only place the plaintext code exists outside the issuing request.
type Job struct {
	Email     string        `json:"email"`
	Purpose   model.Purpose `json:"purpose"`
	Code      string        `json:"code"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Dispatcher hands freshly issued codes to the mailer via Kafka.
type Dispatcher struct {
	producer *client.KafkaProducer
	topic    string
}

func NewDispatcher(producer *client.KafkaProducer, topic string) *Dispatcher {
	return &Dispatcher{producer: producer, topic: topic}
}

// NopDispatcher drops delivery jobs with a warning. It stands in when no
// Kafka producer is available, typically in local development.
type NopDispatcher struct {
	logger *zap.Logger
}

func NewNopDispatcher(logger *zap.Logger) *NopDispatcher {
	return &NopDispatcher{logger: logger}
}

func (d *NopDispatcher) DispatchCode(_ context.Context, _ string, purpose model.Purpose, _ string, _ time.Time) error {
	d.logger.Warn("Code delivery skipped, no producer configured",
		zap.String("purpose", string(purpose)))
	return nil
}

func (d *Dispatcher) DispatchCode(ctx context.Context, email string, purpose model.Purpose, code string, expiresAt time.Time) error {
	value, err := json.Marshal(Job{
		Email:     email,
		Purpose:   purpose,
		Code:      code,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch job: %w", err)
	}

	if err := d.producer.Publish(ctx, d.topic, []byte(email), value, map[string]string{
		"purpose": string(purpose),
	}); err != nil {
		return fmt.Errorf("failed to publish dispatch job: %w", err)
	}

	util.Debug("OTP delivery job dispatched",
		zap.String("purpose", string(purpose)))
	return nil
}
