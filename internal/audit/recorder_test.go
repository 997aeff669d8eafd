package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-service/internal/bucketing"
	"otp-service/internal/config"
	"otp-service/internal/model"
)

type captureSink struct {
	mu     sync.Mutex
	events []*model.SecurityEvent
	err    error
}

func (s *captureSink) WriteSecurityEvent(_ context.Context, event *model.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

type plainEncryptor struct{}

func (plainEncryptor) EncryptField(_ context.Context, plaintext string) (string, error) {
	return "sealed:" + plaintext, nil
}

func TestRecorderFansOutToAllSinks(t *testing.T) {
	first := &captureSink{}
	second := &captureSink{}
	recorder := NewRecorder(plainEncryptor{}, bucketing.NewManager(config.Get()), first, second)

	recorder.Record(context.Background(), model.EventOTPLockout, "User@Example.com",
		model.PurposePasswordReset,
		model.RequestContext{IPAddress: "203.0.113.9", UserAgent: "curl/8"},
		5, "max attempts exceeded")

	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)

	event := first.events[0]
	assert.Equal(t, model.EventOTPLockout, event.EventType)
	assert.Equal(t, "203.0.113.9", event.IPAddress)
	assert.Equal(t, 5, event.Attempts)
	assert.NotEmpty(t, event.EventID)
	assert.Len(t, event.EmailDigest, 64)
	assert.NotContains(t, event.EmailDigest, "@")
	assert.Equal(t, "sealed:User@Example.com", event.EmailEncrypted)
}

func TestRecorderSurvivesSinkFailure(t *testing.T) {
	broken := &captureSink{err: assert.AnError}
	healthy := &captureSink{}
	recorder := NewRecorder(plainEncryptor{}, bucketing.NewManager(config.Get()), broken, healthy)

	recorder.Record(context.Background(), model.EventOTPIssued, "user@example.com",
		model.PurposeEmailVerification, model.RequestContext{}, 0, "")

	assert.Len(t, healthy.events, 1)
}
