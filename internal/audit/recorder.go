package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"otp-service/internal/bucketing"
	"otp-service/internal/model"
	"otp-service/internal/util"
)

// Encryptor seals PII before it leaves the service.
type Encryptor interface {
	EncryptField(ctx context.Context, plaintext string) (string, error)
}

// Recorder builds security events and fans them out to every configured
// sink. Recording is best-effort: a sink failure is logged, never surfaced
// to the request path.
type Recorder struct {
	sinks     []model.EventSink
	encryptor Encryptor
	buckets   *bucketing.Manager

	now func() time.Time
}

func NewRecorder(encryptor Encryptor, buckets *bucketing.Manager, sinks ...model.EventSink) *Recorder {
	return &Recorder{
		sinks:     sinks,
		encryptor: encryptor,
		buckets:   buckets,
		now:       time.Now,
	}
}

// Record writes one event to the audit trail. The email is reduced to a
// SHA-256 digest for correlation; the address itself travels only inside a
// KMS envelope.
func (r *Recorder) Record(ctx context.Context, eventType, email string, purpose model.Purpose, reqCtx model.RequestContext, attempts int, detail string) {
	now := r.now().UTC()

	digestBytes := sha256.Sum256([]byte(email))
	digest := hex.EncodeToString(digestBytes[:])

	sealed, err := r.encryptor.EncryptField(ctx, email)
	if err != nil {
		util.Error("Failed to encrypt audit email, recording digest only",
			zap.String("event_type", eventType),
			zap.Error(err))
		sealed = ""
	}

	event := &model.SecurityEvent{
		EventID:        uuid.New().String(),
		EventBucket:    r.buckets.EventBucket(digest),
		EventDate:      r.buckets.DateBucket(now),
		EventTime:      now,
		EventType:      eventType,
		EmailDigest:    digest,
		EmailEncrypted: sealed,
		Purpose:        purpose,
		IPAddress:      reqCtx.IPAddress,
		UserAgent:      reqCtx.UserAgent,
		Attempts:       attempts,
		Detail:         detail,
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for _, sink := range r.sinks {
		g.Go(func() error {
			if err := sink.WriteSecurityEvent(groupCtx, event); err != nil {
				util.Error("Security event sink write failed",
					zap.String("event_type", eventType),
					zap.String("event_id", event.EventID),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}
