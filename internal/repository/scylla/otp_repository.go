package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"otp-service/internal/model"
	"otp-service/internal/util"
)

// OTPRepository persists outstanding codes in the otp_codes table. It
// implements model.OTPRepository; all attempt and lockout mutations go
// through lightweight transactions.
type OTPRepository struct {
	client *ScyllaClient
}

func NewOTPRepository(client *ScyllaClient, logger *zap.Logger) *OTPRepository {
	return &OTPRepository{client: client}
}

func (r *OTPRepository) Insert(ctx context.Context, record *model.OTPRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	query := r.client.Prepared.InsertOTP.WithContext(ctx).Bind(
		record.Email, string(record.Purpose), record.OTPHash, record.Salt,
		record.ExpiresAt, record.IPAddress, record.UserAgent,
		record.Attempts, record.MaxAttempts, record.IsBlocked, record.BlockedUntil,
		record.RequestCount, record.WindowStart, record.CreatedAt)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to insert OTP record",
			zap.String("purpose", string(record.Purpose)),
			zap.Error(err))
		return fmt.Errorf("failed to insert otp record: %w", err)
	}
	return nil
}

func (r *OTPRepository) Latest(ctx context.Context, email string, purpose model.Purpose) (*model.OTPRecord, error) {
	record := &model.OTPRecord{}
	var purposeStr string

	query := r.client.Prepared.GetOTP.WithContext(ctx).Bind(email, string(purpose))
	err := query.Scan(
		&record.Email, &purposeStr, &record.OTPHash, &record.Salt,
		&record.ExpiresAt, &record.IPAddress, &record.UserAgent,
		&record.Attempts, &record.MaxAttempts, &record.IsBlocked, &record.BlockedUntil,
		&record.RequestCount, &record.WindowStart, &record.CreatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, model.ErrNoRecord
		}
		util.Error("Failed to read OTP record",
			zap.String("purpose", string(purpose)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to read otp record: %w", err)
	}

	record.Purpose = model.Purpose(purposeStr)
	return record, nil
}

// CompareAndSetAttempts applies attempts = next only if the stored counter
// still equals expected. Returns false when another writer got there first.
func (r *OTPRepository) CompareAndSetAttempts(ctx context.Context, email string, purpose model.Purpose, expected, next int) (bool, error) {
	query := r.client.Prepared.CASAttempts.WithContext(ctx).Bind(
		next, email, string(purpose), expected)

	var current int
	applied, err := query.ScanCAS(&current)
	if err != nil {
		return false, fmt.Errorf("failed to cas otp attempts: %w", err)
	}
	return applied, nil
}

// Block sets the lockout state, guarded on the attempt counter the caller
// observed so racing verifiers cannot both trigger the transition.
func (r *OTPRepository) Block(ctx context.Context, email string, purpose model.Purpose, until time.Time, expectedAttempts int) (bool, error) {
	query := r.client.Prepared.BlockOTP.WithContext(ctx).Bind(
		until, expectedAttempts+1, email, string(purpose), expectedAttempts)

	var current int
	applied, err := query.ScanCAS(&current)
	if err != nil {
		return false, fmt.Errorf("failed to block otp record: %w", err)
	}
	return applied, nil
}

func (r *OTPRepository) Unblock(ctx context.Context, email string, purpose model.Purpose) error {
	query := r.client.Prepared.UnblockOTP.WithContext(ctx).Bind(
		time.Unix(0, 0).UTC(), email, string(purpose))

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to unblock otp record: %w", err)
	}
	return nil
}

func (r *OTPRepository) Delete(ctx context.Context, email string, purpose model.Purpose) error {
	query := r.client.Prepared.DeleteOTP.WithContext(ctx).Bind(email, string(purpose))

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to delete OTP record",
			zap.String("purpose", string(purpose)),
			zap.Error(err))
		return fmt.Errorf("failed to delete otp record: %w", err)
	}
	return nil
}

// DeleteStale removes expired records, keeping any whose lockout is still in
// force so an active block survives past expiry.
func (r *OTPRepository) DeleteStale(ctx context.Context, before time.Time) (int, error) {
	iter := r.client.Prepared.ScanStaleOTPs.WithContext(ctx).Bind(before).Iter()

	var (
		email        string
		purpose      string
		isBlocked    bool
		blockedUntil time.Time
	)

	now := time.Now().UTC()
	batch := r.client.Session.NewBatch(gocql.UnloggedBatch)
	batchSize := 0
	deleted := 0

	flush := func() error {
		if batchSize == 0 {
			return nil
		}
		if err := r.client.ExecuteBatch(batch); err != nil {
			return err
		}
		deleted += batchSize
		batch = r.client.Session.NewBatch(gocql.UnloggedBatch)
		batchSize = 0
		return nil
	}

	for iter.Scan(&email, &purpose, &isBlocked, &blockedUntil) {
		if isBlocked && now.Before(blockedUntil) {
			continue
		}
		batch.Query(`DELETE FROM otp_codes WHERE email = ? AND purpose = ?`, email, purpose)
		batchSize++

		if batchSize >= 100 {
			if err := flush(); err != nil {
				iter.Close()
				return deleted, fmt.Errorf("failed to delete stale otp records: %w", err)
			}
		}
	}

	if err := flush(); err != nil {
		iter.Close()
		return deleted, fmt.Errorf("failed to delete stale otp records: %w", err)
	}

	if err := iter.Close(); err != nil {
		return deleted, fmt.Errorf("failed to scan stale otp records: %w", err)
	}

	if deleted > 0 {
		util.Info("Stale OTP records deleted", zap.Int("count", deleted))
	}
	return deleted, nil
}
