package service

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"otp-service/internal/config"
	"otp-service/internal/model"
	"otp-service/internal/ratelimit"
	"otp-service/internal/secret"
	"otp-service/internal/util"
)

// RateLimiter decides whether an issuance may proceed.
type RateLimiter interface {
	Check(ctx context.Context, email, ip string) (*ratelimit.Decision, error)
}

// Auditor receives security events; recording is best-effort.
type Auditor interface {
	Record(ctx context.Context, eventType, email string, purpose model.Purpose, reqCtx model.RequestContext, attempts int, detail string)
}

// OTPService owns the issue/verify lifecycle of one-time codes. Its public
// contract never returns Go errors for expected conditions: every outcome is
// a structured result, and unexpected storage or crypto failures are
// downgraded to INTERNAL_ERROR at this boundary.
type OTPService struct {
	repo    model.OTPRepository
	limiter RateLimiter
	auditor Auditor
	cfg     config.OTPConfig
	logger  *zap.Logger

	now func() time.Time
}

func NewOTPService(repo model.OTPRepository, limiter RateLimiter, auditor Auditor, cfg config.OTPConfig, logger *zap.Logger) *OTPService {
	return &OTPService{
		repo:    repo,
		limiter: limiter,
		auditor: auditor,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Issue creates a fresh code for (email, purpose), superseding any previous
// one. The returned plaintext code is for the caller to hand to the mailer;
// it is never persisted or logged here.
func (s *OTPService) Issue(ctx context.Context, email string, purpose model.Purpose, reqCtx model.RequestContext) *model.IssueResult {
	email = util.NormalizeEmail(email)
	now := s.now().UTC()

	decision, err := s.limiter.Check(ctx, email, reqCtx.IPAddress)
	if err != nil {
		return s.issueInternalError("rate limit check failed", err)
	}
	if !decision.Allowed {
		s.auditor.Record(ctx, model.EventRateLimitRejection, email, purpose, reqCtx, 0, decision.Reason)
		return &model.IssueResult{
			ErrorCode:  model.CodeRateLimited,
			Message:    "Too many codes requested. Please try again later.",
			RetryAfter: decision.RetryAfter,
		}
	}

	// An active lockout cannot be bypassed by requesting a fresh code.
	existing, err := s.repo.Latest(ctx, email, purpose)
	if err != nil && !errors.Is(err, model.ErrNoRecord) {
		return s.issueInternalError("failed to load existing record", err)
	}
	if existing != nil {
		if existing.BlockedAt(now) {
			return &model.IssueResult{
				ErrorCode:  model.CodeBlocked,
				Message:    "Verification is temporarily blocked for this address.",
				RetryAfter: secondsUntil(now, existing.BlockedUntil),
			}
		}
		if err := s.repo.Delete(ctx, email, purpose); err != nil {
			return s.issueInternalError("failed to supersede existing record", err)
		}
	}

	code, err := secret.GenerateCode(s.cfg.CodeLength)
	if err != nil {
		return s.issueInternalError("code generation failed", err)
	}
	salt, err := secret.GenerateSalt(s.cfg.SaltBytes)
	if err != nil {
		return s.issueInternalError("salt generation failed", err)
	}
	hash, err := secret.Hash(code, salt)
	if err != nil {
		return s.issueInternalError("code hashing failed", err)
	}

	record := &model.OTPRecord{
		Email:        email,
		Purpose:      purpose,
		OTPHash:      hash,
		Salt:         salt,
		ExpiresAt:    now.Add(s.cfg.Expiry),
		IPAddress:    reqCtx.IPAddress,
		UserAgent:    reqCtx.UserAgent,
		Attempts:     0,
		MaxAttempts:  s.cfg.MaxAttempts,
		IsBlocked:    false,
		RequestCount: decision.Count,
		WindowStart:  decision.WindowStart,
		CreatedAt:    now,
	}
	if err := s.repo.Insert(ctx, record); err != nil {
		return s.issueInternalError("failed to persist record", err)
	}

	s.auditor.Record(ctx, model.EventOTPIssued, email, purpose, reqCtx, 0, "")

	return &model.IssueResult{
		Success:   true,
		Code:      code,
		Message:   "Verification code issued.",
		ExpiresAt: record.ExpiresAt,
	}
}

// Verify validates a submitted code against the outstanding record and
// finalizes (on match) or rejects it. Attempt accounting goes through
// conditional updates so concurrent guesses cannot double-count.
func (s *OTPService) Verify(ctx context.Context, email, submitted string, purpose model.Purpose, reqCtx model.RequestContext) *model.VerifyResult {
	email = util.NormalizeEmail(email)
	now := s.now().UTC()

	record, err := s.repo.Latest(ctx, email, purpose)
	if err != nil {
		if errors.Is(err, model.ErrNoRecord) {
			return &model.VerifyResult{
				ErrorCode: model.CodeNoOTPFound,
				Message:   "No verification code is outstanding. Please request a new one.",
			}
		}
		return s.verifyInternalError("failed to load record", err)
	}

	if record.IsBlocked {
		if now.Before(record.BlockedUntil) {
			return &model.VerifyResult{
				ErrorCode:  model.CodeBlocked,
				Message:    "Verification is temporarily blocked for this address.",
				RetryAfter: secondsUntil(now, record.BlockedUntil),
			}
		}
		// Lockout has elapsed; clear it and continue with a clean slate.
		if err := s.repo.Unblock(ctx, email, purpose); err != nil {
			return s.verifyInternalError("failed to clear elapsed lockout", err)
		}
		record.IsBlocked = false
		record.Attempts = 0
	}

	if record.ExpiredAt(now) {
		return &model.VerifyResult{
			ErrorCode: model.CodeExpired,
			Message:   "The verification code has expired. Please request a new one.",
		}
	}

	computed, err := secret.Hash(submitted, record.Salt)
	if err != nil {
		return s.verifyInternalError("code hashing failed", err)
	}

	if !secret.Compare(computed, record.OTPHash) {
		return s.handleMismatch(ctx, email, purpose, reqCtx, record, now)
	}

	if err := s.repo.Delete(ctx, email, purpose); err != nil {
		return s.verifyInternalError("failed to finalize record", err)
	}

	s.auditor.Record(ctx, model.EventOTPVerified, email, purpose, reqCtx, record.Attempts, "")

	return &model.VerifyResult{
		Success: true,
		Message: "Verification successful.",
	}
}

func (s *OTPService) handleMismatch(ctx context.Context, email string, purpose model.Purpose, reqCtx model.RequestContext, record *model.OTPRecord, now time.Time) *model.VerifyResult {
	next := record.Attempts + 1

	if next >= record.MaxAttempts {
		until := now.Add(s.cfg.BlockDuration)
		applied, err := s.repo.Block(ctx, email, purpose, until, record.Attempts)
		if err != nil {
			return s.verifyInternalError("failed to apply lockout", err)
		}
		if !applied {
			return s.resolveLostRace(ctx, email, purpose, now)
		}

		s.logger.Warn("OTP lockout triggered",
			util.String("email", email),
			util.String("ip_address", reqCtx.IPAddress),
			util.Int("attempts", next),
		)
		s.auditor.Record(ctx, model.EventOTPLockout, email, purpose, reqCtx, next, "max attempts exceeded")

		return &model.VerifyResult{
			ErrorCode:  model.CodeMaxAttemptsExceeded,
			Message:    "Too many failed attempts. Verification is blocked.",
			RetryAfter: secondsUntil(now, until),
		}
	}

	applied, err := s.repo.CompareAndSetAttempts(ctx, email, purpose, record.Attempts, next)
	if err != nil {
		return s.verifyInternalError("failed to count attempt", err)
	}
	if !applied {
		return s.resolveLostRace(ctx, email, purpose, now)
	}

	return &model.VerifyResult{
		ErrorCode:         model.CodeInvalidOTP,
		Message:           "Incorrect verification code.",
		RemainingAttempts: record.MaxAttempts - next,
	}
}

// resolveLostRace re-reads the record after a conditional update was beaten
// by a concurrent verification and maps the fresh state onto a result.
func (s *OTPService) resolveLostRace(ctx context.Context, email string, purpose model.Purpose, now time.Time) *model.VerifyResult {
	record, err := s.repo.Latest(ctx, email, purpose)
	if err != nil {
		if errors.Is(err, model.ErrNoRecord) {
			// The racing attempt verified successfully and deleted the record.
			return &model.VerifyResult{
				ErrorCode: model.CodeNoOTPFound,
				Message:   "No verification code is outstanding. Please request a new one.",
			}
		}
		return s.verifyInternalError("failed to reload record after race", err)
	}

	if record.BlockedAt(now) {
		return &model.VerifyResult{
			ErrorCode:  model.CodeBlocked,
			Message:    "Verification is temporarily blocked for this address.",
			RetryAfter: secondsUntil(now, record.BlockedUntil),
		}
	}

	remaining := record.MaxAttempts - record.Attempts
	if remaining < 0 {
		remaining = 0
	}
	return &model.VerifyResult{
		ErrorCode:         model.CodeInvalidOTP,
		Message:           "Incorrect verification code.",
		RemainingAttempts: remaining,
	}
}

func (s *OTPService) issueInternalError(msg string, err error) *model.IssueResult {
	s.logger.Error("OTP issuance failed", util.String("reason", msg), util.ErrorField(err))
	return &model.IssueResult{
		ErrorCode: model.CodeInternalError,
		Message:   "Something went wrong. Please try again.",
	}
}

func (s *OTPService) verifyInternalError(msg string, err error) *model.VerifyResult {
	s.logger.Error("OTP verification failed", util.String("reason", msg), util.ErrorField(err))
	return &model.VerifyResult{
		ErrorCode: model.CodeInternalError,
		Message:   "Something went wrong. Please try again.",
	}
}

func secondsUntil(now, until time.Time) int {
	d := until.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
