package model

import (
	"context"
	"errors"
	"time"
)

// Purpose distinguishes why a code was issued. Two purposes may hold
// outstanding codes for the same email at the same time.
type Purpose string

const (
	PurposeEmailVerification Purpose = "email-verification"
	PurposePasswordReset     Purpose = "password-reset"
)

// ParsePurpose maps a wire value onto the closed purpose set.
func ParsePurpose(s string) (Purpose, error) {
	switch Purpose(s) {
	case PurposeEmailVerification:
		return PurposeEmailVerification, nil
	case PurposePasswordReset:
		return PurposePasswordReset, nil
	default:
		return "", ErrUnknownPurpose
	}
}

// ErrorCode is the closed result taxonomy of the issue/verify contract. All
// values are recoverable conditions for the caller, never Go errors.
type ErrorCode string

const (
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
	CodeBlocked             ErrorCode = "BLOCKED"
	CodeNoOTPFound          ErrorCode = "NO_OTP_FOUND"
	CodeExpired             ErrorCode = "EXPIRED"
	CodeInvalidOTP          ErrorCode = "INVALID_OTP"
	CodeMaxAttemptsExceeded ErrorCode = "MAX_ATTEMPTS_EXCEEDED"
	CodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

var (
	ErrNoRecord       = errors.New("no otp record found")
	ErrUnknownPurpose = errors.New("unknown otp purpose")
)

// OTPRecord is the single outstanding code for an (email, purpose) identity.
// The plaintext code is never part of the record; only its scrypt digest and
// the salt used to derive it are stored.
type OTPRecord struct {
	Email        string    `json:"email" db:"email"`
	Purpose      Purpose   `json:"purpose" db:"purpose"`
	OTPHash      string    `json:"-" db:"otp_hash"`
	Salt         string    `json:"-" db:"salt"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	IPAddress    string    `json:"ip_address" db:"ip_address"`
	UserAgent    string    `json:"user_agent" db:"user_agent"`
	Attempts     int       `json:"attempts" db:"attempts"`
	MaxAttempts  int       `json:"max_attempts" db:"max_attempts"`
	IsBlocked    bool      `json:"is_blocked" db:"is_blocked"`
	BlockedUntil time.Time `json:"blocked_until" db:"blocked_until"`
	RequestCount int       `json:"request_count" db:"request_count"`
	WindowStart  time.Time `json:"window_start" db:"window_start"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// BlockedAt reports whether the record's lockout is still in force.
func (r *OTPRecord) BlockedAt(now time.Time) bool {
	return r.IsBlocked && now.Before(r.BlockedUntil)
}

// ExpiredAt reports whether the record's validity window has passed.
func (r *OTPRecord) ExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// RequestContext carries the provenance of the HTTP request that triggered an
// issuance or verification.
type RequestContext struct {
	IPAddress string
	UserAgent string
}

// IssueResult is the structured outcome of an issuance. Code holds the
// plaintext secret exactly once, for the caller to hand to the mailer; it is
// never persisted or logged.
type IssueResult struct {
	Success    bool      `json:"success"`
	Code       string    `json:"-"`
	ErrorCode  ErrorCode `json:"error,omitempty"`
	Message    string    `json:"message"`
	RetryAfter int       `json:"retry_after,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// VerifyResult is the structured outcome of a verification attempt.
type VerifyResult struct {
	Success           bool      `json:"success"`
	ErrorCode         ErrorCode `json:"error,omitempty"`
	Message           string    `json:"message"`
	RemainingAttempts int       `json:"remaining_attempts,omitempty"`
	RetryAfter        int       `json:"retry_after,omitempty"`
}

// SecurityEvent is one entry of the audit trail. Email appears only as a
// SHA-256 digest plus an envelope-encrypted copy for authorized back-office
// lookups.
type SecurityEvent struct {
	EventID        string    `json:"event_id" db:"event_id"`
	EventBucket    int       `json:"event_bucket" db:"event_bucket"`
	EventDate      string    `json:"event_date" db:"event_date"`
	EventTime      time.Time `json:"event_time" db:"event_time"`
	EventType      string    `json:"event_type" db:"event_type"`
	EmailDigest    string    `json:"email_digest" db:"email_digest"`
	EmailEncrypted string    `json:"email_encrypted,omitempty" db:"email_encrypted"`
	Purpose        Purpose   `json:"purpose" db:"purpose"`
	IPAddress      string    `json:"ip_address" db:"ip_address"`
	UserAgent      string    `json:"user_agent" db:"user_agent"`
	Attempts       int       `json:"attempts" db:"attempts"`
	Detail         string    `json:"detail" db:"detail"`
}

// Event types recorded on the audit trail.
const (
	EventOTPIssued          = "otp_issued"
	EventOTPVerified        = "otp_verified"
	EventOTPLockout         = "otp_lockout"
	EventRateLimitRejection = "rate_limit_rejection"
)

// OTPRepository is the persistence contract for outstanding codes. Every
// mutation of attempt/lockout state is conditional so that concurrent
// verifications cannot double-count.
type OTPRepository interface {
	Insert(ctx context.Context, record *OTPRecord) error
	Latest(ctx context.Context, email string, purpose Purpose) (*OTPRecord, error)
	// CompareAndSetAttempts bumps the attempt counter from expected to next
	// and reports whether the write was applied.
	CompareAndSetAttempts(ctx context.Context, email string, purpose Purpose, expected, next int) (bool, error)
	// Block flips the record into its lockout state, guarded on the attempt
	// counter the caller observed.
	Block(ctx context.Context, email string, purpose Purpose, until time.Time, expectedAttempts int) (bool, error)
	// Unblock clears an elapsed lockout and resets the attempt counter.
	Unblock(ctx context.Context, email string, purpose Purpose) error
	Delete(ctx context.Context, email string, purpose Purpose) error
	// DeleteStale removes expired records whose lockout, if any, has elapsed.
	DeleteStale(ctx context.Context, before time.Time) (int, error)
}

// EventSink receives security events; implementations fan the audit trail out
// to Kafka, ClickHouse and Elasticsearch.
type EventSink interface {
	WriteSecurityEvent(ctx context.Context, event *SecurityEvent) error
}
