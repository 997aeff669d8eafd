package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"otp-service/internal/config"
	"otp-service/internal/util"
)

// The otp_codes table is keyed by ((email, purpose)), so the partition key
// itself enforces at most one outstanding code per identity:
//
//	CREATE TABLE otp_codes (
//	    email         text,
//	    purpose       text,
//	    otp_hash      text,
//	    salt          text,
//	    expires_at    timestamp,
//	    ip_address    text,
//	    user_agent    text,
//	    attempts      int,
//	    max_attempts  int,
//	    is_blocked    boolean,
//	    blocked_until timestamp,
//	    request_count int,
//	    window_start  timestamp,
//	    created_at    timestamp,
//	    PRIMARY KEY ((email, purpose))
//	);

// PreparedStatements holds the statements the OTP repository executes.
type PreparedStatements struct {
	InsertOTP     *gocql.Query
	GetOTP        *gocql.Query
	DeleteOTP     *gocql.Query
	CASAttempts   *gocql.Query
	BlockOTP      *gocql.Query
	UnblockOTP    *gocql.Query
	ScanStaleOTPs *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.Mutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.InsertOTP = s.Session.Query(`
		INSERT INTO otp_codes (
			email, purpose, otp_hash, salt, expires_at, ip_address, user_agent,
			attempts, max_attempts, is_blocked, blocked_until, request_count,
			window_start, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.GetOTP = s.Session.Query(`
		SELECT email, purpose, otp_hash, salt, expires_at, ip_address, user_agent,
			attempts, max_attempts, is_blocked, blocked_until, request_count,
			window_start, created_at
		FROM otp_codes WHERE email = ? AND purpose = ?`)

	prepared.DeleteOTP = s.Session.Query(`
		DELETE FROM otp_codes WHERE email = ? AND purpose = ?`)

	// Lightweight transactions guard every attempt/lockout mutation so
	// concurrent verifications cannot double-count.
	prepared.CASAttempts = s.Session.Query(`
		UPDATE otp_codes SET attempts = ?
		WHERE email = ? AND purpose = ? IF attempts = ?`)

	prepared.BlockOTP = s.Session.Query(`
		UPDATE otp_codes SET is_blocked = true, blocked_until = ?, attempts = ?
		WHERE email = ? AND purpose = ? IF attempts = ?`)

	prepared.UnblockOTP = s.Session.Query(`
		UPDATE otp_codes SET is_blocked = false, blocked_until = ?, attempts = 0
		WHERE email = ? AND purpose = ?`)

	prepared.ScanStaleOTPs = s.Session.Query(`
		SELECT email, purpose, is_blocked, blocked_until FROM otp_codes
		WHERE expires_at < ? ALLOW FILTERING`)

	s.Prepared = prepared
	s.isPrepared = true
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
	}
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}
	return nil
}

// ExecuteWithRetry retries transient failures with linear backoff.
func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
