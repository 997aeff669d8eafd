package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"otp-service/internal/config"
	"otp-service/internal/model"
	"otp-service/internal/util"
)

// ClickHouseClient writes the security-event analytics stream. The back
// office aggregates lockout and rate-limit trends from this table.
type ClickHouseClient struct {
	conn   driver.Conn
	config *config.ClickhouseConfig
}

const insertSecurityEventQuery = `
	INSERT INTO security_events (
		event_id, event_bucket, event_date, event_time, event_type,
		email_digest, email_encrypted, purpose, ip_address, user_agent,
		attempts, detail
	)`

func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse

	opts := &ch.Options{
		Addr: []string{chConfig.URL},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     20,
		MaxIdleConns:     10,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
	}

	if cfg.IsProduction() || strings.HasPrefix(chConfig.URL, "https://") {
		opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	util.Info("ClickHouse client initialized",
		zap.String("database", chConfig.Database))

	return &ClickHouseClient{
		conn:   conn,
		config: &chConfig,
	}, nil
}

// WriteSecurityEvent appends one event to the analytics table.
func (c *ClickHouseClient) WriteSecurityEvent(ctx context.Context, event *model.SecurityEvent) error {
	batch, err := c.conn.PrepareBatch(ctx, insertSecurityEventQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare security event batch: %w", err)
	}

	if err := batch.Append(
		event.EventID,
		uint8(event.EventBucket),
		event.EventDate,
		event.EventTime,
		event.EventType,
		event.EmailDigest,
		event.EmailEncrypted,
		string(event.Purpose),
		event.IPAddress,
		event.UserAgent,
		uint8(event.Attempts),
		event.Detail,
	); err != nil {
		return fmt.Errorf("failed to append security event: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send security event batch: %w", err)
	}
	return nil
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	if err := c.conn.Ping(ctx); err != nil {
		return fmt.Errorf("clickhouse ping failed: %w", err)
	}
	return nil
}

func (c *ClickHouseClient) Close() error {
	return c.conn.Close()
}
