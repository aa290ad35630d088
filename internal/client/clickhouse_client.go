package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"rule-persistence/internal/config"
	"rule-persistence/internal/util"
)

var ErrClickHouseClosed = errors.New("clickhouse client closed")

const (
	clickhouseNativePort = "9000"
	clickhouseSecurePort = "9440"
)

// chConn is the part of driver.Conn the sample sink drives.
type chConn interface {
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Ping(ctx context.Context) error
	Close() error
}

// ClickHouseClient is the analytics sink for merged window samples. Every
// statement runs under the configured query timeout.
type ClickHouseClient struct {
	conn    chConn
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// NewClickHouseClient opens the native-protocol connection, with TLS in production
func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	opts, err := clickhouseOptions(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	logger.Info("ClickHouse client initialized successfully",
		zap.Strings("addr", opts.Addr),
		zap.String("database", cfg.Clickhouse.Database),
		zap.Duration("query_timeout", cfg.Clickhouse.QueryTimeout),
		zap.Bool("tls_enabled", opts.TLS != nil),
	)

	return newClickHouseClient(conn, cfg.Clickhouse.QueryTimeout), nil
}

func newClickHouseClient(conn chConn, timeout time.Duration) *ClickHouseClient {
	return &ClickHouseClient{conn: conn, timeout: timeout}
}

func clickhouseOptions(cfg *config.Config) (*ch.Options, error) {
	chConfig := cfg.Clickhouse
	addr, host, secure, err := clickhouseAddr(chConfig.URL)
	if err != nil {
		return nil, err
	}

	opts := &ch.Options{
		Addr: []string{addr},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     8,
		MaxIdleConns:     4,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
		Compression: &ch.Compression{
			Method: ch.CompressionLZ4,
		},
	}

	if cfg.IsProduction() || secure {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		}
		if chConfig.CAFile != "" {
			caCert, err := os.ReadFile(chConfig.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read ClickHouse CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("no certificates found in %s", chConfig.CAFile)
			}
			tlsConfig.RootCAs = pool
		}
		opts.TLS = tlsConfig
	}
	return opts, nil
}

// clickhouseAddr turns CLICKHOUSE_URL into a native host:port. An https or
// clickhouses scheme selects the secure port when none is given.
func clickhouseAddr(raw string) (addr, host string, secure bool, err error) {
	hostPort := raw
	if scheme, rest, ok := strings.Cut(raw, "://"); ok {
		secure = scheme == "https" || scheme == "clickhouses"
		hostPort = rest
	}
	hostPort = strings.TrimSuffix(hostPort, "/")
	if hostPort == "" {
		return "", "", false, fmt.Errorf("empty ClickHouse address in %q", raw)
	}

	host, _, splitErr := net.SplitHostPort(hostPort)
	if splitErr != nil {
		host = hostPort
		port := clickhouseNativePort
		if secure {
			port = clickhouseSecurePort
		}
		hostPort = net.JoinHostPort(host, port)
	}
	return hostPort, host, secure, nil
}

// queryContext applies the query timeout locally and as max_execution_time.
func (c *ClickHouseClient) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	seconds := int(c.timeout / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	ctx = ch.Context(ctx, ch.WithSettings(ch.Settings{"max_execution_time": seconds}))
	return context.WithTimeout(ctx, c.timeout)
}

// Exec executes a write query
func (c *ClickHouseClient) Exec(ctx context.Context, query string, args ...interface{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClickHouseClosed
	}

	ctx, cancel := c.queryContext(ctx)
	defer cancel()
	return c.conn.Exec(ctx, query, args...)
}

// BatchInsert sends all rows as a single block. Nothing is written unless
// every row appends cleanly.
func (c *ClickHouseClient) BatchInsert(ctx context.Context, query string, data [][]interface{}) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClickHouseClosed
	}

	ctx, cancel := c.queryContext(ctx)
	defer cancel()

	batch, err := c.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for i, row := range data {
		if err := batch.Append(row...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append row %d to batch: %w", i, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch of %d rows: %w", len(data), err)
	}
	return nil
}

// HealthCheck verifies ClickHouse connectivity
func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClickHouseClosed
	}
	return c.conn.Ping(ctx)
}

// Close gracefully closes the connection. Later calls are no-ops.
func (c *ClickHouseClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return nil
	}
	c.closed = true

	if err := c.conn.Close(); err != nil {
		util.Error("Failed to close ClickHouse connection", zap.Error(err))
		return err
	}
	util.Info("ClickHouse connection closed")
	return nil
}
