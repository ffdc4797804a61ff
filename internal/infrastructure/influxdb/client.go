package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/fluxquery/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	healthTimeout  = 5 * time.Second

	fallbackBatchSize     = 100
	fallbackFlushInterval = 10 // seconds
)

// Client writes points to one bucket.
//
// Two write paths share the connection: WriteTables queues points on the
// batching API and reports rejected batches through SetOnError, while
// WriteLines sends line protocol synchronously so the caller sees the
// server's answer.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client   influxdb2.Client
	batched  api.WriteAPI
	blocking api.WriteAPIBlocking
	bucket   string

	mu        sync.RWMutex
	connected bool
	onError   func(err error)
}

// Connect creates the write client for cfg.Bucket and pings the server.
//
// Parameters:
//   - ctx: Context for cancellation (used for the ping)
//   - cfg: InfluxDB section of config.yaml; Bucket is required
//
// Returns:
//   - *Client: Client ready for writes
//   - error: ErrDisabled, ErrNoBucket, or ErrConnectionFailed
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := ping(pingCtx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:    client,
		batched:   client.WriteAPI(cfg.Org, cfg.Bucket),
		blocking:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		bucket:    cfg.Bucket,
		connected: true,
	}
	go c.forwardErrors(c.batched.Errors())

	return c, nil
}

// writeOptions maps the batching settings to client options. Points are
// written with nanosecond precision, matching the timestamps decoded from
// dateTime:RFC3339Nano columns.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = fallbackBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = fallbackFlushInterval
	}

	// #nosec G115 -- both values are positive
	return influxdb2.DefaultOptions().
		SetBatchSize(uint(batch)).
		SetFlushInterval(uint(flush) * uint(time.Second/time.Millisecond)).
		SetPrecision(time.Nanosecond)
}

func ping(ctx context.Context, client influxdb2.Client) error {
	ok, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !ok {
		return fmt.Errorf("ping: server not ready")
	}
	return nil
}

// forwardErrors hands batch failures to the registered callback until the
// batching API closes its error channel.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.mu.RLock()
		fn := c.onError
		c.mu.RUnlock()

		if fn != nil {
			fn(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// Bucket returns the bucket points are written to.
func (c *Client) Bucket() string {
	return c.bucket
}

// Close flushes queued points and releases the connection. Calls after the
// first are no-ops.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.mu.Unlock()

	c.batched.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := ping(checkCtx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether Close has not been called yet.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError registers the callback for batches the server rejected.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush blocks until queued points are sent. No-op after Close.
func (c *Client) Flush() {
	if c.batched == nil || !c.IsConnected() {
		return
	}
	c.batched.Flush()
}
