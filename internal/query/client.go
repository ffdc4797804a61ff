package query

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/fluxquery/internal/flux"
	"github.com/nerrad567/fluxquery/internal/infrastructure/config"
)

// Default timeouts for client operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Client executes Flux queries against the InfluxDB v2 query API and decodes
// the annotated CSV responses.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	url        string
	token      string
	org        string
	httpClient *http.Client

	gzip       bool
	maxRawSize int64
	parser     *flux.Parser

	metrics *Metrics
	logger  Logger

	connected bool
	mu        sync.RWMutex
}

// New creates a client without contacting the server.
//
// Parameters:
//   - cfg: InfluxDB connection settings (URL, token, org)
//   - qcfg: Query settings (timeout, gzip, response mode, raw size cap)
//
// Returns:
//   - *Client: Client ready for use
//   - error: If InfluxDB is disabled or the settings are invalid
func New(cfg config.InfluxDBConfig, qcfg config.QueryConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	base := strings.TrimRight(cfg.URL, "/")
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("query: invalid url %q: %w", cfg.URL, err)
	}

	mode, err := flux.ParseMode(qcfg.Mode)
	if err != nil {
		return nil, err
	}

	maxRaw := qcfg.MaxRawSize
	if maxRaw <= 0 {
		maxRaw = maxErrorBodySize
	}

	return &Client{
		url:   base,
		token: cfg.Token,
		org:   cfg.Org,
		httpClient: &http.Client{
			Timeout: time.Duration(qcfg.Timeout) * time.Second,
		},
		gzip:       qcfg.Gzip,
		maxRawSize: maxRaw,
		parser:     flux.NewParser(mode),
		logger:     slog.New(slog.DiscardHandler),
		connected:  true,
	}, nil
}

// Connect creates a client and verifies the server answers /ping.
//
// Parameters:
//   - ctx: Context for cancellation (used for the ping)
//   - cfg: InfluxDB connection settings
//   - qcfg: Query settings
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: If InfluxDB is disabled or the ping fails
func Connect(ctx context.Context, cfg config.InfluxDBConfig, qcfg config.QueryConfig) (*Client, error) {
	c, err := New(cfg, qcfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	if err := c.Ping(pingCtx); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c, nil
}

// SetLogger sets the logger used for request diagnostics.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = logger
}

// SetMetrics attaches Prometheus collectors. Nil disables metrics.
func (c *Client) SetMetrics(m *Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// Parser returns the parser used for responses.
func (c *Client) Parser() *flux.Parser {
	return c.parser
}

// Ping checks the server answers GET /ping.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || !c.IsConnected() {
		return ErrNotConnected
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultPingTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/ping", nil)
	if err != nil {
		return fmt.Errorf("query ping: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("query ping: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newHTTPError(resp, resp.Body)
	}
	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// IsConnected reports whether the client is open.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close marks the client closed and releases idle connections.
// Queries issued after Close fail with ErrNotConnected.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.httpClient.CloseIdleConnections()
}

func (c *Client) observers() (*Metrics, Logger) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics, c.logger
}
