package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/fluxquery/internal/flux"
	"github.com/nerrad567/fluxquery/internal/infrastructure/config"
	"github.com/nerrad567/fluxquery/internal/infrastructure/logging"
	"github.com/nerrad567/fluxquery/internal/query"
	"github.com/nerrad567/fluxquery/internal/snapshot"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Querier runs Flux queries. *query.Client satisfies it.
type Querier interface {
	Query(ctx context.Context, q string) ([]*flux.Table, error)
	QueryStream(ctx context.Context, q string, consumer flux.Consumer) error
	QueryRaw(ctx context.Context, q string, dialect *query.Dialect) (string, error)
	Ping(ctx context.Context) error
	Parser() *flux.Parser
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	WS     config.WebSocketConfig
	Logger *logging.Logger
	Query  Querier

	// Snapshots is optional. Snapshot routes answer 503 without it.
	Snapshots snapshot.Repository

	// DB is optional and only used for connection pool statistics.
	DB *sql.DB

	// Registry receives the HTTP metrics and is served on /metrics.
	// A private registry is created when nil.
	Registry *prometheus.Registry

	Version string
}

// Server is the HTTP gateway in front of the query client.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	query     Querier
	snapshots snapshot.Repository
	db        *sql.DB
	registry  *prometheus.Registry
	metrics   *httpMetrics
	version   string
	startTime time.Time

	hub    *Hub
	server *http.Server
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	addr net.Addr
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, query client)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Query == nil {
		return nil, fmt.Errorf("query client is required")
	}

	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		query:     deps.Query,
		snapshots: deps.Snapshots,
		db:        deps.DB,
		registry:  reg,
		version:   deps.Version,
		startTime: time.Now(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	s.metrics = newHTTPMetrics(reg, s.hub)

	return s, nil
}

// Start begins listening for HTTP connections.
//
// The listener is bound before Start returns so port conflicts are
// reported to the caller. Requests are served in a background goroutine
// until Close is called.
//
// Parameters:
//   - ctx: Parent context for WebSocket query streams
//
// Returns:
//   - error: If the listener cannot be bound
func (s *Server) Start(ctx context.Context) error {
	srvCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.ctx, s.cancel = srvCtx, cancel
	s.mu.Unlock()
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return srvCtx },
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		cancel()
		return fmt.Errorf("api: listening on %s: %w", s.server.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// streamContext is the parent of WebSocket query streams.
func (s *Server) streamContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel websocket streams and close hub clients
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
