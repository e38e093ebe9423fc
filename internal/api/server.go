// Package api serves the simulator over HTTP: a WebSocket request transport
// and a small read-only REST surface for devices, audit history and metrics.
//
//	server, err := api.New(deps)
//	err = server.Serve(ctx, queue)
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/hwsim/internal/audit"
	"github.com/nerrad567/hwsim/internal/device"
	"github.com/nerrad567/hwsim/internal/dispatch"
	"github.com/nerrad567/hwsim/internal/infrastructure/config"
	"github.com/nerrad567/hwsim/internal/infrastructure/logging"
	"github.com/nerrad567/hwsim/internal/transport"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceLister lists the simulated devices.
// This interface is satisfied by *device.Registry.
type DeviceLister interface {
	Devices() []device.Device
}

// AuditLister queries the command audit trail.
// This interface is satisfied by *audit.SQLiteRepository.
type AuditLister interface {
	List(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// StatsProvider reports dispatcher counters.
// This interface is satisfied by *dispatch.Dispatcher.
type StatsProvider interface {
	Stats() dispatch.Stats
}

// HealthChecker is implemented by the optional backends (database, MQTT,
// InfluxDB) reported by /api/v1/health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.WebSocketConfig
	Logger  *logging.Logger
	Devices DeviceLister

	// Stats is optional.
	Stats StatsProvider

	// Audit is optional - if nil, /api/v1/audit answers 503.
	Audit AuditLister

	// Checks are optional named backend health checks.
	Checks map[string]HealthChecker

	Version string
}

// Server is the HTTP server. It is created with New and run with Serve, or
// with Start and Close.
type Server struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	devices DeviceLister
	stats   StatsProvider
	audit   AuditLister
	checks  map[string]HealthChecker
	version string

	startTime time.Time
	hub       *Hub

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// Parameters:
//   - deps: Config, Logger and Devices are required
//
// Returns:
//   - *Server: configured server ready to start
//   - error: if required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device lister is required")
	}
	if deps.Config.Path == "" {
		deps.Config.Path = "/ws"
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		devices: deps.Devices,
		stats:   deps.Stats,
		audit:   deps.Audit,
		checks:  deps.Checks,
		version: deps.Version,
	}, nil
}

// Start binds the listener and serves in the background. WebSocket requests
// are delivered to queue.
//
// Returns:
//   - error: if the server is already running or the port is in use
func (s *Server) Start(ctx context.Context, queue chan<- transport.Inbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New("api server already started")
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(srvCtx, s.cfg, s.logger, queue)
	go s.hub.Run(srvCtx)

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("api listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.startTime = time.Now()

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String(), "ws_path", s.cfg.Path)
	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Serve runs the server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, queue chan<- transport.Inbound) error {
	if err := s.Start(ctx, queue); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Close()
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close gracefully shuts down the server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections. WebSocket clients are
// disconnected by the hub.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	cancel := s.cancel
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// Send routes a reply to the WebSocket client named by frames[0].
func (s *Server) Send(frames [][]byte) error {
	if s.hub == nil {
		return transport.ErrClosed
	}
	return s.hub.Send(frames)
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.Addr() == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
