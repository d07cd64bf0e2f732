package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/vango-dev/tengi/internal/netio"
	"github.com/vango-dev/tengi/pkg/buffer"
	"github.com/vango-dev/tengi/pkg/future"
	"github.com/vango-dev/tengi/pkg/protocol"
	"github.com/vango-dev/tengi/pkg/transport"
)

type serverState int

const (
	stateNew serverState = iota
	stateStarted
	stateStopped
)

// Server accepts sessions on the configured transports and turns accepted
// handshakes into managed connections.
type Server struct {
	cfg      *Config
	proc     *processor
	manager  *ConnectionManager
	metrics  *Metrics
	gatherer prometheus.Gatherer
	pool     *buffer.Pool
	upgrader websocket.Upgrader
	router   http.Handler
	logger   *zap.Logger

	// baseCtx is cancelled by Stop; long polls and stream handlers run
	// under it.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	state   serverState
	tcpLn   net.Listener
	httpLn  net.Listener
	httpSrv *http.Server
	sockets map[netio.Socket]struct{}
	wg      sync.WaitGroup
}

// New creates a Server from DefaultConfig and opts.
func New(opts ...Option) (*Server, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Server from a copy of cfg. Invalid configuration
// is reported here, wrapped in ErrInvalidConfig.
func NewWithConfig(cfg *Config) (*Server, error) {
	cfg = cfg.Clone()
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Protocol == nil {
		p, err := protocol.New()
		if err != nil {
			return nil, err
		}
		cfg.Protocol = p
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registerer := cfg.Registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}

	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger,
		pool:    buffer.NewPool(),
		sockets: make(map[netio.Socket]struct{}),
	}
	if g, ok := registerer.(prometheus.Gatherer); ok {
		s.gatherer = g
	}
	s.metrics = NewMetrics(registerer)
	s.manager = NewConnectionManager(cfg.IdleTimeout, cfg.CleanupInterval, s.metrics, cfg.Logger)
	s.proc = newProcessor(cfg, s.manager, s.metrics, s.pool)
	s.upgrader = s.newUpgrader()
	s.router = s.routes()
	s.baseCtx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Start opens the listeners. The future completes once every listener is
// bound, or fails with the first listen error.
func (s *Server) Start(ctx context.Context) *future.Future[*Server] {
	return future.Go(func() (*Server, error) {
		if err := s.start(ctx); err != nil {
			return nil, err
		}
		return s, nil
	})
}

func (s *Server) start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateStarted:
		return ErrAlreadyStarted
	case stateStopped:
		return ErrServerClosed
	}

	if s.cfg.hasTCP() {
		ln, err := s.listen(ctx, s.cfg.TCPPort)
		if err != nil {
			return err
		}
		s.tcpLn = ln
	}
	if s.cfg.hasHTTP() {
		ln, err := s.listen(ctx, s.cfg.HTTPPort)
		if err != nil {
			if s.tcpLn != nil {
				_ = s.tcpLn.Close()
				s.tcpLn = nil
			}
			return err
		}
		s.httpLn = ln
		s.httpSrv = &http.Server{
			Handler:           s.router,
			ReadHeaderTimeout: s.cfg.HandshakeTimeout,
			BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
			ErrorLog:          zap.NewStdLog(s.logger),
		}
	}
	s.state = stateStarted

	if s.tcpLn != nil {
		s.wg.Add(1)
		go s.acceptTCP(s.tcpLn)
		s.logger.Sugar().Infow("tcp listener started", "address", s.tcpLn.Addr().String())
	}
	if s.httpLn != nil {
		s.wg.Add(1)
		go func(srv *http.Server, ln net.Listener) {
			defer s.wg.Done()
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Sugar().Errorw("http server stopped", "error", err)
			}
		}(s.httpSrv, s.httpLn)
		s.logger.Sugar().Infow("http listener started", "address", s.httpLn.Addr().String())
	}
	return nil
}

// Stop closes the listeners and every connection. The future completes
// once all session goroutines have exited or fails with ctx's error.
func (s *Server) Stop(ctx context.Context) *future.Future[struct{}] {
	return future.Go(func() (struct{}, error) {
		return struct{}{}, s.stop(ctx)
	})
}

func (s *Server) stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == stateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = stateStopped
	tcpLn, httpSrv := s.tcpLn, s.httpSrv
	s.mu.Unlock()

	s.logger.Sugar().Infow("shutting down", "connections", s.manager.Len())
	s.cancel()

	var errs []error
	if tcpLn != nil {
		if err := tcpLn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if httpSrv != nil {
		if err := httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.manager.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.closeSockets()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Sugar().Errorw("shutdown error", "error", err)
		return err
	}
	s.logger.Sugar().Infow("server shutdown complete")
	return nil
}

// Run starts the server and blocks until ctx is done, then shuts down
// within ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	if _, err := s.Start(ctx).Get(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	_, err := s.Stop(shutdownCtx).Get(shutdownCtx)
	return err
}

func (s *Server) track(sock netio.Socket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateStopped {
		return false
	}
	s.sockets[sock] = struct{}{}
	return true
}

func (s *Server) untrack(sock netio.Socket) {
	s.mu.Lock()
	delete(s.sockets, sock)
	s.mu.Unlock()
}

func (s *Server) closeSockets() {
	s.mu.Lock()
	socks := make([]netio.Socket, 0, len(s.sockets))
	for sock := range s.sockets {
		socks = append(socks, sock)
	}
	s.mu.Unlock()
	for _, sock := range socks {
		_ = sock.Close()
	}
}

// Addr returns the bound address serving tr, or nil before Start or when
// tr is not enabled.
func (s *Server) Addr(tr transport.Transport) net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.has(tr) {
		return nil
	}
	switch {
	case tr == transport.TCP && s.tcpLn != nil:
		return s.tcpLn.Addr()
	case tr.HTTP() && s.httpLn != nil:
		return s.httpLn.Addr()
	}
	return nil
}

// Handler returns the HTTP front door. It can be mounted on another server
// instead of calling Start with HTTP transports.
func (s *Server) Handler() http.Handler { return s.router }

// Connections returns the connection manager.
func (s *Server) Connections() *ConnectionManager { return s.manager }

// Metrics returns the Prometheus collectors.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Protocol returns the type registry.
func (s *Server) Protocol() *protocol.Protocol { return s.cfg.Protocol }

// Config returns a copy of the effective configuration.
func (s *Server) Config() *Config { return s.cfg.Clone() }

// Logger returns the server logger.
func (s *Server) Logger() *zap.Logger { return s.logger }
