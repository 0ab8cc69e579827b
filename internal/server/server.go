// Package server accepts TCP connections and serves one request per
// connection on a fixed pool of worker goroutines.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"example.com/statichttpd/internal/config"
	"example.com/statichttpd/internal/http1"
	"example.com/statichttpd/internal/logger"
	"example.com/statichttpd/internal/util"
)

const (
	defaultWorkers         = 4
	defaultQueueSize       = 64
	defaultMaxRequestBytes = 4096
	defaultShutdownTimeout = 30 * time.Second

	maxAcceptBackoff = time.Second

	// After the response is written, unread client input is drained for at
	// most lingerTimeout/lingerMaxBytes so the close does not turn into a
	// reset that discards the response on the client side.
	lingerTimeout  = 500 * time.Millisecond
	lingerMaxBytes = 256 << 10
)

// Server owns the listener and the worker pool.
type Server struct {
	cfg     *config.Config
	log     *logger.Logger
	handler Handler

	workers         int
	queueSize       int
	maxRequestBytes int
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration

	mu          sync.Mutex
	listener    net.Listener
	activeConns map[net.Conn]struct{}
	ready       chan struct{}
	readyOnce   sync.Once

	handled atomic.Uint64
	// abandon is set once the shutdown timeout expires; queued connections
	// are then closed without being served.
	abandon atomic.Bool
}

// NewServer creates a Server from a defaulted configuration.
func NewServer(cfg *config.Config, lg *logger.Logger, handler Handler) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Server == nil {
		return nil, fmt.Errorf("server configuration section (server) is missing")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	sc := cfg.Server
	s := &Server{
		cfg:             cfg,
		log:             lg,
		handler:         handler,
		workers:         intOr(sc.Workers, defaultWorkers),
		queueSize:       intOr(sc.QueueSize, defaultQueueSize),
		maxRequestBytes: intOr(sc.MaxRequestBytes, defaultMaxRequestBytes),
		readTimeout:     sc.ReadTimeoutValue(),
		writeTimeout:    sc.WriteTimeoutValue(),
		shutdownTimeout: sc.GracefulShutdownTimeoutValue(),
		activeConns:     make(map[net.Conn]struct{}),
		ready:           make(chan struct{}),
	}
	if s.workers <= 0 {
		return nil, fmt.Errorf("server.workers must be positive, got %d", s.workers)
	}
	if s.queueSize < 0 {
		s.queueSize = 0
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = defaultShutdownTimeout
	}
	return s, nil
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// ListenAndServe binds the configured address and serves until ctx is
// cancelled. A bind failure is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context) error {
	address := ""
	if s.cfg.Server.Address != nil {
		address = *s.cfg.Server.Address
	}
	ln, inherited, err := util.Listen(address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.log.Info("Listening", logger.LogFields{
		"address":   ln.Addr().String(),
		"inherited": inherited,
		"workers":   s.workers,
		"queueSize": s.queueSize,
	})
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and hands them to the worker pool. It
// returns nil after ctx is cancelled and in-flight connections have
// finished, or an error if they did not finish within the graceful
// shutdown timeout. Serve closes ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stop:
		}
	}()

	connCh := make(chan net.Conn, s.queueSize)
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for conn := range connCh {
				s.handleConn(conn, id)
			}
		}(i)
	}

	s.acceptLoop(ctx, ln, connCh)
	ln.Close()
	close(connCh)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	s.log.Info("Shutting down, waiting for in-flight connections", logger.LogFields{"timeout": s.shutdownTimeout.String()})
	select {
	case <-done:
		s.log.Info("Server stopped", logger.LogFields{"handled": s.handled.Load()})
		return nil
	case <-time.After(s.shutdownTimeout):
		s.abandon.Store(true)
		n := s.closeActiveConns()
		s.log.Warn("Graceful shutdown timed out, closed remaining connections", logger.LogFields{"closed": n})
		<-done
		return fmt.Errorf("graceful shutdown timed out after %s", s.shutdownTimeout)
	}
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, connCh chan<- net.Conn) {
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			// Transient failures such as EMFILE must not stop the server.
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			s.log.Error("Failed to accept connection", logger.LogFields{"error": err.Error(), "retryIn": backoff.String()})
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return
			}
		}
		backoff = 0

		// Blocks while every worker is busy and the queue is full, which
		// leaves further clients in the kernel backlog.
		select {
		case connCh <- conn:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

// handleConn serves exactly one request on conn and closes it.
func (s *Server) handleConn(conn net.Conn, workerID int) {
	if s.abandon.Load() {
		conn.Close()
		return
	}
	s.trackConn(conn, true)
	defer s.trackConn(conn, false)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Panic while handling connection", logger.LogFields{
				"panic":      fmt.Sprint(r),
				"remoteAddr": remote,
				"stack":      string(debug.Stack()),
			})
		}
	}()

	if err := s.serveConn(conn); err != nil {
		s.log.Error("Failed to handle client", logger.LogFields{
			"error":      err.Error(),
			"remoteAddr": remote,
			"worker":     workerID,
		})
		return
	}
	count := s.handled.Add(1)
	s.log.Info("Connection handled", logger.LogFields{
		"count":      count,
		"remoteAddr": remote,
		"worker":     workerID,
	})
}

func (s *Server) serveConn(conn net.Conn) error {
	start := time.Now()
	if s.readTimeout > 0 {
		conn.SetReadDeadline(start.Add(s.readTimeout))
	}

	req, err := http1.ReadRequest(conn, s.maxRequestBytes)
	var resp *http1.Response
	switch {
	case err == nil:
		resp = s.build(req)
	case errors.Is(err, io.EOF):
		return fmt.Errorf("connection closed before a request was received")
	default:
		var parseErr *http1.ParseError
		if !errors.As(err, &parseErr) {
			return fmt.Errorf("reading request: %w", err)
		}
		s.log.Warn("Malformed request", logger.LogFields{"error": err.Error(), "remoteAddr": conn.RemoteAddr().String()})
		resp = ErrorResponse(nil, err)
	}

	if s.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if _, err := resp.WriteTo(conn); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	s.logAccess(conn, req, resp, time.Since(start))
	lingerClose(conn)
	return nil
}

// lingerClose half-closes conn and discards whatever the client still sends.
func lingerClose(conn net.Conn) {
	cw, ok := conn.(interface{ CloseWrite() error })
	if !ok || cw.CloseWrite() != nil {
		return
	}
	conn.SetReadDeadline(time.Now().Add(lingerTimeout))
	io.Copy(io.Discard, io.LimitReader(conn, lingerMaxBytes))
}

// build runs the handler, turning errors and panics into error responses.
func (s *Server) build(req *http1.Request) (resp *http1.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Panic in handler", logger.LogFields{
				"panic": fmt.Sprint(r),
				"path":  req.Path,
				"stack": string(debug.Stack()),
			})
			resp = ErrorResponse(req, fmt.Errorf("handler panic: %v", r))
		}
	}()

	var err error
	resp, err = s.handler.Build(req)
	if err == nil && resp == nil {
		err = errors.New("handler returned no response")
	}
	if err != nil {
		status := StatusForError(err)
		fields := logger.LogFields{"path": req.Path, "status": status.Code(), "error": err.Error()}
		if status == http1.StatusInternalServerError {
			s.log.Error("Request handling failed", fields)
		} else {
			s.log.Debug("Request rejected", fields)
		}
		return ErrorResponse(req, err)
	}
	return resp
}

func (s *Server) logAccess(conn net.Conn, req *http1.Request, resp *http1.Response, d time.Duration) {
	e := logger.AccessEntry{
		RemoteAddr: conn.RemoteAddr().String(),
		Status:     resp.Status.Code(),
		Duration:   d,
	}
	if !resp.HeadOnly {
		e.Bytes = int64(resp.ContentLength())
	}
	if req != nil {
		e.Method = req.Method
		e.Path = req.Path
		e.Protocol = req.Version.String()
		e.Header = req.Header
	}
	s.log.Access(e)
}

func (s *Server) trackConn(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.activeConns[c] = struct{}{}
	} else {
		delete(s.activeConns, c)
	}
}

func (s *Server) closeActiveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.activeConns {
		c.Close()
	}
	return len(s.activeConns)
}

// Ready is closed once the server is accepting connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the listening address, or nil before Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Handled returns the number of connections served successfully so far.
func (s *Server) Handled() uint64 { return s.handled.Load() }
