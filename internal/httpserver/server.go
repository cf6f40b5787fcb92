// Package httpserver is the file-sharing HTTP engine: a goroutine per
// connection, one request per connection, hand-parsed HTTP/1.x.
package httpserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"fileshare/internal/auth"
	"fileshare/internal/catalog"
	"fileshare/internal/config"
	"fileshare/internal/upload"
)

const (
	readBufferSize  = 8 << 10
	writeBufferSize = 32 << 10
	maxDrain        = 256 << 10
)

// Sessions is the session store as the server uses it.
type Sessions interface {
	auth.Sessions
	PurgeExpired(ctx context.Context) (int64, error)
}

type Options struct {
	Config   config.Config
	Catalog  catalog.Gateway
	Sessions Sessions
	Logger   *zap.Logger
}

type Server struct {
	cfg      config.Config
	catalog  catalog.Gateway
	sessions Sessions
	guard    *auth.Guard
	uploads  *upload.Processor
	logger   *zap.Logger

	mu     sync.Mutex
	ln     net.Listener
	closed bool
}

func New(opts Options) (*Server, error) {
	if opts.Catalog == nil {
		return nil, errors.New("httpserver: catalog is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("httpserver: session store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      opts.Config,
		catalog:  opts.Catalog,
		sessions: opts.Sessions,
		guard:    auth.NewGuard(opts.Config, opts.Sessions),
		uploads:  upload.New(opts.Config.UploadsDir(), opts.Catalog, logger.Named("upload")),
		logger:   logger,
	}, nil
}

// ListenAndServe purges expired sessions, binds cfg.Addr and serves until
// Close. A bind failure is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if n, err := s.sessions.PurgeExpired(ctx); err != nil {
		s.logger.Warn("purge expired sessions", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("purged expired sessions", zap.Int64("count", n))
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}
	lc := listenConfig()
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
	return s.Serve(ln)
}

// Serve accepts connections on ln until it is closed. Accept errors are
// logged and retried with backoff. If Close already ran, ln is closed and
// Serve returns nil.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.ln = ln
	s.mu.Unlock()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			s.logger.Error("accept failed", zap.Error(err), zap.Duration("retry_in", delay))
			time.Sleep(delay)
			continue
		}
		delay = 0
		go s.handleConn(conn)
	}
}

// Addr is the bound address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops accepting. Connections in flight run to completion. Closing
// before Serve makes a later Serve return at once.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) handleConn(c net.Conn) {
	log := s.logger.With(zap.String("remote", c.RemoteAddr().String()))
	defer c.Close()
	defer func() {
		if r := recover(); r != nil {
			log.Error("connection handler panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	br := bufio.NewReaderSize(c, readBufferSize)
	req, err := ReadRequest(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			log.Debug("connection closed before request")
		} else {
			log.Info("dropping malformed request", zap.Error(err))
		}
		return
	}
	log = log.With(zap.String("method", req.Method), zap.String("path", req.Path))

	ctx := context.Background()
	resp, err := s.serveRequest(ctx, req, log)
	if err != nil {
		log.Warn("request failed, closing without response", zap.Error(err))
		return
	}
	drainBody(req.Body, maxDrain)

	bw := bufio.NewWriterSize(c, writeBufferSize)
	if err := resp.Write(bw); err != nil {
		log.Info("response aborted", zap.Int("status", resp.Status), zap.Error(err))
		return
	}
	log.Info("request", zap.Int("status", resp.Status))
}
