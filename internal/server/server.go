// Package server runs the proxy's accept loop: one goroutine per
// accepted connection, with an atomic shutdown flag and live-worker
// counter standing in for the original's global Signaler (see
// original_source/webproxy.cpp's main loop and
// original_source/types.cpp's Signaler usage throughout).
package server

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"webproxy/internal/addrcache"
	"webproxy/internal/blacklist"
	"webproxy/internal/logging"
	"webproxy/internal/metrics"
	"webproxy/internal/pagecache"
	"webproxy/internal/proxyconn"
)

// Server owns the listening socket and dispatches accepted connections
// to proxyconn.Worker goroutines.
type Server struct {
	listener net.Listener
	addrs    *addrcache.Cache
	pages    *pagecache.Cache
	bl       *blacklist.List
	logger   *slog.Logger
	cfg      proxyconn.Config
	metrics  *metrics.Metrics
	access   *logging.AccessLogger

	shuttingDown atomic.Bool
	liveWorkers  atomic.Int64
	nextID       atomic.Int64

	done chan struct{}
}

// New binds a listener on addr. m and access may both be nil to
// disable metrics and access logging respectively.
func New(addr string, addrs *addrcache.Cache, pages *pagecache.Cache, bl *blacklist.List, logger *slog.Logger, cfg proxyconn.Config, m *metrics.Metrics, access *logging.AccessLogger) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: l,
		addrs:    addrs,
		pages:    pages,
		bl:       bl,
		logger:   logger,
		cfg:      cfg,
		metrics:  m,
		access:   access,
		done:     make(chan struct{}),
	}, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// LiveWorkers returns the number of currently active proxy workers.
func (s *Server) LiveWorkers() int64 { return s.liveWorkers.Load() }

// Serve runs the accept loop until Shutdown is called or the listener
// errors. It blocks the calling goroutine.
func (s *Server) Serve(ctx context.Context) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shuttingDown.Load() {
				return nil
			}
			return err
		}

		id := s.nextID.Add(1)
		s.liveWorkers.Add(1)
		if s.metrics != nil {
			s.metrics.LiveWorkers.Set(float64(s.liveWorkers.Load()))
		}
		go func() {
			defer func() {
				s.liveWorkers.Add(-1)
				if s.metrics != nil {
					s.metrics.LiveWorkers.Set(float64(s.liveWorkers.Load()))
				}
			}()
			w := proxyconn.New(id, conn, s.addrs, s.pages, s.bl, s.logger, s.cfg, s.metrics, s.access)
			w.Serve(ctx)
		}()
	}
}

// Shutdown stops accepting new connections and waits up to drainTimeout
// for in-flight workers to finish before returning.
func (s *Server) Shutdown(drainTimeout time.Duration) error {
	s.shuttingDown.Store(true)
	err := s.listener.Close()

	deadline := time.Now().Add(drainTimeout)
	for s.liveWorkers.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	return err
}
