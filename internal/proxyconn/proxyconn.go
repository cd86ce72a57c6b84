// Package proxyconn implements the per-connection proxy worker: the
// request/response loop bound to one accepted client socket, including
// upstream connection reuse, blacklist checks, cache lookup/insert,
// error-response synthesis, and the CONNECT tunnel. Grounded on
// original_source/ProxyConnection.cpp's operator()/tunnel().
package proxyconn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"webproxy/internal/addrcache"
	"webproxy/internal/blacklist"
	"webproxy/internal/connection"
	"webproxy/internal/httpmsg"
	"webproxy/internal/logging"
	"webproxy/internal/metrics"
	"webproxy/internal/pagecache"
)

// Config bounds the proxy worker's timeouts.
type Config struct {
	// ProxyTimeout bounds how long the worker waits idle for the next
	// client request before closing the connection.
	ProxyTimeout time.Duration
	// GatewayTimeout bounds how long the inner forwarding loop retries
	// a failed upstream before giving up with a 504.
	GatewayTimeout time.Duration
}

// Worker is a single accepted client connection's proxy state machine.
type Worker struct {
	id     int64
	client *connection.Connection
	server *connection.Connection

	addrs     *addrcache.Cache
	pages     *pagecache.Cache
	blacklist *blacklist.List
	logger    *slog.Logger
	cfg       Config
	metrics   *metrics.Metrics
	access    *logging.AccessLogger

	lastHost string
	lastPort string
}

// New builds a Worker bound to clientConn. m and access may both be
// nil, in which case metrics recording and access logging are skipped
// respectively.
func New(id int64, clientConn net.Conn, addrs *addrcache.Cache, pages *pagecache.Cache, bl *blacklist.List, logger *slog.Logger, cfg Config, m *metrics.Metrics, access *logging.AccessLogger) *Worker {
	if cfg.ProxyTimeout <= 0 {
		cfg.ProxyTimeout = 20 * time.Second
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = cfg.ProxyTimeout / 4
	}
	return &Worker{
		id:        id,
		client:    connection.New(clientConn),
		addrs:     addrs,
		pages:     pages,
		blacklist: bl,
		logger:    logger.With("worker", id),
		cfg:       cfg,
		metrics:   m,
		access:    access,
	}
}

// Serve runs the outer request/response loop until the client goes
// idle past ProxyTimeout, the connection fails, a CONNECT tunnel
// completes, or ctx is cancelled (graceful shutdown).
func (w *Worker) Serve(ctx context.Context) {
	defer w.client.Close()
	defer func() {
		if w.server != nil {
			w.server.Close()
		}
	}()

	start := time.Now()
	messages := 0

	for {
		if ctx.Err() != nil {
			w.logger.Debug("shutting down", "messages", messages)
			return
		}
		if time.Since(start) > w.cfg.ProxyTimeout {
			w.logger.Debug("idle timeout", "messages", messages)
			return
		}

		if !w.client.IsAlive() {
			w.logger.Debug("client closed connection", "messages", messages)
			return
		}

		req, err := w.client.ReadHTTPRequest()
		if err != nil {
			if errors.Is(err, httpmsg.ErrTimeout) {
				continue
			}
			if errors.Is(err, httpmsg.ErrParse) {
				w.reply(nil, 400, time.Now())
			}
			w.logger.Debug("read request failed", "err", err, "messages", messages)
			return
		}
		messages++
		start = time.Now()

		if done := w.handleRequest(ctx, req); done {
			return
		}
	}
}

// handleRequest processes one request and reports whether the
// connection should close (CONNECT tunnels always end the loop).
func (w *Worker) handleRequest(ctx context.Context, req *httpmsg.Request) bool {
	start := time.Now()
	defer func() {
		if w.metrics != nil {
			w.metrics.RequestDuration.WithLabelValues(string(req.Method)).Observe(time.Since(start).Seconds())
		}
		if r := recover(); r != nil {
			w.logger.Error("panic handling request", "panic", r, "uri", req.URI.Absolute())
			w.reply(req, 500, start)
		}
	}()

	if !w.blacklist.Allowed(req.URI.Host) {
		w.reply(req, 403, start)
		return false
	}

	switch req.Method {
	case httpmsg.MethodCONNECT:
		w.tunnel(ctx, req, start)
		return true
	case httpmsg.MethodGET:
		// fall through to cache/forward handling below
	default:
		w.reply(req, 400, start)
		return false
	}

	key := req.URI.Key()
	if entry, ok := w.pages.Get(key); ok {
		w.recordStatus(req, entry.StatusCode)
		resp := entryToResponse(entry)
		resp.SetHost(req.URI.HostPort())
		if err := w.client.SendAll(resp.Dump()); err != nil {
			w.logger.Debug("write cached response to client failed", "err", err)
		}
		w.logAccess(req, "HIT", entry.StatusCode, int64(len(entry.Body)), time.Since(start), entry.ContentType)
		return false
	}

	return w.forward(ctx, req, start)
}

// forward implements the inner loop: reconnect-on-failure, retried
// until gatewayTimeout, falling back to a synthesized error response.
func (w *Worker) forward(ctx context.Context, req *httpmsg.Request, start time.Time) bool {
	deadline := time.Now().Add(w.cfg.GatewayTimeout)

	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return true
		}

		if w.server == nil || req.URI.Host != w.lastHost || req.URI.Port != w.lastPort {
			if w.server != nil {
				w.server.Close()
				w.server = nil
			}
			conn, err := connection.Connect(ctx, w.addrs, req.URI.Host, req.URI.EffectivePort())
			if err != nil {
				w.reply(req, 404, start)
				return false
			}
			if !w.blacklist.Allowed(connRemoteIP(conn)) {
				conn.Close()
				w.reply(req, 403, start)
				return false
			}
			req.URI.ResolvedIP = connRemoteIP(conn)
			w.server = conn
			w.lastHost, w.lastPort = req.URI.Host, req.URI.Port
		}

		if err := w.server.SendAll(req.Dump()); err != nil {
			w.server.Close()
			w.server = nil
			continue
		}

		resp, err := w.server.ReadHTTPResponse()
		if err != nil {
			w.server.Close()
			w.server = nil
			continue
		}

		resp.SetHost(req.URI.HostPort())

		if resp.StatusCode == 200 {
			w.pages.Put(req.URI.Key(), pagecache.Entry{
				StatusCode:  resp.StatusCode,
				Header:      resp.Header,
				Body:        resp.Body,
				ContentType: resp.ContentType,
			})
		}

		w.recordStatus(req, resp.StatusCode)
		if err := w.client.SendAll(resp.Dump()); err != nil {
			w.logger.Debug("write response to client failed", "err", err)
		}
		cacheStatus := ""
		if resp.StatusCode == 200 {
			cacheStatus = "MISS"
		}
		w.logAccess(req, cacheStatus, resp.StatusCode, int64(len(resp.Body)), time.Since(start), resp.ContentType)
		return false
	}

	w.reply(req, 504, start)
	return false
}

// tunnel implements the CONNECT byte-relay: once the client receives
// "200 OK", raw bytes are shuttled between client and server until
// either side closes, 50s have passed since the relay started, or ctx
// is cancelled. The 50s limit is not reset by traffic, so a busy tunnel
// is closed at 50s as well, and there is no separate probe for a silent
// half-close. TLS is never terminated, only relayed.
func (w *Worker) tunnel(ctx context.Context, req *httpmsg.Request, start time.Time) {
	conn, err := connection.Connect(ctx, w.addrs, req.URI.Host, req.URI.EffectivePort())
	if err != nil {
		w.reply(req, 404, start)
		return
	}
	defer conn.Close()

	if !w.blacklist.Allowed(connRemoteIP(conn)) {
		w.reply(req, 403, start)
		return
	}
	req.URI.ResolvedIP = connRemoteIP(conn)
	w.server = conn

	if err := w.client.SendAll([]byte("HTTP/1.1 200 OK\r\n\r\n")); err != nil {
		w.logger.Debug("write CONNECT ack failed", "err", err)
		return
	}
	w.recordStatus(req, 200)
	w.logAccess(req, "", 200, 0, time.Since(start), "")

	w.logger.Debug("entering tunnel mode", "host", req.URI.HostPort())
	if w.metrics != nil {
		w.metrics.TunnelsTotal.Inc()
		w.metrics.TunnelsActive.Inc()
		defer w.metrics.TunnelsActive.Dec()
	}

	relayCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
	defer cancel()

	errc := make(chan error, 2)
	go relay(w.server.Conn(), w.client.Reader(), errc)
	go relay(w.client.Conn(), w.server.Reader(), errc)

	select {
	case <-relayCtx.Done():
	case <-errc:
	}
	w.logger.Debug("exiting tunnel mode", "host", req.URI.HostPort())
}

// relay copies from src to dst until EOF or error, then reports on
// errc so the caller can tear down both halves of the tunnel.
func relay(dst io.Writer, src io.Reader, errc chan<- error) {
	_, err := io.Copy(dst, src)
	errc <- err
}

func (w *Worker) reply(req *httpmsg.Request, statusCode int, start time.Time) {
	resp := &httpmsg.Response{
		Version:    "HTTP/1.1",
		StatusCode: statusCode,
		StatusText: httpmsg.StatusText(statusCode),
		Header:     httpmsg.Header{},
	}
	if req != nil {
		resp.Header.Set("Connection", req.Header.Get("Connection"))
	}
	w.recordStatus(req, statusCode)
	if err := w.client.SendAll(resp.Dump()); err != nil {
		w.logger.Debug("write error response to client failed", "err", err, "status", statusCode)
	}
	w.logAccess(req, "", statusCode, 0, time.Since(start), "")
}

// logAccess records one access log entry if an AccessLogger is wired
// in. cacheStatus is "HIT", "MISS", or "" for non-cacheable responses
// and error replies.
func (w *Worker) logAccess(req *httpmsg.Request, cacheStatus string, statusCode int, size int64, d time.Duration, contentType string) {
	if w.access == nil {
		return
	}
	method := "UNKNOWN"
	url := ""
	if req != nil {
		method = string(req.Method)
		url = req.URI.Absolute()
	}
	w.access.LogRequest(method, url, cacheStatus, statusCode, size, d, contentType)
}

func (w *Worker) recordStatus(req *httpmsg.Request, statusCode int) {
	if w.metrics == nil {
		return
	}
	method := "UNKNOWN"
	if req != nil {
		method = string(req.Method)
	}
	w.metrics.RequestsTotal.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
}

func entryToResponse(e pagecache.Entry) *httpmsg.Response {
	h := httpmsg.Header{}
	for k, v := range e.Header {
		h[k] = v
	}
	return &httpmsg.Response{
		Version:     "HTTP/1.1",
		StatusCode:  e.StatusCode,
		StatusText:  httpmsg.StatusText(e.StatusCode),
		Header:      h,
		Body:        e.Body,
		ContentType: e.ContentType,
	}
}

func connRemoteIP(conn *connection.Connection) string {
	addr, ok := conn.Conn().RemoteAddr().(*net.TCPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}
