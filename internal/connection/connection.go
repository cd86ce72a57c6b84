// Package connection wraps a net.Conn with the buffered peek-then-read
// pattern the proxy uses to find header boundaries and decode response
// bodies, grounded on original_source/Connection.cpp. Go's blocking
// sockets don't surface EWOULDBLOCK/EAGAIN the way the original's
// non-blocking sockets did; short read deadlines plus net.Error.Timeout
// checks reconstruct the same retry-loop shape, and bufio.Reader.Peek
// substitutes for MSG_PEEK.
package connection

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"webproxy/internal/addrcache"
	"webproxy/internal/httpmsg"
)

const (
	maxLine        = 8192
	headerPollWait = 50 * time.Millisecond
	maxHeaderPolls = 100
)

// Connection is a dialed upstream (or accepted client) connection with a
// buffered reader layered over it for peek-based header scanning.
type Connection struct {
	conn net.Conn
	r    *bufio.Reader
}

// New wraps an already-established net.Conn.
func New(conn net.Conn) *Connection {
	return &Connection{conn: conn, r: bufio.NewReaderSize(conn, maxLine)}
}

// Conn returns the underlying net.Conn, e.g. for a raw CONNECT tunnel
// relay that bypasses the buffered reader once any already-peeked bytes
// are drained.
func (c *Connection) Conn() net.Conn { return c.conn }

// Reader exposes the buffered reader so callers needing the raw byte
// stream (CONNECT tunneling) can drain any already-buffered bytes first.
func (c *Connection) Reader() *bufio.Reader { return c.r }

// Close closes the underlying connection.
func (c *Connection) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Connect dials host:port, consulting and updating cache. On connect
// failure against a cached address, the cache entry is evicted and a
// fresh resolution is attempted once, mirroring the original's
// cache-then-fallback-to-DNS behavior.
func Connect(ctx context.Context, cache *addrcache.Cache, host, port string) (*Connection, error) {
	hostPort := net.JoinHostPort(host, port)

	if e, ok := cache.Get(hostPort); ok {
		conn, err := dialAddr(ctx, e)
		if err == nil {
			return New(conn), nil
		}
		cache.Remove(hostPort)
	}

	addr, err := cache.Resolve(ctx, host, port)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", httpmsg.ErrNotFound, err)
	}
	conn, err := dialAddr(ctx, addrcache.Entry{Network: "tcp", Addr: addr})
	if err != nil {
		cache.Remove(hostPort)
		return nil, fmt.Errorf("%w: %v", httpmsg.ErrNotFound, err)
	}
	return New(conn), nil
}

func dialAddr(ctx context.Context, e addrcache.Entry) (net.Conn, error) {
	d := net.Dialer{Timeout: 10 * time.Second}
	return d.DialContext(ctx, e.Network, e.Addr.String())
}

// IsAlive reports whether the peer has not half-closed the connection,
// by peeking one byte without consuming it. It substitutes for the
// original's MSG_PEEK|MSG_DONTWAIT liveness probe.
func (c *Connection) IsAlive() bool {
	c.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer c.conn.SetReadDeadline(time.Time{})

	_, err := c.r.Peek(1)
	if err == nil {
		return true
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return false
}

// SendAll writes the entirety of data, looping through transient
// timeouts the way the original loops on EWOULDBLOCK/EAGAIN.
func (c *Connection) SendAll(data []byte) error {
	total := 0
	for total < len(data) {
		n, err := c.conn.Write(data[total:])
		total += n
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("%w: %v", httpmsg.ErrFatalIO, err)
		}
	}
	return nil
}

// ReadExact reads exactly n bytes, retrying on timeout the way the
// original's read_n loops on EWOULDBLOCK/EAGAIN.
func (c *Connection) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	total := 0
	for total < n {
		c.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		read, err := c.r.Read(buf[total:])
		total += read
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if total == n {
				break
			}
			return buf[:total], classifyReadErr(err)
		}
	}
	c.conn.SetReadDeadline(time.Time{})
	return buf, nil
}

func classifyReadErr(err error) error {
	if err.Error() == "EOF" {
		return httpmsg.ErrPeerClosed
	}
	return fmt.Errorf("%w: %v", httpmsg.ErrFatalIO, err)
}

// ReadHTTPHeader reads until the blank line terminating an HTTP
// request or response header block, returning the raw header text
// including the terminating CRLFCRLF. It bounds the number of peek
// iterations the way the original bounds err_count at 100, to avoid
// spinning forever against a peer that never completes a header.
func (c *Connection) ReadHTTPHeader() (string, error) {
	var header bytes.Buffer

	for polls := 0; ; polls++ {
		if polls > maxHeaderPolls {
			if header.Len() > 0 {
				return "", httpmsg.ErrParse
			}
			return "", httpmsg.ErrTimeout
		}

		c.conn.SetReadDeadline(time.Now().Add(headerPollWait))
		peeked, err := c.r.Peek(peekSize(c.r))
		c.conn.SetReadDeadline(time.Time{})

		if len(peeked) == 0 {
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				return "", classifyReadErr(err)
			}
			continue
		}

		// Search the tail of what was already consumed together with the
		// peeked bytes, so a terminator split across reads is still found.
		tail := header.Bytes()
		if len(tail) > 3 {
			tail = tail[len(tail)-3:]
		}
		search := append(append([]byte{}, tail...), peeked...)
		idx := bytes.Index(search, []byte("\r\n\r\n"))
		var want int
		if idx >= 0 {
			want = idx + 4 - len(tail)
		} else {
			want = len(peeked)
		}

		chunk := make([]byte, want)
		n, rerr := c.r.Read(chunk)
		if n > 0 {
			header.Write(chunk[:n])
		}
		if rerr != nil && n == 0 {
			return "", classifyReadErr(rerr)
		}

		if idx >= 0 {
			return header.String(), nil
		}
	}
}

func peekSize(r *bufio.Reader) int {
	if r.Buffered() > 0 {
		return r.Buffered()
	}
	return 1
}

// ReadResponseBody reads the body for resp according to its framing
// (Content-Length or chunked), appending decoded bytes to resp.Body.
func (c *Connection) ReadResponseBody(resp *httpmsg.Response) error {
	if resp.Chunked {
		return c.readChunkedBody(resp)
	}
	return c.readFixedBody(resp)
}

func (c *Connection) readFixedBody(resp *httpmsg.Response) error {
	remaining := resp.ContentLength
	for remaining > 0 {
		want := remaining
		if want > maxLine {
			want = maxLine
		}
		buf, err := c.ReadExact(want)
		if len(buf) > 0 {
			resp.AppendBody(buf)
		}
		if err != nil {
			return err
		}
		remaining -= len(buf)
	}
	return nil
}

// readChunkedBody decodes "Transfer-Encoding: chunked" framing. Unlike
// the original's fixed scratch buffer, a chunk is read in maxLine-sized
// slices so a chunk larger than the internal buffer still decodes
// correctly (resolves the open question around the chunk/buffer-size
// relationship).
func (c *Connection) readChunkedBody(resp *httpmsg.Response) error {
	for {
		sizeLine, err := c.readLine()
		if err != nil {
			return err
		}

		sizeField := sizeLine
		if semi := bytes.IndexByte([]byte(sizeField), ';'); semi >= 0 {
			sizeField = sizeField[:semi]
		}
		chunkSize, err := strconv.ParseUint(sizeField, 16, 64)
		if err != nil {
			return fmt.Errorf("%w: bad chunk size %q", httpmsg.ErrParse, sizeLine)
		}

		if chunkSize == 0 {
			if _, err := c.ReadExact(2); err != nil { // trailing CRLF
				return err
			}
			return nil
		}

		remaining := chunkSize
		for remaining > 0 {
			want := remaining
			if want > uint64(maxLine) {
				want = uint64(maxLine)
			}
			buf, err := c.ReadExact(int(want))
			if len(buf) > 0 {
				resp.AppendBody(buf)
			}
			if err != nil {
				return err
			}
			remaining -= uint64(len(buf))
		}

		if _, err := c.ReadExact(2); err != nil { // chunk-terminating CRLF
			return err
		}
	}
}

// readLine reads a CRLF-terminated line, stripped of the CRLF.
func (c *Connection) readLine() (string, error) {
	c.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	defer c.conn.SetReadDeadline(time.Time{})

	line, err := c.r.ReadString('\n')
	if err != nil {
		if len(line) == 0 {
			return "", classifyReadErr(err)
		}
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}

// ReadHTTPResponse reads and parses a full response (header and body)
// off the connection.
func (c *Connection) ReadHTTPResponse() (*httpmsg.Response, error) {
	header, err := c.ReadHTTPHeader()
	if err != nil {
		return nil, err
	}
	resp, err := httpmsg.ParseResponse(header)
	if err != nil {
		return nil, err
	}
	if err := c.ReadResponseBody(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ReadHTTPRequest reads and parses a full request header off the
// connection (the request body, if any, is read by the caller once the
// method and Content-Length are known).
func (c *Connection) ReadHTTPRequest() (*httpmsg.Request, error) {
	header, err := c.ReadHTTPHeader()
	if err != nil {
		return nil, err
	}
	return httpmsg.ParseRequest(header)
}
