package httpmsg

import (
	"fmt"
	"strconv"
	"strings"
)

// Response is a parsed HTTP/1.x status line plus headers and body.
//
// Content-Length and chunking are tracked out of Header: the header map
// never carries a "Transfer-Encoding: chunked" entry once parsed, and
// Dump always emits a single Content-Length computed from Body.
type Response struct {
	Version       string
	StatusCode    int
	StatusText    string
	Header        Header
	Body          []byte
	Chunked       bool
	ContentLength int
	ContentType   string
}

// ParseResponse parses a raw CRLF-delimited status line and header block
// (no body). Body is filled in separately via AppendBody as it is read
// off the wire, chunked or not.
func ParseResponse(raw string) (*Response, error) {
	lines := splitLines(raw)
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrParse)
	}

	fields := strings.Fields(lines[0])
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: malformed status line %q", ErrParse, lines[0])
	}

	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad status code %q", ErrParse, fields[1])
	}

	resp := &Response{
		Version:    fields[0],
		StatusCode: code,
		Header:     Header{},
	}
	if len(fields) >= 3 {
		resp.StatusText = strings.Join(fields[2:], " ")
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = NormalizeFieldName(strip(key, " \r\t"))
		value = strip(value, " \r\t")
		resp.Header[key] = value
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.Atoi(cl); err == nil {
			resp.ContentLength = n
		}
		resp.Header.Del("Content-Length")
	}

	if te := resp.Header.Get("Transfer-Encoding"); strings.EqualFold(strip(te, " "), "chunked") {
		resp.Chunked = true
		resp.Header.Del("Transfer-Encoding")
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if semi := strings.IndexByte(ct, ';'); semi >= 0 {
			ct = ct[:semi]
		}
		resp.ContentType = strip(ct, " ")
	}

	if !resp.Header.Has("Connection") {
		if resp.Version == "HTTP/1.0" {
			resp.Header.Set("Connection", "close")
		} else {
			resp.Header.Set("Connection", "keep-alive")
		}
	}
	if !resp.Header.Has("Proxy-Connection") {
		resp.Header.Set("Proxy-Connection", "keep-alive")
	}

	return resp, nil
}

// SetHost overwrites the Host header to match the origin host:port,
// mirroring the request side's Host normalization (ParseRequest).
func (r *Response) SetHost(hostPort string) {
	r.Header.Set("Host", hostPort)
}

// AppendBody appends decoded body bytes, as read from the wire whether
// the original framing was content-length or chunked.
func (r *Response) AppendBody(b []byte) {
	r.Body = append(r.Body, b...)
}

// Dump re-serializes the response as a CRLF-terminated HTTP/1.x message,
// with a single Content-Length header reflecting len(Body) and never a
// chunked Transfer-Encoding: the proxy always de-chunks before forwarding.
func (r *Response) Dump() []byte {
	var b strings.Builder
	statusText := r.StatusText
	if statusText == "" {
		statusText = StatusText(r.StatusCode)
	}
	fmt.Fprintf(&b, "%s %d %s\r\n", versionOr(r.Version), r.StatusCode, statusText)
	for k, v := range r.Header {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(r.Body))
	b.WriteString("\r\n")
	out := []byte(b.String())
	return append(out, r.Body...)
}

func versionOr(v string) string {
	if v == "" {
		return "HTTP/1.1"
	}
	return v
}

// StatusText returns the reason phrase the proxy uses for its own
// synthesized responses (error conditions with no upstream status line).
func StatusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	case 504:
		return "Gateway Timeout"
	default:
		return "Unknown"
	}
}
