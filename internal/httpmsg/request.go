package httpmsg

import (
	"fmt"
	"strings"
)

// Method is one of the request methods the proxy recognizes.
type Method string

const (
	MethodGET     Method = "GET"
	MethodHEAD    Method = "HEAD"
	MethodPOST    Method = "POST"
	MethodCONNECT Method = "CONNECT"
	MethodUnknown Method = "UNKNOWN"
)

func parseMethod(s string) Method {
	switch s {
	case "GET":
		return MethodGET
	case "HEAD":
		return MethodHEAD
	case "POST":
		return MethodPOST
	case "CONNECT":
		return MethodCONNECT
	default:
		return MethodUnknown
	}
}

// Request is a parsed HTTP/1.x request line plus headers.
type Request struct {
	Method  Method
	Version string
	URI     URI
	Header  Header
}

// ParseRequest parses a raw CRLF-delimited header block (request line plus
// header fields, ending at the blank line) into a Request. For CONNECT,
// the request-target is host:port with no scheme; it is parsed with
// "http://" prepended so ParseURI treats it as absolute. An empty host
// with no Host header is rejected (SPEC_FULL.md §9, resolving spec.md's
// open question (c)).
func ParseRequest(raw string) (*Request, error) {
	lines := splitLines(raw)
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty request", ErrParse)
	}

	fields := strings.Fields(lines[0])
	if len(fields) < 2 {
		return nil, fmt.Errorf("%w: malformed request line %q", ErrParse, lines[0])
	}

	req := &Request{
		Method: parseMethod(fields[0]),
		Header: Header{},
	}
	if len(fields) >= 3 {
		req.Version = fields[2]
	} else {
		req.Version = "HTTP/1.0"
	}

	target := fields[1]

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		req.Header.Set(key, strings.TrimSpace(value))
	}

	if !req.Header.Has("Connection") {
		if req.Version == "HTTP/1.1" {
			req.Header.Set("Connection", "Keep-Alive")
		} else {
			req.Header.Set("Connection", "Close")
		}
	}
	if !req.Header.Has("Proxy-Connection") {
		req.Header.Set("Proxy-Connection", "Keep-Alive")
	}
	req.Header.Del("Upgrade-Insecure-Requests")

	if req.Method == MethodCONNECT {
		target = "http://" + target
	}
	req.URI = ParseURI(target, URI{})
	if req.URI.Path == "" {
		req.URI.Path = "/"
	}
	if req.URI.Port == "" {
		req.URI.Port = "80"
	}
	if req.URI.Host == "" {
		req.URI.Host = req.Header.Get("Host")
		if req.URI.Host == "" {
			return nil, fmt.Errorf("%w: no host in request-target or Host header", ErrParse)
		}
		if colon := strings.LastIndexByte(req.URI.Host, ':'); colon >= 0 {
			req.URI.Port = req.URI.Host[colon+1:]
			req.URI.Host = req.URI.Host[:colon]
		}
	} else {
		req.Header.Set("Host", req.URI.Host+":"+req.URI.Port)
	}

	return req, nil
}

// Dump re-serializes the request as a CRLF-terminated HTTP/1.x message.
func (r *Request) Dump() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\r\n", r.Method, r.URI.Path, r.Version)
	for k, v := range r.Header {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

func splitLines(raw string) []string {
	raw = strings.TrimRight(raw, "\r\n")
	parts := strings.Split(raw, "\n")
	for i, p := range parts {
		parts[i] = strings.TrimSuffix(p, "\r")
	}
	return parts
}
