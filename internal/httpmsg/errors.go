package httpmsg

import "errors"

// The proxy distinguishes these error kinds when deciding whether to retry,
// reconnect, or synthesize a client-visible status (see component design in
// SPEC_FULL.md §7). Transient is recoverable by looping the same I/O call;
// the rest terminate the current attempt.
var (
	ErrTransient  = errors.New("httpmsg: transient I/O, retry")
	ErrPeerClosed = errors.New("httpmsg: peer closed connection")
	ErrFatalIO    = errors.New("httpmsg: fatal I/O error")
	ErrParse      = errors.New("httpmsg: malformed HTTP message")
	ErrTimeout    = errors.New("httpmsg: timed out")
	ErrBlocked    = errors.New("httpmsg: host blocked by blacklist")
	ErrNotFound   = errors.New("httpmsg: upstream unreachable")
	ErrBadMethod  = errors.New("httpmsg: unsupported method")
)
