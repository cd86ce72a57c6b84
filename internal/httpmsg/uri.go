// Package httpmsg implements the proxy's permissive, line-oriented HTTP/1.x
// message model: request/response parsing and serialization, header
// normalization, and the URI type used as the page and address cache key.
package httpmsg

import "strings"

// URI is the scheme-stripped (host, port, path) triple used as a cache key
// and request target, with an optional resolved IP recorded after connect.
type URI struct {
	Scheme     string
	Host       string
	Port       string
	Path       string
	ResolvedIP string
}

// Key returns the case-insensitive cache key for a URI: host:port+path.
func (u URI) Key() string {
	return strings.ToLower(u.Host) + ":" + u.effectivePort() + u.effectivePath()
}

// Absolute returns host:port + path.
func (u URI) Absolute() string {
	return u.Host + ":" + u.effectivePort() + u.effectivePath()
}

// HostPort returns host:port, the dial target and Address Cache key.
func (u URI) HostPort() string {
	return u.Host + ":" + u.effectivePort()
}

func (u URI) effectivePort() string {
	if u.Port == "" {
		return "80"
	}
	return u.Port
}

func (u URI) effectivePath() string {
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

// EffectivePort returns the URI's port, defaulting to 80 if unset.
func (u URI) EffectivePort() string { return u.effectivePort() }

// EffectivePath returns the URI's path, defaulting to "/" if unset.
func (u URI) EffectivePath() string { return u.effectivePath() }

// ParseURI parses an absolute or relative URI reference. For a relative
// reference (no "://"), base supplies host/port/ResolvedIP and its path is
// used to resolve a relative path: the base path's last "/" truncates the
// base, then the reference is appended.
func ParseURI(raw string, base URI) URI {
	if raw == "" {
		return URI{Path: "/"}
	}

	if hash := strings.IndexByte(raw, '#'); hash >= 0 {
		raw = raw[:hash]
	}

	if idx := strings.Index(raw, "://"); idx >= 0 {
		rest := raw[idx+3:]
		var hostport, path string
		if slash := strings.IndexByte(rest, '/'); slash >= 0 {
			hostport, path = rest[:slash], rest[slash:]
		} else {
			hostport, path = rest, "/"
		}

		var host, port string
		if colon := strings.IndexByte(hostport, ':'); colon >= 0 {
			host, port = hostport[:colon], hostport[colon+1:]
		} else {
			host, port = hostport, "80"
		}

		return URI{Scheme: raw[:idx], Host: host, Port: port, Path: path}
	}

	// Relative reference.
	var path string
	if strings.HasPrefix(raw, "/") {
		path = raw
	} else if idx := strings.LastIndexByte(base.effectivePath(), '/'); idx >= 0 {
		path = base.effectivePath()[:idx+1] + raw
	} else {
		path = "/" + raw
	}

	return URI{Host: base.Host, Port: base.Port, Path: path, ResolvedIP: base.ResolvedIP}
}
