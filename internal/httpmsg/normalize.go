package httpmsg

import "strings"

// NormalizeFieldName title-cases a header field name: the first character
// of each hyphen-separated segment is upper-cased, the rest lower-cased.
// Idempotent: NormalizeFieldName(NormalizeFieldName(x)) == NormalizeFieldName(x).
func NormalizeFieldName(name string) string {
	b := []byte(name)
	nextUpper := true
	for i, c := range b {
		switch {
		case nextUpper && c >= 'a' && c <= 'z':
			b[i] = c - 'a' + 'A'
			nextUpper = false
		case !nextUpper && c >= 'A' && c <= 'Z':
			b[i] = c - 'A' + 'a'
		default:
			nextUpper = false
		}
		if c == '-' {
			nextUpper = true
		}
	}
	return string(b)
}

// Header is a header map keyed by normalized field name. Every insert and
// lookup normalizes, so callers never need to pre-normalize.
type Header map[string]string

// Get returns the value for name, normalizing name first.
func (h Header) Get(name string) string {
	return h[NormalizeFieldName(name)]
}

// Set stores value under the normalized form of name.
func (h Header) Set(name, value string) {
	h[NormalizeFieldName(name)] = value
}

// Del removes the normalized form of name.
func (h Header) Del(name string) {
	delete(h, NormalizeFieldName(name))
}

// Has reports whether the normalized form of name is present.
func (h Header) Has(name string) bool {
	_, ok := h[NormalizeFieldName(name)]
	return ok
}

func strip(s, cutset string) string {
	return strings.Trim(s, cutset)
}
