// Package addrcache implements the proxy's address cache: a host:port to
// resolved-address map with no TTL, evicted only on connect failure (see
// original_source/types.cpp's AddrInfo and Connection.cpp's connect()).
package addrcache

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
)

// Entry is the cached result of resolving host:port to a dialable address.
type Entry struct {
	Network string // "tcp"
	Addr    net.Addr
}

// Cache is a concurrency-safe host:port -> Entry map, holding entries
// until explicitly removed (never time-expired: a resolved address stays
// valid until a connect attempt using it actually fails).
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry

	hits   atomic.Int64
	misses atomic.Int64

	resolver   *net.Resolver
	dnsClient  *dns.Client
	dnsServers []string
}

// New builds an empty Cache. dnsServers, if non-empty, are queried
// directly via github.com/miekg/dns before falling back to the system
// resolver; an empty list skips straight to net.DefaultResolver.
func New(dnsServers []string) *Cache {
	return &Cache{
		entries:    make(map[string]Entry),
		resolver:   net.DefaultResolver,
		dnsClient:  &dns.Client{Timeout: 3 * time.Second},
		dnsServers: dnsServers,
	}
}

// Get returns the cached entry for hostPort, if any, counting a hit or
// miss against Stats().
func (c *Cache) Get(hostPort string) (Entry, bool) {
	e, ok := c.get(hostPort)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return e, ok
}

// get is Get without the stats side effect, for internal lookups that
// are part of a larger operation (Resolve) whose caller already counts
// the outer decision (see Connect in internal/connection).
func (c *Cache) get(hostPort string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[hostPort]
	c.mu.RUnlock()
	return e, ok
}

// Put records the resolved address for hostPort.
func (c *Cache) Put(hostPort string, e Entry) {
	c.mu.Lock()
	c.entries[hostPort] = e
	c.mu.Unlock()
}

// Remove evicts hostPort, typically after a connect using its cached
// address has failed.
func (c *Cache) Remove(hostPort string) {
	c.mu.Lock()
	delete(c.entries, hostPort)
	c.mu.Unlock()
}

// Contains reports whether hostPort has a cached entry.
func (c *Cache) Contains(hostPort string) bool {
	c.mu.RLock()
	_, ok := c.entries[hostPort]
	c.mu.RUnlock()
	return ok
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return n
}

// Stats reports cumulative hit/miss counters.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int
}

func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: c.Len()}
}

// Resolve returns a dialable net.Addr for host, using the cache first,
// then (if configured) direct DNS queries via miekg/dns, then falling
// back to the system resolver. A successful resolution is cached.
func (c *Cache) Resolve(ctx context.Context, host, port string) (net.Addr, error) {
	hostPort := net.JoinHostPort(host, port)
	if e, ok := c.get(hostPort); ok {
		return e.Addr, nil
	}

	ip, err := c.resolveIP(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("addrcache: resolving %s: %w", host, err)
	}

	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(ip, port))
	if err != nil {
		return nil, fmt.Errorf("addrcache: building address for %s: %w", host, err)
	}

	c.Put(hostPort, Entry{Network: "tcp", Addr: addr})
	return addr, nil
}

func (c *Cache) resolveIP(ctx context.Context, host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}

	for _, server := range c.dnsServers {
		ip, err := c.queryDNS(host, server)
		if err == nil {
			return ip, nil
		}
	}

	ips, err := c.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("no addresses for %s", host)
	}
	return ips[0].IP.String(), nil
}

func (c *Cache) queryDNS(host, server string) (string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	resp, _, err := c.dnsClient.Exchange(msg, server)
	if err != nil {
		return "", err
	}
	for _, ans := range resp.Answer {
		if a, ok := ans.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", fmt.Errorf("no A record for %s at %s", host, server)
}
