// Package prefetch implements opportunistic link prefetching: when a
// text/html page is cached, its href="..." links are scanned and
// fetched in the background so a follow-on request is a cache hit.
// Grounded on original_source/Prefetcher.cpp's operator()/fetch/
// parse_links.
package prefetch

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"webproxy/internal/addrcache"
	"webproxy/internal/connection"
	"webproxy/internal/httpmsg"
	"webproxy/internal/metrics"
	"webproxy/internal/pagecache"
)

// Prefetcher fans out GETs for the links found in a cached HTML page,
// bounded by Timeout and rate-limited so a single page's link set can't
// monopolize outbound connections.
type Prefetcher struct {
	pages   *pagecache.Cache
	addrs   *addrcache.Cache
	logger  *slog.Logger
	limiter *rate.Limiter
	timeout time.Duration
	metrics *metrics.Metrics

	inflight sync.WaitGroup
}

// Config controls fan-out rate and the overall per-page deadline.
type Config struct {
	// Timeout bounds how long a single page's prefetch round runs;
	// fetches still outstanding past this are abandoned in place,
	// relying on the page cache's idempotent Put for any that
	// complete late.
	Timeout time.Duration
	// RatePerSecond bounds how many prefetch fetches start per
	// second; Burst is the rate.Limiter burst size.
	RatePerSecond float64
	Burst         int
}

// New builds a Prefetcher that inserts into pages and resolves upstream
// addresses through addrs. m may be nil to disable metrics recording.
func New(pages *pagecache.Cache, addrs *addrcache.Cache, logger *slog.Logger, cfg Config, m *metrics.Metrics) *Prefetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	return &Prefetcher{
		pages:   pages,
		addrs:   addrs,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		timeout: cfg.Timeout,
		metrics: m,
	}
}

func (p *Prefetcher) recordAttempt(outcome string) {
	if p.metrics != nil {
		p.metrics.PrefetchAttempts.WithLabelValues(outcome).Inc()
	}
}

// OnPageCached is installed as the page cache's insertion callback, so
// it runs in the goroutine Put spawns for it. It fetches each link in
// its own goroutine and blocks until they all finish or the
// prefetcher's timeout elapses; fetches still running then are
// abandoned.
func (p *Prefetcher) OnPageCached(key string, entry pagecache.Entry) {
	links := ParseLinks(entry, baseURIFromKey(key))
	if len(links) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, link := range links {
		if p.pages.Contains(link.Key()) {
			continue
		}
		wg.Add(1)
		p.inflight.Add(1)
		go func(link httpmsg.URI) {
			defer wg.Done()
			defer p.inflight.Done()
			p.fetch(ctx, link)
		}(link)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Debug("prefetch round timed out, abandoning stragglers", "key", key)
	}
}

// Wait blocks until all in-flight prefetch fetches have finished or been
// abandoned by their own context deadline, for graceful shutdown.
func (p *Prefetcher) Wait() {
	p.inflight.Wait()
}

func (p *Prefetcher) fetch(ctx context.Context, uri httpmsg.URI) bool {
	if p.pages.Contains(uri.Key()) {
		p.recordAttempt("already_cached")
		return true
	}
	if err := p.limiter.Wait(ctx); err != nil {
		p.recordAttempt("rate_limited")
		return false
	}

	conn, err := connection.Connect(ctx, p.addrs, uri.Host, uri.EffectivePort())
	if err != nil {
		p.logger.Debug("prefetch connect failed", "uri", uri.Absolute(), "err", err)
		p.recordAttempt("connect_error")
		return false
	}
	defer conn.Close()

	req := "GET " + uri.EffectivePath() + " HTTP/1.1\r\nHost: " + uri.HostPort() + "\r\nConnection: close\r\n\r\n"
	if err := conn.SendAll([]byte(req)); err != nil {
		p.logger.Debug("prefetch send failed", "uri", uri.Absolute(), "err", err)
		p.recordAttempt("send_error")
		return false
	}

	resp, err := conn.ReadHTTPResponse()
	if err != nil {
		p.logger.Debug("prefetch fetch failed", "uri", uri.Absolute(), "err", err)
		p.recordAttempt("read_error")
		return false
	}
	if resp.StatusCode != 200 {
		p.recordAttempt("non_200")
		return false
	}

	p.pages.Put(uri.Key(), pagecache.Entry{
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		Body:        resp.Body,
		ContentType: resp.ContentType,
	})
	p.logger.Debug("prefetched", "uri", uri.Absolute())
	p.recordAttempt("success")
	return true
}

// ParseLinks extracts href="..." targets from an HTML entry's body.
// Only text/html bodies are scanned and https:// targets are skipped;
// links already in the page cache are not filtered here (OnPageCached
// does that).
func ParseLinks(entry pagecache.Entry, base httpmsg.URI) []httpmsg.URI {
	var links []httpmsg.URI
	if entry.ContentType != "text/html" {
		return links
	}

	body := entry.Body
	start := 0
	for {
		idx := bytes.Index(body[start:], []byte(`href="`))
		if idx < 0 {
			break
		}
		linkStart := start + idx + len(`href="`)
		end := bytes.IndexByte(body[linkStart:], '"')
		if end < 0 {
			break
		}
		link := string(body[linkStart : linkStart+end])
		start = linkStart + end + 1

		if strings.Contains(link, "https://") {
			continue
		}
		links = append(links, httpmsg.ParseURI(link, base))
	}
	return links
}

// baseURIFromKey reconstructs an approximate base URI from a page
// cache key (host:port+path) for relative-link resolution; the path
// component is sufficient since ParseURI only needs its directory.
func baseURIFromKey(key string) httpmsg.URI {
	hostPort, path, ok := strings.Cut(key, "/")
	if !ok {
		return httpmsg.URI{Host: key, Port: "80", Path: "/"}
	}
	host, port, ok := strings.Cut(hostPort, ":")
	if !ok {
		host, port = hostPort, "80"
	}
	return httpmsg.URI{Host: host, Port: port, Path: "/" + path}
}
