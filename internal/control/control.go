// Package control implements the proxy's admin HTTP surface: health,
// stats, Prometheus metrics, cache purges, shutdown, and config reload.
// Built on echo/echo-middleware in the style of
// kidoz-vulners-proxy-go's cmd/vulners-proxy/main.go. This plane never
// touches proxied traffic; it binds its own loopback-only listener.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"webproxy/internal/addrcache"
	"webproxy/internal/blacklist"
	"webproxy/internal/config"
	"webproxy/internal/logging"
	"webproxy/internal/metrics"
	"webproxy/internal/pagecache"
)

// API serves the proxy's admin endpoints.
type API struct {
	logger    *slog.Logger
	cfg       *config.Config
	pages     *pagecache.Cache
	addrs     *addrcache.Cache
	bl        *blacklist.List
	metrics   *metrics.Metrics
	access    *logging.AccessLogger
	startTime time.Time
	echo      *echo.Echo
	shutdown  func()
	reload    func() error
}

// New builds an API bound to the given caches, metrics registry, and
// access logger (access may be nil, in which case /stats omits its
// counters). shutdown is invoked (in its own goroutine) when
// /shutdown is called; reload re-reads the config file when /reload
// is called.
func New(logger *slog.Logger, cfg *config.Config, pages *pagecache.Cache, addrs *addrcache.Cache, bl *blacklist.List, m *metrics.Metrics, access *logging.AccessLogger, shutdown func(), reload func() error) *API {
	a := &API{
		logger:    logger,
		cfg:       cfg,
		pages:     pages,
		addrs:     addrs,
		bl:        bl,
		metrics:   m,
		access:    access,
		startTime: time.Now(),
		shutdown:  shutdown,
		reload:    reload,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(requestLogger(logger))
	e.Use(securityHeaders())

	e.GET("/", a.handleIndex)
	e.GET("/healthz", a.handleHealth)
	e.GET("/stats", a.handleStats)
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
	e.POST("/purge/all", a.handlePurgeAll)
	e.POST("/purge/url", a.handlePurgeURL)
	e.POST("/purge/domain/:domain", a.handlePurgeDomain)
	e.POST("/shutdown", a.handleShutdown)
	e.POST("/reload", a.handleReload)

	a.echo = e
	return a
}

// Start binds and serves the admin API; it blocks until Shutdown is
// called. The caller is responsible for restricting bindAddr to a
// loopback interface in production configurations.
func (a *API) Start(bindAddr string) error {
	a.logger.Info("starting control API", "address", bindAddr)
	err := a.echo.Start(bindAddr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the admin API server.
func (a *API) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down control API")
	return a.echo.Shutdown(ctx)
}

func (a *API) handleIndex(c echo.Context) error {
	return c.String(http.StatusOK, "webproxy control API\n")
}

func (a *API) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "ok",
		"uptime":      time.Since(a.startTime).String(),
		"config_file": a.cfg.LoadedPath,
	})
}

func (a *API) handleStats(c echo.Context) error {
	pageStats := a.pages.Stats()
	addrStats := a.addrs.Stats()
	stats := map[string]any{
		"uptime_seconds":       time.Since(a.startTime).Seconds(),
		"page_cache_hits":      pageStats.Hits,
		"page_cache_misses":    pageStats.Misses,
		"page_cache_size":      pageStats.Size,
		"page_cache_evictions": pageStats.Evictions,
		"addr_cache_hits":      addrStats.Hits,
		"addr_cache_misses":    addrStats.Misses,
		"addr_cache_size":      addrStats.Size,
	}
	if a.access != nil {
		am := a.access.GetMetrics()
		stats["access_log_entries"] = am.EntriesLogged
		stats["access_log_dropped"] = am.EntriesDropped
		stats["access_log_write_errors"] = am.WriteErrors
	}
	return c.JSON(http.StatusOK, stats)
}

func (a *API) handlePurgeAll(c echo.Context) error {
	a.pages.PurgeAll()
	a.logger.Info("purged all page cache entries")
	return c.JSON(http.StatusOK, map[string]any{"purged": true})
}

type purgeURLRequest struct {
	URL string `json:"url"`
}

func (a *API) handlePurgeURL(c echo.Context) error {
	var req purgeURLRequest
	if err := c.Bind(&req); err != nil || req.URL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}
	found := a.pages.PurgeByURL(req.URL)
	a.logger.Info("purge request by url", "url", req.URL, "found", found)
	return c.JSON(http.StatusOK, map[string]any{"url": req.URL, "purged": found})
}

func (a *API) handlePurgeDomain(c echo.Context) error {
	domain := strings.TrimSpace(c.Param("domain"))
	if domain == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "domain is required")
	}
	n := a.pages.PurgeByDomain(domain)
	a.logger.Info("purged page cache entries by domain", "domain", domain, "count", n)
	return c.JSON(http.StatusOK, map[string]any{"domain": domain, "purged_count": n})
}

func (a *API) handleShutdown(c echo.Context) error {
	a.logger.Info("shutdown request received via control API")
	if err := c.JSON(http.StatusOK, map[string]any{"status": "shutting down"}); err != nil {
		return err
	}
	go a.shutdown()
	return nil
}

func (a *API) handleReload(c echo.Context) error {
	if a.reload == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "reload not supported")
	}
	if err := a.reload(); err != nil {
		a.logger.Error("failed to reload config via control API", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("reload failed: %v", err))
	}
	if a.access != nil {
		a.access.ResetMetrics()
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "reloaded"})
}

// requestLogger is adapted from kidoz-vulners-proxy-go's
// internal/middleware.RequestLogger for the control plane's own slog
// logger.
func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			res := c.Response()
			logger.Debug("control request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", c.RealIP(),
			)
			return err
		}
	}
}

// securityHeaders is adapted from kidoz-vulners-proxy-go's
// internal/middleware.SecurityHeaders.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			c.Response().Header().Set("X-Content-Type-Options", "nosniff")
			c.Response().Header().Set("X-Frame-Options", "DENY")
			return err
		}
	}
}
