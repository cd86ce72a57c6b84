// Command webproxy runs the forwarding proxy ("webproxy run") or talks
// to a running instance's control API ("webproxy ctl ..."). Composition
// follows kidoz-vulners-proxy-go's cmd/vulners-proxy/main.go: kong
// parses the CLI, go.uber.org/fx wires the constructors and lifecycle
// hooks.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/fx"

	"webproxy/internal/addrcache"
	"webproxy/internal/blacklist"
	"webproxy/internal/cli"
	"webproxy/internal/config"
	"webproxy/internal/control"
	"webproxy/internal/logging"
	"webproxy/internal/metrics"
	"webproxy/internal/pagecache"
	"webproxy/internal/pidfile"
	"webproxy/internal/prefetch"
	"webproxy/internal/proxyconn"
	"webproxy/internal/server"
)

var exit = os.Exit

func main() {
	var root config.CLI
	ctx := kong.Parse(&root,
		kong.Name("webproxy"),
		kong.Description("A forwarding HTTP/1.x proxy with opportunistic link prefetching."),
	)

	switch {
	case ctx.Command() == "run":
		runDaemonOrForeground(&root.Run)
	case strings.HasPrefix(ctx.Command(), "ctl"):
		if err := runCtl(ctx.Command(), &root.Ctl); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "Error: unknown command")
		exit(1)
	}
}

func runCtl(command string, c *config.CtlCmd) error {
	switch command {
	case "ctl status":
		return cli.Run(c.Port, []string{"status"})
	case "ctl purge":
		return cli.Run(c.Port, []string{"purge", c.Purge.Domain})
	case "ctl purge-url":
		return cli.Run(c.Port, []string{"purge-url", c.PurgeURL.URL})
	case "ctl purge-all":
		if c.PurgeAll.Yes {
			return cli.NewClient(c.Port).PurgeAll()
		}
		return cli.Run(c.Port, []string{"purge-all"})
	case "ctl stop":
		return cli.Run(c.Port, []string{"stop"})
	default:
		return fmt.Errorf("unknown ctl command: %s", command)
	}
}

func runDaemonOrForeground(run *config.RunCmd) {
	if run.Daemon {
		if _, err := pidfile.Read(); err == nil {
			fmt.Fprintln(os.Stderr, "Error: webproxy is already running")
			exit(1)
			return
		}
		args := make([]string, 0, len(os.Args)-1)
		for _, a := range os.Args[1:] {
			if a != "--daemon" {
				args = append(args, a)
			}
		}
		cmd := exec.Command(os.Args[0], args...)
		cmd.SysProcAttr = getProcAttr()
		if err := cmd.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start daemon: %v\n", err)
			exit(1)
			return
		}
		fmt.Printf("webproxy started in background with PID: %d\n", cmd.Process.Pid)
		return
	}

	runForeground(run)
}

// runForeground builds and runs the full dependency graph with fx,
// blocking until the process receives a shutdown signal.
func runForeground(run *config.RunCmd) {
	app := fx.New(
		fx.Provide(
			func() *config.RunCmd { return run },
			config.Load,
			newLogger,
			newBlacklist,
			newAddrCache,
			newPageCache,
			metrics.New,
			newPrefetcher,
			newProxyConnConfig,
			newAccessLogger,
			newServer,
			newControlAPI,
		),
		fx.Invoke(
			wirePrefetchCallback,
			startServer,
			startControlAPI,
			startMetricsSnapshotter,
			handleSignals,
		),
		fx.NopLogger,
	)

	app.Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	// A daemonized process (see runDaemonOrForeground) has no attached
	// terminal; writing to stdout there just fills a pipe nobody reads.
	var w io.Writer = io.Discard
	if logging.IsForegroundMode() {
		w = os.Stdout
	}
	if cfg.Logging.AppendLog != "" {
		f, err := os.OpenFile(cfg.Logging.AppendLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			w = io.MultiWriter(w, f)
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newBlacklist(cfg *config.Config, logger *slog.Logger) *blacklist.List {
	if cfg.Blacklist == "" {
		logger.Debug("no blacklist file configured, running with an empty blacklist")
		return blacklist.Empty()
	}
	bl, err := blacklist.Load(cfg.Blacklist)
	if err != nil {
		logger.Warn("failed to load blacklist, continuing with an empty blacklist", "error", err)
		return blacklist.Empty()
	}
	return bl
}

func newAddrCache(cfg *config.Config) *addrcache.Cache {
	return addrcache.New(cfg.DNS.Servers)
}

func newPageCache(cfg *config.Config) *pagecache.Cache {
	return pagecache.NewWithMaxEntries(cfg.Cache.GetDefaultTTL(), cfg.Cache.MaxEntries)
}

func newPrefetcher(pages *pagecache.Cache, addrs *addrcache.Cache, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *prefetch.Prefetcher {
	return prefetch.New(pages, addrs, logger.With("component", "prefetch"), prefetch.Config{
		Timeout:       cfg.Prefetch.GetTimeout(),
		RatePerSecond: cfg.Prefetch.RatePerSecond,
		Burst:         cfg.Prefetch.Burst,
	}, m)
}

// wirePrefetchCallback installs the prefetcher as the page cache's
// insertion hook, the happens-before edge spec.md requires between a
// Put and the prefetch round it triggers.
func wirePrefetchCallback(pages *pagecache.Cache, p *prefetch.Prefetcher, cfg *config.Config) {
	if cfg.Prefetch.Enable {
		pages.SetInsertionCallback(p.OnPageCached)
	}
}

func newProxyConnConfig(cfg *config.Config) proxyconn.Config {
	return proxyconn.Config{
		ProxyTimeout:   cfg.Server.GetProxyTimeout(),
		GatewayTimeout: cfg.Server.GetGatewayTimeout(),
	}
}

// newAccessLogger builds the per-request access log, separate from the
// structured application log newLogger sets up.
func newAccessLogger(cfg *config.Config) (*logging.AccessLogger, error) {
	format := logging.FormatHuman
	if strings.ToLower(cfg.Logging.AccessLogFormat) == "json" {
		format = logging.FormatJSON
	}
	return logging.NewAccessLogger(logging.AccessLoggerConfig{
		Format:        format,
		StdoutEnabled: cfg.Logging.AccessLogStdout,
		LogFile:       cfg.Logging.AccessLogFile,
		ErrorHandler:  logging.DefaultErrorHandler,
	})
}

func newServer(cfg *config.Config, addrs *addrcache.Cache, pages *pagecache.Cache, bl *blacklist.List, logger *slog.Logger, pcCfg proxyconn.Config, m *metrics.Metrics, access *logging.AccessLogger) (*server.Server, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.ProxyPort)
	return server.New(addr, addrs, pages, bl, logger.With("component", "proxy"), pcCfg, m, access)
}

func newControlAPI(cfg *config.Config, pages *pagecache.Cache, addrs *addrcache.Cache, bl *blacklist.List, logger *slog.Logger, m *metrics.Metrics, access *logging.AccessLogger, shutdowner fx.Shutdowner) *control.API {
	shutdown := func() {
		shutdowner.Shutdown()
	}
	reload := func() error {
		// Config reload re-reads the page cache TTL on a control-API
		// /reload call (SIGHUP does not trigger it); the blacklist and
		// listener addresses are fixed for the process lifetime.
		newCfg, err := config.Load(&config.RunCmd{Config: cfg.LoadedPath})
		if err != nil {
			return err
		}
		pages.UpdateTTL(newCfg.Cache.GetDefaultTTL())
		*cfg = *newCfg
		return nil
	}
	return control.New(logger.With("component", "control"), cfg, pages, addrs, bl, m, access, shutdown, reload)
}

func startServer(lc fx.Lifecycle, srv *server.Server, access *logging.AccessLogger, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("webproxy listening", "address", srv.Addr())
			go func() {
				if err := srv.Serve(ctx); err != nil {
					logger.Error("proxy server stopped with error", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			// Cancel first so every ctx.Err() check in proxyconn.Worker
			// (Serve's loop, forward's retry, the CONNECT relay deadline)
			// observes shutdown before Shutdown starts its drain wait.
			cancel()
			err := srv.Shutdown(5 * time.Second)
			if closeErr := access.Close(); closeErr != nil {
				logger.Warn("failed to close access logger", "error", closeErr)
			}
			return err
		},
	})
}

func startControlAPI(lc fx.Lifecycle, cfg *config.Config, api *control.API, logger *slog.Logger) {
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.ControlPort)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := pidfile.Write(); err != nil {
				logger.Warn("failed to write pidfile", "error", err)
			}
			go func() {
				if err := api.Start(addr); err != nil {
					logger.Error("control API stopped with error", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			defer pidfile.Remove()
			return api.Shutdown(ctx)
		},
	})
}

// startMetricsSnapshotter periodically pushes pagecache/addrcache
// counters into their Prometheus gauges; the caches track hits/misses
// with plain atomics, so nothing updates the gauges on its own.
func startMetricsSnapshotter(lc fx.Lifecycle, pages *pagecache.Cache, addrs *addrcache.Cache, m *metrics.Metrics) {
	stop := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ticker := time.NewTicker(5 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						ps := pages.Stats()
						m.SetPageCacheStats(metrics.CacheStats{Hits: ps.Hits, Misses: ps.Misses, Size: ps.Size})
						as := addrs.Stats()
						m.SetAddrCacheStats(metrics.CacheStats{Hits: as.Hits, Misses: as.Misses, Size: as.Size})
					case <-stop:
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			close(stop)
			return nil
		},
	})
}

func handleSignals(lc fx.Lifecycle, shutdowner fx.Shutdowner, logger *slog.Logger) {
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	stop := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				for {
					select {
					case sig := <-sigchan:
						switch sig {
						case syscall.SIGINT, syscall.SIGTERM:
							logger.Info("shutdown signal received, draining workers")
							shutdowner.Shutdown()
							return
						case syscall.SIGHUP:
							logger.Info("SIGHUP received; reload via the control API's /reload endpoint")
						}
					case <-stop:
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			close(stop)
			return nil
		},
	})
}
