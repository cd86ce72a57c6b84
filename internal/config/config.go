// Package config parses the webproxy CLI (via kong) and merges it with
// an optional TOML file (via BurntSushi/toml), layering file defaults
// under CLI overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// CLI is the root command parsed by kong. "run" starts the proxy;
// "ctl" talks to a running instance's control API.
type CLI struct {
	Run RunCmd `cmd:"" help:"Run the forwarding proxy."`
	Ctl CtlCmd `cmd:"" help:"Control a running proxy over its admin API."`
}

// RunCmd starts the proxy and (optionally) daemonizes it.
type RunCmd struct {
	Port          int    `help:"Proxy listen port." default:"8080"`
	ControlPort   int    `help:"Admin API listen port." default:"8081"`
	CacheTimeout  int    `help:"Page cache TTL in seconds." default:"60" name:"cache-timeout"`
	Config        string `help:"Path to a TOML config file." type:"path"`
	Daemon        bool   `help:"Detach and run in the background."`
	LogLevel      string `help:"Log level: debug, info, warn, error." default:"info" name:"log-level"`
	BlacklistPath string `help:"Path to the host/IP blacklist file." name:"blacklist"`
}

// CtlCmd's subcommands mirror internal/cli.Client's operations; there
// is no CA-export subcommand since this proxy never terminates TLS.
type CtlCmd struct {
	Port     int         `help:"Admin API port to connect to." default:"8081"`
	Status   StatusCmd   `cmd:"" help:"Print cache and proxy stats."`
	Purge    PurgeCmd    `cmd:"" help:"Purge one domain's cached entries."`
	PurgeURL PurgeURLCmd `cmd:"" name:"purge-url" help:"Purge a single cached URL."`
	PurgeAll PurgeAllCmd `cmd:"" name:"purge-all" help:"Purge every cached entry."`
	Stop     StopCmd     `cmd:"" help:"Signal a running proxy to shut down."`
}

type StatusCmd struct{}
type PurgeCmd struct {
	Domain string `arg:"" help:"Domain to purge."`
}
type PurgeURLCmd struct {
	URL string `arg:"" help:"URL to purge."`
}
type PurgeAllCmd struct {
	Yes bool `help:"Skip the confirmation prompt."`
}
type StopCmd struct{}

// Config is the effective, merged configuration a RunCmd produces.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Cache     CacheConfig     `toml:"cache"`
	Prefetch  PrefetchConfig  `toml:"prefetch"`
	Logging   LoggingConfig   `toml:"logging"`
	DNS       DNSConfig       `toml:"dns"`
	Blacklist string          `toml:"blacklist_path"`

	LoadedPath string `toml:"-"`
}

type ServerConfig struct {
	ProxyPort      int    `toml:"proxy_port"`
	ControlPort    int    `toml:"control_port"`
	BindAddress    string `toml:"bind_address"`
	ProxyTimeout   string `toml:"proxy_timeout"`
	GatewayTimeout string `toml:"gateway_timeout"`
}

type CacheConfig struct {
	DefaultTTL string `toml:"default_ttl"`
	// MaxEntries bounds the page cache to an LRU eviction policy on
	// top of its TTL; 0 (the default) leaves it unbounded.
	MaxEntries int `toml:"max_entries"`
}

type PrefetchConfig struct {
	Enable        bool    `toml:"enable"`
	Timeout       string  `toml:"timeout"`
	RatePerSecond float64 `toml:"rate_per_second"`
	Burst         int     `toml:"burst"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	AppendLog string `toml:"app_logfile"`

	// AccessLog* configure the per-request access logger, distinct from
	// the structured application log above.
	AccessLogFile    string `toml:"access_logfile"`
	AccessLogFormat  string `toml:"access_log_format"`
	AccessLogStdout  bool   `toml:"access_log_stdout"`
}

// DNSConfig names upstream resolvers for internal/addrcache; an empty
// list means "use the system resolver only".
type DNSConfig struct {
	Servers []string `toml:"servers"`
}

func (c *CacheConfig) GetDefaultTTL() time.Duration {
	d, err := time.ParseDuration(c.DefaultTTL)
	if err != nil {
		return time.Hour
	}
	return d
}

func (s *ServerConfig) GetProxyTimeout() time.Duration {
	d, err := time.ParseDuration(s.ProxyTimeout)
	if err != nil {
		return 20 * time.Second
	}
	return d
}

func (s *ServerConfig) GetGatewayTimeout() time.Duration {
	d, err := time.ParseDuration(s.GatewayTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

func (p *PrefetchConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(p.Timeout)
	if err != nil {
		return 2 * time.Second
	}
	return d
}

func newDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ProxyPort:      8080,
			ControlPort:    8081,
			BindAddress:    "0.0.0.0",
			ProxyTimeout:   "20s",
			GatewayTimeout: "15s",
		},
		Cache: CacheConfig{
			DefaultTTL: "1h",
		},
		Prefetch: PrefetchConfig{
			Enable:        true,
			Timeout:       "2s",
			RatePerSecond: 10,
			Burst:         5,
		},
		Logging: LoggingConfig{
			Level:           "info",
			AccessLogFormat: "human",
			AccessLogStdout: true,
		},
	}
}

// searchPaths lists the locations checked when RunCmd.Config is empty.
var searchPaths = []string{
	"./webproxy.toml",
	"/etc/webproxy/config.toml",
}

// Load builds the effective Config from an optional TOML file, with
// CLI flags on RunCmd taking precedence over anything the file sets.
func Load(run *RunCmd) (*Config, error) {
	cfg := newDefaultConfig()

	path := run.Config
	if path == "" {
		path = findConfig(searchPaths)
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		cfg.LoadedPath = path
	}

	applyCLI(cfg, run)

	if !validLogLevel(cfg.Logging.Level) {
		slog.Warn("config: invalid log level, defaulting to info", "invalid", cfg.Logging.Level)
		cfg.Logging.Level = "info"
	}

	return cfg, nil
}

func applyCLI(cfg *Config, run *RunCmd) {
	if run.Port != 0 {
		cfg.Server.ProxyPort = run.Port
	}
	if run.ControlPort != 0 {
		cfg.Server.ControlPort = run.ControlPort
	}
	if run.CacheTimeout != 0 {
		cfg.Cache.DefaultTTL = fmt.Sprintf("%ds", run.CacheTimeout)
	}
	if run.LogLevel != "" {
		cfg.Logging.Level = run.LogLevel
	}
	if run.BlacklistPath != "" {
		cfg.Blacklist = run.BlacklistPath
	}
}

func validLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func findConfig(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
