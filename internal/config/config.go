// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/bff-gateway/config.toml",
	"configs/config.toml",
}

// Local routes served by the gateway itself. None of them may live under the
// forwarding prefix.
const (
	HealthzPath = "/healthz"
	ReadyzPath  = "/readyz"
	StatusPath  = "/-/status"
)

// DefaultMethods is the method set forwarded when gateway.methods is empty.
var DefaultMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}

var knownMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true,
	http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
	http.MethodOptions: true,
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Upstream string `kong:"short='u',help='Upstream base URL, e.g. http://localhost:8000 (overrides config).',env='UPSTREAM_URL'"`
	Prefix   string `kong:"help='Path prefix stripped before forwarding (overrides config).',env='GATEWAY_PREFIX'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (3000)
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// GatewayConfig describes which inbound requests are forwarded and how.
type GatewayConfig struct {
	Prefix       string   `toml:"prefix"`
	Methods      []string `toml:"methods"`
	PreserveHost *bool    `toml:"preserve_host"` // nil means default (true)
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	BaseURL                string `toml:"base_url"`
	TimeoutSeconds         int    `toml:"timeout_seconds"` // total exchange timeout; 0 disables it
	ResponseTimeoutSeconds int    `toml:"response_timeout_seconds"`
	IdleConnections        int    `toml:"idle_connections"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/bff-gateway/config.toml then configs/config.toml. A missing file is
// tolerated only when the upstream is given on the command line.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	switch {
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	case cli.Upstream == "":
		return nil, fmt.Errorf("config: no config file found (searched %v) and no --upstream given", configSearchPaths)
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Upstream != "" {
		c.Upstream.BaseURL = cli.Upstream
	}
	if cli.Prefix != "" {
		c.Gateway.Prefix = cli.Prefix
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	if err := validateBaseURL(c.Upstream.BaseURL); err != nil {
		return err
	}

	if err := validatePrefix(c.Gateway.Prefix); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Gateway.Methods))
	for _, m := range c.Gateway.Methods {
		if !knownMethods[m] {
			return fmt.Errorf("gateway.methods: unsupported method %q", m)
		}
		if seen[m] {
			return fmt.Errorf("gateway.methods: duplicate method %q", m)
		}
		seen[m] = true
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.ResponseTimeoutSeconds < 0 {
		return fmt.Errorf("upstream.response_timeout_seconds must be non-negative; got %d", c.Upstream.ResponseTimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Local routes must not be shadowed by the forwarding prefix.
	local := []string{HealthzPath, ReadyzPath, StatusPath}
	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range local {
			if p == reserved {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
		local = append(local, p)
	}
	for _, p := range local {
		if UnderPrefix(p, c.Gateway.Prefix) {
			return fmt.Errorf("route %q conflicts with gateway.prefix %q", p, c.Gateway.Prefix)
		}
	}

	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("upstream.base_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream.base_url must use http or https; got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream.base_url has no host; got %q", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("upstream.base_url must not carry a query or fragment; got %q", raw)
	}
	return nil
}

func validatePrefix(p string) error {
	switch {
	case p == "" || p[0] != '/':
		return fmt.Errorf("gateway.prefix must start with '/'; got %q", p)
	case p == "/":
		return errors.New("gateway.prefix must not be the root path")
	case strings.HasSuffix(p, "/"):
		return fmt.Errorf("gateway.prefix must not end with '/'; got %q", p)
	case strings.ContainsAny(p, "*:?#"):
		return fmt.Errorf("gateway.prefix must be a literal path; got %q", p)
	}
	return nil
}

// UnderPrefix reports whether path is the prefix itself or a descendant of it.
func UnderPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key. upstream.timeout_seconds is the
// exception: 0 keeps the total exchange unbounded.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1 << 30 // 1 GiB, audio uploads
	}
	if c.Gateway.Prefix == "" {
		c.Gateway.Prefix = "/api/proxy"
	}
	if len(c.Gateway.Methods) == 0 {
		c.Gateway.Methods = append([]string(nil), DefaultMethods...)
	}
	for i, m := range c.Gateway.Methods {
		c.Gateway.Methods[i] = strings.ToUpper(m)
	}
	if c.Gateway.PreserveHost == nil {
		preserve := true
		c.Gateway.PreserveHost = &preserve
	}
	if c.Upstream.ResponseTimeoutSeconds == 0 {
		c.Upstream.ResponseTimeoutSeconds = 300
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KeepHost reports whether the inbound Host header is sent upstream.
func (c *GatewayConfig) KeepHost() bool {
	return c.PreserveHost == nil || *c.PreserveHost
}

// WarnPermissions logs a warning if the config file is writable by group or
// others. Whoever can edit it decides where traffic is sent.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o022 != 0 {
		logger.Warn("config file is writable by group/others; consider chmod 644",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
