// Package config provides configuration management for ChallengeGate.
//
// Values are resolved in three layers: DefaultConfig, then an optional file
// (JSON, YAML or TOML, picked by extension), then GATE_* environment
// variables.  The result is loaded once at startup and shared across
// goroutines as a read-only value.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every environment override, e.g. GATE_UPSTREAM.
const EnvPrefix = "GATE"

// Default browser identity used for outbound challenge and quota calls.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config holds all tunable parameters of the gateway.
type Config struct {
	// Listen is the address of the public HTTP surface (debug console,
	// quota endpoint and transparent proxy).
	Listen string `json:"listen" yaml:"listen" toml:"listen" envconfig:"LISTEN"`

	// AdminAddr is the address of the admin listener (metrics, logs,
	// config).  Empty disables it.
	AdminAddr string `json:"admin_addr" yaml:"admin_addr" toml:"admin_addr" envconfig:"ADMIN_ADDR"`

	// Upstream is the origin every request is forwarded to, e.g.
	// "https://anyrouter.top".
	Upstream string `json:"upstream" yaml:"upstream" toml:"upstream" envconfig:"UPSTREAM"`

	// DefaultTarget is the upstream path used by /debug-cookie and the quota
	// lookup when the caller supplies none.
	DefaultTarget string `json:"default_target" yaml:"default_target" toml:"default_target" envconfig:"DEFAULT_TARGET"`

	// RequestTimeout bounds each outbound call up to the response headers.
	// Streaming proxied bodies is not cut off by it.
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`

	// ScriptTimeout bounds a single challenge script run.
	ScriptTimeout Duration `json:"script_timeout" yaml:"script_timeout" toml:"script_timeout" envconfig:"SCRIPT_TIMEOUT"`

	// Engine selects the JavaScript interpreter: "otto" or "goja".
	Engine string `json:"engine" yaml:"engine" toml:"engine" envconfig:"ENGINE"`

	// SandboxWorkers caps concurrent script executions.  0 means one per
	// CPU.
	SandboxWorkers int `json:"sandbox_workers" yaml:"sandbox_workers" toml:"sandbox_workers" envconfig:"SANDBOX_WORKERS"`

	// UserAgent is sent on the challenge fetch and the quota call.
	UserAgent string `json:"user_agent" yaml:"user_agent" toml:"user_agent" envconfig:"USER_AGENT"`

	// ProxyFile is the path to a newline-delimited list of outbound proxies
	// (host:port or scheme://host:port).  Leave empty to connect directly.
	ProxyFile string `json:"proxy_file" yaml:"proxy_file" toml:"proxy_file" envconfig:"PROXY_FILE"`

	// TLSFingerprint routes upstream traffic through a Chrome 120 uTLS
	// ClientHello over HTTP/2.  Cannot be combined with ProxyFile.
	TLSFingerprint bool `json:"tls_fingerprint" yaml:"tls_fingerprint" toml:"tls_fingerprint" envconfig:"TLS_FINGERPRINT"`

	// MaxIdleConns is the total maximum number of idle (keep-alive)
	// connections in the upstream transport pool.
	MaxIdleConns int `json:"max_idle_conns" yaml:"max_idle_conns" toml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`

	// MaxIdleConnsPerHost caps idle connections to the upstream host.
	MaxIdleConnsPerHost int `json:"max_idle_conns_per_host" yaml:"max_idle_conns_per_host" toml:"max_idle_conns_per_host" envconfig:"MAX_IDLE_CONNS_PER_HOST"`

	// MaxConnsPerHost limits idle + active connections to the upstream host.
	MaxConnsPerHost int `json:"max_conns_per_host" yaml:"max_conns_per_host" toml:"max_conns_per_host" envconfig:"MAX_CONNS_PER_HOST"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level" envconfig:"LOG_LEVEL"`

	// LogDevelopment switches to human-readable console logs.
	LogDevelopment bool `json:"log_development" yaml:"log_development" toml:"log_development" envconfig:"LOG_DEVELOPMENT"`
}

// DefaultConfig returns a *Config pre-filled with production-sensible
// defaults.  Each call returns a fresh independent copy.
func DefaultConfig() *Config {
	return &Config{
		Listen:              ":8000",
		AdminAddr:           ":9090",
		Upstream:            "https://anyrouter.top",
		DefaultTarget:       "/api/user/self",
		RequestTimeout:      Duration(30 * time.Second),
		ScriptTimeout:       Duration(5 * time.Second),
		Engine:              "otto",
		SandboxWorkers:      0,
		UserAgent:           DefaultUserAgent,
		MaxIdleConns:        500,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		LogLevel:            "info",
	}
}

// Load builds the effective configuration: defaults, then filename (if
// non-empty), then environment overrides.  The result is validated.
func Load(filename string) (*Config, error) {
	cfg := DefaultConfig()
	if filename != "" {
		if err := cfg.LoadFile(filename); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads a config file into a fresh DefaultConfig without applying
// environment overrides or validation.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.LoadFile(filename); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile decodes filename on top of c.  The format follows the extension:
// .json, .yaml/.yml or .toml.  Unknown keys are rejected in every format so
// typos in config files surface early.
func (c *Config) LoadFile(filename string) error {
	data, err := os.ReadFile(filename) // #nosec G304 – filename is an operator-supplied config path
	if err != nil {
		return fmt.Errorf("config: open %q: %w", filename, err)
	}

	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(c)
	case ".yaml", ".yml":
		err = yaml.UnmarshalWithOptions(data, c, yaml.DisallowUnknownField())
	case ".toml":
		var md toml.MetaData
		md, err = toml.Decode(string(data), c)
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				err = fmt.Errorf("unknown keys %v", undecoded)
			}
		}
	default:
		return fmt.Errorf("config: %q: unsupported extension %q", filename, ext)
	}
	if err != nil {
		return fmt.Errorf("config: decode %q: %w", filename, err)
	}
	return nil
}

// ApplyEnv overrides fields from GATE_* environment variables.  Variables
// that are not set leave the current value untouched.
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Upstream)
	if err != nil {
		return fmt.Errorf("config: upstream %q: %w", c.Upstream, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: upstream %q must be an absolute http(s) URL", c.Upstream)
	}
	if !strings.HasPrefix(c.DefaultTarget, "/") {
		return fmt.Errorf("config: default_target %q must be a path starting with /", c.DefaultTarget)
	}
	switch c.Engine {
	case "otto", "goja":
	default:
		return fmt.Errorf("config: engine %q must be otto or goja", c.Engine)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request_timeout must be > 0")
	}
	if c.ScriptTimeout <= 0 {
		return fmt.Errorf("config: script_timeout must be > 0")
	}
	if c.SandboxWorkers < 0 {
		return fmt.Errorf("config: sandbox_workers must be >= 0")
	}
	if c.TLSFingerprint && u.Scheme != "https" {
		return fmt.Errorf("config: tls_fingerprint requires an https upstream, got %q", c.Upstream)
	}
	if c.TLSFingerprint && c.ProxyFile != "" {
		return fmt.Errorf("config: tls_fingerprint cannot be combined with proxy_file")
	}
	if c.Listen == "" {
		return fmt.Errorf("config: listen address must not be empty")
	}
	return nil
}

// UpstreamURL returns the parsed Upstream.  Call Validate first.
func (c *Config) UpstreamURL() *url.URL {
	u, _ := url.Parse(c.Upstream)
	return u
}
