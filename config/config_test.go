package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/firasghr/ChallengeGate/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Upstream != "https://anyrouter.top" {
		t.Errorf("Upstream: got %q", cfg.Upstream)
	}
	if cfg.DefaultTarget != "/api/user/self" {
		t.Errorf("DefaultTarget: got %q", cfg.DefaultTarget)
	}
	if cfg.RequestTimeout.Std() <= 0 || cfg.ScriptTimeout.Std() <= 0 {
		t.Errorf("timeouts should be > 0, got %v / %v", cfg.RequestTimeout, cfg.ScriptTimeout)
	}
	if cfg.MaxIdleConns <= 0 {
		t.Errorf("MaxIdleConns should be > 0, got %d", cfg.MaxIdleConns)
	}
}

func TestLoadConfig_JSON(t *testing.T) {
	path := writeFile(t, "gate.json", `{
		"upstream": "https://api.example.com",
		"request_timeout": "12s",
		"engine": "goja",
		"sandbox_workers": 4
	}`)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Upstream != "https://api.example.com" {
		t.Errorf("got Upstream=%q", cfg.Upstream)
	}
	if cfg.RequestTimeout.Std() != 12*time.Second {
		t.Errorf("got RequestTimeout=%v, want 12s", cfg.RequestTimeout)
	}
	if cfg.Engine != "goja" || cfg.SandboxWorkers != 4 {
		t.Errorf("got Engine=%q SandboxWorkers=%d", cfg.Engine, cfg.SandboxWorkers)
	}
	// Unset keys keep their defaults.
	if cfg.DefaultTarget != "/api/user/self" {
		t.Errorf("DefaultTarget lost its default: %q", cfg.DefaultTarget)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeFile(t, "gate.yaml", "upstream: https://yaml.example.com\nscript_timeout: 750ms\ntls_fingerprint: true\n")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Upstream != "https://yaml.example.com" {
		t.Errorf("got Upstream=%q", cfg.Upstream)
	}
	if cfg.ScriptTimeout.Std() != 750*time.Millisecond {
		t.Errorf("got ScriptTimeout=%v, want 750ms", cfg.ScriptTimeout)
	}
	if !cfg.TLSFingerprint {
		t.Error("TLSFingerprint should be true")
	}
}

func TestLoadConfig_TOML(t *testing.T) {
	path := writeFile(t, "gate.toml", "upstream = \"https://toml.example.com\"\nlog_level = \"debug\"\nrequest_timeout = \"1m\"\n")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Upstream != "https://toml.example.com" || cfg.LogLevel != "debug" {
		t.Errorf("got Upstream=%q LogLevel=%q", cfg.Upstream, cfg.LogLevel)
	}
	if cfg.RequestTimeout.Std() != time.Minute {
		t.Errorf("got RequestTimeout=%v, want 1m", cfg.RequestTimeout)
	}
}

func TestLoadConfig_UnknownKeys(t *testing.T) {
	files := map[string]string{
		"bad.json": `{"upstrem": "https://typo.example.com"}`,
		"bad.yaml": "upstrem: https://typo.example.com\n",
		"bad.toml": "upstrem = \"https://typo.example.com\"\n",
	}
	for name, content := range files {
		if _, err := config.LoadConfig(writeFile(t, name, content)); err == nil {
			t.Errorf("%s: expected error for unknown key", name)
		}
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.LoadConfig("/nonexistent/path/config.json")
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	if _, err := config.LoadConfig(writeFile(t, "bad.json", "{not valid json}")); err == nil {
		t.Error("expected error for invalid JSON, got nil")
	}
}

func TestLoadConfig_UnsupportedExtension(t *testing.T) {
	if _, err := config.LoadConfig(writeFile(t, "gate.ini", "upstream=x")); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "gate.json", `{"upstream": "https://file.example.com", "engine": "otto"}`)
	t.Setenv("GATE_UPSTREAM", "https://env.example.com")
	t.Setenv("GATE_SCRIPT_TIMEOUT", "2s")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upstream != "https://env.example.com" {
		t.Errorf("env should override file, got %q", cfg.Upstream)
	}
	if cfg.ScriptTimeout.Std() != 2*time.Second {
		t.Errorf("got ScriptTimeout=%v, want 2s", cfg.ScriptTimeout)
	}
	if cfg.Engine != "otto" {
		t.Errorf("file value lost: Engine=%q", cfg.Engine)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *config.Config){
		"relative upstream":   func(c *config.Config) { c.Upstream = "anyrouter.top" },
		"ftp upstream":        func(c *config.Config) { c.Upstream = "ftp://anyrouter.top" },
		"target without /":    func(c *config.Config) { c.DefaultTarget = "api/user/self" },
		"unknown engine":      func(c *config.Config) { c.Engine = "v8" },
		"zero request budget": func(c *config.Config) { c.RequestTimeout = 0 },
		"zero script budget":  func(c *config.Config) { c.ScriptTimeout = 0 },
		"negative workers":    func(c *config.Config) { c.SandboxWorkers = -1 },
		"fingerprint + proxy": func(c *config.Config) { c.TLSFingerprint = true; c.ProxyFile = "proxies.txt" },
		"empty listen":        func(c *config.Config) { c.Listen = "" },
		"fingerprint + http":  func(c *config.Config) { c.TLSFingerprint = true; c.Upstream = "http://anyrouter.top" },
	}
	for name, mutate := range cases {
		cfg := config.DefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestValidate_FingerprintOverHTTPS(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.TLSFingerprint = true
	cfg.Upstream = "https://anyrouter.top"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected https upstream with fingerprint to pass, got %v", err)
	}
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	out, err := json.Marshal(config.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(out, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["request_timeout"] != "30s" {
		t.Errorf("request_timeout encoded as %v, want \"30s\"", raw["request_timeout"])
	}
}
