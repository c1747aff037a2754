package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if cfg.Cache.PositiveTtlSeconds != 60 {
		t.Errorf("PositiveTtlSeconds = %d, want 60", cfg.Cache.PositiveTtlSeconds)
	}
	if cfg.Cache.NegativeTtlSeconds != 10 {
		t.Errorf("NegativeTtlSeconds = %d, want 10", cfg.Cache.NegativeTtlSeconds)
	}
	if cfg.Queue.MaxQueueSize <= 0 {
		t.Error("MaxQueueSize should be positive")
	}
	if len(cfg.Repo.RequiredPaths) == 0 {
		t.Error("RequiredPaths should not be empty")
	}
	if cfg.PositiveTTL() != time.Minute {
		t.Errorf("PositiveTTL() = %v, want 1m", cfg.PositiveTTL())
	}
	if cfg.NegativeTTL() != 10*time.Second {
		t.Errorf("NegativeTTL() = %v, want 10s", cfg.NegativeTTL())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unsupported version", func(c *Config) { c.Version = 7 }, "version"},
		{"empty url", func(c *Config) { c.Repo.URL = "" }, "repo.url"},
		{"no required paths", func(c *Config) { c.Repo.RequiredPaths = nil }, "repo.requiredPaths"},
		{"escaping path", func(c *Config) { c.Repo.RequiredPaths = []string{"../etc"} }, "repo.requiredPaths"},
		{"zero positive ttl", func(c *Config) { c.Cache.PositiveTtlSeconds = 0 }, "cache.positiveTtlSeconds"},
		{"negative ttl not shorter", func(c *Config) { c.Cache.NegativeTtlSeconds = 60 }, "cache.negativeTtlSeconds"},
		{"queue size zero", func(c *Config) { c.Queue.MaxQueueSize = 0 }, "queue.maxQueueSize"},
		{"empty compile command", func(c *Config) { c.Build.CompileCommand = nil }, "build.compileCommand"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should return an error")
			}
			cfgErr, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("Validate() error type = %T, want *ConfigError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestConfigError_Error(t *testing.T) {
	err := &ConfigError{
		Field:   "queue.maxQueueSize",
		Message: "must be at least 1",
	}

	want := "config error in field 'queue.maxQueueSize': must be at least 1"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Queue.MaxQueueSize != DefaultConfig().Queue.MaxQueueSize {
		t.Errorf("MaxQueueSize = %d, want default", cfg.Queue.MaxQueueSize)
	}
	if cfg.Repo.URL != DefaultConfig().Repo.URL {
		t.Errorf("Repo.URL = %q, want default", cfg.Repo.URL)
	}
}

func TestLoadConfig_SaveRoundTrip(t *testing.T) {
	path := DefaultPath(t.TempDir())

	cfg := DefaultConfig()
	cfg.Queue.MaxQueueSize = 2
	cfg.Repo.RequiredPaths = []string{"ts", "css"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Queue.MaxQueueSize != 2 {
		t.Errorf("MaxQueueSize = %d, want 2", loaded.Queue.MaxQueueSize)
	}
	if strings.Join(loaded.Repo.RequiredPaths, ",") != "ts,css" {
		t.Errorf("RequiredPaths = %v, want [ts css]", loaded.Repo.RequiredPaths)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("BUILDGATE_QUEUE_MAXQUEUESIZE", "3")
	t.Setenv("BUILDGATE_REPO_URL", "https://example.com/repo.git")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Queue.MaxQueueSize != 3 {
		t.Errorf("MaxQueueSize = %d, want 3", cfg.Queue.MaxQueueSize)
	}
	if cfg.Repo.URL != "https://example.com/repo.git" {
		t.Errorf("Repo.URL = %q", cfg.Repo.URL)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() should fail on malformed JSON")
	}
}

func TestRender(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Repo.Token = "ghp_secret"

	for _, format := range []string{"json", "yaml", "toml"} {
		t.Run(format, func(t *testing.T) {
			out, err := cfg.Render(format)
			if err != nil {
				t.Fatalf("Render(%q) error = %v", format, err)
			}
			if strings.Contains(string(out), "ghp_secret") {
				t.Error("token must be redacted")
			}
			if !strings.Contains(string(out), "maxQueueSize") {
				t.Errorf("output missing queue settings: %s", out)
			}
		})
	}

	if _, err := cfg.Render("xml"); err == nil {
		t.Error("Render(xml) should fail")
	}
	if cfg.Repo.Token != "ghp_secret" {
		t.Error("Render must not mutate the config")
	}
}
