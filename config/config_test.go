package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"STORE_DRIVER", "EBAY_ENV", "MAX_CONCURRENCY", "EBAY_MARKETPLACE_ID", "TRACING_ENABLED"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.StoreDriver != DriverSQLite {
		t.Errorf("store driver: got %q, want sqlite", cfg.StoreDriver)
	}
	if cfg.EBay.Env != "production" {
		t.Errorf("ebay env: got %q, want production", cfg.EBay.Env)
	}
	if cfg.EBay.MarketplaceID != "EBAY_US" {
		t.Errorf("marketplace: got %q, want EBAY_US", cfg.EBay.MarketplaceID)
	}
	if cfg.MaxConcurrency != 3 {
		t.Errorf("max concurrency: got %d, want 3", cfg.MaxConcurrency)
	}
	if cfg.TracingEnabled {
		t.Error("tracing should default to off")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("EBAY_ENV", " Sandbox ")
	t.Setenv("MAX_CONCURRENCY", "7")
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("TRACING_ENABLED", "true")

	cfg := Load()
	if cfg.StoreDriver != DriverPostgres {
		t.Errorf("store driver: got %q, want postgres", cfg.StoreDriver)
	}
	if cfg.EBay.Env != "sandbox" {
		t.Errorf("ebay env: got %q, want sandbox", cfg.EBay.Env)
	}
	if cfg.MaxConcurrency != 7 {
		t.Errorf("max concurrency: got %d, want 7", cfg.MaxConcurrency)
	}
	if cfg.Redis.DB != 0 {
		t.Errorf("invalid int should fall back: got %d, want 0", cfg.Redis.DB)
	}
	if !cfg.TracingEnabled {
		t.Error("tracing should be enabled")
	}
}

func TestLoadFileOverlaysYAML(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("FRETSCOUT_TEST_REDIS", "cache.internal:6379")

	path := filepath.Join(t.TempDir(), "fretscout.yaml")
	yaml := `
store_driver: memory
http_addr: ":9090"
ebay:
  env: sandbox
  marketplace_id: EBAY_GB
redis:
  addr: ${FRETSCOUT_TEST_REDIS}
browser:
  search_url: https://shop.example.com/search?q={query}
  pages_to_scrape: 2
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate: %v", err)
	}
	if cfg.StoreDriver != DriverMemory {
		t.Errorf("store driver: got %q, want memory", cfg.StoreDriver)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("http addr: got %q, want :9090", cfg.HTTPAddr)
	}
	if cfg.EBay.MarketplaceID != "EBAY_GB" || cfg.EBay.Env != "sandbox" {
		t.Errorf("ebay: got %+v", cfg.EBay)
	}
	if cfg.Redis.Addr != "cache.internal:6379" {
		t.Errorf("redis addr: got %q, want expanded env value", cfg.Redis.Addr)
	}
	if cfg.Browser.PagesToScrape != 2 {
		t.Errorf("browser pages: got %d, want 2", cfg.Browser.PagesToScrape)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("unset yaml keys should keep env defaults, max retries got %d", cfg.MaxRetries)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"bad driver", func(c *Config) { c.StoreDriver = "mongo" }, "store_driver"},
		{"bad ebay env", func(c *Config) { c.EBay.Env = "staging" }, "ebay.env"},
		{"zero concurrency", func(c *Config) { c.MaxConcurrency = 0 }, "max_concurrency"},
		{"negative rate", func(c *Config) { c.RateLimitMs = -1 }, "rate_limit_ms"},
		{"zero retries", func(c *Config) { c.MaxRetries = 0 }, "max_retries"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"sqlite without path", func(c *Config) { c.SQLitePath = "" }, "sqlite_path"},
		{"postgres without host", func(c *Config) {
			c.StoreDriver = DriverPostgres
			c.Postgres.Host = ""
		}, "postgres.host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	cfg := validConfig()
	want := "host=db port=5432 user=u password=p dbname=fretscout sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func validConfig() *Config {
	return &Config{
		LogLevel:    "info",
		StoreDriver: DriverSQLite,
		SQLitePath:  "fretscout.db",
		Postgres: PostgresConfig{
			Host: "db", Port: "5432", User: "u", Password: "p", DB: "fretscout", SSLMode: "disable",
		},
		MaxConcurrency: 1,
		MaxRetries:     1,
		EBay:           EBayConfig{Env: "production", MarketplaceID: "EBAY_US"},
	}
}
