package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers accepted by STORE_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all application configuration loaded from environment
// variables, optionally overlaid by a YAML file.
type Config struct {
	LogLevel string `yaml:"log_level"`

	StoreDriver string         `yaml:"store_driver"`
	SQLitePath  string         `yaml:"sqlite_path"`
	Postgres    PostgresConfig `yaml:"postgres"`

	CSVOutputPath string `yaml:"csv_output_path"`

	MaxConcurrency int `yaml:"max_concurrency"`
	RateLimitMs    int `yaml:"rate_limit_ms"`
	MaxRetries     int `yaml:"max_retries"`

	Browser BrowserConfig `yaml:"browser"`
	EBay    EBayConfig    `yaml:"ebay"`
	Redis   RedisConfig   `yaml:"redis"`

	HTTPAddr       string `yaml:"http_addr"`
	TracingEnabled bool   `yaml:"tracing_enabled"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DB       string `yaml:"db"`
	SSLMode  string `yaml:"sslmode"`
}

// BrowserConfig drives the headless-browser listing source. It is disabled
// unless SearchURL is set.
type BrowserConfig struct {
	ChromeBin       string `yaml:"chrome_bin"`
	SearchURL       string `yaml:"search_url"`
	SourceName      string `yaml:"source_name"`
	PagesToScrape   int    `yaml:"pages_to_scrape"`
	ListingsPerPage int    `yaml:"listings_per_page"`
	CardSelector    string `yaml:"card_selector"`
	TitleSelector   string `yaml:"title_selector"`
	PriceSelector   string `yaml:"price_selector"`
	LinkSelector    string `yaml:"link_selector"`
	NextSelector    string `yaml:"next_selector"`
}

// EBayConfig selects the eBay environment and marketplace. Credentials are
// read through Secrets, not stored here.
type EBayConfig struct {
	Env            string `yaml:"env"`
	MarketplaceID  string `yaml:"marketplace_id"`
	AcceptLanguage string `yaml:"accept_language"`
}

// RedisConfig enables the Redis token cache when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		SQLitePath:  getEnv("SQLITE_PATH", "fretscout.db"),
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     getEnv("POSTGRES_USER", "fretscout"),
			Password: getEnv("POSTGRES_PASSWORD", "fretscout"),
			DB:       getEnv("POSTGRES_DB", "fretscout"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},

		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", ""),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 500),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),

		Browser: BrowserConfig{
			ChromeBin:       getEnv("CHROME_BIN", ""),
			SearchURL:       getEnv("BROWSER_SEARCH_URL", ""),
			SourceName:      getEnv("BROWSER_SOURCE_NAME", "web"),
			PagesToScrape:   getEnvInt("BROWSER_PAGES", 1),
			ListingsPerPage: getEnvInt("BROWSER_LISTINGS_PER_PAGE", 20),
			CardSelector:    getEnv("BROWSER_CARD_SELECTOR", ""),
			TitleSelector:   getEnv("BROWSER_TITLE_SELECTOR", ""),
			PriceSelector:   getEnv("BROWSER_PRICE_SELECTOR", ""),
			LinkSelector:    getEnv("BROWSER_LINK_SELECTOR", ""),
			NextSelector:    getEnv("BROWSER_NEXT_SELECTOR", ""),
		},
		EBay: EBayConfig{
			Env:            strings.ToLower(strings.TrimSpace(getEnv("EBAY_ENV", "production"))),
			MarketplaceID:  getEnv("EBAY_MARKETPLACE_ID", "EBAY_US"),
			AcceptLanguage: getEnv("EBAY_ACCEPT_LANGUAGE", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},

		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
	}
}

// LoadFile returns the environment config overlaid with the YAML file at
// path. ${VAR} references in the file are expanded first.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)
	cfg.EBay.Env = strings.ToLower(strings.TrimSpace(cfg.EBay.Env))
	return cfg, nil
}

// LoadAndValidate loads config and validates it.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks that all values are usable.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("sqlite_path is required for the sqlite store")
		}
	case DriverPostgres:
		if c.Postgres.Host == "" || c.Postgres.DB == "" || c.Postgres.User == "" {
			return errors.New("postgres.host, postgres.db and postgres.user are required for the postgres store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store_driver must be sqlite, postgres or memory, got %q", c.StoreDriver)
	}

	if c.EBay.Env != "production" && c.EBay.Env != "sandbox" {
		return fmt.Errorf("ebay.env must be 'production' or 'sandbox', got %q", c.EBay.Env)
	}

	if c.MaxConcurrency < 1 {
		return errors.New("max_concurrency must be >= 1")
	}
	if c.RateLimitMs < 0 {
		return errors.New("rate_limit_ms must be >= 0")
	}
	if c.MaxRetries < 1 {
		return errors.New("max_retries must be >= 1")
	}
	if c.Browser.SearchURL != "" && c.Browser.PagesToScrape < 1 {
		return errors.New("browser.pages_to_scrape must be >= 1")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must be >= 0, got %d", c.Redis.DB)
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel checks a log level name.
func ParseLevel(level string) (string, error) {
	switch l := strings.ToLower(level); l {
	case "debug", "info", "warn", "error":
		return l, nil
	default:
		return "", fmt.Errorf("log_level must be debug, info, warn or error, got %q", level)
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.Postgres.Host +
		" port=" + c.Postgres.Port +
		" user=" + c.Postgres.User +
		" password=" + c.Postgres.Password +
		" dbname=" + c.Postgres.DB +
		" sslmode=" + c.Postgres.SSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
