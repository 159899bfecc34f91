package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Jobs     JobsConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	Timeout         time.Duration
	Delay           time.Duration
	MaxRetries      int
	RotateUserAgent bool
	UseBrowser      bool
	UserAgents      []string
	Proxy           ProxyConfig
	// SessionCookies is a "name=value;name=value" list.
	SessionCookies  string
	ConcurrentLimit int
}

type ProxyConfig struct {
	Host     string
	Port     int
	Protocol string
	Username string
	Password string
}

func (p ProxyConfig) Enabled() bool {
	return p.Host != "" && p.Port > 0
}

type BrowserConfig struct {
	Enabled        bool
	Headless       bool
	ExecutablePath string
	UserDataDir    string
	Args           []string
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	Locale         string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
	// OutboxRetention is how long published outbox events are kept.
	OutboxRetention time.Duration
}

type RedisConfig struct {
	Enabled      bool
	Addr         string
	Password     string
	DB           int
	StreamMaxLen int64
}

type CacheConfig struct {
	PriceTTL          time.Duration
	PriceMaxSize      int
	ComponentTTL      time.Duration
	ComponentMaxSize  int
	GeneralTTL        time.Duration
	GeneralMaxSize    int
	ListingsStorePath string
}

type JobsConfig struct {
	Workers      int
	PollInterval time.Duration
	RetryBase    time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// a missing .env file is fine
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Scraper: ScraperConfig{
			Timeout:         getDurationOrDefault("SCRAPER_TIMEOUT", 15*time.Second),
			Delay:           getDurationOrDefault("SCRAPER_DELAY", 0),
			MaxRetries:      getIntOrDefault("SCRAPER_MAX_RETRIES", 3),
			RotateUserAgent: getBoolOrDefault("SCRAPER_ROTATE_USER_AGENT", false),
			UseBrowser:      getBoolOrDefault("SCRAPER_USE_BROWSER", false),
			UserAgents:      getStringSliceOrDefault("SCRAPER_USER_AGENTS", DefaultUserAgents()),
			SessionCookies:  getEnvOrDefault("SCRAPER_SESSION_COOKIES", ""),
			ConcurrentLimit: getIntOrDefault("SCRAPER_CONCURRENT_LIMIT", 4),
			Proxy: ProxyConfig{
				Host:     getEnvOrDefault("PROXY_HOST", ""),
				Port:     getIntOrDefault("PROXY_PORT", 0),
				Protocol: getEnvOrDefault("PROXY_PROTOCOL", "http"),
				Username: getEnvOrDefault("PROXY_USERNAME", ""),
				Password: getEnvOrDefault("PROXY_PASSWORD", ""),
			},
		},
		Browser: BrowserConfig{
			Enabled:        getBoolOrDefault("BROWSER_ENABLED", true),
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			ExecutablePath: getEnvOrDefault("BROWSER_EXECUTABLE_PATH", ""),
			UserDataDir:    getEnvOrDefault("BROWSER_USER_DATA_DIR", ""),
			Args:           getStringSliceOrDefault("BROWSER_ARGS", []string{}),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1366),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 768),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "ru-RU"),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "hardware_prices"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),

			OutboxRetention: getDurationOrDefault("OUTBOX_RETENTION", 7*24*time.Hour),
		},
		Redis: RedisConfig{
			Enabled:  getBoolOrDefault("REDIS_ENABLED", false),
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),

			StreamMaxLen: int64(getIntOrDefault("REDIS_STREAM_MAX_LEN", 10000)),
		},
		Cache: CacheConfig{
			PriceTTL:          getDurationOrDefault("CACHE_PRICE_TTL", 5*time.Minute),
			PriceMaxSize:      getIntOrDefault("CACHE_PRICE_MAX_SIZE", 200),
			ComponentTTL:      getDurationOrDefault("CACHE_COMPONENT_TTL", 2*time.Hour),
			ComponentMaxSize:  getIntOrDefault("CACHE_COMPONENT_MAX_SIZE", 1000),
			GeneralTTL:        getDurationOrDefault("CACHE_GENERAL_TTL", 30*time.Minute),
			GeneralMaxSize:    getIntOrDefault("CACHE_GENERAL_MAX_SIZE", 500),
			ListingsStorePath: getEnvOrDefault("LISTINGS_STORE_PATH", "listings.json"),
		},
		Jobs: JobsConfig{
			Workers:      getIntOrDefault("JOBS_WORKERS", 1),
			PollInterval: getDurationOrDefault("JOBS_POLL_INTERVAL", time.Second),
			RetryBase:    getDurationOrDefault("JOBS_RETRY_BASE", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Browser.Enabled && c.Browser.ExecutablePath == "" {
		return fmt.Errorf("BROWSER_EXECUTABLE_PATH is required when BROWSER_ENABLED is true")
	}

	if c.Scraper.Proxy.Enabled() {
		switch c.Scraper.Proxy.Protocol {
		case "http", "https", "socks4", "socks4a", "socks5":
		default:
			return fmt.Errorf("PROXY_PROTOCOL must be one of http, https, socks4, socks4a, socks5, got %q", c.Scraper.Proxy.Protocol)
		}
	}

	if c.Scraper.ConcurrentLimit < 1 {
		return fmt.Errorf("SCRAPER_CONCURRENT_LIMIT must be at least 1")
	}

	if c.Scraper.MaxRetries < 0 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES cannot be negative")
	}

	if c.Cache.PriceMaxSize < 1 || c.Cache.ComponentMaxSize < 1 || c.Cache.GeneralMaxSize < 1 {
		return fmt.Errorf("cache sizes must be at least 1")
	}

	if c.Jobs.Workers < 1 {
		return fmt.Errorf("JOBS_WORKERS must be at least 1")
	}

	return nil
}

// Cookies parses SessionCookies into a map.
func (s ScraperConfig) Cookies() map[string]string {
	cookies := make(map[string]string)
	for _, pair := range strings.Split(s.SessionCookies, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" {
			continue
		}
		cookies[name] = value
	}
	return cookies
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func DefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_2) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	}
}
