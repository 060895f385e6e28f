package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Logger   LoggerConfig   `yaml:"logger"`
	Security SecurityConfig `yaml:"security"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BackendConfig points at the prediction REST API.
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Token          string        `yaml:"token"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RequestsPerSec int           `yaml:"requests_per_sec"`
	MaxRetries     int           `yaml:"max_retries"`
}

// RefreshConfig bounds one background refresh cycle.
type RefreshConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollDuration time.Duration `yaml:"max_poll_duration"`
	LoadTimeout     time.Duration `yaml:"load_timeout"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SecurityConfig struct {
	EnableRateLimit bool     `yaml:"rate_limit_enabled"`
	RateLimitRPS    int      `yaml:"rate_limit_rps"`
	RateLimitBurst  int      `yaml:"rate_limit_burst"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	TrustedProxies  []string `yaml:"trusted_proxies"`
	// MaxStreams caps open SSE streams per client IP. Streams bypass the
	// request rate limit. Zero means no cap.
	MaxStreams int `yaml:"max_streams_per_client"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8084,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // SSE streams stay open
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8080/api",
			RequestTimeout: 30 * time.Second,
			RequestsPerSec: 5,
			MaxRetries:     2,
		},
		Refresh: RefreshConfig{
			PollInterval:    5 * time.Second,
			MaxPollDuration: 5 * time.Minute,
			LoadTimeout:     30 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
		},
		Security: SecurityConfig{
			EnableRateLimit: true,
			RateLimitRPS:    100,
			RateLimitBurst:  10,
			AllowedOrigins:  []string{"http://localhost:8084"},
			TrustedProxies:  []string{"127.0.0.1"},
			MaxStreams:      4,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file named
// by CONFIG_FILE and the environment, in that order of precedence. A .env
// file in the working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnvString("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("SERVER_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Backend.BaseURL = getEnvString("BACKEND_BASE_URL", c.Backend.BaseURL)
	c.Backend.Token = getEnvString("BACKEND_TOKEN", c.Backend.Token)
	c.Backend.RequestTimeout = getEnvDuration("BACKEND_REQUEST_TIMEOUT", c.Backend.RequestTimeout)
	c.Backend.RequestsPerSec = getEnvInt("BACKEND_REQUESTS_PER_SEC", c.Backend.RequestsPerSec)
	c.Backend.MaxRetries = getEnvInt("BACKEND_MAX_RETRIES", c.Backend.MaxRetries)

	c.Refresh.PollInterval = getEnvDuration("REFRESH_POLL_INTERVAL", c.Refresh.PollInterval)
	c.Refresh.MaxPollDuration = getEnvDuration("REFRESH_MAX_POLL_DURATION", c.Refresh.MaxPollDuration)
	c.Refresh.LoadTimeout = getEnvDuration("REFRESH_LOAD_TIMEOUT", c.Refresh.LoadTimeout)

	c.Logger.Level = getEnvString("LOG_LEVEL", c.Logger.Level)
	c.Logger.Format = getEnvString("LOG_FORMAT", c.Logger.Format)

	c.Security.EnableRateLimit = getEnvBool("SECURITY_RATE_LIMIT_ENABLED", c.Security.EnableRateLimit)
	c.Security.RateLimitRPS = getEnvInt("SECURITY_RATE_LIMIT_RPS", c.Security.RateLimitRPS)
	c.Security.RateLimitBurst = getEnvInt("SECURITY_RATE_LIMIT_BURST", c.Security.RateLimitBurst)
	c.Security.AllowedOrigins = getEnvStringSlice("SECURITY_ALLOWED_ORIGINS", c.Security.AllowedOrigins)
	c.Security.TrustedProxies = getEnvStringSlice("SECURITY_TRUSTED_PROXIES", c.Security.TrustedProxies)
	c.Security.MaxStreams = getEnvInt("SECURITY_MAX_STREAMS_PER_CLIENT", c.Security.MaxStreams)
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must not be negative")
	}

	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend base URL %q must be an absolute http(s) URL", c.Backend.BaseURL)
	}

	if c.Backend.RequestsPerSec <= 0 {
		return fmt.Errorf("backend requests per second must be positive")
	}

	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("backend max retries must not be negative")
	}

	if c.Refresh.PollInterval <= 0 || c.Refresh.MaxPollDuration <= 0 {
		return fmt.Errorf("refresh poll interval and max poll duration must be positive")
	}

	if c.Refresh.LoadTimeout <= 0 {
		return fmt.Errorf("refresh load timeout must be positive")
	}

	if c.Refresh.PollInterval >= c.Refresh.MaxPollDuration {
		return fmt.Errorf("refresh poll interval %s must be shorter than max poll duration %s",
			c.Refresh.PollInterval, c.Refresh.MaxPollDuration)
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.Logger.Level) {
		return fmt.Errorf("invalid log level %q, must be one of: %s", c.Logger.Level, strings.Join(validLogLevels, ", "))
	}

	validLogFormats := []string{"json", "text"}
	if !slices.Contains(validLogFormats, c.Logger.Format) {
		return fmt.Errorf("invalid log format %q, must be one of: %s", c.Logger.Format, strings.Join(validLogFormats, ", "))
	}

	if c.Security.EnableRateLimit && (c.Security.RateLimitRPS <= 0 || c.Security.RateLimitBurst <= 0) {
		return fmt.Errorf("rate limit RPS and burst must be positive")
	}

	if c.Security.MaxStreams < 0 {
		return fmt.Errorf("max streams per client cannot be negative")
	}

	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
