package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Env string

const (
	EnvDevelopment Env = "development"
	EnvProduction  Env = "production"
)

// DevSecret is the HMAC key used when AUTH_HMAC_SECRET is unset. Refused in production.
const DevSecret = "supersecret-dev-key"

type Config struct {
	Env       Env    `yaml:"env"`
	HTTPAddr  string `yaml:"http_addr"`
	PublicURL string `yaml:"public_url"`
	LogLevel  string `yaml:"log_level"`

	DBDriver string `yaml:"db_driver"`
	DBDSN    string `yaml:"db_dsn"`

	BlobBasePath string `yaml:"blob_base_path"`

	AuthSecret         string        `yaml:"auth_secret"`
	AuthTokenTTL       time.Duration `yaml:"auth_token_ttl"`
	EnableRegistration bool          `yaml:"enable_registration"`

	CORSOrigins []string `yaml:"cors_origins"`

	CacheDriver   string        `yaml:"cache_driver"` // memory|redis|none
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	CacheSize     int           `yaml:"cache_size"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`

	RateLimitRPS        float64 `yaml:"rate_limit_rps"`
	RateLimitBurst      int     `yaml:"rate_limit_burst"`
	AuthRateLimitPerMin int     `yaml:"auth_rate_limit_per_min"`

	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold"`
	BreakerSuccessThreshold int           `yaml:"breaker_success_threshold"`
	BreakerOpenTimeout      time.Duration `yaml:"breaker_open_timeout"`

	EnableMetrics bool `yaml:"enable_metrics"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Env:                     EnvDevelopment,
		HTTPAddr:                ":8080",
		LogLevel:                "info",
		DBDriver:                "sqlite",
		BlobBasePath:            "./data",
		AuthSecret:              DevSecret,
		AuthTokenTTL:            8 * time.Hour,
		EnableRegistration:      true,
		CORSOrigins:             []string{"http://localhost:3000"},
		CacheDriver:             "memory",
		CacheTTL:                5 * time.Minute,
		CacheSize:               1024,
		RedisAddr:               "localhost:6379",
		RateLimitRPS:            10,
		RateLimitBurst:          20,
		AuthRateLimitPerMin:     10,
		BreakerFailureThreshold: 5,
		BreakerSuccessThreshold: 2,
		BreakerOpenTimeout:      30 * time.Second,
		EnableMetrics:           true,
	}
}

// Load reads an optional .env file, then the YAML file named by CONFIG_FILE,
// then the environment. Later sources win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: .env: %w", err)
	}
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg = overlayEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a Config from defaults and the environment only.
func FromEnv() Config {
	return overlayEnv(Defaults())
}

func overlayEnv(c Config) Config {
	c.Env = Env(envOr("APP_ENV", string(c.Env)))
	c.HTTPAddr = envOr("HTTP_ADDR", c.HTTPAddr)
	c.PublicURL = strings.TrimSuffix(envOr("PUBLIC_URL", c.PublicURL), "/")
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.DBDriver = envOr("DB_DRIVER", c.DBDriver)
	c.DBDSN = envOr("DB_DSN", c.DBDSN)
	c.BlobBasePath = envOr("BLOB_BASE_PATH", c.BlobBasePath)
	c.AuthSecret = envOr("AUTH_HMAC_SECRET", c.AuthSecret)
	c.AuthTokenTTL = envDuration("AUTH_TOKEN_TTL", c.AuthTokenTTL)
	c.EnableRegistration = envBool("ENABLE_REGISTRATION", c.EnableRegistration)
	c.CORSOrigins = csvOr("CORS_ORIGINS", c.CORSOrigins)
	c.CacheDriver = envOr("CACHE_DRIVER", c.CacheDriver)
	c.CacheTTL = envDuration("CACHE_TTL", c.CacheTTL)
	c.CacheSize = envInt("CACHE_SIZE", c.CacheSize)
	c.RedisAddr = envOr("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = envOr("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = envInt("REDIS_DB", c.RedisDB)
	c.RateLimitRPS = envFloat("RATE_LIMIT_RPS", c.RateLimitRPS)
	c.RateLimitBurst = envInt("RATE_LIMIT_BURST", c.RateLimitBurst)
	c.AuthRateLimitPerMin = envInt("AUTH_RATE_LIMIT_PER_MIN", c.AuthRateLimitPerMin)
	c.BreakerFailureThreshold = envInt("BREAKER_FAILURE_THRESHOLD", c.BreakerFailureThreshold)
	c.BreakerSuccessThreshold = envInt("BREAKER_SUCCESS_THRESHOLD", c.BreakerSuccessThreshold)
	c.BreakerOpenTimeout = envDuration("BREAKER_OPEN_TIMEOUT", c.BreakerOpenTimeout)
	c.EnableMetrics = envBool("ENABLE_METRICS", c.EnableMetrics)
	return c
}

func (c Config) Validate() error {
	var errs []error
	switch c.Env {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("APP_ENV: unknown value %q", c.Env))
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER: unsupported driver %q", c.DBDriver))
	}
	switch c.CacheDriver {
	case "memory", "redis", "none":
	default:
		errs = append(errs, fmt.Errorf("CACHE_DRIVER: unsupported driver %q", c.CacheDriver))
	}
	if c.Env == EnvProduction && (c.AuthSecret == DevSecret || len(c.AuthSecret) < 32) {
		errs = append(errs, errors.New("AUTH_HMAC_SECRET: set a secret of at least 32 bytes in production"))
	}
	if c.AuthTokenTTL <= 0 {
		errs = append(errs, errors.New("AUTH_TOKEN_TTL: must be positive"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 || c.AuthRateLimitPerMin <= 0 {
		errs = append(errs, errors.New("rate limits must be positive"))
	}
	if c.BreakerFailureThreshold <= 0 || c.BreakerSuccessThreshold <= 0 || c.BreakerOpenTimeout <= 0 {
		errs = append(errs, errors.New("breaker settings must be positive"))
	}
	return errors.Join(errs...)
}

func (c Config) IsProduction() bool { return c.Env == EnvProduction }

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func envInt(k string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return v
	}
	return def
}
func envFloat(k string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(k), 64); err == nil {
		return v
	}
	return def
}
func envDuration(k string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return v
	}
	return def
}
func csvOr(k string, def []string) []string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
