package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendSupabase = "supabase"
	BackendMemory   = "memory"

	AuthJWT      = "jwt"
	AuthSupabase = "supabase"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	Backend     string
	SupabaseURL string
	SupabaseKey string

	AuthMode    string
	JWTSecret   string
	JWTAudience string

	RateLimitRPS   float64
	RateLimitBurst int
	RateLimitIdle  time.Duration
	// TrustedProxies are the peers whose X-Forwarded-For is believed.
	TrustedProxies []string

	LogLevel  string
	LogFormat string

	RunMigrations bool
	HTTPTimeout   time.Duration
	OTLPEndpoint  string
	OTLPInsecure  bool

	// DemoAdminID is granted super_admin on the memory backend.
	DemoAdminID string
}

func Load() (*Config, error) {
	cfg := &Config{
		DBSource:     os.Getenv("DB_SOURCE"),
		Port:         getEnv("SERVER_PORT", "8080"),
		Env:          getEnv("ENVIRONMENT", "development"),
		Backend:      getEnv("BACKEND", BackendPostgres),
		SupabaseURL:  os.Getenv("SUPABASE_URL"),
		SupabaseKey:  os.Getenv("SUPABASE_KEY"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		JWTAudience:  getEnv("JWT_AUDIENCE", "authenticated"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure: os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		DemoAdminID:  os.Getenv("DEMO_ADMIN_ID"),
	}

	defaultAuth := AuthJWT
	if cfg.Backend == BackendSupabase && cfg.JWTSecret == "" {
		defaultAuth = AuthSupabase
	}
	cfg.AuthMode = getEnv("AUTH_MODE", defaultAuth)

	defaultFormat := "json"
	if cfg.Env == "development" {
		defaultFormat = "text"
	}
	cfg.LogFormat = getEnv("LOG_FORMAT", defaultFormat)

	for _, proxy := range strings.Split(os.Getenv("TRUSTED_PROXIES"), ",") {
		if proxy = strings.TrimSpace(proxy); proxy != "" {
			cfg.TrustedProxies = append(cfg.TrustedProxies, proxy)
		}
	}

	var err error
	if cfg.RateLimitRPS, err = strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "10"), 64); err != nil || cfg.RateLimitRPS <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_RPS must be a positive number")
	}
	if cfg.RateLimitBurst, err = strconv.Atoi(getEnv("RATE_LIMIT_BURST", "20")); err != nil || cfg.RateLimitBurst <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_BURST must be a positive integer")
	}
	idle, err := strconv.Atoi(getEnv("RATE_LIMIT_IDLE_MINUTES", "10"))
	if err != nil || idle <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_IDLE_MINUTES must be a positive integer")
	}
	cfg.RateLimitIdle = time.Duration(idle) * time.Minute
	if cfg.RunMigrations, err = strconv.ParseBool(getEnv("RUN_MIGRATIONS", "false")); err != nil {
		return nil, fmt.Errorf("RUN_MIGRATIONS must be a boolean")
	}
	timeout, err := strconv.Atoi(getEnv("HTTP_TIMEOUT_SECONDS", "10"))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("HTTP_TIMEOUT_SECONDS must be a positive integer")
	}
	cfg.HTTPTimeout = time.Duration(timeout) * time.Second

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendPostgres:
		if c.DBSource == "" {
			return fmt.Errorf("DB_SOURCE environment variable is required")
		}
	case BackendSupabase:
		if c.SupabaseURL == "" || c.SupabaseKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_KEY are required for the supabase backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("BACKEND must be postgres, supabase or memory, got %q", c.Backend)
	}

	switch c.AuthMode {
	case AuthJWT:
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET environment variable is required")
		}
	case AuthSupabase:
		if c.SupabaseURL == "" || c.SupabaseKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_KEY are required for supabase auth")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be jwt or supabase, got %q", c.AuthMode)
	}
	return nil
}

// LoadDotEnv reads KEY=VALUE pairs from path into the environment. Variables
// already set win, and a missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
