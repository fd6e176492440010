package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment constants
const (
	EnvProduction = "production"
)

// Config holds all application configuration.
type Config struct {
	App      AppConfig
	Server   ServerConfig
	Redis    RedisConfig
	Log      LogConfig
	Auth     AuthConfig
	CORS     CORSConfig
	Security SecurityConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string
	Env   string
	Debug bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int `validate:"min=1,max=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxBodySize     int64 `validate:"min=1"`
}

// RedisConfig holds Redis configuration. Redis is optional; when disabled the
// rate limiter runs purely in memory.
type RedisConfig struct {
	Enabled       bool
	Host          string
	Port          int
	Password      string
	DB            int
	PoolSize      int
	MinIdleConns  int
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	TLSEnabled    bool
	TLSSkipVerify bool
	MaxRetries    int
	MinRetryDelay time.Duration
	MaxRetryDelay time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `validate:"omitempty,oneof=debug DEBUG info INFO warn WARN error ERROR"`
	Format string `validate:"omitempty,oneof=json JSON text TEXT"`
}

// AuthConfig holds bearer-token authentication configuration. The pipeline
// only validates tokens; issuing them is the main application's job.
type AuthConfig struct {
	JWTSecret            string
	JWTIssuer            string
	AccessTokenDuration  time.Duration
	RefreshTokenDuration time.Duration
	MaxLoginAttempts     int           `validate:"min=1"`
	LockoutDuration      time.Duration `validate:"min=1s"`
	RefreshCookieName    string
	CookieDomain         string
	CookieSecure         bool
	CookieSameSite       string `validate:"omitempty,oneof=strict lax none"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// SecurityConfig groups the request-security pipeline policies.
type SecurityConfig struct {
	RateLimit  RateLimitConfig
	BruteForce BruteForceConfig
	CSRF       CSRFConfig
	Sanitizer  SanitizerConfig
	Monitor    MonitorConfig
}

// RatePolicy is one fixed-window budget: at most Max requests per Window.
type RatePolicy struct {
	Window time.Duration `validate:"min=1ms"`
	Max    int           `validate:"min=1"`
}

// RateLimitConfig holds per-route-class rate limit policies.
type RateLimitConfig struct {
	Enabled     bool
	Distributed bool // share windows across instances via Redis
	General     RatePolicy
	Auth        RatePolicy
	API         RatePolicy
	Upload      RatePolicy
	Admin       RatePolicy
}

// BruteForceConfig holds the failed-login lockout policy.
type BruteForceConfig struct {
	Enabled       bool
	MaxAttempts   int           `validate:"min=1"`
	Window        time.Duration `validate:"min=1s"`
	BlockDuration time.Duration `validate:"min=1s"`
}

// CSRFConfig holds CSRF double-submit configuration.
type CSRFConfig struct {
	Enabled        bool
	SecretLength   int `validate:"min=16"`
	HeaderName     string
	CookieName     string
	SessionCookie  string
	SecretTTL      time.Duration
	CookieSecure   bool
	CookieSameSite string `validate:"omitempty,oneof=strict lax none"`
	// APIPathPrefix marks routes where a valid bearer token stands in for
	// the CSRF token.
	APIPathPrefix string
	ExemptPaths   []string
}

// SanitizerConfig holds input sanitation policy.
type SanitizerConfig struct {
	Enabled      bool
	BlockOnIssue bool
	MaxLength    int `validate:"min=1"`
	MaxKeyLength int `validate:"min=1"`
	SkipFields   []string
	RulesFile    string
}

// MonitorConfig holds suspicion scoring policy.
type MonitorConfig struct {
	Enabled         bool
	BlockSuspicious bool
	Threshold       int           `validate:"min=1"`
	ScoreTTL        time.Duration `validate:"min=1s"`
	MaxEntries      int           `validate:"min=1"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "agentops-security"),
			Env:   getEnv("APP_ENV", "development"),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			RequestTimeout:  getEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodySize:     getEnvInt64("SERVER_MAX_BODY_SIZE", 1<<20), // 1MB default
		},
		Redis: RedisConfig{
			Enabled:       getEnvBool("REDIS_ENABLED", false),
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnvInt("REDIS_PORT", 6379),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			PoolSize:      getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:  getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:   getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:   getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:  getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			TLSEnabled:    getEnvBool("REDIS_TLS_ENABLED", false),
			TLSSkipVerify: getEnvBool("REDIS_TLS_SKIP_VERIFY", false),
			MaxRetries:    getEnvInt("REDIS_MAX_RETRIES", 3),
			MinRetryDelay: getEnvDuration("REDIS_MIN_RETRY_DELAY", 100*time.Millisecond),
			MaxRetryDelay: getEnvDuration("REDIS_MAX_RETRY_DELAY", 3*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auth: AuthConfig{
			JWTSecret:            getEnv("AUTH_JWT_SECRET", ""),
			JWTIssuer:            getEnv("AUTH_JWT_ISSUER", "agentops"),
			AccessTokenDuration:  getEnvDuration("AUTH_ACCESS_TOKEN_DURATION", 15*time.Minute),
			RefreshTokenDuration: getEnvDuration("AUTH_REFRESH_TOKEN_DURATION", 7*24*time.Hour),
			MaxLoginAttempts:     getEnvInt("AUTH_MAX_LOGIN_ATTEMPTS", 5),
			LockoutDuration:      getEnvDuration("AUTH_LOCKOUT_DURATION", 15*time.Minute),
			RefreshCookieName:    getEnv("AUTH_REFRESH_COOKIE_NAME", "refresh_token"),
			CookieDomain:         getEnv("AUTH_COOKIE_DOMAIN", ""),
			CookieSecure:         getEnvBool("AUTH_COOKIE_SECURE", false),
			CookieSameSite:       getEnv("AUTH_COOKIE_SAMESITE", "lax"),
		},
		CORS: CORSConfig{
			AllowedOrigins:   getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   getEnvSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders:   getEnvSlice("CORS_ALLOWED_HEADERS", []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", "X-Request-ID"}),
			AllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           getEnvInt("CORS_MAX_AGE", 300),
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				Enabled:     getEnvBool("RATELIMIT_ENABLED", true),
				Distributed: getEnvBool("RATELIMIT_DISTRIBUTED", false),
				General:     loadRatePolicy("GENERAL", 15*time.Minute, 1000),
				Auth:        loadRatePolicy("AUTH", 15*time.Minute, 20),
				API:         loadRatePolicy("API", time.Minute, 120),
				Upload:      loadRatePolicy("UPLOAD", time.Hour, 30),
				Admin:       loadRatePolicy("ADMIN", time.Minute, 30),
			},
			BruteForce: BruteForceConfig{
				Enabled:       getEnvBool("BRUTEFORCE_ENABLED", true),
				MaxAttempts:   getEnvInt("BRUTEFORCE_MAX_ATTEMPTS", 5),
				Window:        getEnvDuration("BRUTEFORCE_WINDOW", 15*time.Minute),
				BlockDuration: getEnvDuration("BRUTEFORCE_BLOCK_DURATION", time.Hour),
			},
			CSRF: CSRFConfig{
				Enabled:        getEnvBool("CSRF_ENABLED", true),
				SecretLength:   getEnvInt("CSRF_SECRET_LENGTH", 32),
				HeaderName:     getEnv("CSRF_HEADER_NAME", "X-CSRF-Token"),
				CookieName:     getEnv("CSRF_COOKIE_NAME", "csrf_token"),
				SessionCookie:  getEnv("CSRF_SESSION_COOKIE", "session_id"),
				SecretTTL:      getEnvDuration("CSRF_SECRET_TTL", 24*time.Hour),
				CookieSecure:   getEnvBool("CSRF_COOKIE_SECURE", false),
				CookieSameSite: getEnv("CSRF_COOKIE_SAMESITE", "strict"),
				APIPathPrefix:  getEnv("CSRF_API_PATH_PREFIX", "/api/"),
				ExemptPaths:    getEnvSlice("CSRF_EXEMPT_PATHS", []string{"/health", "/metrics", "/api/v1/auth/login", "/api/v1/auth/register"}),
			},
			Sanitizer: SanitizerConfig{
				Enabled:      getEnvBool("SANITIZER_ENABLED", true),
				BlockOnIssue: getEnvBool("SANITIZER_BLOCK_ON_ISSUE", false),
				MaxLength:    getEnvInt("SANITIZER_MAX_LENGTH", 10000),
				MaxKeyLength: getEnvInt("SANITIZER_MAX_KEY_LENGTH", 100),
				SkipFields:   getEnvSlice("SANITIZER_SKIP_FIELDS", []string{"password", "token", "refresh_token"}),
				RulesFile:    getEnv("SANITIZER_RULES_FILE", ""),
			},
			Monitor: MonitorConfig{
				Enabled:         getEnvBool("MONITOR_ENABLED", true),
				BlockSuspicious: getEnvBool("MONITOR_BLOCK_SUSPICIOUS", true),
				Threshold:       getEnvInt("MONITOR_THRESHOLD", 10),
				ScoreTTL:        getEnvDuration("MONITOR_SCORE_TTL", time.Hour),
				MaxEntries:      getEnvInt("MONITOR_MAX_ENTRIES", 10000),
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadRatePolicy reads one route class policy from RATELIMIT_<CLASS>_WINDOW
// and RATELIMIT_<CLASS>_MAX.
func loadRatePolicy(class string, window time.Duration, max int) RatePolicy {
	return RatePolicy{
		Window: getEnvDuration("RATELIMIT_"+class+"_WINDOW", window),
		Max:    getEnvInt("RATELIMIT_"+class+"_MAX", max),
	}
}

// Validate checks the configuration for consistency. Structural bounds are
// enforced by struct tags; cross-field and environment-dependent rules are
// checked by hand.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if c.Security.RateLimit.Distributed && !c.Redis.Enabled {
		return fmt.Errorf("RATELIMIT_DISTRIBUTED requires REDIS_ENABLED")
	}

	if c.App.Env == EnvProduction {
		return c.validateProduction()
	}
	return nil
}

// validateProduction enforces rules that only matter outside development.
func (c *Config) validateProduction() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required in production")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("AUTH_JWT_SECRET must be at least 32 characters in production")
	}
	if c.Security.CSRF.Enabled && !c.Security.CSRF.CookieSecure {
		return fmt.Errorf("CSRF_COOKIE_SECURE must be true in production")
	}
	for _, origin := range c.CORS.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("CORS_ALLOWED_ORIGINS must not contain * in production")
		}
	}
	return nil
}

// IsProduction returns true when running in the production environment.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// RedisAddr returns the host:port address for Redis.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the host:port the HTTP server binds to.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
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

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, p := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
