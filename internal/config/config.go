// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, persistence, authentication, job lifecycle and referral settings,
// the chat channel, attachment storage, rate limiting and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "casasegura-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the storage backend.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path
	URL    string // PostgreSQL DSN

	MaxOpenConns    int           // 0 picks a per-driver default
	MaxIdleConns    int           // 0 picks a per-driver default
	ConnMaxLifetime time.Duration // e.g. 30m
	SlowQuery       time.Duration // queries slower than this log at warn; 0 = off
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret  string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// JobsConfig holds job lifecycle settings.
type JobsConfig struct {
	CodePrefix      string        // JOB_CODE_PREFIX, e.g. "CS"
	GuaranteeWindow time.Duration // how long a job stays IN_GUARANTEE
	SweepInterval   time.Duration // guarantee sweeper tick; 0 disables it
}

// ReferralConfig holds the credits granted when a referral pays off.
type ReferralConfig struct {
	BonusCents   int64 // to the referrer
	WelcomeCents int64 // to the referred user
}

// ChatConfig holds websocket channel settings.
type ChatConfig struct {
	SendBuffer   int           // per-connection outbound queue
	PingInterval time.Duration // keepalive ping period
	WriteTimeout time.Duration // per-frame write deadline
	RedisURL     string        // enables cross-instance fan-out when set
	RedisChannel string
}

// StorageConfig holds MinIO settings for chat attachments. Attachments are
// disabled when Endpoint is empty.
type StorageConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	Region     string
	PresignTTL time.Duration
	MaxBytes   int64  // largest attachment accepted
	PublicURL  string // base URL files are served from; empty uses the endpoint
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string        // debug|info|warn|error|fatal|panic
	LogPretty      bool          // pretty console logs in dev
	SlowRequest    time.Duration // access lines slower than this log at warn; 0 = off
	SwaggerEnabled bool          // enable Swagger UI route
	APIBasePath    string        // base path for API routes

	DB       DBConfig
	Auth     AuthConfig
	Jobs     JobsConfig
	Referral ReferralConfig
	Chat     ChatConfig
	Storage  StorageConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SlowRequest:    getdur("LOG_SLOW_REQUEST", 2*time.Second),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "casasegura.db"),
			URL:    getenv("DATABASE_URL", ""),

			MaxOpenConns:    getint("DB_MAX_OPEN_CONNS", 0),
			MaxIdleConns:    getint("DB_MAX_IDLE_CONNS", 0),
			ConnMaxLifetime: getdur("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			SlowQuery:       getdur("DB_SLOW_QUERY", 200*time.Millisecond),
		},
		Auth: AuthConfig{
			JWTSecret:  getenv("JWT_SECRET", "casasegura-dev-secret"),
			Issuer:     getenv("JWT_ISSUER", "casasegura"),
			AccessTTL:  getdur("ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTTL: getdur("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		},
		Jobs: JobsConfig{
			CodePrefix:      strings.ToUpper(getenv("JOB_CODE_PREFIX", "CS")),
			GuaranteeWindow: getdur("GUARANTEE_WINDOW", 30*24*time.Hour),
			SweepInterval:   getdur("GUARANTEE_SWEEP_INTERVAL", time.Hour),
		},
		Referral: ReferralConfig{
			BonusCents:   int64(getint("REFERRAL_BONUS_CENTS", 2000)),
			WelcomeCents: int64(getint("REFERRAL_WELCOME_CENTS", 1000)),
		},
		Chat: ChatConfig{
			SendBuffer:   getint("CHAT_SEND_BUFFER", 64),
			PingInterval: getdur("CHAT_PING_INTERVAL", 30*time.Second),
			WriteTimeout: getdur("CHAT_WRITE_TIMEOUT", 10*time.Second),
			RedisURL:     getenv("REDIS_URL", ""),
			RedisChannel: getenv("REDIS_CHANNEL", "casasegura:chat"),
		},
		Storage: StorageConfig{
			Endpoint:   getenv("MINIO_ENDPOINT", ""),
			AccessKey:  getenv("MINIO_ACCESS_KEY", ""),
			SecretKey:  getenv("MINIO_SECRET_KEY", ""),
			Bucket:     getenv("MINIO_BUCKET", "chat-attachments"),
			UseSSL:     getbool("MINIO_USE_SSL", false),
			Region:     getenv("MINIO_REGION", "us-east-1"),
			PresignTTL: getdur("MINIO_PRESIGN_TTL", 15*time.Minute),
			MaxBytes:   int64(getint("MINIO_MAX_BYTES", 10<<20)),
			PublicURL:  strings.TrimRight(getenv("MINIO_PUBLIC_URL", ""), "/"),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "casasegura-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" || cfg.DB.Driver == "pg" {
		cfg.DB.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL must be set when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.DB.MaxOpenConns < 0 || cfg.DB.MaxIdleConns < 0 || cfg.DB.ConnMaxLifetime < 0 || cfg.DB.SlowQuery < 0 {
		return cfg, errors.New("DB pool settings must not be negative")
	}
	if len(cfg.Auth.JWTSecret) < 16 {
		return cfg, errors.New("JWT_SECRET must be at least 16 bytes")
	}
	if cfg.Auth.AccessTTL <= 0 || cfg.Auth.RefreshTTL <= 0 {
		return cfg, errors.New("ACCESS_TOKEN_TTL and REFRESH_TOKEN_TTL must be > 0")
	}
	if cfg.Jobs.CodePrefix == "" || len(cfg.Jobs.CodePrefix) > 8 {
		return cfg, errors.New("JOB_CODE_PREFIX must be 1..8 characters")
	}
	if cfg.Jobs.GuaranteeWindow <= 0 {
		return cfg, errors.New("GUARANTEE_WINDOW must be > 0")
	}
	if cfg.Jobs.SweepInterval < 0 {
		return cfg, errors.New("GUARANTEE_SWEEP_INTERVAL must be >= 0")
	}
	if cfg.Referral.BonusCents < 0 || cfg.Referral.WelcomeCents < 0 {
		return cfg, errors.New("REFERRAL_BONUS_CENTS and REFERRAL_WELCOME_CENTS must be >= 0")
	}
	if cfg.Chat.SendBuffer < 1 {
		return cfg, errors.New("CHAT_SEND_BUFFER must be >= 1")
	}
	if cfg.Chat.PingInterval <= 0 || cfg.Chat.WriteTimeout <= 0 {
		return cfg, errors.New("CHAT_PING_INTERVAL and CHAT_WRITE_TIMEOUT must be > 0")
	}
	if cfg.Storage.Endpoint != "" && (cfg.Storage.Bucket == "" || cfg.Storage.PresignTTL <= 0) {
		return cfg, errors.New("MINIO_BUCKET and MINIO_PRESIGN_TTL are required when MINIO_ENDPOINT is set")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
