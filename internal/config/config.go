package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Env      string
	HTTPAddr string
	BaseURL  string

	DBDSN     string
	JWTSecret string

	LogLevel string

	SessionDays int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	MaxUploadBytes int64
	UploadRateRPM  int

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	ExtractorURL       string
	ExtractorTimeoutMS int

	WorkerConcurrency int
	EmailResendSecs   int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Env = strings.TrimSpace(os.Getenv("CD_ENV"))
	if cfg.Env == "" {
		return nil, fmt.Errorf("CD_ENV is required")
	}
	if cfg.Env != "dev" && cfg.Env != "prod" {
		return nil, fmt.Errorf("CD_ENV must be one of: dev, prod (got: %s)", cfg.Env)
	}

	cfg.HTTPAddr = getEnvOrDefault("CD_HTTP_ADDR", ":8080")

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("CD_BASE_URL")), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("CD_BASE_URL is required")
	}

	cfg.DBDSN = strings.TrimSpace(os.Getenv("CD_DB_DSN"))
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("CD_DB_DSN is required")
	}

	cfg.JWTSecret = os.Getenv("CD_JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("CD_JWT_SECRET is required")
	}
	if cfg.Env == "prod" && len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("CD_JWT_SECRET must be at least 32 characters (currently %d)", len(cfg.JWTSecret))
	}

	cfg.LogLevel = getEnvOrDefault("CD_LOG_LEVEL", "info")
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("CD_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", cfg.LogLevel)
	}

	var err error
	cfg.SessionDays, err = getEnvIntOrDefault("CD_SESSION_DAYS", 7)
	if err != nil {
		return nil, err
	}

	cfg.RedisAddr = getEnvOrDefault("CD_REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = os.Getenv("CD_REDIS_PASSWORD")
	cfg.RedisDB, err = getEnvIntOrDefault("CD_REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	cfg.S3Bucket = strings.TrimSpace(os.Getenv("CD_S3_BUCKET"))
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("CD_S3_BUCKET is required")
	}
	cfg.S3Region = getEnvOrDefault("CD_S3_REGION", "us-east-1")
	cfg.S3Endpoint = strings.TrimSpace(os.Getenv("CD_S3_ENDPOINT"))
	cfg.S3AccessKey = strings.TrimSpace(os.Getenv("CD_S3_ACCESS_KEY"))
	cfg.S3SecretKey = os.Getenv("CD_S3_SECRET_KEY")
	cfg.S3UsePathStyle, err = getEnvBoolOrDefault("CD_S3_USE_PATH_STYLE", false)
	if err != nil {
		return nil, err
	}

	cfg.MaxUploadBytes, err = getEnvInt64OrDefault("CD_MAX_UPLOAD_BYTES", 25*1024*1024)
	if err != nil {
		return nil, err
	}

	cfg.UploadRateRPM, err = getEnvIntOrDefault("CD_UPLOAD_RATE_RPM", 30)
	if err != nil {
		return nil, err
	}

	cfg.SMTPHost = strings.TrimSpace(os.Getenv("CD_SMTP_HOST"))
	cfg.SMTPPort, err = getEnvIntOrDefault("CD_SMTP_PORT", 587)
	if err != nil {
		return nil, err
	}
	cfg.SMTPUsername = os.Getenv("CD_SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("CD_SMTP_PASSWORD")
	cfg.SMTPFrom = getEnvOrDefault("CD_SMTP_FROM", "no-reply@clinicdocs.local")
	if cfg.Env == "prod" && cfg.SMTPHost == "" {
		return nil, fmt.Errorf("CD_SMTP_HOST is required in prod")
	}

	cfg.ExtractorURL = strings.TrimRight(strings.TrimSpace(os.Getenv("CD_EXTRACTOR_URL")), "/")
	cfg.ExtractorTimeoutMS, err = getEnvIntOrDefault("CD_EXTRACTOR_TIMEOUT_MS", 60000)
	if err != nil {
		return nil, err
	}
	if cfg.ExtractorTimeoutMS <= 0 || cfg.ExtractorTimeoutMS > 600000 {
		return nil, fmt.Errorf("CD_EXTRACTOR_TIMEOUT_MS must be between 1 and 600000 (got: %d)", cfg.ExtractorTimeoutMS)
	}

	cfg.WorkerConcurrency, err = getEnvIntOrDefault("CD_WORKER_CONCURRENCY", 10)
	if err != nil {
		return nil, err
	}

	cfg.EmailResendSecs, err = getEnvIntOrDefault("CD_EMAIL_RESEND_SECONDS", 60)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDev returns true if running in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

// RedactedValues returns a map of config values with secrets redacted.
func (c *Config) RedactedValues() map[string]string {
	return map[string]string{
		"CD_ENV":                  c.Env,
		"CD_HTTP_ADDR":            c.HTTPAddr,
		"CD_BASE_URL":             c.BaseURL,
		"CD_DB_DSN":               redactDSN(c.DBDSN),
		"CD_JWT_SECRET":           "[REDACTED]",
		"CD_LOG_LEVEL":            c.LogLevel,
		"CD_SESSION_DAYS":         strconv.Itoa(c.SessionDays),
		"CD_REDIS_ADDR":           c.RedisAddr,
		"CD_REDIS_DB":             strconv.Itoa(c.RedisDB),
		"CD_S3_BUCKET":            c.S3Bucket,
		"CD_S3_REGION":            c.S3Region,
		"CD_S3_ENDPOINT":          c.S3Endpoint,
		"CD_S3_SECRET_KEY":        redactSecret(c.S3SecretKey),
		"CD_MAX_UPLOAD_BYTES":     strconv.FormatInt(c.MaxUploadBytes, 10),
		"CD_UPLOAD_RATE_RPM":      strconv.Itoa(c.UploadRateRPM),
		"CD_SMTP_HOST":            c.SMTPHost,
		"CD_SMTP_PASSWORD":        redactSecret(c.SMTPPassword),
		"CD_EXTRACTOR_URL":        c.ExtractorURL,
		"CD_EXTRACTOR_TIMEOUT_MS": strconv.Itoa(c.ExtractorTimeoutMS),
		"CD_WORKER_CONCURRENCY":   strconv.Itoa(c.WorkerConcurrency),
		"CD_EMAIL_RESEND_SECONDS": strconv.Itoa(c.EmailResendSecs),
	}
}

func redactDSN(dsn string) string {
	if start := strings.Index(dsn, "://"); start != -1 {
		if end := strings.Index(dsn[start+3:], "@"); end != -1 {
			return dsn[:start+3] + "[REDACTED]" + dsn[start+3+end:]
		}
	}
	return dsn
}

func redactSecret(v string) string {
	if v == "" {
		return ""
	}
	return "[REDACTED]"
}

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got: %q)", key, value)
	}
	return parsed, nil
}

func getEnvInt64OrDefault(key string, defaultValue int64) (int64, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer (got: %q)", key, value)
	}
	return parsed, nil
}

func getEnvBoolOrDefault(key string, defaultValue bool) (bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean (got: %q)", key, value)
	}
	return parsed, nil
}
