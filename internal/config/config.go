// Package config loads process configuration from the environment.
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
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	DefaultMaxUploadBytes   = 10 << 20
	DefaultInferenceTimeout = 30 * time.Second
	DefaultMaxDimension     = 2048
)

// Config is the full runtime configuration.
type Config struct {
	HTTPAddr        string
	Environment     string
	LogLevel        string
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	Database  Database
	Inference Inference
	Auth      Auth
	Upload    Upload
	Redis     Redis
	Minio     Minio
}

// Database holds the Postgres connection settings.
type Database struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// Inference selects and configures the vision completion provider.
type Inference struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration

	// MaxDimension bounds the longest image side sent to the provider; 0 sends originals.
	MaxDimension int
}

// Auth configures bearer token verification.
type Auth struct {
	JWTSecret      string
	Audience       string
	Issuer         string
	AllowAnonymous bool
}

// Upload bounds image intake.
type Upload struct {
	MaxBytes int64
}

// Redis configures the optional result cache. Empty Addr disables it.
type Redis struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Minio configures the optional object store for images. Empty Endpoint keeps
// images inline as data URLs.
type Minio struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MissingError lists every required variable that was not set.
type MissingError struct {
	Names []string
}

func (e *MissingError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Names, ", ")
}

var required = []string{"DATABASE_URL", "INFERENCE_API_KEY", "AUTH_JWT_SECRET"}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	env := envReader{lookup: lookup}

	var missing []string
	for _, name := range required {
		if env.str(name, "") == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingError{Names: missing}
	}

	cfg := &Config{
		HTTPAddr:        env.str("HTTP_ADDR", ":8080"),
		Environment:     env.str("APP_ENV", "production"),
		LogLevel:        env.str("LOG_LEVEL", "info"),
		ShutdownTimeout: env.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		CORSOrigins:     env.list("CORS_ALLOWED_ORIGINS", []string{"*"}),
		Database: Database{
			URL:          env.str("DATABASE_URL", ""),
			MaxOpenConns: env.int("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns: env.int("DB_MAX_IDLE_CONNS", 5),
		},
		Inference: Inference{
			Provider: strings.ToLower(env.str("INFERENCE_PROVIDER", ProviderOpenAI)),
			APIKey:   env.str("INFERENCE_API_KEY", ""),
			Model:    env.str("INFERENCE_MODEL", ""),
			BaseURL:  env.str("INFERENCE_BASE_URL", ""),
			Timeout:  env.duration("INFERENCE_TIMEOUT", DefaultInferenceTimeout),

			MaxDimension: env.int("INFERENCE_MAX_DIMENSION", DefaultMaxDimension),
		},
		Auth: Auth{
			JWTSecret:      env.str("AUTH_JWT_SECRET", ""),
			Audience:       env.str("AUTH_JWT_AUDIENCE", ""),
			Issuer:         env.str("AUTH_JWT_ISSUER", ""),
			AllowAnonymous: env.bool("ALLOW_ANONYMOUS_ANALYSIS", false),
		},
		Upload: Upload{
			MaxBytes: int64(env.int("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes)),
		},
		Redis: Redis{
			Addr:     env.str("REDIS_ADDR", ""),
			Password: env.str("REDIS_PASSWORD", ""),
			DB:       env.int("REDIS_DB", 0),
			TTL:      env.duration("HISTORY_CACHE_TTL", 5*time.Minute),
		},
		Minio: Minio{
			Endpoint:  env.str("MINIO_ENDPOINT", ""),
			AccessKey: env.str("MINIO_ACCESS_KEY", ""),
			SecretKey: env.str("MINIO_SECRET_KEY", ""),
			Bucket:    env.str("MINIO_BUCKET", "oral-images"),
			Region:    env.str("MINIO_REGION", ""),
			UseSSL:    env.bool("MINIO_USE_SSL", false),
		},
	}
	if len(env.errs) > 0 {
		return nil, errors.Join(env.errs...)
	}
	return cfg, nil
}

// IsDevelopment reports whether the process runs in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *envReader) str(key, fallback string) string {
	if value, ok := r.lookup(key); ok {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return fallback
}

func (r *envReader) int(key string, fallback int) int {
	raw := r.str(key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return fallback
	}
	return value
}

func (r *envReader) bool(key string, fallback bool) bool {
	raw := r.str(key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
		return fallback
	}
	return value
}

func (r *envReader) duration(key string, fallback time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		return fallback
	}
	return value
}

func (r *envReader) list(key string, fallback []string) []string {
	raw := r.str(key, "")
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
