// Package config loads service settings from the environment, after an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/example/okra-classifier/internal/imageprocessor"
)

type Config struct {
	HTTPAddr          string
	DatabaseDSN       string
	RedisAddr         string
	RedisPassword     string
	JWTSecret         string
	JWTAudience       string
	AllowedOrigins    []string
	MaxUploadBytes    int64
	MaxBatchFiles     int
	FallbackEnabled   bool
	RandomSeed        int64
	AnalysisMaxSide   uint
	AnalysisMaxPixels int64
	CacheTTL          time.Duration
	ShutdownTimeout   time.Duration
	LogLevel          string
}

// Load reads .env (if present) and the process environment. Variables
// already set in the environment win over .env entries.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, which reports a variable's value
// and whether it is set.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	l := loader{lookup: lookup}
	maxSide := l.integer("ANALYSIS_MAX_SIDE", 0)
	cfg := &Config{
		HTTPAddr:          l.str("HTTP_ADDR", ":5000"),
		DatabaseDSN:       l.str("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=okra port=5432 sslmode=disable"),
		RedisAddr:         l.str("REDIS_ADDR", "redis:6379"),
		RedisPassword:     l.str("REDIS_PASSWORD", ""),
		JWTSecret:         l.str("JWT_SECRET", "dev-secret"),
		JWTAudience:       l.str("JWT_AUDIENCE", ""),
		AllowedOrigins:    l.list("CORS_ALLOWED_ORIGINS", []string{"*"}),
		MaxUploadBytes:    l.integer("MAX_UPLOAD_BYTES", 16<<20),
		MaxBatchFiles:     int(l.integer("MAX_BATCH_FILES", 10)),
		FallbackEnabled:   l.boolean("FALLBACK_ENABLED", false),
		RandomSeed:        l.integer("RANDOM_SEED", 0),
		AnalysisMaxPixels: l.integer("ANALYSIS_MAX_PIXELS", imageprocessor.DefaultMaxPixels),
		CacheTTL:          l.duration("CACHE_TTL", 5*time.Minute),
		ShutdownTimeout:   l.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		LogLevel:          l.str("LOG_LEVEL", "info"),
	}
	if l.err != nil {
		return nil, l.err
	}
	if cfg.MaxUploadBytes <= 0 {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", cfg.MaxUploadBytes)
	}
	if cfg.MaxBatchFiles <= 0 {
		return nil, fmt.Errorf("MAX_BATCH_FILES must be positive, got %d", cfg.MaxBatchFiles)
	}
	if cfg.AnalysisMaxPixels <= 0 {
		return nil, fmt.Errorf("ANALYSIS_MAX_PIXELS must be positive, got %d", cfg.AnalysisMaxPixels)
	}
	if maxSide < 0 {
		return nil, fmt.Errorf("ANALYSIS_MAX_SIDE must not be negative, got %d", maxSide)
	}
	cfg.AnalysisMaxSide = uint(maxSide)
	return cfg, nil
}

// loader keeps the first parse error so Load can report it once.
type loader struct {
	lookup func(string) (string, bool)
	err    error
}

func (l *loader) raw(key string) (string, bool) {
	v, ok := l.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (l *loader) str(key, fallback string) string {
	if v, ok := l.raw(key); ok {
		return v
	}
	return fallback
}

func (l *loader) list(key string, fallback []string) []string {
	v, ok := l.raw(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func (l *loader) integer(key string, fallback int64) int64 {
	v, ok := l.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		l.fail(key, v, err)
		return fallback
	}
	return n
}

func (l *loader) boolean(key string, fallback bool) bool {
	v, ok := l.raw(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.fail(key, v, err)
		return fallback
	}
	return b
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	v, ok := l.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.fail(key, v, err)
		return fallback
	}
	return d
}

func (l *loader) fail(key, value string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
}
