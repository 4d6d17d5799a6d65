// Package config loads lessongate settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lessongate/lessongate/internal/player"
	"github.com/lessongate/lessongate/internal/storage"
)

type Config struct {
	Port           string
	BaseURL        string
	DatabaseURL    string
	JWTSecret      string
	AllowedOrigins []string

	Storage storage.Config

	RedisURL             string
	RequirementsCacheTTL time.Duration

	ProgressRate  float64
	ProgressBurst int

	Player                player.Options
	TrustInferredProgress bool

	LogLevel  string
	LogFormat string
}

func Load() Config {
	return Config{
		Port:           getEnv("PORT", "8080"),
		BaseURL:        getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS"),
		Storage: storage.Config{
			Endpoint:       os.Getenv("S3_ENDPOINT"),
			PublicEndpoint: os.Getenv("S3_PUBLIC_ENDPOINT"),
			Bucket:         os.Getenv("S3_BUCKET"),
			AccessKey:      os.Getenv("S3_ACCESS_KEY"),
			SecretKey:      os.Getenv("S3_SECRET_KEY"),
			Region:         getEnv("S3_REGION", "eu-central-1"),
			URLExpiry:      getEnvDuration("S3_URL_EXPIRY", storage.DefaultURLExpiry),
		},
		RedisURL:             os.Getenv("REDIS_URL"),
		RequirementsCacheTTL: getEnvDuration("REQUIREMENTS_CACHE_TTL", 30*time.Second),
		ProgressRate:         getEnvFloat("PROGRESS_RATE_LIMIT", 1),
		ProgressBurst:        getEnvInt("PROGRESS_RATE_BURST", 5),
		Player: player.Options{
			SampleInterval:  getEnvDuration("SAMPLE_INTERVAL", player.DefaultSampleInterval),
			ResumeGuard:     getEnvDuration("RESUME_GUARD", player.DefaultResumeGuard),
			FocusDwell:      getEnvDuration("FOCUS_DWELL", player.DefaultFocusDwell),
			AssumedDuration: getEnvDuration("ASSUMED_DURATION", player.DefaultAssumedDuration),
		},
		TrustInferredProgress: getEnvBool("TRUST_INFERRED_PROGRESS", true),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []string

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	}
	if c.Storage.Bucket != "" && (c.Storage.AccessKey == "" || c.Storage.SecretKey == "") {
		errs = append(errs, "S3_ACCESS_KEY and S3_SECRET_KEY are required when S3_BUCKET is set")
	}
	if c.ProgressRate <= 0 {
		errs = append(errs, "PROGRESS_RATE_LIMIT must be positive")
	}
	if c.ProgressBurst < 1 {
		errs = append(errs, "PROGRESS_RATE_BURST must be at least 1")
	}
	for name, d := range map[string]time.Duration{
		"SAMPLE_INTERVAL":  c.Player.SampleInterval,
		"RESUME_GUARD":     c.Player.ResumeGuard,
		"FOCUS_DWELL":      c.Player.FocusDwell,
		"ASSUMED_DURATION": c.Player.AssumedDuration,
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err.Error())
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, "LOG_FORMAT must be json or text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not a log level", s)
	}
	return level, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
