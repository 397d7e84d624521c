package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration for the voice-booking core.
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	CORSAllowedOrigins []string
	DatabaseURL        string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// PMS rate-limit budget, shared process-wide across every clinic's
	// pms.Client per C1's design — not configurable per clinic.
	PMSCallLimit  int
	PMSCallWindow time.Duration
	PMSTimeout    time.Duration

	RateLimitPerSec float64
	RateLimitBurst  int

	// SendGrid email configuration for manual-handoff notifications.
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	// Default country code used for phone normalization when a clinic
	// record doesn't override it.
	DefaultCountryCode string

	MigrationsPath string

	// UseMemoryQueue routes C4's async sync jobs through an in-process
	// channel instead of SQS — local/dev only, mirrors the teacher's
	// USE_MEMORY_QUEUE fallback for its conversation worker. Job state still
	// lives in DynamoDB either way, so GET /sync-cache/{jobId} behaves the
	// same regardless of queue backend.
	UseMemoryQueue bool
	SyncQueueURL   string
	SyncJobsTable  string
	AWSRegion      string

	// SyncCacheJWTSecret enables bearer-token auth on POST /sync-cache and
	// GET /sync-cache/{jobId} when set. Left empty, those routes run with no
	// authentication check. No shared API key is checked on any route.
	SyncCacheJWTSecret string
}

// Load reads configuration from environment variables.
func Load() *Config {
	corsAllowedOrigins := []string{}
	if raw := strings.TrimSpace(getEnv("CORS_ALLOWED_ORIGINS", "")); raw != "" {
		for _, origin := range strings.Split(raw, ",") {
			origin = strings.TrimSpace(origin)
			if origin == "" {
				continue
			}
			corsAllowedOrigins = append(corsAllowedOrigins, origin)
		}
	}

	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: corsAllowedOrigins,
		DatabaseURL:        getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		PMSCallLimit:  getEnvAsInt("PMS_CALL_LIMIT", 199),
		PMSCallWindow: getEnvAsDuration("PMS_CALL_WINDOW", 60*time.Second),
		PMSTimeout:    getEnvAsDuration("PMS_TIMEOUT", 10*time.Second),

		RateLimitPerSec: getEnvAsFloat("RATE_LIMIT_PER_SEC", 5),
		RateLimitBurst:  getEnvAsInt("RATE_LIMIT_BURST", 20),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "ClinicVoice"),

		DefaultCountryCode: getEnv("DEFAULT_COUNTRY_CODE", "61"),

		MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),

		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", true),
		SyncQueueURL:   getEnv("SYNC_QUEUE_URL", ""),
		SyncJobsTable:  getEnv("SYNC_JOBS_TABLE", "sync_jobs"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),

		SyncCacheJWTSecret: getEnv("SYNC_CACHE_JWT_SECRET", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsFloat retrieves an environment variable as a float64 or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
