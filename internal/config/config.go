package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Persistence
	DatabaseURL string

	// HTTP client (provider APIs, webhooks)
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries         int
	InitialBackoff     time.Duration
	MaxConcurrentSyncs int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Sync engine
	BackfillDays    int
	StarterCooldown time.Duration
	ProCooldown     time.Duration
	SyncStuckAfter  time.Duration

	// Anomaly detection
	AnomalyWindowDays int
	AnomalyZScore     float64
	AnomalySpike      float64
	AnomalyMinCents   int64

	// Notifications
	DashboardURL string

	// Provider API base URLs (overridable for tests and proxies)
	AWSCostAPIURL    string
	GCPBillingAPIURL string
	VercelAPIURL     string

	// Secrets
	JWTSecret    string
	JWTAccessTTL time.Duration
	VaultKey     string // base64, 32 bytes once decoded
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/costwatch"),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 15*time.Second),

		MaxRetries:         getEnvInt("MAX_RETRIES", 3),
		InitialBackoff:     getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrentSyncs: getEnvInt("MAX_CONCURRENT_SYNCS", 10),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		BackfillDays:    getEnvInt("BACKFILL_DAYS", 7),
		StarterCooldown: getEnvDuration("STARTER_COOLDOWN", 24*time.Hour),
		ProCooldown:     getEnvDuration("PRO_COOLDOWN", 5*time.Minute),
		SyncStuckAfter:  getEnvDuration("SYNC_STUCK_AFTER", 2*time.Hour),

		AnomalyWindowDays: getEnvInt("ANOMALY_WINDOW_DAYS", 14),
		AnomalyZScore:     getEnvFloat("ANOMALY_Z", 2.0),
		AnomalySpike:      getEnvFloat("ANOMALY_SPIKE", 1.2),
		AnomalyMinCents:   int64(getEnvInt("ANOMALY_MIN_CENTS", 100)),

		DashboardURL: getEnv("DASHBOARD_URL", "http://localhost:3000"),

		AWSCostAPIURL:    getEnv("AWS_COST_API_URL", "https://ce.us-east-1.amazonaws.com"),
		GCPBillingAPIURL: getEnv("GCP_BILLING_API_URL", "https://bigquery.googleapis.com"),
		VercelAPIURL:     getEnv("VERCEL_API_URL", "https://api.vercel.com"),

		JWTSecret:    getEnv("JWT_SECRET", "costwatch-default-dev-secret-change-me"),
		JWTAccessTTL: getEnvDuration("JWT_ACCESS_TTL", time.Hour),
		VaultKey:     getEnv("VAULT_KEY", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
