package infra

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL        string `env:"DATABASE_URL"`
	DatabaseReplicaURL string `env:"DATABASE_REPLICA_URL"`
	PGHost             string `env:"PGHOST" envDefault:"localhost"`
	PGPort             int    `env:"PGPORT" envDefault:"5432"`
	PGUser             string `env:"PGUSER" envDefault:"tunevault"`
	PGPassword         string `env:"PGPASSWORD" envDefault:"tunevault"`
	PGDatabase         string `env:"PGDATABASE" envDefault:"tunevault"`
	StoreDriver        string `env:"STORE_DRIVER" envDefault:"postgres"`
	AutoMigrate        bool   `env:"AUTO_MIGRATE" envDefault:"true"`
	SeedCatalog        string `env:"SEED_CATALOG"`

	// Redis entitlement cache
	RedisURL            string        `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	CacheEnabled        bool          `env:"CACHE_ENABLED" envDefault:"false"`
	EntitlementCacheTTL time.Duration `env:"ENTITLEMENT_CACHE_TTL" envDefault:"10m"`

	// JWT
	JWTSecret         string        `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTListenerExpiry time.Duration `env:"JWT_LISTENER_EXPIRY" envDefault:"24h"`
	JWTAdminExpiry    time.Duration `env:"JWT_ADMIN_EXPIRY" envDefault:"8h"`

	// Server
	APIPort int `env:"API_PORT" envDefault:"3100"`

	// Kafka
	KafkaBrokers       string        `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled       bool          `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaTopicPrefix   string        `env:"KAFKA_TOPIC_PREFIX" envDefault:"tunevault"`
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	OutboxBatchSize    int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`

	// Payments
	StripeSecretKey     string        `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	StripeAPIBase       string        `env:"STRIPE_API_BASE" envDefault:"https://api.stripe.com/v1"`
	PaymentCurrency     string        `env:"PAYMENT_CURRENCY" envDefault:"usd"`
	GatewayTimeout      time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	FinalizeMaxAttempts int           `env:"FINALIZE_MAX_ATTEMPTS" envDefault:"3"`
	PurchaseRateLimit   int           `env:"PURCHASE_RATE_LIMIT" envDefault:"20"`

	// CORS
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for configuration that must not run in production.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass the secret checks (local dev only).
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", c.StoreDriver)
	}
	if c.SeedCatalog != "" && c.StoreDriver != "memory" {
		return fmt.Errorf("SEED_CATALOG is only supported with STORE_DRIVER=memory")
	}
	if c.FinalizeMaxAttempts < 1 {
		return fmt.Errorf("FINALIZE_MAX_ATTEMPTS must be at least 1")
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	if c.StripeSecretKey == "" || c.StripeWebhookSecret == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required")
	}
	return nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}

// CORSOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) CORSOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
