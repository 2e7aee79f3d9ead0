package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the billing service.
type Config struct {
	Port        string
	Environment string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	StripeAPIKey        string
	StripeWebhookSecret string

	SubscriptionFeeCents        int64
	SubscriptionCurrency        string
	BillingThresholdPriorOrders int64
	GatewayTimeout              time.Duration
	GatewayMaxAttempts          int
	BillingQueueURL             string
	BillingMaxAttempts          int
	BillingSNSTopicARN          string
	RedisURL                    string
	UnrecordedChargesTable      string
	ReconcileInterval           time.Duration
	ReconcileSweepBatch         int
	AllowedOrigins              []string
	RequestTimeout              time.Duration

	AWSRegion           string
	AWSEndpoint         string
	UseSecrets          bool
	CloudWatchEnabled   bool
	CloudWatchNamespace string
	CloudWatchLogGroup  string
}

// SecretGetter resolves named secrets. *aws.SecretsClient satisfies it.
type SecretGetter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// LoadConfig reads configuration from environment variables. When secrets is
// non-nil and AWS_USE_SECRETS=true, database and Stripe credentials are
// overridden from Secrets Manager.
func LoadConfig(ctx context.Context, secrets SecretGetter) (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8092"),
		Environment: getEnv("APP_ENV", "development"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "UTC"),

		StripeAPIKey:        os.Getenv("STRIPE_API_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),

		SubscriptionCurrency:   strings.ToLower(getEnv("SUBSCRIPTION_CURRENCY", "usd")),
		BillingQueueURL:        os.Getenv("BILLING_QUEUE_URL"),
		BillingSNSTopicARN:     os.Getenv("BILLING_SNS_TOPIC_ARN"),
		RedisURL:               os.Getenv("REDIS_URL"),
		UnrecordedChargesTable: os.Getenv("UNRECORDED_CHARGES_TABLE"),
		AllowedOrigins:         splitList(getEnv("ALLOWED_ORIGINS", "*")),

		AWSRegion:           os.Getenv("AWS_REGION"),
		AWSEndpoint:         os.Getenv("AWS_ENDPOINT"),
		UseSecrets:          os.Getenv("AWS_USE_SECRETS") == "true",
		CloudWatchEnabled:   os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "FirewoodMarketplace"),
		CloudWatchLogGroup:  getEnv("CLOUDWATCH_LOG_GROUP", "/firewood/billing-service"),
	}

	var err error
	if cfg.SubscriptionFeeCents, err = getInt64("SUBSCRIPTION_FEE_CENTS", 1000); err != nil {
		return nil, err
	}
	if cfg.BillingThresholdPriorOrders, err = getInt64("BILLING_THRESHOLD_PRIOR_ORDERS", 3); err != nil {
		return nil, err
	}
	var n int64
	if n, err = getInt64("GATEWAY_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	cfg.GatewayMaxAttempts = int(n)
	if n, err = getInt64("BILLING_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	cfg.BillingMaxAttempts = int(n)
	if n, err = getInt64("RECONCILE_SWEEP_BATCH", 50); err != nil {
		return nil, err
	}
	cfg.ReconcileSweepBatch = int(n)
	if cfg.GatewayTimeout, err = getDuration("GATEWAY_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReconcileInterval, err = getDuration("RECONCILE_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	if cfg.UseSecrets && secrets != nil {
		cfg.applySecrets(ctx, secrets)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applySecrets(ctx context.Context, sm SecretGetter) {
	if dbjson, err := sm.GetSecret(ctx, "billing/DB_CREDENTIALS"); err == nil && dbjson != "" {
		var m map[string]string
		if err := json.Unmarshal([]byte(dbjson), &m); err == nil {
			override(&c.PostgresUser, m["POSTGRES_USER"])
			override(&c.PostgresPassword, m["POSTGRES_PASSWORD"])
			override(&c.PostgresDB, m["POSTGRES_DB"])
			override(&c.PostgresHost, m["POSTGRES_HOST"])
			override(&c.PostgresPort, m["POSTGRES_PORT"])
		}
	}
	if v, err := sm.GetSecret(ctx, "billing/STRIPE_API_KEY"); err == nil {
		override(&c.StripeAPIKey, v)
	}
	if v, err := sm.GetSecret(ctx, "billing/STRIPE_WEBHOOK_SECRET"); err == nil {
		override(&c.StripeWebhookSecret, v)
	}
}

// Validate reports the first missing or out of range setting.
func (c *Config) Validate() error {
	if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" || c.PostgresHost == "" {
		return fmt.Errorf("database config incomplete")
	}
	if c.StripeAPIKey == "" {
		return fmt.Errorf("STRIPE_API_KEY is required")
	}
	if c.SubscriptionFeeCents <= 0 {
		return fmt.Errorf("SUBSCRIPTION_FEE_CENTS must be positive")
	}
	if c.BillingThresholdPriorOrders < 0 {
		return fmt.Errorf("BILLING_THRESHOLD_PRIOR_ORDERS must not be negative")
	}
	if c.GatewayMaxAttempts < 1 || c.BillingMaxAttempts < 1 {
		return fmt.Errorf("attempt limits must be at least 1")
	}
	return nil
}

// DSN builds the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone)
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt64(key string, fallback int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
