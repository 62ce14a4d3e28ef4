package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"
)

type Config struct {
	Port string

	// Event store and stock ledger
	StoreType            string
	DatabaseURL          string
	RunMigrations        bool
	DynamoEventsTable    string
	DynamoSnapshotsTable string
	AWSRegion            string
	DynamoEndpoint       string

	// Kafka
	KafkaBrokers       []string
	KafkaEventsTopic   string
	KafkaReminderTopic string
	KafkaGroupID       string

	// Cart cache. Empty RedisAddr disables it.
	RedisAddr    string
	CartCacheTTL time.Duration

	JWTSecret       string
	JWTIssuer       string
	JWTAccessExpiry time.Duration

	RenewalThresholdDays    int
	CheckoutRollbackTimeout time.Duration
	CatalogFile             string

	// Empty SMTPHost logs mail instead of sending it
	SMTPHost string
	SMTPPort int
	SMTPFrom string

	LogDev bool
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		StoreType:            strings.ToLower(getEnv("STORE_TYPE", StoreMemory)),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		DynamoEventsTable:    getEnv("DYNAMODB_TABLE_EVENTS", "gym-events"),
		DynamoSnapshotsTable: getEnv("DYNAMODB_TABLE_SNAPSHOTS", "gym-snapshots"),
		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		DynamoEndpoint:       os.Getenv("DYNAMODB_ENDPOINT"),
		KafkaBrokers:         splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaEventsTopic:     getEnv("KAFKA_EVENTS_TOPIC", "gym-events"),
		KafkaReminderTopic:   getEnv("KAFKA_REMINDER_TOPIC", "membership-reminders"),
		KafkaGroupID:         getEnv("KAFKA_GROUP_ID", "gym-notifier"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		JWTIssuer:            os.Getenv("JWT_ISSUER"),
		CatalogFile:          getEnv("CATALOG_FILE", "config/catalog.yaml"),
		SMTPHost:             os.Getenv("SMTP_HOST"),
		SMTPFrom:             getEnv("SMTP_FROM", "no-reply@gym.example.com"),
	}

	var errs []error
	var err error
	if cfg.RunMigrations, err = getEnvBool("RUN_MIGRATIONS", true); err != nil {
		errs = append(errs, err)
	}
	if cfg.LogDev, err = getEnvBool("LOG_DEV", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.SMTPPort, err = getEnvInt("SMTP_PORT", 587); err != nil {
		errs = append(errs, err)
	}
	if cfg.RenewalThresholdDays, err = getEnvInt("RENEWAL_THRESHOLD_DAYS", 3); err != nil {
		errs = append(errs, err)
	}
	if cfg.CartCacheTTL, err = getEnvDuration("CART_CACHE_TTL", 15*time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.JWTAccessExpiry, err = getEnvDuration("JWT_ACCESS_EXPIRY", 15*time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.CheckoutRollbackTimeout, err = getEnvDuration("CHECKOUT_ROLLBACK_TIMEOUT", 5*time.Second); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate reports settings that cannot work together. The API needs a JWT
// secret, the notifier does not.
func (c *Config) Validate(requireJWT bool) error {
	var errs []error
	switch c.StoreType {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_TYPE=postgres"))
		}
	case StoreDynamoDB:
		if c.DynamoEventsTable == "" || c.DynamoSnapshotsTable == "" {
			errs = append(errs, errors.New("DynamoDB table names are required when STORE_TYPE=dynamodb"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_TYPE %q", c.StoreType))
	}

	if requireJWT {
		switch {
		case c.JWTSecret == "":
			errs = append(errs, errors.New("JWT_SECRET is required"))
		case len(c.JWTSecret) < 32:
			errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters long"))
		}
	}
	if c.RenewalThresholdDays < 0 {
		errs = append(errs, errors.New("RENEWAL_THRESHOLD_DAYS must not be negative"))
	}
	if c.CheckoutRollbackTimeout <= 0 {
		errs = append(errs, errors.New("CHECKOUT_ROLLBACK_TIMEOUT must be positive"))
	}
	if n, err := strconv.Atoi(c.Port); err != nil || n <= 0 || n > 65535 {
		errs = append(errs, fmt.Errorf("PORT %q is not a valid port", c.Port))
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		errs = append(errs, fmt.Errorf("SMTP_PORT %d is out of range", c.SMTPPort))
	}
	return errors.Join(errs...)
}

// KafkaEnabled reports whether brokers are configured
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitCSV(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
