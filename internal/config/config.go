package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AgentConfig captures every tunable of the roadside client agent. Values come
// from the environment, optionally seeded from a .env file, with defaults
// that match the production backend so a local run needs little setup.
type AgentConfig struct {
	APIBaseURL    string
	APIPathSuffix string
	APITimeout    time.Duration
	APIRateLimit  float64
	APIRateBurst  int

	PollInterval   time.Duration
	SampleInterval time.Duration
	ReconcileMode  string

	DefaultSpeedMps float64
	OSRMEndpoint    string
	ETACacheTTL     time.Duration

	SessionToken  string
	SessionRole   string
	SessionEmail  string
	LoginEmail    string
	LoginPassword string

	RedisAddr     string
	RedisPassword string
	SessionKey    string

	PGDSN         string
	RunMigrations bool

	KafkaBrokers []string
	KafkaTopic   string

	StripeAPIKey    string
	PaymentCurrency string

	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RequestID   int
	DeviceRoute string

	LogLevel string
}

func defaultAgentConfig() AgentConfig {
	return AgentConfig{
		APIBaseURL:      "http://localhost:8000/api",
		APITimeout:      30 * time.Second,
		APIRateBurst:    1,
		PollInterval:    5 * time.Second,
		SampleInterval:  3 * time.Second,
		ReconcileMode:   "poll-after-write",
		DefaultSpeedMps: 8,
		ETACacheTTL:     30 * time.Second,
		SessionKey:      "roadside:session",
		KafkaTopic:      "tracking-snapshots",
		PaymentCurrency: "inr",
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		LogLevel:        "info",
	}
}

// LoadDotEnv seeds the environment from the given files, or .env when none
// are named. A missing file is not an error; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func LoadAgentConfig() (AgentConfig, error) {
	cfg := defaultAgentConfig()
	var errs []error

	setStringFromEnv(&cfg.APIBaseURL, "API_BASE_URL")
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	cfg.APIPathSuffix = strings.TrimSpace(os.Getenv("API_PATH_SUFFIX"))
	setDurationFromEnv(&cfg.APITimeout, "API_TIMEOUT", &errs)
	setFloatFromEnv(&cfg.APIRateLimit, "API_RATE_LIMIT", &errs)
	setIntFromEnv(&cfg.APIRateBurst, "API_RATE_BURST", &errs)

	setDurationFromEnv(&cfg.PollInterval, "TRACK_POLL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.SampleInterval, "DEVICE_SAMPLE_INTERVAL", &errs)
	setStringFromEnv(&cfg.ReconcileMode, "RECONCILE_MODE")
	cfg.ReconcileMode = strings.ToLower(cfg.ReconcileMode)

	setFloatFromEnv(&cfg.DefaultSpeedMps, "ETA_DEFAULT_SPEED_MPS", &errs)
	cfg.OSRMEndpoint = strings.TrimRight(strings.TrimSpace(os.Getenv("OSRM_ENDPOINT")), "/")
	setDurationFromEnv(&cfg.ETACacheTTL, "ETA_CACHE_TTL", &errs)

	cfg.SessionToken = strings.TrimSpace(os.Getenv("SESSION_TOKEN"))
	cfg.SessionRole = strings.TrimSpace(os.Getenv("SESSION_ROLE"))
	cfg.SessionEmail = strings.TrimSpace(os.Getenv("SESSION_EMAIL"))
	cfg.LoginEmail = strings.TrimSpace(os.Getenv("LOGIN_EMAIL"))
	cfg.LoginPassword = os.Getenv("LOGIN_PASSWORD")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.SessionKey, "SESSION_KEY")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	setStringFromEnv(&cfg.PaymentCurrency, "PAYMENT_CURRENCY")

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setIntFromEnv(&cfg.RequestID, "REQUEST_ID", &errs)
	cfg.DeviceRoute = strings.TrimSpace(os.Getenv("DEVICE_ROUTE"))

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.APIBaseURL == "" {
		errs = append(errs, fmt.Errorf("API_BASE_URL must not be empty"))
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("TRACK_POLL_INTERVAL must be > 0"))
	}
	if cfg.SampleInterval <= 0 {
		errs = append(errs, fmt.Errorf("DEVICE_SAMPLE_INTERVAL must be > 0"))
	}
	if cfg.APIRateLimit < 0 {
		errs = append(errs, fmt.Errorf("API_RATE_LIMIT must be >= 0"))
	}
	if cfg.APIRateBurst <= 0 {
		errs = append(errs, fmt.Errorf("API_RATE_BURST must be > 0"))
	}
	switch cfg.ReconcileMode {
	case "poll-after-write", "trust-local-write":
	default:
		errs = append(errs, fmt.Errorf("RECONCILE_MODE must be poll-after-write or trust-local-write"))
	}

	return cfg, errors.Join(errs...)
}

// RelayConfig configures the snapshot relay that mirrors tracking snapshots
// into Redis for other consumers.
type RelayConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	SnapshotTTL   time.Duration
	LogLevel      string
}

func LoadRelayConfig() (RelayConfig, error) {
	cfg := RelayConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "tracking-snapshots",
		KafkaGroup:   "roadside-snapshot-relay",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "tracking_geo",
		SnapshotTTL:  10 * time.Minute,
		LogLevel:     "info",
	}
	var errs []error
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setDurationFromEnv(&cfg.SnapshotTTL, "SNAPSHOT_TTL", &errs)
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must name at least one broker"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
