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

// Broker kinds accepted by EVENT_BROKER.
const (
	BrokerNone  = "none"
	BrokerAMQP  = "amqp"
	BrokerKafka = "kafka"
)

// ServerConfig holds every tunable of the API process. Values come from the
// environment (optionally seeded from a .env file) over local defaults.
type ServerConfig struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	DatabaseURL string
	RedisURL    string
	RedisGeoKey string

	JWTSecret string
	TokenTTL  time.Duration

	LogLevel string

	SearchRadiusKM     float64
	RadiusStepKM       float64
	MaxSearchRadiusKM  float64
	MatchRetryInterval time.Duration
	MatchTimeout       time.Duration
	OfferTTL           time.Duration
	OfferBatch         int
	DriverStaleAfter   time.Duration

	// Request limits; a limit of 0 disables the limiter.
	APIRateLimit   int
	APIRateWindow  time.Duration
	RideRateLimit  int
	RideRateWindow time.Duration

	EventBroker  string
	AMQPURL      string
	AMQPExchange string
	KafkaBrokers []string
	KafkaTopic   string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ShutdownTimeout:    15 * time.Second,
		CORSOrigins:        []string{"*"},
		RedisGeoKey:        "drivers:geo",
		JWTSecret:          "dev-secret-change-me",
		TokenTTL:           720 * time.Hour,
		LogLevel:           "info",
		SearchRadiusKM:     3,
		RadiusStepKM:       2,
		MaxSearchRadiusKM:  10,
		MatchRetryInterval: 2 * time.Second,
		MatchTimeout:       2 * time.Minute,
		OfferTTL:           20 * time.Second,
		OfferBatch:         1,
		DriverStaleAfter:   2 * time.Minute,
		APIRateLimit:       100,
		APIRateWindow:      15 * time.Minute,
		RideRateLimit:      10,
		RideRateWindow:     5 * time.Minute,
		EventBroker:        BrokerNone,
		AMQPExchange:       "taxidispatch.events",
		KafkaTopic:         "ride-events",
	}
}

// Load reads .env when present, then the process environment.
func Load() (ServerConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ServerConfig{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the config from the process environment only.
func FromEnv() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitAndTrim(origins)
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	setStringFromEnv(&cfg.JWTSecret, "JWT_SECRET")
	setDurationFromEnv(&cfg.TokenTTL, "TOKEN_TTL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	setFloatFromEnv(&cfg.SearchRadiusKM, "SEARCH_RADIUS_KM", &errs)
	setFloatFromEnv(&cfg.RadiusStepKM, "RADIUS_STEP_KM", &errs)
	setFloatFromEnv(&cfg.MaxSearchRadiusKM, "MAX_SEARCH_RADIUS_KM", &errs)
	setDurationFromEnv(&cfg.MatchRetryInterval, "MATCH_RETRY_INTERVAL", &errs)
	setDurationFromEnv(&cfg.MatchTimeout, "MATCH_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.OfferTTL, "OFFER_TTL", &errs)
	setIntFromEnv(&cfg.OfferBatch, "OFFER_BATCH", &errs)
	setDurationFromEnv(&cfg.DriverStaleAfter, "DRIVER_STALE_AFTER", &errs)

	setIntFromEnv(&cfg.APIRateLimit, "RATE_LIMIT_MAX_REQUESTS", &errs)
	setDurationFromEnv(&cfg.APIRateWindow, "RATE_LIMIT_WINDOW", &errs)
	setIntFromEnv(&cfg.RideRateLimit, "RIDE_RATE_LIMIT", &errs)
	setDurationFromEnv(&cfg.RideRateWindow, "RIDE_RATE_WINDOW", &errs)

	if v := os.Getenv("EVENT_BROKER"); v != "" {
		cfg.EventBroker = strings.ToLower(strings.TrimSpace(v))
	}
	cfg.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	setStringFromEnv(&cfg.AMQPExchange, "AMQP_EXCHANGE")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	if c.SearchRadiusKM <= 0 {
		errs = append(errs, fmt.Errorf("SEARCH_RADIUS_KM must be > 0"))
	}
	if c.MaxSearchRadiusKM < c.SearchRadiusKM {
		errs = append(errs, fmt.Errorf("MAX_SEARCH_RADIUS_KM must be >= SEARCH_RADIUS_KM"))
	}
	if c.RadiusStepKM < 0 {
		errs = append(errs, fmt.Errorf("RADIUS_STEP_KM must be >= 0"))
	}
	if c.MatchRetryInterval <= 0 || c.MatchTimeout <= 0 || c.OfferTTL <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_RETRY_INTERVAL, MATCH_TIMEOUT and OFFER_TTL must be > 0"))
	}
	if c.OfferBatch <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_BATCH must be > 0"))
	}
	if c.APIRateLimit < 0 || c.RideRateLimit < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_MAX_REQUESTS and RIDE_RATE_LIMIT must be >= 0"))
	}
	if (c.APIRateLimit > 0 && c.APIRateWindow <= 0) || (c.RideRateLimit > 0 && c.RideRateWindow <= 0) {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOW and RIDE_RATE_WINDOW must be > 0 when limiting"))
	}
	switch c.EventBroker {
	case BrokerNone:
	case BrokerAMQP:
		if c.AMQPURL == "" {
			errs = append(errs, fmt.Errorf("AMQP_URL is required when EVENT_BROKER=amqp"))
		}
	case BrokerKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, fmt.Errorf("KAFKA_BROKERS is required when EVENT_BROKER=kafka"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EVENT_BROKER %q", c.EventBroker))
	}
	if len(c.JWTSecret) < 8 {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least 8 characters"))
	}
	return errs
}

// ClientConfig is shared by the seed, simulate, heartbeat and smoke tools.
type ClientConfig struct {
	APIBase string
	Token   string
	Timeout time.Duration
}

func LoadClientConfig() (ClientConfig, error) {
	_ = godotenv.Load()
	cfg := ClientConfig{APIBase: "http://localhost:8080", Timeout: 10 * time.Second}
	var errs []error
	setStringFromEnv(&cfg.APIBase, "API_BASE")
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	cfg.Token = strings.TrimSpace(os.Getenv("TOKEN"))
	setDurationFromEnv(&cfg.Timeout, "CLIENT_TIMEOUT", &errs)
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
