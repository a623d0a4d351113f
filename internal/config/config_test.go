package config

import (
	"strings"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.OfferTTL != 20*time.Second || cfg.OfferBatch != 1 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.EventBroker != BrokerNone {
		t.Fatalf("EventBroker = %q, want none", cfg.EventBroker)
	}
	if cfg.RideRateLimit != 10 || cfg.RideRateWindow != 5*time.Minute || cfg.APIRateLimit != 100 {
		t.Fatalf("rate limit defaults = %d/%s, %d/%s", cfg.RideRateLimit, cfg.RideRateWindow, cfg.APIRateLimit, cfg.APIRateWindow)
	}
}

func TestFromEnv_RateLimits(t *testing.T) {
	t.Setenv("RIDE_RATE_LIMIT", "3")
	t.Setenv("RIDE_RATE_WINDOW", "1m")
	t.Setenv("RATE_LIMIT_MAX_REQUESTS", "0")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.RideRateLimit != 3 || cfg.RideRateWindow != time.Minute || cfg.APIRateLimit != 0 {
		t.Fatalf("rate limits = %d/%s, api %d", cfg.RideRateLimit, cfg.RideRateWindow, cfg.APIRateLimit)
	}

	t.Setenv("RIDE_RATE_LIMIT", "-1")
	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "RIDE_RATE_LIMIT must be >= 0") {
		t.Fatalf("expected negative limit error, got %v", err)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("SEARCH_RADIUS_KM", "1.5")
	t.Setenv("MAX_SEARCH_RADIUS_KM", "6")
	t.Setenv("MATCH_TIMEOUT", "45s")
	t.Setenv("OFFER_BATCH", "3")
	t.Setenv("EVENT_BROKER", "Kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("CORS_ORIGINS", "http://a.test,http://b.test")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.SearchRadiusKM != 1.5 || cfg.MaxSearchRadiusKM != 6 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.MatchTimeout != 45*time.Second || cfg.OfferBatch != 3 {
		t.Fatalf("matching overrides not applied: %+v", cfg)
	}
	if cfg.EventBroker != BrokerKafka || len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("kafka settings = %q %v", cfg.EventBroker, cfg.KafkaBrokers)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Fatalf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestFromEnv_CollectsAllErrors(t *testing.T) {
	t.Setenv("MATCH_TIMEOUT", "soon")
	t.Setenv("OFFER_BATCH", "0")
	t.Setenv("EVENT_BROKER", "amqp")

	_, err := FromEnv()
	if err == nil {
		t.Fatalf("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"invalid MATCH_TIMEOUT", "OFFER_BATCH must be > 0", "AMQP_URL is required"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error %q does not mention %q", msg, want)
		}
	}
}

func TestFromEnv_RejectsUnknownBroker(t *testing.T) {
	t.Setenv("EVENT_BROKER", "nats")
	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "unknown EVENT_BROKER") {
		t.Fatalf("expected unknown broker error, got %v", err)
	}
}
