package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AgentConfig captures all tunable parameters for the driver agent.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run against a local devserver without excessive setup.
type AgentConfig struct {
	APIBaseURL string
	WSBaseURL  string

	MetricsAddr string

	StatePath   string
	HTTPTimeout time.Duration

	OfferTimeoutSec      int
	RideFinalizeDelaySec int
	CommissionRate       float64

	NotificationTTL time.Duration
	NotificationCap int

	LocationMinPush time.Duration
	NearbyRadiusKm  float64

	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	ReconnectMaxAttempts int

	LogLevel string
}

func defaultAgentConfig() AgentConfig {
	return AgentConfig{
		APIBaseURL:           "http://localhost:8000/api",
		WSBaseURL:            "ws://localhost:8000/ws",
		MetricsAddr:          ":2112",
		StatePath:            "driver-agent.json",
		HTTPTimeout:          10 * time.Second,
		OfferTimeoutSec:      30,
		RideFinalizeDelaySec: 2,
		CommissionRate:       0.20,
		NotificationTTL:      5 * time.Second,
		NotificationCap:      50,
		LocationMinPush:      10 * time.Second,
		NearbyRadiusKm:       5,
		ReconnectBase:        time.Second,
		ReconnectMax:         30 * time.Second,
		ReconnectMaxAttempts: 10,
		LogLevel:             "info",
	}
}

func LoadAgentConfig() (AgentConfig, error) {
	cfg := defaultAgentConfig()
	var errs []error

	setStringFromEnv(&cfg.APIBaseURL, "API_BASE_URL")
	setStringFromEnv(&cfg.WSBaseURL, "WS_BASE_URL")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setStringFromEnv(&cfg.StatePath, "STATE_PATH")

	setDurationFromEnv(&cfg.HTTPTimeout, "HTTP_TIMEOUT", &errs)
	setIntFromEnv(&cfg.OfferTimeoutSec, "OFFER_TIMEOUT_SEC", &errs)
	setIntFromEnv(&cfg.RideFinalizeDelaySec, "RIDE_FINALIZE_DELAY_SEC", &errs)
	setFloatFromEnv(&cfg.CommissionRate, "COMMISSION_RATE", &errs)

	setDurationFromEnv(&cfg.NotificationTTL, "NOTIFICATION_TTL", &errs)
	setIntFromEnv(&cfg.NotificationCap, "NOTIFICATION_CAP", &errs)

	setDurationFromEnv(&cfg.LocationMinPush, "LOCATION_MIN_PUSH", &errs)
	setFloatFromEnv(&cfg.NearbyRadiusKm, "NEARBY_RADIUS_KM", &errs)

	setDurationFromEnv(&cfg.ReconnectBase, "RECONNECT_BASE", &errs)
	setDurationFromEnv(&cfg.ReconnectMax, "RECONNECT_MAX", &errs)
	setIntFromEnv(&cfg.ReconnectMaxAttempts, "RECONNECT_MAX_ATTEMPTS", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.OfferTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_TIMEOUT_SEC must be > 0"))
	}
	if cfg.CommissionRate < 0 || cfg.CommissionRate >= 1 {
		errs = append(errs, fmt.Errorf("COMMISSION_RATE must be in [0, 1)"))
	}
	if cfg.ReconnectMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// DevServerConfig tunes the local development backend stub. Redis, Postgres,
// Kafka and Stripe are all optional: unset addresses fall back to in-memory
// or no-op implementations.
type DevServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	PGDSN string

	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret string
	TokenTTL  time.Duration

	SearchRadiusKm        float64
	MaxSearchTime         time.Duration
	DriverResponseTimeout time.Duration
	PingInterval          time.Duration

	LogLevel string
}

func defaultDevServerConfig() DevServerConfig {
	return DevServerConfig{
		HTTPAddr:              ":8000",
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           120 * time.Second,
		ShutdownTimeout:       15 * time.Second,
		RedisGeoKey:           "drivers_geo",
		KafkaTopic:            "driver-locations",
		JWTSecret:             "devserver-local-secret",
		TokenTTL:              24 * time.Hour,
		SearchRadiusKm:        5,
		MaxSearchTime:         120 * time.Second,
		DriverResponseTimeout: 30 * time.Second,
		PingInterval:          30 * time.Second,
		LogLevel:              "info",
	}
}

func LoadDevServerConfig() (DevServerConfig, error) {
	cfg := defaultDevServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	cfg.PGDSN = os.Getenv("PG_DSN")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	setStringFromEnv(&cfg.JWTSecret, "JWT_SECRET")
	setDurationFromEnv(&cfg.TokenTTL, "TOKEN_TTL", &errs)

	setFloatFromEnv(&cfg.SearchRadiusKm, "SEARCH_RADIUS_KM", &errs)
	setDurationFromEnv(&cfg.MaxSearchTime, "MAX_SEARCH_TIME", &errs)
	setDurationFromEnv(&cfg.DriverResponseTimeout, "DRIVER_RESPONSE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.PingInterval, "PING_INTERVAL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.SearchRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("SEARCH_RADIUS_KM must be > 0"))
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
