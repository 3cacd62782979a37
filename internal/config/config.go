// Package config captures all tunable parameters for the dispatch
// process. Values are loaded from environment variables with sane
// defaults so the binary runs locally without any setup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BatchSize     int
	OfferTTL      time.Duration
	MaxRounds     int
	DriverStaleMs int64
	RetryInterval time.Duration
	QuickTestMode bool

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	StripeAPIKey string

	ETAMode         string // "", "naive", or "osrm"
	ETASpeedMps     float64
	ETAOSRMEndpoint string
	ETACacheTTL     time.Duration

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            10000,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,

		BatchSize:     3,
		OfferTTL:      12 * time.Second,
		MaxRounds:     3,
		DriverStaleMs: 30000,
		RetryInterval: 2 * time.Second,
		QuickTestMode: false,

		RedisGeoKey: "drivers_geo",
		KafkaTopic:  "driver-locations",

		ETASpeedMps: 8.0,
		ETACacheTTL: 30 * time.Second,

		LogLevel: "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setIntFromEnv(&cfg.Port, "PORT", &errs)
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setIntFromEnv(&cfg.BatchSize, "BATCH_SIZE", &errs)
	setDurationFromMillisEnv(&cfg.OfferTTL, "OFFER_TTL_MS", &errs)
	setIntFromEnv(&cfg.MaxRounds, "MAX_ROUNDS", &errs)
	setInt64FromEnv(&cfg.DriverStaleMs, "DRIVER_STALE_MS", &errs)
	cfg.QuickTestMode = strings.EqualFold(os.Getenv("QUICK_TEST_MODE"), "true") || os.Getenv("QUICK_TEST_MODE") == "1"

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")

	cfg.ETAMode = strings.ToLower(strings.TrimSpace(os.Getenv("ETA_MODE")))
	setFloatFromEnv(&cfg.ETASpeedMps, "ETA_SPEED_MPS", &errs)
	setStringFromEnv(&cfg.ETAOSRMEndpoint, "ETA_OSRM_ENDPOINT")
	setDurationFromMillisEnv(&cfg.ETACacheTTL, "ETA_CACHE_TTL_MS", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("BATCH_SIZE must be > 0"))
	}
	if cfg.MaxRounds <= 0 {
		errs = append(errs, fmt.Errorf("MAX_ROUNDS must be > 0"))
	}
	if cfg.ETAMode != "" && cfg.ETAMode != "naive" && cfg.ETAMode != "osrm" {
		errs = append(errs, fmt.Errorf("ETA_MODE must be %q, %q, or unset", "naive", "osrm"))
	}
	if cfg.ETAMode == "osrm" && cfg.ETAOSRMEndpoint == "" {
		errs = append(errs, fmt.Errorf("ETA_OSRM_ENDPOINT is required when ETA_MODE=osrm"))
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

func setDurationFromMillisEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = time.Duration(ms) * time.Millisecond
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

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
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
