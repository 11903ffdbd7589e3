// Package config loads service configuration from FINTRACK_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the API server needs at startup.
type Config struct {
	Addr            string
	PostgresDSN     string
	KafkaBrokers    []string
	KafkaTopic      string
	RateLimitPerSec int
	RateLimitBurst  int
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
	TokenTTL        time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is merged in first when present; real environment
// variables win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:            getString("FINTRACK_ADDR", ":8080"),
		PostgresDSN:     os.Getenv("FINTRACK_PG_DSN"),
		KafkaTopic:      getString("FINTRACK_KAFKA_TOPIC", "ledger.transactions"),
		RateLimitPerSec: 25,
		RateLimitBurst:  50,
		MaxBodyBytes:    1 << 20,
		ShutdownTimeout: 10 * time.Second,
		TokenTTL:        12 * time.Hour,
	}

	if brokers := strings.TrimSpace(os.Getenv("FINTRACK_KAFKA_BROKERS")); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.RateLimitPerSec, err = getInt("FINTRACK_RATE_PER_SEC", cfg.RateLimitPerSec); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitBurst, err = getInt("FINTRACK_RATE_BURST", cfg.RateLimitBurst); err != nil {
		return Config{}, err
	}
	if cfg.TokenTTL, err = getDuration("FINTRACK_TOKEN_TTL", cfg.TokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = getDuration("FINTRACK_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return v, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return v, nil
}
