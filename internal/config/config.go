// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config is the full runtime configuration, loaded from the environment
// (optionally seeded from a .env file).
type Config struct {
	ListenAddr    string
	DatabaseURL   string // empty = in-memory store (dev mode)
	RedisAddr     string // empty = no cache mirror
	RedisPassword string
	JWTSecret     string
	Production    bool

	// External ledger network.
	HouseAddress   string
	ChainEndpoints []string

	// Verification.
	VerifyMaxAttempts int
	VerifyRetryDelay  time.Duration
	AmountTolerance   int64
	AllowProvisional  bool // forced off in production

	// Reconciliation.
	ReconcileInterval time.Duration
	ReconcileMaxAge   time.Duration
}

// Load reads the environment. A missing .env file is not an error.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file; using process environment")
	}

	cfg := &Config{
		ListenAddr:        env("LISTEN_ADDR", ":8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		JWTSecret:         env("JWT_SECRET", "dev-secret-do-not-use"),
		Production:        envBool("PRODUCTION", false),
		HouseAddress:      os.Getenv("HOUSE_ADDRESS"),
		ChainEndpoints:    splitList(os.Getenv("CHAIN_ENDPOINTS")),
		VerifyMaxAttempts: envInt("VERIFY_MAX_ATTEMPTS", 3),
		VerifyRetryDelay:  envDuration("VERIFY_RETRY_DELAY", 2*time.Second),
		AmountTolerance:   int64(envInt("AMOUNT_TOLERANCE", 1)),
		AllowProvisional:  envBool("ALLOW_PROVISIONAL", false),
		ReconcileInterval: envDuration("RECONCILE_INTERVAL", 30*time.Second),
		ReconcileMaxAge:   envDuration("RECONCILE_MAX_AGE", 30*time.Minute),
	}

	// Provisional acceptance is a development convenience only.
	if cfg.Production {
		cfg.AllowProvisional = false
	}
	return cfg
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		logrus.WithField("key", key).Warn("ignoring non-integer env value")
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logrus.WithField("key", key).Warn("ignoring unparsable duration env value")
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
