// Package config builds runtime configuration from environment variables so
// main stays lean. Every knob has a development default; production deploys
// override via env.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level runtime configuration.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Callback CallbackConfig
	Scoring  ScoringConfig
	Reaper   ReaperConfig
	Ledger   LedgerConfig
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr          string
	JWTSigningKey string
	// VerifyBaseURL is the caller-facing page where a channel challenge is
	// completed; the external token is appended as the final path segment.
	VerifyBaseURL string
}

// PostgresConfig selects the durable session store. Empty DSN means the
// in-memory stores are used (development and tests).
type PostgresConfig struct {
	DSN string
}

// RedisConfig configures the optional callback replay cache.
// Empty URL disables it.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit event sink. Empty brokers means audit
// events stay on the in-process store only.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// CallbackConfig holds the shared-key contract with the external verifier.
type CallbackConfig struct {
	HMACKey string
	// ReplayCacheTTL bounds how long accepted callback outcomes stay in the
	// Redis fast path. The durable session record is authoritative beyond it.
	ReplayCacheTTL time.Duration
}

// ScoringConfig holds the composite score parameters.
type ScoringConfig struct {
	MintThreshold int
}

// ReaperConfig controls the expiry sweep.
type ReaperConfig struct {
	Interval  time.Duration
	BatchSize int
}

// LedgerConfig is the eligibility notification boundary.
type LedgerConfig struct {
	URL            string
	RequestTimeout time.Duration
	QueueSize      int
}

// FromEnv assembles the full configuration from environment variables.
func FromEnv() Config {
	return Config{
		Server: ServerConfig{
			Addr:          envStr("PROOFGATE_ADDR", ":8080"),
			JWTSigningKey: envStr("PROOFGATE_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			VerifyBaseURL: envStr("PROOFGATE_VERIFY_BASE_URL", "https://verify.proofgate.dev/v"),
		},
		Postgres: PostgresConfig{
			DSN: os.Getenv("PROOFGATE_POSTGRES_DSN"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("PROOFGATE_REDIS_URL"),
			PoolSize:     envInt("PROOFGATE_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("PROOFGATE_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("PROOFGATE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("PROOFGATE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("PROOFGATE_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: splitNonEmpty(os.Getenv("PROOFGATE_KAFKA_BROKERS")),
			Topic:   envStr("PROOFGATE_KAFKA_AUDIT_TOPIC", "proofgate.audit"),
		},
		Callback: CallbackConfig{
			HMACKey:        envStr("PROOFGATE_CALLBACK_HMAC_KEY", "dev-callback-key"),
			ReplayCacheTTL: envDuration("PROOFGATE_REPLAY_CACHE_TTL", 24*time.Hour),
		},
		Scoring: ScoringConfig{
			MintThreshold: envInt("PROOFGATE_MINT_THRESHOLD", 100),
		},
		Reaper: ReaperConfig{
			Interval:  envDuration("PROOFGATE_REAPER_INTERVAL", time.Minute),
			BatchSize: envInt("PROOFGATE_REAPER_BATCH_SIZE", 100),
		},
		Ledger: LedgerConfig{
			URL:            os.Getenv("PROOFGATE_LEDGER_URL"),
			RequestTimeout: envDuration("PROOFGATE_LEDGER_TIMEOUT", 5*time.Second),
			QueueSize:      envInt("PROOFGATE_LEDGER_QUEUE_SIZE", 256),
		},
	}
}

func envStr(key, fallback string) string {
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
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
