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

// Config holds the bid-service settings read from the environment.
type Config struct {
	DatabaseURL string
	RabbitMQURL string
	RedisURL    string
	HTTPAddr    string
	// MetricsAddr serves /metrics for the standalone worker
	MetricsAddr string

	JWTPublicKey []byte
	JWTIssuer    string

	LockTimeout  time.Duration
	StoreTimeout time.Duration

	RelayBatchSize int
	RelayInterval  time.Duration
	// EmbeddedRelay runs the outbox relay inside the API process
	EmbeddedRelay bool

	StandingCacheTTL time.Duration

	// BidRateLimit is placements per second per bidder, 0 disables limiting
	BidRateLimit float64
	BidRateBurst int
}

// Load reads .env.local and .env (local overrides .env) and then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		DatabaseURL:      os.Getenv("BID_DB_URL"),
		RabbitMQURL:      os.Getenv("RABBITMQ_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:      getEnv("METRICS_ADDR", ":9091"),
		JWTIssuer:        getEnv("JWT_ISSUER", "bidledger-auth"),
		LockTimeout:      p.duration("LOCK_TIMEOUT", 3*time.Second),
		StoreTimeout:     p.duration("STORE_TIMEOUT", 5*time.Second),
		RelayBatchSize:   p.integer("RELAY_BATCH_SIZE", 10),
		RelayInterval:    p.duration("RELAY_INTERVAL", time.Second),
		EmbeddedRelay:    p.boolean("EMBEDDED_RELAY", true),
		StandingCacheTTL: p.duration("STANDING_CACHE_TTL", 10*time.Minute),
		BidRateLimit:     p.float("BID_RATE_LIMIT", 5),
		BidRateBurst:     p.integer("BID_RATE_BURST", 10),
	}

	if cfg.DatabaseURL == "" {
		p.errs = append(p.errs, errors.New("BID_DB_URL is not set"))
	}
	if cfg.RabbitMQURL == "" {
		p.errs = append(p.errs, errors.New("RABBITMQ_URL is not set"))
	}
	if cfg.RelayBatchSize <= 0 {
		p.errs = append(p.errs, fmt.Errorf("RELAY_BATCH_SIZE must be positive, got %d", cfg.RelayBatchSize))
	}

	key, err := publicKey()
	if err != nil {
		p.errs = append(p.errs, err)
	}
	cfg.JWTPublicKey = key

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// publicKey prefers the inline PEM over the file path.
func publicKey() ([]byte, error) {
	if pem := os.Getenv("JWT_PUBLIC_KEY"); pem != "" {
		// env files usually carry the PEM on one line with escaped newlines
		return []byte(strings.ReplaceAll(pem, `\n`, "\n")), nil
	}
	path := os.Getenv("JWT_PUBLIC_KEY_FILE")
	if path == "" {
		return nil, nil
	}
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWT_PUBLIC_KEY_FILE: %w", err)
	}
	return key, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

type parser struct {
	errs []error
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}

func (p *parser) integer(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) float(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return f
}

func (p *parser) boolean(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return b
}
