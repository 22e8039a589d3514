package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the user-stats-service settings.
type Config struct {
	DatabaseURL string
	RabbitMQURL string
	Exchange    string
	HTTPAddr    string
	MetricsAddr string

	JWTPublicKey []byte
	JWTIssuer    string

	LockTimeout time.Duration
}

// Load reads .env.local and .env (local overrides .env) and then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() (*Config, error) {
	var errs []error
	cfg := &Config{
		DatabaseURL: os.Getenv("USER_STATS_DB_URL"),
		RabbitMQURL: os.Getenv("RABBITMQ_URL"),
		Exchange:    getEnv("EVENTS_EXCHANGE", "auction.events"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":8081"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9092"),
		JWTIssuer:   getEnv("JWT_ISSUER", "bidledger-auth"),
		LockTimeout: 5 * time.Second,
	}

	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("USER_STATS_DB_URL is not set"))
	}
	if raw := os.Getenv("LOCK_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid LOCK_TIMEOUT: %w", err))
		} else {
			cfg.LockTimeout = d
		}
	}

	switch {
	case os.Getenv("JWT_PUBLIC_KEY") != "":
		cfg.JWTPublicKey = []byte(strings.ReplaceAll(os.Getenv("JWT_PUBLIC_KEY"), `\n`, "\n"))
	case os.Getenv("JWT_PUBLIC_KEY_FILE") != "":
		key, err := os.ReadFile(os.Getenv("JWT_PUBLIC_KEY_FILE"))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to read JWT_PUBLIC_KEY_FILE: %w", err))
		}
		cfg.JWTPublicKey = key
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RequireAPI checks the settings only the API process needs.
func (c *Config) RequireAPI() error {
	if len(c.JWTPublicKey) == 0 {
		return errors.New("JWT_PUBLIC_KEY or JWT_PUBLIC_KEY_FILE must be set")
	}
	return nil
}

// RequireWorker checks the settings only the consumer process needs.
func (c *Config) RequireWorker() error {
	if c.RabbitMQURL == "" {
		return errors.New("RABBITMQ_URL is not set")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
