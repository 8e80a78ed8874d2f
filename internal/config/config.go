// Package config resolves runtime configuration for the Signato API.
// Resolution order is defaults, then the YAML file, then environment
// overrides, so local runs work out of the box and deployments stay
// environment driven.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration.
type Config struct {
	ServiceID string
	HTTPAddr  string

	DatabaseURL string
	RedisURL    string

	KafkaBrokers []string

	DetectionURL string

	TwoFactorTokenTTL   time.Duration
	TwoFactorProofTTL   time.Duration
	TwoFactorMaxAttempt int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	RateLimitPerSecond int
	RateLimitBurst     int
}

// configFile mirrors the YAML schema. It is kept separate from Config so
// runtime-only fields never leak into the file format.
type configFile struct {
	Service struct {
		ID       string `yaml:"id"`
		HTTPAddr string `yaml:"http_addr"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL  string `yaml:"postgres_url"`
		RedisURL     string `yaml:"redis_url"`
		KafkaBrokers string `yaml:"kafka_brokers"`
		DetectionURL string `yaml:"detection_url"`
	} `yaml:"dependencies"`
	TwoFactor struct {
		TokenTTLSeconds int `yaml:"token_ttl_seconds"`
		ProofTTLSeconds int `yaml:"proof_ttl_seconds"`
		MaxAttempts     int `yaml:"max_attempts"`
	} `yaml:"two_factor"`
	Outbox struct {
		PollSeconds int `yaml:"poll_seconds"`
		BatchSize   int `yaml:"batch_size"`
	} `yaml:"outbox"`
	RateLimit struct {
		PerSecond int `yaml:"per_second"`
		Burst     int `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// Load resolves configuration from an optional file path. A missing file is
// not an error; env vars still apply on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Config{
		ServiceID:           "signato-api",
		HTTPAddr:            ":8080",
		TwoFactorTokenTTL:   10 * time.Minute,
		TwoFactorProofTTL:   5 * time.Minute,
		TwoFactorMaxAttempt: 3,
		OutboxPollInterval:  2 * time.Second,
		OutboxBatchSize:     100,
		RateLimitPerSecond:  50,
		RateLimitBurst:      100,
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err == nil {
			var f configFile
			if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
				return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
			}
			if f.Service.ID != "" {
				cfg.ServiceID = f.Service.ID
			}
			if f.Service.HTTPAddr != "" {
				cfg.HTTPAddr = f.Service.HTTPAddr
			}
			if f.Dependencies.PostgresURL != "" {
				cfg.DatabaseURL = f.Dependencies.PostgresURL
			}
			if f.Dependencies.RedisURL != "" {
				cfg.RedisURL = f.Dependencies.RedisURL
			}
			if f.Dependencies.KafkaBrokers != "" {
				cfg.KafkaBrokers = splitCSV(f.Dependencies.KafkaBrokers)
			}
			if f.Dependencies.DetectionURL != "" {
				cfg.DetectionURL = f.Dependencies.DetectionURL
			}
			if f.TwoFactor.TokenTTLSeconds > 0 {
				cfg.TwoFactorTokenTTL = time.Duration(f.TwoFactor.TokenTTLSeconds) * time.Second
			}
			if f.TwoFactor.ProofTTLSeconds > 0 {
				cfg.TwoFactorProofTTL = time.Duration(f.TwoFactor.ProofTTLSeconds) * time.Second
			}
			if f.TwoFactor.MaxAttempts > 0 {
				cfg.TwoFactorMaxAttempt = f.TwoFactor.MaxAttempts
			}
			if f.Outbox.PollSeconds > 0 {
				cfg.OutboxPollInterval = time.Duration(f.Outbox.PollSeconds) * time.Second
			}
			if f.Outbox.BatchSize > 0 {
				cfg.OutboxBatchSize = f.Outbox.BatchSize
			}
			if f.RateLimit.PerSecond > 0 {
				cfg.RateLimitPerSecond = f.RateLimit.PerSecond
			}
			if f.RateLimit.Burst > 0 {
				cfg.RateLimitBurst = f.RateLimit.Burst
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg.ServiceID = envOrDefault("SIGNATO_SERVICE_ID", cfg.ServiceID)
	cfg.HTTPAddr = envOrDefault("SIGNATO_HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseURL = envOrDefault("SIGNATO_PG_DSN", cfg.DatabaseURL)
	cfg.RedisURL = envOrDefault("SIGNATO_REDIS_URL", cfg.RedisURL)
	if raw := os.Getenv("SIGNATO_KAFKA_BROKERS"); raw != "" {
		cfg.KafkaBrokers = splitCSV(raw)
	}
	cfg.DetectionURL = envOrDefault("SIGNATO_DETECTION_URL", cfg.DetectionURL)
	cfg.TwoFactorTokenTTL = time.Duration(envInt("SIGNATO_2FA_TOKEN_TTL_SECONDS", int(cfg.TwoFactorTokenTTL.Seconds()))) * time.Second
	cfg.TwoFactorProofTTL = time.Duration(envInt("SIGNATO_2FA_PROOF_TTL_SECONDS", int(cfg.TwoFactorProofTTL.Seconds()))) * time.Second
	cfg.TwoFactorMaxAttempt = envInt("SIGNATO_2FA_MAX_ATTEMPTS", cfg.TwoFactorMaxAttempt)
	cfg.OutboxPollInterval = time.Duration(envInt("SIGNATO_OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("SIGNATO_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.RateLimitPerSecond = envInt("SIGNATO_RATE_LIMIT_PER_SECOND", cfg.RateLimitPerSecond)
	cfg.RateLimitBurst = envInt("SIGNATO_RATE_LIMIT_BURST", cfg.RateLimitBurst)

	if cfg.TwoFactorMaxAttempt < 1 {
		return Config{}, fmt.Errorf("two factor max attempts must be at least 1")
	}

	return cfg, nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
