package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("http addr = %q", cfg.HTTPAddr)
	}
	if cfg.TwoFactorTokenTTL != 10*time.Minute {
		t.Fatalf("token ttl = %v", cfg.TwoFactorTokenTTL)
	}
	if cfg.TwoFactorMaxAttempt != 3 {
		t.Fatalf("max attempts = %d", cfg.TwoFactorMaxAttempt)
	}
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "signato.yaml")
	data := `
service:
  id: signato-staging
  http_addr: ":9000"
dependencies:
  postgres_url: postgres://file/db
  kafka_brokers: "kafka-1:9092, kafka-2:9092"
two_factor:
  token_ttl_seconds: 120
  max_attempts: 5
outbox:
  poll_seconds: 7
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	t.Setenv("SIGNATO_PG_DSN", "postgres://env/db")
	t.Setenv("SIGNATO_2FA_MAX_ATTEMPTS", "4")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceID != "signato-staging" {
		t.Fatalf("service id = %q", cfg.ServiceID)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Fatalf("http addr = %q", cfg.HTTPAddr)
	}
	if cfg.DatabaseURL != "postgres://env/db" {
		t.Fatalf("env override lost: %q", cfg.DatabaseURL)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
	if cfg.TwoFactorTokenTTL != 2*time.Minute {
		t.Fatalf("token ttl = %v", cfg.TwoFactorTokenTTL)
	}
	if cfg.TwoFactorMaxAttempt != 4 {
		t.Fatalf("env override lost, max attempts = %d", cfg.TwoFactorMaxAttempt)
	}
	if cfg.OutboxPollInterval != 7*time.Second {
		t.Fatalf("poll interval = %v", cfg.OutboxPollInterval)
	}
}

func TestLoadMissingFileIsFine(t *testing.T) {
	if _, err := Load("/nonexistent/signato.yaml"); err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("service: [unclosed"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
