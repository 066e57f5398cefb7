package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestValidateSettlementConfig(t *testing.T) {
	if err := validateSettlementConfig(DefaultSettlementConfig()); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}

	cfg := DefaultSettlementConfig()
	cfg.StorageTimeout = 0
	if err := validateSettlementConfig(cfg); err == nil {
		t.Fatalf("expected zero storage timeout to be rejected")
	}

	cfg = DefaultSettlementConfig()
	cfg.Retry.MaxBackoff = time.Second
	if err := validateSettlementConfig(cfg); err == nil {
		t.Fatalf("expected max backoff below base to be rejected")
	}

	cfg = DefaultSettlementConfig()
	cfg.Retry.MaxAttempts = 0
	if err := validateSettlementConfig(cfg); err == nil {
		t.Fatalf("expected zero max attempts to be rejected")
	}
}

func TestSettlementConfigHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte("settlement:\n  storageTimeout: 2s\n  leaseTTL: 1m\n  retry:\n    batchSize: 5\n")
	if err := os.WriteFile(filepath.Join(dir, "settlement.yml"), content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	holder, err := NewSettlementConfigHolder()
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}
	cfg := holder.Get()
	if cfg.StorageTimeout != 2*time.Second || cfg.LeaseTTL != time.Minute {
		t.Fatalf("unexpected timeouts: %+v", cfg)
	}
	if cfg.Retry.BatchSize != 5 {
		t.Fatalf("expected batch size 5, got %d", cfg.Retry.BatchSize)
	}
	if cfg.Retry.MaxBackoff != 10*time.Minute {
		t.Fatalf("expected default max backoff, got %s", cfg.Retry.MaxBackoff)
	}
}

func TestNilHolderFallsBackToDefaults(t *testing.T) {
	var holder *SettlementConfigHolder
	if holder.Get().LeaseTTL != DefaultSettlementConfig().LeaseTTL {
		t.Fatalf("expected defaults from nil holder")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("APP_ID", "shop-b")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("STRIPE_WEBHOOK_SECRET", " whsec_env ")

	cfg := Load()
	if cfg.AppID != "shop-b" || cfg.RedisDB != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Stripe.WebhookSecret != "whsec_env" {
		t.Fatalf("expected trimmed webhook secret, got %q", cfg.Stripe.WebhookSecret)
	}
}
