package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REDEMPTION_TTL", "")
	t.Setenv("SWEEP_BATCH", "")
	t.Setenv("HTTP_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RedemptionTTL != 30*time.Minute {
		t.Errorf("expected 30m redemption ttl, got %v", cfg.RedemptionTTL)
	}
	if cfg.SweepBatch != 100 {
		t.Errorf("expected sweep batch 100, got %d", cfg.SweepBatch)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.HTTPAddr)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REDEMPTION_TTL", "5m")
	t.Setenv("SWEEP_BATCH", "7")
	t.Setenv("APPLY_RATE_LIMIT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RedemptionTTL != 5*time.Minute {
		t.Errorf("expected 5m, got %v", cfg.RedemptionTTL)
	}
	if cfg.SweepBatch != 7 {
		t.Errorf("expected 7, got %d", cfg.SweepBatch)
	}
	if cfg.ApplyRateLimit != 10 {
		t.Errorf("expected fallback 10, got %d", cfg.ApplyRateLimit)
	}
}
