package config

import (
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.KeymasterLatencyMax != 10*time.Second {
		t.Errorf("KeymasterLatencyMax = %v", cfg.KeymasterLatencyMax)
	}
	if cfg.RekeyRetries != 4 {
		t.Errorf("RekeyRetries = %d", cfg.RekeyRetries)
	}
	if cfg.DispatcherWorkers != 4 || cfg.DispatcherQueue != 256 {
		t.Errorf("dispatcher defaults: %d/%d", cfg.DispatcherWorkers, cfg.DispatcherQueue)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("DATABASE_DSN", "postgres://localhost/talkmesh")
	t.Setenv("JWT_SECRET", "local-secret")
	t.Setenv("REKEY_BACKOFF", "50ms")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.RekeyBackoff != 50*time.Millisecond {
		t.Errorf("RekeyBackoff = %v", cfg.RekeyBackoff)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("want error for empty DSN")
	}
	cfg.DatabaseDSN = "postgres://localhost/talkmesh"
	if err := cfg.Validate(); err == nil {
		t.Fatal("want error for empty JWT secret")
	}
}
