package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Queue.Concurrency != 3 {
		t.Fatalf("default concurrency = %d, want 3", cfg.Queue.Concurrency)
	}
}

func TestLoadFileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"httpAddr":":9090","queue":{"concurrency":5,"maxAttempts":2,"backoffBase":100000000,"backoffCap":1000000000,"leaseDuration":10000000000,"sweepInterval":1000000000,"pollInterval":50000000}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("IBRAIN_QUEUE_CONCURRENCY", "7")
	t.Setenv("IBRAIN_CONVERSATION_IDLE_TTL", "5m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Fatalf("httpAddr = %q", cfg.HTTPAddr)
	}
	if cfg.Queue.Concurrency != 7 {
		t.Fatalf("env should win, concurrency = %d", cfg.Queue.Concurrency)
	}
	if cfg.Conversation.IdleTTL != 5*time.Minute {
		t.Fatalf("idleTTL = %v", cfg.Conversation.IdleTTL)
	}
}

func TestLoadRejectsBadFsyncMode(t *testing.T) {
	t.Setenv("IBRAIN_FSYNC_MODE", "sometimes")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected validation error")
	}
}
