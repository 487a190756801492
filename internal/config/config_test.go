package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.Gateway.Kind != GatewayOpenAI || cfg.SessionTTL != time.Hour {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.Memory.UseStore {
		t.Error("store memory should be on by default")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "writecoach.toml")
	content := `
port = "9000"
session_ttl = "30m"

[gateway]
kind = "grpc"
grpc_addr = "completion:50051"
request_timeout = "45s"

[memory]
use_store = false
file = "prefs.yaml"

[rate_limit]
requests = 3
window = "10s"

[conversation_log]
enabled = false
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9100")
	t.Setenv("SWEEP_INTERVAL", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "9100" {
		t.Errorf("env must override file, got port %s", cfg.Port)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.SweepInterval != 90*time.Second {
		t.Errorf("SweepInterval = %v", cfg.SweepInterval)
	}
	if cfg.Gateway.Kind != GatewayGRPC || cfg.Gateway.GRPCAddr != "completion:50051" || cfg.Gateway.RequestTimeout != 45*time.Second {
		t.Errorf("unexpected gateway config: %+v", cfg.Gateway)
	}
	if cfg.Memory.UseStore || cfg.Memory.File != "prefs.yaml" {
		t.Errorf("unexpected memory config: %+v", cfg.Memory)
	}
	if cfg.RateLimit.RequestsPerWindow != 3 || cfg.RateLimit.WindowDuration != 10*time.Second {
		t.Errorf("unexpected rate limit: %+v", cfg.RateLimit)
	}
	if cfg.ConversationLog.Enabled {
		t.Error("conversation log should be disabled by the file")
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown gateway", map[string]string{"GATEWAY_KIND": "carrier-pigeon"}, "GATEWAY_KIND"},
		{"grpc without address", map[string]string{"GATEWAY_KIND": "grpc", "GATEWAY_GRPC_ADDR": ""}, "GATEWAY_GRPC_ADDR"},
		{"bad duration", map[string]string{"SESSION_TTL": "forever"}, "SESSION_TTL"},
		{"bad temperature", map[string]string{"LLM_TEMPERATURE": "warm"}, "LLM_TEMPERATURE"},
		{"empty port", map[string]string{"PORT": ""}, "PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestIsDevelopment(t *testing.T) {
	t.Setenv("APP_ENV", "")
	cfg := Default()
	if !cfg.IsDevelopment() {
		t.Error("empty frontend URL should be development")
	}
	cfg.FrontendURL = "https://coach.example.com"
	if cfg.IsDevelopment() {
		t.Error("public frontend URL should not be development")
	}
	t.Setenv("APP_ENV", "development")
	if !cfg.IsDevelopment() {
		t.Error("APP_ENV=development forces development mode")
	}
}
