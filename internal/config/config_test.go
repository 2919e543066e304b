package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_MissingJWTSecretIsFatal(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load("")
	if !errors.Is(err, ErrMissingJWTSecret) {
		t.Fatalf("Load() error = %v, want ErrMissingJWTSecret", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	auth, ok := cfg.Tier("auth")
	if !ok {
		t.Fatal("Expected auth tier to be defined")
	}
	if auth.Window != 15*time.Minute {
		t.Errorf("Expected auth window 15m, got %v", auth.Window)
	}
	if cfg.Security.BlockThreshold != 50 {
		t.Errorf("Expected block threshold 50, got %d", cfg.Security.BlockThreshold)
	}
	if cfg.Retention.LoginAttempts != 90*24*time.Hour {
		t.Errorf("Expected 90 day login attempt retention, got %v", cfg.Retention.LoginAttempts)
	}
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", "9090")

	path := writeConfig(t, `
server:
  port: "7070"
  environment: production
rate_limit:
  backend: memory
  default_tier: api
  tiers:
    - name: api
      limit: 50
      window: 30s
    - name: auth
      limit: 2
      window: 10m
  routes:
    - prefix: /api/v1/auth
      tier: auth
security:
  window: 1h
  ip_medium_threshold: 10
  ip_high_threshold: 20
  email_medium_threshold: 5
  email_high_threshold: 10
  sweep_interval: 5m
  block_threshold: 40
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Expected env PORT to win, got %s", cfg.Server.Port)
	}
	if !cfg.IsProduction() {
		t.Error("Expected production environment from YAML")
	}
	api, _ := cfg.Tier("api")
	if api.Limit != 50 || api.Window != 30*time.Second {
		t.Errorf("Unexpected api tier: %+v", api)
	}
	if cfg.Security.SweepInterval != 5*time.Minute || cfg.Security.BlockThreshold != 40 {
		t.Errorf("Unexpected security config: %+v", cfg.Security)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults with secret",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "unknown route tier",
			mutate: func(c *Config) {
				c.RateLimit.Routes = append(c.RateLimit.Routes, models.RouteTier{Prefix: "/x", Tier: "missing"})
			},
			wantErr: true,
		},
		{
			name:    "redis backend without redis",
			mutate:  func(c *Config) { c.RateLimit.Backend = "redis" },
			wantErr: true,
		},
		{
			name:    "high threshold below medium",
			mutate:  func(c *Config) { c.Security.EmailHighThreshold = 2 },
			wantErr: true,
		},
		{
			name:    "unknown default tier",
			mutate:  func(c *Config) { c.RateLimit.DefaultTier = "nope" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.JWTSecret = "secret"
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
