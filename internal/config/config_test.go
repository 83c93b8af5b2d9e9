package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv()
	defer clearEnv()

	// Gateway credentials are mandatory, so an empty environment must fail.
	cfg, err := Load("")
	if err == nil {
		t.Fatal("expected error when required fields are missing, got nil")
	}
	if cfg != nil {
		t.Fatal("expected nil config when validation fails")
	}
}

func TestLoadConfig_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr string
	}{
		{
			name: "missing key id",
			envVars: map[string]string{
				"LUCIDLENS_RAZORPAY_KEY_SECRET": "testsecret",
			},
			wantErr: "razorpay.key_id is required",
		},
		{
			name: "missing key secret",
			envVars: map[string]string{
				"LUCIDLENS_RAZORPAY_KEY_ID": "rzp_test_123",
			},
			wantErr: "razorpay.key_secret is required",
		},
		{
			name: "postgres backend without url",
			envVars: map[string]string{
				"LUCIDLENS_RAZORPAY_KEY_ID":      "rzp_test_123",
				"LUCIDLENS_RAZORPAY_KEY_SECRET":  "testsecret",
				"LUCIDLENS_ENTITLEMENTS_BACKEND": "postgres",
			},
			wantErr: "entitlements.postgres_url is required",
		},
		{
			name: "unknown entitlement backend",
			envVars: map[string]string{
				"LUCIDLENS_RAZORPAY_KEY_ID":      "rzp_test_123",
				"LUCIDLENS_RAZORPAY_KEY_SECRET":  "testsecret",
				"LUCIDLENS_ENTITLEMENTS_BACKEND": "dynamo",
			},
			wantErr: "entitlements.backend \"dynamo\" is not supported",
		},
		{
			name: "redis idempotency without url",
			envVars: map[string]string{
				"LUCIDLENS_RAZORPAY_KEY_ID":     "rzp_test_123",
				"LUCIDLENS_RAZORPAY_KEY_SECRET": "testsecret",
				"LUCIDLENS_IDEMPOTENCY_BACKEND": "redis",
			},
			wantErr: "idempotency.redis_url is required",
		},
		{
			name: "dreams enabled without model keys",
			envVars: map[string]string{
				"LUCIDLENS_RAZORPAY_KEY_ID":     "rzp_test_123",
				"LUCIDLENS_RAZORPAY_KEY_SECRET": "testsecret",
				"LUCIDLENS_DREAMS_ENABLED":      "true",
			},
			wantErr: "dreams.gemini_api_key is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}
			defer clearEnv()

			_, err := Load("")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestLoadConfig_ValidMinimal(t *testing.T) {
	clearEnv()
	os.Setenv("LUCIDLENS_RAZORPAY_KEY_ID", "rzp_test_123")
	os.Setenv("LUCIDLENS_RAZORPAY_KEY_SECRET", "testsecret")
	defer clearEnv()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected no error with valid config, got: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Errorf("expected default address :8080, got %s", cfg.Server.Address)
	}
	if cfg.Entitlements.Backend != "firestore" {
		t.Errorf("expected default backend firestore, got %s", cfg.Entitlements.Backend)
	}
	if cfg.Entitlements.Collection != "users" {
		t.Errorf("expected default collection users, got %s", cfg.Entitlements.Collection)
	}
	if cfg.Razorpay.BaseURL != "https://api.razorpay.com/v1" {
		t.Errorf("unexpected razorpay base url %s", cfg.Razorpay.BaseURL)
	}
	if cfg.Logging.Environment != "production" {
		t.Errorf("expected production environment by default, got %s", cfg.Logging.Environment)
	}
	if cfg.Dreams.GeminiModel != "gemini-2.0-flash" {
		t.Errorf("unexpected gemini model %s", cfg.Dreams.GeminiModel)
	}
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	clearEnv()
	defer clearEnv()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
server:
  address: ":9090"
  route_prefix: /lucid
  callable_enabled: true
razorpay:
  key_id: rzp_test_yaml
  key_secret: yamlsecret
  timeout: 7
entitlements:
  backend: memory
idempotency:
  ttl: 1h
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	// Environment wins over the file.
	os.Setenv("LUCIDLENS_SERVER_ADDRESS", ":7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":7070" {
		t.Errorf("expected env override :7070, got %s", cfg.Server.Address)
	}
	if !cfg.Server.CallableEnabled {
		t.Error("expected callable transport enabled from yaml")
	}
	if cfg.Razorpay.KeyID != "rzp_test_yaml" {
		t.Errorf("unexpected key id %s", cfg.Razorpay.KeyID)
	}
	if cfg.Razorpay.Timeout.Duration != 7*time.Second {
		t.Errorf("expected bare number to parse as seconds, got %v", cfg.Razorpay.Timeout.Duration)
	}
	if cfg.Idempotency.TTL.Duration != time.Hour {
		t.Errorf("expected 1h idempotency ttl, got %v", cfg.Idempotency.TTL.Duration)
	}
	if cfg.Entitlements.Backend != "memory" {
		t.Errorf("expected memory backend, got %s", cfg.Entitlements.Backend)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	clearEnv()
	defer clearEnv()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "open config file") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestNormalizeRoutePrefix(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{"  /api/  ", "/api"},
		{"lucid-lens", "/lucid-lens"},
		{"/v1/lucid", "/v1/lucid"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := normalizeRoutePrefix(tt.input)
			if got != tt.want {
				t.Errorf("normalizeRoutePrefix(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNeedsFirestore(t *testing.T) {
	tests := []struct {
		name         string
		backend      string
		dreams       bool
		repository   string
		entitlements bool
		want         bool
	}{
		{"postgres without dreams", "postgres", false, "firestore", false, false},
		{"postgres with firestore dreams", "postgres", true, "firestore", false, true},
		{"postgres with memory dreams", "postgres", true, "memory", false, false},
		{"firestore entitlements", "firestore", false, "memory", true, true},
		{"unset backend defaults to firestore", "", false, "memory", true, true},
		{"unset repository defaults to firestore", "memory", true, "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Entitlements.Backend = tt.backend
			cfg.Dreams.Enabled = tt.dreams
			cfg.Dreams.Repository = tt.repository

			if got := cfg.Entitlements.UsesFirestore(); got != tt.entitlements {
				t.Errorf("Entitlements.UsesFirestore() = %v, want %v", got, tt.entitlements)
			}
			if got := cfg.NeedsFirestore(); got != tt.want {
				t.Errorf("NeedsFirestore() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Test helpers

func clearEnv() {
	for _, env := range os.Environ() {
		key, _, _ := strings.Cut(env, "=")
		if strings.HasPrefix(key, "LUCIDLENS_") || strings.HasPrefix(key, "REACT_APP_") || key == "FIREBASE_SERVICE_ACCOUNT_KEY" {
			os.Unsetenv(key)
		}
	}
}
