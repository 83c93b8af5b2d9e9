package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultBreaker() BreakerServiceConfig {
	return BreakerServiceConfig{
		MaxRequests:         3,
		Interval:            Duration{Duration: 60 * time.Second},
		Timeout:             Duration{Duration: 30 * time.Second},
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 90 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Razorpay: RazorpayConfig{
			BaseURL:     "https://api.razorpay.com/v1",
			Timeout:     Duration{Duration: 10 * time.Second},
			CompanyName: "LucidLens",
			Description: "Unlock Dream Visualization",
		},
		Entitlements: EntitlementConfig{
			Backend:           "firestore",
			Collection:        "users",
			PostgresTable:     "user_entitlements",
			MongoDBDatabase:   "lucidlens",
			MongoDBCollection: "users",
			QueryTimeout:      Duration{Duration: 5 * time.Second},
		},
		Idempotency: IdempotencyConfig{
			Backend:   "memory",
			KeyPrefix: "lucidlens:idem:",
			TTL:       Duration{Duration: 24 * time.Hour},
		},
		Callbacks: CallbacksConfig{
			Headers: make(map[string]string),
			Timeout: Duration{Duration: 3 * time.Second},
			Retry: RetryConfig{
				Enabled:         true,
				MaxAttempts:     5,
				InitialInterval: Duration{Duration: 1 * time.Second},
				MaxInterval:     Duration{Duration: 5 * time.Minute},
				Multiplier:      2.0,
			},
		},
		RateLimit: RateLimitConfig{
			// Generous limits - designed to prevent spam, not restrict legitimate use
			GlobalEnabled:  true,
			GlobalLimit:    1000,
			GlobalWindow:   Duration{Duration: 1 * time.Minute},
			PerUserEnabled: true,
			PerUserLimit:   30,
			PerUserWindow:  Duration{Duration: 1 * time.Minute},
			PerIPEnabled:   true,
			PerIPLimit:     120,
			PerIPWindow:    Duration{Duration: 1 * time.Minute},
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:    true,
			Gateway:    defaultBreaker(),
			TextModel:  defaultBreaker(),
			ImageModel: defaultBreaker(),
			Webhook: BreakerServiceConfig{
				MaxRequests:         5,
				Interval:            Duration{Duration: 60 * time.Second},
				Timeout:             Duration{Duration: 60 * time.Second}, // Longer timeout for webhooks
				ConsecutiveFailures: 10,                                   // More tolerant for webhooks
				FailureRatio:        0.7,
				MinRequests:         20,
			},
		},
		Dreams: DreamsConfig{
			AppID:         "lucidlens",
			Repository:    "firestore",
			GeminiModel:   "gemini-2.0-flash",
			ImageModelURL: "https://api-inference.huggingface.co/models/stabilityai/stable-diffusion-xl-base-1.0",
			ImageCount:    1,
			Style:         "surreal, ethereal, dreamlike",
			BlobDir:       "./data/dream-images",
			Timeout:       Duration{Duration: 60 * time.Second},
		},
	}
}

// parseFile reads and unmarshals a YAML configuration file.
func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
