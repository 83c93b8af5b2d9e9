package config

import (
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// Most env vars use the LUCIDLENS_ prefix; the gateway and Firebase
// credentials also accept the names the web client deployment already uses.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "LUCIDLENS_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "LUCIDLENS_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "LUCIDLENS_ADMIN_METRICS_API_KEY")
	setBoolIfEnv(&c.Server.CallableEnabled, "LUCIDLENS_CALLABLE_ENABLED")
	if v := os.Getenv("LUCIDLENS_CORS_ALLOWED_ORIGINS"); v != "" {
		c.Server.CORSAllowedOrigins = splitList(v)
	}

	// Normalize route prefix: ensure it starts with / and doesn't end with /
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "LUCIDLENS_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "LUCIDLENS_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "LUCIDLENS_ENVIRONMENT")

	// Razorpay config
	setIfEnv(&c.Razorpay.KeyID, "REACT_APP_RAZORPAY_KEY_ID")
	setIfEnv(&c.Razorpay.KeySecret, "REACT_APP_RAZORPAY_KEY_SECRET")
	setIfEnv(&c.Razorpay.KeyID, "LUCIDLENS_RAZORPAY_KEY_ID")
	setIfEnv(&c.Razorpay.KeySecret, "LUCIDLENS_RAZORPAY_KEY_SECRET")
	setIfEnv(&c.Razorpay.BaseURL, "LUCIDLENS_RAZORPAY_BASE_URL")
	setDurationIfEnv(&c.Razorpay.Timeout, "LUCIDLENS_RAZORPAY_TIMEOUT")

	// Firebase config
	setIfEnv(&c.Firebase.ProjectID, "LUCIDLENS_FIREBASE_PROJECT_ID")
	setIfEnv(&c.Firebase.CredentialsFile, "LUCIDLENS_FIREBASE_CREDENTIALS_FILE")
	setIfEnv(&c.Firebase.CredentialsJSON, "FIREBASE_SERVICE_ACCOUNT_KEY")

	// Entitlement store config
	setIfEnv(&c.Entitlements.Backend, "LUCIDLENS_ENTITLEMENTS_BACKEND")
	setIfEnv(&c.Entitlements.Collection, "LUCIDLENS_ENTITLEMENTS_COLLECTION")
	setIfEnv(&c.Entitlements.PostgresURL, "LUCIDLENS_ENTITLEMENTS_POSTGRES_URL")
	setIfEnv(&c.Entitlements.PostgresTable, "LUCIDLENS_ENTITLEMENTS_POSTGRES_TABLE")
	setIfEnv(&c.Entitlements.MongoDBURL, "LUCIDLENS_ENTITLEMENTS_MONGODB_URL")
	setIfEnv(&c.Entitlements.MongoDBDatabase, "LUCIDLENS_ENTITLEMENTS_MONGODB_DATABASE")
	setIfEnv(&c.Entitlements.MongoDBCollection, "LUCIDLENS_ENTITLEMENTS_MONGODB_COLLECTION")
	setDurationIfEnv(&c.Entitlements.QueryTimeout, "LUCIDLENS_ENTITLEMENTS_QUERY_TIMEOUT")

	// Idempotency config
	setIfEnv(&c.Idempotency.Backend, "LUCIDLENS_IDEMPOTENCY_BACKEND")
	setIfEnv(&c.Idempotency.RedisURL, "LUCIDLENS_IDEMPOTENCY_REDIS_URL")
	setDurationIfEnv(&c.Idempotency.TTL, "LUCIDLENS_IDEMPOTENCY_TTL")

	// Callbacks config
	setIfEnv(&c.Callbacks.EntitlementGrantedURL, "LUCIDLENS_CALLBACK_ENTITLEMENT_GRANTED_URL")
	setDurationIfEnv(&c.Callbacks.Timeout, "LUCIDLENS_CALLBACK_TIMEOUT")
	// Load callback headers (LUCIDLENS_CALLBACK_HEADER_*)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "LUCIDLENS_CALLBACK_HEADER_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "LUCIDLENS_CALLBACK_HEADER_")
		if name == "" {
			continue
		}
		if c.Callbacks.Headers == nil {
			c.Callbacks.Headers = make(map[string]string)
		}
		headerName := textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))
		c.Callbacks.Headers[headerName] = parts[1]
	}

	// Circuit breaker config
	setBoolIfEnv(&c.CircuitBreaker.Enabled, "LUCIDLENS_CIRCUIT_BREAKER_ENABLED")

	// Dreams config
	setBoolIfEnv(&c.Dreams.Enabled, "LUCIDLENS_DREAMS_ENABLED")
	setIfEnv(&c.Dreams.AppID, "LUCIDLENS_DREAMS_APP_ID")
	setIfEnv(&c.Dreams.Repository, "LUCIDLENS_DREAMS_REPOSITORY")
	setIfEnv(&c.Dreams.GeminiAPIKey, "REACT_APP_GEMINI_API_KEY")
	setIfEnv(&c.Dreams.GeminiAPIKey, "LUCIDLENS_GEMINI_API_KEY")
	setIfEnv(&c.Dreams.GeminiModel, "LUCIDLENS_GEMINI_MODEL")
	setIfEnv(&c.Dreams.HuggingFaceAPIKey, "REACT_APP_HUGGINGFACE_API_KEY")
	setIfEnv(&c.Dreams.HuggingFaceAPIKey, "LUCIDLENS_HUGGINGFACE_API_KEY")
	setIfEnv(&c.Dreams.ImageModelURL, "LUCIDLENS_IMAGE_MODEL_URL")
	setIfEnv(&c.Dreams.BlobDir, "LUCIDLENS_DREAMS_BLOB_DIR")
	setIntIfEnv(&c.Dreams.ImageCount, "LUCIDLENS_DREAMS_IMAGE_COUNT")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api", "lucid" -> "/lucid"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}
