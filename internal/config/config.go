// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/entitlements"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/ratelimit"
)

// Store backends.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config holds all configuration for the entitlement service.
type Config struct {
	BindAddress string
	Port        int
	LogLevel    string
	LogFormat   string

	StripeSecretKey     string
	StripeWebhookSecret string
	Prices              entitlements.PriceIDs
	ProviderTimeout     time.Duration

	// ActivationSecret signs credentials. It is never empty after Load.
	ActivationSecret           string
	AllowBillingSecretFallback bool
	BillingSecretFallbackUsed  bool

	AllowedOrigin string
	// TrustedProxies may report the client address via X-Forwarded-For.
	TrustedProxies ratelimit.TrustedProxies

	StoreBackend   string
	RedisURL       string
	RedisKeyPrefix string
	SQLitePath     string

	GiftRateLimit        int
	GiftRateWindow       time.Duration
	LegacyGiftCodeHashes []string
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// Load loads configuration from environment variables.
// A .env file is loaded if present but not required.
func Load() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("PORT", 8080)
	if err != nil {
		return nil, err
	}
	giftLimit, err := envOrDefaultInt("GIFT_RATE_LIMIT", 5)
	if err != nil {
		return nil, err
	}
	giftWindow, err := envOrDefaultDuration("GIFT_RATE_WINDOW", 60*time.Second)
	if err != nil {
		return nil, err
	}
	providerTimeout, err := envOrDefaultDuration("PROVIDER_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	allowFallback, err := envOrDefaultBool("ALLOW_BILLING_SECRET_FALLBACK", false)
	if err != nil {
		return nil, err
	}
	trustedProxies, err := ratelimit.ParseTrustedProxies(splitList(os.Getenv("TRUSTED_PROXIES")))
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	cfg := &Config{
		BindAddress:         envOrDefault("BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		LogLevel:            envOrDefault("LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("LOG_FORMAT", "auto"),
		StripeSecretKey:     strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		Prices: entitlements.PriceIDs{
			Monthly:  strings.TrimSpace(os.Getenv("STRIPE_PRICE_MONTHLY")),
			Lifetime: strings.TrimSpace(os.Getenv("STRIPE_PRICE_LIFETIME")),
		},
		ProviderTimeout:            providerTimeout,
		ActivationSecret:           strings.TrimSpace(os.Getenv("ACTIVATION_SECRET")),
		AllowBillingSecretFallback: allowFallback,
		AllowedOrigin:              strings.TrimSpace(os.Getenv("ALLOWED_ORIGIN")),
		TrustedProxies:             trustedProxies,
		StoreBackend:               strings.ToLower(envOrDefault("STORE_BACKEND", BackendRedis)),
		RedisURL:                   envOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		RedisKeyPrefix:             envOrDefault("REDIS_KEY_PREFIX", "entitlements:"),
		SQLitePath:                 envOrDefault("SQLITE_PATH", "./data/entitlements.db"),
		GiftRateLimit:              giftLimit,
		GiftRateWindow:             giftWindow,
		LegacyGiftCodeHashes:       splitList(os.Getenv("LEGACY_GIFT_CODE_HASHES")),
	}

	if cfg.ActivationSecret == "" && cfg.AllowBillingSecretFallback && cfg.StripeSecretKey != "" {
		cfg.ActivationSecret = cfg.StripeSecretKey
		cfg.BillingSecretFallbackUsed = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadStore loads only the store settings, for administrative commands that
// never talk to the billing provider.
func LoadStore() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		StoreBackend:   strings.ToLower(envOrDefault("STORE_BACKEND", BackendRedis)),
		RedisURL:       envOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		RedisKeyPrefix: envOrDefault("REDIS_KEY_PREFIX", "entitlements:"),
		SQLitePath:     envOrDefault("SQLITE_PATH", "./data/entitlements.db"),
	}
	if err := validateBackend(cfg.StoreBackend); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.StripeSecretKey == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.Prices.Monthly == "" {
		missing = append(missing, "STRIPE_PRICE_MONTHLY")
	}
	if c.Prices.Lifetime == "" {
		missing = append(missing, "STRIPE_PRICE_LIFETIME")
	}
	if c.ActivationSecret == "" {
		missing = append(missing, "ACTIVATION_SECRET")
	}
	if c.AllowedOrigin == "" {
		missing = append(missing, "ALLOWED_ORIGIN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.Prices.Monthly == c.Prices.Lifetime {
		return fmt.Errorf("STRIPE_PRICE_MONTHLY and STRIPE_PRICE_LIFETIME must differ")
	}
	if err := validateBackend(c.StoreBackend); err != nil {
		return err
	}
	if c.GiftRateLimit <= 0 {
		return fmt.Errorf("GIFT_RATE_LIMIT must be greater than 0, got %d", c.GiftRateLimit)
	}
	if c.GiftRateWindow <= 0 {
		return fmt.Errorf("GIFT_RATE_WINDOW must be greater than 0, got %s", c.GiftRateWindow)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be greater than 0, got %s", c.ProviderTimeout)
	}
	return nil
}

func validateBackend(backend string) error {
	switch backend {
	case BackendRedis, BackendSQLite, BackendMemory:
		return nil
	default:
		return fmt.Errorf("STORE_BACKEND must be one of redis, sqlite, memory, got %q", backend)
	}
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}

func envOrDefaultBool(key string, fallback bool) (bool, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("%s must be a boolean: %w", key, err)
		}
		return b, nil
	}
	return fallback, nil
}

// envOrDefaultDuration accepts Go durations ("90s") or a bare number of seconds.
func envOrDefaultDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
