// Package server hosts the entitlement HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/billing"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/cache"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/config"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/credential"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/logging"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/ratelimit"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/store"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/store/memory"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/store/redisstore"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/store/sqlitestore"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/verify"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/webhook"
)

// logConfigWarnings reports settings that weaken the service's guarantees.
func logConfigWarnings(logger zerolog.Logger, cfg *config.Config) {
	if cfg.BillingSecretFallbackUsed {
		logger.Warn().Msg("ACTIVATION_SECRET not set, signing credentials with the Stripe secret key; set a dedicated secret")
	}
	if len(cfg.TrustedProxies) == 0 {
		logger.Info().Msg("No TRUSTED_PROXIES configured, rate limiting by peer address")
	}
}

// Run starts the entitlement HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "entitlementd",
	})
	log.Info().Str("version", version).Str("store", cfg.StoreBackend).Msg("Starting entitlement service")
	logConfigWarnings(log.Logger, cfg)

	st, limiter, err := OpenBackends(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	signer, err := credential.NewSigner(cfg.ActivationSecret)
	if err != nil {
		return fmt.Errorf("init signer: %w", err)
	}

	c := cache.New(st)
	provider := billing.NewStripeProvider(cfg.StripeSecretKey, cfg.Prices, cfg.ProviderTimeout, nil)
	svc := verify.New(c, provider, signer, verify.WithLegacyGiftHashes(cfg.LegacyGiftCodeHashes))

	handler := NewHandler(&Deps{
		AllowedOrigin:  cfg.AllowedOrigin,
		Service:        svc,
		Webhook:        webhook.NewHandler(cfg.StripeWebhookSecret, c, provider, cfg.Prices),
		GiftLimiter:    limiter,
		TrustedProxies: cfg.TrustedProxies,
		Store:          st,
	})

	addr := cfg.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Entitlement service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Entitlement service stopped")
	return nil
}

// OpenBackends opens the configured store and the gift-code limiter that
// goes with it. The Redis backend shares its client with a Redis limiter so
// limits hold across instances; other backends get an in-process limiter.
func OpenBackends(ctx context.Context, cfg *config.Config) (store.Store, ratelimit.Limiter, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		st, err := redisstore.Open(ctx, cfg.RedisURL, cfg.RedisKeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		return st, ratelimit.NewRedis(st.Client(), cfg.RedisKeyPrefix, cfg.GiftRateLimit, cfg.GiftRateWindow), nil
	case config.BackendSQLite:
		st, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, ratelimit.NewMemory(cfg.GiftRateLimit, cfg.GiftRateWindow), nil
	case config.BackendMemory:
		log.Warn().Msg("Using in-memory entitlement store; state is lost on restart")
		return memory.New(), ratelimit.NewMemory(cfg.GiftRateLimit, cfg.GiftRateWindow), nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
