package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/logging"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/ratelimit"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	AllowedOrigin  string
	Service        Verifier
	Webhook        http.Handler
	GiftLimiter    ratelimit.Limiter
	TrustedProxies ratelimit.TrustedProxies
	Store          Pinger
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("/readyz", handleReadyz(deps.Store))
	mux.Handle("/metrics", promhttp.Handler())

	mux.Handle("/verify", cors(deps.AllowedOrigin, handleVerify(deps.Service)))

	gift := http.Handler(handleGiftCode(deps.Service))
	if deps.GiftLimiter != nil {
		gift = ratelimit.Middleware(deps.GiftLimiter, "validate-gift-code", deps.TrustedProxies)(gift)
	}
	mux.Handle("/validate-gift-code", cors(deps.AllowedOrigin, gift))

	// Stripe webhook (signature-authenticated, server to server)
	mux.Handle("/billing-webhook", deps.Webhook)
}

// NewHandler returns the full middleware-wrapped HTTP handler.
func NewHandler(deps *Deps) http.Handler {
	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)
	return logging.Middleware(recoverPanics(securityHeaders(mux)))
}
