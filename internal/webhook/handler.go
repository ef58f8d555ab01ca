// Package webhook ingests Stripe change events into the entitlement cache.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	stripelib "github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/billing"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/cache"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/entitlements"
	internalerrors "github.com/mjj2333/escortcrm-pwa-sub001/internal/errors"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/logging"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/metrics"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// Handler handles incoming Stripe webhook events.
type Handler struct {
	secret   string
	cache    *cache.Cache
	provider billing.Provider
	prices   entitlements.PriceIDs
}

type errorResponse struct {
	Error string `json:"error"`
}

type receivedResponse struct {
	Received bool `json:"received"`
}

// NewHandler creates a Stripe webhook HTTP handler.
func NewHandler(secret string, c *cache.Cache, provider billing.Provider, prices entitlements.PriceIDs) *Handler {
	return &Handler{
		secret:   secret,
		cache:    c,
		provider: provider,
		prices:   prices,
	}
}

// ServeHTTP verifies the Stripe signature and dispatches the event.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		metrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		status = http.StatusServiceUnavailable
		writeJSON(w, status, errorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, errorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		writeJSON(w, status, errorResponse{Error: "missing Stripe signature"})
		return
	}

	event, err := stripewebhook.ConstructEventWithOptions(payload, sigHeader, h.secret, stripewebhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn().
			Err(internalerrors.Authenticity("webhook.verify_signature", err)).
			Msg("Rejected Stripe webhook with invalid signature")
		status = http.StatusBadRequest
		writeJSON(w, status, errorResponse{Error: "invalid Stripe signature"})
		return
	}
	eventType = string(event.Type)

	ctx := logging.WithLogger(r.Context(), logging.FromContext(r.Context()).With().
		Str("event_id", event.ID).
		Str("type", eventType).
		Logger())
	if err := h.handleEvent(ctx, &event); err != nil {
		logging.FromContext(ctx).Error().Err(err).Msg("Stripe webhook processing failed")
		status = http.StatusInternalServerError
		writeJSON(w, status, errorResponse{Error: "processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, receivedResponse{Received: true})
}

func (h *Handler) handleEvent(ctx context.Context, event *stripelib.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		return h.handleCheckoutCompleted(ctx, session)

	case "customer.subscription.created", "customer.subscription.updated":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.handleSubscriptionChanged(ctx, sub)

	case "customer.subscription.deleted":
		var sub Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return h.revokeSubscription(ctx, sub)

	default:
		logging.FromContext(ctx).Info().Msg("Stripe webhook ignored (unhandled type)")
		return nil
	}
}

func (h *Handler) handleCheckoutCompleted(ctx context.Context, session CheckoutSession) error {
	logger := logging.FromContext(ctx).With().Str("session_id", session.ID).Logger()
	if strings.EqualFold(session.PaymentStatus, "unpaid") {
		logger.Info().Msg("Checkout completed without payment, waiting for a later event")
		return nil
	}

	prices := session.PriceIDs()
	if len(prices) == 0 && session.ID != "" {
		fetched, err := h.provider.CheckoutSessionPrices(ctx, session.ID)
		if err != nil {
			return fmt.Errorf("fetch checkout line items: %w", err)
		}
		prices = fetched
	}
	plan, ok := entitlements.ResolvePlan(prices, h.prices)
	if !ok {
		logger.Info().Strs("prices", prices).Msg("Checkout is not for a known plan")
		return nil
	}

	customerID := strings.TrimSpace(session.Customer)
	id, err := h.identifierFor(ctx, customerID, session.CustomerEmail, session.CustomerDetails.Email)
	if err != nil {
		return err
	}
	if id == "" {
		logger.Warn().Str("customer_id", customerID).Msg("Checkout has no resolvable email, skipping")
		return nil
	}
	return h.activate(ctx, id, plan, customerID, &logger)
}

func (h *Handler) handleSubscriptionChanged(ctx context.Context, sub Subscription) error {
	switch entitlements.ActionForSubscriptionStatus(sub.Status) {
	case entitlements.SubscriptionActivate:
		logger := logging.FromContext(ctx).With().Str("subscription_id", sub.ID).Logger()
		plan, ok := entitlements.ResolvePlan(sub.PriceIDs(), h.prices)
		if !ok {
			logger.Info().Msg("Subscription is not for a known plan")
			return nil
		}
		customerID := strings.TrimSpace(sub.Customer)
		id, err := h.identifierFor(ctx, customerID)
		if err != nil {
			return err
		}
		if id == "" {
			logger.Warn().Str("customer_id", customerID).Msg("Subscription customer has no resolvable email, skipping")
			return nil
		}
		return h.activate(ctx, id, plan, customerID, &logger)

	case entitlements.SubscriptionRevoke:
		return h.revokeSubscription(ctx, sub)

	default:
		logging.FromContext(ctx).Info().Str("status", sub.Status).Msg("Subscription status does not change entitlement")
		return nil
	}
}

func (h *Handler) revokeSubscription(ctx context.Context, sub Subscription) error {
	logger := logging.FromContext(ctx).With().Str("subscription_id", sub.ID).Logger()

	// A subscription for some other product must not revoke ours.
	if prices := sub.PriceIDs(); len(prices) > 0 {
		if _, ok := entitlements.ResolvePlan(prices, h.prices); !ok {
			logger.Info().Msg("Subscription is not for a known plan")
			return nil
		}
	}

	customerID := strings.TrimSpace(sub.Customer)
	id, err := h.identifierFor(ctx, customerID)
	if err != nil {
		return err
	}
	if id == "" {
		logger.Info().Str("customer_id", customerID).Msg("No identifier for revoked subscription, nothing to revoke")
		return nil
	}

	rec, changed, err := h.cache.Revoke(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case changed:
		logger.Info().Str("identifier", id).Msg("Entitlement revoked")
	case rec.IsLifetime():
		logger.Info().Str("identifier", id).Msg("Lifetime entitlement kept despite subscription revocation")
	}
	return nil
}

func (h *Handler) activate(ctx context.Context, id string, plan entitlements.Plan, customerID string, logger *zerolog.Logger) error {
	rec, err := h.cache.Activate(ctx, id, plan, entitlements.Meta{CustomerID: customerID, Source: "webhook", Explicit: true})
	if err != nil {
		return err
	}
	if err := h.cache.IndexCustomer(ctx, customerID, id); err != nil {
		return err
	}
	logger.Info().Str("identifier", id).Str("plan", string(rec.Plan)).Msg("Entitlement activated")
	return nil
}

// identifierFor picks the first non-empty email candidate, then the customer
// index, then the provider's customer record. An empty result with a nil
// error means there is nobody to attribute the event to.
func (h *Handler) identifierFor(ctx context.Context, customerID string, emails ...string) (string, error) {
	for _, email := range emails {
		if id := entitlements.NormalizeIdentifier(email); id != "" {
			return id, nil
		}
	}
	if !IsSafeStripeID(customerID) {
		return "", nil
	}

	id, found, err := h.cache.CustomerIdentifier(ctx, customerID)
	if err == nil && found {
		return id, nil
	}
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("customer_id", customerID).Msg("Customer index unavailable, asking billing provider")
	}

	email, perr := h.provider.CustomerEmail(ctx, customerID)
	if perr != nil {
		return "", errors.Join(err, perr)
	}
	return entitlements.NormalizeIdentifier(email), nil
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(context.Background()).Error().Err(err).Int("status", status).Msg("Failed to encode webhook response")
	}
}
