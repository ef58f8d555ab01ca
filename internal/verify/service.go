// Package verify answers entitlement questions: verify an identifier,
// revalidate a presented credential, and redeem a gift code.
package verify

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/billing"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/cache"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/credential"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/entitlements"
	internalerrors "github.com/mjj2333/escortcrm-pwa-sub001/internal/errors"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/logging"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/metrics"
)

// Messages returned in the error field of a negative result.
const (
	MsgInvalidToken = "Invalid token"
	MsgUnknownPlan  = "Unknown plan"
)

// VerifyResult is the response to a verify request.
type VerifyResult struct {
	Valid bool   `json:"valid"`
	Plan  string `json:"plan,omitempty"`
	Token string `json:"token,omitempty"`
	Error string `json:"error,omitempty"`
}

// RevalidateResult is the response to a revalidate request.
type RevalidateResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// GiftResult is the response to a gift code redemption.
type GiftResult struct {
	Valid      bool       `json:"valid"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Token      string     `json:"token,omitempty"`
	Identifier string     `json:"identifier,omitempty"`
	Plan       string     `json:"plan,omitempty"`
}

// Service is the verification core. It holds no per-request state; the
// singleflight group only coalesces identical in-flight provider lookups.
type Service struct {
	cache    *cache.Cache
	provider billing.Provider
	signer   *credential.Signer
	legacy   map[string]struct{}
	group    singleflight.Group
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLegacyGiftHashes sets the fallback hashes consulted only when the
// gift code store cannot answer.
func WithLegacyGiftHashes(hashes []string) Option {
	return func(s *Service) {
		for _, h := range hashes {
			if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
				s.legacy[h] = struct{}{}
			}
		}
	}
}

// New builds a Service.
func New(c *cache.Cache, provider billing.Provider, signer *credential.Signer, opts ...Option) *Service {
	s := &Service{
		cache:    c,
		provider: provider,
		signer:   signer,
		legacy:   make(map[string]struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify resolves identifier via cache then provider and mints a credential
// for a resolved plan. A non-nil error is always retryable; a resolved
// negative is a Valid=false result.
func (s *Service) Verify(ctx context.Context, identifier string) (VerifyResult, error) {
	id := entitlements.NormalizeIdentifier(identifier)
	if id == "" {
		return VerifyResult{}, internalerrors.Input("verify", errors.New("email is required"))
	}
	logger := logging.FromContext(ctx).With().Str("identifier", id).Logger()

	lookup := s.cache.Lookup(ctx, id)
	switch lookup.Status {
	case cache.Hit:
		if lookup.Revoked() {
			metrics.VerifyTotal.WithLabelValues("revoked", "cache").Inc()
			return VerifyResult{Valid: false}, nil
		}
		metrics.VerifyTotal.WithLabelValues("valid", "cache").Inc()
		return s.mint(id, lookup.Record.Plan), nil
	case cache.Unavailable:
		logger.Warn().Err(lookup.Err).Msg("Entitlement cache unavailable, asking billing provider")
	}

	// Coalesced waiters share this lookup, so one caller going away must not
	// cancel it for the rest. The provider bounds it with its own timeout.
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(id, func() (interface{}, error) {
		return s.provider.Resolve(shared, id)
	})
	if err != nil {
		metrics.VerifyTotal.WithLabelValues("error", "provider").Inc()
		logger.Error().Err(err).Msg("Billing provider lookup failed")
		if internalerrors.KindOf(err) == internalerrors.KindUnexpected {
			return VerifyResult{}, internalerrors.Unexpected("verify", err)
		}
		return VerifyResult{}, internalerrors.Unavailable("verify", err)
	}
	res := v.(billing.Resolution)
	if !res.Found {
		metrics.VerifyTotal.WithLabelValues("invalid", "provider").Inc()
		return VerifyResult{Valid: false}, nil
	}

	plan := res.Plan
	rec, err := s.cache.Activate(ctx, id, res.Plan, entitlements.Meta{CustomerID: res.CustomerID, Source: "verify"})
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("Failed to write entitlement to cache")
	case rec.RevokedAt != nil:
		metrics.VerifyTotal.WithLabelValues("revoked", "cache").Inc()
		logger.Warn().Time("revoked_at", *rec.RevokedAt).Msg("Provider reports an entitlement the cache has revoked, keeping revocation")
		return VerifyResult{Valid: false}, nil
	default:
		plan = rec.Plan
	}
	if err := s.cache.IndexCustomer(ctx, res.CustomerID, id); err != nil {
		logger.Warn().Err(err).Str("customer_id", res.CustomerID).Msg("Failed to index billing customer")
	}

	metrics.VerifyTotal.WithLabelValues("valid", "provider").Inc()
	return s.mint(id, plan), nil
}

// Revalidate checks a presented credential. The token is checked before any
// lookup. Lifetime tokens need nothing more; a monthly token is denied only
// on a confirmed revocation.
func (s *Service) Revalidate(ctx context.Context, identifier, plan, token string) (RevalidateResult, error) {
	id := entitlements.NormalizeIdentifier(identifier)
	plan = strings.TrimSpace(plan)
	token = strings.TrimSpace(token)
	if id == "" || plan == "" || token == "" {
		return RevalidateResult{}, internalerrors.Input("revalidate", errors.New("email, plan and token are required"))
	}
	logger := logging.FromContext(ctx).With().Str("identifier", id).Str("plan", plan).Logger()

	if !s.signer.Verify(id, plan, token) {
		metrics.RevalidateTotal.WithLabelValues("unknown", "forged").Inc()
		logger.Warn().Msg("Rejected activation token with bad signature")
		return RevalidateResult{Valid: false, Error: MsgInvalidToken}, nil
	}

	p, ok := entitlements.ParsePlan(plan)
	if !ok {
		metrics.RevalidateTotal.WithLabelValues("unknown", "invalid").Inc()
		return RevalidateResult{Valid: false, Error: MsgUnknownPlan}, nil
	}
	if p == entitlements.PlanLifetime {
		metrics.RevalidateTotal.WithLabelValues(string(p), "valid").Inc()
		return RevalidateResult{Valid: true}, nil
	}

	lookup := s.cache.Lookup(ctx, id)
	switch {
	case lookup.Revoked():
		metrics.RevalidateTotal.WithLabelValues(string(p), "revoked").Inc()
		return RevalidateResult{Valid: false}, nil
	case lookup.Status == cache.Unavailable:
		logger.Warn().Err(lookup.Err).Msg("Entitlement cache unavailable during revalidation, keeping credential")
		metrics.RevalidateTotal.WithLabelValues(string(p), "assumed_valid").Inc()
	default:
		metrics.RevalidateTotal.WithLabelValues(string(p), "valid").Inc()
	}
	return RevalidateResult{Valid: true}, nil
}

// ValidateGiftCode redeems a code for a lifetime credential bound to the
// code's hash. The legacy hash list is consulted only when the store fails.
func (s *Service) ValidateGiftCode(ctx context.Context, code string) (GiftResult, error) {
	if entitlements.NormalizeGiftCode(code) == "" {
		return GiftResult{}, internalerrors.Input("gift_code", errors.New("code is required"))
	}
	hash := entitlements.HashGiftCode(code)
	logger := logging.FromContext(ctx).With().Str("gift_hash", hash[:12]).Logger()

	stored, found, err := s.cache.GiftCode(ctx, hash)
	if err != nil {
		if _, ok := s.legacy[hash]; ok {
			logger.Warn().Err(err).Msg("Gift code store unavailable, accepted legacy code")
			metrics.GiftCodeTotal.WithLabelValues("legacy").Inc()
			return s.redeem(ctx, hash, nil), nil
		}
		metrics.GiftCodeTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("Gift code store unavailable")
		return GiftResult{}, err
	}
	if !found || !stored.Usable(s.now()) {
		metrics.GiftCodeTotal.WithLabelValues("invalid").Inc()
		return GiftResult{Valid: false}, nil
	}

	metrics.GiftCodeTotal.WithLabelValues("valid").Inc()
	return s.redeem(ctx, hash, stored.ExpiresAt), nil
}

func (s *Service) redeem(ctx context.Context, hash string, expiresAt *time.Time) GiftResult {
	id := entitlements.GiftIdentifier(hash)
	if _, err := s.cache.Activate(ctx, id, entitlements.PlanLifetime, entitlements.Meta{Source: "gift"}); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Str("identifier", id).Msg("Failed to record gift activation")
	}
	plan := string(entitlements.PlanLifetime)
	return GiftResult{
		Valid:      true,
		ExpiresAt:  expiresAt,
		Token:      s.signer.Sign(id, plan),
		Identifier: id,
		Plan:       plan,
	}
}

func (s *Service) mint(id string, plan entitlements.Plan) VerifyResult {
	return VerifyResult{
		Valid: true,
		Plan:  string(plan),
		Token: s.signer.Sign(id, string(plan)),
	}
}
