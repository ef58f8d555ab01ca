package activation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultInterval is how long a confirmed credential is trusted without
// asking the server again.
const DefaultInterval = 24 * time.Hour

// Outcome is the result of one policy run.
type Outcome string

const (
	OutcomeInactive    Outcome = "inactive"    // nothing to check
	OutcomeSkipped     Outcome = "skipped"     // checked within the interval
	OutcomeConfirmed   Outcome = "confirmed"   // server confirmed the credential
	OutcomeRevoked     Outcome = "revoked"     // server denied, local activation cleared
	OutcomeUnreachable Outcome = "unreachable" // no answer, state left untouched
	OutcomeUpgraded    Outcome = "upgraded"    // legacy activation received a credential
	OutcomeDeactivated Outcome = "deactivated" // legacy activation with no proof at all
	OutcomeExpired     Outcome = "expired"     // hard expiry passed
)

// StillActivated reports whether the application should treat the user as
// entitled after this outcome.
func (o Outcome) StillActivated() bool {
	switch o {
	case OutcomeSkipped, OutcomeConfirmed, OutcomeUnreachable, OutcomeUpgraded:
		return true
	default:
		return false
	}
}

// Policy decides whether and how to revalidate the local credential. It is
// meant to run once per application start.
type Policy struct {
	store    Store
	verifier Verifier
	interval time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// PolicyOption customises a Policy.
type PolicyOption func(*Policy)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) PolicyOption {
	return func(p *Policy) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) PolicyOption {
	return func(p *Policy) { p.now = now }
}

// WithLogger overrides the global logger.
func WithLogger(l zerolog.Logger) PolicyOption {
	return func(p *Policy) { p.logger = l }
}

// NewPolicy builds a policy over store, asking verifier when needed.
func NewPolicy(store Store, verifier Verifier, opts ...PolicyOption) *Policy {
	p := &Policy{
		store:    store,
		verifier: verifier,
		interval: DefaultInterval,
		now:      time.Now,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run performs a single check. An error means local state could not be read
// or written; network failures are an outcome, not an error.
func (p *Policy) Run(ctx context.Context) (Outcome, error) {
	st, err := p.store.Load()
	if err != nil {
		return "", fmt.Errorf("load activation state: %w", err)
	}
	if !st.Activated {
		return OutcomeInactive, nil
	}

	now := p.now()
	logger := p.logger.With().Str("identifier", st.Identifier).Str("plan", st.Plan).Logger()

	if st.Expired(now) {
		logger.Info().Time("expires_at", *st.ExpiresAt).Msg("Activation expired")
		return OutcomeExpired, p.clear()
	}

	if !st.HasCredential() {
		return p.upgradeLegacy(ctx, st, now, logger)
	}

	if st.LastValidatedAt != nil && now.Sub(*st.LastValidatedAt) < p.interval {
		return OutcomeSkipped, nil
	}

	res, err := p.verifier.Revalidate(ctx, st.Identifier, st.Plan, st.Token)
	if err != nil {
		logger.Warn().Err(err).Msg("Revalidation unreachable, keeping activation")
		return OutcomeUnreachable, nil
	}
	if !res.Valid {
		logger.Warn().Str("reason", res.Error).Msg("Activation revoked by server")
		return OutcomeRevoked, p.clear()
	}

	st.LastValidatedAt = &now
	if err := p.store.Save(st); err != nil {
		return "", fmt.Errorf("save activation state: %w", err)
	}
	return OutcomeConfirmed, nil
}

// upgradeLegacy tries to obtain a credential for an activation that predates
// them, first by identifier and then by the redeemed gift code. The state is
// cleared only when every proof it carries gets a definitive negative; an
// activation with no proof at all is deactivated.
func (p *Policy) upgradeLegacy(ctx context.Context, st State, now time.Time, logger zerolog.Logger) (Outcome, error) {
	hasIdentifier := strings.TrimSpace(st.Identifier) != ""
	hasGiftCode := strings.TrimSpace(st.GiftCode) != ""
	if !hasIdentifier && !hasGiftCode {
		logger.Warn().Msg("Legacy activation without identifier or gift code, deactivating")
		return OutcomeDeactivated, p.clear()
	}

	upgraded := false
	if hasIdentifier {
		res, err := p.verifier.Verify(ctx, st.Identifier)
		if err != nil {
			logger.Warn().Err(err).Msg("Legacy upgrade unreachable, keeping activation")
			return OutcomeUnreachable, nil
		}
		if res.Valid && res.Token != "" {
			st.Plan = res.Plan
			st.Token = res.Token
			upgraded = true
		} else {
			logger.Warn().Msg("Legacy activation has no entitlement on record")
		}
	}

	if !upgraded && hasGiftCode {
		res, err := p.verifier.RedeemGiftCode(ctx, st.GiftCode)
		if err != nil {
			logger.Warn().Err(err).Msg("Legacy gift upgrade unreachable, keeping activation")
			return OutcomeUnreachable, nil
		}
		if res.Valid && res.Token != "" {
			st.Identifier = res.Identifier
			st.Plan = res.Plan
			st.Token = res.Token
			st.ExpiresAt = res.ExpiresAt
			st.GiftCode = ""
			upgraded = true
		} else {
			logger.Warn().Msg("Legacy gift code no longer valid")
		}
	}

	if !upgraded {
		return OutcomeRevoked, p.clear()
	}

	st.LastValidatedAt = &now
	if err := p.store.Save(st); err != nil {
		return "", fmt.Errorf("save activation state: %w", err)
	}
	logger.Info().Str("plan", st.Plan).Msg("Legacy activation upgraded")
	return OutcomeUpgraded, nil
}

func (p *Policy) clear() error {
	if err := p.store.Save(Cleared()); err != nil {
		return fmt.Errorf("clear activation state: %w", err)
	}
	return nil
}
