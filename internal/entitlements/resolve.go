package entitlements

import "strings"

// PriceIDs holds the billing provider price identifiers of the known plans.
type PriceIDs struct {
	Monthly  string
	Lifetime string
}

// PlanFor returns the plan tagged by a single price id.
func (p PriceIDs) PlanFor(priceID string) (Plan, bool) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return "", false
	}
	switch priceID {
	case strings.TrimSpace(p.Lifetime):
		return PlanLifetime, true
	case strings.TrimSpace(p.Monthly):
		return PlanMonthly, true
	default:
		return "", false
	}
}

// ResolvePlan returns the best plan tagged by any of the given price ids.
// Lifetime wins over monthly. Unknown price ids are ignored.
//
// This is the only place price ids are mapped to plans; both the webhook
// and the provider adapter call it.
func ResolvePlan(priceIDs []string, ids PriceIDs) (Plan, bool) {
	var best Plan
	for _, id := range priceIDs {
		plan, ok := ids.PlanFor(id)
		if !ok {
			continue
		}
		best = Superior(best, plan)
		if best == PlanLifetime {
			break
		}
	}
	return best, best != ""
}

// SubscriptionAction is what a subscription status means for the entitlement.
type SubscriptionAction int

const (
	SubscriptionIgnore SubscriptionAction = iota
	SubscriptionActivate
	SubscriptionRevoke
)

// ActionForSubscriptionStatus maps a Stripe subscription status to an action.
// Statuses that are neither clearly paying nor clearly lapsed (incomplete)
// are ignored; the checkout or a later update settles them.
func ActionForSubscriptionStatus(status string) SubscriptionAction {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return SubscriptionActivate
	case "canceled", "unpaid", "past_due", "incomplete_expired", "paused":
		return SubscriptionRevoke
	default:
		return SubscriptionIgnore
	}
}
