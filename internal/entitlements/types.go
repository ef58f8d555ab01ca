package entitlements

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Plan is a purchasable entitlement tier.
type Plan string

const (
	PlanMonthly  Plan = "monthly"
	PlanLifetime Plan = "lifetime"
)

// GiftIdentifierPrefix namespaces identifiers that were activated by gift code.
const GiftIdentifierPrefix = "gift:"

// ParsePlan returns the plan for s, or false if s names no known plan.
func ParsePlan(s string) (Plan, bool) {
	switch Plan(strings.ToLower(strings.TrimSpace(s))) {
	case PlanMonthly:
		return PlanMonthly, true
	case PlanLifetime:
		return PlanLifetime, true
	default:
		return "", false
	}
}

// rank orders plans so that upgrades can be detected. Unknown plans rank lowest.
func (p Plan) rank() int {
	switch p {
	case PlanLifetime:
		return 2
	case PlanMonthly:
		return 1
	default:
		return 0
	}
}

// Superior returns the better of two plans. Lifetime always wins.
func Superior(a, b Plan) Plan {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Record is the last known entitlement state for one identifier.
type Record struct {
	Plan        Plan       `json:"plan"`
	ActivatedAt time.Time  `json:"activatedAt"`
	RevokedAt   *time.Time `json:"revokedAt,omitempty"`
	CustomerID  string     `json:"customerId,omitempty"`
	Source      string     `json:"source,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Active reports whether the record currently grants its plan.
func (r Record) Active() bool {
	return r.RevokedAt == nil
}

// IsLifetime returns true if the record holds the irrevocable plan.
func (r Record) IsLifetime() bool {
	return r.Plan == PlanLifetime
}

// GiftCode is an administratively issued code, stored by hash only.
type GiftCode struct {
	Hash      string     `json:"hash"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Revoked   bool       `json:"revoked"`
	CreatedAt time.Time  `json:"createdAt"`
	Note      string     `json:"note,omitempty"`
}

// Usable reports whether the code may be redeemed at now.
func (g GiftCode) Usable(now time.Time) bool {
	if g.Revoked {
		return false
	}
	return g.ExpiresAt == nil || now.Before(*g.ExpiresAt)
}

// NormalizeIdentifier trims and lowercases an account identifier.
func NormalizeIdentifier(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// NormalizeGiftCode trims and uppercases a submitted code; codes are case-insensitive.
func NormalizeGiftCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// HashGiftCode returns the hex SHA-256 of the normalized code.
func HashGiftCode(code string) string {
	sum := sha256.Sum256([]byte(NormalizeGiftCode(code)))
	return hex.EncodeToString(sum[:])
}

// GiftIdentifier returns the namespaced identifier for a gift code hash.
func GiftIdentifier(hash string) string {
	return GiftIdentifierPrefix + hash
}

// IsGiftIdentifier reports whether id was minted for a gift code.
func IsGiftIdentifier(id string) bool {
	return strings.HasPrefix(id, GiftIdentifierPrefix)
}
