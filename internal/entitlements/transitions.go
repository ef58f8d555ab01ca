package entitlements

import "time"

// Meta carries optional attributes attached to an activation.
type Meta struct {
	CustomerID string
	Source     string
	// Explicit marks an activation confirmed by a billing push. Only an
	// explicit activation may clear a previous revocation.
	Explicit bool
}

// Activate computes the record that results from activating plan on top of
// existing (nil when absent). The second return value is false when the
// write would not change anything and may be skipped.
//
// ActivatedAt is set once. A lifetime record is never downgraded and never
// carries RevokedAt. A revoked record is left untouched unless meta is
// Explicit, in which case the revocation is cleared.
func Activate(existing *Record, plan Plan, meta Meta, now time.Time) (Record, bool) {
	now = now.UTC()
	if existing == nil {
		return Record{
			Plan:        plan,
			ActivatedAt: now,
			CustomerID:  meta.CustomerID,
			Source:      meta.Source,
			UpdatedAt:   now,
		}, true
	}

	if existing.RevokedAt != nil && !meta.Explicit {
		return *existing, false
	}

	next := *existing
	changed := false

	if best := Superior(existing.Plan, plan); best != existing.Plan {
		next.Plan = best
		changed = true
	}
	if next.RevokedAt != nil {
		next.RevokedAt = nil
		changed = true
	}
	if next.ActivatedAt.IsZero() {
		next.ActivatedAt = now
		changed = true
	}
	if meta.CustomerID != "" && next.CustomerID != meta.CustomerID {
		next.CustomerID = meta.CustomerID
		changed = true
	}
	if changed {
		if meta.Source != "" {
			next.Source = meta.Source
		}
		next.UpdatedAt = now
	}
	return next, changed
}

// Revoke computes the record that results from revoking existing. Absent
// records, lifetime records and already revoked records are left untouched.
func Revoke(existing *Record, now time.Time) (Record, bool) {
	if existing == nil {
		return Record{}, false
	}
	if existing.IsLifetime() || existing.RevokedAt != nil {
		return *existing, false
	}
	next := *existing
	at := now.UTC()
	next.RevokedAt = &at
	next.UpdatedAt = at
	return next, true
}
