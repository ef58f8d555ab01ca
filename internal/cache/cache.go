// Package cache is the entitlement cache: a tagged read path and
// policy-enforcing write paths over a store.Store.
package cache

import (
	"context"
	"time"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/entitlements"
	internalerrors "github.com/mjj2333/escortcrm-pwa-sub001/internal/errors"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/metrics"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/store"
)

// Status tags the outcome of a cache read.
type Status int

const (
	// Miss means the store answered and holds no record.
	Miss Status = iota
	// Hit means a record was found.
	Hit
	// Unavailable means the store could not answer. It is not a Miss.
	Unavailable
)

func (s Status) String() string {
	switch s {
	case Hit:
		return "hit"
	case Miss:
		return "miss"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Lookup is the tagged result of Cache.Lookup.
type Lookup struct {
	Status Status
	Record entitlements.Record
	Err    error
}

// Revoked reports a confirmed revocation: a hit whose record carries RevokedAt.
func (l Lookup) Revoked() bool {
	return l.Status == Hit && !l.Record.Active()
}

// Cache reads and writes entitlement records.
type Cache struct {
	store store.Store
	now   func() time.Time
}

// New returns a cache over s.
func New(s store.Store) *Cache {
	return &Cache{store: s, now: time.Now}
}

// Store returns the backing store.
func (c *Cache) Store() store.Store {
	return c.store
}

// Lookup reads the record for an already-normalized identifier.
func (c *Cache) Lookup(ctx context.Context, identifier string) Lookup {
	rec, found, err := c.store.Get(ctx, identifier)
	var l Lookup
	switch {
	case err != nil:
		l = Lookup{Status: Unavailable, Err: internalerrors.Unavailable("cache.lookup", err)}
	case !found:
		l = Lookup{Status: Miss}
	default:
		l = Lookup{Status: Hit, Record: rec}
	}
	metrics.CacheOperations.WithLabelValues("lookup", l.Status.String()).Inc()
	return l
}

// Activate grants plan to identifier. A lifetime record is never downgraded
// and ActivatedAt is kept. An existing revocation is cleared only when meta
// is Explicit; otherwise the revoked record is returned unchanged.
func (c *Cache) Activate(ctx context.Context, identifier string, plan entitlements.Plan, meta entitlements.Meta) (entitlements.Record, error) {
	now := c.now()
	rec, written, err := c.store.Update(ctx, identifier, func(existing *entitlements.Record) (entitlements.Record, bool) {
		return entitlements.Activate(existing, plan, meta, now)
	})
	if err != nil {
		metrics.CacheOperations.WithLabelValues("activate", "error").Inc()
		return entitlements.Record{}, internalerrors.Unavailable("cache.activate", err)
	}
	metrics.CacheOperations.WithLabelValues("activate", writeResult(written)).Inc()
	return rec, nil
}

// Revoke marks identifier inactive. Unknown identifiers and lifetime records
// are left alone; the returned bool reports whether a record was changed.
func (c *Cache) Revoke(ctx context.Context, identifier string) (entitlements.Record, bool, error) {
	now := c.now()
	rec, written, err := c.store.Update(ctx, identifier, func(existing *entitlements.Record) (entitlements.Record, bool) {
		return entitlements.Revoke(existing, now)
	})
	if err != nil {
		metrics.CacheOperations.WithLabelValues("revoke", "error").Inc()
		return entitlements.Record{}, false, internalerrors.Unavailable("cache.revoke", err)
	}
	metrics.CacheOperations.WithLabelValues("revoke", writeResult(written)).Inc()
	return rec, written, nil
}

func writeResult(written bool) string {
	if written {
		return "written"
	}
	return "unchanged"
}

// GiftCode reads a stored gift code by hash.
func (c *Cache) GiftCode(ctx context.Context, hash string) (entitlements.GiftCode, bool, error) {
	code, found, err := c.store.GetGiftCode(ctx, hash)
	if err != nil {
		metrics.CacheOperations.WithLabelValues("gift_lookup", "error").Inc()
		return entitlements.GiftCode{}, false, internalerrors.Unavailable("cache.gift_code", err)
	}
	metrics.CacheOperations.WithLabelValues("gift_lookup", hitResult(found)).Inc()
	return code, found, nil
}

// AddGiftCode stores an administratively issued code.
func (c *Cache) AddGiftCode(ctx context.Context, code entitlements.GiftCode) error {
	if code.CreatedAt.IsZero() {
		code.CreatedAt = c.now().UTC()
	}
	if err := c.store.PutGiftCode(ctx, code); err != nil {
		return internalerrors.Unavailable("cache.add_gift_code", err)
	}
	return nil
}

// CustomerIdentifier maps a billing customer id back to an identifier.
func (c *Cache) CustomerIdentifier(ctx context.Context, customerID string) (string, bool, error) {
	id, found, err := c.store.CustomerIdentifier(ctx, customerID)
	if err != nil {
		metrics.CacheOperations.WithLabelValues("customer_lookup", "error").Inc()
		return "", false, internalerrors.Unavailable("cache.customer", err)
	}
	metrics.CacheOperations.WithLabelValues("customer_lookup", hitResult(found)).Inc()
	return id, found, nil
}

// IndexCustomer records which identifier a billing customer belongs to.
func (c *Cache) IndexCustomer(ctx context.Context, customerID, identifier string) error {
	if customerID == "" || identifier == "" {
		return nil
	}
	if err := c.store.SaveCustomer(ctx, customerID, identifier); err != nil {
		return internalerrors.Unavailable("cache.index_customer", err)
	}
	return nil
}

func hitResult(found bool) string {
	if found {
		return "hit"
	}
	return "miss"
}
