// Package storetest holds behaviour checks shared by every store backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/entitlements"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/store"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) store.Store

// Run exercises the store.Store contract against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, newStore(t)) })
	t.Run("UpdateCreates", func(t *testing.T) { testUpdateCreates(t, newStore(t)) })
	t.Run("UpdateSkip", func(t *testing.T) { testUpdateSkip(t, newStore(t)) })
	t.Run("UpdateLifetimeMonotonic", func(t *testing.T) { testUpdateLifetimeMonotonic(t, newStore(t)) })
	t.Run("GiftCodes", func(t *testing.T) { testGiftCodes(t, newStore(t)) })
	t.Run("Customers", func(t *testing.T) { testCustomers(t, newStore(t)) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, newStore(t).Ping(context.Background())) })
}

var base = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

// AssertRecordEqual compares records field by field, using time.Equal for timestamps.
func AssertRecordEqual(t *testing.T, want, got entitlements.Record) {
	t.Helper()
	assert.Equal(t, want.Plan, got.Plan, "plan")
	assert.True(t, want.ActivatedAt.Equal(got.ActivatedAt), "activatedAt: want %v got %v", want.ActivatedAt, got.ActivatedAt)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "updatedAt: want %v got %v", want.UpdatedAt, got.UpdatedAt)
	assert.Equal(t, want.CustomerID, got.CustomerID, "customerId")
	assert.Equal(t, want.Source, got.Source, "source")
	if want.RevokedAt == nil {
		assert.Nil(t, got.RevokedAt, "revokedAt")
		return
	}
	if assert.NotNil(t, got.RevokedAt, "revokedAt") {
		assert.True(t, want.RevokedAt.Equal(*got.RevokedAt), "revokedAt: want %v got %v", want.RevokedAt, got.RevokedAt)
	}
}

func testGetMissing(t *testing.T, s store.Store) {
	_, found, err := s.Get(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.False(t, found)
}

func testPutGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	revoked := base.Add(time.Hour)
	want := entitlements.Record{
		Plan:        entitlements.PlanMonthly,
		ActivatedAt: base,
		RevokedAt:   &revoked,
		CustomerID:  "cus_123",
		Source:      "webhook",
		UpdatedAt:   revoked,
	}
	require.NoError(t, s.Put(ctx, "a@example.com", want))

	got, found, err := s.Get(ctx, "a@example.com")
	require.NoError(t, err)
	require.True(t, found)
	AssertRecordEqual(t, want, got)

	_, found, err = s.Get(ctx, "b@example.com")
	require.NoError(t, err)
	assert.False(t, found, "records must not leak across identifiers")
}

func testUpdateCreates(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec, written, err := s.Update(ctx, "new@example.com", func(existing *entitlements.Record) (entitlements.Record, bool) {
		assert.Nil(t, existing)
		return entitlements.Activate(existing, entitlements.PlanMonthly, entitlements.Meta{Source: "verify"}, base)
	})
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, entitlements.PlanMonthly, rec.Plan)

	got, found, err := s.Get(ctx, "new@example.com")
	require.NoError(t, err)
	require.True(t, found)
	AssertRecordEqual(t, rec, got)
}

func testUpdateSkip(t *testing.T, s store.Store) {
	ctx := context.Background()
	rec, written, err := s.Update(ctx, "ghost@example.com", func(existing *entitlements.Record) (entitlements.Record, bool) {
		return entitlements.Revoke(existing, base)
	})
	require.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, entitlements.Plan(""), rec.Plan)

	_, found, err := s.Get(ctx, "ghost@example.com")
	require.NoError(t, err)
	assert.False(t, found, "revoking an unseen identifier must not create a record")
}

func testUpdateLifetimeMonotonic(t *testing.T, s store.Store) {
	ctx := context.Background()
	id := "life@example.com"
	want := entitlements.Record{Plan: entitlements.PlanLifetime, ActivatedAt: base, UpdatedAt: base}
	require.NoError(t, s.Put(ctx, id, want))

	_, written, err := s.Update(ctx, id, func(existing *entitlements.Record) (entitlements.Record, bool) {
		return entitlements.Revoke(existing, base.Add(time.Hour))
	})
	require.NoError(t, err)
	assert.False(t, written)

	_, written, err = s.Update(ctx, id, func(existing *entitlements.Record) (entitlements.Record, bool) {
		return entitlements.Activate(existing, entitlements.PlanMonthly, entitlements.Meta{}, base.Add(2*time.Hour))
	})
	require.NoError(t, err)
	assert.False(t, written)

	got, _, err := s.Get(ctx, id)
	require.NoError(t, err)
	AssertRecordEqual(t, want, got)
}

func testGiftCodes(t *testing.T, s store.Store) {
	ctx := context.Background()
	expires := base.Add(24 * time.Hour)
	hash := entitlements.HashGiftCode("spring-promo")
	want := entitlements.GiftCode{Hash: hash, ExpiresAt: &expires, CreatedAt: base, Note: "spring"}
	require.NoError(t, s.PutGiftCode(ctx, want))

	got, found, err := s.GetGiftCode(ctx, hash)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, hash, got.Hash)
	assert.False(t, got.Revoked)
	assert.Equal(t, "spring", got.Note)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, expires.Equal(*got.ExpiresAt))

	want.Revoked = true
	require.NoError(t, s.PutGiftCode(ctx, want))
	got, _, err = s.GetGiftCode(ctx, hash)
	require.NoError(t, err)
	assert.True(t, got.Revoked)

	_, found, err = s.GetGiftCode(ctx, entitlements.HashGiftCode("unknown"))
	require.NoError(t, err)
	assert.False(t, found)
}

func testCustomers(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, found, err := s.CustomerIdentifier(ctx, "cus_missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.SaveCustomer(ctx, "cus_1", "a@example.com"))
	require.NoError(t, s.SaveCustomer(ctx, "cus_1", "b@example.com"))
	id, found, err := s.CustomerIdentifier(ctx, "cus_1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "b@example.com", id)
}
