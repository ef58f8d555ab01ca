package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/entitlements"
	internalerrors "github.com/mjj2333/escortcrm-pwa-sub001/internal/errors"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/store/memory"
)

func newTestCache(t *testing.T) (*Cache, *memory.Store) {
	t.Helper()
	s := memory.New()
	c := New(s)
	clock := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return c, s
}

func TestLookupStatuses(t *testing.T) {
	c, s := newTestCache(t)
	ctx := context.Background()

	l := c.Lookup(ctx, "a@example.com")
	assert.Equal(t, Miss, l.Status)
	assert.NoError(t, l.Err)

	_, err := c.Activate(ctx, "a@example.com", entitlements.PlanMonthly, entitlements.Meta{})
	require.NoError(t, err)
	l = c.Lookup(ctx, "a@example.com")
	assert.Equal(t, Hit, l.Status)
	assert.False(t, l.Revoked())

	s.SetFailure(errors.New("dial tcp: connection refused"))
	l = c.Lookup(ctx, "a@example.com")
	assert.Equal(t, Unavailable, l.Status)
	assert.True(t, internalerrors.IsUnavailable(l.Err))
	assert.False(t, l.Revoked(), "an unavailable store is never a confirmed revocation")
}

func TestRevokeThenLookupIsRevoked(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.Activate(ctx, "a@example.com", entitlements.PlanMonthly, entitlements.Meta{})
	require.NoError(t, err)
	rec, changed, err := c.Revoke(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotNil(t, rec.RevokedAt)

	assert.True(t, c.Lookup(ctx, "a@example.com").Revoked())
}

func TestRevokeUnknownCreatesNothing(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, changed, err := c.Revoke(ctx, "ghost@example.com")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, Miss, c.Lookup(ctx, "ghost@example.com").Status)
}

func TestLifetimeSurvivesRevokeAndDowngrade(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	first, err := c.Activate(ctx, "a@example.com", entitlements.PlanLifetime, entitlements.Meta{})
	require.NoError(t, err)

	_, changed, err := c.Revoke(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, changed)

	rec, err := c.Activate(ctx, "a@example.com", entitlements.PlanMonthly, entitlements.Meta{})
	require.NoError(t, err)
	assert.Equal(t, entitlements.PlanLifetime, rec.Plan)
	assert.Nil(t, rec.RevokedAt)
	assert.True(t, first.ActivatedAt.Equal(rec.ActivatedAt))
}

func TestWriteFailuresAreUnavailable(t *testing.T) {
	c, s := newTestCache(t)
	s.SetFailure(errors.New("timeout"))

	_, err := c.Activate(context.Background(), "a@example.com", entitlements.PlanMonthly, entitlements.Meta{})
	assert.True(t, internalerrors.IsUnavailable(err))

	_, _, err = c.Revoke(context.Background(), "a@example.com")
	assert.True(t, internalerrors.IsUnavailable(err))
}

func TestGiftCodesAndCustomerIndex(t *testing.T) {
	c, s := newTestCache(t)
	ctx := context.Background()

	hash := entitlements.HashGiftCode("friends")
	require.NoError(t, c.AddGiftCode(ctx, entitlements.GiftCode{Hash: hash}))
	code, found, err := c.GiftCode(ctx, hash)
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, code.CreatedAt.IsZero(), "CreatedAt should default to now")

	require.NoError(t, c.IndexCustomer(ctx, "cus_1", "a@example.com"))
	require.NoError(t, c.IndexCustomer(ctx, "", "ignored@example.com"))
	id, found, err := c.CustomerIdentifier(ctx, "cus_1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "a@example.com", id)

	s.SetFailure(errors.New("down"))
	_, _, err = c.GiftCode(ctx, hash)
	assert.True(t, internalerrors.IsUnavailable(err))
	_, _, err = c.CustomerIdentifier(ctx, "cus_1")
	assert.True(t, internalerrors.IsUnavailable(err))
}

func TestActivateClearsRevocationOnlyWhenExplicit(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.Activate(ctx, "a@example.com", entitlements.PlanMonthly, entitlements.Meta{})
	require.NoError(t, err)
	_, _, err = c.Revoke(ctx, "a@example.com")
	require.NoError(t, err)

	rec, err := c.Activate(ctx, "a@example.com", entitlements.PlanMonthly, entitlements.Meta{Source: "verify"})
	require.NoError(t, err)
	assert.NotNil(t, rec.RevokedAt, "a provider read must not undo a revocation")
	assert.True(t, c.Lookup(ctx, "a@example.com").Revoked())

	rec, err = c.Activate(ctx, "a@example.com", entitlements.PlanMonthly, entitlements.Meta{Source: "webhook", Explicit: true})
	require.NoError(t, err)
	assert.Nil(t, rec.RevokedAt)
	assert.False(t, c.Lookup(ctx, "a@example.com").Revoked())
}
