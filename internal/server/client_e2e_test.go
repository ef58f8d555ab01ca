package server

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/entitlements"
	"github.com/mjj2333/escortcrm-pwa-sub001/pkg/activation"
)

func TestActivationClientAgainstServer(t *testing.T) {
	ts := newTestServer(t, nil)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	ctx := context.Background()
	ts.provider.SetPlan("member@example.com", entitlements.PlanMonthly, "cus_9")

	now := time.Now()
	store := activation.NewFileStore(filepath.Join(t.TempDir(), "activation.json"))
	policy := activation.NewPolicy(store, activation.NewHTTPClient(srv.URL, 2*time.Second),
		activation.WithClock(func() time.Time { return now }),
		activation.WithLogger(zerolog.Nop()),
	)

	st, err := policy.ActivateIdentifier(ctx, "member@example.com")
	require.NoError(t, err)
	assert.Equal(t, "monthly", st.Plan)

	out, err := policy.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, activation.OutcomeSkipped, out)

	now = now.Add(25 * time.Hour)
	out, err = policy.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, activation.OutcomeConfirmed, out)

	_, _, err = ts.cache.Revoke(ctx, "member@example.com")
	require.NoError(t, err)

	now = now.Add(25 * time.Hour)
	out, err = policy.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, activation.OutcomeRevoked, out)

	st, err = store.Load()
	require.NoError(t, err)
	assert.False(t, st.Activated)
}

func TestActivationClientSurvivesOutage(t *testing.T) {
	ts := newTestServer(t, nil)
	srv := httptest.NewServer(ts.handler)

	ctx := context.Background()
	ts.provider.SetPlan("member@example.com", entitlements.PlanMonthly, "cus_9")

	now := time.Now()
	store := activation.NewFileStore(filepath.Join(t.TempDir(), "activation.json"))
	policy := activation.NewPolicy(store, activation.NewHTTPClient(srv.URL, time.Second),
		activation.WithClock(func() time.Time { return now }),
		activation.WithLogger(zerolog.Nop()),
	)
	_, err := policy.ActivateIdentifier(ctx, "member@example.com")
	require.NoError(t, err)

	srv.Close()
	now = now.Add(48 * time.Hour)

	out, err := policy.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, activation.OutcomeUnreachable, out)

	st, err := store.Load()
	require.NoError(t, err)
	assert.True(t, st.Activated, "an outage must never clear a paid activation")
}
