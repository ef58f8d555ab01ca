package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/billing/billingtest"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/cache"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/credential"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/entitlements"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/store/memory"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/verify"
)

const testSecret = "whsec_test_secret"

var testPrices = entitlements.PriceIDs{Monthly: "price_month", Lifetime: "price_life"}

type fixture struct {
	handler  *Handler
	store    *memory.Store
	cache    *cache.Cache
	provider *billingtest.Provider
	verify   *verify.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	c := cache.New(st)
	p := billingtest.New()
	signer, err := credential.NewSigner("activation-secret")
	require.NoError(t, err)
	return &fixture{
		handler:  NewHandler(testSecret, c, p, testPrices),
		store:    st,
		cache:    c,
		provider: p,
		verify:   verify.New(c, p, signer),
	}
}

func signedWebhookRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	req := httptest.NewRequest(http.MethodPost, "/billing-webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func eventJSON(t *testing.T, id, eventType string, object any) string {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	return fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"data":{"object":%s}}`, id, eventType, raw)
}

func subscriptionObject(customer, status string, prices ...string) map[string]any {
	items := make([]map[string]any, 0, len(prices))
	for _, p := range prices {
		items = append(items, map[string]any{"price": map[string]any{"id": p}})
	}
	return map[string]any{
		"id":       "sub_123",
		"object":   "subscription",
		"customer": customer,
		"status":   status,
		"items":    map[string]any{"data": items},
	}
}

func checkoutObject(customer, email string, prices ...string) map[string]any {
	obj := map[string]any{
		"id":             "cs_test_123",
		"object":         "checkout.session",
		"customer":       customer,
		"customer_email": email,
		"payment_status": "paid",
	}
	if len(prices) > 0 {
		items := make([]map[string]any, 0, len(prices))
		for _, p := range prices {
			items = append(items, map[string]any{"price": map[string]any{"id": p}})
		}
		obj["line_items"] = map[string]any{"data": items}
	}
	return obj
}

func (f *fixture) deliver(t *testing.T, payload string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, signedWebhookRequest(t, testSecret, payload))
	return rec
}

func (f *fixture) record(t *testing.T, id string) (entitlements.Record, bool) {
	t.Helper()
	rec, found, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return rec, found
}

func TestScenarioB_SubscriptionDeletedRevokesMonthly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.SetPlan("b@x.com", entitlements.PlanMonthly, "cus_bbb")

	res, err := f.verify.Verify(ctx, "b@x.com")
	require.NoError(t, err)
	require.True(t, res.Valid)

	rec := f.deliver(t, eventJSON(t, "evt_b", "customer.subscription.deleted",
		subscriptionObject("cus_bbb", "canceled", "price_month")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	stored, found := f.record(t, "b@x.com")
	require.True(t, found)
	assert.NotNil(t, stored.RevokedAt)

	res, err = f.verify.Verify(ctx, "b@x.com")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestScenarioC_LifetimeCheckoutUpgradesAndSurvivesDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cache.Activate(ctx, "c@x.com", entitlements.PlanMonthly, entitlements.Meta{CustomerID: "cus_ccc"})
	require.NoError(t, err)
	require.NoError(t, f.cache.IndexCustomer(ctx, "cus_ccc", "c@x.com"))

	rec := f.deliver(t, eventJSON(t, "evt_c1", "checkout.session.completed",
		checkoutObject("cus_ccc", "C@X.com", "price_life")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	upgraded, _ := f.record(t, "c@x.com")
	assert.Equal(t, entitlements.PlanLifetime, upgraded.Plan)
	assert.Nil(t, upgraded.RevokedAt)

	rec = f.deliver(t, eventJSON(t, "evt_c2", "customer.subscription.deleted",
		subscriptionObject("cus_ccc", "canceled", "price_month")))
	require.Equal(t, http.StatusOK, rec.Code)

	after, _ := f.record(t, "c@x.com")
	assert.Equal(t, entitlements.PlanLifetime, after.Plan)
	assert.Nil(t, after.RevokedAt)
	assert.True(t, upgraded.UpdatedAt.Equal(after.UpdatedAt), "lifetime record must not be rewritten")
}

func TestSameEventTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	payload := eventJSON(t, "evt_dup", "checkout.session.completed", checkoutObject("cus_dup", "dup@x.com", "price_month"))

	require.Equal(t, http.StatusOK, f.deliver(t, payload).Code)
	first, found := f.record(t, "dup@x.com")
	require.True(t, found)

	require.Equal(t, http.StatusOK, f.deliver(t, payload).Code)
	second, _ := f.record(t, "dup@x.com")
	assert.Equal(t, first, second)

	revoke := eventJSON(t, "evt_dup_del", "customer.subscription.deleted", subscriptionObject("cus_dup", "canceled"))
	require.Equal(t, http.StatusOK, f.deliver(t, revoke).Code)
	revoked, _ := f.record(t, "dup@x.com")
	require.Equal(t, http.StatusOK, f.deliver(t, revoke).Code)
	again, _ := f.record(t, "dup@x.com")
	assert.Equal(t, revoked, again)
}

func TestCheckoutFetchesLineItemsWhenNotEmbedded(t *testing.T) {
	f := newFixture(t)
	f.provider.SetSessionPrices("cs_test_123", "price_life")

	rec := f.deliver(t, eventJSON(t, "evt_fetch", "checkout.session.completed", checkoutObject("cus_fff", "f@x.com")))
	require.Equal(t, http.StatusOK, rec.Code)

	stored, found := f.record(t, "f@x.com")
	require.True(t, found)
	assert.Equal(t, entitlements.PlanLifetime, stored.Plan)
	assert.Equal(t, "cus_fff", stored.CustomerID)
}

func TestCheckoutEmailFromCustomerDetails(t *testing.T) {
	f := newFixture(t)
	obj := checkoutObject("cus_ggg", "", "price_month")
	obj["customer_details"] = map[string]any{"email": "g@x.com"}

	require.Equal(t, http.StatusOK, f.deliver(t, eventJSON(t, "evt_g", "checkout.session.completed", obj)).Code)
	_, found := f.record(t, "g@x.com")
	assert.True(t, found)
}

func TestUnpaidCheckoutIsIgnored(t *testing.T) {
	f := newFixture(t)
	obj := checkoutObject("cus_hhh", "h@x.com", "price_life")
	obj["payment_status"] = "unpaid"

	require.Equal(t, http.StatusOK, f.deliver(t, eventJSON(t, "evt_h", "checkout.session.completed", obj)).Code)
	_, found := f.record(t, "h@x.com")
	assert.False(t, found)
}

func TestSubscriptionUpdatedActivatesViaProviderEmail(t *testing.T) {
	f := newFixture(t)
	f.provider.SetCustomerEmail("cus_iii", "I@x.com")

	rec := f.deliver(t, eventJSON(t, "evt_i", "customer.subscription.created",
		subscriptionObject("cus_iii", "trialing", "price_month")))
	require.Equal(t, http.StatusOK, rec.Code)

	stored, found := f.record(t, "i@x.com")
	require.True(t, found)
	assert.Equal(t, entitlements.PlanMonthly, stored.Plan)

	id, found, err := f.cache.CustomerIdentifier(context.Background(), "cus_iii")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "i@x.com", id)
}

func TestSubscriptionStatusTransitions(t *testing.T) {
	tests := []struct {
		status      string
		wantRevoked bool
	}{
		{"past_due", true},
		{"unpaid", true},
		{"canceled", true},
		{"incomplete", false},
		{"active", false},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, err := f.cache.Activate(ctx, "s@x.com", entitlements.PlanMonthly, entitlements.Meta{})
			require.NoError(t, err)
			require.NoError(t, f.cache.IndexCustomer(ctx, "cus_sss", "s@x.com"))

			rec := f.deliver(t, eventJSON(t, "evt_s", "customer.subscription.updated",
				subscriptionObject("cus_sss", tt.status, "price_month")))
			require.Equal(t, http.StatusOK, rec.Code)

			stored, _ := f.record(t, "s@x.com")
			assert.Equal(t, tt.wantRevoked, stored.RevokedAt != nil)
		})
	}
}

func TestReactivationClearsRevocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cache.Activate(ctx, "r@x.com", entitlements.PlanMonthly, entitlements.Meta{})
	require.NoError(t, err)
	require.NoError(t, f.cache.IndexCustomer(ctx, "cus_rrr", "r@x.com"))
	_, _, err = f.cache.Revoke(ctx, "r@x.com")
	require.NoError(t, err)

	rec := f.deliver(t, eventJSON(t, "evt_r", "customer.subscription.updated",
		subscriptionObject("cus_rrr", "active", "price_month")))
	require.Equal(t, http.StatusOK, rec.Code)

	stored, _ := f.record(t, "r@x.com")
	assert.Nil(t, stored.RevokedAt)
}

func TestSubscriptionForOtherProductDoesNotRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.cache.Activate(ctx, "o@x.com", entitlements.PlanMonthly, entitlements.Meta{})
	require.NoError(t, err)
	require.NoError(t, f.cache.IndexCustomer(ctx, "cus_ooo", "o@x.com"))

	rec := f.deliver(t, eventJSON(t, "evt_o", "customer.subscription.deleted",
		subscriptionObject("cus_ooo", "canceled", "price_someone_else")))
	require.Equal(t, http.StatusOK, rec.Code)

	stored, _ := f.record(t, "o@x.com")
	assert.Nil(t, stored.RevokedAt)
}

func TestRevokeForUnknownCustomerCreatesNothing(t *testing.T) {
	f := newFixture(t)
	rec := f.deliver(t, eventJSON(t, "evt_u", "customer.subscription.deleted",
		subscriptionObject("cus_unknown", "canceled", "price_month")))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, f.provider.ResolveCalls())
}

func TestUnhandledEventIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	rec := f.deliver(t, `{"id":"evt_x","object":"event","type":"invoice.created","data":{"object":{"id":"in_1"}}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())
}

func TestProcessingFailureRequestsRedelivery(t *testing.T) {
	f := newFixture(t)
	f.store.SetFailure(errors.New("redis down"))

	payload := eventJSON(t, "evt_fail", "checkout.session.completed", checkoutObject("cus_fail", "fail@x.com", "price_month"))
	assert.Equal(t, http.StatusInternalServerError, f.deliver(t, payload).Code)

	f.store.SetFailure(nil)
	assert.Equal(t, http.StatusOK, f.deliver(t, payload).Code)
	_, found := f.record(t, "fail@x.com")
	assert.True(t, found)
}

func TestSignatureAndMethodChecks(t *testing.T) {
	f := newFixture(t)
	payload := `{"id":"evt_sig","object":"event","type":"checkout.session.completed","data":{"object":{"customer_email":"evil@x.com","line_items":{"data":[{"price":{"id":"price_life"}}]}}}}`

	t.Run("wrong secret", func(t *testing.T) {
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, signedWebhookRequest(t, "whsec_other", payload))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing signature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/billing-webhook", bytes.NewReader([]byte(payload)))
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("tampered body", func(t *testing.T) {
		req := signedWebhookRequest(t, testSecret, payload)
		req.Body = io.NopCloser(bytes.NewReader([]byte(strings.Replace(payload, "evil@x.com", "evil2@x.com", 1))))
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not a POST", func(t *testing.T) {
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/billing-webhook", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("no secret configured", func(t *testing.T) {
		h := NewHandler("", f.cache, f.provider, testPrices)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, signedWebhookRequest(t, testSecret, payload))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	_, found := f.record(t, "evil@x.com")
	assert.False(t, found, "unsigned events must never be processed")
}

func TestIsSafeStripeID(t *testing.T) {
	assert.True(t, IsSafeStripeID("cus_ABC123"))
	assert.False(t, IsSafeStripeID("cus"))
	assert.False(t, IsSafeStripeID("cus_../../etc"))
	assert.False(t, IsSafeStripeID(""))
}
