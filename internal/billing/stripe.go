package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"golang.org/x/sync/errgroup"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/entitlements"
	internalerrors "github.com/mjj2333/escortcrm-pwa-sub001/internal/errors"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/metrics"
)

// DefaultTimeout bounds a full Resolve call.
const DefaultTimeout = 10 * time.Second

// errNotFound marks a provider 404; callers turn it into a negative.
var errNotFound = errors.New("billing object not found")

// stripeAPI is the slice of the Stripe API the adapter reads. Every method
// returns price ids, never plans; plan mapping happens in one place.
type stripeAPI interface {
	CustomersByEmail(ctx context.Context, email string) ([]string, error)
	ActiveSubscriptionPrices(ctx context.Context, customerID string) ([]string, error)
	PaidCheckoutPrices(ctx context.Context, customerID string) ([]string, error)
	SucceededPaymentIntentTags(ctx context.Context, customerID string) ([]PaymentTag, error)
	CustomerEmail(ctx context.Context, customerID string) (string, error)
	CheckoutSessionPrices(ctx context.Context, sessionID string) ([]string, error)
}

// PaymentTag is what a one-time payment intent says about the plan it paid for.
type PaymentTag struct {
	PriceID string
	Plan    string
}

// StripeProvider implements Provider against Stripe.
type StripeProvider struct {
	api     stripeAPI
	prices  entitlements.PriceIDs
	timeout time.Duration
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider builds a provider using secretKey. backends may be nil
// for the default Stripe endpoints.
func NewStripeProvider(secretKey string, prices entitlements.PriceIDs, timeout time.Duration, backends *stripelib.Backends) *StripeProvider {
	sc := &client.API{}
	sc.Init(strings.TrimSpace(secretKey), backends)
	return newStripeProvider(&sdkAPI{sc: sc}, prices, timeout)
}

func newStripeProvider(api stripeAPI, prices entitlements.PriceIDs, timeout time.Duration) *StripeProvider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &StripeProvider{api: api, prices: prices, timeout: timeout}
}

// Resolve looks at every customer with this email and returns the best plan
// any of them owns. Lifetime beats monthly.
func (p *StripeProvider) Resolve(ctx context.Context, email string) (res Resolution, err error) {
	start := time.Now()
	defer func() {
		metrics.ProviderDuration.Observe(time.Since(start).Seconds())
		switch {
		case err != nil:
			metrics.ProviderLookups.WithLabelValues("unavailable").Inc()
		case res.Found:
			metrics.ProviderLookups.WithLabelValues("found").Inc()
		default:
			metrics.ProviderLookups.WithLabelValues("not_found").Inc()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	customers, err := p.api.CustomersByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return Resolution{}, nil
		}
		return Resolution{}, internalerrors.Unavailable("billing.list_customers", err)
	}

	var best Resolution
	for _, customerID := range customers {
		plan, found, err := p.resolveCustomer(ctx, customerID)
		if err != nil {
			return Resolution{}, err
		}
		if !found || entitlements.Superior(best.Plan, plan) == best.Plan {
			continue
		}
		best = Resolution{Plan: plan, Found: true, CustomerID: customerID}
		if plan == entitlements.PlanLifetime {
			break
		}
	}
	return best, nil
}

// resolveCustomer queries subscriptions, checkout sessions and payment
// intents concurrently and folds every price id into one plan.
func (p *StripeProvider) resolveCustomer(ctx context.Context, customerID string) (entitlements.Plan, bool, error) {
	var (
		mu     sync.Mutex
		prices []string
	)
	collect := func(ids []string) {
		mu.Lock()
		prices = append(prices, ids...)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := p.api.ActiveSubscriptionPrices(gctx, customerID)
		if err != nil {
			return ignoreNotFound("billing.list_subscriptions", err)
		}
		collect(ids)
		return nil
	})
	g.Go(func() error {
		ids, err := p.api.PaidCheckoutPrices(gctx, customerID)
		if err != nil {
			return ignoreNotFound("billing.list_checkout_sessions", err)
		}
		collect(ids)
		return nil
	})
	g.Go(func() error {
		tags, err := p.api.SucceededPaymentIntentTags(gctx, customerID)
		if err != nil {
			return ignoreNotFound("billing.list_payment_intents", err)
		}
		collect(p.tagPrices(tags))
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", false, err
	}

	plan, ok := entitlements.ResolvePlan(prices, p.prices)
	return plan, ok, nil
}

// tagPrices turns payment intent tags into price ids; a plan-name tag maps
// to the configured price of that plan.
func (p *StripeProvider) tagPrices(tags []PaymentTag) []string {
	ids := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag.PriceID != "" {
			ids = append(ids, tag.PriceID)
			continue
		}
		switch plan, _ := entitlements.ParsePlan(tag.Plan); plan {
		case entitlements.PlanLifetime:
			ids = append(ids, p.prices.Lifetime)
		case entitlements.PlanMonthly:
			ids = append(ids, p.prices.Monthly)
		}
	}
	return ids
}

// CustomerEmail returns the email on a customer. A deleted or unknown
// customer yields "" and no error.
func (p *StripeProvider) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	email, err := p.api.CustomerEmail(ctx, customerID)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return "", nil
		}
		return "", internalerrors.Unavailable("billing.get_customer", err)
	}
	return email, nil
}

// CheckoutSessionPrices returns the price ids of a session's line items.
func (p *StripeProvider) CheckoutSessionPrices(ctx context.Context, sessionID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ids, err := p.api.CheckoutSessionPrices(ctx, sessionID)
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, internalerrors.Unavailable("billing.list_line_items", err)
	}
	return ids, nil
}

func ignoreNotFound(op string, err error) error {
	if errors.Is(err, errNotFound) {
		return nil
	}
	return internalerrors.Unavailable(op, err)
}

// classifyStripeError maps a 404 or resource_missing to errNotFound and
// leaves everything else (transport, 429, 5xx, auth) as is.
func classifyStripeError(err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripelib.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripelib.ErrorCodeResourceMissing {
			return fmt.Errorf("%w: %s", errNotFound, stripeErr.Msg)
		}
	}
	return err
}
