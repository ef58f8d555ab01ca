package billing

import (
	"context"
	"strings"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// sdkAPI reads from Stripe through stripe-go.
type sdkAPI struct {
	sc *client.API
}

func (a *sdkAPI) CustomersByEmail(ctx context.Context, email string) ([]string, error) {
	params := &stripelib.CustomerListParams{Email: stripelib.String(email)}
	params.Context = ctx

	var ids []string
	it := a.sc.Customers.List(params)
	for it.Next() {
		if c := it.Customer(); c != nil && !c.Deleted {
			ids = append(ids, c.ID)
		}
	}
	return ids, classifyStripeError(it.Err())
}

func (a *sdkAPI) ActiveSubscriptionPrices(ctx context.Context, customerID string) ([]string, error) {
	params := &stripelib.SubscriptionListParams{
		Customer: stripelib.String(customerID),
		Status:   stripelib.String("all"),
	}
	params.Context = ctx

	var prices []string
	it := a.sc.Subscriptions.List(params)
	for it.Next() {
		sub := it.Subscription()
		if sub == nil {
			continue
		}
		switch sub.Status {
		case stripelib.SubscriptionStatusActive, stripelib.SubscriptionStatusTrialing:
		default:
			continue
		}
		if sub.Items == nil {
			continue
		}
		for _, item := range sub.Items.Data {
			if item != nil && item.Price != nil {
				prices = append(prices, item.Price.ID)
			}
		}
	}
	return prices, classifyStripeError(it.Err())
}

func (a *sdkAPI) PaidCheckoutPrices(ctx context.Context, customerID string) ([]string, error) {
	params := &stripelib.CheckoutSessionListParams{Customer: stripelib.String(customerID)}
	params.Context = ctx
	params.AddExpand("data.line_items")

	var prices []string
	it := a.sc.CheckoutSessions.List(params)
	for it.Next() {
		s := it.CheckoutSession()
		if s == nil || s.Status != stripelib.CheckoutSessionStatusComplete ||
			s.PaymentStatus != stripelib.CheckoutSessionPaymentStatusPaid {
			continue
		}
		prices = append(prices, lineItemPrices(s.LineItems)...)
	}
	return prices, classifyStripeError(it.Err())
}

func (a *sdkAPI) SucceededPaymentIntentTags(ctx context.Context, customerID string) ([]PaymentTag, error) {
	params := &stripelib.PaymentIntentListParams{Customer: stripelib.String(customerID)}
	params.Context = ctx

	var tags []PaymentTag
	it := a.sc.PaymentIntents.List(params)
	for it.Next() {
		pi := it.PaymentIntent()
		if pi == nil || pi.Status != stripelib.PaymentIntentStatusSucceeded {
			continue
		}
		tag := PaymentTag{
			PriceID: strings.TrimSpace(pi.Metadata["price_id"]),
			Plan:    strings.TrimSpace(pi.Metadata["plan"]),
		}
		if tag.PriceID != "" || tag.Plan != "" {
			tags = append(tags, tag)
		}
	}
	return tags, classifyStripeError(it.Err())
}

func (a *sdkAPI) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	params := &stripelib.CustomerParams{}
	params.Context = ctx

	c, err := a.sc.Customers.Get(customerID, params)
	if err != nil {
		return "", classifyStripeError(err)
	}
	if c == nil || c.Deleted {
		return "", nil
	}
	return c.Email, nil
}

func (a *sdkAPI) CheckoutSessionPrices(ctx context.Context, sessionID string) ([]string, error) {
	params := &stripelib.CheckoutSessionListLineItemsParams{Session: stripelib.String(sessionID)}
	params.Context = ctx

	var prices []string
	it := a.sc.CheckoutSessions.ListLineItems(params)
	for it.Next() {
		if li := it.LineItem(); li != nil && li.Price != nil {
			prices = append(prices, li.Price.ID)
		}
	}
	return prices, classifyStripeError(it.Err())
}

func lineItemPrices(list *stripelib.LineItemList) []string {
	if list == nil {
		return nil
	}
	prices := make([]string, 0, len(list.Data))
	for _, li := range list.Data {
		if li != nil && li.Price != nil {
			prices = append(prices, li.Price.ID)
		}
	}
	return prices
}
