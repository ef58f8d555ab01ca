// Package billing resolves entitlements against the billing provider. It is
// read-only: nothing here creates or changes provider objects.
package billing

import (
	"context"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/entitlements"
)

// Resolution is the answer to "does this identifier own a plan".
type Resolution struct {
	Plan       entitlements.Plan
	Found      bool
	CustomerID string
}

// Provider is the read API the verification service and webhook depend on.
//
// A nil error with Found=false is a confirmed negative. Any error means the
// provider could not answer and is classified as unavailable.
type Provider interface {
	Resolve(ctx context.Context, email string) (Resolution, error)
	CustomerEmail(ctx context.Context, customerID string) (string, error)
	CheckoutSessionPrices(ctx context.Context, sessionID string) ([]string, error)
}
