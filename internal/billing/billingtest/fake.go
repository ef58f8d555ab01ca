// Package billingtest provides an in-memory billing.Provider for tests.
package billingtest

import (
	"context"
	"sync"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/billing"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/entitlements"
)

// Provider is a scripted billing.Provider. The zero value knows nobody.
type Provider struct {
	mu            sync.Mutex
	resolutions   map[string]billing.Resolution
	emails        map[string]string
	sessionPrices map[string][]string
	err           error
	resolveCalls  int
}

var _ billing.Provider = (*Provider)(nil)

// New returns an empty fake.
func New() *Provider {
	return &Provider{
		resolutions:   make(map[string]billing.Resolution),
		emails:        make(map[string]string),
		sessionPrices: make(map[string][]string),
	}
}

// SetPlan makes Resolve(email) find plan under customerID.
func (p *Provider) SetPlan(email string, plan entitlements.Plan, customerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolutions[email] = billing.Resolution{Plan: plan, Found: true, CustomerID: customerID}
	if customerID != "" {
		p.emails[customerID] = email
	}
}

// SetCustomerEmail registers a customer without a plan.
func (p *Provider) SetCustomerEmail(customerID, email string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emails[customerID] = email
}

// SetSessionPrices registers the line item prices of a checkout session.
func (p *Provider) SetSessionPrices(sessionID string, prices ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionPrices[sessionID] = prices
}

// SetError makes every call fail with err until cleared with nil.
func (p *Provider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// ResolveCalls returns how many times Resolve ran.
func (p *Provider) ResolveCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resolveCalls
}

func (p *Provider) Resolve(_ context.Context, email string) (billing.Resolution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolveCalls++
	if p.err != nil {
		return billing.Resolution{}, p.err
	}
	return p.resolutions[email], nil
}

func (p *Provider) CustomerEmail(_ context.Context, customerID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	return p.emails[customerID], nil
}

func (p *Provider) CheckoutSessionPrices(_ context.Context, sessionID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.sessionPrices[sessionID], nil
}
