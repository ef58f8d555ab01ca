package activation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotEntitled is returned when the service gave a definitive negative.
var ErrNotEntitled = errors.New("no entitlement found")

// ActivateIdentifier asks the service for a credential for identifier and
// stores it.
func (p *Policy) ActivateIdentifier(ctx context.Context, identifier string) (State, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	res, err := p.verifier.Verify(ctx, identifier)
	if err != nil {
		return State{}, err
	}
	if !res.Valid || res.Token == "" {
		return State{}, ErrNotEntitled
	}
	now := p.now()
	st := State{
		Version:         StateVersion,
		Activated:       true,
		Identifier:      identifier,
		Plan:            res.Plan,
		Token:           res.Token,
		LastValidatedAt: &now,
	}
	if err := p.store.Save(st); err != nil {
		return State{}, fmt.Errorf("save activation state: %w", err)
	}
	return st, nil
}

// ActivateGiftCode redeems code and stores the resulting credential.
func (p *Policy) ActivateGiftCode(ctx context.Context, code string) (State, error) {
	res, err := p.verifier.RedeemGiftCode(ctx, code)
	if err != nil {
		return State{}, err
	}
	if !res.Valid || res.Token == "" {
		return State{}, ErrNotEntitled
	}
	now := p.now()
	st := State{
		Version:         StateVersion,
		Activated:       true,
		Identifier:      res.Identifier,
		Plan:            res.Plan,
		Token:           res.Token,
		LastValidatedAt: &now,
		ExpiresAt:       res.ExpiresAt,
	}
	if err := p.store.Save(st); err != nil {
		return State{}, fmt.Errorf("save activation state: %w", err)
	}
	return st, nil
}
