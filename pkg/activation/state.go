// Package activation implements the client side of entitlement checks: the
// locally held credential and the policy deciding when to revalidate it.
package activation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StateVersion is the current on-disk format.
const StateVersion = 2

// State is the locally persisted activation record.
type State struct {
	Version    int    `json:"version"`
	Activated  bool   `json:"activated"`
	Identifier string `json:"identifier,omitempty"`
	Plan       string `json:"plan,omitempty"`
	Token      string `json:"token,omitempty"`
	// GiftCode is kept only for activations migrated from the legacy format,
	// where the redeemed code was the sole proof of entitlement.
	GiftCode        string     `json:"giftCode,omitempty"`
	LastValidatedAt *time.Time `json:"lastValidatedAt,omitempty"`
	// ExpiresAt is a hard expiry; past it the activation is dropped without
	// asking the server.
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// HasCredential reports whether the state carries a signed token.
func (s State) HasCredential() bool {
	return strings.TrimSpace(s.Token) != ""
}

// Expired reports whether a hard expiry has passed.
func (s State) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}

// Cleared returns an inactive state in the current format.
func Cleared() State {
	return State{Version: StateVersion}
}

// legacyState is the flat record written by releases before credentials.
type legacyState struct {
	IsActivated    bool   `json:"isActivated"`
	ActivatedEmail string `json:"activatedEmail"`
	GiftCode       string `json:"giftCode"`
}

// Migrate decodes raw in any known format and returns it in the current
// one. migrated is true when raw was in an older format and should be
// written back.
func Migrate(raw []byte) (st State, migrated bool, err error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Cleared(), false, nil
	}

	var versioned struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &versioned); err != nil {
		return State{}, false, fmt.Errorf("decode activation state: %w", err)
	}

	switch {
	case versioned.Version == StateVersion:
		if err := json.Unmarshal(raw, &st); err != nil {
			return State{}, false, fmt.Errorf("decode activation state: %w", err)
		}
		return st, false, nil
	case versioned.Version > StateVersion:
		return State{}, false, fmt.Errorf("activation state version %d is newer than supported %d", versioned.Version, StateVersion)
	}

	var legacy legacyState
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return State{}, false, fmt.Errorf("decode legacy activation state: %w", err)
	}
	st = Cleared()
	st.Activated = legacy.IsActivated
	if legacy.IsActivated {
		st.Identifier = strings.ToLower(strings.TrimSpace(legacy.ActivatedEmail))
		st.GiftCode = strings.TrimSpace(legacy.GiftCode)
	}
	return st, true, nil
}
