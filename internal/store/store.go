// Package store defines the key-value persistence contract behind the
// entitlement cache. Every backend guarantees that a single operation on one
// key is atomic; nothing spans keys.
package store

import (
	"context"
	"errors"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/entitlements"
)

// ErrClosed is returned by backends after Close.
var ErrClosed = errors.New("store closed")

// UpdateFunc receives the current record (nil when absent) and returns the
// record to write. Returning false skips the write.
type UpdateFunc func(existing *entitlements.Record) (entitlements.Record, bool)

// Store persists entitlement records, gift codes and the customer index in
// separate namespaces.
//
// A non-nil error always means the backend could not answer. Callers must not
// read it as "absent"; that is what found=false is for.
type Store interface {
	Get(ctx context.Context, identifier string) (entitlements.Record, bool, error)
	Put(ctx context.Context, identifier string, rec entitlements.Record) error
	// Update performs an atomic read-modify-write on one identifier and
	// returns the record now stored, plus whether fn asked for a write.
	Update(ctx context.Context, identifier string, fn UpdateFunc) (entitlements.Record, bool, error)

	GetGiftCode(ctx context.Context, hash string) (entitlements.GiftCode, bool, error)
	PutGiftCode(ctx context.Context, code entitlements.GiftCode) error

	CustomerIdentifier(ctx context.Context, customerID string) (string, bool, error)
	SaveCustomer(ctx context.Context, customerID, identifier string) error

	Ping(ctx context.Context) error
	Close() error
}
