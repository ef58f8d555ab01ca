// Package memory is an in-process store used for tests and single-node
// development runs.
package memory

import (
	"context"
	"sync"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/entitlements"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/store"
)

// Store keeps everything in maps guarded by one mutex.
type Store struct {
	mu        sync.Mutex
	records   map[string]entitlements.Record
	gifts     map[string]entitlements.GiftCode
	customers map[string]string
	closed    bool

	// failWith, when set, is returned by every operation.
	failWith error
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		records:   make(map[string]entitlements.Record),
		gifts:     make(map[string]entitlements.GiftCode),
		customers: make(map[string]string),
	}
}

// SetFailure makes every subsequent call fail with err (nil restores normal operation).
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func (s *Store) check() error {
	if s.closed {
		return store.ErrClosed
	}
	return s.failWith
}

func (s *Store) Get(_ context.Context, identifier string) (entitlements.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return entitlements.Record{}, false, err
	}
	rec, ok := s.records[identifier]
	return rec, ok, nil
}

func (s *Store) Put(_ context.Context, identifier string, rec entitlements.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.records[identifier] = rec
	return nil
}

func (s *Store) Update(_ context.Context, identifier string, fn store.UpdateFunc) (entitlements.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return entitlements.Record{}, false, err
	}

	var existing *entitlements.Record
	if rec, ok := s.records[identifier]; ok {
		existing = &rec
	}
	next, write := fn(existing)
	if !write {
		if existing != nil {
			return *existing, false, nil
		}
		return entitlements.Record{}, false, nil
	}
	s.records[identifier] = next
	return next, true, nil
}

func (s *Store) GetGiftCode(_ context.Context, hash string) (entitlements.GiftCode, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return entitlements.GiftCode{}, false, err
	}
	code, ok := s.gifts[hash]
	return code, ok, nil
}

func (s *Store) PutGiftCode(_ context.Context, code entitlements.GiftCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.gifts[code.Hash] = code
	return nil
}

func (s *Store) CustomerIdentifier(_ context.Context, customerID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return "", false, err
	}
	id, ok := s.customers[customerID]
	return id, ok, nil
}

func (s *Store) SaveCustomer(_ context.Context, customerID, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.customers[customerID] = identifier
	return nil
}

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
