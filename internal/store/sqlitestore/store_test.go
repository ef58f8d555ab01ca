package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/entitlements"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/store"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "entitlements.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newTestStore(t) })
}

func TestRecordsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entitlements.db")
	ctx := context.Background()
	activated := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	want := entitlements.Record{Plan: entitlements.PlanLifetime, ActivatedAt: activated, UpdatedAt: activated}
	if err := s.Put(ctx, "a@example.com", want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, found, err := s.Get(ctx, "a@example.com")
	if err != nil || !found {
		t.Fatalf("Get after reopen: found=%v err=%v", found, err)
	}
	storetest.AssertRecordEqual(t, want, got)
}

func TestClosedStoreReturnsError(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "entitlements.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = s.Close()
	if _, _, err := s.Get(context.Background(), "a@example.com"); err == nil {
		t.Fatal("expected error from closed store")
	}
}
