package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/entitlements"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/store"
)

// Store persists entitlement state in a single SQLite file.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open entitlement db: %w", err)
	}
	// One connection serialises writers, which is what makes Update atomic.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entitlement_records (
		identifier   TEXT PRIMARY KEY,
		plan         TEXT NOT NULL,
		activated_at INTEGER NOT NULL,
		revoked_at   INTEGER,
		customer_id  TEXT NOT NULL DEFAULT '',
		source       TEXT NOT NULL DEFAULT '',
		updated_at   INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS gift_codes (
		hash       TEXT PRIMARY KEY,
		expires_at INTEGER,
		revoked    INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		note       TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS customers (
		customer_id TEXT PRIMARY KEY,
		identifier  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entitlement_records_customer_id ON entitlement_records(customer_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init entitlement schema: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) Get(ctx context.Context, identifier string) (entitlements.Record, bool, error) {
	return getRecord(ctx, s.db, identifier)
}

func (s *Store) Put(ctx context.Context, identifier string, rec entitlements.Record) error {
	return putRecord(ctx, s.db, identifier, rec)
}

func (s *Store) Update(ctx context.Context, identifier string, fn store.UpdateFunc) (entitlements.Record, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return entitlements.Record{}, false, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, found, err := getRecord(ctx, tx, identifier)
	if err != nil {
		return entitlements.Record{}, false, err
	}
	var existing *entitlements.Record
	if found {
		existing = &current
	}

	next, write := fn(existing)
	if !write {
		return current, false, nil
	}
	if err := putRecord(ctx, tx, identifier, next); err != nil {
		return entitlements.Record{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return entitlements.Record{}, false, fmt.Errorf("commit update: %w", err)
	}
	return next, true, nil
}

func getRecord(ctx context.Context, q queryer, identifier string) (entitlements.Record, bool, error) {
	var (
		rec         entitlements.Record
		plan        string
		activatedAt int64
		revokedAt   sql.NullInt64
		updatedAt   int64
	)
	err := q.QueryRowContext(ctx, `SELECT plan, activated_at, revoked_at, customer_id, source, updated_at
		FROM entitlement_records WHERE identifier = ?`, identifier).
		Scan(&plan, &activatedAt, &revokedAt, &rec.CustomerID, &rec.Source, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return entitlements.Record{}, false, nil
	}
	if err != nil {
		return entitlements.Record{}, false, fmt.Errorf("get record: %w", err)
	}
	rec.Plan = entitlements.Plan(plan)
	rec.ActivatedAt = fromUnixMilli(activatedAt)
	rec.UpdatedAt = fromUnixMilli(updatedAt)
	rec.RevokedAt = nullableTime(revokedAt)
	return rec, true, nil
}

func putRecord(ctx context.Context, q queryer, identifier string, rec entitlements.Record) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO entitlement_records (identifier, plan, activated_at, revoked_at, customer_id, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			plan = excluded.plan,
			activated_at = excluded.activated_at,
			revoked_at = excluded.revoked_at,
			customer_id = excluded.customer_id,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		identifier, string(rec.Plan), rec.ActivatedAt.UnixMilli(), nullableUnixMilli(rec.RevokedAt),
		rec.CustomerID, rec.Source, rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

func (s *Store) GetGiftCode(ctx context.Context, hash string) (entitlements.GiftCode, bool, error) {
	var (
		code      entitlements.GiftCode
		expiresAt sql.NullInt64
		revoked   int
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT hash, expires_at, revoked, created_at, note
		FROM gift_codes WHERE hash = ?`, hash).
		Scan(&code.Hash, &expiresAt, &revoked, &createdAt, &code.Note)
	if errors.Is(err, sql.ErrNoRows) {
		return entitlements.GiftCode{}, false, nil
	}
	if err != nil {
		return entitlements.GiftCode{}, false, fmt.Errorf("get gift code: %w", err)
	}
	code.ExpiresAt = nullableTime(expiresAt)
	code.Revoked = revoked != 0
	code.CreatedAt = fromUnixMilli(createdAt)
	return code, true, nil
}

func (s *Store) PutGiftCode(ctx context.Context, code entitlements.GiftCode) error {
	if code.Hash == "" {
		return fmt.Errorf("gift code hash is required")
	}
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gift_codes (hash, expires_at, revoked, created_at, note)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			expires_at = excluded.expires_at,
			revoked = excluded.revoked,
			note = excluded.note`,
		code.Hash, nullableUnixMilli(code.ExpiresAt), boolToInt(code.Revoked), code.CreatedAt.UnixMilli(), code.Note,
	)
	if err != nil {
		return fmt.Errorf("put gift code: %w", err)
	}
	return nil
}

func (s *Store) CustomerIdentifier(ctx context.Context, customerID string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT identifier FROM customers WHERE customer_id = ?`, customerID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get customer: %w", err)
	}
	return id, true, nil
}

func (s *Store) SaveCustomer(ctx context.Context, customerID, identifier string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (customer_id, identifier) VALUES (?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET identifier = excluded.identifier`,
		customerID, identifier)
	if err != nil {
		return fmt.Errorf("save customer: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func fromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromUnixMilli(v.Int64)
	return &t
}

func nullableUnixMilli(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
