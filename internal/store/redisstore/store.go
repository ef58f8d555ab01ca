// Package redisstore implements the entitlement store on Redis. Values are JSON
// documents under prefixed keys; read-modify-write uses WATCH/MULTI so that a
// concurrent writer on the same key forces a retry instead of a lost update.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mjj2333/escortcrm-pwa-sub001/internal/entitlements"
	"github.com/mjj2333/escortcrm-pwa-sub001/internal/store"
)

// DefaultKeyPrefix namespaces every key the store writes.
const DefaultKeyPrefix = "entitlements:"

const maxUpdateRetries = 8

// Store is a Redis-backed store.Store.
type Store struct {
	client *redis.Client
	prefix string
	owned  bool
}

var _ store.Store = (*Store)(nil)

// Open connects using a redis:// URL. The returned store owns the client.
func Open(ctx context.Context, rawURL, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", opts.Addr).Msg("Redis not reachable at startup, continuing")
	}
	s := New(client, prefix)
	s.owned = true
	return s, nil
}

// New wraps an existing client. Close will not close a client it did not open.
func New(client *redis.Client, prefix string) *Store {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Client exposes the underlying client so other components (the rate
// limiter) can share the connection pool.
func (s *Store) Client() *redis.Client {
	return s.client
}

func (s *Store) recordKey(identifier string) string { return s.prefix + "record:" + identifier }
func (s *Store) giftKey(hash string) string         { return s.prefix + "gift:" + hash }
func (s *Store) customerKey(id string) string       { return s.prefix + "customer:" + id }

func (s *Store) Get(ctx context.Context, identifier string) (entitlements.Record, bool, error) {
	var rec entitlements.Record
	found, err := s.getJSON(ctx, s.client, s.recordKey(identifier), &rec)
	return rec, found, err
}

func (s *Store) Put(ctx context.Context, identifier string, rec entitlements.Record) error {
	return s.setJSON(ctx, s.recordKey(identifier), rec)
}

func (s *Store) Update(ctx context.Context, identifier string, fn store.UpdateFunc) (entitlements.Record, bool, error) {
	key := s.recordKey(identifier)

	var (
		result  entitlements.Record
		written bool
	)
	txf := func(tx *redis.Tx) error {
		var current entitlements.Record
		found, err := s.getJSON(ctx, tx, key, &current)
		if err != nil {
			return err
		}
		var existing *entitlements.Record
		if found {
			existing = &current
		}

		next, write := fn(existing)
		if !write {
			result, written = current, false
			return nil
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result, written = next, true
		return nil
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, written, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return entitlements.Record{}, false, fmt.Errorf("update %s: %w", identifier, err)
	}
	return entitlements.Record{}, false, fmt.Errorf("update %s: too much contention", identifier)
}

func (s *Store) GetGiftCode(ctx context.Context, hash string) (entitlements.GiftCode, bool, error) {
	var code entitlements.GiftCode
	found, err := s.getJSON(ctx, s.client, s.giftKey(hash), &code)
	return code, found, err
}

func (s *Store) PutGiftCode(ctx context.Context, code entitlements.GiftCode) error {
	if code.Hash == "" {
		return fmt.Errorf("gift code hash is required")
	}
	return s.setJSON(ctx, s.giftKey(code.Hash), code)
}

func (s *Store) CustomerIdentifier(ctx context.Context, customerID string) (string, bool, error) {
	id, err := s.client.Get(ctx, s.customerKey(customerID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get customer %s: %w", customerID, err)
	}
	return id, true, nil
}

func (s *Store) SaveCustomer(ctx context.Context, customerID, identifier string) error {
	if err := s.client.Set(ctx, s.customerKey(customerID), identifier, 0).Err(); err != nil {
		return fmt.Errorf("save customer %s: %w", customerID, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	if s == nil || s.client == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *Store) getJSON(ctx context.Context, c redis.Cmdable, key string, out any) (bool, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
