package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/pcs/internal/storage/pebble"
)

// leaseRecord is the stored state of a held local lock.
type leaseRecord struct {
	Owner       string `json:"owner"`
	AcquiredMs  int64  `json:"acquired_ms"`
	ExpiresAtMs int64  `json:"expires_ms"`
}

// PebbleBackend keeps lock leases in the local store. Records survive a
// restart, and an expired record is taken over by the next acquirer.
type PebbleBackend struct {
	db  *pebblestore.DB
	now func() time.Time
	mu  sync.Mutex
}

// NewPebbleBackend returns a backend over db.
func NewPebbleBackend(db *pebblestore.DB) *PebbleBackend {
	return &PebbleBackend{db: db, now: time.Now}
}

// lockKey format: lock/{key}
func lockKey(key string) []byte { return []byte("lock/" + key) }

func (b *PebbleBackend) get(key string) (*leaseRecord, error) {
	raw, err := b.db.Get(lockKey(key))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var rec leaseRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		// unreadable lease is treated as free
		return nil, nil
	}
	return &rec, nil
}

func (b *PebbleBackend) put(ctx context.Context, key string, rec leaseRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal lease: %w", err)
	}
	return b.db.Update(ctx, func(batch *pebble.Batch) error {
		return batch.Set(lockKey(key), data, nil)
	})
}

// TryAcquire implements Backend.
func (b *PebbleBackend) TryAcquire(ctx context.Context, key, token string, lease time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now().UnixMilli()
	cur, err := b.get(key)
	if err != nil {
		return false, err
	}
	if cur != nil && cur.ExpiresAtMs > now && cur.Owner != token {
		return false, nil
	}
	return true, b.put(ctx, key, leaseRecord{Owner: token, AcquiredMs: now, ExpiresAtMs: now + lease.Milliseconds()})
}

// Renew implements Backend.
func (b *PebbleBackend) Renew(ctx context.Context, key, token string, lease time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, err := b.get(key)
	if err != nil {
		return false, err
	}
	if cur == nil || cur.Owner != token {
		return false, nil
	}
	cur.ExpiresAtMs = b.now().UnixMilli() + lease.Milliseconds()
	return true, b.put(ctx, key, *cur)
}

// Release implements Backend.
func (b *PebbleBackend) Release(ctx context.Context, key, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, err := b.get(key)
	if err != nil || cur == nil || cur.Owner != token {
		return err
	}
	return b.db.Update(ctx, func(batch *pebble.Batch) error {
		return batch.Delete(lockKey(key), nil)
	})
}
