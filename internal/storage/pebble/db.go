package pebblestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	logpkg "github.com/rzbill/pcs/pkg/log"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = pebble.ErrNotFound

// FsyncMode selects when committed writes reach the WAL on disk.
type FsyncMode int

const (
	// FsyncModeUnspecified behaves like FsyncModeInterval with the default
	// interval.
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs every commit. A queue delete that returned nil
	// survives a crash.
	FsyncModeAlways
	// FsyncModeInterval lets Pebble coalesce syncs of commits that land
	// within FsyncInterval of each other.
	FsyncModeInterval
	// FsyncModeNever leaves syncing to Pebble. A crash may redeliver
	// messages that were already deleted.
	FsyncModeNever
)

const defaultSyncInterval = 5 * time.Millisecond

// Options configures Open.
type Options struct {
	DataDir       string
	Fsync         FsyncMode
	FsyncInterval time.Duration
	// PebbleOptions is passed through when set.
	PebbleOptions *pebble.Options
	// Logger receives Pebble's flush and compaction events at debug level.
	Logger logpkg.Logger
}

// DB is the embedded store shared by the queue, the lease lock, the
// dead-letter archive and the dependency-flow ledger.
type DB struct {
	inner *pebble.DB
	wo    *pebble.WriteOptions
}

type eventLogger struct{ l logpkg.Logger }

func (e eventLogger) Infof(format string, args ...interface{}) {
	e.l.Debug(fmt.Sprintf(format, args...))
}

func (e eventLogger) Fatalf(format string, args ...interface{}) {
	e.l.Fatal(fmt.Sprintf(format, args...))
}

// Open creates or opens the database in opts.DataDir.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: Options.DataDir is required")
	}
	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	if opts.Logger != nil {
		po.Logger = eventLogger{l: opts.Logger.With(logpkg.Component("pebble"))}
	}

	wo := pebble.NoSync
	switch opts.Fsync {
	case FsyncModeAlways:
		wo = pebble.Sync
	case FsyncModeNever:
	default:
		interval := opts.FsyncInterval
		if interval <= 0 {
			interval = defaultSyncInterval
		}
		po.WALMinSyncInterval = func() time.Duration { return interval }
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, fmt.Errorf("pebble: open %s: %w", opts.DataDir, err)
	}
	return &DB{inner: inner, wo: wo}, nil
}

// Close closes the database. It is safe on a nil DB.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

// NewBatch returns a batch to be committed with CommitBatch.
func (db *DB) NewBatch() *pebble.Batch { return db.inner.NewBatch() }

// CommitBatch commits b under the fsync policy. The caller still closes b.
func (db *DB) CommitBatch(ctx context.Context, b *pebble.Batch) error {
	if b == nil {
		return errors.New("pebble: nil batch")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Commit(db.wo)
}

// Update runs fn on a fresh batch and commits it when fn returns nil.
func (db *DB) Update(ctx context.Context, fn func(b *pebble.Batch) error) error {
	b := db.inner.NewBatch()
	defer b.Close()
	if err := fn(b); err != nil {
		return err
	}
	return db.CommitBatch(ctx, b)
}

// Set writes one key.
func (db *DB) Set(key, value []byte) error {
	return db.Update(context.Background(), func(b *pebble.Batch) error { return b.Set(key, value, nil) })
}

// Delete removes one key.
func (db *DB) Delete(key []byte) error {
	return db.Update(context.Background(), func(b *pebble.Batch) error { return b.Delete(key, nil) })
}

// Get returns a copy of the value for key, or ErrNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	val, closer, err := db.inner.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

// NewIter returns a raw iterator.
func (db *DB) NewIter(opts *pebble.IterOptions) (*pebble.Iterator, error) {
	return db.inner.NewIter(opts)
}

// CompactRange compacts [start, end) so tombstones left by deleted messages
// stop slowing down scans.
func (db *DB) CompactRange(start, end []byte) error {
	return db.inner.Compact(start, end, true)
}

// ScanPrefix calls fn for each key under prefix in key order until fn
// returns false. key and value are only valid during the call.
func (db *DB) ScanPrefix(prefix []byte, fn func(key, value []byte) bool) error {
	it, err := db.inner.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: PrefixUpperBound(prefix)})
	if err != nil {
		return err
	}
	for ok := it.First(); ok; ok = it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	if err := it.Error(); err != nil {
		_ = it.Close()
		return err
	}
	return it.Close()
}

// Probe round-trips a sentinel key; warm-up and health checks use it.
func (db *DB) Probe(ctx context.Context) error {
	key := []byte("__pcs/probe")
	val := []byte(time.Now().UTC().Format(time.RFC3339Nano))
	if err := db.Update(ctx, func(b *pebble.Batch) error { return b.Set(key, val, nil) }); err != nil {
		return err
	}
	got, err := db.Get(key)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, val) {
		return errors.New("pebble: probe read mismatch")
	}
	return nil
}

// PrefixUpperBound returns the smallest key greater than every key with the
// given prefix, or nil when there is none.
func PrefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
