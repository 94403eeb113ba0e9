// Package pebblestore is the embedded Pebble store of a worker process. It
// applies one fsync policy to every commit and adds the prefix helpers the
// queue, lock, dead-letter and ledger packages share.
//
//	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	err = db.Update(ctx, func(b *pebble.Batch) error {
//	    return b.Set([]byte("k"), []byte("v"), nil)
//	})
package pebblestore
