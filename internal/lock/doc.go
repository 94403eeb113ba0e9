// Package lock provides the named mutual exclusion used to serialize work
// items that share a synchronization key.
//
// Locker.ExecuteWithLock acquires the key (retrying until AcquireTimeout),
// keeps the lease alive while fn runs, and releases it on every exit path.
// A holder that dies simply stops renewing, so the key frees itself once the
// lease lapses.
//
// Backends:
//   - RedisBackend: SET NX PX with a per-acquisition token; renew and release
//     are compare-and-act Lua scripts. Safe across processes and hosts.
//   - PebbleBackend: lease records in the local Pebble store guarded by a
//     process mutex. Safe across workers inside one process only.
package lock
