// Package store defines the ordered-range-scan key/value contract spec.md
// §1 assumes as an external persistence layer ("a key-value store with
// ordered-range scans") and provides two implementations: an in-memory one
// for tests, and a Pebble-backed one for the daemon, grounded on the
// teacher's own use of github.com/cockroachdb/pebble in
// cmd/evm-node/chaincmd/chaincmd.go for block import/export.
package store

// KV is the minimal ordered key/value contract every component above it
// (internal/slotindex, internal/registry, internal/lifecycle,
// internal/dispatcher) is written
// against. Keys sort lexicographically by byte value, which is what lets
// internal/slotindex read "the first key >= current height" cheaply
// (spec.md §4.2).
type KV interface {
	Get(key []byte) ([]byte, bool, error)
	Set(key, value []byte) error
	Delete(key []byte) error

	// ScanPrefix iterates all keys with the given prefix in ascending
	// order, calling fn for each. Iteration stops early if fn returns
	// false, or on the first error fn returns.
	ScanPrefix(prefix []byte, fn func(key, value []byte) (bool, error)) error

	// NewBatch returns a write batch that is applied atomically on Commit,
	// the mechanism handlers use to satisfy spec.md §5/§7's "validate,
	// mutate, commit atomically; no partial writes" rule.
	NewBatch() Batch

	Close() error
}

// Batch stages writes for atomic commit.
type Batch interface {
	Set(key, value []byte)
	Delete(key []byte)
	Commit() error
}
