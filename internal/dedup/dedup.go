// Package dedup provides the per-epoch seen-key cache backing at-most-once
// event delivery. The cache is cleared on every successful (re)connection:
// a new connection epoch is allowed to redeliver previously seen state.
package dedup

// Cache records event fingerprints for the current connection epoch.
type Cache interface {
	// Seen reports whether the key was already recorded and records it if
	// not (check-and-insert).
	Seen(key string) bool

	// Clear drops every recorded key, starting a fresh epoch.
	Clear()

	// Len returns the number of keys currently recorded.
	Len() int
}
