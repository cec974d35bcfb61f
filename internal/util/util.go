// Package util holds small generic helpers shared across the engine.
package util

import (
	"cmp"
	"slices"

	"golang.org/x/exp/constraints"
	"golang.org/x/exp/maps"
)

// HasBits reports whether every bit of want is set in t.
func HasBits[N constraints.Unsigned](t, want N) bool {
	return (t & want) == want
}

// SortedKeys returns the map's keys in ascending order. Iterating maps
// through this keeps destruction and trace output deterministic.
func SortedKeys[M ~map[K]V, K cmp.Ordered, V any](m M) []K {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
