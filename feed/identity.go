// Package feed implements feed identity, delta application and hash
// verification — the bookkeeping the Conversation needs to turn a
// FeedAction's deltas into a new, verified, deeply-immutable snapshot.
package feed

import (
	"sort"
	"strings"

	"golang.org/x/exp/constraints"
)

// Identity is a feed's (name, args) pair, per spec §3.
type Identity struct {
	Name string
	Args map[string]string
}

// SortedKeys returns the keys of m in ascending order. It is generic over
// any ordered key type so the same helper serves both feed argument maps
// (string keys) and any other ordered index this package builds,
// generalizing the numeric-codec generics of the teacher's AVP package
// (golang.org/x/exp/constraints).
func SortedKeys[K constraints.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Serial derives the canonical serial of a feed identity: the name, then
// each argument in sorted key order as a NUL byte, the key, a 0x01 byte
// and the value. Two identities with equal serials
// are the same feed (spec §3).
func (id Identity) Serial() string {
	var b strings.Builder
	b.WriteString(id.Name)
	for _, k := range SortedKeys(id.Args) {
		b.WriteByte('\x00')
		b.WriteString(k)
		b.WriteByte('\x01')
		b.WriteString(id.Args[k])
	}
	return b.String()
}
