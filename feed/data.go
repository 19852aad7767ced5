package feed

import "encoding/json"

// Data is an immutable snapshot of a feed's data. It is never mutated in
// place: every operation that changes a feed's contents (delta
// application, a fresh FeedOpenResponse) produces a new Data value and
// discards the old one, satisfying the "emitted feed data is deeply
// immutable" invariant of spec §3. The bytes are unexported and Raw hands
// out a fresh copy on every call, so no holder can change a snapshot.
type Data struct {
	raw json.RawMessage
}

// NewData wraps raw as an immutable snapshot. raw must not be mutated by
// the caller afterwards: NewData keeps it without copying, and only Raw
// hands out copies.
func NewData(raw json.RawMessage) Data {
	return Data{raw: raw}
}

// Raw returns a defensive copy of the underlying JSON bytes, safe for the
// caller to hold onto or mutate without affecting this Data or any other
// holder of the same snapshot.
func (d Data) Raw() json.RawMessage {
	if d.raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(d.raw))
	copy(out, d.raw)
	return out
}

// Equal reports whether two snapshots carry the same bytes.
func (d Data) Equal(other Data) bool {
	return string(d.raw) == string(other.raw)
}

// IsZero reports whether d carries no snapshot at all (as opposed to an
// empty JSON value).
func (d Data) IsZero() bool {
	return d.raw == nil
}
