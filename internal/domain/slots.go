package domain

import "maps"

// SlotMap holds dialogue slots keyed by a server-defined vocabulary.
// A nil value is an explicitly absent slot and encodes as JSON null.
type SlotMap map[string]*string

// Clone returns a copy that shares no pointers with m.
func (m SlotMap) Clone() SlotMap {
	if m == nil {
		return SlotMap{}
	}
	out := make(SlotMap, len(m))
	for k, v := range m {
		if v == nil {
			out[k] = nil
			continue
		}
		s := *v
		out[k] = &s
	}
	return out
}

// Value returns the slot value and whether it is set.
func (m SlotMap) Value(key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// Equal reports whether two slot maps hold the same keys and values.
func (m SlotMap) Equal(other SlotMap) bool {
	return maps.EqualFunc(m, other, func(a, b *string) bool {
		if a == nil || b == nil {
			return a == nil && b == nil
		}
		return *a == *b
	})
}

// Slot is a convenience for building set slot values.
func Slot(v string) *string {
	return &v
}
