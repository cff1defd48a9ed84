package relation

import (
	"maps"
	"slices"
)

// Tuple maps attribute names to values.
type Tuple map[string]any

// Project returns a copy holding only the named attributes that are present.
func (t Tuple) Project(attrs ...string) Tuple {
	out := make(Tuple, len(attrs))
	for _, a := range attrs {
		if v, ok := t[a]; ok {
			out[a] = v
		}
	}
	return out
}

// With returns a copy of t with the attributes of others merged in, later
// values winning.
func (t Tuple) With(others ...Tuple) Tuple {
	out := maps.Clone(t)
	if out == nil {
		out = Tuple{}
	}
	for _, o := range others {
		maps.Copy(out, o)
	}
	return out
}

// Names returns the attribute names in sorted order.
func (t Tuple) Names() []string {
	return slices.Sorted(maps.Keys(t))
}
