package dataset

import (
	"fmt"
	"slices"
)

// Well-known array names.
const (
	// GhostArray flags duplicated cells or points; the value is the ghost
	// layer (0 for owned entries).
	GhostArray = "ghost_level"

	// GlobalIDArray carries process-independent identifiers.
	GlobalIDArray = "global_id"
)

// Array is a named tuple array of float64 components.
type Array struct {
	name       string
	components int
	data       []float64
	frozen     bool
}

// NewArray allocates an array of n tuples with the given component count.
func NewArray(name string, components, n int) *Array {
	if components < 1 {
		components = 1
	}
	return &Array{name: name, components: components, data: make([]float64, n*components)}
}

// NewArrayFrom wraps a copy of values as an array.
func NewArrayFrom(name string, components int, values []float64) (*Array, error) {
	if components < 1 || len(values)%components != 0 {
		return nil, fmt.Errorf("array %q: %d values do not form %d-component tuples", name, len(values), components)
	}
	return &Array{name: name, components: components, data: slices.Clone(values)}, nil
}

// Name returns the array name.
func (a *Array) Name() string { return a.name }

// Components returns the number of components per tuple.
func (a *Array) Components() int { return a.components }

// Len returns the number of tuples.
func (a *Array) Len() int { return len(a.data) / a.components }

// At returns component c of tuple i.
func (a *Array) At(i, c int) float64 { return a.data[i*a.components+c] }

// Value returns the first component of tuple i.
func (a *Array) Value(i int) float64 { return a.data[i*a.components] }

// Tuple returns a copy of tuple i.
func (a *Array) Tuple(i int) []float64 {
	return slices.Clone(a.data[i*a.components : (i+1)*a.components])
}

// Values returns a copy of all components.
func (a *Array) Values() []float64 { return slices.Clone(a.data) }

// Set stores component c of tuple i.
func (a *Array) Set(i, c int, v float64) {
	a.checkMutable()
	a.data[i*a.components+c] = v
}

// SetValue stores the first component of tuple i.
func (a *Array) SetValue(i int, v float64) { a.Set(i, 0, v) }

// Append adds one tuple.
func (a *Array) Append(tuple ...float64) {
	a.checkMutable()
	if len(tuple) != a.components {
		panic(fmt.Sprintf("dataset: array %q expects %d components, got %d", a.name, a.components, len(tuple)))
	}
	a.data = append(a.data, tuple...)
}

// Range returns the minimum and maximum of component c.
func (a *Array) Range(c int) (lo, hi float64) {
	n := a.Len()
	if n == 0 {
		return 0, 0
	}
	lo, hi = a.At(0, c), a.At(0, c)
	for i := 1; i < n; i++ {
		v := a.At(i, c)
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}

func (a *Array) clone() *Array {
	return &Array{name: a.name, components: a.components, data: slices.Clone(a.data)}
}

func (a *Array) checkMutable() {
	if a.frozen {
		panic(fmt.Sprintf("dataset: array %q belongs to a published data object", a.name))
	}
}

// Attributes is an ordered set of named arrays attached to points or cells.
type Attributes struct {
	arrays []*Array
	frozen bool
}

// NewAttributes returns an empty attribute set.
func NewAttributes() *Attributes { return &Attributes{} }

// Add inserts or replaces the array with a's name.
func (at *Attributes) Add(a *Array) {
	if at.frozen {
		panic(fmt.Sprintf("dataset: cannot add array %q to a published data object", a.name))
	}
	for i, existing := range at.arrays {
		if existing.name == a.name {
			at.arrays[i] = a
			return
		}
	}
	at.arrays = append(at.arrays, a)
}

// Get returns the array called name.
func (at *Attributes) Get(name string) (*Array, bool) {
	for _, a := range at.arrays {
		if a.name == name {
			return a, true
		}
	}
	return nil, false
}

// Remove deletes the array called name.
func (at *Attributes) Remove(name string) {
	if at.frozen {
		panic(fmt.Sprintf("dataset: cannot remove array %q from a published data object", name))
	}
	at.arrays = slices.DeleteFunc(at.arrays, func(a *Array) bool { return a.name == name })
}

// Names returns the array names in insertion order.
func (at *Attributes) Names() []string {
	names := make([]string, len(at.arrays))
	for i, a := range at.arrays {
		names[i] = a.name
	}
	return names
}

// Len returns the number of arrays.
func (at *Attributes) Len() int { return len(at.arrays) }

func (at *Attributes) clone() *Attributes {
	out := &Attributes{arrays: make([]*Array, len(at.arrays))}
	for i, a := range at.arrays {
		out.arrays[i] = a.clone()
	}
	return out
}

func (at *Attributes) freeze() {
	at.frozen = true
	for _, a := range at.arrays {
		a.frozen = true
	}
}
