// Package extent describes structured index-space extents and the piece/ghost
// decomposition of a whole extent into parallel pieces.
package extent

import (
	"fmt"
)

// Extent is a structured point-index extent laid out as
// {xmin, xmax, ymin, ymax, zmin, zmax}. Bounds are inclusive.
type Extent [6]int

// Empty is the canonical empty extent.
var Empty = Extent{0, -1, 0, -1, 0, -1}

// New returns the extent spanning the given bounds.
func New(xmin, xmax, ymin, ymax, zmin, zmax int) Extent {
	return Extent{xmin, xmax, ymin, ymax, zmin, zmax}
}

// FromSlice converts a 6-element slice into an Extent.
func FromSlice(v []int) (Extent, error) {
	if len(v) != 6 {
		return Empty, fmt.Errorf("extent needs 6 values, got %d", len(v))
	}
	var e Extent
	copy(e[:], v)
	return e, nil
}

// Slice returns the extent as a freshly allocated slice.
func (e Extent) Slice() []int {
	out := make([]int, 6)
	copy(out, e[:])
	return out
}

// IsEmpty reports whether the extent contains no points.
func (e Extent) IsEmpty() bool {
	return e[1] < e[0] || e[3] < e[2] || e[5] < e[4]
}

// Min returns the lower bound along axis.
func (e Extent) Min(axis int) int { return e[2*axis] }

// Max returns the upper bound along axis.
func (e Extent) Max(axis int) int { return e[2*axis+1] }

// Width returns the number of cells along axis (max - min). Degenerate
// axes have width zero; empty extents report -1 or less.
func (e Extent) Width(axis int) int { return e[2*axis+1] - e[2*axis] }

// Dimensions returns the number of points along each axis.
func (e Extent) Dimensions() [3]int {
	if e.IsEmpty() {
		return [3]int{}
	}
	return [3]int{e[1] - e[0] + 1, e[3] - e[2] + 1, e[5] - e[4] + 1}
}

// NumPoints returns the number of points in the extent.
func (e Extent) NumPoints() int {
	d := e.Dimensions()
	return d[0] * d[1] * d[2]
}

// CellDims returns the number of cells along each axis. A degenerate axis
// counts as one cell layer so that 2D and 1D extents still carry cells.
func (e Extent) CellDims() [3]int {
	if e.IsEmpty() {
		return [3]int{}
	}
	var c [3]int
	for a := 0; a < 3; a++ {
		c[a] = max(e.Width(a), 1)
	}
	return c
}

// NumCells returns the number of cells in the extent.
func (e Extent) NumCells() int {
	c := e.CellDims()
	return c[0] * c[1] * c[2]
}

// Contains reports whether o lies entirely within e. The empty extent is
// contained by every extent.
func (e Extent) Contains(o Extent) bool {
	if o.IsEmpty() {
		return true
	}
	if e.IsEmpty() {
		return false
	}
	for a := 0; a < 3; a++ {
		if o.Min(a) < e.Min(a) || o.Max(a) > e.Max(a) {
			return false
		}
	}
	return true
}

// Intersect returns the point-wise intersection of two extents.
func (e Extent) Intersect(o Extent) Extent {
	if e.IsEmpty() || o.IsEmpty() {
		return Empty
	}
	var r Extent
	for a := 0; a < 3; a++ {
		r[2*a] = max(e.Min(a), o.Min(a))
		r[2*a+1] = min(e.Max(a), o.Max(a))
	}
	if r.IsEmpty() {
		return Empty
	}
	return r
}

// Union returns the bounding extent of e and o.
func (e Extent) Union(o Extent) Extent {
	if e.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return e
	}
	var r Extent
	for a := 0; a < 3; a++ {
		r[2*a] = min(e.Min(a), o.Min(a))
		r[2*a+1] = max(e.Max(a), o.Max(a))
	}
	return r
}

// Grow widens every non-degenerate axis by n cells on both sides.
func (e Extent) Grow(n int) Extent {
	if e.IsEmpty() || n == 0 {
		return e
	}
	r := e
	for a := 0; a < 3; a++ {
		if e.Width(a) == 0 {
			continue
		}
		r[2*a] -= n
		r[2*a+1] += n
	}
	return r
}

// Clip restricts e to bounds. The result is Empty when they do not meet.
func (e Extent) Clip(bounds Extent) Extent {
	return e.Intersect(bounds)
}

// OverlapsCells reports whether the two extents share at least one cell.
// Extents that only touch along a boundary point plane do not overlap.
func (e Extent) OverlapsCells(o Extent) bool {
	if e.IsEmpty() || o.IsEmpty() {
		return false
	}
	for a := 0; a < 3; a++ {
		lo := max(e.Min(a), o.Min(a))
		hi := min(e.Max(a), o.Max(a))
		if hi < lo {
			return false
		}
		if hi == lo && (e.Width(a) > 0 || o.Width(a) > 0) {
			return false
		}
	}
	return true
}

// LongestAxis returns the axis with the largest width. Ties resolve to the
// lowest axis index.
func (e Extent) LongestAxis() int {
	best := 0
	for a := 1; a < 3; a++ {
		if e.Width(a) > e.Width(best) {
			best = a
		}
	}
	return best
}

// Validate reports whether the extent is well formed and non-empty.
func (e Extent) Validate() error {
	if e.IsEmpty() {
		return fmt.Errorf("extent %s is empty", e)
	}
	return nil
}

func (e Extent) String() string {
	if e.IsEmpty() {
		return "[empty]"
	}
	return fmt.Sprintf("[%d,%d %d,%d %d,%d]", e[0], e[1], e[2], e[3], e[4], e[5])
}
