package extent

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidPiece is wrapped by every piece request that cannot be satisfied
// against a whole extent.
var ErrInvalidPiece = errors.New("invalid piece request")

// Piece identifies one of Count disjoint partitions of a dataset together with
// the halo depth requested around it.
type Piece struct {
	Index      int `json:"index" yaml:"index"`
	Count      int `json:"count" yaml:"count"`
	GhostLevel int `json:"ghost_level" yaml:"ghost_level"`
}

// WholePiece is the request for the entire dataset without ghosts.
var WholePiece = Piece{Index: 0, Count: 1}

// Validate checks the piece numbering.
func (p Piece) Validate() error {
	if p.Count < 1 {
		return fmt.Errorf("%w: number of pieces %d < 1", ErrInvalidPiece, p.Count)
	}
	if p.Index < 0 || p.Index >= p.Count {
		return fmt.Errorf("%w: piece %d out of range [0,%d)", ErrInvalidPiece, p.Index, p.Count)
	}
	if p.GhostLevel < 0 {
		return fmt.Errorf("%w: negative ghost level %d", ErrInvalidPiece, p.GhostLevel)
	}
	return nil
}

// Satisfies reports whether data produced for p can serve a request for want:
// same partition, at least as many ghost layers.
func (p Piece) Satisfies(want Piece) bool {
	return p.Index == want.Index && p.Count == want.Count && p.GhostLevel >= want.GhostLevel
}

func (p Piece) String() string {
	return fmt.Sprintf("%d/%d+%d", p.Index, p.Count, p.GhostLevel)
}

// ComputePieceExtent returns the extent of one piece of whole split into
// numPieces pieces, grown by ghostLevel cells and clipped to whole.
//
// The split is a recursive bisection along the longest remaining axis.
// Adjacent pieces share their boundary point plane so their cells partition
// whole exactly. Pieces that receive no cells are Empty.
func ComputePieceExtent(whole Extent, piece, numPieces, ghostLevel int) (Extent, error) {
	if whole.IsEmpty() {
		return Empty, fmt.Errorf("%w: whole extent %s is empty", ErrInvalidPiece, whole)
	}
	if err := (Piece{Index: piece, Count: numPieces, GhostLevel: ghostLevel}).Validate(); err != nil {
		return Empty, err
	}

	ext := splitExtent(whole, piece, numPieces)
	if ext.IsEmpty() {
		return Empty, nil
	}
	if ghostLevel > 0 {
		ext = ext.Grow(ghostLevel).Clip(whole)
	}
	return ext, nil
}

func splitExtent(ext Extent, piece, numPieces int) Extent {
	whole := ext
	for numPieces > 1 {
		axis := ext.LongestAxis()
		size := ext.Width(axis)
		if size < 1 {
			// nothing left to cut
			if piece != 0 {
				return Empty
			}
			break
		}
		firstHalf := numPieces / 2
		mid := ext.Min(axis) + size*firstHalf/numPieces
		if piece < firstHalf {
			ext[2*axis+1] = mid
			numPieces = firstHalf
		} else {
			ext[2*axis] = mid
			piece -= firstHalf
			numPieces -= firstHalf
		}
	}
	for a := 0; a < 3; a++ {
		if whole.Width(a) > 0 && ext.Width(a) == 0 {
			return Empty
		}
	}
	return ext
}

// Neighbor is a back-reference from one piece to another whose cells fall
// inside its ghost region. It never implies ownership.
type Neighbor struct {
	ID      int    `json:"id"`
	Overlap Extent `json:"overlap"`
	// Orientation is -1, 0 or +1 per axis: where the neighbor lies relative
	// to the piece's own extent.
	Orientation [3]int `json:"orientation"`
}

// Decomposition is a whole extent split into a fixed number of pieces.
type Decomposition struct {
	whole  Extent
	pieces []Extent
}

// NewDecomposition splits whole into numPieces pieces.
func NewDecomposition(whole Extent, numPieces int) (*Decomposition, error) {
	if numPieces < 1 {
		return nil, fmt.Errorf("%w: number of pieces %d < 1", ErrInvalidPiece, numPieces)
	}
	d := &Decomposition{whole: whole, pieces: make([]Extent, numPieces)}
	for i := range d.pieces {
		ext, err := ComputePieceExtent(whole, i, numPieces, 0)
		if err != nil {
			return nil, err
		}
		d.pieces[i] = ext
	}
	return d, nil
}

// Whole returns the decomposed extent.
func (d *Decomposition) Whole() Extent { return d.whole }

// NumPieces returns the number of pieces.
func (d *Decomposition) NumPieces() int { return len(d.pieces) }

// Extent returns the ghost-free extent of piece i.
func (d *Decomposition) Extent(i int) Extent { return d.pieces[i] }

// GhostExtent returns piece i grown by ghostLevel cells and clipped to the
// whole extent.
func (d *Decomposition) GhostExtent(i, ghostLevel int) Extent {
	ext := d.pieces[i]
	if ext.IsEmpty() {
		return Empty
	}
	return ext.Grow(ghostLevel).Clip(d.whole)
}

// Find returns the index of the piece whose extent is exactly ext.
func (d *Decomposition) Find(ext Extent) (int, bool) {
	for i, p := range d.pieces {
		if !p.IsEmpty() && p == ext {
			return i, true
		}
	}
	return -1, false
}

// Neighbors lists the pieces whose cells lie in the ghost region of piece i,
// sorted by piece ID. The overlap is the point extent shared between the
// ghost extent of i and the neighbor's own extent.
func (d *Decomposition) Neighbors(i, ghostLevel int) []Neighbor {
	own := d.pieces[i]
	if own.IsEmpty() || ghostLevel <= 0 {
		return nil
	}
	ghost := d.GhostExtent(i, ghostLevel)
	var out []Neighbor
	for j, other := range d.pieces {
		if j == i || other.IsEmpty() {
			continue
		}
		ov := ghost.Intersect(other)
		if !d.spansCells(ov) {
			continue
		}
		out = append(out, Neighbor{ID: j, Overlap: ov, Orientation: orientation(own, ov)})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (d *Decomposition) spansCells(ov Extent) bool {
	if ov.IsEmpty() {
		return false
	}
	for a := 0; a < 3; a++ {
		if d.whole.Width(a) > 0 && ov.Width(a) < 1 {
			return false
		}
	}
	return true
}

func orientation(own, ov Extent) [3]int {
	var o [3]int
	for a := 0; a < 3; a++ {
		switch {
		case own.Width(a) == 0:
		case ov.Max(a) <= own.Min(a):
			o[a] = -1
		case ov.Min(a) >= own.Max(a):
			o[a] = 1
		}
	}
	return o
}

// ComputeStructuredNeighbors identifies the pieces of whole split into
// numPieces whose cells are covered by the ghost region of pieceExtent.
// pieceExtent must be one of the ghost-free piece extents of that split.
func ComputeStructuredNeighbors(pieceExtent, whole Extent, numPieces, ghostLevel int) ([]Neighbor, error) {
	if ghostLevel < 0 {
		return nil, fmt.Errorf("%w: negative ghost level %d", ErrInvalidPiece, ghostLevel)
	}
	d, err := NewDecomposition(whole, numPieces)
	if err != nil {
		return nil, err
	}
	id, ok := d.Find(pieceExtent)
	if !ok {
		return nil, fmt.Errorf("%w: extent %s is not a piece of %s split %d ways",
			ErrInvalidPiece, pieceExtent, whole, numPieces)
	}
	return d.Neighbors(id, ghostLevel), nil
}
