// Package redistribute partitions unstructured grids into pieces and
// extracts pieces with ghost layers.
//
// Ownership is decided by recursive coordinate bisection of cell centroids.
// Ghost layers are grown through shared points: layer 1 holds every
// non-owned cell that shares a point with an owned cell, layer 2 every cell
// sharing a point with layer 1, and so on. Ghost copies are exact duplicates
// of the owner's cells, including their global ids and attributes.
package redistribute

import (
	"fmt"
	"slices"
	"sort"

	"github.com/gridflow/gridflow/pkg/dataset"
	"github.com/gridflow/gridflow/pkg/extent"
)

// AssignGlobalIDs numbers points and cells in order of appearance. Existing
// global id arrays are kept. It reports whether any array was added.
func AssignGlobalIDs(g *dataset.UnstructuredGrid) bool {
	added := false
	if _, ok := g.PointData().Get(dataset.GlobalIDArray); !ok {
		g.PointData().Add(sequence(dataset.GlobalIDArray, g.NumPoints()))
		added = true
	}
	if _, ok := g.CellData().Get(dataset.GlobalIDArray); !ok {
		g.CellData().Add(sequence(dataset.GlobalIDArray, g.NumCells()))
		added = true
	}
	return added
}

func sequence(name string, n int) *dataset.Array {
	a := dataset.NewArray(name, 1, n)
	for i := 0; i < n; i++ {
		a.SetValue(i, float64(i))
	}
	return a
}

// Centroids returns the centroid of every cell of g.
func Centroids(g *dataset.UnstructuredGrid) [][3]float64 {
	out := make([][3]float64, g.NumCells())
	for i := range out {
		out[i] = g.Centroid(i)
	}
	return out
}

// Partition assigns each centroid to one of numPieces pieces by recursive
// coordinate bisection. Every split cuts the longest axis of the bounding
// box of the remaining centroids; ties on that axis are broken by index so
// the result is deterministic. With more pieces than centroids some pieces
// own nothing.
func Partition(centroids [][3]float64, numPieces int) ([]int, error) {
	if numPieces < 1 {
		return nil, fmt.Errorf("%w: number of pieces %d < 1", extent.ErrInvalidPiece, numPieces)
	}
	owners := make([]int, len(centroids))
	idx := make([]int, len(centroids))
	for i := range idx {
		idx[i] = i
	}
	bisect(centroids, idx, 0, numPieces, owners)
	return owners, nil
}

func bisect(pts [][3]float64, idx []int, first, count int, owners []int) {
	if count == 1 || len(idx) == 0 {
		for _, i := range idx {
			owners[i] = first
		}
		return
	}

	axis := longestAxis(pts, idx)
	sort.SliceStable(idx, func(a, b int) bool {
		pa, pb := pts[idx[a]][axis], pts[idx[b]][axis]
		if pa != pb {
			return pa < pb
		}
		return idx[a] < idx[b]
	})

	firstHalf := count / 2
	cut := len(idx) * firstHalf / count
	bisect(pts, idx[:cut], first, firstHalf, owners)
	bisect(pts, idx[cut:], first+firstHalf, count-firstHalf, owners)
}

func longestAxis(pts [][3]float64, idx []int) int {
	lo, hi := pts[idx[0]], pts[idx[0]]
	for _, i := range idx[1:] {
		for a := 0; a < 3; a++ {
			lo[a] = min(lo[a], pts[i][a])
			hi[a] = max(hi[a], pts[i][a])
		}
	}
	axis := 0
	for a := 1; a < 3; a++ {
		if hi[a]-lo[a] > hi[axis]-lo[axis] {
			axis = a
		}
	}
	return axis
}

// Layers returns the ghost layer of every cell relative to piece: 0 for
// owned cells, 1..ghostLevel for ghost cells and -1 for cells outside the
// halo.
func Layers(g *dataset.UnstructuredGrid, owners []int, piece, ghostLevel int) ([]int, error) {
	if len(owners) != g.NumCells() {
		return nil, fmt.Errorf("owner list has %d entries, grid has %d cells", len(owners), g.NumCells())
	}
	if ghostLevel < 0 {
		return nil, fmt.Errorf("%w: negative ghost level %d", extent.ErrInvalidPiece, ghostLevel)
	}

	layer := make([]int, g.NumCells())
	var frontier []int
	for c, o := range owners {
		if o == piece {
			frontier = append(frontier, c)
		} else {
			layer[c] = -1
		}
	}
	if ghostLevel == 0 {
		return layer, nil
	}

	pointCells := make([][]int, g.NumPoints())
	for c := 0; c < g.NumCells(); c++ {
		for _, p := range g.Cell(c).Points {
			pointCells[p] = append(pointCells[p], c)
		}
	}

	for l := 1; l <= ghostLevel && len(frontier) > 0; l++ {
		var next []int
		for _, c := range frontier {
			for _, p := range g.Cell(c).Points {
				for _, nb := range pointCells[p] {
					if layer[nb] == -1 {
						layer[nb] = l
						next = append(next, nb)
					}
				}
			}
		}
		frontier = next
	}
	return layer, nil
}

// ExtractPiece copies the cells owned by piece plus ghostLevel layers of
// neighboring cells into a new grid. Cells and points keep their relative
// order. Cell and point ghost arrays record the layer of each entry; points
// take the smallest layer of the extracted cells using them. Global ids are
// assigned to g first when it has none.
func ExtractPiece(g *dataset.UnstructuredGrid, owners []int, piece, ghostLevel int) (*dataset.UnstructuredGrid, error) {
	layer, err := Layers(g, owners, piece, ghostLevel)
	if err != nil {
		return nil, err
	}

	var cells []int
	pointLayer := make(map[int]int)
	for c, l := range layer {
		if l < 0 {
			continue
		}
		cells = append(cells, c)
		for _, p := range g.Cell(c).Points {
			if cur, ok := pointLayer[p]; !ok || l < cur {
				pointLayer[p] = l
			}
		}
	}
	points := make([]int, 0, len(pointLayer))
	for p := range pointLayer {
		points = append(points, p)
	}
	slices.Sort(points)

	out := dataset.NewUnstructuredGrid()
	remap := make(map[int]int, len(points))
	for _, p := range points {
		remap[p] = out.AddPoint(g.Point(p))
	}
	for _, c := range cells {
		cell := g.Cell(c)
		ids := make([]int, len(cell.Points))
		for i, p := range cell.Points {
			ids[i] = remap[p]
		}
		if _, err := out.AddCell(cell.Type, ids...); err != nil {
			return nil, fmt.Errorf("copy cell %d: %w", c, err)
		}
	}

	copyArrays(out.PointData(), g.PointData(), points)
	copyArrays(out.CellData(), g.CellData(), cells)
	if _, ok := g.PointData().Get(dataset.GlobalIDArray); !ok {
		out.PointData().Add(selectIDs(points))
	}
	if _, ok := g.CellData().Get(dataset.GlobalIDArray); !ok {
		out.CellData().Add(selectIDs(cells))
	}

	cellGhosts := dataset.NewArray(dataset.GhostArray, 1, len(cells))
	for i, c := range cells {
		cellGhosts.SetValue(i, float64(layer[c]))
	}
	out.CellData().Add(cellGhosts)

	pointGhosts := dataset.NewArray(dataset.GhostArray, 1, len(points))
	for i, p := range points {
		pointGhosts.SetValue(i, float64(pointLayer[p]))
	}
	out.PointData().Add(pointGhosts)
	return out, nil
}

func copyArrays(dst, src *dataset.Attributes, sel []int) {
	for _, name := range src.Names() {
		if name == dataset.GhostArray {
			continue
		}
		a, _ := src.Get(name)
		cp := dataset.NewArray(name, a.Components(), len(sel))
		for i, old := range sel {
			for c := 0; c < a.Components(); c++ {
				cp.Set(i, c, a.At(old, c))
			}
		}
		dst.Add(cp)
	}
}

func selectIDs(sel []int) *dataset.Array {
	a := dataset.NewArray(dataset.GlobalIDArray, 1, len(sel))
	for i, id := range sel {
		a.SetValue(i, float64(id))
	}
	return a
}

// RemoveGhosts copies the non-ghost cells of g and the points they use.
func RemoveGhosts(g *dataset.UnstructuredGrid) (*dataset.UnstructuredGrid, error) {
	owners := make([]int, g.NumCells())
	if ghosts, ok := g.CellData().Get(dataset.GhostArray); ok {
		for c := range owners {
			if ghosts.Value(c) > 0 {
				owners[c] = 1
			}
		}
	}
	out, err := ExtractPiece(g, owners, 0, 0)
	if err != nil {
		return nil, err
	}
	out.CellData().Remove(dataset.GhostArray)
	out.PointData().Remove(dataset.GhostArray)
	return out, nil
}

// Plan summarizes an ownership assignment.
type Plan struct {
	NumPieces int
	// Owned holds the number of cells owned by each piece.
	Owned []int
}

// NewPlan counts the cells owned by each of numPieces pieces.
func NewPlan(owners []int, numPieces int) (*Plan, error) {
	if numPieces < 1 {
		return nil, fmt.Errorf("%w: number of pieces %d < 1", extent.ErrInvalidPiece, numPieces)
	}
	p := &Plan{NumPieces: numPieces, Owned: make([]int, numPieces)}
	for c, o := range owners {
		if o < 0 || o >= numPieces {
			return nil, fmt.Errorf("cell %d owned by piece %d outside [0,%d)", c, o, numPieces)
		}
		p.Owned[o]++
	}
	return p, nil
}

// Total returns the number of cells.
func (p *Plan) Total() int {
	n := 0
	for _, o := range p.Owned {
		n += o
	}
	return n
}

// Imbalance returns the largest piece size divided by the mean size, 1 for
// a perfect split and 0 for an empty grid.
func (p *Plan) Imbalance() float64 {
	total := p.Total()
	if total == 0 {
		return 0
	}
	return float64(slices.Max(p.Owned)) * float64(p.NumPieces) / float64(total)
}

// Redistribute partitions g into numPieces pieces and extracts piece with
// ghostLevel ghost layers.
func Redistribute(g *dataset.UnstructuredGrid, piece, numPieces, ghostLevel int) (*dataset.UnstructuredGrid, error) {
	if err := (extent.Piece{Index: piece, Count: numPieces, GhostLevel: ghostLevel}).Validate(); err != nil {
		return nil, err
	}
	owners, err := Partition(Centroids(g), numPieces)
	if err != nil {
		return nil, err
	}
	return ExtractPiece(g, owners, piece, ghostLevel)
}
