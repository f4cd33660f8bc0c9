package dataset

import (
	"fmt"
	"slices"
)

// CellType identifies the shape of an unstructured cell.
type CellType uint8

const (
	CellVertex CellType = iota + 1
	CellLine
	CellTriangle
	CellQuad
	CellTetra
	CellHexahedron
)

// Cell is one unstructured cell: a shape and its point ids.
type Cell struct {
	Type   CellType
	Points []int
}

// UnstructuredGrid is an explicit point/cell mesh.
type UnstructuredGrid struct {
	points    [][3]float64
	cells     []Cell
	pointData *Attributes
	cellData  *Attributes
	frozen    bool
}

// NewUnstructuredGrid returns an empty grid.
func NewUnstructuredGrid() *UnstructuredGrid {
	return &UnstructuredGrid{pointData: NewAttributes(), cellData: NewAttributes()}
}

// Kind implements Payload.
func (g *UnstructuredGrid) Kind() Kind { return KindUnstructured }

// AddPoint appends a point and returns its id.
func (g *UnstructuredGrid) AddPoint(p [3]float64) int {
	g.checkMutable()
	g.points = append(g.points, p)
	return len(g.points) - 1
}

// Point returns the coordinates of point id.
func (g *UnstructuredGrid) Point(id int) [3]float64 { return g.points[id] }

// NumPoints returns the number of points.
func (g *UnstructuredGrid) NumPoints() int { return len(g.points) }

// AddCell appends a cell and returns its id.
func (g *UnstructuredGrid) AddCell(t CellType, ids ...int) (int, error) {
	g.checkMutable()
	for _, id := range ids {
		if id < 0 || id >= len(g.points) {
			return -1, fmt.Errorf("cell references point %d, grid has %d", id, len(g.points))
		}
	}
	g.cells = append(g.cells, Cell{Type: t, Points: slices.Clone(ids)})
	return len(g.cells) - 1, nil
}

// Cell returns a copy of cell id.
func (g *UnstructuredGrid) Cell(id int) Cell {
	c := g.cells[id]
	return Cell{Type: c.Type, Points: slices.Clone(c.Points)}
}

// NumCells returns the number of cells.
func (g *UnstructuredGrid) NumCells() int { return len(g.cells) }

// PointData returns the per-point arrays.
func (g *UnstructuredGrid) PointData() *Attributes { return g.pointData }

// CellData returns the per-cell arrays.
func (g *UnstructuredGrid) CellData() *Attributes { return g.cellData }

// Centroid returns the mean position of the points of cell id.
func (g *UnstructuredGrid) Centroid(id int) [3]float64 {
	var c [3]float64
	pts := g.cells[id].Points
	if len(pts) == 0 {
		return c
	}
	for _, p := range pts {
		for a := 0; a < 3; a++ {
			c[a] += g.points[p][a]
		}
	}
	for a := 0; a < 3; a++ {
		c[a] /= float64(len(pts))
	}
	return c
}

// Bounds returns {xmin,xmax,ymin,ymax,zmin,zmax} of all points.
func (g *UnstructuredGrid) Bounds() [6]float64 {
	var b [6]float64
	if len(g.points) == 0 {
		return b
	}
	for a := 0; a < 3; a++ {
		b[2*a], b[2*a+1] = g.points[0][a], g.points[0][a]
	}
	for _, p := range g.points[1:] {
		for a := 0; a < 3; a++ {
			b[2*a] = min(b[2*a], p[a])
			b[2*a+1] = max(b[2*a+1], p[a])
		}
	}
	return b
}

// GhostCells returns the number of cells flagged as ghosts.
func (g *UnstructuredGrid) GhostCells() int {
	ghosts, ok := g.cellData.Get(GhostArray)
	if !ok {
		return 0
	}
	n := 0
	for i := 0; i < ghosts.Len(); i++ {
		if ghosts.Value(i) > 0 {
			n++
		}
	}
	return n
}

func (g *UnstructuredGrid) clone() Payload {
	out := &UnstructuredGrid{
		points:    slices.Clone(g.points),
		cells:     make([]Cell, len(g.cells)),
		pointData: g.pointData.clone(),
		cellData:  g.cellData.clone(),
	}
	for i, c := range g.cells {
		out.cells[i] = Cell{Type: c.Type, Points: slices.Clone(c.Points)}
	}
	return out
}

func (g *UnstructuredGrid) freeze() {
	g.frozen = true
	g.pointData.freeze()
	g.cellData.freeze()
}

func (g *UnstructuredGrid) checkMutable() {
	if g.frozen {
		panic("dataset: unstructured grid belongs to a published data object")
	}
}
