package filters

import (
	"context"
	"fmt"

	"github.com/gridflow/gridflow/pkg/dataset"
	"github.com/gridflow/gridflow/pkg/pipeline"
	"github.com/gridflow/gridflow/pkg/redistribute"
)

var unstructuredOnly = []dataset.Kind{dataset.KindUnstructured}

func unstructuredDescriptor(name string, inputs ...pipeline.InputPortSpec) pipeline.Descriptor {
	if len(inputs) == 0 {
		inputs = []pipeline.InputPortSpec{{Name: "input", Accepts: unstructuredOnly}}
	}
	return pipeline.Descriptor{
		Name:         name,
		Inputs:       inputs,
		Outputs:      []pipeline.OutputPortSpec{{Name: "output", Produces: dataset.KindUnstructured}},
		Capabilities: pipeline.CapPieces,
	}
}

// GhostCells asks its producer for one ghost layer more than requested of
// it and recomputes the ghost layers of the result from cell adjacency. The
// extra upstream layer makes the outermost requested layer complete.
type GhostCells struct {
	pipeline.Base
}

// NewGhostCells returns the filter.
func NewGhostCells() *GhostCells { return &GhostCells{} }

func newGhostCells(Params) (pipeline.Algorithm, error) { return NewGhostCells(), nil }

func (f *GhostCells) Descriptor() pipeline.Descriptor {
	return unstructuredDescriptor("ghost-cells")
}

func (f *GhostCells) RequestUpdateExtent(_ context.Context, req *pipeline.Request) error {
	u := req.UpdateRequest(0)
	u.Piece.GhostLevel++
	req.SetInputRequest(0, 0, u)
	return nil
}

func (f *GhostCells) RequestData(_ context.Context, req *pipeline.Request) error {
	g := req.Input(0, 0).Unstructured()
	want := req.UpdateRequest(0)

	owners := make([]int, g.NumCells())
	if ghosts, ok := g.CellData().Get(dataset.GhostArray); ok {
		for c := range owners {
			if ghosts.Value(c) > 0 {
				owners[c] = 1
			}
		}
	}
	out, err := redistribute.ExtractPiece(g, owners, 0, want.Piece.GhostLevel)
	if err != nil {
		return fmt.Errorf("ghost-cells: %w", err)
	}
	return req.Output(0).SetPayload(out)
}

// RemoveGhosts drops ghost cells and the points only they use.
type RemoveGhosts struct {
	pipeline.Base
}

// NewRemoveGhosts returns the filter.
func NewRemoveGhosts() *RemoveGhosts { return &RemoveGhosts{} }

func newRemoveGhosts(Params) (pipeline.Algorithm, error) { return NewRemoveGhosts(), nil }

func (f *RemoveGhosts) Descriptor() pipeline.Descriptor {
	return unstructuredDescriptor("remove-ghosts")
}

func (f *RemoveGhosts) RequestData(_ context.Context, req *pipeline.Request) error {
	out, err := redistribute.RemoveGhosts(req.Input(0, 0).Unstructured())
	if err != nil {
		return fmt.Errorf("remove-ghosts: %w", err)
	}
	return req.Output(0).SetPayload(out)
}

// GlobalIDs numbers points and cells that have no global ids yet. On a
// piece the ids are local to that piece.
type GlobalIDs struct {
	pipeline.Base
}

// NewGlobalIDs returns the filter.
func NewGlobalIDs() *GlobalIDs { return &GlobalIDs{} }

func newGlobalIDs(Params) (pipeline.Algorithm, error) { return NewGlobalIDs(), nil }

func (f *GlobalIDs) Descriptor() pipeline.Descriptor {
	return unstructuredDescriptor("global-ids")
}

func (f *GlobalIDs) RequestData(_ context.Context, req *pipeline.Request) error {
	out := req.Output(0)
	if err := out.CopyFrom(req.Input(0, 0)); err != nil {
		return err
	}
	redistribute.AssignGlobalIDs(out.Unstructured())
	return nil
}

// Redistribute reads the whole input and serves piece requests by recursive
// coordinate bisection with ghost layers. It lets a producer that cannot
// split its output feed a piece-wise consumer.
type Redistribute struct {
	pipeline.Base

	plan *redistribute.Plan
}

// NewRedistribute returns the filter.
func NewRedistribute() *Redistribute { return &Redistribute{} }

func newRedistribute(Params) (pipeline.Algorithm, error) { return NewRedistribute(), nil }

func (f *Redistribute) Descriptor() pipeline.Descriptor {
	return unstructuredDescriptor("redistribute")
}

// Plan returns the ownership summary of the last execution, or nil.
func (f *Redistribute) Plan() *redistribute.Plan { return f.plan }

func (f *Redistribute) RequestUpdateExtent(_ context.Context, req *pipeline.Request) error {
	u := pipeline.WholeRequest()
	if want := req.UpdateRequest(0); want.HasTime {
		u.HasTime, u.Time = true, want.Time
	}
	req.SetInputRequest(0, 0, u)
	return nil
}

func (f *Redistribute) RequestData(_ context.Context, req *pipeline.Request) error {
	g := req.Input(0, 0).Unstructured()
	if g.GhostCells() > 0 {
		var err error
		if g, err = redistribute.RemoveGhosts(g); err != nil {
			return err
		}
	}

	want := req.UpdateRequest(0).Piece
	owners, err := redistribute.Partition(redistribute.Centroids(g), want.Count)
	if err != nil {
		return err
	}
	plan, err := redistribute.NewPlan(owners, want.Count)
	if err != nil {
		return err
	}
	out, err := redistribute.ExtractPiece(g, owners, want.Index, want.GhostLevel)
	if err != nil {
		return fmt.Errorf("redistribute: %w", err)
	}
	f.plan = plan
	return req.Output(0).SetPayload(out)
}

// Append concatenates any number of unstructured inputs. Arrays present on
// every input with the same component count are kept.
type Append struct {
	pipeline.Base
}

// NewAppend returns the filter.
func NewAppend() *Append { return &Append{} }

func newAppend(Params) (pipeline.Algorithm, error) { return NewAppend(), nil }

func (f *Append) Descriptor() pipeline.Descriptor {
	return unstructuredDescriptor("append", pipeline.InputPortSpec{
		Name: "input", Accepts: unstructuredOnly, Repeatable: true,
	})
}

func (f *Append) RequestData(_ context.Context, req *pipeline.Request) error {
	var grids []*dataset.UnstructuredGrid
	for c := 0; c < req.NumConnections(0); c++ {
		grids = append(grids, req.Input(0, c).Unstructured())
	}

	out := dataset.NewUnstructuredGrid()
	offset := 0
	for _, g := range grids {
		for p := 0; p < g.NumPoints(); p++ {
			out.AddPoint(g.Point(p))
		}
		for c := 0; c < g.NumCells(); c++ {
			cell := g.Cell(c)
			for i := range cell.Points {
				cell.Points[i] += offset
			}
			if _, err := out.AddCell(cell.Type, cell.Points...); err != nil {
				return fmt.Errorf("append: %w", err)
			}
		}
		offset += g.NumPoints()
	}

	appendArrays(out.PointData(), grids, (*dataset.UnstructuredGrid).PointData)
	appendArrays(out.CellData(), grids, (*dataset.UnstructuredGrid).CellData)
	return req.Output(0).SetPayload(out)
}

func appendArrays(dst *dataset.Attributes, grids []*dataset.UnstructuredGrid, attrs func(*dataset.UnstructuredGrid) *dataset.Attributes) {
	if len(grids) == 0 {
		return
	}
	for _, name := range attrs(grids[0]).Names() {
		first, _ := attrs(grids[0]).Get(name)
		parts := make([]*dataset.Array, 0, len(grids))
		for _, g := range grids {
			a, ok := attrs(g).Get(name)
			if !ok || a.Components() != first.Components() {
				parts = nil
				break
			}
			parts = append(parts, a)
		}
		if parts == nil {
			continue
		}
		merged := dataset.NewArray(name, first.Components(), 0)
		for _, a := range parts {
			for i := 0; i < a.Len(); i++ {
				merged.Append(a.Tuple(i)...)
			}
		}
		dst.Add(merged)
	}
}
