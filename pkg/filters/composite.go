package filters

import (
	"context"
	"fmt"

	"github.com/gridflow/gridflow/pkg/composite"
	"github.com/gridflow/gridflow/pkg/dataset"
	"github.com/gridflow/gridflow/pkg/pipeline"
)

// BlockStat summarizes one non-empty leaf block.
type BlockStat struct {
	Flat   int
	Level  int
	Index  int
	Path   string
	Points int
	Cells  int
	Min    float64
	Max    float64
	Mean   float64
}

// Block statistics cell arrays.
const (
	StatFlatIndex = "flat_index"
	StatLevel     = "level"
	StatPoints    = "num_points"
	StatMin       = "min"
	StatMax       = "max"
	StatMean      = "mean"
)

// BlockStatistics consumes a whole composite dataset and emits one vertex
// per non-empty leaf, in traversal order, carrying statistics of a point
// array. AMR inputs are visited level by level, multi-block trees depth
// first.
type BlockStatistics struct {
	pipeline.Base

	array string
	stats []BlockStat
}

// NewBlockStatistics returns the filter for the named point array. Blocks
// without the array report only counts.
func NewBlockStatistics(array string) *BlockStatistics {
	return &BlockStatistics{array: array}
}

func newBlockStatistics(p Params) (pipeline.Algorithm, error) {
	array, err := p.Str("array", DensityArray)
	if err != nil {
		return nil, err
	}
	return NewBlockStatistics(array), nil
}

func (f *BlockStatistics) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name: "block-statistics",
		Inputs: []pipeline.InputPortSpec{{
			Name:    "input",
			Accepts: []dataset.Kind{dataset.KindAMR, dataset.KindMultiBlock},
		}},
		Outputs:      []pipeline.OutputPortSpec{{Name: "output", Produces: dataset.KindUnstructured}},
		Capabilities: pipeline.CapAcceptsComposite,
	}
}

// Stats returns the statistics of the last execution.
func (f *BlockStatistics) Stats() []BlockStat { return f.stats }

func (f *BlockStatistics) RequestInformation(_ context.Context, req *pipeline.Request) error {
	out := req.OutputInformation(0)
	pipeline.CompositeStructure.Remove(out)
	pipeline.RefinementRatio.Remove(out)
	pipeline.WholeExtent.Remove(out)
	return nil
}

func (f *BlockStatistics) RequestUpdateExtent(_ context.Context, req *pipeline.Request) error {
	u := pipeline.WholeRequest()
	if want := req.UpdateRequest(0); want.HasTime {
		u.HasTime, u.Time = true, want.Time
	}
	req.SetInputRequest(0, 0, u)
	return nil
}

func (f *BlockStatistics) RequestData(ctx context.Context, req *pipeline.Request) error {
	in := req.Input(0, 0)
	var stats []BlockStat
	switch in.Kind() {
	case dataset.KindAMR:
		it := composite.NewIterator(in.AMR(), composite.SkipEmpty())
		for it.InitTraversal(); !it.IsDoneWithTraversal(); it.GoToNextItem() {
			if err := ctx.Err(); err != nil {
				return err
			}
			b := it.CurrentBlock()
			s := f.summarize(b.Data)
			s.Flat, s.Level, s.Index = it.FlatIndex(), b.ID.Level, b.ID.Index
			stats = append(stats, s)
		}

	case dataset.KindMultiBlock:
		flat := 0
		err := composite.Walk(in.MultiBlock(), composite.DepthFirst, func(n *dataset.Node, _ int) bool {
			if !n.IsLeaf() || n.Data() == nil {
				return true
			}
			s := f.summarize(n.Data())
			s.Flat, s.Path = flat, n.Path()
			stats = append(stats, s)
			flat++
			return ctx.Err() == nil
		})
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

	default:
		return fmt.Errorf("block-statistics: unsupported input %s", in.Kind())
	}

	f.stats = stats
	return req.Output(0).SetPayload(statsGrid(stats))
}

func (f *BlockStatistics) summarize(d *dataset.DataObject) BlockStat {
	s := BlockStat{Points: d.NumPoints(), Cells: d.NumCells()}
	arr, err := pointArray(d, f.array)
	if err != nil || arr.Len() == 0 {
		return s
	}
	s.Min, s.Max = arr.Range(0)
	sum := 0.0
	for i := 0; i < arr.Len(); i++ {
		sum += arr.Value(i)
	}
	s.Mean = sum / float64(arr.Len())
	return s
}

func statsGrid(stats []BlockStat) *dataset.UnstructuredGrid {
	g := dataset.NewUnstructuredGrid()
	cols := map[string]func(BlockStat) float64{
		StatFlatIndex: func(s BlockStat) float64 { return float64(s.Flat) },
		StatLevel:     func(s BlockStat) float64 { return float64(s.Level) },
		StatPoints:    func(s BlockStat) float64 { return float64(s.Points) },
		StatMin:       func(s BlockStat) float64 { return s.Min },
		StatMax:       func(s BlockStat) float64 { return s.Max },
		StatMean:      func(s BlockStat) float64 { return s.Mean },
	}
	for i := range stats {
		id := g.AddPoint([3]float64{float64(i), 0, 0})
		// vertex cells reference only the point just added
		_, _ = g.AddCell(dataset.CellVertex, id)
	}
	for _, name := range []string{StatFlatIndex, StatLevel, StatPoints, StatMin, StatMax, StatMean} {
		arr := dataset.NewArray(name, 1, len(stats))
		for i, s := range stats {
			arr.SetValue(i, cols[name](s))
		}
		g.CellData().Add(arr)
	}
	return g
}
