package filters

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/gridflow/gridflow/pkg/dataset"
	"github.com/gridflow/gridflow/pkg/extent"
	"github.com/gridflow/gridflow/pkg/pipeline"
)

func connect(t *testing.T, src, dst *pipeline.Executive) {
	t.Helper()
	if err := dst.AddInputConnection(0, src.OutputPort(0)); err != nil {
		t.Fatalf("Failed to connect %s -> %s: %v", src.Name(), dst.Name(), err)
	}
}

func update(t *testing.T, e *pipeline.Executive) *dataset.DataObject {
	t.Helper()
	if err := e.Update(context.Background()); err != nil {
		t.Fatalf("Update of %s failed: %v", e.Name(), err)
	}
	return e.Output(0)
}

func values(t *testing.T, d *dataset.DataObject, name string) []float64 {
	t.Helper()
	arr, err := pointArray(d, name)
	if err != nil {
		t.Fatalf("Missing array: %v", err)
	}
	return arr.Values()
}

func TestWaveletSource_WholeAndSubExtent(t *testing.T) {
	whole := extent.New(-2, 2, -2, 2, 0, 0)
	src := pipeline.MustNew(NewWaveletSource(whole))

	out := update(t, src)
	if out.Extent() != whole {
		t.Fatalf("Expected extent %s, got %s", whole, out.Extent())
	}
	all := values(t, out, WaveletArray)
	if len(all) != 25 {
		t.Fatalf("Expected 25 values, got %d", len(all))
	}
	center := all[dataset.PointID(whole, 0, 0, 0)]
	if math.Abs(center-260) > 1e-9 {
		t.Errorf("Expected peak value 260 at the center, got %g", center)
	}

	sub := extent.New(0, 1, -1, 0, 0, 0)
	partial := pipeline.MustNew(NewWaveletSource(whole))
	partial.SetUpdateExtent(0, sub)
	out = update(t, partial)
	if out.Extent() != sub {
		t.Fatalf("Expected extent %s, got %s", sub, out.Extent())
	}
	part := values(t, out, WaveletArray)
	for id, v := range part {
		i, j, k := dataset.PointIJK(sub, id)
		if want := all[dataset.PointID(whole, i, j, k)]; v != want {
			t.Errorf("Point (%d,%d,%d): expected %g, got %g", i, j, k, want, v)
		}
	}
}

func TestWaveletSource_ParallelMatchesSequential(t *testing.T) {
	whole := extent.New(0, 15, 0, 15, 0, 3)
	seq := NewWaveletSource(whole)
	seq.parallel = 1
	par := NewWaveletSource(whole)
	par.parallel = 4

	a := values(t, update(t, pipeline.MustNew(seq)), WaveletArray)
	b := values(t, update(t, pipeline.MustNew(par)), WaveletArray)
	if !reflect.DeepEqual(a, b) {
		t.Error("Expected identical values from parallel and sequential runs")
	}
}

func TestExtractSubset_RequestsOnlyTheVOI(t *testing.T) {
	src := pipeline.MustNew(NewWaveletSource(extent.New(0, 9, 0, 9, 0, 0)))
	voi := extent.New(2, 5, 3, 4, 0, 0)
	sub := pipeline.MustNew(NewExtractSubset(voi))
	connect(t, src, sub)

	out := update(t, sub)
	if out.Extent() != voi {
		t.Errorf("Expected output extent %s, got %s", voi, out.Extent())
	}
	executed, ok := src.ExecutedRequest(0)
	if !ok || executed.Extent != voi {
		t.Errorf("Expected the source to produce only %s, got %s", voi, executed.Extent)
	}
	if n := len(values(t, out, WaveletArray)); n != voi.NumPoints() {
		t.Errorf("Expected %d values, got %d", voi.NumPoints(), n)
	}
}

func TestExtractSubset_DisjointVOIFails(t *testing.T) {
	src := pipeline.MustNew(NewWaveletSource(extent.New(0, 3, 0, 3, 0, 0)))
	sub := pipeline.MustNew(NewExtractSubset(extent.New(10, 12, 10, 12, 0, 0)))
	connect(t, src, sub)

	err := sub.Update(context.Background())
	if !pipeline.IsInformation(err) {
		t.Errorf("Expected information error, got %v", err)
	}
}

func TestHistogram_RequestsWholeInput(t *testing.T) {
	whole := extent.New(0, 3, 0, 3, 0, 0)
	src := pipeline.MustNew(NewWaveletSource(whole))
	h := pipeline.MustNew(NewHistogram(WaveletArray, 4))
	connect(t, src, h)

	h.SetUpdateExtent(0, extent.New(0, 1, 0, 0, 0, 0))
	out := update(t, h)

	executed, _ := src.ExecutedRequest(0)
	if executed.Extent != whole {
		t.Errorf("Expected whole input %s, got %s", whole, executed.Extent)
	}
	total := 0.0
	for _, c := range values(t, out, HistogramCounts) {
		total += c
	}
	if total != 16 {
		t.Errorf("Expected 16 counted values, got %g", total)
	}
}

func TestShiftScale(t *testing.T) {
	whole := extent.New(0, 4, 0, 4, 0, 0)
	src := pipeline.MustNew(NewWaveletSource(whole))
	f := NewShiftScale(WaveletArray, 1, 2)
	f.output = "scaled"
	f.parallel = 3
	ss := pipeline.MustNew(f)
	connect(t, src, ss)

	out := update(t, ss)
	in := values(t, src.Output(0), WaveletArray)
	got := values(t, out, "scaled")
	for i := range in {
		if want := (in[i] + 1) * 2; got[i] != want {
			t.Fatalf("Point %d: expected %g, got %g", i, want, got[i])
		}
	}
	if kept := values(t, out, WaveletArray); !reflect.DeepEqual(kept, in) {
		t.Error("Expected the input array to be kept")
	}

	f.SetScale(3)
	out = update(t, ss)
	if got := values(t, out, "scaled")[0]; got != (in[0]+1)*3 {
		t.Errorf("Expected re-execution after SetScale, got %g", got)
	}
}

func TestShiftScale_MissingArray(t *testing.T) {
	src := pipeline.MustNew(NewWaveletSource(extent.New(0, 1, 0, 1, 0, 0)))
	ss := pipeline.MustNew(NewShiftScale("nope", 0, 1))
	connect(t, src, ss)

	if err := ss.Update(context.Background()); !pipeline.IsComputation(err) {
		t.Errorf("Expected computation error, got %v", err)
	}
}

func TestShiftScale_PerBlockOverAMR(t *testing.T) {
	src := pipeline.MustNew(NewAMRSource(3, 4, 2))
	ss := pipeline.MustNew(NewShiftScale(DensityArray, 0, 2))
	connect(t, src, ss)

	out := update(t, ss)
	if out.Kind() != dataset.KindAMR {
		t.Fatalf("Expected AMR output, got %s", out.Kind())
	}
	amr := out.AMR()
	if amr.TotalBlocks() != 4 {
		t.Fatalf("Expected 4 blocks, got %d", amr.TotalBlocks())
	}
	inAMR := src.Output(0).AMR()
	for level := 0; level < amr.NumLevels(); level++ {
		for _, b := range amr.Blocks(level) {
			orig, _ := inAMR.Block(b.ID.Level, b.ID.Index)
			want := values(t, orig.Data, DensityArray)
			got := values(t, b.Data, DensityArray)
			for i := range want {
				if got[i] != 2*want[i] {
					t.Fatalf("Block %s point %d: expected %g, got %g", b.ID, i, 2*want[i], got[i])
				}
			}
		}
	}
}

func TestTimeShift(t *testing.T) {
	w := NewWaveletSource(extent.New(0, 2, 0, 2, 0, 0))
	w.SetTimeSteps([]float64{0, 1, 2})
	src := pipeline.MustNew(w)
	ts := pipeline.MustNew(NewTimeShift(10))
	connect(t, src, ts)

	ts.SetUpdateTimeStep(0, 11)
	out := update(t, ts)

	if got, ok := out.TimeStep(); !ok || got != 11 {
		t.Errorf("Expected output time 11, got %g (set=%v)", got, ok)
	}
	executed, _ := src.ExecutedRequest(0)
	if !executed.HasTime || executed.Time != 1 {
		t.Errorf("Expected the source to run for time 1, got %s", executed)
	}
	steps, _ := pipeline.TimeSteps.Get(ts.OutputInformation(0))
	if !reflect.DeepEqual(steps, []float64{10, 11, 12}) {
		t.Errorf("Expected shifted time steps, got %v", steps)
	}
	if src.Algorithm().(*WaveletSource).Executions() != 1 {
		t.Error("Expected exactly one source execution")
	}
}

func TestMeshSource_Pieces(t *testing.T) {
	tests := []struct {
		piece  extent.Piece
		cells  int
		ghosts int
	}{
		{extent.WholePiece, 16, 0},
		{extent.Piece{Index: 0, Count: 2}, 8, 0},
		{extent.Piece{Index: 1, Count: 2, GhostLevel: 1}, 12, 4},
		{extent.Piece{Index: 3, Count: 4, GhostLevel: 2}, 12, 8},
	}

	for _, tt := range tests {
		mesh := pipeline.MustNew(NewMeshSource(4))
		mesh.SetUpdatePiece(0, tt.piece)
		g := update(t, mesh).Unstructured()
		if g.NumCells() != tt.cells {
			t.Errorf("piece %s: expected %d cells, got %d", tt.piece, tt.cells, g.NumCells())
		}
		if g.GhostCells() != tt.ghosts {
			t.Errorf("piece %s: expected %d ghost cells, got %d", tt.piece, tt.ghosts, g.GhostCells())
		}
	}
}

func TestGhostCells_RequestsOneMoreLayer(t *testing.T) {
	mesh := pipeline.MustNew(NewMeshSource(4))
	gc := pipeline.MustNew(NewGhostCells())
	connect(t, mesh, gc)

	gc.SetUpdatePiece(0, extent.Piece{Index: 0, Count: 2, GhostLevel: 1})
	g := update(t, gc).Unstructured()

	executed, _ := mesh.ExecutedRequest(0)
	if executed.Piece.GhostLevel != 2 {
		t.Errorf("Expected ghost level 2 upstream, got %d", executed.Piece.GhostLevel)
	}
	if g.NumCells() != 12 || g.GhostCells() != 4 {
		t.Errorf("Expected 12 cells with 4 ghosts, got %d with %d", g.NumCells(), g.GhostCells())
	}
}

func TestRemoveGhosts(t *testing.T) {
	mesh := pipeline.MustNew(NewMeshSource(4))
	rg := pipeline.MustNew(NewRemoveGhosts())
	connect(t, mesh, rg)

	rg.SetUpdatePiece(0, extent.Piece{Index: 0, Count: 2, GhostLevel: 1})
	g := update(t, rg).Unstructured()
	if g.NumCells() != 8 || g.GhostCells() != 0 {
		t.Errorf("Expected 8 owned cells, got %d (%d ghosts)", g.NumCells(), g.GhostCells())
	}
	if g.NumPoints() != 15 {
		t.Errorf("Expected 15 points, got %d", g.NumPoints())
	}
}

func TestRedistribute(t *testing.T) {
	mesh := pipeline.MustNew(NewMeshSource(4))
	f := NewRedistribute()
	rd := pipeline.MustNew(f)
	connect(t, mesh, rd)

	rd.SetUpdatePiece(0, extent.Piece{Index: 1, Count: 4})
	g := update(t, rd).Unstructured()

	executed, _ := mesh.ExecutedRequest(0)
	if executed.Piece != extent.WholePiece {
		t.Errorf("Expected the whole mesh upstream, got %s", executed.Piece)
	}
	if g.NumCells() != 4 {
		t.Errorf("Expected 4 cells, got %d", g.NumCells())
	}
	if plan := f.Plan(); plan == nil || !reflect.DeepEqual(plan.Owned, []int{4, 4, 4, 4}) {
		t.Errorf("Expected an even plan, got %+v", plan)
	}
	if _, ok := g.CellData().Get(dataset.GlobalIDArray); !ok {
		t.Error("Expected global ids on the piece")
	}
}

func TestAppend(t *testing.T) {
	a := pipeline.MustNew(NewMeshSource(1))
	b := pipeline.MustNew(NewMeshSource(2))
	app := pipeline.MustNew(NewAppend())
	connect(t, a, app)
	connect(t, b, app)

	g := update(t, app).Unstructured()
	if g.NumCells() != 5 || g.NumPoints() != 13 {
		t.Fatalf("Expected 5 cells and 13 points, got %d and %d", g.NumCells(), g.NumPoints())
	}
	last := g.Cell(4)
	for _, p := range last.Points {
		if p < 4 {
			t.Errorf("Expected appended cell to reference shifted points, got %v", last.Points)
		}
	}
	elev, ok := g.PointData().Get(ElevationArray)
	if !ok || elev.Len() != 13 {
		t.Error("Expected merged elevation array")
	}
}

func TestGlobalIDs(t *testing.T) {
	mesh := pipeline.MustNew(NewMeshSource(2))
	ids := pipeline.MustNew(NewGlobalIDs())
	connect(t, mesh, ids)

	g := update(t, ids).Unstructured()
	arr, ok := g.PointData().Get(dataset.GlobalIDArray)
	if !ok || arr.Len() != 9 {
		t.Fatal("Expected one global id per point")
	}
}

func TestBlockStatistics_AMR(t *testing.T) {
	src := pipeline.MustNew(NewAMRSource(3, 8, 2))
	f := NewBlockStatistics(DensityArray)
	bs := pipeline.MustNew(f)
	connect(t, src, bs)

	g := update(t, bs).Unstructured()
	stats := f.Stats()
	if len(stats) != 4 || g.NumCells() != 4 {
		t.Fatalf("Expected 4 blocks, got %d stats and %d cells", len(stats), g.NumCells())
	}
	var levels []int
	for i, s := range stats {
		if s.Flat != i {
			t.Errorf("Expected flat index %d, got %d", i, s.Flat)
		}
		if s.Points != 81 {
			t.Errorf("Block %d: expected 81 points, got %d", i, s.Points)
		}
		levels = append(levels, s.Level)
	}
	if !reflect.DeepEqual(levels, []int{0, 0, 1, 2}) {
		t.Errorf("Expected level order [0 0 1 2], got %v", levels)
	}
	if stats[2].Min != 100 {
		t.Errorf("Expected level 1 minimum 100, got %g", stats[2].Min)
	}
}

func TestBlockStatistics_MultiBlockSkipsEmptyLeaves(t *testing.T) {
	src := pipeline.MustNew(NewMultiBlockSource(2))
	f := NewBlockStatistics(DensityArray)
	bs := pipeline.MustNew(f)
	connect(t, src, bs)

	update(t, bs)
	var paths []string
	for _, s := range f.Stats() {
		paths = append(paths, s.Path)
	}
	want := []string{"root/images/image0", "root/images/image1", "root/meshes/plate"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("Expected %v, got %v", want, paths)
	}
}

func TestBlockStatistics_RejectsImages(t *testing.T) {
	src := pipeline.MustNew(NewWaveletSource(extent.New(0, 1, 0, 1, 0, 0)))
	bs := pipeline.MustNew(NewBlockStatistics(WaveletArray))
	connect(t, src, bs)

	if err := bs.Update(context.Background()); !pipeline.IsTypeMismatch(err) {
		t.Errorf("Expected type mismatch, got %v", err)
	}
}

func TestProgrammable(t *testing.T) {
	src := pipeline.MustNew(NewWaveletSource(extent.New(0, 3, 0, 0, 0, 0)))
	p := NewProgrammable("def compute(v, x, y, z):\n    return v + x + params['k']\n", WaveletArray)
	p.output = "result"
	p.SetParams(map[string]any{"k": 1.5})
	prog := pipeline.MustNew(p)
	connect(t, src, prog)

	out := update(t, prog)
	in := values(t, out, WaveletArray)
	got := values(t, out, "result")
	for i := range in {
		if want := in[i] + float64(i) + 1.5; math.Abs(got[i]-want) > 1e-12 {
			t.Errorf("Point %d: expected %g, got %g", i, want, got[i])
		}
	}
}

func TestProgrammable_Errors(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"syntax", "def compute(:\n"},
		{"missing entry", "x = 1\n"},
	}
	for _, tt := range tests {
		if _, err := DefaultRegistry().New("programmable", Params{"script": tt.script}); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}

	src := pipeline.MustNew(NewWaveletSource(extent.New(0, 1, 0, 0, 0, 0)))
	prog := pipeline.MustNew(NewProgrammable("def compute(v, x, y, z):\n    return 'text'\n", WaveletArray))
	connect(t, src, prog)
	if err := prog.Update(context.Background()); !pipeline.IsComputation(err) {
		t.Errorf("Expected computation error for non-numeric result, got %v", err)
	}
}

func TestWasmKernel(t *testing.T) {
	src := pipeline.MustNew(NewWaveletSource(extent.New(0, 2, 0, 2, 0, 0)))
	k := pipeline.MustNew(NewWasmKernel(DoubleKernel, WaveletArray))
	connect(t, src, k)

	out := update(t, k)
	in := values(t, src.Output(0), WaveletArray)
	got := values(t, out, WaveletArray)
	for i := range in {
		if got[i] != 2*in[i] {
			t.Fatalf("Point %d: expected %g, got %g", i, 2*in[i], got[i])
		}
	}
}

func TestWasmKernel_InvalidModule(t *testing.T) {
	src := pipeline.MustNew(NewWaveletSource(extent.New(0, 1, 0, 1, 0, 0)))
	k := pipeline.MustNew(NewWasmKernel([]byte("not wasm"), WaveletArray))
	connect(t, src, k)

	if err := k.Update(context.Background()); !pipeline.IsComputation(err) {
		t.Errorf("Expected computation error, got %v", err)
	}
	if k.Output(0) != nil {
		t.Error("Expected no output after a failed first run")
	}
}

func TestSourceFailureKeepsOutput(t *testing.T) {
	w := NewWaveletSource(extent.New(0, 1, 0, 1, 0, 0))
	src := pipeline.MustNew(w)
	first := update(t, src)

	boom := errors.New("disk on fire")
	w.SetFail(boom)
	err := src.Update(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Expected wrapped failure, got %v", err)
	}
	if src.Output(0) != first {
		t.Error("Expected previous output to survive the failure")
	}
}
