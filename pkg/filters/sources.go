package filters

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/gridflow/gridflow/pkg/dataset"
	"github.com/gridflow/gridflow/pkg/extent"
	"github.com/gridflow/gridflow/pkg/info"
	"github.com/gridflow/gridflow/pkg/pipeline"
	"github.com/gridflow/gridflow/pkg/redistribute"
	"github.com/gridflow/gridflow/pkg/workpool"
)

// WaveletArray is the point array produced by WaveletSource.
const WaveletArray = "RTData"

// WaveletSource generates an analytic scalar field on a uniform grid. It
// produces any requested sub-extent directly.
type WaveletSource struct {
	pipeline.Base

	whole     extent.Extent
	center    [3]float64
	maximum   float64
	deviation float64
	freq      [3]float64
	mag       [3]float64
	timeSteps []float64
	parallel  int
	fail      error

	runs atomic.Int64
}

// NewWaveletSource returns a source over whole.
func NewWaveletSource(whole extent.Extent) *WaveletSource {
	return &WaveletSource{
		whole:     whole,
		maximum:   255,
		deviation: 0.5,
		freq:      [3]float64{60, 30, 40},
		mag:       [3]float64{10, 18, 5},
	}
}

func newWavelet(p Params) (pipeline.Algorithm, error) {
	r := paramReader{p: p}
	w := NewWaveletSource(r.ext("whole_extent", extent.New(-10, 10, -10, 10, -10, 10)))
	w.center = r.vec("center", w.center)
	w.maximum = r.num("maximum", w.maximum)
	w.deviation = r.num("deviation", w.deviation)
	w.timeSteps = r.nums("time_steps", nil)
	w.parallel = r.integer("parallel", 0)
	if r.err != nil {
		return nil, r.err
	}
	if err := w.whole.Validate(); err != nil || w.whole.IsEmpty() {
		return nil, fmt.Errorf("wavelet: invalid whole extent %s", w.whole)
	}
	return w, nil
}

func (w *WaveletSource) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:         "wavelet",
		Outputs:      []pipeline.OutputPortSpec{{Name: "output", Produces: dataset.KindImage}},
		Capabilities: pipeline.CapSubExtent,
	}
}

// SetWholeExtent changes the advertised domain.
func (w *WaveletSource) SetWholeExtent(e extent.Extent) {
	w.whole = e
	w.Modified()
}

// SetTimeSteps advertises discrete time steps.
func (w *WaveletSource) SetTimeSteps(ts []float64) {
	w.timeSteps = append([]float64(nil), ts...)
	w.Modified()
}

// SetMaximum changes the peak value.
func (w *WaveletSource) SetMaximum(m float64) {
	w.maximum = m
	w.Modified()
}

// SetFail makes every subsequent RequestData fail with err. nil clears it.
func (w *WaveletSource) SetFail(err error) {
	w.fail = err
	w.Modified()
}

// Executions returns how many times RequestData ran.
func (w *WaveletSource) Executions() int { return int(w.runs.Load()) }

func (w *WaveletSource) RequestInformation(_ context.Context, req *pipeline.Request) error {
	out := req.OutputInformation(0)
	pipeline.SetExtent(out, pipeline.WholeExtent, w.whole)
	if len(w.timeSteps) > 0 {
		pipeline.TimeSteps.Set(out, w.timeSteps)
		pipeline.TimeRange.Set(out, []float64{w.timeSteps[0], w.timeSteps[len(w.timeSteps)-1]})
	}
	return nil
}

func (w *WaveletSource) RequestData(ctx context.Context, req *pipeline.Request) error {
	w.runs.Add(1)
	if w.fail != nil {
		return w.fail
	}

	ext := req.RequestedExtent(0)
	out := req.Output(0)
	out.SetExtent(ext)
	if ext.IsEmpty() {
		return nil
	}

	var t float64
	if u := req.UpdateRequest(0); u.HasTime {
		t = u.Time
	}

	arr := dataset.NewArray(WaveletArray, 1, ext.NumPoints())
	err := workpool.ForEach(ctx, arr.Len(), w.parallel, func(id int) {
		i, j, k := dataset.PointIJK(ext, id)
		arr.SetValue(id, w.value(i, j, k, t))
	})
	if err != nil {
		return err
	}
	out.Image().PointData().Add(arr)
	return nil
}

func (w *WaveletSource) value(i, j, k int, t float64) float64 {
	norm := func(v, c float64, axis int) float64 {
		return (v - c) / math.Max(1, float64(w.whole.Width(axis)))
	}
	x := norm(float64(i), w.center[0], 0)
	y := norm(float64(j), w.center[1], 1)
	z := norm(float64(k), w.center[2], 2)
	r2 := x*x + y*y + z*z
	return w.maximum*math.Exp(-r2/(2*w.deviation*w.deviation)) +
		w.mag[0]*math.Sin(w.freq[0]*x) +
		w.mag[1]*math.Sin(w.freq[1]*y) +
		w.mag[2]*math.Cos(w.freq[2]*z) + t
}

// ElevationArray is the point array produced by MeshSource.
const ElevationArray = "elevation"

// MeshSource generates a planar quad mesh on the unit square. It handles
// piece requests natively: only the requested band of rows and its ghost
// layers are emitted.
type MeshSource struct {
	pipeline.Base

	resolution int
	runs       atomic.Int64
}

// NewMeshSource returns a mesh of resolution x resolution quads.
func NewMeshSource(resolution int) *MeshSource {
	return &MeshSource{resolution: max(1, resolution)}
}

func newMesh(p Params) (pipeline.Algorithm, error) {
	res, err := p.Int("resolution", 8)
	if err != nil {
		return nil, err
	}
	if res < 1 {
		return nil, fmt.Errorf("mesh: resolution must be positive, got %d", res)
	}
	return NewMeshSource(res), nil
}

func (m *MeshSource) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:         "mesh",
		Outputs:      []pipeline.OutputPortSpec{{Name: "output", Produces: dataset.KindUnstructured}},
		Capabilities: pipeline.CapPieces,
	}
}

// SetResolution changes the number of quads per side.
func (m *MeshSource) SetResolution(n int) {
	m.resolution = max(1, n)
	m.Modified()
}

// Executions returns how many times RequestData ran.
func (m *MeshSource) Executions() int { return int(m.runs.Load()) }

func (m *MeshSource) RequestData(_ context.Context, req *pipeline.Request) error {
	m.runs.Add(1)
	want := req.UpdateRequest(0).Piece
	full, err := m.build()
	if err != nil {
		return err
	}

	owners := make([]int, full.NumCells())
	for c := range owners {
		row := c / m.resolution
		owners[c] = row * want.Count / m.resolution
	}
	grid, err := redistribute.ExtractPiece(full, owners, want.Index, want.GhostLevel)
	if err != nil {
		return err
	}

	out := req.Output(0)
	if err := out.SetPayload(grid); err != nil {
		return err
	}
	out.SetPiece(want)
	return nil
}

func (m *MeshSource) build() (*dataset.UnstructuredGrid, error) {
	n := m.resolution
	g := dataset.NewUnstructuredGrid()
	elev := dataset.NewArray(ElevationArray, 1, (n+1)*(n+1))
	for j := 0; j <= n; j++ {
		for i := 0; i <= n; i++ {
			y := float64(j) / float64(n)
			id := g.AddPoint([3]float64{float64(i) / float64(n), y, 0})
			elev.SetValue(id, y)
		}
	}
	g.PointData().Add(elev)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			p := j*(n+1) + i
			if _, err := g.AddCell(dataset.CellQuad, p, p+1, p+n+2, p+n+1); err != nil {
				return nil, err
			}
		}
	}
	redistribute.AssignGlobalIDs(g)
	return g, nil
}

// DensityArray is the point array carried by AMRSource blocks.
const DensityArray = "density"

// AMRSource generates a refinement hierarchy: two side-by-side blocks on
// level 0 and one block per finer level refining the lower-left corner.
type AMRSource struct {
	pipeline.Base

	levels    int
	blockSize int
	ratio     int
}

// NewAMRSource returns a hierarchy with the given number of levels.
func NewAMRSource(levels, blockSize, ratio int) *AMRSource {
	return &AMRSource{levels: max(1, levels), blockSize: max(1, blockSize), ratio: max(2, ratio)}
}

func newAMR(p Params) (pipeline.Algorithm, error) {
	r := paramReader{p: p}
	levels := r.integer("levels", 3)
	size := r.integer("block_size", 8)
	ratio := r.integer("refinement_ratio", 2)
	if r.err != nil {
		return nil, r.err
	}
	if ratio < 2 {
		return nil, fmt.Errorf("amr: refinement ratio must be >= 2, got %d", ratio)
	}
	return NewAMRSource(levels, size, ratio), nil
}

func (a *AMRSource) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name: "amr",
		Outputs: []pipeline.OutputPortSpec{{
			Name: "output", Produces: dataset.KindAMR, LeafKind: dataset.KindImage,
		}},
	}
}

func (a *AMRSource) blocks() []dataset.Block {
	s := a.blockSize
	out := []dataset.Block{
		{ID: dataset.BlockID{Level: 0, Index: 0}, Extent: extent.New(0, s, 0, s, 0, 0)},
		{ID: dataset.BlockID{Level: 0, Index: 1}, Extent: extent.New(s, 2*s, 0, s, 0, 0)},
	}
	for l := 1; l < a.levels; l++ {
		out = append(out, dataset.Block{
			ID:     dataset.BlockID{Level: l, Index: 0},
			Extent: extent.New(0, s, 0, s, 0, 0),
		})
	}
	return out
}

func (a *AMRSource) RequestInformation(_ context.Context, req *pipeline.Request) error {
	out := req.OutputInformation(0)
	pipeline.RefinementRatio.Set(out, a.ratio)
	var structure []*info.Information
	for _, b := range a.blocks() {
		entry := info.New()
		pipeline.BlockLevel.Set(entry, b.ID.Level)
		pipeline.BlockIndex.Set(entry, b.ID.Index)
		pipeline.SetExtent(entry, pipeline.BlockExtent, b.Extent)
		structure = append(structure, entry)
	}
	pipeline.CompositeStructure.Set(out, structure)
	return nil
}

func (a *AMRSource) RequestData(_ context.Context, req *pipeline.Request) error {
	h, err := dataset.NewAMR(a.ratio, [3]float64{}, [3]float64{1, 1, 1})
	if err != nil {
		return err
	}
	for _, b := range a.blocks() {
		d := dataset.MustNew(dataset.KindImage)
		d.SetExtent(b.Extent)
		im := d.Image()
		im.SetSpacing(h.Spacing(b.ID.Level))
		arr := dataset.NewArray(DensityArray, 1, b.Extent.NumPoints())
		for id := 0; id < arr.Len(); id++ {
			arr.SetValue(id, float64(100*b.ID.Level+id))
		}
		im.PointData().Add(arr)
		if err := h.SetBlock(b.ID.Level, b.ID.Index, b.Extent, d); err != nil {
			return err
		}
	}
	return req.Output(0).SetPayload(h)
}

// MultiBlockSource generates a small tree mixing image and unstructured
// leaves, plus one leaf without data.
type MultiBlockSource struct {
	pipeline.Base

	imageLeaves int
}

// NewMultiBlockSource returns a tree with n image leaves under "images".
func NewMultiBlockSource(n int) *MultiBlockSource {
	return &MultiBlockSource{imageLeaves: max(1, n)}
}

func newMultiBlock(p Params) (pipeline.Algorithm, error) {
	n, err := p.Int("image_leaves", 2)
	if err != nil {
		return nil, err
	}
	return NewMultiBlockSource(n), nil
}

func (m *MultiBlockSource) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:    "multiblock",
		Outputs: []pipeline.OutputPortSpec{{Name: "output", Produces: dataset.KindMultiBlock}},
	}
}

func (m *MultiBlockSource) RequestInformation(_ context.Context, req *pipeline.Request) error {
	var structure []*info.Information
	for i := 0; i < m.imageLeaves; i++ {
		entry := info.New()
		pipeline.BlockName.Set(entry, fmt.Sprintf("root/images/image%d", i))
		structure = append(structure, entry)
	}
	entry := info.New()
	pipeline.BlockName.Set(entry, "root/meshes/plate")
	structure = append(structure, entry)
	pipeline.CompositeStructure.Set(req.OutputInformation(0), structure)
	return nil
}

func (m *MultiBlockSource) RequestData(_ context.Context, req *pipeline.Request) error {
	tree := dataset.NewMultiBlock("root")
	images := tree.Root().AddChild("images", nil)
	for i := 0; i < m.imageLeaves; i++ {
		size := 4 * (i + 1)
		d := dataset.MustNew(dataset.KindImage)
		ext := extent.New(0, size, 0, size, 0, 0)
		d.SetExtent(ext)
		arr := dataset.NewArray(DensityArray, 1, ext.NumPoints())
		for id := 0; id < arr.Len(); id++ {
			arr.SetValue(id, float64(i))
		}
		d.Image().PointData().Add(arr)
		images.AddChild(fmt.Sprintf("image%d", i), d)
	}

	meshes := tree.Root().AddChild("meshes", nil)
	plate, err := NewMeshSource(2).build()
	if err != nil {
		return err
	}
	d := dataset.MustNew(dataset.KindUnstructured)
	if err := d.SetPayload(plate); err != nil {
		return err
	}
	meshes.AddChild("plate", d)
	meshes.AddChild("empty", nil)

	return req.Output(0).SetPayload(tree)
}
