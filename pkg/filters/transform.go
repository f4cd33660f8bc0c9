package filters

import (
	"context"
	"fmt"

	"github.com/gridflow/gridflow/pkg/dataset"
	"github.com/gridflow/gridflow/pkg/extent"
	"github.com/gridflow/gridflow/pkg/info"
	"github.com/gridflow/gridflow/pkg/pipeline"
	"github.com/gridflow/gridflow/pkg/workpool"
)

var pointKinds = []dataset.Kind{dataset.KindImage, dataset.KindUnstructured}

// pointData returns the per-point arrays of an image or unstructured object.
func pointData(d *dataset.DataObject) (*dataset.Attributes, error) {
	switch p := d.Payload().(type) {
	case *dataset.ImageData:
		return p.PointData(), nil
	case *dataset.UnstructuredGrid:
		return p.PointData(), nil
	default:
		return nil, fmt.Errorf("%s data has no point attributes", d.Kind())
	}
}

// pointArray looks up a named point array.
func pointArray(d *dataset.DataObject, name string) (*dataset.Array, error) {
	attrs, err := pointData(d)
	if err != nil {
		return nil, err
	}
	arr, ok := attrs.Get(name)
	if !ok {
		return nil, fmt.Errorf("no point array %q", name)
	}
	return arr, nil
}

// ShiftScale maps every component of a point array through (v+shift)*scale.
// The result replaces the input array unless an output name is set.
type ShiftScale struct {
	pipeline.Base

	array    string
	output   string
	shift    float64
	scale    float64
	parallel int
}

// NewShiftScale returns a filter over the named point array.
func NewShiftScale(array string, shift, scale float64) *ShiftScale {
	return &ShiftScale{array: array, shift: shift, scale: scale}
}

func newShiftScale(p Params) (pipeline.Algorithm, error) {
	r := paramReader{p: p}
	f := NewShiftScale(r.str("array", WaveletArray), r.num("shift", 0), r.num("scale", 1))
	f.output = r.str("output", "")
	f.parallel = r.integer("parallel", 0)
	return f, r.err
}

func (f *ShiftScale) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:         "shift-scale",
		Inputs:       []pipeline.InputPortSpec{{Name: "input", Accepts: pointKinds}},
		Outputs:      []pipeline.OutputPortSpec{{Name: "output"}},
		Capabilities: pipeline.CapSubExtent | pipeline.CapPieces,
	}
}

// SetShift changes the additive term.
func (f *ShiftScale) SetShift(v float64) {
	f.shift = v
	f.Modified()
}

// SetScale changes the multiplicative term.
func (f *ShiftScale) SetScale(v float64) {
	f.scale = v
	f.Modified()
}

func (f *ShiftScale) RequestData(ctx context.Context, req *pipeline.Request) error {
	out := req.Output(0)
	if err := out.CopyFrom(req.Input(0, 0)); err != nil {
		return err
	}
	src, err := pointArray(out, f.array)
	if err != nil {
		return fmt.Errorf("shift-scale: %w", err)
	}

	name := f.output
	if name == "" {
		name = f.array
	}
	comps := src.Components()
	dst := dataset.NewArray(name, comps, src.Len())
	err = workpool.ForEach(ctx, src.Len(), f.parallel, func(i int) {
		for c := 0; c < comps; c++ {
			dst.Set(i, c, (src.At(i, c)+f.shift)*f.scale)
		}
	})
	if err != nil {
		return err
	}
	attrs, _ := pointData(out)
	attrs.Add(dst)
	return nil
}

// ExtractSubset crops an image to a volume of interest. Only the part of the
// volume that is requested downstream is requested upstream.
type ExtractSubset struct {
	pipeline.Base

	voi extent.Extent
}

// NewExtractSubset returns a filter cropping to voi.
func NewExtractSubset(voi extent.Extent) *ExtractSubset {
	return &ExtractSubset{voi: voi}
}

func newExtractSubset(p Params) (pipeline.Algorithm, error) {
	voi, err := p.Extent("voi", extent.Empty)
	if err != nil {
		return nil, err
	}
	if voi.IsEmpty() {
		return nil, fmt.Errorf("extract-subset: voi is required")
	}
	return NewExtractSubset(voi), nil
}

func (f *ExtractSubset) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:         "extract-subset",
		Inputs:       []pipeline.InputPortSpec{{Name: "input", Accepts: []dataset.Kind{dataset.KindImage}}},
		Outputs:      []pipeline.OutputPortSpec{{Name: "output", Produces: dataset.KindImage}},
		Capabilities: pipeline.CapSubExtent,
	}
}

// SetVOI changes the volume of interest.
func (f *ExtractSubset) SetVOI(voi extent.Extent) {
	f.voi = voi
	f.Modified()
}

func (f *ExtractSubset) RequestInformation(_ context.Context, req *pipeline.Request) error {
	whole, _, err := pipeline.GetExtent(req.InputInformation(0, 0), pipeline.WholeExtent)
	if err != nil {
		return err
	}
	sub := whole.Intersect(f.voi)
	if sub.IsEmpty() {
		return fmt.Errorf("extract-subset: voi %s does not intersect %s", f.voi, whole)
	}
	pipeline.SetExtent(req.OutputInformation(0), pipeline.WholeExtent, sub)
	return nil
}

func (f *ExtractSubset) RequestUpdateExtent(_ context.Context, req *pipeline.Request) error {
	u := req.UpdateRequest(0)
	u.Extent = req.RequestedExtent(0).Intersect(f.voi)
	req.SetInputRequest(0, 0, u)
	return nil
}

func (f *ExtractSubset) RequestData(_ context.Context, req *pipeline.Request) error {
	in := req.Input(0, 0)
	out := req.Output(0)
	ext := req.RequestedExtent(0).Intersect(f.voi)
	if ext.IsEmpty() {
		out.SetExtent(extent.Empty)
		return nil
	}
	if !in.Extent().Contains(ext) {
		return fmt.Errorf("extract-subset: input %s does not cover %s", in.Extent(), ext)
	}
	if err := out.SetPayload(dataset.SubImage(in.Image(), in.Extent(), ext)); err != nil {
		return err
	}
	out.SetExtent(ext)
	return nil
}

// Histogram counts the values of a point array into equal-width bins. It
// always requests the whole input, whatever is asked of it, and publishes a
// one-dimensional image with one point per bin.
type Histogram struct {
	pipeline.Base

	array string
	bins  int
}

// Histogram output arrays.
const (
	HistogramCounts  = "count"
	HistogramCenters = "bin_center"
)

// NewHistogram returns a histogram of the named point array.
func NewHistogram(array string, bins int) *Histogram {
	return &Histogram{array: array, bins: max(1, bins)}
}

func newHistogram(p Params) (pipeline.Algorithm, error) {
	r := paramReader{p: p}
	h := NewHistogram(r.str("array", WaveletArray), r.integer("bins", 10))
	return h, r.err
}

func (h *Histogram) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:    "histogram",
		Inputs:  []pipeline.InputPortSpec{{Name: "input", Accepts: pointKinds}},
		Outputs: []pipeline.OutputPortSpec{{Name: "output", Produces: dataset.KindImage}},
	}
}

func (h *Histogram) wholeExtent() extent.Extent {
	return extent.New(0, h.bins-1, 0, 0, 0, 0)
}

func (h *Histogram) RequestInformation(_ context.Context, req *pipeline.Request) error {
	pipeline.SetExtent(req.OutputInformation(0), pipeline.WholeExtent, h.wholeExtent())
	return nil
}

func (h *Histogram) RequestUpdateExtent(_ context.Context, req *pipeline.Request) error {
	u := pipeline.WholeRequest()
	if want := req.UpdateRequest(0); want.HasTime {
		u.HasTime, u.Time = true, want.Time
	}
	if whole, ok, _ := pipeline.GetExtent(req.InputInformation(0, 0), pipeline.WholeExtent); ok {
		u.Extent = whole
	}
	req.SetInputRequest(0, 0, u)
	return nil
}

func (h *Histogram) RequestData(_ context.Context, req *pipeline.Request) error {
	src, err := pointArray(req.Input(0, 0), h.array)
	if err != nil {
		return fmt.Errorf("histogram: %w", err)
	}
	var lo, hi float64
	if src.Len() > 0 {
		lo, hi = src.Range(0)
	}

	counts := dataset.NewArray(HistogramCounts, 1, h.bins)
	centers := dataset.NewArray(HistogramCenters, 1, h.bins)
	width := (hi - lo) / float64(h.bins)
	for b := 0; b < h.bins; b++ {
		centers.SetValue(b, lo+width*(float64(b)+0.5))
	}
	for i := 0; i < src.Len(); i++ {
		b := 0
		if width > 0 {
			b = min(h.bins-1, int((src.Value(i)-lo)/width))
		}
		counts.SetValue(b, counts.Value(b)+1)
	}

	out := req.Output(0)
	out.SetExtent(h.wholeExtent())
	im := out.Image()
	im.PointData().Add(counts)
	im.PointData().Add(centers)
	return nil
}

// TimeShift offsets time: output time t is computed from input time t-shift.
type TimeShift struct {
	pipeline.Base

	shift float64
}

// NewTimeShift returns a filter adding shift to every time value.
func NewTimeShift(shift float64) *TimeShift {
	return &TimeShift{shift: shift}
}

func newTimeShift(p Params) (pipeline.Algorithm, error) {
	shift, err := p.Float("shift", 0)
	if err != nil {
		return nil, err
	}
	return NewTimeShift(shift), nil
}

func (f *TimeShift) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:         "time-shift",
		Inputs:       []pipeline.InputPortSpec{{Name: "input"}},
		Outputs:      []pipeline.OutputPortSpec{{Name: "output"}},
		Capabilities: pipeline.CapAcceptsComposite | pipeline.CapSubExtent | pipeline.CapPieces,
	}
}

// SetShift changes the offset.
func (f *TimeShift) SetShift(v float64) {
	f.shift = v
	f.Modified()
}

func (f *TimeShift) RequestInformation(_ context.Context, req *pipeline.Request) error {
	out := req.OutputInformation(0)
	for _, key := range []info.Key[[]float64]{pipeline.TimeSteps, pipeline.TimeRange} {
		vals, ok := key.Get(out)
		if !ok {
			continue
		}
		for i := range vals {
			vals[i] += f.shift
		}
		key.Set(out, vals)
	}
	return nil
}

func (f *TimeShift) RequestUpdateTime(_ context.Context, req *pipeline.Request) error {
	want := req.UpdateRequest(0)
	if !want.HasTime {
		return nil
	}
	for c := 0; c < req.NumConnections(0); c++ {
		u, err := pipeline.ReadUpdateRequest(req.InputRequest(0, c))
		if err != nil {
			return err
		}
		u.HasTime, u.Time = true, want.Time-f.shift
		req.SetInputRequest(0, c, u)
	}
	return nil
}

func (f *TimeShift) RequestData(_ context.Context, req *pipeline.Request) error {
	out := req.Output(0)
	if err := out.CopyFrom(req.Input(0, 0)); err != nil {
		return err
	}
	if want := req.UpdateRequest(0); want.HasTime {
		out.SetTimeStep(want.Time)
	} else if t, ok := out.TimeStep(); ok {
		out.SetTimeStep(t + f.shift)
	}
	return nil
}
