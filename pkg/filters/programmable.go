package filters

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/gridflow/gridflow/pkg/dataset"
	"github.com/gridflow/gridflow/pkg/pipeline"
)

// ProgramEntry is the function a Programmable script must define. It is
// called once per point as compute(value, x, y, z) and returns the new value.
const ProgramEntry = "compute"

// Programmable computes a point array with a Starlark script. The script
// sees the filter parameters as the predeclared dict "params" and the
// Starlark math module as "math".
type Programmable struct {
	pipeline.Base

	script  string
	array   string
	output  string
	params  map[string]any
	timeout time.Duration
}

// NewProgrammable returns a filter running script over the named array.
func NewProgrammable(script, array string) *Programmable {
	return &Programmable{script: script, array: array, timeout: 30 * time.Second}
}

func newProgrammable(p Params) (pipeline.Algorithm, error) {
	r := paramReader{p: p}
	f := NewProgrammable(r.str("script", ""), r.str("array", WaveletArray))
	f.output = r.str("output", "")
	if secs := r.num("timeout_seconds", 0); secs > 0 {
		f.timeout = time.Duration(secs * float64(time.Second))
	}
	if r.err != nil {
		return nil, r.err
	}
	if raw, ok := p["params"].(map[string]any); ok {
		f.params = raw
	}
	if _, _, err := f.compile(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Programmable) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:         "programmable",
		Inputs:       []pipeline.InputPortSpec{{Name: "input", Accepts: pointKinds}},
		Outputs:      []pipeline.OutputPortSpec{{Name: "output"}},
		Capabilities: pipeline.CapSubExtent | pipeline.CapPieces,
	}
}

// SetScript replaces the program.
func (f *Programmable) SetScript(script string) {
	f.script = script
	f.Modified()
}

// SetParams replaces the values exposed to the script as "params".
func (f *Programmable) SetParams(params map[string]any) {
	f.params = params
	f.Modified()
}

func (f *Programmable) compile() (*starlark.Thread, starlark.Callable, error) {
	thread := &starlark.Thread{
		Name:  "programmable",
		Print: func(*starlark.Thread, string) {},
	}
	params, err := toStarlarkValue(f.params)
	if err != nil {
		return nil, nil, fmt.Errorf("programmable: params: %w", err)
	}
	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
		"math":   math.Module,
		"params": params,
	}
	globals, err := starlark.ExecFile(thread, "program.star", f.script, predeclared)
	if err != nil {
		return nil, nil, fmt.Errorf("programmable: %w", err)
	}
	fn, ok := globals[ProgramEntry].(starlark.Callable)
	if !ok {
		return nil, nil, fmt.Errorf("programmable: script must define %s(value, x, y, z)", ProgramEntry)
	}
	return thread, fn, nil
}

func (f *Programmable) RequestData(ctx context.Context, req *pipeline.Request) error {
	out := req.Output(0)
	if err := out.CopyFrom(req.Input(0, 0)); err != nil {
		return err
	}
	src, err := pointArray(out, f.array)
	if err != nil {
		return fmt.Errorf("programmable: %w", err)
	}
	thread, fn, err := f.compile()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { thread.Cancel(context.Cause(ctx).Error()) })
	defer stop()

	name := f.output
	if name == "" {
		name = f.array
	}
	dst := dataset.NewArray(name, 1, src.Len())
	position := positions(out)
	for i := 0; i < src.Len(); i++ {
		p := position(i)
		args := starlark.Tuple{
			starlark.Float(src.Value(i)),
			starlark.Float(p[0]), starlark.Float(p[1]), starlark.Float(p[2]),
		}
		res, err := starlark.Call(thread, fn, args, nil)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("programmable: point %d: %w", i, ctx.Err())
			}
			return fmt.Errorf("programmable: point %d: %w", i, err)
		}
		v, ok := starlark.AsFloat(res)
		if !ok {
			return fmt.Errorf("programmable: point %d: %s returned %s, want a number", i, ProgramEntry, res.Type())
		}
		dst.SetValue(i, v)
	}
	attrs, _ := pointData(out)
	attrs.Add(dst)
	return nil
}

// positions returns a lookup of point coordinates for image or unstructured
// data.
func positions(d *dataset.DataObject) func(id int) [3]float64 {
	if im := d.Image(); im != nil {
		ext := d.Extent()
		return func(id int) [3]float64 {
			i, j, k := dataset.PointIJK(ext, id)
			return im.Position(i, j, k)
		}
	}
	g := d.Unstructured()
	return g.Point
}

// toStarlarkValue converts decoded YAML or CUE values to Starlark values.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			sv, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}
