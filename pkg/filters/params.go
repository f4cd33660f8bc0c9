package filters

import (
	"fmt"
	"sort"

	"github.com/gridflow/gridflow/pkg/extent"
)

// Params is the generic parameter map a filter is built from. Values come
// from YAML or CUE documents, so numbers may arrive as int, int64 or
// float64 and lists as []any.
type Params map[string]any

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Float returns a numeric parameter.
func (p Params) Float(name string, def float64) (float64, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return def, fmt.Errorf("parameter %q: expected number, got %T", name, v)
	}
	return f, nil
}

// Int returns an integer parameter.
func (p Params) Int(name string, def int) (int, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok || f != float64(int(f)) {
		return def, fmt.Errorf("parameter %q: expected integer, got %v", name, v)
	}
	return int(f), nil
}

// Str returns a string parameter.
func (p Params) Str(name, def string) (string, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return def, fmt.Errorf("parameter %q: expected string, got %T", name, v)
	}
	return s, nil
}

// Bool returns a boolean parameter.
func (p Params) Bool(name string, def bool) (bool, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return def, fmt.Errorf("parameter %q: expected bool, got %T", name, v)
	}
	return b, nil
}

// Floats returns a numeric list parameter.
func (p Params) Floats(name string, def []float64) ([]float64, error) {
	v, ok := p[name]
	if !ok || v == nil {
		return def, nil
	}
	var items []any
	switch l := v.(type) {
	case []any:
		items = l
	case []float64:
		return l, nil
	case []int:
		out := make([]float64, len(l))
		for i, x := range l {
			out[i] = float64(x)
		}
		return out, nil
	default:
		return def, fmt.Errorf("parameter %q: expected list, got %T", name, v)
	}
	out := make([]float64, len(items))
	for i, item := range items {
		f, ok := toFloat(item)
		if !ok {
			return def, fmt.Errorf("parameter %q[%d]: expected number, got %T", name, i, item)
		}
		out[i] = f
	}
	return out, nil
}

// Extent returns a six-integer extent parameter.
func (p Params) Extent(name string, def extent.Extent) (extent.Extent, error) {
	if _, ok := p[name]; !ok {
		return def, nil
	}
	vals, err := p.Floats(name, nil)
	if err != nil {
		return def, err
	}
	ints := make([]int, len(vals))
	for i, f := range vals {
		ints[i] = int(f)
	}
	e, err := extent.FromSlice(ints)
	if err != nil {
		return def, fmt.Errorf("parameter %q: %w", name, err)
	}
	return e, nil
}

// Vec3 returns a three-component parameter.
func (p Params) Vec3(name string, def [3]float64) ([3]float64, error) {
	vals, err := p.Floats(name, nil)
	if err != nil || vals == nil {
		return def, err
	}
	if len(vals) != 3 {
		return def, fmt.Errorf("parameter %q: expected 3 values, got %d", name, len(vals))
	}
	return [3]float64{vals[0], vals[1], vals[2]}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// paramReader collects the first error of a sequence of parameter reads.
type paramReader struct {
	p   Params
	err error
}

func (r *paramReader) num(name string, def float64) float64 {
	v, err := r.p.Float(name, def)
	r.keep(err)
	return v
}

func (r *paramReader) integer(name string, def int) int {
	v, err := r.p.Int(name, def)
	r.keep(err)
	return v
}

func (r *paramReader) str(name, def string) string {
	v, err := r.p.Str(name, def)
	r.keep(err)
	return v
}

func (r *paramReader) flag(name string, def bool) bool {
	v, err := r.p.Bool(name, def)
	r.keep(err)
	return v
}

func (r *paramReader) nums(name string, def []float64) []float64 {
	v, err := r.p.Floats(name, def)
	r.keep(err)
	return v
}

func (r *paramReader) ext(name string, def extent.Extent) extent.Extent {
	v, err := r.p.Extent(name, def)
	r.keep(err)
	return v
}

func (r *paramReader) vec(name string, def [3]float64) [3]float64 {
	v, err := r.p.Vec3(name, def)
	r.keep(err)
	return v
}

func (r *paramReader) keep(err error) {
	if r.err == nil {
		r.err = err
	}
}
