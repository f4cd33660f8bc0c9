package filters

import (
	"reflect"
	"strings"
	"testing"

	"github.com/gridflow/gridflow/pkg/extent"
)

func TestParams(t *testing.T) {
	p := Params{
		"f":    3,
		"i":    int64(7),
		"half": 1.5,
		"s":    "abc",
		"b":    true,
		"list": []any{1, 2.5, int64(3)},
		"ext":  []any{0, 4, 0, 4, 0, 0},
		"vec":  []any{1, 2},
	}

	if v, err := p.Float("f", 0); err != nil || v != 3 {
		t.Errorf("Expected 3, got %g (%v)", v, err)
	}
	if v, err := p.Int("i", 0); err != nil || v != 7 {
		t.Errorf("Expected 7, got %d (%v)", v, err)
	}
	if _, err := p.Int("half", 0); err == nil {
		t.Error("Expected error for fractional integer")
	}
	if v, _ := p.Float("missing", 9); v != 9 {
		t.Errorf("Expected default 9, got %g", v)
	}
	if _, err := p.Str("f", ""); err == nil {
		t.Error("Expected error for non-string")
	}
	if v, _ := p.Bool("b", false); !v {
		t.Error("Expected true")
	}
	if v, err := p.Floats("list", nil); err != nil || !reflect.DeepEqual(v, []float64{1, 2.5, 3}) {
		t.Errorf("Unexpected list %v (%v)", v, err)
	}
	if v, err := p.Extent("ext", extent.Empty); err != nil || v != extent.New(0, 4, 0, 4, 0, 0) {
		t.Errorf("Unexpected extent %v (%v)", v, err)
	}
	if _, err := p.Vec3("vec", [3]float64{}); err == nil {
		t.Error("Expected error for two-component vector")
	}
	if got := p.Keys(); got[0] != "b" || len(got) != len(p) {
		t.Errorf("Expected sorted keys, got %v", got)
	}
}

func TestParamReaderKeepsFirstError(t *testing.T) {
	r := paramReader{p: Params{"a": "x", "b": "y"}}
	r.num("a", 0)
	r.integer("b", 0)
	if r.err == nil || !strings.Contains(r.err.Error(), `"a"`) {
		t.Errorf("Expected the first error to be kept, got %v", r.err)
	}
}

func TestRegistry(t *testing.T) {
	reg := DefaultRegistry()

	if !reg.Has("wavelet") || !reg.Has("wasm-kernel") {
		t.Fatal("Expected built-in algorithms to be registered")
	}
	if !reg.IsScript("programmable") || reg.IsScript("wavelet") {
		t.Error("Unexpected script classification")
	}
	if _, err := reg.New("teapot", nil); err == nil {
		t.Error("Expected error for unknown type")
	}
	if err := reg.Register("wavelet", newWavelet, false); err == nil {
		t.Error("Expected error for duplicate registration")
	}

	alg, err := reg.New("wavelet", Params{"whole_extent": []any{0, 2, 0, 2, 0, 0}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if w := alg.(*WaveletSource); w.whole != extent.New(0, 2, 0, 2, 0, 0) {
		t.Errorf("Expected configured whole extent, got %s", w.whole)
	}
	if _, err := reg.New("wavelet", Params{"maximum": "high"}); err == nil {
		t.Error("Expected error for bad parameter type")
	}
	if _, err := reg.New("extract-subset", nil); err == nil {
		t.Error("Expected error for missing voi")
	}

	names := reg.Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("Expected sorted names, got %v", names)
		}
	}
	for _, name := range names {
		if name == "extract-subset" {
			continue
		}
		if _, err := reg.New(name, nil); err != nil && name != "programmable" {
			t.Errorf("Expected %s to build with defaults, got %v", name, err)
		}
	}
}
