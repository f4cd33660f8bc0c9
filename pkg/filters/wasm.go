package filters

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/gridflow/gridflow/pkg/dataset"
	"github.com/gridflow/gridflow/pkg/pipeline"
)

// KernelEntry is the export a WasmKernel module must provide, with
// signature (f64) -> f64.
const KernelEntry = "transform"

// DoubleKernel is a minimal module exporting transform(x) = 2*x.
var DoubleKernel = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type section: (f64) -> f64
	0x01, 0x06, 0x01, 0x60, 0x01, 0x7c, 0x01, 0x7c,
	// function section
	0x03, 0x02, 0x01, 0x00,
	// export section: "transform"
	0x07, 0x0d, 0x01, 0x09, 't', 'r', 'a', 'n', 's', 'f', 'o', 'r', 'm', 0x00, 0x00,
	// code section: local.get 0; f64.const 2; f64.mul
	0x0a, 0x10, 0x01, 0x0e, 0x00, 0x20, 0x00, 0x44, 0, 0, 0, 0, 0, 0, 0, 0x40, 0xa2, 0x0b,
}

// WasmKernel applies a WebAssembly function to every value of a point
// array. Each execution runs in a fresh sandboxed runtime with WASI and a
// memory limit.
type WasmKernel struct {
	pipeline.Base

	module           []byte
	array            string
	output           string
	timeout          time.Duration
	memoryLimitPages uint32
}

// NewWasmKernel returns a kernel running module over the named array.
func NewWasmKernel(module []byte, array string) *WasmKernel {
	return &WasmKernel{
		module:           module,
		array:            array,
		timeout:          30 * time.Second,
		memoryLimitPages: 256,
	}
}

func newWasmKernel(p Params) (pipeline.Algorithm, error) {
	r := paramReader{p: p}
	path := r.str("module", "")
	k := NewWasmKernel(DoubleKernel, r.str("array", WaveletArray))
	k.output = r.str("output", "")
	if pages := r.integer("memory_limit_pages", 0); pages > 0 {
		k.memoryLimitPages = uint32(pages)
	}
	if secs := r.num("timeout_seconds", 0); secs > 0 {
		k.timeout = time.Duration(secs * float64(time.Second))
	}
	if r.err != nil {
		return nil, r.err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("wasm-kernel: read module: %w", err)
		}
		k.module = data
	}
	return k, nil
}

func (k *WasmKernel) Descriptor() pipeline.Descriptor {
	return pipeline.Descriptor{
		Name:         "wasm-kernel",
		Inputs:       []pipeline.InputPortSpec{{Name: "input", Accepts: pointKinds}},
		Outputs:      []pipeline.OutputPortSpec{{Name: "output"}},
		Capabilities: pipeline.CapSubExtent | pipeline.CapPieces,
	}
}

// SetModule replaces the WebAssembly binary.
func (k *WasmKernel) SetModule(module []byte) {
	k.module = module
	k.Modified()
}

func (k *WasmKernel) RequestData(ctx context.Context, req *pipeline.Request) error {
	out := req.Output(0)
	if err := out.CopyFrom(req.Input(0, 0)); err != nil {
		return err
	}
	src, err := pointArray(out, k.array)
	if err != nil {
		return fmt.Errorf("wasm-kernel: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(k.memoryLimitPages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)
	defer runtime.Close(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		return fmt.Errorf("wasm-kernel: instantiate WASI: %w", err)
	}
	mod, err := runtime.Instantiate(ctx, k.module)
	if err != nil {
		return fmt.Errorf("wasm-kernel: instantiate module: %w", err)
	}
	fn := mod.ExportedFunction(KernelEntry)
	if fn == nil {
		return fmt.Errorf("wasm-kernel: module does not export %q", KernelEntry)
	}
	def := fn.Definition()
	if len(def.ParamTypes()) != 1 || def.ParamTypes()[0] != api.ValueTypeF64 ||
		len(def.ResultTypes()) != 1 || def.ResultTypes()[0] != api.ValueTypeF64 {
		return fmt.Errorf("wasm-kernel: %s must have signature (f64) -> f64", KernelEntry)
	}

	name := k.output
	if name == "" {
		name = k.array
	}
	dst := dataset.NewArray(name, src.Components(), src.Len())
	for i := 0; i < src.Len(); i++ {
		for c := 0; c < src.Components(); c++ {
			res, err := fn.Call(ctx, api.EncodeF64(src.At(i, c)))
			if err != nil {
				return fmt.Errorf("wasm-kernel: tuple %d: %w", i, err)
			}
			dst.Set(i, c, api.DecodeF64(res[0]))
		}
	}
	attrs, _ := pointData(out)
	attrs.Add(dst)
	return nil
}
