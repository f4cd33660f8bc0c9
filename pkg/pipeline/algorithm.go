package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/gridflow/gridflow/pkg/dataset"
)

// Algorithm is a pipeline node. Only RequestData is mandatory; the other
// phases fall back to default behavior unless the algorithm implements the
// matching capability interface.
type Algorithm interface {
	// Descriptor declares ports and capabilities. It is queried once when the
	// executive is created.
	Descriptor() Descriptor

	// MTime returns the time of the last parameter change. A value newer than
	// the last execution makes the node stale.
	MTime() uint64

	// RequestData computes the outputs from the inputs.
	RequestData(ctx context.Context, req *Request) error
}

// DataObjectRequester chooses output data kinds at run time.
type DataObjectRequester interface {
	RequestDataObject(ctx context.Context, req *Request) error
}

// InformationRequester publishes what the outputs can provide.
type InformationRequester interface {
	RequestInformation(ctx context.Context, req *Request) error
}

// UpdateExtentRequester decides which part of each input it needs.
type UpdateExtentRequester interface {
	RequestUpdateExtent(ctx context.Context, req *Request) error
}

// TimeAware translates requested output times into input times. It runs
// before RequestUpdateExtent.
type TimeAware interface {
	RequestUpdateTime(ctx context.Context, req *Request) error
}

// Capability is a set of optional algorithm features.
type Capability uint8

const (
	// CapAcceptsComposite lets composite inputs through whole. Without it a
	// composite input is processed one leaf block at a time.
	CapAcceptsComposite Capability = 1 << iota

	// CapSubExtent means structured outputs can be produced for any
	// sub-extent of the whole extent.
	CapSubExtent

	// CapPieces means unstructured outputs can be produced piece by piece.
	CapPieces
)

// Has reports whether every capability in c is set.
func (s Capability) Has(c Capability) bool { return s&c == c }

func (s Capability) String() string {
	var parts []string
	if s.Has(CapAcceptsComposite) {
		parts = append(parts, "composite")
	}
	if s.Has(CapSubExtent) {
		parts = append(parts, "sub-extent")
	}
	if s.Has(CapPieces) {
		parts = append(parts, "pieces")
	}
	return strings.Join(parts, "|")
}

// InputPortSpec declares one input port.
type InputPortSpec struct {
	Name string
	// Accepts lists the kinds the port takes. Empty accepts any kind.
	Accepts []dataset.Kind
	// Optional ports may stay unconnected.
	Optional bool
	// Repeatable ports take any number of connections.
	Repeatable bool
}

// Accepts reports whether the port takes kind k.
func (p InputPortSpec) accepts(k dataset.Kind) bool {
	if len(p.Accepts) == 0 {
		return true
	}
	for _, a := range p.Accepts {
		if a == k {
			return true
		}
	}
	return false
}

// OutputPortSpec declares one output port.
type OutputPortSpec struct {
	Name string
	// Produces is the output kind. Empty means "same as the first input".
	Produces dataset.Kind
	// LeafKind is the kind of the leaves of a composite output.
	LeafKind dataset.Kind
}

// Descriptor declares the ports and capabilities of an algorithm.
type Descriptor struct {
	Name         string
	Inputs       []InputPortSpec
	Outputs      []OutputPortSpec
	Capabilities Capability
}

// Validate checks the descriptor.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("algorithm name is required")
	}
	for i, in := range d.Inputs {
		for _, k := range in.Accepts {
			if err := k.Validate(); err != nil {
				return fmt.Errorf("input port %d: %w", i, err)
			}
		}
	}
	for i, out := range d.Outputs {
		if out.Produces == "" && len(d.Inputs) == 0 {
			return fmt.Errorf("output port %d: source algorithms must declare an output kind", i)
		}
		if out.Produces != "" {
			if err := out.Produces.Validate(); err != nil {
				return fmt.Errorf("output port %d: %w", i, err)
			}
		}
	}
	return nil
}

// Base carries the modification time of an algorithm. Embed it and call
// Modified from every parameter setter.
type Base struct {
	mtime    atomic.Uint64
	onChange atomic.Pointer[func()]
}

// Modified marks the algorithm's parameters as changed.
func (b *Base) Modified() {
	b.mtime.Store(dataset.Tick())
	if fn := b.onChange.Load(); fn != nil {
		(*fn)()
	}
}

func (b *Base) notifyModified(fn func()) { b.onChange.Store(&fn) }

// modifiedNotifier is implemented by every algorithm embedding Base.
type modifiedNotifier interface {
	notifyModified(fn func())
}

// MTime returns the time of the last Modified call.
func (b *Base) MTime() uint64 { return b.mtime.Load() }

// ProcessRequest dispatches one request to alg. Default behavior runs first
// for the information phases; the algorithm's own hook, if any, runs after
// and may override it.
func ProcessRequest(ctx context.Context, alg Algorithm, req *Request) error {
	switch req.Type {
	case RequestDataObject:
		defaultDataObject(req)
		if r, ok := alg.(DataObjectRequester); ok {
			return r.RequestDataObject(ctx, req)
		}
		return nil

	case RequestInformation:
		defaultInformation(req)
		if r, ok := alg.(InformationRequester); ok {
			return r.RequestInformation(ctx, req)
		}
		return nil

	case RequestUpdateTime:
		if r, ok := alg.(TimeAware); ok {
			return r.RequestUpdateTime(ctx, req)
		}
		return nil

	case RequestUpdateExtent:
		if err := defaultUpdateExtent(req); err != nil {
			return err
		}
		if r, ok := alg.(TimeAware); ok {
			if err := r.RequestUpdateTime(ctx, req); err != nil {
				return err
			}
		}
		if r, ok := alg.(UpdateExtentRequester); ok {
			return r.RequestUpdateExtent(ctx, req)
		}
		return nil

	case RequestData:
		return alg.RequestData(ctx, req)

	default:
		return fmt.Errorf("unknown request type %q", req.Type)
	}
}

// defaultDataObject gives every output without a declared kind the kind of
// the first input connection.
func defaultDataObject(req *Request) {
	if req.NumInputPorts() == 0 || req.NumConnections(0) == 0 {
		return
	}
	in := req.InputInformation(0, 0)
	for p := range req.outputKinds {
		if req.outputKinds[p] == "" {
			req.outputKinds[p] = KindOf(in)
			req.leafKinds[p] = dataset.Kind(LeafDataTypeName.GetOr(in, ""))
		}
	}
}

// defaultInformation copies the downstream-relevant keys of the first input
// connection to every output.
func defaultInformation(req *Request) {
	if req.NumInputPorts() == 0 || req.NumConnections(0) == 0 {
		return
	}
	in := req.InputInformation(0, 0)
	for p := range req.outputInfo {
		out := req.outputInfo[p]
		WholeExtent.Copy(out, in)
		TimeSteps.Copy(out, in)
		TimeRange.Copy(out, in)
		CompositeStructure.Copy(out, in)
		RefinementRatio.Copy(out, in)
	}
}

// defaultUpdateExtent asks every input connection for what was asked of the
// first requested output, translated to the producer's data model.
func defaultUpdateExtent(req *Request) error {
	want := req.UpdateRequest(req.firstRequestedOutput())
	for p := range req.inputReq {
		for c := range req.inputReq[p] {
			r, err := translateRequest(want, req.InputInformation(p, c))
			if err != nil {
				return err
			}
			dst := req.inputReq[p][c]
			dst.Clear()
			r.Write(dst)
		}
	}
	return nil
}
