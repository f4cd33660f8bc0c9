// Package pipeline implements the demand-driven execution graph: algorithms,
// the per-algorithm executive, and the multi-pass update protocol.
//
// A consumer calls Update on the executive of a terminal algorithm. The
// executive levels the upstream graph and runs three passes over it:
//
//  1. RequestDataObject and RequestInformation, sources first, only where
//     information is out of date.
//  2. RequestUpdateExtent, terminal first, propagating what each consumer
//     needs to its producers.
//  3. RequestData, sources first, only where cached outputs do not satisfy
//     the request or an input changed.
//
// Any failure aborts the pull, is reported to the failing node's observers as
// an ErrorEvent, and leaves every previously published output untouched.
//
// Executives are not safe for concurrent use. Two pipelines may run on
// different goroutines only if they share no executive.
package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gridflow/gridflow/pkg/dataset"
	"github.com/gridflow/gridflow/pkg/extent"
	"github.com/gridflow/gridflow/pkg/info"
)

var executiveIDs atomic.Uint64

// OutputPortRef names one output port of an executive.
type OutputPortRef struct {
	exec *Executive
	port int
}

// Executive returns the owning executive.
func (r *OutputPortRef) Executive() *Executive { return r.exec }

// Index returns the port index.
func (r *OutputPortRef) Index() int { return r.port }

func (r *OutputPortRef) String() string {
	return fmt.Sprintf("%s:%d", r.exec.Name(), r.port)
}

type outputPort struct {
	kind     dataset.Kind
	leafKind dataset.Kind
	info     *info.Information
	data     *dataset.DataObject
	state    PortState

	executed    UpdateRequest
	hasExecuted bool

	// pull-scoped request merged from all consumers, nil when unrequested
	pending *UpdateRequest
}

// Executive drives the update protocol for exactly one algorithm.
type Executive struct {
	id   uint64
	name string
	alg  Algorithm
	desc Descriptor

	inputs  [][]*OutputPortRef
	outputs []*outputPort

	topologyTime uint64
	infoTime     uint64
	executedAt   uint64
	inputMTimes  [][]uint64
	perBlock     bool

	// pull-scoped requests this node makes of its inputs
	inputReqs [][]UpdateRequest

	explicit  map[int]UpdateRequest
	observers observerList
	instr     Instrumentation
}

// Option configures an Executive.
type Option func(*Executive)

// WithName overrides the node name used in errors, events and graphs.
func WithName(name string) Option {
	return func(e *Executive) { e.name = name }
}

// WithInstrumentation attaches logging, metrics, tracing or history
// recording. Pulls use the instrumentation of the executive Update is
// called on.
func WithInstrumentation(in Instrumentation) Option {
	return func(e *Executive) {
		if in != nil {
			e.instr = in
		}
	}
}

// New creates the executive for alg.
func New(alg Algorithm, opts ...Option) (*Executive, error) {
	if alg == nil {
		return nil, NewTopologyError("algorithm is nil", nil).WithCode(ErrCodeValidation)
	}
	desc := alg.Descriptor()
	if err := desc.Validate(); err != nil {
		return nil, NewTopologyError("invalid algorithm descriptor", err).WithCode(ErrCodeValidation)
	}

	e := &Executive{
		id:          executiveIDs.Add(1),
		alg:         alg,
		desc:        desc,
		inputs:      make([][]*OutputPortRef, len(desc.Inputs)),
		outputs:     make([]*outputPort, len(desc.Outputs)),
		inputMTimes: make([][]uint64, len(desc.Inputs)),
		explicit:    make(map[int]UpdateRequest),
		instr:       NopInstrumentation{},
	}
	e.name = fmt.Sprintf("%s-%d", desc.Name, e.id)
	for i := range e.outputs {
		e.outputs[i] = &outputPort{state: PortStateEmpty, info: info.New()}
	}
	for _, opt := range opts {
		opt(e)
	}
	e.topologyTime = dataset.Tick()
	if mn, ok := alg.(modifiedNotifier); ok {
		mn.notifyModified(func() { e.modified("algorithm modified") })
	}
	return e, nil
}

// MustNew is New for algorithms known to have valid descriptors.
func MustNew(alg Algorithm, opts ...Option) *Executive {
	e, err := New(alg, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// ID returns the creation-ordered identifier.
func (e *Executive) ID() uint64 { return e.id }

// Name returns the node name.
func (e *Executive) Name() string { return e.name }

// Algorithm returns the driven algorithm.
func (e *Executive) Algorithm() Algorithm { return e.alg }

// Descriptor returns the descriptor queried at creation.
func (e *Executive) Descriptor() Descriptor { return e.desc }

// NumInputPorts returns the number of input ports.
func (e *Executive) NumInputPorts() int { return len(e.inputs) }

// NumOutputPorts returns the number of output ports.
func (e *Executive) NumOutputPorts() int { return len(e.outputs) }

// OutputPort returns a reference to output port i for use in connections.
func (e *Executive) OutputPort(i int) *OutputPortRef {
	return &OutputPortRef{exec: e, port: i}
}

// SetInputConnection replaces every connection of port with src. A nil src
// disconnects the port.
func (e *Executive) SetInputConnection(port int, src *OutputPortRef) error {
	if err := e.checkInputPort(port); err != nil {
		return err
	}
	if src == nil {
		e.inputs[port] = nil
		e.topologyChanged()
		return nil
	}
	if err := e.checkSource(src); err != nil {
		return err
	}
	e.inputs[port] = []*OutputPortRef{src}
	e.topologyChanged()
	return nil
}

// AddInputConnection appends src to port. Only repeatable ports take more
// than one connection.
func (e *Executive) AddInputConnection(port int, src *OutputPortRef) error {
	if err := e.checkInputPort(port); err != nil {
		return err
	}
	if src == nil {
		return NewTopologyError("nil connection", nil).WithNode(e.name).WithPort(port)
	}
	if !e.desc.Inputs[port].Repeatable && len(e.inputs[port]) > 0 {
		return NewTopologyError(fmt.Sprintf("input port %d already connected", port), nil).
			WithCode(ErrCodePortConnected).WithNode(e.name).WithPort(port)
	}
	if err := e.checkSource(src); err != nil {
		return err
	}
	e.inputs[port] = append(e.inputs[port], src)
	e.topologyChanged()
	return nil
}

// RemoveInputConnection removes src from port.
func (e *Executive) RemoveInputConnection(port int, src *OutputPortRef) error {
	if err := e.checkInputPort(port); err != nil {
		return err
	}
	if src == nil {
		return NewTopologyError("nil connection", nil).WithNode(e.name).WithPort(port)
	}
	for i, c := range e.inputs[port] {
		if c.exec == src.exec && c.port == src.port {
			e.inputs[port] = append(e.inputs[port][:i], e.inputs[port][i+1:]...)
			e.topologyChanged()
			return nil
		}
	}
	return NewTopologyError(fmt.Sprintf("%s is not connected to input port %d", src, port), nil).
		WithNode(e.name).WithPort(port)
}

// InputConnections returns the producers connected to port.
func (e *Executive) InputConnections(port int) []*OutputPortRef {
	if port < 0 || port >= len(e.inputs) {
		return nil
	}
	out := make([]*OutputPortRef, len(e.inputs[port]))
	copy(out, e.inputs[port])
	return out
}

func (e *Executive) checkInputPort(port int) error {
	if port < 0 || port >= len(e.inputs) {
		return NewTopologyError(fmt.Sprintf("no input port %d", port), nil).
			WithCode(ErrCodeUnknownPort).WithNode(e.name).WithPort(port)
	}
	return nil
}

func (e *Executive) checkSource(src *OutputPortRef) error {
	if src.exec == nil || src.port < 0 || src.port >= len(src.exec.outputs) {
		return NewTopologyError(fmt.Sprintf("no output port %d on producer", src.port), nil).
			WithCode(ErrCodeUnknownPort).WithNode(e.name)
	}
	if src.exec == e || src.exec.dependsOn(e) {
		return NewTopologyError(fmt.Sprintf("connecting %s to %s would create a cycle", src, e.name), nil).
			WithCode(ErrCodeCycle).WithNode(e.name)
	}
	return nil
}

// dependsOn reports whether target is upstream of e.
func (e *Executive) dependsOn(target *Executive) bool {
	seen := make(map[*Executive]bool)
	stack := []*Executive{e}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, conns := range cur.inputs {
			for _, c := range conns {
				if c.exec == target {
					return true
				}
				if !seen[c.exec] {
					seen[c.exec] = true
					stack = append(stack, c.exec)
				}
			}
		}
	}
	return false
}

func (e *Executive) numConnections() int {
	n := 0
	for _, conns := range e.inputs {
		n += len(conns)
	}
	return n
}

func (e *Executive) topologyChanged() {
	e.topologyTime = dataset.Tick()
	e.inputMTimes = make([][]uint64, len(e.inputs))
	e.modified("connections changed")
}

// Modified marks the node out of date and notifies observers. Algorithms
// embedding Base reach it through their own Modified.
func (e *Executive) Modified() {
	if m, ok := e.alg.(interface{ Modified() }); ok {
		m.Modified()
		if _, hooked := e.alg.(modifiedNotifier); hooked {
			return
		}
	}
	e.topologyTime = dataset.Tick()
	e.modified("executive modified")
}

func (e *Executive) modified(reason string) {
	e.emit(Event{Type: EventModified, Node: e.name, Message: reason, Time: time.Now()})
}

// SetUpdateExtent requests a structured sub-extent of port for subsequent
// pulls.
func (e *Executive) SetUpdateExtent(port int, ext extent.Extent) {
	r := e.explicit[port]
	if r.Piece.Count == 0 {
		r.Piece = extent.WholePiece
	}
	r.Extent = ext
	e.explicit[port] = r
}

// SetUpdatePiece requests one piece of port for subsequent pulls. Any
// explicit extent is cleared.
func (e *Executive) SetUpdatePiece(port int, p extent.Piece) {
	r := e.explicit[port]
	r.Extent = extent.Empty
	r.Piece = p
	e.explicit[port] = r
}

// SetUpdateTimeStep requests time t of port for subsequent pulls.
func (e *Executive) SetUpdateTimeStep(port int, t float64) {
	r, ok := e.explicit[port]
	if !ok {
		r = WholeRequest()
	}
	r.HasTime, r.Time = true, t
	e.explicit[port] = r
}

// ClearUpdateRequest reverts port to the default whole-dataset request.
func (e *Executive) ClearUpdateRequest(port int) {
	delete(e.explicit, port)
}

// Output returns the last successfully produced data of port, or nil.
func (e *Executive) Output(port int) *dataset.DataObject {
	if port < 0 || port >= len(e.outputs) {
		return nil
	}
	return e.outputs[port].data
}

// OutputInformation returns a copy of what port can provide.
func (e *Executive) OutputInformation(port int) *info.Information {
	if port < 0 || port >= len(e.outputs) {
		return nil
	}
	return e.outputs[port].info.Copy()
}

// OutputKind returns the data kind published for port.
func (e *Executive) OutputKind(port int) dataset.Kind {
	if port < 0 || port >= len(e.outputs) {
		return ""
	}
	return e.outputs[port].kind
}

// PortState returns the cache state of port.
func (e *Executive) PortState(port int) PortState {
	if port < 0 || port >= len(e.outputs) {
		return PortStateEmpty
	}
	return e.outputs[port].state
}

// ExecutedRequest returns the request the current data of port was
// produced for.
func (e *Executive) ExecutedRequest(port int) (UpdateRequest, bool) {
	if port < 0 || port >= len(e.outputs) {
		return UpdateRequest{}, false
	}
	return e.outputs[port].executed, e.outputs[port].hasExecuted
}

// PendingRequest returns the request propagated to port by the last pull.
func (e *Executive) PendingRequest(port int) (UpdateRequest, bool) {
	if port < 0 || port >= len(e.outputs) || e.outputs[port].pending == nil {
		return UpdateRequest{}, false
	}
	return *e.outputs[port].pending, true
}

// AddObserver registers fn for events of type t (or EventAny) and returns a
// handle for RemoveObserver. Observers run synchronously in registration
// order.
func (e *Executive) AddObserver(t EventType, fn Observer) uint64 {
	return e.observers.add(t, fn)
}

// RemoveObserver unregisters an observer.
func (e *Executive) RemoveObserver(id uint64) bool {
	return e.observers.remove(id)
}

// UpdateInformation runs RequestDataObject and RequestInformation for this
// node and everything upstream of it.
func (e *Executive) UpdateInformation(ctx context.Context) error {
	return e.pull(ctx, 0, modeInformation)
}

// PropagateUpdateExtent runs the information pass and then propagates the
// current request on port upstream.
func (e *Executive) PropagateUpdateExtent(ctx context.Context, port int) error {
	return e.pull(ctx, port, modeUpdateExtent)
}

// UpdateWholeExtent drops any explicit request on port 0 and propagates a
// whole-extent request upstream.
func (e *Executive) UpdateWholeExtent(ctx context.Context) error {
	r, ok := e.explicit[0]
	e.ClearUpdateRequest(0)
	if ok && r.HasTime {
		e.SetUpdateTimeStep(0, r.Time)
	}
	return e.pull(ctx, 0, modeUpdateExtent)
}

// Update brings output port 0 up to date.
func (e *Executive) Update(ctx context.Context) error {
	return e.UpdatePort(ctx, 0)
}

// UpdatePort brings output port up to date. On failure the previous data,
// if any, remains available through Output.
func (e *Executive) UpdatePort(ctx context.Context, port int) error {
	return e.pull(ctx, port, modeData)
}

func (e *Executive) emit(ev Event) {
	e.observers.notify(ev)
}
