package pipeline

import (
	"github.com/gridflow/gridflow/pkg/dataset"
	"github.com/gridflow/gridflow/pkg/extent"
	"github.com/gridflow/gridflow/pkg/info"
)

// Request is one phase invocation on an algorithm. Which parts are
// populated depends on Type:
//
//   - RequestDataObject: input information; output kinds are writable.
//   - RequestInformation: input information; output information is writable.
//   - RequestUpdateExtent: input and output information, output requests;
//     input requests are writable.
//   - RequestData: all of the above read-only, input data, output drafts.
type Request struct {
	Type RequestType

	inputInfo  [][]*info.Information
	inputReq   [][]*info.Information
	outputInfo []*info.Information
	outputReq  []*info.Information

	inputs  [][]*dataset.DataObject
	outputs []*dataset.DataObject

	outputKinds []dataset.Kind
	leafKinds   []dataset.Kind

	block *BlockContext
}

// BlockContext identifies the leaf block being processed when a composite
// input is fed one block at a time to an algorithm that does not accept
// composites.
type BlockContext struct {
	// ID is set for AMR inputs.
	ID dataset.BlockID
	// Path is set for multi-block inputs.
	Path string
	// Flat is the position of the block in traversal order.
	Flat int
}

// NumInputPorts returns the number of input ports.
func (r *Request) NumInputPorts() int { return len(r.inputInfo) }

// NumConnections returns the number of connections on an input port.
func (r *Request) NumConnections(port int) int {
	if port < 0 || port >= len(r.inputInfo) {
		return 0
	}
	return len(r.inputInfo[port])
}

// NumOutputPorts returns the number of output ports.
func (r *Request) NumOutputPorts() int { return len(r.outputInfo) }

// InputInformation returns what the producer on (port, conn) can provide.
func (r *Request) InputInformation(port, conn int) *info.Information {
	return r.inputInfo[port][conn]
}

// InputRequest returns what this algorithm asks of the producer on
// (port, conn). Writable during RequestUpdateExtent.
func (r *Request) InputRequest(port, conn int) *info.Information {
	if r.inputReq == nil {
		return nil
	}
	return r.inputReq[port][conn]
}

// SetInputRequest replaces the request on (port, conn).
func (r *Request) SetInputRequest(port, conn int, u UpdateRequest) {
	in := r.inputReq[port][conn]
	in.Clear()
	u.Write(in)
}

// OutputInformation returns what output port can provide. Writable during
// RequestInformation.
func (r *Request) OutputInformation(port int) *info.Information {
	return r.outputInfo[port]
}

// OutputRequest returns what consumers ask of output port. Empty when no
// consumer in the current pull requested the port.
func (r *Request) OutputRequest(port int) *info.Information {
	if port < 0 || port >= len(r.outputReq) {
		return nil
	}
	return r.outputReq[port]
}

// UpdateRequest parses the request on output port. Ports without a request
// report the whole dataset.
func (r *Request) UpdateRequest(port int) UpdateRequest {
	in := r.OutputRequest(port)
	if in == nil || in.Len() == 0 {
		return WholeRequest()
	}
	u, err := ReadUpdateRequest(in)
	if err != nil {
		return WholeRequest()
	}
	return u
}

// RequestedExtent returns the structured extent requested of output port,
// falling back to the whole extent.
func (r *Request) RequestedExtent(port int) extent.Extent {
	u := r.UpdateRequest(port)
	if !u.Extent.IsEmpty() {
		return u.Extent
	}
	if u.Piece != extent.WholePiece {
		return extent.Empty
	}
	whole, _, _ := GetExtent(r.outputInfo[port], WholeExtent)
	return whole
}

// Input returns the read-only data on (port, conn), or nil.
func (r *Request) Input(port, conn int) *dataset.DataObject {
	if port < 0 || port >= len(r.inputs) || conn < 0 || conn >= len(r.inputs[port]) {
		return nil
	}
	return r.inputs[port][conn]
}

// Output returns the draft for output port.
func (r *Request) Output(port int) *dataset.DataObject {
	if port < 0 || port >= len(r.outputs) {
		return nil
	}
	return r.outputs[port]
}

// OutputKind returns the kind chosen for output port.
func (r *Request) OutputKind(port int) dataset.Kind { return r.outputKinds[port] }

// SetOutputKind chooses the kind of output port during RequestDataObject.
func (r *Request) SetOutputKind(port int, k dataset.Kind) { r.outputKinds[port] = k }

// SetOutputLeafKind chooses the leaf kind of a composite output port.
func (r *Request) SetOutputLeafKind(port int, k dataset.Kind) { r.leafKinds[port] = k }

// Block returns the leaf block context during per-block execution.
func (r *Request) Block() (BlockContext, bool) {
	if r.block == nil {
		return BlockContext{}, false
	}
	return *r.block, true
}

func (r *Request) firstRequestedOutput() int {
	for p, in := range r.outputReq {
		if in != nil && in.Len() > 0 {
			return p
		}
	}
	return 0
}
