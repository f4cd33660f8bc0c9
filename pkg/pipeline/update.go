package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gridflow/gridflow/pkg/dataset"
	"github.com/gridflow/gridflow/pkg/extent"
	"github.com/gridflow/gridflow/pkg/info"
)

type pullMode int

const (
	modeInformation pullMode = iota
	modeUpdateExtent
	modeData
)

func (m pullMode) String() string {
	switch m {
	case modeInformation:
		return "information"
	case modeUpdateExtent:
		return "update-extent"
	default:
		return "data"
	}
}

// pullRun is the state of one Update call.
type pullRun struct {
	id       string
	graph    *Graph
	terminal *Executive
	port     int
	instr    Instrumentation
	stats    PullStats
}

func (e *Executive) pull(ctx context.Context, port int, mode pullMode) (err error) {
	if len(e.outputs) > 0 && (port < 0 || port >= len(e.outputs)) {
		return NewTopologyError(fmt.Sprintf("no output port %d", port), nil).
			WithCode(ErrCodeUnknownPort).WithNode(e.name).WithPort(port)
	}

	g, err := BuildGraph(e)
	if err != nil {
		return err
	}

	p := &pullRun{
		id:       uuid.New().String(),
		graph:    g,
		terminal: e,
		port:     port,
		instr:    e.instr,
	}
	pi := PullInfo{ID: p.id, Terminal: e.name, Port: port, Nodes: len(g.level), Mode: mode.String()}

	start := time.Now()
	ctx = p.instr.PullStarted(ctx, pi)
	defer func() {
		p.stats.Duration = time.Since(start)
		p.instr.PullFinished(ctx, pi, p.stats, err)
	}()

	if err = p.checkInputs(); err != nil {
		return err
	}
	if err = p.informationPass(ctx); err != nil {
		return err
	}
	if mode == modeInformation {
		return nil
	}
	if err = p.updateExtentPass(ctx); err != nil {
		return err
	}
	if mode == modeUpdateExtent {
		return nil
	}
	return p.dataPass(ctx)
}

func (p *pullRun) checkInputs() error {
	for _, n := range p.graph.Nodes() {
		for i, spec := range n.desc.Inputs {
			if !spec.Optional && len(n.inputs[i]) == 0 {
				return p.fail(n, NewTopologyError(
					fmt.Sprintf("required input port %d (%s) is not connected", i, spec.Name), nil).
					WithCode(ErrCodeRequiredInput).WithNode(n.name).WithPort(i))
			}
		}
	}
	return nil
}

// fail reports err to the node's observers and downgrades its ports. Data
// already published stays in place as the last good version.
func (p *pullRun) fail(n *Executive, err *Error) error {
	for _, out := range n.outputs {
		switch {
		case out.data != nil:
			out.state = PortStateStale
		case n.infoTime > 0:
			out.state = PortStateInformed
		default:
			out.state = PortStateEmpty
		}
	}
	n.emit(Event{
		Type:    EventError,
		Node:    n.name,
		Phase:   err.Phase,
		PullID:  p.id,
		Message: err.Message,
		Err:     err,
		Time:    time.Now(),
	})
	return err
}

func (p *pullRun) timed(ctx context.Context, ph PhaseInfo, fn func(context.Context) *Error) *Error {
	ctx = p.instr.PhaseStarted(ctx, ph)
	start := time.Now()
	if err := fn(ctx); err != nil {
		p.instr.PhaseFinished(ctx, ph, time.Since(start), err)
		return err
	}
	p.instr.PhaseFinished(ctx, ph, time.Since(start), nil)
	return nil
}

func (p *pullRun) phase(n *Executive, t RequestType, reason string) PhaseInfo {
	return PhaseInfo{PullID: p.id, Node: n.name, Algorithm: n.desc.Name, Phase: t, Reason: reason}
}

// producerInfo returns copies of the information published by every input
// connection.
func (n *Executive) producerInfo() [][]*info.Information {
	out := make([][]*info.Information, len(n.inputs))
	for port, conns := range n.inputs {
		out[port] = make([]*info.Information, len(conns))
		for c, src := range conns {
			out[port][c] = src.exec.outputs[src.port].info.Copy()
		}
	}
	return out
}

func (n *Executive) outputInfoCopies() []*info.Information {
	out := make([]*info.Information, len(n.outputs))
	for i, o := range n.outputs {
		out[i] = o.info.Copy()
	}
	return out
}

func (n *Executive) pendingInfo() []*info.Information {
	out := make([]*info.Information, len(n.outputs))
	for i, o := range n.outputs {
		out[i] = info.New()
		if o.pending != nil {
			o.pending.Write(out[i])
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// information pass

func (p *pullRun) informationPass(ctx context.Context) error {
	for _, level := range p.graph.Levels {
		for _, n := range level {
			reason := n.informationStale()
			if reason == "" {
				p.instr.PhaseSkipped(ctx, p.phase(n, RequestInformation, "information current"))
				continue
			}
			if err := p.runInformation(ctx, n, reason); err != nil {
				return p.fail(n, err)
			}
		}
	}
	return nil
}

func (n *Executive) informationStale() string {
	switch {
	case n.infoTime == 0:
		return "no information"
	case n.alg.MTime() > n.infoTime:
		return "algorithm modified"
	case n.topologyTime > n.infoTime:
		return "connections changed"
	}
	for _, conns := range n.inputs {
		for _, src := range conns {
			if src.exec.infoTime > n.infoTime {
				return "upstream information changed"
			}
		}
	}
	return ""
}

func (p *pullRun) runInformation(ctx context.Context, n *Executive, reason string) *Error {
	kinds := make([]dataset.Kind, len(n.outputs))
	leafs := make([]dataset.Kind, len(n.outputs))
	for i, spec := range n.desc.Outputs {
		kinds[i], leafs[i] = spec.Produces, spec.LeafKind
	}

	dreq := &Request{
		Type:        RequestDataObject,
		inputInfo:   n.producerInfo(),
		outputKinds: kinds,
		leafKinds:   leafs,
	}
	if err := p.timed(ctx, p.phase(n, RequestDataObject, reason), func(ctx context.Context) *Error {
		if err := ProcessRequest(ctx, n.alg, dreq); err != nil {
			return classify(err, ErrorClassTypeMismatch, n.name, RequestDataObject)
		}
		return nil
	}); err != nil {
		return err
	}

	perBlock, err := n.resolveKinds(kinds, leafs)
	if err != nil {
		return err.WithNode(n.name).WithPhase(RequestDataObject)
	}

	outInfo := make([]*info.Information, len(n.outputs))
	for i := range outInfo {
		outInfo[i] = info.New()
		DataTypeName.Set(outInfo[i], string(kinds[i]))
		if leafs[i] != "" {
			LeafDataTypeName.Set(outInfo[i], string(leafs[i]))
		}
	}
	ireq := &Request{
		Type:        RequestInformation,
		inputInfo:   n.producerInfo(),
		outputInfo:  outInfo,
		outputKinds: kinds,
		leafKinds:   leafs,
	}
	if err := p.timed(ctx, p.phase(n, RequestInformation, reason), func(ctx context.Context) *Error {
		if err := ProcessRequest(ctx, n.alg, ireq); err != nil {
			return classify(err, ErrorClassInformation, n.name, RequestInformation)
		}
		return nil
	}); err != nil {
		return err
	}

	for i, out := range outInfo {
		DataTypeName.Set(out, string(kinds[i]))
		if !kinds[i].IsStructured() {
			continue
		}
		whole, ok, err := GetExtent(out, WholeExtent)
		if err != nil {
			return classify(err, ErrorClassInformation, n.name, RequestInformation).WithPort(i)
		}
		if !ok {
			return NewInformationError(fmt.Sprintf("output port %d publishes no %s", i, WholeExtent.Name()), nil).
				WithCode(ErrCodeMissingKey).WithNode(n.name).WithPhase(RequestInformation).WithPort(i)
		}
		if whole.IsEmpty() {
			return NewInformationError(fmt.Sprintf("output port %d publishes an empty %s", i, WholeExtent.Name()), nil).
				WithCode(ErrCodeMalformedKey).WithNode(n.name).WithPhase(RequestInformation).WithPort(i)
		}
		if !CanProduceSubExtent.Has(out) {
			CanProduceSubExtent.Set(out, boolInt(n.desc.Capabilities.Has(CapSubExtent)))
		}
	}

	for i, out := range n.outputs {
		if !kinds[i].IsStructured() && !CanHandlePieces.Has(outInfo[i]) {
			CanHandlePieces.Set(outInfo[i], boolInt(n.desc.Capabilities.Has(CapPieces)))
		}
		out.kind, out.leafKind, out.info = kinds[i], leafs[i], outInfo[i]
		if out.state == PortStateEmpty {
			out.state = PortStateInformed
		}
	}
	n.perBlock = perBlock
	n.infoTime = dataset.Tick()
	p.stats.InformationRuns++
	return nil
}

// resolveKinds type-checks every input connection and fixes the output kinds.
// A composite input reaching an algorithm that does not accept composites
// switches the node to per-block execution: outputs become composites of the
// same structure whose leaves have the algorithm's output kinds.
func (n *Executive) resolveKinds(kinds, leafs []dataset.Kind) (bool, *Error) {
	perBlock := false
	var compositeKind dataset.Kind
	for port, spec := range n.desc.Inputs {
		for c, src := range n.inputs[port] {
			producer := src.exec.outputs[src.port]
			pk := producer.kind
			if pk.IsComposite() && !n.desc.Capabilities.Has(CapAcceptsComposite) {
				leaf := producer.leafKind
				if pk == dataset.KindAMR && leaf == "" {
					leaf = dataset.KindImage
				}
				if len(n.desc.Inputs) != 1 || len(n.inputs[0]) != 1 {
					return false, NewTypeMismatchError(
						fmt.Sprintf("composite input on port %d needs a composite-aware algorithm", port), nil).
						WithCode(ErrCodeUnsupportedKind).WithPort(port)
				}
				if leaf != "" && !spec.accepts(leaf) {
					return false, NewTypeMismatchError(
						fmt.Sprintf("input port %d (%s) does not accept %s blocks", port, spec.Name, leaf), nil).
						WithCode(ErrCodeUnsupportedKind).WithPort(port)
				}
				perBlock, compositeKind = true, pk
				continue
			}
			if !spec.accepts(pk) {
				return false, NewTypeMismatchError(
					fmt.Sprintf("input port %d (%s) does not accept %s from %s", port, spec.Name, pk, src), nil).
					WithCode(ErrCodeUnsupportedKind).WithPort(port).WithDetail("connection", c)
			}
		}
	}

	for i := range kinds {
		if perBlock && !kinds[i].IsComposite() {
			leafs[i] = kinds[i]
			kinds[i] = compositeKind
		}
		if err := kinds[i].Validate(); err != nil {
			return false, NewTypeMismatchError(fmt.Sprintf("cannot determine the type of output port %d", i), err).
				WithCode(ErrCodeUnsupportedKind).WithPort(i)
		}
	}
	return perBlock, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// update-extent pass

func (p *pullRun) updateExtentPass(ctx context.Context) error {
	for _, n := range p.graph.Nodes() {
		for _, out := range n.outputs {
			out.pending = nil
		}
	}

	if len(p.terminal.outputs) > 0 {
		r, err := p.terminalRequest()
		if err != nil {
			return p.fail(p.terminal, err)
		}
		p.terminal.outputs[p.port].pending = &r
	}

	levels := p.graph.Levels
	for l := len(levels) - 1; l >= 0; l-- {
		for _, n := range levels[l] {
			p.mergeConsumerRequests(n)
			if err := p.runUpdateExtent(ctx, n); err != nil {
				return p.fail(n, err)
			}
		}
	}
	return nil
}

func (p *pullRun) terminalRequest() (UpdateRequest, *Error) {
	t := p.terminal
	out := t.outputs[p.port]
	r, ok := t.explicit[p.port]
	if !ok {
		r = WholeRequest()
	}
	if err := r.Piece.Validate(); err != nil {
		return r, NewExtentError("invalid piece request", err).
			WithCode(ErrCodeBadPiece).WithNode(t.name).WithPhase(RequestUpdateExtent).WithPort(p.port)
	}
	if !out.kind.IsStructured() {
		return r, nil
	}
	whole, _, _ := GetExtent(out.info, WholeExtent)
	if !r.Extent.IsEmpty() && !whole.Contains(r.Extent) {
		return r, NewExtentError(fmt.Sprintf("requested extent %s is outside whole extent %s", r.Extent, whole), nil).
			WithCode(ErrCodeOutOfBounds).WithNode(t.name).WithPhase(RequestUpdateExtent).WithPort(p.port)
	}
	if r.Extent.IsEmpty() {
		ext, err := extent.ComputePieceExtent(whole, r.Piece.Index, r.Piece.Count, r.Piece.GhostLevel)
		if err != nil {
			return r, NewExtentError("cannot translate piece request", err).
				WithCode(ErrCodeBadPiece).WithNode(t.name).WithPhase(RequestUpdateExtent).WithPort(p.port)
		}
		r.Extent = ext
	}
	return r, nil
}

// mergeConsumerRequests combines what every consumer inside the graph asks
// of each output port of n.
func (p *pullRun) mergeConsumerRequests(n *Executive) {
	for port, out := range n.outputs {
		var reqs []UpdateRequest
		if out.pending != nil {
			reqs = append(reqs, *out.pending)
		}
		for _, edge := range p.graph.Consumers(n, port) {
			reqs = append(reqs, edge.To.inputReqs[edge.ToPort][edge.Conn])
		}
		if len(reqs) == 0 {
			continue
		}
		merged, conflict := mergeRequests(reqs)
		if conflict {
			n.emit(Event{
				Type:    EventWarning,
				Node:    n.name,
				Phase:   RequestUpdateExtent,
				PullID:  p.id,
				Message: fmt.Sprintf("consumers of port %d request different time steps; using t=%g", port, merged.Time),
				Time:    time.Now(),
			})
		}
		out.pending = &merged
	}
}

func (p *pullRun) runUpdateExtent(ctx context.Context, n *Executive) *Error {
	inReq := make([][]*info.Information, len(n.inputs))
	for port, conns := range n.inputs {
		inReq[port] = make([]*info.Information, len(conns))
		for c := range conns {
			inReq[port][c] = info.New()
		}
	}
	req := &Request{
		Type:        RequestUpdateExtent,
		inputInfo:   n.producerInfo(),
		inputReq:    inReq,
		outputInfo:  n.outputInfoCopies(),
		outputReq:   n.pendingInfo(),
		outputKinds: n.kinds(),
		leafKinds:   n.leafKinds(),
	}

	ph := p.phase(n, RequestUpdateExtent, "propagate request")
	if out := n.firstPending(); out != nil {
		ph.Request = *out
	}
	if err := n.checkPending(); err != nil {
		return err.WithNode(n.name).WithPhase(RequestUpdateExtent)
	}
	return p.timed(ctx, ph, func(ctx context.Context) *Error {
		if err := ProcessRequest(ctx, n.alg, req); err != nil {
			return classify(err, ErrorClassInformation, n.name, RequestUpdateExtent)
		}
		parsed := make([][]UpdateRequest, len(inReq))
		for port := range inReq {
			parsed[port] = make([]UpdateRequest, len(inReq[port]))
			for c := range inReq[port] {
				r, err := ReadUpdateRequest(inReq[port][c])
				if err != nil {
					return classify(err, ErrorClassInformation, n.name, RequestUpdateExtent).WithPort(port)
				}
				parsed[port][c] = r
			}
		}
		n.inputReqs = parsed
		return nil
	})
}

// checkPending rejects requests an output cannot serve: a structured extent
// outside WHOLE_EXTENT, or a split request on an unstructured output whose
// producer did not publish CAN_HANDLE_PIECE_REQUEST.
func (n *Executive) checkPending() *Error {
	for port, out := range n.outputs {
		if out.pending == nil || out.kind.IsComposite() {
			continue
		}
		r := out.pending
		if out.kind.IsStructured() {
			whole, _, _ := GetExtent(out.info, WholeExtent)
			if !r.Extent.IsEmpty() && !whole.Contains(r.Extent) {
				return NewExtentError(fmt.Sprintf("requested extent %s is outside whole extent %s", r.Extent, whole), nil).
					WithCode(ErrCodeOutOfBounds).WithPort(port)
			}
			continue
		}
		if r.Piece.Count > 1 && CanHandlePieces.GetOr(out.info, 1) == 0 {
			return NewExtentError(fmt.Sprintf("output port %d cannot be split into pieces, requested %s",
				port, r.Piece), nil).WithCode(ErrCodeBadPiece).WithPort(port)
		}
	}
	return nil
}

func (n *Executive) kinds() []dataset.Kind {
	out := make([]dataset.Kind, len(n.outputs))
	for i, o := range n.outputs {
		out[i] = o.kind
	}
	return out
}

func (n *Executive) leafKinds() []dataset.Kind {
	out := make([]dataset.Kind, len(n.outputs))
	for i, o := range n.outputs {
		out[i] = o.leafKind
	}
	return out
}

func (n *Executive) firstPending() *UpdateRequest {
	for _, o := range n.outputs {
		if o.pending != nil {
			return o.pending
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// data pass

func (p *pullRun) dataPass(ctx context.Context) error {
	for _, level := range p.graph.Levels {
		for _, n := range level {
			reason := n.dataStale()
			ph := p.phase(n, RequestData, reason)
			if r := n.firstPending(); r != nil {
				ph.Request = *r
			}

			if reason == "" {
				for _, out := range n.outputs {
					if out.pending != nil {
						out.state = PortStateValid
					}
				}
				p.stats.Skipped++
				ph.Reason = "cached output satisfies request"
				p.instr.PhaseSkipped(ctx, ph)
				n.emit(Event{Type: EventSkipped, Node: n.name, Phase: RequestData, PullID: p.id, Time: time.Now()})
				continue
			}

			for _, out := range n.outputs {
				if out.data != nil {
					out.state = PortStateStale
				}
			}
			if err := p.runData(ctx, n, ph); err != nil {
				return p.fail(n, err)
			}
		}
	}
	return nil
}

// dataStale returns why n must execute, or "" when its cached outputs serve
// the current request.
func (n *Executive) dataStale() string {
	switch {
	case n.executedAt == 0:
		return "never executed"
	case n.alg.MTime() > n.executedAt:
		return "algorithm modified"
	case n.topologyTime > n.executedAt:
		return "connections changed"
	case n.infoTime > n.executedAt:
		return "information changed"
	}
	for port, conns := range n.inputs {
		for c, src := range conns {
			d := src.exec.outputs[src.port].data
			if d == nil || c >= len(n.inputMTimes[port]) || d.MTime() != n.inputMTimes[port][c] {
				return "input changed"
			}
		}
	}
	for _, out := range n.outputs {
		if out.pending == nil {
			continue
		}
		if out.data == nil {
			return "no data"
		}
		if !out.hasExecuted || !out.executed.Satisfies(out.kind, *out.pending) {
			return "request not satisfied"
		}
	}
	return ""
}

func (p *pullRun) runData(ctx context.Context, n *Executive, ph PhaseInfo) *Error {
	inputs := make([][]*dataset.DataObject, len(n.inputs))
	mtimes := make([][]uint64, len(n.inputs))
	for port, conns := range n.inputs {
		inputs[port] = make([]*dataset.DataObject, len(conns))
		mtimes[port] = make([]uint64, len(conns))
		for c, src := range conns {
			d := src.exec.outputs[src.port].data
			if d == nil {
				return NewInternalError(fmt.Sprintf("producer %s has no data", src), nil).
					WithCode(ErrCodeNoData).WithNode(n.name).WithPhase(RequestData).WithPort(port)
			}
			inputs[port][c] = d
			mtimes[port][c] = d.MTime()
		}
	}

	inReq := make([][]*info.Information, len(n.inputs))
	for port := range n.inputs {
		inReq[port] = make([]*info.Information, len(n.inputs[port]))
		for c := range n.inputs[port] {
			inReq[port][c] = info.New()
			if port < len(n.inputReqs) && c < len(n.inputReqs[port]) {
				n.inputReqs[port][c].Write(inReq[port][c])
			}
		}
	}
	req := &Request{
		Type:        RequestData,
		inputInfo:   n.producerInfo(),
		inputReq:    inReq,
		outputInfo:  n.outputInfoCopies(),
		outputReq:   n.pendingInfo(),
		inputs:      inputs,
		outputKinds: n.kinds(),
		leafKinds:   n.leafKinds(),
	}

	n.emit(Event{Type: EventStart, Node: n.name, Phase: RequestData, PullID: p.id, Message: ph.Reason, Time: time.Now()})

	var outs []*dataset.DataObject
	if err := p.timed(ctx, ph, func(ctx context.Context) *Error {
		var err *Error
		if n.perBlock {
			outs, err = n.executeBlocks(ctx, req)
		} else {
			outs, err = n.execute(ctx, req)
		}
		if err != nil {
			return err
		}
		for port, out := range outs {
			if pend := n.outputs[port].pending; pend != nil && !n.perBlock {
				if err := validateOutput(n.outputs[port].kind, n.desc.Capabilities.Has(CapPieces), out, *pend); err != nil {
					return err.WithNode(n.name).WithPhase(RequestData).WithPort(port)
				}
			}
		}
		return nil
	}); err != nil {
		return err
	}

	// publish every output at once
	for port, out := range outs {
		if pend := n.outputs[port].pending; pend != nil && pend.HasTime {
			if _, ok := out.TimeStep(); !ok {
				out.SetTimeStep(pend.Time)
			}
		}
		out.Seal()
	}
	for port, out := range n.outputs {
		out.data = outs[port]
		out.state = PortStateValid
		out.hasExecuted = out.pending != nil
		if out.pending != nil {
			out.executed = *out.pending
		}
	}
	n.inputMTimes = mtimes
	n.executedAt = dataset.Tick()
	p.stats.Executed++

	n.emit(Event{Type: EventEnd, Node: n.name, Phase: RequestData, PullID: p.id, Time: time.Now()})
	return nil
}

func (n *Executive) execute(ctx context.Context, req *Request) ([]*dataset.DataObject, *Error) {
	outs := make([]*dataset.DataObject, len(n.outputs))
	for i, o := range n.outputs {
		d, err := dataset.New(o.kind)
		if err != nil {
			return nil, NewTypeMismatchError(fmt.Sprintf("cannot allocate output port %d", i), err).
				WithCode(ErrCodeUnsupportedKind).WithNode(n.name).WithPhase(RequestData).WithPort(i)
		}
		outs[i] = d
	}
	req.outputs = outs
	if err := ProcessRequest(ctx, n.alg, req); err != nil {
		return nil, classify(err, ErrorClassComputation, n.name, RequestData)
	}
	return outs, nil
}

// validateOutput checks a produced draft against the request it was made
// for and stamps missing piece metadata.
func validateOutput(kind dataset.Kind, pieces bool, out *dataset.DataObject, want UpdateRequest) *Error {
	switch {
	case kind.IsStructured():
		if !out.Extent().Contains(want.Extent) {
			return NewExtentError(fmt.Sprintf("produced extent %s does not cover requested %s",
				out.Extent(), want.Extent), nil).WithCode(ErrCodeOutOfBounds)
		}
		if _, ok := out.Piece(); !ok {
			out.SetPiece(want.Piece)
		}
	case !kind.IsComposite():
		pc, ok := out.Piece()
		if !ok {
			if !pieces && want.Piece.Count > 1 {
				return NewExtentError(fmt.Sprintf("producer cannot split data into pieces, requested %s",
					want.Piece), nil).WithCode(ErrCodeBadPiece)
			}
			out.SetPiece(want.Piece)
		} else if !pc.Satisfies(want.Piece) {
			return NewExtentError(fmt.Sprintf("produced piece %s does not satisfy requested %s",
				pc, want.Piece), nil).WithCode(ErrCodeBadPiece)
		}
	}
	return nil
}
