package pipeline

import (
	"context"
	"fmt"

	"github.com/gridflow/gridflow/pkg/composite"
	"github.com/gridflow/gridflow/pkg/dataset"
	"github.com/gridflow/gridflow/pkg/info"
)

// executeBlocks runs RequestData once per non-empty leaf of the composite on
// input (0, 0) and assembles the results into composites of the same shape.
func (n *Executive) executeBlocks(ctx context.Context, req *Request) ([]*dataset.DataObject, *Error) {
	in := req.Input(0, 0)
	switch in.Kind() {
	case dataset.KindAMR:
		return n.executeAMRBlocks(ctx, req, in.AMR())
	case dataset.KindMultiBlock:
		return n.executeTreeBlocks(ctx, req, in.MultiBlock())
	default:
		return nil, NewInternalError(fmt.Sprintf("per-block execution on %s input", in.Kind()), nil).
			WithNode(n.name).WithPhase(RequestData)
	}
}

func (n *Executive) executeAMRBlocks(ctx context.Context, req *Request, src *dataset.AMR) ([]*dataset.DataObject, *Error) {
	results := make([]*dataset.AMR, len(n.outputs))
	for p := range results {
		results[p] = src.CopyStructure()
	}

	it := composite.NewIterator(src, composite.SkipEmpty())
	for it.InitTraversal(); !it.IsDoneWithTraversal(); it.GoToNextItem() {
		if err := ctx.Err(); err != nil {
			return nil, NewComputationError("cancelled", err).WithNode(n.name).WithPhase(RequestData)
		}
		blk := it.CurrentBlock()
		bc := BlockContext{ID: blk.ID, Flat: it.FlatIndex()}
		drafts, err := n.runBlock(ctx, req, blk.Data, bc)
		if err != nil {
			return nil, err.WithDetail("block", blk.ID.String())
		}
		for p, d := range drafts {
			ext := blk.Extent
			if d.Kind().IsStructured() && !d.Extent().IsEmpty() {
				ext = d.Extent()
			}
			if err := results[p].SetBlock(blk.ID.Level, blk.ID.Index, ext, d); err != nil {
				return nil, NewComputationError("cannot assemble output hierarchy", err).
					WithNode(n.name).WithPhase(RequestData).WithPort(p).WithDetail("block", blk.ID.String())
			}
		}
	}

	outs := make([]*dataset.DataObject, len(results))
	for p, r := range results {
		outs[p] = dataset.MustNew(dataset.KindAMR)
		if err := outs[p].SetPayload(r); err != nil {
			return nil, NewInternalError("cannot attach output hierarchy", err).WithNode(n.name).WithPort(p)
		}
	}
	return outs, nil
}

func (n *Executive) executeTreeBlocks(ctx context.Context, req *Request, src *dataset.MultiBlock) ([]*dataset.DataObject, *Error) {
	results := make([]*dataset.MultiBlock, len(n.outputs))
	walkers := make([]*composite.TreeIterator, len(n.outputs))
	for p := range results {
		results[p] = src.CopyStructure()
		walkers[p], _ = composite.NewTreeIterator(results[p], composite.DepthFirst)
		walkers[p].InitTraversal()
	}

	it, _ := composite.NewTreeIterator(src, composite.DepthFirst)
	flat := 0
	for it.InitTraversal(); !it.IsDoneWithTraversal(); it.GoToNextItem() {
		node := it.Current()
		if node.Data() != nil {
			if err := ctx.Err(); err != nil {
				return nil, NewComputationError("cancelled", err).WithNode(n.name).WithPhase(RequestData)
			}
			bc := BlockContext{Path: node.Path(), Flat: flat}
			drafts, err := n.runBlock(ctx, req, node.Data(), bc)
			if err != nil {
				return nil, err.WithDetail("block", node.Path())
			}
			for p, d := range drafts {
				walkers[p].Current().SetData(d)
			}
			flat++
		}
		for _, w := range walkers {
			w.GoToNextItem()
		}
	}

	outs := make([]*dataset.DataObject, len(results))
	for p, r := range results {
		outs[p] = dataset.MustNew(dataset.KindMultiBlock)
		if err := outs[p].SetPayload(r); err != nil {
			return nil, NewInternalError("cannot attach output tree", err).WithNode(n.name).WithPort(p)
		}
	}
	return outs, nil
}

// runBlock executes the algorithm on one leaf. The leaf is presented as if
// it were the whole input: information and requests describe the block
// alone.
func (n *Executive) runBlock(ctx context.Context, parent *Request, leaf *dataset.DataObject, bc BlockContext) ([]*dataset.DataObject, *Error) {
	spec := n.desc.Inputs[0]
	if !spec.accepts(leaf.Kind()) {
		return nil, NewTypeMismatchError(
			fmt.Sprintf("input port 0 (%s) does not accept %s blocks", spec.Name, leaf.Kind()), nil).
			WithCode(ErrCodeUnsupportedKind).WithNode(n.name).WithPhase(RequestData)
	}

	want := parent.UpdateRequest(n.firstRequestedPort())
	leafInfo := blockInfo(parent.InputInformation(0, 0), leaf)
	leafReq := info.New()
	blockRequest(leaf, want).Write(leafReq)

	kinds := make([]dataset.Kind, len(n.outputs))
	outInfo := make([]*info.Information, len(n.outputs))
	outReq := make([]*info.Information, len(n.outputs))
	drafts := make([]*dataset.DataObject, len(n.outputs))
	for p, o := range n.outputs {
		kinds[p] = o.leafKind
		if kinds[p] == "" {
			kinds[p] = leaf.Kind()
		}
		d, err := dataset.New(kinds[p])
		if err != nil {
			return nil, NewTypeMismatchError(fmt.Sprintf("cannot allocate block output %d", p), err).
				WithCode(ErrCodeUnsupportedKind).WithNode(n.name).WithPhase(RequestData).WithPort(p)
		}
		drafts[p] = d
		outInfo[p] = blockInfo(o.info, leaf)
		DataTypeName.Set(outInfo[p], string(kinds[p]))
		LeafDataTypeName.Remove(outInfo[p])
		outReq[p] = info.New()
		if o.pending != nil {
			blockRequest(leaf, want).Write(outReq[p])
		}
	}

	sub := &Request{
		Type:        RequestData,
		inputInfo:   [][]*info.Information{{leafInfo}},
		inputReq:    [][]*info.Information{{leafReq}},
		outputInfo:  outInfo,
		outputReq:   outReq,
		inputs:      [][]*dataset.DataObject{{leaf}},
		outputs:     drafts,
		outputKinds: kinds,
		leafKinds:   make([]dataset.Kind, len(kinds)),
		block:       &bc,
	}
	if err := ProcessRequest(ctx, n.alg, sub); err != nil {
		return nil, classify(err, ErrorClassComputation, n.name, RequestData)
	}
	for _, d := range drafts {
		if want.HasTime {
			if _, ok := d.TimeStep(); !ok {
				d.SetTimeStep(want.Time)
			}
		}
	}
	return drafts, nil
}

func (n *Executive) firstRequestedPort() int {
	for p, o := range n.outputs {
		if o.pending != nil {
			return p
		}
	}
	return 0
}

// blockInfo derives leaf information from composite information.
func blockInfo(src *info.Information, leaf *dataset.DataObject) *info.Information {
	out := src.Copy()
	DataTypeName.Set(out, string(leaf.Kind()))
	CompositeStructure.Remove(out)
	RefinementRatio.Remove(out)
	if leaf.Kind().IsStructured() {
		SetExtent(out, WholeExtent, leaf.Extent())
	} else {
		WholeExtent.Remove(out)
	}
	return out
}

// blockRequest asks for the whole leaf at the requested time.
func blockRequest(leaf *dataset.DataObject, want UpdateRequest) UpdateRequest {
	r := WholeRequest()
	if leaf.Kind().IsStructured() {
		r.Extent = leaf.Extent()
	}
	r.HasTime, r.Time = want.HasTime, want.Time
	return r
}
