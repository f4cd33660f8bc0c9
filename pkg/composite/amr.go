package composite

import (
	"sort"

	"github.com/gridflow/gridflow/pkg/dataset"
	"github.com/gridflow/gridflow/pkg/extent"
)

// Refine maps a point extent into the index space ratio times finer.
func Refine(e extent.Extent, ratio int) extent.Extent {
	if e.IsEmpty() {
		return e
	}
	var r extent.Extent
	for i := range e {
		r[i] = e[i] * ratio
	}
	return r
}

// Coarsen maps a point extent into the index space ratio times coarser,
// rounding outwards so the result covers e.
func Coarsen(e extent.Extent, ratio int) extent.Extent {
	if e.IsEmpty() {
		return e
	}
	var r extent.Extent
	for a := 0; a < 3; a++ {
		r[2*a] = floorDiv(e[2*a], ratio)
		r[2*a+1] = -floorDiv(-e[2*a+1], ratio)
	}
	return r
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func pow(base, exp int) int {
	r := 1
	for ; exp > 0; exp-- {
		r *= base
	}
	return r
}

// ToLevel expresses an extent given at level from in the index space of level to.
func ToLevel(e extent.Extent, from, to, ratio int) extent.Extent {
	switch {
	case to > from:
		return Refine(e, pow(ratio, to-from))
	case to < from:
		return Coarsen(e, pow(ratio, from-to))
	default:
		return e
	}
}

// Relation describes where a neighbor sits in the hierarchy.
type Relation string

const (
	RelationSameLevel Relation = "same"
	RelationCoarser   Relation = "coarser"
	RelationFiner     Relation = "finer"
)

// AMRNeighbor is a back-reference to a block whose cells fall inside the
// ghost region of another block. Overlap is expressed in the index space of
// the block that owns the record.
type AMRNeighbor struct {
	ID       dataset.BlockID `json:"id"`
	Overlap  extent.Extent   `json:"overlap"`
	Relation Relation        `json:"relation"`
}

// ComputeAMRNeighbors derives, for every block, the same-level and
// cross-level blocks overlapping its extent grown by ghostLevel cells.
// Nothing is stored on the hierarchy; call again after it changes.
func ComputeAMRNeighbors(amr *dataset.AMR, ghostLevel int) map[dataset.BlockID][]AMRNeighbor {
	var all []*dataset.Block
	_ = Each(amr, func(b *dataset.Block) error {
		all = append(all, b)
		return nil
	})

	ratio := amr.RefinementRatio()
	out := make(map[dataset.BlockID][]AMRNeighbor, len(all))
	for _, a := range all {
		halo := a.Extent.Grow(ghostLevel)
		var list []AMRNeighbor
		for _, b := range all {
			if a.ID == b.ID {
				continue
			}
			other := ToLevel(b.Extent, b.ID.Level, a.ID.Level, ratio)
			ov := halo.Intersect(other)
			if !spansCells(a.Extent, ov) {
				continue
			}
			// same-level blocks never share cells, so only the halo can reach them
			if b.ID.Level == a.ID.Level && ghostLevel <= 0 {
				continue
			}
			rel := RelationSameLevel
			switch {
			case b.ID.Level < a.ID.Level:
				rel = RelationCoarser
			case b.ID.Level > a.ID.Level:
				rel = RelationFiner
			}
			list = append(list, AMRNeighbor{ID: b.ID, Overlap: ov, Relation: rel})
		}
		sort.Slice(list, func(i, j int) bool { return list[i].ID.Less(list[j].ID) })
		out[a.ID] = list
	}
	return out
}

func spansCells(own, ov extent.Extent) bool {
	if ov.IsEmpty() {
		return false
	}
	for a := 0; a < 3; a++ {
		if own.Width(a) > 0 && ov.Width(a) < 1 {
			return false
		}
	}
	return true
}
