package dataset

import (
	"fmt"
	"sort"

	"github.com/gridflow/gridflow/pkg/extent"
)

// BlockID addresses one block of a refinement hierarchy.
type BlockID struct {
	Level int `json:"level"`
	Index int `json:"index"`
}

func (b BlockID) String() string { return fmt.Sprintf("(%d,%d)", b.Level, b.Index) }

// Less orders blocks by level, then index.
func (b BlockID) Less(o BlockID) bool {
	if b.Level != o.Level {
		return b.Level < o.Level
	}
	return b.Index < o.Index
}

// Block is one grid of an AMR hierarchy. Extent is expressed in the index
// space of the block's own level.
type Block struct {
	ID     BlockID
	Extent extent.Extent
	Data   *DataObject
}

// AMR is an overlapping refinement hierarchy with a fixed refinement ratio
// between adjacent levels.
type AMR struct {
	ratio   int
	origin  [3]float64
	spacing [3]float64
	levels  [][]*Block
	frozen  bool
}

// NewAMR returns an empty hierarchy. spacing is the level-0 point spacing.
func NewAMR(ratio int, origin, spacing [3]float64) (*AMR, error) {
	if ratio < 2 {
		return nil, fmt.Errorf("refinement ratio must be >= 2, got %d", ratio)
	}
	return &AMR{ratio: ratio, origin: origin, spacing: spacing}, nil
}

// Kind implements Payload.
func (a *AMR) Kind() Kind { return KindAMR }

// RefinementRatio returns the ratio between adjacent levels.
func (a *AMR) RefinementRatio() int { return a.ratio }

// Origin returns the physical origin shared by every level.
func (a *AMR) Origin() [3]float64 { return a.origin }

// Spacing returns the point spacing of level.
func (a *AMR) Spacing(level int) [3]float64 {
	s := a.spacing
	f := 1.0
	for l := 0; l < level; l++ {
		f *= float64(a.ratio)
	}
	return [3]float64{s[0] / f, s[1] / f, s[2] / f}
}

// NumLevels returns the number of levels, including empty trailing ones.
func (a *AMR) NumLevels() int { return len(a.levels) }

// NumBlocks returns the number of blocks on level.
func (a *AMR) NumBlocks(level int) int {
	if level < 0 || level >= len(a.levels) {
		return 0
	}
	return len(a.levels[level])
}

// TotalBlocks returns the number of blocks on all levels.
func (a *AMR) TotalBlocks() int {
	n := 0
	for _, l := range a.levels {
		n += len(l)
	}
	return n
}

// Blocks returns the blocks of level in ascending index order.
func (a *AMR) Blocks(level int) []*Block {
	if level < 0 || level >= len(a.levels) {
		return nil
	}
	out := make([]*Block, len(a.levels[level]))
	copy(out, a.levels[level])
	return out
}

// BlockAt returns the block at position pos of level without copying the
// level. It returns nil when out of range.
func (a *AMR) BlockAt(level, pos int) *Block {
	if level < 0 || level >= len(a.levels) || pos < 0 || pos >= len(a.levels[level]) {
		return nil
	}
	return a.levels[level][pos]
}

// Block returns the block (level, index).
func (a *AMR) Block(level, index int) (*Block, bool) {
	if level < 0 || level >= len(a.levels) {
		return nil, false
	}
	blocks := a.levels[level]
	i := sort.Search(len(blocks), func(i int) bool { return blocks[i].ID.Index >= index })
	if i < len(blocks) && blocks[i].ID.Index == index {
		return blocks[i], true
	}
	return nil, false
}

// SetBlock adds a block. Same-level blocks must not share cells and an index
// may only be used once per level.
func (a *AMR) SetBlock(level, index int, ext extent.Extent, data *DataObject) error {
	if a.frozen {
		panic("dataset: AMR hierarchy belongs to a published data object")
	}
	if level < 0 || index < 0 {
		return fmt.Errorf("invalid block id (%d,%d)", level, index)
	}
	if ext.IsEmpty() {
		return fmt.Errorf("block (%d,%d) has an empty extent", level, index)
	}
	for len(a.levels) <= level {
		a.levels = append(a.levels, nil)
	}
	blocks := a.levels[level]
	for _, b := range blocks {
		if b.ID.Index == index {
			return fmt.Errorf("block (%d,%d) already exists", level, index)
		}
		if b.Extent.OverlapsCells(ext) {
			return fmt.Errorf("block (%d,%d) %s overlaps block %s %s",
				level, index, ext, b.ID, b.Extent)
		}
	}
	blk := &Block{ID: BlockID{Level: level, Index: index}, Extent: ext, Data: data}
	i := sort.Search(len(blocks), func(i int) bool { return blocks[i].ID.Index > index })
	blocks = append(blocks, nil)
	copy(blocks[i+1:], blocks[i:])
	blocks[i] = blk
	a.levels[level] = blocks
	return nil
}

// CopyStructure returns an empty hierarchy with the same ratio and geometry.
func (a *AMR) CopyStructure() *AMR {
	return &AMR{ratio: a.ratio, origin: a.origin, spacing: a.spacing}
}

func (a *AMR) clone() Payload {
	out := a.CopyStructure()
	out.levels = make([][]*Block, len(a.levels))
	for l, blocks := range a.levels {
		out.levels[l] = make([]*Block, len(blocks))
		for i, b := range blocks {
			cp := &Block{ID: b.ID, Extent: b.Extent}
			if b.Data != nil {
				cp.Data = b.Data.DeepCopy()
			}
			out.levels[l][i] = cp
		}
	}
	return out
}

func (a *AMR) freeze() {
	a.frozen = true
	for _, blocks := range a.levels {
		for _, b := range blocks {
			if b.Data != nil {
				b.Data.Seal()
			}
		}
	}
}
