// Package composite provides ordered traversal over hierarchical datasets and
// the derived neighbor relations between AMR blocks.
package composite

import (
	"github.com/gridflow/gridflow/pkg/dataset"
)

// Iterator walks the blocks of an AMR hierarchy in ascending level order,
// then ascending index within a level. It is lazy and restartable: every call
// to InitTraversal replays the identical sequence.
//
//	it := composite.NewIterator(amr)
//	for it.InitTraversal(); !it.IsDoneWithTraversal(); it.GoToNextItem() {
//		level, index := it.CurrentLevel(), it.CurrentIndex()
//	}
type Iterator struct {
	amr       *dataset.AMR
	skipEmpty bool

	level int
	pos   int
	flat  int
}

// IteratorOption configures an Iterator.
type IteratorOption func(*Iterator)

// SkipEmpty skips blocks that carry no data.
func SkipEmpty() IteratorOption {
	return func(it *Iterator) { it.skipEmpty = true }
}

// NewIterator returns an iterator positioned before the first block.
// InitTraversal must be called before use.
func NewIterator(amr *dataset.AMR, opts ...IteratorOption) *Iterator {
	it := &Iterator{amr: amr, level: -1}
	for _, opt := range opts {
		opt(it)
	}
	return it
}

// InitTraversal resets the iterator to the first block.
func (it *Iterator) InitTraversal() {
	it.level, it.pos, it.flat = 0, -1, -1
	it.advance()
}

// GoToNextItem moves to the next block.
func (it *Iterator) GoToNextItem() {
	if it.IsDoneWithTraversal() {
		return
	}
	it.advance()
}

// IsDoneWithTraversal reports whether the sequence is exhausted.
func (it *Iterator) IsDoneWithTraversal() bool {
	return it.level < 0 || it.amr == nil || it.level >= it.amr.NumLevels()
}

// CurrentLevel returns the level of the current block.
func (it *Iterator) CurrentLevel() int { return it.current().ID.Level }

// CurrentIndex returns the index of the current block within its level.
func (it *Iterator) CurrentIndex() int { return it.current().ID.Index }

// CurrentID returns the (level, index) of the current block.
func (it *Iterator) CurrentID() dataset.BlockID { return it.current().ID }

// CurrentBlock returns the current block.
func (it *Iterator) CurrentBlock() *dataset.Block { return it.current() }

// CurrentData returns the data of the current block.
func (it *Iterator) CurrentData() *dataset.DataObject { return it.current().Data }

// FlatIndex returns the position of the current block in the sequence.
func (it *Iterator) FlatIndex() int { return it.flat }

func (it *Iterator) current() *dataset.Block {
	if it.IsDoneWithTraversal() {
		panic("composite: iterator is not positioned on a block")
	}
	return it.amr.BlockAt(it.level, it.pos)
}

func (it *Iterator) advance() {
	if it.amr == nil {
		return
	}
	for it.level < it.amr.NumLevels() {
		it.pos++
		if it.pos >= it.amr.NumBlocks(it.level) {
			it.level++
			it.pos = -1
			continue
		}
		if it.skipEmpty && it.amr.BlockAt(it.level, it.pos).Data == nil {
			continue
		}
		it.flat++
		return
	}
}

// Each visits every block in iteration order and stops at the first error.
func Each(amr *dataset.AMR, fn func(*dataset.Block) error) error {
	it := NewIterator(amr)
	for it.InitTraversal(); !it.IsDoneWithTraversal(); it.GoToNextItem() {
		if err := fn(it.CurrentBlock()); err != nil {
			return err
		}
	}
	return nil
}
