package composite

import (
	"strings"
	"testing"

	"github.com/gridflow/gridflow/pkg/dataset"
	"github.com/gridflow/gridflow/pkg/extent"
)

// threeBlockAMR is the calibration hierarchy: one root block and two level-1
// children, inserted out of order.
func threeBlockAMR(t *testing.T) *dataset.AMR {
	t.Helper()
	amr, err := dataset.NewAMR(2, [3]float64{}, [3]float64{1, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	blocks := []struct {
		level, index int
		ext          extent.Extent
	}{
		{1, 1, extent.New(8, 15, 0, 7, 0, 0)},
		{0, 0, extent.New(0, 8, 0, 8, 0, 0)},
		{1, 0, extent.New(0, 8, 0, 7, 0, 0)},
	}
	for _, b := range blocks {
		if err := amr.SetBlock(b.level, b.index, b.ext, dataset.MustNew(dataset.KindImage)); err != nil {
			t.Fatal(err)
		}
	}
	return amr
}

func collect(it *Iterator) []dataset.BlockID {
	var ids []dataset.BlockID
	for it.InitTraversal(); !it.IsDoneWithTraversal(); it.GoToNextItem() {
		ids = append(ids, it.CurrentID())
	}
	return ids
}

func TestIteratorOrder(t *testing.T) {
	it := NewIterator(threeBlockAMR(t))
	want := []dataset.BlockID{{Level: 0, Index: 0}, {Level: 1, Index: 0}, {Level: 1, Index: 1}}

	got := collect(it)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d: got %v, want %v", i, got[i], want[i])
		}
	}

	again := collect(it)
	for i := range want {
		if again[i] != want[i] {
			t.Errorf("restart item %d: got %v, want %v", i, again[i], want[i])
		}
	}
}

func TestIteratorRestartAfterPartialConsumption(t *testing.T) {
	it := NewIterator(threeBlockAMR(t))
	it.InitTraversal()
	it.GoToNextItem()
	if it.CurrentLevel() != 1 || it.CurrentIndex() != 0 {
		t.Fatalf("second item = (%d,%d)", it.CurrentLevel(), it.CurrentIndex())
	}

	it.InitTraversal()
	if it.CurrentLevel() != 0 || it.CurrentIndex() != 0 || it.FlatIndex() != 0 {
		t.Errorf("restart did not return to the first block")
	}
	n := 0
	for ; !it.IsDoneWithTraversal(); it.GoToNextItem() {
		n++
	}
	if n != 3 {
		t.Errorf("visited %d blocks after restart, want 3", n)
	}
}

func TestIteratorSkipEmpty(t *testing.T) {
	amr := threeBlockAMR(t)
	if err := amr.SetBlock(2, 0, extent.New(0, 2, 0, 2, 0, 0), nil); err != nil {
		t.Fatal(err)
	}
	if got := len(collect(NewIterator(amr))); got != 4 {
		t.Errorf("full traversal visited %d", got)
	}
	if got := len(collect(NewIterator(amr, SkipEmpty()))); got != 3 {
		t.Errorf("skip-empty traversal visited %d", got)
	}
}

func TestIteratorWideLevelDoesNotCopy(t *testing.T) {
	amr, err := dataset.NewAMR(2, [3]float64{}, [3]float64{1, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	const n = 512
	for i := 0; i < n; i++ {
		if err := amr.SetBlock(0, i, extent.New(2*i, 2*i+1, 0, 1, 0, 0), nil); err != nil {
			t.Fatal(err)
		}
	}

	it := NewIterator(amr, SkipEmpty())
	full := NewIterator(amr)
	visited := 0
	allocs := testing.AllocsPerRun(5, func() {
		visited = 0
		for full.InitTraversal(); !full.IsDoneWithTraversal(); full.GoToNextItem() {
			if full.CurrentBlock().ID.Index != full.FlatIndex() {
				t.Fatalf("block %d at position %d", full.CurrentIndex(), full.FlatIndex())
			}
			visited++
		}
		for it.InitTraversal(); !it.IsDoneWithTraversal(); it.GoToNextItem() {
		}
	})
	if visited != n {
		t.Errorf("visited %d blocks, want %d", visited, n)
	}
	if allocs != 0 {
		t.Errorf("traversal allocated %.0f times, want 0", allocs)
	}
}

func TestIteratorEmptyHierarchy(t *testing.T) {
	amr, _ := dataset.NewAMR(2, [3]float64{}, [3]float64{1, 1, 1})
	it := NewIterator(amr)
	it.InitTraversal()
	if !it.IsDoneWithTraversal() {
		t.Error("empty hierarchy should be done immediately")
	}
}

// nineNodeTree builds
//
//	root
//	├── a
//	│   ├── a1
//	│   │   └── a1x
//	│   └── a2
//	└── b
//	    ├── b1
//	    └── b2
//	        └── b2x
func nineNodeTree() *dataset.MultiBlock {
	mb := dataset.NewMultiBlock("root")
	a := mb.Root().AddChild("a", nil)
	b := mb.Root().AddChild("b", nil)
	a1 := a.AddChild("a1", nil)
	a.AddChild("a2", nil)
	b.AddChild("b1", nil)
	b2 := b.AddChild("b2", nil)
	a1.AddChild("a1x", nil)
	b2.AddChild("b2x", nil)
	return mb
}

func walkNames(t *testing.T, it *TreeIterator) ([]string, []int) {
	t.Helper()
	var names []string
	var depths []int
	for it.InitTraversal(); !it.IsDoneWithTraversal(); it.GoToNextItem() {
		names = append(names, it.Current().Name())
		depths = append(depths, it.Depth())
	}
	return names, depths
}

func TestTreeBreadthFirst(t *testing.T) {
	it, err := NewTreeIterator(nineNodeTree(), BreadthFirst)
	if err != nil {
		t.Fatal(err)
	}
	names, depths := walkNames(t, it)
	want := "root a b a1 a2 b1 b2 a1x b2x"
	if got := strings.Join(names, " "); got != want {
		t.Errorf("bfs = %q, want %q", got, want)
	}
	for i := 1; i < len(depths); i++ {
		if depths[i] < depths[i-1] {
			t.Errorf("depth decreased at %d: %v", i, depths)
		}
	}
}

func TestTreeDepthFirst(t *testing.T) {
	it, err := NewTreeIterator(nineNodeTree(), DepthFirst)
	if err != nil {
		t.Fatal(err)
	}
	names, _ := walkNames(t, it)
	want := "root a a1 a1x a2 b b1 b2 b2x"
	if got := strings.Join(names, " "); got != want {
		t.Errorf("dfs = %q, want %q", got, want)
	}
}

func TestTreeStartNode(t *testing.T) {
	mb := nineNodeTree()
	it, _ := NewTreeIterator(mb, DepthFirst)
	it.SetStartNode(mb.Root().Children()[1])
	names, depths := walkNames(t, it)
	if got := strings.Join(names, " "); got != "b b1 b2 b2x" {
		t.Errorf("subtree dfs = %q", got)
	}
	if depths[0] != 0 {
		t.Errorf("start vertex depth = %d", depths[0])
	}

	it.SetStartNode(nil)
	names, _ = walkNames(t, it)
	if len(names) != 9 || names[0] != "root" {
		t.Errorf("default start should be the root, got %v", names)
	}
}

func TestTreeInvalidOrder(t *testing.T) {
	if _, err := NewTreeIterator(nineNodeTree(), Order("zigzag")); err == nil {
		t.Error("expected error for unknown order")
	}
}

func TestRefineCoarsen(t *testing.T) {
	e := extent.New(1, 3, 0, 7, 0, 0)
	if got, want := Refine(e, 2), extent.New(2, 6, 0, 14, 0, 0); got != want {
		t.Errorf("Refine = %s, want %s", got, want)
	}
	if got, want := Coarsen(extent.New(3, 7, -3, 5, 0, 0), 2), extent.New(1, 4, -2, 3, 0, 0); got != want {
		t.Errorf("Coarsen = %s, want %s", got, want)
	}
	if got := Coarsen(Refine(e, 4), 4); got != e {
		t.Errorf("Coarsen(Refine(e)) = %s, want %s", got, e)
	}
}

func TestComputeAMRNeighbors(t *testing.T) {
	nbrs := ComputeAMRNeighbors(threeBlockAMR(t), 1)

	root := nbrs[dataset.BlockID{Level: 0, Index: 0}]
	wantRoot := []AMRNeighbor{
		{ID: dataset.BlockID{Level: 1, Index: 0}, Overlap: extent.New(0, 4, 0, 4, 0, 0), Relation: RelationFiner},
		{ID: dataset.BlockID{Level: 1, Index: 1}, Overlap: extent.New(4, 8, 0, 4, 0, 0), Relation: RelationFiner},
	}
	if len(root) != len(wantRoot) {
		t.Fatalf("root neighbors = %+v", root)
	}
	for i := range wantRoot {
		if root[i] != wantRoot[i] {
			t.Errorf("root neighbor %d = %+v, want %+v", i, root[i], wantRoot[i])
		}
	}

	left := nbrs[dataset.BlockID{Level: 1, Index: 0}]
	if len(left) != 2 {
		t.Fatalf("left neighbors = %+v", left)
	}
	if left[0].Relation != RelationCoarser || left[1].Relation != RelationSameLevel {
		t.Errorf("unexpected relations %+v", left)
	}
	if left[1].Overlap != extent.New(8, 9, 0, 7, 0, 0) {
		t.Errorf("same-level overlap = %s", left[1].Overlap)
	}
}
