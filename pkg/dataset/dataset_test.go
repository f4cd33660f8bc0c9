package dataset

import (
	"testing"

	"github.com/gridflow/gridflow/pkg/extent"
)

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}

func TestModificationTimeIsMonotonic(t *testing.T) {
	d := MustNew(KindImage)
	last := d.MTime()

	steps := []func(){
		func() { d.SetExtent(extent.New(0, 3, 0, 3, 0, 0)) },
		func() { d.SetPiece(extent.Piece{Index: 0, Count: 2}) },
		func() { d.SetTimeStep(1.5) },
		func() { d.Modified() },
		func() { d.Seal() },
	}
	for i, step := range steps {
		step()
		if d.MTime() <= last {
			t.Fatalf("step %d: mtime %d did not advance past %d", i, d.MTime(), last)
		}
		last = d.MTime()
	}

	d.Seal()
	if d.MTime() != last {
		t.Error("sealing twice changed mtime")
	}
}

func TestSealedObjectIsReadOnly(t *testing.T) {
	d := MustNew(KindImage)
	d.SetExtent(extent.New(0, 1, 0, 1, 0, 0))
	arr := NewArray("scalars", 1, 4)
	d.Image().PointData().Add(arr)
	d.Seal()

	mustPanic(t, "SetExtent", func() { d.SetExtent(extent.New(0, 2, 0, 2, 0, 0)) })
	mustPanic(t, "SetTimeStep", func() { d.SetTimeStep(3) })
	mustPanic(t, "array Set", func() { arr.SetValue(0, 1) })
	mustPanic(t, "attributes Add", func() { d.Image().PointData().Add(NewArray("x", 1, 4)) })
	mustPanic(t, "SetSpacing", func() { d.Image().SetSpacing([3]float64{2, 2, 2}) })
}

func TestDeepCopyIsIndependentDraft(t *testing.T) {
	d := MustNew(KindUnstructured)
	g := d.Unstructured()
	p0 := g.AddPoint([3]float64{0, 0, 0})
	p1 := g.AddPoint([3]float64{1, 0, 0})
	if _, err := g.AddCell(CellLine, p0, p1); err != nil {
		t.Fatal(err)
	}
	d.Seal()

	cp := d.DeepCopy()
	if cp.Sealed() {
		t.Fatal("copy should be a draft")
	}
	if cp.MTime() <= d.MTime() {
		t.Error("copy should carry a newer mtime")
	}
	cp.Unstructured().AddPoint([3]float64{2, 0, 0})
	if d.Unstructured().NumPoints() != 2 {
		t.Error("mutating the copy changed the original")
	}
}

func TestCopyFromChecksKind(t *testing.T) {
	img := MustNew(KindImage)
	grid := MustNew(KindUnstructured)
	if err := grid.CopyFrom(img); err == nil {
		t.Error("expected kind mismatch")
	}
	img2 := MustNew(KindImage)
	img.SetExtent(extent.New(0, 4, 0, 0, 0, 0))
	if err := img2.CopyFrom(img); err != nil {
		t.Fatal(err)
	}
	if img2.Extent() != img.Extent() {
		t.Errorf("extent not copied: %s", img2.Extent())
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	if _, err := New(Kind("voxels")); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestPointIDRoundTrip(t *testing.T) {
	ext := extent.New(-2, 3, 1, 4, 0, 2)
	for id := 0; id < ext.NumPoints(); id++ {
		i, j, k := PointIJK(ext, id)
		if got := PointID(ext, i, j, k); got != id {
			t.Fatalf("id %d -> (%d,%d,%d) -> %d", id, i, j, k, got)
		}
	}
}

func TestSubImage(t *testing.T) {
	whole := extent.New(0, 3, 0, 3, 0, 0)
	src := NewImageData()
	arr := NewArray("v", 1, whole.NumPoints())
	for id := 0; id < whole.NumPoints(); id++ {
		arr.SetValue(id, float64(id))
	}
	src.PointData().Add(arr)

	sub := extent.New(1, 2, 2, 3, 0, 0)
	out := SubImage(src, whole, sub)
	got, ok := out.PointData().Get("v")
	if !ok || got.Len() != 4 {
		t.Fatalf("sub array missing or wrong size")
	}
	if got.Value(0) != float64(PointID(whole, 1, 2, 0)) {
		t.Errorf("first value = %v", got.Value(0))
	}
}

func TestAMRBlocks(t *testing.T) {
	amr, err := NewAMR(2, [3]float64{}, [3]float64{1, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := amr.SetBlock(0, 0, extent.New(0, 8, 0, 8, 0, 0), nil); err != nil {
		t.Fatal(err)
	}
	if err := amr.SetBlock(1, 1, extent.New(8, 15, 0, 7, 0, 0), nil); err != nil {
		t.Fatal(err)
	}
	if err := amr.SetBlock(1, 0, extent.New(0, 8, 0, 7, 0, 0), nil); err != nil {
		t.Fatal(err)
	}

	if err := amr.SetBlock(1, 2, extent.New(4, 10, 0, 4, 0, 0), nil); err == nil {
		t.Error("overlapping same-level block accepted")
	}
	if err := amr.SetBlock(1, 0, extent.New(20, 24, 0, 4, 0, 0), nil); err == nil {
		t.Error("duplicate index accepted")
	}

	blocks := amr.Blocks(1)
	if len(blocks) != 2 || blocks[0].ID.Index != 0 || blocks[1].ID.Index != 1 {
		t.Fatalf("blocks not sorted by index: %+v", blocks)
	}
	if _, ok := amr.Block(1, 1); !ok {
		t.Error("block (1,1) not found")
	}
	if b := amr.BlockAt(1, 1); b != blocks[1] {
		t.Errorf("BlockAt(1, 1) = %+v, want %+v", b, blocks[1])
	}
	if amr.BlockAt(1, 2) != nil || amr.BlockAt(3, 0) != nil {
		t.Error("out of range BlockAt returned a block")
	}
	if got := amr.Spacing(2); got[0] != 0.25 {
		t.Errorf("level 2 spacing = %v", got)
	}
	if _, err := NewAMR(1, [3]float64{}, [3]float64{1, 1, 1}); err == nil {
		t.Error("ratio 1 accepted")
	}
}

func TestSealingAMRSealsBlocks(t *testing.T) {
	d := MustNew(KindAMR)
	child := MustNew(KindImage)
	if err := d.AMR().SetBlock(0, 0, extent.New(0, 1, 0, 1, 0, 0), child); err != nil {
		t.Fatal(err)
	}
	d.Seal()
	if !child.Sealed() {
		t.Error("block data not sealed with its hierarchy")
	}
	mustPanic(t, "SetBlock after seal", func() {
		_ = d.AMR().SetBlock(0, 1, extent.New(4, 5, 0, 1, 0, 0), nil)
	})
}

func TestMultiBlockStructure(t *testing.T) {
	mb := NewMultiBlock("root")
	a := mb.Root().AddChild("a", MustNew(KindImage))
	b := mb.Root().AddChild("b", nil)
	b.AddChild("b1", MustNew(KindUnstructured))

	if mb.NumNodes() != 4 {
		t.Errorf("NumNodes = %d", mb.NumNodes())
	}
	leaves := mb.Leaves()
	if len(leaves) != 2 || leaves[0] != a || leaves[1].Path() != "root/b/b1" {
		t.Errorf("unexpected leaves %v", leaves)
	}
	shape := mb.CopyStructure()
	if shape.NumNodes() != 4 || len(shape.Leaves()) != 0 {
		t.Error("CopyStructure should keep the shape without data")
	}
}
