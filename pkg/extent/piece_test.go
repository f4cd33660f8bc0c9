package extent

import (
	"errors"
	"testing"
)

// cellOwners counts, for every cell of whole, how many of the given extents
// contain it.
func cellOwners(whole Extent, pieces []Extent) map[[3]int]int {
	counts := make(map[[3]int]int)
	cd := whole.CellDims()
	for i := 0; i < cd[0]; i++ {
		for j := 0; j < cd[1]; j++ {
			for k := 0; k < cd[2]; k++ {
				cell := [3]int{whole[0] + i, whole[2] + j, whole[4] + k}
				counts[cell] = 0
				for _, p := range pieces {
					if containsCell(p, cell) {
						counts[cell]++
					}
				}
			}
		}
	}
	return counts
}

func containsCell(e Extent, cell [3]int) bool {
	if e.IsEmpty() {
		return false
	}
	for a := 0; a < 3; a++ {
		if e.Width(a) == 0 {
			if cell[a] != e.Min(a) {
				return false
			}
			continue
		}
		if cell[a] < e.Min(a) || cell[a]+1 > e.Max(a) {
			return false
		}
	}
	return true
}

func TestComputePieceExtentPartitions(t *testing.T) {
	tests := []struct {
		name  string
		whole Extent
	}{
		{"cube", New(0, 9, 0, 9, 0, 9)},
		{"slab", New(0, 15, 0, 3, 0, 0)},
		{"offset", New(-4, 5, 2, 8, 1, 3)},
		{"line", New(0, 6, 0, 0, 0, 0)},
	}

	for _, tt := range tests {
		for n := 1; n <= 9; n++ {
			pieces := make([]Extent, n)
			union := Empty
			for i := 0; i < n; i++ {
				ext, err := ComputePieceExtent(tt.whole, i, n, 0)
				if err != nil {
					t.Fatalf("%s: piece %d/%d: %v", tt.name, i, n, err)
				}
				pieces[i] = ext
				union = union.Union(ext)
				if !tt.whole.Contains(ext) {
					t.Errorf("%s: piece %d/%d = %s escapes whole %s", tt.name, i, n, ext, tt.whole)
				}
			}
			if union != tt.whole {
				t.Errorf("%s: union of %d pieces = %s, want %s", tt.name, n, union, tt.whole)
			}
			for cell, c := range cellOwners(tt.whole, pieces) {
				if c != 1 {
					t.Fatalf("%s: %d pieces: cell %v owned %d times", tt.name, n, cell, c)
				}
			}
		}
	}
}

func TestComputePieceExtentDeterministic(t *testing.T) {
	whole := New(0, 31, 0, 17, 0, 5)
	for i := 0; i < 7; i++ {
		a, _ := ComputePieceExtent(whole, i, 7, 2)
		b, _ := ComputePieceExtent(whole, i, 7, 2)
		if a != b {
			t.Fatalf("piece %d differs between calls: %s vs %s", i, a, b)
		}
	}
}

func TestComputePieceExtentLongestAxisFirst(t *testing.T) {
	ext, err := ComputePieceExtent(New(0, 20, 0, 4, 0, 4), 0, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := New(0, 10, 0, 4, 0, 4)
	if ext != want {
		t.Errorf("got %s, want %s", ext, want)
	}
}

func TestComputePieceExtentGhostClipping(t *testing.T) {
	whole := New(0, 9, 0, 9, 0, 0)
	tests := []struct {
		piece int
		ghost int
		want  Extent
	}{
		{0, 0, New(0, 4, 0, 4, 0, 0)},
		{0, 1, New(0, 5, 0, 5, 0, 0)},
		{3, 1, New(3, 9, 3, 9, 0, 0)},
		{1, 2, New(0, 6, 2, 9, 0, 0)},
		{0, 50, whole},
	}
	for _, tt := range tests {
		got, err := ComputePieceExtent(whole, tt.piece, 4, tt.ghost)
		if err != nil {
			t.Fatalf("piece %d ghost %d: %v", tt.piece, tt.ghost, err)
		}
		if got != tt.want {
			t.Errorf("piece %d ghost %d: got %s, want %s", tt.piece, tt.ghost, got, tt.want)
		}
	}
}

func TestComputePieceExtentGhostOverlapDepth(t *testing.T) {
	whole := New(0, 39, 0, 0, 0, 0)
	const n, g = 4, 3
	for i := 0; i < n; i++ {
		own, _ := ComputePieceExtent(whole, i, n, 0)
		ghost, _ := ComputePieceExtent(whole, i, n, g)
		if own.Min(0) > whole.Min(0) && own.Min(0)-ghost.Min(0) != g {
			t.Errorf("piece %d: low halo %d, want %d", i, own.Min(0)-ghost.Min(0), g)
		}
		if own.Max(0) < whole.Max(0) && ghost.Max(0)-own.Max(0) != g {
			t.Errorf("piece %d: high halo %d, want %d", i, ghost.Max(0)-own.Max(0), g)
		}
		if !whole.Contains(ghost) {
			t.Errorf("piece %d: ghost extent %s wraps outside %s", i, ghost, whole)
		}
	}
}

func TestComputePieceExtentMorePiecesThanCells(t *testing.T) {
	whole := New(0, 2, 0, 0, 0, 0)
	nonEmpty := 0
	for i := 0; i < 5; i++ {
		ext, err := ComputePieceExtent(whole, i, 5, 1)
		if err != nil {
			t.Fatal(err)
		}
		if !ext.IsEmpty() {
			nonEmpty++
		}
	}
	if nonEmpty != 2 {
		t.Errorf("got %d non-empty pieces, want 2", nonEmpty)
	}
}

func TestComputePieceExtentErrors(t *testing.T) {
	tests := []struct {
		name  string
		whole Extent
		piece int
		n     int
		ghost int
	}{
		{"empty whole", Empty, 0, 1, 0},
		{"zero pieces", New(0, 1, 0, 1, 0, 1), 0, 0, 0},
		{"piece out of range", New(0, 1, 0, 1, 0, 1), 4, 4, 0},
		{"negative piece", New(0, 1, 0, 1, 0, 1), -1, 4, 0},
		{"negative ghost", New(0, 1, 0, 1, 0, 1), 0, 4, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputePieceExtent(tt.whole, tt.piece, tt.n, tt.ghost)
			if !errors.Is(err, ErrInvalidPiece) {
				t.Errorf("got %v, want ErrInvalidPiece", err)
			}
		})
	}
}

func TestComputeStructuredNeighbors(t *testing.T) {
	whole := New(0, 9, 0, 9, 0, 0)
	piece0, _ := ComputePieceExtent(whole, 0, 4, 0)

	got, err := ComputeStructuredNeighbors(piece0, whole, 4, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []Neighbor{
		{ID: 1, Overlap: New(0, 4, 4, 5, 0, 0), Orientation: [3]int{0, 1, 0}},
		{ID: 2, Overlap: New(4, 5, 0, 4, 0, 0), Orientation: [3]int{1, 0, 0}},
		{ID: 3, Overlap: New(4, 5, 4, 5, 0, 0), Orientation: [3]int{1, 1, 0}},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d neighbors %+v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("neighbor %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestComputeStructuredNeighborsNoGhost(t *testing.T) {
	whole := New(0, 9, 0, 9, 0, 0)
	piece0, _ := ComputePieceExtent(whole, 0, 4, 0)
	got, err := ComputeStructuredNeighbors(piece0, whole, 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no neighbors without ghosts, got %+v", got)
	}
}

func TestComputeStructuredNeighborsUnknownPiece(t *testing.T) {
	_, err := ComputeStructuredNeighbors(New(0, 1, 0, 1, 0, 0), New(0, 9, 0, 9, 0, 0), 4, 1)
	if !errors.Is(err, ErrInvalidPiece) {
		t.Errorf("got %v, want ErrInvalidPiece", err)
	}
}

func TestNeighborsAreSymmetric(t *testing.T) {
	d, err := NewDecomposition(New(0, 23, 0, 17, 0, 11), 8)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < d.NumPieces(); i++ {
		for _, nb := range d.Neighbors(i, 1) {
			found := false
			for _, back := range d.Neighbors(nb.ID, 1) {
				if back.ID == i {
					found = true
				}
			}
			if !found {
				t.Errorf("piece %d lists %d but not the reverse", i, nb.ID)
			}
		}
	}
}
