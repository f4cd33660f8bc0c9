package dataset

import (
	"fmt"
	"sync/atomic"
)

// Kind identifies the concrete payload of a DataObject.
type Kind string

const (
	// KindImage is a uniform rectilinear grid addressed by a structured extent.
	KindImage Kind = "image"

	// KindUnstructured is an explicit point/cell mesh partitioned by pieces.
	KindUnstructured Kind = "unstructured"

	// KindAMR is an overlapping refinement hierarchy of image blocks.
	KindAMR Kind = "amr"

	// KindMultiBlock is a tree-shaped composite of arbitrary data objects.
	KindMultiBlock Kind = "multiblock"
)

// IsComposite reports whether the kind is made of child data objects.
func (k Kind) IsComposite() bool {
	return k == KindAMR || k == KindMultiBlock
}

// IsStructured reports whether the kind is addressed by a structured extent.
func (k Kind) IsStructured() bool {
	return k == KindImage
}

// Validate checks if the kind is known.
func (k Kind) Validate() error {
	switch k {
	case KindImage, KindUnstructured, KindAMR, KindMultiBlock:
		return nil
	default:
		return fmt.Errorf("invalid data kind: %q", k)
	}
}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	return k, k.Validate()
}

var clock atomic.Uint64

// Tick advances the process-wide modification clock and returns the new time.
// Values are strictly increasing across all goroutines.
func Tick() uint64 {
	return clock.Add(1)
}

// Now returns the current modification clock without advancing it.
func Now() uint64 {
	return clock.Load()
}
