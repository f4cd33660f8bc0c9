// Package dataset defines the versioned data objects that flow between
// pipeline algorithms.
//
// A DataObject is created as a mutable draft by the executive, filled by one
// algorithm's RequestData and then sealed when it is published on an output
// port. Sealed objects are shared read-only views: every setter panics, and a
// new version is produced with DeepCopy. Modification times come from a
// process-wide monotonic clock so they can be compared across objects.
package dataset

import (
	"fmt"

	"github.com/gridflow/gridflow/pkg/extent"
)

// Payload is the kind-specific content of a DataObject.
type Payload interface {
	Kind() Kind
	clone() Payload
	freeze()
}

// DataObject is a typed, versioned container.
type DataObject struct {
	kind    Kind
	mtime   uint64
	sealed  bool
	extent  extent.Extent
	piece   extent.Piece
	hasPc   bool
	time    float64
	hasTime bool
	payload Payload
}

// New allocates an empty draft of the given kind.
func New(kind Kind) (*DataObject, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	d := &DataObject{kind: kind, extent: extent.Empty, mtime: Tick()}
	switch kind {
	case KindImage:
		d.payload = NewImageData()
	case KindUnstructured:
		d.payload = NewUnstructuredGrid()
	case KindAMR:
		d.payload = &AMR{ratio: 2, spacing: [3]float64{1, 1, 1}}
	case KindMultiBlock:
		d.payload = NewMultiBlock("root")
	}
	return d, nil
}

// MustNew is New for kinds known to be valid.
func MustNew(kind Kind) *DataObject {
	d, err := New(kind)
	if err != nil {
		panic(err)
	}
	return d
}

// Kind returns the payload kind.
func (d *DataObject) Kind() Kind { return d.kind }

// MTime returns the modification time.
func (d *DataObject) MTime() uint64 { return d.mtime }

// Sealed reports whether the object has been published.
func (d *DataObject) Sealed() bool { return d.sealed }

// Extent returns the structured extent, Empty when none was set.
func (d *DataObject) Extent() extent.Extent { return d.extent }

// Piece returns the piece metadata, if set.
func (d *DataObject) Piece() (extent.Piece, bool) { return d.piece, d.hasPc }

// TimeStep returns the time value the data was produced for, if any.
func (d *DataObject) TimeStep() (float64, bool) { return d.time, d.hasTime }

// Payload returns the kind-specific content.
func (d *DataObject) Payload() Payload { return d.payload }

// Image returns the image payload, or nil for other kinds.
func (d *DataObject) Image() *ImageData {
	p, _ := d.payload.(*ImageData)
	return p
}

// Unstructured returns the unstructured grid payload, or nil for other kinds.
func (d *DataObject) Unstructured() *UnstructuredGrid {
	p, _ := d.payload.(*UnstructuredGrid)
	return p
}

// AMR returns the AMR payload, or nil for other kinds.
func (d *DataObject) AMR() *AMR {
	p, _ := d.payload.(*AMR)
	return p
}

// MultiBlock returns the multi-block payload, or nil for other kinds.
func (d *DataObject) MultiBlock() *MultiBlock {
	p, _ := d.payload.(*MultiBlock)
	return p
}

// NumPoints returns the number of points of non-composite payloads.
func (d *DataObject) NumPoints() int {
	switch p := d.payload.(type) {
	case *ImageData:
		return d.extent.NumPoints()
	case *UnstructuredGrid:
		return p.NumPoints()
	default:
		return 0
	}
}

// NumCells returns the number of cells of non-composite payloads.
func (d *DataObject) NumCells() int {
	switch p := d.payload.(type) {
	case *ImageData:
		if d.extent.IsEmpty() {
			return 0
		}
		return d.extent.NumCells()
	case *UnstructuredGrid:
		return p.NumCells()
	default:
		return 0
	}
}

// SetExtent sets the structured extent.
func (d *DataObject) SetExtent(e extent.Extent) {
	d.checkMutable("SetExtent")
	d.extent = e
	d.Modified()
}

// SetPiece records which piece of the whole dataset this object holds.
func (d *DataObject) SetPiece(p extent.Piece) {
	d.checkMutable("SetPiece")
	d.piece = p
	d.hasPc = true
	d.Modified()
}

// SetTimeStep records the time value the data was produced for.
func (d *DataObject) SetTimeStep(t float64) {
	d.checkMutable("SetTimeStep")
	d.time = t
	d.hasTime = true
	d.Modified()
}

// ClearTimeStep removes the time value.
func (d *DataObject) ClearTimeStep() {
	d.checkMutable("ClearTimeStep")
	d.hasTime = false
	d.Modified()
}

// SetPayload replaces the payload. Its kind must match the object kind.
func (d *DataObject) SetPayload(p Payload) error {
	d.checkMutable("SetPayload")
	if p == nil || p.Kind() != d.kind {
		return fmt.Errorf("payload kind mismatch: object is %s", d.kind)
	}
	d.payload = p
	d.Modified()
	return nil
}

// Modified bumps the modification time.
func (d *DataObject) Modified() {
	d.checkMutable("Modified")
	d.mtime = Tick()
}

// Seal publishes the object. The payload is frozen and the modification time
// advances one last time. Sealing twice is a no-op.
func (d *DataObject) Seal() {
	if d.sealed {
		return
	}
	d.payload.freeze()
	d.mtime = Tick()
	d.sealed = true
}

// DeepCopy returns an independent mutable draft with the same content.
func (d *DataObject) DeepCopy() *DataObject {
	return &DataObject{
		kind:    d.kind,
		mtime:   Tick(),
		extent:  d.extent,
		piece:   d.piece,
		hasPc:   d.hasPc,
		time:    d.time,
		hasTime: d.hasTime,
		payload: d.payload.clone(),
	}
}

// CopyFrom replaces the draft's content with a deep copy of src.
func (d *DataObject) CopyFrom(src *DataObject) error {
	d.checkMutable("CopyFrom")
	if src.kind != d.kind {
		return fmt.Errorf("cannot copy %s into %s", src.kind, d.kind)
	}
	d.extent = src.extent
	d.piece, d.hasPc = src.piece, src.hasPc
	d.time, d.hasTime = src.time, src.hasTime
	d.payload = src.payload.clone()
	d.Modified()
	return nil
}

func (d *DataObject) String() string {
	s := fmt.Sprintf("%s(mtime=%d", d.kind, d.mtime)
	if !d.extent.IsEmpty() {
		s += " extent=" + d.extent.String()
	}
	if d.hasPc {
		s += " piece=" + d.piece.String()
	}
	if d.hasTime {
		s += fmt.Sprintf(" t=%g", d.time)
	}
	return s + ")"
}

func (d *DataObject) checkMutable(op string) {
	if d.sealed {
		panic(fmt.Sprintf("dataset: %s on published %s object", op, d.kind))
	}
}
