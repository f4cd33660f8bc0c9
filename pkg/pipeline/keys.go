package pipeline

import (
	"fmt"

	"github.com/gridflow/gridflow/pkg/dataset"
	"github.com/gridflow/gridflow/pkg/extent"
	"github.com/gridflow/gridflow/pkg/info"
)

// Well-known information keys.
var (
	// Available on output ports after RequestInformation.
	WholeExtent         = info.NewKey[[]int]("WHOLE_EXTENT")
	TimeSteps           = info.NewKey[[]float64]("TIME_STEPS")
	TimeRange           = info.NewKey[[]float64]("TIME_RANGE")
	DataTypeName        = info.NewKey[string]("DATA_TYPE_NAME")
	LeafDataTypeName    = info.NewKey[string]("LEAF_DATA_TYPE_NAME")
	CompositeStructure  = info.NewKey[[]*info.Information]("COMPOSITE_STRUCTURE")
	RefinementRatio     = info.NewKey[int]("REFINEMENT_RATIO")
	CanProduceSubExtent = info.NewKey[int]("CAN_PRODUCE_SUB_EXTENT")
	CanHandlePieces     = info.NewKey[int]("CAN_HANDLE_PIECE_REQUEST")

	// Entries of COMPOSITE_STRUCTURE.
	BlockLevel  = info.NewKey[int]("BLOCK_LEVEL")
	BlockIndex  = info.NewKey[int]("BLOCK_INDEX")
	BlockExtent = info.NewKey[[]int]("BLOCK_EXTENT")
	BlockName   = info.NewKey[string]("BLOCK_NAME")

	// Requested of a port during RequestUpdateExtent.
	UpdateExtent         = info.NewKey[[]int]("UPDATE_EXTENT")
	UpdatePieceNumber    = info.NewKey[int]("UPDATE_PIECE_NUMBER")
	UpdateNumberOfPieces = info.NewKey[int]("UPDATE_NUMBER_OF_PIECES")
	UpdateGhostLevel     = info.NewKey[int]("UPDATE_GHOST_LEVEL")
	UpdateTimeStep       = info.NewKey[float64]("UPDATE_TIME_STEP")
)

// GetExtent reads an extent-valued key. A present but malformed value is an
// information error.
func GetExtent(in *info.Information, key info.Key[[]int]) (extent.Extent, bool, error) {
	v, ok := key.Get(in)
	if !ok {
		return extent.Empty, false, nil
	}
	e, err := extent.FromSlice(v)
	if err != nil {
		return extent.Empty, true, NewInformationError(fmt.Sprintf("malformed %s", key.Name()), err).
			WithCode(ErrCodeMalformedKey)
	}
	return e, true, nil
}

// SetExtent stores e under an extent-valued key.
func SetExtent(in *info.Information, key info.Key[[]int], e extent.Extent) {
	key.Set(in, e.Slice())
}

// KindOf returns the data kind advertised by an information object.
func KindOf(in *info.Information) dataset.Kind {
	return dataset.Kind(DataTypeName.GetOr(in, ""))
}

// UpdateRequest is what a consumer asks of a port: a structured extent (for
// structured data) or a piece, an optional time step.
type UpdateRequest struct {
	// Extent is the requested structured extent. Empty for piece requests or
	// for structured pieces that received no cells.
	Extent extent.Extent `json:"extent"`

	// Piece is the requested partition and ghost level.
	Piece extent.Piece `json:"piece"`

	// HasTime reports whether Time is set.
	HasTime bool    `json:"has_time"`
	Time    float64 `json:"time"`
}

// WholeRequest asks for the entire dataset.
func WholeRequest() UpdateRequest {
	return UpdateRequest{Extent: extent.Empty, Piece: extent.WholePiece}
}

func (r UpdateRequest) String() string {
	s := "piece=" + r.Piece.String()
	if !r.Extent.IsEmpty() {
		s = "extent=" + r.Extent.String() + " " + s
	}
	if r.HasTime {
		s += fmt.Sprintf(" t=%g", r.Time)
	}
	return s
}

// Write stores the request into in.
func (r UpdateRequest) Write(in *info.Information) {
	if r.Extent.IsEmpty() {
		UpdateExtent.Remove(in)
	} else {
		SetExtent(in, UpdateExtent, r.Extent)
	}
	UpdatePieceNumber.Set(in, r.Piece.Index)
	UpdateNumberOfPieces.Set(in, r.Piece.Count)
	UpdateGhostLevel.Set(in, r.Piece.GhostLevel)
	if r.HasTime {
		UpdateTimeStep.Set(in, r.Time)
	} else {
		UpdateTimeStep.Remove(in)
	}
}

// ReadUpdateRequest parses a request written by Write or by an algorithm's
// RequestUpdateExtent. Missing piece keys default to the whole dataset.
func ReadUpdateRequest(in *info.Information) (UpdateRequest, error) {
	r := WholeRequest()
	ext, ok, err := GetExtent(in, UpdateExtent)
	if err != nil {
		return r, err
	}
	if ok {
		r.Extent = ext
	}
	r.Piece.Index = UpdatePieceNumber.GetOr(in, 0)
	r.Piece.Count = UpdateNumberOfPieces.GetOr(in, 1)
	r.Piece.GhostLevel = UpdateGhostLevel.GetOr(in, 0)
	if err := r.Piece.Validate(); err != nil {
		return r, NewExtentError("invalid piece request", err).WithCode(ErrCodeBadPiece)
	}
	if t, ok := UpdateTimeStep.Get(in); ok {
		r.HasTime, r.Time = true, t
	}
	return r, nil
}

// Satisfies reports whether data executed for r can serve want. Structured
// data compares extents; everything else compares pieces. Time requests must
// match exactly.
func (r UpdateRequest) Satisfies(kind dataset.Kind, want UpdateRequest) bool {
	if r.HasTime != want.HasTime || (want.HasTime && r.Time != want.Time) {
		return false
	}
	if kind.IsStructured() {
		return r.Extent.Contains(want.Extent)
	}
	return r.Piece.Satisfies(want.Piece)
}

// mergeRequests combines the requests of several consumers of one port.
// Structured extents merge by bounding union. Identical pieces are kept, the
// same piece with different ghost levels keeps the deepest halo, and
// different pieces widen to the whole dataset. conflict reports differing
// time requests; the first timed request wins.
func mergeRequests(reqs []UpdateRequest) (merged UpdateRequest, conflict bool) {
	merged = reqs[0]
	for _, r := range reqs[1:] {
		merged.Extent = merged.Extent.Union(r.Extent)
		switch {
		case merged.Piece == r.Piece:
		case merged.Piece.Index == r.Piece.Index && merged.Piece.Count == r.Piece.Count:
			merged.Piece.GhostLevel = max(merged.Piece.GhostLevel, r.Piece.GhostLevel)
		default:
			merged.Piece = extent.Piece{
				Index: 0, Count: 1,
				GhostLevel: max(merged.Piece.GhostLevel, r.Piece.GhostLevel),
			}
		}
		switch {
		case !r.HasTime:
		case !merged.HasTime:
			merged.HasTime, merged.Time = true, r.Time
		case merged.Time != r.Time:
			conflict = true
		}
	}
	return merged, conflict
}

// translateRequest derives the request passed to a producer from the
// request on a consumer's output, given the producer's information.
func translateRequest(want UpdateRequest, producer *info.Information) (UpdateRequest, error) {
	out := want
	if !KindOf(producer).IsStructured() {
		out.Extent = extent.Empty
		return out, nil
	}
	whole, ok, err := GetExtent(producer, WholeExtent)
	if err != nil || !ok {
		return out, err
	}
	if !want.Extent.IsEmpty() && !whole.Contains(want.Extent) {
		return out, NewExtentError(fmt.Sprintf("requested extent %s is outside whole extent %s", want.Extent, whole), nil).
			WithCode(ErrCodeOutOfBounds)
	}
	if CanProduceSubExtent.GetOr(producer, 1) == 0 {
		out.Extent = whole
		return out, nil
	}
	if want.Extent.IsEmpty() {
		ext, err := extent.ComputePieceExtent(whole, want.Piece.Index, want.Piece.Count, want.Piece.GhostLevel)
		if err != nil {
			return out, err
		}
		out.Extent = ext
	}
	return out, nil
}
