package dataset

import "github.com/gridflow/gridflow/pkg/extent"

// ImageData is a uniform grid. Its index range is the owning DataObject's
// extent.
type ImageData struct {
	origin    [3]float64
	spacing   [3]float64
	pointData *Attributes
	cellData  *Attributes
	frozen    bool
}

// NewImageData returns unit-spaced image data at the origin.
func NewImageData() *ImageData {
	return &ImageData{
		spacing:   [3]float64{1, 1, 1},
		pointData: NewAttributes(),
		cellData:  NewAttributes(),
	}
}

// Kind implements Payload.
func (im *ImageData) Kind() Kind { return KindImage }

// Origin returns the physical position of index (0,0,0).
func (im *ImageData) Origin() [3]float64 { return im.origin }

// Spacing returns the distance between adjacent points.
func (im *ImageData) Spacing() [3]float64 { return im.spacing }

// SetOrigin sets the origin.
func (im *ImageData) SetOrigin(o [3]float64) {
	im.checkMutable()
	im.origin = o
}

// SetSpacing sets the spacing.
func (im *ImageData) SetSpacing(s [3]float64) {
	im.checkMutable()
	im.spacing = s
}

// PointData returns the per-point arrays.
func (im *ImageData) PointData() *Attributes { return im.pointData }

// CellData returns the per-cell arrays.
func (im *ImageData) CellData() *Attributes { return im.cellData }

// Position returns the physical coordinates of structured index (i,j,k).
func (im *ImageData) Position(i, j, k int) [3]float64 {
	return [3]float64{
		im.origin[0] + float64(i)*im.spacing[0],
		im.origin[1] + float64(j)*im.spacing[1],
		im.origin[2] + float64(k)*im.spacing[2],
	}
}

func (im *ImageData) clone() Payload {
	return &ImageData{
		origin:    im.origin,
		spacing:   im.spacing,
		pointData: im.pointData.clone(),
		cellData:  im.cellData.clone(),
	}
}

func (im *ImageData) freeze() {
	im.frozen = true
	im.pointData.freeze()
	im.cellData.freeze()
}

func (im *ImageData) checkMutable() {
	if im.frozen {
		panic("dataset: image data belongs to a published data object")
	}
}

// PointID returns the flat index of point (i,j,k) within ext, x fastest.
func PointID(ext extent.Extent, i, j, k int) int {
	d := ext.Dimensions()
	return (i - ext[0]) + d[0]*((j-ext[2])+d[1]*(k-ext[4]))
}

// PointIJK is the inverse of PointID.
func PointIJK(ext extent.Extent, id int) (i, j, k int) {
	d := ext.Dimensions()
	i = id%d[0] + ext[0]
	j = (id/d[0])%d[1] + ext[2]
	k = id/(d[0]*d[1]) + ext[4]
	return i, j, k
}

// SubImage copies the points of src that fall inside sub into a new image
// payload. sub must be contained in srcExt.
func SubImage(src *ImageData, srcExt, sub extent.Extent) *ImageData {
	out := NewImageData()
	out.origin = src.origin
	out.spacing = src.spacing
	n := sub.NumPoints()
	for _, name := range src.pointData.Names() {
		in, _ := src.pointData.Get(name)
		arr := NewArray(name, in.Components(), n)
		for id := 0; id < n; id++ {
			i, j, k := PointIJK(sub, id)
			from := PointID(srcExt, i, j, k)
			for c := 0; c < in.Components(); c++ {
				arr.Set(id, c, in.At(from, c))
			}
		}
		out.pointData.Add(arr)
	}
	return out
}
